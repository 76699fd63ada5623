// Package follower keeps materialized view statuses fresh on follower processes by
// periodically reading them through the lease manager.
package follower

import (
	"context"
	"errors"
	"sync"
	"time"

	"mvlease/internal/index"
	"mvlease/internal/logging"
	"mvlease/internal/status"
)

// DefaultInterval is the refresh period when none is configured.
const DefaultInterval = 30 * time.Second

// ErrClosed is returned by Add after Close.
var ErrClosed = errors.New("follower: tracker closed")

// StatusReader resolves the replication status of a generation. *lease.Manager implements it.
type StatusReader interface {
	GetMaterializedViewReplicationStatus(ctx context.Context, ig index.IndexGeneration) status.IndexStatus
}

// UpdateFunc observes every refreshed status.
type UpdateFunc func(ig index.IndexGeneration, st status.IndexStatus)

type Config struct {
	Interval time.Duration
	Logger   logging.Logger
	OnUpdate UpdateFunc
}

// view is one materialized view, shared by every generation of an index that needs no
// new view of its own.
type view struct {
	ig     index.IndexGeneration
	status status.IndexStatus
	known  bool
}

// Tracker refreshes the status of every tracked materialized view.
type Tracker struct {
	reader   StatusReader
	interval time.Duration
	logger   logging.Logger
	onUpdate UpdateFunc

	mu          sync.Mutex
	views       map[index.ID]*view
	generations map[index.GenerationID]*view
	closed      bool
	stop        chan struct{}
	running     sync.WaitGroup
}

func New(reader StatusReader, cfg Config) *Tracker {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}
	return &Tracker{
		reader:      reader,
		interval:    cfg.Interval,
		logger:      cfg.Logger.With("component", "follower-tracker"),
		onUpdate:    cfg.OnUpdate,
		views:       make(map[index.ID]*view),
		generations: make(map[index.GenerationID]*view),
		stop:        make(chan struct{}),
	}
}

// Add tracks a generation. A generation whose definition version differs from the newest
// view of its index gets a view of its own; otherwise it shares the newest one. Older
// views keep refreshing for as long as some generation references them.
func (t *Tracker) Add(ig index.IndexGeneration) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	indexID := ig.GenerationID.IndexID
	active, ok := t.views[indexID]
	if !ok || needsNewView(active.ig, ig) {
		active = &view{ig: ig}
		t.views[indexID] = active
	}
	t.generations[ig.GenerationID] = active
	return nil
}

func needsNewView(active, next index.IndexGeneration) bool {
	return active.Definition.VersionOrDefault() != next.Definition.VersionOrDefault()
}

// Drop stops tracking a generation. The view of its index goes away with the last
// generation that referenced the index.
func (t *Tracker) Drop(id index.GenerationID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.generations, id)
	for gen := range t.generations {
		if gen.IndexID == id.IndexID {
			return
		}
	}
	delete(t.views, id.IndexID)
}

// Status returns the last refreshed status of the view serving id.
func (t *Tracker) Status(id index.GenerationID) (status.IndexStatus, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.generations[id]
	if !ok || !v.known {
		return status.UnknownStatus(), false
	}
	return v.status, true
}

// Len returns the number of distinct views being tracked.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.activeViewsLocked())
}

// activeViewsLocked returns every view referenced by at least one generation.
func (t *Tracker) activeViewsLocked() []*view {
	seen := make(map[*view]struct{}, len(t.generations))
	views := make([]*view, 0, len(t.generations))
	for _, v := range t.generations {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		views = append(views, v)
	}
	return views
}

func (t *Tracker) referencedLocked(v *view) bool {
	for _, ref := range t.generations {
		if ref == v {
			return true
		}
	}
	return false
}

// Refresh reads the status of every distinct view once.
func (t *Tracker) Refresh(ctx context.Context) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	views := t.activeViewsLocked()
	t.mu.Unlock()

	for _, v := range views {
		if ctx.Err() != nil {
			return
		}
		st := t.reader.GetMaterializedViewReplicationStatus(ctx, v.ig)

		t.mu.Lock()
		live := t.referencedLocked(v)
		if live {
			v.status, v.known = st, true
		}
		t.mu.Unlock()

		if live && t.onUpdate != nil {
			t.onUpdate(v.ig, st)
		}
	}
	t.logger.DebugCtx(ctx, "refreshed materialized view statuses", "views", len(views))
}

// Run refreshes immediately and then every interval until ctx is done or Close is called.
func (t *Tracker) Run(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	t.running.Add(1)
	t.mu.Unlock()
	defer t.running.Done()

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	t.Refresh(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.stop:
			return nil
		case <-ticker.C:
			t.Refresh(ctx)
		}
	}
}

// Close stops Run and rejects further Adds. It is safe to call more than once.
func (t *Tracker) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	close(t.stop)
	t.mu.Unlock()
	t.logger.Info("shutting down")
	t.running.Wait()
	return nil
}
