package lease

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/puzpuzpuz/xsync/v3"

	"mvlease/internal/index"
	"mvlease/internal/leasestore"
	"mvlease/internal/logging"
	"mvlease/internal/metrics"
	"mvlease/internal/opexec"
	"mvlease/internal/status"
)

// Config configures a Manager.
type Config struct {
	// Hostname is recorded on every lease this process creates.
	Hostname string
	// Leader is fixed for the lifetime of the process.
	Leader bool
	Store  leasestore.Store
	// Collection names the lease collection in logs and metrics.
	Collection string
	Logger     logging.Logger
	Metrics    *metrics.LeaseMetrics
	OpMetrics  *metrics.OperationMetrics
}

// slot holds the cached lease of one index. mu serializes read, derive, persist and
// replace for that index.
type slot struct {
	mu      sync.Mutex
	lease   Lease
	removed bool
	// diverged is set once a conditional replace matched nothing.
	diverged error
}

// Manager is a static-leader lease manager. The leader owns the authoritative lease cache
// and is the only writer of the store; followers read the store directly.
type Manager struct {
	hostname string
	leader   bool
	store    leasestore.Store
	exec     *opexec.Executor
	logger   logging.Logger
	metrics  *metrics.LeaseMetrics

	leases *xsync.MapOf[string, *slot]
	drops  sync.WaitGroup
}

// NewManager creates a manager. A leader loads every persisted lease first so that it
// resumes from the stored versions; the load failing fails construction.
func NewManager(ctx context.Context, cfg Config) (*Manager, error) {
	if cfg.Store == nil {
		return nil, errors.New("lease: store is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}
	if cfg.Collection == "" {
		cfg.Collection = leasestore.DefaultCollection
	}
	logger := cfg.Logger.With("component", "lease-manager", "leader", cfg.Leader)
	m := &Manager{
		hostname: cfg.Hostname,
		leader:   cfg.Leader,
		store:    cfg.Store,
		exec:     opexec.New(cfg.Collection, cfg.OpMetrics, logger),
		logger:   logger,
		metrics:  cfg.Metrics,
		leases:   xsync.NewMapOf[string, *slot](),
	}
	if m.leader {
		if err := m.loadLeases(ctx); err != nil {
			return nil, errors.Wrap(err, "lease: failed to initialize leases from store")
		}
	}
	return m, nil
}

func (m *Manager) loadLeases(ctx context.Context) error {
	docs, err := opexec.Execute(ctx, m.exec, "getLeases", func(ctx context.Context) ([]leasestore.Document, error) {
		return m.store.Find(ctx, leasestore.All(), leasestore.LinearizablePrimary())
	})
	if err != nil {
		return err
	}
	for _, doc := range docs {
		l, err := FromDocument(doc)
		if err != nil {
			return err
		}
		m.leases.Store(l.ID, &slot{lease: l})
	}
	m.logger.Info("loaded leases", "count", len(docs))
	m.metrics.SetTracked(m.leases.Size())
	return nil
}

// Add starts tracking a generation. A new index gets a fresh unpersisted lease; a known
// index gains the generation's definition version if it is not tracked yet. No I/O.
func (m *Manager) Add(ig index.IndexGeneration) {
	key := LeaseKey(ig.GenerationID)
	versionKey := ig.Definition.VersionKey()
	for {
		s, loaded := m.leases.LoadOrCompute(key, func() *slot {
			return &slot{lease: newLeaseFor(ig, m.hostname)}
		})
		if !loaded {
			break
		}
		s.mu.Lock()
		if s.removed {
			// dropped while we waited; the map no longer holds s
			s.mu.Unlock()
			continue
		}
		if !s.lease.HasVersion(versionKey) {
			s.lease = s.lease.WithNewIndexDefinitionVersion(versionKey, ig.Status)
		}
		s.mu.Unlock()
		break
	}
	m.metrics.SetTracked(m.leases.Size())
}

// Drop stops tracking the index of id. On the leader the store document is deleted
// asynchronously before the cache entry is removed; the channel receives the outcome and
// is then closed. On a follower only the cache entry is removed.
func (m *Manager) Drop(ctx context.Context, id index.GenerationID) <-chan error {
	key := LeaseKey(id)
	done := make(chan error, 1)
	if !m.leader {
		if s, ok := m.leases.Load(key); ok {
			s.mu.Lock()
			if !s.removed {
				m.removeLocked(key, s)
			}
			s.mu.Unlock()
		}
		done <- nil
		close(done)
		return done
	}

	m.drops.Add(1)
	go func() {
		defer m.drops.Done()
		defer close(done)
		done <- m.dropPersisted(ctx, key)
	}()
	return done
}

func (m *Manager) dropPersisted(ctx context.Context, key string) error {
	s, ok := m.leases.Load(key)
	if ok {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.removed {
			// a concurrent drop already deleted the document and unlinked s
			return nil
		}
	}
	_, err := opexec.Execute(ctx, m.exec, "deleteLease", func(ctx context.Context) (int64, error) {
		return m.store.DeleteOne(ctx, leasestore.ByID(key))
	})
	if err != nil {
		m.logger.WarnCtx(ctx, "failed to delete lease", "lease", key, "error", err)
		return transientError(key, err)
	}
	if ok {
		m.removeLocked(key, s)
	}
	m.logger.DebugCtx(ctx, "dropped lease", "lease", key)
	return nil
}

// removeLocked unlinks s from the cache. Callers hold s.mu. A different slot stored under
// key is left in place.
func (m *Manager) removeLocked(key string, s *slot) {
	s.removed = true
	m.leases.Compute(key, func(old *slot, loaded bool) (*slot, bool) {
		return old, !loaded || old == s
	})
	m.metrics.SetTracked(m.leases.Size())
}

// IsLeader reports the leadership this manager was created with.
func (m *Manager) IsLeader(index.GenerationID) bool {
	return m.leader
}

// UpdateCommitInfo persists a new checkpoint for the index of id. Leader only.
func (m *Manager) UpdateCommitInfo(ctx context.Context, id index.GenerationID, checkpoint Checkpoint) error {
	if !m.leader {
		return errNotLeader("UpdateCommitInfo")
	}
	return m.mutate(ctx, LeaseKey(id), func(l Lease) Lease {
		return l.WithUpdatedCheckpoint(checkpoint)
	})
}

// GetCommitInfo returns the checkpoint of the index of id. The leader answers from memory;
// a follower reads the store and reports EmptyCheckpoint when no lease exists.
func (m *Manager) GetCommitInfo(ctx context.Context, id index.GenerationID) (Checkpoint, error) {
	key := LeaseKey(id)
	if m.leader {
		s, ok := m.leases.Load(key)
		if !ok {
			return EmptyCheckpoint, errNoLease(key)
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.removed {
			return EmptyCheckpoint, errNoLease(key)
		}
		return s.lease.CommitInfo, nil
	}

	doc, found, err := m.readLease(ctx, key)
	if err != nil {
		return EmptyCheckpoint, errors.Mark(errors.Wrapf(err, "lease: read commit info of %s", key), ErrStoreIO)
	}
	if !found {
		return EmptyCheckpoint, nil
	}
	return Checkpoint(doc.CommitInfo), nil
}

// UpdateReplicationStatus persists the status of one definition version. It is a no-op on
// followers.
func (m *Manager) UpdateReplicationStatus(ctx context.Context, id index.GenerationID, definitionVersion int64, st status.IndexStatus) error {
	if !m.leader {
		return nil
	}
	versionKey := index.VersionKey(definitionVersion)
	return m.mutate(ctx, LeaseKey(id), func(l Lease) Lease {
		return l.WithUpdatedStatus(st, versionKey)
	})
}

// GetMaterializedViewReplicationStatus reports the resolved status of a generation. It
// never fails: anything that cannot be read resolves as UNKNOWN.
func (m *Manager) GetMaterializedViewReplicationStatus(ctx context.Context, ig index.IndexGeneration) status.IndexStatus {
	key := LeaseKey(ig.GenerationID)
	versionKey := ig.Definition.VersionKey()
	unknown := ResolveStatus(UnknownVersionStatus, UnknownVersionStatus)

	if m.leader {
		s, ok := m.leases.Load(key)
		if !ok {
			return unknown
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.removed {
			return unknown
		}
		st, _ := s.lease.ResolveFor(versionKey)
		return st
	}

	doc, found, err := m.readLease(ctx, key)
	if err != nil {
		m.logger.WarnCtx(ctx, "failed to get index status", "lease", key, "error", err)
		m.metrics.StatusFallback()
		return unknown
	}
	if !found {
		return unknown
	}
	l, err := FromDocument(doc)
	if err != nil {
		m.logger.WarnCtx(ctx, "unreadable lease document", "lease", key, "error", err)
		m.metrics.StatusFallback()
		return unknown
	}
	st, ok := l.ResolveFor(versionKey)
	if !ok {
		m.logger.WarnCtx(ctx, "requested version not found in lease", "lease", key,
			"version", versionKey, "generation", ig.GenerationID.String())
	}
	return st
}

// Diverged returns the error that stopped the lease of id from making progress, or nil.
func (m *Manager) Diverged(id index.GenerationID) error {
	s, ok := m.leases.Load(LeaseKey(id))
	if !ok {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.diverged
}

// Lease returns a copy of the cached lease for id.
func (m *Manager) Lease(id index.GenerationID) (Lease, bool) {
	s, ok := m.leases.Load(LeaseKey(id))
	if !ok {
		return Lease{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.removed {
		return Lease{}, false
	}
	return s.lease.Clone(), true
}

// Snapshot copies every cached lease keyed by lease id.
func (m *Manager) Snapshot() map[string]Lease {
	out := make(map[string]Lease, m.leases.Size())
	m.leases.Range(func(key string, s *slot) bool {
		s.mu.Lock()
		if !s.removed {
			out[key] = s.lease.Clone()
		}
		s.mu.Unlock()
		return true
	})
	return out
}

// Close waits for in-flight drops. The store is owned by the caller.
func (m *Manager) Close() error {
	m.drops.Wait()
	return nil
}

func (m *Manager) readLease(ctx context.Context, key string) (leasestore.Document, bool, error) {
	type result struct {
		doc   leasestore.Document
		found bool
	}
	res, err := opexec.Execute(ctx, m.exec, "getLease", func(ctx context.Context) (result, error) {
		doc, found, err := m.store.FindOne(ctx, leasestore.ByID(key), leasestore.LinearizablePrimary())
		return result{doc: doc, found: found}, err
	})
	return res.doc, res.found, err
}
