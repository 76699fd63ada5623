package follower

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"mvlease/internal/index"
	"mvlease/internal/lease"
	"mvlease/internal/leasestore/memstore"
	"mvlease/internal/status"
)

type fakeReader struct {
	mu     sync.Mutex
	calls  map[index.GenerationID]int
	answer status.Code
}

func newFakeReader(answer status.Code) *fakeReader {
	return &fakeReader{calls: make(map[index.GenerationID]int), answer: answer}
}

func (r *fakeReader) GetMaterializedViewReplicationStatus(_ context.Context, ig index.IndexGeneration) status.IndexStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[ig.GenerationID]++
	return status.New(r.answer)
}

func (r *fakeReader) total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		n += c
	}
	return n
}

func generation(indexID index.ID, definitionVersion, attempt int64) index.IndexGeneration {
	v := definitionVersion
	return index.IndexGeneration{
		GenerationID: index.GenerationID{
			IndexID:    indexID,
			Generation: index.Generation{UserVersion: definitionVersion, FormatVersion: 6, AttemptNumber: attempt},
		},
		Definition: index.Definition{
			IndexID:                    indexID,
			CollectionUUID:             uuid.New(),
			LastObservedCollectionName: "movies",
			DefinitionVersion:          &v,
		},
		Status: status.New(status.Steady),
	}
}

func TestRefreshReadsDistinctViews(t *testing.T) {
	reader := newFakeReader(status.Steady)
	tr := New(reader, Config{})
	defer tr.Close()

	indexID := index.NewID()
	a1 := generation(indexID, 1, 1)
	a2 := generation(indexID, 1, 2)
	require.NoError(t, tr.Add(a1))
	require.NoError(t, tr.Add(a2))
	require.NoError(t, tr.Add(generation(index.NewID(), 0, 0)))
	require.Equal(t, 2, tr.Len())

	tr.Refresh(context.Background())
	require.Equal(t, 2, reader.total())

	st, ok := tr.Status(a2.GenerationID)
	require.True(t, ok)
	require.Equal(t, status.Steady, st.Code)
}

func TestStagedDefinitionVersionGetsOwnView(t *testing.T) {
	reader := newFakeReader(status.InitialSync)
	tr := New(reader, Config{})
	defer tr.Close()

	indexID := index.NewID()
	live := generation(indexID, 1, 0)
	staged := generation(indexID, 2, 0)
	retry := generation(indexID, 2, 1)
	require.NoError(t, tr.Add(live))
	require.NoError(t, tr.Add(staged))
	require.NoError(t, tr.Add(retry))
	require.Equal(t, 2, tr.Len())

	tr.Refresh(context.Background())
	require.Equal(t, 1, reader.calls[live.GenerationID])
	require.Equal(t, 1, reader.calls[staged.GenerationID])
	require.Zero(t, reader.calls[retry.GenerationID])
}

func TestLiveViewKeepsRefreshingAfterStaging(t *testing.T) {
	reader := newFakeReader(status.Steady)
	tr := New(reader, Config{})
	defer tr.Close()

	indexID := index.NewID()
	live := generation(indexID, 0, 0)
	require.NoError(t, tr.Add(live))
	tr.Refresh(context.Background())

	staged := generation(indexID, 1, 0)
	require.NoError(t, tr.Add(staged))
	reader.mu.Lock()
	reader.answer = status.Failed
	reader.mu.Unlock()
	tr.Refresh(context.Background())

	require.Equal(t, 2, reader.calls[live.GenerationID])
	st, ok := tr.Status(live.GenerationID)
	require.True(t, ok)
	require.Equal(t, status.Failed, st.Code)

	tr.Drop(live.GenerationID)
	require.Equal(t, 1, tr.Len())
	tr.Refresh(context.Background())
	require.Equal(t, 2, reader.calls[live.GenerationID])
	require.Equal(t, 2, reader.calls[staged.GenerationID])
}

func TestDropIsReferenceCounted(t *testing.T) {
	tr := New(newFakeReader(status.Steady), Config{})
	defer tr.Close()

	indexID := index.NewID()
	a1 := generation(indexID, 1, 1)
	a2 := generation(indexID, 1, 2)
	require.NoError(t, tr.Add(a1))
	require.NoError(t, tr.Add(a2))

	tr.Drop(a1.GenerationID)
	require.Equal(t, 1, tr.Len())
	tr.Drop(a2.GenerationID)
	require.Zero(t, tr.Len())

	_, ok := tr.Status(a2.GenerationID)
	require.False(t, ok)
}

func TestOnUpdate(t *testing.T) {
	var (
		mu   sync.Mutex
		seen = map[index.ID]status.Code{}
	)
	tr := New(newFakeReader(status.Stale), Config{OnUpdate: func(ig index.IndexGeneration, st status.IndexStatus) {
		mu.Lock()
		seen[ig.GenerationID.IndexID] = st.Code
		mu.Unlock()
	}})
	defer tr.Close()

	ig := generation(index.NewID(), 0, 0)
	require.NoError(t, tr.Add(ig))
	tr.Refresh(context.Background())

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, status.Stale, seen[ig.GenerationID.IndexID])
}

func TestRunRefreshesUntilClosed(t *testing.T) {
	reader := newFakeReader(status.Steady)
	tr := New(reader, Config{Interval: 5 * time.Millisecond})
	require.NoError(t, tr.Add(generation(index.NewID(), 0, 0)))

	done := make(chan error, 1)
	go func() { done <- tr.Run(context.Background()) }()

	require.Eventually(t, func() bool { return reader.total() >= 3 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, tr.Close())
	require.NoError(t, <-done)

	require.ErrorIs(t, tr.Add(generation(index.NewID(), 0, 0)), ErrClosed)
	require.ErrorIs(t, tr.Run(context.Background()), ErrClosed)
	require.NoError(t, tr.Close())
}

func TestRunStopsWithContext(t *testing.T) {
	tr := New(newFakeReader(status.Steady), Config{Interval: time.Hour})
	defer tr.Close()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tr.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestTracksLeaderWritesThroughFollowerManager(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	leader, err := lease.NewManager(ctx, lease.Config{Hostname: "leader", Leader: true, Store: store})
	require.NoError(t, err)
	follower, err := lease.NewManager(ctx, lease.Config{Hostname: "follower", Store: store})
	require.NoError(t, err)

	ig := generation(index.NewID(), 0, 0)
	leader.Add(ig)
	require.NoError(t, leader.UpdateReplicationStatus(ctx, ig.GenerationID, 0, status.New(status.Steady)))

	tr := New(follower, Config{})
	defer tr.Close()
	require.NoError(t, tr.Add(ig))
	tr.Refresh(ctx)

	st, ok := tr.Status(ig.GenerationID)
	require.True(t, ok)
	require.Equal(t, status.Steady, st.Code)
}
