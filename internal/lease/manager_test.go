package lease

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"mvlease/internal/index"
	"mvlease/internal/leasestore"
	"mvlease/internal/leasestore/memstore"
	"mvlease/internal/leasestore/storetest"
	"mvlease/internal/status"
)

type fixture struct {
	store  *storetest.Faulty
	leader *Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := storetest.NewFaulty(memstore.New())
	return &fixture{store: store, leader: newManager(t, store, true)}
}

func newManager(t *testing.T, store leasestore.Store, leader bool) *Manager {
	t.Helper()
	m, err := NewManager(context.Background(), Config{Hostname: "host-a", Leader: leader, Store: store})
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func generation(indexID index.ID, version int64, st status.Code) index.IndexGeneration {
	v := version
	return index.IndexGeneration{
		GenerationID: index.GenerationID{
			IndexID:    indexID,
			Generation: index.Generation{UserVersion: version, FormatVersion: 6, AttemptNumber: 0},
		},
		Definition: index.Definition{
			IndexID:                    indexID,
			CollectionUUID:             uuid.MustParse(testCollectionUUID),
			LastObservedCollectionName: "movies",
			DefinitionVersion:          &v,
		},
		Status: status.New(st),
	}
}

func (f *fixture) stored(t *testing.T, id index.GenerationID) leasestore.Document {
	t.Helper()
	doc, ok, err := f.store.FindOne(context.Background(), leasestore.ByID(LeaseKey(id)), leasestore.LinearizablePrimary())
	require.NoError(t, err)
	require.True(t, ok)
	return doc
}

func TestAddIsInMemoryOnly(t *testing.T) {
	f := newFixture(t)
	ig := generation(index.NewID(), 0, status.InitialSync)
	f.leader.Add(ig)

	require.Zero(t, f.store.Calls("replaceOne"))
	l, ok := f.leader.Lease(ig.GenerationID)
	require.True(t, ok)
	require.Equal(t, FirstLeaseVersion, l.LeaseVersion)
	require.Equal(t, "host-a", l.Hostname)
	require.Equal(t, testCollectionUUID, l.CollectionUUID)
	require.Equal(t, "0", l.LatestVersion)
}

func TestFirstPersistUpsertsThenConditionalReplaces(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	ig := generation(index.NewID(), 0, status.InitialSync)
	f.leader.Add(ig)

	require.NoError(t, f.leader.UpdateCommitInfo(ctx, ig.GenerationID, "c1"))
	doc := f.stored(t, ig.GenerationID)
	require.Equal(t, int64(1), doc.LeaseVersion)
	require.Equal(t, "c1", doc.CommitInfo)

	require.NoError(t, f.leader.UpdateReplicationStatus(ctx, ig.GenerationID, 0, status.New(status.Steady)))
	doc = f.stored(t, ig.GenerationID)
	require.Equal(t, int64(2), doc.LeaseVersion)
	require.Equal(t, "c1", doc.CommitInfo)
	require.Equal(t, VersionStatus{IsQueryable: true, StatusCode: status.Steady}, doc.IndexDefinitionVersionStatusMap["0"])

	got, err := f.leader.GetCommitInfo(ctx, ig.GenerationID)
	require.NoError(t, err)
	require.Equal(t, Checkpoint("c1"), got)
}

func TestRetryAfterLostAcknowledgementIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	ig := generation(index.NewID(), 0, status.InitialSync)
	f.leader.Add(ig)
	require.NoError(t, f.leader.UpdateCommitInfo(ctx, ig.GenerationID, "c1"))

	f.store.LoseAcks(1)
	err := f.leader.UpdateCommitInfo(ctx, ig.GenerationID, "c2")
	require.Error(t, err)
	require.Equal(t, KindTransient, KindOf(err))
	require.True(t, IsRetryable(err))
	require.Equal(t, int64(2), f.stored(t, ig.GenerationID).LeaseVersion)
	l, _ := f.leader.Lease(ig.GenerationID)
	require.Equal(t, int64(1), l.LeaseVersion)

	require.NoError(t, f.leader.UpdateCommitInfo(ctx, ig.GenerationID, "c2"))
	doc := f.stored(t, ig.GenerationID)
	require.Equal(t, int64(2), doc.LeaseVersion)
	require.Equal(t, "c2", doc.CommitInfo)
	require.NoError(t, f.leader.Diverged(ig.GenerationID))
}

func TestLostAcknowledgementOnFirstPersist(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	ig := generation(index.NewID(), 0, status.InitialSync)
	f.leader.Add(ig)

	f.store.LoseAcks(1)
	require.Equal(t, KindTransient, KindOf(f.leader.UpdateCommitInfo(ctx, ig.GenerationID, "c1")))
	require.NoError(t, f.leader.UpdateCommitInfo(ctx, ig.GenerationID, "c1"))
	require.Equal(t, int64(1), f.stored(t, ig.GenerationID).LeaseVersion)
}

func TestTransientFailureLeavesMemoryUnchanged(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	ig := generation(index.NewID(), 0, status.InitialSync)
	f.leader.Add(ig)
	require.NoError(t, f.leader.UpdateCommitInfo(ctx, ig.GenerationID, "c1"))

	f.store.FailNext(1)
	err := f.leader.UpdateCommitInfo(ctx, ig.GenerationID, "c2")
	require.Equal(t, KindTransient, KindOf(err))
	require.True(t, errors.Is(err, storetest.ErrInjected))

	got, err := f.leader.GetCommitInfo(ctx, ig.GenerationID)
	require.NoError(t, err)
	require.Equal(t, Checkpoint("c1"), got)
	require.Equal(t, int64(1), f.stored(t, ig.GenerationID).LeaseVersion)
}

func TestMonotonicPersistedVersion(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	ig := generation(index.NewID(), 0, status.InitialSync)
	f.leader.Add(ig)

	const perKind = 10
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	record := func(err error) {
		if err == nil {
			return
		}
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	}
	for i := 0; i < perKind; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			record(f.leader.UpdateCommitInfo(ctx, ig.GenerationID, Checkpoint(fmt.Sprintf("c%d", i))))
		}(i)
		go func() {
			defer wg.Done()
			record(f.leader.UpdateReplicationStatus(ctx, ig.GenerationID, 0, status.New(status.Steady)))
		}()
	}
	wg.Wait()
	require.Empty(t, errs)
	require.Equal(t, FirstLeaseVersion+2*perKind, f.stored(t, ig.GenerationID).LeaseVersion)
	l, _ := f.leader.Lease(ig.GenerationID)
	require.Equal(t, FirstLeaseVersion+2*perKind, l.LeaseVersion)
}

func TestDivergedLeaseFailsFastUntilReAdded(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	ig := generation(index.NewID(), 0, status.InitialSync)
	f.leader.Add(ig)
	require.NoError(t, f.leader.UpdateCommitInfo(ctx, ig.GenerationID, "c1"))

	// someone else moved the persisted lease
	foreign := f.stored(t, ig.GenerationID)
	foreign.LeaseVersion = 9
	_, err := f.store.ReplaceOne(ctx, leasestore.ByID(foreign.ID), foreign, leasestore.ReplaceOptions{})
	require.NoError(t, err)

	err = f.leader.UpdateCommitInfo(ctx, ig.GenerationID, "c2")
	require.Equal(t, KindNonTransient, KindOf(err))
	require.Error(t, f.leader.Diverged(ig.GenerationID))

	writes := f.store.Calls("replaceOne")
	err = f.leader.UpdateReplicationStatus(ctx, ig.GenerationID, 0, status.New(status.Steady))
	require.Equal(t, KindNonTransient, KindOf(err))
	require.Equal(t, writes, f.store.Calls("replaceOne"))

	// other leases are unaffected
	other := generation(index.NewID(), 0, status.InitialSync)
	f.leader.Add(other)
	require.NoError(t, f.leader.UpdateCommitInfo(ctx, other.GenerationID, "c1"))

	require.NoError(t, <-f.leader.Drop(ctx, ig.GenerationID))
	f.leader.Add(ig)
	require.NoError(t, f.leader.Diverged(ig.GenerationID))
	require.NoError(t, f.leader.UpdateCommitInfo(ctx, ig.GenerationID, "fresh"))
	require.Equal(t, int64(1), f.stored(t, ig.GenerationID).LeaseVersion)
}

func TestLeaderContractViolations(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	missing := generation(index.NewID(), 0, status.Steady)

	err := f.leader.UpdateCommitInfo(ctx, missing.GenerationID, "c")
	require.Equal(t, KindInvariant, KindOf(err))

	err = f.leader.UpdateReplicationStatus(ctx, missing.GenerationID, 0, status.New(status.Steady))
	require.Equal(t, KindInvariant, KindOf(err))

	_, err = f.leader.GetCommitInfo(ctx, missing.GenerationID)
	require.Equal(t, KindInvariant, KindOf(err))

	require.Equal(t, status.Unknown, f.leader.GetMaterializedViewReplicationStatus(ctx, missing).Code)
}

func TestFollowerAsymmetry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	follower := newManager(t, f.store, false)
	ig := generation(index.NewID(), 0, status.Steady)
	follower.Add(ig)

	require.True(t, f.leader.IsLeader(ig.GenerationID))
	require.False(t, follower.IsLeader(ig.GenerationID))

	err := follower.UpdateCommitInfo(ctx, ig.GenerationID, "c")
	require.Equal(t, KindInvariant, KindOf(err))

	calls := f.store.Calls("replaceOne")
	require.NoError(t, follower.UpdateReplicationStatus(ctx, ig.GenerationID, 0, status.New(status.Steady)))
	require.Equal(t, calls, f.store.Calls("replaceOne"))

	got, err := follower.GetCommitInfo(ctx, ig.GenerationID)
	require.NoError(t, err)
	require.Equal(t, EmptyCheckpoint, got)

	f.store.SetDown(true)
	require.Equal(t, status.Unknown, follower.GetMaterializedViewReplicationStatus(ctx, ig).Code)
	_, err = follower.GetCommitInfo(ctx, ig.GenerationID)
	require.True(t, errors.Is(err, ErrStoreIO))
	require.True(t, errors.Is(err, leasestore.ErrUnavailable))
}

func TestFollowerReadsResolvedStatusFromStore(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	follower := newManager(t, f.store, false)
	indexID := index.NewID()
	live := generation(indexID, 0, status.Steady)
	staged := generation(indexID, 1, status.InitialSync)

	f.leader.Add(live)
	f.leader.Add(staged)
	require.NoError(t, f.leader.UpdateReplicationStatus(ctx, live.GenerationID, 0, status.New(status.Steady)))

	require.Equal(t, status.RecoveringTransient, f.leader.GetMaterializedViewReplicationStatus(ctx, live).Code)
	require.Equal(t, status.RecoveringTransient, follower.GetMaterializedViewReplicationStatus(ctx, live).Code)
	require.Equal(t, status.InitialSync, follower.GetMaterializedViewReplicationStatus(ctx, staged).Code)

	require.NoError(t, f.leader.UpdateReplicationStatus(ctx, staged.GenerationID, 1, status.FailedStatus("boom")))
	require.Equal(t, status.Failed, f.leader.GetMaterializedViewReplicationStatus(ctx, live).Code)
	require.Equal(t, status.Failed, follower.GetMaterializedViewReplicationStatus(ctx, live).Code)

	unknownVersion := generation(indexID, 7, status.Steady)
	require.Equal(t, status.Failed, follower.GetMaterializedViewReplicationStatus(ctx, unknownVersion).Code)
}

func TestDropRemovesDurableState(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	follower := newManager(t, f.store, false)
	ig := generation(index.NewID(), 0, status.Steady)
	f.leader.Add(ig)
	require.NoError(t, f.leader.UpdateCommitInfo(ctx, ig.GenerationID, "c1"))

	got, err := follower.GetCommitInfo(ctx, ig.GenerationID)
	require.NoError(t, err)
	require.Equal(t, Checkpoint("c1"), got)

	require.NoError(t, <-f.leader.Drop(ctx, ig.GenerationID))

	got, err = follower.GetCommitInfo(ctx, ig.GenerationID)
	require.NoError(t, err)
	require.Equal(t, EmptyCheckpoint, got)

	_, err = f.leader.GetCommitInfo(ctx, ig.GenerationID)
	require.Equal(t, KindInvariant, KindOf(err))
	require.Empty(t, f.leader.Snapshot())
}

func TestFailedDropKeepsLease(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	ig := generation(index.NewID(), 0, status.Steady)
	f.leader.Add(ig)
	require.NoError(t, f.leader.UpdateCommitInfo(ctx, ig.GenerationID, "c1"))

	f.store.FailNext(1)
	err := <-f.leader.Drop(ctx, ig.GenerationID)
	require.Equal(t, KindTransient, KindOf(err))
	_, ok := f.leader.Lease(ig.GenerationID)
	require.True(t, ok)
}

func TestFollowerDropIsImmediateAndLocal(t *testing.T) {
	f := newFixture(t)
	follower := newManager(t, f.store, false)
	ig := generation(index.NewID(), 0, status.Steady)
	follower.Add(ig)

	done := follower.Drop(context.Background(), ig.GenerationID)
	select {
	case err := <-done:
		require.NoError(t, err)
	default:
		t.Fatal("follower drop should complete immediately")
	}
	require.Zero(t, f.store.Calls("deleteOne"))
	_, ok := follower.Lease(ig.GenerationID)
	require.False(t, ok)
}

func TestRepeatedRemovalLeavesCacheUsable(t *testing.T) {
	f := newFixture(t)
	ig := generation(index.NewID(), 0, status.Steady)
	f.leader.Add(ig)
	key := LeaseKey(ig.GenerationID)
	s, ok := f.leader.leases.Load(key)
	require.True(t, ok)

	s.mu.Lock()
	f.leader.removeLocked(key, s)
	f.leader.removeLocked(key, s)
	s.mu.Unlock()

	_, ok = f.leader.leases.Load(key)
	require.False(t, ok)
	f.leader.Add(ig)
	require.NoError(t, f.leader.UpdateCommitInfo(context.Background(), ig.GenerationID, "c1"))
	l, ok := f.leader.Lease(ig.GenerationID)
	require.True(t, ok)
	require.Equal(t, Checkpoint("c1"), l.CommitInfo)
}

func TestConcurrentDropsOfOneLease(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	follower := newManager(t, f.store, false)

	for round := 0; round < 50; round++ {
		ig := generation(index.NewID(), 0, status.Steady)
		f.leader.Add(ig)
		follower.Add(ig)
		require.NoError(t, f.leader.UpdateCommitInfo(ctx, ig.GenerationID, "c1"))

		var wg sync.WaitGroup
		errs := make(chan error, 16)
		for i := 0; i < 8; i++ {
			wg.Add(2)
			go func() {
				defer wg.Done()
				errs <- <-f.leader.Drop(ctx, ig.GenerationID)
			}()
			go func() {
				defer wg.Done()
				errs <- <-follower.Drop(ctx, ig.GenerationID)
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		_, ok := f.leader.leases.Load(LeaseKey(ig.GenerationID))
		require.False(t, ok)
		_, ok = follower.leases.Load(LeaseKey(ig.GenerationID))
		require.False(t, ok)

		f.leader.Add(ig)
		require.NoError(t, f.leader.UpdateCommitInfo(ctx, ig.GenerationID, "c2"))
		require.NoError(t, <-f.leader.Drop(ctx, ig.GenerationID))
	}
	require.Empty(t, f.leader.Snapshot())
	require.Empty(t, follower.Snapshot())
}

func TestConcurrentAddKeepsEveryVersion(t *testing.T) {
	f := newFixture(t)
	indexID := index.NewID()

	const versions = 32
	var wg sync.WaitGroup
	for v := 0; v < versions; v++ {
		wg.Add(1)
		go func(v int64) {
			defer wg.Done()
			f.leader.Add(generation(indexID, v, status.InitialSync))
		}(int64(v))
	}
	wg.Wait()

	l, ok := f.leader.Lease(generation(indexID, 0, status.InitialSync).GenerationID)
	require.True(t, ok)
	require.Len(t, l.Versions, versions)
	for v := int64(0); v < versions; v++ {
		require.True(t, l.HasVersion(index.VersionKey(v)), "missing version %d", v)
	}
}

func TestLeaderResumesFromPersistedLeases(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	ig := generation(index.NewID(), 0, status.Steady)
	f.leader.Add(ig)
	for i := 0; i < 3; i++ {
		require.NoError(t, f.leader.UpdateCommitInfo(ctx, ig.GenerationID, Checkpoint(fmt.Sprintf("c%d", i))))
	}

	restarted := newManager(t, f.store, true)
	l, ok := restarted.Lease(ig.GenerationID)
	require.True(t, ok)
	require.Equal(t, int64(3), l.LeaseVersion)

	// adding the same generation again keeps the loaded lease
	restarted.Add(ig)
	require.NoError(t, restarted.UpdateCommitInfo(ctx, ig.GenerationID, "c3"))
	require.Equal(t, int64(4), f.stored(t, ig.GenerationID).LeaseVersion)
}

func TestLeaderBootstrapFailure(t *testing.T) {
	store := storetest.NewFaulty(memstore.New())
	store.SetDown(true)
	_, err := NewManager(context.Background(), Config{Leader: true, Store: store})
	require.Error(t, err)
	require.True(t, errors.Is(err, leasestore.ErrUnavailable))

	// followers never read at construction
	_, err = NewManager(context.Background(), Config{Leader: false, Store: store})
	require.NoError(t, err)
}
