// Package storetest holds a conformance suite every leasestore backend runs, plus fault
// injection helpers for protocol tests.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"mvlease/internal/leasestore"
	"mvlease/internal/status"
)

// Opener returns a fresh, empty store. The suite closes it.
type Opener func(t *testing.T) leasestore.Store

// SampleDocument builds a realistic lease document.
func SampleDocument(id string, version int64, commitInfo string) leasestore.Document {
	return leasestore.Document{
		ID:                         id,
		SchemaVersion:              1,
		Hostname:                   "host-a",
		CollectionUUID:             "550e8400-e29b-41d4-a716-446655440000",
		LastObservedCollectionName: "movies",
		LastUpdated:                time.Date(2024, 12, 6, 0, 57, 15, 661000000, time.UTC),
		LeaseVersion:               version,
		CommitInfo:                 commitInfo,
		IndexDefinitionVersionStatusMap: map[string]leasestore.VersionStatus{
			"1": {IsQueryable: false, StatusCode: status.InitialSync},
		},
		LatestIndexDefinitionVersion: "1",
	}
}

// RunSuite exercises the leasestore.Store contract.
func RunSuite(t *testing.T, open Opener) {
	read := leasestore.LinearizablePrimary()

	withStore := func(t *testing.T, fn func(ctx context.Context, s leasestore.Store)) {
		s := open(t)
		defer func() { _ = s.Close() }()
		fn(context.Background(), s)
	}

	t.Run("FindMissing", func(t *testing.T) {
		withStore(t, func(ctx context.Context, s leasestore.Store) {
			_, ok, err := s.FindOne(ctx, leasestore.ByID("nope"), read)
			require.NoError(t, err)
			require.False(t, ok)
		})
	})

	t.Run("UpsertThenFind", func(t *testing.T) {
		withStore(t, func(ctx context.Context, s leasestore.Store) {
			doc := SampleDocument("a", 1, "c1")
			res, err := s.ReplaceOne(ctx, leasestore.ByID("a"), doc, leasestore.ReplaceOptions{Upsert: true})
			require.NoError(t, err)
			require.Equal(t, int64(0), res.MatchedCount)
			require.Equal(t, "a", res.UpsertedID)

			got, ok, err := s.FindOne(ctx, leasestore.ByID("a"), read)
			require.NoError(t, err)
			require.True(t, ok)
			requireSameDocument(t, doc, got)

			// upserting again replaces in place
			doc.CommitInfo = "c1-again"
			res, err = s.ReplaceOne(ctx, leasestore.ByID("a"), doc, leasestore.ReplaceOptions{Upsert: true})
			require.NoError(t, err)
			require.Equal(t, int64(1), res.MatchedCount)
			got, _, err = s.FindOne(ctx, leasestore.ByID("a"), read)
			require.NoError(t, err)
			require.Equal(t, "c1-again", got.CommitInfo)
		})
	})

	t.Run("ConditionalReplace", func(t *testing.T) {
		withStore(t, func(ctx context.Context, s leasestore.Store) {
			_, err := s.ReplaceOne(ctx, leasestore.ByID("a"), SampleDocument("a", 1, "c1"), leasestore.ReplaceOptions{Upsert: true})
			require.NoError(t, err)

			next := SampleDocument("a", 2, "c2")
			filter := versionFilter("a", 1, 2, "c2")
			res, err := s.ReplaceOne(ctx, filter, next, leasestore.ReplaceOptions{})
			require.NoError(t, err)
			require.Equal(t, int64(1), res.MatchedCount)

			// replaying the same write matches the already-applied disjunct
			res, err = s.ReplaceOne(ctx, filter, next, leasestore.ReplaceOptions{})
			require.NoError(t, err)
			require.Equal(t, int64(1), res.MatchedCount)

			// a stale expectation matches nothing and changes nothing
			stale := SampleDocument("a", 2, "other")
			res, err = s.ReplaceOne(ctx, versionFilter("a", 1, 2, "other"), stale, leasestore.ReplaceOptions{})
			require.NoError(t, err)
			require.Equal(t, int64(0), res.MatchedCount)

			got, _, err := s.FindOne(ctx, leasestore.ByID("a"), read)
			require.NoError(t, err)
			require.Equal(t, int64(2), got.LeaseVersion)
			require.Equal(t, "c2", got.CommitInfo)
		})
	})

	t.Run("ReplaceWithoutUpsertOnMissing", func(t *testing.T) {
		withStore(t, func(ctx context.Context, s leasestore.Store) {
			res, err := s.ReplaceOne(ctx, leasestore.ByID("ghost"), SampleDocument("ghost", 1, ""), leasestore.ReplaceOptions{})
			require.NoError(t, err)
			require.Equal(t, int64(0), res.MatchedCount)
			_, ok, err := s.FindOne(ctx, leasestore.ByID("ghost"), read)
			require.NoError(t, err)
			require.False(t, ok)
		})
	})

	t.Run("UpsertCannotShadowExcludedDocument", func(t *testing.T) {
		withStore(t, func(ctx context.Context, s leasestore.Store) {
			_, err := s.ReplaceOne(ctx, leasestore.ByID("a"), SampleDocument("a", 5, "c5"), leasestore.ReplaceOptions{Upsert: true})
			require.NoError(t, err)
			_, err = s.ReplaceOne(ctx, versionFilter("a", 1, 2, "c2"), SampleDocument("a", 2, "c2"), leasestore.ReplaceOptions{Upsert: true})
			require.ErrorIs(t, err, leasestore.ErrDuplicateID)
		})
	})

	t.Run("FindOrderedAndFiltered", func(t *testing.T) {
		withStore(t, func(ctx context.Context, s leasestore.Store) {
			for _, id := range []string{"c", "a", "b"} {
				_, err := s.ReplaceOne(ctx, leasestore.ByID(id), SampleDocument(id, 1, ""), leasestore.ReplaceOptions{Upsert: true})
				require.NoError(t, err)
			}
			docs, err := s.Find(ctx, leasestore.All(), read)
			require.NoError(t, err)
			require.Len(t, docs, 3)
			require.Equal(t, []string{"a", "b", "c"}, []string{docs[0].ID, docs[1].ID, docs[2].ID})

			docs, err = s.Find(ctx, leasestore.Or(leasestore.ByID("a"), leasestore.ByID("c")), read)
			require.NoError(t, err)
			require.Len(t, docs, 2)
		})
	})

	t.Run("Delete", func(t *testing.T) {
		withStore(t, func(ctx context.Context, s leasestore.Store) {
			_, err := s.ReplaceOne(ctx, leasestore.ByID("a"), SampleDocument("a", 1, ""), leasestore.ReplaceOptions{Upsert: true})
			require.NoError(t, err)
			n, err := s.DeleteOne(ctx, leasestore.ByID("a"))
			require.NoError(t, err)
			require.Equal(t, int64(1), n)
			n, err = s.DeleteOne(ctx, leasestore.ByID("a"))
			require.NoError(t, err)
			require.Equal(t, int64(0), n)
			_, ok, err := s.FindOne(ctx, leasestore.ByID("a"), read)
			require.NoError(t, err)
			require.False(t, ok)
		})
	})

	t.Run("RejectsRelaxedReads", func(t *testing.T) {
		withStore(t, func(ctx context.Context, s leasestore.Store) {
			for _, opts := range []leasestore.ReadOptions{
				{Concern: leasestore.ReadConcernLinearizable, Preference: leasestore.ReadPreferenceSecondary},
				{Concern: leasestore.ReadConcernLocal, Preference: leasestore.ReadPreferencePrimary},
			} {
				_, _, err := s.FindOne(ctx, leasestore.ByID("a"), opts)
				require.ErrorIs(t, err, leasestore.ErrInvalidReadOptions)
				_, err = s.Find(ctx, leasestore.All(), opts)
				require.ErrorIs(t, err, leasestore.ErrInvalidReadOptions)
			}
		})
	})

	t.Run("RejectsInvalidFilter", func(t *testing.T) {
		withStore(t, func(ctx context.Context, s leasestore.Store) {
			_, err := s.ReplaceOne(ctx, leasestore.Eq("bogus", 1), SampleDocument("a", 1, ""), leasestore.ReplaceOptions{Upsert: true})
			require.ErrorIs(t, err, leasestore.ErrInvalidFilter)
		})
	})

	t.Run("ConcurrentConditionalReplaceHasOneWinner", func(t *testing.T) {
		withStore(t, func(ctx context.Context, s leasestore.Store) {
			_, err := s.ReplaceOne(ctx, leasestore.ByID("a"), SampleDocument("a", 1, "c1"), leasestore.ReplaceOptions{Upsert: true})
			require.NoError(t, err)

			const writers = 8
			var (
				wg      sync.WaitGroup
				mu      sync.Mutex
				winners int
				errs    []error
			)
			for i := 0; i < writers; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					ckpt := fmt.Sprintf("writer-%d", i)
					res, err := s.ReplaceOne(ctx, versionFilter("a", 1, 2, ckpt), SampleDocument("a", 2, ckpt), leasestore.ReplaceOptions{})
					mu.Lock()
					defer mu.Unlock()
					if err != nil {
						errs = append(errs, err)
						return
					}
					if res.MatchedCount == 1 {
						winners++
					}
				}(i)
			}
			wg.Wait()
			require.Empty(t, errs)
			require.Equal(t, 1, winners)
		})
	})
}

func versionFilter(id string, current, next int64, commitInfo string) leasestore.Filter {
	return leasestore.And(
		leasestore.ByID(id),
		leasestore.Or(
			leasestore.Eq(leasestore.FieldLeaseVersion, current),
			leasestore.And(
				leasestore.Eq(leasestore.FieldLeaseVersion, next),
				leasestore.Eq(leasestore.FieldCommitInfo, commitInfo),
			),
		),
	)
}

func requireSameDocument(t *testing.T, want, got leasestore.Document) {
	t.Helper()
	require.True(t, want.LastUpdated.Equal(got.LastUpdated), "lastUpdated %v != %v", want.LastUpdated, got.LastUpdated)
	want.LastUpdated, got.LastUpdated = time.Time{}, time.Time{}
	require.Equal(t, want, got)
}
