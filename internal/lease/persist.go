package lease

import (
	"context"

	"github.com/cockroachdb/errors"

	"mvlease/internal/leasestore"
	"mvlease/internal/metrics"
	"mvlease/internal/opexec"
)

// errVersionMismatch is the cause of every non-transient error.
var errVersionMismatch = errors.New("persisted lease matches neither the expected version nor the attempted write")

// mutate applies derive to the cached lease of key and persists the result. The cache
// entry only changes when the write succeeds.
func (m *Manager) mutate(ctx context.Context, key string, derive func(Lease) Lease) error {
	s, ok := m.leases.Load(key)
	if !ok {
		return errNoLease(key)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.removed {
		return errNoLease(key)
	}
	if s.diverged != nil {
		return nonTransientError(key, s.diverged)
	}

	current := s.lease
	updated := derive(current)
	if err := m.persist(ctx, current, updated); err != nil {
		if KindOf(err) == KindNonTransient {
			s.diverged = errVersionMismatch
		}
		return err
	}
	s.lease = updated
	return nil
}

// persist writes updated, which was derived from current. A lease that was never persisted
// is upserted. Otherwise the replace is conditional: the stored lease must still be at
// current's version, or already hold exactly this write from an attempt whose
// acknowledgement was lost.
func (m *Manager) persist(ctx context.Context, current, updated Lease) error {
	key := updated.ID
	doc := updated.ToDocument()

	if current.LeaseVersion == FirstLeaseVersion {
		_, err := opexec.Execute(ctx, m.exec, "createLease", func(ctx context.Context) (leasestore.UpdateResult, error) {
			return m.store.ReplaceOne(ctx, leasestore.ByID(key), doc, leasestore.ReplaceOptions{Upsert: true})
		})
		if err != nil {
			m.metrics.Persisted(metrics.OutcomeTransient)
			return transientError(key, err)
		}
		m.metrics.Persisted(metrics.OutcomeCreated)
		return nil
	}

	filter := conditionalFilter(key, current.LeaseVersion, updated.LeaseVersion, updated.CommitInfo)
	res, err := opexec.Execute(ctx, m.exec, "updateLease", func(ctx context.Context) (leasestore.UpdateResult, error) {
		return m.store.ReplaceOne(ctx, filter, doc, leasestore.ReplaceOptions{})
	})
	if err != nil {
		m.metrics.Persisted(metrics.OutcomeTransient)
		return transientError(key, err)
	}
	if res.MatchedCount == 0 {
		m.metrics.Persisted(metrics.OutcomeConflict)
		m.logger.WarnCtx(ctx, "failed to update lease due to version mismatch, check the lease collection for corrupted records",
			"lease", key, "expectedVersion", current.LeaseVersion, "attempted", updated.String())
		return nonTransientError(key, errVersionMismatch)
	}
	m.metrics.Persisted(metrics.OutcomeUpdated)
	return nil
}

func conditionalFilter(key string, currentVersion, nextVersion int64, commitInfo Checkpoint) leasestore.Filter {
	return leasestore.And(
		leasestore.ByID(key),
		leasestore.Or(
			leasestore.Eq(leasestore.FieldLeaseVersion, currentVersion),
			leasestore.And(
				leasestore.Eq(leasestore.FieldLeaseVersion, nextVersion),
				leasestore.Eq(leasestore.FieldCommitInfo, string(commitInfo)),
			),
		),
	)
}
