package lease

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// ErrStoreIO marks follower reads that failed to reach the lease store.
var ErrStoreIO = errors.New("lease: store i/o failure")

// ErrorKind classifies errors returned by the Manager.
type ErrorKind int

const (
	// KindNone is reported for nil and unclassified errors.
	KindNone ErrorKind = iota
	// KindInvariant is a caller contract violation. Never retried.
	KindInvariant
	// KindTransient is a store failure. In-memory state is unchanged and the call may be retried.
	KindTransient
	// KindNonTransient means the persisted lease diverged from what this leader expected.
	// The lease cannot make progress until it is dropped and added again.
	KindNonTransient
)

func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindInvariant:
		return "invariant"
	case KindTransient:
		return "transient"
	case KindNonTransient:
		return "non-transient"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// ReplicationError is a failure to persist a lease.
type ReplicationError struct {
	Kind    ErrorKind
	LeaseID string
	Err     error
}

func (e *ReplicationError) Error() string {
	return fmt.Sprintf("lease %s: %s replication error: %v", e.LeaseID, e.Kind, e.Err)
}

func (e *ReplicationError) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of err.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	var re *ReplicationError
	if errors.As(err, &re) {
		return re.Kind
	}
	if errors.HasAssertionFailure(err) {
		return KindInvariant
	}
	return KindNone
}

// IsRetryable reports whether the failed call may be retried as is.
func IsRetryable(err error) bool {
	return KindOf(err) == KindTransient
}

func transientError(leaseID string, err error) error {
	return &ReplicationError{Kind: KindTransient, LeaseID: leaseID, Err: err}
}

func nonTransientError(leaseID string, err error) error {
	return &ReplicationError{Kind: KindNonTransient, LeaseID: leaseID, Err: err}
}

func errNoLease(leaseID string) error {
	return errors.AssertionFailedf("lease: no lease registered for index %s", leaseID)
}

func errNotLeader(op string) error {
	return errors.AssertionFailedf("lease: %s called while not the leader", op)
}
