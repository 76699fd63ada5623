// Package leasestore defines the document collection that holds persisted leases and the
// operations every backend must provide.
package leasestore

import (
	"context"
	"errors"
	"fmt"
)

const (
	// DefaultDatabase is the internal database holding lease documents.
	DefaultDatabase = "__mdb_internal_search"
	// DefaultCollection is the well-known lease collection.
	DefaultCollection = "auto_embedding_leases"
)

var (
	// ErrInvalidFilter indicates a malformed filter.
	ErrInvalidFilter = errors.New("leasestore: invalid filter")
	// ErrInvalidDocument indicates a document that cannot be stored.
	ErrInvalidDocument = errors.New("leasestore: invalid document")
	// ErrImmutableID indicates a replacement tried to change a document id.
	ErrImmutableID = errors.New("leasestore: document id is immutable")
	// ErrDuplicateID indicates an upsert collided with a document the filter excluded.
	ErrDuplicateID = errors.New("leasestore: duplicate document id")
	// ErrInvalidReadOptions indicates an unsupported read concern/preference combination.
	ErrInvalidReadOptions = errors.New("leasestore: invalid read options")
	// ErrClosed indicates the store has been closed.
	ErrClosed = errors.New("leasestore: store closed")
	// ErrUnavailable indicates the store could not be reached.
	ErrUnavailable = errors.New("leasestore: store unavailable")
)

// ReadConcern controls the consistency of reads.
type ReadConcern int

const (
	ReadConcernLocal ReadConcern = iota
	ReadConcernMajority
	ReadConcernLinearizable
)

func (c ReadConcern) String() string {
	switch c {
	case ReadConcernLocal:
		return "local"
	case ReadConcernMajority:
		return "majority"
	case ReadConcernLinearizable:
		return "linearizable"
	default:
		return fmt.Sprintf("ReadConcern(%d)", int(c))
	}
}

// ReadPreference selects which member serves a read.
type ReadPreference int

const (
	ReadPreferencePrimary ReadPreference = iota
	ReadPreferencePrimaryPreferred
	ReadPreferenceSecondary
)

func (p ReadPreference) String() string {
	switch p {
	case ReadPreferencePrimary:
		return "primary"
	case ReadPreferencePrimaryPreferred:
		return "primaryPreferred"
	case ReadPreferenceSecondary:
		return "secondary"
	default:
		return fmt.Sprintf("ReadPreference(%d)", int(p))
	}
}

// ReadOptions accompanies every read.
type ReadOptions struct {
	Concern    ReadConcern
	Preference ReadPreference
}

// LinearizablePrimary is the only read mode the lease protocol is correct under.
func LinearizablePrimary() ReadOptions {
	return ReadOptions{Concern: ReadConcernLinearizable, Preference: ReadPreferencePrimary}
}

// Validate rejects every read mode other than LinearizablePrimary.
func (o ReadOptions) Validate() error {
	if o != LinearizablePrimary() {
		return fmt.Errorf("%w: reads require %s read concern and %s read preference, got %s/%s",
			ErrInvalidReadOptions, ReadConcernLinearizable, ReadPreferencePrimary, o.Concern, o.Preference)
	}
	return nil
}

// ReplaceOptions configures ReplaceOne.
type ReplaceOptions struct {
	Upsert bool
}

// UpdateResult reports what a ReplaceOne did.
type UpdateResult struct {
	MatchedCount  int64
	ModifiedCount int64
	UpsertedID    string
}

// Store is a single document collection.
type Store interface {
	// FindOne returns the first document matching filter, reporting whether one exists.
	FindOne(ctx context.Context, filter Filter, opts ReadOptions) (Document, bool, error)
	// Find returns every matching document ordered by id.
	Find(ctx context.Context, filter Filter, opts ReadOptions) ([]Document, error)
	// ReplaceOne atomically replaces the first document matching filter, inserting doc when
	// nothing matches and opts.Upsert is set.
	ReplaceOne(ctx context.Context, filter Filter, doc Document, opts ReplaceOptions) (UpdateResult, error)
	// DeleteOne removes the first matching document and returns how many were removed.
	DeleteOne(ctx context.Context, filter Filter) (int64, error)
	Close() error
}

// CheckRead validates the arguments shared by FindOne and Find.
func CheckRead(ctx context.Context, filter Filter, opts ReadOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := opts.Validate(); err != nil {
		return err
	}
	return filter.Validate()
}

// PrepareReplacement returns the document to store in place of matched.
func PrepareReplacement(matched Document, doc Document) (Document, error) {
	out := doc.Clone()
	if out.ID == "" {
		out.ID = matched.ID
	}
	if out.ID != matched.ID {
		return Document{}, fmt.Errorf("%w: %q -> %q", ErrImmutableID, matched.ID, out.ID)
	}
	return out, nil
}

// PrepareUpsert returns the document to insert when an upsert matched nothing.
func PrepareUpsert(filter Filter, doc Document) (Document, error) {
	out := doc.Clone()
	if id, ok := filter.ID(); ok {
		if out.ID == "" {
			out.ID = id
		}
		if out.ID != id {
			return Document{}, fmt.Errorf("%w: filter id %q does not match document id %q",
				ErrImmutableID, id, out.ID)
		}
	}
	if out.ID == "" {
		return Document{}, fmt.Errorf("%w: missing %s", ErrInvalidDocument, FieldID)
	}
	return out, nil
}
