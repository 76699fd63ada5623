// Package memstore is an in-process lease collection ordered by document id.
package memstore

import (
	"context"
	"sync"

	"github.com/google/btree"

	"mvlease/internal/leasestore"
)

const btreeDegree = 16

// Store keeps documents in a btree. It is linearizable because every operation runs under
// one mutex.
type Store struct {
	mu     sync.RWMutex
	docs   *btree.BTreeG[leasestore.Document]
	closed bool
}

var _ leasestore.Store = (*Store)(nil)

func lessByID(a, b leasestore.Document) bool {
	return a.ID < b.ID
}

// New returns an empty store.
func New() *Store {
	return &Store{docs: btree.NewG[leasestore.Document](btreeDegree, lessByID)}
}

func (s *Store) FindOne(ctx context.Context, filter leasestore.Filter, opts leasestore.ReadOptions) (leasestore.Document, bool, error) {
	if err := leasestore.CheckRead(ctx, filter, opts); err != nil {
		return leasestore.Document{}, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return leasestore.Document{}, false, leasestore.ErrClosed
	}
	doc, ok := s.firstMatchLocked(filter)
	if !ok {
		return leasestore.Document{}, false, nil
	}
	return doc.Clone(), true, nil
}

func (s *Store) Find(ctx context.Context, filter leasestore.Filter, opts leasestore.ReadOptions) ([]leasestore.Document, error) {
	if err := leasestore.CheckRead(ctx, filter, opts); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, leasestore.ErrClosed
	}
	var out []leasestore.Document
	s.docs.Ascend(func(doc leasestore.Document) bool {
		if filter.Matches(doc) {
			out = append(out, doc.Clone())
		}
		return true
	})
	return out, nil
}

func (s *Store) ReplaceOne(ctx context.Context, filter leasestore.Filter, doc leasestore.Document, opts leasestore.ReplaceOptions) (leasestore.UpdateResult, error) {
	if err := ctx.Err(); err != nil {
		return leasestore.UpdateResult{}, err
	}
	if err := filter.Validate(); err != nil {
		return leasestore.UpdateResult{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return leasestore.UpdateResult{}, leasestore.ErrClosed
	}
	if matched, ok := s.firstMatchLocked(filter); ok {
		replacement, err := leasestore.PrepareReplacement(matched, doc)
		if err != nil {
			return leasestore.UpdateResult{}, err
		}
		s.docs.ReplaceOrInsert(replacement)
		return leasestore.UpdateResult{MatchedCount: 1, ModifiedCount: 1}, nil
	}
	if !opts.Upsert {
		return leasestore.UpdateResult{}, nil
	}
	inserted, err := leasestore.PrepareUpsert(filter, doc)
	if err != nil {
		return leasestore.UpdateResult{}, err
	}
	if _, exists := s.docs.Get(inserted); exists {
		return leasestore.UpdateResult{}, leasestore.ErrDuplicateID
	}
	s.docs.ReplaceOrInsert(inserted)
	return leasestore.UpdateResult{UpsertedID: inserted.ID}, nil
}

func (s *Store) DeleteOne(ctx context.Context, filter leasestore.Filter) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := filter.Validate(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, leasestore.ErrClosed
	}
	doc, ok := s.firstMatchLocked(filter)
	if !ok {
		return 0, nil
	}
	s.docs.Delete(doc)
	return 1, nil
}

// Len returns the number of stored documents.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.docs.Len()
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *Store) firstMatchLocked(filter leasestore.Filter) (leasestore.Document, bool) {
	if id, ok := filter.ID(); ok {
		doc, found := s.docs.Get(leasestore.Document{ID: id})
		if !found || !filter.Matches(doc) {
			return leasestore.Document{}, false
		}
		return doc, true
	}
	var (
		match leasestore.Document
		found bool
	)
	s.docs.Ascend(func(doc leasestore.Document) bool {
		if filter.Matches(doc) {
			match, found = doc, true
			return false
		}
		return true
	})
	return match, found
}
