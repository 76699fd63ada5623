// Package pebblestore persists lease documents in a pebble LSM under a per-collection key prefix.
package pebblestore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/gofrs/flock"

	"mvlease/internal/leasestore"
)

const (
	fileLockName = "leasestore.flock"
	dataDirName  = "pebble"
)

// ErrDirectoryInUse is returned when another process holds the store directory.
var ErrDirectoryInUse = errors.New("pebblestore: directory is in use by another process")

type Store struct {
	// mu serializes read-modify-write operations; pebble has no conditional put.
	mu       sync.Mutex
	db       *pebble.DB
	prefix   []byte
	fileLock *flock.Flock
	closed   bool
}

var _ leasestore.Store = (*Store)(nil)

func Open(dir, collection string) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("pebblestore: directory is empty")
	}
	if collection == "" {
		collection = leasestore.DefaultCollection
	}
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return nil, err
	}

	fileLock := flock.New(filepath.Join(dir, fileLockName))
	hold, err := fileLock.TryLock()
	if err != nil {
		return nil, err
	}
	if !hold {
		return nil, ErrDirectoryInUse
	}

	db, err := pebble.Open(filepath.Join(dir, dataDirName), &pebble.Options{})
	if err != nil {
		_ = fileLock.Unlock()
		return nil, fmt.Errorf("pebblestore: open: %w", err)
	}
	return &Store{
		db:       db,
		prefix:   []byte(collection + "/"),
		fileLock: fileLock,
	}, nil
}

func (s *Store) key(id string) []byte {
	k := make([]byte, 0, len(s.prefix)+len(id))
	k = append(k, s.prefix...)
	return append(k, id...)
}

// upperBound is the first key after every key carrying the prefix.
func (s *Store) upperBound() []byte {
	end := append([]byte(nil), s.prefix...)
	end[len(end)-1]++
	return end
}

func (s *Store) FindOne(ctx context.Context, filter leasestore.Filter, opts leasestore.ReadOptions) (leasestore.Document, bool, error) {
	if err := leasestore.CheckRead(ctx, filter, opts); err != nil {
		return leasestore.Document{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return leasestore.Document{}, false, leasestore.ErrClosed
	}
	return s.firstMatchLocked(filter)
}

func (s *Store) Find(ctx context.Context, filter leasestore.Filter, opts leasestore.ReadOptions) ([]leasestore.Document, error) {
	if err := leasestore.CheckRead(ctx, filter, opts); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, leasestore.ErrClosed
	}
	var out []leasestore.Document
	err := s.scanLocked(func(doc leasestore.Document) bool {
		if filter.Matches(doc) {
			out = append(out, doc)
		}
		return true
	})
	return out, err
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

	matched, found, err := s.firstMatchLocked(filter)
	if err != nil {
		return leasestore.UpdateResult{}, err
	}
	var (
		target leasestore.Document
		result leasestore.UpdateResult
	)
	switch {
	case found:
		if target, err = leasestore.PrepareReplacement(matched, doc); err != nil {
			return leasestore.UpdateResult{}, err
		}
		result = leasestore.UpdateResult{MatchedCount: 1, ModifiedCount: 1}
	case opts.Upsert:
		if target, err = leasestore.PrepareUpsert(filter, doc); err != nil {
			return leasestore.UpdateResult{}, err
		}
		_, exists, err := s.getLocked(target.ID)
		if err != nil {
			return leasestore.UpdateResult{}, err
		}
		if exists {
			return leasestore.UpdateResult{}, leasestore.ErrDuplicateID
		}
		result = leasestore.UpdateResult{UpsertedID: target.ID}
	default:
		return leasestore.UpdateResult{}, nil
	}

	data, err := leasestore.Marshal(target)
	if err != nil {
		return leasestore.UpdateResult{}, err
	}
	if err := s.db.Set(s.key(target.ID), data, pebble.Sync); err != nil {
		return leasestore.UpdateResult{}, err
	}
	return result, nil
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
	doc, found, err := s.firstMatchLocked(filter)
	if err != nil || !found {
		return 0, err
	}
	if err := s.db.Delete(s.key(doc.ID), pebble.Sync); err != nil {
		return 0, err
	}
	return 1, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	err := s.db.Close()
	if unlockErr := s.fileLock.Unlock(); err == nil {
		err = unlockErr
	}
	return err
}

func (s *Store) getLocked(id string) (leasestore.Document, bool, error) {
	data, closer, err := s.db.Get(s.key(id))
	if errors.Is(err, pebble.ErrNotFound) {
		return leasestore.Document{}, false, nil
	}
	if err != nil {
		return leasestore.Document{}, false, err
	}
	defer closer.Close()
	doc, err := leasestore.Unmarshal(data)
	if err != nil {
		return leasestore.Document{}, false, err
	}
	return doc, true, nil
}

func (s *Store) firstMatchLocked(filter leasestore.Filter) (leasestore.Document, bool, error) {
	if id, ok := filter.ID(); ok {
		doc, found, err := s.getLocked(id)
		if err != nil || !found {
			return leasestore.Document{}, false, err
		}
		return doc, filter.Matches(doc), nil
	}
	var (
		match leasestore.Document
		found bool
	)
	err := s.scanLocked(func(doc leasestore.Document) bool {
		if filter.Matches(doc) {
			match, found = doc, true
			return false
		}
		return true
	})
	return match, found, err
}

// scanLocked visits the collection in id order until fn returns false.
func (s *Store) scanLocked(fn func(leasestore.Document) bool) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: s.prefix,
		UpperBound: s.upperBound(),
	})
	if err != nil {
		return err
	}
	for iter.First(); iter.Valid(); iter.Next() {
		doc, err := leasestore.Unmarshal(iter.Value())
		if err != nil {
			_ = iter.Close()
			return err
		}
		if !fn(doc) {
			break
		}
	}
	return iter.Close()
}
