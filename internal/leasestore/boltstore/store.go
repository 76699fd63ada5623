// Package boltstore persists lease documents in a bbolt file, one bucket per collection.
package boltstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"mvlease/internal/leasestore"
)

const (
	boltFileName = "leases.db"
	openTimeout  = time.Second
)

// Store is a bbolt-backed collection. Writes run in a single read-write transaction, which
// bbolt serializes, so conditional replaces are atomic and reads observe every
// acknowledged write.
type Store struct {
	db     *bolt.DB
	bucket []byte
}

var _ leasestore.Store = (*Store)(nil)

// Open opens (creating if needed) the store under dir.
func Open(dir, collection string) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("boltstore: directory is empty")
	}
	if collection == "" {
		collection = leasestore.DefaultCollection
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	db, err := bolt.Open(filepath.Join(dir, boltFileName), 0o600, &bolt.Options{Timeout: openTimeout})
	if err != nil {
		return nil, fmt.Errorf("boltstore: open: %w", err)
	}
	bucket := []byte(collection)
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, bucket: bucket}, nil
}

func (s *Store) FindOne(ctx context.Context, filter leasestore.Filter, opts leasestore.ReadOptions) (leasestore.Document, bool, error) {
	if err := leasestore.CheckRead(ctx, filter, opts); err != nil {
		return leasestore.Document{}, false, err
	}
	var (
		doc   leasestore.Document
		found bool
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		bucket, err := s.bucketOf(tx)
		if err != nil {
			return err
		}
		doc, found, err = firstMatch(bucket, filter)
		return err
	})
	if err != nil {
		return leasestore.Document{}, false, wrapClosed(err)
	}
	return doc, found, nil
}

func (s *Store) Find(ctx context.Context, filter leasestore.Filter, opts leasestore.ReadOptions) ([]leasestore.Document, error) {
	if err := leasestore.CheckRead(ctx, filter, opts); err != nil {
		return nil, err
	}
	var out []leasestore.Document
	err := s.db.View(func(tx *bolt.Tx) error {
		bucket, err := s.bucketOf(tx)
		if err != nil {
			return err
		}
		// bbolt iterates keys in byte order, which is id order
		return bucket.ForEach(func(_, v []byte) error {
			doc, err := leasestore.Unmarshal(v)
			if err != nil {
				return err
			}
			if filter.Matches(doc) {
				out = append(out, doc)
			}
			return nil
		})
	})
	if err != nil {
		return nil, wrapClosed(err)
	}
	return out, nil
}

func (s *Store) ReplaceOne(ctx context.Context, filter leasestore.Filter, doc leasestore.Document, opts leasestore.ReplaceOptions) (leasestore.UpdateResult, error) {
	if err := ctx.Err(); err != nil {
		return leasestore.UpdateResult{}, err
	}
	if err := filter.Validate(); err != nil {
		return leasestore.UpdateResult{}, err
	}
	var result leasestore.UpdateResult
	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket, err := s.bucketOf(tx)
		if err != nil {
			return err
		}
		matched, found, err := firstMatch(bucket, filter)
		if err != nil {
			return err
		}
		var target leasestore.Document
		switch {
		case found:
			if target, err = leasestore.PrepareReplacement(matched, doc); err != nil {
				return err
			}
			result = leasestore.UpdateResult{MatchedCount: 1, ModifiedCount: 1}
		case opts.Upsert:
			if target, err = leasestore.PrepareUpsert(filter, doc); err != nil {
				return err
			}
			if bucket.Get([]byte(target.ID)) != nil {
				return leasestore.ErrDuplicateID
			}
			result = leasestore.UpdateResult{UpsertedID: target.ID}
		default:
			return nil
		}
		data, err := leasestore.Marshal(target)
		if err != nil {
			return err
		}
		return bucket.Put([]byte(target.ID), data)
	})
	if err != nil {
		return leasestore.UpdateResult{}, wrapClosed(err)
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
	var deleted int64
	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket, err := s.bucketOf(tx)
		if err != nil {
			return err
		}
		doc, found, err := firstMatch(bucket, filter)
		if err != nil || !found {
			return err
		}
		deleted = 1
		return bucket.Delete([]byte(doc.ID))
	})
	if err != nil {
		return 0, wrapClosed(err)
	}
	return deleted, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) bucketOf(tx *bolt.Tx) (*bolt.Bucket, error) {
	bucket := tx.Bucket(s.bucket)
	if bucket == nil {
		return nil, fmt.Errorf("boltstore: bucket %s missing", s.bucket)
	}
	return bucket, nil
}

func firstMatch(bucket *bolt.Bucket, filter leasestore.Filter) (leasestore.Document, bool, error) {
	if id, ok := filter.ID(); ok {
		data := bucket.Get([]byte(id))
		if data == nil {
			return leasestore.Document{}, false, nil
		}
		doc, err := leasestore.Unmarshal(data)
		if err != nil {
			return leasestore.Document{}, false, err
		}
		return doc, filter.Matches(doc), nil
	}
	c := bucket.Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		doc, err := leasestore.Unmarshal(v)
		if err != nil {
			return leasestore.Document{}, false, err
		}
		if filter.Matches(doc) {
			return doc, true, nil
		}
	}
	return leasestore.Document{}, false, nil
}

func wrapClosed(err error) error {
	if err == bolt.ErrDatabaseNotOpen {
		return fmt.Errorf("%w: %v", leasestore.ErrClosed, err)
	}
	return err
}
