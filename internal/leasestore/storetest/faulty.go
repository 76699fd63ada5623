package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"mvlease/internal/leasestore"
)

// ErrInjected is returned by Faulty for injected failures.
var ErrInjected = errors.New("storetest: injected failure")

// Faulty wraps a store and injects failures: outright outages, failures before a write is
// applied, and lost acknowledgements where the write lands but the caller sees an error.
type Faulty struct {
	inner leasestore.Store

	mu       sync.Mutex
	down     bool
	failNext int
	loseAcks int
	calls    map[string]int
}

var _ leasestore.Store = (*Faulty)(nil)

func NewFaulty(inner leasestore.Store) *Faulty {
	return &Faulty{inner: inner, calls: make(map[string]int)}
}

// SetDown makes every call fail until reset.
func (f *Faulty) SetDown(down bool) {
	f.mu.Lock()
	f.down = down
	f.mu.Unlock()
}

// FailNext fails the next n writes without applying them.
func (f *Faulty) FailNext(n int) {
	f.mu.Lock()
	f.failNext = n
	f.mu.Unlock()
}

// LoseAcks applies the next n writes but reports them as failed.
func (f *Faulty) LoseAcks(n int) {
	f.mu.Lock()
	f.loseAcks = n
	f.mu.Unlock()
}

// Calls returns how many times op was invoked.
func (f *Faulty) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

type writeFault int

const (
	faultNone writeFault = iota
	faultBefore
	faultLostAck
)

func (f *Faulty) enter(op string, write bool) (writeFault, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[op]++
	if f.down {
		return faultNone, fmt.Errorf("%s: injected outage: %w", op, leasestore.ErrUnavailable)
	}
	if !write {
		return faultNone, nil
	}
	switch {
	case f.failNext > 0:
		f.failNext--
		return faultBefore, fmt.Errorf("%s: %w", op, ErrInjected)
	case f.loseAcks > 0:
		f.loseAcks--
		return faultLostAck, nil
	}
	return faultNone, nil
}

func (f *Faulty) FindOne(ctx context.Context, filter leasestore.Filter, opts leasestore.ReadOptions) (leasestore.Document, bool, error) {
	if _, err := f.enter("findOne", false); err != nil {
		return leasestore.Document{}, false, err
	}
	return f.inner.FindOne(ctx, filter, opts)
}

func (f *Faulty) Find(ctx context.Context, filter leasestore.Filter, opts leasestore.ReadOptions) ([]leasestore.Document, error) {
	if _, err := f.enter("find", false); err != nil {
		return nil, err
	}
	return f.inner.Find(ctx, filter, opts)
}

func (f *Faulty) ReplaceOne(ctx context.Context, filter leasestore.Filter, doc leasestore.Document, opts leasestore.ReplaceOptions) (leasestore.UpdateResult, error) {
	fault, err := f.enter("replaceOne", true)
	if err != nil {
		return leasestore.UpdateResult{}, err
	}
	res, err := f.inner.ReplaceOne(ctx, filter, doc, opts)
	if err == nil && fault == faultLostAck {
		return leasestore.UpdateResult{}, fmt.Errorf("replaceOne: acknowledgement lost: %w", ErrInjected)
	}
	return res, err
}

func (f *Faulty) DeleteOne(ctx context.Context, filter leasestore.Filter) (int64, error) {
	fault, err := f.enter("deleteOne", true)
	if err != nil {
		return 0, err
	}
	n, err := f.inner.DeleteOne(ctx, filter)
	if err == nil && fault == faultLostAck {
		return 0, fmt.Errorf("deleteOne: acknowledgement lost: %w", ErrInjected)
	}
	return n, err
}

func (f *Faulty) Close() error {
	return f.inner.Close()
}
