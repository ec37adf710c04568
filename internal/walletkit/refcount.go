// Package walletkit implements the reference-counted domain object graph
// shared by every wallet manager: accounts, networks, wallets, transfers,
// amounts, units, hashes, addresses, and fee bases.
package walletkit

import "sync/atomic"

// Ref is a reference-counted handle to a value of type T. take increments,
// give decrements and runs destroy when the count drops to zero, and
// takeWeak increments only if the publisher has not already released its
// own reference. Taking an already-released Ref is a programming error and
// aborts the process, matching the source library's contract.
type Ref[T any] struct {
	value   *T
	count   *atomic.Int64
	destroy func(*T)
}

// NewRef wraps value in a fresh reference with count 1. destroy may be nil
// if the type has nothing to release on drop-to-zero.
func NewRef[T any](value *T, destroy func(*T)) Ref[T] {
	count := new(atomic.Int64)
	count.Store(1)
	return Ref[T]{value: value, count: count, destroy: destroy}
}

// Value returns the underlying pointer. The caller must hold a live
// reference (its own Take, or one it was Given) for the duration of use.
func (r Ref[T]) Value() *T {
	return r.value
}

// Valid reports whether this Ref wraps a live value.
func (r Ref[T]) Valid() bool {
	return r.value != nil && r.count != nil
}

// Take increments the reference count and returns the same handle for
// convenience at call sites like `stored = arg.Take()`. Calling Take on a
// Ref whose count has already dropped to zero is a programming error.
func (r Ref[T]) Take() Ref[T] {
	if !r.Valid() {
		panic("walletkit: take of invalid reference")
	}
	for {
		n := r.count.Load()
		if n <= 0 {
			panic("walletkit: take of released reference")
		}
		if r.count.CompareAndSwap(n, n+1) {
			return r
		}
	}
}

// TakeWeak increments the reference count only if it is still positive,
// returning ok=false if the publisher has already released its reference.
// Used to publish references into event records without keeping the
// publisher's object graph alive past its own lifetime.
func (r Ref[T]) TakeWeak() (Ref[T], bool) {
	if !r.Valid() {
		return Ref[T]{}, false
	}
	for {
		n := r.count.Load()
		if n <= 0 {
			return Ref[T]{}, false
		}
		if r.count.CompareAndSwap(n, n+1) {
			return r, true
		}
	}
}

// Give decrements the reference count, running the destructor synchronously
// on this goroutine if the count drops to zero.
func (r Ref[T]) Give() {
	if !r.Valid() {
		return
	}
	if r.count.Add(-1) == 0 {
		if r.destroy != nil {
			r.destroy(r.value)
		}
	}
}

// Count returns the current reference count, for tests and diagnostics.
func (r Ref[T]) Count() int64 {
	if !r.Valid() {
		return 0
	}
	return r.count.Load()
}
