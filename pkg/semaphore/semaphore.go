// Package semaphore provides a generic bounded-concurrency gate.
//
// A Semaphore of capacity K admits at most K holders at a time; callers that
// arrive while all slots are taken wait in strict FIFO order. A Semaphore of
// capacity 1 is a mutex (see NewMutex).
//
// The gate owns a value of type T that is handed to every holder, so the
// protected resource is only reachable while a slot is held:
//
//	mu := semaphore.NewMutex(client)
//	err := mu.Lock(ctx, func(c *chain.EthereumClient) error {
//	    // exclusive use of c
//	    return nil
//	})
//
// # Release Semantics
//
// The slot is always released when the callback returns, including when it
// returns an error or panics. Releasing wakes the head of the waiter queue.
//
// # Observing Contention
//
// Locked reports whether a new caller would have to wait. The count it reads
// includes queued waiters, so it stays true while anyone is queued even if a
// slot is momentarily being handed over.
package semaphore

import (
	"container/list"
	"context"
	"fmt"
	"sync"
)

// Semaphore is a FIFO counting semaphore guarding a value of type T.
type Semaphore[T any] struct {
	inner T
	size  int

	mu sync.Mutex

	// count is the number of admitted holders plus queued waiters.
	count int

	// waiters holds one chan struct{} per queued caller, oldest first.
	waiters list.List
}

// New creates a semaphore of the given capacity guarding inner.
// It panics if size is less than 1.
func New[T any](inner T, size int) *Semaphore[T] {
	if size < 1 {
		panic(fmt.Sprintf("semaphore: invalid size %d", size))
	}
	return &Semaphore[T]{inner: inner, size: size}
}

// NewMutex creates a semaphore of capacity 1.
func NewMutex[T any](inner T) *Semaphore[T] {
	return New(inner, 1)
}

// Size returns the capacity of the semaphore.
func (s *Semaphore[T]) Size() int {
	return s.size
}

// Count returns the number of holders plus waiters.
func (s *Semaphore[T]) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// Locked reports whether all slots are taken, i.e. whether a caller arriving
// now would have to wait.
func (s *Semaphore[T]) Locked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count >= s.size
}

// Lock waits for a slot, runs fn with the guarded value, and releases the slot.
//
// If ctx is done before a slot is granted, Lock returns ctx.Err() without
// running fn. Once fn starts it runs to completion; cancellation is fn's
// business.
func (s *Semaphore[T]) Lock(ctx context.Context, fn func(T) error) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()

	return fn(s.inner)
}

// TryLock runs fn only if a slot is immediately available. It reports
// whether fn ran.
func (s *Semaphore[T]) TryLock(fn func(T) error) (bool, error) {
	s.mu.Lock()
	if s.count >= s.size {
		s.mu.Unlock()
		return false, nil
	}
	s.count++
	s.mu.Unlock()
	defer s.release()

	return true, fn(s.inner)
}

// acquire increments the count and, if capacity is exceeded, queues a waiter
// and blocks until woken or ctx is done.
func (s *Semaphore[T]) acquire(ctx context.Context) error {
	s.mu.Lock()
	s.count++
	if s.count <= s.size {
		s.mu.Unlock()
		return nil
	}

	if err := ctx.Err(); err != nil {
		s.count--
		s.mu.Unlock()
		return err
	}

	ready := make(chan struct{})
	elem := s.waiters.PushBack(ready)
	s.mu.Unlock()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		s.mu.Lock()
		select {
		case <-ready:
			// Woken concurrently with cancellation: the slot is ours, so
			// pass it on instead of leaking it.
			s.mu.Unlock()
			s.release()
		default:
			s.waiters.Remove(elem)
			s.count--
			s.mu.Unlock()
		}
		return ctx.Err()
	}
}

// release wakes the oldest waiter, if any, and gives up one slot.
func (s *Semaphore[T]) release() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if front := s.waiters.Front(); front != nil {
		s.waiters.Remove(front)
		close(front.Value.(chan struct{}))
	}
	s.count--
}
