package semaphore

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestMutex_Exclusive(t *testing.T) {
	mu := NewMutex(struct{}{})

	var inside atomic.Int32
	var maxInside atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = mu.Lock(context.Background(), func(struct{}) error {
				n := inside.Add(1)
				for {
					m := maxInside.Load()
					if n <= m || maxInside.CompareAndSwap(m, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				inside.Add(-1)
				return nil
			})
		}()
	}
	wg.Wait()

	if got := maxInside.Load(); got != 1 {
		t.Errorf("expected at most 1 concurrent holder, got %d", got)
	}
	if mu.Count() != 0 {
		t.Errorf("expected count 0 after all holders finished, got %d", mu.Count())
	}
}

func TestSemaphore_Capacity(t *testing.T) {
	sem := New(0, 3)

	var inside atomic.Int32
	var maxInside atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = sem.Lock(context.Background(), func(int) error {
				n := inside.Add(1)
				for {
					m := maxInside.Load()
					if n <= m || maxInside.CompareAndSwap(m, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				inside.Add(-1)
				return nil
			})
		}()
	}
	wg.Wait()

	if got := maxInside.Load(); got > 3 {
		t.Errorf("expected at most 3 concurrent holders, got %d", got)
	}
}

func TestMutex_FIFO(t *testing.T) {
	mu := NewMutex(struct{}{})
	release := make(chan struct{})
	held := make(chan struct{})

	go func() {
		_ = mu.Lock(context.Background(), func(struct{}) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	var order []int
	var orderMu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = mu.Lock(context.Background(), func(struct{}) error {
				orderMu.Lock()
				order = append(order, i)
				orderMu.Unlock()
				return nil
			})
		}(i)

		// Wait until waiter i is queued before starting the next one.
		waitForCount(t, mu, i+2)
	}

	close(release)
	wg.Wait()

	for i, v := range order {
		if v != i {
			t.Fatalf("expected FIFO order, got %v", order)
		}
	}
}

func TestMutex_ReleasesOnError(t *testing.T) {
	mu := NewMutex(struct{}{})
	errBoom := errors.New("boom")

	err := mu.Lock(context.Background(), func(struct{}) error { return errBoom })
	if !errors.Is(err, errBoom) {
		t.Fatalf("expected callback error, got %v", err)
	}
	if mu.Locked() {
		t.Error("expected mutex to be released after error")
	}
}

func TestMutex_ReleasesOnPanic(t *testing.T) {
	mu := NewMutex(struct{}{})

	func() {
		defer func() { _ = recover() }()
		_ = mu.Lock(context.Background(), func(struct{}) error { panic("boom") })
	}()

	if mu.Locked() {
		t.Error("expected mutex to be released after panic")
	}
}

func TestMutex_Locked(t *testing.T) {
	mu := NewMutex("inner")
	if mu.Locked() {
		t.Fatal("new mutex should not be locked")
	}

	held := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})

	go func() {
		defer close(done)
		_ = mu.Lock(context.Background(), func(v string) error {
			if v != "inner" {
				t.Errorf("expected inner value, got %q", v)
			}
			close(held)
			<-release
			return nil
		})
	}()

	<-held
	if !mu.Locked() {
		t.Error("expected mutex to be locked while held")
	}
	close(release)
	<-done

	if mu.Locked() {
		t.Error("expected mutex to be unlocked after release")
	}
}

func TestMutex_CancelWhileWaiting(t *testing.T) {
	mu := NewMutex(struct{}{})
	held := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})

	go func() {
		defer close(done)
		_ = mu.Lock(context.Background(), func(struct{}) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	ran := false
	err := mu.Lock(ctx, func(struct{}) error {
		ran = true
		return nil
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if ran {
		t.Error("callback must not run after cancellation")
	}
	if got := mu.Count(); got != 1 {
		t.Errorf("expected cancelled waiter to leave the queue, count=%d", got)
	}

	close(release)
	<-done

	// The mutex must still be usable.
	if err := mu.Lock(context.Background(), func(struct{}) error { return nil }); err != nil {
		t.Fatalf("lock after cancellation failed: %v", err)
	}
}

func TestMutex_TryLock(t *testing.T) {
	mu := NewMutex(struct{}{})

	ran, err := mu.TryLock(func(struct{}) error { return nil })
	if !ran || err != nil {
		t.Fatalf("expected TryLock to run on a free mutex, ran=%v err=%v", ran, err)
	}

	held := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = mu.Lock(context.Background(), func(struct{}) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	ran, _ = mu.TryLock(func(struct{}) error { return nil })
	if ran {
		t.Error("expected TryLock to fail on a held mutex")
	}
	close(release)
	<-done
}

func TestNew_InvalidSize(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for size 0")
		}
	}()
	New(struct{}{}, 0)
}

func waitForCount[T any](t *testing.T, s *Semaphore[T], want int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for s.Count() < want {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for count %d (have %d)", want, s.Count())
		}
		time.Sleep(time.Millisecond)
	}
}
