package automation

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestLockManager_ReserveAllOrNothing(t *testing.T) {
	m := NewLockManager()

	if !m.Reserve("L-01", "B-01") {
		t.Fatal("Reserve(L-01, B-01) = false on an empty set")
	}
	if m.Reserve("L-02", "B-01") {
		t.Error("Reserve(L-02, B-01) = true although B-01 is taken")
	}
	if m.IsReserved("L-02") {
		t.Error("partial reservation of L-02 was kept")
	}

	m.Release("L-01", "B-01", "never-reserved")
	if got := m.Reserved(); len(got) != 0 {
		t.Errorf("Reserved() = %v after release", got)
	}
}

func TestLockManager_WithUnreserved(t *testing.T) {
	m := NewLockManager()
	m.Reserve("L-01")

	called := false
	err := m.WithUnreserved("L-01", func() error { called = true; return nil })
	if !errors.Is(err, ErrParkReserved) {
		t.Errorf("WithUnreserved(reserved) error = %v, want ErrParkReserved", err)
	}
	if called {
		t.Error("fn ran for a reserved park")
	}

	wantErr := errors.New("delete failed")
	if err := m.WithUnreserved("L-02", func() error { return wantErr }); !errors.Is(err, wantErr) {
		t.Errorf("WithUnreserved(free) error = %v, want fn's error", err)
	}
}

func TestLockManager_WithUnreservedBlocksReserve(t *testing.T) {
	m := NewLockManager()

	entered := make(chan struct{})
	finish := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- m.WithUnreserved("L-01", func() error {
			close(entered)
			<-finish
			return nil
		})
	}()
	<-entered

	var reserved atomic.Bool
	claimed := make(chan struct{})
	go func() {
		reserved.Store(m.Reserve("L-01"))
		close(claimed)
	}()

	select {
	case <-claimed:
		t.Fatal("Reserve() returned while WithUnreserved was running")
	case <-time.After(50 * time.Millisecond):
	}

	close(finish)
	if err := <-done; err != nil {
		t.Fatalf("WithUnreserved() error = %v", err)
	}
	<-claimed
	if !reserved.Load() {
		t.Error("Reserve() after WithUnreserved = false, want true")
	}
}

func TestLockManager_ReservedSorted(t *testing.T) {
	m := NewLockManager()
	m.Reserve("c", "a")
	m.Reserve("b")

	if got := m.Reserved(); !equalStrings(got, []string{"a", "b", "c"}) {
		t.Errorf("Reserved() = %v, want [a b c]", got)
	}
}

func TestLockManager_MutualExclusion(t *testing.T) {
	m := NewLockManager()
	var holders, maxHolders atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := m.AcquireSelection(context.Background())
			if err != nil {
				t.Errorf("AcquireSelection() error = %v", err)
				return
			}
			defer release()

			n := holders.Add(1)
			for {
				cur := maxHolders.Load()
				if n <= cur || maxHolders.CompareAndSwap(cur, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			holders.Add(-1)
		}()
	}
	wg.Wait()

	if got := maxHolders.Load(); got != 1 {
		t.Errorf("max concurrent holders = %d, want 1", got)
	}
}

func TestLockManager_LocksAreIndependent(t *testing.T) {
	m := NewLockManager()
	releaseSel, err := m.AcquireSelection(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer releaseSel()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	releaseSub, err := m.AcquireSubmission(ctx)
	if err != nil {
		t.Fatalf("AcquireSubmission() blocked by the selection lock: %v", err)
	}
	releaseSub()
}

func TestLockManager_AcquireHonoursCancellation(t *testing.T) {
	m := NewLockManager()
	release, err := m.AcquireSubmission(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	noop, err := m.AcquireSubmission(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("AcquireSubmission() error = %v, want deadline exceeded", err)
	}
	noop() // must be safe to call

	release()
	release() // double release must not free a second slot

	r1, err := m.AcquireSubmission(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	ctx2, cancel2 := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel2()
	if _, err := m.AcquireSubmission(ctx2); err == nil {
		t.Error("second holder acquired the lock after a double release")
	}
	r1()
}

func TestLockManager_FIFO(t *testing.T) {
	m := NewLockManager()
	release, _ := m.AcquireSelection(context.Background())

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := m.AcquireSelection(context.Background())
			if err != nil {
				return
			}
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			r()
		}()
		// Let each waiter queue before the next arrives.
		time.Sleep(10 * time.Millisecond)
	}

	release()
	wg.Wait()

	if len(order) != 3 || order[0] != 0 || order[1] != 1 || order[2] != 2 {
		t.Errorf("acquisition order = %v, want [0 1 2]", order)
	}
}
