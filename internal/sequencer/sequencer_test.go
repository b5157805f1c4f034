package sequencer

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func waitAll(t *testing.T, s *Sequencer) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Wait(ctx); err != nil {
		t.Fatalf("Wait() = %v", err)
	}
}

// TestEnqueue_SameKeyRunsInOrder enqueues tasks whose durations shrink, so an
// unordered runner would finish them in reverse.
func TestEnqueue_SameKeyRunsInOrder(t *testing.T) {
	s := New()

	var (
		mu    sync.Mutex
		order []int
	)
	for i := 0; i < 5; i++ {
		i := i
		s.Enqueue(context.Background(), "t1:+100", func(ctx context.Context) error {
			time.Sleep(time.Duration(5-i) * 5 * time.Millisecond)
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return nil
		})
	}
	waitAll(t, s)

	for i, got := range order {
		if got != i {
			t.Fatalf("execution order = %v, want 0..4 ascending", order)
		}
	}
}

func TestEnqueue_SameKeyNeverOverlaps(t *testing.T) {
	s := New()

	var running, maxRunning int32
	for i := 0; i < 20; i++ {
		s.Enqueue(context.Background(), "k", func(ctx context.Context) error {
			n := atomic.AddInt32(&running, 1)
			for {
				m := atomic.LoadInt32(&maxRunning)
				if n <= m || atomic.CompareAndSwapInt32(&maxRunning, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&running, -1)
			return nil
		})
	}
	waitAll(t, s)

	if maxRunning != 1 {
		t.Errorf("max concurrent tasks for one key = %d, want 1", maxRunning)
	}
}

// TestEnqueue_DistinctKeysRunConcurrently only passes if both tasks are in
// flight at the same time.
func TestEnqueue_DistinctKeysRunConcurrently(t *testing.T) {
	s := New()

	aStarted := make(chan struct{})
	bStarted := make(chan struct{})

	ha := s.Enqueue(context.Background(), "a", func(ctx context.Context) error {
		close(aStarted)
		select {
		case <-bStarted:
			return nil
		case <-time.After(2 * time.Second):
			return errors.New("b never started while a was running")
		}
	})
	hb := s.Enqueue(context.Background(), "b", func(ctx context.Context) error {
		close(bStarted)
		select {
		case <-aStarted:
			return nil
		case <-time.After(2 * time.Second):
			return errors.New("a never started while b was running")
		}
	})
	waitAll(t, s)

	if err := ha.Err(); err != nil {
		t.Error(err)
	}
	if err := hb.Err(); err != nil {
		t.Error(err)
	}
}

func TestEnqueue_FailingPredecessorDoesNotBlock(t *testing.T) {
	s := New()

	first := s.Enqueue(context.Background(), "k", func(ctx context.Context) error {
		return errors.New("boom")
	})
	ran := false
	second := s.Enqueue(context.Background(), "k", func(ctx context.Context) error {
		ran = true
		return nil
	})
	waitAll(t, s)

	if err := first.Err(); err == nil || err.Error() != "boom" {
		t.Errorf("first.Err() = %v, want boom", err)
	}
	if !ran {
		t.Error("successor of a failed task never ran")
	}
	if err := second.Err(); err != nil {
		t.Errorf("second.Err() = %v, want nil", err)
	}
}

func TestEnqueue_PanicBecomesError(t *testing.T) {
	s := New()

	h := s.Enqueue(context.Background(), "k", func(ctx context.Context) error {
		panic("kaput")
	})
	next := s.Enqueue(context.Background(), "k", func(ctx context.Context) error { return nil })
	waitAll(t, s)

	if err := h.Err(); err == nil || !strings.Contains(err.Error(), "kaput") {
		t.Errorf("Err() = %v, want panic error", err)
	}
	if err := next.Err(); err != nil {
		t.Errorf("task after panic: Err() = %v", err)
	}
}

func TestEnqueue_KeyRemovedAfterSettle(t *testing.T) {
	s := New()

	release := make(chan struct{})
	h1 := s.Enqueue(context.Background(), "k", func(ctx context.Context) error {
		<-release
		return nil
	})
	h2 := s.Enqueue(context.Background(), "k", func(ctx context.Context) error { return nil })

	if got := s.Len(); got != 1 {
		t.Errorf("Len() while pending = %d, want 1", got)
	}

	close(release)
	<-h1.Done()
	<-h2.Done()

	if s.Pending("k") {
		t.Error("key still tracked after its last task settled")
	}
	if got := s.Len(); got != 0 {
		t.Errorf("Len() = %d, want 0", got)
	}
}

func TestHandle_WaitHonoursContext(t *testing.T) {
	s := New()

	release := make(chan struct{})
	h := s.Enqueue(context.Background(), "k", func(ctx context.Context) error {
		<-release
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := h.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait() = %v, want deadline exceeded", err)
	}

	close(release)
	if err := h.Wait(context.Background()); err != nil {
		t.Errorf("Wait() after release = %v", err)
	}
}

func TestClose_RefusesNewTasks(t *testing.T) {
	s := New()

	release := make(chan struct{})
	var ran atomic.Bool
	running := s.Enqueue(context.Background(), "k", func(ctx context.Context) error {
		<-release
		return nil
	})

	closed := make(chan error, 1)
	go func() { closed <- s.Close(context.Background()) }()

	// Close must refuse new work even while it waits for running tasks.
	deadline := time.Now().Add(time.Second)
	var late *Handle
	for time.Now().Before(deadline) {
		late = s.Enqueue(context.Background(), "k", func(ctx context.Context) error {
			ran.Store(true)
			return nil
		})
		if errors.Is(late.Err(), ErrClosed) {
			break
		}
		time.Sleep(time.Millisecond)
	}
	if !errors.Is(late.Err(), ErrClosed) {
		t.Fatalf("Enqueue after Close: Err() = %v, want ErrClosed", late.Err())
	}
	select {
	case <-late.Done():
	default:
		t.Error("refused handle is not settled")
	}

	close(release)
	if err := <-closed; err != nil {
		t.Errorf("Close() = %v", err)
	}
	if err := running.Err(); err != nil {
		t.Errorf("running task Err() = %v, want nil", err)
	}
	ran.Store(false)
	if h := s.Enqueue(context.Background(), "k", func(ctx context.Context) error {
		ran.Store(true)
		return nil
	}); !errors.Is(h.Err(), ErrClosed) {
		t.Errorf("Enqueue after Close returned = %v, want ErrClosed", h.Err())
	}
	if ran.Load() {
		t.Error("task enqueued after Close ran")
	}
}
