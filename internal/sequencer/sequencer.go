// Package sequencer runs background tasks in strict per-key order.
//
// Each key owns a "tail": the completion signal of the most recently enqueued
// task for that key. Enqueue swaps the tail under a mutex and starts a goroutine
// that waits for the previous tail before running the new task, so tasks with the
// same key never overlap and run in enqueue order, while tasks with different keys
// run fully concurrently. A predecessor's outcome is never inspected: only its
// completion is awaited, so a failing task cannot fault or block its successor.
package sequencer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrClosed is the result of a task enqueued after Close.
var ErrClosed = errors.New("sequencer: closed")

// Task is one unit of background work.
type Task func(ctx context.Context) error

// Handle tracks a single enqueued task.
type Handle struct {
	key  string
	done chan struct{}
	err  error
}

// Key returns the ordering key the task was enqueued under.
func (h *Handle) Key() string { return h.key }

// Done is closed once the task has settled (success, error or panic).
func (h *Handle) Done() <-chan struct{} { return h.done }

// Err returns the task's result. Only meaningful after Done is closed.
func (h *Handle) Err() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}

// Wait blocks until the task settles or ctx is done.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sequencer serializes tasks per key. The zero value is not usable; call New.
type Sequencer struct {
	mu     sync.Mutex
	tails  map[string]*Handle
	closed bool
	wg     sync.WaitGroup
}

// New creates an empty Sequencer.
func New() *Sequencer {
	return &Sequencer{tails: make(map[string]*Handle)}
}

// Enqueue schedules task to run after every task previously enqueued under key
// has settled. It never blocks on the task itself. After Close the task is not
// run and the returned handle is already settled with ErrClosed.
func (s *Sequencer) Enqueue(ctx context.Context, key string, task Task) *Handle {
	h := &Handle{key: key, done: make(chan struct{})}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		h.err = ErrClosed
		close(h.done)
		return h
	}
	prev := s.tails[key]
	s.tails[key] = h
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()

		if prev != nil {
			<-prev.done
		}

		h.err = run(ctx, key, task)

		// Drop the key before signalling, so anyone woken by Done observes the cleanup.
		s.mu.Lock()
		if s.tails[key] == h {
			delete(s.tails, key)
		}
		s.mu.Unlock()

		close(h.done)
	}()

	return h
}

// Len returns the number of keys with a pending or running task.
func (s *Sequencer) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tails)
}

// Pending reports whether key has a pending or running task.
func (s *Sequencer) Pending(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tails[key]
	return ok
}

// Wait blocks until every enqueued task has settled or ctx is done.
func (s *Sequencer) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close refuses further tasks and waits for the enqueued ones like Wait.
func (s *Sequencer) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return s.Wait(ctx)
}

func run(ctx context.Context, key string, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("sequencer: task panicked", "key", key, "panic", r)
			err = fmt.Errorf("sequencer: task panicked: %v", r)
		}
	}()
	return task(ctx)
}
