package core

import (
	"context"
	"fmt"
	"sync"
)

const DefaultConcurrency = 3

// Scheduler runs tasks on a fixed number of workers. Tasks start in
// submission order; the queue is unbounded.
type Scheduler struct {
	mu      sync.Mutex
	cond    *sync.Cond
	queue   []func()
	workers int
	running int
	stopped bool
	wg      sync.WaitGroup
}

func NewScheduler(workers int) *Scheduler {
	if workers < 1 {
		workers = DefaultConcurrency
	}
	s := &Scheduler{workers: workers}
	s.cond = sync.NewCond(&s.mu)

	for i := 0; i < workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
	return s
}

func (s *Scheduler) worker() {
	defer s.wg.Done()

	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.stopped {
			s.cond.Wait()
		}
		if len(s.queue) == 0 {
			s.mu.Unlock()
			return
		}
		run := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		s.running++
		s.mu.Unlock()

		run()

		s.mu.Lock()
		s.running--
		s.mu.Unlock()
	}
}

func (s *Scheduler) enqueue(run func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrSchedulerStopped
	}
	s.queue = append(s.queue, run)
	s.cond.Signal()
	return nil
}

// Stop refuses new tasks, lets queued ones finish and waits for the workers.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.cond.Broadcast()
	s.mu.Unlock()

	s.wg.Wait()
}

func (s *Scheduler) Workers() int { return s.workers }

func (s *Scheduler) Stats() (running, queued int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running, len(s.queue)
}

type Future[T any] struct {
	done  chan struct{}
	value T
	err   error
}

func (f *Future[T]) Done() <-chan struct{} { return f.done }

func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Submit queues task on s. A failing or panicking task only affects its own
// future. The task keeps ctx's values but not its cancellation: once queued it
// runs to completion, and only Wait gives up early.
func Submit[T any](ctx context.Context, s *Scheduler, task func(context.Context) (T, error)) *Future[T] {
	f := &Future[T]{done: make(chan struct{})}
	ctx = context.WithoutCancel(ctx)

	err := s.enqueue(func() {
		defer close(f.done)
		defer func() {
			if r := recover(); r != nil {
				f.err = fmt.Errorf("task panicked: %v", r)
			}
		}()
		f.value, f.err = task(ctx)
	})
	if err != nil {
		f.err = err
		close(f.done)
	}
	return f
}
