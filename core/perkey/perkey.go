// Package perkey runs work in per-key lanes. Jobs submitted for one key run
// one at a time in submission order; jobs for different keys run in parallel.
//
// The projection feeder keys lanes by projector name, so every projection
// actor sees its batches strictly in dispatch order while independent
// projections fold concurrently.
//
// A lane lives only while it has queued jobs: its goroutine exits as soon as
// the queue drains, so schedulers keyed by many short-lived keys do not
// accumulate idle workers.
package perkey

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrClosed is returned by Do once Close has been called.
var ErrClosed = errors.New("perkey: scheduler closed")

// Job is one unit of work. It receives the context of the Do call that
// submitted it.
type Job func(ctx context.Context) error

type Scheduler[K comparable] struct {
	mu     sync.Mutex
	lanes  map[K]*lane
	closed bool
	active sync.WaitGroup
}

type lane struct {
	queue []*pending // guarded by Scheduler.mu
}

type pending struct {
	ctx  context.Context
	job  Job
	done chan error
}

func New[K comparable]() *Scheduler[K] {
	return &Scheduler[K]{lanes: map[K]*lane{}}
}

// Do queues job on the lane of key and waits for its result. When ctx ends
// first, Do returns ctx.Err() and the job is skipped if it has not started.
func (s *Scheduler[K]) Do(ctx context.Context, key K, job Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p := &pending{ctx: ctx, job: job, done: make(chan error, 1)}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	l, running := s.lanes[key]
	if !running {
		l = &lane{}
		s.lanes[key] = l
		s.active.Add(1)
	}
	l.queue = append(l.queue, p)
	s.mu.Unlock()

	if !running {
		go s.drain(key, l)
	}

	select {
	case err := <-p.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Lanes reports how many keys currently have queued or running jobs.
func (s *Scheduler[K]) Lanes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.lanes)
}

// Close rejects new jobs and waits until every queued job has finished.
func (s *Scheduler[K]) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.active.Wait()
}

func (s *Scheduler[K]) drain(key K, l *lane) {
	defer s.active.Done()
	for {
		s.mu.Lock()
		if len(l.queue) == 0 {
			delete(s.lanes, key)
			s.mu.Unlock()
			return
		}
		p := l.queue[0]
		l.queue[0] = nil
		l.queue = l.queue[1:]
		s.mu.Unlock()

		p.done <- run(p)
	}
}

func run(p *pending) (err error) {
	if err := p.ctx.Err(); err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("perkey: job panicked: %v", r)
		}
	}()
	return p.job(p.ctx)
}
