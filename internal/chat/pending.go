package chat

import (
	"context"
	"time"
)

// Pending is the handle of a background persistence task. A nil *Pending is
// already complete.
type Pending struct {
	done chan struct{}
	err  error
}

// Wait blocks until the task finishes and returns its error, or returns
// ctx.Err() if ctx is done first. The task keeps running in that case.
func (p *Pending) Wait(ctx context.Context) error {
	if p == nil {
		return nil
	}
	select {
	case <-p.done:
		return p.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done returns a channel that is closed once the task has finished.
func (p *Pending) Done() <-chan struct{} {
	if p == nil {
		c := make(chan struct{})
		close(c)
		return c
	}
	return p.done
}

// submit runs fn in the background, bounded by the write semaphore. op
// labels the task in logs and metrics. The task is not tied to any caller
// context so that a cancelled request cannot abandon a half-written chat.
func (s *Store) submit(op string, fn func(ctx context.Context) error) *Pending {
	p := &Pending{done: make(chan struct{})}
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		defer close(p.done)

		ctx := context.Background()
		if err := s.writes.Acquire(ctx, 1); err != nil {
			p.err = err
			return
		}
		defer s.writes.Release(1)

		start := time.Now()
		err := fn(ctx)
		s.metrics.RecordPersistence(ctx, op, time.Since(start), err)
		if err != nil {
			s.logger.Error("chat store: persistence failed", "op", op, "err", err)
		}
		p.err = err
	}()
	return p
}

// saveTask snapshots the chat at pos for a background save. Must be called
// with s.mu held.
func (s *Store) saveTaskLocked(pos int) func(ctx context.Context) error {
	p := s.persist
	c := s.chats[pos].Clone()
	return func(ctx context.Context) error { return p.SaveChat(ctx, c) }
}
