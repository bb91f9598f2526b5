package publish

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// Throttle caps concurrent calls to a registry with a fixed window of
// slots. Once every slot is busy, callers queue in arrival order. A slot is
// handed to the next caller only after a minimum delay measured from the
// moment its previous occupant finished.
//
// A nil Throttle, or one of size zero, runs calls unthrottled.
type Throttle struct {
	size  int
	delay time.Duration

	mu      sync.Mutex
	free    []*slot
	waiters *list.List // of *waiter, front is next in line
}

type slot struct {
	lastDone time.Time
}

type waiter struct {
	ch      chan *slot
	granted bool
}

// NewThrottle returns a throttle with size concurrent slots.
func NewThrottle(size int, delay time.Duration) *Throttle {
	size = max(size, 0)
	t := &Throttle{size: size, delay: delay, waiters: list.New()}
	for range size {
		t.free = append(t.free, &slot{})
	}
	return t
}

// Do runs fn in a slot. Cancellation while queued or waiting out the delay
// returns ctx.Err() without running fn.
func (t *Throttle) Do(ctx context.Context, fn func(context.Context) error) error {
	if t == nil || t.size == 0 {
		return fn(ctx)
	}

	s, err := t.acquire(ctx)
	if err != nil {
		return err
	}
	defer t.release(s)

	if !s.lastDone.IsZero() {
		if wait := time.Until(s.lastDone.Add(t.delay)); wait > 0 {
			timer := time.NewTimer(wait)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-timer.C:
			}
		}
	}
	return fn(ctx)
}

func (t *Throttle) acquire(ctx context.Context) (*slot, error) {
	t.mu.Lock()
	if len(t.free) > 0 {
		s := t.free[0]
		t.free = t.free[1:]
		t.mu.Unlock()
		return s, nil
	}
	w := &waiter{ch: make(chan *slot, 1)}
	elem := t.waiters.PushBack(w)
	t.mu.Unlock()

	select {
	case s := <-w.ch:
		return s, nil
	case <-ctx.Done():
		t.mu.Lock()
		granted := w.granted
		if !granted {
			t.waiters.Remove(elem)
		}
		t.mu.Unlock()
		if granted {
			// A slot was handed over concurrently with cancellation.
			t.release(<-w.ch)
		}
		return nil, ctx.Err()
	}
}

func (t *Throttle) release(s *slot) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s.lastDone = time.Now()
	if front := t.waiters.Front(); front != nil {
		w := t.waiters.Remove(front).(*waiter)
		w.granted = true
		w.ch <- s
		return
	}
	t.free = append(t.free, s)
}
