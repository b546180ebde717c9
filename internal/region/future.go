package region

import (
	"context"
	"sync"

	"github.com/kingdoms/afterlife/internal/world"
)

// Future is the pending result of a teleport.
type Future struct {
	sched  Scheduler
	entity Entity

	mu    sync.Mutex
	done  chan struct{}
	ok    bool
	thens []func(bool)
}

func newFuture(s Scheduler, e Entity) *Future {
	return &Future{sched: s, entity: e, done: make(chan struct{})}
}

func (f *Future) resolve(ok bool) {
	f.mu.Lock()
	select {
	case <-f.done:
		f.mu.Unlock()
		return
	default:
	}
	f.ok = ok
	close(f.done)
	thens := f.thens
	f.thens = nil
	f.mu.Unlock()

	for _, fn := range thens {
		f.dispatch(fn, ok)
	}
}

func (f *Future) dispatch(fn func(bool), ok bool) {
	f.sched.OnEntity(f.entity, func(*Run) { fn(ok) })
}

// Then runs fn on the entity's partition once the teleport finishes.
func (f *Future) Then(fn func(ok bool)) {
	f.mu.Lock()
	select {
	case <-f.done:
		ok := f.ok
		f.mu.Unlock()
		f.dispatch(fn, ok)
		return
	default:
	}
	f.thens = append(f.thens, fn)
	f.mu.Unlock()
}

// Wait blocks until the teleport finishes or ctx is done. Never call it
// from inside a partition task.
func (f *Future) Wait(ctx context.Context) (bool, error) {
	select {
	case <-f.done:
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.ok, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// Done reports whether the teleport has finished.
func (f *Future) Done() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

func teleport(s Scheduler, p world.Player, dest world.Location) *Future {
	f := newFuture(s, p)
	if !dest.Valid() {
		f.resolve(false)
		return f
	}
	s.Async(func(*Run) { f.resolve(p.Teleport(dest)) })
	return f
}
