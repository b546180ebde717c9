// Package region dispatches work onto world partitions.
//
// Each partition is single-threaded for the entities and locations it owns.
// One global partition serializes cross-cutting work and an async pool runs
// work that never touches the world. A task must not call synchronously into
// state owned by another partition; it resubmits through the Scheduler instead.
package region

import (
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/kingdoms/afterlife/internal/world"
)

// Entity is anything the scheduler can route by its current location.
// world.Player satisfies it.
type Entity interface {
	Location() world.Location
}

// Task is one unit of scheduled work.
type Task func(r *Run)

// Scheduler is the partitioned executor every component submits to.
type Scheduler interface {
	// OnEntity runs task on the partition owning e. The partition is
	// re-resolved from e's location on every execution.
	OnEntity(e Entity, task Task, opts ...Option) *Handle
	// AtLocation runs task on the partition owning loc.
	AtLocation(loc world.Location, task Task, opts ...Option) *Handle
	Global(task Task, opts ...Option) *Handle
	Async(task Task, opts ...Option) *Handle

	// Teleport moves p asynchronously. Effects that depend on the move
	// belong in Future.Then.
	Teleport(p world.Player, dest world.Location) *Future

	Now() time.Time
}

type options struct {
	delay  time.Duration
	period time.Duration
}

// Option configures a submission.
type Option func(*options)

// Delay postpones the first execution.
func Delay(d time.Duration) Option { return func(o *options) { o.delay = d } }

// Every repeats the task with d between the end of one run and the next
// until its Handle is cancelled.
func Every(d time.Duration) Option { return func(o *options) { o.period = d } }

func collect(opts []Option) options {
	var o options
	for _, fn := range opts {
		fn(&o)
	}
	if o.delay < 0 {
		o.delay = 0
	}
	if o.period < 0 {
		o.period = 0
	}
	return o
}

// Handle controls a submitted task. Cancel is the only way a repeating task stops.
type Handle struct {
	cancelled atomic.Bool

	mu    sync.Mutex
	timer *time.Timer
}

// Cancel stops future executions. A run already in flight completes.
func (h *Handle) Cancel() {
	if h == nil {
		return
	}
	h.cancelled.Store(true)
	h.mu.Lock()
	if h.timer != nil {
		h.timer.Stop()
		h.timer = nil
	}
	h.mu.Unlock()
}

// Cancelled reports whether Cancel was called.
func (h *Handle) Cancelled() bool { return h == nil || h.cancelled.Load() }

func (h *Handle) setTimer(t *time.Timer) {
	h.mu.Lock()
	if h.cancelled.Load() {
		t.Stop()
	} else {
		h.timer = t
	}
	h.mu.Unlock()
}

// Run is the execution context handed to a task.
type Run struct {
	handle *Handle
	key    Key
	owned  bool // false on the global and async partitions
	part   Partitioner
}

// Cancel stops the task that is currently running.
func (r *Run) Cancel() { r.handle.Cancel() }

// Owns reports whether this run executes on the partition owning loc.
func (r *Run) Owns(loc world.Location) bool {
	return r.owned && loc.Valid() && r.part.Key(loc) == r.key
}

// Partition returns the key of the partition executing the run.
func (r *Run) Partition() (Key, bool) { return r.key, r.owned }

// execute runs task with panics recovered, so one bad task can't take down a partition.
func execute(log *zap.Logger, run *Run, task Task) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error("排程任務 panic",
				zap.Any("panic", rec),
				zap.String("partition", run.key.String()),
				zap.ByteString("stack", debug.Stack()))
		}
	}()
	task(run)
}
