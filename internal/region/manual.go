package region

import (
	"container/heap"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kingdoms/afterlife/internal/world"
)

type pending struct {
	at  time.Time
	seq uint64
	fn  func()
}

type pendingHeap []*pending

func (h pendingHeap) Len() int { return len(h) }
func (h pendingHeap) Less(i, j int) bool {
	if h[i].at.Equal(h[j].at) {
		return h[i].seq < h[j].seq
	}
	return h[i].at.Before(h[j].at)
}
func (h pendingHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *pendingHeap) Push(x any)   { *h = append(*h, x.(*pending)) }
func (h *pendingHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	*h = old[:n-1]
	return it
}

// Manual is a Scheduler driven by a virtual clock. Nothing runs until the
// caller advances time, and everything runs on the caller's goroutine in
// (time, submission) order. Partition keys match Pool's, so Run.Owns
// behaves the same.
type Manual struct {
	log  *zap.Logger
	part Partitioner

	mu    sync.Mutex
	now   time.Time
	seq   uint64
	queue pendingHeap
}

// NewManual creates a virtual scheduler whose clock starts at start.
func NewManual(log *zap.Logger, start time.Time, cellSize float64) *Manual {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manual{log: log, part: NewPartitioner(cellSize), now: start}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Manual) enqueue(d time.Duration, fn func()) {
	m.mu.Lock()
	m.seq++
	heap.Push(&m.queue, &pending{at: m.now.Add(d), seq: m.seq, fn: fn})
	m.mu.Unlock()
}

// Pending returns the number of queued executions.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// Advance moves the clock forward by d, running every execution that falls
// due on the way, including ones those executions submit.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now.Add(d)
	m.mu.Unlock()
	for {
		m.mu.Lock()
		if len(m.queue) == 0 || m.queue[0].at.After(target) {
			m.now = target
			m.mu.Unlock()
			return
		}
		next := heap.Pop(&m.queue).(*pending)
		if next.at.After(m.now) {
			m.now = next.at
		}
		m.mu.Unlock()
		next.fn()
	}
}

// RunPending runs everything due at the current instant.
func (m *Manual) RunPending() { m.Advance(0) }

func (m *Manual) schedule(o options, resolve func() (Key, bool), task Task) *Handle {
	h := &Handle{}
	var fire func()
	fire = func() {
		if h.Cancelled() {
			return
		}
		key, owned := resolve()
		execute(m.log, &Run{handle: h, key: key, owned: owned, part: m.part}, task)
		if o.period > 0 && !h.Cancelled() {
			m.enqueue(o.period, fire)
		}
	}
	m.enqueue(o.delay, fire)
	return h
}

func (m *Manual) OnEntity(e Entity, task Task, opts ...Option) *Handle {
	return m.schedule(collect(opts), func() (Key, bool) {
		loc := e.Location()
		if !loc.Valid() {
			return Key{}, false
		}
		return m.part.Key(loc), true
	}, task)
}

func (m *Manual) AtLocation(loc world.Location, task Task, opts ...Option) *Handle {
	key, owned := m.part.Key(loc), loc.Valid()
	return m.schedule(collect(opts), func() (Key, bool) { return key, owned }, task)
}

func (m *Manual) Global(task Task, opts ...Option) *Handle {
	return m.schedule(collect(opts), func() (Key, bool) { return Key{}, false }, task)
}

func (m *Manual) Async(task Task, opts ...Option) *Handle {
	return m.schedule(collect(opts), func() (Key, bool) { return Key{}, false }, task)
}

func (m *Manual) Teleport(p world.Player, dest world.Location) *Future {
	return teleport(m, p, dest)
}
