package event

import (
	"reflect"
	"sort"
	"sync"
)

// Priority orders subscribers of one event type. Lower runs first;
// Monitor handlers observe the final outcome and must not change it.
type Priority int

const (
	PriorityLowest Priority = iota
	PriorityLow
	PriorityNormal
	PriorityHigh
	PriorityHighest
	PriorityMonitor
)

// Outcome is the mutable result a handler may set instead of unwinding.
// Embed it in cancellable events.
type Outcome struct {
	cancelled bool
}

func (o *Outcome) Cancel()             { o.cancelled = true }
func (o *Outcome) SetCancelled(v bool) { o.cancelled = v }
func (o *Outcome) Cancelled() bool     { return o.cancelled }
func (o *Outcome) outcome() *Outcome   { return o }

type cancellable interface{ outcome() *Outcome }

type entry struct {
	prio    Priority
	seq     int
	fn      any
	skipped bool // skip cancelled events
}

// Bus delivers host events synchronously on the caller's partition.
// Handlers for one type run in priority order, then registration order.
type Bus struct {
	mu       sync.RWMutex
	seq      int
	handlers map[reflect.Type][]entry
}

func NewBus() *Bus {
	return &Bus{handlers: make(map[reflect.Type][]entry)}
}

func (b *Bus) add(t reflect.Type, e entry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	e.seq = b.seq
	hs := append(append([]entry(nil), b.handlers[t]...), e)
	sort.SliceStable(hs, func(i, j int) bool {
		if hs[i].prio != hs[j].prio {
			return hs[i].prio < hs[j].prio
		}
		return hs[i].seq < hs[j].seq
	})
	b.handlers[t] = hs
}

// Subscribe registers a typed handler for events of type T.
func Subscribe[T any](b *Bus, prio Priority, fn func(*T)) {
	b.add(reflect.TypeOf((*T)(nil)).Elem(), entry{prio: prio, fn: fn})
}

// SubscribeActive is Subscribe for handlers that ignore already-cancelled events.
func SubscribeActive[T any](b *Bus, prio Priority, fn func(*T)) {
	b.add(reflect.TypeOf((*T)(nil)).Elem(), entry{prio: prio, fn: fn, skipped: true})
}

// Dispatch delivers ev to every subscriber and returns it so the host can
// read the outcome.
func Dispatch[T any](b *Bus, ev *T) *T {
	t := reflect.TypeOf((*T)(nil)).Elem()
	b.mu.RLock()
	hs := b.handlers[t]
	b.mu.RUnlock()

	c, _ := any(ev).(cancellable)
	for _, h := range hs {
		if h.skipped && c != nil && c.outcome().Cancelled() {
			continue
		}
		h.fn.(func(*T))(ev)
	}
	return ev
}
