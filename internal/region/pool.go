package region

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kingdoms/afterlife/internal/world"
)

// idleTimeout is how long a partition worker waits for work before it
// retires.
const idleTimeout = 30 * time.Second

// worker is one partition: a goroutine draining an unbounded FIFO. A
// closed worker accepts nothing more, either because the pool closed or
// because it retired while idle.
type worker struct {
	key    Key
	mu     sync.Mutex
	queue  []func()
	wake   chan struct{}
	closed bool
}

func newWorker(k Key) *worker {
	return &worker{key: k, wake: make(chan struct{}, 1)}
}

func (w *worker) push(fn func()) bool {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return false
	}
	w.queue = append(w.queue, fn)
	w.mu.Unlock()
	select {
	case w.wake <- struct{}{}:
	default:
	}
	return true
}

// loop drains w until it is closed. With a retire func and a positive
// idle, it offers to exit after each idle period with an empty queue.
func (w *worker) loop(wg *sync.WaitGroup, idle time.Duration, retire func(*worker) bool) {
	defer wg.Done()
	for {
		w.mu.Lock()
		batch := w.queue
		w.queue = nil
		closed := w.closed
		w.mu.Unlock()

		for _, fn := range batch {
			fn()
		}
		if len(batch) > 0 {
			continue
		}
		if closed {
			return
		}
		if retire == nil || idle <= 0 {
			<-w.wake
			continue
		}
		t := time.NewTimer(idle)
		select {
		case <-w.wake:
			t.Stop()
		case <-t.C:
			if retire(w) {
				return
			}
		}
	}
}

func (w *worker) close() {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Pool is the production Scheduler: one goroutine per partition, created
// lazily, plus a global partition and an unordered async pool.
type Pool struct {
	log  *zap.Logger
	part Partitioner

	mu      sync.Mutex
	workers map[Key]*worker
	global  *worker
	closed  bool
	idle    time.Duration

	wg      sync.WaitGroup
	asyncWG sync.WaitGroup
}

// NewPool starts a scheduler with the given partition cell size.
func NewPool(log *zap.Logger, cellSize float64) *Pool {
	p := &Pool{
		log:     log,
		part:    NewPartitioner(cellSize),
		workers: make(map[Key]*worker),
		global:  newWorker(Key{}),
		idle:    idleTimeout,
	}
	p.wg.Add(1)
	go p.global.loop(&p.wg, 0, nil)
	return p
}

func (p *Pool) Now() time.Time { return time.Now() }

func (p *Pool) worker(k Key) *worker {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	w, ok := p.workers[k]
	if !ok {
		w = newWorker(k)
		p.workers[k] = w
		p.wg.Add(1)
		go w.loop(&p.wg, p.idle, p.retire)
	}
	return w
}

// retire deregisters an idle worker. It fails if work arrived in the
// meantime or the pool is closing, in which case the worker keeps running.
func (p *Pool) retire(w *worker) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed || len(w.queue) > 0 {
		return false
	}
	w.closed = true
	if p.workers[w.key] == w {
		delete(p.workers, w.key)
	}
	return true
}

// partitions reports how many partition workers are running.
func (p *Pool) partitions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}

func (p *Pool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// schedule wires delay and repetition around a submit function that
// places one execution on its partition.
func (p *Pool) schedule(o options, submit func(h *Handle, after func())) *Handle {
	h := &Handle{}
	var fire func()
	fire = func() {
		if h.Cancelled() || p.isClosed() {
			return
		}
		submit(h, func() {
			if o.period > 0 && !h.Cancelled() {
				h.setTimer(time.AfterFunc(o.period, fire))
			}
		})
	}
	if o.delay > 0 {
		h.setTimer(time.AfterFunc(o.delay, fire))
	} else {
		fire()
	}
	return h
}

func (p *Pool) onPartition(resolve func() (Key, bool), task Task, opts []Option) *Handle {
	return p.schedule(collect(opts), func(h *Handle, after func()) {
		key, owned := resolve()
		fn := func() {
			if h.Cancelled() {
				return
			}
			execute(p.log, &Run{handle: h, key: key, owned: owned, part: p.part}, task)
			after()
		}
		if !owned {
			p.global.push(fn)
			return
		}
		// A worker that retired between lookup and push refuses the task;
		// the next lookup starts a fresh one.
		for {
			w := p.worker(key)
			if w == nil || w.push(fn) {
				return
			}
		}
	})
}

func (p *Pool) OnEntity(e Entity, task Task, opts ...Option) *Handle {
	return p.onPartition(func() (Key, bool) {
		loc := e.Location()
		if !loc.Valid() {
			return Key{}, false
		}
		return p.part.Key(loc), true
	}, task, opts)
}

func (p *Pool) AtLocation(loc world.Location, task Task, opts ...Option) *Handle {
	key, owned := p.part.Key(loc), loc.Valid()
	return p.onPartition(func() (Key, bool) { return key, owned }, task, opts)
}

func (p *Pool) Global(task Task, opts ...Option) *Handle {
	return p.onPartition(func() (Key, bool) { return Key{}, false }, task, opts)
}

func (p *Pool) Async(task Task, opts ...Option) *Handle {
	return p.schedule(collect(opts), func(h *Handle, after func()) {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return
		}
		p.asyncWG.Add(1)
		p.mu.Unlock()
		go func() {
			defer p.asyncWG.Done()
			if h.Cancelled() {
				return
			}
			execute(p.log, &Run{handle: h, part: p.part}, task)
			after()
		}()
	})
}

func (p *Pool) Teleport(pl world.Player, dest world.Location) *Future {
	return teleport(p, pl, dest)
}

// Close stops accepting work, waits for in-flight async tasks and drains
// every partition queue. Pending timers are abandoned.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()
	p.asyncWG.Wait()

	p.mu.Lock()
	workers := make([]*worker, 0, len(p.workers)+1)
	workers = append(workers, p.global)
	for _, w := range p.workers {
		workers = append(workers, w)
	}
	p.mu.Unlock()

	for _, w := range workers {
		w.close()
	}
	p.wg.Wait()
}
