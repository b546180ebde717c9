package persist

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/kingdoms/afterlife/internal/region"
)

// Registry names one snapshot stream.
type Registry string

const (
	Ghosts      Registry = "ghosts"
	Altars      Registry = "altars"
	Immortality Registry = "immortality"
	Pending     Registry = "pending"
)

const writeTimeout = 10 * time.Second

type stream struct {
	issued atomic.Uint64

	mu      sync.Mutex // held across a save so two never interleave
	written uint64
}

// Writer submits snapshots to the async pool. Each registry has its own
// sequence; a snapshot older than the last one written is dropped, so
// out-of-order async execution never regresses what is on disk.
type Writer struct {
	store Store
	sched region.Scheduler
	log   *zap.Logger

	mu      sync.Mutex
	streams map[Registry]*stream
}

func NewWriter(store Store, sched region.Scheduler, log *zap.Logger) *Writer {
	return &Writer{
		store:   store,
		sched:   sched,
		log:     log,
		streams: make(map[Registry]*stream),
	}
}

// Store returns the underlying store.
func (w *Writer) Store() Store { return w.store }

func (w *Writer) stream(r Registry) *stream {
	w.mu.Lock()
	defer w.mu.Unlock()
	s, ok := w.streams[r]
	if !ok {
		s = &stream{}
		w.streams[r] = s
	}
	return s
}

func (w *Writer) next(r Registry) (*stream, uint64) {
	s := w.stream(r)
	return s, s.issued.Add(1)
}

func (w *Writer) apply(ctx context.Context, r Registry, s *stream, seq uint64, save func(context.Context) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq <= s.written {
		w.log.Debug("略過過期的快照", zap.String("registry", string(r)), zap.Uint64("seq", seq))
		return nil
	}
	if err := save(ctx); err != nil {
		w.log.Error("儲存快照失敗", zap.String("registry", string(r)), zap.Error(err))
		return err
	}
	s.written = seq
	return nil
}

// submit takes the sequence number now, on the caller's partition, and
// writes later on the async pool.
func (w *Writer) submit(r Registry, save func(context.Context) error) {
	s, seq := w.next(r)
	w.sched.Async(func(*region.Run) {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		_ = w.apply(ctx, r, s, seq, save)
	})
}

// sync writes immediately on the calling goroutine. Used for shutdown flush.
func (w *Writer) sync(ctx context.Context, r Registry, save func(context.Context) error) error {
	s, seq := w.next(r)
	return w.apply(ctx, r, s, seq, save)
}

func (w *Writer) Ghosts(recs []GhostRecord) {
	w.submit(Ghosts, func(ctx context.Context) error { return w.store.SaveGhosts(ctx, recs) })
}

func (w *Writer) Altars(recs []AltarRecord) {
	w.submit(Altars, func(ctx context.Context) error { return w.store.SaveAltars(ctx, recs) })
}

func (w *Writer) Immortality(recs []ImmortalityRecord) {
	w.submit(Immortality, func(ctx context.Context) error { return w.store.SaveImmortality(ctx, recs) })
}

func (w *Writer) Pending(recs []PendingRecord) {
	w.submit(Pending, func(ctx context.Context) error { return w.store.SavePending(ctx, recs) })
}

func (w *Writer) FlushGhosts(ctx context.Context, recs []GhostRecord) error {
	return w.sync(ctx, Ghosts, func(ctx context.Context) error { return w.store.SaveGhosts(ctx, recs) })
}

func (w *Writer) FlushAltars(ctx context.Context, recs []AltarRecord) error {
	return w.sync(ctx, Altars, func(ctx context.Context) error { return w.store.SaveAltars(ctx, recs) })
}

func (w *Writer) FlushImmortality(ctx context.Context, recs []ImmortalityRecord) error {
	return w.sync(ctx, Immortality, func(ctx context.Context) error { return w.store.SaveImmortality(ctx, recs) })
}

func (w *Writer) FlushPending(ctx context.Context, recs []PendingRecord) error {
	return w.sync(ctx, Pending, func(ctx context.Context) error { return w.store.SavePending(ctx, recs) })
}
