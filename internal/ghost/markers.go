package ghost

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/kingdoms/afterlife/internal/persist"
	"github.com/kingdoms/afterlife/internal/world"
)

// Marker records a death that was decided to become a ghost but has not
// been applied yet.
type Marker struct {
	KingdomID     string
	DeathLocation *world.Location
	BedSpawn      *world.Location
}

// Markers is the durable per-player side-table of pending transitions. It
// outlives the session that wrote it: a marker written before a disconnect
// is still there on reconnect and after a restart.
type Markers struct {
	m      sync.Map // uuid.UUID -> Marker
	writer *persist.Writer

	persistMu sync.Mutex
}

func NewMarkers(w *persist.Writer) *Markers {
	return &Markers{writer: w}
}

// Put stores mk for id, replacing an older marker.
func (ms *Markers) Put(id uuid.UUID, mk Marker) {
	ms.m.Store(id, mk)
	ms.persist()
}

// Take removes and returns the marker for id. Exactly one caller gets it.
func (ms *Markers) Take(id uuid.UUID) (Marker, bool) {
	v, ok := ms.m.LoadAndDelete(id)
	if !ok {
		return Marker{}, false
	}
	ms.persist()
	return v.(Marker), true
}

// Has reports whether id has a marker.
func (ms *Markers) Has(id uuid.UUID) bool {
	_, ok := ms.m.Load(id)
	return ok
}

func (ms *Markers) snapshot() []persist.PendingRecord {
	var out []persist.PendingRecord
	ms.m.Range(func(k, v any) bool {
		mk := v.(Marker)
		out = append(out, persist.PendingRecord{
			PlayerID:      k.(uuid.UUID),
			Kingdom:       mk.KingdomID,
			DeathLocation: mk.DeathLocation,
			BedSpawn:      mk.BedSpawn,
		})
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].PlayerID.String() < out[j].PlayerID.String() })
	return out
}

func (ms *Markers) persist() {
	ms.persistMu.Lock()
	defer ms.persistMu.Unlock()
	ms.writer.Pending(ms.snapshot())
}

// Load restores markers written before a restart.
func (ms *Markers) Load(ctx context.Context) (int, error) {
	recs, err := ms.writer.Store().LoadPending(ctx)
	if err != nil {
		return 0, fmt.Errorf("load pending markers: %w", err)
	}
	for _, r := range recs {
		ms.m.LoadOrStore(r.PlayerID, Marker{KingdomID: r.Kingdom, DeathLocation: r.DeathLocation, BedSpawn: r.BedSpawn})
	}
	return len(recs), nil
}

// Flush writes the current table synchronously.
func (ms *Markers) Flush(ctx context.Context) error {
	ms.persistMu.Lock()
	defer ms.persistMu.Unlock()
	return ms.writer.FlushPending(ctx, ms.snapshot())
}
