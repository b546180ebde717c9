// Package altar owns kingdom altars and the paired world objects that make
// them visible and clickable.
package altar

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kingdoms/afterlife/internal/config"
	"github.com/kingdoms/afterlife/internal/core"
	"github.com/kingdoms/afterlife/internal/persist"
	"github.com/kingdoms/afterlife/internal/region"
	"github.com/kingdoms/afterlife/internal/world"
)

// ErrUnknownWorld is returned when an altar would be placed in a world the
// host has not loaded.
var ErrUnknownWorld = errors.New("altar world not loaded")

const (
	interactionOffset = 0.5
	particleCreate    = "enchant"
	soundCreate       = "block.beacon.activate"
)

// Altar is a read-only view of one altar.
type Altar struct {
	ID            uuid.UUID
	KingdomID     string
	Location      world.Location
	VisualID      uuid.UUID
	InteractionID uuid.UUID
}

// entry is the registry's mutable record. placement changes on every
// relocation and spawn tasks started for an older placement stop. loop
// changes whenever a decorative loop starts, so at most one keeps running.
type entry struct {
	id        uuid.UUID
	kingdomID string

	mu          sync.Mutex
	loc         world.Location
	visual      uuid.UUID
	interaction uuid.UUID
	placement   uint64
	loop        uint64
}

func (e *entry) view() Altar {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Altar{ID: e.id, KingdomID: e.kingdomID, Location: e.loc, VisualID: e.visual, InteractionID: e.interaction}
}

func (e *entry) current(gen uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.placement == gen
}

func (e *entry) currentLoop(gen, loop uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.placement == gen && e.loop == loop
}

func (e *entry) tags() map[string]string {
	return map[string]string{world.TagAltarID: e.id.String(), world.TagKingdom: e.kingdomID}
}

// Registry holds every altar, indexed by altar id and by interaction object id.
type Registry struct {
	cfg    config.AltarConfig
	log    *zap.Logger
	sched  region.Scheduler
	host   world.Host
	writer *persist.Writer

	altars        sync.Map // uuid.UUID -> *entry
	byInteraction sync.Map // object uuid.UUID -> altar uuid.UUID
	persistMu     sync.Mutex
}

func NewRegistry(d *core.Deps) *Registry {
	return &Registry{
		cfg:    d.Config.Altar,
		log:    d.Log.Named("altar"),
		sched:  d.Sched,
		host:   d.Host,
		writer: d.Writer,
	}
}

// ==================== 查詢 ====================

// Get returns the altar with id.
func (r *Registry) Get(id uuid.UUID) (Altar, bool) {
	e, ok := r.entry(id)
	if !ok {
		return Altar{}, false
	}
	return e.view(), true
}

func (r *Registry) entry(id uuid.UUID) (*entry, bool) {
	v, ok := r.altars.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*entry), true
}

// ByInteraction returns the altar whose interaction object is objID.
func (r *Registry) ByInteraction(objID uuid.UUID) (Altar, bool) {
	v, ok := r.byInteraction.Load(objID)
	if !ok {
		return Altar{}, false
	}
	return r.Get(v.(uuid.UUID))
}

// All returns every altar ordered by id.
func (r *Registry) All() []Altar {
	var out []Altar
	r.altars.Range(func(_, v any) bool {
		out = append(out, v.(*entry).view())
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out
}

// Of returns the altars of one kingdom ordered by id.
func (r *Registry) Of(kingdomID string) []Altar {
	var out []Altar
	for _, a := range r.All() {
		if a.KingdomID == kingdomID {
			out = append(out, a)
		}
	}
	return out
}

// Nearest returns the kingdom altar in from's world closest to from.
func (r *Registry) Nearest(kingdomID string, from world.Location) (Altar, bool) {
	var (
		best  Altar
		bestD float64
		found bool
	)
	for _, a := range r.Of(kingdomID) {
		if a.Location.World != from.World {
			continue
		}
		d := a.Location.DistanceSquared(from)
		if !found || d < bestD {
			best, bestD, found = a, d, true
		}
	}
	return best, found
}

// ==================== 建立與移除 ====================

// Create registers a new altar for kingdomID at loc. The world objects are
// spawned on the partition owning loc.
func (r *Registry) Create(kingdomID string, loc world.Location) (Altar, error) {
	if !r.host.WorldLoaded(loc.World) {
		return Altar{}, fmt.Errorf("create altar in %q: %w", loc.World, ErrUnknownWorld)
	}
	loc.Pitch = 0
	e := &entry{id: uuid.New(), kingdomID: kingdomID, loc: loc, placement: 1}
	r.altars.Store(e.id, e)
	r.place(e, loc, 1)
	r.persist()

	r.log.Info("祭壇已建立",
		zap.Stringer("altar", e.id), zap.String("kingdom", kingdomID), zap.Stringer("location", loc))
	return e.view(), nil
}

// Remove deletes the altar and despawns its objects.
func (r *Registry) Remove(id uuid.UUID) bool {
	v, ok := r.altars.LoadAndDelete(id)
	if !ok {
		r.log.Debug("祭壇不存在，略過移除", zap.Stringer("altar", id))
		return false
	}
	e := v.(*entry)
	e.mu.Lock()
	e.placement++
	loc, vis, inter := e.loc, e.visual, e.interaction
	e.visual, e.interaction = uuid.Nil, uuid.Nil
	e.mu.Unlock()

	r.byInteraction.Delete(inter)
	r.despawn(loc, vis, inter)
	r.persist()
	r.log.Info("祭壇已移除", zap.Stringer("altar", id))
	return true
}

// Relocate moves an altar, keeping its id and kingdom.
func (r *Registry) Relocate(id uuid.UUID, loc world.Location) (Altar, error) {
	e, ok := r.entry(id)
	if !ok {
		return Altar{}, fmt.Errorf("relocate altar %s: not found", id)
	}
	if !r.host.WorldLoaded(loc.World) {
		return Altar{}, fmt.Errorf("relocate altar %s to %q: %w", id, loc.World, ErrUnknownWorld)
	}
	loc.Pitch = 0

	e.mu.Lock()
	e.placement++
	gen := e.placement
	oldLoc, vis, inter := e.loc, e.visual, e.interaction
	e.loc = loc
	e.visual, e.interaction = uuid.Nil, uuid.Nil
	e.mu.Unlock()

	r.byInteraction.Delete(inter)
	r.despawn(oldLoc, vis, inter)
	r.place(e, loc, gen)
	r.persist()

	r.log.Info("祭壇已移動", zap.Stringer("altar", id), zap.Stringer("from", oldLoc), zap.Stringer("to", loc))
	return e.view(), nil
}

// place spawns both objects on the partition owning loc and starts the
// decorative loop for placement gen.
func (r *Registry) place(e *entry, loc world.Location, gen uint64) {
	r.sched.AtLocation(loc, func(*region.Run) {
		if !r.live(e, gen) {
			return
		}
		vis, err := r.host.Spawn(loc, world.ObjectVisual, e.tags())
		if err != nil {
			r.log.Error("祭壇外觀生成失敗", zap.Stringer("altar", e.id), zap.Error(err))
			return
		}
		inter, err := r.host.Spawn(loc.Add(0, interactionOffset, 0), world.ObjectInteraction, e.tags())
		if err != nil {
			r.host.Despawn(vis)
			r.log.Error("祭壇互動物件生成失敗", zap.Stringer("altar", e.id), zap.Error(err))
			return
		}

		e.mu.Lock()
		stale := e.placement != gen
		if !stale {
			e.visual, e.interaction = vis, inter
		}
		e.mu.Unlock()
		if stale || !r.present(e) {
			// Relocated or removed while spawning.
			r.host.Despawn(vis)
			r.host.Despawn(inter)
			return
		}
		r.byInteraction.Store(inter, e.id)
		r.persist()

		r.host.Particles(loc.Add(0.5, 1.5, 0.5), particleCreate, 50)
		r.host.Sound(loc, soundCreate)
	})
	r.startDecor(e)
}

func (r *Registry) despawn(loc world.Location, ids ...uuid.UUID) {
	r.sched.AtLocation(loc, func(*region.Run) {
		for _, id := range ids {
			if id != uuid.Nil {
				r.host.Despawn(id)
			}
		}
	})
}

func (r *Registry) present(e *entry) bool {
	cur, ok := r.entry(e.id)
	return ok && cur == e
}

func (r *Registry) live(e *entry, gen uint64) bool {
	return r.present(e) && e.current(gen)
}

// startDecor runs the particle loop above the altar until it is removed,
// moved, or a newer loop replaces this one.
func (r *Registry) startDecor(e *entry) {
	e.mu.Lock()
	e.loop++
	gen, loop, loc := e.placement, e.loop, e.loc
	e.mu.Unlock()

	at := loc.Add(0, r.cfg.EffectHeight, 0)
	r.sched.AtLocation(at, func(run *region.Run) {
		if !r.present(e) || !e.currentLoop(gen, loop) {
			run.Cancel()
			return
		}
		r.host.Particles(at.Add(0, 0.3, 0), r.cfg.Particle, 5)
	}, region.Every(r.cfg.EffectInterval))
}

// ==================== 重啟校正 ====================

// ScheduleReconcile runs Reconcile once on the global partition after the
// configured delay, giving the host time to load world objects.
func (r *Registry) ScheduleReconcile() *region.Handle {
	return r.sched.Global(func(*region.Run) { r.Reconcile() }, region.Delay(r.cfg.ReconcileDelay))
}

type found struct {
	visual      []world.Object
	interaction []world.Object
}

// Reconcile links loaded altars to the tagged objects present in the
// world. Each altar keeps at most one object of each kind, preferring the
// persisted id; extra copies are despawned. Objects that are missing stay
// missing until the host loads them. Every altar gets a fresh decorative
// loop.
func (r *Registry) Reconcile() {
	byAltar := make(map[uuid.UUID]*found)
	for _, w := range r.host.Worlds() {
		for _, obj := range r.host.Objects(w) {
			raw, ok := obj.Tags[world.TagAltarID]
			if !ok {
				continue
			}
			id, err := uuid.Parse(raw)
			if err != nil {
				r.log.Warn("物件上的祭壇 ID 無效", zap.Stringer("object", obj.ID), zap.String("value", raw))
				continue
			}
			f := byAltar[id]
			if f == nil {
				f = &found{}
				byAltar[id] = f
			}
			if obj.Kind == world.ObjectInteraction {
				f.interaction = append(f.interaction, obj)
			} else {
				f.visual = append(f.visual, obj)
			}
		}
	}

	linked := 0
	r.altars.Range(func(_, v any) bool {
		e := v.(*entry)
		f := byAltar[e.id]
		delete(byAltar, e.id)
		if f == nil {
			f = &found{}
		}

		e.mu.Lock()
		vis, extraVis := pick(f.visual, e.visual)
		inter, extraInter := pick(f.interaction, e.interaction)
		if vis != uuid.Nil {
			e.visual = vis
		}
		if inter != uuid.Nil {
			if e.interaction != inter {
				r.byInteraction.Delete(e.interaction)
			}
			e.interaction = inter
		}
		e.mu.Unlock()

		if inter != uuid.Nil {
			r.byInteraction.Store(inter, e.id)
			linked++
		}
		for _, obj := range append(extraVis, extraInter...) {
			r.log.Debug("移除重複的祭壇物件", zap.Stringer("altar", e.id), zap.Stringer("object", obj.ID))
			r.despawn(obj.Location, obj.ID)
		}
		r.startDecor(e)
		return true
	})

	for id, f := range byAltar {
		r.log.Debug("世界中有未登記祭壇的物件",
			zap.Stringer("altar", id), zap.Int("objects", len(f.visual)+len(f.interaction)))
	}
	r.persist()
	r.log.Info("祭壇物件校正完成", zap.Int("linked", linked))
}

// pick keeps the object whose id is want, or the first one, and returns the
// rest as extras.
func pick(objs []world.Object, want uuid.UUID) (uuid.UUID, []world.Object) {
	if len(objs) == 0 {
		return uuid.Nil, nil
	}
	keep := 0
	for i, o := range objs {
		if o.ID == want {
			keep = i
			break
		}
	}
	extras := make([]world.Object, 0, len(objs)-1)
	for i, o := range objs {
		if i != keep {
			extras = append(extras, o)
		}
	}
	return objs[keep].ID, extras
}

// ==================== 存檔 ====================

func (r *Registry) snapshot() []persist.AltarRecord {
	var out []persist.AltarRecord
	for _, a := range r.All() {
		out = append(out, persist.AltarRecord{
			ID:            a.ID,
			Kingdom:       a.KingdomID,
			Location:      a.Location,
			VisualID:      a.VisualID,
			InteractionID: a.InteractionID,
		})
	}
	return out
}

func (r *Registry) persist() {
	r.persistMu.Lock()
	defer r.persistMu.Unlock()
	r.writer.Altars(r.snapshot())
}

// Load restores altar records. Objects are not touched until Reconcile.
func (r *Registry) Load(ctx context.Context) error {
	recs, err := r.writer.Store().LoadAltars(ctx)
	if err != nil {
		return fmt.Errorf("load altars: %w", err)
	}
	n := 0
	for _, rec := range recs {
		if !r.host.WorldLoaded(rec.Location.World) {
			r.log.Warn("祭壇所在世界不存在，已略過",
				zap.Stringer("altar", rec.ID), zap.String("world", rec.Location.World))
			continue
		}
		rec.Location.Pitch = 0
		e := &entry{
			id:          rec.ID,
			kingdomID:   rec.Kingdom,
			loc:         rec.Location,
			visual:      rec.VisualID,
			interaction: rec.InteractionID,
		}
		if _, loaded := r.altars.LoadOrStore(rec.ID, e); loaded {
			r.log.Debug("重複的祭壇記錄", zap.Stringer("altar", rec.ID))
			continue
		}
		if rec.InteractionID != uuid.Nil {
			r.byInteraction.Store(rec.InteractionID, rec.ID)
		}
		n++
	}
	r.log.Info("祭壇資料已載入", zap.Int("altars", n))
	return nil
}

// Flush writes every altar synchronously.
func (r *Registry) Flush(ctx context.Context) error {
	r.persistMu.Lock()
	defer r.persistMu.Unlock()
	return r.writer.FlushAltars(ctx, r.snapshot())
}
