// Package ghost owns the ghost registry and drives every transition in and
// out of the ghost state.
package ghost

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kingdoms/afterlife/internal/config"
	"github.com/kingdoms/afterlife/internal/core"
	"github.com/kingdoms/afterlife/internal/core/event"
	"github.com/kingdoms/afterlife/internal/kingdom"
	"github.com/kingdoms/afterlife/internal/message"
	"github.com/kingdoms/afterlife/internal/persist"
	"github.com/kingdoms/afterlife/internal/region"
	"github.com/kingdoms/afterlife/internal/scripting"
	"github.com/kingdoms/afterlife/internal/world"
)

// reconnectDelay lets the host finish loading a joining player before the
// ghost state is reconciled.
const reconnectDelay = time.Second

const (
	effectInvisibility = "invisibility"
	particleSoul       = "soul"
	particleTotem      = "totem_of_undying"
	soundTotem         = "item.totem.use"
	soundReady         = "block.beacon.activate"
)

type cause int

const (
	causeSelf cause = iota
	causeAuto
	causeAlly
)

// Manager owns the ghost registry. Records are inserted with LoadOrStore and
// claimed for removal with CompareAndDelete, so a record is created once and
// resurrected once no matter how many paths race for it.
type Manager struct {
	cfg         config.GhostConfig
	flightSpeed float32
	log         *zap.Logger
	sched       region.Scheduler
	host        world.Host
	spawns      kingdom.SpawnDirectory
	catalog     message.Catalog
	durations   message.DurationFormat
	writer      *persist.Writer
	bus         *event.Bus
	scripts     *scripting.Engine
	costs       *costPool
	markers     *Markers

	ghosts    sync.Map // uuid.UUID -> *State
	persistMu sync.Mutex

	heightMu   sync.Mutex
	heightNote map[uuid.UUID]time.Time

	sweep *region.Handle
}

func NewManager(d *core.Deps) *Manager {
	cfg := d.Config.Ghost
	speed := cfg.FlightSpeed
	if speed < 0 {
		speed = 0
	} else if speed > 1 {
		speed = 1
	}
	log := d.Log.Named("ghost")
	return &Manager{
		cfg:         cfg,
		flightSpeed: speed,
		log:         log,
		sched:       d.Sched,
		host:        d.Host,
		spawns:      d.Spawns,
		catalog:     d.Catalog,
		durations:   d.Durations,
		writer:      d.Writer,
		bus:         d.Bus,
		scripts:     d.Scripts,
		costs:       newCostPool(cfg, d.Host, d.Scripts, log),
		markers:     NewMarkers(d.Writer),
		heightNote:  make(map[uuid.UUID]time.Time),
	}
}

// Enabled reports whether deaths may turn players into ghosts.
func (m *Manager) Enabled() bool { return m.cfg.Enabled }

// Markers returns the pending transition side-table.
func (m *Manager) Markers() *Markers { return m.markers }

// ==================== 查詢 ====================

func (m *Manager) IsGhost(id uuid.UUID) bool {
	_, ok := m.ghosts.Load(id)
	return ok
}

// Record returns the active record for id.
func (m *Manager) Record(id uuid.UUID) (*State, bool) {
	v, ok := m.ghosts.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*State), true
}

func (m *Manager) current(id uuid.UUID) *State {
	st, _ := m.Record(id)
	return st
}

// OfKingdom returns the ghosts of one kingdom ordered by name.
func (m *Manager) OfKingdom(kingdomID string) []*State {
	var out []*State
	m.ghosts.Range(func(_, v any) bool {
		if st := v.(*State); st.KingdomID == kingdomID {
			out = append(out, st)
		}
		return true
	})
	sortStates(out)
	return out
}

// All returns every ghost ordered by name.
func (m *Manager) All() []*State {
	var out []*State
	m.ghosts.Range(func(_, v any) bool {
		out = append(out, v.(*State))
		return true
	})
	sortStates(out)
	return out
}

func sortStates(s []*State) {
	sort.Slice(s, func(i, j int) bool {
		if s[i].Name != s[j].Name {
			return s[i].Name < s[j].Name
		}
		return s[i].PlayerID.String() < s[j].PlayerID.String()
	})
}

// ==================== 成為幽靈 ====================

// TransitionToGhost stores a new record for p and applies the ghost
// presentation. It must run on p's partition. It reports false when p is
// already a ghost.
func (m *Manager) TransitionToGhost(p world.Player, kingdomID string, deathLoc, bedLoc *world.Location) bool {
	id := p.ID()
	if deathLoc == nil {
		deathLoc = p.Location().Ptr()
	}
	dur := m.cfg.Duration
	if m.scripts != nil {
		dur = m.scripts.GhostDuration(kingdomID, dur)
	}
	st := &State{
		PlayerID:      id,
		Name:          p.Name(),
		KingdomID:     kingdomID,
		DeathTime:     m.sched.Now(),
		Duration:      dur,
		Cost:          m.costs.roll(),
		DeathLocation: copyLoc(deathLoc),
		BedSpawn:      copyLoc(bedLoc),
	}
	if _, loaded := m.ghosts.LoadOrStore(id, st); loaded {
		m.log.Debug("已是幽靈，忽略重複轉換", zap.String("player", p.Name()))
		return false
	}

	m.present(p, st)
	m.persist()
	p.SendMessage(m.catalog.Prefixed("ghost.became-ghost", message.P("time", m.durations.Span(dur))))
	event.Dispatch(m.bus, &event.GhostChanged{PlayerID: id, Ghost: true})

	m.log.Info("玩家成為幽靈",
		zap.String("player", p.Name()),
		zap.String("kingdom", kingdomID),
		zap.Duration("duration", dur),
		zap.Stringers("cost", st.Cost))
	return true
}

// ApplyPendingTransition finishes a death taken from the marker table and
// returns the new ghost to where it died.
func (m *Manager) ApplyPendingTransition(p world.Player, mk Marker) bool {
	if !m.TransitionToGhost(p, mk.KingdomID, mk.DeathLocation, mk.BedSpawn) {
		return false
	}
	if m.usable(mk.DeathLocation) {
		m.sched.Teleport(p, *mk.DeathLocation)
	}
	return true
}

// here is the last-resort destination, the player's current position.
func here(p world.Player) *world.Location {
	l := p.Location()
	return &l
}

func copyLoc(l *world.Location) *world.Location {
	if l == nil || !l.Valid() {
		return nil
	}
	c := *l
	return &c
}

// ==================== 外觀 ====================

// present applies the ghost look and restarts its loops under a new
// generation.
func (m *Manager) present(p world.Player, st *State) {
	p.SetGameMode(world.Adventure)
	p.SetFlight(true, true, m.flightSpeed)
	if m.cfg.Effects.Invisibility {
		p.AddEffect(world.Effect{Kind: effectInvisibility, Duration: world.Infinite, Hidden: true})
	}
	if m.cfg.Effects.Glowing {
		p.SetGlowing(true)
	}

	gen := st.nextLoop()
	m.startCountdown(p, st, gen)
	if m.cfg.Effects.Particles {
		m.startParticles(p, st, gen)
	}
}

func (m *Manager) unpresent(p world.Player) {
	p.RemoveEffect(effectInvisibility)
	p.SetGlowing(false)
	p.SetFlight(false, false, world.DefaultFlySpeed)
	p.SetGameMode(world.Survival)
}

// active is the precondition every ghost loop checks before doing work.
func (m *Manager) active(p world.Player, st *State, gen uint64) bool {
	return p.Online() && m.current(st.PlayerID) == st && st.currentLoop(gen)
}

func (m *Manager) startCountdown(p world.Player, st *State, gen uint64) {
	every := m.cfg.CountdownInterval
	m.sched.OnEntity(p, func(run *region.Run) {
		if !m.active(p, st, gen) {
			run.Cancel()
			return
		}
		now := m.sched.Now()
		if st.CanSelfResurrect(now) {
			p.SendActionBar(m.catalog.Get("ghost.countdown-ready"))
			if st.markNotified() {
				p.SendMessage(m.catalog.Prefixed("ghost.can-self-resurrect"))
				m.host.Sound(p.Location(), soundReady)
			}
			return
		}
		p.SendActionBar(m.catalog.Get("ghost.countdown",
			message.P("time", m.durations.Remaining(st.Remaining(now)))))
	}, region.Delay(every), region.Every(every))
}

func (m *Manager) startParticles(p world.Player, st *State, gen uint64) {
	every := m.cfg.Effects.ParticleInterval
	m.sched.OnEntity(p, func(run *region.Run) {
		if !m.active(p, st, gen) {
			run.Cancel()
			return
		}
		m.host.Particles(p.Location().Add(0, 1, 0), particleSoul, 3)
	}, region.Delay(every/2), region.Every(every))
}

// ==================== 復活 ====================

// claim removes st from the registry if it is still the active record.
// Exactly one caller wins.
func (m *Manager) claim(st *State) bool {
	if m.ghosts.CompareAndDelete(st.PlayerID, st) {
		return true
	}
	m.log.Debug("幽靈記錄已不存在，略過復活", zap.Stringer("player", st.PlayerID))
	return false
}

// RequestResurrection resurrects ghostID at dest. An online ghost is
// claimed right away and resurrected on its own partition; an offline one
// keeps its record with the request stored until it reconnects. It reports
// whether the request was accepted; a ghost that is gone or already has a
// deferred request is rejected.
func (m *Manager) RequestResurrection(ghostID uuid.UUID, dest world.Location, by *uuid.UUID) bool {
	st, ok := m.Record(ghostID)
	if !ok {
		m.log.Debug("復活目標不是幽靈", zap.Stringer("player", ghostID))
		return false
	}
	c := causeSelf
	if by != nil {
		c = causeAlly
	}

	if p, online := m.host.Player(ghostID); online {
		if !m.claim(st) {
			return false
		}
		m.sched.OnEntity(p, func(*region.Run) { m.finish(p, st, dest, c, by) })
		return true
	}

	if !st.setPending(dest, by) {
		m.log.Debug("幽靈已有待處理的復活", zap.String("player", st.Name))
		return false
	}
	m.persist()
	m.log.Info("離線幽靈標記為待復活", zap.String("player", st.Name), zap.Stringer("dest", dest))

	// The ghost may have joined between the lookup and the store.
	if p, online := m.host.Player(ghostID); online {
		m.sched.OnEntity(p, func(*region.Run) { m.applyPending(p, st) }, region.Delay(reconnectDelay))
	}
	return true
}

// SelfResurrect resurrects p once its timer has run out. run is the
// caller's execution context, used to decide whether a live respawn point
// lookup is safe.
func (m *Manager) SelfResurrect(run *region.Run, p world.Player) bool {
	st, ok := m.Record(p.ID())
	if !ok {
		p.SendMessage(m.catalog.Prefixed("ghost.not-a-ghost"))
		return false
	}
	now := m.sched.Now()
	if !st.CanSelfResurrect(now) {
		p.SendMessage(m.catalog.Prefixed("ghost.cannot-self-resurrect-yet",
			message.P("time", m.durations.Remaining(st.Remaining(now)))))
		return false
	}
	dest := m.ResolveLocation(run, p, st)
	if dest == nil {
		m.log.Debug("沒有復活座標，使用目前位置", zap.String("player", st.Name))
		dest = here(p)
	}
	if !m.claim(st) {
		return false
	}
	m.finish(p, st, *dest, causeSelf, nil)
	return true
}

// autoResurrect runs on p's partition once st has expired. It only uses the
// safe resolver. A stored ally request still wins over the expired timer.
func (m *Manager) autoResurrect(p world.Player, st *State) {
	if _, _, pending := st.PendingResurrection(); pending {
		m.applyPending(p, st)
		return
	}
	dest := m.ResolveSafe(st)
	if dest == nil {
		m.log.Warn("找不到復活座標，使用目前位置", zap.String("player", st.Name))
		dest = here(p)
	}
	if !m.claim(st) {
		return
	}
	m.finish(p, st, *dest, causeAuto, nil)
	p.SendMessage(m.catalog.Prefixed("ghost.auto-resurrected"))
}

// applyPending carries out a request stored while the ghost was offline.
func (m *Manager) applyPending(p world.Player, st *State) {
	dest, by, ok := st.PendingResurrection()
	if !ok {
		return
	}
	if !m.usable(dest) {
		dest = m.ResolveSafe(st)
		if dest == nil {
			dest = here(p)
		}
	}
	if !m.claim(st) {
		return
	}
	c := causeSelf
	if by != nil {
		c = causeAlly
	}
	m.finish(p, st, *dest, c, by)
}

// finish runs on p's partition after st was claimed. Teleport failure
// skips the feedback; the record is gone either way.
func (m *Manager) finish(p world.Player, st *State, dest world.Location, c cause, by *uuid.UUID) {
	m.unpresent(p)
	m.persist()
	m.heightMu.Lock()
	delete(m.heightNote, st.PlayerID)
	m.heightMu.Unlock()
	event.Dispatch(m.bus, &event.GhostChanged{PlayerID: st.PlayerID, Ghost: false})
	m.log.Info("幽靈已復活", zap.String("player", st.Name), zap.Stringer("dest", dest))

	m.sched.Teleport(p, dest).Then(func(ok bool) {
		if !ok {
			m.log.Warn("復活傳送失敗", zap.String("player", st.Name), zap.Stringer("dest", dest))
			return
		}
		switch c {
		case causeAlly:
			name := m.catalog.Get("ghost.unknown-ally")
			if by != nil {
				if r, online := m.host.Player(*by); online {
					name = r.Name()
				}
			}
			p.SendMessage(m.catalog.Prefixed("ghost.resurrected-by", message.P("player", name)))
		case causeSelf:
			p.SendMessage(m.catalog.Prefixed("ghost.self-resurrected"))
		}
		p.SetHealth(p.MaxHealth())
		p.Feed()
		here := p.Location()
		m.host.Sound(here, soundTotem)
		m.host.Particles(here.Add(0, 1, 0), particleTotem, 50)
	})
}

// ==================== 重新連線 ====================

// HandleReconnect reconciles a joining player with the ghost state, in
// order: a pending death transition, a deferred resurrection, an expired
// timer, or an active ghost that needs its look back. It must run on p's
// partition.
func (m *Manager) HandleReconnect(p world.Player) {
	if !p.Online() {
		return
	}
	if p.Admin() {
		m.log.Debug("管理員略過幽靈檢查", zap.String("player", p.Name()))
		return
	}
	if mk, ok := m.markers.Take(p.ID()); ok {
		m.log.Info("重新連線時完成幽靈轉換", zap.String("player", p.Name()))
		m.ApplyPendingTransition(p, mk)
		return
	}
	st, ok := m.Record(p.ID())
	if !ok {
		return
	}
	if _, _, pending := st.PendingResurrection(); pending {
		m.applyPending(p, st)
		return
	}
	if st.CanSelfResurrect(m.sched.Now()) {
		m.autoResurrect(p, st)
		return
	}
	m.present(p, st)
}

// ==================== 定期掃描 ====================

// Start begins the expiry sweep on the global partition.
func (m *Manager) Start() {
	every := m.cfg.SweepInterval
	m.sweep = m.sched.Global(func(*region.Run) { m.sweepExpired() }, region.Delay(every), region.Every(every))
}

// Stop cancels the sweep.
func (m *Manager) Stop() { m.sweep.Cancel() }

func (m *Manager) sweepExpired() {
	now := m.sched.Now()
	m.ghosts.Range(func(_, v any) bool {
		st := v.(*State)
		if !st.CanSelfResurrect(now) {
			return true
		}
		p, online := m.host.Player(st.PlayerID)
		if !online {
			return true
		}
		m.sched.OnEntity(p, func(*region.Run) {
			if !p.Online() || m.current(st.PlayerID) != st || !st.CanSelfResurrect(m.sched.Now()) {
				return
			}
			m.autoResurrect(p, st)
		})
		return true
	})
}

// ==================== 存檔 ====================

func (m *Manager) snapshot() []persist.GhostRecord {
	var out []persist.GhostRecord
	m.ghosts.Range(func(_, v any) bool {
		out = append(out, v.(*State).record())
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].PlayerID.String() < out[j].PlayerID.String() })
	return out
}

func (m *Manager) persist() {
	m.persistMu.Lock()
	defer m.persistMu.Unlock()
	m.writer.Ghosts(m.snapshot())
}

// Load restores ghosts and pending markers. Locations in worlds the host
// does not have are dropped, and costs are re-matched against the host.
func (m *Manager) Load(ctx context.Context) error {
	recs, err := m.writer.Store().LoadGhosts(ctx)
	if err != nil {
		return fmt.Errorf("load ghosts: %w", err)
	}
	for _, r := range recs {
		r.DeathLocation = m.knownWorld(r.PlayerID, "death-location", r.DeathLocation)
		r.BedSpawn = m.knownWorld(r.PlayerID, "bed-spawn", r.BedSpawn)
		r.ResurrectionLocation = m.knownWorld(r.PlayerID, "resurrection-location", r.ResurrectionLocation)
		r.Cost = m.costs.normalize(r.Cost)
		if len(r.Cost) == 0 {
			r.Cost = []world.ItemStack{m.costs.fallback}
		}
		if _, loaded := m.ghosts.LoadOrStore(r.PlayerID, fromRecord(r)); loaded {
			m.log.Debug("重複的幽靈記錄", zap.Stringer("player", r.PlayerID))
		}
	}
	markers, err := m.markers.Load(ctx)
	if err != nil {
		return err
	}
	m.log.Info("幽靈資料已載入", zap.Int("ghosts", len(recs)), zap.Int("pending", markers))
	return nil
}

func (m *Manager) knownWorld(id uuid.UUID, field string, loc *world.Location) *world.Location {
	if loc == nil || m.host.WorldLoaded(loc.World) {
		return loc
	}
	m.log.Warn("座標所在世界不存在，已忽略",
		zap.Stringer("player", id), zap.String("field", field), zap.String("world", loc.World))
	return nil
}

// Flush writes ghosts and markers synchronously.
func (m *Manager) Flush(ctx context.Context) error {
	m.persistMu.Lock()
	err := m.writer.FlushGhosts(ctx, m.snapshot())
	m.persistMu.Unlock()
	return errors.Join(err, m.markers.Flush(ctx))
}
