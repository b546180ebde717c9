// Package deathhook turns eligible deaths into pending ghost transitions and
// hands them to the ghost manager once the player has respawned.
package deathhook

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kingdoms/afterlife/internal/config"
	"github.com/kingdoms/afterlife/internal/core"
	"github.com/kingdoms/afterlife/internal/core/event"
	"github.com/kingdoms/afterlife/internal/ghost"
	"github.com/kingdoms/afterlife/internal/kingdom"
	"github.com/kingdoms/afterlife/internal/message"
	"github.com/kingdoms/afterlife/internal/region"
	"github.com/kingdoms/afterlife/internal/world"
)

// death is the in-process view of one death awaiting its respawn.
type death struct {
	kingdomID string
	eligible  bool
	deathLoc  *world.Location
	bedLoc    *world.Location
	poll      *region.Handle
}

// Hook watches deaths. The captured locations are kept both here, for the
// current session, and in the durable marker in ghost.Markers, which
// survives a disconnect or restart.
type Hook struct {
	cfg      config.RespawnConfig
	log      *zap.Logger
	sched    region.Scheduler
	host     world.Host
	kingdoms kingdom.Directory
	spawns   kingdom.SpawnDirectory
	catalog  message.Catalog
	bus      *event.Bus
	ghosts   *ghost.Manager

	mu     sync.Mutex
	deaths map[uuid.UUID]*death
}

func New(d *core.Deps, ghosts *ghost.Manager) *Hook {
	return &Hook{
		cfg:      d.Config.Respawn,
		log:      d.Log.Named("deathhook"),
		sched:    d.Sched,
		host:     d.Host,
		kingdoms: d.Kingdoms,
		spawns:   d.Spawns,
		catalog:  d.Catalog,
		bus:      d.Bus,
		ghosts:   ghosts,
		deaths:   make(map[uuid.UUID]*death),
	}
}

// Subscribe registers the death handler.
func (h *Hook) Subscribe() {
	event.Subscribe(h.bus, event.PriorityHigh, h.onDeath)
}

// Awaiting reports whether a respawn poll is running for id.
func (h *Hook) Awaiting(id uuid.UUID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.deaths[id]
	return ok
}

// Captured returns the death and bed locations recorded for a death whose
// respawn is still awaited.
func (h *Hook) Captured(id uuid.UUID) (deathLoc, bedLoc *world.Location, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	d, ok := h.deaths[id]
	if !ok {
		return nil, nil, false
	}
	return clone(d.deathLoc), clone(d.bedLoc), true
}

// onDeath runs on the partition owning the dying player.
func (h *Hook) onDeath(ev *event.Death) {
	p := ev.Player
	kingdomID, ok := h.kingdoms.KingdomOf(p.ID())
	if !ok {
		h.log.Debug("玩家沒有王國，不建立幽靈", zap.String("player", p.Name()))
		return
	}
	if h.ghosts.IsGhost(p.ID()) {
		h.log.Debug("幽靈再次死亡，忽略", zap.String("player", p.Name()))
		return
	}

	eligible := h.ghosts.Enabled()
	if !eligible && !h.cfg.TeleportOnDeathNoRespawn {
		return
	}
	d := &death{kingdomID: kingdomID, eligible: eligible}
	if eligible {
		d.deathLoc = deathLocation(ev)
		d.bedLoc = h.captureBed(p)
		h.ghosts.Markers().Put(p.ID(), ghost.Marker{
			KingdomID:     kingdomID,
			DeathLocation: clone(d.deathLoc),
			BedSpawn:      clone(d.bedLoc),
		})
		h.log.Debug("已標記待轉換幽靈", zap.String("player", p.Name()), zap.String("kingdom", kingdomID))
	}

	poll := h.sched.OnEntity(p, func(run *region.Run) { h.poll(run, p, d) },
		region.Delay(h.cfg.PollDelay), region.Every(h.cfg.PollInterval))

	h.mu.Lock()
	if old, ok := h.deaths[p.ID()]; ok {
		old.poll.Cancel()
	}
	d.poll = poll
	h.deaths[p.ID()] = d
	h.mu.Unlock()
}

func clone(l *world.Location) *world.Location {
	if l == nil {
		return nil
	}
	c := *l
	return &c
}

func deathLocation(ev *event.Death) *world.Location {
	if l := ev.Location.Ptr(); l != nil {
		return l
	}
	return ev.Player.Location().Ptr()
}

// captureBed is best effort: a respawn anchor owned by another partition
// simply leaves the bed spawn empty.
func (h *Hook) captureBed(p world.Player) *world.Location {
	loc, ok, err := p.RespawnLocation()
	if err != nil {
		h.log.Debug("死亡時無法取得重生點", zap.String("player", p.Name()), zap.Error(err))
		return nil
	}
	if !ok {
		return nil
	}
	return loc.Ptr()
}

func (h *Hook) forget(id uuid.UUID, d *death) {
	h.mu.Lock()
	if h.deaths[id] == d {
		delete(h.deaths, id)
	}
	h.mu.Unlock()
}

func (h *Hook) poll(run *region.Run, p world.Player, d *death) {
	if !p.Online() {
		// The reconnect path owns the marker now.
		run.Cancel()
		h.forget(p.ID(), d)
		h.log.Debug("玩家在重生前離線", zap.String("player", p.Name()))
		return
	}
	if p.Dead() {
		return
	}
	run.Cancel()
	h.forget(p.ID(), d)

	if !d.eligible {
		h.respawnAtKingdom(p, d.kingdomID)
		return
	}
	mk, ok := h.ghosts.Markers().Take(p.ID())
	if !ok {
		h.log.Debug("待轉換標記已被取走", zap.String("player", p.Name()))
		return
	}
	h.ghosts.ApplyPendingTransition(p, mk)
}

// respawnAtKingdom sends a player without a bed or anchor to the kingdom
// spawn.
func (h *Hook) respawnAtKingdom(p world.Player, kingdomID string) {
	if !h.cfg.TeleportOnDeathNoRespawn {
		return
	}
	if _, ok, err := p.RespawnLocation(); err != nil || ok {
		return
	}
	spawn, ok := h.spawns.SpawnOf(kingdomID)
	if !ok {
		h.log.Warn("王國沒有設定出生點", zap.String("kingdom", kingdomID))
		return
	}
	if !h.host.WorldLoaded(spawn.World) {
		h.log.Warn("王國出生點所在世界未載入", zap.String("kingdom", kingdomID), zap.String("world", spawn.World))
		return
	}
	h.sched.Teleport(p, spawn).Then(func(ok bool) {
		if ok {
			p.SendMessage(h.catalog.Prefixed("respawn.at-kingdom-spawn"))
		}
	})
}
