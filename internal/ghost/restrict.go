package ghost

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kingdoms/afterlife/internal/core/event"
	"github.com/kingdoms/afterlife/internal/region"
	"github.com/kingdoms/afterlife/internal/world"
)

const heightNoticeEvery = time.Second

// Subscribe wires the manager to host events: reconnect handling and the
// restrictions that keep ghosts out of the world.
func (m *Manager) Subscribe() {
	event.Subscribe(m.bus, event.PriorityMonitor, m.onJoin)
	event.SubscribeActive(m.bus, event.PriorityHigh, m.onInteraction)
	event.SubscribeActive(m.bus, event.PriorityHigh, m.onDamage)
	event.SubscribeActive(m.bus, event.PriorityHigh, m.onMove)
}

func (m *Manager) onJoin(ev *event.Join) {
	if !m.cfg.Enabled {
		return
	}
	p := ev.Player
	m.sched.OnEntity(p, func(*region.Run) { m.HandleReconnect(p) }, region.Delay(reconnectDelay))
}

// allowedBlock reports whether a ghost may use the block, which covers
// doors, trapdoors and fence gates as permitted by config.
func (m *Manager) allowedBlock(kind string) bool {
	perm := m.cfg.Permissions
	switch {
	case strings.HasSuffix(kind, "_TRAPDOOR"):
		return perm.UseTrapdoors
	case strings.HasSuffix(kind, "_DOOR"):
		return perm.UseDoors
	case strings.HasSuffix(kind, "_FENCE_GATE"):
		return perm.UseFenceGates
	}
	return false
}

func (m *Manager) onInteraction(ev *event.Interaction) {
	p := ev.Player
	if !m.IsGhost(p.ID()) {
		return
	}
	switch ev.Kind {
	case event.InteractBlock:
		// clicks on air
		if ev.Block == "" || m.allowedBlock(ev.Block) {
			return
		}
		ev.Cancel()
	case event.InteractEntity:
		if ev.Object != nil && ev.Object.Tags[world.TagAltarID] != "" {
			return
		}
		ev.Cancel()
	case event.InteractContainer, event.InteractDrop, event.InteractBed:
		ev.Cancel()
		p.SendMessage(m.catalog.Prefixed("ghost.cannot-interact"))
	default:
		ev.Cancel()
	}
}

func (m *Manager) onDamage(ev *event.Damage) {
	if m.IsGhost(ev.Player.ID()) || (ev.Attacker != nil && m.IsGhost(*ev.Attacker)) {
		ev.Cancel()
	}
}

func (m *Manager) onMove(ev *event.Move) {
	limit := m.cfg.MaxFlightHeight
	if limit < 0 || !m.IsGhost(ev.Player.ID()) {
		return
	}
	if ev.To.Y > limit && ev.To.Y > ev.From.Y {
		ev.To.Y = limit
		if m.heightNotice(ev.Player.ID()) {
			ev.Player.SendMessage(m.catalog.Prefixed("ghost.max-height-reached"))
		}
	}
}

func (m *Manager) heightNotice(id uuid.UUID) bool {
	now := m.sched.Now()
	m.heightMu.Lock()
	defer m.heightMu.Unlock()
	if last, ok := m.heightNote[id]; ok && now.Sub(last) < heightNoticeEvery {
		return false
	}
	m.heightNote[id] = now
	return true
}
