package market

import (
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kingdoms/afterlife/internal/altar"
	"github.com/kingdoms/afterlife/internal/core/event"
	"github.com/kingdoms/afterlife/internal/world"
)

// Subscribe wires altar clicks and merchant UI events to the market.
func (m *Market) Subscribe() {
	event.Subscribe(m.bus, event.PriorityHigh, m.onInteraction)
	event.Subscribe(m.bus, event.PriorityHigh, m.onTradeSelect)
	event.Subscribe(m.bus, event.PriorityMonitor, func(ev *event.MerchantClose) { m.Close(ev.Player.ID()) })
	event.Subscribe(m.bus, event.PriorityMonitor, func(ev *event.Quit) { m.Close(ev.Player.ID()) })
}

func (m *Market) onInteraction(ev *event.Interaction) {
	if ev.Kind != event.InteractEntity || ev.Object == nil {
		return
	}
	tag, tagged := ev.Object.Tags[world.TagAltarID]
	if !tagged {
		return
	}
	ev.Cancel()
	// Visual objects carry the tag too, but only the interaction half opens the UI.
	if ev.Object.Kind != world.ObjectInteraction {
		return
	}

	p := ev.Player
	a, ok := m.lookup(ev.Object.ID, tag)
	if !ok {
		m.log.Debug("互動物件沒有對應的祭壇", zap.Stringer("object", ev.Object.ID), zap.String("tag", tag))
		return
	}
	if k, ok := m.kingdoms.KingdomOf(p.ID()); !ok || k != a.KingdomID {
		p.SendMessage(m.catalog.Prefixed("ghost.altar.wrong-kingdom"))
		return
	}
	if m.ghosts.IsGhost(p.ID()) {
		p.SendMessage(m.catalog.Prefixed("ghost.altar.cannot-use-as-ghost"))
		return
	}
	m.Open(p, a)
}

// lookup prefers the interaction index and falls back to the altar id tag
// for objects not yet linked by reconciliation.
func (m *Market) lookup(objID uuid.UUID, tag string) (altar.Altar, bool) {
	if a, ok := m.altars.ByInteraction(objID); ok {
		return a, true
	}
	id, err := uuid.Parse(tag)
	if err != nil {
		return altar.Altar{}, false
	}
	return m.altars.Get(id)
}

func (m *Market) onTradeSelect(ev *event.TradeSelect) {
	if !m.HasSession(ev.Player.ID()) {
		return
	}
	if !m.HandleTrade(ev.Player, ev.Index, ev.Slots) {
		ev.Cancel()
	}
}
