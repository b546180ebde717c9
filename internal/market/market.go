// Package market runs the trade sessions opened at kingdom altars: buying
// back a ghost of the kingdom, or buying the immortality effect.
package market

import (
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/kingdoms/afterlife/internal/altar"
	"github.com/kingdoms/afterlife/internal/config"
	"github.com/kingdoms/afterlife/internal/core"
	"github.com/kingdoms/afterlife/internal/core/event"
	"github.com/kingdoms/afterlife/internal/ghost"
	"github.com/kingdoms/afterlife/internal/immortality"
	"github.com/kingdoms/afterlife/internal/kingdom"
	"github.com/kingdoms/afterlife/internal/message"
	"github.com/kingdoms/afterlife/internal/region"
	"github.com/kingdoms/afterlife/internal/world"
)

// immortalityTarget marks the offer row that sells immortality.
var immortalityTarget = uuid.MustParse("00000000-0000-0000-0000-000000000001")

// tradeSlots is the number of merchant input slots a cost may occupy.
const tradeSlots = 2

var itemTitle = cases.Title(language.English)

// session is one open merchant UI. Rows map offer index to target.
type session struct {
	altarID uuid.UUID
	rows    []uuid.UUID
}

type Market struct {
	cfg       config.GhostConfig
	log       *zap.Logger
	sched     region.Scheduler
	host      world.Host
	kingdoms  kingdom.Directory
	catalog   message.Catalog
	durations message.DurationFormat
	bus       *event.Bus

	ghosts      *ghost.Manager
	altars      *altar.Registry
	immortality *immortality.Guard

	sessions sync.Map // uuid.UUID -> *session
}

func New(d *core.Deps, ghosts *ghost.Manager, altars *altar.Registry, guard *immortality.Guard) *Market {
	return &Market{
		cfg:         d.Config.Ghost,
		log:         d.Log.Named("market"),
		sched:       d.Sched,
		host:        d.Host,
		kingdoms:    d.Kingdoms,
		catalog:     d.Catalog,
		durations:   d.Durations,
		bus:         d.Bus,
		ghosts:      ghosts,
		altars:      altars,
		immortality: guard,
	}
}

// ==================== 開啟與關閉 ====================

// Open shows p the offers of altar a: immortality first when enabled, then
// one row per ghost of the altar's kingdom. It reports whether a UI opened.
func (m *Market) Open(p world.Player, a altar.Altar) bool {
	ghosts := m.ghosts.OfKingdom(a.KingdomID)
	withImmortality := m.immortality != nil && m.immortality.Enabled()
	if len(ghosts) == 0 && !withImmortality {
		p.SendMessage(m.catalog.Prefixed("ghost.altar.no-ghosts"))
		return false
	}

	s := &session{altarID: a.ID}
	var offers []world.TradeOffer
	if withImmortality {
		offers = append(offers, m.immortalityOffer(p.ID()))
		s.rows = append(s.rows, immortalityTarget)
	}
	for _, st := range ghosts {
		offers = append(offers, m.ghostOffer(st))
		s.rows = append(s.rows, st.PlayerID)
	}

	m.sessions.Store(p.ID(), s)
	p.OpenMerchant(m.catalog.Get("ghost.altar.title"), offers)
	m.log.Debug("開啟祭壇交易",
		zap.String("player", p.Name()),
		zap.Stringer("altar", a.ID),
		zap.Int("ghosts", len(ghosts)),
		zap.Bool("immortality", withImmortality))
	return true
}

// Close drops p's session.
func (m *Market) Close(id uuid.UUID) {
	m.sessions.Delete(id)
}

// HasSession reports whether id has an open altar UI.
func (m *Market) HasSession(id uuid.UUID) bool {
	_, ok := m.sessions.Load(id)
	return ok
}

// ==================== 報價 ====================

func (m *Market) immortalityOffer(id uuid.UUID) world.TradeOffer {
	if m.immortality.Has(id) {
		return world.TradeOffer{
			Title: m.catalog.Get("ghost.immortality.active-title"),
			Lore: []string{m.catalog.Get("ghost.immortality.active-lore",
				message.P("time", m.durations.Remaining(m.immortality.Remaining(id))))},
		}
	}
	cost := firstSlots(m.immortality.Cost())
	lore := []string{
		m.catalog.Get("ghost.immortality.offer-lore"),
		m.catalog.Get("ghost.immortality.offer-duration", message.P("time", m.durations.Span(m.immortality.Duration()))),
		m.catalog.Get("ghost.immortality.offer-cost"),
	}
	lore = append(lore, m.costLines(cost)...)
	lore = append(lore, m.catalog.Get("ghost.immortality.offer-hint"))
	return world.TradeOffer{
		Title:       m.catalog.Get("ghost.immortality.offer-title"),
		Lore:        lore,
		Cost:        cost,
		Purchasable: true,
	}
}

func (m *Market) ghostOffer(st *ghost.State) world.TradeOffer {
	cost := firstSlots(st.Cost)
	name := message.P("player", st.Name)
	lore := []string{
		m.catalog.Get("ghost.altar.offer-player", name),
		m.catalog.Get("ghost.altar.offer-remaining",
			message.P("time", m.durations.Remaining(st.Remaining(m.sched.Now())))),
		m.catalog.Get("ghost.altar.offer-cost"),
	}
	lore = append(lore, m.costLines(cost)...)
	lore = append(lore, m.catalog.Get("ghost.altar.offer-hint"))
	return world.TradeOffer{
		Title:       m.catalog.Get("ghost.altar.offer-title", name),
		Lore:        lore,
		Cost:        cost,
		Purchasable: true,
	}
}

func (m *Market) costLines(cost []world.ItemStack) []string {
	out := make([]string, 0, len(cost))
	for _, it := range cost {
		out = append(out, m.catalog.Get("ghost.altar.offer-cost-line",
			message.P("amount", strconv.Itoa(it.Count)),
			message.P("item", ItemName(it.Kind))))
	}
	return out
}

// ItemName renders an item kind for display: GOLD_INGOT -> "Gold Ingot".
func ItemName(kind string) string {
	return itemTitle.String(strings.ReplaceAll(strings.ToLower(kind), "_", " "))
}

func firstSlots(cost []world.ItemStack) []world.ItemStack {
	if len(cost) > tradeSlots {
		cost = cost[:tradeSlots]
	}
	return append([]world.ItemStack(nil), cost...)
}

// ==================== 交易 ====================

// HandleTrade runs p's selection of offer index against the contents of
// slots. Nothing is taken from slots unless the purchase went through. It
// must run on p's partition and reports whether the trade succeeded.
func (m *Market) HandleTrade(p world.Player, index int, slots world.TradeSlots) bool {
	v, ok := m.sessions.Load(p.ID())
	if !ok {
		return false
	}
	s := v.(*session)
	if index < 0 || index >= len(s.rows) {
		m.log.Debug("交易索引超出範圍", zap.String("player", p.Name()), zap.Int("index", index))
		return false
	}
	if target := s.rows[index]; target != immortalityTarget {
		return m.buyBack(p, s, target, slots)
	}
	return m.buyImmortality(p, slots)
}

func (m *Market) buyImmortality(p world.Player, slots world.TradeSlots) bool {
	g := m.immortality
	if g == nil || !g.Enabled() {
		p.SendMessage(m.catalog.Prefixed("ghost.immortality.disabled"))
		return false
	}
	if g.Has(p.ID()) {
		p.SendMessage(m.catalog.Prefixed("ghost.immortality.already-have",
			message.P("time", m.durations.Remaining(g.Remaining(p.ID())))))
		return false
	}
	cost := firstSlots(g.Cost())
	if !covers(slots, cost) {
		p.SendMessage(m.catalog.Prefixed("ghost.immortality.not-enough-items"))
		return false
	}
	if !g.Grant(p) {
		m.log.Warn("授予不朽失敗", zap.String("player", p.Name()))
		return false
	}
	consume(slots, cost)
	m.log.Info("購買不朽效果", zap.String("player", p.Name()))
	return true
}

func (m *Market) buyBack(p world.Player, s *session, target uuid.UUID, slots world.TradeSlots) bool {
	a, ok := m.altars.Get(s.altarID)
	if !ok {
		p.SendMessage(m.catalog.Prefixed("ghost.altar.not-found"))
		return false
	}
	st, ok := m.ghosts.Record(target)
	if !ok {
		p.SendMessage(m.catalog.Prefixed("ghost.altar.ghost-not-found"))
		return false
	}
	cost := firstSlots(st.Cost)
	if !covers(slots, cost) {
		p.SendMessage(m.catalog.Prefixed("ghost.altar.not-enough-items"))
		return false
	}

	dest := m.destination(a, st)
	by := p.ID()
	if !m.ghosts.RequestResurrection(st.PlayerID, dest, &by) {
		p.SendMessage(m.catalog.Prefixed("ghost.altar.ghost-not-found"))
		return false
	}
	consume(slots, cost)

	p.SendMessage(m.catalog.Prefixed("ghost.altar.resurrected", message.P("player", st.Name)))
	m.broadcast(a.KingdomID, p, st)
	m.log.Info("祭壇復活",
		zap.String("resurrector", p.Name()),
		zap.String("ghost", st.Name),
		zap.Stringer("altar", a.ID))
	return true
}

// destination picks where a bought-back ghost reappears.
func (m *Market) destination(a altar.Altar, st *ghost.State) world.Location {
	atAltar := a.Location.Add(0, 1, 0)
	if m.cfg.BuybackLocation == "altar" {
		return atAltar
	}
	if loc := m.ghosts.ResolveSafe(st); loc != nil {
		return *loc
	}
	return atAltar
}

// broadcast tells the other online members of the kingdom, each on its own
// partition.
func (m *Market) broadcast(kingdomID string, by world.Player, st *ghost.State) {
	text := m.catalog.Prefixed("ghost.altar.broadcast-resurrected",
		message.P("resurrector", by.Name()),
		message.P("ghost", st.Name))
	for _, member := range kingdom.OnlineMembers(m.host, m.kingdoms, kingdomID) {
		if member.ID() == by.ID() {
			continue
		}
		m.sched.OnEntity(member, func(*region.Run) { member.SendMessage(text) })
	}
}

// covers reports whether each cost entry is matched by the slot at the same
// position: same kind, at least the amount.
func covers(slots world.TradeSlots, cost []world.ItemStack) bool {
	for i, want := range cost {
		have, ok := slots.Slot(i)
		if !ok || have.Kind != want.Kind || have.Count < want.Count {
			return false
		}
	}
	return true
}

func consume(slots world.TradeSlots, cost []world.ItemStack) {
	for i, want := range cost {
		have, ok := slots.Slot(i)
		if !ok {
			continue
		}
		have.Count -= want.Count
		slots.SetSlot(i, have)
	}
}
