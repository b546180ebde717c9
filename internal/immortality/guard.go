// Package immortality implements the one-shot buff that saves a player from
// a single fatal hit.
package immortality

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kingdoms/afterlife/internal/config"
	"github.com/kingdoms/afterlife/internal/core"
	"github.com/kingdoms/afterlife/internal/core/event"
	"github.com/kingdoms/afterlife/internal/message"
	"github.com/kingdoms/afterlife/internal/persist"
	"github.com/kingdoms/afterlife/internal/region"
	"github.com/kingdoms/afterlife/internal/world"
)

const (
	particleTotem = "totem_of_undying"
	soundGrant    = "block.beacon.power_select"
	soundTrigger  = "item.totem.use"
)

// Buffs granted when the effect fires.
var totemBuffs = []world.Effect{
	{Kind: "regeneration", Duration: 45 * time.Second, Amplifier: 1},
	{Kind: "absorption", Duration: 5 * time.Second, Amplifier: 1},
	{Kind: "fire_resistance", Duration: 40 * time.Second},
}

// Ghosts reports ghost membership; ghosts are never intercepted.
type Ghosts interface {
	IsGhost(id uuid.UUID) bool
}

// Guard holds active effects as player id -> expiration.
type Guard struct {
	cfg       config.ImmortalityConfig
	cost      []world.ItemStack
	negative  map[string]bool
	log       *zap.Logger
	sched     region.Scheduler
	host      world.Host
	catalog   message.Catalog
	durations message.DurationFormat
	writer    *persist.Writer
	bus       *event.Bus
	ghosts    Ghosts

	effects   sync.Map // uuid.UUID -> time.Time
	persistMu sync.Mutex

	sweep, bar *region.Handle
}

func New(d *core.Deps, ghosts Ghosts) *Guard {
	cfg := d.Config.Immortality
	log := d.Log.Named("immortality")
	g := &Guard{
		cfg:       cfg,
		negative:  make(map[string]bool, len(cfg.NegativeEffects)),
		log:       log,
		sched:     d.Sched,
		host:      d.Host,
		catalog:   d.Catalog,
		durations: d.Durations,
		writer:    d.Writer,
		bus:       d.Bus,
		ghosts:    ghosts,
	}
	for _, k := range cfg.NegativeEffects {
		g.negative[k] = true
	}
	for _, it := range cfg.Cost {
		kind, ok := d.Host.MatchItem(it.Kind)
		if !ok {
			log.Warn("略過未知的不朽花費物品", zap.String("material", it.Kind))
			continue
		}
		if it.Count <= 0 {
			it.Count = 1
		}
		g.cost = append(g.cost, world.ItemStack{Kind: kind, Count: it.Count})
	}
	if len(g.cost) == 0 {
		g.cost = []world.ItemStack{{Kind: "GOLD_INGOT", Count: 8}}
	}
	return g
}

func (g *Guard) Enabled() bool { return g.cfg.Enabled }

// Cost returns the purchase price.
func (g *Guard) Cost() []world.ItemStack { return append([]world.ItemStack(nil), g.cost...) }

func (g *Guard) Duration() time.Duration { return g.cfg.Duration }

// ==================== 查詢 ====================

// Has reports whether id holds an unexpired effect. An expired entry found
// here is removed.
func (g *Guard) Has(id uuid.UUID) bool {
	v, ok := g.effects.Load(id)
	if !ok {
		return false
	}
	exp := v.(time.Time)
	if g.sched.Now().Before(exp) {
		return true
	}
	if g.effects.CompareAndDelete(id, exp) {
		g.persist()
	}
	return false
}

// Remaining returns the time left on id's effect, or zero.
func (g *Guard) Remaining(id uuid.UUID) time.Duration {
	v, ok := g.effects.Load(id)
	if !ok {
		return 0
	}
	if d := v.(time.Time).Sub(g.sched.Now()); d > 0 {
		return d
	}
	return 0
}

// ==================== 授予與觸發 ====================

// Grant starts an effect for p. It reports false when the subsystem is off
// or p already holds one; the existing expiration is never extended.
func (g *Guard) Grant(p world.Player) bool {
	if !g.cfg.Enabled {
		return false
	}
	id := p.ID()
	if g.Has(id) {
		return false
	}
	exp := g.sched.Now().Add(g.cfg.Duration)
	if _, loaded := g.effects.LoadOrStore(id, exp); loaded {
		g.log.Debug("不朽效果已存在", zap.String("player", p.Name()))
		return false
	}

	if g.cfg.Particles {
		g.host.Particles(p.Location().Add(0, 1, 0), particleTotem, 30)
	}
	if g.cfg.Sound {
		g.host.Sound(p.Location(), soundGrant)
	}
	p.SendMessage(g.catalog.Prefixed("ghost.immortality.purchased",
		message.P("time", g.durations.Span(g.cfg.Duration))))
	g.persist()
	g.log.Info("授予不朽效果", zap.String("player", p.Name()), zap.Time("expires", exp))
	return true
}

// Trigger consumes p's effect and applies the totem treatment. It must run
// on p's partition. It reports whether the effect fired; the caller cancels
// the fatal damage iff it did.
func (g *Guard) Trigger(p world.Player) bool {
	v, ok := g.effects.LoadAndDelete(p.ID())
	if !ok {
		return false
	}
	g.persist()
	if !g.sched.Now().Before(v.(time.Time)) {
		return false
	}

	p.SetHealth(min(p.MaxHealth(), g.cfg.HealAmount))
	for _, e := range p.Effects() {
		if g.negative[e.Kind] {
			p.RemoveEffect(e.Kind)
		}
	}
	if g.cfg.GiveTotemEffects {
		for _, b := range totemBuffs {
			p.AddEffect(b)
		}
	}
	if g.cfg.Particles {
		g.host.Particles(p.Location().Add(0, 1, 0), particleTotem, 100)
	}
	if g.cfg.Sound {
		g.host.Sound(p.Location(), soundTrigger)
	}
	p.SendMessage(g.catalog.Prefixed("ghost.immortality.triggered"))
	g.log.Info("不朽效果觸發", zap.String("player", p.Name()))
	return true
}

// Subscribe intercepts fatal damage.
func (g *Guard) Subscribe() {
	event.SubscribeActive(g.bus, event.PriorityHighest, g.onDamage)
}

func (g *Guard) onDamage(ev *event.Damage) {
	p := ev.Player
	if !g.cfg.Enabled || p.Admin() || g.ghosts.IsGhost(p.ID()) || !ev.Fatal() {
		return
	}
	if g.Trigger(p) {
		ev.Cancel()
	}
}

// ==================== 定期任務 ====================

// Start runs the expiry sweep and the action bar loop on the global
// partition.
func (g *Guard) Start() {
	g.sweep = g.sched.Global(func(*region.Run) { g.sweepExpired() },
		region.Delay(g.cfg.SweepInterval), region.Every(g.cfg.SweepInterval))
	g.bar = g.sched.Global(func(*region.Run) { g.showRemaining() },
		region.Delay(g.cfg.ActionBarEvery), region.Every(g.cfg.ActionBarEvery))
}

func (g *Guard) Stop() {
	g.sweep.Cancel()
	g.bar.Cancel()
}

func (g *Guard) sweepExpired() {
	now := g.sched.Now()
	removed := 0
	g.effects.Range(func(k, v any) bool {
		id, exp := k.(uuid.UUID), v.(time.Time)
		if now.Before(exp) || !g.effects.CompareAndDelete(id, exp) {
			return true
		}
		removed++
		if p, online := g.host.Player(id); online {
			g.sched.OnEntity(p, func(*region.Run) {
				p.SendMessage(g.catalog.Prefixed("ghost.immortality.expired"))
			})
		}
		return true
	})
	if removed > 0 {
		g.persist()
		g.log.Debug("清除過期的不朽效果", zap.Int("count", removed))
	}
}

func (g *Guard) showRemaining() {
	g.effects.Range(func(k, _ any) bool {
		p, online := g.host.Player(k.(uuid.UUID))
		if !online {
			return true
		}
		g.sched.OnEntity(p, func(*region.Run) {
			if !p.Online() {
				return
			}
			if left := g.Remaining(p.ID()); left > 0 {
				p.SendActionBar(g.catalog.Get("ghost.immortality.actionbar",
					message.P("time", g.durations.Remaining(left))))
			}
		})
		return true
	})
}

// ==================== 存檔 ====================

func (g *Guard) snapshot() []persist.ImmortalityRecord {
	var out []persist.ImmortalityRecord
	g.effects.Range(func(k, v any) bool {
		out = append(out, persist.ImmortalityRecord{PlayerID: k.(uuid.UUID), Expires: v.(time.Time)})
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].PlayerID.String() < out[j].PlayerID.String() })
	return out
}

func (g *Guard) persist() {
	g.persistMu.Lock()
	defer g.persistMu.Unlock()
	g.writer.Immortality(g.snapshot())
}

// Load restores effects. Expired ones are left for the sweep.
func (g *Guard) Load(ctx context.Context) error {
	recs, err := g.writer.Store().LoadImmortality(ctx)
	if err != nil {
		return fmt.Errorf("load immortality: %w", err)
	}
	for _, r := range recs {
		g.effects.LoadOrStore(r.PlayerID, r.Expires)
	}
	g.log.Info("不朽資料已載入", zap.Int("effects", len(recs)))
	return nil
}

// Flush writes every effect synchronously.
func (g *Guard) Flush(ctx context.Context) error {
	g.persistMu.Lock()
	defer g.persistMu.Unlock()
	return g.writer.FlushImmortality(ctx, g.snapshot())
}
