package ghost

import (
	"math/rand/v2"

	"go.uber.org/zap"

	"github.com/kingdoms/afterlife/internal/config"
	"github.com/kingdoms/afterlife/internal/scripting"
	"github.com/kingdoms/afterlife/internal/world"
)

// maxCostSlots is how many item kinds the trade UI can take as payment.
const maxCostSlots = 2

// costPool rolls resurrection costs from the configured weighted pool.
type costPool struct {
	entries  []config.CostEntry
	fallback world.ItemStack
	host     world.Host
	scripts  *scripting.Engine
	log      *zap.Logger
	intn     func(n int) int
}

func newCostPool(cfg config.GhostConfig, host world.Host, scripts *scripting.Engine, log *zap.Logger) *costPool {
	fb := cfg.FallbackCost
	if kind, ok := host.MatchItem(fb.Kind); ok {
		fb.Kind = kind
	} else {
		fb = world.ItemStack{Kind: "DIAMOND", Count: 1}
	}
	if fb.Count <= 0 {
		fb.Count = 1
	}
	return &costPool{
		entries:  cfg.ResurrectionCosts,
		fallback: fb,
		host:     host,
		scripts:  scripts,
		log:      log,
		intn:     rand.IntN,
	}
}

func weightOf(e config.CostEntry) int {
	if e.Weight <= 0 {
		return 1
	}
	return e.Weight
}

func (c *costPool) pick() int {
	weights := make([]int, len(c.entries))
	total := 0
	for i, e := range c.entries {
		weights[i] = weightOf(e)
		total += weights[i]
	}
	if c.scripts != nil {
		if idx, ok := c.scripts.SelectResurrectionCost(weights); ok {
			return idx
		}
	}
	r := c.intn(total)
	for i, w := range weights {
		if r < w {
			return i
		}
		r -= w
	}
	return len(weights) - 1
}

// roll returns a fresh cost. Unknown item kinds are dropped; an empty pool
// or an entry with nothing usable yields the fallback item.
func (c *costPool) roll() []world.ItemStack {
	if len(c.entries) == 0 {
		return []world.ItemStack{c.fallback}
	}
	entry := c.entries[c.pick()]
	cost := c.normalize(entry.Items)
	if len(cost) == 0 {
		return []world.ItemStack{c.fallback}
	}
	return cost
}

// normalize matches item kinds against the host and keeps the slots the
// trade UI can carry.
func (c *costPool) normalize(items []world.ItemStack) []world.ItemStack {
	out := make([]world.ItemStack, 0, len(items))
	for _, it := range items {
		kind, ok := c.host.MatchItem(it.Kind)
		if !ok {
			c.log.Warn("略過未知的復活花費物品", zap.String("material", it.Kind))
			continue
		}
		n := it.Count
		if n <= 0 {
			n = 1
		}
		if len(out) == maxCostSlots {
			c.log.Warn("復活花費超過交易欄位數，已截斷", zap.Int("slots", maxCostSlots))
			break
		}
		out = append(out, world.ItemStack{Kind: kind, Count: n})
	}
	return out
}
