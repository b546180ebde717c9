package world

import (
	"fmt"
	"time"
)

// Location is a position in a named world. An empty World means "no location".
type Location struct {
	World string  `yaml:"world"`
	X     float64 `yaml:"x"`
	Y     float64 `yaml:"y"`
	Z     float64 `yaml:"z"`
	Yaw   float32 `yaml:"yaw,omitempty"`
	Pitch float32 `yaml:"pitch,omitempty"`
}

// Valid reports whether the location names a world.
func (l Location) Valid() bool { return l.World != "" }

// Add returns a copy of l offset by the given deltas.
func (l Location) Add(dx, dy, dz float64) Location {
	l.X += dx
	l.Y += dy
	l.Z += dz
	return l
}

// DistanceSquared returns the squared euclidean distance, ignoring the world.
func (l Location) DistanceSquared(o Location) float64 {
	dx := l.X - o.X
	dy := l.Y - o.Y
	dz := l.Z - o.Z
	return dx*dx + dy*dy + dz*dz
}

func (l Location) String() string {
	if !l.Valid() {
		return "<none>"
	}
	return fmt.Sprintf("%s: %.1f, %.1f, %.1f", l.World, l.X, l.Y, l.Z)
}

// Ptr returns a pointer to a copy of l, or nil when l is not valid.
func (l Location) Ptr() *Location {
	if !l.Valid() {
		return nil
	}
	return &l
}

// ItemStack is a kind of item and a quantity.
type ItemStack struct {
	Kind  string `yaml:"material" json:"material" toml:"material"`
	Count int    `yaml:"amount" json:"amount" toml:"amount"`
}

func (s ItemStack) String() string { return fmt.Sprintf("%dx %s", s.Count, s.Kind) }

// GameMode is the player's interaction mode.
type GameMode int

const (
	Survival GameMode = iota
	Adventure
)

// Infinite marks an effect that never runs out.
const Infinite time.Duration = -1

// Effect is a timed status effect on a player.
type Effect struct {
	Kind      string
	Duration  time.Duration
	Amplifier int
	Hidden    bool // no particles or icon
}

// Default flight speed restored when a ghost is resurrected.
const DefaultFlySpeed float32 = 0.1
