package event

import (
	"github.com/google/uuid"

	"github.com/kingdoms/afterlife/internal/world"
)

// Host events. The host dispatches each on the partition owning the player.

type Death struct {
	Player   world.Player
	Location world.Location
}

type Join struct {
	Player world.Player
}

type Quit struct {
	Player world.Player
}

// Damage is dispatched before damage applies. Final is the amount after
// armor. Attacker is set when another player caused it.
type Damage struct {
	Player   world.Player
	Final    float64
	Attacker *uuid.UUID
	Outcome
}

// Fatal reports whether the damage would kill the player.
func (d *Damage) Fatal() bool { return d.Player.Health()-d.Final <= 0 }

type InteractKind int

const (
	InteractBlock InteractKind = iota
	InteractContainer
	InteractEntity
	InteractPickup
	InteractDrop
	InteractBed
	InteractConsume
	InteractBreak
	InteractPlace
	InteractAttack
	InteractTargeted // a mob selected the player as target
	InteractGameEvent
)

var interactNames = [...]string{
	"block", "container", "entity", "pickup", "drop", "bed",
	"consume", "break", "place", "attack", "targeted", "game_event",
}

func (k InteractKind) String() string {
	if int(k) < len(interactNames) {
		return interactNames[k]
	}
	return "unknown"
}

// Interaction is any player-initiated world interaction the host lets
// handlers veto.
type Interaction struct {
	Player world.Player
	Kind   InteractKind
	Block  string        // block or container kind, upper case
	Object *world.Object // for InteractEntity
	Outcome
}

type Move struct {
	Player world.Player
	From   world.Location
	To     world.Location
	Outcome
}

// TradeSelect fires when the player picks an offer in an open merchant UI.
type TradeSelect struct {
	Player world.Player
	Index  int
	Slots  world.TradeSlots
	Outcome
}

type MerchantClose struct {
	Player world.Player
}

// GhostChanged is emitted after a player enters or leaves the ghost state.
type GhostChanged struct {
	PlayerID uuid.UUID
	Ghost    bool
}
