package world

import (
	"github.com/google/uuid"
)

// Player is the live handle the host exposes for an online player session.
// A reconnect produces a new handle; an old one reports Online() == false.
type Player interface {
	ID() uuid.UUID
	Name() string
	Online() bool
	Dead() bool
	Admin() bool
	Location() Location

	// RespawnLocation returns the bed or anchor spawn point. It can fail when
	// the anchor is owned by a partition other than the caller's.
	RespawnLocation() (Location, bool, error)

	GameMode() GameMode
	SetGameMode(GameMode)
	SetFlight(allow, flying bool, speed float32)
	SetGlowing(bool)
	AddEffect(Effect)
	RemoveEffect(kind string)
	Effects() []Effect

	Health() float64
	MaxHealth() float64
	SetHealth(float64)
	Feed()

	SendMessage(text string)
	SendActionBar(text string)
	OpenMerchant(title string, offers []TradeOffer)

	// Teleport moves the player. Hosts call it from the async pool; the
	// scheduler wraps it as a Future.
	Teleport(dest Location) bool
}

// ObjectKind distinguishes the two halves of an altar.
type ObjectKind int

const (
	ObjectVisual ObjectKind = iota
	ObjectInteraction
)

func (k ObjectKind) String() string {
	if k == ObjectInteraction {
		return "interaction"
	}
	return "visual"
}

// Tags every altar object carries.
const (
	TagAltarID = "altar_id"
	TagKingdom = "kingdom"
)

// Object is a persistent tagged world object.
type Object struct {
	ID       uuid.UUID
	Kind     ObjectKind
	Location Location
	Tags     map[string]string
}

// TradeOffer is one row of the merchant UI.
type TradeOffer struct {
	Title       string
	Lore        []string
	Cost        []ItemStack
	Purchasable bool
}

// TradeSlots are the input slots of an open merchant UI.
type TradeSlots interface {
	Slot(i int) (ItemStack, bool)
	SetSlot(i int, stack ItemStack)
}

// Host is the world-entity API consumed by the afterlife components.
type Host interface {
	Player(id uuid.UUID) (Player, bool)
	OnlinePlayers() []Player

	WorldLoaded(name string) bool
	Worlds() []string

	// MatchItem normalizes an item kind name, reporting false for unknown kinds.
	MatchItem(name string) (string, bool)

	Spawn(loc Location, kind ObjectKind, tags map[string]string) (uuid.UUID, error)
	Despawn(id uuid.UUID) bool
	Objects(world string) []Object

	Particles(loc Location, kind string, count int)
	Sound(loc Location, kind string)
}
