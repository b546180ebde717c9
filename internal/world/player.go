package world

import (
	"sort"
	"sync"

	"github.com/google/uuid"
)

// PlayerInfo is one session of a player in the in-memory host.
type PlayerInfo struct {
	mu sync.Mutex

	id     uuid.UUID
	name   string
	online bool
	dead   bool
	admin  bool
	loc    Location

	respawn    Location
	respawnOK  bool
	respawnErr error

	mode      GameMode
	allowFly  bool
	flying    bool
	flySpeed  float32
	glowing   bool
	effects   map[string]Effect
	health    float64
	maxHealth float64
	food      int

	messages   []string
	actionBar  string
	merchant   []TradeOffer
	merchTitle string

	failTeleport bool
	teleports    int
}

// copyProfile carries persistent player state across a reconnect.
func (p *PlayerInfo) copyProfile(old *PlayerInfo) {
	old.mu.Lock()
	defer old.mu.Unlock()
	p.admin = old.admin
	p.mode = old.mode
	p.allowFly, p.flying, p.flySpeed = old.allowFly, old.flying, old.flySpeed
	p.glowing = old.glowing
	for k, e := range old.effects {
		p.effects[k] = e
	}
	p.respawn, p.respawnOK, p.respawnErr = old.respawn, old.respawnOK, old.respawnErr
	p.health, p.dead = old.health, old.dead
}

func (p *PlayerInfo) setOnline(v bool) {
	p.mu.Lock()
	p.online = v
	p.mu.Unlock()
}

func (p *PlayerInfo) ID() uuid.UUID { return p.id }
func (p *PlayerInfo) Name() string  { return p.name }

func (p *PlayerInfo) Online() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.online
}

func (p *PlayerInfo) Dead() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dead
}

func (p *PlayerInfo) Admin() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.admin
}

func (p *PlayerInfo) Location() Location {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loc
}

func (p *PlayerInfo) RespawnLocation() (Location, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.respawn, p.respawnOK, p.respawnErr
}

func (p *PlayerInfo) GameMode() GameMode {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mode
}

func (p *PlayerInfo) SetGameMode(m GameMode) {
	p.mu.Lock()
	p.mode = m
	p.mu.Unlock()
}

func (p *PlayerInfo) SetFlight(allow, flying bool, speed float32) {
	if speed < 0 {
		speed = 0
	} else if speed > 1 {
		speed = 1
	}
	p.mu.Lock()
	p.allowFly, p.flying, p.flySpeed = allow, flying, speed
	p.mu.Unlock()
}

// Flight returns the current flight flags and speed.
func (p *PlayerInfo) Flight() (allow, flying bool, speed float32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.allowFly, p.flying, p.flySpeed
}

func (p *PlayerInfo) SetGlowing(v bool) {
	p.mu.Lock()
	p.glowing = v
	p.mu.Unlock()
}

// Glowing reports the glowing outline flag.
func (p *PlayerInfo) Glowing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.glowing
}

func (p *PlayerInfo) AddEffect(e Effect) {
	p.mu.Lock()
	p.effects[e.Kind] = e
	p.mu.Unlock()
}

func (p *PlayerInfo) RemoveEffect(kind string) {
	p.mu.Lock()
	delete(p.effects, kind)
	p.mu.Unlock()
}

func (p *PlayerInfo) Effects() []Effect {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Effect, 0, len(p.effects))
	for _, e := range p.effects {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	return out
}

// HasEffect reports whether an effect of kind is active.
func (p *PlayerInfo) HasEffect(kind string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.effects[kind]
	return ok
}

func (p *PlayerInfo) Health() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.health
}

func (p *PlayerInfo) MaxHealth() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.maxHealth
}

func (p *PlayerInfo) SetHealth(v float64) {
	p.mu.Lock()
	if v > p.maxHealth {
		v = p.maxHealth
	}
	p.health = v
	p.dead = v <= 0
	p.mu.Unlock()
}

func (p *PlayerInfo) Feed() {
	p.mu.Lock()
	p.food = 20
	p.mu.Unlock()
}

func (p *PlayerInfo) SendMessage(text string) {
	p.mu.Lock()
	p.messages = append(p.messages, text)
	p.mu.Unlock()
}

func (p *PlayerInfo) SendActionBar(text string) {
	p.mu.Lock()
	p.actionBar = text
	p.mu.Unlock()
}

func (p *PlayerInfo) OpenMerchant(title string, offers []TradeOffer) {
	p.mu.Lock()
	p.merchTitle = title
	p.merchant = append([]TradeOffer(nil), offers...)
	p.mu.Unlock()
}

func (p *PlayerInfo) Teleport(dest Location) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failTeleport || !p.online {
		return false
	}
	p.loc = dest
	p.teleports++
	return true
}

// Test and adapter setters.

func (p *PlayerInfo) SetDead(v bool) {
	p.mu.Lock()
	p.dead = v
	if v {
		p.health = 0
	}
	p.mu.Unlock()
}

func (p *PlayerInfo) SetRespawn(loc Location, ok bool, err error) {
	p.mu.Lock()
	p.respawn, p.respawnOK, p.respawnErr = loc, ok, err
	p.mu.Unlock()
}

func (p *PlayerInfo) SetAdmin(v bool) {
	p.mu.Lock()
	p.admin = v
	p.mu.Unlock()
}

func (p *PlayerInfo) Move(to Location) {
	p.mu.Lock()
	p.loc = to
	p.mu.Unlock()
}

// FailTeleports makes every later Teleport report failure.
func (p *PlayerInfo) FailTeleports(v bool) {
	p.mu.Lock()
	p.failTeleport = v
	p.mu.Unlock()
}

// Messages returns the chat lines sent to this session.
func (p *PlayerInfo) Messages() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.messages...)
}

// ActionBar returns the last action bar text.
func (p *PlayerInfo) ActionBar() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.actionBar
}

// Merchant returns the last opened merchant UI.
func (p *PlayerInfo) Merchant() (string, []TradeOffer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.merchTitle, append([]TradeOffer(nil), p.merchant...)
}

// Teleports counts successful teleports.
func (p *PlayerInfo) Teleports() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.teleports
}

// Slots is a two-slot merchant input used by hosts without a real inventory.
type Slots [2]*ItemStack

func (s *Slots) Slot(i int) (ItemStack, bool) {
	if i < 0 || i >= len(s) || s[i] == nil {
		return ItemStack{}, false
	}
	return *s[i], true
}

func (s *Slots) SetSlot(i int, stack ItemStack) {
	if i < 0 || i >= len(s) {
		return
	}
	if stack.Count <= 0 || stack.Kind == "" {
		s[i] = nil
		return
	}
	st := stack
	s[i] = &st
}
