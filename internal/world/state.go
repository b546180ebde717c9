package world

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// ErrUnknownWorld is returned when spawning into a world the host does not have.
var ErrUnknownWorld = errors.New("unknown world")

// State is an in-memory Host. cmd/afterlife runs against it when no game
// server adapter is attached, and the package tests use it as their world.
type State struct {
	mu      sync.RWMutex
	worlds  map[string]bool
	items   map[string]bool // nil accepts any well-formed kind
	players map[uuid.UUID]*PlayerInfo
	objects map[uuid.UUID]*Object

	fxMu      sync.Mutex
	particles []string
	sounds    []string
}

// NewState creates a host with the given loaded worlds.
func NewState(worlds ...string) *State {
	s := &State{
		worlds:  make(map[string]bool, len(worlds)),
		players: make(map[uuid.UUID]*PlayerInfo),
		objects: make(map[uuid.UUID]*Object),
	}
	for _, w := range worlds {
		s.worlds[w] = true
	}
	return s
}

// SetItemKinds restricts MatchItem to the given kinds.
func (s *State) SetItemKinds(kinds ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = make(map[string]bool, len(kinds))
	for _, k := range kinds {
		s.items[strings.ToUpper(k)] = true
	}
}

// AddWorld marks a world as loaded.
func (s *State) AddWorld(name string) {
	s.mu.Lock()
	s.worlds[name] = true
	s.mu.Unlock()
}

// Join creates a new online session for the player. Any previous session
// handle for the same id goes offline.
func (s *State) Join(id uuid.UUID, name string, at Location) *PlayerInfo {
	p := &PlayerInfo{
		id:        id,
		name:      name,
		online:    true,
		loc:       at,
		maxHealth: 20,
		health:    20,
		food:      20,
		flySpeed:  DefaultFlySpeed,
		effects:   make(map[string]Effect),
	}
	s.mu.Lock()
	if old, ok := s.players[id]; ok {
		old.setOnline(false)
		p.copyProfile(old)
	}
	s.players[id] = p
	s.mu.Unlock()
	return p
}

// Quit takes the player's session offline.
func (s *State) Quit(id uuid.UUID) {
	s.mu.Lock()
	p, ok := s.players[id]
	s.mu.Unlock()
	if ok {
		p.setOnline(false)
	}
}

func (s *State) Player(id uuid.UUID) (Player, bool) {
	s.mu.RLock()
	p, ok := s.players[id]
	s.mu.RUnlock()
	if !ok || !p.Online() {
		return nil, false
	}
	return p, true
}

func (s *State) OnlinePlayers() []Player {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Player, 0, len(s.players))
	for _, p := range s.players {
		if p.Online() {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

func (s *State) WorldLoaded(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.worlds[name]
}

func (s *State) Worlds() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.worlds))
	for w := range s.worlds {
		out = append(out, w)
	}
	sort.Strings(out)
	return out
}

func (s *State) MatchItem(name string) (string, bool) {
	kind := strings.ToUpper(strings.TrimSpace(name))
	kind = strings.TrimPrefix(kind, "MINECRAFT:")
	if kind == "" || strings.ContainsFunc(kind, func(r rune) bool {
		return !(r == '_' || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'))
	}) {
		return "", false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.items != nil && !s.items[kind] {
		return "", false
	}
	return kind, true
}

func (s *State) Spawn(loc Location, kind ObjectKind, tags map[string]string) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.worlds[loc.World] {
		return uuid.Nil, fmt.Errorf("spawn %s at %s: %w", kind, loc, ErrUnknownWorld)
	}
	obj := &Object{ID: uuid.New(), Kind: kind, Location: loc, Tags: make(map[string]string, len(tags))}
	for k, v := range tags {
		obj.Tags[k] = v
	}
	s.objects[obj.ID] = obj
	return obj.ID, nil
}

// PlaceObject inserts an object with a fixed id, as if it had survived a restart.
func (s *State) PlaceObject(obj Object) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o := obj
	s.objects[o.ID] = &o
}

func (s *State) Despawn(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[id]; !ok {
		return false
	}
	delete(s.objects, id)
	return true
}

func (s *State) Objects(world string) []Object {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Object, 0)
	for _, o := range s.objects {
		if o.Location.World == world {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out
}

// Object looks up a live object by id.
func (s *State) Object(id uuid.UUID) (Object, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.objects[id]
	if !ok {
		return Object{}, false
	}
	return *o, true
}

func (s *State) Particles(loc Location, kind string, count int) {
	s.fxMu.Lock()
	if len(s.particles) >= 256 {
		s.particles = s.particles[1:]
	}
	s.particles = append(s.particles, kind)
	s.fxMu.Unlock()
}

func (s *State) Sound(loc Location, kind string) {
	s.fxMu.Lock()
	if len(s.sounds) >= 256 {
		s.sounds = s.sounds[1:]
	}
	s.sounds = append(s.sounds, kind)
	s.fxMu.Unlock()
}

// ParticleCount reports how many particle bursts of kind were recorded.
func (s *State) ParticleCount(kind string) int {
	s.fxMu.Lock()
	defer s.fxMu.Unlock()
	n := 0
	for _, k := range s.particles {
		if k == kind {
			n++
		}
	}
	return n
}
