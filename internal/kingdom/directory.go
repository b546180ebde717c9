// Package kingdom answers membership and spawn queries. Membership
// assignment lives outside this service; Static only reads what it is given.
package kingdom

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/kingdoms/afterlife/internal/world"
)

// Directory maps players to kingdoms.
type Directory interface {
	KingdomOf(player uuid.UUID) (string, bool)
}

// SpawnDirectory maps kingdoms to their group spawn.
type SpawnDirectory interface {
	SpawnOf(kingdom string) (world.Location, bool)
}

type entry struct {
	DisplayName string          `yaml:"display-name"`
	Spawn       *world.Location `yaml:"spawn"`
	Players     []string        `yaml:"players"`
}

type file struct {
	Kingdoms map[string]entry `yaml:"kingdoms"`
}

// Static is a Directory and SpawnDirectory read from kingdoms.yml.
type Static struct {
	mu      sync.RWMutex
	members map[uuid.UUID]string
	spawns  map[string]world.Location
	names   map[string]string
}

func NewStatic() *Static {
	return &Static{
		members: make(map[uuid.UUID]string),
		spawns:  make(map[string]world.Location),
		names:   make(map[string]string),
	}
}

// LoadStatic reads kingdoms.yml. Malformed player ids are skipped.
func LoadStatic(path string, log *zap.Logger) (*Static, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read kingdoms: %w", err)
	}
	var f file
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse kingdoms: %w", err)
	}
	s := NewStatic()
	for id, k := range f.Kingdoms {
		s.names[id] = k.DisplayName
		if k.Spawn != nil && k.Spawn.Valid() {
			s.spawns[id] = *k.Spawn
		}
		for _, p := range k.Players {
			pid, err := uuid.Parse(p)
			if err != nil {
				log.Warn("略過無效的成員 UUID", zap.String("kingdom", id), zap.String("value", p))
				continue
			}
			s.members[pid] = id
		}
	}
	return s, nil
}

// Assign sets a player's kingdom. An empty kingdom removes the player.
func (s *Static) Assign(player uuid.UUID, kingdom string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if kingdom == "" {
		delete(s.members, player)
		return
	}
	s.members[player] = kingdom
}

// SetSpawn sets a kingdom's group spawn.
func (s *Static) SetSpawn(kingdom string, loc world.Location) {
	s.mu.Lock()
	s.spawns[kingdom] = loc
	s.mu.Unlock()
}

func (s *Static) KingdomOf(player uuid.UUID) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k, ok := s.members[player]
	return k, ok
}

func (s *Static) SpawnOf(kingdom string) (world.Location, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	loc, ok := s.spawns[kingdom]
	return loc, ok
}

// DisplayName returns the configured name, or the id itself.
func (s *Static) DisplayName(kingdom string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n := s.names[kingdom]; n != "" {
		return n
	}
	return kingdom
}

// Kingdoms lists every kingdom id with members, a spawn or a name.
func (s *Static) Kingdoms() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]bool)
	for _, k := range s.members {
		seen[k] = true
	}
	for k := range s.spawns {
		seen[k] = true
	}
	for k := range s.names {
		seen[k] = true
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// OnlineMembers returns the online players of a kingdom.
func OnlineMembers(h world.Host, d Directory, kingdom string) []world.Player {
	var out []world.Player
	for _, p := range h.OnlinePlayers() {
		if k, ok := d.KingdomOf(p.ID()); ok && k == kingdom {
			out = append(out, p)
		}
	}
	return out
}
