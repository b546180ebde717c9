package ghost

import (
	"go.uber.org/zap"

	"github.com/kingdoms/afterlife/internal/region"
	"github.com/kingdoms/afterlife/internal/world"
)

// ResolveSafe picks a resurrection point without touching live player
// state: the respawn point captured at death, then the kingdom spawn, then
// the death location. It returns nil when none is usable; the caller then
// falls back to the player's current position. It never returns a world
// default spawn.
func (m *Manager) ResolveSafe(st *State) *world.Location {
	if m.usable(st.BedSpawn) {
		return copyLoc(st.BedSpawn)
	}
	if spawn, ok := m.spawns.SpawnOf(st.KingdomID); ok && m.usable(&spawn) {
		return &spawn
	}
	if m.usable(st.DeathLocation) {
		return copyLoc(st.DeathLocation)
	}
	return nil
}

// ResolveLocation is ResolveSafe preceded by a live respawn point lookup,
// attempted only when run executes on the partition that owns p.
func (m *Manager) ResolveLocation(run *region.Run, p world.Player, st *State) *world.Location {
	if run != nil && run.Owns(p.Location()) {
		loc, ok, err := p.RespawnLocation()
		switch {
		case err != nil:
			m.log.Debug("無法取得重生點", zap.String("player", p.Name()), zap.Error(err))
		case ok && m.usable(&loc):
			return &loc
		}
	}
	return m.ResolveSafe(st)
}

func (m *Manager) usable(loc *world.Location) bool {
	return loc != nil && loc.Valid() && m.host.WorldLoaded(loc.World)
}
