package ghost

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kingdoms/afterlife/internal/persist"
	"github.com/kingdoms/afterlife/internal/world"
)

// State is one active ghost. The identity fields never change after the
// record is stored; the pending resurrection fields sit behind mu.
type State struct {
	PlayerID      uuid.UUID
	Name          string
	KingdomID     string
	DeathTime     time.Time
	Duration      time.Duration
	Cost          []world.ItemStack
	DeathLocation *world.Location
	BedSpawn      *world.Location

	mu       sync.Mutex
	pending  bool
	resLoc   *world.Location
	resBy    *uuid.UUID
	loopGen  uint64
	notified bool
}

// Expires returns the instant self-resurrection becomes available.
func (s *State) Expires() time.Time { return s.DeathTime.Add(s.Duration) }

// Remaining returns the time left until Expires, never negative.
func (s *State) Remaining(now time.Time) time.Duration {
	d := s.Expires().Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// CanSelfResurrect reports whether now is at or past Expires.
func (s *State) CanSelfResurrect(now time.Time) bool {
	return !now.Before(s.Expires())
}

// PendingResurrection returns the deferred request stored while the ghost
// was offline.
func (s *State) PendingResurrection() (dest *world.Location, by *uuid.UUID, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resLoc, s.resBy, s.pending
}

// setPending stores a deferred request. It fails when one is already stored.
func (s *State) setPending(dest world.Location, by *uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending {
		return false
	}
	s.pending = true
	s.resLoc = dest.Ptr()
	if by != nil {
		id := *by
		s.resBy = &id
	}
	return true
}

// nextLoop starts a new presentation generation. Loops started under an
// older generation stop on their next run.
func (s *State) nextLoop() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loopGen++
	s.notified = false
	return s.loopGen
}

func (s *State) currentLoop(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loopGen == gen
}

// markNotified reports true the first time it is called in a generation.
func (s *State) markNotified() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.notified {
		return false
	}
	s.notified = true
	return true
}

func (s *State) record() persist.GhostRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return persist.GhostRecord{
		PlayerID:             s.PlayerID,
		Name:                 s.Name,
		Kingdom:              s.KingdomID,
		DeathTime:            s.DeathTime,
		Duration:             s.Duration,
		PendingResurrection:  s.pending,
		ResurrectionLocation: s.resLoc,
		ResurrectedBy:        s.resBy,
		Cost:                 append([]world.ItemStack(nil), s.Cost...),
		DeathLocation:        s.DeathLocation,
		BedSpawn:             s.BedSpawn,
	}
}

func fromRecord(r persist.GhostRecord) *State {
	return &State{
		PlayerID:      r.PlayerID,
		Name:          r.Name,
		KingdomID:     r.Kingdom,
		DeathTime:     r.DeathTime,
		Duration:      r.Duration,
		Cost:          r.Cost,
		DeathLocation: r.DeathLocation,
		BedSpawn:      r.BedSpawn,
		pending:       r.PendingResurrection,
		resLoc:        r.ResurrectionLocation,
		resBy:         r.ResurrectedBy,
	}
}
