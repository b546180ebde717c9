package persist

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kingdoms/afterlife/internal/world"
)

// GhostRecord is the persisted form of a ghost.
type GhostRecord struct {
	PlayerID             uuid.UUID
	Name                 string
	Kingdom              string
	DeathTime            time.Time
	Duration             time.Duration
	PendingResurrection  bool
	ResurrectionLocation *world.Location
	ResurrectedBy        *uuid.UUID
	Cost                 []world.ItemStack
	DeathLocation        *world.Location
	BedSpawn             *world.Location
}

// AltarRecord is the persisted form of an altar. Object ids are uuid.Nil
// when the object was never spawned or has been lost.
type AltarRecord struct {
	ID            uuid.UUID
	Kingdom       string
	Location      world.Location
	VisualID      uuid.UUID
	InteractionID uuid.UUID
}

// ImmortalityRecord is one active immortality effect.
type ImmortalityRecord struct {
	PlayerID uuid.UUID
	Expires  time.Time
}

// PendingRecord is a death that was decided but not yet turned into a ghost.
type PendingRecord struct {
	PlayerID      uuid.UUID
	Kingdom       string
	DeathLocation *world.Location
	BedSpawn      *world.Location
}

// EncodeLocation renders loc as "world;x;y;z;yaw;pitch".
func EncodeLocation(loc *world.Location) string {
	if loc == nil || !loc.Valid() {
		return ""
	}
	return fmt.Sprintf("%s;%s;%s;%s;%s;%s", loc.World,
		strconv.FormatFloat(loc.X, 'f', -1, 64),
		strconv.FormatFloat(loc.Y, 'f', -1, 64),
		strconv.FormatFloat(loc.Z, 'f', -1, 64),
		strconv.FormatFloat(float64(loc.Yaw), 'f', -1, 32),
		strconv.FormatFloat(float64(loc.Pitch), 'f', -1, 32))
}

// DecodeLocation parses EncodeLocation output. Empty input is no location;
// yaw and pitch are optional.
func DecodeLocation(s string) (*world.Location, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ";")
	if len(parts) != 4 && len(parts) != 6 {
		return nil, fmt.Errorf("location %q: want 4 or 6 fields", s)
	}
	if parts[0] == "" {
		return nil, fmt.Errorf("location %q: empty world", s)
	}
	var nums [5]float64
	for i, p := range parts[1:] {
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return nil, fmt.Errorf("location %q: %w", s, err)
		}
		nums[i] = v
	}
	return &world.Location{
		World: parts[0],
		X:     nums[0],
		Y:     nums[1],
		Z:     nums[2],
		Yaw:   float32(nums[3]),
		Pitch: float32(nums[4]),
	}, nil
}
