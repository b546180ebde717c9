package region

import (
	"fmt"
	"math"

	"github.com/kingdoms/afterlife/internal/world"
)

// DefaultCellSize is the partition edge length in blocks.
const DefaultCellSize = 128

// Key identifies one partition.
type Key struct {
	World string
	X     int64
	Z     int64
}

func (k Key) String() string {
	if k.World == "" {
		return "global"
	}
	return fmt.Sprintf("%s[%d,%d]", k.World, k.X, k.Z)
}

// Partitioner maps locations to square cells of a world.
type Partitioner struct {
	Cell float64
}

// NewPartitioner returns a partitioner with the given cell size, or the
// default when size is not positive.
func NewPartitioner(size float64) Partitioner {
	if size <= 0 {
		size = DefaultCellSize
	}
	return Partitioner{Cell: size}
}

func (p Partitioner) cell() float64 {
	if p.Cell <= 0 {
		return DefaultCellSize
	}
	return p.Cell
}

// Key returns the partition owning loc. Negative coordinates floor toward
// negative infinity so -1 and 0 land in different cells.
func (p Partitioner) Key(loc world.Location) Key {
	c := p.cell()
	return Key{
		World: loc.World,
		X:     int64(math.Floor(loc.X / c)),
		Z:     int64(math.Floor(loc.Z / c)),
	}
}
