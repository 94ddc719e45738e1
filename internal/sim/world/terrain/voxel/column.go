package voxel

import "math"

// ColumnPos addresses one Grid in the world's XZ plane.
type ColumnPos struct {
	X int32
	Z int32
}

type Direction uint8

const (
	North Direction = iota // +Z
	South                  // -Z
	East                   // +X
	West                   // -X
	Up
	Down
)

func (d Direction) String() string {
	switch d {
	case North:
		return "north"
	case South:
		return "south"
	case East:
		return "east"
	case West:
		return "west"
	case Up:
		return "up"
	case Down:
		return "down"
	}
	return "unknown"
}

// Vec returns the unit offset of d in block space.
func (d Direction) Vec() LocalPos {
	switch d {
	case North:
		return LocalPos{Z: 1}
	case South:
		return LocalPos{Z: -1}
	case East:
		return LocalPos{X: 1}
	case West:
		return LocalPos{X: -1}
	case Up:
		return LocalPos{Y: 1}
	case Down:
		return LocalPos{Y: -1}
	}
	return LocalPos{}
}

// Neighbor reports the adjacent column in direction d. Columns span the full
// height so Up and Down have no neighbor.
func (p ColumnPos) Neighbor(d Direction) (ColumnPos, bool) {
	v := d.Vec()
	if v.Y != 0 || (v.X == 0 && v.Z == 0) {
		return p, false
	}
	return ColumnPos{X: p.X + int32(v.X), Z: p.Z + int32(v.Z)}, true
}

func (p ColumnPos) IsNeighbor(o ColumnPos) bool {
	dx := absInt32(p.X - o.X)
	dz := absInt32(p.Z - o.Z)
	return dx+dz == 1
}

// Origin is the world-space block coordinate of local (0, 0, 0).
func (p ColumnPos) Origin() (x, z int) {
	return int(p.X) * SizeX, int(p.Z) * SizeZ
}

// ColumnAt maps a world position to the column containing it, rounding to the
// nearest column rather than flooring.
func ColumnAt(x, z float64) ColumnPos {
	return ColumnPos{
		X: int32(math.Round(x / SizeX)),
		Z: int32(math.Round(z / SizeZ)),
	}
}

func absInt32(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}
