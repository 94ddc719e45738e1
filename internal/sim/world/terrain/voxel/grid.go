package voxel

import (
	"errors"
	"fmt"

	"github.com/cespare/xxhash/v2"

	"voxelstream.io/internal/sim/block"
)

const (
	SizeX  = 16
	SizeY  = 256
	SizeZ  = 16
	Volume = SizeX * SizeY * SizeZ
)

var ErrBadLength = errors.New("voxel: block buffer length mismatch")

type LocalPos struct {
	X, Y, Z int
}

// Grid is one column of voxels. It is immutable once constructed.
type Grid struct {
	blocks []block.ID // len = Volume, index x + y*SizeX + z*SizeX*SizeY
}

func Flat(id block.ID) *Grid {
	blocks := make([]block.ID, Volume)
	if id != block.Air {
		for i := range blocks {
			blocks[i] = id
		}
	}
	return &Grid{blocks: blocks}
}

// FromBlocks takes ownership of blocks; callers must not modify the slice afterwards.
func FromBlocks(blocks []block.ID) (*Grid, error) {
	if len(blocks) != Volume {
		return nil, fmt.Errorf("%w: got %d want %d", ErrBadLength, len(blocks), Volume)
	}
	return &Grid{blocks: blocks}, nil
}

func InBounds(p LocalPos) bool {
	return p.X >= 0 && p.Y >= 0 && p.Z >= 0 && p.X < SizeX && p.Y < SizeY && p.Z < SizeZ
}

func IndexOf(p LocalPos) (int, bool) {
	if !InBounds(p) {
		return 0, false
	}
	return p.X + p.Y*SizeX + p.Z*SizeX*SizeY, true
}

func PosOf(i int) LocalPos {
	return LocalPos{
		X: i % SizeX,
		Y: (i / SizeX) % SizeY,
		Z: i / (SizeX * SizeY),
	}
}

// Get returns false for any out-of-range coordinate.
func (g *Grid) Get(p LocalPos) (block.ID, bool) {
	i, ok := IndexOf(p)
	if !ok || g == nil {
		return block.Air, false
	}
	return g.blocks[i], true
}

// Blocks exposes the flat buffer in scan order. It must not be modified.
func (g *Grid) Blocks() []block.ID { return g.blocks }

func (g *Grid) Equal(o *Grid) bool {
	if g == nil || o == nil {
		return g == o
	}
	if len(g.blocks) != len(o.blocks) {
		return false
	}
	for i := range g.blocks {
		if g.blocks[i] != o.blocks[i] {
			return false
		}
	}
	return true
}

func (g *Grid) Digest() uint64 {
	buf := make([]byte, len(g.blocks))
	for i, b := range g.blocks {
		buf[i] = byte(b)
	}
	return xxhash.Sum64(buf)
}

// Iter walks every local position with x fastest, then y, then z.
// This is the order the run-length codec scans.
func (g *Grid) Iter() *Iter { return &Iter{} }

// Each calls fn for every cell in scan order.
func (g *Grid) Each(fn func(p LocalPos, id block.ID)) {
	for i, b := range g.blocks {
		fn(PosOf(i), b)
	}
}

type Iter struct {
	i int
}

func (it *Iter) Next() (LocalPos, bool) {
	if it.i >= Volume {
		return LocalPos{}, false
	}
	p := PosOf(it.i)
	it.i++
	return p, true
}

func (it *Iter) Reset() { it.i = 0 }
