package encoding

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"

	"voxelstream.io/internal/sim/block"
	"voxelstream.io/internal/sim/world/terrain/voxel"
)

// SurfaceCells is the number of (x, z) cells in one column.
const SurfaceCells = voxel.SizeX * voxel.SizeZ

var ErrSurfaceCells = errors.New("surface does not cover the column")

// Surface is a column seen from above. For each (x, z) cell, x fastest, it
// holds the height of the highest non-air block and that block. Cells of
// pure air report height 0 and Air.
type Surface struct {
	Heights [SurfaceCells]uint16
	Tops    [SurfaceCells]block.ID
}

func SurfaceOf(g *voxel.Grid) Surface {
	var s Surface
	for z := 0; z < voxel.SizeZ; z++ {
		for x := 0; x < voxel.SizeX; x++ {
			for y := voxel.SizeY - 1; y >= 0; y-- {
				id, _ := g.Get(voxel.LocalPos{X: x, Y: y, Z: z})
				if !id.IsAir() {
					s.Heights[x+z*voxel.SizeX] = uint16(y)
					s.Tops[x+z*voxel.SizeX] = id
					break
				}
			}
		}
	}
	return s
}

func (s *Surface) At(x, z int) (uint16, block.ID) {
	i := x + z*voxel.SizeX
	return s.Heights[i], s.Tops[i]
}

// HeightRange returns the lowest and highest cell heights.
func (s *Surface) HeightRange() (lo, hi uint16) {
	lo = s.Heights[0]
	for _, h := range s.Heights {
		if h < lo {
			lo = h
		}
		if h > hi {
			hi = h
		}
	}
	return lo, hi
}

// Encode returns Heights and Tops as base64 of (value, run) uvarint pairs.
func (s *Surface) Encode() (heights, tops string) {
	var ids [SurfaceCells]uint16
	for i, id := range s.Tops {
		ids[i] = uint16(id)
	}
	return encodeCells(&s.Heights), encodeCells(&ids)
}

// DecodeSurface reverses Encode. Each string must cover exactly
// SurfaceCells cells.
func DecodeSurface(heights, tops string) (Surface, error) {
	var s Surface
	if err := decodeCells(heights, &s.Heights); err != nil {
		return Surface{}, fmt.Errorf("heights: %w", err)
	}
	var ids [SurfaceCells]uint16
	if err := decodeCells(tops, &ids); err != nil {
		return Surface{}, fmt.Errorf("tops: %w", err)
	}
	for i, v := range ids {
		if v > 0xFF || !block.ID(v).Valid() {
			return Surface{}, fmt.Errorf("tops: cell %d: %w: %d", i, ErrBadBlock, v)
		}
		s.Tops[i] = block.ID(v)
		if s.Heights[i] >= voxel.SizeY {
			return Surface{}, fmt.Errorf("heights: cell %d: %d out of range", i, s.Heights[i])
		}
	}
	return s, nil
}

func encodeCells(cells *[SurfaceCells]uint16) string {
	var buf bytes.Buffer
	var tmp [binary.MaxVarintLen64]byte

	i := 0
	for i < len(cells) {
		v := cells[i]
		run := 1
		for j := i + 1; j < len(cells) && cells[j] == v; j++ {
			run++
		}

		n := binary.PutUvarint(tmp[:], uint64(v))
		buf.Write(tmp[:n])
		n = binary.PutUvarint(tmp[:], uint64(run))
		buf.Write(tmp[:n])

		i += run
	}

	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func decodeCells(b64 string, out *[SurfaceCells]uint16) error {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return err
	}
	filled := 0
	for i := 0; i < len(raw); {
		v, n := binary.Uvarint(raw[i:])
		if n <= 0 {
			return fmt.Errorf("%w: bad varint at %d", ErrTruncated, i)
		}
		i += n
		run, n := binary.Uvarint(raw[i:])
		if n <= 0 {
			return fmt.Errorf("%w: bad varint at %d", ErrTruncated, i)
		}
		i += n
		if v > 0xFFFF {
			return fmt.Errorf("value too large: %d", v)
		}
		if run == 0 {
			return ErrZeroRun
		}
		if run > uint64(SurfaceCells-filled) {
			return fmt.Errorf("%w: overruns by %d", ErrSurfaceCells, run-uint64(SurfaceCells-filled))
		}
		for k := 0; k < int(run); k++ {
			out[filled] = uint16(v)
			filled++
		}
	}
	if filled != SurfaceCells {
		return fmt.Errorf("%w: %d of %d cells", ErrSurfaceCells, filled, SurfaceCells)
	}
	return nil
}
