package encoding

import (
	"encoding/binary"
	"errors"
	"fmt"

	"voxelstream.io/internal/sim/block"
	"voxelstream.io/internal/sim/world/terrain/voxel"
)

var (
	ErrRunLength = errors.New("run list does not cover the grid")
	ErrZeroRun   = errors.New("zero length run")
	ErrBadBlock  = errors.New("invalid block id in run list")
	ErrTruncated = errors.New("truncated run list")
)

// Run is a maximal sequence of identical voxels in scan order.
type Run struct {
	Block block.ID
	Count uint32
}

// Compress groups consecutive equal voxels, scanning in voxel.Grid iteration order.
func Compress(g *voxel.Grid) []Run {
	blocks := g.Blocks()
	if len(blocks) == 0 {
		return nil
	}
	out := make([]Run, 0, 64)
	cur := Run{Block: blocks[0], Count: 1}
	for _, b := range blocks[1:] {
		if b == cur.Block {
			cur.Count++
			continue
		}
		out = append(out, cur)
		cur = Run{Block: b, Count: 1}
	}
	return append(out, cur)
}

// Decompress expands runs back into a grid. The counts must sum to exactly
// voxel.Volume; anything else is rejected without producing a grid.
func Decompress(runs []Run) (*voxel.Grid, error) {
	for i, r := range runs {
		if r.Count == 0 {
			return nil, fmt.Errorf("run %d: %w", i, ErrZeroRun)
		}
		if !r.Block.Valid() {
			return nil, fmt.Errorf("run %d: %w: %d", i, ErrBadBlock, r.Block)
		}
	}
	if total := RunTotal(runs); total != voxel.Volume {
		return nil, fmt.Errorf("%w: sum %d want %d", ErrRunLength, total, voxel.Volume)
	}

	blocks := make([]block.ID, 0, voxel.Volume)
	for _, r := range runs {
		for k := uint32(0); k < r.Count; k++ {
			blocks = append(blocks, r.Block)
		}
	}
	return voxel.FromBlocks(blocks)
}

// RunTotal sums the run counts.
func RunTotal(runs []Run) uint64 {
	var total uint64
	for _, r := range runs {
		total += uint64(r.Count)
	}
	return total
}

// AppendRuns serializes runs as uvarint(len) followed by (block_id, count) uvarint pairs.
func AppendRuns(dst []byte, runs []Run) []byte {
	dst = binary.AppendUvarint(dst, uint64(len(runs)))
	for _, r := range runs {
		dst = binary.AppendUvarint(dst, uint64(r.Block))
		dst = binary.AppendUvarint(dst, uint64(r.Count))
	}
	return dst
}

// ReadRuns parses the AppendRuns form and reports how many bytes it consumed.
// It validates shape only; coverage is checked by Decompress.
func ReadRuns(b []byte) ([]Run, int, error) {
	n, i := binary.Uvarint(b)
	if i <= 0 {
		return nil, 0, fmt.Errorf("%w: bad length prefix", ErrTruncated)
	}
	if n > voxel.Volume {
		return nil, 0, fmt.Errorf("%w: %d runs exceeds grid volume", ErrRunLength, n)
	}
	runs := make([]Run, 0, n)
	for k := uint64(0); k < n; k++ {
		id, m := binary.Uvarint(b[i:])
		if m <= 0 {
			return nil, 0, fmt.Errorf("%w: run %d block at %d", ErrTruncated, k, i)
		}
		i += m
		cnt, m := binary.Uvarint(b[i:])
		if m <= 0 {
			return nil, 0, fmt.Errorf("%w: run %d count at %d", ErrTruncated, k, i)
		}
		i += m
		if id > 0xFF || !block.ID(id).Valid() {
			return nil, 0, fmt.Errorf("run %d: %w: %d", k, ErrBadBlock, id)
		}
		if cnt > 0xFFFFFFFF {
			return nil, 0, fmt.Errorf("run %d: count %d overflows u32", k, cnt)
		}
		runs = append(runs, Run{Block: block.ID(id), Count: uint32(cnt)})
	}
	return runs, i, nil
}
