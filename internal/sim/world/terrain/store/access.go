package store

import (
	"sort"

	"voxelstream.io/internal/sim/block"
	genpkg "voxelstream.io/internal/sim/world/terrain/gen"
	"voxelstream.io/internal/sim/world/terrain/voxel"
)

func (s *ChunkStore) Get(pos voxel.ColumnPos) (*voxel.Grid, bool) {
	g, ok := s.resident[pos]
	return g, ok
}

// GetNeighbor returns the resident column adjacent to pos. Up and Down never
// have a neighbor since a column spans the full height.
func (s *ChunkStore) GetNeighbor(pos voxel.ColumnPos, d voxel.Direction) (*voxel.Grid, bool) {
	n, ok := pos.Neighbor(d)
	if !ok {
		return nil, false
	}
	return s.Get(n)
}

// Insert makes grid resident at pos and clears any pending mark.
func (s *ChunkStore) Insert(pos voxel.ColumnPos, grid *voxel.Grid) {
	if grid == nil {
		return
	}
	delete(s.pending, pos)
	s.resident[pos] = grid
}

// MarkPending records an outstanding request. Resident columns are left
// alone and false is returned.
func (s *ChunkStore) MarkPending(pos voxel.ColumnPos) bool {
	if s.IsResident(pos) {
		return false
	}
	s.pending[pos] = struct{}{}
	return true
}

// Remove drops pos from both the resident and the pending set.
func (s *ChunkStore) Remove(pos voxel.ColumnPos) {
	delete(s.resident, pos)
	delete(s.pending, pos)
}

func (s *ChunkStore) ResidentKeys() []voxel.ColumnPos {
	keys := make([]voxel.ColumnPos, 0, len(s.resident))
	for k := range s.resident {
		keys = append(keys, k)
	}
	sortKeys(keys)
	return keys
}

func (s *ChunkStore) PendingKeys() []voxel.ColumnPos {
	keys := make([]voxel.ColumnPos, 0, len(s.pending))
	for k := range s.pending {
		keys = append(keys, k)
	}
	sortKeys(keys)
	return keys
}

func sortKeys(keys []voxel.ColumnPos) {
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].X != keys[j].X {
			return keys[i].X < keys[j].X
		}
		return keys[i].Z < keys[j].Z
	})
}

// BlockAt reads a block by world coordinates. Columns that are not resident
// read as absent.
func (s *ChunkStore) BlockAt(x, y, z int) (block.ID, bool) {
	pos := voxel.ColumnPos{
		X: int32(genpkg.FloorDiv(x, voxel.SizeX)),
		Z: int32(genpkg.FloorDiv(z, voxel.SizeZ)),
	}
	g, ok := s.Get(pos)
	if !ok {
		return block.Air, false
	}
	return g.Get(voxel.LocalPos{X: genpkg.Mod(x, voxel.SizeX), Y: y, Z: genpkg.Mod(z, voxel.SizeZ)})
}
