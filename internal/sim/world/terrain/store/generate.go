package store

import (
	genpkg "voxelstream.io/internal/sim/world/terrain/gen"
	"voxelstream.io/internal/sim/world/terrain/voxel"
)

// GetOrGenerate returns the resident grid at pos, generating and inserting it
// on first access. generated reports whether g ran.
func (s *ChunkStore) GetOrGenerate(pos voxel.ColumnPos, g *genpkg.Generator) (grid *voxel.Grid, generated bool) {
	if grid, ok := s.resident[pos]; ok {
		return grid, false
	}
	grid = g.Generate(pos)
	s.Insert(pos, grid)
	return grid, true
}
