package store

import (
	"voxelstream.io/internal/sim/world/terrain/voxel"
)

// ChunkStore holds resident columns and the set of columns that were
// requested but have not arrived yet. A position is never in both.
// The store applies no spatial policy; residency.Scheduler decides what
// stays.
type ChunkStore struct {
	resident map[voxel.ColumnPos]*voxel.Grid
	pending  map[voxel.ColumnPos]struct{}
}

func NewChunkStore() *ChunkStore {
	return &ChunkStore{
		resident: map[voxel.ColumnPos]*voxel.Grid{},
		pending:  map[voxel.ColumnPos]struct{}{},
	}
}

func (s *ChunkStore) Len() int        { return len(s.resident) }
func (s *ChunkStore) PendingLen() int { return len(s.pending) }

func (s *ChunkStore) IsResident(pos voxel.ColumnPos) bool {
	_, ok := s.resident[pos]
	return ok
}

func (s *ChunkStore) IsPending(pos voxel.ColumnPos) bool {
	_, ok := s.pending[pos]
	return ok
}
