package host

import (
	"voxelstream.io/internal/protocol"
	"voxelstream.io/internal/sim/encoding"
	"voxelstream.io/internal/sim/world/terrain/gen"
	"voxelstream.io/internal/sim/world/terrain/store"
	"voxelstream.io/internal/sim/world/terrain/voxel"
)

// Service answers chunk requests from the host's own store, generating
// columns on first access. It has no socket; the Host sends what it returns.
// Not safe for concurrent use.
type Service struct {
	store *store.ChunkStore
	gen   *gen.Generator
	codec *protocol.Codec
}

func NewService(g *gen.Generator, codec *protocol.Codec) *Service {
	return &Service{
		store: store.NewChunkStore(),
		gen:   g,
		codec: codec,
	}
}

func (s *Service) Store() *store.ChunkStore  { return s.store }
func (s *Service) Generator() *gen.Generator { return s.gen }

// Handle returns the ChunkUpdate for pos along with the grid it encodes.
// generated reports whether the column was built by this call.
func (s *Service) Handle(pos voxel.ColumnPos) (up protocol.ChunkUpdate, grid *voxel.Grid, generated bool) {
	grid, generated = s.store.GetOrGenerate(pos, s.gen)
	return protocol.ChunkUpdate{Pos: pos, Runs: encoding.Compress(grid)}, grid, generated
}

// Reply is Handle followed by encoding. Replaying a request yields the same
// bytes.
func (s *Service) Reply(pos voxel.ColumnPos) (b []byte, grid *voxel.Grid, generated bool, err error) {
	up, grid, generated := s.Handle(pos)
	b, err = s.codec.Encode(up)
	return b, grid, generated, err
}
