package protocol

import (
	"voxelstream.io/internal/sim/encoding"
	"voxelstream.io/internal/sim/world/terrain/voxel"
)

// CONNECT (client -> host)
type Connect struct{}

// DISCONNECT (client -> host)
type Disconnect struct{}

// PING / PONG (either direction)
type Ping struct{}
type Pong struct{}

// CHUNK_REQUEST (client -> host)
type ChunkRequest struct {
	Pos voxel.ColumnPos
}

// CLIENT_SYNC (host -> client), answers CONNECT.
type ClientSync struct {
	SessionID uint64
}

// CHUNK_UPDATE (host -> client)
type ChunkUpdate struct {
	Pos  voxel.ColumnPos
	Runs []encoding.Run
}

func (Connect) Tag() Tag      { return TagConnect }
func (Disconnect) Tag() Tag   { return TagDisconnect }
func (Ping) Tag() Tag         { return TagPing }
func (Pong) Tag() Tag         { return TagPong }
func (ChunkRequest) Tag() Tag { return TagChunkRequest }
func (ClientSync) Tag() Tag   { return TagClientSync }
func (ChunkUpdate) Tag() Tag  { return TagChunkUpdate }

// FromClient reports whether a host should accept m.
func FromClient(m Message) bool {
	switch m.(type) {
	case Connect, Disconnect, Ping, Pong, ChunkRequest:
		return true
	}
	return false
}

// FromHost reports whether a client should accept m.
func FromHost(m Message) bool {
	switch m.(type) {
	case ClientSync, Ping, Pong, ChunkUpdate:
		return true
	}
	return false
}
