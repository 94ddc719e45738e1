package host

import (
	"time"

	"voxelstream.io/internal/sim/world/terrain/voxel"
)

// Index receives host events for an external read model. Implementations must
// not block the tick loop.
type Index interface {
	RecordSession(SessionEvent)
	RecordColumn(ColumnEvent)
}

type SessionEventKind string

const (
	SessionConnect    SessionEventKind = "connect"
	SessionDisconnect SessionEventKind = "disconnect"
	SessionTimeout    SessionEventKind = "timeout"
)

type SessionEvent struct {
	SessionID uint64
	Addr      string
	Kind      SessionEventKind
	At        time.Time
	Requests  uint64
}

// ColumnEvent is emitted every time a column is served. Generated is set the
// first time.
type ColumnEvent struct {
	Pos       voxel.ColumnPos
	Digest    uint64
	Generated bool
	At        time.Time
}
