package protocol

// Datagram header: magic, version, tag.
const (
	Magic   byte = 'V'
	Version byte = 1
)

// MaxDatagram bounds one encoded message and sizes receive buffers.
const MaxDatagram = 2 * 16384

// maxPayload bounds the decompressed body. A column of alternating blocks
// serializes to a little under 6 bytes per cell.
const maxPayload = 1 << 19

type Tag uint8

// Message tags. Values are part of the wire format.
const (
	TagConnect Tag = iota + 1
	TagDisconnect
	TagPing
	TagPong
	TagChunkRequest
	TagClientSync
	TagChunkUpdate
)

func (t Tag) String() string {
	switch t {
	case TagConnect:
		return "CONNECT"
	case TagDisconnect:
		return "DISCONNECT"
	case TagPing:
		return "PING"
	case TagPong:
		return "PONG"
	case TagChunkRequest:
		return "CHUNK_REQUEST"
	case TagClientSync:
		return "CLIENT_SYNC"
	case TagChunkUpdate:
		return "CHUNK_UPDATE"
	}
	return "UNKNOWN"
}

// Message is any datagram body.
type Message interface {
	Tag() Tag
}
