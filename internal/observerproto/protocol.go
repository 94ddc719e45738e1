package observerproto

// Version is the observer protocol version (separate from the UDP chunk protocol).
const Version = "0.1"

// Client -> Server. First message on the observer WS connection, and can be re-sent to update settings.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`

	// Center column of the region to stream; surfaces outside ChunkRadius are skipped.
	CX          int `json:"cx"`
	CZ          int `json:"cz"`
	ChunkRadius int `json:"chunk_radius"`
	MaxChunks   int `json:"max_chunks"`
}

// HTTP response for GET /v1/observe/bootstrap.
type BootstrapResponse struct {
	ProtocolVersion string      `json:"protocol_version"`
	Tick            uint64      `json:"tick"`
	WorldParams     WorldParams `json:"world_params"`
	BlockPalette    []string    `json:"block_palette"`
	BlockTextures   []string    `json:"block_textures,omitempty"`
}

type WorldParams struct {
	TickRateHz int    `json:"tick_rate_hz"`
	ChunkSize  [3]int `json:"chunk_size"`
	Seed       int64  `json:"seed"`
	SeaLevel   int    `json:"sea_level,omitempty"`
}

// Server -> Client. Sent every tick the host has something to report, and at
// least once per second.
type TickMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Tick            uint64 `json:"tick"`

	Sessions        []SessionState `json:"sessions"`
	ResidentColumns int            `json:"resident_columns"`
	GeneratedTotal  uint64         `json:"generated_total"`
	ServedTotal     uint64         `json:"served_total"`

	Joins  []uint64 `json:"joins,omitempty"`
	Leaves []uint64 `json:"leaves,omitempty"`
}

type SessionState struct {
	ID       uint64 `json:"id"`
	Addr     string `json:"addr"`
	RTTMs    int64  `json:"rtt_ms"`
	Requests uint64 `json:"requests"`
}

// Server -> Client. Surface summary of one column: for every (x, z) cell the
// height of the highest non-air block and that block's id.
//
// Encoding "RLE_U16" means the Heights and Blocks strings are the base64 of
// (value, run) uvarint pairs over 256 cells, x fastest then z.
type ColumnSurfaceMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	CX              int    `json:"cx"`
	CZ              int    `json:"cz"`
	Encoding        string `json:"encoding"`
	Heights         string `json:"heights"`
	Blocks          string `json:"blocks"`
	Digest          string `json:"digest"`
}

const EncodingRLEU16 = "RLE_U16"
