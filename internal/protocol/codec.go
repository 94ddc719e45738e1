package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/klauspost/compress/zstd"

	"voxelstream.io/internal/sim/encoding"
	"voxelstream.io/internal/sim/world/terrain/voxel"
)

// Codec turns messages into datagrams and back. The binary body is
// zstd-compressed as a whole, so a ChunkUpdate is run-length coded first and
// entropy coded second. Safe for concurrent use.
type Codec struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

func NewCodec() (*Codec, error) {
	enc, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedDefault),
		zstd.WithEncoderConcurrency(1),
	)
	if err != nil {
		return nil, fmt.Errorf("protocol: zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil,
		zstd.WithDecoderConcurrency(1),
		zstd.WithDecoderMaxMemory(maxPayload),
	)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("protocol: zstd decoder: %w", err)
	}
	return &Codec{enc: enc, dec: dec}, nil
}

func (c *Codec) Close() {
	c.enc.Close()
	c.dec.Close()
}

// Encode returns the datagram for m, or ErrDatagramTooLarge when it would not
// fit in MaxDatagram.
func (c *Codec) Encode(m Message) ([]byte, error) {
	body, err := AppendBody(make([]byte, 0, 64), m)
	if err != nil {
		return nil, err
	}
	out := c.enc.EncodeAll(body, make([]byte, 0, len(body)/2+16))
	if len(out) > MaxDatagram {
		return nil, fmt.Errorf("%w: %s is %d bytes", ErrDatagramTooLarge, m.Tag(), len(out))
	}
	return out, nil
}

// Decode parses one datagram. Every failure is a *DecodeError.
func (c *Codec) Decode(b []byte) (Message, error) {
	if len(b) > MaxDatagram {
		return nil, decodeErr(ErrCodeOversize, 0, "datagram of %d bytes exceeds %d", len(b), MaxDatagram)
	}
	body, err := c.dec.DecodeAll(b, nil)
	if err != nil {
		return nil, &DecodeError{Code: ErrCodeCompression, Err: err}
	}
	return ParseBody(body)
}

// AppendBody writes the uncompressed header and fields of m.
func AppendBody(dst []byte, m Message) ([]byte, error) {
	if m == nil {
		return nil, fmt.Errorf("protocol: nil message")
	}
	dst = append(dst, Magic, Version, byte(m.Tag()))
	switch v := m.(type) {
	case Connect, Disconnect, Ping, Pong:
	case ChunkRequest:
		dst = appendPos(dst, v.Pos)
	case ClientSync:
		dst = binary.AppendUvarint(dst, v.SessionID)
	case ChunkUpdate:
		dst = appendPos(dst, v.Pos)
		dst = encoding.AppendRuns(dst, v.Runs)
	default:
		return nil, fmt.Errorf("protocol: cannot encode %T", m)
	}
	return dst, nil
}

// ParseBody is the inverse of AppendBody.
func ParseBody(b []byte) (Message, error) {
	if len(b) < 3 {
		return nil, decodeErr(ErrCodeShort, 0, "header needs 3 bytes, got %d", len(b))
	}
	if b[0] != Magic {
		return nil, decodeErr(ErrCodeBadMagic, 0, "magic %#x", b[0])
	}
	if b[1] != Version {
		return nil, decodeErr(ErrCodeBadVersion, 0, "version %d, want %d", b[1], Version)
	}
	tag := Tag(b[2])
	rest := b[3:]

	var (
		m   Message
		n   int
		err error
	)
	switch tag {
	case TagConnect:
		m = Connect{}
	case TagDisconnect:
		m = Disconnect{}
	case TagPing:
		m = Ping{}
	case TagPong:
		m = Pong{}
	case TagChunkRequest:
		var pos voxel.ColumnPos
		pos, n, err = readPos(rest)
		m = ChunkRequest{Pos: pos}
	case TagClientSync:
		id, k := binary.Uvarint(rest)
		if k <= 0 {
			return nil, decodeErr(ErrCodeBadField, tag, "session id")
		}
		n = k
		m = ClientSync{SessionID: id}
	case TagChunkUpdate:
		var pos voxel.ColumnPos
		pos, n, err = readPos(rest)
		if err == nil {
			runs, k, rerr := encoding.ReadRuns(rest[n:])
			if rerr != nil {
				return nil, &DecodeError{Code: ErrCodeBadField, Tag: tag, Err: rerr}
			}
			n += k
			m = ChunkUpdate{Pos: pos, Runs: runs}
		}
	default:
		return nil, decodeErr(ErrCodeUnknownTag, 0, "tag %d", b[2])
	}
	if err != nil {
		return nil, &DecodeError{Code: ErrCodeBadField, Tag: tag, Err: err}
	}
	if n != len(rest) {
		return nil, decodeErr(ErrCodeTrailing, tag, "%d trailing bytes", len(rest)-n)
	}
	return m, nil
}

func appendPos(dst []byte, p voxel.ColumnPos) []byte {
	dst = binary.AppendVarint(dst, int64(p.X))
	return binary.AppendVarint(dst, int64(p.Z))
}

func readPos(b []byte) (voxel.ColumnPos, int, error) {
	x, i := binary.Varint(b)
	if i <= 0 {
		return voxel.ColumnPos{}, 0, fmt.Errorf("column x")
	}
	z, j := binary.Varint(b[i:])
	if j <= 0 {
		return voxel.ColumnPos{}, 0, fmt.Errorf("column z")
	}
	if x != int64(int32(x)) || z != int64(int32(z)) {
		return voxel.ColumnPos{}, 0, fmt.Errorf("column %d,%d overflows i32", x, z)
	}
	return voxel.ColumnPos{X: int32(x), Z: int32(z)}, i + j, nil
}
