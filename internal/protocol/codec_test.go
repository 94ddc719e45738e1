package protocol

import (
	"bytes"
	"errors"
	"testing"

	"voxelstream.io/internal/sim/block"
	"voxelstream.io/internal/sim/encoding"
	"voxelstream.io/internal/sim/world/terrain/gen"
	"voxelstream.io/internal/sim/world/terrain/voxel"
)

func newCodec(t *testing.T) *Codec {
	t.Helper()
	c, err := NewCodec()
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func TestCodec_RoundTripSimpleMessages(t *testing.T) {
	c := newCodec(t)
	msgs := []Message{
		Connect{},
		Disconnect{},
		Ping{},
		Pong{},
		ChunkRequest{Pos: voxel.ColumnPos{X: -2147483648, Z: 2147483647}},
		ClientSync{SessionID: 1<<63 + 5},
	}
	for _, m := range msgs {
		b, err := c.Encode(m)
		if err != nil {
			t.Fatalf("encode %s: %v", m.Tag(), err)
		}
		got, err := c.Decode(b)
		if err != nil {
			t.Fatalf("decode %s: %v", m.Tag(), err)
		}
		if got != m {
			t.Fatalf("round trip %s: got %#v want %#v", m.Tag(), got, m)
		}
	}
}

func TestCodec_ChunkUpdateCarriesGeneratedColumn(t *testing.T) {
	c := newCodec(t)
	pos := voxel.ColumnPos{X: 7, Z: -3}
	grid := gen.New(gen.DefaultParams(31337)).Generate(pos)

	b, err := c.Encode(ChunkUpdate{Pos: pos, Runs: encoding.Compress(grid)})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(b) > MaxDatagram {
		t.Fatalf("datagram %d bytes exceeds %d", len(b), MaxDatagram)
	}
	m, err := c.Decode(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	up, ok := m.(ChunkUpdate)
	if !ok {
		t.Fatalf("decoded %T", m)
	}
	if up.Pos != pos {
		t.Fatalf("pos=%v", up.Pos)
	}
	back, err := encoding.Decompress(up.Runs)
	if err != nil {
		t.Fatalf("decompress: %v", err)
	}
	if !back.Equal(grid) {
		t.Fatalf("grid changed in transit")
	}
}

func TestCodec_EncodeIsDeterministic(t *testing.T) {
	a := newCodec(t)
	b := newCodec(t)
	grid := gen.New(gen.DefaultParams(2)).Generate(voxel.ColumnPos{X: 1})
	m := ChunkUpdate{Pos: voxel.ColumnPos{X: 1}, Runs: encoding.Compress(grid)}
	x, err := a.Encode(m)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	y, err := b.Encode(m)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	z, _ := a.Encode(m)
	if !bytes.Equal(x, y) || !bytes.Equal(x, z) {
		t.Fatalf("identical messages encoded differently")
	}
}

func TestCodec_RejectsOversizeMessage(t *testing.T) {
	c := newCodec(t)
	// Pseudo-random counts leave nothing for zstd to squeeze.
	runs := make([]encoding.Run, 20000)
	var x uint64 = 0x9e3779b97f4a7c15
	for i := range runs {
		x ^= x << 13
		x ^= x >> 7
		x ^= x << 17
		runs[i] = encoding.Run{Block: block.ID(x % 6), Count: uint32(x>>32) | 1<<28}
	}
	_, err := c.Encode(ChunkUpdate{Runs: runs})
	if !errors.Is(err, ErrDatagramTooLarge) {
		t.Fatalf("expected ErrDatagramTooLarge, got %v", err)
	}
}

func TestCodec_DecodeGarbage(t *testing.T) {
	c := newCodec(t)
	cases := [][]byte{
		nil,
		{0x00},
		[]byte("definitely not zstd"),
		bytes.Repeat([]byte{0xff}, MaxDatagram+1),
	}
	for _, b := range cases {
		_, err := c.Decode(b)
		var de *DecodeError
		if !errors.As(err, &de) {
			t.Fatalf("decode %q: expected *DecodeError, got %v", b, err)
		}
	}
}

func TestParseBody_Rejects(t *testing.T) {
	cases := []struct {
		name string
		body []byte
		code string
	}{
		{"short", []byte{Magic}, ErrCodeShort},
		{"magic", []byte{'X', Version, byte(TagPing)}, ErrCodeBadMagic},
		{"version", []byte{Magic, Version + 1, byte(TagPing)}, ErrCodeBadVersion},
		{"tag", []byte{Magic, Version, 0xEE}, ErrCodeUnknownTag},
		{"trailing", []byte{Magic, Version, byte(TagPing), 1}, ErrCodeTrailing},
		{"request", []byte{Magic, Version, byte(TagChunkRequest), 0x80}, ErrCodeBadField},
		{"sync", []byte{Magic, Version, byte(TagClientSync)}, ErrCodeBadField},
		{"block", []byte{Magic, Version, byte(TagChunkUpdate), 0, 0, 1, 0x7F, 1}, ErrCodeBadField},
	}
	for _, tc := range cases {
		_, err := ParseBody(tc.body)
		var de *DecodeError
		if !errors.As(err, &de) {
			t.Fatalf("%s: expected *DecodeError, got %v", tc.name, err)
		}
		if de.Code != tc.code {
			t.Fatalf("%s: code=%s want %s", tc.name, de.Code, tc.code)
		}
	}
}

func TestMessageDirection(t *testing.T) {
	if !FromClient(ChunkRequest{}) || FromClient(ChunkUpdate{}) {
		t.Fatalf("FromClient wrong")
	}
	if !FromHost(ClientSync{}) || FromHost(Connect{}) {
		t.Fatalf("FromHost wrong")
	}
	if !FromClient(Ping{}) || !FromHost(Ping{}) || !FromClient(Pong{}) || !FromHost(Pong{}) {
		t.Fatalf("ping/pong travel both ways")
	}
}
