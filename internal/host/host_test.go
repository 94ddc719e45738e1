package host

import (
	"bytes"
	"encoding/json"
	"errors"
	"log"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"voxelstream.io/internal/observerproto"
	"voxelstream.io/internal/protocol"
	"voxelstream.io/internal/sim/encoding"
	"voxelstream.io/internal/sim/world/terrain/gen"
	"voxelstream.io/internal/sim/world/terrain/voxel"
	"voxelstream.io/internal/transport/udp"
)

type fakeIndex struct {
	mu       sync.Mutex
	sessions []SessionEvent
	columns  []ColumnEvent
}

func (f *fakeIndex) RecordSession(ev SessionEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions = append(f.sessions, ev)
}

func (f *fakeIndex) RecordColumn(ev ColumnEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.columns = append(f.columns, ev)
}

var t0 = time.Unix(1_700_000_000, 0)

func newCodec(t *testing.T) *protocol.Codec {
	t.Helper()
	c, err := protocol.NewCodec()
	if err != nil {
		t.Fatalf("codec: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func newTestHost(t *testing.T, cfg Config) (*Host, *fakeIndex) {
	t.Helper()
	conn, err := udp.Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	svc := NewService(gen.New(gen.DefaultParams(77)), conn.Codec())
	h := New(cfg, conn, svc, nil)
	idx := &fakeIndex{}
	h.SetIndex(idx)
	return h, idx
}

// peer is a raw UDP socket so tests can see exact datagram bytes.
type peer struct {
	t     *testing.T
	conn  *net.UDPConn
	host  *net.UDPAddr
	codec *protocol.Codec
}

func newPeer(t *testing.T, h *Host) *peer {
	t.Helper()
	c, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("peer listen: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return &peer{t: t, conn: c, host: h.conn.LocalAddr(), codec: newCodec(t)}
}

func (p *peer) send(m protocol.Message) {
	p.t.Helper()
	b, err := p.codec.Encode(m)
	if err != nil {
		p.t.Fatalf("encode: %v", err)
	}
	if _, err := p.conn.WriteToUDP(b, p.host); err != nil {
		p.t.Fatalf("write: %v", err)
	}
}

// recv ticks the host until the peer gets a datagram matching want.
func (p *peer) recv(h *Host, now time.Time, want protocol.Tag) ([]byte, protocol.Message) {
	p.t.Helper()
	buf := make([]byte, protocol.MaxDatagram)
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if err := h.Tick(now); err != nil {
			p.t.Fatalf("tick: %v", err)
		}
		_ = p.conn.SetReadDeadline(time.Now().Add(5 * time.Millisecond))
		n, _, err := p.conn.ReadFromUDP(buf)
		if err != nil {
			continue
		}
		raw := append([]byte(nil), buf[:n]...)
		m, err := p.codec.Decode(raw)
		if err != nil {
			p.t.Fatalf("decode: %v", err)
		}
		if m.Tag() == want {
			return raw, m
		}
	}
	p.t.Fatalf("no %s within deadline", want)
	return nil, nil
}

func TestService_IdempotentReply(t *testing.T) {
	codec := newCodec(t)
	svc := NewService(gen.New(gen.DefaultParams(5)), codec)
	pos := voxel.ColumnPos{X: -4, Z: 9}

	a, grid, generated, err := svc.Reply(pos)
	if err != nil || !generated {
		t.Fatalf("first reply: generated=%v err=%v", generated, err)
	}
	b, again, generated, err := svc.Reply(pos)
	if err != nil || generated {
		t.Fatalf("second reply: generated=%v err=%v", generated, err)
	}
	if !bytes.Equal(a, b) {
		t.Fatalf("replayed request produced different bytes")
	}
	if grid != again {
		t.Fatalf("second reply should come from the store")
	}

	// A fresh service regenerates the same bytes.
	other := NewService(gen.New(gen.DefaultParams(5)), newCodec(t))
	c, _, _, err := other.Reply(pos)
	if err != nil {
		t.Fatalf("fresh reply: %v", err)
	}
	if !bytes.Equal(a, c) {
		t.Fatalf("regenerated column encoded differently")
	}
}

func TestHost_ConnectAssignsStableSessionIDs(t *testing.T) {
	h, idx := newTestHost(t, Config{SessionTimeout: 10 * time.Second})
	a := newPeer(t, h)
	b := newPeer(t, h)

	a.send(protocol.Connect{})
	_, m := a.recv(h, t0, protocol.TagClientSync)
	first := m.(protocol.ClientSync).SessionID

	a.send(protocol.Connect{})
	_, m = a.recv(h, t0, protocol.TagClientSync)
	if got := m.(protocol.ClientSync).SessionID; got != first {
		t.Fatalf("retried connect got id %d want %d", got, first)
	}

	b.send(protocol.Connect{})
	_, m = b.recv(h, t0, protocol.TagClientSync)
	if got := m.(protocol.ClientSync).SessionID; got <= first {
		t.Fatalf("second session id %d should exceed %d", got, first)
	}
	if len(h.Sessions()) != 2 {
		t.Fatalf("sessions=%d", len(h.Sessions()))
	}
	if len(idx.sessions) != 2 || idx.sessions[0].Kind != SessionConnect {
		t.Fatalf("index sessions=%+v", idx.sessions)
	}
}

func TestHost_ChunkRequestsAreByteIdentical(t *testing.T) {
	h, idx := newTestHost(t, Config{SessionTimeout: 10 * time.Second})
	p := newPeer(t, h)
	pos := voxel.ColumnPos{X: 2, Z: 3}

	p.send(protocol.ChunkRequest{Pos: pos})
	first, m := p.recv(h, t0, protocol.TagChunkUpdate)
	p.send(protocol.ChunkRequest{Pos: pos})
	second, _ := p.recv(h, t0, protocol.TagChunkUpdate)
	if !bytes.Equal(first, second) {
		t.Fatalf("replayed chunk request produced different datagrams")
	}

	up := m.(protocol.ChunkUpdate)
	grid, err := encoding.Decompress(up.Runs)
	if err != nil {
		t.Fatalf("decompress: %v", err)
	}
	if !grid.Equal(gen.New(gen.DefaultParams(77)).Generate(pos)) {
		t.Fatalf("served grid differs from local generation")
	}

	met := h.Metrics()
	if met.GeneratedTotal != 1 || met.ServedTotal != 2 || met.ResidentColumns != 1 {
		t.Fatalf("metrics=%+v", met)
	}
	if len(idx.columns) != 2 || !idx.columns[0].Generated || idx.columns[1].Generated {
		t.Fatalf("index columns=%+v", idx.columns)
	}
	if idx.columns[0].Digest != grid.Digest() {
		t.Fatalf("digest mismatch")
	}
}

func TestHost_PingPong(t *testing.T) {
	h, _ := newTestHost(t, Config{})
	p := newPeer(t, h)
	p.send(protocol.Ping{})
	p.recv(h, t0, protocol.TagPong)
}

func TestHost_PingsSessionsAndMeasuresRTT(t *testing.T) {
	h, _ := newTestHost(t, Config{SessionTimeout: time.Minute, PingInterval: 2 * time.Second})
	p := newPeer(t, h)
	p.send(protocol.Connect{})
	p.recv(h, t0, protocol.TagClientSync)

	sent := t0.Add(2 * time.Second)
	p.recv(h, sent, protocol.TagPing)
	p.send(protocol.Pong{})

	arrived := sent.Add(30 * time.Millisecond)
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		_ = h.Tick(arrived)
		if ss := h.Sessions(); len(ss) == 1 && ss[0].RTT > 0 {
			if ss[0].RTT != 30*time.Millisecond {
				t.Fatalf("rtt=%s", ss[0].RTT)
			}
			return
		}
	}
	t.Fatalf("pong never recorded")
}

func TestHost_RTTFollowsLatestPingAfterLostPong(t *testing.T) {
	h, _ := newTestHost(t, Config{SessionTimeout: time.Minute, PingInterval: 2 * time.Second})
	p := newPeer(t, h)
	p.send(protocol.Connect{})
	p.recv(h, t0, protocol.TagClientSync)

	// First ping goes unanswered.
	p.recv(h, t0.Add(2*time.Second), protocol.TagPing)

	sent := t0.Add(4 * time.Second)
	p.recv(h, sent, protocol.TagPing)
	p.send(protocol.Pong{})

	arrived := sent.Add(30 * time.Millisecond)
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		_ = h.Tick(arrived)
		if ss := h.Sessions(); len(ss) == 1 && ss[0].RTT > 0 {
			if ss[0].RTT != 30*time.Millisecond {
				t.Fatalf("rtt=%s, want 30ms", ss[0].RTT)
			}
			return
		}
	}
	t.Fatalf("pong never recorded")
}

func TestHost_SessionTimeoutAndDisconnect(t *testing.T) {
	h, idx := newTestHost(t, Config{SessionTimeout: 5 * time.Second})
	a := newPeer(t, h)
	b := newPeer(t, h)
	a.send(protocol.Connect{})
	a.recv(h, t0, protocol.TagClientSync)
	b.send(protocol.Connect{})
	b.recv(h, t0, protocol.TagClientSync)

	b.send(protocol.Disconnect{})
	deadline := time.Now().Add(3 * time.Second)
	for len(h.Sessions()) != 1 && time.Now().Before(deadline) {
		_ = h.Tick(t0.Add(time.Second))
	}
	if len(h.Sessions()) != 1 {
		t.Fatalf("disconnect not applied, sessions=%d", len(h.Sessions()))
	}

	_ = h.Tick(t0.Add(6 * time.Second))
	if len(h.Sessions()) != 0 {
		t.Fatalf("silent session should time out")
	}
	if h.Metrics().SessionsTimedOutTotal != 1 {
		t.Fatalf("metrics=%+v", h.Metrics())
	}
	kinds := map[SessionEventKind]int{}
	for _, ev := range idx.sessions {
		kinds[ev.Kind]++
	}
	if kinds[SessionConnect] != 2 || kinds[SessionDisconnect] != 1 || kinds[SessionTimeout] != 1 {
		t.Fatalf("index events=%v", kinds)
	}
}

func TestHost_DropsUndecodableDatagrams(t *testing.T) {
	h, _ := newTestHost(t, Config{})
	p := newPeer(t, h)
	if _, err := p.conn.WriteToUDP([]byte("noise"), p.host); err != nil {
		t.Fatalf("write: %v", err)
	}
	deadline := time.Now().Add(3 * time.Second)
	for h.Metrics().DecodeErrorsTotal == 0 && time.Now().Before(deadline) {
		if err := h.Tick(t0); err != nil {
			t.Fatalf("tick: %v", err)
		}
	}
	if h.Metrics().DecodeErrorsTotal != 1 {
		t.Fatalf("decode errors=%d", h.Metrics().DecodeErrorsTotal)
	}
	// The host keeps serving afterwards.
	p.send(protocol.Ping{})
	p.recv(h, t0, protocol.TagPong)
}

func TestHost_IgnoresHostBoundMessages(t *testing.T) {
	h, _ := newTestHost(t, Config{})
	var buf bytes.Buffer
	h.logger = log.New(&buf, "", 0)
	p := newPeer(t, h)
	p.send(protocol.ClientSync{SessionID: 9})
	p.send(protocol.Ping{})
	p.recv(h, t0, protocol.TagPong)
	if !strings.Contains(buf.String(), "unexpected CLIENT_SYNC") {
		t.Fatalf("log=%q", buf.String())
	}
	if n := len(h.Sessions()); n != 0 {
		t.Fatalf("sessions=%d", n)
	}
}

func TestHost_TickAfterCloseReportsError(t *testing.T) {
	h, _ := newTestHost(t, Config{})
	_ = h.conn.Close()
	if err := h.Tick(t0); !errors.Is(err, udp.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestHost_ObserverReceivesGeneratedSurfaces(t *testing.T) {
	h, _ := newTestHost(t, Config{TickRateHz: 1})
	tickOut := make(chan []byte, 8)
	dataOut := make(chan []byte, 8)
	h.ObserverJoin() <- ObserverJoinRequest{SessionID: "O1", TickOut: tickOut, DataOut: dataOut, ChunkRadius: 2}

	p := newPeer(t, h)
	p.send(protocol.ChunkRequest{Pos: voxel.ColumnPos{X: 1, Z: 1}})
	p.recv(h, t0, protocol.TagChunkUpdate)
	// Outside the observer's radius.
	p.send(protocol.ChunkRequest{Pos: voxel.ColumnPos{X: 9, Z: 0}})
	p.recv(h, t0, protocol.TagChunkUpdate)

	var msg observerproto.ColumnSurfaceMsg
	select {
	case b := <-dataOut:
		if err := json.Unmarshal(b, &msg); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
	default:
		t.Fatalf("no surface streamed")
	}
	if msg.Type != "COLUMN_SURFACE" || msg.CX != 1 || msg.CZ != 1 {
		t.Fatalf("msg=%+v", msg)
	}
	surface, err := encoding.DecodeSurface(msg.Heights, msg.Blocks)
	if err != nil {
		t.Fatalf("decode surface: %v", err)
	}
	if want := encoding.SurfaceOf(gen.New(gen.DefaultParams(77)).Generate(voxel.ColumnPos{X: 1, Z: 1})); surface != want {
		t.Fatalf("streamed surface differs from local generation")
	}
	select {
	case b := <-dataOut:
		t.Fatalf("unexpected extra surface %s", b)
	default:
	}
	if len(tickOut) == 0 {
		t.Fatalf("expected a TICK message")
	}

	h.ObserverLeave() <- "O1"
	_ = h.Tick(t0)
	if _, ok := <-dataOut; ok {
		t.Fatalf("data channel should be closed after leave")
	}
}

func TestSurface(t *testing.T) {
	p := gen.DefaultParams(3)
	p.SeaLevel = 0
	g := gen.New(p)
	grid := g.Generate(voxel.ColumnPos{})
	surface := encoding.SurfaceOf(grid)
	for z := 0; z < voxel.SizeZ; z++ {
		for x := 0; x < voxel.SizeX; x++ {
			h, top := surface.At(x, z)
			if int(h) != g.SurfaceHeight(x, z) {
				t.Fatalf("(%d,%d) height=%d want %d", x, z, h, g.SurfaceHeight(x, z))
			}
			if top.IsAir() {
				t.Fatalf("(%d,%d) top block is air", x, z)
			}
		}
	}
}
