package host

import (
	"context"
	"errors"
	"log"
	"net"
	"sync/atomic"
	"time"

	"voxelstream.io/internal/protocol"
	"voxelstream.io/internal/transport/udp"
)

type Config struct {
	TickRateHz        int
	SessionTimeout    time.Duration
	PingInterval      time.Duration
	MaxPacketsPerTick int

	// BlockPalette is reported to observers; index = block id.
	BlockPalette []string
	// BlockTextures holds the top face texture per palette entry.
	BlockTextures []string
}

// Host owns the listening socket, the chunk service and the session table.
// Everything except the observer channels and Metrics is touched only by the
// goroutine calling Tick or Run.
type Host struct {
	cfg    Config
	conn   *udp.Conn
	svc    *Service
	logger *log.Logger
	index  Index

	sessions      map[string]*Session
	nextSessionID uint64

	tick           atomic.Uint64
	joinedThisTick []uint64
	leftThisTick   []uint64

	// counters owned by the tick loop; published through metrics
	packetsIn     uint64
	packetsOut    uint64
	decodeErrors  uint64
	sendErrors    uint64
	generated     uint64
	served        uint64
	timedOutTotal uint64

	metrics atomic.Value // Metrics

	observerJoin  chan ObserverJoinRequest
	observerSub   chan ObserverSubscribeRequest
	observerLeave chan string
	observers     map[string]*observerClient
}

func New(cfg Config, conn *udp.Conn, svc *Service, logger *log.Logger) *Host {
	if cfg.TickRateHz <= 0 {
		cfg.TickRateHz = 20
	}
	if cfg.MaxPacketsPerTick <= 0 {
		cfg.MaxPacketsPerTick = 256
	}
	h := &Host{
		cfg:           cfg,
		conn:          conn,
		svc:           svc,
		logger:        logger,
		sessions:      map[string]*Session{},
		observerJoin:  make(chan ObserverJoinRequest, 16),
		observerSub:   make(chan ObserverSubscribeRequest, 64),
		observerLeave: make(chan string, 16),
		observers:     map[string]*observerClient{},
	}
	h.metrics.Store(Metrics{})
	return h
}

// SetIndex attaches an optional read-model sink. Call before Run.
func (h *Host) SetIndex(idx Index) { h.index = idx }

func (h *Host) Service() *Service   { return h.svc }
func (h *Host) Config() Config      { return h.cfg }
func (h *Host) Addr() *net.UDPAddr  { return h.conn.LocalAddr() }
func (h *Host) CurrentTick() uint64 { return h.tick.Load() }

// Run ticks at TickRateHz until ctx is done.
func (h *Host) Run(ctx context.Context) error {
	ticker := time.NewTicker(time.Second / time.Duration(h.cfg.TickRateHz))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			if err := h.Tick(now); err != nil {
				return err
			}
		}
	}
}

// Tick drains up to MaxPacketsPerTick datagrams, expires silent sessions,
// pings live ones and publishes metrics. It returns an error only when the
// socket is unusable.
func (h *Host) Tick(now time.Time) error {
	h.joinedThisTick = h.joinedThisTick[:0]
	h.leftThisTick = h.leftThisTick[:0]
	h.drainObserverRequests()

	var fatal error
	for i := 0; i < h.cfg.MaxPacketsPerTick; i++ {
		m, from, err := h.conn.Recv()
		if err != nil {
			if errors.Is(err, udp.ErrWouldBlock) {
				break
			}
			var de *protocol.DecodeError
			if errors.As(err, &de) {
				h.decodeErrors++
				h.logf("warn: drop datagram from %s: %v", from, err)
				continue
			}
			if errors.Is(err, udp.ErrClosed) {
				fatal = err
				break
			}
			h.logf("recv: %v", err)
			break
		}
		h.packetsIn++
		h.handle(now, m, from)
	}

	h.sweepSessions(now)
	h.pingSessions(now)

	tick := h.tick.Add(1)
	h.publishMetrics(tick)
	h.broadcastTick(tick)
	return fatal
}

func (h *Host) handle(now time.Time, m protocol.Message, from *net.UDPAddr) {
	if !protocol.FromClient(m) {
		h.logf("warn: unexpected %s from %s", m.Tag(), from)
		return
	}
	s := h.sessionByAddr(from)
	if s != nil {
		s.LastSeen = now
	}

	switch msg := m.(type) {
	case protocol.Connect:
		s, fresh := h.openSession(now, from)
		if fresh {
			h.logf("session %d connected from %s", s.ID, from)
		}
		// A retried Connect gets the same id again.
		h.send(protocol.ClientSync{SessionID: s.ID}, from)

	case protocol.Disconnect:
		if s == nil {
			return
		}
		h.logf("session %d (%s) disconnected", s.ID, from)
		h.closeSession(now, s, SessionDisconnect)

	case protocol.Ping:
		h.send(protocol.Pong{}, from)

	case protocol.Pong:
		if s == nil || s.pingSentAt.IsZero() {
			return
		}
		s.RTT = now.Sub(s.pingSentAt)
		s.pingSentAt = time.Time{}

	case protocol.ChunkRequest:
		if s != nil {
			s.Requests++
		}
		h.serve(now, msg, from)
	}
}

func (h *Host) serve(now time.Time, req protocol.ChunkRequest, to *net.UDPAddr) {
	b, grid, generated, err := h.svc.Reply(req.Pos)
	if err != nil {
		h.sendErrors++
		h.logf("chunk %d,%d: %v", req.Pos.X, req.Pos.Z, err)
		return
	}
	if generated {
		h.generated++
		h.publishColumn(req.Pos, grid)
	}
	if err := h.conn.WriteTo(b, to); err != nil {
		h.sendErrors++
		h.logf("send chunk %d,%d to %s: %v", req.Pos.X, req.Pos.Z, to, err)
		return
	}
	h.packetsOut++
	h.served++
	if h.index != nil {
		h.index.RecordColumn(ColumnEvent{
			Pos:       req.Pos,
			Digest:    grid.Digest(),
			Generated: generated,
			At:        now,
		})
	}
}

func (h *Host) send(m protocol.Message, to *net.UDPAddr) {
	if err := h.conn.SendTo(m, to); err != nil {
		h.sendErrors++
		h.logf("send %s to %s: %v", m.Tag(), to, err)
		return
	}
	h.packetsOut++
}

func (h *Host) logf(format string, args ...any) {
	if h.logger != nil {
		h.logger.Printf(format, args...)
	}
}
