package client

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"voxelstream.io/internal/protocol"
	"voxelstream.io/internal/sim/encoding"
	"voxelstream.io/internal/sim/world/residency"
	"voxelstream.io/internal/sim/world/terrain/store"
	"voxelstream.io/internal/sim/world/terrain/voxel"
	"voxelstream.io/internal/transport/udp"
)

var (
	ErrHandshakeTimeout = errors.New("client: handshake timed out")
	ErrHostUnreachable  = errors.New("client: host unreachable")
)

type Config struct {
	Residency residency.Config

	HandshakeTimeout time.Duration
	ConnectRetry     time.Duration
	PingInterval     time.Duration
	// HostTimeout is how long the host may stay silent; 0 disables the check.
	HostTimeout time.Duration

	MaxPacketsPerTick int
}

func DefaultConfig() Config {
	return Config{
		Residency:         residency.DefaultConfig(),
		HandshakeTimeout:  5 * time.Second,
		ConnectRetry:      500 * time.Millisecond,
		PingInterval:      2 * time.Second,
		HostTimeout:       10 * time.Second,
		MaxPacketsPerTick: 256,
	}
}

type Stats struct {
	Requests     uint64
	Updates      uint64
	Inserted     uint64
	Overwritten  uint64
	Dropped      uint64
	DecodeErrors uint64
}

// Client is a viewer: it owns its connection, chunk store and residency
// scheduler. Tick is meant to be called from a single loop.
type Client struct {
	cfg    Config
	conn   *udp.Conn
	store  *store.ChunkStore
	sched  *residency.Scheduler
	logger *log.Logger

	sessionID uint64

	lastHeard  time.Time
	lastPing   time.Time
	pingSentAt time.Time
	rtt        time.Duration

	stats Stats
}

// Dial connects to the host at addr and completes the handshake. mesh may be
// nil when nothing caches meshes.
func Dial(ctx context.Context, addr string, cfg Config, mesh residency.MeshCache, logger *log.Logger) (*Client, error) {
	def := DefaultConfig()
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = def.HandshakeTimeout
	}
	if cfg.ConnectRetry <= 0 {
		cfg.ConnectRetry = def.ConnectRetry
	}
	if cfg.MaxPacketsPerTick <= 0 {
		cfg.MaxPacketsPerTick = def.MaxPacketsPerTick
	}

	conn, err := udp.Connect(addr)
	if err != nil {
		return nil, err
	}
	id, err := handshake(ctx, conn, cfg, logger)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	st := store.NewChunkStore()
	now := time.Now()
	c := &Client{
		cfg:       cfg,
		conn:      conn,
		store:     st,
		sched:     residency.New(cfg.Residency, st, mesh, logger),
		logger:    logger,
		sessionID: id,
		lastHeard: now,
		lastPing:  now,
	}
	c.logf("connected to %s as session %d", addr, id)
	return c, nil
}

func handshake(ctx context.Context, conn *udp.Conn, cfg Config, logger *log.Logger) (uint64, error) {
	start := time.Now()
	if err := conn.Send(protocol.Connect{}); err != nil {
		return 0, err
	}
	lastSend := start
	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if time.Since(start) >= cfg.HandshakeTimeout {
			return 0, ErrHandshakeTimeout
		}
		m, _, err := conn.Recv()
		if err != nil {
			var de *protocol.DecodeError
			switch {
			case errors.Is(err, udp.ErrWouldBlock):
				if time.Since(lastSend) >= cfg.ConnectRetry {
					if err := conn.Send(protocol.Connect{}); err != nil {
						return 0, err
					}
					lastSend = time.Now()
				}
			case errors.As(err, &de):
				if logger != nil {
					logger.Printf("warn: drop datagram during handshake: %v", err)
				}
			default:
				return 0, err
			}
			continue
		}
		switch msg := m.(type) {
		case protocol.ClientSync:
			return msg.SessionID, nil
		case protocol.Ping, protocol.Pong:
		default:
			if logger != nil {
				logger.Printf("warn: unexpected %s during handshake", m.Tag())
			}
		}
	}
}

func (c *Client) SessionID() uint64               { return c.sessionID }
func (c *Client) Store() *store.ChunkStore        { return c.store }
func (c *Client) Scheduler() *residency.Scheduler { return c.sched }
func (c *Client) RTT() time.Duration              { return c.rtt }
func (c *Client) Stats() Stats                    { return c.stats }
func (c *Client) Conn() *udp.Conn                 { return c.conn }

// Tick drains received datagrams, keeps the host link alive and sends the
// chunk requests the scheduler says are due for focal.
func (c *Client) Tick(now time.Time, focal residency.Vec3) error {
	if err := c.receive(now); err != nil {
		return err
	}
	if c.cfg.HostTimeout > 0 && now.Sub(c.lastHeard) > c.cfg.HostTimeout {
		return fmt.Errorf("%w: silent for %s", ErrHostUnreachable, now.Sub(c.lastHeard).Truncate(time.Millisecond))
	}
	if c.cfg.PingInterval > 0 && now.Sub(c.lastPing) >= c.cfg.PingInterval {
		c.lastPing = now
		c.pingSentAt = now
		c.send(protocol.Ping{})
	}
	for _, pos := range c.sched.Tick(now, focal) {
		c.stats.Requests++
		c.send(protocol.ChunkRequest{Pos: pos})
	}
	return nil
}

func (c *Client) receive(now time.Time) error {
	for i := 0; i < c.cfg.MaxPacketsPerTick; i++ {
		m, _, err := c.conn.Recv()
		if err != nil {
			if errors.Is(err, udp.ErrWouldBlock) {
				return nil
			}
			var de *protocol.DecodeError
			if errors.As(err, &de) {
				c.stats.DecodeErrors++
				c.logf("warn: drop datagram: %v", err)
				continue
			}
			return err
		}
		c.lastHeard = now
		c.handle(now, m)
	}
	return nil
}

func (c *Client) handle(now time.Time, m protocol.Message) {
	if !protocol.FromHost(m) {
		c.logf("warn: unexpected %s from host", m.Tag())
		return
	}
	switch msg := m.(type) {
	case protocol.ChunkUpdate:
		c.stats.Updates++
		c.accept(msg.Pos, msg.Runs)
	case protocol.Ping:
		c.send(protocol.Pong{})
	case protocol.Pong:
		if c.pingSentAt.IsZero() {
			return
		}
		c.rtt = now.Sub(c.pingSentAt)
		c.pingSentAt = time.Time{}
	case protocol.ClientSync:
		// Reply to a retried Connect.
	}
}

func (c *Client) accept(pos voxel.ColumnPos, runs []encoding.Run) {
	grid, err := encoding.Decompress(runs)
	if err != nil {
		c.stats.DecodeErrors++
		c.logf("warn: chunk %d,%d: %v", pos.X, pos.Z, err)
		return
	}
	switch c.sched.Accept(pos, grid) {
	case residency.Inserted:
		c.stats.Inserted++
	case residency.Overwritten:
		c.stats.Overwritten++
	case residency.Dropped:
		c.stats.Dropped++
	}
}

func (c *Client) send(m protocol.Message) {
	if err := c.conn.Send(m); err != nil {
		c.logf("send %s: %v", m.Tag(), err)
	}
}

// Close tells the host we are leaving and closes the socket.
func (c *Client) Close() error {
	_ = c.conn.Send(protocol.Disconnect{})
	return c.conn.Close()
}

func (c *Client) logf(format string, args ...any) {
	if c.logger != nil {
		c.logger.Printf(format, args...)
	}
}
