package udp

import (
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"voxelstream.io/internal/protocol"
)

var (
	ErrConnectionFailed = errors.New("udp: connection failed")
	ErrSocketBind       = errors.New("udp: socket bind failed")
	ErrWouldBlock       = errors.New("udp: would block")
	ErrNoRemote         = errors.New("udp: no remote address")
	ErrClosed           = errors.New("udp: connection closed")
)

// IOError is a socket failure. Recv wraps ErrWouldBlock in it when nothing is
// queued, so callers match with errors.Is.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string { return "udp: " + e.Op + ": " + e.Err.Error() }
func (e *IOError) Unwrap() error { return e.Err }

// DefaultPollWait is how long Recv waits for a queued datagram.
const DefaultPollWait = time.Millisecond

// Conn is one UDP socket plus the datagram codec. Connect targets a single
// remote and ignores datagrams from anyone else; Listen accepts any sender.
// Send and Recv are meant to be called from one tick loop.
type Conn struct {
	pc     *net.UDPConn
	remote *net.UDPAddr
	codec  *protocol.Codec
	buf    []byte

	PollWait time.Duration

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// Connect binds an ephemeral local port and targets addr. The socket stays
// unconnected so ICMP errors from a silent host surface as silence.
func Connect(addr string) (*Conn, error) {
	remote, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve %s: %v", ErrConnectionFailed, addr, err)
	}
	local := &net.UDPAddr{Port: 0}
	if ip4 := remote.IP.To4(); ip4 != nil {
		local.IP = net.IPv4zero
	}
	pc, err := net.ListenUDP("udp", local)
	if err != nil {
		return nil, fmt.Errorf("%w: bind ephemeral: %v", ErrConnectionFailed, err)
	}
	c, err := newConn(pc, remote)
	if err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	return c, nil
}

// Listen binds addr and accepts datagrams from any sender.
func Listen(addr string) (*Conn, error) {
	local, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve %s: %v", ErrSocketBind, addr, err)
	}
	pc, err := net.ListenUDP("udp", local)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSocketBind, addr, err)
	}
	c, err := newConn(pc, nil)
	if err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("%w: %v", ErrSocketBind, err)
	}
	return c, nil
}

func newConn(pc *net.UDPConn, remote *net.UDPAddr) (*Conn, error) {
	codec, err := protocol.NewCodec()
	if err != nil {
		return nil, err
	}
	return &Conn{
		pc:       pc,
		remote:   remote,
		codec:    codec,
		buf:      make([]byte, protocol.MaxDatagram),
		PollWait: DefaultPollWait,
	}, nil
}

func (c *Conn) LocalAddr() *net.UDPAddr {
	a, _ := c.pc.LocalAddr().(*net.UDPAddr)
	return a
}

// RemoteAddr is the Connect target, nil for listening sockets.
func (c *Conn) RemoteAddr() *net.UDPAddr { return c.remote }

func (c *Conn) Codec() *protocol.Codec { return c.codec }

// Send encodes m and sends it to the Connect target.
func (c *Conn) Send(m protocol.Message) error {
	if c.remote == nil {
		return ErrNoRemote
	}
	return c.SendTo(m, c.remote)
}

func (c *Conn) SendTo(m protocol.Message, addr *net.UDPAddr) error {
	if c.closed.Load() {
		return &IOError{Op: "send", Err: ErrClosed}
	}
	b, err := c.codec.Encode(m)
	if err != nil {
		return err
	}
	return c.WriteTo(b, addr)
}

// WriteTo sends an already encoded datagram.
func (c *Conn) WriteTo(b []byte, addr *net.UDPAddr) error {
	if addr == nil {
		return ErrNoRemote
	}
	if len(b) > protocol.MaxDatagram {
		return fmt.Errorf("%w: %d bytes", protocol.ErrDatagramTooLarge, len(b))
	}
	if _, err := c.pc.WriteToUDP(b, addr); err != nil {
		return &IOError{Op: "send", Err: closedOr(err)}
	}
	return nil
}

// Recv returns the next queued message without blocking past PollWait. An
// empty socket yields an *IOError wrapping ErrWouldBlock. A datagram that
// fails to decode yields a *protocol.DecodeError together with its sender.
func (c *Conn) Recv() (protocol.Message, *net.UDPAddr, error) {
	if c.closed.Load() {
		return nil, nil, &IOError{Op: "recv", Err: ErrClosed}
	}
	for {
		if err := c.pc.SetReadDeadline(time.Now().Add(c.pollWait())); err != nil {
			return nil, nil, &IOError{Op: "recv", Err: closedOr(err)}
		}
		n, from, err := c.pc.ReadFromUDP(c.buf)
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				return nil, nil, &IOError{Op: "recv", Err: ErrWouldBlock}
			}
			return nil, nil, &IOError{Op: "recv", Err: closedOr(err)}
		}
		if c.remote != nil && !sameAddr(from, c.remote) {
			continue
		}
		m, err := c.codec.Decode(c.buf[:n])
		if err != nil {
			return nil, from, err
		}
		return m, from, nil
	}
}

func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.closeErr = c.pc.Close()
		c.codec.Close()
	})
	return c.closeErr
}

func (c *Conn) pollWait() time.Duration {
	if c.PollWait <= 0 {
		return DefaultPollWait
	}
	return c.PollWait
}

func closedOr(err error) error {
	if errors.Is(err, net.ErrClosed) {
		return ErrClosed
	}
	return err
}

func sameAddr(a, b *net.UDPAddr) bool {
	if a == nil || b == nil {
		return false
	}
	if a.Port != b.Port {
		return false
	}
	if b.IP == nil || b.IP.IsUnspecified() {
		return true
	}
	return a.IP.Equal(b.IP)
}
