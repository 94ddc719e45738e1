package observer

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"voxelstream.io/internal/host"
	"voxelstream.io/internal/observerproto"
)

// Server exposes the host's read-only observer feed over HTTP and websocket.
// Only loopback clients are accepted.
type Server struct {
	host *host.Host
	log  *log.Logger

	upgrader websocket.Upgrader
	nextID   atomic.Uint64
}

func NewServer(h *host.Host, logger *log.Logger) *Server {
	return &Server{
		host: h,
		log:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // loopback only anyway
		},
	}
}

func (s *Server) BootstrapHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(s.host.Bootstrap())
	}
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Handshake: must send SUBSCRIBE first.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		sub, err := readSubscribe(conn)
		if err != nil {
			closeWith(conn, websocket.ClosePolicyViolation, err.Error())
			return
		}

		sid := fmt.Sprintf("O%d", s.nextID.Add(1))
		tickOut := make(chan []byte, 8)
		dataOut := make(chan []byte, 4096)

		joinReq := host.ObserverJoinRequest{
			SessionID:   sid,
			TickOut:     tickOut,
			DataOut:     dataOut,
			CX:          sub.CX,
			CZ:          sub.CZ,
			ChunkRadius: sub.ChunkRadius,
			MaxChunks:   sub.MaxChunks,
		}
		select {
		case s.host.ObserverJoin() <- joinReq:
		default:
			closeWith(conn, websocket.CloseTryAgainLater, "server busy")
			return
		}
		s.logf("observer %s joined from %s (center %d,%d r=%d)", sid, r.RemoteAddr, sub.CX, sub.CZ, sub.ChunkRadius)
		defer s.leave(sid)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Writer goroutine.
		writeErr := make(chan error, 1)
		go func() {
			for {
				var b []byte
				var ok bool
				select {
				case <-ctx.Done():
					writeErr <- ctx.Err()
					return
				case b, ok = <-dataOut:
				case b, ok = <-tickOut:
				}
				if !ok {
					writeErr <- nil
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
					writeErr <- err
					return
				}
			}
		}()

		// Reader loop: allow SUBSCRIBE updates.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			sub, err := readSubscribe(conn)
			if err != nil {
				if _, bad := err.(badSubscribe); bad {
					continue
				}
				break
			}
			req := host.ObserverSubscribeRequest{
				SessionID:   sid,
				CX:          sub.CX,
				CZ:          sub.CZ,
				ChunkRadius: sub.ChunkRadius,
				MaxChunks:   sub.MaxChunks,
			}
			select {
			case s.host.ObserverSubscribe() <- req:
			default:
				// Drop updates under load; the client may resend.
			}
		}

		cancel()
		closeWith(conn, websocket.CloseNormalClosure, "bye")

		// Best-effort wait for the writer to stop so it doesn't outlive conn.
		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
	}
}

// leaveTimeout bounds how long a closing handler waits for the tick loop to
// take its leave request.
var leaveTimeout = 2 * time.Second

// leave hands sid to the tick loop, waiting while the leave queue is full.
// It reports false if the loop never took it, which means the host stopped.
func (s *Server) leave(sid string) bool {
	t := time.NewTimer(leaveTimeout)
	defer t.Stop()
	select {
	case s.host.ObserverLeave() <- sid:
		return true
	case <-t.C:
		s.logf("observer %s: leave not delivered within %s", sid, leaveTimeout)
		return false
	}
}

func (s *Server) logf(format string, args ...any) {
	if s.log != nil {
		s.log.Printf(format, args...)
	}
}

type badSubscribe string

func (e badSubscribe) Error() string { return string(e) }

// readSubscribe reads one message. Socket errors are returned as-is; a
// message that is not a valid SUBSCRIBE yields a badSubscribe.
func readSubscribe(conn *websocket.Conn) (observerproto.SubscribeMsg, error) {
	var sub observerproto.SubscribeMsg
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return sub, err
	}
	if err := json.Unmarshal(msg, &sub); err != nil {
		return sub, badSubscribe("bad subscribe")
	}
	if sub.Type != "SUBSCRIBE" || sub.ProtocolVersion != observerproto.Version {
		return sub, badSubscribe("expected SUBSCRIBE")
	}
	normalizeSubscribe(&sub)
	return sub, nil
}

func closeWith(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
}

func normalizeSubscribe(sub *observerproto.SubscribeMsg) {
	if sub.ChunkRadius <= 0 {
		sub.ChunkRadius = 6
	}
	if sub.ChunkRadius > 32 {
		sub.ChunkRadius = 32
	}
	if sub.MaxChunks <= 0 {
		sub.MaxChunks = 1024
	}
	if sub.MaxChunks > 16384 {
		sub.MaxChunks = 16384
	}
}

func isLoopbackRemote(remoteAddr string) bool {
	h := remoteAddr
	if hh, _, err := net.SplitHostPort(remoteAddr); err == nil {
		h = hh
	}
	h = strings.TrimPrefix(h, "[")
	h = strings.TrimSuffix(h, "]")
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
