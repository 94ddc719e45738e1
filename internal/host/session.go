package host

import (
	"net"
	"sort"
	"time"

	"voxelstream.io/internal/protocol"
)

// Session is one connected viewer, keyed by its UDP address.
type Session struct {
	ID          uint64
	Addr        *net.UDPAddr
	ConnectedAt time.Time
	LastSeen    time.Time

	RTT      time.Duration
	Requests uint64

	lastPing   time.Time
	pingSentAt time.Time // zero when no ping is outstanding
}

func (h *Host) sessionByAddr(addr *net.UDPAddr) *Session {
	if addr == nil {
		return nil
	}
	return h.sessions[addr.String()]
}

func (h *Host) openSession(now time.Time, addr *net.UDPAddr) (*Session, bool) {
	if s := h.sessionByAddr(addr); s != nil {
		s.LastSeen = now
		return s, false
	}
	h.nextSessionID++
	s := &Session{
		ID:          h.nextSessionID,
		Addr:        addr,
		ConnectedAt: now,
		LastSeen:    now,
		lastPing:    now,
	}
	h.sessions[addr.String()] = s
	h.recordSession(now, s, SessionConnect)
	return s, true
}

func (h *Host) closeSession(now time.Time, s *Session, kind SessionEventKind) {
	delete(h.sessions, s.Addr.String())
	h.recordSession(now, s, kind)
	h.leftThisTick = append(h.leftThisTick, s.ID)
}

func (h *Host) recordSession(now time.Time, s *Session, kind SessionEventKind) {
	if kind == SessionConnect {
		h.joinedThisTick = append(h.joinedThisTick, s.ID)
	}
	if h.index == nil {
		return
	}
	h.index.RecordSession(SessionEvent{
		SessionID: s.ID,
		Addr:      s.Addr.String(),
		Kind:      kind,
		At:        now,
		Requests:  s.Requests,
	})
}

// sweepSessions drops sessions that have been silent for SessionTimeout.
func (h *Host) sweepSessions(now time.Time) {
	if h.cfg.SessionTimeout <= 0 {
		return
	}
	for _, s := range h.sortedSessions() {
		if now.Sub(s.LastSeen) <= h.cfg.SessionTimeout {
			continue
		}
		h.logf("session %d (%s) timed out after %s", s.ID, s.Addr, now.Sub(s.LastSeen).Truncate(time.Millisecond))
		h.closeSession(now, s, SessionTimeout)
		h.timedOutTotal++
	}
}

func (h *Host) pingSessions(now time.Time) {
	if h.cfg.PingInterval <= 0 {
		return
	}
	for _, s := range h.sortedSessions() {
		if now.Sub(s.lastPing) < h.cfg.PingInterval {
			continue
		}
		// RTT is measured from the latest Ping; an unanswered one is forgotten.
		s.lastPing = now
		s.pingSentAt = now
		h.send(protocol.Ping{}, s.Addr)
	}
}

func (h *Host) sortedSessions() []*Session {
	out := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Sessions returns a copy of the live sessions ordered by id. Call it from the
// tick loop goroutine or after Run has returned.
func (h *Host) Sessions() []Session {
	ss := h.sortedSessions()
	out := make([]Session, len(ss))
	for i, s := range ss {
		out[i] = *s
	}
	return out
}
