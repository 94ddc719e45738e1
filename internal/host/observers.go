package host

import (
	"encoding/json"
	"fmt"

	"voxelstream.io/internal/observerproto"
	"voxelstream.io/internal/sim/block"
	"voxelstream.io/internal/sim/encoding"
	"voxelstream.io/internal/sim/world/terrain/voxel"
)

type ObserverJoinRequest struct {
	SessionID string
	TickOut   chan []byte
	DataOut   chan []byte

	CX, CZ      int
	ChunkRadius int
	MaxChunks   int
}

type ObserverSubscribeRequest struct {
	SessionID string

	CX, CZ      int
	ChunkRadius int
	MaxChunks   int
}

type observerCfg struct {
	center      voxel.ColumnPos
	chunkRadius int
	maxChunks   int
}

type observerClient struct {
	id      string
	tickOut chan []byte
	dataOut chan []byte
	cfg     observerCfg
	sent    map[voxel.ColumnPos]struct{}
}

func (h *Host) ObserverJoin() chan<- ObserverJoinRequest           { return h.observerJoin }
func (h *Host) ObserverSubscribe() chan<- ObserverSubscribeRequest { return h.observerSub }
func (h *Host) ObserverLeave() chan<- string                       { return h.observerLeave }

// Bootstrap is safe to call from any goroutine.
func (h *Host) Bootstrap() observerproto.BootstrapResponse {
	p := h.svc.Generator().Params()
	palette := h.cfg.BlockPalette
	if len(palette) == 0 {
		for _, id := range block.All() {
			palette = append(palette, id.String())
		}
	}
	return observerproto.BootstrapResponse{
		ProtocolVersion: observerproto.Version,
		Tick:            h.CurrentTick(),
		WorldParams: observerproto.WorldParams{
			TickRateHz: h.cfg.TickRateHz,
			ChunkSize:  [3]int{voxel.SizeX, voxel.SizeZ, voxel.SizeY},
			Seed:       p.Seed,
			SeaLevel:   p.SeaLevel,
		},
		BlockPalette:  append([]string(nil), palette...),
		BlockTextures: append([]string(nil), h.cfg.BlockTextures...),
	}
}

func clampInt(v, lo, hi, def int) int {
	if v <= 0 {
		return def
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func (h *Host) drainObserverRequests() {
	for {
		select {
		case req := <-h.observerJoin:
			h.handleObserverJoin(req)
		case req := <-h.observerSub:
			h.handleObserverSubscribe(req)
		case id := <-h.observerLeave:
			h.handleObserverLeave(id)
		default:
			return
		}
	}
}

func (h *Host) handleObserverJoin(req ObserverJoinRequest) {
	if req.SessionID == "" || req.TickOut == nil || req.DataOut == nil {
		return
	}
	if old := h.observers[req.SessionID]; old != nil {
		close(old.tickOut)
		close(old.dataOut)
	}
	c := &observerClient{
		id:      req.SessionID,
		tickOut: req.TickOut,
		dataOut: req.DataOut,
		cfg: observerCfg{
			center:      voxel.ColumnPos{X: int32(req.CX), Z: int32(req.CZ)},
			chunkRadius: clampInt(req.ChunkRadius, 1, 32, 6),
			maxChunks:   clampInt(req.MaxChunks, 1, 16384, 1024),
		},
		sent: map[voxel.ColumnPos]struct{}{},
	}
	h.observers[req.SessionID] = c
	h.backfillObserver(c)
}

func (h *Host) handleObserverSubscribe(req ObserverSubscribeRequest) {
	c := h.observers[req.SessionID]
	if c == nil {
		return
	}
	c.cfg.center = voxel.ColumnPos{X: int32(req.CX), Z: int32(req.CZ)}
	c.cfg.chunkRadius = clampInt(req.ChunkRadius, 1, 32, c.cfg.chunkRadius)
	c.cfg.maxChunks = clampInt(req.MaxChunks, 1, 16384, c.cfg.maxChunks)
	for pos := range c.sent {
		if !c.inRange(pos) {
			delete(c.sent, pos)
		}
	}
	h.backfillObserver(c)
}

func (h *Host) handleObserverLeave(id string) {
	c := h.observers[id]
	if c == nil {
		return
	}
	delete(h.observers, id)
	close(c.tickOut)
	close(c.dataOut)
}

func (c *observerClient) inRange(pos voxel.ColumnPos) bool {
	dx := int(pos.X) - int(c.cfg.center.X)
	dz := int(pos.Z) - int(c.cfg.center.Z)
	r := c.cfg.chunkRadius
	return dx >= -r && dx <= r && dz >= -r && dz <= r
}

// offer queues the surface of pos if the observer wants it. It never blocks.
func (c *observerClient) offer(pos voxel.ColumnPos, msg []byte) {
	if !c.inRange(pos) || len(c.sent) >= c.cfg.maxChunks {
		return
	}
	if _, ok := c.sent[pos]; ok {
		return
	}
	select {
	case c.dataOut <- msg:
		c.sent[pos] = struct{}{}
	default:
	}
}

func (h *Host) backfillObserver(c *observerClient) {
	st := h.svc.Store()
	for _, pos := range st.ResidentKeys() {
		if !c.inRange(pos) {
			continue
		}
		if _, ok := c.sent[pos]; ok {
			continue
		}
		grid, _ := st.Get(pos)
		msg, err := surfaceMessage(pos, grid)
		if err != nil {
			continue
		}
		c.offer(pos, msg)
	}
}

// publishColumn streams a freshly generated column to interested observers.
func (h *Host) publishColumn(pos voxel.ColumnPos, grid *voxel.Grid) {
	if len(h.observers) == 0 {
		return
	}
	msg, err := surfaceMessage(pos, grid)
	if err != nil {
		h.logf("observer surface %d,%d: %v", pos.X, pos.Z, err)
		return
	}
	for _, c := range h.observers {
		c.offer(pos, msg)
	}
}

func (h *Host) broadcastTick(tick uint64) {
	if len(h.observers) == 0 {
		return
	}
	// Every tick with session churn, otherwise once a second.
	if len(h.joinedThisTick) == 0 && len(h.leftThisTick) == 0 && tick%uint64(h.cfg.TickRateHz) != 0 {
		return
	}
	m := observerproto.TickMsg{
		Type:            "TICK",
		ProtocolVersion: observerproto.Version,
		Tick:            tick,
		ResidentColumns: h.svc.Store().Len(),
		GeneratedTotal:  h.generated,
		ServedTotal:     h.served,
		Joins:           append([]uint64(nil), h.joinedThisTick...),
		Leaves:          append([]uint64(nil), h.leftThisTick...),
	}
	for _, s := range h.sortedSessions() {
		m.Sessions = append(m.Sessions, observerproto.SessionState{
			ID:       s.ID,
			Addr:     s.Addr.String(),
			RTTMs:    s.RTT.Milliseconds(),
			Requests: s.Requests,
		})
	}
	b, err := json.Marshal(m)
	if err != nil {
		return
	}
	for _, c := range h.observers {
		select {
		case c.tickOut <- b:
		default:
		}
	}
}

func surfaceMessage(pos voxel.ColumnPos, grid *voxel.Grid) ([]byte, error) {
	if grid == nil {
		return nil, fmt.Errorf("no grid")
	}
	surface := encoding.SurfaceOf(grid)
	heights, tops := surface.Encode()
	return json.Marshal(observerproto.ColumnSurfaceMsg{
		Type:            "COLUMN_SURFACE",
		ProtocolVersion: observerproto.Version,
		CX:              int(pos.X),
		CZ:              int(pos.Z),
		Encoding:        observerproto.EncodingRLEU16,
		Heights:         heights,
		Blocks:          tops,
		Digest:          fmt.Sprintf("%016x", grid.Digest()),
	})
}
