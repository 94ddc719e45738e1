package residency

import (
	"log"
	"time"

	"golang.org/x/time/rate"

	"voxelstream.io/internal/sim/world/terrain/store"
	"voxelstream.io/internal/sim/world/terrain/voxel"
)

// Vec3 is a world-space focal point, usually the viewer camera.
type Vec3 struct {
	X, Y, Z float64
}

// MeshCache is whatever holds derived render data per column. It is told
// about evictions in the same pass that drops the column from the store.
type MeshCache interface {
	Evict(pos voxel.ColumnPos)
}

type Config struct {
	Radius int
	// RequestInterval is the minimum spacing between request batches.
	RequestInterval time.Duration
	// RetryAfter is how long a pending column waits for its reply before it
	// is requested again.
	RetryAfter time.Duration
}

func DefaultConfig() Config {
	return Config{
		Radius:          4,
		RequestInterval: 100 * time.Millisecond,
		RetryAfter:      time.Second,
	}
}

// Plan is the diff one tick applies to the store. It is computed against the
// store as it stood at the start of the tick.
type Plan struct {
	Center voxel.ColumnPos
	Evict  []voxel.ColumnPos
	Load   []voxel.ColumnPos
	// Due lists pending columns (including Load) that may be requested if
	// the throttle allows it.
	Due []voxel.ColumnPos
}

type Scheduler struct {
	cfg     Config
	store   *store.ChunkStore
	mesh    MeshCache
	logger  *log.Logger
	limiter *rate.Limiter

	sentAt map[voxel.ColumnPos]time.Time
	center voxel.ColumnPos
}

func New(cfg Config, s *store.ChunkStore, mesh MeshCache, logger *log.Logger) *Scheduler {
	if cfg.Radius < 0 {
		cfg.Radius = 0
	}
	limit := rate.Inf
	if cfg.RequestInterval > 0 {
		limit = rate.Every(cfg.RequestInterval)
	}
	return &Scheduler{
		cfg:     cfg,
		store:   s,
		mesh:    mesh,
		logger:  logger,
		limiter: rate.NewLimiter(limit, 1),
		sentAt:  map[voxel.ColumnPos]time.Time{},
	}
}

func (s *Scheduler) Config() Config          { return s.cfg }
func (s *Scheduler) Center() voxel.ColumnPos { return s.center }

// InRange reports whether pos lies inside the square of side 2*Radius+1
// around center.
func InRange(center, pos voxel.ColumnPos, radius int) bool {
	dx := int(pos.X) - int(center.X)
	dz := int(pos.Z) - int(center.Z)
	return dx >= -radius && dx <= radius && dz >= -radius && dz <= radius
}

// Candidates lists the columns around center in row-major order, dz outer and
// dx inner, both over [-radius, radius].
func Candidates(center voxel.ColumnPos, radius int) []voxel.ColumnPos {
	side := 2*radius + 1
	out := make([]voxel.ColumnPos, 0, side*side)
	for dz := -radius; dz <= radius; dz++ {
		for dx := -radius; dx <= radius; dx++ {
			out = append(out, voxel.ColumnPos{X: center.X + int32(dx), Z: center.Z + int32(dz)})
		}
	}
	return out
}

// Plan computes the tick's diff without touching the store.
func (s *Scheduler) Plan(now time.Time, focal Vec3) Plan {
	center := voxel.ColumnAt(focal.X, focal.Z)
	p := Plan{Center: center}

	for _, pos := range s.store.ResidentKeys() {
		if !InRange(center, pos, s.cfg.Radius) {
			p.Evict = append(p.Evict, pos)
		}
	}
	for _, pos := range s.store.PendingKeys() {
		if !InRange(center, pos, s.cfg.Radius) {
			p.Evict = append(p.Evict, pos)
		}
	}

	for _, pos := range Candidates(center, s.cfg.Radius) {
		switch {
		case s.store.IsResident(pos):
		case s.store.IsPending(pos):
			if s.due(now, pos) {
				p.Due = append(p.Due, pos)
			}
		default:
			p.Load = append(p.Load, pos)
			p.Due = append(p.Due, pos)
		}
	}
	return p
}

func (s *Scheduler) due(now time.Time, pos voxel.ColumnPos) bool {
	at, ok := s.sentAt[pos]
	if !ok {
		return true
	}
	return s.cfg.RetryAfter > 0 && now.Sub(at) >= s.cfg.RetryAfter
}

// Apply mutates the store according to p and returns the columns to request
// this tick. It returns nil when the throttle holds the batch back.
func (s *Scheduler) Apply(now time.Time, p Plan) []voxel.ColumnPos {
	s.center = p.Center
	for _, pos := range p.Evict {
		s.store.Remove(pos)
		delete(s.sentAt, pos)
		if s.mesh != nil {
			s.mesh.Evict(pos)
		}
	}
	for _, pos := range p.Load {
		s.store.MarkPending(pos)
	}
	if len(p.Evict) > 0 || len(p.Load) > 0 {
		s.logf("residency: center=%d,%d evicted=%d queued=%d resident=%d pending=%d",
			p.Center.X, p.Center.Z, len(p.Evict), len(p.Load), s.store.Len(), s.store.PendingLen())
	}

	if len(p.Due) == 0 || !s.limiter.AllowN(now, 1) {
		return nil
	}
	out := make([]voxel.ColumnPos, 0, len(p.Due))
	for _, pos := range p.Due {
		if !s.store.IsPending(pos) {
			continue
		}
		s.sentAt[pos] = now
		out = append(out, pos)
	}
	return out
}

// Tick runs one residency pass and returns the chunk requests to send.
func (s *Scheduler) Tick(now time.Time, focal Vec3) []voxel.ColumnPos {
	return s.Apply(now, s.Plan(now, focal))
}

type AcceptResult int

const (
	Dropped AcceptResult = iota
	Inserted
	Overwritten
)

func (r AcceptResult) String() string {
	switch r {
	case Inserted:
		return "inserted"
	case Overwritten:
		return "overwritten"
	default:
		return "dropped"
	}
}

// Accept applies an inbound column. Pending columns are inserted, resident
// ones are overwritten with a warning, anything else arrived after eviction
// and is dropped.
func (s *Scheduler) Accept(pos voxel.ColumnPos, grid *voxel.Grid) AcceptResult {
	if grid == nil {
		return Dropped
	}
	switch {
	case s.store.IsPending(pos):
		s.store.Insert(pos, grid)
		delete(s.sentAt, pos)
		return Inserted
	case s.store.IsResident(pos):
		s.logf("warn: duplicate chunk update for %d,%d, overwriting", pos.X, pos.Z)
		s.store.Insert(pos, grid)
		if s.mesh != nil {
			s.mesh.Evict(pos)
		}
		return Overwritten
	default:
		return Dropped
	}
}

func (s *Scheduler) logf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}
