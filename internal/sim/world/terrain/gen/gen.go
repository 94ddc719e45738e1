package gen

import (
	"math"
	"runtime"
	"sync"

	"github.com/ojrac/opensimplex-go"

	"voxelstream.io/internal/sim/block"
	"voxelstream.io/internal/sim/world/terrain/voxel"
)

type Params struct {
	Seed int64

	SurfaceScale float64 // world blocks per noise unit for the surface field
	StoneScale   float64 // world blocks per noise unit for the stone field
	StoneRatio   float64 // stone threshold = stone field height * ratio

	Octaves     int
	Persistence float64
	Lacunarity  float64

	// SeaLevel fills air below it with water; 0 disables oceans.
	SeaLevel int

	// Workers bounds the goroutines used per column; 0 means GOMAXPROCS.
	Workers int
}

func DefaultParams(seed int64) Params {
	return Params{
		Seed:         seed,
		SurfaceScale: 600,
		StoneScale:   700,
		StoneRatio:   0.7,
		Octaves:      6,
		Persistence:  0.5,
		Lacunarity:   2.0,
	}
}

func (p Params) normalized() Params {
	d := DefaultParams(p.Seed)
	if p.SurfaceScale <= 0 {
		p.SurfaceScale = d.SurfaceScale
	}
	if p.StoneScale <= 0 {
		p.StoneScale = d.StoneScale
	}
	if p.StoneRatio <= 0 || p.StoneRatio >= 1 {
		p.StoneRatio = d.StoneRatio
	}
	if p.Octaves <= 0 {
		p.Octaves = d.Octaves
	}
	if p.Persistence <= 0 {
		p.Persistence = d.Persistence
	}
	if p.Lacunarity <= 0 {
		p.Lacunarity = d.Lacunarity
	}
	if p.SeaLevel < 0 || p.SeaLevel >= voxel.SizeY {
		p.SeaLevel = 0
	}
	return p
}

// Generator is a pure function of (seed, column). It holds only read-only
// noise tables and is safe for concurrent use.
type Generator struct {
	p       Params
	octaves []opensimplex.Noise
}

func New(p Params) *Generator {
	p = p.normalized()
	g := &Generator{p: p, octaves: make([]opensimplex.Noise, p.Octaves)}
	for i := range g.octaves {
		g.octaves[i] = opensimplex.New(int64(Hash2(p.Seed, i, 0)))
	}
	return g
}

func (g *Generator) Params() Params { return g.p }

// Generate builds the grid for one column. Identical seed and position always
// yield an identical grid.
func (g *Generator) Generate(pos voxel.ColumnPos) *voxel.Grid {
	ox, oz := pos.Origin()
	blocks := make([]block.ID, voxel.Volume)

	workers := g.workerCount()
	slabs := make(chan int, voxel.SizeZ)
	for z := 0; z < voxel.SizeZ; z++ {
		slabs <- z
	}
	close(slabs)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for z := range slabs {
				for x := 0; x < voxel.SizeX; x++ {
					g.fillColumn(blocks, x, z, ox+x, oz+z)
				}
			}
		}()
	}
	wg.Wait()

	grid, _ := voxel.FromBlocks(blocks)
	return grid
}

func (g *Generator) fillColumn(blocks []block.ID, lx, lz, wx, wz int) {
	surface := g.SurfaceHeight(wx, wz)
	stone := g.StoneHeight(wx, wz)
	if stone >= surface {
		stone = surface - 1
	}
	cover := block.Grass
	sea := g.p.SeaLevel
	if sea > 0 && surface < sea {
		cover = block.Sand
	}

	base := lx + lz*voxel.SizeX*voxel.SizeY
	for y := 0; y < voxel.SizeY; y++ {
		var b block.ID
		switch {
		case y == surface:
			b = cover
		case y > stone && y < surface:
			b = block.Dirt
		case y <= stone:
			b = block.Stone
		case sea > 0 && y <= sea:
			b = block.Water
		default:
			b = block.Air
		}
		blocks[base+y*voxel.SizeX] = b
	}
}

// SurfaceHeight is the y of the cover block at world (wx, wz).
func (g *Generator) SurfaceHeight(wx, wz int) int {
	n := g.fractal(float64(wx)/g.p.SurfaceScale, float64(wz)/g.p.SurfaceScale)
	return heightOf(n)
}

// StoneHeight is the highest y that is stone at world (wx, wz), before it is
// clamped under the surface.
func (g *Generator) StoneHeight(wx, wz int) int {
	n := g.fractal(float64(wx)/g.p.StoneScale, float64(wz)/g.p.StoneScale)
	return int(float64(heightOf(n)) * g.p.StoneRatio)
}

func heightOf(n float64) int {
	// [-1, 1] -> [0, 1] -> column height
	h := int((n + 1) / 2 * voxel.SizeY)
	if h < 0 {
		return 0
	}
	if h > voxel.SizeY-1 {
		return voxel.SizeY - 1
	}
	return h
}

func (g *Generator) fractal(x, z float64) float64 {
	frequency := 1.0
	amplitude := 1.0
	sum := 0.0
	maxAmplitude := 0.0
	for _, o := range g.octaves {
		sum += o.Eval2(x*frequency, z*frequency) * amplitude
		maxAmplitude += amplitude
		amplitude *= g.p.Persistence
		frequency *= g.p.Lacunarity
	}
	if maxAmplitude == 0 {
		return 0
	}
	return math.Max(-1, math.Min(1, sum/maxAmplitude))
}

func (g *Generator) workerCount() int {
	w := g.p.Workers
	if w <= 0 {
		w = runtime.GOMAXPROCS(0)
	}
	if w > voxel.SizeZ {
		w = voxel.SizeZ
	}
	if w < 1 {
		w = 1
	}
	return w
}
