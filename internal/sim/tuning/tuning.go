package tuning

import (
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"voxelstream.io/internal/sim/world/residency"
	"voxelstream.io/internal/sim/world/terrain/gen"
	"voxelstream.io/internal/sim/world/terrain/voxel"
)

type Tuning struct {
	Host   HostConfig   `yaml:"host"`
	World  WorldConfig  `yaml:"world"`
	Viewer ViewerConfig `yaml:"viewer"`
}

type HostConfig struct {
	Listen            string `yaml:"listen"`
	TickRateHz        int    `yaml:"tick_rate_hz"`
	SessionTimeoutMs  int    `yaml:"session_timeout_ms"`
	PingIntervalMs    int    `yaml:"ping_interval_ms"`
	MaxPacketsPerTick int    `yaml:"max_packets_per_tick"`
}

type WorldConfig struct {
	Seed         int64   `yaml:"seed"`
	SurfaceScale float64 `yaml:"surface_scale"`
	StoneScale   float64 `yaml:"stone_scale"`
	StoneRatio   float64 `yaml:"stone_ratio"`
	Octaves      int     `yaml:"octaves"`
	Persistence  float64 `yaml:"persistence"`
	Lacunarity   float64 `yaml:"lacunarity"`
	SeaLevel     int     `yaml:"sea_level"`
	Workers      int     `yaml:"workers"`
}

type ViewerConfig struct {
	TickRateHz         int `yaml:"tick_rate_hz"`
	Radius             int `yaml:"radius"`
	RequestIntervalMs  int `yaml:"request_interval_ms"`
	RetryAfterMs       int `yaml:"retry_after_ms"`
	HandshakeTimeoutMs int `yaml:"handshake_timeout_ms"`
	ConnectRetryMs     int `yaml:"connect_retry_ms"`
	PingIntervalMs     int `yaml:"ping_interval_ms"`
	HostTimeoutMs      int `yaml:"host_timeout_ms"`
}

var ErrInvalid = errors.New("tuning: invalid")

func Defaults() Tuning {
	p := gen.DefaultParams(0)
	return Tuning{
		Host: HostConfig{
			Listen:            "127.0.0.1:7777",
			TickRateHz:        20,
			SessionTimeoutMs:  10000,
			PingIntervalMs:    2000,
			MaxPacketsPerTick: 256,
		},
		World: WorldConfig{
			Seed:         p.Seed,
			SurfaceScale: p.SurfaceScale,
			StoneScale:   p.StoneScale,
			StoneRatio:   p.StoneRatio,
			Octaves:      p.Octaves,
			Persistence:  p.Persistence,
			Lacunarity:   p.Lacunarity,
			SeaLevel:     p.SeaLevel,
			Workers:      p.Workers,
		},
		Viewer: ViewerConfig{
			TickRateHz:         60,
			Radius:             4,
			RequestIntervalMs:  100,
			RetryAfterMs:       1000,
			HandshakeTimeoutMs: 5000,
			ConnectRetryMs:     500,
			PingIntervalMs:     2000,
			HostTimeoutMs:      10000,
		},
	}
}

// Load overlays the yaml file at path onto Defaults and validates the result.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t Tuning) Validate() error {
	h, w, v := t.Host, t.World, t.Viewer
	if _, _, err := net.SplitHostPort(h.Listen); err != nil {
		return fmt.Errorf("%w: host.listen %q: %v", ErrInvalid, h.Listen, err)
	}
	switch {
	case h.TickRateHz <= 0 || h.TickRateHz > 1000:
		return fmt.Errorf("%w: host.tick_rate_hz %d", ErrInvalid, h.TickRateHz)
	case h.SessionTimeoutMs <= 0:
		return fmt.Errorf("%w: host.session_timeout_ms %d", ErrInvalid, h.SessionTimeoutMs)
	case h.PingIntervalMs < 0:
		return fmt.Errorf("%w: host.ping_interval_ms %d", ErrInvalid, h.PingIntervalMs)
	case h.MaxPacketsPerTick <= 0:
		return fmt.Errorf("%w: host.max_packets_per_tick %d", ErrInvalid, h.MaxPacketsPerTick)
	case w.SurfaceScale <= 0 || w.StoneScale <= 0:
		return fmt.Errorf("%w: world scales must be positive", ErrInvalid)
	case w.StoneRatio <= 0 || w.StoneRatio >= 1:
		return fmt.Errorf("%w: world.stone_ratio %v not in (0,1)", ErrInvalid, w.StoneRatio)
	case w.Octaves <= 0 || w.Octaves > 16:
		return fmt.Errorf("%w: world.octaves %d", ErrInvalid, w.Octaves)
	case w.Persistence <= 0 || w.Lacunarity <= 0:
		return fmt.Errorf("%w: world.persistence and world.lacunarity must be positive", ErrInvalid)
	case w.SeaLevel < 0 || w.SeaLevel >= voxel.SizeY:
		return fmt.Errorf("%w: world.sea_level %d", ErrInvalid, w.SeaLevel)
	case w.Workers < 0:
		return fmt.Errorf("%w: world.workers %d", ErrInvalid, w.Workers)
	case v.TickRateHz <= 0 || v.TickRateHz > 1000:
		return fmt.Errorf("%w: viewer.tick_rate_hz %d", ErrInvalid, v.TickRateHz)
	case v.Radius < 0 || v.Radius > 32:
		return fmt.Errorf("%w: viewer.radius %d", ErrInvalid, v.Radius)
	case v.RequestIntervalMs < 0 || v.RetryAfterMs < 0:
		return fmt.Errorf("%w: viewer request timing must not be negative", ErrInvalid)
	case v.HandshakeTimeoutMs <= 0 || v.ConnectRetryMs <= 0:
		return fmt.Errorf("%w: viewer handshake timing must be positive", ErrInvalid)
	case v.PingIntervalMs < 0 || v.HostTimeoutMs <= 0:
		return fmt.Errorf("%w: viewer liveness timing", ErrInvalid)
	}
	return nil
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

func tickOf(hz int) time.Duration {
	if hz <= 0 {
		return 0
	}
	return time.Second / time.Duration(hz)
}

func (h HostConfig) Tick() time.Duration           { return tickOf(h.TickRateHz) }
func (h HostConfig) SessionTimeout() time.Duration { return ms(h.SessionTimeoutMs) }
func (h HostConfig) PingInterval() time.Duration   { return ms(h.PingIntervalMs) }

func (v ViewerConfig) Tick() time.Duration             { return tickOf(v.TickRateHz) }
func (v ViewerConfig) HandshakeTimeout() time.Duration { return ms(v.HandshakeTimeoutMs) }
func (v ViewerConfig) ConnectRetry() time.Duration     { return ms(v.ConnectRetryMs) }
func (v ViewerConfig) PingInterval() time.Duration     { return ms(v.PingIntervalMs) }
func (v ViewerConfig) HostTimeout() time.Duration      { return ms(v.HostTimeoutMs) }

func (v ViewerConfig) Residency() residency.Config {
	return residency.Config{
		Radius:          v.Radius,
		RequestInterval: ms(v.RequestIntervalMs),
		RetryAfter:      ms(v.RetryAfterMs),
	}
}

func (w WorldConfig) GenParams() gen.Params {
	return gen.Params{
		Seed:         w.Seed,
		SurfaceScale: w.SurfaceScale,
		StoneScale:   w.StoneScale,
		StoneRatio:   w.StoneRatio,
		Octaves:      w.Octaves,
		Persistence:  w.Persistence,
		Lacunarity:   w.Lacunarity,
		SeaLevel:     w.SeaLevel,
		Workers:      w.Workers,
	}
}
