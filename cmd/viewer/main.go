package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"voxelstream.io/internal/client"
	"voxelstream.io/internal/sim/clock"
	"voxelstream.io/internal/sim/tuning"
	"voxelstream.io/internal/sim/world/residency"
)

func main() {
	var (
		addr       = flag.String("addr", "127.0.0.1:7777", "host udp address")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (defaults when empty)")
		radius     = flag.Int("radius", 0, "residency radius in columns (overrides viewer.radius when > 0)")
		walk       = flag.Float64("walk", 0, "move the focal point along +X at this many blocks per second")
		ticks      = flag.Uint64("ticks", 0, "stop after this many ticks (0 = run until interrupted)")
		observe    = flag.String("observe", "", "observer ws url to log column surfaces from (optional)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[viewer] ", log.LstdFlags|log.Lmicroseconds)

	tune := tuning.Defaults()
	if p := strings.TrimSpace(*tuningPath); p != "" {
		t, err := tuning.Load(p)
		if err != nil {
			logger.Fatalf("load tuning: %v", err)
		}
		tune = t
	}
	if *radius > 0 {
		tune.Viewer.Radius = *radius
	}
	if err := tune.Validate(); err != nil {
		logger.Fatalf("tuning: %v", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	if u := strings.TrimSpace(*observe); u != "" {
		go func() {
			if err := runObserver(ctx, u, logger); err != nil && !errors.Is(err, context.Canceled) {
				logger.Printf("observer: %v", err)
			}
		}()
	}

	c, err := client.Dial(ctx, *addr, clientConfig(tune.Viewer), nil, logger)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer c.Close()

	clk := clock.New(nil)
	ticker := time.NewTicker(tune.Viewer.Tick())
	defer ticker.Stop()

	focal := residency.Vec3{Y: 64}
	lastResident := -1
	lastReport := clk.Now()
	for {
		select {
		case <-ctx.Done():
			logger.Printf("shutdown")
			return
		case <-ticker.C:
		}
		now := clk.Tick()
		focal = advance(focal, *walk, clk.DT())
		if err := c.Tick(now, focal); err != nil {
			logger.Printf("tick: %v", err)
			return
		}

		st := c.Store()
		if n := st.Len(); n != lastResident {
			center := c.Scheduler().Center()
			logger.Printf("resident=%d pending=%d center=%d,%d", n, st.PendingLen(), center.X, center.Z)
			lastResident = n
		}
		if now.Sub(lastReport) >= time.Second {
			s := c.Stats()
			logger.Printf("rtt=%s requests=%d updates=%d dropped=%d overwritten=%d", c.RTT(), s.Requests, s.Updates, s.Dropped, s.Overwritten)
			lastReport = now
		}
		if *ticks > 0 && clk.Ticks() >= *ticks {
			return
		}
	}
}

func clientConfig(v tuning.ViewerConfig) client.Config {
	cfg := client.DefaultConfig()
	cfg.Residency = v.Residency()
	cfg.HandshakeTimeout = v.HandshakeTimeout()
	cfg.ConnectRetry = v.ConnectRetry()
	cfg.PingInterval = v.PingInterval()
	cfg.HostTimeout = v.HostTimeout()
	return cfg
}

// advance moves focal along +X by speed blocks per second.
func advance(focal residency.Vec3, speed float64, dt time.Duration) residency.Vec3 {
	focal.X += speed * dt.Seconds()
	return focal
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
