package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"voxelstream.io/internal/host"
	persistlog "voxelstream.io/internal/persistence/log"
	"voxelstream.io/internal/sim/catalogs"
	"voxelstream.io/internal/sim/tuning"
	"voxelstream.io/internal/sim/world/terrain/gen"
	"voxelstream.io/internal/transport/observer"
	"voxelstream.io/internal/transport/udp"
)

func main() {
	var (
		configDir  = flag.String("configs", "./configs", "config directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		addr       = flag.String("addr", "", "udp listen host:port (overrides host.listen in tuning)")
		httpAddr   = flag.String("http", "127.0.0.1:8080", "http listen address for healthz/metrics/observer (empty to disable)")
		indexPath  = flag.String("index_db", "./data/index/host.sqlite", "sqlite index path (empty to disable)")
		eventsDir  = flag.String("events_dir", "", "directory for hourly jsonl.zst host event logs (empty to disable)")
		seed       = flag.Int64("seed", 0, "world seed (overrides world.seed in tuning when non-zero)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	cats, err := catalogs.Load(*configDir)
	if err != nil {
		logger.Fatalf("load catalogs: %v", err)
	}

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Fatalf("load tuning: %v", err)
		}
		logger.Printf("tuning not found (%s); using defaults", tp)
		tune = tuning.Defaults()
	}
	if a := strings.TrimSpace(*addr); a != "" {
		tune.Host.Listen = a
	}
	if *seed != 0 {
		tune.World.Seed = *seed
	}
	if err := tune.Validate(); err != nil {
		logger.Fatalf("tuning: %v", err)
	}

	// Optional read-model index (does not affect what the host serves).
	idx, err := openRuntimeIndex(*indexPath)
	if err != nil {
		logger.Fatalf("open index backend: %v", err)
	}
	if idx != nil {
		defer idx.Close()
		if err := idx.UpsertCatalogs(*configDir, cats, tune); err != nil {
			logger.Printf("index backend: upsert catalogs: %v", err)
		}
	}

	var events *persistlog.EventLog
	if d := strings.TrimSpace(*eventsDir); d != "" {
		events = persistlog.NewEventLog(d)
		defer events.Close()
	}

	conn, err := udp.Listen(tune.Host.Listen)
	if err != nil {
		logger.Fatalf("listen: %v", err)
	}
	defer conn.Close()

	g := gen.New(tune.World.GenParams())
	h := host.New(host.Config{
		TickRateHz:        tune.Host.TickRateHz,
		SessionTimeout:    tune.Host.SessionTimeout(),
		PingInterval:      tune.Host.PingInterval(),
		MaxPacketsPerTick: tune.Host.MaxPacketsPerTick,
		BlockPalette:      cats.Blocks.Palette,
		BlockTextures:     cats.Blocks.TopTextures(),
	}, conn, host.NewService(g, conn.Codec()), logger)
	if sink := hostIndex(idx, events); sink != nil {
		h.SetIndex(sink)
	}

	ctx, cancel := signalContext()
	defer cancel()

	if a := strings.TrimSpace(*httpAddr); a != "" {
		srv := &http.Server{
			Addr:              a,
			Handler:           newMux(h, idx, logger),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			<-ctx.Done()
			ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel2()
			_ = srv.Shutdown(ctx2)
		}()
		go func() {
			logger.Printf("http listening on %s", a)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Printf("http: %v", err)
			}
		}()
	}

	logger.Printf("udp listening on %s (seed=%d tick_rate=%d blocks=%s)", conn.LocalAddr(), tune.World.Seed, tune.Host.TickRateHz, cats.Blocks.Digest[:12])
	if err := h.Run(ctx); err != nil && err != context.Canceled {
		logger.Fatalf("host stopped: %v", err)
	}
	logger.Printf("shutdown")
}

func newMux(h *host.Host, idx runtimeIndex, logger *log.Logger) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		writeHostMetrics(rw, h.Metrics())
		writeIndexMetrics(rw, idx)
	})

	if envBool("VS_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP()) {
		// Local-only admin endpoints.
		mux.HandleFunc("/admin/v1/state", func(rw http.ResponseWriter, r *http.Request) {
			if !isLoopbackRemote(r.RemoteAddr) {
				http.Error(rw, "forbidden", http.StatusForbidden)
				return
			}
			rw.Header().Set("Content-Type", "application/json")
			resp := struct {
				Tick    uint64       `json:"tick"`
				Metrics host.Metrics `json:"metrics"`
			}{
				Tick:    h.CurrentTick(),
				Metrics: h.Metrics(),
			}
			_ = json.NewEncoder(rw).Encode(resp)
		})

		obsSrv := observer.NewServer(h, logger)
		mux.HandleFunc("/v1/observe/bootstrap", obsSrv.BootstrapHandler())
		mux.HandleFunc("/v1/observe", obsSrv.WSHandler())
	} else {
		logger.Printf("admin endpoints disabled (VS_ENABLE_ADMIN_HTTP=false)")
	}
	if envBool("VS_ENABLE_PPROF_HTTP", false) {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	return mux
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

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
