package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/scrollscope/backend/internal/config"
	"github.com/scrollscope/backend/internal/frontend"
	"github.com/scrollscope/backend/internal/health"
	"github.com/scrollscope/backend/internal/ingest"
	"github.com/scrollscope/backend/internal/mock"
	"github.com/scrollscope/backend/internal/stats"
	"github.com/scrollscope/backend/internal/track"
	"github.com/scrollscope/backend/internal/ws"
)

func main() {
	mockMode := flag.Bool("mock", false, "Generate synthetic scroll feeds")
	devMode := flag.Bool("dev", false, "Development mode (serve frontend from filesystem)")
	configPath := flag.String("config", "config.yaml", "Path to config file")
	port := flag.Int("port", 0, "Override server port")
	flag.Parse()

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if *port > 0 {
		cfg.Server.Port = *port
	}

	store := track.NewStore()
	broadcaster := ws.NewBroadcaster(store, cfg.Broadcast.Throttle, cfg.Broadcast.SnapshotInterval, cfg.Broadcast.MaxClients)
	broadcaster.SetPrivacyFilter(cfg.Privacy.NewPrivacyFilter())

	sampler, err := health.NewSampler()
	if err != nil {
		log.Printf("Process sampler unavailable: %v", err)
	} else {
		broadcaster.SetHealthHook(sampler.Snapshot)
	}

	registry := ingest.NewRegistry(cfg, store, broadcaster)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var tracker *stats.Tracker
	if cfg.Stats.Enabled {
		var events chan<- track.Event
		tracker, events, err = stats.NewTracker(stats.NewStore(cfg.Stats.Dir))
		if err != nil {
			log.Fatalf("Failed to load stats: %v", err)
		}
		registry.SetEvents(events)
		go tracker.Run(ctx)
	}

	frontendDir := ""
	if *devMode {
		exe, _ := os.Executable()
		frontendDir = filepath.Join(filepath.Dir(exe), "..", "..", "internal", "frontend", "static")
		// If running with go run, the exe path is in a temp dir, use CWD instead
		if _, err := os.Stat(frontendDir); os.IsNotExist(err) {
			cwd, _ := os.Getwd()
			frontendDir = filepath.Join(cwd, "internal", "frontend", "static")
		}
	}

	// Embedded frontend handler: when built with -tags embed, serves from binary.
	// Otherwise falls back to serving from the filesystem.
	var embeddedHandler http.Handler
	if !*devMode {
		embeddedHandler = frontend.Handler()
		if embeddedHandler == nil {
			cwd, _ := os.Getwd()
			fallback := filepath.Join(cwd, "internal", "frontend", "static")
			if _, err := os.Stat(fallback); err == nil {
				log.Printf("No embedded frontend, falling back to: %s", fallback)
				embeddedHandler = http.FileServer(http.Dir(fallback))
			}
		}
	}

	server := ws.NewServer(store, broadcaster, registry, frontendDir, *devMode, embeddedHandler, cfg.Server.AllowedOrigins, cfg.Server.AuthToken)
	server.SetSampler(sampler)
	if tracker != nil {
		server.SetStatsTracker(tracker)
	}

	if *mockMode {
		log.Println("Starting in mock mode")
		gen := mock.NewGenerator(registry)
		gen.Start(ctx)
	}

	mux := http.NewServeMux()
	server.SetupRoutes(mux)

	// SIGHUP reloads the config file. Detection latencies, feed limits,
	// and privacy rules apply live; server address and auth require a
	// restart.
	hupCh := make(chan os.Signal, 1)
	signal.Notify(hupCh, syscall.SIGHUP)
	go func() {
		current := cfg
		for range hupCh {
			next, err := config.Load(*configPath)
			if err != nil {
				log.Printf("Config reload failed: %v", err)
				continue
			}
			changes := config.Diff(current, next)
			if len(changes) == 0 {
				log.Println("Config reloaded: no changes")
				continue
			}
			for _, c := range changes {
				log.Printf("Config change: %s", c)
			}
			registry.SetConfig(next)
			broadcaster.SetPrivacyFilter(next.Privacy.NewPrivacyFilter())
			current = next
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("Shutting down...")
		cancel()
		registry.Stop()
		broadcaster.Stop()
		os.Exit(0)
	}()

	if err := ws.ListenAndServe(cfg.Server.Host, cfg.Server.Port, mux); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
