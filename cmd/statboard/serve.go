package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/talgya/statboard/internal/api"
	"github.com/talgya/statboard/internal/boards"
	"github.com/talgya/statboard/internal/config"
	"github.com/talgya/statboard/internal/entropy"
	"github.com/talgya/statboard/internal/observability"
	"github.com/talgya/statboard/internal/persistence"
	"github.com/talgya/statboard/internal/session"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the dashboard HTTP server",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("port") {
			cfg.Port = servePort
			if err := cfg.Validate(); err != nil {
				return err
			}
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg)
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "listen port (overrides config)")
}

func serve(ctx context.Context, cfg config.Config) error {
	slog.Info("statboard starting", "version", version, "port", cfg.Port, "session_ttl", cfg.SessionTTL)

	// ── Metrics ───────────────────────────────────────────────────────
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(reg)

	// ── Journal (optional) ────────────────────────────────────────────
	var (
		journal    boards.Journal
		apiJournal api.Journal
	)
	if cfg.DBPath != "" {
		if dir := filepath.Dir(cfg.DBPath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("create db dir: %w", err)
			}
		}
		db, err := persistence.Open(cfg.DBPath)
		if err != nil {
			return err
		}
		defer db.Close()
		journal, apiJournal = db, db
		slog.Info("journal opened", "path", cfg.DBPath)
	} else {
		slog.Info("STATBOARD_DB not set, sample journal disabled")
	}

	// ── Entropy ───────────────────────────────────────────────────────
	rng := entropy.NewClient(cfg.RandomOrg)
	if rng.Enabled() {
		fillCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		if err := rng.Fill(fillCtx); err != nil {
			slog.Warn("random.org prefill failed, drawing from crypto/rand until it recovers", "error", err)
		}
		cancel()
		slog.Info("random.org entropy enabled")
	} else {
		slog.Info("RANDOM_ORG_API_KEY not set, using crypto/rand seeding")
	}

	if cfg.AdminKey == "" {
		slog.Warn("STATBOARD_ADMIN_KEY not set, session listing disabled")
	}

	store := session.NewStore(session.Options{
		TTL:      cfg.SessionTTL,
		Journal:  journal,
		Entropy:  rng,
		Recorder: metrics,
		Metrics:  metrics,
	})
	limiter := api.NewRateLimiter(cfg.ActionRate, cfg.ActionBurst, cfg.SessionTTL)

	srv := &api.Server{
		Store:       store,
		Journal:     apiJournal,
		Metrics:     metrics,
		Gatherer:    reg,
		Limiter:     limiter,
		Port:        cfg.Port,
		AdminKey:    cfg.AdminKey,
		CORSOrigins: cfg.CORSOrigins,
		MaxStreams:  cfg.MaxStreams,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return store.Run(gctx) })
	g.Go(func() error { return limiter.Run(gctx) })
	g.Go(func() error { return srv.ListenAndServe(gctx) })

	fmt.Printf("statboard is up: http://localhost:%d/\n", cfg.Port)
	err := g.Wait()
	slog.Info("statboard stopped", "sessions", store.Len())
	return err
}
