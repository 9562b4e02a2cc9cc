package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wardlab/infirmary/internal/catalog"
	"github.com/wardlab/infirmary/internal/clock"
	"github.com/wardlab/infirmary/internal/condition"
	"github.com/wardlab/infirmary/internal/config"
	"github.com/wardlab/infirmary/internal/digest"
	"github.com/wardlab/infirmary/internal/mcpserver"
	"github.com/wardlab/infirmary/internal/presence"
	"github.com/wardlab/infirmary/internal/sched"
	"github.com/wardlab/infirmary/internal/store"
	"github.com/wardlab/infirmary/internal/web"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "infirmaryd",
		Short: "Presence time-accrual and condition registry daemon",
		RunE:  run,
	}

	f := rootCmd.PersistentFlags()
	f.String("state-dir", "/state", "directory for persistent state")
	f.String("listen-addr", ":8080", "HTTP listen address")
	f.Duration("heartbeat-interval", 30*time.Second, "interval between presence reconciliations")
	f.Duration("sweep-interval", 5*time.Minute, "interval between expired-condition sweeps")
	f.Duration("ttl-min", time.Hour, "minimum condition lifetime")
	f.Duration("ttl-max", 24*time.Hour, "maximum condition lifetime")
	f.String("digest-model", "", "Anthropic model for the narrated ward digest (empty disables it)")
	f.Duration("digest-interval", 24*time.Hour, "interval between ward digests")
	f.Bool("json-logs", false, "emit JSON logs instead of console output")

	// Bind flags to viper. Viper keys use underscores (state_dir) so they
	// match the env var suffix after stripping the INFIRMARY_ prefix.
	bindFlag := func(viperKey, flagName string) {
		_ = viper.BindPFlag(viperKey, f.Lookup(flagName))
	}
	bindFlag("state_dir", "state-dir")
	bindFlag("listen_addr", "listen-addr")
	bindFlag("heartbeat_interval", "heartbeat-interval")
	bindFlag("sweep_interval", "sweep-interval")
	bindFlag("ttl_min", "ttl-min")
	bindFlag("ttl_max", "ttl-max")
	bindFlag("digest_model", "digest-model")
	bindFlag("digest_interval", "digest-interval")
	bindFlag("json_logs", "json-logs")

	viper.SetEnvPrefix("INFIRMARY")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	rootCmd.AddCommand(&cobra.Command{
		Use:   "mcp",
		Short: "Serve infirmary tools over MCP stdio",
		RunE:  runMCP,
	})

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(jsonLogs bool) (*zap.Logger, error) {
	if jsonLogs {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

func run(cmd *cobra.Command, args []string) error {
	cfg := config.Load()

	log, err := newLogger(cfg.JSONLogs)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync() //nolint:errcheck

	log.Info("infirmaryd starting",
		zap.String("version", config.Version),
		zap.String("state_dir", cfg.StateDir),
		zap.String("listen_addr", cfg.ListenAddr),
		zap.Duration("heartbeat", cfg.HeartbeatInterval),
		zap.Duration("sweep", cfg.SweepInterval))

	if err := os.MkdirAll(cfg.StateDir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	st, err := store.Open(filepath.Join(cfg.StateDir, "infirmary.db"))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close() //nolint:errcheck

	cat, err := catalog.Load()
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}

	clk := clock.System()
	tracker := presence.NewTracker()
	engine := presence.NewEngine(st, clk, log)
	registry := condition.NewRegistry(st, clk, log, cfg.MinTTL, cfg.MaxTTL)

	scheduler := sched.New(engine, registry, tracker, log, cfg.HeartbeatInterval, cfg.SweepInterval)
	if cfg.DigestModel != "" {
		scheduler.Digest = digest.New(engine, registry, log, cfg.DigestModel).Run
		scheduler.DigestEvery = cfg.DigestInterval
	}

	webServer := web.New(&cfg, engine, registry, tracker, cat, st, clk, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		log.Info("shutting down", zap.String("signal", sig.String()))
		cancel()
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return scheduler.Run(gctx)
	})
	g.Go(func() error {
		return webServer.Start()
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return webServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("infirmaryd: %w", err)
	}
	return nil
}

func runMCP(cmd *cobra.Command, args []string) error {
	cfg := config.Load()

	log, err := newLogger(cfg.JSONLogs)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync() //nolint:errcheck

	if err := os.MkdirAll(cfg.StateDir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	st, err := store.Open(filepath.Join(cfg.StateDir, "infirmary.db"))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close() //nolint:errcheck

	cat, err := catalog.Load()
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}

	clk := clock.System()
	tracker := presence.NewTracker()
	engine := presence.NewEngine(st, clk, log)
	registry := condition.NewRegistry(st, clk, log, cfg.MinTTL, cfg.MaxTTL)

	s := mcpserver.NewServer(engine, registry, tracker, cat, &cfg)
	return s.Run(cmd.Context())
}
