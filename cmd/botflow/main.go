package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"botflow/internal/config"
	"botflow/internal/flow"
	"botflow/internal/fsm"
	"botflow/internal/fsm/states"
	"botflow/internal/i18n"
	"botflow/internal/metrics"
	"botflow/internal/queue"
	"botflow/internal/sender"
	"botflow/internal/server"
	"botflow/internal/store"

	"github.com/spf13/cobra"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "botflow",
		Short: "botflow: dialogue dispatch engine",
		Long:  "botflow routes messages from channel frontends through a per-user dialogue state machine.",
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.yaml (default: ~/.botflow/config.yaml)")

	root.AddCommand(initCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(doctorCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize config and data directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgDir := config.DefaultConfigDir()
			cfgPath := config.DefaultConfigPath()
			if err := os.MkdirAll(cfgDir, 0o755); err != nil {
				return err
			}
			cfg := config.Defaults()
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath)
			logger.Info("set server.securityToken before starting the server")
			return nil
		},
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the dispatch engine",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	logger = newLogger(cfg.Server.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.NewSQLiteStore(cfg.Storage.DBPath, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.NewCollector()
	}

	strs, err := i18n.NewStrings(cfg.Strings.Path, nil, db,
		time.Duration(cfg.Strings.CacheTTLMinutes)*time.Minute, logger)
	if err != nil {
		return err
	}

	loader := flow.NewLoader(cfg.Flow.Path, logger)
	loader.OnReload(func(g *flow.Graph) {
		strs.SetFlowTexts(g.Texts())
	})
	if cfg.Flow.Path != "" {
		if err := loader.Load(); err != nil {
			return fmt.Errorf("cannot load dialogue graph: %w", err)
		}
	}

	client := sender.NewClient(time.Duration(cfg.Engine.SendTimeoutSeconds)*time.Second, logger)
	directory := sender.NewSessionDirectory(db)
	newBatcher := func() *sender.Batcher {
		return sender.NewBatcher(client, directory, cfg.Engine.BatchChunkSize, collector, logger)
	}

	settings := fsm.Settings{
		HistoryDepth:   cfg.Engine.HistoryDepth,
		StartState:     states.StateStart,
		EndState:       states.StateEnd,
		CheckbackState: states.StateCheckback,
		OwnerIdentity:  cfg.Server.OwnerIdentity,
		PublicURL:      fmt.Sprintf("http://%s:%d", cfg.Server.Host, cfg.Server.Port),
		Debug:          cfg.Server.Debug,
	}

	registry := fsm.NewRegistry(states.All(), states.Commands())
	handler := fsm.NewHandler(db, strs, loader, registry, newBatcher, settings, collector, logger)

	window := time.Duration(cfg.Scheduler.FanoutWindowSeconds) * time.Second
	reminders := fsm.NewReminderScheduler(db, client, directory,
		time.Duration(cfg.Scheduler.ReminderIntervalSeconds)*time.Second, window,
		states.StateCheckback, collector, logger)
	broadcasts := fsm.NewBroadcastScheduler(db, client, cfg.Server.SecurityToken,
		time.Duration(cfg.Scheduler.BroadcastIntervalSeconds)*time.Second, window,
		collector, logger)

	q := queue.New(cfg.Engine.QueueSize, logger)
	defer q.Close()

	runner := fsm.NewRunner(q, handler, reminders, broadcasts, loader, cfg.Flow.Watch,
		time.Duration(cfg.Engine.DequeueTimeoutMS)*time.Millisecond, collector, logger)

	srv := server.New(
		fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		q, db, directory, loader,
		cfg.Server.SecurityToken, cfg.Server.Debug, cfg.Metrics.Enabled,
		logger,
	)

	logger.Info("botflow starting", "version", version,
		"addr", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		runner.Run(ctx)
	}()

	err = srv.Run(ctx)
	stop()
	wg.Wait()
	if err != nil {
		return err
	}
	logger.Info("botflow stopped")
	return nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
