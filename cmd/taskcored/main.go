package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nenadatanasovski/taskcore/pkg/api"
	"github.com/nenadatanasovski/taskcore/pkg/cascade"
	"github.com/nenadatanasovski/taskcore/pkg/config"
	"github.com/nenadatanasovski/taskcore/pkg/events"
	"github.com/nenadatanasovski/taskcore/pkg/failure"
	"github.com/nenadatanasovski/taskcore/pkg/gatekeeper"
	"github.com/nenadatanasovski/taskcore/pkg/log"
	"github.com/nenadatanasovski/taskcore/pkg/planner"
	"github.com/nenadatanasovski/taskcore/pkg/storage"
	"github.com/nenadatanasovski/taskcore/pkg/supervisor"
	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "taskcored",
	Short: "taskcored runs the task orchestration core",
	Long: `taskcored is the orchestration daemon: it plans task waves, supervises
worker processes, classifies and escalates failures, scores readiness, and
propagates cascade effects across a task graph. It exposes an HTTP surface
for worker heartbeats and for CLI/human inspection.`,
	Version: Version,
	RunE:    runServe,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"taskcored version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.Flags().String("config", "", "Path to a YAML config file (defaults applied if empty)")
	rootCmd.Flags().String("bind-addr", "", "Override the HTTP bind address")
	rootCmd.Flags().String("storage-driver", "", "Override the storage driver (sqlite, postgres)")
	rootCmd.Flags().String("storage-dsn", "", "Override the storage DSN")
	rootCmd.Flags().String("log-level", "", "Override the log level (debug, info, warn, error)")
	rootCmd.Flags().Bool("log-json", false, "Force JSON log output")
}

func runServe(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	applyFlagOverrides(cmd, cfg)

	log.Init(log.Config{Level: log.Level(cfg.LogLevel), JSONOutput: cfg.LogJSON})
	logger := log.WithComponent("taskcored")

	store, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer func() { _ = store.Close() }()

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	gate := gatekeeper.New(store)
	plan := planner.New(gate)

	sup := supervisor.New(supervisor.Config{
		WorkerBinary:     cfg.WorkerBinary,
		CheckInterval:    cfg.HeartbeatCheckInterval,
		HeartbeatTimeout: cfg.HeartbeatTimeout,
		MissedThreshold:  cfg.MissedHeartbeatLimit,
	}, store, plan, broker)
	sup.Start()
	defer sup.Stop()

	failureEngine := failure.New(store, sup, broker, nil)
	failureEngine.Start()
	defer failureEngine.Stop()

	propagator := cascade.New(store)
	cascadeListener := cascade.NewListener(propagator, broker)
	cascadeListener.Start()
	defer cascadeListener.Stop()

	server := api.NewServer(store, sup, gate, plan, broker)

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(cfg.BindAddr); err != nil {
			errCh <- err
		}
	}()

	logger.Info().Str("addr", cfg.BindAddr).Str("storage_driver", cfg.StorageDriver).Msg("taskcored started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info().Msg("shutdown signal received")
	case err := <-errCh:
		logger.Error().Err(err).Msg("api server exited")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Stop(ctx); err != nil {
		logger.Error().Err(err).Msg("error during api shutdown")
	}

	logger.Info().Msg("taskcored stopped")
	return nil
}

func applyFlagOverrides(cmd *cobra.Command, cfg *config.Config) {
	if v, _ := cmd.Flags().GetString("bind-addr"); v != "" {
		cfg.BindAddr = v
	}
	if v, _ := cmd.Flags().GetString("storage-driver"); v != "" {
		cfg.StorageDriver = v
	}
	if v, _ := cmd.Flags().GetString("storage-dsn"); v != "" {
		cfg.StorageDSN = v
	}
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		cfg.LogLevel = v
	}
	if v, _ := cmd.Flags().GetBool("log-json"); v {
		cfg.LogJSON = true
	}
}

func openStore(cfg *config.Config) (*storage.SQLStore, error) {
	switch cfg.StorageDriver {
	case "postgres":
		return storage.OpenPostgres(cfg.StorageDSN)
	case "sqlite", "":
		return storage.OpenSQLite(cfg.StorageDSN)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
	}
}
