// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

// Package cmd is the skylapse-brain CLI.
package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/AMD-AGI/Skylapse/brain/pkg/config"
	"github.com/AMD-AGI/Skylapse/brain/pkg/database"
	"github.com/AMD-AGI/Skylapse/brain/pkg/logger/log"
	brainsql "github.com/AMD-AGI/Skylapse/brain/pkg/sql"
	"github.com/AMD-AGI/Skylapse/brain/pkg/taskqueue"
)

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "skylapse-brain",
	Short: "Skylapse Brain - centralized timelapse capture orchestrator",
	Long: `Skylapse Brain schedules timelapse captures around solar events, fans
capture requests out to camera nodes, tracks sessions, and assembles the
resulting frames into videos.

Example:
  skylapse-brain run --config config.json
  skylapse-brain worker --config config.json
  skylapse-brain validate-config --config config.json
  skylapse-brain close-stale-sessions --config config.json`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// A local .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"config file (default $BRAIN_CONFIG_PATH or ./config.json)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level override")
}

func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.PathFromEnv()
}

// loadStore loads and validates the config, then initializes logging from it.
func loadStore() (*config.Store, error) {
	store := config.NewStore(resolveConfigPath())
	if err := store.Load(); err != nil {
		return nil, err
	}

	logConf := store.Snapshot().Logging
	if logLevel != "" {
		logConf.Level = logLevel
	}
	log.InitGlobalLogger(&logConf)
	return store, nil
}

// openStores connects the databases and runs migrations. Returns the job
// queue bound to the queue connection.
func openStores(store *config.Store) (taskqueue.Queue, error) {
	doc := store.Snapshot()

	db, err := brainsql.InitDefault(brainsql.DatabaseConfig{
		Driver: brainsql.DriverNameSQLite,
		Path:   doc.Storage.DatabasePath,
	})
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(db); err != nil {
		return nil, err
	}

	queueDB, err := brainsql.InitQueue(brainsql.DatabaseConfig{
		Driver: brainsql.DriverNameSQLite,
		Path:   doc.Storage.DatabasePath,
	}, os.Getenv(config.EnvQueueURL))
	if err != nil {
		return nil, err
	}

	queue := taskqueue.NewStore(queueDB, &taskqueue.Config{
		VisibilityTimeout: doc.Queue.GetVisibilityTimeout(),
		MaxAttempts:       doc.Queue.GetMaxAttempts(),
		RetentionDays:     7,
	})
	if err := queue.Migrate(); err != nil {
		return nil, err
	}
	return queue, nil
}

// signalContext cancels on SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
