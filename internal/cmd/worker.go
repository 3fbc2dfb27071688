// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/AMD-AGI/Skylapse/brain/pkg/database"
	"github.com/AMD-AGI/Skylapse/brain/pkg/logger/log"
	brainsql "github.com/AMD-AGI/Skylapse/brain/pkg/sql"
	"github.com/AMD-AGI/Skylapse/brain/pkg/worker"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run a dedicated pool of assembly workers",
	Long: `Runs queue workers without the scheduler or API server. Point
BRAIN_QUEUE_URL at a shared postgres to scale workers across machines.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := loadStore()
		if err != nil {
			return err
		}
		queue, err := openStores(store)
		if err != nil {
			return err
		}

		ctx, stop := signalContext()
		defer stop()
		defer brainsql.Close(context.Background())

		pool := worker.NewPool(store, queue, database.NewSessionFacade(), database.NewVideoFacade())
		err = pool.Run(ctx)
		log.Info("Worker pool stopped")
		return err
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
}
