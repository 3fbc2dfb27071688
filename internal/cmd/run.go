// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package cmd

import (
	"context"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/AMD-AGI/Skylapse/brain/pkg/database"
	"github.com/AMD-AGI/Skylapse/brain/pkg/logger/log"
	"github.com/AMD-AGI/Skylapse/brain/pkg/scheduler"
	"github.com/AMD-AGI/Skylapse/brain/pkg/server"
	brainsql "github.com/AMD-AGI/Skylapse/brain/pkg/sql"
	"github.com/AMD-AGI/Skylapse/brain/pkg/taskqueue"
	"github.com/AMD-AGI/Skylapse/brain/pkg/worker"
)

var noWorker bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the Brain: scheduler, API server, queue janitor and workers",
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

		if err := store.Watch(ctx); err != nil {
			log.Warnf("Config watch disabled: %v", err)
		}

		sessions := database.NewSessionFacade()
		states := database.NewScheduleStateFacade()
		videos := database.NewVideoFacade()

		sched := scheduler.New(store, sessions, states, queue, nil)

		janitor := taskqueue.NewJanitor(queue, nil)
		if err := janitor.Start(ctx); err != nil {
			return err
		}
		defer janitor.Stop()

		api := server.New(
			store.Snapshot().Brain.GetListenAddress(),
			server.NewHandler(store, sessions, videos, queue, sched),
		)

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return sched.Run(gctx) })
		g.Go(func() error { return api.Start(gctx) })
		if !noWorker {
			pool := worker.NewPool(store, queue, sessions, videos)
			g.Go(func() error { return pool.Run(gctx) })
		}

		err = g.Wait()
		log.Info("Brain stopped")
		return err
	},
}

func init() {
	runCmd.Flags().BoolVar(&noWorker, "no-worker", false,
		"do not run queue workers in this process (use dedicated worker processes)")
	rootCmd.AddCommand(runCmd)
}
