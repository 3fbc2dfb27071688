// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/AMD-AGI/Skylapse/brain/pkg/database"
	"github.com/AMD-AGI/Skylapse/brain/pkg/database/model"
	"github.com/AMD-AGI/Skylapse/brain/pkg/logger/log"
	"github.com/AMD-AGI/Skylapse/brain/pkg/solar"
	brainsql "github.com/AMD-AGI/Skylapse/brain/pkg/sql"
	"github.com/AMD-AGI/Skylapse/brain/pkg/taskqueue"
)

var closeAll bool

// closeStaleCmd is an operator escape hatch for sessions left active by an
// unclean shutdown. The running scheduler does the same thing on start.
var closeStaleCmd = &cobra.Command{
	Use:   "close-stale-sessions",
	Short: "Close active sessions whose window already ended and queue their assembly",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := loadStore()
		if err != nil {
			return err
		}
		queue, err := openStores(store)
		if err != nil {
			return err
		}
		defer brainsql.Close(context.Background())

		ctx := context.Background()
		doc := store.Snapshot()
		sessions := database.NewSessionFacade()
		calc := solar.NewCalculator()

		tz, err := doc.Location.LoadTimezone()
		if err != nil {
			return err
		}
		now := time.Now()

		active, err := sessions.ListActiveSessions(ctx)
		if err != nil {
			return err
		}

		ended := func(session *model.Session) bool {
			sched, ok := doc.Schedules[session.ScheduleID]
			if !ok {
				return true
			}
			dateLocal, err := time.ParseInLocation("2006-01-02", session.DateLocal, tz)
			if err != nil {
				return true
			}
			window, err := calc.Window(doc.Location, sched, dateLocal)
			if err != nil {
				return true
			}
			return now.After(window.End)
		}

		closed := 0
		for _, session := range active {
			if !closeAll && !ended(session) {
				continue
			}

			if err := sessions.CloseSession(ctx, session.ID, now, model.SessionStatusClosed); err != nil {
				log.Errorf("Failed to close session %s: %v", session.ID, err)
				continue
			}
			closed++
			fmt.Printf("closed %s (%d captures)\n", session.ID, session.CaptureCount)

			if session.CaptureCount == 0 {
				continue
			}
			if _, err := queue.Enqueue(ctx, taskqueue.KindAssembleVideo, session.ID,
				&taskqueue.AssembleVideoPayload{SessionID: session.ID}); err != nil {
				log.Errorf("Failed to enqueue assembly for %s: %v", session.ID, err)
			}
		}

		fmt.Printf("%d of %d active sessions closed\n", closed, len(active))
		return nil
	},
}

func init() {
	closeStaleCmd.Flags().BoolVar(&closeAll, "all", false, "close every active session regardless of its window")
	rootCmd.AddCommand(closeStaleCmd)
}
