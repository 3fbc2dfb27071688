// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package database

import (
	"gorm.io/gorm"

	"github.com/AMD-AGI/Skylapse/brain/pkg/database/model"
	"github.com/AMD-AGI/Skylapse/brain/pkg/logger/log"
)

// lateColumns are columns added after the initial schema. Migrations are
// additive only; each entry checks existence before applying and logs on
// first application. No downgrade path.
var lateColumns = []struct {
	model  interface{}
	column string
}{
	{&model.Capture{}, "hdr_result_capture_id"},
	{&model.GeneratedVideo{}, "input_hash"},
	{&model.GeneratedVideo{}, "error"},
}

// Migrate creates and upgrades the session-store schema.
func Migrate(db *gorm.DB) error {
	migrator := db.Migrator()

	tables := []interface{}{
		&model.Session{},
		&model.Capture{},
		&model.GeneratedVideo{},
		&model.ScheduleState{},
	}
	for _, table := range tables {
		if !migrator.HasTable(table) {
			if err := migrator.CreateTable(table); err != nil {
				return err
			}
			continue
		}
	}

	for _, lc := range lateColumns {
		if migrator.HasColumn(lc.model, lc.column) {
			continue
		}
		log.Infof("Adding column %s", lc.column)
		if err := migrator.AddColumn(lc.model, lc.column); err != nil {
			return err
		}
	}

	// AutoMigrate is additive in gorm; it backfills indexes and any columns
	// not covered by the explicit list.
	return db.AutoMigrate(tables...)
}
