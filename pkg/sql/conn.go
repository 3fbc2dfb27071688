// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package sql

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

const (
	DriverNameSQLite   = "sqlite"
	DriverNamePostgres = "postgres"

	dbKeyDefault = "default"
	dbKeyQueue   = "queue"
)

var (
	connPools    = map[string]*gorm.DB{}
	connPoolLock = &sync.RWMutex{}
)

// DatabaseConfig selects the embedded sqlite store (Path) or an external
// postgres (DSN). Driver defaults to sqlite.
type DatabaseConfig struct {
	Driver string
	Path   string
	DSN    string
}

func (d DatabaseConfig) Validate() error {
	switch d.Driver {
	case "", DriverNameSQLite:
		if d.Path == "" {
			return fmt.Errorf("sqlite config requires a path")
		}
	case DriverNamePostgres:
		if d.DSN == "" {
			return fmt.Errorf("postgres config requires a dsn")
		}
	default:
		return fmt.Errorf("unknown driver %q", d.Driver)
	}
	return nil
}

func getDialector(conf DatabaseConfig) gorm.Dialector {
	if conf.Driver == DriverNamePostgres {
		return postgres.Open(conf.DSN)
	}
	// Single-writer discipline: immediate transactions take the write lock at
	// BEGIN, and the busy timeout covers reader/writer overlap. WAL lets the
	// HTTP read surface proceed concurrently.
	dsn := fmt.Sprintf("%s?_txlock=immediate&_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on", conf.Path)
	return sqlite.Open(dsn)
}

func InitGormDB(key string, conf DatabaseConfig) (*gorm.DB, error) {
	if gormDB := GetDB(key); gormDB != nil {
		return gormDB, nil
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}

	gormDB, err := gorm.Open(getDialector(conf), &gorm.Config{
		NamingStrategy: schema.NamingStrategy{
			SingularTable: true,
		},
		Logger: logger.Discard,
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := gormDB.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	if conf.Driver == DriverNamePostgres {
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetMaxOpenConns(40)
		sqlDB.SetConnMaxLifetime(5 * time.Minute)
		sqlDB.SetConnMaxIdleTime(2 * time.Minute)
	} else {
		// One writer connection keeps sqlite serialization honest.
		sqlDB.SetMaxOpenConns(1)
	}

	connPoolLock.Lock()
	defer connPoolLock.Unlock()
	connPools[key] = gormDB
	return gormDB, nil
}

// InitDefault opens the session store database.
func InitDefault(conf DatabaseConfig) (*gorm.DB, error) {
	return InitGormDB(dbKeyDefault, conf)
}

// InitQueue opens the job queue database. With an empty queueDSN the queue
// shares the session store connection.
func InitQueue(conf DatabaseConfig, queueDSN string) (*gorm.DB, error) {
	if queueDSN == "" {
		return InitDefault(conf)
	}
	return InitGormDB(dbKeyQueue, DatabaseConfig{Driver: DriverNamePostgres, DSN: queueDSN})
}

func GetDB(key string) *gorm.DB {
	connPoolLock.RLock()
	defer connPoolLock.RUnlock()

	if db, ok := connPools[key]; ok {
		return db
	}
	return nil
}

func GetDefaultDB() *gorm.DB {
	return GetDB(dbKeyDefault)
}

func GetQueueDB() *gorm.DB {
	if db := GetDB(dbKeyQueue); db != nil {
		return db
	}
	return GetDB(dbKeyDefault)
}

// SetDB injects a database connection. Test hook.
func SetDB(key string, db *gorm.DB) {
	connPoolLock.Lock()
	defer connPoolLock.Unlock()
	connPools[key] = db
}

// Close closes every open pool. Used on shutdown.
func Close(ctx context.Context) {
	connPoolLock.Lock()
	defer connPoolLock.Unlock()
	for key, db := range connPools {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
		delete(connPools, key)
	}
}
