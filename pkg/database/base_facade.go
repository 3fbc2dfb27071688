package database

import (
	"github.com/AMD-AGI/Skylapse/brain/pkg/sql"
	"gorm.io/gorm"
)

// BaseFacade is the base structure for all facades, providing DB access.
// A zero BaseFacade uses the process-default connection; WithDB pins a
// specific one (tests, external queue database).
type BaseFacade struct {
	db *gorm.DB
}

func (f *BaseFacade) getDB() *gorm.DB {
	if f.db != nil {
		return f.db
	}
	return sql.GetDefaultDB()
}

func (f *BaseFacade) withDB(db *gorm.DB) BaseFacade {
	return BaseFacade{db: db}
}
