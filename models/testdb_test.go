package models

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/mmdatafocus/ledger_backend/config"
	"github.com/mmdatafocus/ledger_backend/utils"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const testCompanyId = "company-test"

// newTestDB opens a private in-memory database, migrates it and installs it as the global handle.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), config.InitConfig())
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, MigrateTable(db))

	prev := config.GetDB()
	config.SetDB(db)
	t.Cleanup(func() {
		config.SetDB(prev)
		_ = sqlDB.Close()
	})
	return db
}

func companyContext() context.Context {
	return utils.SetCompanyIdInContext(context.Background(), testCompanyId)
}
