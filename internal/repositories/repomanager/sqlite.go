// Package repomanager vends SQLite-backed repositories bound to either the
// database or an open transaction.
package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/goterm/internal/dbx"
	"github.com/dmitrijs2005/goterm/internal/repositories/mysqlprofiles"
	"github.com/dmitrijs2005/goterm/internal/repositories/profiles"
	"github.com/dmitrijs2005/goterm/internal/storage"
)

type SQLiteRepositoryManager struct{}

func NewSQLiteRepositoryManager() *SQLiteRepositoryManager {
	return &SQLiteRepositoryManager{}
}

func (m *SQLiteRepositoryManager) Profiles(db dbx.DBTX) profiles.Repository {
	return profiles.NewSQLiteRepository(db)
}

func (m *SQLiteRepositoryManager) MySQLProfiles(db dbx.DBTX) mysqlprofiles.Repository {
	return mysqlprofiles.NewSQLiteRepository(db)
}

func (m *SQLiteRepositoryManager) RunMigrations(ctx context.Context, db *sql.DB) error {
	return storage.RunMigrations(ctx, db)
}
