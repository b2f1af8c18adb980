package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/goterm/internal/dbx"
	"github.com/dmitrijs2005/goterm/internal/repositories/mysqlprofiles"
	"github.com/dmitrijs2005/goterm/internal/repositories/profiles"
)

type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Profiles(db dbx.DBTX) profiles.Repository
	MySQLProfiles(db dbx.DBTX) mysqlprofiles.Repository
}
