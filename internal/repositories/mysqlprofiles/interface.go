// Package mysqlprofiles persists MySQL connection profiles. Their ids live in
// their own namespace, separate from SSH profiles.
package mysqlprofiles

import (
	"context"

	"github.com/dmitrijs2005/goterm/internal/models"
)

type Repository interface {
	List(ctx context.Context) ([]models.MySQLProfile, error)
	Get(ctx context.Context, id string) (models.MySQLProfile, error)
	Save(ctx context.Context, p models.MySQLProfile) error
	Delete(ctx context.Context, id string) error
}
