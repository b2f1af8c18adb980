// Package profiles persists SSH connection profiles.
package profiles

import (
	"context"

	"github.com/dmitrijs2005/goterm/internal/models"
)

// Repository stores SSH profiles. Get and Delete return common.ErrNotFound
// for unknown ids.
type Repository interface {
	List(ctx context.Context) ([]models.Profile, error)
	Get(ctx context.Context, id string) (models.Profile, error)
	Save(ctx context.Context, p models.Profile) error
	Delete(ctx context.Context, id string) error
}
