// Package services implements the profile registries on top of the SQLite
// repositories: id assignment, validation, and the clean-up that follows a
// delete.
package services

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dmitrijs2005/goterm/internal/common"
	"github.com/dmitrijs2005/goterm/internal/dbx"
	"github.com/dmitrijs2005/goterm/internal/logging"
	"github.com/dmitrijs2005/goterm/internal/models"
	"github.com/dmitrijs2005/goterm/internal/repositories/repomanager"
)

// CredentialRemover drops every secret stored for a profile.
type CredentialRemover interface {
	Delete(ctx context.Context, profileID string) error
}

type ProfileService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	creds       CredentialRemover
	logger      logging.Logger
}

func NewProfileService(db *sql.DB, m repomanager.RepositoryManager, creds CredentialRemover, l logging.Logger) *ProfileService {
	return &ProfileService{db: db, repomanager: m, creds: creds, logger: l.With("module", "profiles")}
}

func (s *ProfileService) List(ctx context.Context) ([]models.Profile, error) {
	return s.repomanager.Profiles(s.db).List(ctx)
}

func (s *ProfileService) Get(ctx context.Context, id string) (models.Profile, error) {
	return s.repomanager.Profiles(s.db).Get(ctx, id)
}

// Save inserts or updates a profile and returns the stored form. An empty
// id gets a fresh one. Live sessions keep the copy they connected with.
func (s *ProfileService) Save(ctx context.Context, p models.Profile) (models.Profile, error) {
	if p.ID == "" {
		p.ID = common.NewID()
	}
	p.Normalize()
	if err := p.Validate(); err != nil {
		return models.Profile{}, err
	}

	if err := s.repomanager.Profiles(s.db).Save(ctx, p); err != nil {
		return models.Profile{}, err
	}
	s.logger.Info(ctx, "profile saved", "profile_id", p.ID, "host", p.Host)
	return p, nil
}

// Delete removes the profile and its secrets. A profile that a MySQL tunnel
// still routes through cannot be deleted.
func (s *ProfileService) Delete(ctx context.Context, id string) error {
	err := dbx.WithTx(ctx, s.db, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Profiles(tx)
		if _, err := repo.Get(ctx, id); err != nil {
			return err
		}

		tunnels, err := s.repomanager.MySQLProfiles(tx).List(ctx)
		if err != nil {
			return err
		}
		for _, mp := range tunnels {
			if mp.ConnectionType == models.ConnectionSSHTunnel && mp.SSHProfileID == id {
				return fmt.Errorf("%w: profile %s is used by mysql profile %q", common.ErrInvalidState, id, mp.Name)
			}
		}
		return repo.Delete(ctx, id)
	})
	if err != nil {
		return err
	}

	if err := s.creds.Delete(ctx, id); err != nil {
		return fmt.Errorf("profile deleted but its credentials were not: %w", err)
	}
	s.logger.Info(ctx, "profile deleted", "profile_id", id)
	return nil
}
