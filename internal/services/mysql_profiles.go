package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/goterm/internal/common"
	"github.com/dmitrijs2005/goterm/internal/dbx"
	"github.com/dmitrijs2005/goterm/internal/logging"
	"github.com/dmitrijs2005/goterm/internal/models"
	"github.com/dmitrijs2005/goterm/internal/repositories/repomanager"
)

// Disconnecter closes a profile's live database connection.
type Disconnecter interface {
	Disconnect(ctx context.Context, profileID string) error
}

type MySQLProfileService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	creds       CredentialRemover
	conns       Disconnecter
	logger      logging.Logger
}

func NewMySQLProfileService(db *sql.DB, m repomanager.RepositoryManager, creds CredentialRemover, conns Disconnecter, l logging.Logger) *MySQLProfileService {
	return &MySQLProfileService{db: db, repomanager: m, creds: creds, conns: conns, logger: l.With("module", "mysqlprofiles")}
}

// SetDisconnecter wires the connection manager once it exists; the manager
// itself reads profiles from this service.
func (s *MySQLProfileService) SetDisconnecter(d Disconnecter) {
	s.conns = d
}

func (s *MySQLProfileService) List(ctx context.Context) ([]models.MySQLProfile, error) {
	return s.repomanager.MySQLProfiles(s.db).List(ctx)
}

func (s *MySQLProfileService) Get(ctx context.Context, id string) (models.MySQLProfile, error) {
	return s.repomanager.MySQLProfiles(s.db).Get(ctx, id)
}

// Save validates and stores the profile. A tunnelled profile must name an
// existing SSH profile.
func (s *MySQLProfileService) Save(ctx context.Context, p models.MySQLProfile) (models.MySQLProfile, error) {
	if p.ID == "" {
		p.ID = common.NewID()
	}
	p.Normalize()
	if err := p.Validate(); err != nil {
		return models.MySQLProfile{}, err
	}

	// the tunnel target must still exist when the row lands
	saved, err := dbx.InTx(ctx, s.db, func(ctx context.Context, tx dbx.DBTX) (models.MySQLProfile, error) {
		if p.ConnectionType == models.ConnectionSSHTunnel {
			if _, err := s.repomanager.Profiles(tx).Get(ctx, p.SSHProfileID); err != nil {
				if errors.Is(err, common.ErrNotFound) {
					return models.MySQLProfile{}, fmt.Errorf("%w: ssh profile %s does not exist", common.ErrValidation, p.SSHProfileID)
				}
				return models.MySQLProfile{}, err
			}
		}
		return p, s.repomanager.MySQLProfiles(tx).Save(ctx, p)
	})
	if err != nil {
		return models.MySQLProfile{}, err
	}
	s.logger.Info(ctx, "mysql profile saved", "profile_id", saved.ID, "host", saved.Host)
	return saved, nil
}

// Delete closes the live connection, then removes the record and its
// password.
func (s *MySQLProfileService) Delete(ctx context.Context, id string) error {
	repo := s.repomanager.MySQLProfiles(s.db)
	if _, err := repo.Get(ctx, id); err != nil {
		return err
	}

	if s.conns != nil {
		if err := s.conns.Disconnect(ctx, id); err != nil {
			s.logger.Warn(ctx, "disconnect before delete failed", "profile_id", id, "error", err)
		}
	}
	if err := repo.Delete(ctx, id); err != nil {
		return err
	}
	if err := s.creds.Delete(ctx, id); err != nil {
		return fmt.Errorf("mysql profile deleted but its credentials were not: %w", err)
	}
	s.logger.Info(ctx, "mysql profile deleted", "profile_id", id)
	return nil
}
