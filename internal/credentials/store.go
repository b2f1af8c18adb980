package credentials

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/goterm/internal/common"
	"github.com/dmitrijs2005/goterm/internal/logging"
)

type Kind string

const (
	KindPassword   Kind = "password"
	KindPassphrase Kind = "passphrase"
)

// Namespaces keep SSH and MySQL profile ids apart in the shared backend.
const (
	NamespaceSSH   = "ssh"
	NamespaceMySQL = "mysql"
)

// Status tells which secrets exist for a profile. Secrets themselves are
// never returned through the public API.
type Status struct {
	PasswordSet   bool `json:"passwordSet"`
	PassphraseSet bool `json:"passphraseSet"`
}

// Store is the credential store for one profile namespace.
type Store struct {
	backend   Backend
	namespace string
	logger    logging.Logger
}

func NewStore(b Backend, namespace string, l logging.Logger) *Store {
	return &Store{
		backend:   b,
		namespace: namespace,
		logger:    l.With("module", "credentials", "namespace", namespace),
	}
}

func (s *Store) key(profileID string, kind Kind) string {
	return s.namespace + ":" + string(kind) + ":" + profileID
}

func (s *Store) SetPassword(ctx context.Context, profileID, secret string) error {
	return s.set(ctx, profileID, KindPassword, secret)
}

func (s *Store) SetPassphrase(ctx context.Context, profileID, secret string) error {
	return s.set(ctx, profileID, KindPassphrase, secret)
}

func (s *Store) set(ctx context.Context, profileID string, kind Kind, secret string) error {
	if profileID == "" {
		return fmt.Errorf("%w: profile id is required", common.ErrValidation)
	}
	if secret == "" {
		return fmt.Errorf("%w: empty %s", common.ErrValidation, kind)
	}
	if err := s.backend.Set(common.KeyringService, s.key(profileID, kind), secret); err != nil {
		return fmt.Errorf("failed to store %s: %w", kind, err)
	}
	s.logger.Info(ctx, "credential stored", "profile_id", profileID, "kind", kind)
	return nil
}

// Delete removes every secret kind for the profile. Missing secrets are not
// an error.
func (s *Store) Delete(ctx context.Context, profileID string) error {
	if profileID == "" {
		return fmt.Errorf("%w: profile id is required", common.ErrValidation)
	}
	for _, kind := range []Kind{KindPassword, KindPassphrase} {
		err := s.backend.Delete(common.KeyringService, s.key(profileID, kind))
		if err != nil && !errors.Is(err, common.ErrNotFound) {
			return fmt.Errorf("failed to delete %s: %w", kind, err)
		}
	}
	s.logger.Info(ctx, "credentials deleted", "profile_id", profileID)
	return nil
}

func (s *Store) Status(ctx context.Context, profileID string) (Status, error) {
	var st Status
	var err error
	if st.PasswordSet, err = s.exists(profileID, KindPassword); err != nil {
		return Status{}, err
	}
	if st.PassphraseSet, err = s.exists(profileID, KindPassphrase); err != nil {
		return Status{}, err
	}
	return st, nil
}

func (s *Store) exists(profileID string, kind Kind) (bool, error) {
	_, err := s.backend.Get(common.KeyringService, s.key(profileID, kind))
	if errors.Is(err, common.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", kind, err)
	}
	return true, nil
}

// Resolve returns the secret for use in a single transport-open operation.
// It is internal to the backend and never exposed over the bridge.
func (s *Store) Resolve(ctx context.Context, profileID string, kind Kind) (string, error) {
	v, err := s.backend.Get(common.KeyringService, s.key(profileID, kind))
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return "", fmt.Errorf("%w: no %s stored for profile %s", common.ErrNotFound, kind, profileID)
		}
		return "", fmt.Errorf("failed to read %s: %w", kind, err)
	}
	return v, nil
}
