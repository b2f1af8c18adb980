// Package credentials stores profile secrets outside of profile records:
// in the platform keyring when one is reachable, otherwise in an encrypted
// file under the data directory.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dmitrijs2005/goterm/internal/common"
	"github.com/dmitrijs2005/goterm/internal/filex"
	"github.com/dmitrijs2005/goterm/internal/logging"
	"github.com/zalando/go-keyring"
)

// Backend is a flat secret store addressed by service and key. Get and
// Delete return common.ErrNotFound for missing keys.
type Backend interface {
	Name() string
	Set(service, key, secret string) error
	Get(service, key string) (string, error)
	Delete(service, key string) error
}

// SystemBackend uses the OS keychain (Secret Service, Keychain, Credential
// Manager) through go-keyring.
type SystemBackend struct{}

func (SystemBackend) Name() string { return "system" }

func (SystemBackend) Set(service, key, secret string) error {
	return keyring.Set(service, key, secret)
}

func (SystemBackend) Get(service, key string) (string, error) {
	v, err := keyring.Get(service, key)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", fmt.Errorf("%w: secret %s", common.ErrNotFound, key)
	}
	return v, err
}

func (SystemBackend) Delete(service, key string) error {
	err := keyring.Delete(service, key)
	if errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("%w: secret %s", common.ErrNotFound, key)
	}
	return err
}

const probeTimeout = 5 * time.Second

// Options select and configure the backend.
type Options struct {
	Kind     string // auto, system or file
	FilePath string
	Password string
}

// NewBackend returns the configured backend. In auto mode the system keyring
// is probed with a write/read/delete round trip and the encrypted file is
// used when the probe fails or hangs.
func NewBackend(ctx context.Context, opts Options, logger logging.Logger) (Backend, error) {
	switch strings.ToLower(opts.Kind) {
	case "system":
		return SystemBackend{}, nil
	case "file":
		return NewFileBackend(opts.FilePath, opts.Password)
	case "", "auto":
		if err := probeSystem(ctx, probeTimeout); err != nil {
			logger.Warn(ctx, "system keyring unavailable, using encrypted file", "error", err, "path", opts.FilePath)
			return NewFileBackend(opts.FilePath, opts.Password)
		}
		return SystemBackend{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown keyring backend %q", common.ErrValidation, opts.Kind)
	}
}

func probeSystem(ctx context.Context, timeout time.Duration) error {
	done := make(chan error, 1)
	go func() {
		const key = "probe"
		b := SystemBackend{}
		if err := b.Set(common.KeyringService, key, "ok"); err != nil {
			done <- err
			return
		}
		if _, err := b.Get(common.KeyringService, key); err != nil {
			done <- err
			return
		}
		done <- b.Delete(common.KeyringService, key)
	}()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("%w: keyring probe", common.ErrTimeout)
	}
}

// LoadOrCreatePassword returns the master password stored at path, creating
// a random one on first use.
func LoadOrCreatePassword(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err == nil {
		if pw := strings.TrimSpace(string(b)); pw != "" {
			return pw, nil
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("failed to read keyring key: %w", err)
	}

	pw, err := common.MakeRandHexString(32)
	if err != nil {
		return "", err
	}
	if err := filex.WritePrivate(path, []byte(pw)); err != nil {
		return "", fmt.Errorf("failed to write keyring key: %w", err)
	}
	return pw, nil
}
