package hostkey

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"

	"github.com/dmitrijs2005/goterm/internal/common"
	"github.com/dmitrijs2005/goterm/internal/filex"
	"github.com/dmitrijs2005/goterm/internal/logging"
	"github.com/dmitrijs2005/goterm/internal/models"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// Asker decides about unknown host keys.
type Asker interface {
	Ask(ctx context.Context, sessionID, host string, key ssh.PublicKey) (bool, error)
}

// Verifier builds per-connect host key callbacks backed by one known_hosts
// file. A key that differs from a recorded one is always rejected.
type Verifier struct {
	path   string
	asker  Asker
	logger logging.Logger

	mu sync.Mutex
}

func NewVerifier(path string, asker Asker, l logging.Logger) *Verifier {
	return &Verifier{path: path, asker: asker, logger: l.With("module", "hostkey")}
}

// Callback returns the ssh.HostKeyCallback for one connect attempt. ctx
// bounds the interactive prompt.
func (v *Verifier) Callback(ctx context.Context, sessionID string, policy models.KnownHostsPolicy) ssh.HostKeyCallback {
	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		if policy == models.PolicyInsecureIgnore {
			v.logger.Warn(ctx, "host key check disabled", "host", hostname)
			return nil
		}

		known, err := v.check(hostname, remote, key)
		if err != nil {
			return err
		}
		if known {
			return nil
		}

		if policy == models.PolicyAcceptNew {
			return v.add(ctx, hostname, key)
		}

		allow, err := v.asker.Ask(ctx, sessionID, hostname, key)
		if err != nil {
			return err
		}
		if !allow {
			return fmt.Errorf("%w: host key for %s rejected", common.ErrAuthFailed, hostname)
		}
		return v.add(ctx, hostname, key)
	}
}

// check reports whether key is recorded for hostname. A recorded but
// different key is an AuthFailed error.
func (v *Verifier) check(hostname string, remote net.Addr, key ssh.PublicKey) (bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.ensureFile(); err != nil {
		return false, err
	}
	cb, err := knownhosts.New(v.path)
	if err != nil {
		return false, fmt.Errorf("failed to read known_hosts: %w", err)
	}

	err = cb(hostname, remote, key)
	if err == nil {
		return true, nil
	}

	var keyErr *knownhosts.KeyError
	if errors.As(err, &keyErr) {
		if len(keyErr.Want) > 0 {
			return false, fmt.Errorf("%w: host key mismatch for %s (got %s)", common.ErrAuthFailed, hostname, ssh.FingerprintSHA256(key))
		}
		return false, nil
	}
	return false, fmt.Errorf("%w: %w", common.ErrAuthFailed, err)
}

func (v *Verifier) add(ctx context.Context, hostname string, key ssh.PublicKey) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	f, err := os.OpenFile(v.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("failed to open known_hosts: %w", err)
	}
	defer f.Close()

	line := knownhosts.Line([]string{knownhosts.Normalize(hostname)}, key)
	if _, err := f.WriteString(line + "\n"); err != nil {
		return fmt.Errorf("failed to write known_hosts: %w", err)
	}
	v.logger.Info(ctx, "host key recorded", "host", hostname, "fingerprint", ssh.FingerprintSHA256(key))
	return nil
}

func (v *Verifier) ensureFile() error {
	if err := filex.EnsureParentDir(v.path); err != nil {
		return fmt.Errorf("failed to create known_hosts dir: %w", err)
	}
	f, err := os.OpenFile(v.path, os.O_CREATE|os.O_RDONLY, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create known_hosts: %w", err)
	}
	return f.Close()
}
