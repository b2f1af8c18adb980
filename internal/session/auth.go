package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/dmitrijs2005/goterm/internal/common"
	"github.com/dmitrijs2005/goterm/internal/credentials"
	"github.com/dmitrijs2005/goterm/internal/models"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
)

// authMethods resolves the profile's secret and returns ssh auth methods.
// The closer releases the agent socket, if one was opened.
func (m *Manager) authMethods(ctx context.Context, p models.Profile) ([]ssh.AuthMethod, io.Closer, error) {
	switch p.AuthType {
	case models.AuthPassword:
		if !p.UseKeyring {
			return nil, nil, fmt.Errorf("%w: password auth requires useKeyring", common.ErrValidation)
		}
		secret, err := m.secrets.Resolve(ctx, p.ID, credentials.KindPassword)
		if err != nil {
			if errors.Is(err, common.ErrNotFound) {
				return nil, nil, fmt.Errorf("%w: no password stored for profile %s", common.ErrAuthFailed, p.ID)
			}
			return nil, nil, err
		}
		answer := func(user, instruction string, questions []string, echos []bool) ([]string, error) {
			answers := make([]string, len(questions))
			for i := range answers {
				answers[i] = secret
			}
			return answers, nil
		}
		return []ssh.AuthMethod{ssh.Password(secret), ssh.KeyboardInteractive(answer)}, nil, nil

	case models.AuthPrivateKey:
		signer, err := m.loadSigner(ctx, p)
		if err != nil {
			return nil, nil, err
		}
		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil, nil

	case models.AuthAgent:
		sock := os.Getenv("SSH_AUTH_SOCK")
		if sock == "" {
			return nil, nil, fmt.Errorf("%w: SSH_AUTH_SOCK is not set", common.ErrAuthFailed)
		}
		var d net.Dialer
		conn, err := d.DialContext(ctx, "unix", sock)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: ssh agent: %w", common.ErrAuthFailed, err)
		}
		return []ssh.AuthMethod{ssh.PublicKeysCallback(agent.NewClient(conn).Signers)}, conn, nil

	default:
		return nil, nil, fmt.Errorf("%w: unknown authType %q", common.ErrValidation, p.AuthType)
	}
}

func (m *Manager) loadSigner(ctx context.Context, p models.Profile) (ssh.Signer, error) {
	pemBytes, err := os.ReadFile(expandHome(p.PrivateKeyPath))
	if err != nil {
		return nil, fmt.Errorf("%w: read private key: %w", common.ErrValidation, err)
	}
	defer common.WipeByteArray(pemBytes)

	signer, err := ssh.ParsePrivateKey(pemBytes)
	if err == nil {
		return signer, nil
	}

	var missing *ssh.PassphraseMissingError
	if !errors.As(err, &missing) {
		return nil, fmt.Errorf("%w: parse private key: %w", common.ErrValidation, err)
	}
	if !p.UseKeyring {
		return nil, fmt.Errorf("%w: private key is encrypted and useKeyring is off", common.ErrAuthFailed)
	}

	passphrase, err := m.secrets.Resolve(ctx, p.ID, credentials.KindPassphrase)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, fmt.Errorf("%w: no passphrase stored for profile %s", common.ErrAuthFailed, p.ID)
		}
		return nil, err
	}
	pass := []byte(passphrase)
	defer common.WipeByteArray(pass)

	signer, err = ssh.ParsePrivateKeyWithPassphrase(pemBytes, pass)
	if err != nil {
		return nil, fmt.Errorf("%w: decrypt private key: %w", common.ErrAuthFailed, err)
	}
	return signer, nil
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
