package transfer

import (
	"fmt"
	"io"

	"github.com/dmitrijs2005/goterm/internal/common"
	"github.com/pkg/sftp"
)

// RemoteFS is the remote side of a copy.
type RemoteFS interface {
	// Open returns the reader and its size in bytes.
	Open(path string) (io.ReadCloser, int64, error)
	Create(path string) (io.WriteCloser, error)
}

type Remotes interface {
	Remote(sessionID string) (RemoteFS, error)
}

type SessionChecker interface {
	CheckConnected(sessionID string) error
}

type SFTPProvider interface {
	Client(sessionID string) (*sftp.Client, error)
}

// SFTPRemotes serves RemoteFS from the per-session SFTP clients.
type SFTPRemotes struct {
	Provider SFTPProvider
}

func (r SFTPRemotes) Remote(sessionID string) (RemoteFS, error) {
	c, err := r.Provider.Client(sessionID)
	if err != nil {
		return nil, err
	}
	return sftpFS{c: c}, nil
}

type sftpFS struct {
	c *sftp.Client
}

func (s sftpFS) Open(path string) (io.ReadCloser, int64, error) {
	f, err := s.c.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: open %s: %w", common.ErrTransport, path, err)
	}
	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, 0, fmt.Errorf("%w: stat %s: %w", common.ErrTransport, path, err)
	}
	return f, fi.Size(), nil
}

func (s sftpFS) Create(path string) (io.WriteCloser, error) {
	f, err := s.c.Create(path)
	if err != nil {
		return nil, fmt.Errorf("%w: create %s: %w", common.ErrTransport, path, err)
	}
	return f, nil
}
