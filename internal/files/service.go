// Package files exposes SFTP operations on Connected sessions.
package files

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"sync"
	"time"

	"github.com/dmitrijs2005/goterm/internal/common"
	"github.com/dmitrijs2005/goterm/internal/logging"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

type Clients interface {
	Client(sessionID string) (*ssh.Client, error)
}

type Entry struct {
	Name    string    `json:"name"`
	Path    string    `json:"path"`
	IsDir   bool      `json:"isDir"`
	Size    int64     `json:"size"`
	Mode    string    `json:"mode"`
	ModTime time.Time `json:"modTime"`
}

func newEntry(p string, fi os.FileInfo) Entry {
	return Entry{
		Name:    fi.Name(),
		Path:    p,
		IsDir:   fi.IsDir(),
		Size:    fi.Size(),
		Mode:    fi.Mode().String(),
		ModTime: fi.ModTime(),
	}
}

// Service keeps one SFTP client per session. Clients are dropped when the
// session closes.
type Service struct {
	clients Clients
	logger  logging.Logger

	mu   sync.Mutex
	sftp map[string]*sftp.Client
}

func NewService(clients Clients, l logging.Logger) *Service {
	return &Service{
		clients: clients,
		logger:  l.With("module", "files"),
		sftp:    make(map[string]*sftp.Client),
	}
}

// Client returns the cached SFTP client of a session, opening the
// subsystem on first use.
func (s *Service) Client(sessionID string) (*sftp.Client, error) {
	s.mu.Lock()
	c, ok := s.sftp[sessionID]
	s.mu.Unlock()
	if ok {
		return c, nil
	}

	conn, err := s.clients.Client(sessionID)
	if err != nil {
		return nil, err
	}
	c, err = sftp.NewClient(conn)
	if err != nil {
		return nil, fmt.Errorf("%w: start sftp: %w", common.ErrTransport, err)
	}

	s.mu.Lock()
	if existing, ok := s.sftp[sessionID]; ok {
		s.mu.Unlock()
		_ = c.Close()
		return existing, nil
	}
	s.sftp[sessionID] = c
	s.mu.Unlock()

	// the session may have closed while the subsystem was starting, in
	// which case its close listener already ran and missed c
	if _, err := s.clients.Client(sessionID); err != nil {
		s.CloseSession(sessionID, "session closed while opening sftp")
		return nil, err
	}
	return c, nil
}

// CloseSession drops the session's client. Registered as a session close
// listener.
func (s *Service) CloseSession(sessionID, reason string) {
	s.mu.Lock()
	c, ok := s.sftp[sessionID]
	delete(s.sftp, sessionID)
	s.mu.Unlock()

	if ok {
		_ = c.Close()
		s.logger.Debug(context.Background(), "sftp client released", "session_id", sessionID, "reason", reason)
	}
}

// List returns directory entries, directories first, then by name.
func (s *Service) List(sessionID, dir string) ([]Entry, error) {
	if dir == "" {
		return nil, fmt.Errorf("%w: empty path", common.ErrValidation)
	}
	c, err := s.Client(sessionID)
	if err != nil {
		return nil, err
	}

	infos, err := c.ReadDir(dir)
	if err != nil {
		return nil, mapErr("list", dir, err)
	}

	out := make([]Entry, 0, len(infos))
	for _, fi := range infos {
		out = append(out, newEntry(path.Join(dir, fi.Name()), fi))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IsDir != out[j].IsDir {
			return out[i].IsDir
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (s *Service) Stat(sessionID, p string) (Entry, error) {
	if p == "" {
		return Entry{}, fmt.Errorf("%w: empty path", common.ErrValidation)
	}
	c, err := s.Client(sessionID)
	if err != nil {
		return Entry{}, err
	}
	fi, err := c.Stat(p)
	if err != nil {
		return Entry{}, mapErr("stat", p, err)
	}
	return newEntry(p, fi), nil
}

func (s *Service) Mkdir(sessionID, p string) error {
	if p == "" {
		return fmt.Errorf("%w: empty path", common.ErrValidation)
	}
	c, err := s.Client(sessionID)
	if err != nil {
		return err
	}
	if err := c.Mkdir(p); err != nil {
		return mapErr("mkdir", p, err)
	}
	return nil
}

// Remove deletes a file or directory. A non-empty directory needs
// recursive; the root is never removed.
func (s *Service) Remove(ctx context.Context, sessionID, p string, recursive bool) error {
	clean := path.Clean(p)
	if p == "" || clean == "/" || clean == "." {
		return fmt.Errorf("%w: refusing to remove %q", common.ErrValidation, p)
	}
	c, err := s.Client(sessionID)
	if err != nil {
		return err
	}

	fi, err := c.Stat(clean)
	if err != nil {
		return mapErr("remove", clean, err)
	}
	if !fi.IsDir() {
		if err := c.Remove(clean); err != nil {
			return mapErr("remove", clean, err)
		}
		return nil
	}

	if !recursive {
		children, err := c.ReadDir(clean)
		if err != nil {
			return mapErr("remove", clean, err)
		}
		if len(children) > 0 {
			return fmt.Errorf("%w: directory %s is not empty", common.ErrValidation, clean)
		}
		if err := c.RemoveDirectory(clean); err != nil {
			return mapErr("remove", clean, err)
		}
		return nil
	}

	if err := removeTree(ctx, c, clean); err != nil {
		return err
	}
	s.logger.Info(ctx, "removed tree", "session_id", sessionID, "path", clean)
	return nil
}

func removeTree(ctx context.Context, c *sftp.Client, dir string) error {
	children, err := c.ReadDir(dir)
	if err != nil {
		return mapErr("remove", dir, err)
	}
	for _, fi := range children {
		if err := ctx.Err(); err != nil {
			return err
		}
		p := path.Join(dir, fi.Name())
		if fi.IsDir() {
			if err := removeTree(ctx, c, p); err != nil {
				return err
			}
			continue
		}
		if err := c.Remove(p); err != nil {
			return mapErr("remove", p, err)
		}
	}
	if err := c.RemoveDirectory(dir); err != nil {
		return mapErr("remove", dir, err)
	}
	return nil
}

func (s *Service) Rename(sessionID, from, to string) error {
	if from == "" || to == "" {
		return fmt.Errorf("%w: empty path", common.ErrValidation)
	}
	c, err := s.Client(sessionID)
	if err != nil {
		return err
	}
	if err := c.Rename(from, to); err != nil {
		return mapErr("rename", from, err)
	}
	return nil
}

// Close releases every cached client.
func (s *Service) Close() {
	s.mu.Lock()
	all := s.sftp
	s.sftp = make(map[string]*sftp.Client)
	s.mu.Unlock()

	for _, c := range all {
		_ = c.Close()
	}
}

func mapErr(op, p string, err error) error {
	var se *sftp.StatusError
	if errors.Is(err, fs.ErrNotExist) || (errors.As(err, &se) && se.FxCode() == sftp.ErrSSHFxNoSuchFile) {
		return fmt.Errorf("%w: %s %s", common.ErrNotFound, op, p)
	}
	return fmt.Errorf("%w: %s %s: %w", common.ErrTransport, op, p, err)
}

