// Package session owns the lifecycle of SSH connections: connect with
// host-key verification, keepalive, drop detection and the close cascade to
// terminals, transfers and tunnels.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/dmitrijs2005/goterm/internal/models"
	"golang.org/x/crypto/ssh"
)

type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateError        State = "error"
)

// Status is a non-blocking snapshot of a session.
type Status struct {
	SessionID string `json:"sessionId"`
	ProfileID string `json:"profileId"`
	State     State  `json:"state"`
	LastError string `json:"lastError"`
}

// session holds one transport. profile is a private copy taken at connect
// time, so later profile edits never reach a live session.
type session struct {
	id      string
	profile models.Profile
	created time.Time

	mu        sync.Mutex
	state     State
	lastError string
	ended     time.Time
	client    *ssh.Client
	stop      context.CancelFunc
}

func (s *session) status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{SessionID: s.id, ProfileID: s.profile.ID, State: s.state, LastError: s.lastError}
}

func (s *session) endedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}
