package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/goterm/internal/common"
	"github.com/dmitrijs2005/goterm/internal/credentials"
	"github.com/dmitrijs2005/goterm/internal/logging"
	"github.com/dmitrijs2005/goterm/internal/models"
	"golang.org/x/crypto/ssh"
)

type ProfileSource interface {
	Get(ctx context.Context, id string) (models.Profile, error)
}

type SecretResolver interface {
	Resolve(ctx context.Context, profileID string, kind credentials.Kind) (string, error)
}

type HostKeyCallbacks interface {
	Callback(ctx context.Context, sessionID string, policy models.KnownHostsPolicy) ssh.HostKeyCallback
}

// CloseListener is told when a session's transport is about to be released,
// either by Disconnect or because the connection dropped. It runs before the
// client is closed.
type CloseListener func(sessionID, reason string)

type Options struct {
	ConnectTimeout time.Duration
	// HandshakeTimeout bounds the SSH handshake including any wait for a
	// host-key decision.
	HandshakeTimeout  time.Duration
	KeepAliveInterval time.Duration
	AllowMultiple     bool
	// Retention bounds how many Disconnected or Error sessions stay
	// queryable by id.
	Retention int
}

const defaultRetention = 50

const keepAliveRequest = "keepalive@goterm"

type Manager struct {
	profiles ProfileSource
	secrets  SecretResolver
	hostKeys HostKeyCallbacks
	opts     Options
	emitter  common.Emitter
	logger   logging.Logger

	mu       sync.Mutex
	sessions map[string]*session

	lmu       sync.Mutex
	listeners []CloseListener
}

func NewManager(profiles ProfileSource, secrets SecretResolver, hostKeys HostKeyCallbacks, opts Options, e common.Emitter, l logging.Logger) *Manager {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	if opts.Retention <= 0 {
		opts.Retention = defaultRetention
	}
	return &Manager{
		profiles: profiles,
		secrets:  secrets,
		hostKeys: hostKeys,
		opts:     opts,
		emitter:  e,
		logger:   l.With("module", "session"),
		sessions: make(map[string]*session),
	}
}

func (m *Manager) OnClose(fn CloseListener) {
	m.lmu.Lock()
	m.listeners = append(m.listeners, fn)
	m.lmu.Unlock()
}

func (m *Manager) notifyClose(sessionID, reason string) {
	m.lmu.Lock()
	listeners := append([]CloseListener(nil), m.listeners...)
	m.lmu.Unlock()

	for _, fn := range listeners {
		fn(sessionID, reason)
	}
}

// Connect opens a session for the profile and returns its id. On failure
// the id is still returned when a session record was created, so its Error
// state and lastError stay observable through Status.
func (m *Manager) Connect(ctx context.Context, profileID string) (string, error) {
	p, err := m.profiles.Get(ctx, profileID)
	if err != nil {
		return "", err
	}

	s, existing, err := m.register(p)
	if err != nil {
		return "", err
	}
	if existing != "" {
		return existing, nil
	}

	m.logger.Info(ctx, "connecting", "session_id", s.id, "profile_id", p.ID, "addr", p.Address())

	client, err := m.open(ctx, s)
	if err != nil {
		m.fail(ctx, s, err)
		return s.id, err
	}

	s.mu.Lock()
	if s.state != StateConnecting {
		s.mu.Unlock()
		_ = client.Close()
		return s.id, fmt.Errorf("%w: session %s closed while connecting", common.ErrInvalidState, s.id)
	}
	kctx, stop := context.WithCancel(context.Background())
	s.client = client
	s.state = StateConnected
	s.lastError = ""
	s.stop = stop
	m.emitLocked(s)
	s.mu.Unlock()

	go m.keepalive(kctx, s, client)
	go m.watch(s, client)

	m.logger.Info(ctx, "connected", "session_id", s.id, "profile_id", p.ID)
	return s.id, nil
}

// register creates the Connecting record. Unless multiple sessions are
// allowed, a Connected session of the same profile is reused. Finished
// records of the profile are kept until retention evicts them.
func (m *Manager) register(p models.Profile) (*session, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.opts.AllowMultiple {
		for id, other := range m.sessions {
			if other.profile.ID != p.ID {
				continue
			}
			switch other.status().State {
			case StateConnected:
				return nil, id, nil
			case StateConnecting:
				return nil, "", fmt.Errorf("%w: profile %s is already connecting", common.ErrInvalidState, p.ID)
			}
		}
	}

	s := &session{id: common.NewID(), profile: p, created: time.Now(), state: StateConnecting}
	m.sessions[s.id] = s
	m.pruneLocked()

	s.mu.Lock()
	m.emitLocked(s)
	s.mu.Unlock()
	return s, "", nil
}

// pruneLocked evicts the oldest finished sessions beyond Retention.
func (m *Manager) pruneLocked() {
	var finished []*session
	for _, s := range m.sessions {
		s.mu.Lock()
		if s.state == StateDisconnected || s.state == StateError {
			finished = append(finished, s)
		}
		s.mu.Unlock()
	}
	if len(finished) <= m.opts.Retention {
		return
	}

	sort.Slice(finished, func(i, j int) bool { return finished[i].endedAt().Before(finished[j].endedAt()) })
	for _, s := range finished[:len(finished)-m.opts.Retention] {
		delete(m.sessions, s.id)
	}
}

func (m *Manager) open(ctx context.Context, s *session) (*ssh.Client, error) {
	auth, closer, err := m.authMethods(ctx, s.profile)
	if err != nil {
		return nil, err
	}
	if closer != nil {
		defer closer.Close()
	}

	hostKeyErr := make(chan error, 1)
	verify := m.hostKeys.Callback(ctx, s.id, s.profile.KnownHostsPolicy)
	cfg := &ssh.ClientConfig{
		User: s.profile.Username,
		Auth: auth,
		HostKeyCallback: func(hostname string, remote net.Addr, key ssh.PublicKey) error {
			err := verify(hostname, remote, key)
			if err != nil {
				select {
				case hostKeyErr <- err:
				default:
				}
			}
			return err
		},
		Timeout: m.opts.ConnectTimeout,
	}

	addr := s.profile.Address()
	dctx, cancel := context.WithTimeout(ctx, m.opts.ConnectTimeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(dctx, "tcp", addr)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: dial %s", common.ErrTimeout, addr)
		}
		return nil, fmt.Errorf("%w: dial %s: %w", common.ErrTransport, addr, err)
	}

	if m.opts.HandshakeTimeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(m.opts.HandshakeTimeout))
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	stop()

	if err != nil {
		_ = conn.Close()
		select {
		case hkErr := <-hostKeyErr:
			return nil, hkErr
		default:
		}
		return nil, classifyHandshake(ctx, addr, err)
	}
	_ = conn.SetDeadline(time.Time{})

	return ssh.NewClient(c, chans, reqs), nil
}

func classifyHandshake(ctx context.Context, addr string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return fmt.Errorf("%w: handshake with %s", common.ErrTimeout, addr)
		}
		return fmt.Errorf("%w: handshake with %s: %w", common.ErrTransport, addr, ctxErr)
	}
	msg := err.Error()
	if strings.Contains(msg, "unable to authenticate") || strings.Contains(msg, "no supported methods remain") {
		return fmt.Errorf("%w: %s", common.ErrAuthFailed, msg)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("%w: handshake with %s", common.ErrTimeout, addr)
	}
	return fmt.Errorf("%w: handshake with %s: %w", common.ErrTransport, addr, err)
}

func (m *Manager) fail(ctx context.Context, s *session, err error) {
	s.mu.Lock()
	if s.state != StateConnecting {
		s.mu.Unlock()
		return
	}
	s.state = StateError
	s.lastError = err.Error()
	s.ended = time.Now()
	m.emitLocked(s)
	s.mu.Unlock()

	m.logger.Warn(ctx, "connect failed", "session_id", s.id, "profile_id", s.profile.ID, "error", err)
}

// keepalive probes the peer every interval; a failed or unanswered probe
// marks the session Error.
func (m *Manager) keepalive(ctx context.Context, s *session, client *ssh.Client) {
	interval := m.opts.KeepAliveInterval
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			replied := make(chan error, 1)
			go func() {
				_, _, err := client.SendRequest(keepAliveRequest, true, nil)
				replied <- err
			}()

			select {
			case err := <-replied:
				if err != nil {
					m.drop(s, client, fmt.Errorf("%w: keepalive: %w", common.ErrTransport, err))
					return
				}
			case <-time.After(interval):
				m.drop(s, client, fmt.Errorf("%w: keepalive unanswered for %s", common.ErrTimeout, interval))
				return
			case <-ctx.Done():
				return
			}
		}
	}
}

func (m *Manager) watch(s *session, client *ssh.Client) {
	err := client.Wait()
	if err == nil {
		err = errors.New("connection closed by peer")
	}
	m.drop(s, client, fmt.Errorf("%w: %w", common.ErrTransport, err))
}

// drop moves a Connected session to Error after the transport failed
// underneath it. Sessions already disconnected are left alone.
func (m *Manager) drop(s *session, client *ssh.Client, cause error) {
	s.mu.Lock()
	if s.state != StateConnected || s.client != client {
		s.mu.Unlock()
		return
	}
	s.state = StateError
	s.lastError = cause.Error()
	s.ended = time.Now()
	s.client = nil
	stop := s.stop
	s.stop = nil
	m.emitLocked(s)
	s.mu.Unlock()

	if stop != nil {
		stop()
	}
	m.logger.Warn(context.Background(), "session dropped", "session_id", s.id, "error", cause)

	m.notifyClose(s.id, "connection lost: "+cause.Error())
	_ = client.Close()
}

// Disconnect is idempotent: a session already Disconnected stays so and no
// error is returned.
func (m *Manager) Disconnect(ctx context.Context, sessionID string) error {
	s, err := m.get(sessionID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.state == StateDisconnected {
		s.mu.Unlock()
		return nil
	}
	client := s.client
	stop := s.stop
	s.client = nil
	s.stop = nil
	s.state = StateDisconnected
	s.ended = time.Now()
	m.emitLocked(s)
	s.mu.Unlock()

	if stop != nil {
		stop()
	}
	if client != nil {
		m.notifyClose(sessionID, "session closed")
		_ = client.Close()
	}

	m.logger.Info(ctx, "disconnected", "session_id", sessionID)
	return nil
}

func (m *Manager) Status(sessionID string) (Status, error) {
	s, err := m.get(sessionID)
	if err != nil {
		return Status{}, err
	}
	return s.status(), nil
}

// List returns all tracked sessions, oldest first.
func (m *Manager) List() []Status {
	m.mu.Lock()
	all := make([]*session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.mu.Unlock()

	sort.Slice(all, func(i, j int) bool { return all[i].created.Before(all[j].created) })

	out := make([]Status, 0, len(all))
	for _, s := range all {
		out = append(out, s.status())
	}
	return out
}

// Client returns the live transport of a Connected session.
func (m *Manager) Client(sessionID string) (*ssh.Client, error) {
	s, err := m.get(sessionID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateConnected {
		return nil, fmt.Errorf("%w: session %s is %s", common.ErrInvalidState, sessionID, s.state)
	}
	return s.client, nil
}

func (m *Manager) CheckConnected(sessionID string) error {
	_, err := m.Client(sessionID)
	return err
}

// Acquire returns a Connected session for the profile, reusing a live one
// or opening a new one.
func (m *Manager) Acquire(ctx context.Context, profileID string) (string, *ssh.Client, error) {
	m.mu.Lock()
	var live []*session
	for _, s := range m.sessions {
		if s.profile.ID == profileID {
			live = append(live, s)
		}
	}
	m.mu.Unlock()

	for _, s := range live {
		s.mu.Lock()
		client, state := s.client, s.state
		s.mu.Unlock()
		if state == StateConnected {
			return s.id, client, nil
		}
	}

	id, err := m.Connect(ctx, profileID)
	if err != nil {
		return "", nil, err
	}
	client, err := m.Client(id)
	if err != nil {
		return "", nil, err
	}
	return id, client, nil
}

// Close disconnects every session.
func (m *Manager) Close(ctx context.Context) {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		_ = m.Disconnect(ctx, id)
	}
}

func (m *Manager) get(sessionID string) (*session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: session %s", common.ErrNotFound, sessionID)
	}
	return s, nil
}

func (m *Manager) emitLocked(s *session) {
	m.emitter.Emit(common.EventSessionState, Status{
		SessionID: s.id, ProfileID: s.profile.ID, State: s.state, LastError: s.lastError,
	})
}
