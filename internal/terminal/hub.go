// Package terminal multiplexes interactive pty channels over SSH sessions.
package terminal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/dmitrijs2005/goterm/internal/common"
	"github.com/dmitrijs2005/goterm/internal/logging"
	"golang.org/x/crypto/ssh"
)

const (
	DefaultCols = 80
	DefaultRows = 24

	termType      = "xterm-256color"
	maxTombstones = 256
)

// Clients hands out the transport of a Connected session.
type Clients interface {
	Client(sessionID string) (*ssh.Client, error)
}

type Info struct {
	TerminalID string `json:"terminalId"`
	SessionID  string `json:"sessionId"`
	Cols       int    `json:"cols"`
	Rows       int    `json:"rows"`
	Open       bool   `json:"open"`
}

// DataEvent carries remote output. Data is base64 in JSON.
type DataEvent struct {
	TerminalID string `json:"terminalId"`
	SessionID  string `json:"sessionId"`
	Data       []byte `json:"data"`
}

type ExitEvent struct {
	TerminalID string `json:"terminalId"`
	SessionID  string `json:"sessionId"`
	ExitCode   int    `json:"exitCode"`
	Reason     string `json:"reason"`
}

type terminal struct {
	id        string
	sessionID string
	created   time.Time

	mu          sync.Mutex
	cols, rows  int
	closed      bool
	closeReason string
	sess        *ssh.Session
	stdin       io.WriteCloser

	// wmu keeps concurrent writers from interleaving chunks.
	wmu sync.Mutex
}

func (t *terminal) info() Info {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Info{TerminalID: t.id, SessionID: t.sessionID, Cols: t.cols, Rows: t.rows, Open: !t.closed}
}

// output forwards both remote streams as data events, one chunk at a time.
type output struct {
	mu  sync.Mutex
	t   *terminal
	hub *Hub
}

func (o *output) Write(p []byte) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	data := make([]byte, len(p))
	copy(data, p)
	o.hub.emitter.Emit(common.EventTerminalData, DataEvent{TerminalID: o.t.id, SessionID: o.t.sessionID, Data: data})
	return len(p), nil
}

// Hub owns every terminal. Closed terminals stay visible as tombstones so
// late writes report InvalidState instead of NotFound.
type Hub struct {
	clients Clients
	emitter common.Emitter
	logger  logging.Logger

	mu         sync.Mutex
	terms      map[string]*terminal
	tombstones []string
}

func NewHub(clients Clients, e common.Emitter, l logging.Logger) *Hub {
	return &Hub{
		clients: clients,
		emitter: e,
		logger:  l.With("module", "terminal"),
		terms:   make(map[string]*terminal),
	}
}

// Open starts a login shell on a pty. Non-positive sizes fall back to 80x24.
func (h *Hub) Open(ctx context.Context, sessionID string, cols, rows int) (string, error) {
	if cols <= 0 {
		cols = DefaultCols
	}
	if rows <= 0 {
		rows = DefaultRows
	}

	client, err := h.clients.Client(sessionID)
	if err != nil {
		return "", err
	}

	sess, err := client.NewSession()
	if err != nil {
		return "", fmt.Errorf("%w: open channel: %w", common.ErrTransport, err)
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := sess.RequestPty(termType, rows, cols, modes); err != nil {
		_ = sess.Close()
		return "", fmt.Errorf("%w: request pty: %w", common.ErrTransport, err)
	}

	stdin, err := sess.StdinPipe()
	if err != nil {
		_ = sess.Close()
		return "", fmt.Errorf("%w: stdin: %w", common.ErrTransport, err)
	}

	t := &terminal{
		id:        common.NewID(),
		sessionID: sessionID,
		created:   time.Now(),
		cols:      cols,
		rows:      rows,
		sess:      sess,
		stdin:     stdin,
	}
	out := &output{t: t, hub: h}
	sess.Stdout = out
	sess.Stderr = out

	if err := sess.Shell(); err != nil {
		_ = sess.Close()
		return "", fmt.Errorf("%w: start shell: %w", common.ErrTransport, err)
	}

	h.mu.Lock()
	h.terms[t.id] = t
	h.mu.Unlock()

	go h.wait(t)

	h.logger.Info(ctx, "terminal opened", "terminal_id", t.id, "session_id", sessionID, "cols", cols, "rows", rows)
	return t.id, nil
}

func (h *Hub) wait(t *terminal) {
	err := t.sess.Wait()

	code := 0
	var exitErr *ssh.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		code = exitErr.ExitStatus()
	default:
		code = -1
	}

	t.mu.Lock()
	reason := t.closeReason
	if reason == "" {
		reason = "exited"
	}
	t.closed = true
	t.mu.Unlock()
	_ = t.sess.Close()

	h.emitter.Emit(common.EventTerminalExit, ExitEvent{TerminalID: t.id, SessionID: t.sessionID, ExitCode: code, Reason: reason})
	h.bury(t.id)

	h.logger.Debug(context.Background(), "terminal finished", "terminal_id", t.id, "exit_code", code, "reason", reason)
}

func (h *Hub) bury(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.tombstones = append(h.tombstones, id)
	for len(h.tombstones) > maxTombstones {
		delete(h.terms, h.tombstones[0])
		h.tombstones = h.tombstones[1:]
	}
}

// Write forwards raw bytes to the remote pty in call order.
func (h *Hub) Write(terminalID string, data []byte) error {
	t, err := h.get(terminalID)
	if err != nil {
		return err
	}

	t.wmu.Lock()
	defer t.wmu.Unlock()

	t.mu.Lock()
	closed, stdin := t.closed, t.stdin
	t.mu.Unlock()
	if closed {
		return fmt.Errorf("%w: terminal %s is closed", common.ErrInvalidState, terminalID)
	}

	if _, err := stdin.Write(data); err != nil {
		return fmt.Errorf("%w: write: %w", common.ErrTransport, err)
	}
	return nil
}

// Resize is a no-op on a closed terminal.
func (h *Hub) Resize(terminalID string, cols, rows int) error {
	t, err := h.get(terminalID)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	if cols <= 0 || rows <= 0 {
		return fmt.Errorf("%w: invalid size %dx%d", common.ErrValidation, cols, rows)
	}
	if err := t.sess.WindowChange(rows, cols); err != nil {
		return fmt.Errorf("%w: window change: %w", common.ErrTransport, err)
	}
	t.cols, t.rows = cols, rows
	return nil
}

// Close releases the channel. The session stays up.
func (h *Hub) Close(terminalID string) error {
	t, err := h.get(terminalID)
	if err != nil {
		return err
	}
	h.shut(t, "closed")
	return nil
}

// CloseSession force-closes every terminal of the session.
func (h *Hub) CloseSession(sessionID, reason string) {
	h.mu.Lock()
	var victims []*terminal
	for _, t := range h.terms {
		if t.sessionID == sessionID {
			victims = append(victims, t)
		}
	}
	h.mu.Unlock()

	for _, t := range victims {
		h.shut(t, reason)
	}
}

func (h *Hub) shut(t *terminal, reason string) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.closeReason = reason
	t.mu.Unlock()

	_ = t.stdin.Close()
	_ = t.sess.Close()
	h.logger.Info(context.Background(), "terminal closed", "terminal_id", t.id, "reason", reason)
}

// List returns every tracked terminal, oldest first.
func (h *Hub) List() []Info {
	h.mu.Lock()
	all := make([]*terminal, 0, len(h.terms))
	for _, t := range h.terms {
		all = append(all, t)
	}
	h.mu.Unlock()

	sort.Slice(all, func(i, j int) bool { return all[i].created.Before(all[j].created) })
	out := make([]Info, 0, len(all))
	for _, t := range all {
		out = append(out, t.info())
	}
	return out
}

func (h *Hub) CloseAll() {
	h.mu.Lock()
	all := make([]*terminal, 0, len(h.terms))
	for _, t := range h.terms {
		all = append(all, t)
	}
	h.mu.Unlock()

	for _, t := range all {
		h.shut(t, "shutdown")
	}
}

func (h *Hub) get(id string) (*terminal, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, ok := h.terms[id]
	if !ok {
		return nil, fmt.Errorf("%w: terminal %s", common.ErrNotFound, id)
	}
	return t, nil
}
