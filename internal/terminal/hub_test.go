package terminal

import (
	"bytes"
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/dmitrijs2005/goterm/internal/common"
	"github.com/dmitrijs2005/goterm/internal/logging"
	"github.com/dmitrijs2005/goterm/internal/sshtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

type clientMap map[string]*ssh.Client

func (m clientMap) Client(sessionID string) (*ssh.Client, error) {
	c, ok := m[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: session %s", common.ErrInvalidState, sessionID)
	}
	return c, nil
}

type sink struct {
	data chan DataEvent
	exit chan ExitEvent
	seen map[string]ExitEvent
}

func newSink() *sink {
	return &sink{data: make(chan DataEvent, 64), exit: make(chan ExitEvent, 8), seen: make(map[string]ExitEvent)}
}

func (s *sink) Emit(name string, payload any) {
	switch name {
	case common.EventTerminalData:
		s.data <- payload.(DataEvent)
	case common.EventTerminalExit:
		s.exit <- payload.(ExitEvent)
	}
}

// readUntil collects output of one terminal until want shows up.
func (s *sink) readUntil(t *testing.T, terminalID, want string) {
	t.Helper()
	var got bytes.Buffer
	deadline := time.After(5 * time.Second)
	for !bytes.Contains(got.Bytes(), []byte(want)) {
		select {
		case ev := <-s.data:
			if ev.TerminalID == terminalID {
				got.Write(ev.Data)
			}
		case <-deadline:
			t.Fatalf("output %q not seen, got %q", want, got.String())
		}
	}
}

func (s *sink) waitExit(t *testing.T, terminalID string) ExitEvent {
	t.Helper()
	for {
		if ev, ok := s.seen[terminalID]; ok {
			return ev
		}
		select {
		case ev := <-s.exit:
			s.seen[ev.TerminalID] = ev
		case <-time.After(5 * time.Second):
			t.Fatal("no exit event")
		}
	}
}

func newHub(t *testing.T) (*Hub, *sink, *sshtest.Server) {
	t.Helper()
	srv := sshtest.Start(t)
	events := newSink()
	h := NewHub(clientMap{"s1": srv.Dial(t)}, events, logging.Nop())
	t.Cleanup(h.CloseAll)
	return h, events, srv
}

func TestOpen_WriteEchoesAndExit(t *testing.T) {
	h, events, _ := newHub(t)

	id, err := h.Open(context.Background(), "s1", 0, 0)
	require.NoError(t, err)

	list := h.List()
	require.Len(t, list, 1)
	assert.Equal(t, Info{TerminalID: id, SessionID: "s1", Cols: DefaultCols, Rows: DefaultRows, Open: true}, list[0])

	require.NoError(t, h.Write(id, []byte("hello")))
	events.readUntil(t, id, "hello")

	require.NoError(t, h.Write(id, []byte("exit\n")))
	ev := events.waitExit(t, id)
	assert.Equal(t, 0, ev.ExitCode)
	assert.Equal(t, "exited", ev.Reason)

	assert.ErrorIs(t, h.Write(id, []byte("x")), common.ErrInvalidState)
	assert.NoError(t, h.Resize(id, 10, 10))
}

func TestOpen_SessionNotConnected(t *testing.T) {
	h, _, _ := newHub(t)
	_, err := h.Open(context.Background(), "gone", 80, 24)
	assert.ErrorIs(t, err, common.ErrInvalidState)
}

func TestResize_SendsWindowChange(t *testing.T) {
	h, events, srv := newHub(t)

	id, err := h.Open(context.Background(), "s1", 120, 40)
	require.NoError(t, err)

	assert.ErrorIs(t, h.Resize(id, 0, 10), common.ErrValidation)
	require.NoError(t, h.Resize(id, 100, 30))

	// the echo round trip orders the window-change before our check
	require.NoError(t, h.Write(id, []byte("ping")))
	events.readUntil(t, id, "ping")

	assert.Eventually(t, func() bool {
		sizes := srv.WindowSizes()
		return len(sizes) == 2 && sizes[1] == sshtest.WindowSize{Cols: 100, Rows: 30}
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, sshtest.WindowSize{Cols: 120, Rows: 40}, srv.WindowSizes()[0])

	info := h.List()[0]
	assert.Equal(t, 100, info.Cols)
	assert.Equal(t, 30, info.Rows)
}

func TestClose_IdempotentAndUnknown(t *testing.T) {
	h, events, _ := newHub(t)

	id, err := h.Open(context.Background(), "s1", 80, 24)
	require.NoError(t, err)

	require.NoError(t, h.Close(id))
	require.NoError(t, h.Close(id))
	ev := events.waitExit(t, id)
	assert.Equal(t, "closed", ev.Reason)

	assert.ErrorIs(t, h.Write(id, []byte("x")), common.ErrInvalidState)
	assert.ErrorIs(t, h.Close("missing"), common.ErrNotFound)
	assert.ErrorIs(t, h.Write("missing", nil), common.ErrNotFound)
}

func TestCloseSession_ClosesAllTerminals(t *testing.T) {
	h, events, _ := newHub(t)
	ctx := context.Background()

	a, err := h.Open(ctx, "s1", 80, 24)
	require.NoError(t, err)
	b, err := h.Open(ctx, "s1", 80, 24)
	require.NoError(t, err)

	h.CloseSession("s1", "session closed")

	for _, id := range []string{a, b} {
		ev := events.waitExit(t, id)
		assert.Equal(t, "session closed", ev.Reason)
	}
	for _, info := range h.List() {
		assert.False(t, info.Open)
	}
}
