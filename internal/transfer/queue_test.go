package transfer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/goterm/internal/common"
	"github.com/dmitrijs2005/goterm/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type connected map[string]bool

func (c connected) CheckConnected(sessionID string) error {
	if !c[sessionID] {
		return fmt.Errorf("%w: session %s", common.ErrInvalidState, sessionID)
	}
	return nil
}

// memRemote is an in-memory RemoteFS. With a gate set, every Read waits for
// a token and returns at most chunk bytes.
type memRemote struct {
	mu     sync.Mutex
	files  map[string][]byte
	opened []string
	gate   chan struct{}
	chunk  int
}

func newMemRemote() *memRemote {
	return &memRemote{files: make(map[string][]byte), chunk: 1024}
}

func (m *memRemote) Remote(string) (RemoteFS, error) { return m, nil }

func (m *memRemote) put(p string, data []byte) {
	m.mu.Lock()
	m.files[p] = data
	m.mu.Unlock()
}

func (m *memRemote) get(p string) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.files[p]
}

func (m *memRemote) Open(p string) (io.ReadCloser, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[p]
	if !ok {
		return nil, 0, fmt.Errorf("%w: open %s", common.ErrNotFound, p)
	}
	m.opened = append(m.opened, p)
	return &gatedReader{data: data, gate: m.gate, chunk: m.chunk}, int64(len(data)), nil
}

func (m *memRemote) Create(p string) (io.WriteCloser, error) {
	return &memWriter{m: m, path: p}, nil
}

func (m *memRemote) openOrder() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.opened...)
}

type gatedReader struct {
	data  []byte
	off   int
	gate  chan struct{}
	chunk int
}

func (r *gatedReader) Read(p []byte) (int, error) {
	if r.off >= len(r.data) {
		return 0, io.EOF
	}
	if r.gate != nil {
		<-r.gate
	}
	n := min(len(p), r.chunk, len(r.data)-r.off)
	copy(p, r.data[r.off:r.off+n])
	r.off += n
	return n, nil
}

func (r *gatedReader) Close() error { return nil }

type memWriter struct {
	m    *memRemote
	path string
	buf  bytes.Buffer
}

func (w *memWriter) Write(p []byte) (int, error) { return w.buf.Write(p) }

func (w *memWriter) Close() error {
	w.m.put(w.path, w.buf.Bytes())
	return nil
}

type recorder struct {
	mu     sync.Mutex
	events []common.Event
}

func (r *recorder) Emit(name string, payload any) {
	r.mu.Lock()
	r.events = append(r.events, common.Event{Name: name, Payload: payload})
	r.mu.Unlock()
}

func (r *recorder) progress(taskID string) []Progress {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Progress
	for _, e := range r.events {
		if p, ok := e.Payload.(Progress); ok && p.TaskID == taskID {
			out = append(out, p)
		}
	}
	return out
}

func (r *recorder) names(taskID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		switch p := e.Payload.(type) {
		case Progress:
			if p.TaskID == taskID {
				out = append(out, e.Name)
			}
		case Task:
			if p.ID == taskID {
				out = append(out, e.Name)
			}
		}
	}
	return out
}

func newQueue(t *testing.T, remote *memRemote, opts Options) (*Queue, *recorder) {
	t.Helper()
	if opts.ProgressInterval == 0 {
		opts.ProgressInterval = time.Nanosecond
	}
	events := &recorder{}
	q := NewQueue(connected{"s1": true}, remote, opts, events, logging.Nop())
	t.Cleanup(q.Close)
	return q, events
}

func waitState(t *testing.T, q *Queue, id string, want State) Task {
	t.Helper()
	var task Task
	require.Eventually(t, func() bool {
		var err error
		task, err = q.Get(id)
		return err == nil && task.State == want
	}, 5*time.Second, 5*time.Millisecond, "task %s never reached %s", id, want)
	return task
}

func TestDownload_CompletesWithMonotonicProgress(t *testing.T) {
	remote := newMemRemote()
	data := bytes.Repeat([]byte("abcdefgh"), 10_000)
	remote.put("/r/file", data)
	q, events := newQueue(t, remote, Options{Workers: 1})

	local := filepath.Join(t.TempDir(), "nested", "file")
	id, err := q.Download(context.Background(), "s1", "/r/file", local)
	require.NoError(t, err)

	task := waitState(t, q, id, StateCompleted)
	assert.EqualValues(t, len(data), task.DoneBytes)
	assert.EqualValues(t, len(data), task.TotalBytes)
	assert.False(t, task.StartedAt.IsZero())
	assert.False(t, task.FinishedAt.IsZero())

	got, err := os.ReadFile(local)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	prog := events.progress(id)
	require.NotEmpty(t, prog)
	for i := range prog {
		assert.LessOrEqual(t, prog[i].DoneBytes, prog[i].TotalBytes)
		if i > 0 {
			assert.GreaterOrEqual(t, prog[i].DoneBytes, prog[i-1].DoneBytes)
		}
	}
	names := events.names(id)
	assert.Equal(t, common.EventTransferDone, names[len(names)-1])
}

func TestUpload_Completes(t *testing.T) {
	remote := newMemRemote()
	q, _ := newQueue(t, remote, Options{})

	local := filepath.Join(t.TempDir(), "up")
	require.NoError(t, os.WriteFile(local, []byte("payload"), 0o600))

	id, err := q.Upload(context.Background(), "s1", local, "/r/up")
	require.NoError(t, err)

	task := waitState(t, q, id, StateCompleted)
	assert.EqualValues(t, 7, task.DoneBytes)
	assert.Equal(t, []byte("payload"), remote.get("/r/up"))
}

func TestEnqueue_Validation(t *testing.T) {
	q, _ := newQueue(t, newMemRemote(), Options{})
	ctx := context.Background()

	_, err := q.Download(ctx, "s2", "/a", "/b")
	assert.ErrorIs(t, err, common.ErrInvalidState)

	_, err = q.Upload(ctx, "s1", "", "/b")
	assert.ErrorIs(t, err, common.ErrValidation)

	assert.ErrorIs(t, q.Cancel("missing"), common.ErrNotFound)
	assert.Empty(t, q.List())
}

func TestFailure_IsLocalToTask(t *testing.T) {
	remote := newMemRemote()
	remote.put("/ok", []byte("fine"))
	q, events := newQueue(t, remote, Options{Workers: 1})
	ctx := context.Background()
	dir := t.TempDir()

	bad, err := q.Download(ctx, "s1", "/missing", filepath.Join(dir, "bad"))
	require.NoError(t, err)
	good, err := q.Download(ctx, "s1", "/ok", filepath.Join(dir, "good"))
	require.NoError(t, err)

	failed := waitState(t, q, bad, StateFailed)
	assert.Contains(t, failed.Error, "/missing")
	assert.Equal(t, []string{common.EventTransferError}, events.names(bad))

	waitState(t, q, good, StateCompleted)
}

func TestCancel_QueuedNeverRuns(t *testing.T) {
	remote := newMemRemote()
	remote.gate = make(chan struct{})
	remote.put("/big", bytes.Repeat([]byte("x"), 4096))
	remote.put("/next", []byte("y"))
	q, events := newQueue(t, remote, Options{Workers: 1})
	t.Cleanup(func() { close(remote.gate) })
	ctx := context.Background()
	dir := t.TempDir()

	first, err := q.Download(ctx, "s1", "/big", filepath.Join(dir, "big"))
	require.NoError(t, err)
	waitState(t, q, first, StateRunning)

	second, err := q.Download(ctx, "s1", "/next", filepath.Join(dir, "next"))
	require.NoError(t, err)
	require.NoError(t, q.Cancel(second))

	task, err := q.Get(second)
	require.NoError(t, err)
	assert.Equal(t, StateCancelled, task.State)
	assert.True(t, task.StartedAt.IsZero())
	assert.Equal(t, []string{common.EventTransferCancelled}, events.names(second))

	// cancel is terminal
	require.NoError(t, q.Cancel(second))
	assert.Equal(t, []string{"/big"}, remote.openOrder())
}

func TestCancel_RunningStopsProgress(t *testing.T) {
	remote := newMemRemote()
	remote.gate = make(chan struct{})
	remote.put("/big", bytes.Repeat([]byte("x"), 64*1024))
	q, events := newQueue(t, remote, Options{Workers: 1})
	local := filepath.Join(t.TempDir(), "big")

	id, err := q.Download(context.Background(), "s1", "/big", local)
	require.NoError(t, err)

	remote.gate <- struct{}{}
	require.Eventually(t, func() bool {
		task, _ := q.Get(id)
		return task.DoneBytes > 0
	}, 5*time.Second, 5*time.Millisecond)

	require.NoError(t, q.Cancel(id))
	before := len(events.progress(id))

	close(remote.gate)
	task := waitState(t, q, id, StateCancelled)
	assert.Less(t, task.DoneBytes, task.TotalBytes)

	time.Sleep(50 * time.Millisecond)
	assert.Len(t, events.progress(id), before)
	names := events.names(id)
	assert.Equal(t, common.EventTransferCancelled, names[len(names)-1])

	// the partial file is left in place
	_, err = os.Stat(local)
	assert.NoError(t, err)
}

func TestWorkers_BoundAndFIFO(t *testing.T) {
	remote := newMemRemote()
	remote.gate = make(chan struct{})
	for _, p := range []string{"/1", "/2", "/3", "/4"} {
		remote.put(p, []byte("data"))
	}
	q, _ := newQueue(t, remote, Options{Workers: 2})
	dir := t.TempDir()

	var ids []string
	for _, p := range []string{"/1", "/2", "/3", "/4"} {
		id, err := q.Download(context.Background(), "s1", p, filepath.Join(dir, p))
		require.NoError(t, err)
		ids = append(ids, id)
	}

	require.Eventually(t, func() bool {
		running := 0
		for _, task := range q.List() {
			if task.State == StateRunning {
				running++
			}
		}
		return running == 2
	}, 5*time.Second, 5*time.Millisecond)

	for _, task := range q.List()[2:] {
		assert.Equal(t, StateQueued, task.State)
	}
	require.Eventually(t, func() bool { return len(remote.openOrder()) == 2 }, 5*time.Second, 5*time.Millisecond)
	assert.ElementsMatch(t, []string{"/1", "/2"}, remote.openOrder())

	close(remote.gate)
	for _, id := range ids {
		waitState(t, q, id, StateCompleted)
	}
	order := remote.openOrder()
	assert.ElementsMatch(t, []string{"/3", "/4"}, order[2:])
}

func TestFailSession_FailsRunningAndQueued(t *testing.T) {
	remote := newMemRemote()
	remote.gate = make(chan struct{})
	remote.put("/a", bytes.Repeat([]byte("a"), 8192))
	remote.put("/b", []byte("b"))
	q, _ := newQueue(t, remote, Options{Workers: 1})
	t.Cleanup(func() { close(remote.gate) })
	dir := t.TempDir()

	running, err := q.Download(context.Background(), "s1", "/a", filepath.Join(dir, "a"))
	require.NoError(t, err)
	waitState(t, q, running, StateRunning)
	queued, err := q.Download(context.Background(), "s1", "/b", filepath.Join(dir, "b"))
	require.NoError(t, err)

	q.FailSession("s1", "session closed")

	for _, id := range []string{running, queued} {
		task, err := q.Get(id)
		require.NoError(t, err)
		assert.Equal(t, StateFailed, task.State)
		assert.Equal(t, "session closed", task.Error)
	}
}

func TestRetentionAndPrune(t *testing.T) {
	remote := newMemRemote()
	remote.put("/f", []byte("f"))
	q, _ := newQueue(t, remote, Options{Workers: 1, Retention: 2})
	dir := t.TempDir()

	var last string
	for i := range 4 {
		id, err := q.Download(context.Background(), "s1", "/f", filepath.Join(dir, fmt.Sprint(i)))
		require.NoError(t, err)
		waitState(t, q, id, StateCompleted)
		last = id
	}

	tasks := q.List()
	require.Len(t, tasks, 2)
	assert.Equal(t, last, tasks[1].ID)

	assert.Equal(t, 2, q.Prune())
	assert.Empty(t, q.List())
	_, err := q.Get(last)
	assert.True(t, errors.Is(err, common.ErrNotFound))
}
