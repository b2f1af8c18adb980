package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dmitrijs2005/goterm/internal/common"
	"github.com/dmitrijs2005/goterm/internal/logging"
)

const bufferSize = 32 * 1024

type Options struct {
	Workers          int
	Retention        int
	ProgressInterval time.Duration
}

type job struct {
	task     Task
	cancel   context.CancelFunc
	lastEmit time.Time
}

// Queue owns every task. Workers take Queued tasks in FIFO order; at most
// Workers tasks are Running at once. Finished tasks beyond Retention are
// evicted oldest first.
type Queue struct {
	sessions SessionChecker
	remotes  Remotes
	opts     Options
	emitter  common.Emitter
	logger   logging.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	jobs    map[string]*job
	order   []string
	pending []string
	closed  bool

	wg sync.WaitGroup
}

func NewQueue(sessions SessionChecker, remotes Remotes, opts Options, e common.Emitter, l logging.Logger) *Queue {
	if opts.Workers <= 0 {
		opts.Workers = 2
	}
	if opts.Retention <= 0 {
		opts.Retention = 100
	}
	if opts.ProgressInterval <= 0 {
		opts.ProgressInterval = 200 * time.Millisecond
	}

	q := &Queue{
		sessions: sessions,
		remotes:  remotes,
		opts:     opts,
		emitter:  e,
		logger:   l.With("module", "transfer"),
		jobs:     make(map[string]*job),
	}
	q.cond = sync.NewCond(&q.mu)

	for i := 0; i < opts.Workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}
	return q
}

func (q *Queue) Download(ctx context.Context, sessionID, remotePath, localPath string) (string, error) {
	return q.enqueue(ctx, sessionID, Download, localPath, remotePath)
}

func (q *Queue) Upload(ctx context.Context, sessionID, localPath, remotePath string) (string, error) {
	return q.enqueue(ctx, sessionID, Upload, localPath, remotePath)
}

func (q *Queue) enqueue(ctx context.Context, sessionID string, dir Direction, localPath, remotePath string) (string, error) {
	if localPath == "" || remotePath == "" {
		return "", fmt.Errorf("%w: local and remote paths are required", common.ErrValidation)
	}
	if err := q.sessions.CheckConnected(sessionID); err != nil {
		return "", err
	}

	t := Task{
		ID:         common.NewID(),
		SessionID:  sessionID,
		Direction:  dir,
		LocalPath:  localPath,
		RemotePath: remotePath,
		State:      StateQueued,
		CreatedAt:  time.Now(),
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return "", fmt.Errorf("%w: transfer queue is closed", common.ErrInvalidState)
	}
	q.jobs[t.ID] = &job{task: t}
	q.order = append(q.order, t.ID)
	q.pending = append(q.pending, t.ID)
	q.cond.Signal()
	q.mu.Unlock()

	q.logger.Info(ctx, "transfer queued", "task_id", t.ID, "session_id", sessionID, "direction", dir, "remote", remotePath)
	return t.ID, nil
}

func (q *Queue) worker() {
	defer q.wg.Done()

	for {
		q.mu.Lock()
		for len(q.pending) == 0 && !q.closed {
			q.cond.Wait()
		}
		if q.closed {
			q.mu.Unlock()
			return
		}
		id := q.pending[0]
		q.pending = q.pending[1:]

		j, ok := q.jobs[id]
		if !ok || j.task.State != StateQueued {
			q.mu.Unlock()
			continue
		}
		ctx, cancel := context.WithCancel(context.Background())
		j.cancel = cancel
		j.task.State = StateRunning
		j.task.StartedAt = time.Now()
		q.mu.Unlock()

		q.run(ctx, j)
		cancel()
	}
}

func (q *Queue) run(ctx context.Context, j *job) {
	defer func() {
		if r := recover(); r != nil {
			q.finish(j, StateFailed, fmt.Sprintf("panic: %v", r))
		}
	}()

	err := q.copy(ctx, j)
	switch {
	case err == nil:
		q.finish(j, StateCompleted, "")
	case ctx.Err() != nil:
		// Cancel or FailSession already recorded the outcome.
		q.finish(j, StateCancelled, "cancelled")
	default:
		q.finish(j, StateFailed, err.Error())
	}
}

func (q *Queue) copy(ctx context.Context, j *job) error {
	q.mu.Lock()
	t := j.task
	q.mu.Unlock()

	remote, err := q.remotes.Remote(t.SessionID)
	if err != nil {
		return err
	}

	var (
		src  io.ReadCloser
		dst  io.WriteCloser
		size int64
	)
	switch t.Direction {
	case Download:
		src, size, err = remote.Open(t.RemotePath)
		if err != nil {
			return err
		}
		defer src.Close()

		if err := os.MkdirAll(filepath.Dir(t.LocalPath), 0o755); err != nil {
			return fmt.Errorf("create local dir: %w", err)
		}
		f, err := os.Create(t.LocalPath)
		if err != nil {
			return fmt.Errorf("create local file: %w", err)
		}
		dst = f

	case Upload:
		f, err := os.Open(t.LocalPath)
		if err != nil {
			return fmt.Errorf("open local file: %w", err)
		}
		defer f.Close()
		fi, err := f.Stat()
		if err != nil {
			return fmt.Errorf("stat local file: %w", err)
		}
		src, size = f, fi.Size()

		dst, err = remote.Create(t.RemotePath)
		if err != nil {
			return err
		}

	default:
		return fmt.Errorf("%w: unknown direction %q", common.ErrValidation, t.Direction)
	}

	q.setTotal(j, size)

	err = q.pump(ctx, j, dst, src)
	if cerr := dst.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("close destination: %w", cerr)
	}
	return err
}

// pump copies in bufferSize chunks and checks for cancellation between
// chunks.
func (q *Queue) pump(ctx context.Context, j *job, dst io.Writer, src io.Reader) error {
	buf := make([]byte, bufferSize)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, err := dst.Write(buf[:n]); err != nil {
				return err
			}
			if !q.advance(j, int64(n)) {
				return context.Canceled
			}
		}
		if errors.Is(rerr, io.EOF) {
			return nil
		}
		if rerr != nil {
			return rerr
		}
	}
}

func (q *Queue) setTotal(j *job, size int64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if size > j.task.TotalBytes {
		j.task.TotalBytes = size
	}
}

// advance books n more bytes. It reports false once the task has left
// Running, after which no progress is emitted.
func (q *Queue) advance(j *job, n int64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if j.task.State != StateRunning {
		return false
	}
	j.task.DoneBytes += n
	if j.task.DoneBytes > j.task.TotalBytes {
		j.task.TotalBytes = j.task.DoneBytes
	}

	now := time.Now()
	if now.Sub(j.lastEmit) >= q.opts.ProgressInterval {
		j.lastEmit = now
		q.emitProgressLocked(j, now)
	}
	return true
}

func (q *Queue) emitProgressLocked(j *job, now time.Time) {
	var speed float64
	if elapsed := now.Sub(j.task.StartedAt).Seconds(); elapsed > 0 {
		speed = float64(j.task.DoneBytes) / elapsed
	}
	q.emitter.Emit(common.EventTransferProgress, Progress{
		TaskID:     j.task.ID,
		SessionID:  j.task.SessionID,
		DoneBytes:  j.task.DoneBytes,
		TotalBytes: j.task.TotalBytes,
		Speed:      speed,
	})
}

// finish moves a task into a terminal state unless it already is in one.
func (q *Queue) finish(j *job, state State, msg string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if j.task.State.Terminal() {
		return
	}
	now := time.Now()
	if state == StateCompleted {
		q.emitProgressLocked(j, now)
	}
	q.closeLocked(j, state, msg, now)
}

func (q *Queue) closeLocked(j *job, state State, msg string, now time.Time) {
	j.task.State = state
	j.task.Error = msg
	j.task.FinishedAt = now
	if j.cancel != nil {
		j.cancel()
	}

	name := common.EventTransferDone
	switch state {
	case StateFailed:
		name = common.EventTransferError
	case StateCancelled:
		name = common.EventTransferCancelled
	}
	q.emitter.Emit(name, j.task)
	q.evictLocked()

	q.logger.Info(context.Background(), "transfer finished", "task_id", j.task.ID, "state", state, "done_bytes", j.task.DoneBytes, "error", msg)
}

// Cancel stops a task. Queued tasks never start; Running ones stop at the
// next chunk. Finished tasks are left as they are.
func (q *Queue) Cancel(taskID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	j, ok := q.jobs[taskID]
	if !ok {
		return fmt.Errorf("%w: task %s", common.ErrNotFound, taskID)
	}
	if j.task.State.Terminal() {
		return nil
	}
	q.closeLocked(j, StateCancelled, "cancelled", time.Now())
	return nil
}

// FailSession fails every unfinished task of a session. Registered as a
// session close listener.
func (q *Queue) FailSession(sessionID, reason string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	for _, id := range append([]string(nil), q.order...) {
		j, ok := q.jobs[id]
		if !ok || j.task.SessionID != sessionID || j.task.State.Terminal() {
			continue
		}
		q.closeLocked(j, StateFailed, reason, now)
	}
}

func (q *Queue) Get(taskID string) (Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[taskID]
	if !ok {
		return Task{}, fmt.Errorf("%w: task %s", common.ErrNotFound, taskID)
	}
	return j.task, nil
}

// List returns copies of all tracked tasks in creation order.
func (q *Queue) List() []Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Task, 0, len(q.order))
	for _, id := range q.order {
		out = append(out, q.jobs[id].task)
	}
	return out
}

// Prune drops every finished task and reports how many were removed.
func (q *Queue) Prune() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropFinishedLocked(len(q.order))
}

func (q *Queue) evictLocked() {
	finished := 0
	for _, id := range q.order {
		if q.jobs[id].task.State.Terminal() {
			finished++
		}
	}
	if finished > q.opts.Retention {
		q.dropFinishedLocked(finished - q.opts.Retention)
	}
}

// dropFinishedLocked removes up to n finished tasks, oldest first.
func (q *Queue) dropFinishedLocked(n int) int {
	removed := 0
	kept := q.order[:0]
	for _, id := range q.order {
		if removed < n && q.jobs[id].task.State.Terminal() {
			delete(q.jobs, id)
			removed++
			continue
		}
		kept = append(kept, id)
	}
	q.order = kept
	return removed
}

// Close cancels unfinished tasks and waits for the workers.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	now := time.Now()
	for _, id := range append([]string(nil), q.order...) {
		if j, ok := q.jobs[id]; ok && !j.task.State.Terminal() {
			q.closeLocked(j, StateCancelled, "shutdown", now)
		}
	}
	q.cond.Broadcast()
	q.mu.Unlock()

	q.wg.Wait()
}
