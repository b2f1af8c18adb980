// Package transfer runs file copies between local disk and a session's SFTP
// subsystem on a bounded FIFO worker pool.
package transfer

import "time"

type Direction string

const (
	Upload   Direction = "upload"
	Download Direction = "download"
)

type State string

const (
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

type Task struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"sessionId"`
	Direction  Direction `json:"direction"`
	LocalPath  string    `json:"localPath"`
	RemotePath string    `json:"remotePath"`
	TotalBytes int64     `json:"totalBytes"`
	DoneBytes  int64     `json:"doneBytes"`
	State      State     `json:"state"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	StartedAt  time.Time `json:"startedAt,omitzero"`
	FinishedAt time.Time `json:"finishedAt,omitzero"`
}

// Progress is emitted while a task is Running. Speed is bytes per second
// since the task started.
type Progress struct {
	TaskID     string  `json:"taskId"`
	SessionID  string  `json:"sessionId"`
	DoneBytes  int64   `json:"doneBytes"`
	TotalBytes int64   `json:"totalBytes"`
	Speed      float64 `json:"speed"`
}
