// Package mysql manages pooled MySQL connections per profile, optionally
// tunnelled through an SSH session.
package mysql

import (
	"fmt"
	"time"

	"github.com/dmitrijs2005/goterm/internal/common"
)

type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateError        State = "error"
)

type Status struct {
	ProfileID string `json:"profileId"`
	State     State  `json:"state"`
	LastError string `json:"lastError"`
}

type Column struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable string `json:"nullable"`
	Key      string `json:"key"`
	Default  string `json:"default"`
	Extra    string `json:"extra"`
}

type PreviewResult struct {
	Columns   []string   `json:"columns"`
	Rows      [][]string `json:"rows"`
	Truncated bool       `json:"truncated"`
}

type ResultKind string

const (
	KindRows ResultKind = "rows"
	KindExec ResultKind = "exec"
)

// QueryResult is either *RowsResult or *ExecResult.
type QueryResult interface {
	Kind() ResultKind
	Elapsed() time.Duration
}

type RowsResult struct {
	Columns    []string   `json:"columns"`
	Rows       [][]string `json:"rows"`
	Truncated  bool       `json:"truncated"`
	DurationMs int64      `json:"durationMs"`
}

func (*RowsResult) Kind() ResultKind          { return KindRows }
func (r *RowsResult) Elapsed() time.Duration { return time.Duration(r.DurationMs) * time.Millisecond }

type ExecResult struct {
	AffectedRows int64 `json:"affectedRows"`
	LastInsertID int64 `json:"lastInsertId"`
	DurationMs   int64 `json:"durationMs"`
}

func (*ExecResult) Kind() ResultKind          { return KindExec }
func (r *ExecResult) Elapsed() time.Duration { return time.Duration(r.DurationMs) * time.Millisecond }

// Envelope is the wire form of a QueryResult: the kind tag plus exactly one
// populated variant.
type Envelope struct {
	Kind ResultKind  `json:"kind"`
	Rows *RowsResult `json:"rows,omitempty"`
	Exec *ExecResult `json:"exec,omitempty"`
}

func Wrap(r QueryResult) Envelope {
	switch v := r.(type) {
	case *RowsResult:
		return Envelope{Kind: KindRows, Rows: v}
	case *ExecResult:
		return Envelope{Kind: KindExec, Exec: v}
	}
	return Envelope{}
}

func (e Envelope) Result() (QueryResult, error) {
	switch {
	case e.Kind == KindRows && e.Rows != nil:
		return e.Rows, nil
	case e.Kind == KindExec && e.Exec != nil:
		return e.Exec, nil
	}
	return nil, fmt.Errorf("%w: malformed query result of kind %q", common.ErrValidation, e.Kind)
}
