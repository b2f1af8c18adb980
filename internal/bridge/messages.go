package bridge

import "encoding/json"

// Request and response bodies. Component result types travel as-is.

type Empty struct{}

type PingResponse struct {
	Status string `json:"status"`
}

type IDRequest struct {
	ID string `json:"id"`
}

type ProfileRequest struct {
	ProfileID string `json:"profileId"`
}

type SessionRequest struct {
	SessionID string `json:"sessionId"`
}

type SessionResponse struct {
	SessionID string `json:"sessionId"`
}

type TerminalOpenRequest struct {
	SessionID string `json:"sessionId"`
	Cols      int    `json:"cols"`
	Rows      int    `json:"rows"`
}

type TerminalRequest struct {
	TerminalID string `json:"terminalId"`
}

type TerminalResponse struct {
	TerminalID string `json:"terminalId"`
}

type TerminalWriteRequest struct {
	TerminalID string `json:"terminalId"`
	Data       []byte `json:"data"`
}

type TerminalResizeRequest struct {
	TerminalID string `json:"terminalId"`
	Cols       int    `json:"cols"`
	Rows       int    `json:"rows"`
}

type PathRequest struct {
	SessionID string `json:"sessionId"`
	Path      string `json:"path"`
}

type RemoveRequest struct {
	SessionID string `json:"sessionId"`
	Path      string `json:"path"`
	Recursive bool   `json:"recursive"`
}

type RenameRequest struct {
	SessionID string `json:"sessionId"`
	From      string `json:"from"`
	To        string `json:"to"`
}

type TransferRequest struct {
	SessionID  string `json:"sessionId"`
	RemotePath string `json:"remotePath"`
	LocalPath  string `json:"localPath"`
}

type TaskRequest struct {
	TaskID string `json:"taskId"`
}

type TaskResponse struct {
	TaskID string `json:"taskId"`
}

type PruneResponse struct {
	Removed int `json:"removed"`
}

type HostKeyRespondRequest struct {
	RequestID string `json:"requestId"`
	Allow     bool   `json:"allow"`
}

type SecretRequest struct {
	ProfileID string `json:"profileId"`
	Secret    string `json:"secret"`
}

type DatabaseRequest struct {
	ProfileID string `json:"profileId"`
	Database  string `json:"database"`
}

type TableRequest struct {
	ProfileID string `json:"profileId"`
	Database  string `json:"database"`
	Table     string `json:"table"`
}

type PreviewRequest struct {
	ProfileID string `json:"profileId"`
	Database  string `json:"database"`
	Table     string `json:"table"`
	Filter    string `json:"filter"`
	OrderBy   string `json:"orderBy"`
	OrderDir  string `json:"orderDir"`
	Limit     int    `json:"limit"`
	Offset    int    `json:"offset"`
}

type QueryRequest struct {
	ProfileID string `json:"profileId"`
	Database  string `json:"database"`
	Query     string `json:"query"`
}

type NamesResponse struct {
	Names []string `json:"names"`
}

type EventsRequest struct {
	// Names filters the stream; empty means every event.
	Names []string `json:"names"`
}

// Event is the client-side view of a streamed event; Payload is decoded by
// the caller according to Name.
type Event struct {
	Name    string          `json:"name"`
	Payload json.RawMessage `json:"payload"`
}

// ListResponse wraps every list-shaped result.
type ListResponse[T any] struct {
	Items []T `json:"items"`
}
