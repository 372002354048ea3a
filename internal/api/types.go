package api

import (
	"speechflow/internal/events"
	"speechflow/internal/scheduler"
)

// DaemonInfo describes the running daemon process.
type DaemonInfo struct {
	PID          int    `json:"pid"`
	Version      string `json:"version"`
	StartedAt    string `json:"startedAt"`
	LockFilePath string `json:"lockFilePath"`
	StoreBackend string `json:"storeBackend"`
	StorePath    string `json:"storePath,omitempty"`
	WatchDir     string `json:"watchDir,omitempty"`
}

// StatusResponse aggregates daemon and scheduler state.
type StatusResponse struct {
	Daemon    DaemonInfo       `json:"daemon"`
	Scheduler scheduler.Status `json:"scheduler"`
}

// EntriesResponse lists every top-level registry entry.
type EntriesResponse struct {
	Entries []scheduler.EntryView `json:"entries"`
}

// EntryResponse wraps a single entry.
type EntryResponse struct {
	Entry scheduler.EntryView `json:"entry"`
}

// EnqueueRequest submits local paths on the daemon host for ingestion.
type EnqueueRequest struct {
	Paths []string `json:"paths"`
}

// EnqueueResponse reports how many paths were accepted for ingestion.
type EnqueueResponse struct {
	Queued int `json:"queued"`
}

// ConfirmResponse reports how many pipelines moved from QUEUED to PENDING.
type ConfirmResponse struct {
	Confirmed int `json:"confirmed"`
}

// LanguageRequest changes the default language.
type LanguageRequest struct {
	Code string `json:"code"`
	ASR  string `json:"asr,omitempty"`
}

// StageToggleRequest enables or disables a template stage.
type StageToggleRequest struct {
	Enabled bool `json:"enabled"`
}

// StageToggleResponse lists the positions that had to be force-enabled.
type StageToggleResponse struct {
	Forced []int `json:"forced"`
}

// ToolURLResponse carries the composed interactive tool URL.
type ToolURLResponse struct {
	URL string `json:"url"`
}

// SplitRequest answers the split prompt for multi-channel recordings.
type SplitRequest struct {
	Choice string `json:"choice"`
}

// SplitResponse reports how many channel pipelines were dropped.
type SplitResponse struct {
	Removed int `json:"removed"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error     string `json:"error"`
	Kind      string `json:"kind,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

// Websocket message types.
const (
	MessageEvent      = "event"
	MessageCompletion = "completion"
	MessageAck        = "ack"
	MessageError      = "error"
	MessagePing       = "ping"
	MessagePong       = "pong"
)

// ClientMessage is sent by websocket clients. Completion messages carry the
// result of an interactive tool for StageID.
type ClientMessage struct {
	Type    string `json:"type"`
	StageID int64  `json:"stageId,omitempty"`
	URL     string `json:"url,omitempty"`
	Name    string `json:"name,omitempty"`
	Content string `json:"content,omitempty"`
	Message string `json:"message,omitempty"`
}

// ServerMessage is sent to websocket clients.
type ServerMessage struct {
	Type    string        `json:"type"`
	Event   *events.Event `json:"event,omitempty"`
	StageID int64         `json:"stageId,omitempty"`
	Error   string        `json:"error,omitempty"`
}
