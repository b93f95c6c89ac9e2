package grpcapi

import (
	"github.com/lguibr/Mimeflow/internal/models"
	"github.com/lguibr/Mimeflow/internal/service/session"
)

// CreateSessionRequest opens a session. With Estimator set, the server attaches
// that provider and the session is driven without client frames.
type CreateSessionRequest struct {
	session.Overrides
	Estimator string `json:"estimator,omitempty"`
	AutoStart bool   `json:"autoStart,omitempty"`
}

// SessionRequest addresses an existing session.
type SessionRequest struct {
	SessionID string `json:"sessionId"`
}

// ControlRequest applies a lifecycle action such as "start" or "finalize".
type ControlRequest struct {
	SessionID string `json:"sessionId"`
	Action    string `json:"action"`
}

// ControlResponse returns the session after the action. Record is set by finalize.
type ControlResponse struct {
	Snapshot models.SessionSnapshot `json:"snapshot"`
	Record   *models.ScoreRecord    `json:"record,omitempty"`
}

// Stream event types.
const (
	EventTick  = "tick"
	EventError = "error"
)

// StreamEvent is sent on StreamFrames for every produced tick and every
// rejected frame. Rejections do not end the stream.
type StreamEvent struct {
	Type     string            `json:"type"`
	Tick     *models.ScoreTick `json:"tick,omitempty"`
	Sequence int64             `json:"sequence,omitempty"`
	Error    string            `json:"error,omitempty"`
}

// SessionKey identifies the addressed session in request logs.
func (r *SessionRequest) SessionKey() string { return r.SessionID }

// SessionKey identifies the addressed session in request logs.
func (r *ControlRequest) SessionKey() string { return r.SessionID }
