// Package models defines the data contracts exchanged with transports and stores.
package models

import (
	"github.com/lguibr/Mimeflow/internal/pose"
)

// Event types carried in published payloads.
const (
	EventTypeTick  = "session.score.tick"
	EventTypeFinal = "session.score.final"
)

// JointMessage is a joint on the wire. A nil entry in FrameMessage.Joints marks a missing joint.
type JointMessage struct {
	X          float64 `json:"x" cbor:"x"`
	Y          float64 `json:"y" cbor:"y"`
	Z          float64 `json:"z" cbor:"z"`
	Confidence float64 `json:"confidence" cbor:"c"`
}

// FrameMessage carries one keypoint frame for one stream of a session.
type FrameMessage struct {
	SessionID string          `json:"sessionId,omitempty" cbor:"sid,omitempty"`
	Stream    string          `json:"stream" cbor:"s"`
	Sequence  int64           `json:"sequence,omitempty" cbor:"n,omitempty"`
	OffsetMs  int64           `json:"offsetMs,omitempty" cbor:"t,omitempty"`
	Joints    []*JointMessage `json:"joints" cbor:"j"`
}

// ToFrame converts the message into a pose.Frame.
func (m *FrameMessage) ToFrame() pose.Frame {
	joints := make([]pose.Joint, len(m.Joints))
	for i, j := range m.Joints {
		if j == nil {
			joints[i] = pose.Missing()
			continue
		}
		joints[i] = pose.Joint{X: j.X, Y: j.Y, Z: j.Z, Confidence: j.Confidence}
	}
	return pose.Frame{Joints: joints}
}

// NewFrameMessage builds a wire message from a frame; missing joints become nil.
func NewFrameMessage(sessionID string, stream pose.Stream, seq, offsetMs int64, f pose.Frame) *FrameMessage {
	joints := make([]*JointMessage, len(f.Joints))
	for i, j := range f.Joints {
		if !j.Present() {
			continue
		}
		joints[i] = &JointMessage{X: j.X, Y: j.Y, Z: j.Z, Confidence: j.Confidence}
	}
	return &FrameMessage{
		SessionID: sessionID,
		Stream:    stream.String(),
		Sequence:  seq,
		OffsetMs:  offsetMs,
		Joints:    joints,
	}
}

// ScoreTick is emitted for every evaluation that appended a history entry.
type ScoreTick struct {
	EventType             string  `json:"eventType"`
	SessionID             string  `json:"sessionId"`
	Sequence              int     `json:"sequence"`
	RawSimilarity         float64 `json:"rawSimilarity"`
	TransformedScore      float64 `json:"transformedScore"`
	RunningAveragePercent float64 `json:"runningAveragePercent"`
	History               []int   `json:"historySoFar"`
	ReferenceAge          int     `json:"referenceAge"`
	LiveAge               int     `json:"liveAge"`
	Lag                   int     `json:"lag"`
	Timestamp             int64   `json:"timestamp"`
}

// ScoreRecord is written to score stores exactly once per finalized session.
type ScoreRecord struct {
	EventType  string `json:"eventType,omitempty"`
	SessionID  string `json:"sessionId"`
	ClipID     string `json:"clipId,omitempty"`
	PlayerName string `json:"playerName,omitempty"`
	Score      int    `json:"score"`
	History    []int  `json:"history"`
	Timestamp  string `json:"timestamp"`
}

// SessionSnapshot is an immutable view of a session for UI polling.
type SessionSnapshot struct {
	SessionID             string  `json:"sessionId"`
	ClipID                string  `json:"clipId,omitempty"`
	PlayerName            string  `json:"playerName,omitempty"`
	State                 string  `json:"state"`
	RunningAveragePercent float64 `json:"runningAveragePercent"`
	Score                 int     `json:"score"`
	History               []int   `json:"history"`
	ReferenceBuffered     int     `json:"referenceBuffered"`
	LiveBuffered          int     `json:"liveBuffered"`
	Evaluations           int     `json:"evaluations"`
	LastSimilarity        float64 `json:"lastSimilarity"`
	Persisted             bool    `json:"persisted"`
}
