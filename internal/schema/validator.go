// Package schema validates records at the score store boundary.
package schema

import (
	"errors"
	"fmt"
	"time"

	"github.com/lguibr/Mimeflow/internal/models"
)

// ErrInvalidRecord wraps every validation failure.
var ErrInvalidRecord = errors.New("invalid score record")

// Validator checks outbound payloads against the store contract.
type Validator struct{}

// New creates a validator.
func New() *Validator {
	return &Validator{}
}

// Validate dispatches on the payload type. Unknown types pass.
func (v *Validator) Validate(event any) error {
	switch ev := event.(type) {
	case models.ScoreRecord:
		return v.ValidateRecord(ev)
	case *models.ScoreRecord:
		if ev == nil {
			return fmt.Errorf("%w: nil record", ErrInvalidRecord)
		}
		return v.ValidateRecord(*ev)
	default:
		return nil
	}
}

// ValidateRecord enforces {sessionId, score 0..100, history 0..100, RFC3339 timestamp}.
func (v *Validator) ValidateRecord(r models.ScoreRecord) error {
	if r.SessionID == "" {
		return fmt.Errorf("%w: empty sessionId", ErrInvalidRecord)
	}
	if r.Score < 0 || r.Score > 100 {
		return fmt.Errorf("%w: score %d outside [0,100]", ErrInvalidRecord, r.Score)
	}
	for i, h := range r.History {
		if h < 0 || h > 100 {
			return fmt.Errorf("%w: history[%d]=%d outside [0,100]", ErrInvalidRecord, i, h)
		}
	}
	if _, err := time.Parse(time.RFC3339, r.Timestamp); err != nil {
		return fmt.Errorf("%w: timestamp %q: %v", ErrInvalidRecord, r.Timestamp, err)
	}
	return nil
}
