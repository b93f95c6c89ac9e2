package session

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/lguibr/Mimeflow/internal/models"
	"github.com/lguibr/Mimeflow/internal/pose"
	"github.com/lguibr/Mimeflow/internal/service/estimator"
	"github.com/lguibr/Mimeflow/internal/service/scoring"
)

// ErrUnknownAction is returned by Control for an unrecognized action name.
var ErrUnknownAction = errors.New("unknown control action")

// Action is a lifecycle command accepted by transports.
type Action string

const (
	ActionLoad     Action = "load"
	ActionReady    Action = "ready"
	ActionStart    Action = "start"
	ActionPause    Action = "pause"
	ActionResume   Action = "resume"
	ActionFinalize Action = "finalize"
	ActionReset    Action = "reset"
)

// ParseAction maps a case-insensitive name to an Action. "stop" and "end" are
// accepted for finalize.
func ParseAction(name string) (Action, error) {
	switch a := Action(strings.ToLower(strings.TrimSpace(name))); a {
	case ActionLoad, ActionReady, ActionStart, ActionPause, ActionResume, ActionFinalize, ActionReset:
		return a, nil
	case "stop", "end":
		return ActionFinalize, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownAction, name)
	}
}

// Control applies action. The final record is returned only for ActionFinalize.
func (s *Session) Control(ctx context.Context, action Action) (*models.ScoreRecord, error) {
	switch action {
	case ActionLoad:
		return nil, s.Load()
	case ActionReady:
		return nil, s.MarkReady()
	case ActionStart:
		return nil, s.Start()
	case ActionPause:
		return nil, s.Pause()
	case ActionResume:
		return nil, s.Resume()
	case ActionFinalize:
		rec, err := s.Finalize(ctx)
		if err != nil {
			return nil, err
		}
		return &rec, nil
	case ActionReset:
		s.Reset()
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
}

// Overrides are the per-session settings a client may choose at creation.
// Empty fields keep the base value.
type Overrides struct {
	ClipID      string `json:"clipId,omitempty"`
	PlayerName  string `json:"playerName,omitempty"`
	Variant     string `json:"variant,omitempty"`
	PausePolicy string `json:"pausePolicy,omitempty"`
}

// Apply returns a copy of o with ov applied.
func (o Options) Apply(ov Overrides) (Options, error) {
	if ov.ClipID != "" {
		o.ClipID = ov.ClipID
	}
	if ov.PlayerName != "" {
		o.PlayerName = ov.PlayerName
	}
	if ov.Variant != "" {
		v, err := scoring.ParseVariant(ov.Variant)
		if err != nil {
			return o, fmt.Errorf("%w: %v", ErrInvalidOptions, err)
		}
		o.Extractor.Variant = v
	}
	if ov.PausePolicy != "" {
		p, err := ParsePausePolicy(ov.PausePolicy)
		if err != nil {
			return o, fmt.Errorf("%w: %v", ErrInvalidOptions, err)
		}
		o.PausePolicy = p
	}
	return o, nil
}

// IsClientError reports whether err was caused by the caller: a bad option,
// an unknown action or stream, or a frame that does not fit the session.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidOptions) ||
		errors.Is(err, ErrUnknownAction) ||
		errors.Is(err, pose.ErrUnknownStream) ||
		errors.Is(err, pose.ErrJointCountMismatch) ||
		errors.Is(err, pose.ErrInvalidConfidence) ||
		errors.Is(err, estimator.ErrUnknownProvider)
}

// IsConflict reports whether err is a lifecycle conflict: the transition or
// frame is valid in general but not in the session's current state.
func IsConflict(err error) bool {
	return errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrSessionFinalized) ||
		errors.Is(err, ErrNotAccepting)
}

// Launch creates a session from base with ov applied. When factory and
// provider are both set, an estimator is built and attached.
func (r *Registry) Launch(ctx context.Context, base Options, ov Overrides, factory estimator.Factory, provider string, autoStart bool) (*Session, error) {
	opts, err := base.Apply(ov)
	if err != nil {
		return nil, err
	}
	var est estimator.Estimator
	if provider != "" {
		if factory == nil {
			return nil, fmt.Errorf("%w: %q", estimator.ErrUnknownProvider, provider)
		}
		if est, err = factory(provider); err != nil {
			return nil, err
		}
	}
	s, err := r.Create(opts)
	if err != nil {
		return nil, err
	}
	if est == nil {
		return s, nil
	}
	if err := r.Attach(ctx, s.ID(), est, autoStart); err != nil {
		// Attach already detached est, so Remove will not close it.
		_ = est.Close()
		_ = r.Remove(s.ID())
		return nil, err
	}
	return s, nil
}

// Ingest routes a wire frame to the session with id.
func (r *Registry) Ingest(id string, msg *models.FrameMessage) (*models.ScoreTick, error) {
	s, err := r.Get(id)
	if err != nil {
		return nil, err
	}
	stream, err := pose.ParseStream(msg.Stream)
	if err != nil {
		return nil, err
	}
	return s.Ingest(stream, msg.ToFrame())
}
