package session

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lguibr/Mimeflow/internal/models"
	"github.com/lguibr/Mimeflow/internal/observability/logging"
	"github.com/lguibr/Mimeflow/internal/observability/metrics"
	"github.com/lguibr/Mimeflow/internal/pose"
	"github.com/lguibr/Mimeflow/internal/schema"
	"github.com/lguibr/Mimeflow/internal/service/alignment"
	"github.com/lguibr/Mimeflow/internal/service/scoring"
)

// PausePolicy decides what happens to incoming frames while paused.
type PausePolicy int

const (
	// PauseClear empties both buffers on Pause and drops frames while paused.
	PauseClear PausePolicy = iota
	// PauseRetain keeps buffering frames while paused; no history is recorded.
	PauseRetain
)

// String returns the configuration name of the policy.
func (p PausePolicy) String() string {
	switch p {
	case PauseClear:
		return "clear"
	case PauseRetain:
		return "retain"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(p))
	}
}

// ParsePausePolicy maps a configuration name to a PausePolicy.
func ParsePausePolicy(name string) (PausePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "clear", "suppress":
		return PauseClear, nil
	case "retain", "continue":
		return PauseRetain, nil
	default:
		return 0, fmt.Errorf("unknown pause policy %q", name)
	}
}

// ErrInvalidOptions wraps every configuration error reported by New.
var ErrInvalidOptions = errors.New("invalid session options")

// Options holds every scoring knob of a session.
type Options struct {
	Skeleton    pose.Skeleton
	Extractor   scoring.ExtractorConfig
	Alignment   alignment.Config
	Transform   scoring.Transform
	PausePolicy PausePolicy

	ClipID     string
	PlayerName string
}

// DefaultOptions returns BlazePose with the stock scoring parameters.
func DefaultOptions() Options {
	return Options{
		Skeleton:    pose.BlazePose(),
		Extractor:   scoring.DefaultExtractorConfig(),
		Alignment:   alignment.DefaultConfig(),
		Transform:   scoring.DefaultTransform(),
		PausePolicy: PauseClear,
	}
}

// Validate checks the parts not covered by the aligner constructor.
func (o Options) Validate() error {
	if err := o.Alignment.Validate(); err != nil {
		return err
	}
	if err := o.Transform.Validate(); err != nil {
		return err
	}
	if o.PausePolicy != PauseClear && o.PausePolicy != PauseRetain {
		return fmt.Errorf("unknown pause policy %v", o.PausePolicy)
	}
	return nil
}

// TickPublisher receives every evaluation tick that produced a history entry.
type TickPublisher interface {
	PublishTick(ctx context.Context, tick models.ScoreTick) error
}

// ScoreStore receives the final record of a session.
type ScoreStore interface {
	SaveScore(ctx context.Context, rec models.ScoreRecord) error
}

// Deps are the collaborators a session reports to. All fields are optional.
type Deps struct {
	Stores  []ScoreStore
	Ticks   []TickPublisher
	Metrics *metrics.Metrics
	Now     func() time.Time
}

// Session owns two frame buffers, a score history and the lifecycle.
// It implements estimator.Callback so a provider can drive it directly.
//
// Ingest runs under the read side of gate; Pause, Finalize and Reset take the
// write side, so no evaluation can append history after they return.
type Session struct {
	id        string
	opts      Options
	deps      Deps
	validator *schema.Validator
	log       zerolog.Logger

	gate      sync.RWMutex
	lifecycle *Lifecycle
	aligner   *alignment.Aligner
	agg       *Aggregator

	mu             sync.Mutex
	evaluations    int
	lastSimilarity float64
	generation     uint64
	persisted      bool
	final          *models.ScoreRecord
}

// New validates opts and creates an IDLE session.
func New(id string, opts Options, deps Deps) (*Session, error) {
	if id == "" {
		return nil, errors.New("session id is required")
	}
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}
	al, err := alignment.NewAligner(opts.Skeleton, opts.Extractor, opts.Alignment)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.DefaultMetrics
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	deps.Metrics.RecordSessionCreated()

	return &Session{
		id:        id,
		opts:      opts,
		deps:      deps,
		validator: schema.New(),
		log:       logging.WithSession(id, opts.ClipID),
		lifecycle: NewLifecycle(),
		aligner:   al,
		agg:       NewAggregator(),
	}, nil
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// Options returns the options the session was created with.
func (s *Session) Options() Options {
	return s.opts
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return s.lifecycle.State()
}

// Load moves IDLE → LOADING while the estimator initializes.
func (s *Session) Load() error {
	return s.apply(StateLoading, s.lifecycle.Load)
}

// MarkReady moves LOADING (or IDLE) → READY.
func (s *Session) MarkReady() error {
	return s.apply(StateReady, s.lifecycle.MarkReady)
}

// Start moves READY → ACTIVE.
func (s *Session) Start() error {
	return s.apply(StateActive, s.lifecycle.Start)
}

// Resume moves PAUSED → ACTIVE.
func (s *Session) Resume() error {
	return s.apply(StateActive, s.lifecycle.Resume)
}

// Pause moves ACTIVE → PAUSED and freezes the average.
// Under PauseClear both buffers are emptied.
func (s *Session) Pause() error {
	s.gate.Lock()
	defer s.gate.Unlock()

	prev, err := s.lifecycle.Pause()
	if err != nil {
		return err
	}
	if s.opts.PausePolicy == PauseClear {
		s.aligner.Clear()
	}
	s.recordTransition(prev, StatePaused)
	return nil
}

// Finalize moves ACTIVE or PAUSED → FINALIZED and persists the record to every
// store exactly once. Store failures are logged and do not fail the call.
func (s *Session) Finalize(ctx context.Context) (models.ScoreRecord, error) {
	s.gate.Lock()
	prev, err := s.lifecycle.Finalize()
	if err != nil {
		s.gate.Unlock()
		return models.ScoreRecord{}, err
	}
	history, avg := s.agg.Snapshot()
	rec := models.ScoreRecord{
		EventType:  models.EventTypeFinal,
		SessionID:  s.id,
		ClipID:     s.opts.ClipID,
		PlayerName: s.opts.PlayerName,
		Score:      int(math.Round(avg)),
		History:    history,
		Timestamp:  s.deps.Now().UTC().Format(time.RFC3339),
	}
	s.mu.Lock()
	s.final = &rec
	gen := s.generation
	s.mu.Unlock()
	s.recordTransition(prev, StateFinalized)
	s.gate.Unlock()

	s.deps.Metrics.RecordFinalized(rec.Score)
	s.log.Info().
		Int("score", rec.Score).
		Int("entries", len(history)).
		Msg("Session finalized")

	s.persist(ctx, rec, gen)
	return rec, nil
}

// Reset discards buffers, history and the final record and returns to IDLE.
func (s *Session) Reset() {
	s.gate.Lock()
	defer s.gate.Unlock()

	prev := s.lifecycle.Reset()
	s.aligner.Clear()
	s.agg.Reset()

	s.mu.Lock()
	s.evaluations = 0
	s.lastSimilarity = 0
	s.generation++
	s.persisted = false
	s.final = nil
	s.mu.Unlock()

	s.recordTransition(prev, StateIdle)
}

// Ingest accepts one frame for stream. When the throttle fires while ACTIVE,
// the best match is scored and the resulting tick is returned and published.
// Frames arriving while paused under PauseClear are dropped without error.
func (s *Session) Ingest(stream pose.Stream, f pose.Frame) (*models.ScoreTick, error) {
	tick, err := s.ingest(stream, f)
	if err != nil || tick == nil {
		return tick, err
	}
	s.publish(*tick)
	return tick, nil
}

func (s *Session) ingest(stream pose.Stream, f pose.Frame) (*models.ScoreTick, error) {
	s.gate.RLock()
	defer s.gate.RUnlock()

	state := s.lifecycle.State()
	switch state {
	case StateActive:
	case StatePaused:
		if s.opts.PausePolicy == PauseClear {
			s.deps.Metrics.RecordFrameDropped("paused")
			return nil, nil
		}
	case StateFinalized:
		s.deps.Metrics.RecordFrameDropped("finalized")
		return nil, ErrSessionFinalized
	default:
		s.deps.Metrics.RecordFrameDropped("not_started")
		return nil, fmt.Errorf("%w: state %s", ErrNotAccepting, state)
	}

	due, err := s.aligner.Ingest(stream, f)
	if err != nil {
		s.deps.Metrics.RecordFrameDropped("invalid")
		return nil, err
	}
	s.deps.Metrics.RecordFrame(stream.String())
	if !due || state != StateActive {
		return nil, nil
	}
	return s.evaluate(), nil
}

// evaluate runs one best-match search. Callers hold gate for reading.
func (s *Session) evaluate() *models.ScoreTick {
	start := time.Now()
	m := s.aligner.BestMatch()
	if !m.OK {
		return nil
	}
	score := s.opts.Transform.Apply(m.Similarity)
	avg := s.agg.Record(scoring.Percent(score))
	history, _ := s.agg.Snapshot()
	s.deps.Metrics.RecordEvaluation(m.Similarity, time.Since(start).Seconds())

	s.mu.Lock()
	s.evaluations++
	s.lastSimilarity = m.Similarity
	s.mu.Unlock()

	return &models.ScoreTick{
		EventType:             models.EventTypeTick,
		SessionID:             s.id,
		Sequence:              len(history),
		RawSimilarity:         m.Similarity,
		TransformedScore:      score,
		RunningAveragePercent: avg,
		History:               history,
		ReferenceAge:          m.ReferenceAge,
		LiveAge:               m.LiveAge,
		Lag:                   m.Lag(),
		Timestamp:             s.deps.Now().UnixMilli(),
	}
}

// Average returns the current running average percentage.
func (s *Session) Average() float64 {
	return s.agg.Average()
}

// History returns a copy of the score history.
func (s *Session) History() []int {
	h, _ := s.agg.Snapshot()
	return h
}

// FinalRecord returns the record produced by Finalize, if any.
func (s *Session) FinalRecord() (models.ScoreRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.final == nil {
		return models.ScoreRecord{}, false
	}
	return *s.final, true
}

// Snapshot returns an immutable view for UI polling.
func (s *Session) Snapshot() models.SessionSnapshot {
	history, avg := s.agg.Snapshot()
	s.mu.Lock()
	defer s.mu.Unlock()
	return models.SessionSnapshot{
		SessionID:             s.id,
		ClipID:                s.opts.ClipID,
		PlayerName:            s.opts.PlayerName,
		State:                 s.lifecycle.State().String(),
		RunningAveragePercent: avg,
		Score:                 int(math.Round(avg)),
		History:               history,
		ReferenceBuffered:     s.aligner.Len(pose.StreamReference),
		LiveBuffered:          s.aligner.Len(pose.StreamLive),
		Evaluations:           s.evaluations,
		LastSimilarity:        s.lastSimilarity,
		Persisted:             s.persisted,
	}
}

// --- estimator.Callback implementation ---

// OnReady is called when the estimator finished loading.
func (s *Session) OnReady() {
	if err := s.MarkReady(); err != nil {
		s.log.Warn().Err(err).Str("state", s.State().String()).Msg("OnReady ignored")
	}
}

// OnFrame feeds an estimated frame into the session.
func (s *Session) OnFrame(stream pose.Stream, f pose.Frame) {
	if _, err := s.Ingest(stream, f); err != nil {
		l := logging.WithStream(s.id, stream.String())
		if errors.Is(err, ErrNotAccepting) {
			l.Debug().Err(err).Msg("Frame ignored")
			return
		}
		l.Warn().Err(err).Msg("Frame rejected")
	}
}

// OnEnd finalizes the session when the reference clip ends.
func (s *Session) OnEnd() {
	if _, err := s.Finalize(context.Background()); err != nil {
		s.log.Warn().Err(err).Str("state", s.State().String()).Msg("OnEnd ignored")
	}
}

// OnError logs an estimator failure. The session keeps its state.
func (s *Session) OnError(err error) {
	s.deps.Metrics.RecordEstimatorError("session")
	s.log.Error().Err(err).Str("state", s.State().String()).Msg("Estimator error")
}

func (s *Session) apply(to State, fn func() (State, error)) error {
	s.gate.Lock()
	defer s.gate.Unlock()
	prev, err := fn()
	if err != nil {
		return err
	}
	s.recordTransition(prev, to)
	return nil
}

func (s *Session) recordTransition(prev, to State) {
	s.deps.Metrics.RecordTransition(to.String())
	if prev == StateActive && to != StateActive {
		s.deps.Metrics.RecordSessionActive(false)
	} else if prev != StateActive && to == StateActive {
		s.deps.Metrics.RecordSessionActive(true)
	}
	s.log.Debug().Str("from", prev.String()).Str("to", to.String()).Msg("Session transition")
}

// persist saves rec to every store. The outcome is only recorded if no Reset
// happened since gen was captured.
func (s *Session) persist(ctx context.Context, rec models.ScoreRecord, gen uint64) {
	if err := s.validator.Validate(rec); err != nil {
		s.log.Error().Err(err).Msg("Final record rejected, not persisted")
		return
	}
	ok := len(s.deps.Stores) > 0
	for _, store := range s.deps.Stores {
		err := store.SaveScore(ctx, rec)
		s.deps.Metrics.RecordScoreSave(err)
		if err != nil {
			ok = false
			s.log.Error().Err(err).Int("score", rec.Score).Msg("Failed to persist final score")
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation != gen {
		s.log.Debug().Msg("Session reset while persisting, outcome dropped")
		return
	}
	s.persisted = ok
}

func (s *Session) publish(tick models.ScoreTick) {
	ctx := context.Background()
	for _, p := range s.deps.Ticks {
		if err := p.PublishTick(ctx, tick); err != nil {
			s.log.Warn().Err(err).Int("sequence", tick.Sequence).Msg("Failed to publish tick")
		}
	}
}
