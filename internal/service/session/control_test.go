package session

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/lguibr/Mimeflow/internal/models"
	"github.com/lguibr/Mimeflow/internal/pose"
	"github.com/lguibr/Mimeflow/internal/service/estimator"
	"github.com/lguibr/Mimeflow/internal/service/estimator/mock"
	"github.com/lguibr/Mimeflow/internal/service/scoring"
)

func TestParseAction(t *testing.T) {
	tests := []struct {
		in      string
		want    Action
		wantErr bool
	}{
		{"start", ActionStart, false},
		{" PAUSE ", ActionPause, false},
		{"stop", ActionFinalize, false},
		{"end", ActionFinalize, false},
		{"reset", ActionReset, false},
		{"rewind", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAction(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrUnknownAction) {
					t.Errorf("expected ErrUnknownAction, got %v", err)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Errorf("ParseAction(%q) = %v, %v; want %v", tt.in, got, err, tt.want)
			}
		})
	}
}

func TestSession_Control(t *testing.T) {
	store := &fakeStore{}
	s, err := New("session-c", DefaultOptions(), testDeps(store))
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	for _, a := range []Action{ActionLoad, ActionReady, ActionStart, ActionPause, ActionResume} {
		if rec, err := s.Control(ctx, a); err != nil || rec != nil {
			t.Fatalf("%s: rec=%v err=%v", a, rec, err)
		}
	}
	if s.State() != StateActive {
		t.Fatalf("expected ACTIVE, got %v", s.State())
	}
	feed(t, s, 0, 6)

	rec, err := s.Control(ctx, ActionFinalize)
	if err != nil || rec == nil {
		t.Fatalf("finalize: rec=%v err=%v", rec, err)
	}
	if rec.SessionID != "session-c" || len(rec.History) == 0 {
		t.Errorf("unexpected record %+v", rec)
	}
	if _, err := s.Control(ctx, ActionStart); !IsConflict(err) {
		t.Errorf("expected conflict after finalize, got %v", err)
	}
	if _, err := s.Control(ctx, Action("jump")); !IsClientError(err) {
		t.Errorf("expected client error, got %v", err)
	}
	if _, err := s.Control(ctx, ActionReset); err != nil || s.State() != StateIdle {
		t.Errorf("reset: state=%v err=%v", s.State(), err)
	}
}

func TestOptions_Apply(t *testing.T) {
	base := DefaultOptions()
	base.ClipID = "clip"

	got, err := base.Apply(Overrides{PlayerName: "ana", Variant: "positions", PausePolicy: "retain"})
	if err != nil {
		t.Fatal(err)
	}
	if got.ClipID != "clip" || got.PlayerName != "ana" {
		t.Errorf("unexpected identity %q %q", got.ClipID, got.PlayerName)
	}
	if got.Extractor.Variant != scoring.VariantPositionsOnly || got.PausePolicy != PauseRetain {
		t.Errorf("overrides not applied: %+v", got)
	}
	if base.PausePolicy != PauseClear {
		t.Error("Apply must not modify the receiver")
	}

	for _, ov := range []Overrides{{Variant: "wavelets"}, {PausePolicy: "freeze"}} {
		if _, err := base.Apply(ov); !errors.Is(err, ErrInvalidOptions) {
			t.Errorf("Apply(%+v): expected ErrInvalidOptions, got %v", ov, err)
		}
	}
}

func TestErrorClassification(t *testing.T) {
	s := newActiveSession(t, DefaultOptions(), testDeps())
	_, err := s.Ingest(pose.StreamLive, pose.NewFrame(make([]pose.Joint, 5)))
	if !IsClientError(err) || IsConflict(err) {
		t.Errorf("joint count mismatch should be a client error, got %v", err)
	}

	bad := DefaultOptions()
	bad.Transform.Curvature = 0
	if _, err := New("x", bad, testDeps()); !IsClientError(err) {
		t.Errorf("invalid options should be a client error, got %v", err)
	}

	idle, _ := New("y", DefaultOptions(), testDeps())
	if _, err := idle.Ingest(pose.StreamLive, mock.Choreography(0, 30)); !IsConflict(err) {
		t.Errorf("ingest while idle should be a conflict, got %v", err)
	}
}

func TestRegistry_AttachDrivesSession(t *testing.T) {
	store := &fakeStore{}
	r := NewRegistry(testDeps(store))
	s, err := r.Create(DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}

	est := mock.New(mock.Config{FrameRate: 500, Frames: 30, LiveLag: 2, Seed: 3})
	if err := r.Attach(context.Background(), s.ID(), est, true); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if err := r.Attach(context.Background(), s.ID(), mock.New(mock.DefaultConfig()), true); err == nil {
		t.Error("expected error attaching a second estimator")
	}

	deadline := time.Now().Add(5 * time.Second)
	for s.State() != StateFinalized {
		if time.Now().After(deadline) {
			t.Fatalf("session did not finalize, state %v", s.State())
		}
		time.Sleep(10 * time.Millisecond)
	}
	if store.count() != 1 {
		t.Errorf("expected one persisted record, got %d", store.count())
	}
	if len(s.History()) == 0 {
		t.Error("expected history from estimator frames")
	}
	if err := r.Remove(s.ID()); err != nil {
		t.Errorf("Remove: %v", err)
	}
}

func TestRegistry_AttachUnknownSession(t *testing.T) {
	r := NewRegistry(testDeps())
	if err := r.Attach(context.Background(), "nope", mock.New(mock.DefaultConfig()), false); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
	if err := r.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestRegistry_Launch(t *testing.T) {
	r := NewRegistry(testDeps())
	factory := func(provider string) (estimator.Estimator, error) {
		if provider != "mock" {
			return nil, estimator.ErrUnknownProvider
		}
		return mock.New(mock.Config{LoadDelay: time.Hour}), nil
	}

	s, err := r.Launch(context.Background(), DefaultOptions(), Overrides{PlayerName: "bo"}, factory, "", false)
	if err != nil {
		t.Fatal(err)
	}
	if s.State() != StateIdle || s.Options().PlayerName != "bo" {
		t.Errorf("unexpected session state=%v opts=%+v", s.State(), s.Options())
	}

	driven, err := r.Launch(context.Background(), DefaultOptions(), Overrides{}, factory, "mock", true)
	if err != nil {
		t.Fatal(err)
	}
	if driven.State() != StateLoading {
		t.Errorf("expected LOADING while the estimator loads, got %v", driven.State())
	}

	if _, err := r.Launch(context.Background(), DefaultOptions(), Overrides{}, factory, "camera", true); !IsClientError(err) {
		t.Errorf("expected client error for unknown provider, got %v", err)
	}
	if _, err := r.Launch(context.Background(), DefaultOptions(), Overrides{}, nil, "mock", true); !IsClientError(err) {
		t.Errorf("expected client error without a factory, got %v", err)
	}
	if r.Len() != 2 {
		t.Errorf("expected 2 sessions, got %d", r.Len())
	}
	if err := r.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

// failingEstimator fails to start and records whether it was closed.
type failingEstimator struct {
	closed int
}

func (f *failingEstimator) Start(ctx context.Context, cb estimator.Callback) error {
	return errors.New("camera busy")
}

func (f *failingEstimator) Close() error {
	f.closed++
	return nil
}

func TestRegistry_LaunchClosesEstimatorOnStartFailure(t *testing.T) {
	r := NewRegistry(testDeps())
	est := &failingEstimator{}
	factory := func(provider string) (estimator.Estimator, error) {
		return est, nil
	}

	if _, err := r.Launch(context.Background(), DefaultOptions(), Overrides{}, factory, "replay:take.cbor", true); err == nil {
		t.Fatal("expected start failure")
	}
	if est.closed != 1 {
		t.Errorf("expected estimator closed once, got %d", est.closed)
	}
	if r.Len() != 0 {
		t.Errorf("expected failed session removed, got %d sessions", r.Len())
	}
}

func TestRegistry_Ingest(t *testing.T) {
	r := NewRegistry(testDeps())
	s, _ := r.Create(DefaultOptions())
	_ = s.MarkReady()
	_ = s.Start()

	var ticks int
	for step := 0; step < 3; step++ {
		f := mock.Choreography(step, 30)
		for _, stream := range []pose.Stream{pose.StreamReference, pose.StreamLive} {
			tick, err := r.Ingest(s.ID(), models.NewFrameMessage(s.ID(), stream, int64(step), 0, f))
			if err != nil {
				t.Fatalf("step %d: %v", step, err)
			}
			if tick != nil {
				ticks++
			}
		}
	}
	if ticks != 2 {
		t.Errorf("expected 2 ticks from 6 frames, got %d", ticks)
	}

	msg := models.NewFrameMessage(s.ID(), pose.StreamLive, 0, 0, mock.Choreography(0, 30))
	if _, err := r.Ingest("missing", msg); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
	msg.Stream = "sideways"
	if _, err := r.Ingest(s.ID(), msg); !IsClientError(err) {
		t.Errorf("expected client error for unknown stream, got %v", err)
	}

	before := s.Snapshot().LiveBuffered
	bad := models.NewFrameMessage(s.ID(), pose.StreamLive, 9, 0, mock.Choreography(3, 30))
	bad.Joints[0].Confidence = math.NaN()
	if _, err := r.Ingest(s.ID(), bad); !errors.Is(err, pose.ErrInvalidConfidence) || !IsClientError(err) {
		t.Errorf("expected client error for NaN confidence, got %v", err)
	}
	if got := s.Snapshot().LiveBuffered; got != before {
		t.Errorf("rejected frame was buffered: %d -> %d", before, got)
	}
}
