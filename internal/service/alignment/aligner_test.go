package alignment

import (
	"errors"
	"math"
	"testing"

	"github.com/lguibr/Mimeflow/internal/pose"
	"github.com/lguibr/Mimeflow/internal/service/scoring"
)

func danceFrame(step int) pose.Frame {
	phase := float64(step) * 0.35
	joints := make([]pose.Joint, 33)
	for i := range joints {
		fi := float64(i)
		joints[i] = pose.Joint{
			X:          math.Cos(fi*0.7+phase) * (1 + fi*0.05),
			Y:          math.Sin(fi*0.3+phase*0.5) * (0.5 + fi*0.1),
			Z:          0.05*fi + 0.2*math.Sin(phase),
			Confidence: 0.9,
		}
	}
	return pose.Frame{Joints: joints}
}

func newTestAligner(t *testing.T, cfg Config) *Aligner {
	t.Helper()
	a, err := NewAligner(pose.BlazePose(), scoring.DefaultExtractorConfig(), cfg)
	if err != nil {
		t.Fatalf("NewAligner: %v", err)
	}
	return a
}

func TestFrameBuffer_EvictsOldest(t *testing.T) {
	b := NewFrameBuffer(3)
	for i := 0; i < 5; i++ {
		b.Push(danceFrame(i), scoring.Vector{float64(i)})
		if b.Len() > b.Cap() {
			t.Fatalf("buffer grew beyond capacity: %d", b.Len())
		}
	}
	got := b.Snapshot()
	want := []int{2, 3, 4}
	if len(got) != len(want) {
		t.Fatalf("expected %d entries, got %d", len(want), len(got))
	}
	for i, step := range want {
		if got[i].Vector[0] != float64(step) {
			t.Errorf("entry %d: expected vector %v, got %v", i, step, got[i].Vector[0])
		}
		if got[i].Frame.Joints[0] != danceFrame(step).Joints[0] {
			t.Errorf("entry %d: frame does not belong to step %d", i, step)
		}
	}

	b.Clear()
	if b.Len() != 0 || len(b.Snapshot()) != 0 {
		t.Error("expected empty buffer after Clear")
	}
	b.Push(danceFrame(9), scoring.Vector{9})
	if s := b.Snapshot(); len(s) != 1 || s[0].Vector[0] != 9 || len(s[0].Frame.Joints) != 33 {
		t.Errorf("unexpected snapshot after reuse: %v", s)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"default", DefaultConfig(), false},
		{"zero capacity", Config{Capacity: 0, EvalEvery: 3}, true},
		{"negative interval", Config{Capacity: 20, EvalEvery: -1}, true},
		{"zero interval", Config{Capacity: 20, EvalEvery: 0}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestAligner_ThrottleCountsBothStreams(t *testing.T) {
	a := newTestAligner(t, DefaultConfig())
	var evals []int
	for i := 0; i < 9; i++ {
		stream := pose.StreamReference
		if i%2 == 1 {
			stream = pose.StreamLive
		}
		due, err := a.Ingest(stream, danceFrame(i))
		if err != nil {
			t.Fatalf("ingest %d: %v", i, err)
		}
		if due {
			evals = append(evals, i)
		}
	}
	want := []int{2, 5, 8}
	if len(evals) != len(want) {
		t.Fatalf("expected evaluations at %v, got %v", want, evals)
	}
	for i := range want {
		if evals[i] != want[i] {
			t.Errorf("expected evaluations at %v, got %v", want, evals)
		}
	}
}

func TestAligner_BestMatchEmpty(t *testing.T) {
	a := newTestAligner(t, DefaultConfig())
	if m := a.BestMatch(); m.OK || m.Similarity != 0 {
		t.Errorf("expected empty match, got %+v", m)
	}
	if _, err := a.Ingest(pose.StreamReference, danceFrame(0)); err != nil {
		t.Fatal(err)
	}
	if m := a.BestMatch(); m.OK {
		t.Errorf("expected no match with empty live buffer, got %+v", m)
	}
}

func TestAligner_BestMatchAtLeastLatestPair(t *testing.T) {
	a := newTestAligner(t, DefaultConfig())
	for i := 0; i < 12; i++ {
		if _, err := a.Ingest(pose.StreamReference, danceFrame(i)); err != nil {
			t.Fatal(err)
		}
		if _, err := a.Ingest(pose.StreamLive, danceFrame(i*2+1)); err != nil {
			t.Fatal(err)
		}
	}

	refs := a.buffers[pose.StreamReference].Snapshot()
	lives := a.buffers[pose.StreamLive].Snapshot()
	latest, err := scoring.Cosine(refs[len(refs)-1].Vector, lives[len(lives)-1].Vector)
	if err != nil {
		t.Fatal(err)
	}
	m := a.BestMatch()
	if !m.OK {
		t.Fatal("expected a match")
	}
	if m.Similarity < latest {
		t.Errorf("best match %v below latest pair %v", m.Similarity, latest)
	}
}

func TestAligner_AbsorbsTimingOffset(t *testing.T) {
	const offset = 5
	a := newTestAligner(t, Config{Capacity: 20, EvalEvery: 3})

	var best Match
	evals := 0
	for step := 0; step < 60+offset; step++ {
		if step < 60 {
			if due, err := a.Ingest(pose.StreamReference, danceFrame(step)); err != nil {
				t.Fatal(err)
			} else if due {
				evals++
				best = a.BestMatch()
			}
		}
		if live := step - offset; live >= 0 && live < 60 {
			if due, err := a.Ingest(pose.StreamLive, danceFrame(live)); err != nil {
				t.Fatal(err)
			} else if due {
				evals++
				best = a.BestMatch()
			}
		}
	}

	if evals != 40 {
		t.Errorf("expected 40 evaluations, got %d", evals)
	}
	if a.Len(pose.StreamReference) != 20 || a.Len(pose.StreamLive) != 20 {
		t.Errorf("expected full buffers, got %d/%d", a.Len(pose.StreamReference), a.Len(pose.StreamLive))
	}
	if math.Abs(best.Similarity-1) > 1e-9 {
		t.Errorf("expected delayed copy to reach similarity 1, got %v", best.Similarity)
	}
	if best.Lag() != 0 {
		t.Errorf("expected aligned ages once live caught up, got %+v", best)
	}
}

func TestAligner_ReportsLag(t *testing.T) {
	a := newTestAligner(t, Config{Capacity: 20, EvalEvery: 1})
	for step := 0; step < 10; step++ {
		if _, err := a.Ingest(pose.StreamReference, danceFrame(step)); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := a.Ingest(pose.StreamLive, danceFrame(6)); err != nil {
		t.Fatal(err)
	}
	m := a.BestMatch()
	if m.ReferenceAge != 3 || m.LiveAge != 0 {
		t.Errorf("expected reference age 3, got %+v", m)
	}
	if m.Lag() != 3 {
		t.Errorf("expected live to trail by 3, got %d", m.Lag())
	}
	want := danceFrame(6).Joints[5]
	if m.Reference.Joints[5] != want || m.Live.Joints[5] != want {
		t.Errorf("expected matched frames to be step 6 as received, got %+v / %+v", m.Reference.Joints[5], m.Live.Joints[5])
	}
}

func TestAligner_RejectsBadInput(t *testing.T) {
	a := newTestAligner(t, DefaultConfig())
	if _, err := a.Ingest(pose.Stream(7), danceFrame(0)); !errors.Is(err, pose.ErrUnknownStream) {
		t.Errorf("expected ErrUnknownStream, got %v", err)
	}
	if _, err := a.Ingest(pose.StreamLive, pose.NewFrame(make([]pose.Joint, 10))); !errors.Is(err, pose.ErrJointCountMismatch) {
		t.Errorf("expected ErrJointCountMismatch, got %v", err)
	}
	if a.Len(pose.StreamLive) != 0 {
		t.Error("rejected frame must not be buffered")
	}

	if _, err := NewAligner(pose.BlazePose(), scoring.DefaultExtractorConfig(), Config{}); err == nil {
		t.Error("expected error for zero config")
	}
}

func TestAligner_Clear(t *testing.T) {
	a := newTestAligner(t, DefaultConfig())
	_, _ = a.Ingest(pose.StreamReference, danceFrame(0))
	_, _ = a.Ingest(pose.StreamLive, danceFrame(0))
	a.Clear()
	if a.Len(pose.StreamReference) != 0 || a.Len(pose.StreamLive) != 0 {
		t.Error("expected empty buffers after Clear")
	}
	due, _ := a.Ingest(pose.StreamLive, danceFrame(1))
	if due {
		t.Error("expected counter reset by Clear")
	}
}
