package scoring

import (
	"errors"
	"math"
	"testing"

	"github.com/lguibr/Mimeflow/internal/pose"
)

const eps = 1e-9

func fixtureFrame(phase float64) pose.Frame {
	joints := make([]pose.Joint, 33)
	for i := range joints {
		fi := float64(i)
		joints[i] = pose.Joint{
			X:          math.Cos(fi*0.7+phase) * (1 + fi*0.05),
			Y:          math.Sin(fi*0.3+phase) * (0.5 + fi*0.1),
			Z:          0.1*fi - 1.5,
			Confidence: 1,
		}
	}
	return pose.Frame{Joints: joints}
}

func mustExtractor(t *testing.T, cfg ExtractorConfig) *Extractor {
	t.Helper()
	ext, err := NewExtractor(pose.BlazePose(), cfg)
	if err != nil {
		t.Fatalf("NewExtractor: %v", err)
	}
	return ext
}

func TestNormalizer_CentersOnTorso(t *testing.T) {
	sk := pose.BlazePose()
	f := fixtureFrame(0)
	n := NewNormalizer(sk.Anchors)

	anchor, ok := n.Anchor(f)
	if !ok {
		t.Fatal("expected anchor joints to be present")
	}
	out := n.Normalize(f)
	after, _ := n.Anchor(out)
	if math.Abs(after.X) > eps || math.Abs(after.Y) > eps || math.Abs(after.Z) > eps {
		t.Errorf("expected normalized anchor at origin, got %+v", after)
	}
	if math.Abs(out.Joints[0].X-(f.Joints[0].X-anchor.X)) > eps {
		t.Errorf("expected joint 0 translated by anchor")
	}
	for i := range out.Joints {
		if out.Joints[i].Confidence != f.Joints[i].Confidence {
			t.Fatalf("joint %d confidence changed", i)
		}
	}
	if f.Joints[0].X == out.Joints[0].X && anchor.X != 0 {
		t.Error("expected input frame to stay untouched")
	}
}

func TestNormalizer_MissingAnchorIsNoTranslation(t *testing.T) {
	sk := pose.BlazePose()
	f := fixtureFrame(0.4)
	f.Joints[sk.Anchors.RightHip] = pose.Missing()

	out := NewNormalizer(sk.Anchors).Normalize(f)
	for i := range f.Joints {
		if i == sk.Anchors.RightHip {
			continue
		}
		if out.Joints[i] != f.Joints[i] {
			t.Fatalf("joint %d moved although an anchor was missing", i)
		}
	}
}

func TestExtractor_LengthIndependentOfConfidence(t *testing.T) {
	for _, v := range Variants {
		t.Run(v.String(), func(t *testing.T) {
			ext := mustExtractor(t, ExtractorConfig{Variant: v, ConfidenceGate: 0.5})

			a := fixtureFrame(0)
			b := fixtureFrame(1)
			for i := range b.Joints {
				b.Joints[i].Confidence = float64(i%4) / 4
			}
			b.Joints[5] = pose.Missing()

			fa, err := ext.Extract(a)
			if err != nil {
				t.Fatalf("extract a: %v", err)
			}
			fb, err := ext.Extract(b)
			if err != nil {
				t.Fatalf("extract b: %v", err)
			}
			if len(fa) != len(fb) || len(fa) != ext.Len() {
				t.Errorf("expected equal lengths %d, got %d and %d", ext.Len(), len(fa), len(fb))
			}
		})
	}
}

func TestExtractor_VariantLayouts(t *testing.T) {
	tests := []struct {
		variant Variant
		want    int
	}{
		{VariantPositionsOnly, 99},
		{VariantAllTriples, 99 + 2*5456},
	}
	for _, tt := range tests {
		ext := mustExtractor(t, ExtractorConfig{Variant: tt.variant, ConfidenceGate: 0.5})
		if ext.Len() != tt.want {
			t.Errorf("%s: expected length %d, got %d", tt.variant, tt.want, ext.Len())
		}
	}

	adj := mustExtractor(t, DefaultExtractorConfig())
	if adj.Len() != 99+2*len(adj.Triples()) || len(adj.Triples()) == 0 {
		t.Errorf("unexpected adjacent layout: len=%d triples=%d", adj.Len(), len(adj.Triples()))
	}
}

func TestAdjacentTriples_SortedAndConnected(t *testing.T) {
	sk := pose.BlazePose()
	adj := sk.Neighbors()
	connected := func(a, b int) bool {
		for _, n := range adj[a] {
			if n == b {
				return true
			}
		}
		return false
	}

	triples := AdjacentTriples(sk)
	seen := make(map[[3]int]bool)
	for i, tr := range triples {
		if !connected(tr[0], tr[1]) || !connected(tr[1], tr[2]) {
			t.Errorf("triple %v is not a bone path", tr)
		}
		if tr[0] >= tr[2] {
			t.Errorf("triple %v not canonical", tr)
		}
		if seen[tr] {
			t.Errorf("duplicate triple %v", tr)
		}
		seen[tr] = true
		if i > 0 {
			prev := triples[i-1]
			if prev[0] > tr[0] || (prev[0] == tr[0] && prev[1] > tr[1]) ||
				(prev[0] == tr[0] && prev[1] == tr[1] && prev[2] > tr[2]) {
				t.Errorf("triples not sorted at %d: %v before %v", i, prev, tr)
			}
		}
	}
	// shoulder(11) - elbow(13) - wrist(15)
	if !seen[[3]int{11, 13, 15}] {
		t.Error("expected left arm triple 11-13-15")
	}
}

func TestExtractor_LowConfidenceZeroed(t *testing.T) {
	ext := mustExtractor(t, DefaultExtractorConfig())
	f := fixtureFrame(0.2)
	f.Joints[7].Confidence = 0.49

	v, err := ext.Extract(f)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v[21] != 0 || v[22] != 0 || v[23] != 0 {
		t.Errorf("expected zeroed position terms for joint 7, got %v", v[21:24])
	}
	if v[0] == 0 && v[1] == 0 && v[2] == 0 {
		t.Error("expected confident joint 0 to contribute")
	}
}

func TestExtractor_AngleTriplesGateOnAverage(t *testing.T) {
	ext := mustExtractor(t, DefaultExtractorConfig())
	f := fixtureFrame(0.3)
	for _, id := range []int{11, 13, 15} {
		f.Joints[id].Confidence = 0.2
	}
	v, err := ext.Extract(f)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	base := 3 * ext.JointCount()
	for k, tr := range ext.Triples() {
		if tr == [3]int{11, 13, 15} {
			if v[base+2*k] != 0 || v[base+2*k+1] != 0 {
				t.Errorf("expected zero angle terms for low-confidence triple, got %v", v[base+2*k:base+2*k+2])
			}
			return
		}
	}
	t.Fatal("triple 11-13-15 not found")
}

func TestExtractor_Weights(t *testing.T) {
	plain := mustExtractor(t, DefaultExtractorConfig())
	cfg := DefaultExtractorConfig()
	cfg.Weights = map[int]float64{16: 2}
	weighted := mustExtractor(t, cfg)

	f := fixtureFrame(0.1)
	a, _ := plain.Extract(f)
	b, _ := weighted.Extract(f)
	if math.Abs(b[48]-2*a[48]) > eps {
		t.Errorf("expected doubled x term for joint 16: %v vs %v", b[48], a[48])
	}
	if a[0] != b[0] {
		t.Error("expected unweighted joints unchanged")
	}
}

func TestNewExtractor_RejectsBadConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  ExtractorConfig
	}{
		{"gate above one", ExtractorConfig{ConfidenceGate: 1.5}},
		{"negative gate", ExtractorConfig{ConfidenceGate: -0.1}},
		{"unknown joint weight", ExtractorConfig{ConfidenceGate: 0.5, Weights: map[int]float64{40: 1}}},
		{"negative weight", ExtractorConfig{ConfidenceGate: 0.5, Weights: map[int]float64{3: -1}}},
		{"unknown variant", ExtractorConfig{ConfidenceGate: 0.5, Variant: Variant(9)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewExtractor(pose.BlazePose(), tt.cfg); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestExtractor_JointCountMismatch(t *testing.T) {
	ext := mustExtractor(t, DefaultExtractorConfig())
	_, err := ext.Extract(pose.NewFrame(make([]pose.Joint, 17)))
	if !errors.Is(err, pose.ErrJointCountMismatch) {
		t.Errorf("expected ErrJointCountMismatch, got %v", err)
	}
}

func TestExtractor_RejectsInvalidConfidence(t *testing.T) {
	ext := mustExtractor(t, DefaultExtractorConfig())
	f := fixtureFrame(0)
	f.Joints[11].Confidence = math.NaN()
	vec, err := ext.Extract(f)
	if !errors.Is(err, pose.ErrInvalidConfidence) {
		t.Errorf("expected ErrInvalidConfidence, got %v", err)
	}
	if vec != nil {
		t.Errorf("expected no vector, got %d values", len(vec))
	}
}

func TestCosine_Properties(t *testing.T) {
	ext := mustExtractor(t, DefaultExtractorConfig())
	v, _ := ext.Extract(fixtureFrame(0.7))

	self, err := Cosine(v, v)
	if err != nil || math.Abs(self-1) > eps {
		t.Errorf("expected similarity(v,v)=1, got %v (err=%v)", self, err)
	}

	neg := make(Vector, len(v))
	for i := range v {
		neg[i] = -v[i]
	}
	opposite, _ := Cosine(v, neg)
	if math.Abs(opposite+1) > eps {
		t.Errorf("expected similarity(v,-v)=-1, got %v", opposite)
	}

	zero := make(Vector, len(v))
	z, err := Cosine(zero, v)
	if err != nil || z != 0 {
		t.Errorf("expected similarity(0,v)=0, got %v (err=%v)", z, err)
	}
	z, _ = Cosine(zero, zero)
	if z != 0 {
		t.Errorf("expected similarity(0,0)=0, got %v", z)
	}

	if _, err := Cosine(v, v[:10]); !errors.Is(err, ErrLengthMismatch) {
		t.Errorf("expected ErrLengthMismatch, got %v", err)
	}
}

func TestCosine_LowConfidenceJointsCancel(t *testing.T) {
	ext := mustExtractor(t, DefaultExtractorConfig())
	a := fixtureFrame(0.5)
	b := fixtureFrame(0.5)
	for _, id := range []int{1, 4, 8, 9, 14, 17, 20, 26, 29, 32} {
		a.Joints[id].Confidence = 0.3
		b.Joints[id].Confidence = 0.3
	}
	fa, _ := ext.Extract(a)
	fb, _ := ext.Extract(b)
	sim, _ := Cosine(fa, fb)
	if math.Abs(sim-1) > eps {
		t.Errorf("expected identical low-confidence frames to score 1, got %v", sim)
	}
}

func TestTransform(t *testing.T) {
	tr := DefaultTransform()
	if err := tr.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := tr.Apply(0.7); math.Abs(got-0.5) > 1e-6 {
		t.Errorf("expected transform(0.7)=0.5, got %v", got)
	}
	if got := tr.Apply(1.0); got < 0.95 || got >= 1 {
		t.Errorf("expected transform(1.0) close to 1, got %v", got)
	}
	if lo, hi := tr.Apply(0.6), tr.Apply(0.8); lo >= hi {
		t.Errorf("expected monotonic transform, got %v >= %v", lo, hi)
	}
	for _, s := range []float64{-1, -0.3, 0, 0.5, 1} {
		got := tr.Apply(s)
		if got < 0 || got > 1 {
			t.Errorf("transform(%v)=%v outside [0,1]", s, got)
		}
	}
}

func TestTransform_ValidateRejects(t *testing.T) {
	for _, tr := range []Transform{{Curvature: 0, MedianPoint: 0.7}, {Curvature: 5, MedianPoint: 2}, {Curvature: math.Inf(1)}} {
		if err := tr.Validate(); err == nil {
			t.Errorf("expected error for %+v", tr)
		}
	}
}

func TestPercent(t *testing.T) {
	tests := []struct {
		in   float64
		want int
	}{
		{0, 0}, {0.5, 50}, {0.954, 95}, {0.957, 96}, {1, 100}, {1.2, 100}, {-0.1, 0},
	}
	for _, tt := range tests {
		if got := Percent(tt.in); got != tt.want {
			t.Errorf("Percent(%v): expected %d, got %d", tt.in, tt.want, got)
		}
	}
}

func TestCompareVariants(t *testing.T) {
	sk := pose.BlazePose()
	got, err := CompareVariants(sk, 0.5, fixtureFrame(0), fixtureFrame(0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != len(Variants) {
		t.Fatalf("expected %d variants, got %d", len(Variants), len(got))
	}
	for v, sim := range got {
		if math.Abs(sim-1) > eps {
			t.Errorf("%s: expected 1 for identical frames, got %v", v, sim)
		}
	}
}

func TestParseVariant(t *testing.T) {
	for _, v := range Variants {
		got, err := ParseVariant(v.String())
		if err != nil || got != v {
			t.Errorf("round trip %s: got %v err=%v", v, got, err)
		}
	}
	if _, err := ParseVariant("everything"); err == nil {
		t.Error("expected error for unknown variant")
	}
}
