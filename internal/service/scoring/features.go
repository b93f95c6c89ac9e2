package scoring

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/lguibr/Mimeflow/internal/pose"
)

// Variant selects which terms a feature vector carries.
type Variant int

const (
	// VariantAdjacentAngles emits positions plus angles between adjacent bones.
	VariantAdjacentAngles Variant = iota
	// VariantPositionsOnly emits only the weighted joint positions.
	VariantPositionsOnly
	// VariantAllTriples emits positions plus angles for every joint triple.
	VariantAllTriples
)

// Variants lists every supported variant in a stable order.
var Variants = []Variant{VariantAdjacentAngles, VariantPositionsOnly, VariantAllTriples}

// String returns the configuration name of the variant.
func (v Variant) String() string {
	switch v {
	case VariantAdjacentAngles:
		return "adjacent"
	case VariantPositionsOnly:
		return "positions"
	case VariantAllTriples:
		return "all-triples"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(v))
	}
}

// ParseVariant maps a configuration name to a Variant.
func ParseVariant(name string) (Variant, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "adjacent", "positions-and-adjacent-angles":
		return VariantAdjacentAngles, nil
	case "positions", "positions-only", "no-angles":
		return VariantPositionsOnly, nil
	case "all-triples", "positions-and-all-triples", "all-permutations":
		return VariantAllTriples, nil
	default:
		return 0, fmt.Errorf("unknown feature variant %q", name)
	}
}

// Vector is a flattened weighted representation of a frame. Treat as read-only.
type Vector []float64

// ExtractorConfig holds the tunable parts of feature extraction.
type ExtractorConfig struct {
	Variant        Variant
	ConfidenceGate float64         // joints and triples below this confidence contribute zeros
	Weights        map[int]float64 // per-joint position multiplier, default 1
}

// DefaultExtractorConfig returns adjacent-angle features gated at 0.5.
func DefaultExtractorConfig() ExtractorConfig {
	return ExtractorConfig{
		Variant:        VariantAdjacentAngles,
		ConfidenceGate: 0.5,
	}
}

// Extractor builds fixed-length feature vectors for one skeleton topology.
// Its layout is 3N position terms followed by 2T angle terms.
type Extractor struct {
	cfg        ExtractorConfig
	jointCount int
	weights    []float64
	triples    [][3]int
}

// NewExtractor derives the angle triples once and validates the configuration.
func NewExtractor(sk pose.Skeleton, cfg ExtractorConfig) (*Extractor, error) {
	if err := sk.Validate(); err != nil {
		return nil, fmt.Errorf("invalid skeleton: %w", err)
	}
	if cfg.ConfidenceGate < 0 || cfg.ConfidenceGate > 1 || math.IsNaN(cfg.ConfidenceGate) {
		return nil, fmt.Errorf("confidence gate must be within [0,1], got %v", cfg.ConfidenceGate)
	}

	n := sk.JointCount()
	weights := make([]float64, n)
	for i := range weights {
		weights[i] = 1
	}
	for id, w := range cfg.Weights {
		if id < 0 || id >= n {
			return nil, fmt.Errorf("weight for joint %d outside [0,%d)", id, n)
		}
		if w < 0 || math.IsNaN(w) || math.IsInf(w, 0) {
			return nil, fmt.Errorf("weight for joint %d must be a finite non-negative number, got %v", id, w)
		}
		weights[id] = w
	}

	var triples [][3]int
	switch cfg.Variant {
	case VariantAdjacentAngles:
		triples = AdjacentTriples(sk)
	case VariantPositionsOnly:
	case VariantAllTriples:
		triples = AllTriples(n)
	default:
		return nil, fmt.Errorf("unknown feature variant %v", cfg.Variant)
	}

	return &Extractor{
		cfg:        cfg,
		jointCount: n,
		weights:    weights,
		triples:    triples,
	}, nil
}

// Len returns the deterministic vector length 3N + 2T.
func (e *Extractor) Len() int {
	return 3*e.jointCount + 2*len(e.triples)
}

// JointCount returns N.
func (e *Extractor) JointCount() int {
	return e.jointCount
}

// Variant returns the configured variant.
func (e *Extractor) Variant() Variant {
	return e.cfg.Variant
}

// Triples returns a copy of the sorted angle triples.
func (e *Extractor) Triples() [][3]int {
	out := make([][3]int, len(e.triples))
	copy(out, e.triples)
	return out
}

// Extract converts a (normalized) frame into its feature vector.
// Low-confidence joints are zeroed rather than dropped so vectors stay comparable.
func (e *Extractor) Extract(f pose.Frame) (Vector, error) {
	if err := f.CheckJointCount(e.jointCount); err != nil {
		return nil, err
	}
	if err := f.CheckConfidence(); err != nil {
		return nil, err
	}

	gate := e.cfg.ConfidenceGate
	out := make(Vector, e.Len())
	for i, j := range f.Joints {
		if !j.Present() || j.Confidence < gate {
			continue
		}
		s := j.Confidence * e.weights[i]
		out[3*i] = j.X * s
		out[3*i+1] = j.Y * s
		out[3*i+2] = j.Z * s
	}

	base := 3 * e.jointCount
	for k, t := range e.triples {
		a, b, c := f.Joints[t[0]], f.Joints[t[1]], f.Joints[t[2]]
		if !a.Present() || !b.Present() || !c.Present() {
			continue
		}
		avg := (a.Confidence + b.Confidence + c.Confidence) / 3
		if avg < gate {
			continue
		}
		dTheta, dPhi := angleDelta(a, b, c, avg)
		out[base+2*k] = dTheta * avg
		out[base+2*k+1] = dPhi * avg
	}
	return out, nil
}

// angleDelta compares the spherical direction of bone a→b with bone b→c.
func angleDelta(a, b, c pose.Joint, scale float64) (float64, float64) {
	v1 := b.Sub(a)
	v2 := c.Sub(b)
	t1, p1 := spherical(v1.X*scale, v1.Y*scale, v1.Z*scale)
	t2, p2 := spherical(v2.X*scale, v2.Y*scale, v2.Z*scale)
	return math.Abs(t1 - t2), math.Abs(p1 - p2)
}

// spherical returns the polar angle θ = acos(z/r) and azimuth φ = atan2(y,x).
// A zero-length vector maps to (0,0).
func spherical(x, y, z float64) (theta, phi float64) {
	r := math.Sqrt(x*x + y*y + z*z)
	if r == 0 {
		return 0, 0
	}
	cos := z / r
	if cos > 1 {
		cos = 1
	} else if cos < -1 {
		cos = -1
	}
	return math.Acos(cos), math.Atan2(y, x)
}

// AdjacentTriples returns every (a,b,c) with bones a-b and b-c, a < c,
// sorted lexicographically.
func AdjacentTriples(sk pose.Skeleton) [][3]int {
	adj := sk.Neighbors()
	var out [][3]int
	for b, ns := range adj {
		for i := 0; i < len(ns); i++ {
			for k := i + 1; k < len(ns); k++ {
				out = append(out, [3]int{ns[i], b, ns[k]})
			}
		}
	}
	sortTriples(out)
	return out
}

// AllTriples returns every combination a < b < c over n joints.
func AllTriples(n int) [][3]int {
	var out [][3]int
	for a := 0; a < n; a++ {
		for b := a + 1; b < n; b++ {
			for c := b + 1; c < n; c++ {
				out = append(out, [3]int{a, b, c})
			}
		}
	}
	return out
}

func sortTriples(ts [][3]int) {
	sort.Slice(ts, func(i, j int) bool {
		for k := 0; k < 3; k++ {
			if ts[i][k] != ts[j][k] {
				return ts[i][k] < ts[j][k]
			}
		}
		return false
	})
}
