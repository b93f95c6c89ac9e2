package scoring

import (
	"errors"
	"fmt"
	"math"

	"github.com/lguibr/Mimeflow/internal/pose"
)

// ErrLengthMismatch is returned when two vectors of different layouts are compared.
var ErrLengthMismatch = errors.New("feature vector length mismatch")

// Cosine returns dot(a,b) / (|a|·|b|), clamped to [-1,1].
// A zero vector on either side yields 0.
func Cosine(a, b Vector) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d", ErrLengthMismatch, len(a), len(b))
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0, nil
	}
	sim := dot / math.Sqrt(na*nb)
	switch {
	case math.IsNaN(sim):
		return 0, nil
	case sim > 1:
		return 1, nil
	case sim < -1:
		return -1, nil
	}
	return sim, nil
}

// CompareVariants scores the same frame pair under every feature variant.
// Frames are normalized first, as in live scoring.
func CompareVariants(sk pose.Skeleton, gate float64, a, b pose.Frame) (map[Variant]float64, error) {
	norm := NewNormalizer(sk.Anchors)
	na, nb := norm.Normalize(a), norm.Normalize(b)

	out := make(map[Variant]float64, len(Variants))
	for _, v := range Variants {
		ext, err := NewExtractor(sk, ExtractorConfig{Variant: v, ConfidenceGate: gate})
		if err != nil {
			return nil, err
		}
		fa, err := ext.Extract(na)
		if err != nil {
			return nil, err
		}
		fb, err := ext.Extract(nb)
		if err != nil {
			return nil, err
		}
		sim, err := Cosine(fa, fb)
		if err != nil {
			return nil, err
		}
		out[v] = sim
	}
	return out, nil
}
