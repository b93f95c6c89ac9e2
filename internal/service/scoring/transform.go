package scoring

import (
	"fmt"
	"math"
)

// Transform remaps raw cosine similarity onto a perceptually balanced [0,1] score.
// Similarity near MedianPoint maps to 0.5; Curvature controls the slope.
type Transform struct {
	Curvature   float64
	MedianPoint float64
}

// DefaultTransform returns curvature 5 centered at 0.7.
func DefaultTransform() Transform {
	return Transform{Curvature: 5, MedianPoint: 0.7}
}

// Validate rejects non-finite or non-positive curvature and out-of-range medians.
func (t Transform) Validate() error {
	if math.IsNaN(t.Curvature) || math.IsInf(t.Curvature, 0) || t.Curvature <= 0 {
		return fmt.Errorf("sigmoid curvature must be a positive finite number, got %v", t.Curvature)
	}
	if math.IsNaN(t.MedianPoint) || t.MedianPoint < -1 || t.MedianPoint > 1 {
		return fmt.Errorf("sigmoid median point must be within [-1,1], got %v", t.MedianPoint)
	}
	return nil
}

// Apply maps a similarity in [-1,1] to a score in [0,1].
func (t Transform) Apply(similarity float64) float64 {
	return Sigmoid(similarity, t.Curvature, t.MedianPoint)
}

// Sigmoid computes 1 / (1 + exp(-k·(x' - 0.5))) with x' = 2(s - m) + 0.5.
func Sigmoid(similarity, curvature, medianPoint float64) float64 {
	adjusted := 2*(similarity-medianPoint) + 0.5
	return 1 / (1 + math.Exp(-curvature*(adjusted-0.5)))
}

// Percent rounds a [0,1] score to an integer percentage in [0,100].
func Percent(score float64) int {
	p := int(math.Round(score * 100))
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
