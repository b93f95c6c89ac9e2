// Package scoring turns pose frames into comparable feature vectors and
// similarity values into perceptual scores.
package scoring

import "github.com/lguibr/Mimeflow/internal/pose"

// Normalizer centers frames on the torso midpoint.
//
// No scale normalization is applied: absolute limb lengths still influence
// similarity. Rendering code elsewhere divides by shoulder width; scoring does not.
type Normalizer struct {
	anchors pose.Anchors
}

// NewNormalizer creates a normalizer for the given anchor joints.
func NewNormalizer(anchors pose.Anchors) *Normalizer {
	return &Normalizer{anchors: anchors}
}

// Anchor returns the torso midpoint of f and whether all four anchor joints were present.
// When any anchor is missing the origin is returned.
func (n *Normalizer) Anchor(f pose.Frame) (pose.Joint, bool) {
	ls, ok1 := f.Joint(n.anchors.LeftShoulder)
	rs, ok2 := f.Joint(n.anchors.RightShoulder)
	lh, ok3 := f.Joint(n.anchors.LeftHip)
	rh, ok4 := f.Joint(n.anchors.RightHip)
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return pose.Joint{}, false
	}
	return midpoint(midpoint(ls, rs), midpoint(lh, rh)), true
}

// Normalize returns a copy of f translated so the torso anchor sits at the origin.
// Confidence values are untouched.
func (n *Normalizer) Normalize(f pose.Frame) pose.Frame {
	anchor, _ := n.Anchor(f)
	out := make([]pose.Joint, len(f.Joints))
	for i, j := range f.Joints {
		out[i] = pose.Joint{
			X:          j.X - anchor.X,
			Y:          j.Y - anchor.Y,
			Z:          j.Z - anchor.Z,
			Confidence: j.Confidence,
		}
	}
	return pose.Frame{Joints: out}
}

func midpoint(a, b pose.Joint) pose.Joint {
	return pose.Joint{
		X: (a.X + b.X) / 2,
		Y: (a.Y + b.Y) / 2,
		Z: (a.Z + b.Z) / 2,
	}
}
