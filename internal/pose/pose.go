// Package pose defines the keypoint data model shared by the scoring engine:
// joints, frames, the two scored streams and the skeleton topology.
package pose

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// Joint is a single tracked landmark in stream-native units.
// Confidence is the estimator's visibility score in [0,1].
type Joint struct {
	X          float64 `json:"x" cbor:"x"`
	Y          float64 `json:"y" cbor:"y"`
	Z          float64 `json:"z" cbor:"z"`
	Confidence float64 `json:"confidence" cbor:"confidence"`
}

// Missing returns the placeholder used for a joint the estimator did not report.
func Missing() Joint {
	nan := math.NaN()
	return Joint{X: nan, Y: nan, Z: nan}
}

// Present reports whether the joint carries a usable position.
func (j Joint) Present() bool {
	return !math.IsNaN(j.X) && !math.IsNaN(j.Y) && !math.IsNaN(j.Z) &&
		!math.IsInf(j.X, 0) && !math.IsInf(j.Y, 0) && !math.IsInf(j.Z, 0)
}

// Sub returns the component-wise difference j - o. Confidence is kept from j.
func (j Joint) Sub(o Joint) Joint {
	return Joint{X: j.X - o.X, Y: j.Y - o.Y, Z: j.Z - o.Z, Confidence: j.Confidence}
}

// Frame is one fixed-topology skeleton snapshot, indexed by joint id.
// Frames are treated as immutable once produced.
type Frame struct {
	Joints []Joint `json:"joints" cbor:"joints"`
}

// NewFrame copies joints into a new Frame.
func NewFrame(joints []Joint) Frame {
	out := make([]Joint, len(joints))
	copy(out, joints)
	return Frame{Joints: out}
}

// Len returns the number of joints in the frame.
func (f Frame) Len() int {
	return len(f.Joints)
}

// Joint returns the joint at id and whether it exists and is present.
func (f Frame) Joint(id int) (Joint, bool) {
	if id < 0 || id >= len(f.Joints) {
		return Joint{}, false
	}
	j := f.Joints[id]
	return j, j.Present()
}

// ErrJointCountMismatch is returned when a frame does not match the session topology.
var ErrJointCountMismatch = errors.New("joint count mismatch")

// CheckJointCount fails fast when a frame has a different joint count than expected.
func (f Frame) CheckJointCount(expected int) error {
	if len(f.Joints) != expected {
		return fmt.Errorf("%w: frame has %d joints, expected %d", ErrJointCountMismatch, len(f.Joints), expected)
	}
	return nil
}

// ErrInvalidConfidence is returned when a joint confidence is not a finite value in [0,1].
var ErrInvalidConfidence = errors.New("invalid joint confidence")

// CheckConfidence rejects a frame carrying a confidence that is NaN, infinite
// or outside [0,1].
func (f Frame) CheckConfidence() error {
	for i, j := range f.Joints {
		if !(j.Confidence >= 0 && j.Confidence <= 1) {
			return fmt.Errorf("%w: joint %d has confidence %v", ErrInvalidConfidence, i, j.Confidence)
		}
	}
	return nil
}

// Stream identifies which of the two scored keypoint streams a frame belongs to.
type Stream int

const (
	// StreamReference is the performer in the reference clip.
	StreamReference Stream = iota
	// StreamLive is the user in front of the camera.
	StreamLive
)

// ErrUnknownStream is returned when a stream name cannot be parsed.
var ErrUnknownStream = errors.New("unknown stream")

// String returns the wire name of the stream.
func (s Stream) String() string {
	switch s {
	case StreamReference:
		return "reference"
	case StreamLive:
		return "live"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(s))
	}
}

// ParseStream maps a wire name to a Stream. "video" and "webcam" are accepted
// as aliases for the reference and live streams.
func ParseStream(name string) (Stream, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "reference", "video", "ref":
		return StreamReference, nil
	case "live", "webcam", "user":
		return StreamLive, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownStream, name)
	}
}
