// Package mock provides a synthetic pose estimator for running sessions
// without cameras or models. It plays an arm-wave choreography on the
// reference stream and a delayed, noisy copy of it on the live stream.
package mock

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/lguibr/Mimeflow/internal/pose"
	"github.com/lguibr/Mimeflow/internal/service/estimator"
)

// Config controls the synthetic streams.
type Config struct {
	LoadDelay   time.Duration // simulated model load before OnReady
	FrameRate   float64       // frames per second per stream
	Frames      int           // reference frames before OnEnd; 0 runs until Close
	LiveLag     int           // live stream trails the reference by this many frames
	Jitter      float64       // uniform positional noise added to live joints
	DropoutRate float64       // probability a live joint is reported missing
	Seed        int64
}

// DefaultConfig returns a 30 fps, 10 second clip with a slightly late, noisy user.
func DefaultConfig() Config {
	return Config{
		LoadDelay:   200 * time.Millisecond,
		FrameRate:   30,
		Frames:      300,
		LiveLag:     4,
		Jitter:      0.02,
		DropoutRate: 0.02,
		Seed:        1,
	}
}

// ErrAlreadyStarted is returned when Start is called twice.
var ErrAlreadyStarted = errors.New("mock estimator already started")

// Estimator implements estimator.Estimator with generated frames.
type Estimator struct {
	cfg Config

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
	closed  bool
}

// New creates a synthetic estimator.
func New(cfg Config) *Estimator {
	if cfg.FrameRate <= 0 {
		cfg.FrameRate = 30
	}
	return &Estimator{cfg: cfg}
}

// Start launches the generator goroutine.
func (e *Estimator) Start(ctx context.Context, cb estimator.Callback) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return ErrAlreadyStarted
	}
	e.started = true

	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.done = make(chan struct{})
	go e.run(ctx, cb)
	return nil
}

// Close stops the generator and waits for it to exit.
func (e *Estimator) Close() error {
	e.mu.Lock()
	if e.closed || !e.started {
		e.closed = true
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	cancel, done := e.cancel, e.done
	e.mu.Unlock()

	cancel()
	<-done
	return nil
}

func (e *Estimator) run(ctx context.Context, cb estimator.Callback) {
	defer close(e.done)

	if e.cfg.LoadDelay > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(e.cfg.LoadDelay):
		}
	}
	cb.OnReady()

	rng := rand.New(rand.NewSource(e.cfg.Seed))
	interval := time.Duration(float64(time.Second) / e.cfg.FrameRate)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for step := 0; ; step++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if e.cfg.Frames == 0 || step < e.cfg.Frames {
			cb.OnFrame(pose.StreamReference, Choreography(step, e.cfg.FrameRate))
		}
		if live := step - e.cfg.LiveLag; live >= 0 && (e.cfg.Frames == 0 || live < e.cfg.Frames) {
			cb.OnFrame(pose.StreamLive, Perturb(Choreography(live, e.cfg.FrameRate), rng, e.cfg.Jitter, e.cfg.DropoutRate))
		}
		if e.cfg.Frames > 0 && step-e.cfg.LiveLag >= e.cfg.Frames-1 {
			cb.OnEnd()
			return
		}
	}
}

// restPose is a standing BlazePose skeleton, y pointing down, roughly one unit tall.
var restPose = [33][3]float64{
	{0, -0.62, -0.05},                                   // nose
	{-0.02, -0.65, -0.04}, {-0.03, -0.65, -0.04}, {-0.04, -0.65, -0.04}, // left eye
	{0.02, -0.65, -0.04}, {0.03, -0.65, -0.04}, {0.04, -0.65, -0.04}, // right eye
	{-0.07, -0.63, 0}, {0.07, -0.63, 0}, // ears
	{-0.02, -0.58, -0.04}, {0.02, -0.58, -0.04}, // mouth
	{-0.18, -0.45, 0}, {0.18, -0.45, 0}, // shoulders
	{-0.32, -0.25, 0}, {0.32, -0.25, 0}, // elbows
	{-0.4, -0.03, 0}, {0.4, -0.03, 0}, // wrists
	{-0.43, 0.02, 0}, {0.43, 0.02, 0}, // pinkies
	{-0.42, 0.03, -0.01}, {0.42, 0.03, -0.01}, // index fingers
	{-0.39, 0.01, -0.02}, {0.39, 0.01, -0.02}, // thumbs
	{-0.1, 0.05, 0}, {0.1, 0.05, 0}, // hips
	{-0.11, 0.45, 0}, {0.11, 0.45, 0}, // knees
	{-0.11, 0.85, 0.02}, {0.11, 0.85, 0.02}, // ankles
	{-0.11, 0.89, 0.05}, {0.11, 0.89, 0.05}, // heels
	{-0.12, 0.9, -0.06}, {0.12, 0.9, -0.06}, // foot index
}

// Choreography returns the reference frame at step for a clip sampled at fps.
// Both arms wave in mirrored half-second sweeps while the body sways.
func Choreography(step int, fps float64) pose.Frame {
	if fps <= 0 {
		fps = 30
	}
	t := float64(step) / fps
	swing := 1.1 * math.Sin(2*math.Pi*0.5*t)
	sway := 0.04 * math.Sin(2*math.Pi*0.25*t)
	bend := 0.05 * (1 - math.Cos(2*math.Pi*0.5*t))

	joints := make([]pose.Joint, len(restPose))
	for i, p := range restPose {
		joints[i] = pose.Joint{X: p[0], Y: p[1], Z: p[2], Confidence: 0.95}
	}

	waveArm(joints, 11, 13, 15, []int{17, 19, 21}, -swing)
	waveArm(joints, 12, 14, 16, []int{18, 20, 22}, swing)

	for _, id := range []int{25, 26} {
		joints[id].Z -= bend
	}
	for i := range joints {
		joints[i].X += sway
		if i <= 24 {
			joints[i].Y += bend
		}
	}
	return pose.Frame{Joints: joints}
}

// waveArm rotates the elbow about the shoulder by angle, and the forearm by twice that.
func waveArm(j []pose.Joint, shoulder, elbow, wrist int, hand []int, angle float64) {
	s := j[shoulder]
	e0, w0 := j[elbow], j[wrist]

	e := rotate(e0, s, angle)
	w := rotate(translate(w0, e0, e), e, angle)
	j[elbow] = e
	j[wrist] = w
	for _, h := range hand {
		j[h] = rotate(translate(j[h], w0, w), w, 2*angle)
	}
}

// rotate turns p about c in the image (x,y) plane.
func rotate(p, c pose.Joint, angle float64) pose.Joint {
	sin, cos := math.Sincos(angle)
	dx, dy := p.X-c.X, p.Y-c.Y
	return pose.Joint{
		X:          c.X + dx*cos - dy*sin,
		Y:          c.Y + dx*sin + dy*cos,
		Z:          p.Z,
		Confidence: p.Confidence,
	}
}

// translate moves p by the displacement from → to.
func translate(p, from, to pose.Joint) pose.Joint {
	return pose.Joint{X: p.X + to.X - from.X, Y: p.Y + to.Y - from.Y, Z: p.Z + to.Z - from.Z, Confidence: p.Confidence}
}

// Perturb returns a copy of f with uniform positional noise and random dropouts.
// Dropped joints are reported missing; face joints lose confidence instead.
func Perturb(f pose.Frame, rng *rand.Rand, jitter, dropout float64) pose.Frame {
	out := pose.NewFrame(f.Joints)
	for i := range out.Joints {
		if dropout > 0 && rng.Float64() < dropout {
			if i <= 10 {
				out.Joints[i].Confidence = 0.2
			} else {
				out.Joints[i] = pose.Missing()
			}
			continue
		}
		if jitter > 0 {
			out.Joints[i].X += (rng.Float64()*2 - 1) * jitter
			out.Joints[i].Y += (rng.Float64()*2 - 1) * jitter
			out.Joints[i].Z += (rng.Float64()*2 - 1) * jitter
		}
	}
	return out
}
