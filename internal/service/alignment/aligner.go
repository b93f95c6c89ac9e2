package alignment

import (
	"fmt"
	"sync"

	"github.com/lguibr/Mimeflow/internal/pose"
	"github.com/lguibr/Mimeflow/internal/service/scoring"
)

// Config controls buffering and evaluation cadence.
type Config struct {
	Capacity  int // frames kept per stream
	EvalEvery int // evaluate once per this many ingested frames, both streams combined
}

// DefaultConfig returns a 20-frame window evaluated every third frame.
func DefaultConfig() Config {
	return Config{Capacity: 20, EvalEvery: 3}
}

// Validate rejects non-positive values.
func (c Config) Validate() error {
	if c.Capacity <= 0 {
		return fmt.Errorf("buffer capacity must be positive, got %d", c.Capacity)
	}
	if c.EvalEvery <= 0 {
		return fmt.Errorf("evaluation interval must be positive, got %d", c.EvalEvery)
	}
	return nil
}

// Match is the outcome of a best-match search.
// Ages count frames back from the newest buffered entry; 0 is the latest frame.
type Match struct {
	Similarity   float64
	ReferenceAge int
	LiveAge      int
	Reference    pose.Frame // the matched frames as received
	Live         pose.Frame
	OK           bool // false when either buffer was empty
}

// Lag returns how many frames the live stream trails the reference in this match.
// Negative values mean the live stream is ahead.
func (m Match) Lag() int {
	return m.ReferenceAge - m.LiveAge
}

// Aligner owns the normalizer, extractor and one buffer per stream.
type Aligner struct {
	cfg        Config
	normalizer *scoring.Normalizer
	extractor  *scoring.Extractor
	buffers    [2]*FrameBuffer

	mu      sync.Mutex
	counter int
}

// NewAligner validates cfg and builds the feature pipeline for sk.
func NewAligner(sk pose.Skeleton, ecfg scoring.ExtractorConfig, cfg Config) (*Aligner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ext, err := scoring.NewExtractor(sk, ecfg)
	if err != nil {
		return nil, err
	}
	return &Aligner{
		cfg:        cfg,
		normalizer: scoring.NewNormalizer(sk.Anchors),
		extractor:  ext,
		buffers:    [2]*FrameBuffer{NewFrameBuffer(cfg.Capacity), NewFrameBuffer(cfg.Capacity)},
	}, nil
}

// Config returns the aligner configuration.
func (a *Aligner) Config() Config {
	return a.cfg
}

// Extractor returns the feature extractor in use.
func (a *Aligner) Extractor() *scoring.Extractor {
	return a.extractor
}

// Ingest normalizes and extracts f, pushes it onto the stream's buffer and
// reports whether an evaluation is due. Frames that fail extraction are not counted.
func (a *Aligner) Ingest(stream pose.Stream, f pose.Frame) (bool, error) {
	buf, err := a.buffer(stream)
	if err != nil {
		return false, err
	}
	vec, err := a.extractor.Extract(a.normalizer.Normalize(f))
	if err != nil {
		return false, err
	}
	buf.Push(f, vec)

	a.mu.Lock()
	defer a.mu.Unlock()
	a.counter++
	if a.counter >= a.cfg.EvalEvery {
		a.counter = 0
		return true, nil
	}
	return false, nil
}

// BestMatch returns the highest similarity over every (reference, live) pair
// currently buffered. Ties keep the freshest pair.
func (a *Aligner) BestMatch() Match {
	refs := a.buffers[pose.StreamReference].Snapshot()
	lives := a.buffers[pose.StreamLive].Snapshot()
	if len(refs) == 0 || len(lives) == 0 {
		return Match{}
	}

	best := Match{Similarity: -2, OK: true}
	for i := len(refs) - 1; i >= 0; i-- {
		for j := len(lives) - 1; j >= 0; j-- {
			sim, err := scoring.Cosine(refs[i].Vector, lives[j].Vector)
			if err != nil {
				continue
			}
			if sim > best.Similarity {
				best.Similarity = sim
				best.ReferenceAge = len(refs) - 1 - i
				best.LiveAge = len(lives) - 1 - j
				best.Reference = refs[i].Frame
				best.Live = lives[j].Frame
			}
		}
	}
	if best.Similarity < -1 {
		return Match{}
	}
	return best
}

// Len returns the buffered frame count for stream.
func (a *Aligner) Len(stream pose.Stream) int {
	buf, err := a.buffer(stream)
	if err != nil {
		return 0
	}
	return buf.Len()
}

// Clear empties both buffers and resets the evaluation counter.
func (a *Aligner) Clear() {
	for _, b := range a.buffers {
		b.Clear()
	}
	a.mu.Lock()
	a.counter = 0
	a.mu.Unlock()
}

func (a *Aligner) buffer(stream pose.Stream) (*FrameBuffer, error) {
	if stream != pose.StreamReference && stream != pose.StreamLive {
		return nil, fmt.Errorf("%w: %v", pose.ErrUnknownStream, stream)
	}
	return a.buffers[stream], nil
}
