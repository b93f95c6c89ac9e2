package recording

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"sync"
	"testing"

	"github.com/lguibr/Mimeflow/internal/models"
	"github.com/lguibr/Mimeflow/internal/pose"
	"github.com/lguibr/Mimeflow/internal/service/estimator/mock"
)

func testHeader() Header {
	return Header{Skeleton: "blazepose", Joints: 33, FrameRate: 30, ClipID: "abc"}
}

func writeFrames(t *testing.T, w *Writer, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		f := mock.Choreography(i, 30)
		f.Joints[3] = pose.Missing()
		stream := pose.StreamReference
		if i%2 == 1 {
			stream = pose.StreamLive
		}
		if err := w.Write(models.NewFrameMessage("", stream, int64(i), int64(i*33), f)); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}
}

func TestRoundTrip(t *testing.T) {
	for _, format := range []Format{FormatJSONL, FormatCBOR} {
		t.Run(format.String(), func(t *testing.T) {
			var buf bytes.Buffer
			w, err := NewWriter(&buf, format, testHeader())
			if err != nil {
				t.Fatal(err)
			}
			writeFrames(t, w, 6)
			if err := w.Flush(); err != nil {
				t.Fatal(err)
			}

			r, err := NewReader(&buf, format)
			if err != nil {
				t.Fatalf("NewReader: %v", err)
			}
			if h := r.Header(); h.Version != Version || h.Joints != 33 || h.ClipID != "abc" {
				t.Errorf("unexpected header %+v", h)
			}

			want := mock.Choreography(4, 30)
			for i := 0; i < 6; i++ {
				msg, err := r.Next()
				if err != nil {
					t.Fatalf("frame %d: %v", i, err)
				}
				if msg.Sequence != int64(i) {
					t.Errorf("frame %d: sequence %d", i, msg.Sequence)
				}
				f := msg.ToFrame()
				if f.Joints[3].Present() {
					t.Errorf("frame %d: expected missing joint to survive", i)
				}
				if i == 4 && f.Joints[15] != want.Joints[15] {
					t.Errorf("frame 4: wrist %+v, want %+v", f.Joints[15], want.Joints[15])
				}
			}
			if _, err := r.Next(); !errors.Is(err, io.EOF) {
				t.Errorf("expected io.EOF, got %v", err)
			}
		})
	}
}

func TestNewReader_BadHeader(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"wrong version", `{"version":7,"joints":33}`},
		{"no joints", `{"version":1}`},
		{"garbage", `not json`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewReader(bytes.NewBufferString(tt.input), FormatJSONL); !errors.Is(err, ErrBadHeader) {
				t.Errorf("expected ErrBadHeader, got %v", err)
			}
		})
	}
}

func TestCreateAndOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "take.cbor")
	w, err := Create(path, testHeader())
	if err != nil {
		t.Fatal(err)
	}
	writeFrames(t, w, 3)
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()
	n := 0
	for {
		_, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		n++
	}
	if n != 3 {
		t.Errorf("expected 3 frames, got %d", n)
	}
}

func TestFormatFromPath(t *testing.T) {
	tests := map[string]Format{
		"a.jsonl":   FormatJSONL,
		"a.ndjson":  FormatJSONL,
		"a.CBOR":    FormatCBOR,
		"a.cborseq": FormatCBOR,
		"a":         FormatJSONL,
	}
	for path, want := range tests {
		if got := FormatFromPath(path); got != want {
			t.Errorf("FormatFromPath(%s) = %v, want %v", path, got, want)
		}
	}
	if _, err := ParseFormat("xml"); err == nil {
		t.Error("expected error for unknown format")
	}
}

type playCallback struct {
	mu     sync.Mutex
	ready  bool
	frames map[pose.Stream]int
	ended  bool
	errs   []error
}

func (c *playCallback) OnReady() { c.mu.Lock(); c.ready = true; c.mu.Unlock() }
func (c *playCallback) OnFrame(s pose.Stream, f pose.Frame) {
	c.mu.Lock()
	c.frames[s]++
	c.mu.Unlock()
}
func (c *playCallback) OnEnd()            { c.mu.Lock(); c.ended = true; c.mu.Unlock() }
func (c *playCallback) OnError(err error) { c.mu.Lock(); c.errs = append(c.errs, err); c.mu.Unlock() }

func TestPlayer(t *testing.T) {
	var buf bytes.Buffer
	w, _ := NewWriter(&buf, FormatJSONL, testHeader())
	writeFrames(t, w, 8)
	_ = w.Write(&models.FrameMessage{Stream: "sideways", Joints: nil})
	_ = w.Flush()

	r, err := NewReader(&buf, FormatJSONL)
	if err != nil {
		t.Fatal(err)
	}
	cb := &playCallback{frames: make(map[pose.Stream]int)}
	p := NewPlayer(r, false)
	if err := p.Start(context.Background(), cb); err != nil {
		t.Fatal(err)
	}
	if err := p.Wait(); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()
	if !cb.ready || !cb.ended {
		t.Errorf("expected ready and end, got ready=%v ended=%v", cb.ready, cb.ended)
	}
	if cb.frames[pose.StreamReference] != 4 || cb.frames[pose.StreamLive] != 4 {
		t.Errorf("unexpected frame counts %v", cb.frames)
	}
	if len(cb.errs) != 1 || !errors.Is(cb.errs[0], pose.ErrUnknownStream) {
		t.Errorf("expected one unknown-stream error, got %v", cb.errs)
	}
	if err := p.Close(); err != nil {
		t.Errorf("close after end: %v", err)
	}
}

func TestOpenPlayer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "take.jsonl")
	w, err := Create(path, testHeader())
	if err != nil {
		t.Fatal(err)
	}
	writeFrames(t, w, 4)
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	p, err := OpenPlayer(path, true)
	if err != nil {
		t.Fatal(err)
	}
	cb := &playCallback{frames: make(map[pose.Stream]int)}
	if err := p.Start(context.Background(), cb); err != nil {
		t.Fatal(err)
	}
	if err := p.Start(context.Background(), cb); err == nil {
		t.Error("expected error on second Start")
	}
	if err := p.Wait(); err != nil {
		t.Fatal(err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.frames[pose.StreamReference]+cb.frames[pose.StreamLive] != 4 || !cb.ended {
		t.Errorf("unexpected playback %v ended=%v", cb.frames, cb.ended)
	}

	if _, err := OpenPlayer(filepath.Join(t.TempDir(), "none.jsonl"), false); err == nil {
		t.Error("expected error for missing recording")
	}
}
