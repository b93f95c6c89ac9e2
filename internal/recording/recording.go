// Package recording stores keypoint frame streams as JSON lines or CBOR
// sequences and plays them back through the estimator contract.
package recording

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/fxamacker/cbor/v2"

	"github.com/lguibr/Mimeflow/internal/models"
)

// Version is the recording format version written in headers.
const Version = 1

// Format selects the on-disk encoding.
type Format int

const (
	// FormatJSONL writes one JSON document per line.
	FormatJSONL Format = iota
	// FormatCBOR writes a CBOR sequence (RFC 8742).
	FormatCBOR
)

// String returns the format name.
func (f Format) String() string {
	switch f {
	case FormatJSONL:
		return "jsonl"
	case FormatCBOR:
		return "cbor"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(f))
	}
}

// ParseFormat maps a name to a Format.
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "jsonl", "ndjson", "json":
		return FormatJSONL, nil
	case "cbor", "cborseq":
		return FormatCBOR, nil
	default:
		return 0, fmt.Errorf("unknown recording format %q", name)
	}
}

// FormatFromPath infers the format from a file extension; JSON lines is the default.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".cbor", ".cborseq":
		return FormatCBOR
	default:
		return FormatJSONL
	}
}

// ErrBadHeader is returned when a recording does not start with a valid header.
var ErrBadHeader = errors.New("invalid recording header")

// Header describes a recording. It is always the first record.
type Header struct {
	Version   int     `json:"version" cbor:"version"`
	Skeleton  string  `json:"skeleton" cbor:"skeleton"`
	Joints    int     `json:"joints" cbor:"joints"`
	FrameRate float64 `json:"frameRate,omitempty" cbor:"frameRate,omitempty"`
	ClipID    string  `json:"clipId,omitempty" cbor:"clipId,omitempty"`
	CreatedAt string  `json:"createdAt,omitempty" cbor:"createdAt,omitempty"`
}

type encoder interface {
	Encode(v any) error
}

type decoder interface {
	Decode(v any) error
}

// Writer appends frames to a recording.
type Writer struct {
	buf    *bufio.Writer
	enc    encoder
	closer io.Closer
	count  int
}

// NewWriter writes header to w and returns a writer for frames.
func NewWriter(w io.Writer, format Format, header Header) (*Writer, error) {
	if header.Version == 0 {
		header.Version = Version
	}
	buf := bufio.NewWriter(w)
	var enc encoder
	switch format {
	case FormatJSONL:
		enc = json.NewEncoder(buf)
	case FormatCBOR:
		enc = cbor.NewEncoder(buf)
	default:
		return nil, fmt.Errorf("unknown recording format %v", format)
	}
	if err := enc.Encode(header); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	return &Writer{buf: buf, enc: enc}, nil
}

// Create creates path and writes header, choosing the format from the extension.
func Create(path string, header Header) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	w, err := NewWriter(f, FormatFromPath(path), header)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	w.closer = f
	return w, nil
}

// Write appends one frame message.
func (w *Writer) Write(msg *models.FrameMessage) error {
	if err := w.enc.Encode(msg); err != nil {
		return fmt.Errorf("write frame %d: %w", w.count, err)
	}
	w.count++
	return nil
}

// Count returns the number of frames written.
func (w *Writer) Count() int {
	return w.count
}

// Flush writes buffered data to the underlying writer.
func (w *Writer) Flush() error {
	return w.buf.Flush()
}

// Close flushes and closes the file opened by Create.
func (w *Writer) Close() error {
	err := w.buf.Flush()
	if w.closer != nil {
		if cerr := w.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// Reader iterates the frames of a recording.
type Reader struct {
	dec    decoder
	header Header
	closer io.Closer
	count  int
}

// NewReader reads and validates the header from r.
func NewReader(r io.Reader, format Format) (*Reader, error) {
	br := bufio.NewReader(r)
	var dec decoder
	switch format {
	case FormatJSONL:
		dec = json.NewDecoder(br)
	case FormatCBOR:
		dec = cbor.NewDecoder(br)
	default:
		return nil, fmt.Errorf("unknown recording format %v", format)
	}

	var h Header
	if err := dec.Decode(&h); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadHeader, err)
	}
	if h.Version != Version {
		return nil, fmt.Errorf("%w: version %d, expected %d", ErrBadHeader, h.Version, Version)
	}
	if h.Joints <= 0 {
		return nil, fmt.Errorf("%w: joint count %d", ErrBadHeader, h.Joints)
	}
	return &Reader{dec: dec, header: h}, nil
}

// Open opens path, choosing the format from the extension.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	r, err := NewReader(f, FormatFromPath(path))
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	r.closer = f
	return r, nil
}

// Header returns the recording header.
func (r *Reader) Header() Header {
	return r.header
}

// Next returns the next frame, or io.EOF at the end of the recording.
func (r *Reader) Next() (*models.FrameMessage, error) {
	var msg models.FrameMessage
	if err := r.dec.Decode(&msg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("read frame %d: %w", r.count, err)
	}
	r.count++
	return &msg, nil
}

// Close closes the file opened by Open.
func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}
