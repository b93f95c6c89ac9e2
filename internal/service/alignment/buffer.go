// Package alignment buffers recent frames from both streams with their
// feature vectors and finds the best-matching pair to absorb timing offsets
// between them.
package alignment

import (
	"sync"

	"github.com/lguibr/Mimeflow/internal/pose"
	"github.com/lguibr/Mimeflow/internal/service/scoring"
)

// Entry is one buffered frame and the feature vector extracted from it.
type Entry struct {
	Frame  pose.Frame
	Vector scoring.Vector
}

// FrameBuffer is a fixed-capacity ring of entries.
// Pushing onto a full buffer evicts the oldest entry.
type FrameBuffer struct {
	mu    sync.Mutex
	items []Entry
	head  int // index of the oldest entry
	size  int
}

// NewFrameBuffer creates a buffer holding at most capacity entries.
func NewFrameBuffer(capacity int) *FrameBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &FrameBuffer{items: make([]Entry, capacity)}
}

// Push appends the pair (f, v), evicting the oldest entry when full.
func (b *FrameBuffer) Push(f pose.Frame, v scoring.Vector) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e := Entry{Frame: f, Vector: v}
	capacity := len(b.items)
	if b.size < capacity {
		b.items[(b.head+b.size)%capacity] = e
		b.size++
		return
	}
	b.items[b.head] = e
	b.head = (b.head + 1) % capacity
}

// Snapshot returns the buffered entries oldest first.
// The slice is a copy; frames and vectors are shared and must not be mutated.
func (b *FrameBuffer) Snapshot() []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Entry, b.size)
	for i := 0; i < b.size; i++ {
		out[i] = b.items[(b.head+i)%len(b.items)]
	}
	return out
}

// Len returns the number of buffered entries.
func (b *FrameBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Cap returns the buffer capacity.
func (b *FrameBuffer) Cap() int {
	return len(b.items)
}

// Clear drops every buffered entry.
func (b *FrameBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.items {
		b.items[i] = Entry{}
	}
	b.head = 0
	b.size = 0
}
