package session

import "sync"

// Aggregator keeps the score history and its running average.
// All access goes through one mutex; readers get copies.
type Aggregator struct {
	mu      sync.Mutex
	history []int
	sum     int
}

// NewAggregator returns an empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{}
}

// Record appends a percentage clamped to [0,100] and returns the new average.
func (a *Aggregator) Record(percent int) float64 {
	if percent < 0 {
		percent = 0
	} else if percent > 100 {
		percent = 100
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.history = append(a.history, percent)
	a.sum += percent
	return a.averageLocked()
}

// Average returns sum(history)/len(history), or 0 with no history.
func (a *Aggregator) Average() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.averageLocked()
}

// Len returns the number of history entries.
func (a *Aggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.history)
}

// Snapshot returns a copy of the history and the current average.
func (a *Aggregator) Snapshot() ([]int, float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]int, len(a.history))
	copy(out, a.history)
	return out, a.averageLocked()
}

// Reset discards the history.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.history = nil
	a.sum = 0
}

func (a *Aggregator) averageLocked() float64 {
	if len(a.history) == 0 {
		return 0
	}
	return float64(a.sum) / float64(len(a.history))
}
