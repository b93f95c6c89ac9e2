// Package estimator defines the interface for pose-estimation providers
// that feed keypoint frames into a session.
package estimator

import (
	"context"
	"errors"

	"github.com/lguibr/Mimeflow/internal/pose"
)

// Callback receives frames from the estimator provider.
type Callback interface {
	// OnReady is called once the provider's models are loaded.
	OnReady()

	// OnFrame is called for every estimated frame. Calls for the two streams
	// may arrive concurrently.
	OnFrame(stream pose.Stream, f pose.Frame)

	// OnEnd is called when the reference clip has ended.
	OnEnd()

	// OnError is called when an error occurs during estimation.
	OnError(err error)
}

// Estimator defines the interface for pose providers (browser models, replayed recordings, synthetic).
type Estimator interface {
	// Start begins producing frames. It returns once the provider is running.
	Start(ctx context.Context, cb Callback) error

	// Close stops the provider and releases resources.
	Close() error
}

// ErrUnknownProvider is returned by a Factory for a provider it cannot build.
var ErrUnknownProvider = errors.New("unknown estimator provider")

// Factory builds an estimator by provider name, such as "mock" or a recording path.
type Factory func(provider string) (Estimator, error)
