package recording

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/lguibr/Mimeflow/internal/pose"
	"github.com/lguibr/Mimeflow/internal/service/estimator"
)

// Player replays a recording through an estimator.Callback.
// With Realtime set, frames are paced by their OffsetMs; otherwise they are
// delivered as fast as the callback accepts them.
type Player struct {
	reader   *Reader
	realtime bool
	owned    io.Closer

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// NewPlayer creates a player over r. The player does not close r.
func NewPlayer(r *Reader, realtime bool) *Player {
	return &Player{reader: r, realtime: realtime}
}

// OpenPlayer opens the recording at path. The file is closed by Close.
func OpenPlayer(path string, realtime bool) (*Player, error) {
	r, err := Open(path)
	if err != nil {
		return nil, err
	}
	p := NewPlayer(r, realtime)
	p.owned = r
	return p, nil
}

// Start launches playback. OnReady fires immediately, OnEnd after the last frame.
func (p *Player) Start(ctx context.Context, cb estimator.Callback) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done != nil {
		return errors.New("player already started")
	}
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.run(ctx, cb)
	return nil
}

// Wait blocks until playback ends and returns the first read error, if any.
func (p *Player) Wait() error {
	p.mu.Lock()
	done := p.done
	p.mu.Unlock()
	if done == nil {
		return nil
	}
	<-done
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Close stops playback and closes the file opened by OpenPlayer.
func (p *Player) Close() error {
	p.mu.Lock()
	cancel, done, owned := p.cancel, p.done, p.owned
	p.owned = nil
	p.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
	if owned != nil {
		return owned.Close()
	}
	return nil
}

func (p *Player) run(ctx context.Context, cb estimator.Callback) {
	defer close(p.done)
	cb.OnReady()

	start := time.Now()
	for {
		if ctx.Err() != nil {
			return
		}
		msg, err := p.reader.Next()
		if errors.Is(err, io.EOF) {
			cb.OnEnd()
			return
		}
		if err != nil {
			p.mu.Lock()
			p.err = err
			p.mu.Unlock()
			cb.OnError(err)
			return
		}

		stream, err := pose.ParseStream(msg.Stream)
		if err != nil {
			cb.OnError(err)
			continue
		}

		if p.realtime && msg.OffsetMs > 0 {
			due := start.Add(time.Duration(msg.OffsetMs) * time.Millisecond)
			if wait := time.Until(due); wait > 0 {
				select {
				case <-ctx.Done():
					return
				case <-time.After(wait):
				}
			}
		}
		cb.OnFrame(stream, msg.ToFrame())
	}
}
