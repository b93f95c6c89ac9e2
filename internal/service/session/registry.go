package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/lguibr/Mimeflow/internal/service/estimator"
)

// ErrSessionNotFound is returned for unknown session ids.
var ErrSessionNotFound = errors.New("session not found")

// Registry owns the live sessions of a process. Sessions share the registry's Deps.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	drivers  map[string]estimator.Estimator
	deps     Deps
	newID    func() string
}

// NewRegistry creates an empty registry whose sessions report to deps.
func NewRegistry(deps Deps) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		drivers:  make(map[string]estimator.Estimator),
		deps:     deps,
		newID:    uuid.NewString,
	}
}

// Create builds a session with a fresh id and registers it.
func (r *Registry) Create(opts Options) (*Session, error) {
	s, err := New(r.newID(), opts, r.deps)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.sessions[s.ID()] = s
	r.mu.Unlock()
	return s, nil
}

// Get returns the session with id.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// autoStarter starts the session as soon as the estimator reports ready.
type autoStarter struct {
	*Session
}

func (a autoStarter) OnReady() {
	a.Session.OnReady()
	if err := a.Start(); err != nil {
		a.log.Warn().Err(err).Msg("Auto start failed")
	}
}

// Attach moves the session to LOADING and starts est with the session as its
// callback. With autoStart the session goes ACTIVE when the estimator is
// ready. The estimator is closed when the session is removed.
func (r *Registry) Attach(ctx context.Context, id string, est estimator.Estimator, autoStart bool) error {
	s, err := r.Get(id)
	if err != nil {
		return err
	}
	r.mu.Lock()
	if _, ok := r.drivers[id]; ok {
		r.mu.Unlock()
		return fmt.Errorf("session %s already has an estimator", id)
	}
	r.drivers[id] = est
	r.mu.Unlock()

	if err := s.Load(); err != nil {
		r.detach(id)
		return err
	}
	var cb estimator.Callback = s
	if autoStart {
		cb = autoStarter{s}
	}
	if err := est.Start(ctx, cb); err != nil {
		r.detach(id)
		return fmt.Errorf("start estimator: %w", err)
	}
	return nil
}

func (r *Registry) detach(id string) {
	r.mu.Lock()
	delete(r.drivers, id)
	r.mu.Unlock()
}

// Remove drops the session with id from the registry and closes its estimator.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	if _, ok := r.sessions[id]; !ok {
		r.mu.Unlock()
		return ErrSessionNotFound
	}
	est := r.drivers[id]
	delete(r.sessions, id)
	delete(r.drivers, id)
	r.mu.Unlock()

	if est != nil {
		return est.Close()
	}
	return nil
}

// Close closes every attached estimator. Sessions stay registered.
func (r *Registry) Close() error {
	r.mu.Lock()
	drivers := r.drivers
	r.drivers = make(map[string]estimator.Estimator)
	r.mu.Unlock()

	var errs []error
	for _, est := range drivers {
		if err := est.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// List returns every registered session ordered by id.
func (r *Registry) List() []*Session {
	r.mu.RLock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
