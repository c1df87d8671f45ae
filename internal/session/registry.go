package session

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/peterje/rec/internal/errs"
)

// Registry is the thread-safe table of live sessions, mirroring the
// teacher's pty.Manager but addressed by caller-chosen name instead of a
// generated ID, per the create_session contract.
type Registry struct {
	cfg    Config
	logger zerolog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry constructs an empty Registry.
func NewRegistry(cfg Config, logger zerolog.Logger) *Registry {
	return &Registry{
		cfg:      cfg,
		logger:   logger,
		sessions: make(map[string]*Session),
	}
}

// Create opens a new session under req.Name. It fails with SESSION_EXISTS
// if a session by that name is already registered, open or closed.
func (r *Registry) Create(req OpenRequest) (*OpenResult, error) {
	r.mu.Lock()
	if _, exists := r.sessions[req.Name]; exists {
		r.mu.Unlock()
		return nil, errs.New(errs.SessionExists, "session %q already exists", req.Name)
	}
	// Reserve the slot before spawning so a concurrent Create for the same
	// name can't race past this check while the PTY is still starting.
	r.sessions[req.Name] = nil
	r.mu.Unlock()

	s, result, err := Open(req, r.cfg, r.logger)
	r.mu.Lock()
	if err != nil {
		delete(r.sessions, req.Name)
		r.mu.Unlock()
		return nil, err
	}
	r.sessions[req.Name] = s
	r.mu.Unlock()

	return result, nil
}

// Get looks up a session by name.
func (r *Registry) Get(name string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[name]
	if !ok || s == nil {
		return nil, errs.New(errs.SessionNotFound, "session %q not found", name)
	}
	return s, nil
}

// Close closes and removes a session by name. The entry is removed only
// after the Session's own Close returns, per the registry's close contract.
func (r *Registry) Close(name string) error {
	r.mu.Lock()
	s, ok := r.sessions[name]
	r.mu.Unlock()
	if !ok || s == nil {
		return errs.New(errs.SessionNotFound, "session %q not found", name)
	}

	err := s.Close()

	r.mu.Lock()
	delete(r.sessions, name)
	r.mu.Unlock()

	return err
}

// CloseAll closes every registered session, used during graceful shutdown.
// The registry lock is never held across a Session's own I/O: the session
// list is snapshotted, then each Close is called unlocked.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for name, s := range r.sessions {
		if s != nil {
			sessions = append(sessions, s)
		}
		delete(r.sessions, name)
	}
	r.mu.Unlock()

	for _, s := range sessions {
		if err := s.Close(); err != nil {
			r.logger.Warn().Err(err).Str("session", s.Name).Msg("error closing session during shutdown")
		}
	}
}

// List returns the names of all currently registered sessions.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.sessions))
	for name, s := range r.sessions {
		if s != nil {
			names = append(names, name)
		}
	}
	return names
}
