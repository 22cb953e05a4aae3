package session

import (
	"errors"
	"fmt"

	"github.com/cyberinferno/rediminute/safemap"
)

// ErrDuplicateSession is returned by Register when the identity is already
// present.
var ErrDuplicateSession = errors.New("duplicate session")

// Registry is the set of live sessions keyed by identity. It is shared by
// the accept loop, the handlers, the sweeper and the shutdown path; all of
// its operations are atomic with respect to each other and never perform
// I/O while holding the lock.
type Registry struct {
	sessions *safemap.SafeMap[uint64, *Session]
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{sessions: safemap.NewSafeMap[uint64, *Session]()}
}

// Register inserts s.
//
// Parameters:
//   - s: The session to register
//
// Returns:
//   - An error wrapping ErrDuplicateSession if the identity is already registered
func (r *Registry) Register(s *Session) error {
	if !r.sessions.StoreIfAbsent(s.ID(), s) {
		return fmt.Errorf("register session %d: %w", s.ID(), ErrDuplicateSession)
	}

	return nil
}

// Unregister removes the session with the given id. Callers racing on the
// same id see exactly one true result; the rest get (nil, false).
//
// Parameters:
//   - id: The session identity
//
// Returns:
//   - The removed session, or nil
//   - true if this call removed the entry
func (r *Registry) Unregister(id uint64) (*Session, bool) {
	return r.sessions.LoadAndDelete(id)
}

// Get returns the session with the given id, if present.
func (r *Registry) Get(id uint64) (*Session, bool) {
	return r.sessions.Load(id)
}

// Snapshot returns a point-in-time copy of all registered sessions.
func (r *Registry) Snapshot() []*Session {
	return r.sessions.Values()
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	return r.sessions.Len()
}

// Clear removes every entry and returns the sessions that were removed.
func (r *Registry) Clear() []*Session {
	return r.sessions.Clear()
}
