// Package session holds the server-side state of accepted connections and
// the registry that tracks which of them are live.
package session

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a Session.
type Status int32

const (
	Active Status = iota // Transport open, owned by a handler
	Closed               // Transport closed; no further writes allowed
)

// String returns a human-readable name for the status.
func (s Status) String() string {
	switch s {
	case Active:
		return "Active"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Session is the state of one accepted connection. The identity, remote
// address and connect time are fixed at creation. The last-activity time and
// status may be read and written from several goroutines.
type Session struct {
	id          uint64
	traceID     string
	conn        net.Conn
	remoteAddr  string
	connectedAt time.Time

	lastActive atomic.Int64
	status     atomic.Int32
	closeOnce  sync.Once
	closeErr   error
}

// New creates an Active Session for conn. Both the connect time and the
// last-activity time are set to now.
//
// Parameters:
//   - id: The identity assigned to the connection (see IDSource)
//   - conn: The accepted transport
//   - now: The accept time
//
// Returns:
//   - A new *Session in the Active state
func New(id uint64, conn net.Conn, now time.Time) *Session {
	s := &Session{
		id:          id,
		traceID:     uuid.NewString(),
		conn:        conn,
		connectedAt: now,
	}

	if addr := conn.RemoteAddr(); addr != nil {
		s.remoteAddr = addr.String()
	}

	s.lastActive.Store(now.UnixNano())
	s.status.Store(int32(Active))
	return s
}

// ID returns the registry key of the session.
func (s *Session) ID() uint64 {
	return s.id
}

// TraceID returns a random identifier used to correlate log entries.
func (s *Session) TraceID() string {
	return s.traceID
}

// Conn returns the underlying transport.
func (s *Session) Conn() net.Conn {
	return s.conn
}

// RemoteAddr returns the peer address captured at accept time.
func (s *Session) RemoteAddr() string {
	return s.remoteAddr
}

// ConnectedAt returns the time the session was created.
func (s *Session) ConnectedAt() time.Time {
	return s.connectedAt
}

// LastActiveAt returns the time of the most recent processed message.
func (s *Session) LastActiveAt() time.Time {
	return time.Unix(0, s.lastActive.Load())
}

// Touch records activity at t. The stored value never moves backwards, so
// a stale t from a slow caller is ignored.
//
// Parameters:
//   - t: The time of the activity
func (s *Session) Touch(t time.Time) {
	next := t.UnixNano()
	for {
		cur := s.lastActive.Load()
		if next <= cur {
			return
		}

		if s.lastActive.CompareAndSwap(cur, next) {
			return
		}
	}
}

// IdleFor returns how long the session has been inactive as of now.
func (s *Session) IdleFor(now time.Time) time.Duration {
	return now.Sub(s.LastActiveAt())
}

// Status returns the current status.
func (s *Session) Status() Status {
	return Status(s.status.Load())
}

// IsClosed reports whether the session has been closed.
func (s *Session) IsClosed() bool {
	return s.Status() == Closed
}

// Close marks the session Closed and closes its transport. Only the first
// call does any work; later calls return (false, nil). The status flips
// before the transport is closed so that no writer observes Active on a
// closed transport.
//
// Returns:
//   - true if this call performed the close
//   - The error from closing the transport, if this call performed the close
func (s *Session) Close() (bool, error) {
	first := false
	s.closeOnce.Do(func() {
		first = true
		s.status.Store(int32(Closed))
		s.closeErr = s.conn.Close()
	})

	if !first {
		return false, nil
	}

	return true, s.closeErr
}
