package tcpserver

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/cyberinferno/rediminute/logger"
	"github.com/cyberinferno/rediminute/session"
)

// sweepLoop runs Sweep every CleanupInterval until ctx is cancelled.
func (s *TCPServer) sweepLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.Sweep(ctx, now)
		}
	}
}

// Sweep evicts every registered session that is already closed or has been
// inactive for longer than IdleTimeout as of now. Sessions closed or removed
// by their handler in the meantime are skipped silently. A cancelled ctx
// abandons the rest of the pass.
//
// Parameters:
//   - ctx: Cancelled to abandon the pass
//   - now: Reference time for the idle check
//
// Returns:
//   - The number of sessions this pass removed from the registry
//   - The number of sessions left registered
func (s *TCPServer) Sweep(ctx context.Context, now time.Time) (evicted int, remaining int) {
	for _, sess := range s.sessions.Snapshot() {
		if ctx.Err() != nil {
			break
		}

		if !s.isStale(sess, now) {
			continue
		}

		if _, err := sess.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			s.logger.Warn("stale session close failed",
				logger.Field{Key: "session_id", Value: sess.ID()},
				logger.Field{Key: "error", Value: err})
		}

		if _, ok := s.sessions.Unregister(sess.ID()); !ok {
			continue
		}

		evicted++
		s.evicted.Add(1)
		s.logger.Info("stale session evicted",
			logger.Field{Key: "session_id", Value: sess.ID()},
			logger.Field{Key: "remote_addr", Value: sess.RemoteAddr()},
			logger.Field{Key: "idle", Value: sess.IdleFor(now).String()})
	}

	remaining = s.sessions.Len()
	s.logger.Info("stale session sweep complete",
		logger.Field{Key: "evicted", Value: evicted},
		logger.Field{Key: "remaining", Value: remaining})

	return evicted, remaining
}

func (s *TCPServer) isStale(sess *session.Session, now time.Time) bool {
	return sess.IsClosed() || sess.IdleFor(now) > s.cfg.IdleTimeout
}
