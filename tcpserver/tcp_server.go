// Package tcpserver implements a line-oriented TCP server: it accepts
// connections, runs one handler goroutine per session, evicts idle sessions
// in the background and shuts down gracefully.
package tcpserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cyberinferno/rediminute/logger"
	"github.com/cyberinferno/rediminute/processor"
	"github.com/cyberinferno/rediminute/session"
)

// State is the lifecycle state of a TCPServer.
type State int32

const (
	Stopped  State = iota // Not listening; Start may be called
	Starting              // Binding the listener
	Running               // Accepting connections
	Stopping              // Draining sessions
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case Stopped:
		return "Stopped"
	case Starting:
		return "Starting"
	case Running:
		return "Running"
	case Stopping:
		return "Stopping"
	default:
		return "Unknown"
	}
}

// Config holds the settings of a TCPServer.
type Config struct {
	// Name prefixes lifecycle log messages.
	Name string
	// Addr is the "host:port" to bind. Port 0 picks a free port.
	Addr string
	// IdleTimeout is the rolling read deadline of each session and the
	// inactivity threshold used by the sweeper.
	IdleTimeout time.Duration
	// CleanupInterval is the sweeper period.
	CleanupInterval time.Duration
	// WriteTimeout bounds each response write; 0 means no bound.
	WriteTimeout time.Duration
	// MaxLineBytes caps the length of one message, delimiter excluded. A
	// peer exceeding it is disconnected. 0 means DefaultMaxLineBytes.
	MaxLineBytes int
	// ShutdownTimeout bounds how long Stop waits for handlers after their
	// transports are closed; 0 means wait until they all exit.
	ShutdownTimeout time.Duration
}

// Stats is a point-in-time view of the server counters.
type Stats struct {
	Accepted        int64 // connections accepted since construction
	Active          int   // sessions currently registered
	Evicted         int64 // sessions removed by the sweeper
	IdleTimeouts    int64 // sessions ended by their read deadline
	ProcessorFaults int64 // sessions ended by a processor error or panic
}

// TCPServer accepts connections on Config.Addr and runs Processor on every
// line received from each of them. The zero value is not usable; call New.
type TCPServer struct {
	cfg       Config
	logger    logger.Logger
	processor processor.Processor
	sessions  *session.Registry
	ids       *session.IDSource

	state    atomic.Int32
	handlers sync.WaitGroup

	mu         sync.Mutex
	listener   net.Listener
	cancel     context.CancelFunc
	acceptDone chan struct{}
	sweepDone  chan struct{}

	accepted        atomic.Int64
	evicted         atomic.Int64
	idleTimeouts    atomic.Int64
	processorFaults atomic.Int64
}

// New creates a Stopped server.
//
// Parameters:
//   - cfg: Listener and timing settings
//   - p: The processor applied to every received message
//   - log: Destination for lifecycle events
//
// Returns:
//   - A new *TCPServer; call Start or Serve to run it
func New(cfg Config, p processor.Processor, log logger.Logger) *TCPServer {
	if cfg.Name == "" {
		cfg.Name = "tcp"
	}
	if cfg.MaxLineBytes <= 0 {
		cfg.MaxLineBytes = DefaultMaxLineBytes
	}

	return &TCPServer{
		cfg:       cfg,
		logger:    log,
		processor: p,
		sessions:  session.NewRegistry(),
		ids:       session.NewIDSource(0),
	}
}

// State returns the current lifecycle state.
func (s *TCPServer) State() State {
	return State(s.state.Load())
}

// Addr returns the bound listener address, or nil when not listening.
func (s *TCPServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return nil
	}

	return s.listener.Addr()
}

// Sessions returns the registry of live sessions.
func (s *TCPServer) Sessions() *session.Registry {
	return s.sessions
}

// Stats returns the current counters.
func (s *TCPServer) Stats() Stats {
	return Stats{
		Accepted:        s.accepted.Load(),
		Active:          s.sessions.Len(),
		Evicted:         s.evicted.Load(),
		IdleTimeouts:    s.idleTimeouts.Load(),
		ProcessorFaults: s.processorFaults.Load(),
	}
}

// Start binds the listener, starts the stale-session sweeper and the accept
// loop, and returns once the server is Running. It is valid only from the
// Stopped state.
//
// Returns:
//   - An error wrapping ErrServerRunning if the server is not Stopped
//   - A *BindError if the listener cannot be bound; the server stays Stopped
func (s *TCPServer) Start() error {
	if !s.state.CompareAndSwap(int32(Stopped), int32(Starting)) {
		return fmt.Errorf("server %s: %w (state %s)", s.cfg.Name, ErrServerRunning, s.State())
	}

	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		s.state.Store(int32(Stopped))
		s.logger.Error(fmt.Sprintf("%s server failed to start", s.cfg.Name),
			logger.Field{Key: "addr", Value: s.cfg.Addr}, logger.Field{Key: "error", Value: err})
		return &BindError{Addr: s.cfg.Addr, Err: err}
	}

	ctx, cancel := context.WithCancel(context.Background())
	acceptDone := make(chan struct{})
	sweepDone := make(chan struct{})

	s.mu.Lock()
	s.listener = ln
	s.cancel = cancel
	s.acceptDone = acceptDone
	s.sweepDone = sweepDone
	s.mu.Unlock()

	go s.sweepLoop(ctx, sweepDone)

	s.state.Store(int32(Running))
	s.logger.Info(fmt.Sprintf("%s server started", s.cfg.Name),
		logger.Field{Key: "addr", Value: ln.Addr().String()},
		logger.Field{Key: "idle_timeout", Value: s.cfg.IdleTimeout.String()},
		logger.Field{Key: "cleanup_interval", Value: s.cfg.CleanupInterval.String()})

	go s.acceptLoop(ctx, ln, acceptDone)
	return nil
}

// Serve runs the server until ctx is cancelled, then stops it. It blocks
// for the whole operational lifetime and returns only after Stop has
// completed. Cancelling ctx is the single shutdown request; Stop runs once.
//
// Parameters:
//   - ctx: Cancelled to request graceful shutdown
//
// Returns:
//   - The error from Start, or nil after a clean shutdown
func (s *TCPServer) Serve(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}

	s.mu.Lock()
	acceptDone := s.acceptDone
	s.mu.Unlock()

	select {
	case <-ctx.Done():
	case <-acceptDone:
	}

	s.Stop()
	return nil
}

// Stop shuts the server down: it stops accepting, cancels the sweeper and
// waits for it, closes every session concurrently, waits for their handlers
// and empties the registry. It is valid from Running; any other call,
// including a concurrent second call, is a no-op.
//
// The wait for handlers is bounded by Config.ShutdownTimeout. When it
// elapses Stop returns even though some handlers may still be unwinding;
// their transports are already closed and they write nothing further. Set
// ShutdownTimeout to 0 to wait for every handler to exit.
func (s *TCPServer) Stop() {
	if !s.state.CompareAndSwap(int32(Running), int32(Stopping)) {
		s.logger.Debug(fmt.Sprintf("%s server stop ignored", s.cfg.Name),
			logger.Field{Key: "state", Value: s.State().String()})
		return
	}

	s.logger.Info(fmt.Sprintf("%s server stopping", s.cfg.Name),
		logger.Field{Key: "sessions", Value: s.sessions.Len()})

	s.mu.Lock()
	ln, cancel, acceptDone, sweepDone := s.listener, s.cancel, s.acceptDone, s.sweepDone
	s.mu.Unlock()

	if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		s.logger.Warn("listener close failed", logger.Field{Key: "error", Value: err})
	}
	// also wakes an accept loop sleeping in backoff
	cancel()
	<-acceptDone
	<-sweepDone

	s.closeAll()
	s.waitHandlers()
	s.sessions.Clear()

	s.mu.Lock()
	s.listener = nil
	s.mu.Unlock()

	s.state.Store(int32(Stopped))
	s.logger.Info(fmt.Sprintf("%s server stopped", s.cfg.Name))
}

// closeAll closes every registered session concurrently and waits for all
// closes to return. Failures are logged and do not stop the others.
func (s *TCPServer) closeAll() {
	var g errgroup.Group
	for _, sess := range s.sessions.Snapshot() {
		g.Go(func() error {
			if _, err := sess.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
				s.logger.Warn("session close failed",
					logger.Field{Key: "session_id", Value: sess.ID()},
					logger.Field{Key: "error", Value: err})
				return fmt.Errorf("close session %d: %w", sess.ID(), err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		s.logger.Warn("errors while closing sessions", logger.Field{Key: "error", Value: err})
	}
}

func (s *TCPServer) waitHandlers() {
	done := make(chan struct{})
	go func() {
		s.handlers.Wait()
		close(done)
	}()

	if s.cfg.ShutdownTimeout <= 0 {
		<-done
		return
	}

	timer := time.NewTimer(s.cfg.ShutdownTimeout)
	defer timer.Stop()

	select {
	case <-done:
	case <-timer.C:
		s.logger.Warn("handlers still running after shutdown timeout",
			logger.Field{Key: "timeout", Value: s.cfg.ShutdownTimeout.String()})
	}
}

// acceptLoop accepts connections until the listener is closed. Each
// connection becomes a registered session served by its own goroutine.
func (s *TCPServer) acceptLoop(ctx context.Context, ln net.Listener, done chan struct{}) {
	defer close(done)

	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || s.State() != Running {
				s.logger.Debug(fmt.Sprintf("%s server accept loop exiting", s.cfg.Name))
				return
			}

			backoff = nextBackoff(backoff)
			s.logger.Error(fmt.Sprintf("%s server accept error", s.cfg.Name),
				logger.Field{Key: "error", Value: err},
				logger.Field{Key: "retry_in", Value: backoff.String()})

			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			continue
		}

		backoff = 0
		s.dispatch(ctx, conn)
	}
}

func (s *TCPServer) dispatch(ctx context.Context, conn net.Conn) {
	sess := session.New(s.ids.Next(), conn, time.Now())
	if err := s.sessions.Register(sess); err != nil {
		s.logger.Error("session registration failed", logger.Field{Key: "error", Value: err})
		_ = conn.Close()
		return
	}

	s.accepted.Add(1)
	s.handlers.Add(1)
	go s.handle(ctx, sess)
}

// nextBackoff doubles the accept retry delay from 5ms up to one second.
func nextBackoff(prev time.Duration) time.Duration {
	if prev == 0 {
		return 5 * time.Millisecond
	}

	if next := prev * 2; next < time.Second {
		return next
	}

	return time.Second
}
