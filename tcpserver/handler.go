package tcpserver

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"github.com/cyberinferno/rediminute/logger"
	"github.com/cyberinferno/rediminute/processor"
	"github.com/cyberinferno/rediminute/session"
)

// Why a session ended, reported in the "connection closed" event.
const (
	reasonPeerClosed     = "peer closed"
	reasonIdleTimeout    = "idle timeout"
	reasonReadError      = "read error"
	reasonWriteError     = "write error"
	reasonProcessorFault = "processor fault"
	reasonClosedByServer = "closed by server"
	reasonShutdown       = "server stopping"
	reasonLineTooLong    = "line too long"
)

const messageDelimiter = '\n'

// DefaultMaxLineBytes caps a single message when Config.MaxLineBytes is unset.
const DefaultMaxLineBytes = 64 * 1024

// errLineTooLong ends a session whose peer sent more than MaxLineBytes
// without a delimiter.
var errLineTooLong = errors.New("line exceeds maximum length")

// handle owns sess from registration until it is closed and unregistered.
// Every exit path goes through finish exactly once.
func (s *TCPServer) handle(ctx context.Context, sess *session.Session) {
	defer s.handlers.Done()

	log := s.logger.With(
		logger.Field{Key: "session_id", Value: sess.ID()},
		logger.Field{Key: "trace_id", Value: sess.TraceID()},
		logger.Field{Key: "remote_addr", Value: sess.RemoteAddr()},
	)
	log.Info("connection accepted")

	reason := s.serveSession(ctx, sess, log)
	s.finish(sess, reason, log)
}

// serveSession runs the read/process/respond loop. Responses are written
// before the next read, so a session never has more than one request in
// flight.
func (s *TCPServer) serveSession(ctx context.Context, sess *session.Session, log logger.Logger) string {
	conn := sess.Conn()
	reader := bufio.NewReaderSize(conn, min(s.cfg.MaxLineBytes+1, 4096))
	writer := bufio.NewWriter(conn)

	for s.State() == Running && !sess.IsClosed() {
		if err := conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout)); err != nil {
			return s.readFailure(sess, err, log)
		}

		line, err := readLine(reader, s.cfg.MaxLineBytes)
		if err != nil {
			// a final unterminated line is still a message
			if errors.Is(err, io.EOF) && line != "" && !sess.IsClosed() {
				if reason, ok := s.respond(ctx, sess, writer, line, log); !ok {
					return reason
				}
			}
			return s.readFailure(sess, err, log)
		}

		message := strings.TrimSuffix(line, string(messageDelimiter))
		if reason, ok := s.respond(ctx, sess, writer, message, log); !ok {
			return reason
		}
	}

	if sess.IsClosed() {
		return reasonClosedByServer
	}
	return reasonShutdown
}

// readLine reads up to and including the next delimiter, holding at most
// limit message bytes in memory. A longer line fails with errLineTooLong
// before the rest of it is read. At EOF the partial line is returned with
// the error, like bufio.Reader.ReadString.
func readLine(r *bufio.Reader, limit int) (string, error) {
	var line []byte
	for {
		frag, err := r.ReadSlice(messageDelimiter)
		line = append(line, frag...)

		size := len(line)
		if err == nil {
			size-- // delimiter
		}
		if size > limit {
			return "", errLineTooLong
		}

		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		return string(line), err
	}
}

// respond processes one message and writes the response line.
//
// Returns:
//   - The termination reason and false if the session must end
func (s *TCPServer) respond(ctx context.Context, sess *session.Session, w *bufio.Writer, message string, log logger.Logger) (string, bool) {
	log.Debug("message received", logger.Field{Key: "bytes", Value: len(message)})

	resp, err := processor.Invoke(ctx, s.processor, message)
	if err != nil {
		s.processorFaults.Add(1)
		log.Warn("processor failed", logger.Field{Key: "error", Value: err})
		return reasonProcessorFault, false
	}

	sess.Touch(time.Now())

	if sess.IsClosed() {
		return reasonClosedByServer, false
	}

	conn := sess.Conn()
	if s.cfg.WriteTimeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout)); err != nil {
			return s.writeFailure(sess, err, log), false
		}
	}

	if _, err := w.WriteString(resp); err != nil {
		return s.writeFailure(sess, err, log), false
	}
	if err := w.WriteByte(messageDelimiter); err != nil {
		return s.writeFailure(sess, err, log), false
	}
	if err := w.Flush(); err != nil {
		return s.writeFailure(sess, err, log), false
	}

	return "", true
}

// readFailure classifies a read error into a termination reason. Errors
// caused by our own close of the transport are expected and logged at debug.
func (s *TCPServer) readFailure(sess *session.Session, err error, log logger.Logger) string {
	switch {
	case s.closedByUs(sess, err):
		log.Debug("read interrupted by close", logger.Field{Key: "error", Value: err})
		return s.closeReason()
	case errors.Is(err, errLineTooLong):
		log.Warn("line too long", logger.Field{Key: "max_line_bytes", Value: s.cfg.MaxLineBytes})
		return reasonLineTooLong
	case errors.Is(err, io.EOF):
		return reasonPeerClosed
	case errors.Is(err, os.ErrDeadlineExceeded):
		s.idleTimeouts.Add(1)
		log.Info("client idle timeout", logger.Field{Key: "idle_timeout", Value: s.cfg.IdleTimeout.String()})
		return reasonIdleTimeout
	default:
		log.Warn("read failed", logger.Field{Key: "error", Value: err})
		return reasonReadError
	}
}

func (s *TCPServer) writeFailure(sess *session.Session, err error, log logger.Logger) string {
	if s.closedByUs(sess, err) {
		log.Debug("write interrupted by close", logger.Field{Key: "error", Value: err})
		return s.closeReason()
	}

	log.Warn("write failed", logger.Field{Key: "error", Value: err})
	return reasonWriteError
}

func (s *TCPServer) closedByUs(sess *session.Session, err error) bool {
	return sess.IsClosed() || (s.State() != Running && errors.Is(err, net.ErrClosed))
}

func (s *TCPServer) closeReason() string {
	if s.State() != Running {
		return reasonShutdown
	}
	return reasonClosedByServer
}

// finish closes the transport, removes the session from the registry if it
// is still there and emits the closed-connection event.
func (s *TCPServer) finish(sess *session.Session, reason string, log logger.Logger) {
	if _, err := sess.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		log.Debug("transport close failed", logger.Field{Key: "error", Value: err})
	}

	s.sessions.Unregister(sess.ID())

	log.Info("connection closed",
		logger.Field{Key: "reason", Value: reason},
		logger.Field{Key: "duration", Value: time.Since(sess.ConnectedAt()).String()})
}
