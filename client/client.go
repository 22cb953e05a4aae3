// Package client provides a line-oriented TCP client for rediminute servers.
// Each request is one line out followed by one line back.
package client

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"
)

var (
	// ErrNotConnected is returned by I/O calls made before Connect succeeds
	// or after the server closed the connection.
	ErrNotConnected = errors.New("client: not connected")
	// ErrClosed is returned by every call made after Close.
	ErrClosed = errors.New("client: closed")
)

const lineDelimiter = '\n'

// ConnectionState represents the current state of the connection.
type ConnectionState int

const (
	Disconnected ConnectionState = iota // Not connected; Connect may be called
	Connecting                          // Dial in progress
	Connected                           // Ready for requests
	Closed                              // Close was called; the client cannot be reused
)

// String returns a human-readable name for the connection state.
func (cs ConnectionState) String() string {
	switch cs {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Config holds configuration for the client.
type Config struct {
	// Address is the "host:port" to connect to.
	Address string
	// ConnectionTimeout is the max duration for establishing the connection.
	ConnectionTimeout time.Duration
	// ReadTimeout bounds the wait for each response line; 0 means no bound.
	ReadTimeout time.Duration
	// WriteTimeout bounds each request write; 0 means no bound.
	WriteTimeout time.Duration
}

// DefaultConfig returns a Config with default values for the given address.
//
// Parameters:
//   - address: The "host:port" to connect to
//
// Returns:
//   - A Config with ConnectionTimeout 10s, ReadTimeout 30s and WriteTimeout 10s
func DefaultConfig(address string) Config {
	return Config{
		Address:           address,
		ConnectionTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

// Client is a line-oriented TCP client. It is safe for concurrent use;
// concurrent Requests are serialized so responses are never interleaved.
type Client struct {
	config Config

	mu     sync.RWMutex
	conn   net.Conn
	reader *bufio.Reader
	state  ConnectionState

	// reqMu serializes request/response pairs.
	reqMu sync.Mutex
}

// New creates a Disconnected client; call Connect before sending.
func New(config Config) *Client {
	return &Client{config: config, state: Disconnected}
}

// Dial creates a client and connects it.
//
// Returns:
//   - The connected client, or an error from Connect
func Dial(config Config) (*Client, error) {
	c := New(config)
	if err := c.Connect(); err != nil {
		return nil, err
	}

	return c, nil
}

// Connect dials the configured address.
//
// Returns:
//   - nil on success
//   - ErrClosed after Close, or an error if already connected or the dial fails
func (c *Client) Connect() error {
	c.mu.Lock()
	switch c.state {
	case Closed:
		c.mu.Unlock()
		return ErrClosed
	case Connected, Connecting:
		c.mu.Unlock()
		return fmt.Errorf("client: already connected or connecting to %s", c.config.Address)
	}
	c.state = Connecting
	c.mu.Unlock()

	dialer := net.Dialer{Timeout: c.config.ConnectionTimeout}
	conn, err := dialer.Dial("tcp", c.config.Address)

	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil {
		if c.state == Connecting {
			c.state = Disconnected
		}
		return fmt.Errorf("client: dial %s: %w", c.config.Address, err)
	}

	// Close won the race while dialing.
	if c.state == Closed {
		_ = conn.Close()
		return ErrClosed
	}

	c.conn = conn
	c.reader = bufio.NewReader(conn)
	c.state = Connected
	return nil
}

// State returns the current connection state.
func (c *Client) State() ConnectionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// IsConnected returns true if the client is in Connected state.
func (c *Client) IsConnected() bool {
	return c.State() == Connected
}

// LocalAddr returns the local address of the connection, or nil when not
// connected.
func (c *Client) LocalAddr() net.Addr {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.conn == nil {
		return nil
	}
	return c.conn.LocalAddr()
}

// Send writes message followed by the line delimiter. Embedded newlines are
// rejected since they would split the message on the server side.
//
// Parameters:
//   - message: The request line without its delimiter
//
// Returns:
//   - nil on success; ErrNotConnected, ErrClosed or the write error otherwise
func (c *Client) Send(message string) error {
	if strings.ContainsRune(message, lineDelimiter) {
		return fmt.Errorf("client: message contains a line delimiter")
	}

	conn, _, err := c.current()
	if err != nil {
		return err
	}

	if c.config.WriteTimeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout)); err != nil {
			return err
		}
		defer func() {
			_ = conn.SetWriteDeadline(time.Time{})
		}()
	}

	if _, err := io.WriteString(conn, message+string(lineDelimiter)); err != nil {
		return c.fail(conn, err)
	}

	return nil
}

// ReadLine reads the next response line, without its delimiter.
//
// Returns:
//   - The line, or io.EOF once the server has closed the connection
func (c *Client) ReadLine() (string, error) {
	conn, reader, err := c.current()
	if err != nil {
		return "", err
	}

	if c.config.ReadTimeout > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout)); err != nil {
			return "", err
		}
	}

	line, err := reader.ReadString(lineDelimiter)
	if err != nil {
		if errors.Is(err, io.EOF) && line != "" {
			return line, nil
		}
		return "", c.fail(conn, err)
	}

	return strings.TrimSuffix(line, string(lineDelimiter)), nil
}

// Request sends message and waits for its response line.
//
// Parameters:
//   - message: The request line without its delimiter
//
// Returns:
//   - The response line, or the first error from Send or ReadLine
func (c *Client) Request(message string) (string, error) {
	c.reqMu.Lock()
	defer c.reqMu.Unlock()

	if err := c.Send(message); err != nil {
		return "", err
	}

	return c.ReadLine()
}

// Close closes the connection. The client is unusable afterwards.
// Idempotent; later calls return nil.
//
// Returns:
//   - The error from closing the connection, if any
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == Closed {
		return nil
	}

	c.state = Closed
	if c.conn == nil {
		return nil
	}

	err := c.conn.Close()
	c.conn = nil
	c.reader = nil
	return err
}

func (c *Client) current() (net.Conn, *bufio.Reader, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	switch {
	case c.state == Closed:
		return nil, nil, ErrClosed
	case c.state != Connected || c.conn == nil:
		return nil, nil, ErrNotConnected
	}

	return c.conn, c.reader, nil
}

// fail drops conn after an I/O error so later calls report ErrNotConnected.
// io.EOF is passed through so callers can tell a server-side close apart.
func (c *Client) fail(conn net.Conn, err error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == Closed {
		return ErrClosed
	}

	if c.conn == conn {
		_ = conn.Close()
		c.conn = nil
		c.reader = nil
		c.state = Disconnected
	}

	return err
}
