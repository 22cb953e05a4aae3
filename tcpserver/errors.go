package tcpserver

import (
	"errors"
	"fmt"
)

// ErrServerRunning is returned by Start when the server is not Stopped.
var ErrServerRunning = errors.New("server already running")

// BindError reports that the listening socket could not be created, for
// example because the address is in use, not permitted or malformed. It is
// fatal: the server stays Stopped.
type BindError struct {
	Addr string
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("bind %s: %v", e.Addr, e.Err)
}

func (e *BindError) Unwrap() error { return e.Err }
