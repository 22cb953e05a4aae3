// Package processor defines the per-message transform the server applies to
// every line it receives, plus the stock implementations.
package processor

import (
	"context"
	"errors"
	"fmt"
)

// ErrProcessorPanic wraps a panic raised by a Processor.
var ErrProcessorPanic = errors.New("processor panicked")

// Processor turns one received message into one response. Implementations
// are shared by every session and must be safe for concurrent use.
type Processor interface {
	Process(ctx context.Context, message string) (string, error)
}

// Func adapts a plain function to the Processor interface.
type Func func(ctx context.Context, message string) (string, error)

// Process implements Processor.
func (f Func) Process(ctx context.Context, message string) (string, error) {
	return f(ctx, message)
}

// Echo returns every message unchanged.
var Echo Processor = Func(func(_ context.Context, message string) (string, error) {
	return message, nil
})

// Invoke calls p and converts a panic into an error wrapping
// ErrProcessorPanic, so that a faulty processor only affects the caller.
//
// Parameters:
//   - ctx: Context passed through to the processor
//   - p: The processor to call
//   - message: The decoded message
//
// Returns:
//   - The processor's response
//   - The processor's error, or an ErrProcessorPanic error
func Invoke(ctx context.Context, p Processor, message string) (resp string, err error) {
	defer func() {
		if r := recover(); r != nil {
			resp = ""
			err = fmt.Errorf("%w: %v", ErrProcessorPanic, r)
		}
	}()

	return p.Process(ctx, message)
}
