// Package errors defines the error kinds surfaced by the sampling engine and
// helpers to classify them.
package errors

import (
	"errors"
	"fmt"
)

var (
	ErrConfiguration      = errors.New("invalid configuration")
	ErrDrawExhausted      = errors.New("constrained draw exhausted")
	ErrDegenerateCluster  = errors.New("degenerate cluster")
	ErrNumericInstability = errors.New("numeric instability")
	ErrInvalidInput       = errors.New("invalid input")
)

// Exit codes returned by the CLI for each error kind.
const (
	ExitOK            = 0
	ExitFailure       = 1
	ExitConfiguration = 2
	ExitDrawExhausted = 3
)

// SamplerError attaches a message and, when known, the iteration at which the
// failure happened to one of the sentinel kinds above.
type SamplerError struct {
	Err       error
	Message   string
	Iteration int
}

func (e *SamplerError) Error() string {
	if e.Iteration >= 0 {
		return fmt.Sprintf("%s at iteration %d: %s", e.Err.Error(), e.Iteration, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *SamplerError) Unwrap() error {
	return e.Err
}

func New(sentinel error, message string) *SamplerError {
	return &SamplerError{
		Err:       sentinel,
		Message:   message,
		Iteration: -1,
	}
}

func Newf(sentinel error, format string, args ...any) *SamplerError {
	return &SamplerError{
		Err:       sentinel,
		Message:   fmt.Sprintf(format, args...),
		Iteration: -1,
	}
}

// AtIteration returns a copy of err tagged with the given iteration. Errors
// that are not a *SamplerError are wrapped unchanged.
func AtIteration(err error, iteration int) error {
	var se *SamplerError
	if errors.As(err, &se) {
		tagged := *se
		tagged.Iteration = iteration
		return &tagged
	}
	return fmt.Errorf("iteration %d: %w", iteration, err)
}

// ExitCode maps an error to the process exit code used by the CLI.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, ErrConfiguration), errors.Is(err, ErrInvalidInput):
		return ExitConfiguration
	case errors.Is(err, ErrDrawExhausted):
		return ExitDrawExhausted
	default:
		return ExitFailure
	}
}

// Is and As re-export the standard helpers so callers need a single import.
func Is(err, target error) bool { return errors.Is(err, target) }

func As(err error, target any) bool { return errors.As(err, target) }
