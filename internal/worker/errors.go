package worker

import (
	"errors"
	"fmt"
)

// ErrAgentExecution matches every failure of a worker run.
var ErrAgentExecution = errors.New("agent execution failed")

// SpawnError is returned when the worker process could not be started.
type SpawnError struct {
	Command string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn worker %s: %v", e.Command, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

func (e *SpawnError) Is(target error) bool { return target == ErrAgentExecution }

// ExitError is returned when the worker exits non-zero or is killed.
type ExitError struct {
	Code int
	// Stderr is a bounded excerpt for logs. It is never shown to end users.
	Stderr string
	// Reason is set when the gateway killed the worker (timeout, canceled).
	Reason string
}

func (e *ExitError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("worker %s (exit code %d)", e.Reason, e.Code)
	}
	return fmt.Sprintf("worker exited with code %d", e.Code)
}

func (e *ExitError) Is(target error) bool { return target == ErrAgentExecution }

// ParseError is returned when the worker output has no usable result.
type ParseError struct {
	Line   int
	Reason string
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("worker output line %d: %s", e.Line, e.Reason)
	}
	return "worker output: " + e.Reason
}

func (e *ParseError) Is(target error) bool { return target == ErrAgentExecution }
