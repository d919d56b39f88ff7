package readiness

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrTimeout       = errors.New("timed out waiting for output")
	ErrProcessExited = errors.New("process exited before becoming ready")
)

// TimeoutError means no matching line arrived within After.
type TimeoutError struct {
	Name  string
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: no matching output after %s", e.Name, e.After)
}

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

// ProcessExitedError means the process exited before printing a match.
type ProcessExitedError struct {
	Name string
	Code int
}

func (e *ProcessExitedError) Error() string {
	return fmt.Sprintf("%s exited with code %d before becoming ready", e.Name, e.Code)
}

func (e *ProcessExitedError) Is(target error) bool { return target == ErrProcessExited }
