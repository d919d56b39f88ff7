package process

import (
	"errors"
	"fmt"
)

// ErrSpawn matches every SpawnError via errors.Is.
var ErrSpawn = errors.New("spawn failed")

// SpawnError reports that a child could not be started, or that its
// output plumbing failed while it ran.
type SpawnError struct {
	Name string
	Err  error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("process %s: %v", e.Name, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

func (e *SpawnError) Is(target error) bool { return target == ErrSpawn }
