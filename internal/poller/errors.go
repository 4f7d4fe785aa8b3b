package poller

import (
	"errors"
	"fmt"
)

var (
	ErrAlreadySubscribed = errors.New("already subscribed")
	ErrNotSubscribed     = errors.New("not subscribed")
	ErrAlreadyRunning    = errors.New("already running")
	ErrNotRunning        = errors.New("not running")
	ErrClosed            = errors.New("poller closed")
)

// ConflictError reports an operation refused because of the destination's
// current state. Nothing was changed.
type ConflictError struct {
	Op  string
	Key string
	Err error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Key, e.Err)
}

func (e *ConflictError) Unwrap() error { return e.Err }

func conflict(op, key string, err error) error {
	return &ConflictError{Op: op, Key: key, Err: err}
}

// IsConflict reports whether err is a state conflict rather than a failure.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}
