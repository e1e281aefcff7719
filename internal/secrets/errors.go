package secrets

import (
	"errors"
	"fmt"
)

var (
	ErrForbidden  = errors.New("secrets: forbidden")
	ErrNotHost    = errors.New("secrets: host only")
	ErrNotMember  = errors.New("secrets: not a member of the room")
	ErrNotFound   = errors.New("secrets: room not found")
	ErrNoRole     = errors.New("secrets: no role dealt")
	ErrWrongPhase = errors.New("secrets: not allowed in the current phase")
	ErrBadRequest = errors.New("secrets: bad request")
)

// QuorumError is returned by the finalize calls while submissions are still
// missing. Nothing is consumed; the host retries.
type QuorumError struct {
	Have int
	Want int
}

func (e *QuorumError) Error() string {
	return fmt.Sprintf("secrets: waiting for %d/%d", e.Have, e.Want)
}

func (e *QuorumError) Retryable() bool { return true }

// IsRetryable reports whether err is worth retrying as is.
func IsRetryable(err error) bool {
	var q *QuorumError
	return errors.As(err, &q)
}

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrBadRequest, fmt.Sprintf(format, args...))
}
