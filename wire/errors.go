package wire

import (
	"fmt"

	"github.com/pkg/errors"
)

// CodecError reports malformed wire data. Identity and continuation-token
// fields are never silently defaulted; a response missing them decodes to a
// CodecError instead.
type CodecError struct {
	Op     string
	Reason string
}

func (e *CodecError) Error() string {
	return fmt.Sprintf("codec %s: %s", e.Op, e.Reason)
}

func codecErr(op, format string, args ...interface{}) error {
	return &CodecError{Op: op, Reason: fmt.Sprintf(format, args...)}
}

func IsCodecError(err error) bool {
	var ce *CodecError
	return errors.As(err, &ce)
}

// ProtocolStatusError is a well-formed response reporting a server-side
// rejection. Retryable statuses are handled locally by the state machines;
// terminal ones abort the episode.
type ProtocolStatusError struct {
	Command string
	Status  Status
	Raw     int
}

func (e *ProtocolStatusError) Error() string {
	return fmt.Sprintf("%s rejected: %s (status %d)", e.Command, e.Status, e.Raw)
}

func (e *ProtocolStatusError) Retryable() bool {
	return e.Status == StatusInvalidToken || e.Status == StatusHeartbeatOutOfBounds
}

func IsProtocolStatus(err error, status Status) bool {
	var pe *ProtocolStatusError
	if !errors.As(err, &pe) {
		return false
	}
	return pe.Status == status
}
