package transport

import (
	"fmt"

	"github.com/pkg/errors"
)

// Error marks a failure below the protocol layer: connection, TLS,
// authentication or an HTTP status outside the success range. The sync
// engine treats these differently from protocol status errors, which carry
// token semantics.
type Error struct {
	Command    string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("transport: %s returned http %d", e.Command, e.StatusCode)
	}
	return fmt.Sprintf("transport: %s failed: %v", e.Command, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// AuthFailed reports a credential rejection after the full negotiation,
// including the Basic fallback.
func (e *Error) AuthFailed() bool {
	return e.StatusCode == 401 || e.StatusCode == 403
}

// ProvisionRequired reports the status some servers use to demand a policy
// key before serving any other command.
func (e *Error) ProvisionRequired() bool {
	return e.StatusCode == 449
}

func IsTransportError(err error) (*Error, bool) {
	var te *Error
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}
