package errors

import "github.com/pkg/errors"

var (
	// common errors
	ErrAccountNotFound = errors.New("account not found")
	ErrAccountExists   = errors.New("account already exists")
	ErrFolderNotFound  = errors.New("folder not found")

	// sync errors
	ErrRetryExhausted  = errors.New("token reset retry exhausted")
	ErrPushUnsupported = errors.New("push not supported by server")
	ErrNoNetwork       = errors.New("no network path available")
)
