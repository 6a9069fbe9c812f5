package interfaces

import (
	"context"

	"github.com/syncstack/airsync/internal/models"
)

// CommandSender issues one protocol command and returns the raw response
// body. Implementations own authentication, TLS policy and timeouts;
// callers own encoding and decoding.
type CommandSender interface {
	Send(ctx context.Context, account *models.Account, command string, contentType string, body []byte) ([]byte, error)
}

// ClientCache hands out one cached sender per account and rebuilds it
// wholesale when credentials or trust policy change.
type ClientCache interface {
	CommandSender
	Invalidate(accountID string)
	Close()
}
