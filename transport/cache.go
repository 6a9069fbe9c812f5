package transport

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"

	"github.com/syncstack/airsync/interfaces"
	"github.com/syncstack/airsync/internal/logger"
	"github.com/syncstack/airsync/internal/models"
)

type cacheEntry struct {
	client      *accountClient
	fingerprint string
}

// clientCache keeps one negotiated client per account. A client is rebuilt
// when its account's credentials, certificate or trust policy no longer
// match the fingerprint it was built from.
type clientCache struct {
	log      logger.Logger
	accounts interfaces.AccountRepository

	mu      sync.RWMutex
	clients map[string]*cacheEntry
}

func NewClientCache(accounts interfaces.AccountRepository, log logger.Logger) interfaces.ClientCache {
	return &clientCache{
		log:      log,
		accounts: accounts,
		clients:  make(map[string]*cacheEntry),
	}
}

func (cc *clientCache) Send(ctx context.Context, account *models.Account, command string, contentType string, body []byte) ([]byte, error) {
	client, err := cc.clientFor(account)
	if err != nil {
		return nil, &Error{Command: command, Err: err}
	}
	return client.send(ctx, command, contentType, body)
}

func (cc *clientCache) clientFor(account *models.Account) (*accountClient, error) {
	fp := accountFingerprint(account)

	cc.mu.RLock()
	entry, ok := cc.clients[account.ID]
	cc.mu.RUnlock()
	if ok && entry.fingerprint == fp {
		return entry.client, nil
	}

	cc.mu.Lock()
	defer cc.mu.Unlock()
	if entry, ok := cc.clients[account.ID]; ok {
		if entry.fingerprint == fp {
			return entry.client, nil
		}
		entry.client.close()
	}

	client, err := newAccountClient(account, cc.accounts, cc.log)
	if err != nil {
		return nil, err
	}
	cc.clients[account.ID] = &cacheEntry{client: client, fingerprint: fp}
	cc.log.Debugf("built transport client for account %s", account.ID)
	return client, nil
}

func (cc *clientCache) Invalidate(accountID string) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	if entry, ok := cc.clients[accountID]; ok {
		entry.client.close()
		delete(cc.clients, accountID)
	}
}

func (cc *clientCache) Close() {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	for id, entry := range cc.clients {
		entry.client.close()
		delete(cc.clients, id)
	}
}

func accountFingerprint(account *models.Account) string {
	h := sha256.New()
	h.Write([]byte(account.ServerURL))
	h.Write([]byte{0})
	h.Write([]byte(account.Username))
	h.Write([]byte{0})
	h.Write([]byte(account.Password))
	h.Write([]byte{0})
	h.Write([]byte(account.ClientCertPEM))
	h.Write([]byte{0})
	h.Write([]byte(account.ClientKeyPEM))
	h.Write([]byte{0})
	if account.TrustAllCerts {
		h.Write([]byte{1})
	}
	return hex.EncodeToString(h.Sum(nil))
}
