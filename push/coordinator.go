package push

import (
	"context"
	"sync"
	"time"

	"github.com/jpillora/backoff"
	"github.com/opentracing/opentracing-go"

	"github.com/syncstack/airsync/dto"
	"github.com/syncstack/airsync/interfaces"
	"github.com/syncstack/airsync/internal/enum"
	"github.com/syncstack/airsync/internal/logger"
	"github.com/syncstack/airsync/internal/models"
	"github.com/syncstack/airsync/internal/tracing"
	"github.com/syncstack/airsync/wire"
)

const (
	// maxConsecutiveErrors ends the loop; the account falls back to
	// scheduled polling.
	maxConsecutiveErrors = 3

	// fastResponseFloor flags servers that answer a long-held request
	// immediately without reporting changes. Three in a row means the server
	// does not actually hold the connection and push is useless.
	fastResponseFloor       = 3 * time.Second
	maxConsecutiveFastPolls = 3

	// responseGrace pads the request deadline past the heartbeat so a
	// server answering at the wire-level limit is not cut off.
	responseGrace = 30 * time.Second
)

type loopHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Coordinator owns one long-poll loop per push-mode account. Loops are
// started and stopped individually; at most one loop per account is active
// at any time.
type Coordinator struct {
	log       logger.Logger
	accounts  interfaces.AccountRepository
	store     interfaces.Store
	engine    interfaces.Syncer
	sender    interfaces.ClientCache
	publisher interfaces.EventPublisher
	network   interfaces.NetworkMonitor

	// onFallback, when set, fires after an account is ruled out for push so
	// the scheduler can re-arm its timer for it immediately.
	onFallback func()

	mu          sync.Mutex
	loops       map[string]*loopHandle
	statuses    map[string]string
	unsupported map[string]bool
}

func NewCoordinator(
	accounts interfaces.AccountRepository,
	store interfaces.Store,
	engine interfaces.Syncer,
	sender interfaces.ClientCache,
	publisher interfaces.EventPublisher,
	network interfaces.NetworkMonitor,
	log logger.Logger,
) *Coordinator {
	return &Coordinator{
		log:         log,
		accounts:    accounts,
		store:       store,
		engine:      engine,
		sender:      sender,
		publisher:   publisher,
		network:     network,
		loops:       make(map[string]*loopHandle),
		statuses:    make(map[string]string),
		unsupported: make(map[string]bool),
	}
}

// SetFallbackHandler registers the hook invoked whenever an account falls
// back from push to scheduled sync. Set once during wiring, before Start.
func (c *Coordinator) SetFallbackHandler(fn func()) {
	c.onFallback = fn
}

// Start launches loops for every push-mode account currently configured.
func (c *Coordinator) Start(ctx context.Context) error {
	accounts, err := c.accounts.GetAccounts(ctx)
	if err != nil {
		return err
	}
	for _, account := range accounts {
		if account.PushCapable() {
			c.StartAccount(ctx, account)
		}
	}
	return nil
}

// StartAccount begins the push loop for one account. A no-op when a loop is
// already running or push was previously found unsupported for the account.
func (c *Coordinator) StartAccount(ctx context.Context, account *models.Account) {
	c.mu.Lock()
	if _, running := c.loops[account.ID]; running {
		c.mu.Unlock()
		return
	}
	if c.unsupported[account.ID] {
		c.mu.Unlock()
		c.log.Infof("push previously marked unsupported for account %s, not starting loop", account.ID)
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	handle := &loopHandle{cancel: cancel, done: make(chan struct{})}
	c.loops[account.ID] = handle
	c.statuses[account.ID] = "starting"
	c.mu.Unlock()

	go c.run(loopCtx, account, handle)
}

// StopAccount cancels the account's loop, waits for it to wind down and
// releases the cached transport client. Safe to call for accounts without a
// loop.
func (c *Coordinator) StopAccount(accountID string) {
	c.mu.Lock()
	handle, ok := c.loops[accountID]
	c.mu.Unlock()
	if !ok {
		return
	}
	handle.cancel()
	<-handle.done
	c.sender.Invalidate(accountID)
}

// Stop winds down every loop.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	handles := make([]*loopHandle, 0, len(c.loops))
	ids := make([]string, 0, len(c.loops))
	for id, h := range c.loops {
		handles = append(handles, h)
		ids = append(ids, id)
	}
	c.mu.Unlock()

	for i, h := range handles {
		h.cancel()
		<-h.done
		c.sender.Invalidate(ids[i])
	}
}

// Status reports the current phase of each known loop.
func (c *Coordinator) Status() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]string, len(c.statuses))
	for id, s := range c.statuses {
		out[id] = s
	}
	return out
}

// PushSupported reports whether the account has not been ruled out for push.
// The scheduler folds unsupported push accounts back into its interval
// computation.
func (c *Coordinator) PushSupported(accountID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.unsupported[accountID]
}

// ForgetAccount clears loop bookkeeping after an account is deleted.
func (c *Coordinator) ForgetAccount(accountID string) {
	c.StopAccount(accountID)
	c.mu.Lock()
	delete(c.statuses, accountID)
	delete(c.unsupported, accountID)
	c.mu.Unlock()
}

func (c *Coordinator) run(ctx context.Context, account *models.Account, handle *loopHandle) {
	defer close(handle.done)
	defer func() {
		c.mu.Lock()
		delete(c.loops, account.ID)
		c.mu.Unlock()
	}()
	defer tracing.RecoverAndLogToJaeger(c.log)

	c.log.Infof("starting push loop for account %s", account.ID)

	// A Ping cannot reference uninitialized folders, so every loop begins
	// with one full pass.
	c.setStatus(account.ID, "initial sync")
	if err := c.fullPass(ctx, account); err != nil {
		if ctx.Err() != nil {
			c.setStatus(account.ID, "stopped")
			return
		}
		// An account whose loop dies here would be served by neither push
		// nor polling, so hand it to the scheduler. The flag clears on the
		// next restart, which retries push.
		c.log.Errorf("initial sync pass failed for account %s: %v", account.ID, err)
		c.markUnsupported(ctx, account)
		return
	}

	hb := newHeartbeat()
	errStreak := 0
	fastStreak := 0
	reconnect := &backoff.Backoff{Min: 5 * time.Second, Max: 2 * time.Minute, Factor: 2, Jitter: true}

	for {
		if ctx.Err() != nil {
			c.setStatus(account.ID, "stopped")
			return
		}

		if !c.network.Online() {
			// Offline time never counts against the error budget.
			c.setStatus(account.ID, "offline")
			if err := c.network.AwaitOnline(ctx); err != nil {
				c.setStatus(account.ID, "stopped")
				return
			}
			continue
		}

		folders, err := c.pingableFolders(ctx, account)
		if err != nil {
			if ctx.Err() != nil {
				c.setStatus(account.ID, "stopped")
				return
			}
			c.log.Errorf("failed to list folders for account %s: %v", account.ID, err)
			c.markUnsupported(ctx, account)
			return
		}
		if len(folders) == 0 {
			if err := c.fullPass(ctx, account); err != nil && ctx.Err() == nil {
				c.log.Errorf("sync pass failed for account %s: %v", account.ID, err)
			}
			continue
		}

		c.setStatus(account.ID, "waiting")
		started := time.Now()
		resp, err := c.ping(ctx, account, hb, folders)
		elapsed := time.Since(started)

		if err != nil {
			if ctx.Err() != nil {
				c.setStatus(account.ID, "stopped")
				return
			}
			errStreak++
			hb.shrink()
			c.log.Warnf("ping failed for account %s (%d consecutive): %v", account.ID, errStreak, err)
			if errStreak >= maxConsecutiveErrors {
				c.markUnsupported(ctx, account)
				return
			}
			sleepCtx(ctx, reconnect.Duration())
			continue
		}
		reconnect.Reset()

		switch resp.Status {
		case wire.StatusNoChanges:
			if elapsed < fastResponseFloor {
				fastStreak++
				if fastStreak >= maxConsecutiveFastPolls {
					c.log.Warnf("server answers heartbeat immediately for account %s, treating push as unsupported", account.ID)
					c.markUnsupported(ctx, account)
					return
				}
			} else {
				fastStreak = 0
			}
			errStreak = 0
			hb.success()

		case wire.StatusChangesFound:
			fastStreak = 0
			errStreak = 0
			c.setStatus(account.ID, "syncing")
			c.syncChanged(ctx, account, folders, resp.ChangedFolders)
			hb.success()

		case wire.StatusHeartbeatOutOfBounds:
			hb.shrink()
			c.log.Infof("server rejected heartbeat for account %s, retrying at %s", account.ID, hb.duration())

		case wire.StatusFolderStale:
			if _, err := c.engine.SyncHierarchy(ctx, account); err != nil && ctx.Err() == nil {
				c.log.Errorf("hierarchy refresh failed for account %s: %v", account.ID, err)
			}

		default:
			errStreak++
			c.log.Warnf("ping rejected for account %s with status %s (%d consecutive)", account.ID, resp.Status, errStreak)
			hb.shrink()
			if errStreak >= maxConsecutiveErrors {
				c.markUnsupported(ctx, account)
				return
			}
		}
	}
}

func (c *Coordinator) ping(ctx context.Context, account *models.Account, hb *heartbeat, folders []*models.Folder) (*wire.PingResponse, error) {
	serverIDs := make([]string, 0, len(folders))
	for _, f := range folders {
		serverIDs = append(serverIDs, f.ServerID)
	}
	body, err := (&wire.PingRequest{HeartbeatSeconds: hb.seconds(), FolderServerIDs: serverIDs}).Encode()
	if err != nil {
		return nil, err
	}

	reqCtx, cancel := context.WithTimeout(ctx, hb.duration()+responseGrace)
	defer cancel()

	raw, err := c.sender.Send(reqCtx, account, wire.CmdPing, wire.FormatBinary.ContentType(), body)
	if err != nil {
		return nil, err
	}
	return wire.DecodePingResponse(raw)
}

// syncChanged runs a sync episode for each folder the server reported, then
// publishes the summarized outcomes.
func (c *Coordinator) syncChanged(ctx context.Context, account *models.Account, folders []*models.Folder, changedServerIDs []string) {
	byServerID := make(map[string]*models.Folder, len(folders))
	for _, f := range folders {
		byServerID[f.ServerID] = f
	}

	for _, serverID := range changedServerIDs {
		folder, known := byServerID[serverID]
		if !known {
			// An unknown folder in a ping answer means the hierarchy moved
			// under us.
			if _, err := c.engine.SyncHierarchy(ctx, account); err != nil && ctx.Err() == nil {
				c.log.Errorf("hierarchy refresh failed for account %s: %v", account.ID, err)
			}
			continue
		}
		outcome, err := c.engine.SyncFolder(ctx, account, folder)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.Errorf("push-triggered sync failed for folder %s: %v", folder.ID, err)
			if outcome != nil {
				outcome.Error = err.Error()
			}
		}
		if outcome != nil && c.publisher != nil {
			if perr := c.publisher.PublishFolderSynced(ctx, outcome); perr != nil {
				c.log.Warnf("failed to publish folder outcome for %s: %v", folder.ID, perr)
			}
		}
	}
}

func (c *Coordinator) fullPass(ctx context.Context, account *models.Account) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Coordinator.fullPass")
	defer span.Finish()
	tracing.TagComponentService(span)
	tracing.TagAccount(span, account.ID)

	folders, err := c.engine.SyncHierarchy(ctx, account)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	for _, folder := range folders {
		if !syncableType(folder.Type) {
			continue
		}
		if _, err := c.engine.SyncFolder(ctx, account, folder); err != nil {
			tracing.TraceErr(span, err)
			return err
		}
	}
	return nil
}

// pingableFolders returns the syncable folders holding a committed token.
func (c *Coordinator) pingableFolders(ctx context.Context, account *models.Account) ([]*models.Folder, error) {
	folders, err := c.store.ListFoldersByAccount(ctx, account.ID)
	if err != nil {
		return nil, err
	}
	out := folders[:0]
	for _, f := range folders {
		if f.Initialized() && syncableType(f.Type) {
			out = append(out, f)
		}
	}
	return out, nil
}

func (c *Coordinator) markUnsupported(ctx context.Context, account *models.Account) {
	c.mu.Lock()
	c.unsupported[account.ID] = true
	c.mu.Unlock()
	c.setStatus(account.ID, "push unsupported")
	c.log.Warnf("push marked unsupported for account %s, scheduler takes over", account.ID)

	if c.publisher != nil {
		outcome := &dto.PassOutcome{AccountID: account.ID, Error: "push unsupported, falling back to scheduled sync"}
		if err := c.publisher.PublishSyncCompleted(ctx, outcome); err != nil {
			c.log.Warnf("failed to publish push fallback event for account %s: %v", account.ID, err)
		}
	}
	if c.onFallback != nil {
		c.onFallback()
	}
}

func (c *Coordinator) setStatus(accountID, status string) {
	c.mu.Lock()
	c.statuses[accountID] = status
	c.mu.Unlock()
}

func syncableType(t enum.FolderType) bool {
	for _, s := range enum.SyncableFolderTypes {
		if s == t {
			return true
		}
	}
	return false
}

func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
