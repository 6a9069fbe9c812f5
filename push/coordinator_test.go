package push

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syncstack/airsync/dto"
	"github.com/syncstack/airsync/internal/enum"
	"github.com/syncstack/airsync/internal/logger"
	"github.com/syncstack/airsync/internal/models"
)

func testLogger() logger.Logger {
	appLogger := logger.NewAppLogger(&logger.Config{DevMode: true})
	appLogger.InitLogger()
	return appLogger
}

// pingRespBytes frames a server Ping answer the way the wire codec expects.
func pingRespBytes(status string, changed []string) []byte {
	var b bytes.Buffer
	b.Write([]byte{0x03, 0x01, 0x6A, 0x00})
	b.Write([]byte{0x00, 0x02}) // switch to the ping code page
	b.WriteByte(0x05 | 0x40)    // Ping
	writeVal := func(tag byte, s string) {
		b.WriteByte(tag | 0x40)
		b.WriteByte(0x03)
		b.WriteString(s)
		b.WriteByte(0x00)
		b.WriteByte(0x01)
	}
	writeVal(0x06, status)
	if len(changed) > 0 {
		b.WriteByte(0x08 | 0x40) // Folders
		for _, id := range changed {
			writeVal(0x09, id)
		}
		b.WriteByte(0x01)
	}
	b.WriteByte(0x01)
	return b.Bytes()
}

type fakeSyncer struct {
	mu             sync.Mutex
	folders        []*models.Folder
	hierarchyErr   error
	hierarchyCalls int
	folderCalls    []string

	onSyncFolder    func(calls int)
	onSyncHierarchy func(calls int)
}

func (f *fakeSyncer) SyncHierarchy(_ context.Context, _ *models.Account) ([]*models.Folder, error) {
	f.mu.Lock()
	f.hierarchyCalls++
	calls := f.hierarchyCalls
	hook := f.onSyncHierarchy
	f.mu.Unlock()
	if hook != nil {
		hook(calls)
	}
	if f.hierarchyErr != nil {
		return nil, f.hierarchyErr
	}
	return f.folders, nil
}

func (f *fakeSyncer) SyncFolder(_ context.Context, account *models.Account, folder *models.Folder) (*dto.SyncOutcome, error) {
	f.mu.Lock()
	f.folderCalls = append(f.folderCalls, folder.ServerID)
	calls := len(f.folderCalls)
	hook := f.onSyncFolder
	f.mu.Unlock()
	if hook != nil {
		hook(calls)
	}
	return &dto.SyncOutcome{AccountID: account.ID, FolderID: folder.ID, NewItems: 1}, nil
}

// fakeCache serves scripted ping bodies and records invalidations.
type fakeCache struct {
	mu          sync.Mutex
	queues      map[string][][]byte
	invalidated []string
}

func newFakeCache() *fakeCache {
	return &fakeCache{queues: make(map[string][][]byte)}
}

func (f *fakeCache) queue(command string, body []byte) {
	f.queues[command] = append(f.queues[command], body)
}

func (f *fakeCache) Send(_ context.Context, _ *models.Account, command string, _ string, _ []byte) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if q := f.queues[command]; len(q) > 0 {
		body := q[0]
		f.queues[command] = q[1:]
		return body, nil
	}
	return nil, fmt.Errorf("no scripted response for %s", command)
}

func (f *fakeCache) Invalidate(accountID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidated = append(f.invalidated, accountID)
}

func (f *fakeCache) Close() {}

type pushStore struct {
	folders []*models.Folder
}

func (s *pushStore) UpsertFolder(context.Context, *models.Folder) error { return nil }
func (s *pushStore) UpsertItemsAndDeletions(context.Context, string, *dto.Changeset, string) error {
	return nil
}
func (s *pushStore) GetFolderToken(context.Context, string) (string, error) { return "0", nil }
func (s *pushStore) ListFoldersByAccount(context.Context, string) ([]*models.Folder, error) {
	return s.folders, nil
}
func (s *pushStore) DeleteFolder(context.Context, string) error                  { return nil }
func (s *pushStore) ResetFolderTokens(context.Context, string) error             { return nil }
func (s *pushStore) DeleteItemsNotIn(context.Context, string, []string) (int64, error) {
	return 0, nil
}
func (s *pushStore) GetHierarchyToken(context.Context, string) (string, error) { return "0", nil }
func (s *pushStore) SaveHierarchyToken(context.Context, string, string) error  { return nil }

type onlineNetwork struct{}

func (onlineNetwork) Online() bool                          { return true }
func (onlineNetwork) AwaitOnline(ctx context.Context) error { return ctx.Err() }

type capturePublisher struct {
	mu             sync.Mutex
	folderOutcomes []*dto.SyncOutcome
	passOutcomes   []*dto.PassOutcome
}

func (p *capturePublisher) PublishSyncCompleted(_ context.Context, outcome *dto.PassOutcome) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.passOutcomes = append(p.passOutcomes, outcome)
	return nil
}

func (p *capturePublisher) PublishFolderSynced(_ context.Context, outcome *dto.SyncOutcome) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.folderOutcomes = append(p.folderOutcomes, outcome)
	return nil
}

func (p *capturePublisher) Close() error { return nil }

type pushAccountsStub struct {
	accounts []*models.Account
}

func (s *pushAccountsStub) GetAccounts(context.Context) ([]*models.Account, error) {
	return s.accounts, nil
}
func (s *pushAccountsStub) GetAccount(context.Context, string) (*models.Account, error) {
	return nil, nil
}
func (s *pushAccountsStub) SaveAccount(context.Context, *models.Account) error { return nil }
func (s *pushAccountsStub) DeleteAccount(context.Context, string) error        { return nil }
func (s *pushAccountsStub) UpdateSyncStatus(context.Context, string, string, string) error {
	return nil
}
func (s *pushAccountsStub) SavePolicyKey(context.Context, string, string) error { return nil }

func pushTestAccount() *models.Account {
	return &models.Account{
		ID:       "acct-1",
		SyncMode: enum.SyncModePush,
	}
}

func initializedFolder(account *models.Account, serverID string) *models.Folder {
	return &models.Folder{
		ID:        models.FolderID(account.ID, serverID),
		AccountID: account.ID,
		ServerID:  serverID,
		Type:      enum.FolderMail,
		SyncKey:   "3",
	}
}

func newTestCoordinator(syncer *fakeSyncer, cache *fakeCache, store *pushStore, publisher *capturePublisher) *Coordinator {
	return NewCoordinator(&pushAccountsStub{}, store, syncer, cache, publisher, onlineNetwork{}, testLogger())
}

func runLoop(ctx context.Context, cancel context.CancelFunc, c *Coordinator, account *models.Account) {
	handle := &loopHandle{cancel: cancel, done: make(chan struct{})}
	c.run(ctx, account, handle)
}

func TestRunSyncsChangedFolders(t *testing.T) {
	// Arrange
	account := pushTestAccount()
	folder := initializedFolder(account, "5")
	syncer := &fakeSyncer{folders: []*models.Folder{folder}}
	store := &pushStore{folders: []*models.Folder{folder}}
	cache := newFakeCache()
	cache.queue("Ping", pingRespBytes("2", []string{"5"}))
	publisher := &capturePublisher{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	// The first SyncFolder call belongs to the initial pass; stop after the
	// push-triggered one.
	syncer.onSyncFolder = func(calls int) {
		if calls == 2 {
			cancel()
		}
	}

	c := newTestCoordinator(syncer, cache, store, publisher)

	// Act
	runLoop(ctx, cancel, c, account)

	// Assert
	assert.Equal(t, []string{"5", "5"}, syncer.folderCalls)
	require.Len(t, publisher.folderOutcomes, 1)
	assert.Equal(t, folder.ID, publisher.folderOutcomes[0].FolderID)
	assert.Equal(t, "stopped", c.Status()[account.ID])
	assert.True(t, c.PushSupported(account.ID))
}

func TestRunMarksUnsupportedAfterRejectedPings(t *testing.T) {
	account := pushTestAccount()
	folder := initializedFolder(account, "5")
	syncer := &fakeSyncer{folders: []*models.Folder{folder}}
	store := &pushStore{folders: []*models.Folder{folder}}
	cache := newFakeCache()
	for i := 0; i < maxConsecutiveErrors; i++ {
		cache.queue("Ping", pingRespBytes("8", nil))
	}
	publisher := &capturePublisher{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := newTestCoordinator(syncer, cache, store, publisher)
	var fallbacks int
	c.SetFallbackHandler(func() { fallbacks++ })

	runLoop(ctx, cancel, c, account)

	assert.False(t, c.PushSupported(account.ID))
	assert.Equal(t, "push unsupported", c.Status()[account.ID])
	require.Len(t, publisher.passOutcomes, 1)
	assert.Contains(t, publisher.passOutcomes[0].Error, "push unsupported")
	assert.Equal(t, 1, fallbacks)
}

func TestRunFailedInitialPassFallsBackToScheduler(t *testing.T) {
	// Arrange: the very first sync pass fails outright. The account must not
	// be stranded between a dead loop and a scheduler that still thinks push
	// serves it.
	account := pushTestAccount()
	syncer := &fakeSyncer{hierarchyErr: errors.New("server unreachable")}
	publisher := &capturePublisher{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := newTestCoordinator(syncer, newFakeCache(), &pushStore{}, publisher)
	var fallbacks int
	c.SetFallbackHandler(func() { fallbacks++ })

	// Act
	runLoop(ctx, cancel, c, account)

	// Assert
	assert.False(t, c.PushSupported(account.ID))
	assert.Equal(t, "push unsupported", c.Status()[account.ID])
	assert.Equal(t, 1, fallbacks)
}

func TestRunCancelledInitialPassStopsQuietly(t *testing.T) {
	// Cancellation during the initial pass is a stop, not a push failure.
	account := pushTestAccount()
	ctx, cancel := context.WithCancel(context.Background())
	syncer := &fakeSyncer{}
	syncer.onSyncHierarchy = func(int) { cancel() }
	syncer.hierarchyErr = context.Canceled

	c := newTestCoordinator(syncer, newFakeCache(), &pushStore{}, &capturePublisher{})
	var fallbacks int
	c.SetFallbackHandler(func() { fallbacks++ })

	runLoop(ctx, cancel, c, account)

	assert.True(t, c.PushSupported(account.ID))
	assert.Equal(t, "stopped", c.Status()[account.ID])
	assert.Zero(t, fallbacks)
}

func TestRunMarksUnsupportedOnImmediateAnswers(t *testing.T) {
	// A server that answers a long-held request instantly, three times in a
	// row, is not holding the connection at all.
	account := pushTestAccount()
	folder := initializedFolder(account, "5")
	syncer := &fakeSyncer{folders: []*models.Folder{folder}}
	store := &pushStore{folders: []*models.Folder{folder}}
	cache := newFakeCache()
	for i := 0; i < maxConsecutiveFastPolls; i++ {
		cache.queue("Ping", pingRespBytes("1", nil))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := newTestCoordinator(syncer, cache, store, &capturePublisher{})

	runLoop(ctx, cancel, c, account)

	assert.False(t, c.PushSupported(account.ID))
}

func TestRunStaleFolderRefreshesHierarchy(t *testing.T) {
	account := pushTestAccount()
	folder := initializedFolder(account, "5")
	syncer := &fakeSyncer{folders: []*models.Folder{folder}}
	store := &pushStore{folders: []*models.Folder{folder}}
	cache := newFakeCache()
	cache.queue("Ping", pingRespBytes("7", nil))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	// First hierarchy call is the initial pass; the second is the refresh.
	syncer.onSyncHierarchy = func(calls int) {
		if calls == 2 {
			cancel()
		}
	}

	c := newTestCoordinator(syncer, cache, store, &capturePublisher{})

	runLoop(ctx, cancel, c, account)

	assert.Equal(t, 2, syncer.hierarchyCalls)
}

func TestRunUnknownChangedFolderRefreshesHierarchy(t *testing.T) {
	// A ping naming a folder we do not know means the hierarchy moved.
	account := pushTestAccount()
	folder := initializedFolder(account, "5")
	syncer := &fakeSyncer{folders: []*models.Folder{folder}}
	store := &pushStore{folders: []*models.Folder{folder}}
	cache := newFakeCache()
	cache.queue("Ping", pingRespBytes("2", []string{"99"}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	syncer.onSyncHierarchy = func(calls int) {
		if calls == 2 {
			cancel()
		}
	}

	c := newTestCoordinator(syncer, cache, store, &capturePublisher{})

	runLoop(ctx, cancel, c, account)

	assert.Equal(t, 2, syncer.hierarchyCalls)
	// Only the initial pass synced the folder; the unknown id never did.
	assert.Equal(t, []string{"5"}, syncer.folderCalls)
}

func TestStartAccountSkipsUnsupported(t *testing.T) {
	account := pushTestAccount()
	c := newTestCoordinator(&fakeSyncer{}, newFakeCache(), &pushStore{}, &capturePublisher{})
	c.unsupported[account.ID] = true

	c.StartAccount(context.Background(), account)

	assert.Empty(t, c.loops)
}

func TestStopAccountWithoutLoopIsNoop(t *testing.T) {
	c := newTestCoordinator(&fakeSyncer{}, newFakeCache(), &pushStore{}, &capturePublisher{})

	c.StopAccount("missing")
}

func TestStartThenStopAccount(t *testing.T) {
	account := pushTestAccount()
	folder := initializedFolder(account, "5")
	syncer := &fakeSyncer{folders: []*models.Folder{folder}}
	store := &pushStore{folders: []*models.Folder{folder}}
	cache := newFakeCache()
	// One quiet heartbeat keeps the loop alive until it is stopped.
	cache.queue("Ping", pingRespBytes("1", nil))
	cache.queue("Ping", pingRespBytes("1", nil))

	synced := make(chan struct{})
	syncer.onSyncFolder = func(calls int) {
		if calls == 1 {
			close(synced)
		}
	}

	c := newTestCoordinator(syncer, cache, store, &capturePublisher{})

	c.StartAccount(context.Background(), account)
	<-synced
	c.StopAccount(account.ID)

	assert.Contains(t, cache.invalidated, account.ID)
	assert.Empty(t, c.loops)
}
