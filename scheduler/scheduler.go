package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	cronv3 "github.com/robfig/cron/v3"

	"github.com/syncstack/airsync/dto"
	"github.com/syncstack/airsync/interfaces"
	"github.com/syncstack/airsync/internal/enum"
	"github.com/syncstack/airsync/internal/logger"
	"github.com/syncstack/airsync/internal/models"
	"github.com/syncstack/airsync/internal/tracing"
	"github.com/syncstack/airsync/internal/utils"
)

// GroupSync serializes scheduled passes; a pass triggered manually through
// the API takes the same lock.
const GroupSync = "sync"

var jobLocks = struct {
	sync.Mutex
	locks map[string]*sync.Mutex
}{
	locks: map[string]*sync.Mutex{
		GroupSync: new(sync.Mutex),
	},
}

type Config struct {
	// MinIntervalMinutes floors every computed interval.
	MinIntervalMinutes int `env:"SYNC_MIN_INTERVAL_MINUTES" envDefault:"5"`
	// Night window stretches the interval while nobody is looking.
	NightIntervalMinutes int `env:"SYNC_NIGHT_INTERVAL_MINUTES" envDefault:"60"`
	NightStartHour       int `env:"SYNC_NIGHT_START_HOUR" envDefault:"23"`
	NightEndHour         int `env:"SYNC_NIGHT_END_HOUR" envDefault:"6"`
	// PassTimeoutMinutes bounds one full pass across all accounts.
	PassTimeoutMinutes int `env:"SYNC_PASS_TIMEOUT_MINUTES" envDefault:"30"`
	// FolderTimeoutMinutes bounds one folder; on expiry the folder is
	// skipped, not the pass.
	FolderTimeoutMinutes int `env:"SYNC_FOLDER_TIMEOUT_MINUTES" envDefault:"10"`
	MaxConcurrentFolders int `env:"SYNC_MAX_CONCURRENT_FOLDERS" envDefault:"4"`
	// DebounceSeconds drops passes arriving too close together, e.g. a
	// manual trigger racing the timer.
	DebounceSeconds int `env:"SYNC_DEBOUNCE_SECONDS" envDefault:"30"`
}

func (c Config) policy() IntervalPolicy {
	return IntervalPolicy{
		MinInterval:   time.Duration(c.MinIntervalMinutes) * time.Minute,
		NightInterval: time.Duration(c.NightIntervalMinutes) * time.Minute,
		NightStart:    c.NightStartHour,
		NightEnd:      c.NightEndHour,
	}
}

// PushChecker reports whether push currently serves an account. Accounts it
// answers false for are folded into the scheduled interval.
type PushChecker interface {
	PushSupported(accountID string) bool
}

// Coordinator runs the timer-driven full sync pass. The cron entry is
// re-registered after every pass from the recomputed effective interval, so
// account changes take effect without a restart.
type Coordinator struct {
	cfg       Config
	log       logger.Logger
	accounts  interfaces.AccountRepository
	engine    interfaces.Syncer
	publisher interfaces.EventPublisher
	push      PushChecker

	cron *cronv3.Cron

	mu       sync.Mutex
	jobID    cronv3.EntryID
	interval time.Duration
	lastPass time.Time
}

func NewCoordinator(
	cfg Config,
	accounts interfaces.AccountRepository,
	engine interfaces.Syncer,
	publisher interfaces.EventPublisher,
	push PushChecker,
	log logger.Logger,
) *Coordinator {
	return &Coordinator{
		cfg:       cfg,
		log:       log,
		accounts:  accounts,
		engine:    engine,
		publisher: publisher,
		push:      push,
	}
}

func (sc *Coordinator) Start() {
	sc.log.Info("Starting sync scheduler")
	sc.cron = cronv3.New(
		cronv3.WithChain(
			cronv3.SkipIfStillRunning(cronv3.DefaultLogger),
			cronv3.Recover(cronv3.DefaultLogger),
		),
	)
	sc.reschedule()
	sc.cron.Start()
}

func (sc *Coordinator) Stop() {
	if sc.cron != nil {
		sc.log.Info("Stopping sync scheduler")
		ctx := sc.cron.Stop()
		<-ctx.Done()
	}
}

// EffectiveInterval exposes the currently scheduled interval, zero when
// scheduled sync is disabled.
func (sc *Coordinator) EffectiveInterval() time.Duration {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.interval
}

// Reschedule recomputes the effective interval immediately. Callers that
// change the account set or an account's sync mode, and the push coordinator
// when it gives up on an account, use this so the timer re-arms without
// waiting for the next pass.
func (sc *Coordinator) Reschedule() {
	sc.reschedule()
}

// reschedule recomputes the effective interval and replaces the cron entry
// when it changed.
func (sc *Coordinator) reschedule() {
	if sc.cron == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	accounts, err := sc.accounts.GetAccounts(ctx)
	if err != nil {
		sc.log.Errorf("Failed to load accounts for rescheduling: %v", err)
		return
	}

	interval := EffectiveInterval(accounts, utils.Now(), sc.cfg.policy(), sc.pushSupported)

	sc.mu.Lock()
	defer sc.mu.Unlock()
	if interval == sc.interval {
		return
	}
	if sc.jobID != 0 {
		sc.cron.Remove(sc.jobID)
		sc.jobID = 0
	}
	sc.interval = interval
	if interval == 0 {
		sc.log.Info("No account relies on scheduled sync, timer disabled")
		return
	}

	id, err := sc.cron.AddFunc(fmt.Sprintf("@every %s", interval), func() {
		defer tracing.RecoverAndLogToJaeger(sc.log)
		jobLocks.locks[GroupSync].Lock()
		defer jobLocks.locks[GroupSync].Unlock()
		sc.runPass()
	})
	if err != nil {
		sc.log.Errorf("Could not register sync pass job: %v", err)
		return
	}
	sc.jobID = id
	sc.log.Infof("Scheduled sync pass every %s", interval)
}

func (sc *Coordinator) runPass() {
	sc.mu.Lock()
	debounce := time.Duration(sc.cfg.DebounceSeconds) * time.Second
	if !sc.lastPass.IsZero() && time.Since(sc.lastPass) < debounce {
		sc.mu.Unlock()
		sc.log.Debugf("Sync pass debounced, last pass %s ago", time.Since(sc.lastPass))
		return
	}
	sc.lastPass = utils.Now()
	sc.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(sc.cfg.PassTimeoutMinutes)*time.Minute)
	defer cancel()

	span, ctx := tracing.StartTracerSpan(ctx, "SchedulerCoordinator.runPass")
	defer span.Finish()
	tracing.TagComponentCronJob(span)

	accounts, err := sc.accounts.GetAccounts(ctx)
	if err != nil {
		tracing.TraceErr(span, err)
		sc.log.Errorf("Failed to load accounts for sync pass: %v", err)
		return
	}

	for _, account := range accounts {
		if account.PushCapable() && sc.pushSupported(account.ID) {
			continue
		}
		if account.SyncIntervalMinutes <= 0 {
			continue
		}
		if ctx.Err() != nil {
			sc.log.Warnf("Sync pass timed out before account %s", account.ID)
			break
		}
		sc.syncAccount(ctx, account)
	}

	sc.reschedule()
}

// TriggerAccount runs an immediate pass for one account, bypassing the timer
// but not the group lock.
func (sc *Coordinator) TriggerAccount(ctx context.Context, accountID string) (*dto.PassOutcome, error) {
	account, err := sc.accounts.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	jobLocks.locks[GroupSync].Lock()
	defer jobLocks.locks[GroupSync].Unlock()
	return sc.syncAccount(ctx, account), nil
}

func (sc *Coordinator) syncAccount(ctx context.Context, account *models.Account) *dto.PassOutcome {
	span, ctx := tracing.StartTracerSpan(ctx, "SchedulerCoordinator.syncAccount")
	defer span.Finish()
	tracing.TagComponentCronJob(span)
	tracing.TagAccount(span, account.ID)

	outcome := &dto.PassOutcome{AccountID: account.ID}

	if err := sc.accounts.UpdateSyncStatus(ctx, account.ID, enum.SyncStatusSyncing.String(), ""); err != nil {
		sc.log.Warnf("Failed to mark account %s syncing: %v", account.ID, err)
	}

	folders, err := sc.engine.SyncHierarchy(ctx, account)
	if err != nil {
		tracing.TraceErr(span, err)
		sc.log.Errorf("Hierarchy sync failed for account %s: %v", account.ID, err)
		outcome.Error = err.Error()
		sc.finishAccount(ctx, account, outcome)
		return outcome
	}

	var (
		mu        sync.Mutex
		wg        sync.WaitGroup
		semaphore = make(chan struct{}, sc.cfg.MaxConcurrentFolders)
	)
	var failures []string

	for _, folder := range folders {
		if !isSyncable(folder.Type) {
			continue
		}
		wg.Add(1)
		semaphore <- struct{}{}
		go func(folder *models.Folder) {
			defer wg.Done()
			defer func() { <-semaphore }()
			defer tracing.RecoverAndLogToJaeger(sc.log)

			folderCtx, cancel := context.WithTimeout(ctx, time.Duration(sc.cfg.FolderTimeoutMinutes)*time.Minute)
			defer cancel()

			folderOutcome, err := sc.engine.SyncFolder(folderCtx, account, folder)

			mu.Lock()
			defer mu.Unlock()
			if folderOutcome != nil {
				outcome.NewItems += folderOutcome.NewItems
				if err != nil && folderOutcome.Error == "" {
					folderOutcome.Error = err.Error()
				}
				outcome.Folders = append(outcome.Folders, *folderOutcome)
			}
			if err != nil {
				if folderCtx.Err() == context.DeadlineExceeded {
					sc.log.Warnf("Folder %s timed out, skipping for this pass", folder.ID)
					outcome.Skipped = append(outcome.Skipped, folder.ID)
					return
				}
				sc.log.Errorf("Folder %s failed: %v", folder.ID, err)
				failures = append(failures, folder.DisplayName)
				return
			}
			if folderOutcome != nil && sc.publisher != nil {
				if perr := sc.publisher.PublishFolderSynced(ctx, folderOutcome); perr != nil {
					sc.log.Warnf("Failed to publish folder outcome for %s: %v", folder.ID, perr)
				}
			}
		}(folder)
	}
	wg.Wait()

	if len(failures) > 0 {
		outcome.Error = fmt.Sprintf("folders failed: %s", strings.Join(failures, ", "))
	}
	sc.finishAccount(ctx, account, outcome)
	return outcome
}

func (sc *Coordinator) finishAccount(ctx context.Context, account *models.Account, outcome *dto.PassOutcome) {
	status := enum.SyncStatusIdle
	if outcome.Error != "" {
		status = enum.SyncStatusError
	}
	if err := sc.accounts.UpdateSyncStatus(ctx, account.ID, status.String(), outcome.Error); err != nil {
		sc.log.Warnf("Failed to update sync status for account %s: %v", account.ID, err)
	}
	if sc.publisher != nil {
		if err := sc.publisher.PublishSyncCompleted(ctx, outcome); err != nil {
			sc.log.Warnf("Failed to publish pass outcome for account %s: %v", account.ID, err)
		}
	}
}

func (sc *Coordinator) pushSupported(accountID string) bool {
	if sc.push == nil {
		return false
	}
	return sc.push.PushSupported(accountID)
}

func isSyncable(t enum.FolderType) bool {
	for _, s := range enum.SyncableFolderTypes {
		if s == t {
			return true
		}
	}
	return false
}
