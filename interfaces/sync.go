package interfaces

import (
	"context"

	"github.com/syncstack/airsync/dto"
	"github.com/syncstack/airsync/internal/models"
)

// Syncer drives incremental synchronization for one account.
type Syncer interface {
	// SyncHierarchy refreshes the folder list using the account-level token
	// and returns the folders known after the refresh.
	SyncHierarchy(ctx context.Context, account *models.Account) ([]*models.Folder, error)

	// SyncFolder runs one sync episode for a folder and reports the
	// summarized outcome. A non-nil outcome with Partial set accompanies a
	// transport error after at least one committed window.
	SyncFolder(ctx context.Context, account *models.Account, folder *models.Folder) (*dto.SyncOutcome, error)
}

// EventPublisher emits engine outcomes to the message bus.
type EventPublisher interface {
	PublishSyncCompleted(ctx context.Context, outcome *dto.PassOutcome) error
	PublishFolderSynced(ctx context.Context, outcome *dto.SyncOutcome) error
	Close() error
}

// NetworkMonitor reports whether a network path exists. The push loop
// suspends, without accumulating errors, while offline.
type NetworkMonitor interface {
	Online() bool
	// AwaitOnline blocks until the network returns or ctx is cancelled.
	AwaitOnline(ctx context.Context) error
}
