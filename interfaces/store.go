package interfaces

import (
	"context"

	"github.com/syncstack/airsync/dto"
	"github.com/syncstack/airsync/internal/models"
)

// Store is the only surface the sync engine touches in the local mirror. The
// engine never issues raw queries; the implementation behind this interface
// is free to vary.
type Store interface {
	// UpsertFolder creates or refreshes folder metadata. Display name and
	// parent come from the server; local-only fields (item count) are
	// preserved for a folder that already exists.
	UpsertFolder(ctx context.Context, folder *models.Folder) error

	// UpsertItemsAndDeletions applies one changeset and advances the folder
	// token in a single atomic unit. The token must never be persisted
	// without its paired changeset, nor the reverse.
	UpsertItemsAndDeletions(ctx context.Context, folderID string, changeset *dto.Changeset, newSyncKey string) error

	GetFolderToken(ctx context.Context, folderID string) (string, error)
	ListFoldersByAccount(ctx context.Context, accountID string) ([]*models.Folder, error)
	DeleteFolder(ctx context.Context, folderID string) error

	// ResetFolderTokens clears every per-folder token of the account back to
	// the sentinel. Used by the bounded invalid-token recovery.
	ResetFolderTokens(ctx context.Context, accountID string) error

	// DeleteItemsNotIn removes local items of a folder whose server id is
	// absent from keep, returning the number removed. Used by the full
	// reconciliation variant for dual-written folder types.
	DeleteItemsNotIn(ctx context.Context, folderID string, keep []string) (int64, error)

	// Account-level folder hierarchy token.
	GetHierarchyToken(ctx context.Context, accountID string) (string, error)
	SaveHierarchyToken(ctx context.Context, accountID, token string) error
}

type AccountRepository interface {
	GetAccounts(ctx context.Context) ([]*models.Account, error)
	GetAccount(ctx context.Context, id string) (*models.Account, error)
	SaveAccount(ctx context.Context, account *models.Account) error
	// DeleteAccount cascades to folders and items.
	DeleteAccount(ctx context.Context, id string) error
	UpdateSyncStatus(ctx context.Context, id string, status string, errorMessage string) error
	// SavePolicyKey persists the compliance token. Called opportunistically,
	// including when the surrounding request failed.
	SavePolicyKey(ctx context.Context, id, policyKey string) error
}

type FolderRepository interface {
	GetFolder(ctx context.Context, id string) (*models.Folder, error)
	ListByAccount(ctx context.Context, accountID string) ([]*models.Folder, error)
	ListByAccountAndTypes(ctx context.Context, accountID string, types []string) ([]*models.Folder, error)
}
