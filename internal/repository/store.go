package repository

import (
	"context"
	"fmt"

	"github.com/opentracing/opentracing-go"
	"gorm.io/gorm"

	"github.com/syncstack/airsync/dto"
	"github.com/syncstack/airsync/interfaces"
	"github.com/syncstack/airsync/internal/errors"
	"github.com/syncstack/airsync/internal/models"
	"github.com/syncstack/airsync/internal/tracing"
	"github.com/syncstack/airsync/internal/utils"
)

// store is the gorm-backed implementation of the engine's Store interface.
// Changeset merges run in one transaction so the continuation token is never
// visible without its paired changeset.
type store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) interfaces.Store {
	return &store{db: db}
}

func (s *store) UpsertFolder(ctx context.Context, folder *models.Folder) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "store.UpsertFolder")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagFolder(span, folder.ID)

	var existing models.Folder
	result := s.db.WithContext(ctx).Where("id = ?", folder.ID).First(&existing)
	if result.Error != nil {
		if result.Error != gorm.ErrRecordNotFound {
			tracing.TraceErr(span, result.Error)
			return fmt.Errorf("failed to load folder: %w", result.Error)
		}
		if folder.SyncKey == "" {
			folder.SyncKey = "0"
		}
		if err := s.db.WithContext(ctx).Create(folder).Error; err != nil {
			tracing.TraceErr(span, err)
			return fmt.Errorf("failed to create folder: %w", err)
		}
		return nil
	}

	// Refresh server-owned metadata only; the committed token and the
	// local-only counters survive a hierarchy refresh.
	err := s.db.WithContext(ctx).
		Model(&models.Folder{}).
		Where("id = ?", folder.ID).
		Updates(map[string]interface{}{
			"parent_id":    folder.ParentID,
			"display_name": folder.DisplayName,
			"type":         folder.Type,
			"updated_at":   utils.Now(),
		}).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return fmt.Errorf("failed to refresh folder: %w", err)
	}
	return nil
}

func (s *store) UpsertItemsAndDeletions(ctx context.Context, folderID string, changeset *dto.Changeset, newSyncKey string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "store.UpsertItemsAndDeletions")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagFolder(span, folderID)

	if newSyncKey == "" {
		err := fmt.Errorf("refusing to commit changeset without a sync key")
		tracing.TraceErr(span, err)
		return err
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var folder models.Folder
		if err := tx.Where("id = ?", folderID).First(&folder).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return errors.ErrFolderNotFound
			}
			return err
		}

		for _, upsert := range changeset.Upserts {
			item := models.Item{
				ID:        models.ItemID(folderID, upsert.ServerID),
				AccountID: folder.AccountID,
				FolderID:  folderID,
				ServerID:  upsert.ServerID,
				Class:     upsert.Class,
				Fields:    upsert.Fields,
			}
			if err := tx.Save(&item).Error; err != nil {
				return err
			}
		}
		for _, serverID := range changeset.Deletions {
			if err := tx.Where("folder_id = ? AND server_id = ?", folderID, serverID).
				Delete(&models.Item{}).Error; err != nil {
				return err
			}
		}

		// Recount instead of incrementing so a replayed window cannot skew
		// the local counter.
		var count int64
		if err := tx.Model(&models.Item{}).Where("folder_id = ?", folderID).Count(&count).Error; err != nil {
			return err
		}

		return tx.Model(&models.Folder{}).
			Where("id = ?", folderID).
			Updates(map[string]interface{}{
				"sync_key":         newSyncKey,
				"local_item_count": count,
				"last_synced":      utils.Now(),
				"updated_at":       utils.Now(),
			}).Error
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return fmt.Errorf("failed to merge changeset: %w", err)
	}
	return nil
}

func (s *store) GetFolderToken(ctx context.Context, folderID string) (string, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "store.GetFolderToken")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagFolder(span, folderID)

	var folder models.Folder
	result := s.db.WithContext(ctx).Select("sync_key").Where("id = ?", folderID).First(&folder)
	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return "", errors.ErrFolderNotFound
		}
		tracing.TraceErr(span, result.Error)
		return "", fmt.Errorf("failed to get folder token: %w", result.Error)
	}
	return folder.SyncKey, nil
}

func (s *store) ListFoldersByAccount(ctx context.Context, accountID string) ([]*models.Folder, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "store.ListFoldersByAccount")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, accountID)

	var folders []*models.Folder
	if err := s.db.WithContext(ctx).Where("account_id = ?", accountID).Find(&folders).Error; err != nil {
		tracing.TraceErr(span, err)
		return nil, fmt.Errorf("failed to list folders: %w", err)
	}
	return folders, nil
}

func (s *store) DeleteFolder(ctx context.Context, folderID string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "store.DeleteFolder")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagFolder(span, folderID)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("folder_id = ?", folderID).Delete(&models.Item{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", folderID).Delete(&models.Folder{}).Error
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return fmt.Errorf("failed to delete folder: %w", err)
	}
	return nil
}

func (s *store) ResetFolderTokens(ctx context.Context, accountID string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "store.ResetFolderTokens")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, accountID)

	err := s.db.WithContext(ctx).
		Model(&models.Folder{}).
		Where("account_id = ?", accountID).
		Updates(map[string]interface{}{
			"sync_key":   "0",
			"updated_at": utils.Now(),
		}).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return fmt.Errorf("failed to reset folder tokens: %w", err)
	}
	return nil
}

func (s *store) DeleteItemsNotIn(ctx context.Context, folderID string, keep []string) (int64, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "store.DeleteItemsNotIn")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagFolder(span, folderID)

	var removed int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Where("folder_id = ?", folderID)
		if len(keep) > 0 {
			q = q.Where("server_id NOT IN ?", keep)
		}
		result := q.Delete(&models.Item{})
		if result.Error != nil {
			return result.Error
		}
		removed = result.RowsAffected

		var count int64
		if err := tx.Model(&models.Item{}).Where("folder_id = ?", folderID).Count(&count).Error; err != nil {
			return err
		}
		return tx.Model(&models.Folder{}).
			Where("id = ?", folderID).
			Update("local_item_count", count).Error
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return 0, fmt.Errorf("failed to reconcile deletions: %w", err)
	}
	return removed, nil
}

func (s *store) GetHierarchyToken(ctx context.Context, accountID string) (string, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "store.GetHierarchyToken")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, accountID)

	var account models.Account
	result := s.db.WithContext(ctx).Select("folder_sync_key").Where("id = ?", accountID).First(&account)
	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return "", errors.ErrAccountNotFound
		}
		tracing.TraceErr(span, result.Error)
		return "", fmt.Errorf("failed to get hierarchy token: %w", result.Error)
	}
	if account.FolderSyncKey == "" {
		return "0", nil
	}
	return account.FolderSyncKey, nil
}

func (s *store) SaveHierarchyToken(ctx context.Context, accountID, token string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "store.SaveHierarchyToken")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, accountID)

	err := s.db.WithContext(ctx).
		Model(&models.Account{}).
		Where("id = ?", accountID).
		Updates(map[string]interface{}{
			"folder_sync_key": token,
			"updated_at":      utils.Now(),
		}).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return fmt.Errorf("failed to save hierarchy token: %w", err)
	}
	return nil
}
