package repository

import (
	"context"
	"fmt"

	"github.com/opentracing/opentracing-go"
	"gorm.io/gorm"

	"github.com/syncstack/airsync/interfaces"
	"github.com/syncstack/airsync/internal/errors"
	"github.com/syncstack/airsync/internal/models"
	"github.com/syncstack/airsync/internal/tracing"
)

type folderRepository struct {
	db *gorm.DB
}

func NewFolderRepository(db *gorm.DB) interfaces.FolderRepository {
	return &folderRepository{db: db}
}

func (r *folderRepository) GetFolder(ctx context.Context, id string) (*models.Folder, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "folderRepository.GetFolder")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagFolder(span, id)

	var folder models.Folder
	result := r.db.WithContext(ctx).Where("id = ?", id).First(&folder)
	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, errors.ErrFolderNotFound
		}
		tracing.TraceErr(span, result.Error)
		return nil, fmt.Errorf("failed to get folder: %w", result.Error)
	}
	return &folder, nil
}

func (r *folderRepository) ListByAccount(ctx context.Context, accountID string) ([]*models.Folder, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "folderRepository.ListByAccount")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, accountID)

	var folders []*models.Folder
	if err := r.db.WithContext(ctx).Where("account_id = ?", accountID).Find(&folders).Error; err != nil {
		tracing.TraceErr(span, err)
		return nil, fmt.Errorf("failed to list folders: %w", err)
	}
	return folders, nil
}

func (r *folderRepository) ListByAccountAndTypes(ctx context.Context, accountID string, types []string) ([]*models.Folder, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "folderRepository.ListByAccountAndTypes")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, accountID)

	var folders []*models.Folder
	err := r.db.WithContext(ctx).
		Where("account_id = ? AND type IN ?", accountID, types).
		Find(&folders).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, fmt.Errorf("failed to list folders by type: %w", err)
	}
	return folders, nil
}
