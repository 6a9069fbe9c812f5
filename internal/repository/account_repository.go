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
	"github.com/syncstack/airsync/internal/utils"
)

type accountRepository struct {
	db *gorm.DB
}

func NewAccountRepository(db *gorm.DB) interfaces.AccountRepository {
	return &accountRepository{db: db}
}

func (r *accountRepository) GetAccounts(ctx context.Context) ([]*models.Account, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "accountRepository.GetAccounts")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	var accounts []*models.Account
	if err := r.db.WithContext(ctx).Find(&accounts).Error; err != nil {
		tracing.TraceErr(span, err)
		return nil, fmt.Errorf("failed to get accounts: %w", err)
	}
	return accounts, nil
}

func (r *accountRepository) GetAccount(ctx context.Context, id string) (*models.Account, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "accountRepository.GetAccount")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, id)

	var account models.Account
	result := r.db.WithContext(ctx).Where("id = ?", id).First(&account)
	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, errors.ErrAccountNotFound
		}
		tracing.TraceErr(span, result.Error)
		return nil, fmt.Errorf("failed to get account: %w", result.Error)
	}
	return &account, nil
}

func (r *accountRepository) SaveAccount(ctx context.Context, account *models.Account) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "accountRepository.SaveAccount")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, account.ID)

	if err := r.db.WithContext(ctx).Save(account).Error; err != nil {
		tracing.TraceErr(span, err)
		return fmt.Errorf("failed to save account: %w", err)
	}
	return nil
}

// DeleteAccount removes the account together with its folders and items.
func (r *accountRepository) DeleteAccount(ctx context.Context, id string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "accountRepository.DeleteAccount")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, id)

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("account_id = ?", id).Delete(&models.Item{}).Error; err != nil {
			return err
		}
		if err := tx.Where("account_id = ?", id).Delete(&models.Folder{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).Delete(&models.Account{}).Error
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return fmt.Errorf("failed to delete account: %w", err)
	}
	return nil
}

func (r *accountRepository) UpdateSyncStatus(ctx context.Context, id string, status string, errorMessage string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "accountRepository.UpdateSyncStatus")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, id)

	updates := map[string]interface{}{
		"sync_status":   status,
		"error_message": errorMessage,
		"updated_at":    utils.Now(),
	}
	if errorMessage == "" {
		updates["last_synced"] = utils.Now()
	}

	result := r.db.WithContext(ctx).
		Model(&models.Account{}).
		Where("id = ?", id).
		Updates(updates)
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return fmt.Errorf("failed to update sync status: %w", result.Error)
	}
	return nil
}

// SavePolicyKey is deliberately tolerant: it is called even when the request
// that produced the key failed, because some server generations require the
// key to exist before any further successful exchange.
func (r *accountRepository) SavePolicyKey(ctx context.Context, id, policyKey string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "accountRepository.SavePolicyKey")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, id)

	result := r.db.WithContext(ctx).
		Model(&models.Account{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"policy_key": policyKey,
			"updated_at": utils.Now(),
		})
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return fmt.Errorf("failed to save policy key: %w", result.Error)
	}
	return nil
}
