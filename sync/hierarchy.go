package sync

import (
	"context"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	localerrors "github.com/syncstack/airsync/internal/errors"
	"github.com/syncstack/airsync/internal/models"
	"github.com/syncstack/airsync/internal/tracing"
	"github.com/syncstack/airsync/wire"
)

// SyncHierarchy refreshes the account's folder list using the account-level
// token. Display name, parent and type come from the server; a known
// folder's committed token and local item count survive the refresh. An
// empty store behind a non-sentinel token is treated as a corrupt-token
// symptom and triggers the same bounded reset as an explicit rejection.
func (e *Engine) SyncHierarchy(ctx context.Context, account *models.Account) ([]*models.Folder, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Engine.SyncHierarchy")
	defer span.Finish()
	tracing.TagComponentService(span)
	tracing.TagAccount(span, account.ID)

	resets := 0
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		token, err := e.store.GetHierarchyToken(ctx, account.ID)
		if err != nil {
			tracing.TraceErr(span, err)
			return nil, err
		}

		resp, err := e.fetchHierarchy(ctx, account, token)
		if err != nil {
			if wire.IsProtocolStatus(err, wire.StatusInvalidToken) {
				if resets >= maxResetCycles {
					tracing.TraceErr(span, localerrors.ErrRetryExhausted)
					return nil, errors.Wrapf(localerrors.ErrRetryExhausted,
						"hierarchy of account %s still rejected after token reset", account.ID)
				}
				resets++
				e.log.Warnf("server rejected hierarchy token for account %s, resetting", account.ID)
				if err := e.resetTokens(ctx, account.ID); err != nil {
					tracing.TraceErr(span, err)
					return nil, err
				}
				continue
			}
			tracing.TraceErr(span, err)
			return nil, err
		}

		for _, f := range resp.Adds {
			folder := &models.Folder{
				ID:          models.FolderID(account.ID, f.ServerID),
				AccountID:   account.ID,
				ServerID:    f.ServerID,
				ParentID:    f.ParentID,
				DisplayName: f.DisplayName,
				Type:        f.Type,
			}
			if err := e.store.UpsertFolder(ctx, folder); err != nil {
				tracing.TraceErr(span, err)
				return nil, err
			}
		}
		for _, serverID := range resp.Deletes {
			if err := e.store.DeleteFolder(ctx, models.FolderID(account.ID, serverID)); err != nil {
				tracing.TraceErr(span, err)
				return nil, err
			}
		}
		if err := e.store.SaveHierarchyToken(ctx, account.ID, resp.SyncKey); err != nil {
			tracing.TraceErr(span, err)
			return nil, err
		}

		folders, err := e.store.ListFoldersByAccount(ctx, account.ID)
		if err != nil {
			tracing.TraceErr(span, err)
			return nil, err
		}
		if len(folders) == 0 && resp.SyncKey != sentinelToken {
			if resets >= maxResetCycles {
				tracing.TraceErr(span, localerrors.ErrRetryExhausted)
				return nil, errors.Wrapf(localerrors.ErrRetryExhausted,
					"account %s has a committed hierarchy token but no folders", account.ID)
			}
			resets++
			e.log.Warnf("account %s committed hierarchy token with zero folders, resetting", account.ID)
			if err := e.resetTokens(ctx, account.ID); err != nil {
				tracing.TraceErr(span, err)
				return nil, err
			}
			continue
		}
		return folders, nil
	}
}

func (e *Engine) fetchHierarchy(ctx context.Context, account *models.Account, token string) (*wire.FolderSyncResponse, error) {
	body, err := (&wire.FolderSyncRequest{SyncKey: token}).Encode()
	if err != nil {
		return nil, err
	}

	raw, err := e.sender.Send(ctx, account, wire.CmdFolderSync, wire.FormatBinary.ContentType(), body)
	if err != nil {
		return nil, err
	}
	resp, err := wire.DecodeFolderSyncResponse(raw)
	if err != nil {
		return nil, err
	}
	if resp.Status != wire.StatusOK {
		return nil, &wire.ProtocolStatusError{Command: wire.CmdFolderSync, Status: resp.Status, Raw: resp.RawStatus}
	}
	return resp, nil
}
