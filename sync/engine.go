package sync

import (
	"context"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/syncstack/airsync/dto"
	"github.com/syncstack/airsync/interfaces"
	"github.com/syncstack/airsync/internal/enum"
	localerrors "github.com/syncstack/airsync/internal/errors"
	"github.com/syncstack/airsync/internal/logger"
	"github.com/syncstack/airsync/internal/models"
	"github.com/syncstack/airsync/internal/tracing"
	"github.com/syncstack/airsync/transport"
	"github.com/syncstack/airsync/wire"
)

const (
	// sentinelToken marks a folder or hierarchy with no committed position.
	sentinelToken = "0"

	// windowSize bounds one fetch; the server may return fewer.
	windowSize = 100

	// maxWindows caps one syncing episode so a server that always claims
	// more-available cannot spin the loop forever.
	maxWindows = 300

	// maxResetCycles bounds invalid-token recovery. One full reset is
	// attempted; a server that rejects the fresh token too is broken.
	maxResetCycles = 1
)

// Engine runs the per-folder incremental sync state machine and the
// account-level hierarchy refresh. It is stateless between calls; every
// continuation token lives in the store.
type Engine struct {
	log    logger.Logger
	store  interfaces.Store
	sender interfaces.CommandSender

	// Progress, when set, is invoked after every committed window.
	Progress func(dto.ProgressEvent)
}

func NewEngine(store interfaces.Store, sender interfaces.CommandSender, log logger.Logger) *Engine {
	return &Engine{log: log, store: store, sender: sender}
}

var _ interfaces.Syncer = (*Engine)(nil)

// SyncFolder runs one sync episode for the folder: handshake if the token is
// the sentinel, then windowed fetches until the server stops reporting more,
// each window committed atomically with its token. A transport failure after
// at least one committed window returns a partial outcome alongside the
// error; committed progress is never rolled back.
func (e *Engine) SyncFolder(ctx context.Context, account *models.Account, folder *models.Folder) (*dto.SyncOutcome, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Engine.SyncFolder")
	defer span.Finish()
	tracing.TagComponentService(span)
	tracing.TagAccount(span, account.ID)
	tracing.TagFolder(span, folder.ID)

	caps := wire.ResolveCapabilities(account.ServerGeneration)
	reconcile := wire.RequiresReconciliation(account.ServerGeneration, folder.Type)

	outcome := &dto.SyncOutcome{AccountID: account.ID, FolderID: folder.ID}
	resets := 0

episode:
	for {
		token, err := e.store.GetFolderToken(ctx, folder.ID)
		if err != nil {
			tracing.TraceErr(span, err)
			return outcome, err
		}

		// Server ids observed across the whole episode, for the
		// reconciliation diff on dual-written folder types.
		var seen []string

		for window := 0; window < maxWindows; window++ {
			if err := ctx.Err(); err != nil {
				return outcome, err
			}

			// A request carrying the sentinel is the handshake; the server
			// answers it with the initial token and no more-available flag,
			// and the windowed fetch always follows.
			handshake := token == sentinelToken

			resp, err := e.fetchWindow(ctx, account, caps, folder, token)
			if err != nil {
				if wire.IsProtocolStatus(err, wire.StatusInvalidToken) {
					if resets >= maxResetCycles {
						tracing.TraceErr(span, localerrors.ErrRetryExhausted)
						return outcome, errors.Wrapf(localerrors.ErrRetryExhausted,
							"folder %s still rejected after token reset", folder.ID)
					}
					resets++
					e.log.Warnf("server rejected token for folder %s, resetting account %s tokens", folder.ID, account.ID)
					if err := e.resetTokens(ctx, account.ID); err != nil {
						tracing.TraceErr(span, err)
						return outcome, err
					}
					continue episode
				}
				if _, ok := transport.IsTransportError(err); ok && outcome.NewItems+outcome.Deleted > 0 {
					outcome.Partial = true
				}
				tracing.TraceErr(span, err)
				return outcome, err
			}

			if err := e.store.UpsertItemsAndDeletions(ctx, folder.ID, &resp.Changeset, resp.Changeset.SyncKey); err != nil {
				tracing.TraceErr(span, err)
				return outcome, err
			}
			token = resp.Changeset.SyncKey
			outcome.NewItems += len(resp.Changeset.Upserts)
			outcome.Deleted += len(resp.Changeset.Deletions)

			if reconcile {
				for _, u := range resp.Changeset.Upserts {
					seen = append(seen, u.ServerID)
				}
			}
			if e.Progress != nil {
				e.Progress(dto.ProgressEvent{
					AccountID: account.ID,
					FolderID:  folder.ID,
					Committed: outcome.NewItems,
					Window:    window,
				})
			}

			if !resp.Changeset.MoreAvailable && !handshake {
				if reconcile && token != sentinelToken {
					removed, err := e.store.DeleteItemsNotIn(ctx, folder.ID, seen)
					if err != nil {
						tracing.TraceErr(span, err)
						return outcome, err
					}
					outcome.Deleted += int(removed)
				}
				return outcome, nil
			}
		}

		err = errors.Errorf("folder %s exceeded %d windows in one episode", folder.ID, maxWindows)
		tracing.TraceErr(span, err)
		return outcome, err
	}
}

// fetchWindow issues one exchange using the framing the capability table
// selects and normalizes any non-success status into a ProtocolStatusError.
func (e *Engine) fetchWindow(ctx context.Context, account *models.Account, caps wire.CapabilityTable, folder *models.Folder, token string) (*wire.SyncResponse, error) {
	if folder.Type == enum.FolderNotes && caps.FormatFor(wire.OpNoteSync) == wire.FormatLegacyXML {
		return e.fetchLegacyNotes(ctx, account, folder, token)
	}

	req := wire.SyncRequest{
		SyncKey:      token,
		CollectionID: folder.ServerID,
		Class:        folder.Type,
	}
	if token != sentinelToken {
		// The handshake carries neither a window nor a change request.
		req.GetChanges = true
		req.WindowSize = windowSize
	}
	body, err := req.Encode()
	if err != nil {
		return nil, err
	}

	raw, err := e.sender.Send(ctx, account, wire.CmdSync, wire.FormatBinary.ContentType(), body)
	if err != nil {
		return nil, err
	}
	resp, err := wire.DecodeSyncResponse(raw)
	if err != nil {
		return nil, err
	}
	if resp.Status != wire.StatusOK {
		return nil, &wire.ProtocolStatusError{Command: wire.CmdSync, Status: resp.Status, Raw: resp.RawStatus}
	}
	return resp, nil
}

func (e *Engine) fetchLegacyNotes(ctx context.Context, account *models.Account, folder *models.Folder, token string) (*wire.SyncResponse, error) {
	body, err := wire.EncodeLegacy(&wire.LegacyNoteSyncRequest{
		FolderID: folder.ServerID,
		SyncKey:  token,
	})
	if err != nil {
		return nil, err
	}

	raw, err := e.sender.Send(ctx, account, "NoteSync", wire.FormatLegacyXML.ContentType(), body)
	if err != nil {
		return nil, err
	}
	resp, err := wire.DecodeLegacyNoteSync(raw)
	if err != nil {
		return nil, err
	}
	if resp.Status != wire.StatusOK {
		return nil, &wire.ProtocolStatusError{Command: "NoteSync", Status: resp.Status, Raw: resp.RawStatus}
	}
	return resp, nil
}

// resetTokens clears the account-wide hierarchy token and every per-folder
// token back to the sentinel.
func (e *Engine) resetTokens(ctx context.Context, accountID string) error {
	if err := e.store.SaveHierarchyToken(ctx, accountID, sentinelToken); err != nil {
		return err
	}
	return e.store.ResetFolderTokens(ctx, accountID)
}
