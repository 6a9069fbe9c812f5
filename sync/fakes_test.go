package sync

import (
	"bytes"
	"context"
	"fmt"

	"github.com/syncstack/airsync/dto"
	"github.com/syncstack/airsync/interfaces"
	localerrors "github.com/syncstack/airsync/internal/errors"
	"github.com/syncstack/airsync/internal/logger"
	"github.com/syncstack/airsync/internal/models"
)

func testLogger() logger.Logger {
	appLogger := logger.NewAppLogger(&logger.Config{DevMode: true})
	appLogger.InitLogger()
	return appLogger
}

// frame builds server response bytes in the compact framing, mirroring what
// a real server emits on the wire.
type frame struct {
	buf  bytes.Buffer
	page byte
}

func newFrame() *frame {
	f := &frame{}
	f.buf.Write([]byte{0x03, 0x01, 0x6A, 0x00})
	return f
}

func (f *frame) switchPage(p byte) {
	if f.page != p {
		f.buf.WriteByte(0x00)
		f.buf.WriteByte(p)
		f.page = p
	}
}

func (f *frame) open(p, tag byte) *frame {
	f.switchPage(p)
	f.buf.WriteByte(tag | 0x40)
	return f
}

func (f *frame) val(p, tag byte, s string) *frame {
	if s == "" {
		f.switchPage(p)
		f.buf.WriteByte(tag)
		return f
	}
	f.open(p, tag)
	f.buf.WriteByte(0x03)
	f.buf.WriteString(s)
	f.buf.WriteByte(0x00)
	return f.end()
}

func (f *frame) end() *frame {
	f.buf.WriteByte(0x01)
	return f
}

func (f *frame) bytes() []byte {
	return f.buf.Bytes()
}

// AirSync page tags used by the fixtures.
const (
	pAirSync   byte = 0x00
	pFolders   byte = 0x01
	tSync      byte = 0x05
	tCols      byte = 0x06
	tCol       byte = 0x07
	tSyncKey   byte = 0x08
	tColID     byte = 0x09
	tStatus    byte = 0x0A
	tMore      byte = 0x0D
	tCommands  byte = 0x0E
	tAdd       byte = 0x0F
	tDelete    byte = 0x11
	tServerID  byte = 0x12
	tAppData   byte = 0x13
	tFSync     byte = 0x05
	tFSyncKey  byte = 0x06
	tFStatus   byte = 0x07
	tFChanges  byte = 0x08
	tFAdd      byte = 0x0A
	tFDelete   byte = 0x0C
	tFServerID byte = 0x0D
	tFParentID byte = 0x0E
	tFName     byte = 0x0F
	tFType     byte = 0x10
)

func syncRespBytes(status, syncKey, collectionID string, itemIDs []string, deletions []string, more bool) []byte {
	f := newFrame()
	f.open(pAirSync, tSync).open(pAirSync, tCols).open(pAirSync, tCol)
	f.val(pAirSync, tSyncKey, syncKey)
	f.val(pAirSync, tColID, collectionID)
	f.val(pAirSync, tStatus, status)
	if more {
		f.val(pAirSync, tMore, "")
	}
	if len(itemIDs) > 0 || len(deletions) > 0 {
		f.open(pAirSync, tCommands)
		for _, id := range itemIDs {
			f.open(pAirSync, tAdd).val(pAirSync, tServerID, id).open(pAirSync, tAppData).end().end()
		}
		for _, id := range deletions {
			f.open(pAirSync, tDelete).val(pAirSync, tServerID, id).end()
		}
		f.end()
	}
	f.end().end().end()
	return f.bytes()
}

func syncErrBytes(status string) []byte {
	return syncRespBytes(status, "", "inbox", nil, nil, false)
}

type folderAdd struct {
	serverID string
	name     string
	typeCode string
}

func folderRespBytes(status, syncKey string, adds []folderAdd, deletes []string) []byte {
	f := newFrame()
	f.open(pFolders, tFSync)
	f.val(pFolders, tFStatus, status)
	if syncKey != "" {
		f.val(pFolders, tFSyncKey, syncKey)
	}
	if len(adds) > 0 || len(deletes) > 0 {
		f.open(pFolders, tFChanges)
		for _, a := range adds {
			f.open(pFolders, tFAdd)
			f.val(pFolders, tFServerID, a.serverID)
			f.val(pFolders, tFParentID, "0")
			f.val(pFolders, tFName, a.name)
			f.val(pFolders, tFType, a.typeCode)
			f.end()
		}
		for _, id := range deletes {
			f.open(pFolders, tFDelete).val(pFolders, tFServerID, id).end()
		}
		f.end()
	}
	f.end()
	return f.bytes()
}

// fakeSender serves scripted responses per command, falling back to a
// repeating default when the queue runs dry.
type fakeSender struct {
	queues       map[string][]senderStep
	defaultResp  map[string][]byte
	calls        []string
	contentTypes []string
}

type senderStep struct {
	body []byte
	err  error
}

func newFakeSender() *fakeSender {
	return &fakeSender{
		queues:      make(map[string][]senderStep),
		defaultResp: make(map[string][]byte),
	}
}

func (f *fakeSender) queue(command string, body []byte) {
	f.queues[command] = append(f.queues[command], senderStep{body: body})
}

func (f *fakeSender) queueErr(command string, err error) {
	f.queues[command] = append(f.queues[command], senderStep{err: err})
}

func (f *fakeSender) Send(_ context.Context, _ *models.Account, command string, contentType string, _ []byte) ([]byte, error) {
	f.calls = append(f.calls, command)
	f.contentTypes = append(f.contentTypes, contentType)
	if q := f.queues[command]; len(q) > 0 {
		step := q[0]
		f.queues[command] = q[1:]
		return step.body, step.err
	}
	if resp, ok := f.defaultResp[command]; ok {
		return resp, nil
	}
	return nil, fmt.Errorf("no scripted response for %s", command)
}

// fakeStore is an in-memory Store honoring the same atomicity contract as
// the database-backed one.
type fakeStore struct {
	folders         map[string]*models.Folder
	items           map[string]map[string]dto.ItemUpsert
	hierarchyTokens map[string]string
	commits         int
	resetCalls      int
}

var _ interfaces.Store = (*fakeStore)(nil)

func newFakeStore() *fakeStore {
	return &fakeStore{
		folders:         make(map[string]*models.Folder),
		items:           make(map[string]map[string]dto.ItemUpsert),
		hierarchyTokens: make(map[string]string),
	}
}

func (s *fakeStore) addFolder(folder *models.Folder) {
	if folder.SyncKey == "" {
		folder.SyncKey = "0"
	}
	s.folders[folder.ID] = folder
	if s.items[folder.ID] == nil {
		s.items[folder.ID] = make(map[string]dto.ItemUpsert)
	}
}

func (s *fakeStore) UpsertFolder(_ context.Context, folder *models.Folder) error {
	if existing, ok := s.folders[folder.ID]; ok {
		existing.ParentID = folder.ParentID
		existing.DisplayName = folder.DisplayName
		existing.Type = folder.Type
		return nil
	}
	s.addFolder(folder)
	return nil
}

func (s *fakeStore) UpsertItemsAndDeletions(_ context.Context, folderID string, changeset *dto.Changeset, newSyncKey string) error {
	folder, ok := s.folders[folderID]
	if !ok {
		return localerrors.ErrFolderNotFound
	}
	if newSyncKey == "" {
		return fmt.Errorf("commit without sync key")
	}
	for _, u := range changeset.Upserts {
		s.items[folderID][u.ServerID] = u
	}
	for _, id := range changeset.Deletions {
		delete(s.items[folderID], id)
	}
	folder.SyncKey = newSyncKey
	folder.LocalItemCount = len(s.items[folderID])
	s.commits++
	return nil
}

func (s *fakeStore) GetFolderToken(_ context.Context, folderID string) (string, error) {
	folder, ok := s.folders[folderID]
	if !ok {
		return "", localerrors.ErrFolderNotFound
	}
	return folder.SyncKey, nil
}

func (s *fakeStore) ListFoldersByAccount(_ context.Context, accountID string) ([]*models.Folder, error) {
	var out []*models.Folder
	for _, f := range s.folders {
		if f.AccountID == accountID {
			out = append(out, f)
		}
	}
	return out, nil
}

func (s *fakeStore) DeleteFolder(_ context.Context, folderID string) error {
	delete(s.folders, folderID)
	delete(s.items, folderID)
	return nil
}

func (s *fakeStore) ResetFolderTokens(_ context.Context, accountID string) error {
	s.resetCalls++
	for _, f := range s.folders {
		if f.AccountID == accountID {
			f.SyncKey = "0"
		}
	}
	return nil
}

func (s *fakeStore) DeleteItemsNotIn(_ context.Context, folderID string, keep []string) (int64, error) {
	keepSet := make(map[string]bool, len(keep))
	for _, id := range keep {
		keepSet[id] = true
	}
	var removed int64
	for id := range s.items[folderID] {
		if !keepSet[id] {
			delete(s.items[folderID], id)
			removed++
		}
	}
	if f, ok := s.folders[folderID]; ok {
		f.LocalItemCount = len(s.items[folderID])
	}
	return removed, nil
}

func (s *fakeStore) GetHierarchyToken(_ context.Context, accountID string) (string, error) {
	if token, ok := s.hierarchyTokens[accountID]; ok {
		return token, nil
	}
	return "0", nil
}

func (s *fakeStore) SaveHierarchyToken(_ context.Context, accountID, token string) error {
	s.hierarchyTokens[accountID] = token
	return nil
}
