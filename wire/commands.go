package wire

import (
	"strconv"

	"github.com/syncstack/airsync/dto"
	"github.com/syncstack/airsync/internal/enum"
)

// Command names as sent in the query string.
const (
	CmdSync       = "Sync"
	CmdFolderSync = "FolderSync"
	CmdPing       = "Ping"
	CmdProvision  = "Provision"
)

func classPage(class enum.FolderType) byte {
	switch class {
	case enum.FolderCalendar:
		return pageCalendar
	case enum.FolderContacts:
		return pageContacts
	case enum.FolderTasks:
		return pageTasks
	case enum.FolderNotes:
		return pageNotes
	default:
		return pageEmail
	}
}

// SyncRequest is one windowed fetch for a single collection. A request with
// the sentinel token "0" is the handshake: the server answers with an initial
// token and no item data.
type SyncRequest struct {
	SyncKey      string
	CollectionID string
	Class        enum.FolderType
	WindowSize   int
	GetChanges   bool
}

func (r *SyncRequest) Encode() ([]byte, error) {
	if r.CollectionID == "" {
		return nil, codecErr(CmdSync, "missing collection id")
	}
	if r.SyncKey == "" {
		return nil, codecErr(CmdSync, "missing sync key")
	}

	e := newEncoder()
	e.open(pageAirSync, tagSync)
	e.open(pageAirSync, tagCollections)
	e.open(pageAirSync, tagCollection)
	e.value(pageAirSync, tagClass, string(r.Class))
	e.value(pageAirSync, tagSyncKey, r.SyncKey)
	e.value(pageAirSync, tagCollectionId, r.CollectionID)
	if r.GetChanges {
		e.empty(pageAirSync, tagGetChanges)
	}
	if r.WindowSize > 0 {
		e.value(pageAirSync, tagWindowSize, strconv.Itoa(r.WindowSize))
	}
	e.end() // Collection
	e.end() // Collections
	e.end() // Sync
	return e.bytes(), nil
}

// SyncResponse carries the decoded outcome of one windowed fetch. Status is
// resolved here, once; the state machine never sees raw codes.
type SyncResponse struct {
	Status       Status
	RawStatus    int
	CollectionID string
	Changeset    dto.Changeset
}

func DecodeSyncResponse(data []byte) (*SyncResponse, error) {
	root, err := parse(CmdSync, data)
	if err != nil {
		return nil, err
	}
	if root.page != pageAirSync || root.tag != tagSync {
		return nil, codecErr(CmdSync, "unexpected root element")
	}

	collections := root.child(pageAirSync, tagCollections)
	if collections == nil {
		// A bare top-level status (server-wide failure).
		status, raw, err := decodeStatus(CmdSync, root.childValue(pageAirSync, tagStatus), syncStatusCodes)
		if err != nil {
			return nil, err
		}
		return &SyncResponse{Status: status, RawStatus: raw}, nil
	}

	col := collections.child(pageAirSync, tagCollection)
	if col == nil {
		return nil, codecErr(CmdSync, "missing collection")
	}

	resp := &SyncResponse{
		CollectionID: col.childValue(pageAirSync, tagCollectionId),
	}
	resp.Status, resp.RawStatus, err = decodeStatus(CmdSync, col.childValue(pageAirSync, tagStatus), syncStatusCodes)
	if err != nil {
		return nil, err
	}
	if resp.Status != StatusOK {
		return resp, nil
	}

	resp.Changeset.SyncKey = col.childValue(pageAirSync, tagSyncKey)
	if resp.Changeset.SyncKey == "" {
		return nil, codecErr(CmdSync, "successful response without sync key")
	}
	resp.Changeset.MoreAvailable = col.child(pageAirSync, tagMoreAvailable) != nil

	class := enum.FolderType(col.childValue(pageAirSync, tagClass))
	commands := col.child(pageAirSync, tagCommands)
	if commands == nil {
		return resp, nil
	}

	upserts := append(commands.childrenOf(pageAirSync, tagAdd), commands.childrenOf(pageAirSync, tagChange)...)
	for _, cmd := range upserts {
		serverID := cmd.childValue(pageAirSync, tagServerId)
		if serverID == "" {
			return nil, codecErr(CmdSync, "item without server id")
		}
		resp.Changeset.Upserts = append(resp.Changeset.Upserts, dto.ItemUpsert{
			ServerID: serverID,
			Class:    class,
			Fields:   decodeFields(cmd.child(pageAirSync, tagApplicationData), classPage(class)),
		})
	}
	for _, cmd := range commands.childrenOf(pageAirSync, tagDelete) {
		serverID := cmd.childValue(pageAirSync, tagServerId)
		if serverID == "" {
			return nil, codecErr(CmdSync, "deletion without server id")
		}
		resp.Changeset.Deletions = append(resp.Changeset.Deletions, serverID)
	}
	return resp, nil
}

func decodeFields(data *node, page byte) map[string]interface{} {
	fields := make(map[string]interface{})
	if data == nil {
		return fields
	}
	names := fieldNames[page]
	for _, c := range data.children {
		if c.page != page {
			continue
		}
		if name, ok := names[c.tag]; ok {
			fields[name] = c.value
		}
		// Unknown tags within the page are skipped, not fatal.
	}
	return fields
}

// FolderSyncRequest refreshes the folder hierarchy using the account-level
// token.
type FolderSyncRequest struct {
	SyncKey string
}

func (r *FolderSyncRequest) Encode() ([]byte, error) {
	if r.SyncKey == "" {
		return nil, codecErr(CmdFolderSync, "missing sync key")
	}
	e := newEncoder()
	e.open(pageFolders, tagFolderSync)
	e.value(pageFolders, tagFolderSyncKey, r.SyncKey)
	e.end()
	return e.bytes(), nil
}

type FolderSyncResponse struct {
	Status    Status
	RawStatus int
	SyncKey   string
	Adds      []dto.FolderUpsert
	Deletes   []string
}

func DecodeFolderSyncResponse(data []byte) (*FolderSyncResponse, error) {
	root, err := parse(CmdFolderSync, data)
	if err != nil {
		return nil, err
	}
	if root.page != pageFolders || root.tag != tagFolderSync {
		return nil, codecErr(CmdFolderSync, "unexpected root element")
	}

	resp := &FolderSyncResponse{}
	resp.Status, resp.RawStatus, err = decodeStatus(CmdFolderSync, root.childValue(pageFolders, tagFolderStatus), folderSyncStatusCodes)
	if err != nil {
		return nil, err
	}
	if resp.Status != StatusOK {
		return resp, nil
	}

	resp.SyncKey = root.childValue(pageFolders, tagFolderSyncKey)
	if resp.SyncKey == "" {
		return nil, codecErr(CmdFolderSync, "successful response without sync key")
	}

	changes := root.child(pageFolders, tagFolderChanges)
	if changes == nil {
		return resp, nil
	}
	upserts := append(changes.childrenOf(pageFolders, tagFolderAdd), changes.childrenOf(pageFolders, tagFolderUpdate)...)
	for _, c := range upserts {
		serverID := c.childValue(pageFolders, tagFolderServerId)
		if serverID == "" {
			return nil, codecErr(CmdFolderSync, "folder without server id")
		}
		resp.Adds = append(resp.Adds, dto.FolderUpsert{
			ServerID:    serverID,
			ParentID:    c.childValue(pageFolders, tagFolderParentId),
			DisplayName: c.childValue(pageFolders, tagFolderDisplayName),
			Type:        enum.DecodeFolderType(c.childValue(pageFolders, tagFolderType)),
		})
	}
	for _, c := range changes.childrenOf(pageFolders, tagFolderDelete) {
		serverID := c.childValue(pageFolders, tagFolderServerId)
		if serverID == "" {
			return nil, codecErr(CmdFolderSync, "folder deletion without server id")
		}
		resp.Deletes = append(resp.Deletes, serverID)
	}
	return resp, nil
}

// PingRequest is the long-held push request. The server holds the connection
// for up to HeartbeatSeconds and answers early when one of the listed
// folders changes.
type PingRequest struct {
	HeartbeatSeconds int
	FolderServerIDs  []string
}

func (r *PingRequest) Encode() ([]byte, error) {
	if r.HeartbeatSeconds <= 0 {
		return nil, codecErr(CmdPing, "non-positive heartbeat")
	}
	if len(r.FolderServerIDs) == 0 {
		return nil, codecErr(CmdPing, "empty folder set")
	}
	e := newEncoder()
	e.open(pagePing, tagPing)
	e.value(pagePing, tagHeartbeatInterval, strconv.Itoa(r.HeartbeatSeconds))
	e.open(pagePing, tagPingFolders)
	for _, id := range r.FolderServerIDs {
		e.value(pagePing, tagPingFolder, id)
	}
	e.end() // Folders
	e.end() // Ping
	return e.bytes(), nil
}

type PingResponse struct {
	Status    Status
	RawStatus int
	// Server ids of folders reported changed; only set for StatusChangesFound.
	ChangedFolders []string
}

func DecodePingResponse(data []byte) (*PingResponse, error) {
	root, err := parse(CmdPing, data)
	if err != nil {
		return nil, err
	}
	if root.page != pagePing || root.tag != tagPing {
		return nil, codecErr(CmdPing, "unexpected root element")
	}

	resp := &PingResponse{}
	resp.Status, resp.RawStatus, err = decodeStatus(CmdPing, root.childValue(pagePing, tagPingStatus), pingStatusCodes)
	if err != nil {
		return nil, err
	}
	if folders := root.child(pagePing, tagPingFolders); folders != nil {
		for _, c := range folders.childrenOf(pagePing, tagPingFolder) {
			if c.value != "" {
				resp.ChangedFolders = append(resp.ChangedFolders, c.value)
			}
		}
	}
	if resp.Status == StatusChangesFound && len(resp.ChangedFolders) == 0 {
		return nil, codecErr(CmdPing, "changes reported without folder ids")
	}
	return resp, nil
}

// ProvisionRequest obtains or acknowledges the compliance policy key.
type ProvisionRequest struct {
	PolicyType string
	PolicyKey  string
}

func (r *ProvisionRequest) Encode() ([]byte, error) {
	e := newEncoder()
	e.open(pageProvision, tagProvision)
	e.open(pageProvision, tagPolicies)
	e.open(pageProvision, tagPolicy)
	e.value(pageProvision, tagPolicyType, r.PolicyType)
	if r.PolicyKey != "" {
		e.value(pageProvision, tagPolicyKey, r.PolicyKey)
	}
	e.end() // Policy
	e.end() // Policies
	e.end() // Provision
	return e.bytes(), nil
}

type ProvisionResponse struct {
	Status    Status
	RawStatus int
	PolicyKey string
}

func DecodeProvisionResponse(data []byte) (*ProvisionResponse, error) {
	root, err := parse(CmdProvision, data)
	if err != nil {
		return nil, err
	}
	if root.page != pageProvision || root.tag != tagProvision {
		return nil, codecErr(CmdProvision, "unexpected root element")
	}

	resp := &ProvisionResponse{}
	resp.Status, resp.RawStatus, err = decodeStatus(CmdProvision, root.childValue(pageProvision, tagProvStatus), provisionStatusCodes)
	if err != nil {
		return nil, err
	}
	if policies := root.child(pageProvision, tagPolicies); policies != nil {
		if policy := policies.child(pageProvision, tagPolicy); policy != nil {
			resp.PolicyKey = policy.childValue(pageProvision, tagPolicyKey)
		}
	}
	return resp, nil
}
