package wire

import (
	"encoding/xml"

	"github.com/syncstack/airsync/dto"
	"github.com/syncstack/airsync/internal/enum"
)

// Legacy verbose-XML framing. The oldest supported server generation
// mishandles the compact framing for a small set of operations (task
// creation and deletion, calendar event creation, note sync); for those the
// capability table selects this codec instead.

const legacyNamespace = "AirSyncLegacy:"

type LegacyTaskCreate struct {
	XMLName    xml.Name `xml:"TaskCreate"`
	Xmlns      string   `xml:"xmlns,attr"`
	FolderID   string   `xml:"FolderId"`
	Subject    string   `xml:"Subject"`
	DueDate    string   `xml:"DueDate,omitempty"`
	Importance string   `xml:"Importance,omitempty"`
	Body       string   `xml:"Body,omitempty"`
}

type LegacyTaskDelete struct {
	XMLName  xml.Name `xml:"TaskDelete"`
	Xmlns    string   `xml:"xmlns,attr"`
	FolderID string   `xml:"FolderId"`
	ServerID string   `xml:"ServerId"`
}

type LegacyEventCreate struct {
	XMLName   xml.Name `xml:"EventCreate"`
	Xmlns     string   `xml:"xmlns,attr"`
	FolderID  string   `xml:"FolderId"`
	Subject   string   `xml:"Subject"`
	StartTime string   `xml:"StartTime"`
	EndTime   string   `xml:"EndTime"`
	Location  string   `xml:"Location,omitempty"`
	Body      string   `xml:"Body,omitempty"`
}

type LegacyNoteSyncRequest struct {
	XMLName  xml.Name `xml:"NoteSync"`
	Xmlns    string   `xml:"xmlns,attr"`
	FolderID string   `xml:"FolderId"`
	SyncKey  string   `xml:"SyncKey"`
}

type legacyNote struct {
	ServerID     string `xml:"ServerId"`
	Subject      string `xml:"Subject"`
	Body         string `xml:"Body"`
	LastModified string `xml:"LastModified"`
}

type legacyNoteSyncResponse struct {
	XMLName xml.Name     `xml:"NoteSyncResponse"`
	Status  string       `xml:"Status"`
	SyncKey string       `xml:"SyncKey"`
	More    bool         `xml:"MoreAvailable"`
	Notes   []legacyNote `xml:"Notes>Note"`
	Deleted []string     `xml:"Deleted>ServerId"`
}

// LegacyMutationResponse answers create/delete operations on the legacy
// framing.
type LegacyMutationResponse struct {
	XMLName   xml.Name `xml:"Response"`
	RawStatus string   `xml:"Status"`
	ServerID  string   `xml:"ServerId"`
	Status    Status   `xml:"-"`
}

// EncodeLegacy serializes a legacy request with the XML prolog the old
// server generation insists on.
func EncodeLegacy(v interface{}) ([]byte, error) {
	switch r := v.(type) {
	case *LegacyTaskCreate:
		r.Xmlns = legacyNamespace
	case *LegacyTaskDelete:
		r.Xmlns = legacyNamespace
	case *LegacyEventCreate:
		r.Xmlns = legacyNamespace
	case *LegacyNoteSyncRequest:
		r.Xmlns = legacyNamespace
	default:
		return nil, codecErr("legacy", "unsupported request type %T", v)
	}
	body, err := xml.Marshal(v)
	if err != nil {
		return nil, codecErr("legacy", "marshal: %v", err)
	}
	return append([]byte(xml.Header), body...), nil
}

func DecodeLegacyMutationResponse(op string, data []byte) (*LegacyMutationResponse, error) {
	var resp LegacyMutationResponse
	if err := xml.Unmarshal(data, &resp); err != nil {
		return nil, codecErr(op, "unmarshal: %v", err)
	}
	status, _, err := decodeStatus(op, resp.RawStatus, syncStatusCodes)
	if err != nil {
		return nil, err
	}
	resp.Status = status
	return &resp, nil
}

// DecodeLegacyNoteSync maps a verbose note sync response onto the same
// changeset shape the compact codec produces, so the state machine cannot
// tell the framings apart.
func DecodeLegacyNoteSync(data []byte) (*SyncResponse, error) {
	var raw legacyNoteSyncResponse
	if err := xml.Unmarshal(data, &raw); err != nil {
		return nil, codecErr("NoteSync", "unmarshal: %v", err)
	}

	resp := &SyncResponse{}
	var err error
	resp.Status, resp.RawStatus, err = decodeStatus("NoteSync", raw.Status, syncStatusCodes)
	if err != nil {
		return nil, err
	}
	if resp.Status != StatusOK {
		return resp, nil
	}
	if raw.SyncKey == "" {
		return nil, codecErr("NoteSync", "successful response without sync key")
	}

	resp.Changeset.SyncKey = raw.SyncKey
	resp.Changeset.MoreAvailable = raw.More
	for _, n := range raw.Notes {
		if n.ServerID == "" {
			return nil, codecErr("NoteSync", "note without server id")
		}
		resp.Changeset.Upserts = append(resp.Changeset.Upserts, dto.ItemUpsert{
			ServerID: n.ServerID,
			Class:    enum.FolderNotes,
			Fields: map[string]interface{}{
				"subject":      n.Subject,
				"body":         n.Body,
				"lastModified": n.LastModified,
			},
		})
	}
	resp.Changeset.Deletions = append(resp.Changeset.Deletions, raw.Deleted...)
	return resp, nil
}
