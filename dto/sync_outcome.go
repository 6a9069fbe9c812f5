package dto

// SyncOutcome summarizes one sync episode for a folder. Partial is set when
// at least one window committed before a transport failure; the committed
// items and token are preserved in that case.
type SyncOutcome struct {
	AccountID string `json:"accountId"`
	FolderID  string `json:"folderId"`
	NewItems  int    `json:"newItems"`
	Deleted   int    `json:"deleted"`
	Partial   bool   `json:"partial"`
	Error     string `json:"error,omitempty"`
}

// ProgressEvent reports incremental progress within one sync episode.
type ProgressEvent struct {
	AccountID string `json:"accountId"`
	FolderID  string `json:"folderId"`
	Committed int    `json:"committed"`
	Window    int    `json:"window"`
}

// PassOutcome summarizes one full multi-folder pass across an account.
type PassOutcome struct {
	AccountID string        `json:"accountId"`
	NewItems  int           `json:"newItems"`
	Folders   []SyncOutcome `json:"folders"`
	Skipped   []string      `json:"skipped,omitempty"`
	Error     string        `json:"error,omitempty"`
}
