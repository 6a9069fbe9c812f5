package dto

import "github.com/syncstack/airsync/internal/enum"

// ItemUpsert is one new or updated item from a windowed fetch.
type ItemUpsert struct {
	ServerID string                 `json:"serverId"`
	Class    enum.FolderType        `json:"class"`
	Fields   map[string]interface{} `json:"fields"`
}

// Changeset is the normalized result of one windowed sync exchange. It is
// transient: the store consumes it together with the new continuation token
// in a single atomic call.
type Changeset struct {
	Upserts       []ItemUpsert `json:"upserts"`
	Deletions     []string     `json:"deletions"`
	MoreAvailable bool         `json:"moreAvailable"`
	SyncKey       string       `json:"syncKey"`
}

func (c *Changeset) Empty() bool {
	return len(c.Upserts) == 0 && len(c.Deletions) == 0
}

// FolderUpsert is one folder from a hierarchy sync exchange.
type FolderUpsert struct {
	ServerID    string          `json:"serverId"`
	ParentID    string          `json:"parentId"`
	DisplayName string          `json:"displayName"`
	Type        enum.FolderType `json:"type"`
}
