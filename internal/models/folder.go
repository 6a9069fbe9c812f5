package models

import (
	"time"

	"github.com/syncstack/airsync/internal/enum"
)

// Folder mirrors one remote container. Its ID composes the account id with
// the server-issued collection id so folder identity survives hierarchy
// refreshes.
type Folder struct {
	ID          string          `gorm:"column:id;type:varchar(120);primaryKey" json:"id"`
	AccountID   string          `gorm:"column:account_id;type:varchar(50);index;not null" json:"accountId"`
	ServerID    string          `gorm:"column:server_id;type:varchar(64);index;not null" json:"serverId"`
	ParentID    string          `gorm:"column:parent_id;type:varchar(64)" json:"parentId"`
	DisplayName string          `gorm:"column:display_name;type:varchar(255);not null" json:"displayName"`
	Type        enum.FolderType `gorm:"column:type;type:varchar(20);index;not null" json:"type"`
	// Per-folder continuation token, "0" until the first committed sync
	SyncKey string `gorm:"column:sync_key;type:varchar(64);not null;default:0" json:"-"`
	// Local-only running count, preserved across hierarchy refreshes
	LocalItemCount int        `gorm:"column:local_item_count;not null;default:0" json:"localItemCount"`
	LastSynced     *time.Time `gorm:"column:last_synced;type:timestamp" json:"lastSynced"`
	CreatedAt      time.Time  `gorm:"column:created_at;type:timestamp;default:current_timestamp" json:"createdAt"`
	UpdatedAt      time.Time  `gorm:"column:updated_at;type:timestamp;default:current_timestamp" json:"updatedAt"`
}

// TableName sets the table name
func (Folder) TableName() string {
	return "folders"
}

// FolderID composes the durable local folder identity.
func FolderID(accountID, serverID string) string {
	return accountID + ":" + serverID
}

// Initialized reports whether the folder has a committed sync position.
func (f *Folder) Initialized() bool {
	return f.SyncKey != "" && f.SyncKey != "0"
}
