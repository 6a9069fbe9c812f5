package models

import (
	"time"

	"github.com/syncstack/airsync/internal/enum"
)

// Item is one synced object (message, event, contact, note or task). The
// engine only guarantees identity and class; type-specific fields are kept
// as an opaque document for the presentation layer.
type Item struct {
	ID        string          `gorm:"column:id;type:varchar(180);primaryKey" json:"id"`
	AccountID string          `gorm:"column:account_id;type:varchar(50);index;not null" json:"accountId"`
	FolderID  string          `gorm:"column:folder_id;type:varchar(120);index;not null" json:"folderId"`
	ServerID  string          `gorm:"column:server_id;type:varchar(64);index;not null" json:"serverId"`
	Class     enum.FolderType `gorm:"column:class;type:varchar(20);not null" json:"class"`
	Fields    JSONMap         `gorm:"column:fields;type:jsonb" json:"fields"`
	CreatedAt time.Time       `gorm:"column:created_at;type:timestamp;default:current_timestamp" json:"createdAt"`
	UpdatedAt time.Time       `gorm:"column:updated_at;type:timestamp;default:current_timestamp" json:"updatedAt"`
}

// TableName sets the table name
func (Item) TableName() string {
	return "items"
}

// ItemID composes the durable local item identity.
func ItemID(folderID, serverID string) string {
	return folderID + ":" + serverID
}
