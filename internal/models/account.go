package models

import (
	"time"

	"gorm.io/gorm"

	"github.com/syncstack/airsync/internal/enum"
	"github.com/syncstack/airsync/internal/utils"
)

type Account struct {
	ID string `gorm:"column:id;type:varchar(50);primaryKey" json:"id"`
	// Server endpoint
	ServerURL string `gorm:"column:server_url;type:varchar(255);not null" json:"serverUrl"`
	Username  string `gorm:"column:username;type:varchar(255);not null" json:"username"`
	Password  string `gorm:"column:password;type:varchar(255);not null" json:"-"`
	// Device identity echoed on every request
	DeviceID   string `gorm:"column:device_id;type:varchar(64);not null" json:"deviceId"`
	DeviceType string `gorm:"column:device_type;type:varchar(64);not null;default:airsync" json:"deviceType"`
	// TLS policy
	TrustAllCerts        bool   `gorm:"column:trust_all_certs;not null;default:false" json:"trustAllCerts"`
	ClientCertPEM        string `gorm:"column:client_cert_pem;type:text" json:"-"`
	ClientKeyPEM         string `gorm:"column:client_key_pem;type:text" json:"-"`
	ClientCertPassphrase string `gorm:"column:client_cert_passphrase;type:varchar(255)" json:"-"`
	// Sync configuration
	SyncMode            enum.SyncMode         `gorm:"column:sync_mode;type:varchar(20);not null;default:scheduled" json:"syncMode"`
	SyncIntervalMinutes int                   `gorm:"column:sync_interval_minutes;not null;default:15" json:"syncIntervalMinutes"`
	ServerGeneration    enum.ServerGeneration `gorm:"column:server_generation;type:varchar(20);not null;default:modern" json:"serverGeneration"`
	// Folder hierarchy continuation token, "0" until the first committed
	// hierarchy sync
	FolderSyncKey string `gorm:"column:folder_sync_key;type:varchar(64);not null;default:0" json:"-"`
	// Server-issued compliance token, echoed on subsequent requests
	PolicyKey string `gorm:"column:policy_key;type:varchar(64)" json:"-"`
	// Status information
	LastSynced   *time.Time      `gorm:"column:last_synced;type:timestamp" json:"lastSynced"`
	SyncStatus   enum.SyncStatus `gorm:"column:sync_status;type:varchar(50)" json:"syncStatus"`
	ErrorMessage string          `gorm:"column:error_message;type:text" json:"errorMessage"`
	// Standard timestamps
	CreatedAt time.Time      `gorm:"column:created_at;type:timestamp;default:current_timestamp" json:"createdAt"`
	UpdatedAt time.Time      `gorm:"column:updated_at;type:timestamp;default:current_timestamp" json:"updatedAt"`
	DeletedAt gorm.DeletedAt `gorm:"column:deleted_at;index" json:"-"`
}

// TableName sets the table name
func (Account) TableName() string {
	return "accounts"
}

func (a *Account) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = utils.GenerateIdWithPrefix("acct")
	}
	if a.DeviceID == "" {
		a.DeviceID = utils.GenerateIdWithPrefix("dev")
	}
	return nil
}

// PushCapable reports whether push has not been ruled out for this account.
// The in-memory unsupported flag lives in the push coordinator; this only
// reflects configuration.
func (a *Account) PushCapable() bool {
	return a.SyncMode == enum.SyncModePush
}
