package repository

import (
	"time"

	"gorm.io/gorm"

	"github.com/syncstack/airsync/interfaces"
	"github.com/syncstack/airsync/internal/models"
)

type Repositories struct {
	AccountRepository interfaces.AccountRepository
	FolderRepository  interfaces.FolderRepository
	Store             interfaces.Store
}

func InitRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		AccountRepository: NewAccountRepository(db),
		FolderRepository:  NewFolderRepository(db),
		Store:             NewStore(db),
	}
}

func MigrateDB(db *gorm.DB, maxIdleConn, maxConn, connMaxLifetime int) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}

	sqlDB.SetMaxOpenConns(5)

	err = db.AutoMigrate(
		&models.Account{},
		&models.Folder{},
		&models.Item{},
	)

	sqlDB.SetMaxIdleConns(maxIdleConn)
	sqlDB.SetMaxOpenConns(maxConn)
	sqlDB.SetConnMaxLifetime(time.Duration(connMaxLifetime) * time.Minute)

	return err
}
