// pkg/db/repository.go
package db

import (
	"fmt"
	"strconv"

	"github.com/julianjjo/linguaflip-english-flashcards-sub005/pkg/config"
	"github.com/julianjjo/linguaflip-english-flashcards-sub005/pkg/logger"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// OpenLocal opens the on-device sqlite store and migrates the local schema:
// the card mapping, the sync ledger, session snapshots and the review log.
func OpenLocal(cfg config.LocalConfig) (*gorm.DB, error) {
	gormLogger, gormErr := newGormLogger(config.AppConfig.Logging.GormLevel)
	if gormErr != nil {
		logger.Error("invalid gorm log level", "value", config.AppConfig.Logging.GormLevel, "error", gormErr)
	}
	gdb, err := gorm.Open(sqlite.Open(cfg.Path), &gorm.Config{Logger: gormLogger})
	if err != nil {
		return nil, fmt.Errorf("failed to open local store %q: %w", cfg.Path, err)
	}
	if err := gdb.AutoMigrate(&LocalCard{}, &SyncLedger{}, &StudySession{}, &ReviewLog{}); err != nil {
		return nil, fmt.Errorf("failed to migrate local store: %w", err)
	}
	return gdb, nil
}

// OpenRemote connects to the durable postgres store.
func OpenRemote(cfg config.RemoteConfig) (*gorm.DB, error) {
	dsn := "host=" + cfg.Host +
		" user=" + cfg.User +
		" password=" + cfg.Password +
		" dbname=" + cfg.DBName +
		" port=" + strconv.Itoa(cfg.Port) +
		" sslmode=" + cfg.SSLMode
	gormLogger, gormErr := newGormLogger(config.AppConfig.Logging.GormLevel)
	if gormErr != nil {
		logger.Error("invalid gorm log level", "value", config.AppConfig.Logging.GormLevel, "error", gormErr)
	}
	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLogger})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to remote store: %w", err)
	}
	if err := gdb.AutoMigrate(&RemoteCard{}); err != nil {
		return nil, fmt.Errorf("failed to migrate remote store: %w", err)
	}
	return gdb, nil
}
