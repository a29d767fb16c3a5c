package testutil

import (
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/julianjjo/linguaflip-english-flashcards-sub005/pkg/db"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var dbSeq atomic.Int64

func open(t *testing.T, models ...any) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:testdb%d?mode=memory&cache=shared", dbSeq.Add(1))
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite database: %v", err)
	}
	if err := gdb.AutoMigrate(models...); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		t.Fatalf("failed to access underlying DB: %v", err)
	}
	t.Cleanup(func() {
		if err := sqlDB.Close(); err != nil {
			t.Fatalf("failed to close database: %v", err)
		}
	})
	return gdb
}

// SetupLocalDB returns an in-memory stand-in for the on-device store.
func SetupLocalDB(t *testing.T) *gorm.DB {
	return open(t, &db.LocalCard{}, &db.SyncLedger{}, &db.StudySession{}, &db.ReviewLog{})
}

// SetupRemoteDB returns an in-memory stand-in for the durable remote store.
func SetupRemoteDB(t *testing.T) *gorm.DB {
	return open(t, &db.RemoteCard{})
}
