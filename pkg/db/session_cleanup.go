package db

import (
	"context"
	"time"

	"github.com/julianjjo/linguaflip-english-flashcards-sub005/pkg/logger"
	"gorm.io/gorm"
)

const SessionCleanupInterval = time.Hour

// CleanupExpiredSessions removes stale study-session snapshots from the local
// store. Abandoned sessions reschedule nothing; their cards simply stay due.
func CleanupExpiredSessions(gdb *gorm.DB, now time.Time) (int64, error) {
	if gdb == nil {
		return 0, nil
	}
	res := gdb.Where("expires_at <= ?", now).Delete(&StudySession{})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func StartSessionCleanup(ctx context.Context, gdb *gorm.DB, interval time.Duration) {
	if interval <= 0 {
		interval = SessionCleanupInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := CleanupExpiredSessions(gdb, time.Now().UTC()); err != nil {
				logger.Error("failed to cleanup expired sessions", "error", err)
			}
		}
	}
}
