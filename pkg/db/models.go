// pkg/db/models.go
package db

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	DefaultEaseFactor = 2.5
	SessionTTL        = 24 * time.Hour
)

// Flashcard is the scheduling record for a single card. It lives in memory in
// the deck store; persistence keeps it as a JSON payload (see LocalCard and
// RemoteCard), so the struct carries json tags rather than gorm column tags.
//
// Dirty marks a local mutation that has not been confirmed by the remote
// store yet. It is bookkeeping, not content, and stays out of the payload.
type Flashcard struct {
	ID             string     `json:"id"`
	UserID         int64      `json:"userId"`
	Front          string     `json:"front"`
	Back           string     `json:"back"`
	ExampleFront   string     `json:"exampleFront,omitempty"`
	ExampleBack    string     `json:"exampleBack,omitempty"`
	AudioURL       string     `json:"audioUrl,omitempty"`
	Category       string     `json:"category,omitempty"`
	DueDate        time.Time  `json:"-"`
	IntervalDays   int        `json:"intervalDays"`
	EaseFactor     float64    `json:"easinessFactor"`
	Repetitions    int        `json:"repetitions"`
	LastReviewedAt *time.Time `json:"lastReviewed"`
	UpdatedAt      time.Time  `json:"updatedAt"`
	Dirty          bool       `json:"-"`
}

// NewFlashcard creates an unscheduled card: due immediately, default ease,
// dirty so the next flush pushes it to the remote store.
func NewFlashcard(userID int64, front, back string, now time.Time) Flashcard {
	day := Day(now)
	return Flashcard{
		ID:           uuid.NewString(),
		UserID:       userID,
		Front:        front,
		Back:         back,
		DueDate:      day,
		IntervalDays: 0,
		EaseFactor:   DefaultEaseFactor,
		Repetitions:  0,
		UpdatedAt:    now.UTC(),
		Dirty:        true,
	}
}

// Day truncates a timestamp to day granularity in UTC. Due dates are calendar
// dates; review timestamps keep full precision.
func Day(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// LocalCard is the on-device cardId -> serialized record mapping, the sqlite
// analog of the original browser-local store.
type LocalCard struct {
	CardID    string         `gorm:"primaryKey"`
	Payload   datatypes.JSON `gorm:"not null"`
	UpdatedAt time.Time      `gorm:"not null;autoUpdateTime:false"`
	Dirty     bool           `gorm:"not null;default:false;index"`
}

// RemoteCard is the durable store row, keyed per user and card. UpdatedAt is
// the conflict-resolution timestamp and must never be stamped by gorm.
type RemoteCard struct {
	UserID    int64          `gorm:"primaryKey;autoIncrement:false"`
	CardID    string         `gorm:"primaryKey"`
	Payload   datatypes.JSON `gorm:"not null"`
	UpdatedAt time.Time      `gorm:"not null;index;autoUpdateTime:false"`
}

// SyncLedger tracks per-card sync progress: the last version confirmed by the
// remote store and whether a local mutation is still pending.
type SyncLedger struct {
	CardID       string `gorm:"primaryKey"`
	Version      int    `gorm:"not null;default:0"`
	LastSyncedAt *time.Time
	Pending      bool `gorm:"not null;default:false;index"`
	Attempts     int  `gorm:"not null;default:0"`
}

// StudySession is the persisted snapshot of an in-flight session, so a study
// run survives a process restart. Expired rows are swept by the cleanup loop.
type StudySession struct {
	ID             uint           `gorm:"primaryKey"`
	UserID         int64          `gorm:"uniqueIndex:idx_study_session_user"`
	CardIDs        datatypes.JSON `gorm:"not null"`
	Position       int            `gorm:"not null;default:0"`
	State          string         `gorm:"not null;default:active"`
	AnswerCount    int            `gorm:"not null;default:0"`
	StartedAt      time.Time      `gorm:"not null"`
	LastActivityAt time.Time      `gorm:"not null"`
	ExpiresAt      time.Time      `gorm:"not null"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ReviewLog is the append-only local record of answered cards.
type ReviewLog struct {
	ID         uint      `gorm:"primaryKey"`
	CardID     string    `gorm:"index;not null"`
	Quality    int       `gorm:"not null"`
	ReviewedAt time.Time `gorm:"not null"`
}
