package study

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/julianjjo/linguaflip-english-flashcards-sub005/pkg/db"
	"github.com/julianjjo/linguaflip-english-flashcards-sub005/pkg/deck"
	"github.com/julianjjo/linguaflip-english-flashcards-sub005/pkg/srs"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type State string

const (
	StateIdle      State = "idle"
	StateActive    State = "active"
	StatePaused    State = "paused"
	StateCompleted State = "completed"
)

var (
	ErrEmptyQueue             = errors.New("cannot start a session with no due cards")
	ErrInvalidStateTransition = errors.New("operation not valid in current session state")
)

// Answer is one entry of the append-only per-session review log.
type Answer struct {
	CardID  string
	Quality int
	At      time.Time
}

// Session walks a fixed queue of due cards, applying the scheduler once per
// answer and routing every mutation through the deck store. The queue order
// is snapshotted at start and never re-sorted, even if other cards become
// due mid-session.
type Session struct {
	mu       sync.Mutex
	store    *deck.Store
	gdb      *gorm.DB
	now      func() time.Time
	userID   int64
	queue    []string
	position int
	answers  []Answer
	state    State
	started  time.Time
}

func NewSession(store *deck.Store, gdb *gorm.DB, userID int64, now func() time.Time) *Session {
	if now == nil {
		now = time.Now
	}
	return &Session{
		store:  store,
		gdb:    gdb,
		now:    now,
		userID: userID,
		state:  StateIdle,
	}
}

// Start snapshots the queue and activates the session. Cards are ordered by
// ascending due date; ties keep their input order.
func (s *Session) Start(cards []db.Flashcard) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateIdle {
		return fmt.Errorf("%w: start from %s", ErrInvalidStateTransition, s.state)
	}
	if len(cards) == 0 {
		return ErrEmptyQueue
	}

	ordered := append([]db.Flashcard(nil), cards...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].DueDate.Before(ordered[j].DueDate)
	})
	s.queue = make([]string, len(ordered))
	for i, card := range ordered {
		s.queue[i] = card.ID
	}
	s.position = 0
	s.answers = nil
	s.state = StateActive
	s.started = s.now().UTC()
	return s.persistLocked()
}

// RecordAnswer grades the current card. Exactly one store mutation and one
// ledger dirty-mark happen per answer; an invalid quality mutates nothing.
func (s *Session) RecordAnswer(quality int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateActive {
		return fmt.Errorf("%w: record answer in %s", ErrInvalidStateTransition, s.state)
	}

	cardID := s.queue[s.position]
	card, err := s.store.Get(cardID)
	if err != nil {
		return fmt.Errorf("session card %s: %w", cardID, err)
	}

	now := s.now().UTC()
	updated, err := srs.Apply(card, quality, now)
	if err != nil {
		return err
	}
	if err := s.store.Upsert(updated); err != nil {
		return err
	}

	s.answers = append(s.answers, Answer{CardID: cardID, Quality: quality, At: now})
	if s.gdb != nil {
		log := db.ReviewLog{CardID: cardID, Quality: quality, ReviewedAt: now}
		if err := s.gdb.Create(&log).Error; err != nil {
			return fmt.Errorf("failed to append review log: %w", err)
		}
	}

	s.position++
	if s.position == len(s.queue) {
		s.state = StateCompleted
		return s.discardLocked()
	}
	return s.persistLocked()
}

// Pause suspends an active session without touching scheduling state.
func (s *Session) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateActive {
		return fmt.Errorf("%w: pause from %s", ErrInvalidStateTransition, s.state)
	}
	s.state = StatePaused
	return s.persistLocked()
}

func (s *Session) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StatePaused {
		return fmt.Errorf("%w: resume from %s", ErrInvalidStateTransition, s.state)
	}
	s.state = StateActive
	return s.persistLocked()
}

// End completes the session regardless of position. Unanswered cards are not
// rescheduled; they stay due.
func (s *Session) End() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateIdle || s.state == StateCompleted {
		return fmt.Errorf("%w: end from %s", ErrInvalidStateTransition, s.state)
	}
	s.state = StateCompleted
	return s.discardLocked()
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Position() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.position
}

// CurrentCardID returns the id of the card awaiting an answer.
func (s *Session) CurrentCardID() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateActive && s.state != StatePaused {
		return "", false
	}
	if s.position >= len(s.queue) {
		return "", false
	}
	return s.queue[s.position], true
}

func (s *Session) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue) - s.position
}

// Answers returns a copy of the session's answer log.
func (s *Session) Answers() []Answer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Answer(nil), s.answers...)
}

func (s *Session) persistLocked() error {
	if s.gdb == nil {
		return nil
	}
	raw, err := json.Marshal(s.queue)
	if err != nil {
		return fmt.Errorf("failed to encode session queue: %w", err)
	}
	now := s.now().UTC()
	row := db.StudySession{
		UserID:         s.userID,
		CardIDs:        raw,
		Position:       s.position,
		State:          string(s.state),
		AnswerCount:    len(s.answers),
		StartedAt:      s.started,
		LastActivityAt: now,
		ExpiresAt:      now.Add(db.SessionTTL),
	}
	err = s.gdb.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		UpdateAll: true,
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to persist session: %w", err)
	}
	return nil
}

func (s *Session) discardLocked() error {
	if s.gdb == nil {
		return nil
	}
	if err := s.gdb.Where("user_id = ?", s.userID).Delete(&db.StudySession{}).Error; err != nil {
		return fmt.Errorf("failed to discard session: %w", err)
	}
	return nil
}

// Load rehydrates a persisted, unexpired session for the user, restoring the
// queue snapshot and position. Returns nil without error when no session
// survives.
func Load(store *deck.Store, gdb *gorm.DB, userID int64, now func() time.Time) (*Session, error) {
	if now == nil {
		now = time.Now
	}
	var row db.StudySession
	err := gdb.Where("user_id = ? AND expires_at > ?", userID, now().UTC()).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	var queue []string
	if err := json.Unmarshal(row.CardIDs, &queue); err != nil {
		return nil, fmt.Errorf("failed to decode session queue: %w", err)
	}
	if row.Position < 0 || row.Position > len(queue) {
		return nil, fmt.Errorf("session position %d out of range", row.Position)
	}

	s := NewSession(store, gdb, userID, now)
	s.queue = queue
	s.position = row.Position
	s.state = State(row.State)
	s.started = row.StartedAt
	return s, nil
}
