package deck

import (
	"errors"
	"fmt"
	"iter"
	"sync"
	"time"

	"github.com/julianjjo/linguaflip-english-flashcards-sub005/pkg/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrNotFound = errors.New("card not found in store")

// MergeOutcome reports what a remote merge did to the local copy.
type MergeOutcome int

const (
	// MergeApplied: the remote record was newer and replaced a clean copy
	// (or inserted a new one).
	MergeApplied MergeOutcome = iota
	// MergeDiscarded: the remote record was not strictly newer and was
	// rejected. Locally dirty records in particular are never overwritten
	// by older remote writes.
	MergeDiscarded
	// MergeReplacedDirty: the remote record was strictly newer and replaced
	// a locally dirty copy, discarding its pending mutation.
	MergeReplacedDirty
)

// Store is the authoritative in-memory index of flashcards, written through
// to the local sqlite mapping. All mutations funnel through it: the session
// manager applies scheduler results via Upsert, the sync coordinator applies
// remote records via ApplyRemote and clears dirty flags after a flush.
// Subscribers observe every applied mutation.
type Store struct {
	mu    sync.RWMutex
	gdb   *gorm.DB
	now   func() time.Time
	cards map[string]db.Flashcard
	order []string
	subs  []func(db.Flashcard)
}

func NewStore(gdb *gorm.DB, now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{
		gdb:   gdb,
		now:   now,
		cards: make(map[string]db.Flashcard),
	}
}

// Load hydrates the in-memory index from the local mapping.
func (s *Store) Load() error {
	var rows []db.LocalCard
	if err := s.gdb.Order("card_id").Find(&rows).Error; err != nil {
		return fmt.Errorf("failed to load local cards: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cards = make(map[string]db.Flashcard, len(rows))
	s.order = s.order[:0]
	for _, row := range rows {
		card, err := db.DecodeCard(row.Payload)
		if err != nil {
			return err
		}
		card.UpdatedAt = row.UpdatedAt
		card.Dirty = row.Dirty
		s.cards[card.ID] = card
		s.order = append(s.order, card.ID)
	}
	return nil
}

// Subscribe registers a change listener. Listeners run synchronously on the
// mutating goroutine, after the store lock is released.
func (s *Store) Subscribe(fn func(db.Flashcard)) {
	s.mu.Lock()
	s.subs = append(s.subs, fn)
	s.mu.Unlock()
}

func (s *Store) Get(id string) (db.Flashcard, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	card, ok := s.cards[id]
	if !ok {
		return db.Flashcard{}, ErrNotFound
	}
	return card, nil
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.cards)
}

// All returns a snapshot of every card in insertion order.
func (s *Store) All() []db.Flashcard {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// Due returns a lazy, restartable sequence of cards due on or before today.
// Each range over the sequence re-reads the store; there is no cursor to
// exhaust.
func (s *Store) Due(today time.Time) iter.Seq[db.Flashcard] {
	day := db.Day(today)
	return func(yield func(db.Flashcard) bool) {
		s.mu.RLock()
		snapshot := s.snapshotLocked()
		s.mu.RUnlock()
		for _, card := range snapshot {
			if card.DueDate.After(day) {
				continue
			}
			if !yield(card) {
				return
			}
		}
	}
}

// Upsert applies a local mutation: the card is marked dirty, stamped with the
// current time, written through to the local mapping, and its ledger row is
// marked pending. Last write wins within the process.
func (s *Store) Upsert(card db.Flashcard) error {
	s.mu.Lock()
	card.Dirty = true
	card.UpdatedAt = s.now().UTC()
	if err := s.putLocked(card); err != nil {
		s.mu.Unlock()
		return err
	}
	if err := s.markPendingLocked(card.ID, true); err != nil {
		s.mu.Unlock()
		return err
	}
	subs := s.subs
	s.mu.Unlock()

	for _, fn := range subs {
		fn(card)
	}
	return nil
}

// ApplyRemote merges a record pulled from the remote store. The record is
// applied only if its updatedAt is strictly newer than the local copy's; the
// comparison happens here, under the lock, so an in-flight flush finishing
// late can never resurrect stale state.
func (s *Store) ApplyRemote(card db.Flashcard) (MergeOutcome, error) {
	s.mu.Lock()
	existing, ok := s.cards[card.ID]
	if ok && !card.UpdatedAt.After(existing.UpdatedAt) {
		s.mu.Unlock()
		return MergeDiscarded, nil
	}

	outcome := MergeApplied
	if ok && existing.Dirty {
		outcome = MergeReplacedDirty
	}
	card.Dirty = false
	if err := s.putLocked(card); err != nil {
		s.mu.Unlock()
		return outcome, err
	}
	if err := s.markPendingLocked(card.ID, false); err != nil {
		s.mu.Unlock()
		return outcome, err
	}
	subs := s.subs
	s.mu.Unlock()

	for _, fn := range subs {
		fn(card)
	}
	return outcome, nil
}

// ClearDirty acknowledges a successful flush of the given card state. The
// flag is cleared only if the card has not been mutated again since flushedAt,
// and the ledger records the new synced version.
func (s *Store) ClearDirty(id string, flushedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	card, ok := s.cards[id]
	if !ok || !card.Dirty || card.UpdatedAt.After(flushedAt) {
		return nil
	}
	card.Dirty = false
	if err := s.putLocked(card); err != nil {
		return err
	}

	syncedAt := s.now().UTC()
	ledger := db.SyncLedger{
		CardID:       id,
		Version:      1,
		LastSyncedAt: &syncedAt,
		Pending:      false,
		Attempts:     0,
	}
	err := s.gdb.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "card_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"version":        gorm.Expr("version + 1"),
			"last_synced_at": syncedAt,
			"pending":        false,
			"attempts":       0,
		}),
	}).Create(&ledger).Error
	if err != nil {
		return fmt.Errorf("failed to update sync ledger for card %s: %w", id, err)
	}
	return nil
}

// Dirty returns a snapshot of all cards with unsynced mutations.
func (s *Store) Dirty() []db.Flashcard {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var dirty []db.Flashcard
	for _, id := range s.order {
		if card := s.cards[id]; card.Dirty {
			dirty = append(dirty, card)
		}
	}
	return dirty
}

func (s *Store) snapshotLocked() []db.Flashcard {
	out := make([]db.Flashcard, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.cards[id])
	}
	return out
}

func (s *Store) putLocked(card db.Flashcard) error {
	payload, err := db.EncodeCard(card)
	if err != nil {
		return err
	}
	row := db.LocalCard{
		CardID:    card.ID,
		Payload:   payload,
		UpdatedAt: card.UpdatedAt,
		Dirty:     card.Dirty,
	}
	err = s.gdb.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "card_id"}},
		UpdateAll: true,
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to persist card %s: %w", card.ID, err)
	}

	if _, ok := s.cards[card.ID]; !ok {
		s.order = append(s.order, card.ID)
	}
	s.cards[card.ID] = card
	return nil
}

func (s *Store) markPendingLocked(id string, pending bool) error {
	ledger := db.SyncLedger{CardID: id, Pending: pending}
	err := s.gdb.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "card_id"}},
		DoUpdates: clause.Assignments(map[string]any{"pending": pending}),
	}).Create(&ledger).Error
	if err != nil {
		return fmt.Errorf("failed to mark ledger for card %s: %w", id, err)
	}
	return nil
}
