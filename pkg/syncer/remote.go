package syncer

import (
	"context"
	"fmt"
	"time"

	"github.com/julianjjo/linguaflip-english-flashcards-sub005/pkg/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RemoteStore is the durable store the coordinator reconciles against.
// Transport details stay behind this interface.
type RemoteStore interface {
	// Upsert writes the full record keyed by (userID, cardID). The write
	// must be rejected when the stored updatedAt is not strictly older,
	// which makes replay after a crash or timeout idempotent.
	Upsert(ctx context.Context, card db.Flashcard) error
	// UpdatedSince returns every record of the user updated strictly after
	// the given timestamp.
	UpdatedSince(ctx context.Context, userID int64, since time.Time) ([]db.Flashcard, error)
}

// GormRemote implements RemoteStore on the postgres-backed remote_cards
// table (sqlite in tests; both understand the excluded pseudo-table).
type GormRemote struct {
	gdb *gorm.DB
}

func NewGormRemote(gdb *gorm.DB) *GormRemote {
	return &GormRemote{gdb: gdb}
}

func (r *GormRemote) Upsert(ctx context.Context, card db.Flashcard) error {
	payload, err := db.EncodeCard(card)
	if err != nil {
		return err
	}
	row := db.RemoteCard{
		UserID:    card.UserID,
		CardID:    card.ID,
		Payload:   payload,
		UpdatedAt: card.UpdatedAt,
	}
	err = r.gdb.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "card_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"payload", "updated_at"}),
		Where: clause.Where{
			Exprs: []clause.Expression{gorm.Expr("remote_cards.updated_at < excluded.updated_at")},
		},
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to upsert remote card %s: %w", card.ID, err)
	}
	return nil
}

func (r *GormRemote) UpdatedSince(ctx context.Context, userID int64, since time.Time) ([]db.Flashcard, error) {
	var rows []db.RemoteCard
	err := r.gdb.WithContext(ctx).
		Where("user_id = ? AND updated_at > ?", userID, since).
		Order("updated_at").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to read remote cards: %w", err)
	}

	cards := make([]db.Flashcard, 0, len(rows))
	for _, row := range rows {
		card, err := db.DecodeCard(row.Payload)
		if err != nil {
			return nil, err
		}
		card.UpdatedAt = row.UpdatedAt
		cards = append(cards, card)
	}
	return cards, nil
}
