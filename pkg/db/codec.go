package db

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
)

// cardPayload is the wire/storage form of a Flashcard. The shape matches what
// the web client keeps in its local store: dueDate is an ISO calendar date,
// easinessFactor a plain float.
type cardPayload struct {
	Flashcard
	DueDate string `json:"dueDate"`
}

// EncodeCard serializes a card for the local mapping and the remote payload
// column.
func EncodeCard(card Flashcard) (datatypes.JSON, error) {
	card.Dirty = false
	raw, err := json.Marshal(cardPayload{
		Flashcard: card,
		DueDate:   card.DueDate.UTC().Format(time.DateOnly),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode card %s: %w", card.ID, err)
	}
	return datatypes.JSON(raw), nil
}

// DecodeCard parses a serialized card payload.
func DecodeCard(payload datatypes.JSON) (Flashcard, error) {
	var p cardPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return Flashcard{}, fmt.Errorf("failed to decode card payload: %w", err)
	}
	card := p.Flashcard
	if p.DueDate != "" {
		due, err := time.ParseInLocation(time.DateOnly, p.DueDate, time.UTC)
		if err != nil {
			return Flashcard{}, fmt.Errorf("failed to parse due date %q: %w", p.DueDate, err)
		}
		card.DueDate = due
	}
	return card, nil
}
