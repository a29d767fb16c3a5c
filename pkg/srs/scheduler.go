package srs

import (
	"errors"
	"math"
	"time"

	"github.com/julianjjo/linguaflip-english-flashcards-sub005/pkg/db"
)

// Recall quality grades, 0 = complete blackout, 5 = perfect recall.
const (
	QualityMin = 0
	QualityMax = 5

	// Grades below this reset the repetition streak.
	LapseThreshold = 3

	EaseFloor = 1.3
)

var ErrInvalidQuality = errors.New("quality must be between 0 and 5")

// Apply computes the next scheduling state of a card after a review, using
// the SM-2 algorithm. It is pure: the input card is not mutated, the returned
// copy carries the new interval, ease factor, repetitions, due date and
// review timestamp. The caller persists the result and marks it dirty.
//
// Identical inputs always produce identical outputs, which sync conflict
// replay relies on.
func Apply(card db.Flashcard, quality int, now time.Time) (db.Flashcard, error) {
	if quality < QualityMin || quality > QualityMax {
		return db.Flashcard{}, ErrInvalidQuality
	}

	// The ease adjustment applies on every review, lapses included.
	card.EaseFactor = nextEase(card.EaseFactor, quality)

	if quality < LapseThreshold {
		card.Repetitions = 0
		card.IntervalDays = 1
	} else {
		card.Repetitions++
		switch {
		case card.Repetitions == 1:
			card.IntervalDays = 1
		case card.Repetitions == 2:
			card.IntervalDays = 6
		default:
			card.IntervalDays = maxInt(1, int(math.Round(float64(card.IntervalDays)*card.EaseFactor)))
		}
	}

	reviewed := now.UTC()
	card.LastReviewedAt = &reviewed
	card.DueDate = db.Day(reviewed).AddDate(0, 0, card.IntervalDays)
	return card, nil
}

func nextEase(ease float64, quality int) float64 {
	q := float64(quality)
	ease += 0.1 - (5-q)*(0.08+(5-q)*0.02)
	if ease < EaseFloor {
		return EaseFloor
	}
	return ease
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
