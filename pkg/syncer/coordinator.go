package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/julianjjo/linguaflip-english-flashcards-sub005/pkg/config"
	"github.com/julianjjo/linguaflip-english-flashcards-sub005/pkg/db"
	"github.com/julianjjo/linguaflip-english-flashcards-sub005/pkg/deck"
	"github.com/julianjjo/linguaflip-english-flashcards-sub005/pkg/logger"
	"gorm.io/gorm"
)

// ErrSyncDegraded signals that the remote store stayed unreachable through
// all retry attempts. It is non-fatal: the affected records remain dirty
// locally and are retried on the next flush.
var ErrSyncDegraded = errors.New("sync degraded: remote store unreachable")

const (
	DefaultMaxAttempts = 5
	DefaultBackoffBase = 250 * time.Millisecond
	DefaultBackoffCap  = 8 * time.Second
)

// PullResult summarizes a merge of remote records into the local store.
type PullResult struct {
	// Applied counts remote records that replaced clean local copies or
	// created new ones.
	Applied int
	// Discarded counts remote writes rejected by last-write-wins. These are
	// informational, not errors.
	Discarded int
	// ReplacedDirty counts locally dirty copies overwritten by strictly
	// newer remote records.
	ReplacedDirty int
}

// Coordinator reconciles the local deck store with the remote store for one
// user. Flush pushes dirty records out with capped exponential backoff; Pull
// merges newer remote records in. Both compare solely on updatedAt and
// reject strictly-older writes, so any interleaving of the two converges to
// the same state.
type Coordinator struct {
	mu          sync.Mutex
	store       *deck.Store
	remote      RemoteStore
	gdb         *gorm.DB // local store, for ledger attempt tracking
	userID      int64
	now         func() time.Time
	sleep       func(ctx context.Context, d time.Duration) error
	maxAttempts int
	backoffBase time.Duration
	backoffCap  time.Duration
	lastPullAt  time.Time
}

func New(store *deck.Store, remote RemoteStore, gdb *gorm.DB, cfg config.SyncConfig, now func() time.Time) *Coordinator {
	if now == nil {
		now = time.Now
	}
	c := &Coordinator{
		store:       store,
		remote:      remote,
		gdb:         gdb,
		userID:      cfg.UserID,
		now:         now,
		sleep:       sleepContext,
		maxAttempts: cfg.MaxAttempts,
		backoffBase: time.Duration(cfg.BackoffBaseMs) * time.Millisecond,
		backoffCap:  time.Duration(cfg.BackoffMaxMs) * time.Millisecond,
	}
	if c.maxAttempts <= 0 {
		c.maxAttempts = DefaultMaxAttempts
	}
	if c.backoffBase <= 0 {
		c.backoffBase = DefaultBackoffBase
	}
	if c.backoffCap <= 0 {
		c.backoffCap = DefaultBackoffCap
	}
	return c
}

// Flush pushes every dirty record to the remote store. A record that cannot
// be delivered within the attempt budget stays dirty and the flush finishes
// with ErrSyncDegraded; local data is never dropped or rolled back.
func (c *Coordinator) Flush(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flushLocked(ctx)
}

func (c *Coordinator) flushLocked(ctx context.Context) error {
	var lastErr error
	failed := 0
	for _, card := range c.store.Dirty() {
		if err := c.flushCard(ctx, card); err != nil {
			failed++
			lastErr = err
			logger.Warn("failed to flush card, keeping dirty",
				"card_id", card.ID, "error", err)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%w: %d record(s) still dirty: %w", ErrSyncDegraded, failed, lastErr)
	}
	return nil
}

func (c *Coordinator) flushCard(ctx context.Context, card db.Flashcard) error {
	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		err := c.remote.Upsert(ctx, card)
		if err == nil {
			return c.store.ClearDirty(card.ID, card.UpdatedAt)
		}
		lastErr = err
		c.recordAttempt(card.ID, attempt)

		if attempt == c.maxAttempts {
			break
		}
		if err := c.sleep(ctx, backoffDelay(attempt, c.backoffBase, c.backoffCap)); err != nil {
			return errors.Join(lastErr, err)
		}
	}
	return lastErr
}

func (c *Coordinator) recordAttempt(cardID string, attempts int) {
	if c.gdb == nil {
		return
	}
	err := c.gdb.Model(&db.SyncLedger{}).
		Where("card_id = ?", cardID).
		Update("attempts", attempts).Error
	if err != nil {
		logger.Error("failed to record flush attempt", "card_id", cardID, "error", err)
	}
}

// Pull fetches remote records updated since the last pull and merges them
// into the local store. The pull cursor only advances when the whole merge
// succeeds, so a failed pull is simply retried from the same point.
func (c *Coordinator) Pull(ctx context.Context) (PullResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pullLocked(ctx)
}

func (c *Coordinator) pullLocked(ctx context.Context) (PullResult, error) {
	cards, err := c.remote.UpdatedSince(ctx, c.userID, c.lastPullAt)
	if err != nil {
		return PullResult{}, fmt.Errorf("%w: %w", ErrSyncDegraded, err)
	}
	res, err := c.merge(cards)
	if err != nil {
		return res, err
	}
	for _, card := range cards {
		if card.UpdatedAt.After(c.lastPullAt) {
			c.lastPullAt = card.UpdatedAt
		}
	}
	return res, nil
}

// merge applies a remote snapshot under the last-write-wins rule. Locally
// dirty records are never overwritten by older remote copies, so an
// offline-recorded review survives until it is flushed.
func (c *Coordinator) merge(cards []db.Flashcard) (PullResult, error) {
	var res PullResult
	for _, card := range cards {
		outcome, err := c.store.ApplyRemote(card)
		if err != nil {
			return res, err
		}
		switch outcome {
		case deck.MergeApplied:
			res.Applied++
		case deck.MergeDiscarded:
			res.Discarded++
			logger.Info("discarded stale remote write", "card_id", card.ID)
		case deck.MergeReplacedDirty:
			res.ReplacedDirty++
			logger.Info("newer remote write replaced local pending mutation", "card_id", card.ID)
		}
	}
	return res, nil
}

// ForceSync runs a pull followed by a flush under one lock, for explicit
// user-triggered reconciliation. Any failure is reported; nothing fails
// silently partway.
func (c *Coordinator) ForceSync(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.pullLocked(ctx); err != nil {
		return fmt.Errorf("force sync pull: %w", err)
	}
	if err := c.flushLocked(ctx); err != nil {
		return fmt.Errorf("force sync flush: %w", err)
	}
	return nil
}

// Run flushes and pulls on a fixed interval until the context is canceled.
// Sync failures are logged and retried next tick; they never stop the loop.
func (c *Coordinator) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Flush(ctx); err != nil {
				logger.Warn("background flush degraded", "error", err)
			}
			if res, err := c.Pull(ctx); err != nil {
				logger.Warn("background pull degraded", "error", err)
			} else if res.Applied+res.ReplacedDirty > 0 {
				logger.Info("merged remote changes",
					"applied", res.Applied,
					"replaced_dirty", res.ReplacedDirty,
					"discarded", res.Discarded)
			}
		}
	}
}

func backoffDelay(attempt int, base, limit time.Duration) time.Duration {
	d := base << (attempt - 1)
	if d > limit || d <= 0 {
		return limit
	}
	return d
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
