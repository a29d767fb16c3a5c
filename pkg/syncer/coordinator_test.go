package syncer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/julianjjo/linguaflip-english-flashcards-sub005/pkg/config"
	"github.com/julianjjo/linguaflip-english-flashcards-sub005/pkg/db"
	"github.com/julianjjo/linguaflip-english-flashcards-sub005/pkg/deck"
	"github.com/julianjjo/linguaflip-english-flashcards-sub005/pkg/internal/testutil"
	"gorm.io/gorm"
)

type fakeRemote struct {
	mu       sync.Mutex
	cards    map[string]db.Flashcard
	failures int // upsert calls to fail before succeeding
	upserts  int
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{cards: make(map[string]db.Flashcard)}
}

func (f *fakeRemote) Upsert(_ context.Context, card db.Flashcard) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts++
	if f.failures > 0 {
		f.failures--
		return errors.New("connection refused")
	}
	if existing, ok := f.cards[card.ID]; ok && !card.UpdatedAt.After(existing.UpdatedAt) {
		return nil // stale write, rejected silently like the real store
	}
	card.Dirty = false
	f.cards[card.ID] = card
	return nil
}

func (f *fakeRemote) UpdatedSince(_ context.Context, userID int64, since time.Time) ([]db.Flashcard, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []db.Flashcard
	for _, card := range f.cards {
		if card.UserID == userID && card.UpdatedAt.After(since) {
			out = append(out, card)
		}
	}
	return out, nil
}

func (f *fakeRemote) get(id string) (db.Flashcard, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	card, ok := f.cards[id]
	return card, ok
}

type env struct {
	gdb    *gorm.DB
	store  *deck.Store
	remote *fakeRemote
	coord  *Coordinator
	sleeps []time.Duration
}

func newEnv(t *testing.T, now func() time.Time) *env {
	t.Helper()
	e := &env{
		gdb:    testutil.SetupLocalDB(t),
		remote: newFakeRemote(),
	}
	e.store = deck.NewStore(e.gdb, now)
	e.coord = New(e.store, e.remote, e.gdb, config.SyncConfig{
		UserID:      1,
		MaxAttempts: 3,
	}, now)
	e.coord.sleep = func(_ context.Context, d time.Duration) error {
		e.sleeps = append(e.sleeps, d)
		return nil
	}
	return e
}

func TestFlushClearsDirtyAndUpdatesLedger(t *testing.T) {
	now := time.Date(2025, 1, 2, 10, 0, 0, 0, time.UTC)
	e := newEnv(t, func() time.Time { return now })

	card := db.NewFlashcard(1, "house", "casa", now)
	if err := e.store.Upsert(card); err != nil {
		t.Fatalf("Upsert returned error: %v", err)
	}

	if err := e.coord.Flush(context.Background()); err != nil {
		t.Fatalf("Flush returned error: %v", err)
	}

	got, err := e.store.Get(card.ID)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if got.Dirty {
		t.Fatal("expected dirty flag cleared after flush")
	}
	if _, ok := e.remote.get(card.ID); !ok {
		t.Fatal("expected card in remote store after flush")
	}

	var ledger db.SyncLedger
	if err := e.gdb.Where("card_id = ?", card.ID).First(&ledger).Error; err != nil {
		t.Fatalf("failed to load ledger: %v", err)
	}
	if ledger.Pending || ledger.Version != 1 || ledger.LastSyncedAt == nil {
		t.Fatalf("unexpected ledger state: %+v", ledger)
	}
}

func TestFlushRetriesWithBackoff(t *testing.T) {
	now := time.Date(2025, 1, 2, 10, 0, 0, 0, time.UTC)
	e := newEnv(t, func() time.Time { return now })
	e.remote.failures = 2

	card := db.NewFlashcard(1, "house", "casa", now)
	if err := e.store.Upsert(card); err != nil {
		t.Fatalf("Upsert returned error: %v", err)
	}

	if err := e.coord.Flush(context.Background()); err != nil {
		t.Fatalf("Flush returned error: %v", err)
	}
	if e.remote.upserts != 3 {
		t.Fatalf("expected 3 upsert attempts, got %d", e.remote.upserts)
	}
	if len(e.sleeps) != 2 ||
		e.sleeps[0] != DefaultBackoffBase ||
		e.sleeps[1] != 2*DefaultBackoffBase {
		t.Fatalf("unexpected backoff delays: %v", e.sleeps)
	}
	got, _ := e.store.Get(card.ID)
	if got.Dirty {
		t.Fatal("expected dirty flag cleared after eventual success")
	}
}

func TestFlushDegradedKeepsDataLocally(t *testing.T) {
	now := time.Date(2025, 1, 2, 10, 0, 0, 0, time.UTC)
	e := newEnv(t, func() time.Time { return now })
	e.remote.failures = 100

	card := db.NewFlashcard(1, "house", "casa", now)
	if err := e.store.Upsert(card); err != nil {
		t.Fatalf("Upsert returned error: %v", err)
	}

	err := e.coord.Flush(context.Background())
	if !errors.Is(err, ErrSyncDegraded) {
		t.Fatalf("expected ErrSyncDegraded, got %v", err)
	}
	got, _ := e.store.Get(card.ID)
	if !got.Dirty {
		t.Fatal("record must stay dirty after exhausted retries")
	}

	var ledger db.SyncLedger
	if err := e.gdb.Where("card_id = ?", card.ID).First(&ledger).Error; err != nil {
		t.Fatalf("failed to load ledger: %v", err)
	}
	if !ledger.Pending || ledger.Attempts != 3 {
		t.Fatalf("unexpected ledger state: %+v", ledger)
	}

	// The next flush retries the same record.
	e.remote.failures = 0
	if err := e.coord.Flush(context.Background()); err != nil {
		t.Fatalf("retry Flush returned error: %v", err)
	}
	if _, ok := e.remote.get(card.ID); !ok {
		t.Fatal("expected card delivered on retry")
	}
}

func TestPullAdvancesCursor(t *testing.T) {
	now := time.Date(2025, 1, 2, 10, 0, 0, 0, time.UTC)
	e := newEnv(t, func() time.Time { return now })

	remoteCard := db.NewFlashcard(1, "sun", "sol", now)
	remoteCard.UpdatedAt = now.Add(-time.Hour)
	remoteCard.Dirty = false
	e.remote.cards[remoteCard.ID] = remoteCard

	res, err := e.coord.Pull(context.Background())
	if err != nil {
		t.Fatalf("Pull returned error: %v", err)
	}
	if res.Applied != 1 || res.Discarded != 0 {
		t.Fatalf("unexpected pull result: %+v", res)
	}
	if _, err := e.store.Get(remoteCard.ID); err != nil {
		t.Fatalf("pulled card missing from store: %v", err)
	}

	// Nothing new: the cursor prevents refetching the same rows.
	res, err = e.coord.Pull(context.Background())
	if err != nil {
		t.Fatalf("second Pull returned error: %v", err)
	}
	if res.Applied != 0 || res.Discarded != 0 {
		t.Fatalf("expected empty second pull, got %+v", res)
	}
}

func TestPullNeverOverwritesNewerDirtyRecord(t *testing.T) {
	now := time.Date(2025, 1, 2, 10, 0, 0, 0, time.UTC)
	e := newEnv(t, func() time.Time { return now })

	local := db.NewFlashcard(1, "sun", "sol", now)
	if err := e.store.Upsert(local); err != nil {
		t.Fatalf("Upsert returned error: %v", err)
	}

	stale := local
	stale.Back = "stale"
	stale.UpdatedAt = now.Add(-2 * time.Hour)
	stale.Dirty = false
	e.remote.cards[stale.ID] = stale

	res, err := e.coord.Pull(context.Background())
	if err != nil {
		t.Fatalf("Pull returned error: %v", err)
	}
	if res.Discarded != 1 || res.Applied != 0 {
		t.Fatalf("expected one discarded conflict, got %+v", res)
	}
	got, _ := e.store.Get(local.ID)
	if got.Back != "sol" || !got.Dirty {
		t.Fatalf("offline mutation lost: %+v", got)
	}
}

// Convergence: with a newer dirty local record and an older remote record,
// pull-then-flush and flush-then-pull end in the same state, the local
// record's content synced to remote.
func TestPullFlushConvergence(t *testing.T) {
	for name, pullFirst := range map[string]bool{"pull_then_flush": true, "flush_then_pull": false} {
		t.Run(name, func(t *testing.T) {
			now := time.Date(2025, 1, 2, 10, 0, 0, 0, time.UTC)
			e := newEnv(t, func() time.Time { return now })

			local := db.NewFlashcard(1, "sun", "sol", now)
			if err := e.store.Upsert(local); err != nil {
				t.Fatalf("Upsert returned error: %v", err)
			}

			older := local
			older.Back = "old remote"
			older.UpdatedAt = now.Add(-time.Hour)
			older.Dirty = false
			e.remote.cards[older.ID] = older

			ctx := context.Background()
			if pullFirst {
				if _, err := e.coord.Pull(ctx); err != nil {
					t.Fatalf("Pull returned error: %v", err)
				}
				if err := e.coord.Flush(ctx); err != nil {
					t.Fatalf("Flush returned error: %v", err)
				}
			} else {
				if err := e.coord.Flush(ctx); err != nil {
					t.Fatalf("Flush returned error: %v", err)
				}
				if _, err := e.coord.Pull(ctx); err != nil {
					t.Fatalf("Pull returned error: %v", err)
				}
			}

			gotLocal, err := e.store.Get(local.ID)
			if err != nil {
				t.Fatalf("Get returned error: %v", err)
			}
			if gotLocal.Back != "sol" || gotLocal.Dirty {
				t.Fatalf("local state diverged: %+v", gotLocal)
			}
			gotRemote, ok := e.remote.get(local.ID)
			if !ok {
				t.Fatal("record missing from remote")
			}
			if gotRemote.Back != "sol" || !gotRemote.UpdatedAt.Equal(now) {
				t.Fatalf("remote state diverged: %+v", gotRemote)
			}
		})
	}
}

func TestForceSync(t *testing.T) {
	now := time.Date(2025, 1, 2, 10, 0, 0, 0, time.UTC)
	e := newEnv(t, func() time.Time { return now })

	dirty := db.NewFlashcard(1, "sun", "sol", now)
	if err := e.store.Upsert(dirty); err != nil {
		t.Fatalf("Upsert returned error: %v", err)
	}
	incoming := db.NewFlashcard(1, "moon", "luna", now)
	incoming.UpdatedAt = now.Add(-time.Minute)
	incoming.Dirty = false
	e.remote.cards[incoming.ID] = incoming

	if err := e.coord.ForceSync(context.Background()); err != nil {
		t.Fatalf("ForceSync returned error: %v", err)
	}

	if _, err := e.store.Get(incoming.ID); err != nil {
		t.Fatalf("remote card not merged: %v", err)
	}
	if _, ok := e.remote.get(dirty.ID); !ok {
		t.Fatal("dirty card not flushed")
	}
	got, _ := e.store.Get(dirty.ID)
	if got.Dirty {
		t.Fatal("expected dirty flag cleared after force sync")
	}
}

func TestForceSyncReportsFailure(t *testing.T) {
	now := time.Date(2025, 1, 2, 10, 0, 0, 0, time.UTC)
	e := newEnv(t, func() time.Time { return now })
	e.remote.failures = 100

	card := db.NewFlashcard(1, "sun", "sol", now)
	if err := e.store.Upsert(card); err != nil {
		t.Fatalf("Upsert returned error: %v", err)
	}

	if err := e.coord.ForceSync(context.Background()); !errors.Is(err, ErrSyncDegraded) {
		t.Fatalf("expected ErrSyncDegraded, got %v", err)
	}
	got, _ := e.store.Get(card.ID)
	if !got.Dirty {
		t.Fatal("record must stay dirty after failed force sync")
	}
}

func TestBackoffDelay(t *testing.T) {
	base := 100 * time.Millisecond
	limit := time.Second
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, time.Second},
		{30, time.Second},
	}
	for _, tc := range cases {
		if got := backoffDelay(tc.attempt, base, limit); got != tc.want {
			t.Fatalf("attempt %d: expected %v, got %v", tc.attempt, tc.want, got)
		}
	}
}
