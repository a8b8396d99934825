// Osusume - MyAnimeList Hybrid Recommendation Service
// Copyright 2026 Yukari N. (yukarin)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/yukarin/osusume

package cooldown

import (
	"errors"
	"testing"
	"time"

	"github.com/yukarin/osusume/internal/models"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := Open("")
	if err != nil {
		t.Fatalf("failed to open in-memory store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("failed to close store: %v", err)
		}
	})
	return store
}

func testBatch(userID int, itemType models.ItemType, mode models.Mode) *models.RecommendationBatch {
	return &models.RecommendationBatch{
		UserID:      userID,
		ItemType:    itemType,
		Mode:        mode,
		Items:       []models.Recommendation{{ID: 1, Title: "Cached", Score: 0.9}},
		GeneratedAt: time.Now(),
		ExpiresAt:   time.Now().Add(12 * time.Hour),
	}
}

func TestSaveAndGet(t *testing.T) {
	store := setupTestStore(t)

	if _, err := store.Get(42, models.ItemTypeAnime, models.ModeNew); !errors.Is(err, ErrNotCached) {
		t.Fatalf("expected ErrNotCached, got %v", err)
	}

	batch := testBatch(42, models.ItemTypeAnime, models.ModeNew)
	if err := store.Save(batch); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := store.Get(42, models.ItemTypeAnime, models.ModeNew)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.UserID != 42 || len(got.Items) != 1 || got.Items[0].Title != "Cached" {
		t.Errorf("unexpected batch: %+v", got)
	}
}

func TestKeyIsolation(t *testing.T) {
	store := setupTestStore(t)

	if err := store.Save(testBatch(42, models.ItemTypeAnime, models.ModeNew)); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	// Other modes, types and users miss.
	if _, err := store.Get(42, models.ItemTypeAnime, models.ModeRewatch); !errors.Is(err, ErrNotCached) {
		t.Errorf("expected mode isolation, got %v", err)
	}
	if _, err := store.Get(42, models.ItemTypeManga, models.ModeNew); !errors.Is(err, ErrNotCached) {
		t.Errorf("expected item type isolation, got %v", err)
	}
	if _, err := store.Get(7, models.ItemTypeAnime, models.ModeNew); !errors.Is(err, ErrNotCached) {
		t.Errorf("expected user isolation, got %v", err)
	}
}

func TestExpiredBatchNotSaved(t *testing.T) {
	store := setupTestStore(t)

	batch := testBatch(42, models.ItemTypeAnime, models.ModeNew)
	batch.ExpiresAt = time.Now().Add(-time.Minute)
	if err := store.Save(batch); err != nil {
		t.Fatalf("Save of expired batch must be a no-op, got %v", err)
	}

	if _, err := store.Get(42, models.ItemTypeAnime, models.ModeNew); !errors.Is(err, ErrNotCached) {
		t.Errorf("expected expired batch dropped, got %v", err)
	}
}

func TestExpiryGuard(t *testing.T) {
	store := setupTestStore(t)

	// A batch expiring almost immediately is stored but unservable once
	// its window passes.
	batch := testBatch(42, models.ItemTypeAnime, models.ModeNew)
	batch.ExpiresAt = time.Now().Add(50 * time.Millisecond)
	if err := store.Save(batch); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	time.Sleep(80 * time.Millisecond)
	if _, err := store.Get(42, models.ItemTypeAnime, models.ModeNew); !errors.Is(err, ErrNotCached) {
		t.Errorf("expected lapsed batch to miss, got %v", err)
	}
}

func TestInvalidate(t *testing.T) {
	store := setupTestStore(t)

	if err := store.Save(testBatch(42, models.ItemTypeAnime, models.ModeNew)); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := store.Save(testBatch(42, models.ItemTypeManga, models.ModeRewatch)); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := store.Save(testBatch(7, models.ItemTypeAnime, models.ModeNew)); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if err := store.Invalidate(42); err != nil {
		t.Fatalf("Invalidate failed: %v", err)
	}

	if _, err := store.Get(42, models.ItemTypeAnime, models.ModeNew); !errors.Is(err, ErrNotCached) {
		t.Errorf("expected batch invalidated, got %v", err)
	}
	if _, err := store.Get(42, models.ItemTypeManga, models.ModeRewatch); !errors.Is(err, ErrNotCached) {
		t.Errorf("expected batch invalidated, got %v", err)
	}

	// Other users are untouched.
	if _, err := store.Get(7, models.ItemTypeAnime, models.ModeNew); err != nil {
		t.Errorf("expected other user's batch intact, got %v", err)
	}
}
