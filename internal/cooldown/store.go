// Osusume - MyAnimeList Hybrid Recommendation Service
// Copyright 2026 Yukari N. (yukarin)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/yukarin/osusume

// Package cooldown provides the device-local recommendation cache layer.
//
// It mirrors the authoritative server-side cache in BadgerDB with a TTL
// equal to the cooldown window, so repeat requests inside the window are
// served without touching DuckDB. The server layer always wins on
// conflict; this layer is a fast path, not a source of truth.
package cooldown

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/yukarin/osusume/internal/logging"
	"github.com/yukarin/osusume/internal/models"
)

const batchKeyPrefix = "cooldown:"

// ErrNotCached indicates no unexpired batch exists for the key.
var ErrNotCached = errors.New("cooldown: batch not cached")

// Store is the Badger-backed local batch cache.
type Store struct {
	db      *badger.DB
	ownedDB bool
}

// Open opens (or creates) a store at dir. An empty dir runs in-memory,
// which is what tests and ephemeral deployments use.
func Open(dir string) (*Store, error) {
	var opts badger.Options
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create cache directory %s: %w", dir, err)
		}
		opts = badger.DefaultOptions(dir)
	}
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger cache: %w", err)
	}
	return &Store{db: db, ownedDB: true}, nil
}

// NewStore wraps an existing Badger handle shared with other stores.
func NewStore(db *badger.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for stores sharing the same Badger
// instance, such as the session store.
func (s *Store) DB() *badger.DB {
	return s.db
}

// Close closes the underlying database when this store owns it.
func (s *Store) Close() error {
	if !s.ownedDB {
		return nil
	}
	return s.db.Close()
}

// batchKey builds the cache key for one user, item type and mode.
func batchKey(userID int, itemType models.ItemType, mode models.Mode) []byte {
	return []byte(fmt.Sprintf("%s%d:%s:%s", batchKeyPrefix, userID, itemType, mode))
}

// Get returns the locally cached batch for the key. Badger expires the
// entry at the end of the cooldown window; a second guard on ExpiresAt
// covers clock drift between write and read.
func (s *Store) Get(userID int, itemType models.ItemType, mode models.Mode) (*models.RecommendationBatch, error) {
	var batch models.RecommendationBatch

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(batchKey(userID, itemType, mode))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotCached
		}
		if err != nil {
			return fmt.Errorf("failed to read cached batch: %w", err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &batch)
		})
	})
	if err != nil {
		return nil, err
	}

	if batch.Expired(time.Now()) {
		return nil, ErrNotCached
	}
	return &batch, nil
}

// Save stores a batch with a TTL running to its expiry. Batches already
// past expiry are dropped silently.
func (s *Store) Save(batch *models.RecommendationBatch) error {
	ttl := time.Until(batch.ExpiresAt)
	if ttl <= 0 {
		return nil
	}

	data, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("failed to marshal batch: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry(batchKey(batch.UserID, batch.ItemType, batch.Mode), data).WithTTL(ttl)
		return txn.SetEntry(e)
	})
	if err != nil {
		return fmt.Errorf("failed to write cached batch: %w", err)
	}
	return nil
}

// Invalidate drops the cached batches for one user across both item
// types and modes. Used when preferences change.
func (s *Store) Invalidate(userID int) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		for _, itemType := range []models.ItemType{models.ItemTypeAnime, models.ItemTypeManga} {
			for _, mode := range []models.Mode{models.ModeNew, models.ModeRewatch} {
				if err := txn.Delete(batchKey(userID, itemType, mode)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to invalidate cached batches: %w", err)
	}
	return nil
}

// RunGC triggers Badger value-log garbage collection. Call periodically;
// ErrNoRewrite simply means there was nothing to reclaim.
func (s *Store) RunGC() {
	if err := s.db.RunValueLogGC(0.5); err != nil && !errors.Is(err, badger.ErrNoRewrite) {
		logging.Warn().Err(err).Msg("Badger value log GC failed")
	}
}
