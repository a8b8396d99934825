// Osusume - MyAnimeList Hybrid Recommendation Service
// Copyright 2026 Yukari N. (yukarin)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/yukarin/osusume

// Package auth provides application sessions and the bearer tokens that
// reference them. MAL OAuth itself lives in the mal package; auth only
// tracks which browser is which user after the OAuth dance completes.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

const sessionKeyPrefix = "session:"

var (
	// ErrSessionNotFound indicates the session id is unknown.
	ErrSessionNotFound = errors.New("auth: session not found")
	// ErrSessionExpired indicates the session exists but has lapsed.
	ErrSessionExpired = errors.New("auth: session expired")
)

// Session is one authenticated browser session.
type Session struct {
	ID       string `json:"id"`
	UserID   int    `json:"user_id"`
	Username string `json:"username"`

	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the session has lapsed.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// SessionStore persists sessions in Badger. Entries carry a TTL so
// Badger reclaims expired sessions without a sweeper.
type SessionStore struct {
	db  *badger.DB
	ttl time.Duration
}

// NewSessionStore wraps an open Badger handle. The handle is shared
// with the cooldown store and closed by its owner.
func NewSessionStore(db *badger.DB, ttl time.Duration) *SessionStore {
	return &SessionStore{db: db, ttl: ttl}
}

// Create mints and persists a new session for the user.
func (s *SessionStore) Create(userID int, username string) (*Session, error) {
	now := time.Now()
	session := &Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		Username:  username,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}

	data, err := json.Marshal(session)
	if err != nil {
		return nil, fmt.Errorf("encoding session: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte(sessionKeyPrefix+session.ID), data).WithTTL(s.ttl)
		return txn.SetEntry(e)
	})
	if err != nil {
		return nil, fmt.Errorf("storing session: %w", err)
	}
	return session, nil
}

// Get returns the session for id, or ErrSessionNotFound /
// ErrSessionExpired.
func (s *SessionStore) Get(id string) (*Session, error) {
	var session Session
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(sessionKeyPrefix + id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrSessionNotFound
		}
		if err != nil {
			return fmt.Errorf("reading session: %w", err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &session)
		})
	})
	if err != nil {
		return nil, err
	}

	// TTL expiry is eventual; enforce the timestamp ourselves.
	if session.Expired(time.Now()) {
		return nil, ErrSessionExpired
	}
	return &session, nil
}

// Delete removes the session. Deleting an unknown id is a no-op.
func (s *SessionStore) Delete(id string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(sessionKeyPrefix + id))
	})
}
