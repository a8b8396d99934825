// Osusume - MyAnimeList Hybrid Recommendation Service
// Copyright 2026 Yukari N. (yukarin)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/yukarin/osusume

package services

import (
	"context"
	"time"

	"github.com/yukarin/osusume/internal/logging"
)

// Sweeper removes expired server-side cache rows. Implemented by
// *database.DB.
type Sweeper interface {
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// Compactor reclaims local cache disk space. Implemented by
// *cooldown.Store.
type Compactor interface {
	RunGC()
}

// JanitorService periodically sweeps expired recommendation batches and
// share links, then compacts the Badger value log.
type JanitorService struct {
	sweeper   Sweeper
	compactor Compactor
	interval  time.Duration
}

// NewJanitorService builds the janitor. A nil compactor skips the
// Badger pass, used when the local cache runs in memory.
func NewJanitorService(sweeper Sweeper, compactor Compactor, interval time.Duration) *JanitorService {
	if interval <= 0 {
		interval = time.Hour
	}
	return &JanitorService{sweeper: sweeper, compactor: compactor, interval: interval}
}

// Serve implements suture.Service.
func (j *JanitorService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			j.sweep(ctx)
		}
	}
}

func (j *JanitorService) sweep(ctx context.Context) {
	removed, err := j.sweeper.DeleteExpired(ctx, time.Now())
	if err != nil {
		logging.Error().Err(err).Msg("Expired cache sweep failed")
	} else if removed > 0 {
		logging.Debug().Int64("removed", removed).Msg("Swept expired cache rows")
	}
	if j.compactor != nil {
		j.compactor.RunGC()
	}
}

// String identifies the service in suture logs.
func (j *JanitorService) String() string {
	return "cache-janitor"
}
