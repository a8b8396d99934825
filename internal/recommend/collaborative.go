// Osusume - MyAnimeList Hybrid Recommendation Service
// Copyright 2026 Yukari N. (yukarin)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/yukarin/osusume

package recommend

import (
	"context"
	"sort"

	"github.com/yukarin/osusume/internal/logging"
	"github.com/yukarin/osusume/internal/models"
)

// JaccardSimilarity returns |A∩B| / |A∪B| over two like sets. An empty
// union yields 0, never a division error.
func JaccardSimilarity(a, b []int) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	setA := make(map[int]struct{}, len(a))
	for _, id := range a {
		setA[id] = struct{}{}
	}
	intersection := 0
	union := len(setA)
	seenB := make(map[int]struct{}, len(b))
	for _, id := range b {
		if _, dup := seenB[id]; dup {
			continue
		}
		seenB[id] = struct{}{}
		if _, ok := setA[id]; ok {
			intersection++
		} else {
			union++
		}
	}
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// findSimilarUsers ranks other users by like-set similarity against the
// target, keeping those at or above minSimilarity, strongest first,
// capped at max. User id breaks ties so the ordering is stable.
func findSimilarUsers(targetLikes []int, othersLikes map[int][]int, minSimilarity float64, max int) []SimilarityEntry {
	if len(targetLikes) == 0 || len(othersLikes) == 0 {
		return nil
	}
	targetSet := make(map[int]struct{}, len(targetLikes))
	for _, id := range targetLikes {
		targetSet[id] = struct{}{}
	}

	neighbors := make([]SimilarityEntry, 0, len(othersLikes))
	for userID, likes := range othersLikes {
		sim := JaccardSimilarity(targetLikes, likes)
		if sim < minSimilarity {
			continue
		}
		shared := 0
		for _, id := range likes {
			if _, ok := targetSet[id]; ok {
				shared++
			}
		}
		neighbors = append(neighbors, SimilarityEntry{
			UserID:      userID,
			Similarity:  sim,
			SharedLikes: shared,
		})
	}

	sort.Slice(neighbors, func(i, j int) bool {
		if neighbors[i].Similarity != neighbors[j].Similarity {
			return neighbors[i].Similarity > neighbors[j].Similarity
		}
		return neighbors[i].UserID < neighbors[j].UserID
	})
	if len(neighbors) > max {
		neighbors = neighbors[:max]
	}
	return neighbors
}

// scoreCollaborative accumulates, per item liked by a neighbor, the sum
// of neighbor similarities and the count of endorsing neighbors.
// Excluded and disliked items never score.
func scoreCollaborative(neighbors []SimilarityEntry, likesByUser map[int][]int, exclude, disliked map[int]struct{}, limit int) []CollaborativeScore {
	scores := make(map[int]*CollaborativeScore)
	for _, n := range neighbors {
		for _, itemID := range likesByUser[n.UserID] {
			if _, skip := exclude[itemID]; skip {
				continue
			}
			if _, skip := disliked[itemID]; skip {
				continue
			}
			cs, ok := scores[itemID]
			if !ok {
				cs = &CollaborativeScore{ItemID: itemID}
				scores[itemID] = cs
			}
			cs.Score += n.Similarity
			cs.Count++
		}
	}

	out := make([]CollaborativeScore, 0, len(scores))
	for _, cs := range scores {
		out = append(out, *cs)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ItemID < out[j].ItemID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// collaborativeRecommendations produces neighbor-endorsed item scores
// for the user. Every lookup failure degrades to an empty result; the
// collaborative signal is an enrichment, never a hard dependency.
func (e *Engine) collaborativeRecommendations(ctx context.Context, userID int, itemType models.ItemType, exclude, disliked map[int]struct{}, limit int) []CollaborativeScore {
	targetLikes, err := e.store.GetFeedback(ctx, userID, itemType, models.FeedbackLike)
	if err != nil {
		logging.Warn().Err(err).Int("user_id", userID).Msg("Collaborative signal unavailable: feedback lookup failed")
		return nil
	}
	if len(targetLikes) == 0 {
		return nil
	}

	likesByUser, err := e.store.GetLikesByUser(ctx, itemType, userID)
	if err != nil {
		logging.Warn().Err(err).Int("user_id", userID).Msg("Collaborative signal unavailable: likes lookup failed")
		return nil
	}

	neighbors := findSimilarUsers(targetLikes, likesByUser, e.cfg.MinSimilarity, e.cfg.MaxSimilarUsers)
	if len(neighbors) == 0 {
		return nil
	}
	return scoreCollaborative(neighbors, likesByUser, exclude, disliked, limit)
}
