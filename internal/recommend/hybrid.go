// Osusume - MyAnimeList Hybrid Recommendation Service
// Copyright 2026 Yukari N. (yukarin)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/yukarin/osusume

package recommend

import (
	"sort"

	"github.com/yukarin/osusume/internal/models"
)

// scoredItem pairs a catalog item with its combined hybrid score.
type scoredItem struct {
	Item  models.CatalogItem
	Score float64
}

// hybridRank blends the content pipeline's ordering with collaborative
// scores. Content items earn a positional score, (N-idx)/N weighted by
// ContentWeight, so the pipeline's ordering survives when no
// collaborative signal exists. Collaborative scores are normalized by
// the strongest score present and add their weighted share to matching
// content items. Collaborative item ids absent from the content set are
// returned separately for detail lookup.
func hybridRank(content []models.CatalogItem, collaborative []CollaborativeScore, contentWeight float64) ([]scoredItem, []CollaborativeScore) {
	collabWeight := 1 - contentWeight

	maxScore := 0.0
	for _, cs := range collaborative {
		if cs.Score > maxScore {
			maxScore = cs.Score
		}
	}
	if maxScore <= 0 {
		maxScore = 1
	}
	collabByID := make(map[int]float64, len(collaborative))
	for _, cs := range collaborative {
		collabByID[cs.ItemID] = cs.Score / maxScore
	}

	n := len(content)
	ranked := make([]scoredItem, 0, n+len(collaborative))
	contentIDs := make(map[int]struct{}, n)
	for idx, item := range content {
		contentIDs[item.ID] = struct{}{}
		score := float64(n-idx) / float64(n) * contentWeight
		if norm, ok := collabByID[item.ID]; ok {
			score += norm * collabWeight
		}
		ranked = append(ranked, scoredItem{Item: item, Score: score})
	}

	var collabOnly []CollaborativeScore
	for _, cs := range collaborative {
		if _, ok := contentIDs[cs.ItemID]; !ok {
			collabOnly = append(collabOnly, cs)
		}
	}
	return ranked, collabOnly
}

// sortRanked orders by combined score, strongest first, item id as the
// tie-break for determinism.
func sortRanked(ranked []scoredItem) {
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].Item.ID < ranked[j].Item.ID
	})
}
