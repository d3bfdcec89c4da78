package search

import (
	"sort"
	"strings"
	"time"

	"github.com/sopdesk/backend/internal/storage/models"
)

// Merge weights: the earliest-contributing strategy dominates and later
// strategies adjust its score.
const (
	firstSeenWeight = 0.7
	newScoreWeight  = 0.3
)

// Final-ranking adjustments.
const (
	freshAge           = 30 * 24 * time.Hour
	staleAge           = 180 * 24 * time.Hour
	freshBoost         = 1.1
	stalePenalty       = 0.9
	maxTitleBonus      = 0.2
	perSectionBonus    = 0.05
	maxStructuralBonus = 0.2
	urgentBoost        = 1.15
	highBoost          = 1.1
)

// mergeResults deduplicates strategy outputs by document id, in the order
// the strategy lists are given. Matched sections are unioned by title and
// reasoning strings concatenated.
func mergeResults(lists ...[]RelevantResult) []RelevantResult {
	var merged []RelevantResult
	position := make(map[string]int)

	for _, list := range lists {
		for _, result := range list {
			i, seen := position[result.Document.ID]
			if !seen {
				position[result.Document.ID] = len(merged)
				merged = append(merged, result)
				continue
			}

			merged[i].RelevanceScore = firstSeenWeight*merged[i].RelevanceScore +
				newScoreWeight*result.RelevanceScore
			merged[i].MatchedSections = unionSections(merged[i].MatchedSections, result.MatchedSections)
			merged[i].Reasoning = merged[i].Reasoning + "; " + result.Reasoning
		}
	}

	return merged
}

// rankResults applies the recency, title-overlap, structural and priority
// adjustments, clamps to [0,1] and sorts descending. The sort is stable so
// equal scores keep merge order.
func rankResults(results []RelevantResult, query, priority string, now time.Time) []RelevantResult {
	for i := range results {
		doc := results[i].Document
		score := results[i].RelevanceScore

		if !doc.LastModified.IsZero() {
			age := now.Sub(doc.LastModified)
			if age < freshAge {
				score *= freshBoost
			} else if age > staleAge {
				score *= stalePenalty
			}
		}

		score += maxTitleBonus * titleOverlap(query, doc.Title)

		structural := perSectionBonus * float64(len(doc.Sections))
		if structural > maxStructuralBonus {
			structural = maxStructuralBonus
		}
		score += structural

		switch strings.ToLower(priority) {
		case "urgent":
			score *= urgentBoost
		case "high":
			score *= highBoost
		}

		if score > 1 {
			score = 1
		}
		if score < 0 {
			score = 0
		}
		results[i].RelevanceScore = score
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].RelevanceScore > results[j].RelevanceScore
	})

	return results
}

// titleOverlap is the fraction of query words appearing in the title.
func titleOverlap(query, title string) float64 {
	queryWords := strings.Fields(strings.ToLower(query))
	if len(queryWords) == 0 {
		return 0
	}

	lowerTitle := strings.ToLower(title)
	matched := 0
	for _, word := range queryWords {
		if strings.Contains(lowerTitle, word) {
			matched++
		}
	}

	return float64(matched) / float64(len(queryWords))
}

func unionSections(a, b []models.Section) []models.Section {
	seen := make(map[string]bool, len(a))
	for _, section := range a {
		seen[section.Title] = true
	}

	union := a
	for _, section := range b {
		if !seen[section.Title] {
			seen[section.Title] = true
			union = append(union, section)
		}
	}
	return union
}
