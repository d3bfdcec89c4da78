package search

import (
	"fmt"
	"strings"

	"github.com/agnivade/levenshtein"

	"github.com/sopdesk/backend/internal/classifier"
	"github.com/sopdesk/backend/internal/index"
	"github.com/sopdesk/backend/internal/normalizer"
	"github.com/sopdesk/backend/internal/storage/models"
)

// Field weights for the fuzzy strategy.
const (
	titleFieldWeight    = 0.3
	contentFieldWeight  = 0.4
	keywordsFieldWeight = 0.2
	categoryFieldWeight = 0.1
)

const (
	keywordScoreCutoff   = 0.2
	categoryFlatScore    = 0.8
	maxMatchedSections   = 3
	categorySectionCount = 2
)

// fuzzyStrategy runs a weighted-field approximate match over title,
// content, keywords and category. A document's match distance is the
// weighted mean of its per-field distances; documents within the threshold
// score 1 − distance.
func (e *Engine) fuzzyStrategy(snap *index.Snapshot, query string) []RelevantResult {
	queryTokens := queryTokens(query)
	if len(queryTokens) == 0 {
		return nil
	}

	var results []RelevantResult
	for _, doc := range snap.Documents() {
		distance := titleFieldWeight*tokenSetDistance(queryTokens, strings.ToLower(doc.Title)) +
			contentFieldWeight*tokenSetDistance(queryTokens, strings.ToLower(doc.CleanContent)) +
			keywordsFieldWeight*tokenSetDistance(queryTokens, strings.Join(doc.Keywords, " ")) +
			categoryFieldWeight*tokenSetDistance(queryTokens, string(doc.Category))

		if distance > e.fuzzyThreshold {
			continue
		}

		results = append(results, RelevantResult{
			Document:        doc,
			RelevanceScore:  1 - distance,
			MatchedSections: matchedSections(doc, queryTokens),
			Reasoning:       fmt.Sprintf("fuzzy match (distance %.2f)", distance),
		})
	}

	return results
}

// keywordStrategy scores documents by query-keyword overlap across title,
// content and extracted keyword set, normalized by query keyword count.
func (e *Engine) keywordStrategy(snap *index.Snapshot, query string) []RelevantResult {
	queryKeywords := normalizer.ExtractKeywords(query, normalizer.DefaultMaxKeywords)
	if len(queryKeywords) == 0 {
		return nil
	}

	var results []RelevantResult
	for _, doc := range snap.Documents() {
		lowerTitle := strings.ToLower(doc.Title)
		lowerContent := strings.ToLower(doc.CleanContent)

		docKeywords := make(map[string]bool, len(doc.Keywords))
		for _, kw := range doc.Keywords {
			docKeywords[kw] = true
		}

		sum := 0.0
		matched := 0
		for _, kw := range queryKeywords {
			contribution := 0.0
			if strings.Contains(lowerTitle, kw) {
				contribution += 0.3
			}
			if occurrences := strings.Count(lowerContent, kw); occurrences > 0 {
				contentScore := 0.1 * float64(occurrences)
				if contentScore > 0.4 {
					contentScore = 0.4
				}
				contribution += contentScore
			}
			if docKeywords[kw] {
				contribution += 0.2
			}
			if contribution > 0 {
				matched++
			}
			sum += contribution
		}

		score := sum / float64(len(queryKeywords))
		if score > 1 {
			score = 1
		}
		if score < keywordScoreCutoff {
			continue
		}

		results = append(results, RelevantResult{
			Document:        doc,
			RelevanceScore:  score,
			MatchedSections: matchedSections(doc, queryKeywords),
			Reasoning:       fmt.Sprintf("keyword overlap (%d/%d terms)", matched, len(queryKeywords)),
		})
	}

	return results
}

// categoryStrategy classifies the query itself; when classifiable, every
// document in that category is returned at a flat relevance with its first
// two sections as matched sections.
func (e *Engine) categoryStrategy(snap *index.Snapshot, query string) []RelevantResult {
	category, ok := classifier.CategorizeQueryText(query)
	if !ok {
		return nil
	}

	var results []RelevantResult
	for _, doc := range snap.Documents() {
		if doc.Category != category {
			continue
		}

		sections := doc.Sections
		if len(sections) > categorySectionCount {
			sections = sections[:categorySectionCount]
		}

		results = append(results, RelevantResult{
			Document:        doc,
			RelevanceScore:  categoryFlatScore,
			MatchedSections: sections,
			Reasoning:       fmt.Sprintf("category match: %s", category),
		})
	}

	return results
}

func queryTokens(query string) []string {
	fields := strings.Fields(strings.ToLower(query))
	tokens := make([]string, 0, len(fields))
	for _, field := range fields {
		token := strings.TrimFunc(field, func(r rune) bool {
			return !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9')
		})
		if len(token) > 1 {
			tokens = append(tokens, token)
		}
	}
	return tokens
}

// tokenSetDistance is the mean, over the query tokens, of each token's best
// normalized edit distance against the field's tokens. 0 is an exact match
// on every token, 1 shares nothing.
func tokenSetDistance(queryTokens []string, field string) float64 {
	fieldTokens := strings.Fields(field)
	if len(fieldTokens) == 0 {
		return 1
	}

	total := 0.0
	for _, qt := range queryTokens {
		best := 1.0
		for _, ft := range fieldTokens {
			d := normalizedDistance(qt, ft)
			if d < best {
				best = d
			}
			if best == 0 {
				break
			}
		}
		total += best
	}

	return total / float64(len(queryTokens))
}

func normalizedDistance(a, b string) float64 {
	longest := len(a)
	if len(b) > longest {
		longest = len(b)
	}
	if longest == 0 {
		return 0
	}
	return float64(levenshtein.ComputeDistance(a, b)) / float64(longest)
}

// matchedSections picks sections whose title, keywords or content mention a
// query term, capped for context size.
func matchedSections(doc *models.ProcedureDocument, terms []string) []models.Section {
	var matched []models.Section
	for _, section := range doc.Sections {
		if len(matched) >= maxMatchedSections {
			break
		}

		lowerTitle := strings.ToLower(section.Title)
		lowerContent := strings.ToLower(section.Content)

		for _, term := range terms {
			if strings.Contains(lowerTitle, term) || strings.Contains(lowerContent, term) {
				matched = append(matched, section)
				break
			}
		}
	}
	return matched
}
