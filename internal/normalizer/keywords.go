package normalizer

import (
	"sort"
	"strings"

	prose "github.com/jdkato/prose/v2"
)

const (
	DefaultMaxKeywords = 10
	minKeywordLength   = 4
)

// stopWords holds filler terms excluded from keyword extraction. Tokens
// shorter than minKeywordLength are dropped before this check, so only
// longer words need listing.
var stopWords = map[string]bool{
	"about": true, "after": true, "also": true, "average": true,
	"back": true, "because": true, "been": true, "before": true,
	"being": true, "between": true, "both": true, "cannot": true,
	"could": true, "does": true, "doing": true, "down": true,
	"during": true, "each": true, "either": true, "else": true,
	"ever": true, "every": true, "from": true, "have": true,
	"having": true, "here": true, "into": true, "item": true,
	"just": true, "like": true, "made": true, "make": true,
	"many": true, "more": true, "most": true, "much": true,
	"must": true, "need": true, "only": true, "other": true,
	"over": true, "page": true, "please": true, "same": true,
	"should": true, "since": true, "some": true, "such": true,
	"than": true, "that": true, "their": true, "them": true,
	"then": true, "there": true, "these": true, "they": true,
	"this": true, "those": true, "through": true, "under": true,
	"until": true, "upon": true, "used": true, "using": true,
	"very": true, "want": true, "well": true, "were": true,
	"what": true, "when": true, "where": true, "which": true,
	"while": true, "will": true, "with": true, "within": true,
	"without": true, "would": true, "your": true,
}

// ExtractKeywords tokenizes the text, removes short tokens and stop words
// and returns the most frequent remaining terms. Ties are broken by first
// occurrence so repeated runs over the same text are stable.
func ExtractKeywords(text string, maxCount int) []string {
	if maxCount <= 0 {
		maxCount = DefaultMaxKeywords
	}

	counts := map[string]int{}
	firstSeen := map[string]int{}

	for i, token := range tokenize(text) {
		word := cleanToken(token)
		if len(word) < minKeywordLength || stopWords[word] {
			continue
		}
		if _, ok := counts[word]; !ok {
			firstSeen[word] = i
		}
		counts[word]++
	}

	keywords := make([]string, 0, len(counts))
	for word := range counts {
		keywords = append(keywords, word)
	}

	sort.Slice(keywords, func(i, j int) bool {
		a, b := keywords[i], keywords[j]
		if counts[a] != counts[b] {
			return counts[a] > counts[b]
		}
		return firstSeen[a] < firstSeen[b]
	})

	if len(keywords) > maxCount {
		keywords = keywords[:maxCount]
	}

	return keywords
}

func tokenize(text string) []string {
	doc, err := prose.NewDocument(text,
		prose.WithTagging(false),
		prose.WithExtraction(false),
		prose.WithSegmentation(false),
	)
	if err != nil {
		return strings.Fields(text)
	}

	tokens := doc.Tokens()
	words := make([]string, 0, len(tokens))
	for _, token := range tokens {
		words = append(words, token.Text)
	}
	return words
}

func cleanToken(token string) string {
	word := strings.ToLower(token)
	return strings.TrimFunc(word, func(r rune) bool {
		return !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9')
	})
}
