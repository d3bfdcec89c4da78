package normalizer

import (
	"regexp"
	"sort"
	"strings"

	"github.com/sopdesk/backend/internal/storage/models"
)

// minSectionLength filters out noise sections whose content is shorter
// than this many characters.
const minSectionLength = 10

var (
	markdownHeaderRe   = regexp.MustCompile(`(?m)^#{1,6}[ \t]+(.+)$`)
	underlinedHeaderRe = regexp.MustCompile(`(?m)^([^\n]+)\n[=\-]{3,}[ \t]*$`)
	numberedHeaderRe   = regexp.MustCompile(`(?m)^\d{1,2}[.)][ \t]+([A-Z][^\n]{2,60})$`)
	allCapsHeaderRe    = regexp.MustCompile(`(?m)^([A-Z][A-Z0-9 &/\-]{3,})$`)
)

type headerMatch struct {
	title      string
	start      int
	contentPos int
}

// SplitSections scans the normalized text for the four supported header
// styles, orders every discovered header by offset and slices the text
// between consecutive headers into sections. When no usable section
// survives, the whole text becomes a single "Main Content" section.
func SplitSections(cleanText string) []models.Section {
	text := strings.TrimSpace(cleanText)
	if text == "" {
		return []models.Section{}
	}

	headers := findHeaders(text)

	var sections []models.Section
	for i, header := range headers {
		end := len(text)
		if i+1 < len(headers) {
			end = headers[i+1].start
		}

		content := strings.TrimSpace(text[header.contentPos:end])
		if len(content) < minSectionLength {
			continue
		}

		sections = append(sections, models.Section{
			Title:      strings.TrimSpace(header.title),
			Content:    content,
			Keywords:   ExtractKeywords(content, DefaultMaxKeywords),
			OrderIndex: len(sections),
		})
	}

	if len(sections) == 0 {
		return []models.Section{{
			Title:      "Main Content",
			Content:    text,
			Keywords:   ExtractKeywords(text, DefaultMaxKeywords),
			OrderIndex: 0,
		}}
	}

	return sections
}

func findHeaders(text string) []headerMatch {
	var headers []headerMatch
	seen := map[int]bool{}

	patterns := []*regexp.Regexp{
		markdownHeaderRe,
		underlinedHeaderRe,
		numberedHeaderRe,
		allCapsHeaderRe,
	}

	for _, pattern := range patterns {
		for _, loc := range pattern.FindAllStringSubmatchIndex(text, -1) {
			start := loc[0]
			if seen[start] {
				continue
			}
			seen[start] = true

			headers = append(headers, headerMatch{
				title:      text[loc[2]:loc[3]],
				start:      start,
				contentPos: loc[1],
			})
		}
	}

	sort.Slice(headers, func(i, j int) bool {
		return headers[i].start < headers[j].start
	})

	return headers
}
