// Package normalizer turns raw wiki markup into plain text, splits it into
// titled sections and extracts frequency-ranked keywords. It has no
// dependencies on the rest of the engine and is safe to call concurrently.
package normalizer

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var (
	macroRe   = regexp.MustCompile(`(?s)<ac:structured-macro.*?</ac:structured-macro>`)
	acTagRe   = regexp.MustCompile(`</?ac:[^>]*>`)
	riTagRe   = regexp.MustCompile(`<ri:[^>]*/?>`)
	cdataRe   = regexp.MustCompile(`(?s)<!\[CDATA\[.*?\]\]>`)
	headingRe = regexp.MustCompile(`(?i)<h([1-6])[^>]*>`)
	blockRe   = regexp.MustCompile(`(?i)</(?:h[1-6]|p|div|li|tr|ul|ol|table|blockquote)>|<br\s*/?>`)
	tagRe     = regexp.MustCompile(`<[^>]*>`)
	spacesRe  = regexp.MustCompile(`[ \t\r\f]+`)
	blanksRe  = regexp.MustCompile(`\n{3,}`)
)

var entities = map[string]string{
	"&nbsp;":   " ",
	"&amp;":    "&",
	"&quot;":   "\"",
	"&#39;":    "'",
	"&apos;":   "'",
	"&ndash;":  "-",
	"&mdash;":  "-",
	"&hellip;": "...",
}

// Normalize strips macro blocks and HTML markup from raw wiki storage
// format, decodes common entities and collapses whitespace. Line structure
// is preserved because section detection downstream is line oriented;
// heading tags are rewritten as markdown headers for the same reason.
func Normalize(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return ""
	}

	text := macroRe.ReplaceAllString(raw, "\n")
	text = cdataRe.ReplaceAllString(text, " ")
	text = acTagRe.ReplaceAllString(text, " ")
	text = riTagRe.ReplaceAllString(text, " ")

	text = headingRe.ReplaceAllStringFunc(text, func(tag string) string {
		m := headingRe.FindStringSubmatch(tag)
		depth := int(m[1][0] - '0')
		return "\n" + strings.Repeat("#", depth) + " "
	})
	text = blockRe.ReplaceAllString(text, "\n")

	text = stripTags(text)

	for entity, replacement := range entities {
		text = strings.ReplaceAll(text, entity, replacement)
	}
	// The HTML parser decodes &nbsp; to U+00A0, which the whitespace
	// collapse below does not cover.
	text = strings.ReplaceAll(text, "\u00a0", " ")

	// Decoded entities can reintroduce angle brackets; scrub them so the
	// output never contains tag fragments.
	text = strings.ReplaceAll(text, "<", " ")
	text = strings.ReplaceAll(text, ">", " ")

	text = spacesRe.ReplaceAllString(text, " ")

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	text = strings.Join(lines, "\n")
	text = blanksRe.ReplaceAllString(text, "\n\n")

	return strings.TrimSpace(text)
}

func stripTags(text string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(text))
	if err != nil {
		return tagRe.ReplaceAllString(text, " ")
	}

	doc.Find("script, style").Remove()

	if body := doc.Find("body"); body.Length() > 0 {
		return body.Text()
	}
	return doc.Text()
}
