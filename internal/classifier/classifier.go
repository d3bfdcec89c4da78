// Package classifier decides whether a wiki page is procedural knowledge
// and assigns procedural pages one of the fixed support categories. Both
// decisions are driven by keyword tables so the rules stay testable in
// isolation.
package classifier

import (
	"regexp"
	"strings"

	"github.com/sopdesk/backend/internal/storage/models"
)

// sopKeywords mark a page as procedural when found in its title or labels.
var sopKeywords = []string{
	"sop", "procedure", "policy", "process",
	"guideline", "standard", "workflow",
}

// contextKeywords mark a page as customer-service relevant by title alone.
// Classification is deliberately permissive: recall over precision, since
// the search engine filters false positives by relevance later.
var contextKeywords = []string{
	"customer", "support", "service", "help",
	"ticket", "case", "issue",
}

// categoryKeywords scores each category; declaration order in
// models.Categories breaks ties.
var categoryKeywords = map[models.Category][]string{
	models.CategoryReturns: {
		"return", "refund", "exchange", "rma", "restock", "damaged",
	},
	models.CategoryBilling: {
		"billing", "payment", "invoice", "charge", "subscription", "pricing",
	},
	models.CategoryShipping: {
		"shipping", "delivery", "tracking", "carrier", "package", "freight",
	},
	models.CategoryTechnical: {
		"technical", "troubleshoot", "error", "bug", "outage", "install",
	},
	models.CategoryAccount: {
		"account", "login", "password", "profile", "registration", "credentials",
	},
	models.CategoryProduct: {
		"product", "feature", "specification", "warranty", "usage", "manual",
	},
	models.CategoryEscalation: {
		"escalation", "escalate", "supervisor", "manager", "complaint", "urgent",
	},
}

const (
	titleWeight   = 3
	contentWeight = 1
)

// IsProcedureDocument reports whether a page looks like a procedural
// document. Any single match is sufficient.
func IsProcedureDocument(title string, labels []string) bool {
	lowerTitle := strings.ToLower(title)

	for _, keyword := range sopKeywords {
		if strings.Contains(lowerTitle, keyword) {
			return true
		}
	}

	for _, label := range labels {
		lowerLabel := strings.ToLower(label)
		for _, keyword := range sopKeywords {
			if strings.Contains(lowerLabel, keyword) {
				return true
			}
		}
	}

	for _, keyword := range contextKeywords {
		if strings.Contains(lowerTitle, keyword) {
			return true
		}
	}

	return false
}

// Categorize scores every category over title and content occurrences and
// returns the best positive scorer, or general when nothing matches.
func Categorize(title, cleanContent string) models.Category {
	lowerTitle := strings.ToLower(title)
	lowerContent := strings.ToLower(cleanContent)

	best := models.CategoryGeneral
	bestScore := 0

	for _, category := range models.Categories {
		score := 0
		for _, keyword := range categoryKeywords[category] {
			score += titleWeight * strings.Count(lowerTitle, keyword)
			score += contentWeight * strings.Count(lowerContent, keyword)
		}

		if score > bestScore {
			best = category
			bestScore = score
		}
	}

	return best
}

// queryPatterns classify free-form query text into a category. First
// pattern to match wins, in declaration order of models.Categories.
var queryPatterns = map[models.Category]*regexp.Regexp{
	models.CategoryReturns:    regexp.MustCompile(`(?i)\b(return|refund|exchange|rma|money back)\b`),
	models.CategoryBilling:    regexp.MustCompile(`(?i)\b(bill(ing|ed)?|payment|invoice|charge[ds]?|subscription)\b`),
	models.CategoryShipping:   regexp.MustCompile(`(?i)\b(ship(ping|ped)?|deliver(y|ed)?|tracking|package|carrier)\b`),
	models.CategoryTechnical:  regexp.MustCompile(`(?i)\b(error|bug|crash|broken|not working|troubleshoot)\b`),
	models.CategoryAccount:    regexp.MustCompile(`(?i)\b(account|log ?in|password|sign ?(in|up)|locked out)\b`),
	models.CategoryProduct:    regexp.MustCompile(`(?i)\b(product|feature|warranty|spec(ification)?s?|how to use)\b`),
	models.CategoryEscalation: regexp.MustCompile(`(?i)\b(escalat(e|ion)|supervisor|manager|complaint|legal)\b`),
}

// CategorizeQueryText classifies customer-issue query text. Unclassifiable
// queries report ok=false rather than defaulting to general.
func CategorizeQueryText(query string) (models.Category, bool) {
	for _, category := range models.Categories {
		if queryPatterns[category].MatchString(query) {
			return category, true
		}
	}
	return models.CategoryGeneral, false
}
