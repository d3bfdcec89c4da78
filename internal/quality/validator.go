// Package quality scores the structural completeness of a procedure
// document with a deduction rubric. Reports are derived on demand and
// never stored.
package quality

import (
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sopdesk/backend/internal/storage/models"
	"github.com/sopdesk/backend/pkg/logger"
)

const (
	maxScore       = 100
	validThreshold = 60

	minContentLength = 100
	staleAge         = 6 * 30 * 24 * time.Hour
)

var stepMarkerRe = regexp.MustCompile(`(?m)^\s*(?:\d{1,3}[.)]|[-*•])\s+\S`)

var backgroundTitles = []string{"background", "purpose", "overview", "scope"}

var conclusionTitles = []string{"conclusion", "outcome", "next steps", "next-steps", "summary"}

var escalationTerms = []string{"escalate", "escalation", "contact", "supervisor", "reach out"}

type deduction struct {
	points     int
	issue      string
	suggestion string
	applies    func(doc *models.ProcedureDocument, now time.Time) bool
}

// rubric lists every deduction in the order issues are reported.
var rubric = []deduction{
	{
		points:     20,
		issue:      "content is too short to be a usable procedure",
		suggestion: "expand the document to at least 100 characters of substance",
		applies: func(doc *models.ProcedureDocument, _ time.Time) bool {
			return len(doc.CleanContent) < minContentLength
		},
	},
	{
		points:     15,
		issue:      "no numbered or bulleted steps found",
		suggestion: "rewrite the core instructions as a numbered step list",
		applies: func(doc *models.ProcedureDocument, _ time.Time) bool {
			return !stepMarkerRe.MatchString(doc.CleanContent)
		},
	},
	{
		points:     5,
		issue:      "missing a background, purpose, overview or scope section",
		suggestion: "add a short section explaining when the procedure applies",
		applies: func(doc *models.ProcedureDocument, _ time.Time) bool {
			return !hasSectionTitled(doc, backgroundTitles)
		},
	},
	{
		points:     5,
		issue:      "missing a conclusion, outcome or next-steps section",
		suggestion: "add a closing section describing the expected outcome",
		applies: func(doc *models.ProcedureDocument, _ time.Time) bool {
			return !hasSectionTitled(doc, conclusionTitles)
		},
	},
	{
		points:     10,
		issue:      "document has fewer than 2 sections",
		suggestion: "break the content into titled sections",
		applies: func(doc *models.ProcedureDocument, _ time.Time) bool {
			return len(doc.Sections) < 2
		},
	},
	{
		points:     5,
		issue:      "document has not been updated in over 6 months",
		suggestion: "review the procedure and confirm it is still accurate",
		applies: func(doc *models.ProcedureDocument, now time.Time) bool {
			return !doc.LastModified.IsZero() && now.Sub(doc.LastModified) > staleAge
		},
	},
	{
		points:     5,
		issue:      "no escalation or contact path mentioned",
		suggestion: "state who to contact when the procedure does not resolve the issue",
		applies: func(doc *models.ProcedureDocument, _ time.Time) bool {
			return !containsAny(strings.ToLower(doc.CleanContent), escalationTerms)
		},
	},
}

// Validate runs the full rubric against the document.
func Validate(doc *models.ProcedureDocument) models.QualityReport {
	return validateAt(doc, time.Now())
}

func validateAt(doc *models.ProcedureDocument, now time.Time) models.QualityReport {
	report := models.QualityReport{Score: maxScore}

	for _, d := range rubric {
		if d.applies(doc, now) {
			report.Score -= d.points
			report.Issues = append(report.Issues, d.issue)
			report.Suggestions = append(report.Suggestions, d.suggestion)
		}
	}

	if report.Score < 0 {
		report.Score = 0
	}
	report.IsValid = report.Score >= validThreshold

	logger.Debug("Document quality validated",
		zap.String("doc_id", doc.ID),
		zap.Int("score", report.Score),
		zap.Bool("valid", report.IsValid),
	)

	return report
}

func hasSectionTitled(doc *models.ProcedureDocument, titles []string) bool {
	for _, section := range doc.Sections {
		lower := strings.ToLower(section.Title)
		if containsAny(lower, titles) {
			return true
		}
	}
	return false
}

func containsAny(text string, terms []string) bool {
	for _, term := range terms {
		if strings.Contains(text, term) {
			return true
		}
	}
	return false
}
