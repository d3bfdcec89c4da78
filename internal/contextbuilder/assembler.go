// Package contextbuilder turns a ranked result set into the structured
// context handed to the answer generator, re-validating each candidate
// document's freshness against the live source on the way.
package contextbuilder

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sopdesk/backend/internal/discovery"
	"github.com/sopdesk/backend/internal/search"
	"github.com/sopdesk/backend/internal/storage/models"
	"github.com/sopdesk/backend/pkg/logger"
)

const (
	defaultFetchTimeout = 5 * time.Second
	outdatedAge         = 6 * 30 * 24 * time.Hour
	lowRelevanceMean    = 0.3
)

type EnhancedContext struct {
	Query      string
	AgentNotes string
	Priority   string
	Results    []search.RelevantResult
	BuiltAt    time.Time
	Confidence *ConfidenceMetrics
}

type ConfidenceMetrics struct {
	SOPRelevance     float64
	ContentFreshness float64
	QueryClarity     float64
}

type ContextValidation struct {
	IsValid         bool
	Issues          []string
	Recommendations []string
}

type Assembler struct {
	engine       *search.Engine
	source       discovery.Source
	fetchTimeout time.Duration
}

func NewAssembler(engine *search.Engine, source discovery.Source) *Assembler {
	return &Assembler{
		engine:       engine,
		source:       source,
		fetchTimeout: defaultFetchTimeout,
	}
}

// BuildContext runs the search and refreshes every candidate document
// against the live source before assembly. A slow or failing fetch for one
// document falls back to the indexed copy without delaying the others.
func (a *Assembler) BuildContext(ctx context.Context, query, agentNotes, priority string) *EnhancedContext {
	results := a.engine.FindRelevant(ctx, query, agentNotes, priority)
	a.refreshResults(ctx, results)

	return &EnhancedContext{
		Query:      query,
		AgentNotes: agentNotes,
		Priority:   priority,
		Results:    results,
		BuiltAt:    time.Now(),
	}
}

// BuildContextWithConfidence builds the context and attaches confidence
// metrics for the answer generator's use.
func (a *Assembler) BuildContextWithConfidence(ctx context.Context, query, agentNotes, priority string) *EnhancedContext {
	enhanced := a.BuildContext(ctx, query, agentNotes, priority)
	enhanced.Confidence = &ConfidenceMetrics{
		SOPRelevance:     relevanceConfidence(enhanced.Results),
		ContentFreshness: freshnessConfidence(enhanced.Results, time.Now()),
		QueryClarity:     queryClarity(query, agentNotes, priority),
	}
	return enhanced
}

// refreshResults fans out one live fetch per candidate document. When the
// source reports a newer version than the index holds, the fresher document
// is re-extracted and substituted (cache-then-validate).
func (a *Assembler) refreshResults(ctx context.Context, results []search.RelevantResult) {
	if a.source == nil || len(results) == 0 {
		return
	}

	g, _ := errgroup.WithContext(ctx)
	for i := range results {
		i := i
		g.Go(func() error {
			fetchCtx, cancel := context.WithTimeout(ctx, a.fetchTimeout)
			defer cancel()

			cached := results[i].Document
			page, err := a.source.GetPageByID(fetchCtx, cached.ID)
			if err != nil {
				logger.Debug("Freshness check failed, using cached copy",
					zap.String("doc_id", cached.ID),
					zap.Error(err),
				)
				return nil
			}

			if page.Version <= cached.Version {
				return nil
			}

			fresh, err := discovery.ExtractDocument(*page)
			if err != nil || fresh == nil {
				logger.Warn("Failed to re-extract stale document, using cached copy",
					zap.String("doc_id", cached.ID),
					zap.Error(err),
				)
				return nil
			}

			logger.Info("Substituted stale document with live version",
				zap.String("doc_id", cached.ID),
				zap.Int("indexed_version", cached.Version),
				zap.Int("live_version", fresh.Version),
			)

			results[i].Document = fresh
			results[i].MatchedSections = remapSections(results[i].MatchedSections, fresh)
			return nil
		})
	}
	g.Wait()
}

// remapSections carries matched-section titles over to the re-extracted
// document; when none survive the re-extraction, the leading sections of
// the fresh document stand in.
func remapSections(matched []models.Section, fresh *models.ProcedureDocument) []models.Section {
	wanted := make(map[string]bool, len(matched))
	for _, section := range matched {
		wanted[section.Title] = true
	}

	var remapped []models.Section
	for _, section := range fresh.Sections {
		if wanted[section.Title] {
			remapped = append(remapped, section)
		}
	}

	if len(remapped) == 0 {
		limit := len(matched)
		if limit == 0 || limit > len(fresh.Sections) {
			limit = len(fresh.Sections)
		}
		remapped = fresh.Sections[:limit]
	}

	return remapped
}

// relevanceConfidence is the mean relevance across included documents, with
// small bonuses for a strong top hit and for breadth.
func relevanceConfidence(results []search.RelevantResult) float64 {
	if len(results) == 0 {
		return 0
	}

	total := 0.0
	anyStrong := false
	for _, result := range results {
		total += result.RelevanceScore
		if result.RelevanceScore > 0.8 {
			anyStrong = true
		}
	}

	confidence := total / float64(len(results))
	if anyStrong {
		confidence += 0.1
	}
	if len(results) >= 3 {
		confidence += 0.05
	}
	if confidence > 1 {
		confidence = 1
	}
	return confidence
}

// freshnessConfidence is the mean of per-document freshness weights.
func freshnessConfidence(results []search.RelevantResult, now time.Time) float64 {
	if len(results) == 0 {
		return 0
	}

	total := 0.0
	for _, result := range results {
		age := now.Sub(result.Document.LastModified)
		switch {
		case age < 30*24*time.Hour:
			total += 1.0
		case age < 90*24*time.Hour:
			total += 0.7
		default:
			total += 0.4
		}
	}
	return total / float64(len(results))
}

var clarityKeywords = []string{
	"how", "what", "why", "when", "where", "which",
	"help", "issue", "problem", "error", "refund", "cancel",
}

// queryClarity estimates how answerable the query is from its shape alone.
func queryClarity(query, agentNotes, priority string) float64 {
	clarity := 0.5

	words := len(strings.Fields(query))
	if words >= 5 && words <= 50 {
		clarity += 0.2
	}

	lowerQuery := strings.ToLower(query)
	for _, keyword := range clarityKeywords {
		if strings.Contains(lowerQuery, keyword) {
			clarity += 0.15
			break
		}
	}

	if len(agentNotes) > 10 {
		clarity += 0.15
	}

	if strings.ToLower(priority) != "low" {
		clarity += 0.1
	}

	if clarity > 1 {
		clarity = 1
	}
	return clarity
}

// ValidateContextQuality gates whether the assembled context is grounded
// enough to answer from. Each flag carries a matching remediation.
func (a *Assembler) ValidateContextQuality(enhanced *EnhancedContext) ContextValidation {
	validation := ContextValidation{IsValid: true}
	now := time.Now()

	if len(enhanced.Results) == 0 {
		validation.Issues = append(validation.Issues,
			"no relevant procedure documents found")
		validation.Recommendations = append(validation.Recommendations,
			"broaden the query or escalate to a senior agent")
	}

	if len(enhanced.Results) > 0 {
		total := 0.0
		for _, result := range enhanced.Results {
			total += result.RelevanceScore
		}
		if total/float64(len(enhanced.Results)) < lowRelevanceMean {
			validation.Issues = append(validation.Issues,
				"average relevance of matched procedures is low")
			validation.Recommendations = append(validation.Recommendations,
				"rephrase the query with the customer's exact issue wording")
		}
	}

	for _, result := range enhanced.Results {
		if !result.Document.LastModified.IsZero() && now.Sub(result.Document.LastModified) > outdatedAge {
			validation.Issues = append(validation.Issues,
				fmt.Sprintf("procedure %q has not been updated in over 6 months", result.Document.Title))
			validation.Recommendations = append(validation.Recommendations,
				fmt.Sprintf("ask the knowledge owner to review %q", result.Document.Title))
			break
		}
	}

	validation.IsValid = len(validation.Issues) == 0
	return validation
}

// GenerateSummary renders a one-line-per-document digest for logs and
// debugging.
func (a *Assembler) GenerateSummary(enhanced *EnhancedContext) string {
	var builder strings.Builder
	fmt.Fprintf(&builder, "context for %q: %d document(s)", enhanced.Query, len(enhanced.Results))

	if enhanced.Confidence != nil {
		fmt.Fprintf(&builder, " (relevance %.2f, freshness %.2f, clarity %.2f)",
			enhanced.Confidence.SOPRelevance,
			enhanced.Confidence.ContentFreshness,
			enhanced.Confidence.QueryClarity,
		)
	}

	for _, result := range enhanced.Results {
		fmt.Fprintf(&builder, "\n- [%s] %s (%.2f) %s",
			result.Document.Category,
			result.Document.Title,
			result.RelevanceScore,
			result.Reasoning,
		)
	}

	return builder.String()
}
