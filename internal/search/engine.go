// Package search answers natural-language customer-issue queries against
// the indexed document set. Three independent strategies run per query and
// their outputs are merged, re-ranked and truncated to the top results.
package search

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sopdesk/backend/internal/index"
	"github.com/sopdesk/backend/internal/metrics"
	"github.com/sopdesk/backend/internal/storage/models"
	"github.com/sopdesk/backend/pkg/logger"
	"github.com/sopdesk/backend/pkg/utils"
)

const maxResults = 5

// RelevantResult is an ephemeral scored association between a query and an
// indexed document. Reasoning is advisory provenance, not authoritative.
type RelevantResult struct {
	Document        *models.ProcedureDocument
	RelevanceScore  float64
	MatchedSections []models.Section
	Reasoning       string
}

// ResultCache caches ranked results per query. May be nil.
type ResultCache interface {
	GetSearchResults(ctx context.Context, key string, out interface{}) (bool, error)
	SetSearchResults(ctx context.Context, key string, results interface{}) error
}

type Engine struct {
	store          *index.Store
	cache          ResultCache
	fuzzyThreshold float64
}

// NewEngine builds an engine over the given index store. fuzzyThreshold is
// the permissiveness knob for the fuzzy strategy: lower is stricter.
func NewEngine(store *index.Store, cache ResultCache, fuzzyThreshold float64) *Engine {
	if fuzzyThreshold <= 0 || fuzzyThreshold > 1 {
		fuzzyThreshold = 0.6
	}

	return &Engine{
		store:          store,
		cache:          cache,
		fuzzyThreshold: fuzzyThreshold,
	}
}

// FindRelevant returns the top documents for a query, sorted by descending
// relevance. Search never propagates a failure: any internal panic degrades
// to an empty result list, since downstream context assembly tolerates zero
// results.
func (e *Engine) FindRelevant(ctx context.Context, query, agentNotes, priority string) (results []RelevantResult) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Search degraded to empty results",
				zap.String("query", query),
				zap.Any("panic", r),
			)
			results = nil
		}
	}()

	cacheKey := utils.HashQuery(query + "|" + priority)
	if e.cache != nil {
		var cached []RelevantResult
		if hit, err := e.cache.GetSearchResults(ctx, cacheKey, &cached); err == nil && hit {
			metrics.CacheHits.WithLabelValues("search").Inc()
			return cached
		}
		metrics.CacheMisses.WithLabelValues("search").Inc()
	}

	snap := e.store.Load()
	if snap.Len() == 0 {
		return nil
	}

	// Evaluation order matters: the merge weights the first strategy to
	// find a document at 0.7, so overlaps stay semantic-favoring.
	semantic := e.safeStrategy("fuzzy", func() []RelevantResult {
		return e.fuzzyStrategy(snap, query)
	})
	keyword := e.safeStrategy("keyword", func() []RelevantResult {
		return e.keywordStrategy(snap, query)
	})
	category := e.safeStrategy("category", func() []RelevantResult {
		return e.categoryStrategy(snap, query)
	})

	merged := mergeResults(semantic, keyword, category)
	results = rankResults(merged, query, priority, time.Now())

	if len(results) > maxResults {
		results = results[:maxResults]
	}

	logger.Debug("Search completed",
		zap.String("query", query),
		zap.Int("fuzzy", len(semantic)),
		zap.Int("keyword", len(keyword)),
		zap.Int("category", len(category)),
		zap.Int("results", len(results)),
	)
	metrics.SearchResults.Observe(float64(len(results)))

	if e.cache != nil && len(results) > 0 {
		if err := e.cache.SetSearchResults(ctx, cacheKey, results); err != nil {
			logger.Debug("Failed to cache search results", zap.Error(err))
		}
	}

	return results
}

// safeStrategy recovers a panicking strategy into an empty contribution so
// one broken strategy never takes down the whole search.
func (e *Engine) safeStrategy(name string, fn func() []RelevantResult) (results []RelevantResult) {
	defer func() {
		if r := recover(); r != nil {
			logger.Warn("Search strategy degraded",
				zap.String("strategy", name),
				zap.Any("panic", r),
			)
			results = nil
		}
	}()
	return fn()
}
