// Package discovery crawls the wiki space, classifies which pages are
// procedural documents, extracts their structure and keeps the index
// snapshot consistent with the live source.
package discovery

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sopdesk/backend/internal/classifier"
	"github.com/sopdesk/backend/internal/index"
	"github.com/sopdesk/backend/internal/metrics"
	"github.com/sopdesk/backend/internal/normalizer"
	"github.com/sopdesk/backend/internal/storage/models"
	"github.com/sopdesk/backend/internal/wiki"
	"github.com/sopdesk/backend/pkg/logger"
)

// Source is the narrow read interface the engine consumes from the wiki.
type Source interface {
	ListPages(ctx context.Context, spaceKey string) ([]wiki.Page, error)
	GetPageByID(ctx context.Context, id string) (*wiki.Page, error)
}

// Persister mirrors the indexed document set into durable storage. The
// snapshot remains the read path; persistence is best-effort.
type Persister interface {
	SaveDocuments(docs []*models.ProcedureDocument) error
	SaveSyncRun(run *models.SyncRun) error
}

// CacheInvalidator drops cached search results after the index changes.
type CacheInvalidator interface {
	InvalidateSearchResults(ctx context.Context) error
}

type Service struct {
	source     Source
	spaceKey   string
	store      *index.Store
	db         Persister
	cache      CacheInvalidator
	batchSize  int
	batchDelay time.Duration

	mu      sync.Mutex
	lastRun *models.SyncRun
}

func NewService(source Source, spaceKey string, store *index.Store, db Persister, cache CacheInvalidator, batchSize int, batchDelay time.Duration) *Service {
	if batchSize <= 0 {
		batchSize = 5
	}

	return &Service{
		source:     source,
		spaceKey:   spaceKey,
		store:      store,
		db:         db,
		cache:      cache,
		batchSize:  batchSize,
		batchDelay: batchDelay,
	}
}

// DiscoverAll crawls the full space, replaces the index snapshot wholesale
// and returns the indexed documents sorted by (category, title). Per-page
// extraction failures are logged and excluded; only a source-level failure
// aborts the crawl.
func (s *Service) DiscoverAll(ctx context.Context) ([]*models.ProcedureDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	syncStart := time.Now()

	pages, err := s.source.ListPages(ctx, s.spaceKey)
	if err != nil {
		metrics.SyncTotal.WithLabelValues("full", "error").Inc()
		return nil, fmt.Errorf("discovery failed: %w", err)
	}

	logger.Info("Starting full discovery",
		zap.String("space_key", s.spaceKey),
		zap.Int("pages", len(pages)),
	)

	docs, syncErrors := s.extractAll(ctx, pages)
	sortDocuments(docs)

	snap := s.store.Publish(docs, syncStart)
	result := models.SyncResult{
		Total:  snap.Len(),
		Added:  snap.Len(),
		Errors: syncErrors,
	}
	s.finishRun(ctx, syncStart, true, result, docs)

	logger.Info("Full discovery completed",
		zap.Int("documents", len(docs)),
		zap.Int("errors", len(syncErrors)),
	)

	return docs, nil
}

// IncrementalSync re-fetches the page listing, re-extracts only pages
// modified after lastSyncTime and merges them into a fresh snapshot. A zero
// lastSyncTime re-extracts everything.
func (s *Service) IncrementalSync(ctx context.Context, lastSyncTime time.Time) (models.SyncResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	syncStart := time.Now()

	pages, err := s.source.ListPages(ctx, s.spaceKey)
	if err != nil {
		metrics.SyncTotal.WithLabelValues("incremental", "error").Inc()
		return models.SyncResult{}, fmt.Errorf("incremental sync failed: %w", err)
	}

	var changed []wiki.Page
	listed := make(map[string]bool, len(pages))
	for _, page := range pages {
		listed[page.ID] = true
		if lastSyncTime.IsZero() || page.LastModifiedAt.After(lastSyncTime) {
			changed = append(changed, page)
		}
	}

	logger.Info("Starting incremental sync",
		zap.Time("last_sync", lastSyncTime),
		zap.Int("pages", len(pages)),
		zap.Int("changed", len(changed)),
	)

	prev := s.store.Load()
	merged := make([]*models.ProcedureDocument, 0, prev.Len())
	result := models.SyncResult{}

	for _, doc := range prev.Documents() {
		if !listed[doc.ID] {
			result.Removed++
			continue
		}
		merged = append(merged, doc)
	}

	fresh, syncErrors := s.extractAll(ctx, changed)
	result.Errors = syncErrors

	byID := make(map[string]int, len(merged))
	for i, doc := range merged {
		byID[doc.ID] = i
	}

	for _, doc := range fresh {
		i, exists := byID[doc.ID]
		if !exists {
			merged = append(merged, doc)
			result.Added++
			continue
		}

		// Source versions only move forward; a lower version means the
		// listing raced an edit, so the indexed copy wins.
		if doc.Version < merged[i].Version {
			logger.Warn("Skipping out-of-order page version",
				zap.String("doc_id", doc.ID),
				zap.Int("indexed_version", merged[i].Version),
				zap.Int("listed_version", doc.Version),
			)
			continue
		}
		merged[i] = doc
		result.Updated++
	}

	sortDocuments(merged)
	snap := s.store.Publish(merged, syncStart)
	result.Total = snap.Len()
	s.finishRun(ctx, syncStart, false, result, merged)

	logger.Info("Incremental sync completed",
		zap.Int("total", result.Total),
		zap.Int("added", result.Added),
		zap.Int("updated", result.Updated),
		zap.Int("removed", result.Removed),
		zap.Int("errors", len(result.Errors)),
	)

	return result, nil
}

// RunPeriodic performs a full discovery, then incremental syncs on a ticker
// until the context is cancelled. A failed cycle is logged and retried only
// at the next tick.
func (s *Service) RunPeriodic(ctx context.Context, interval time.Duration) {
	if _, err := s.DiscoverAll(ctx); err != nil {
		logger.Error("Initial discovery failed", zap.Error(err))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			lastSync := s.store.Load().LastSync()
			if _, err := s.IncrementalSync(ctx, lastSync); err != nil {
				logger.Error("Scheduled sync failed", zap.Error(err))
			}
		}
	}
}

// LastRun reports the most recent completed sync, or nil before the first.
func (s *Service) LastRun() *models.SyncRun {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun
}

// extractAll processes pages in fixed-size batches, extracting concurrently
// within a batch and pausing between batches to respect source rate limits.
func (s *Service) extractAll(ctx context.Context, pages []wiki.Page) ([]*models.ProcedureDocument, []models.SyncError) {
	var docs []*models.ProcedureDocument
	var syncErrors []models.SyncError

	for start := 0; start < len(pages); start += s.batchSize {
		end := start + s.batchSize
		if end > len(pages) {
			end = len(pages)
		}
		batch := pages[start:end]

		results := make([]*models.ProcedureDocument, len(batch))
		failures := make([]*models.SyncError, len(batch))

		g, _ := errgroup.WithContext(ctx)
		g.SetLimit(s.batchSize)
		for i := range batch {
			i := i
			g.Go(func() error {
				doc, err := extractDocument(batch[i])
				if err != nil {
					logger.Warn("Page extraction failed",
						zap.String("page_id", batch[i].ID),
						zap.Error(err),
					)
					failures[i] = &models.SyncError{PageID: batch[i].ID, Message: err.Error()}
					return nil
				}
				results[i] = doc
				return nil
			})
		}
		g.Wait()

		for i := range batch {
			if failures[i] != nil {
				syncErrors = append(syncErrors, *failures[i])
			}
			if results[i] != nil {
				docs = append(docs, results[i])
			}
		}

		if end < len(pages) && s.batchDelay > 0 {
			select {
			case <-ctx.Done():
				return docs, syncErrors
			case <-time.After(s.batchDelay):
			}
		}
	}

	return docs, syncErrors
}

// extractDocument builds a fully-populated ProcedureDocument from a page,
// or nil when the page is not procedural.
func extractDocument(page wiki.Page) (*models.ProcedureDocument, error) {
	if !classifier.IsProcedureDocument(page.Title, page.Labels) {
		return nil, nil
	}

	clean := normalizer.Normalize(page.RawBody)
	if clean == "" {
		return nil, fmt.Errorf("no content extracted from page %s", page.ID)
	}

	return &models.ProcedureDocument{
		ID:           page.ID,
		Title:        page.Title,
		RawContent:   page.RawBody,
		CleanContent: clean,
		Sections:     normalizer.SplitSections(clean),
		Category:     classifier.Categorize(page.Title, clean),
		Keywords:     normalizer.ExtractKeywords(clean, normalizer.DefaultMaxKeywords),
		Version:      page.Version,
		LastModified: page.LastModifiedAt,
		Labels:       page.Labels,
	}, nil
}

// ExtractDocument re-runs extraction on a live page. The context assembler
// uses it when the source reports a newer version than the index holds.
func ExtractDocument(page wiki.Page) (*models.ProcedureDocument, error) {
	return extractDocument(page)
}

func (s *Service) finishRun(ctx context.Context, startedAt time.Time, full bool, result models.SyncResult, docs []*models.ProcedureDocument) {
	run := &models.SyncRun{
		ID:         uuid.New().String(),
		StartedAt:  startedAt,
		FinishedAt: time.Now(),
		Full:       full,
		Result:     result,
	}
	s.lastRun = run

	kind := "incremental"
	if full {
		kind = "full"
	}
	metrics.SyncDuration.WithLabelValues(kind).Observe(run.FinishedAt.Sub(startedAt).Seconds())
	metrics.SyncTotal.WithLabelValues(kind, "ok").Inc()
	metrics.DocumentsIndexed.Set(float64(result.Total))
	metrics.SyncErrors.Add(float64(len(result.Errors)))

	if s.db != nil {
		if err := s.db.SaveDocuments(docs); err != nil {
			logger.Warn("Failed to persist documents", zap.Error(err))
		}
		if err := s.db.SaveSyncRun(run); err != nil {
			logger.Warn("Failed to persist sync run", zap.Error(err))
		}
	}

	if s.cache != nil {
		if err := s.cache.InvalidateSearchResults(ctx); err != nil {
			logger.Warn("Failed to invalidate search cache", zap.Error(err))
		}
	}
}

func sortDocuments(docs []*models.ProcedureDocument) {
	sort.Slice(docs, func(i, j int) bool {
		if docs[i].Category != docs[j].Category {
			return docs[i].Category < docs[j].Category
		}
		return docs[i].Title < docs[j].Title
	})
}
