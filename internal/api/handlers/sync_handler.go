package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/sopdesk/backend/internal/discovery"
	"github.com/sopdesk/backend/internal/index"
	"github.com/sopdesk/backend/internal/quality"
	"github.com/sopdesk/backend/internal/wiki"
	"github.com/sopdesk/backend/pkg/logger"
)

type SyncHandler struct {
	service *discovery.Service
	store   *index.Store
}

func NewSyncHandler(service *discovery.Service, store *index.Store) *SyncHandler {
	return &SyncHandler{
		service: service,
		store:   store,
	}
}

// TriggerSync runs a sync cycle inline. full=true replaces the index
// wholesale; the default re-extracts only pages changed since the last
// sync.
func (h *SyncHandler) TriggerSync(c *fiber.Ctx) error {
	if c.QueryBool("full") {
		docs, err := h.service.DiscoverAll(c.Context())
		if err != nil {
			logger.Error("Full discovery failed", zap.Error(err))
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
				"error": "Document source unavailable",
			})
		}
		return c.JSON(fiber.Map{
			"full":  true,
			"total": len(docs),
		})
	}

	lastSync := h.store.Load().LastSync()
	result, err := h.service.IncrementalSync(c.Context(), lastSync)
	if err != nil {
		logger.Error("Incremental sync failed", zap.Error(err))
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": "Document source unavailable",
		})
	}

	return c.JSON(fiber.Map{
		"full":    false,
		"total":   result.Total,
		"added":   result.Added,
		"updated": result.Updated,
		"removed": result.Removed,
		"errors":  result.Errors,
	})
}

func (h *SyncHandler) GetSyncStatus(c *fiber.Ctx) error {
	run := h.service.LastRun()
	if run == nil {
		return c.JSON(fiber.Map{
			"synced":    false,
			"documents": h.store.Load().Len(),
		})
	}

	return c.JSON(fiber.Map{
		"synced":      true,
		"run_id":      run.ID,
		"full":        run.Full,
		"started_at":  run.StartedAt,
		"finished_at": run.FinishedAt,
		"total":       run.Result.Total,
		"added":       run.Result.Added,
		"updated":     run.Result.Updated,
		"removed":     run.Result.Removed,
		"errors":      run.Result.Errors,
		"documents":   h.store.Load().Len(),
	})
}

// SourceSearchHandler queries the wiki directly, bypassing the index.
// Lets an agent check whether a missing procedure exists upstream before
// the next sync lands.
type SourceSearchHandler struct {
	client *wiki.Client
}

func NewSourceSearchHandler(client *wiki.Client) *SourceSearchHandler {
	return &SourceSearchHandler{client: client}
}

func (h *SourceSearchHandler) HandleSourceSearch(c *fiber.Ctx) error {
	query := c.Query("q")
	if query == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "q is required",
		})
	}

	pages, err := h.client.SearchPagesByText(c.Context(), query)
	if err != nil {
		logger.Error("Source search failed", zap.Error(err))
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": "Document source unavailable",
		})
	}

	payload := make([]fiber.Map, 0, len(pages))
	for _, page := range pages {
		payload = append(payload, fiber.Map{
			"id":            page.ID,
			"title":         page.Title,
			"version":       page.Version,
			"last_modified": page.LastModifiedAt,
			"labels":        page.Labels,
		})
	}

	return c.JSON(fiber.Map{
		"query":   query,
		"results": payload,
	})
}

// GetDocumentQuality recomputes the quality rubric for one indexed
// document on demand.
func (h *SyncHandler) GetDocumentQuality(c *fiber.Ctx) error {
	id := c.Params("id")

	doc, ok := h.store.Load().Get(id)
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Document not indexed",
		})
	}

	report := quality.Validate(doc)
	return c.JSON(fiber.Map{
		"id":          doc.ID,
		"title":       doc.Title,
		"score":       report.Score,
		"is_valid":    report.IsValid,
		"issues":      report.Issues,
		"suggestions": report.Suggestions,
	})
}
