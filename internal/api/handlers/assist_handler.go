package handlers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sopdesk/backend/internal/contextbuilder"
	"github.com/sopdesk/backend/internal/llm"
	"github.com/sopdesk/backend/internal/metrics"
	"github.com/sopdesk/backend/internal/search"
	"github.com/sopdesk/backend/pkg/logger"
)

type AssistHandler struct {
	assembler *contextbuilder.Assembler
	llmClient *llm.Client
}

func NewAssistHandler(assembler *contextbuilder.Assembler, llmClient *llm.Client) *AssistHandler {
	return &AssistHandler{
		assembler: assembler,
		llmClient: llmClient,
	}
}

type assistRequest struct {
	Query      string `json:"query"`
	AgentNotes string `json:"agent_notes"`
	Priority   string `json:"priority"`
}

type assistSource struct {
	ID        string  `json:"id"`
	Title     string  `json:"title"`
	Category  string  `json:"category"`
	Relevance float64 `json:"relevance"`
	Reasoning string  `json:"reasoning"`
}

func (h *AssistHandler) HandleAssist(c *fiber.Ctx) error {
	var req assistRequest
	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.Query == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Query is required",
		})
	}

	startTime := time.Now()
	requestID := uuid.New().String()

	response, err := h.processAssist(c.Context(), requestID, req)
	if err != nil {
		metrics.AssistRequests.WithLabelValues("error").Inc()
		logger.Error("Failed to process assist request",
			zap.String("request_id", requestID),
			zap.Error(err),
		)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to process request",
		})
	}

	metrics.AssistRequests.WithLabelValues("ok").Inc()
	response["latency_ms"] = int(time.Since(startTime).Milliseconds())
	return c.JSON(response)
}

func (h *AssistHandler) processAssist(ctx context.Context, requestID string, req assistRequest) (fiber.Map, error) {
	enhanced := h.assembler.BuildContextWithConfidence(ctx, req.Query, req.AgentNotes, req.Priority)
	validation := h.assembler.ValidateContextQuality(enhanced)

	metrics.ConfidenceScore.WithLabelValues("sop_relevance").Observe(enhanced.Confidence.SOPRelevance)
	metrics.ConfidenceScore.WithLabelValues("content_freshness").Observe(enhanced.Confidence.ContentFreshness)
	metrics.ConfidenceScore.WithLabelValues("query_clarity").Observe(enhanced.Confidence.QueryClarity)

	answer := ""
	if h.llmClient != nil && len(enhanced.Results) > 0 {
		generated, err := h.llmClient.GenerateAnswer(ctx, req.Query, FormatProcedureContext(enhanced))
		if err != nil {
			logger.Warn("Answer generation failed, returning grounding only",
				zap.String("request_id", requestID),
				zap.Error(err),
			)
		} else {
			answer = generated
		}
	}

	sources := make([]assistSource, 0, len(enhanced.Results))
	for _, result := range enhanced.Results {
		sources = append(sources, assistSource{
			ID:        result.Document.ID,
			Title:     result.Document.Title,
			Category:  string(result.Document.Category),
			Relevance: result.RelevanceScore,
			Reasoning: result.Reasoning,
		})
	}

	return fiber.Map{
		"id":      requestID,
		"query":   req.Query,
		"answer":  answer,
		"sources": sources,
		"confidence": fiber.Map{
			"sop_relevance":     enhanced.Confidence.SOPRelevance,
			"content_freshness": enhanced.Confidence.ContentFreshness,
			"query_clarity":     enhanced.Confidence.QueryClarity,
		},
		"context_valid":   validation.IsValid,
		"issues":          validation.Issues,
		"recommendations": validation.Recommendations,
	}, nil
}

// FormatProcedureContext renders the assembled context as the procedure
// excerpts block the answer generator consumes.
func FormatProcedureContext(enhanced *contextbuilder.EnhancedContext) string {
	var builder strings.Builder

	for i, result := range enhanced.Results {
		fmt.Fprintf(&builder, "[%d] %s (category: %s)\n",
			i+1, result.Document.Title, result.Document.Category)

		sections := result.MatchedSections
		if len(sections) == 0 && len(result.Document.Sections) > 0 {
			sections = result.Document.Sections[:1]
		}
		for _, section := range sections {
			fmt.Fprintf(&builder, "%s:\n%s\n", section.Title, truncate(section.Content, 1500))
		}
		builder.WriteString("\n")
	}

	return builder.String()
}

// SearchHandler exposes the raw ranked results, mainly for the dashboard
// and for debugging relevance.
type SearchHandler struct {
	engine *search.Engine
}

func NewSearchHandler(engine *search.Engine) *SearchHandler {
	return &SearchHandler{engine: engine}
}

func (h *SearchHandler) HandleSearch(c *fiber.Ctx) error {
	query := c.Query("q")
	if query == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "q is required",
		})
	}

	start := time.Now()
	results := h.engine.FindRelevant(c.Context(), query, "", c.Query("priority"))
	metrics.SearchDuration.Observe(time.Since(start).Seconds())

	payload := make([]fiber.Map, 0, len(results))
	for _, result := range results {
		sectionTitles := make([]string, 0, len(result.MatchedSections))
		for _, section := range result.MatchedSections {
			sectionTitles = append(sectionTitles, section.Title)
		}

		payload = append(payload, fiber.Map{
			"id":               result.Document.ID,
			"title":            result.Document.Title,
			"category":         result.Document.Category,
			"relevance":        result.RelevanceScore,
			"matched_sections": sectionTitles,
			"reasoning":        result.Reasoning,
		})
	}

	return c.JSON(fiber.Map{
		"query":   query,
		"results": payload,
	})
}

func truncate(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	return text[:limit]
}
