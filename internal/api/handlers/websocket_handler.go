package handlers

import (
	"context"
	"strings"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/sopdesk/backend/internal/contextbuilder"
	"github.com/sopdesk/backend/internal/llm"
	"github.com/sopdesk/backend/pkg/logger"
)

// WebSocketHandler streams assist answers to the agent dashboard so long
// procedures render progressively.
type WebSocketHandler struct {
	assembler *contextbuilder.Assembler
	llmClient *llm.Client
}

func NewWebSocketHandler(assembler *contextbuilder.Assembler, llmClient *llm.Client) *WebSocketHandler {
	return &WebSocketHandler{
		assembler: assembler,
		llmClient: llmClient,
	}
}

func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	logger.Info("WebSocket connection established")

	defer func() {
		c.Close()
		logger.Info("WebSocket connection closed")
	}()

	for {
		var msg struct {
			Type       string `json:"type"`
			Query      string `json:"query"`
			AgentNotes string `json:"agent_notes"`
			Priority   string `json:"priority"`
		}

		if err := c.ReadJSON(&msg); err != nil {
			logger.Debug("WebSocket read failed", zap.Error(err))
			break
		}

		if msg.Type != "assist" || msg.Query == "" {
			continue
		}

		if err := h.streamAssist(c, msg.Query, msg.AgentNotes, msg.Priority); err != nil {
			logger.Error("Failed to stream assist response", zap.Error(err))
			h.send(c, map[string]interface{}{
				"type":  "error",
				"error": "Failed to process query",
			})
		}
	}
}

func (h *WebSocketHandler) streamAssist(c *websocket.Conn, query, agentNotes, priority string) error {
	ctx := context.Background()

	if err := h.send(c, map[string]interface{}{
		"type":    "status",
		"content": "Searching procedures...",
	}); err != nil {
		return err
	}

	enhanced := h.assembler.BuildContextWithConfidence(ctx, query, agentNotes, priority)
	validation := h.assembler.ValidateContextQuality(enhanced)

	answer := ""
	if h.llmClient != nil && len(enhanced.Results) > 0 {
		generated, err := h.llmClient.GenerateAnswer(ctx, query, FormatProcedureContext(enhanced))
		if err != nil {
			logger.Warn("Answer generation failed during stream", zap.Error(err))
		} else {
			answer = generated
		}
	}

	for _, word := range strings.Fields(answer) {
		if err := h.send(c, map[string]interface{}{
			"type":    "chunk",
			"content": word + " ",
		}); err != nil {
			return err
		}
	}

	sources := make([]map[string]interface{}, 0, len(enhanced.Results))
	for _, result := range enhanced.Results {
		sources = append(sources, map[string]interface{}{
			"id":        result.Document.ID,
			"title":     result.Document.Title,
			"category":  result.Document.Category,
			"relevance": result.RelevanceScore,
		})
	}

	return h.send(c, map[string]interface{}{
		"type":          "complete",
		"sources":       sources,
		"context_valid": validation.IsValid,
		"confidence": map[string]float64{
			"sop_relevance":     enhanced.Confidence.SOPRelevance,
			"content_freshness": enhanced.Confidence.ContentFreshness,
			"query_clarity":     enhanced.Confidence.QueryClarity,
		},
	})
}

func (h *WebSocketHandler) send(c *websocket.Conn, msg map[string]interface{}) error {
	return c.WriteJSON(msg)
}
