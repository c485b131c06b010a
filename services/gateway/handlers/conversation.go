// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers implements the gateway's HTTP endpoints.
package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/AleutianAI/chatgate/services/gateway/config"
	"github.com/AleutianAI/chatgate/services/gateway/datatypes"
	"github.com/AleutianAI/chatgate/services/gateway/flow"
	"github.com/AleutianAI/chatgate/services/gateway/llm"
	"github.com/AleutianAI/chatgate/services/gateway/observability"
	"github.com/AleutianAI/chatgate/services/gateway/stream"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("chatgate.gateway.handlers")

// ConversationHandler serves POST /conversation and backs the
// /history/generate flow.
type ConversationHandler struct {
	settings   *config.Settings
	llm        llm.Client
	flow       *flow.Client
	dispatcher stream.ToolDispatcher
}

// NewConversationHandler wires the chat path. flowClient may be nil when
// the flow backend is not configured.
func NewConversationHandler(settings *config.Settings, llmClient llm.Client,
	flowClient *flow.Client, dispatcher stream.ToolDispatcher) *ConversationHandler {
	return &ConversationHandler{
		settings:   settings,
		llm:        llmClient,
		flow:       flowClient,
		dispatcher: dispatcher,
	}
}

// Handle implements POST /conversation.
//
// # Flow
//
//  1. Bind and validate the request body.
//  2. Select the backend: flow endpoint or direct model.
//  3. Deliver the response streamed (NDJSON) or buffered per settings.
func (h *ConversationHandler) Handle(c *gin.Context) {
	var req datatypes.ConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.Respond(c, &req, nil)
}

// Respond runs the chat flow for an already validated request. meta is
// non-nil when the request runs under a persisted conversation; it is
// echoed on the terminal line.
func (h *ConversationHandler) Respond(c *gin.Context, req *datatypes.ConversationRequest,
	meta *datatypes.HistoryMetadata) {

	if h.settings.UseFlowBackend {
		h.respondFlow(c, req, meta)
		return
	}
	if h.settings.StreamEnabled {
		h.respondStreamed(c, req, meta)
		return
	}
	h.respondBuffered(c, req, meta)
}

func (h *ConversationHandler) chatParams() llm.ChatParams {
	return llm.ChatParams{
		Temperature: h.settings.Temperature,
		TopP:        h.settings.TopP,
		MaxTokens:   h.settings.MaxTokens,
		Stop:        h.settings.StopSequence,
	}
}

// respondStreamed delivers the response as NDJSON with no response
// timeout; the connection is long-lived by design.
func (h *ConversationHandler) respondStreamed(c *gin.Context, req *datatypes.ConversationRequest,
	meta *datatypes.HistoryMetadata) {

	const endpoint = "conversation_stream"
	metrics := observability.DefaultMetrics
	start := time.Now()

	ctx, span := tracer.Start(c.Request.Context(), "ConversationHandler.respondStreamed")
	defer span.End()
	span.SetAttributes(attribute.Int("request.message_count", len(req.Messages)))

	upstream, err := h.llm.ChatStream(ctx, req.Messages, h.chatParams())
	if err != nil {
		span.RecordError(err)
		slog.Error("Failed to open upstream stream", "error", err)
		if metrics != nil {
			metrics.ErrorsTotal.WithLabelValues(endpoint, "upstream_error").Inc()
		}
		c.JSON(stream.StatusFromError(err), gin.H{"error": err.Error()})
		return
	}
	if closer, ok := upstream.(io.Closer); ok {
		defer closer.Close()
	}

	SetNDJSONHeaders(c.Writer)
	writer, err := NewNDJSONWriter(c.Writer)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}

	if metrics != nil {
		metrics.ActiveStreams.WithLabelValues(endpoint).Inc()
		defer metrics.ActiveStreams.WithLabelValues(endpoint).Dec()
	}

	firstEvent := true
	mux := stream.NewMultiplexer(stream.Normalizer{}, h.dispatcher)
	driveErr := mux.Drive(ctx, upstream, meta, func(ev datatypes.StreamEvent) error {
		if firstEvent {
			firstEvent = false
			if metrics != nil {
				metrics.TimeToFirstTokenSeconds.WithLabelValues(endpoint).
					Observe(time.Since(start).Seconds())
			}
		}
		return writer.WriteEvent(ev)
	})

	status := "success"
	if driveErr != nil {
		status = "error"
		if errors.Is(driveErr, context.Canceled) {
			if metrics != nil {
				metrics.ClientDisconnectsTotal.WithLabelValues(endpoint).Inc()
			}
		}
		// The terminal error line has already been written; the
		// connection closes cleanly after it.
		slog.Warn("Stream ended with error", "error", driveErr)
	}
	if metrics != nil {
		metrics.RequestsTotal.WithLabelValues(endpoint, status).Inc()
		metrics.StreamDurationSeconds.WithLabelValues(endpoint, status).
			Observe(time.Since(start).Seconds())
	}
}

// respondBuffered collects the whole stream and returns one JSON
// document: tool message pairs in call order, then a single coalesced
// assistant message. Inline dispatch errors do not abort the stream, so
// they ride along in an errors array instead of replacing the document.
func (h *ConversationHandler) respondBuffered(c *gin.Context, req *datatypes.ConversationRequest,
	meta *datatypes.HistoryMetadata) {

	const endpoint = "conversation_buffered"
	metrics := observability.DefaultMetrics

	upstream, err := h.llm.ChatStream(c.Request.Context(), req.Messages, h.chatParams())
	if err != nil {
		slog.Error("Failed to open upstream stream", "error", err)
		c.JSON(stream.StatusFromError(err), gin.H{"error": err.Error()})
		return
	}
	if closer, ok := upstream.(io.Closer); ok {
		defer closer.Close()
	}

	acc, err := NewTokenAccumulator()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	defer acc.Destroy()

	var toolMessages []datatypes.CanonicalMessage
	var errorEvents []datatypes.StreamEvent

	mux := stream.NewMultiplexer(stream.Normalizer{}, h.dispatcher)
	driveErr := mux.Drive(c.Request.Context(), upstream, meta, func(ev datatypes.StreamEvent) error {
		switch ev.Kind {
		case datatypes.EventTextDelta:
			if ev.Message != nil && ev.Message.Content != nil {
				return acc.Write(*ev.Message.Content)
			}
		case datatypes.EventToolInvoked:
			toolMessages = append(toolMessages, ev.Messages...)
		case datatypes.EventError:
			errorEvents = append(errorEvents, ev)
		}
		return nil
	})

	if driveErr != nil {
		if metrics != nil {
			metrics.RequestsTotal.WithLabelValues(endpoint, "error").Inc()
		}
		status := http.StatusInternalServerError
		msg := driveErr.Error()
		// The last error event is the terminal one for upstream failures.
		if n := len(errorEvents); n > 0 {
			status = errorEvents[n-1].StatusCode
			msg = errorEvents[n-1].Error
		}
		c.JSON(status, gin.H{"error": msg})
		return
	}

	content, err := acc.Finalize()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	messages := append(toolMessages, datatypes.NewAssistantMessage(content))
	if metrics != nil {
		metrics.RequestsTotal.WithLabelValues(endpoint, "success").Inc()
	}
	doc := gin.H{
		"messages":         messages,
		"history_metadata": meta,
	}
	if len(errorEvents) > 0 {
		errs := make([]gin.H, 0, len(errorEvents))
		for _, ev := range errorEvents {
			errs = append(errs, gin.H{"error": ev.Error, "status_code": ev.StatusCode})
		}
		doc["errors"] = errs
	}
	c.JSON(http.StatusOK, doc)
}

// respondFlow answers via the flow backend: one buffered document whose
// reply field is remapped to canonical content. The trailing request
// message id becomes the response message id.
func (h *ConversationHandler) respondFlow(c *gin.Context, req *datatypes.ConversationRequest,
	meta *datatypes.HistoryMetadata) {

	if h.flow == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "flow backend not configured"})
		return
	}

	doc, err := h.flow.Chat(c.Request.Context(), req.Messages)
	if err != nil {
		slog.Error("Flow backend call failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	messageId := ""
	if last, ok := req.LastUserMessage(); ok {
		messageId = last.Id
	}

	norm := stream.Normalizer{FlowResponseField: h.flow.ResponseField()}
	messages, err := norm.NormalizeFlow(doc, messageId)
	if err != nil {
		slog.Error("Flow response normalization failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"messages":         messages,
		"history_metadata": meta,
	})
}
