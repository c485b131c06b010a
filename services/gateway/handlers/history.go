// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/AleutianAI/chatgate/services/gateway/datatypes"
	"github.com/AleutianAI/chatgate/services/gateway/history"
	"github.com/AleutianAI/chatgate/services/gateway/llm"
	"github.com/AleutianAI/chatgate/services/gateway/middleware"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// conversationPageSize bounds one /history/list page.
const conversationPageSize = 25

// titlePrompt asks the model for a short conversation title.
const titlePrompt = "Summarize the conversation so far in a 4 word or less title. " +
	"Do not use any quotation marks or punctuation. " +
	"Do not include any other commentary or description."

// HistoryHandler serves the /history endpoints.
//
// Every operation waits on the store readiness gate with the request
// context so no request runs against a half-initialized store, and every
// operation requires the proxy-authenticated user.
type HistoryHandler struct {
	store        history.ConversationStore
	gate         *history.Gate
	llm          llm.Client
	conversation *ConversationHandler
}

// NewHistoryHandler wires the history endpoints. store may be nil when
// no document store is configured; endpoints then answer with a JSON
// error instead of degrading silently.
func NewHistoryHandler(store history.ConversationStore, gate *history.Gate,
	llmClient llm.Client, conversation *ConversationHandler) *HistoryHandler {
	return &HistoryHandler{
		store:        store,
		gate:         gate,
		llm:          llmClient,
		conversation: conversation,
	}
}

// ready blocks until the store gate opens and verifies configuration.
// Writes the error response itself and returns false on failure.
func (h *HistoryHandler) ready(c *gin.Context) bool {
	if err := h.gate.Await(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "history store not ready"})
		return false
	}
	if h.store == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "history persistence is not configured"})
		return false
	}
	return true
}

// user extracts the authenticated caller, answering 401 when absent.
func (h *HistoryHandler) user(c *gin.Context) (middleware.User, bool) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authenticated user required"})
	}
	return user, ok
}

// Generate implements POST /history/generate.
//
// # Flow
//
//  1. Create the conversation when the request carries no id, titling it
//     via a model summarization call.
//  2. Persist the trailing user message.
//  3. Run the normal conversation flow with history metadata attached.
func (h *HistoryHandler) Generate(c *gin.Context) {
	user, ok := h.user(c)
	if !ok {
		return
	}
	if !h.ready(c) {
		return
	}

	var req datatypes.ConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	last, ok := req.LastUserMessage()
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no user message found in request"})
		return
	}

	ctx := c.Request.Context()
	meta := &datatypes.HistoryMetadata{ConversationId: req.ConversationId}

	if req.ConversationId == "" {
		title := h.generateTitle(ctx, req.Messages)
		conv, err := h.store.CreateConversation(ctx, user.Id, title)
		if err != nil {
			slog.Error("Failed to create conversation", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		req.ConversationId = conv.ConversationId
		meta = &datatypes.HistoryMetadata{
			ConversationId: conv.ConversationId,
			Title:          conv.Title,
			Date:           conv.CreatedAt,
		}
	}

	messageId := last.Id
	if messageId == "" {
		messageId = uuid.New().String()
	}
	userMsg := datatypes.CanonicalMessage{
		Id:      messageId,
		Role:    datatypes.RoleUser,
		Content: &last.Content,
	}
	if err := h.store.CreateMessage(ctx, messageId, req.ConversationId, user.Id, userMsg); err != nil {
		if errors.Is(err, history.ErrConversationNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		slog.Error("Failed to persist user message", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	h.conversation.Respond(c, &req, meta)
}

// Update implements POST /history/update: persists the assistant turn
// (and its preceding tool message, when present) after a stream ends.
func (h *HistoryHandler) Update(c *gin.Context) {
	user, ok := h.user(c)
	if !ok {
		return
	}
	if !h.ready(c) {
		return
	}

	var req datatypes.ConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	if req.ConversationId == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "conversation_id is required"})
		return
	}
	if len(req.Messages) == 0 || req.Messages[len(req.Messages)-1].Role != datatypes.RoleAssistant {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no assistant message found in request"})
		return
	}

	ctx := c.Request.Context()
	persist := func(msg datatypes.RequestMessage) error {
		messageId := msg.Id
		if messageId == "" {
			messageId = uuid.New().String()
		}
		canonical := datatypes.CanonicalMessage{
			Id:      messageId,
			Role:    msg.Role,
			Content: &msg.Content,
		}
		return h.store.CreateMessage(ctx, messageId, req.ConversationId, user.Id, canonical)
	}

	// A tool message directly before the assistant turn belongs to it.
	if n := len(req.Messages); n > 1 && req.Messages[n-2].Role == datatypes.RoleTool {
		if err := persist(req.Messages[n-2]); err != nil {
			h.persistError(c, err)
			return
		}
	}
	if err := persist(req.Messages[len(req.Messages)-1]); err != nil {
		h.persistError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *HistoryHandler) persistError(c *gin.Context, err error) {
	if errors.Is(err, history.ErrConversationNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	slog.Error("Failed to persist message", "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

// MessageFeedback implements POST /history/message_feedback.
func (h *HistoryHandler) MessageFeedback(c *gin.Context) {
	user, ok := h.user(c)
	if !ok {
		return
	}
	if !h.ready(c) {
		return
	}

	var req datatypes.MessageFeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	updated, err := h.store.UpdateMessageFeedback(c.Request.Context(), user.Id, req.MessageId, req.Feedback)
	if err != nil {
		slog.Error("Failed to update message feedback", "message_id", req.MessageId, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !updated {
		c.JSON(http.StatusNotFound, gin.H{
			"error": fmt.Sprintf("Unable to update message %s. It either does not exist or the user does not have access to it.", req.MessageId),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":    "Successfully updated message with feedback " + req.Feedback,
		"message_id": req.MessageId,
	})
}

// Delete implements DELETE /history/delete: messages first, then the
// conversation object.
func (h *HistoryHandler) Delete(c *gin.Context) {
	user, ok := h.user(c)
	if !ok {
		return
	}
	if !h.ready(c) {
		return
	}

	conversationId, ok := h.bindConversationId(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	if err := h.store.DeleteMessages(ctx, user.Id, conversationId); err != nil {
		slog.Error("Failed to delete messages", "conversation_id", conversationId, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if err := h.store.DeleteConversation(ctx, user.Id, conversationId); err != nil {
		slog.Error("Failed to delete conversation", "conversation_id", conversationId, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":         "Successfully deleted conversation and messages",
		"conversation_id": conversationId,
	})
}

// List implements GET /history/list?offset=N.
func (h *HistoryHandler) List(c *gin.Context) {
	user, ok := h.user(c)
	if !ok {
		return
	}
	if !h.ready(c) {
		return
	}

	offset := 0
	if raw := c.Query("offset"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "offset must be a non-negative integer"})
			return
		}
		offset = parsed
	}

	conversations, err := h.store.GetConversations(c.Request.Context(), user.Id, conversationPageSize, offset)
	if err != nil {
		slog.Error("Failed to list conversations", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	out := make([]gin.H, 0, len(conversations))
	for _, conv := range conversations {
		out = append(out, gin.H{
			"conversation_id": conv.ConversationId,
			"title":           conv.Title,
			"created_at":      conv.CreatedAt,
			"updated_at":      conv.UpdatedAt,
		})
	}
	c.JSON(http.StatusOK, out)
}

// Read implements POST /history/read.
func (h *HistoryHandler) Read(c *gin.Context) {
	user, ok := h.user(c)
	if !ok {
		return
	}
	if !h.ready(c) {
		return
	}

	conversationId, ok := h.bindConversationId(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	conv, err := h.store.GetConversation(ctx, user.Id, conversationId)
	if err != nil {
		slog.Error("Failed to read conversation", "conversation_id", conversationId, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if conv == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error": fmt.Sprintf("Conversation %s was not found. It either does not exist or the logged in user does not have access to it.", conversationId),
		})
		return
	}

	messages, err := h.store.GetMessages(ctx, user.Id, conversationId)
	if err != nil {
		slog.Error("Failed to read messages", "conversation_id", conversationId, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	out := make([]gin.H, 0, len(messages))
	for _, msg := range messages {
		out = append(out, gin.H{
			"id":        msg.MessageId,
			"role":      msg.Role,
			"content":   msg.Content,
			"createdAt": msg.CreatedAt,
			"feedback":  msg.Feedback,
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"conversation_id": conversationId,
		"messages":        out,
	})
}

// Rename implements POST /history/rename.
func (h *HistoryHandler) Rename(c *gin.Context) {
	user, ok := h.user(c)
	if !ok {
		return
	}
	if !h.ready(c) {
		return
	}

	var req datatypes.ConversationRefRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	if req.ConversationId == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "conversation_id is required"})
		return
	}
	if req.Title == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "title is required"})
		return
	}

	ctx := c.Request.Context()
	existing, err := h.store.GetConversation(ctx, user.Id, req.ConversationId)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if existing == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error": fmt.Sprintf("Conversation %s was not found. It either does not exist or the logged in user does not have access to it.", req.ConversationId),
		})
		return
	}

	updated, err := h.store.UpsertConversation(ctx, user.Id, req.ConversationId, req.Title)
	if err != nil {
		slog.Error("Failed to rename conversation", "conversation_id", req.ConversationId, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"conversation_id": updated.ConversationId,
		"title":           updated.Title,
		"updated_at":      updated.UpdatedAt,
	})
}

// DeleteAll implements DELETE /history/delete_all: every conversation
// the user owns, messages included.
func (h *HistoryHandler) DeleteAll(c *gin.Context) {
	user, ok := h.user(c)
	if !ok {
		return
	}
	if !h.ready(c) {
		return
	}

	ctx := c.Request.Context()

	// Page through the full list before deleting anything. Deletes are
	// eventually consistent, so re-querying page 0 between deletes could
	// return rows already removed and never terminate.
	var conversations []datatypes.ConversationResult
	for offset := 0; ; offset += conversationPageSize {
		page, err := h.store.GetConversations(ctx, user.Id, conversationPageSize, offset)
		if err != nil {
			slog.Error("Failed to list conversations for deletion", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		conversations = append(conversations, page...)
		if len(page) < conversationPageSize {
			break
		}
	}

	for _, conv := range conversations {
		if err := h.store.DeleteMessages(ctx, user.Id, conv.ConversationId); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if err := h.store.DeleteConversation(ctx, user.Id, conv.ConversationId); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"message": fmt.Sprintf("Successfully deleted all conversations and messages for user %s", user.Id),
	})
}

// Clear implements POST /history/clear: messages only, the conversation
// record survives.
func (h *HistoryHandler) Clear(c *gin.Context) {
	user, ok := h.user(c)
	if !ok {
		return
	}
	if !h.ready(c) {
		return
	}

	conversationId, ok := h.bindConversationId(c)
	if !ok {
		return
	}

	if err := h.store.DeleteMessages(c.Request.Context(), user.Id, conversationId); err != nil {
		slog.Error("Failed to clear messages", "conversation_id", conversationId, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Successfully deleted messages in conversation"})
}

// Ensure implements GET /history/ensure: store health without touching
// user data.
func (h *HistoryHandler) Ensure(c *gin.Context) {
	if h.store == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "history store is not configured"})
		return
	}
	if err := h.store.Ensure(c.Request.Context()); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "history store is configured and working"})
}

// bindConversationId reads the conversation_id out of a JSON body,
// answering 400 when absent.
func (h *HistoryHandler) bindConversationId(c *gin.Context) (string, bool) {
	var req datatypes.ConversationRefRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.ConversationId == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "conversation_id is required"})
		return "", false
	}
	return req.ConversationId, true
}

// generateTitle summarizes the conversation into a short title, falling
// back to the trailing user message when generation fails.
func (h *HistoryHandler) generateTitle(ctx context.Context, messages []datatypes.RequestMessage) string {
	if h.llm == nil {
		// Flow-only deployments have no direct model to summarize with.
		for i := len(messages) - 1; i >= 0; i-- {
			if messages[i].Role == datatypes.RoleUser {
				return messages[i].Content
			}
		}
		return "New conversation"
	}

	var b strings.Builder
	for _, msg := range messages {
		if msg.Role == datatypes.RoleUser {
			b.WriteString(msg.Content)
			b.WriteString("\n")
		}
	}
	b.WriteString("\n")
	b.WriteString(titlePrompt)

	temp := float32(1.0)
	maxTokens := 64
	title, err := h.llm.Generate(ctx, b.String(), llm.ChatParams{
		Temperature: &temp,
		MaxTokens:   &maxTokens,
	})
	if err != nil || strings.TrimSpace(title) == "" {
		slog.Warn("Title generation failed, falling back to user message", "error", err)
		for i := len(messages) - 1; i >= 0; i-- {
			if messages[i].Role == datatypes.RoleUser {
				return messages[i].Content
			}
		}
		return "New conversation"
	}
	return strings.TrimSpace(title)
}
