// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Package-level validator instance. Validators are thread-safe and
// caching, so a single instance is the recommended usage.
var validate = validator.New()

// =============================================================================
// Conversation Request
// =============================================================================

// RequestMessage is one entry of the client-supplied message history.
//
// Unlike CanonicalMessage, content here is always a plain string: clients
// never send function-call messages, they only receive them.
type RequestMessage struct {
	Id      string `json:"id,omitempty"`
	Role    Role   `json:"role" validate:"required,oneof=system user assistant tool"`
	Content string `json:"content"`
	Date    string `json:"date,omitempty"`
}

// ConversationRequest is the body of POST /conversation and the
// /history/generate and /history/update endpoints.
type ConversationRequest struct {
	Messages       []RequestMessage `json:"messages" validate:"required,min=1"`
	ConversationId string           `json:"conversation_id,omitempty"`
}

// Validate checks structural validity and the security size limits.
func (r *ConversationRequest) Validate() error {
	if len(r.Messages) > MaxMessagesPerRequest {
		return fmt.Errorf("too many messages: %d exceeds limit of %d",
			len(r.Messages), MaxMessagesPerRequest)
	}
	for i, msg := range r.Messages {
		if len(msg.Content) > MaxMessageContentBytes {
			return fmt.Errorf("message %d content exceeds %d byte limit", i,
				MaxMessageContentBytes)
		}
	}
	return validate.Struct(r)
}

// LastUserMessage returns the trailing user message of the request, or
// false when the history does not end with one.
func (r *ConversationRequest) LastUserMessage() (RequestMessage, bool) {
	if len(r.Messages) == 0 {
		return RequestMessage{}, false
	}
	last := r.Messages[len(r.Messages)-1]
	if last.Role != RoleUser {
		return RequestMessage{}, false
	}
	return last, true
}

// =============================================================================
// History Requests
// =============================================================================

// HistoryMetadata identifies the conversation a streamed response belongs
// to. It is echoed verbatim in the terminal Done event.
type HistoryMetadata struct {
	ConversationId string `json:"conversation_id,omitempty"`
	Title          string `json:"title,omitempty"`
	Date           string `json:"date,omitempty"`
}

// MessageFeedbackRequest is the body of POST /history/message_feedback.
type MessageFeedbackRequest struct {
	MessageId string `json:"message_id" validate:"required"`
	Feedback  string `json:"message_feedback" validate:"required"`
}

// Validate checks required fields.
func (r *MessageFeedbackRequest) Validate() error {
	return validate.Struct(r)
}

// ConversationRefRequest is the body of history endpoints that operate on
// a single conversation (read, delete, clear, rename).
type ConversationRefRequest struct {
	ConversationId string `json:"conversation_id" validate:"required"`
	Title          string `json:"title,omitempty"`
}

// Validate checks required fields.
func (r *ConversationRefRequest) Validate() error {
	return validate.Struct(r)
}
