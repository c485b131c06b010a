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
	"encoding/json"
	"fmt"

	"github.com/weaviate/weaviate/entities/models"
)

// =============================================================================
// Generic GraphQL Response Parser
// =============================================================================

// ParseGraphQLResponse parses a Weaviate GraphQL response into the target type.
//
// # Description
//
// This generic function encapsulates the marshal/unmarshal pattern required to
// convert Weaviate's dynamic response (map[string]models.JSONObject) into a
// strongly-typed Go struct. The target type T must have json tags matching
// the expected response shape.
//
// # Type Parameters
//
//   - T: The target struct type with json tags matching the response shape.
//
// # Inputs
//
//   - resp: The GraphQL response from Weaviate client's Do() method.
//
// # Outputs
//
//   - *T: Pointer to the parsed struct.
//   - error: Non-nil if response is nil or parsing fails.
//
// # Limitations
//
//   - Requires the target type to exactly match the expected response structure.
//   - Type mismatches will result in zero values, not errors.
func ParseGraphQLResponse[T any](resp *models.GraphQLResponse) (*T, error) {
	if resp == nil {
		return nil, fmt.Errorf("nil GraphQL response")
	}

	respBytes, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal GraphQL response data: %w", err)
	}

	var result T
	if err := json.Unmarshal(respBytes, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal into target type: %w", err)
	}

	return &result, nil
}

// =============================================================================
// Query Response Types
// =============================================================================

// ConversationQueryResponse represents the response from querying the
// Conversation class.
type ConversationQueryResponse struct {
	Get struct {
		Conversation []ConversationResult `json:"Conversation"`
	} `json:"Get"`
}

// ConversationResult represents a single conversation from a query.
type ConversationResult struct {
	ConversationId string `json:"conversation_id"`
	UserId         string `json:"user_id"`
	Title          string `json:"title"`
	CreatedAt      string `json:"created_at"`
	UpdatedAt      string `json:"updated_at"`
	Additional     struct {
		ID string `json:"id"`
	} `json:"_additional"`
}

// ChatMessageQueryResponse represents the response from querying the
// ChatMessage class.
type ChatMessageQueryResponse struct {
	Get struct {
		ChatMessage []ChatMessageResult `json:"ChatMessage"`
	} `json:"Get"`
}

// ChatMessageResult represents a single message from a query.
type ChatMessageResult struct {
	MessageId      string `json:"message_id"`
	ConversationId string `json:"conversation_id"`
	UserId         string `json:"user_id"`
	Role           string `json:"role"`
	Content        string `json:"content"`
	Feedback       string `json:"feedback"`
	CreatedAt      string `json:"created_at"`
	Additional     struct {
		ID string `json:"id"`
	} `json:"_additional"`
}

// =============================================================================
// Property Structs
// =============================================================================

// ConversationProperties represents the properties for creating a
// Conversation object.
type ConversationProperties struct {
	ConversationId string `json:"conversation_id"`
	UserId         string `json:"user_id"`
	Title          string `json:"title"`
	CreatedAt      string `json:"created_at"`
	UpdatedAt      string `json:"updated_at"`
}

// ToMap converts ConversationProperties to map[string]interface{} for Weaviate.
func (p *ConversationProperties) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"conversation_id": p.ConversationId,
		"user_id":         p.UserId,
		"title":           p.Title,
		"created_at":      p.CreatedAt,
		"updated_at":      p.UpdatedAt,
	}
}

// ChatMessageProperties represents the properties for creating a
// ChatMessage object.
type ChatMessageProperties struct {
	MessageId      string `json:"message_id"`
	ConversationId string `json:"conversation_id"`
	UserId         string `json:"user_id"`
	Role           string `json:"role"`
	Content        string `json:"content"`
	Feedback       string `json:"feedback"`
	CreatedAt      string `json:"created_at"`
}

// ToMap converts ChatMessageProperties to map[string]interface{} for Weaviate.
func (p *ChatMessageProperties) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"message_id":      p.MessageId,
		"conversation_id": p.ConversationId,
		"user_id":         p.UserId,
		"role":            p.Role,
		"content":         p.Content,
		"feedback":        p.Feedback,
		"created_at":      p.CreatedAt,
	}
}
