// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/chatgate/services/gateway/datatypes"
	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
)

// ErrConversationNotFound is returned by CreateMessage when the target
// conversation does not exist for the requesting user. The message text
// is load-bearing: clients receive it verbatim.
var ErrConversationNotFound = errors.New("Conversation not found")

// ConversationStore is the document-store surface the handlers depend
// on. The Weaviate-backed implementation is Store; tests substitute
// in-memory fakes.
type ConversationStore interface {
	CreateConversation(ctx context.Context, userId, title string) (*datatypes.ConversationResult, error)
	CreateMessage(ctx context.Context, messageId, conversationId, userId string, msg datatypes.CanonicalMessage) error
	GetConversations(ctx context.Context, userId string, limit, offset int) ([]datatypes.ConversationResult, error)
	GetConversation(ctx context.Context, userId, conversationId string) (*datatypes.ConversationResult, error)
	GetMessages(ctx context.Context, userId, conversationId string) ([]datatypes.ChatMessageResult, error)
	UpdateMessageFeedback(ctx context.Context, userId, messageId, feedback string) (bool, error)
	UpsertConversation(ctx context.Context, userId, conversationId, title string) (*datatypes.ConversationResult, error)
	DeleteConversation(ctx context.Context, userId, conversationId string) error
	DeleteMessages(ctx context.Context, userId, conversationId string) error
	Ensure(ctx context.Context) error
}

// Store persists conversations and messages in Weaviate.
type Store struct {
	client *weaviate.Client
}

// NewStore wraps a connected Weaviate client.
func NewStore(client *weaviate.Client) *Store {
	return &Store{client: client}
}

var conversationFields = []graphql.Field{
	{Name: "conversation_id"},
	{Name: "user_id"},
	{Name: "title"},
	{Name: "created_at"},
	{Name: "updated_at"},
	{Name: "_additional", Fields: []graphql.Field{{Name: "id"}}},
}

var messageFields = []graphql.Field{
	{Name: "message_id"},
	{Name: "conversation_id"},
	{Name: "user_id"},
	{Name: "role"},
	{Name: "content"},
	{Name: "feedback"},
	{Name: "created_at"},
	{Name: "_additional", Fields: []graphql.Field{{Name: "id"}}},
}

// userConversationFilter matches one conversation owned by one user.
func userConversationFilter(userId, conversationId string) *filters.WhereBuilder {
	return filters.Where().
		WithOperator(filters.And).
		WithOperands([]*filters.WhereBuilder{
			filters.Where().
				WithPath([]string{"user_id"}).
				WithOperator(filters.Equal).
				WithValueString(userId),
			filters.Where().
				WithPath([]string{"conversation_id"}).
				WithOperator(filters.Equal).
				WithValueString(conversationId),
		})
}

// CreateConversation inserts a new conversation and returns its record.
func (s *Store) CreateConversation(ctx context.Context, userId, title string) (*datatypes.ConversationResult, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	props := datatypes.ConversationProperties{
		ConversationId: uuid.New().String(),
		UserId:         userId,
		Title:          title,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	_, err := s.client.Data().Creator().
		WithClassName("Conversation").
		WithProperties(props.ToMap()).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}

	slog.Info("Created conversation", "conversation_id", props.ConversationId, "user_id", userId)
	return &datatypes.ConversationResult{
		ConversationId: props.ConversationId,
		UserId:         userId,
		Title:          title,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// CreateMessage persists one message into an existing conversation and
// touches the conversation's updated_at. Returns ErrConversationNotFound
// when the conversation does not exist for this user.
func (s *Store) CreateMessage(ctx context.Context, messageId, conversationId, userId string,
	msg datatypes.CanonicalMessage) error {

	conv, err := s.GetConversation(ctx, userId, conversationId)
	if err != nil {
		return err
	}
	if conv == nil {
		return ErrConversationNotFound
	}

	content := ""
	if msg.Content != nil {
		content = *msg.Content
	}
	now := time.Now().UTC().Format(time.RFC3339)
	props := datatypes.ChatMessageProperties{
		MessageId:      messageId,
		ConversationId: conversationId,
		UserId:         userId,
		Role:           string(msg.Role),
		Content:        content,
		CreatedAt:      now,
	}

	_, err = s.client.Data().Creator().
		WithClassName("ChatMessage").
		WithProperties(props.ToMap()).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("create message: %w", err)
	}

	// Touch the conversation so listing order reflects activity.
	err = s.client.Data().Updater().
		WithClassName("Conversation").
		WithID(conv.Additional.ID).
		WithMerge().
		WithProperties(map[string]interface{}{"updated_at": now}).
		Do(ctx)
	if err != nil {
		slog.Warn("Failed to touch conversation updated_at",
			"conversation_id", conversationId, "error", err)
	}
	return nil
}

// GetConversations lists a user's conversations, most recently updated
// first.
func (s *Store) GetConversations(ctx context.Context, userId string, limit, offset int) ([]datatypes.ConversationResult, error) {
	whereFilter := filters.Where().
		WithPath([]string{"user_id"}).
		WithOperator(filters.Equal).
		WithValueString(userId)

	sortBy := graphql.Sort{
		Path:  []string{"updated_at"},
		Order: graphql.Desc,
	}

	query := s.client.GraphQL().Get().
		WithClassName("Conversation").
		WithWhere(whereFilter).
		WithSort(sortBy).
		WithFields(conversationFields...)
	if limit > 0 {
		query = query.WithLimit(limit)
	}
	if offset > 0 {
		query = query.WithOffset(offset)
	}

	result, err := query.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}

	parsed, err := datatypes.ParseGraphQLResponse[datatypes.ConversationQueryResponse](result)
	if err != nil {
		return nil, err
	}
	return parsed.Get.Conversation, nil
}

// GetConversation fetches one conversation owned by the user. Returns
// (nil, nil) when absent.
func (s *Store) GetConversation(ctx context.Context, userId, conversationId string) (*datatypes.ConversationResult, error) {
	result, err := s.client.GraphQL().Get().
		WithClassName("Conversation").
		WithWhere(userConversationFilter(userId, conversationId)).
		WithLimit(1).
		WithFields(conversationFields...).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("query conversation: %w", err)
	}

	parsed, err := datatypes.ParseGraphQLResponse[datatypes.ConversationQueryResponse](result)
	if err != nil {
		return nil, err
	}
	if len(parsed.Get.Conversation) == 0 {
		return nil, nil
	}
	return &parsed.Get.Conversation[0], nil
}

// GetMessages lists the messages of one conversation in creation order.
func (s *Store) GetMessages(ctx context.Context, userId, conversationId string) ([]datatypes.ChatMessageResult, error) {
	sortBy := graphql.Sort{
		Path:  []string{"created_at"},
		Order: graphql.Asc,
	}

	result, err := s.client.GraphQL().Get().
		WithClassName("ChatMessage").
		WithWhere(userConversationFilter(userId, conversationId)).
		WithSort(sortBy).
		WithFields(messageFields...).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}

	parsed, err := datatypes.ParseGraphQLResponse[datatypes.ChatMessageQueryResponse](result)
	if err != nil {
		return nil, err
	}
	return parsed.Get.ChatMessage, nil
}

// UpdateMessageFeedback records feedback on a message the user owns.
// Returns false when no such message exists.
func (s *Store) UpdateMessageFeedback(ctx context.Context, userId, messageId, feedback string) (bool, error) {
	whereFilter := filters.Where().
		WithOperator(filters.And).
		WithOperands([]*filters.WhereBuilder{
			filters.Where().
				WithPath([]string{"user_id"}).
				WithOperator(filters.Equal).
				WithValueString(userId),
			filters.Where().
				WithPath([]string{"message_id"}).
				WithOperator(filters.Equal).
				WithValueString(messageId),
		})

	result, err := s.client.GraphQL().Get().
		WithClassName("ChatMessage").
		WithWhere(whereFilter).
		WithLimit(1).
		WithFields(messageFields...).
		Do(ctx)
	if err != nil {
		return false, fmt.Errorf("query message: %w", err)
	}

	parsed, err := datatypes.ParseGraphQLResponse[datatypes.ChatMessageQueryResponse](result)
	if err != nil {
		return false, err
	}
	if len(parsed.Get.ChatMessage) == 0 {
		return false, nil
	}

	err = s.client.Data().Updater().
		WithClassName("ChatMessage").
		WithID(parsed.Get.ChatMessage[0].Additional.ID).
		WithMerge().
		WithProperties(map[string]interface{}{"feedback": feedback}).
		Do(ctx)
	if err != nil {
		return false, fmt.Errorf("update message feedback: %w", err)
	}
	return true, nil
}

// UpsertConversation updates the title of an existing conversation or
// creates it when absent.
func (s *Store) UpsertConversation(ctx context.Context, userId, conversationId, title string) (*datatypes.ConversationResult, error) {
	now := time.Now().UTC().Format(time.RFC3339)

	existing, err := s.GetConversation(ctx, userId, conversationId)
	if err != nil {
		return nil, err
	}

	if existing != nil {
		err = s.client.Data().Updater().
			WithClassName("Conversation").
			WithID(existing.Additional.ID).
			WithMerge().
			WithProperties(map[string]interface{}{
				"title":      title,
				"updated_at": now,
			}).
			Do(ctx)
		if err != nil {
			return nil, fmt.Errorf("update conversation: %w", err)
		}
		existing.Title = title
		existing.UpdatedAt = now
		return existing, nil
	}

	props := datatypes.ConversationProperties{
		ConversationId: conversationId,
		UserId:         userId,
		Title:          title,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	_, err = s.client.Data().Creator().
		WithClassName("Conversation").
		WithProperties(props.ToMap()).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	return &datatypes.ConversationResult{
		ConversationId: conversationId,
		UserId:         userId,
		Title:          title,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// DeleteConversation removes the conversation object itself. Messages
// are deleted separately via DeleteMessages.
func (s *Store) DeleteConversation(ctx context.Context, userId, conversationId string) error {
	_, err := s.client.Batch().ObjectsBatchDeleter().
		WithClassName("Conversation").
		WithOutput("minimal").
		WithWhere(userConversationFilter(userId, conversationId)).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	return nil
}

// DeleteMessages removes every message of one conversation.
func (s *Store) DeleteMessages(ctx context.Context, userId, conversationId string) error {
	_, err := s.client.Batch().ObjectsBatchDeleter().
		WithClassName("ChatMessage").
		WithOutput("minimal").
		WithWhere(userConversationFilter(userId, conversationId)).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	return nil
}

// Ensure verifies the store is reachable and ready.
func (s *Store) Ensure(ctx context.Context) error {
	ready, err := s.client.Misc().ReadyChecker().Do(ctx)
	if err != nil {
		return fmt.Errorf("store readiness check: %w", err)
	}
	if !ready {
		return fmt.Errorf("store reports not ready")
	}
	return nil
}

var _ ConversationStore = (*Store)(nil)
