// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes provides data structures for the gateway service.
//
// This file contains the canonical chat message model and the upstream
// chunk model the streaming engine consumes. Request/response types for
// the HTTP endpoints live in requests.go, stream event types in events.go.
package datatypes

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Constants for Security Compliance
// =============================================================================

const (
	// MaxMessageContentBytes is the maximum size of a single message content.
	// Per SEC-003: Unbounded message input mitigation.
	MaxMessageContentBytes = 32 * 1024 // 32KB

	// MaxMessagesPerRequest is the maximum number of messages in a request.
	// Per SEC-004: Unbounded message history mitigation.
	MaxMessagesPerRequest = 100
)

// =============================================================================
// Roles
// =============================================================================

// Role identifies the author of a canonical message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	// RoleTool carries the output of a dispatched tool call back to the
	// client and into persisted history.
	RoleTool Role = "tool"
)

// =============================================================================
// Canonical Message Model
// =============================================================================

// FunctionCall is a finalized tool invocation attached to an assistant message.
type FunctionCall struct {
	Name string `json:"name"`
	// Arguments is the reassembled argument string, exactly as accumulated
	// from the upstream fragments. Not guaranteed to be valid JSON.
	Arguments string `json:"arguments"`
}

// CanonicalMessage is the single message shape every producer path
// (upstream deltas, tool dispatch, flow backend, history reads) is
// normalized into before it reaches a client or the store.
//
// # Fields
//
//   - Id: UUID, assigned at normalization time when absent.
//   - Role: Author role. Assistant messages carrying a FunctionCall have
//     nil Content; plain assistant messages have non-nil Content.
//   - Content: Message text. Nil is meaningful (function-call messages);
//     it is distinct from the empty string.
//   - FunctionCall: Present only on synthesized assistant messages that
//     record a tool invocation.
//   - Name: Tool name on RoleTool messages.
//   - ToolCallId: Id of the invocation a RoleTool message answers.
//     Required on RoleTool messages, absent everywhere else.
//   - Date: RFC3339 creation timestamp, set when the message is persisted
//     or read back from the store.
type CanonicalMessage struct {
	Id           string        `json:"id"`
	Role         Role          `json:"role"`
	Content      *string       `json:"content"`
	FunctionCall *FunctionCall `json:"function_call,omitempty"`
	Name         string        `json:"name,omitempty"`
	ToolCallId   string        `json:"tool_call_id,omitempty"`
	Date         string        `json:"date,omitempty"`
	Feedback     string        `json:"feedback,omitempty"`
}

// NewAssistantMessage builds a plain assistant text message.
func NewAssistantMessage(content string) CanonicalMessage {
	return CanonicalMessage{
		Id:      uuid.New().String(),
		Role:    RoleAssistant,
		Content: &content,
	}
}

// NewFunctionCallMessage builds the synthesized assistant message that
// records a finalized tool invocation. Content is deliberately nil.
func NewFunctionCallMessage(name, arguments string) CanonicalMessage {
	return CanonicalMessage{
		Id:   uuid.New().String(),
		Role: RoleAssistant,
		FunctionCall: &FunctionCall{
			Name:      name,
			Arguments: arguments,
		},
	}
}

// NewToolMessage builds the tool-output message paired with a
// function-call message. callId ties the output back to its invocation.
func NewToolMessage(callId, name, output string) CanonicalMessage {
	return CanonicalMessage{
		Id:         uuid.New().String(),
		Role:       RoleTool,
		Content:    &output,
		Name:       name,
		ToolCallId: callId,
	}
}

// Stamp sets the Date field to the current time if it is unset.
func (m *CanonicalMessage) Stamp() {
	if m.Date == "" {
		m.Date = time.Now().UTC().Format(time.RFC3339)
	}
}

// =============================================================================
// Upstream Chunk Model
// =============================================================================

// ToolCallFragment is one incremental piece of a tool call as emitted by
// the upstream provider. CallId and FunctionName arrive only on the first
// fragment of a call; later fragments carry only an arguments delta.
type ToolCallFragment struct {
	CallId         string `json:"call_id,omitempty"`
	FunctionName   string `json:"function_name,omitempty"`
	ArgumentsDelta string `json:"arguments_delta,omitempty"`
}

// Chunk is one upstream streaming chunk after transport decoding.
//
// A chunk carries at most one concern: a text delta, one or more tool-call
// fragments, or neither (a bare finish/keepalive chunk). The multiplexer
// interprets a fragment-free chunk received mid-tool-call as the end of
// the tool phase.
type Chunk struct {
	Id           string             `json:"id"`
	ContentDelta string             `json:"content_delta,omitempty"`
	ToolCalls    []ToolCallFragment `json:"tool_calls,omitempty"`
	FinishReason string             `json:"finish_reason,omitempty"`
}

// HasToolCalls reports whether the chunk carries any tool-call fragments.
func (c Chunk) HasToolCalls() bool {
	return len(c.ToolCalls) > 0
}
