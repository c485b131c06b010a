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

import "net/http"

// =============================================================================
// Stream Event Model
// =============================================================================

// EventKind discriminates the canonical stream event union.
type EventKind string

const (
	// EventTextDelta carries an incremental piece of assistant text.
	EventTextDelta EventKind = "text_delta"

	// EventToolInvoked carries the synthesized function-call/tool message
	// pair for one finalized and dispatched tool call.
	EventToolInvoked EventKind = "tool_invoked"

	// EventError is terminal for upstream failures; for per-call dispatch
	// failures it is emitted inline and the stream continues.
	EventError EventKind = "error"

	// EventDone is the terminal event of a successfully exhausted stream.
	EventDone EventKind = "done"
)

// StreamEvent is one canonical event produced by the stream multiplexer.
//
// Exactly one payload group is populated, selected by Kind:
//   - EventTextDelta: Message (assistant delta)
//   - EventToolInvoked: Messages (function_call + tool pair, in order)
//   - EventError: Error, StatusCode
//   - EventDone: HistoryMetadata
//
// Events are emitted in upstream order from a single goroutine; consumers
// may rely on Done or a terminal Error being the last event.
type StreamEvent struct {
	Kind            EventKind          `json:"kind"`
	Message         *CanonicalMessage  `json:"message,omitempty"`
	Messages        []CanonicalMessage `json:"messages,omitempty"`
	Error           string             `json:"error,omitempty"`
	StatusCode      int                `json:"status_code,omitempty"`
	HistoryMetadata *HistoryMetadata   `json:"history_metadata,omitempty"`
}

// TextDeltaEvent wraps an assistant delta message.
func TextDeltaEvent(msg CanonicalMessage) StreamEvent {
	return StreamEvent{Kind: EventTextDelta, Message: &msg}
}

// ToolInvokedEvent wraps the message pair of one dispatched tool call.
func ToolInvokedEvent(pair []CanonicalMessage) StreamEvent {
	return StreamEvent{Kind: EventToolInvoked, Messages: pair}
}

// ErrorEvent wraps a failure. statusCode falls back to 500 when the
// source error carried no usable HTTP status.
func ErrorEvent(msg string, statusCode int) StreamEvent {
	if statusCode == 0 {
		statusCode = http.StatusInternalServerError
	}
	return StreamEvent{Kind: EventError, Error: msg, StatusCode: statusCode}
}

// DoneEvent wraps the terminal event with the request's history metadata.
func DoneEvent(meta *HistoryMetadata) StreamEvent {
	return StreamEvent{Kind: EventDone, HistoryMetadata: meta}
}
