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
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/AleutianAI/chatgate/services/gateway/datatypes"
)

// =============================================================================
// Interface Definition
// =============================================================================

// NDJSONWriter writes canonical stream events to an HTTP response as
// newline-delimited JSON.
//
// # Description
//
// NDJSONWriter abstracts the wire encoding of the streamed chat
// response: one JSON object per line, flushed immediately. Each line is
// one of:
//
//	{"id": ..., "role": "assistant", "content": ...}     text delta
//	{"id": ..., "role": "assistant", "function_call": …} tool invocation
//	{"id": ..., "role": "tool", "content": ..., "name": …}
//	{"error": ..., "status_code": ...}
//	{"history_metadata": {...}}                          terminal line
//
// Clients must parse line-by-line; the payload as a whole is not valid
// JSON.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use by multiple
// goroutines.
//
// # Assumptions
//
//   - Caller has set NDJSON headers via SetNDJSONHeaders before writing
type NDJSONWriter interface {
	// WriteEvent serializes one canonical event to the wire. A tool
	// invocation produces one line per synthesized message.
	WriteEvent(event datatypes.StreamEvent) error
}

// =============================================================================
// Implementation
// =============================================================================

// ndjsonWriter implements NDJSONWriter for HTTP responses.
type ndjsonWriter struct {
	writer  http.ResponseWriter
	flusher http.Flusher
	mu      sync.Mutex
}

// NewNDJSONWriter creates an NDJSONWriter for the given ResponseWriter.
// Returns an error when the writer does not support flushing.
func NewNDJSONWriter(w http.ResponseWriter) (NDJSONWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("ResponseWriter does not support http.Flusher")
	}
	return &ndjsonWriter{writer: w, flusher: flusher}, nil
}

// errorLine is the wire shape of an error event.
type errorLine struct {
	Error      string `json:"error"`
	StatusCode int    `json:"status_code,omitempty"`
}

// doneLine is the wire shape of the terminal line.
type doneLine struct {
	HistoryMetadata *datatypes.HistoryMetadata `json:"history_metadata"`
}

// WriteEvent serializes one canonical event.
func (w *ndjsonWriter) WriteEvent(event datatypes.StreamEvent) error {
	switch event.Kind {
	case datatypes.EventTextDelta:
		if event.Message == nil {
			return nil
		}
		return w.writeLine(event.Message)

	case datatypes.EventToolInvoked:
		for i := range event.Messages {
			if err := w.writeLine(&event.Messages[i]); err != nil {
				return err
			}
		}
		return nil

	case datatypes.EventError:
		return w.writeLine(errorLine{Error: event.Error, StatusCode: event.StatusCode})

	case datatypes.EventDone:
		// The terminal line carries history metadata only when the
		// request ran under a persisted conversation.
		if event.HistoryMetadata == nil {
			return nil
		}
		return w.writeLine(doneLine{HistoryMetadata: event.HistoryMetadata})

	default:
		return fmt.Errorf("unknown event kind %q", event.Kind)
	}
}

func (w *ndjsonWriter) writeLine(payload interface{}) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := w.writer.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	w.flusher.Flush()
	return nil
}

// =============================================================================
// Helper Functions
// =============================================================================

// SetNDJSONHeaders configures HTTP response headers for the streamed
// NDJSON response. The mimetype deliberately marks the payload as
// line-delimited JSON so clients do not attempt whole-body parsing.
func SetNDJSONHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json-lines")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
}

// =============================================================================
// Compile-time Interface Check
// =============================================================================

var _ NDJSONWriter = (*ndjsonWriter)(nil)
