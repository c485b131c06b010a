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
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/AleutianAI/chatgate/services/gateway/datatypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, body string) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(body), "\n") {
		if line == "" {
			continue
		}
		var obj map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &obj), "line %q", line)
		out = append(out, obj)
	}
	return out
}

func TestNDJSONWriter_TextDeltaLine(t *testing.T) {
	rec := httptest.NewRecorder()
	w, err := NewNDJSONWriter(rec)
	require.NoError(t, err)

	msg := datatypes.NewAssistantMessage("Hello")
	msg.Id = "m1"
	require.NoError(t, w.WriteEvent(datatypes.TextDeltaEvent(msg)))

	lines := decodeLines(t, rec.Body.String())
	require.Len(t, lines, 1)
	assert.Equal(t, "m1", lines[0]["id"])
	assert.Equal(t, "assistant", lines[0]["role"])
	assert.Equal(t, "Hello", lines[0]["content"])
}

func TestNDJSONWriter_ToolInvocationEmitsOneLinePerMessage(t *testing.T) {
	rec := httptest.NewRecorder()
	w, err := NewNDJSONWriter(rec)
	require.NoError(t, err)

	pair := []datatypes.CanonicalMessage{
		datatypes.NewFunctionCallMessage("get_weather", `{"city":"Juneau"}`),
		datatypes.NewToolMessage("call_9", "get_weather", `{"temp":48}`),
	}
	require.NoError(t, w.WriteEvent(datatypes.ToolInvokedEvent(pair)))

	lines := decodeLines(t, rec.Body.String())
	require.Len(t, lines, 2)

	fc, ok := lines[0]["function_call"].(map[string]interface{})
	require.True(t, ok, "first line carries function_call")
	assert.Equal(t, "get_weather", fc["name"])
	assert.Equal(t, "assistant", lines[0]["role"])

	assert.Equal(t, "tool", lines[1]["role"])
	assert.Equal(t, `{"temp":48}`, lines[1]["content"])
	assert.Equal(t, "get_weather", lines[1]["name"])
	assert.Equal(t, "call_9", lines[1]["tool_call_id"])
}

func TestNDJSONWriter_ErrorLine(t *testing.T) {
	rec := httptest.NewRecorder()
	w, err := NewNDJSONWriter(rec)
	require.NoError(t, err)

	require.NoError(t, w.WriteEvent(datatypes.ErrorEvent("rate limited", 429)))

	lines := decodeLines(t, rec.Body.String())
	require.Len(t, lines, 1)
	assert.Equal(t, "rate limited", lines[0]["error"])
	assert.Equal(t, float64(429), lines[0]["status_code"])
}

func TestNDJSONWriter_DoneLineCarriesMetadata(t *testing.T) {
	rec := httptest.NewRecorder()
	w, err := NewNDJSONWriter(rec)
	require.NoError(t, err)

	meta := &datatypes.HistoryMetadata{ConversationId: "c1", Title: "Weather chat"}
	require.NoError(t, w.WriteEvent(datatypes.DoneEvent(meta)))

	lines := decodeLines(t, rec.Body.String())
	require.Len(t, lines, 1)
	hm, ok := lines[0]["history_metadata"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "c1", hm["conversation_id"])
	assert.Equal(t, "Weather chat", hm["title"])
}

func TestNDJSONWriter_DoneWithoutMetadataWritesNothing(t *testing.T) {
	rec := httptest.NewRecorder()
	w, err := NewNDJSONWriter(rec)
	require.NoError(t, err)

	require.NoError(t, w.WriteEvent(datatypes.DoneEvent(nil)))
	assert.Empty(t, rec.Body.String())
}

func TestSetNDJSONHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	SetNDJSONHeaders(rec)

	assert.Equal(t, "application/json-lines", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "no", rec.Header().Get("X-Accel-Buffering"))
}
