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
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/AleutianAI/chatgate/services/gateway/config"
	"github.com/AleutianAI/chatgate/services/gateway/datatypes"
	"github.com/AleutianAI/chatgate/services/gateway/flow"
	"github.com/AleutianAI/chatgate/services/gateway/llm"
	"github.com/AleutianAI/chatgate/services/gateway/stream"
	"github.com/gin-gonic/gin"
	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// =============================================================================
// Fakes
// =============================================================================

type stubUpstream struct {
	chunks []datatypes.Chunk
	pos    int
}

func (s *stubUpstream) Recv() (datatypes.Chunk, error) {
	if s.pos >= len(s.chunks) {
		return datatypes.Chunk{}, io.EOF
	}
	chunk := s.chunks[s.pos]
	s.pos++
	return chunk, nil
}

type stubLLM struct {
	chunks    []datatypes.Chunk
	openErr   error
	generated string
}

func (s *stubLLM) ChatStream(_ context.Context, _ []datatypes.RequestMessage,
	_ llm.ChatParams) (stream.Upstream, error) {
	if s.openErr != nil {
		return nil, s.openErr
	}
	return &stubUpstream{chunks: s.chunks}, nil
}

func (s *stubLLM) Generate(_ context.Context, _ string, _ llm.ChatParams) (string, error) {
	return s.generated, nil
}

var _ llm.Client = (*stubLLM)(nil)

func conversationRouter(settings *config.Settings, llmClient llm.Client,
	flowClient *flow.Client) *gin.Engine {

	dispatcher := stream.NewRemoteDispatcher(stream.RemoteDispatcherConfig{})
	handler := NewConversationHandler(settings, llmClient, flowClient, dispatcher)
	router := gin.New()
	router.POST("/conversation", handler.Handle)
	return router
}

func postConversation(t *testing.T, router *gin.Engine, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/conversation", bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func userRequest(content string) map[string]interface{} {
	return map[string]interface{}{
		"messages": []map[string]string{
			{"id": "u1", "role": "user", "content": content},
		},
	}
}

// =============================================================================
// Tests
// =============================================================================

func TestConversation_StreamedDeltas(t *testing.T) {
	settings := &config.Settings{StreamEnabled: true}
	router := conversationRouter(settings, &stubLLM{chunks: []datatypes.Chunk{
		{Id: "r1", ContentDelta: "Hello"},
		{Id: "r1", ContentDelta: " there"},
	}}, nil)

	rec := postConversation(t, router, userRequest("hi"))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json-lines", rec.Header().Get("Content-Type"))

	lines := decodeLines(t, rec.Body.String())
	require.Len(t, lines, 2)
	assert.Equal(t, "Hello", lines[0]["content"])
	assert.Equal(t, " there", lines[1]["content"])
}

func TestConversation_BufferedCoalescesDeltas(t *testing.T) {
	settings := &config.Settings{StreamEnabled: false}
	router := conversationRouter(settings, &stubLLM{chunks: []datatypes.Chunk{
		{Id: "r1", ContentDelta: "Hello"},
		{Id: "r1", ContentDelta: " there"},
	}}, nil)

	rec := postConversation(t, router, userRequest("hi"))

	require.Equal(t, http.StatusOK, rec.Code)
	var doc struct {
		Messages []datatypes.CanonicalMessage `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	require.Len(t, doc.Messages, 1)
	require.NotNil(t, doc.Messages[0].Content)
	assert.Equal(t, "Hello there", *doc.Messages[0].Content)
	assert.Equal(t, datatypes.RoleAssistant, doc.Messages[0].Role)
}

func TestConversation_BufferedReportsToolDispatchErrors(t *testing.T) {
	settings := &config.Settings{StreamEnabled: false}
	// conversationRouter wires an unconfigured dispatcher, so the tool
	// call fails while the text deltas still arrive.
	router := conversationRouter(settings, &stubLLM{chunks: []datatypes.Chunk{
		{ToolCalls: []datatypes.ToolCallFragment{
			{CallId: "call_1", FunctionName: "lookup", ArgumentsDelta: `{}`},
		}},
		{Id: "r1", ContentDelta: "answer text"},
	}}, nil)

	rec := postConversation(t, router, userRequest("hi"))

	require.Equal(t, http.StatusOK, rec.Code)
	var doc struct {
		Messages []datatypes.CanonicalMessage `json:"messages"`
		Errors   []struct {
			Error      string `json:"error"`
			StatusCode int    `json:"status_code"`
		} `json:"errors"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))

	require.Len(t, doc.Messages, 1)
	require.NotNil(t, doc.Messages[0].Content)
	assert.Equal(t, "answer text", *doc.Messages[0].Content)

	require.Len(t, doc.Errors, 1)
	assert.Contains(t, doc.Errors[0].Error, "remote tool endpoint not configured")
	assert.Equal(t, http.StatusInternalServerError, doc.Errors[0].StatusCode)
}

func TestConversation_InvalidBody(t *testing.T) {
	settings := &config.Settings{StreamEnabled: true}
	router := conversationRouter(settings, &stubLLM{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/conversation", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestConversation_RejectsUnknownRole(t *testing.T) {
	settings := &config.Settings{StreamEnabled: true}
	router := conversationRouter(settings, &stubLLM{}, nil)

	rec := postConversation(t, router, map[string]interface{}{
		"messages": []map[string]string{
			{"role": "wizard", "content": "hi"},
		},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestConversation_UpstreamOpenErrorMapsProviderStatus(t *testing.T) {
	settings := &config.Settings{StreamEnabled: true}
	router := conversationRouter(settings, &stubLLM{
		openErr: &openai.APIError{HTTPStatusCode: http.StatusTooManyRequests, Message: "rate limited"},
	}, nil)

	rec := postConversation(t, router, userRequest("hi"))

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), "rate limited")
}

func TestConversation_FlowBackend(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"reply": "Forty-two"}`))
	}))
	defer backend.Close()

	settings := &config.Settings{UseFlowBackend: true}
	flowClient := flow.NewClient(flow.Config{Endpoint: backend.URL})
	router := conversationRouter(settings, nil, flowClient)

	rec := postConversation(t, router, userRequest("the answer?"))

	require.Equal(t, http.StatusOK, rec.Code)
	var doc struct {
		Messages []datatypes.CanonicalMessage `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	require.Len(t, doc.Messages, 1)
	require.NotNil(t, doc.Messages[0].Content)
	assert.Equal(t, "Forty-two", *doc.Messages[0].Content)
	assert.Equal(t, "u1", doc.Messages[0].Id)
}
