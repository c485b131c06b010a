// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package flow

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/AleutianAI/chatgate/services/gateway/datatypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlowClient_Chat(t *testing.T) {
	var gotAuth string
	var gotBody map[string]interface{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &gotBody))
		w.Write([]byte(`{"reply": "flow answer", "id": "resp-1"}`))
	}))
	defer server.Close()

	c := NewClient(Config{Endpoint: server.URL, APIKey: "flow-key"})

	doc, err := c.Chat(context.Background(), []datatypes.RequestMessage{
		{Role: datatypes.RoleUser, Content: "first question"},
		{Role: datatypes.RoleAssistant, Content: "first answer"},
		{Role: datatypes.RoleUser, Content: "second question"},
	})
	require.NoError(t, err)
	assert.Equal(t, "flow answer", doc["reply"])
	assert.Equal(t, "Bearer flow-key", gotAuth)

	// Trailing user message is the live question.
	assert.Equal(t, "second question", gotBody["query"])

	// Prior turns are folded into input/output pairs.
	history, ok := gotBody["chat_history"].([]interface{})
	require.True(t, ok)
	require.Len(t, history, 1)
	pair := history[0].(map[string]interface{})
	assert.Equal(t, "first question", pair["inputs"].(map[string]interface{})["query"])
	assert.Equal(t, "first answer", pair["outputs"].(map[string]interface{})["reply"])
}

func TestFlowClient_ConfiguredFieldNames(t *testing.T) {
	var gotBody map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &gotBody))
		w.Write([]byte(`{"answer_text": "ok"}`))
	}))
	defer server.Close()

	c := NewClient(Config{
		Endpoint:      server.URL,
		RequestField:  "question",
		ResponseField: "answer_text",
	})
	assert.Equal(t, "answer_text", c.ResponseField())

	_, err := c.Chat(context.Background(), []datatypes.RequestMessage{
		{Role: datatypes.RoleUser, Content: "hi"},
	})
	require.NoError(t, err)
	assert.Equal(t, "hi", gotBody["question"])
}

func TestFlowClient_NonSuccessStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("upstream flow broken"))
	}))
	defer server.Close()

	c := NewClient(Config{Endpoint: server.URL})
	_, err := c.Chat(context.Background(), []datatypes.RequestMessage{
		{Role: datatypes.RoleUser, Content: "hi"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestFlowClient_NoEndpoint(t *testing.T) {
	c := NewClient(Config{})
	_, err := c.Chat(context.Background(), nil)
	assert.Error(t, err)
}
