// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("AZURE_OPENAI_MODEL", "gpt-4o")
	t.Setenv("OPENAI_API_KEY", "test-key")

	s, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "12310", s.Port)
	assert.Equal(t, "gpt-4o", s.Model)
	assert.Equal(t, "test-key", s.APIKey)
	assert.True(t, s.StreamEnabled)
	assert.False(t, s.UseFlowBackend)
	assert.Equal(t, "query", s.FlowRequestField)
	assert.Equal(t, "reply", s.FlowResponseField)
	assert.Equal(t, 30*time.Second, s.ToolResponseTimeout)
	assert.Nil(t, s.Temperature)
	assert.Nil(t, s.MaxTokens)
}

func TestLoad_ExplicitValues(t *testing.T) {
	t.Setenv("AZURE_OPENAI_MODEL", "gpt-4o")
	t.Setenv("AZURE_OPENAI_KEY", "azure-key")
	t.Setenv("AZURE_OPENAI_ENDPOINT", "https://example.openai.azure.com")
	t.Setenv("TEMPERATURE", "0.7")
	t.Setenv("MAX_TOKENS", "800")
	t.Setenv("STOP_SEQUENCE", "END|STOP")
	t.Setenv("STREAM_ENABLED", "false")
	t.Setenv("TOOL_RESPONSE_TIMEOUT", "45")

	s, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "azure-key", s.APIKey)
	assert.Equal(t, "https://example.openai.azure.com", s.AzureOpenAIEndpoint)
	require.NotNil(t, s.Temperature)
	assert.InDelta(t, 0.7, float64(*s.Temperature), 0.001)
	require.NotNil(t, s.MaxTokens)
	assert.Equal(t, 800, *s.MaxTokens)
	assert.Equal(t, []string{"END", "STOP"}, s.StopSequence)
	assert.False(t, s.StreamEnabled)
	assert.Equal(t, 45*time.Second, s.ToolResponseTimeout)
}

func TestLoad_MissingModelWithoutFlowBackend(t *testing.T) {
	t.Setenv("AZURE_OPENAI_MODEL", "")
	t.Setenv("OPENAI_MODEL", "")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_FlowBackendWithoutModel(t *testing.T) {
	t.Setenv("AZURE_OPENAI_MODEL", "")
	t.Setenv("OPENAI_MODEL", "")
	t.Setenv("USE_FLOW_BACKEND", "true")
	t.Setenv("FLOW_ENDPOINT", "https://flow.example.com/score")

	s, err := Load()
	require.NoError(t, err)
	assert.True(t, s.UseFlowBackend)
}

func TestLoadToolDefinitions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tools.json")
	defs := `[
		{
			"type": "function",
			"function": {
				"name": "get_weather",
				"description": "Look up the weather",
				"parameters": {"type": "object", "properties": {}}
			}
		}
	]`
	require.NoError(t, os.WriteFile(path, []byte(defs), 0o600))

	tools, err := LoadToolDefinitions(path)
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, "get_weather", tools[0].Function.Name)
}

func TestLoadToolDefinitions_EmptyPath(t *testing.T) {
	tools, err := LoadToolDefinitions("")
	require.NoError(t, err)
	assert.Empty(t, tools)
}

func TestLoadToolDefinitions_BadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tools.json")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o600))

	_, err := LoadToolDefinitions(path)
	assert.Error(t, err)
}
