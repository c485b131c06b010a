// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the gateway's environment configuration into one
// explicit settings struct created at boot and passed down; nothing in
// the request path reads the environment.
package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
)

// openaiKeySecretPath is the container-secret fallback for the API key.
const openaiKeySecretPath = "/run/secrets/openai_api_key"

// Settings holds the full gateway configuration.
type Settings struct {
	Port string

	// Upstream model backend. AzureEndpoint empty means public OpenAI.
	AzureOpenAIEndpoint   string
	AzureOpenAIAPIVersion string
	APIKey                string
	Model                 string
	SystemMessage         string
	Temperature           *float32
	TopP                  *float32
	MaxTokens             *int
	StopSequence          []string
	StreamEnabled         bool

	// Flow backend (alternative to the direct model path).
	UseFlowBackend      bool
	FlowEndpoint        string
	FlowAPIKey          string
	FlowRequestField    string
	FlowResponseField   string
	FlowResponseTimeout time.Duration

	// Remote tool endpoint.
	ToolEnabled         bool
	ToolBaseURL         string
	ToolKey             string
	ToolResponseTimeout time.Duration
	ToolDefinitionsFile string

	// Document store.
	WeaviateServiceURL string

	// Frontend settings surface.
	AuthEnabled     bool
	FeedbackEnabled bool
	UITitle         string
	UIChatTitle     string
	UIChatDesc      string
	UILogo          string

	OTELEndpoint string
	LogDir       string
}

// Load reads the environment once and returns the settings struct.
func Load() (*Settings, error) {
	s := &Settings{
		Port: envString("GATEWAY_PORT", "12310"),

		AzureOpenAIEndpoint:   os.Getenv("AZURE_OPENAI_ENDPOINT"),
		AzureOpenAIAPIVersion: envString("AZURE_OPENAI_API_VERSION", "2024-02-15-preview"),
		Model:                 envString("AZURE_OPENAI_MODEL", os.Getenv("OPENAI_MODEL")),
		SystemMessage:         envString("SYSTEM_MESSAGE", "You are an AI assistant that helps people find information."),
		Temperature:           envFloat32Ptr("TEMPERATURE"),
		TopP:                  envFloat32Ptr("TOP_P"),
		MaxTokens:             envIntPtr("MAX_TOKENS"),
		StreamEnabled:         envBool("STREAM_ENABLED", true),

		UseFlowBackend:      envBool("USE_FLOW_BACKEND", false),
		FlowEndpoint:        os.Getenv("FLOW_ENDPOINT"),
		FlowAPIKey:          os.Getenv("FLOW_API_KEY"),
		FlowRequestField:    envString("FLOW_REQUEST_FIELD", "query"),
		FlowResponseField:   envString("FLOW_RESPONSE_FIELD", "reply"),
		FlowResponseTimeout: envDuration("FLOW_RESPONSE_TIMEOUT", 30*time.Second),

		ToolEnabled:         envBool("TOOL_ENABLED", false),
		ToolBaseURL:         os.Getenv("TOOL_BASE_URL"),
		ToolKey:             os.Getenv("TOOL_KEY"),
		ToolResponseTimeout: envDuration("TOOL_RESPONSE_TIMEOUT", 30*time.Second),
		ToolDefinitionsFile: os.Getenv("TOOL_DEFINITIONS_FILE"),

		WeaviateServiceURL: strings.Trim(os.Getenv("WEAVIATE_SERVICE_URL"), "\"' "),

		AuthEnabled:     envBool("AUTH_ENABLED", true),
		FeedbackEnabled: envBool("FEEDBACK_ENABLED", false),
		UITitle:         envString("UI_TITLE", "Chat Gateway"),
		UIChatTitle:     envString("UI_CHAT_TITLE", "Start chatting"),
		UIChatDesc:      envString("UI_CHAT_DESCRIPTION", "This chatbot is configured to answer your questions"),
		UILogo:          os.Getenv("UI_LOGO"),

		OTELEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		LogDir:       os.Getenv("GATEWAY_LOG_DIR"),
	}

	if stop := os.Getenv("STOP_SEQUENCE"); stop != "" {
		s.StopSequence = strings.Split(stop, "|")
	}

	key := os.Getenv("AZURE_OPENAI_KEY")
	if key == "" {
		key = os.Getenv("OPENAI_API_KEY")
	}
	if key == "" {
		// Container-secret fallback.
		if keyBytes, err := os.ReadFile(openaiKeySecretPath); err == nil {
			key = strings.TrimSpace(string(keyBytes))
			slog.Info("Read the model API key from container secrets")
		}
	}
	s.APIKey = key

	if s.Model == "" && !s.UseFlowBackend {
		return nil, fmt.Errorf("AZURE_OPENAI_MODEL or OPENAI_MODEL must be set")
	}
	return s, nil
}

// LoadToolDefinitions reads the advertised tool specs from the
// configured JSON file. An unset path yields no tools, which is a valid
// zero-tool deployment.
func LoadToolDefinitions(path string) ([]openai.Tool, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tool definitions: %w", err)
	}
	var tools []openai.Tool
	if err := json.Unmarshal(data, &tools); err != nil {
		return nil, fmt.Errorf("parse tool definitions: %w", err)
	}
	slog.Info("Loaded tool definitions", "path", path, "count", len(tools))
	return tools, nil
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(strings.ToLower(v))
	if err != nil {
		slog.Warn("Invalid boolean in environment, using default", "key", key, "value", v)
		return fallback
	}
	return parsed
}

func envFloat32Ptr(key string) *float32 {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parsed, err := strconv.ParseFloat(v, 32)
	if err != nil {
		slog.Warn("Invalid float in environment, ignoring", "key", key, "value", v)
		return nil
	}
	f := float32(parsed)
	return &f
}

func envIntPtr(key string) *int {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("Invalid integer in environment, ignoring", "key", key, "value", v)
		return nil
	}
	return &parsed
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	// Accept both bare seconds ("30") and Go durations ("30s").
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		slog.Warn("Invalid duration in environment, using default", "key", key, "value", v)
		return fallback
	}
	return parsed
}
