// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package flow provides the alternative chat backend that answers via a
// deployed orchestration flow instead of a direct model call.
//
// Flow endpoints take the current question plus the prior turns as
// input/output pairs and return a flat JSON document whose field names
// are deployment-specific configuration, not protocol.
package flow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/AleutianAI/chatgate/services/gateway/datatypes"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("chatgate.gateway.flow")

// Config configures the flow backend connection.
type Config struct {
	Endpoint string
	APIKey   string
	// RequestField names the question field in the request payload.
	// Empty selects "query".
	RequestField string
	// ResponseField names the reply field in the response payload.
	// Empty selects "reply".
	ResponseField string
	// Timeout bounds the whole flow round trip. Zero means 30 seconds.
	Timeout time.Duration
}

// Client calls a deployed flow endpoint.
type Client struct {
	cfg  Config
	http *http.Client
}

// NewClient creates a flow client.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	if cfg.RequestField == "" {
		cfg.RequestField = "query"
	}
	if cfg.ResponseField == "" {
		cfg.ResponseField = "reply"
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: timeout},
	}
}

// ResponseField returns the configured reply field name for the
// normalizer.
func (c *Client) ResponseField() string {
	return c.cfg.ResponseField
}

// historyPair is one prior turn in the flow's chat_history format.
type historyPair struct {
	Inputs  map[string]string `json:"inputs"`
	Outputs map[string]string `json:"outputs"`
}

// Chat sends the trailing user question plus paired prior turns to the
// flow endpoint and returns the raw response document.
func (c *Client) Chat(ctx context.Context, messages []datatypes.RequestMessage) (map[string]interface{}, error) {
	if c.cfg.Endpoint == "" {
		return nil, fmt.Errorf("flow endpoint not configured")
	}

	ctx, span := tracer.Start(ctx, "FlowClient.Chat")
	defer span.End()
	span.SetAttributes(attribute.Int("flow.message_count", len(messages)))

	question := ""
	if last, ok := lastUser(messages); ok {
		question = last.Content
	}

	payload, err := json.Marshal(map[string]interface{}{
		c.cfg.RequestField: question,
		"chat_history":     c.buildHistory(messages),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal flow request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build flow request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	slog.Debug("Calling flow backend", "endpoint", c.cfg.Endpoint)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("flow request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read flow response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("flow backend returned status %d: %s", resp.StatusCode, string(body))
	}

	var doc map[string]interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("decode flow response: %w", err)
	}
	return doc, nil
}

// buildHistory folds prior user/assistant turns into input/output pairs.
// The trailing user message is the live question, not history.
func (c *Client) buildHistory(messages []datatypes.RequestMessage) []historyPair {
	pairs := []historyPair{}
	var pendingUser *datatypes.RequestMessage

	upper := len(messages)
	if _, ok := lastUser(messages); ok {
		upper--
	}

	for i := 0; i < upper; i++ {
		msg := messages[i]
		switch msg.Role {
		case datatypes.RoleUser:
			m := msg
			pendingUser = &m
		case datatypes.RoleAssistant:
			if pendingUser != nil {
				pairs = append(pairs, historyPair{
					Inputs:  map[string]string{c.cfg.RequestField: pendingUser.Content},
					Outputs: map[string]string{c.cfg.ResponseField: msg.Content},
				})
				pendingUser = nil
			}
		}
	}
	return pairs
}

func lastUser(messages []datatypes.RequestMessage) (datatypes.RequestMessage, bool) {
	if len(messages) == 0 {
		return datatypes.RequestMessage{}, false
	}
	last := messages[len(messages)-1]
	if last.Role != datatypes.RoleUser {
		return datatypes.RequestMessage{}, false
	}
	return last, true
}
