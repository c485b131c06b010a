// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/otel/attribute"
)

// =============================================================================
// Dispatcher Errors
// =============================================================================

// ErrToolUnavailable is returned when tool dispatch is requested but the
// remote tool endpoint is not configured or disabled.
var ErrToolUnavailable = errors.New("remote tool endpoint not configured")

// ArgumentParseError means the reassembled tool arguments were not valid
// JSON and the call could not be dispatched.
type ArgumentParseError struct {
	ToolName string
	Err      error
}

func (e *ArgumentParseError) Error() string {
	return fmt.Sprintf("tool %q arguments are not valid JSON: %v", e.ToolName, e.Err)
}

func (e *ArgumentParseError) Unwrap() error { return e.Err }

// InvocationError means the remote tool endpoint answered with a
// non-success status.
type InvocationError struct {
	ToolName   string
	StatusCode int
	Body       string
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("tool %q invocation failed with status %d", e.ToolName, e.StatusCode)
}

// =============================================================================
// Dispatcher
// =============================================================================

// ToolDispatcher executes one finalized tool call and returns its opaque
// text output.
type ToolDispatcher interface {
	Dispatch(ctx context.Context, call ToolCallDescriptor) (string, error)
}

// RemoteDispatcherConfig configures the HTTP tool backend.
type RemoteDispatcherConfig struct {
	// BaseURL is the tool endpoint. The access key is appended as the
	// "code" query parameter.
	BaseURL string
	// Key is the endpoint access key. May be empty for open endpoints.
	Key string
	// Timeout bounds each invocation. Zero means 30 seconds.
	Timeout time.Duration
	// Enabled gates dispatch entirely.
	Enabled bool
}

// RemoteDispatcher invokes tool calls against an HTTP endpoint.
//
// The request body is {"tool_name": ..., "tool_arguments": <parsed JSON>}
// and the response body is treated as opaque text. Arguments are parsed
// before dispatch so malformed upstream output is rejected locally
// instead of being forwarded.
type RemoteDispatcher struct {
	cfg    RemoteDispatcherConfig
	client *http.Client
}

// NewRemoteDispatcher creates a dispatcher for the configured endpoint.
func NewRemoteDispatcher(cfg RemoteDispatcherConfig) *RemoteDispatcher {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &RemoteDispatcher{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
}

// Dispatch executes one tool call.
//
// # Outputs
//
//   - string: The raw response body of the tool endpoint.
//   - error: ErrToolUnavailable, *ArgumentParseError, *InvocationError,
//     or a wrapped transport error.
func (d *RemoteDispatcher) Dispatch(ctx context.Context, call ToolCallDescriptor) (string, error) {
	if !d.cfg.Enabled || d.cfg.BaseURL == "" {
		return "", ErrToolUnavailable
	}

	ctx, span := tracer.Start(ctx, "RemoteDispatcher.Dispatch")
	defer span.End()
	span.SetAttributes(
		attribute.String("tool.name", call.ToolName),
		attribute.String("tool.call_id", call.ToolId),
	)

	var parsedArgs interface{}
	if err := json.Unmarshal([]byte(call.ToolArguments), &parsedArgs); err != nil {
		span.RecordError(err)
		return "", &ArgumentParseError{ToolName: call.ToolName, Err: err}
	}

	payload, err := json.Marshal(map[string]interface{}{
		"tool_name":      call.ToolName,
		"tool_arguments": parsedArgs,
	})
	if err != nil {
		return "", fmt.Errorf("marshal tool payload: %w", err)
	}

	endpoint := d.cfg.BaseURL
	if d.cfg.Key != "" {
		endpoint = fmt.Sprintf("%s?code=%s", d.cfg.BaseURL, url.QueryEscape(d.cfg.Key))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build tool request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	slog.Debug("Dispatching tool call", "tool", call.ToolName, "call_id", call.ToolId)

	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("tool endpoint request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read tool response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &InvocationError{
			ToolName:   call.ToolName,
			StatusCode: resp.StatusCode,
			Body:       string(body),
		}
	}

	return string(body), nil
}

var _ ToolDispatcher = (*RemoteDispatcher)(nil)
