// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm adapts upstream model providers to the gateway's chunk
// stream contract.
package llm

import (
	"context"

	"github.com/AleutianAI/chatgate/services/gateway/datatypes"
	"github.com/AleutianAI/chatgate/services/gateway/stream"
)

// ChatParams carries per-request sampling parameters. Nil fields fall
// back to provider defaults.
type ChatParams struct {
	Temperature *float32 `json:"temperature"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`
}

// Client defines the standard interface for any chat model backend.
type Client interface {
	// ChatStream opens a streaming completion for the given history.
	// The returned Upstream yields decoded chunks until io.EOF and
	// honors ctx cancellation.
	ChatStream(ctx context.Context, messages []datatypes.RequestMessage, params ChatParams) (stream.Upstream, error)

	// Generate runs a single non-streaming completion for a prompt.
	// Used for auxiliary generations such as conversation titles.
	Generate(ctx context.Context, prompt string, params ChatParams) (string, error)
}
