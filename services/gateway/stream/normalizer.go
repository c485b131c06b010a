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
	"fmt"

	"github.com/AleutianAI/chatgate/services/gateway/datatypes"
	"github.com/google/uuid"
)

// Normalizer converts the heterogeneous producer payloads (upstream
// chunks, flow backend documents, stored history rows) into the
// canonical message shape.
//
// Normalization is idempotent: feeding a canonical message back through
// NormalizeMessage returns it unchanged apart from filling a missing id.
type Normalizer struct {
	// FlowResponseField names the reply field in flow backend payloads.
	// Empty selects the default "reply".
	FlowResponseField string
}

// NormalizeChunk converts one upstream chunk into canonical assistant
// delta messages. Chunks without text content (tool fragments, bare
// finish chunks) normalize to an empty slice.
func (n Normalizer) NormalizeChunk(chunk datatypes.Chunk) []datatypes.CanonicalMessage {
	if chunk.ContentDelta == "" {
		return nil
	}
	content := chunk.ContentDelta
	id := chunk.Id
	if id == "" {
		id = uuid.New().String()
	}
	return []datatypes.CanonicalMessage{{
		Id:      id,
		Role:    datatypes.RoleAssistant,
		Content: &content,
	}}
}

// NormalizeFlow extracts the assistant reply from a flow backend payload.
//
// Flow responses are flat JSON documents keyed by configured field names.
// messageId carries the upstream response id so buffered and streamed
// paths produce identically addressed messages.
func (n Normalizer) NormalizeFlow(payload map[string]interface{}, messageId string) ([]datatypes.CanonicalMessage, error) {
	field := n.FlowResponseField
	if field == "" {
		field = "reply"
	}
	raw, ok := payload[field]
	if !ok {
		return nil, fmt.Errorf("flow response missing field %q", field)
	}
	content, ok := raw.(string)
	if !ok {
		return nil, fmt.Errorf("flow response field %q is not a string", field)
	}
	if messageId == "" {
		messageId = uuid.New().String()
	}
	return []datatypes.CanonicalMessage{{
		Id:      messageId,
		Role:    datatypes.RoleAssistant,
		Content: &content,
	}}, nil
}

// NormalizeMessage fills defaults on an already canonical message.
func (n Normalizer) NormalizeMessage(msg datatypes.CanonicalMessage) datatypes.CanonicalMessage {
	if msg.Id == "" {
		msg.Id = uuid.New().String()
	}
	return msg
}

// ToolCallMessages synthesizes the assistant(function_call) + tool
// message pair recording one dispatched call.
func (n Normalizer) ToolCallMessages(call ToolCallDescriptor, output string) []datatypes.CanonicalMessage {
	return []datatypes.CanonicalMessage{
		datatypes.NewFunctionCallMessage(call.ToolName, call.ToolArguments),
		datatypes.NewToolMessage(call.ToolId, call.ToolName, output),
	}
}
