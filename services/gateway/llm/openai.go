// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/AleutianAI/chatgate/services/gateway/datatypes"
	"github.com/AleutianAI/chatgate/services/gateway/stream"
	"github.com/sashabaranov/go-openai"
)

// OpenAIConfig configures the OpenAI (or Azure OpenAI) backend.
//
// When AzureEndpoint is set the client talks to an Azure deployment and
// Model names the deployment; otherwise the public OpenAI API is used.
type OpenAIConfig struct {
	APIKey          string
	Model           string
	AzureEndpoint   string
	AzureAPIVersion string
	SystemMessage   string
	// Tools advertised to the model on every chat request.
	Tools []openai.Tool
}

// OpenAIClient implements Client on top of sashabaranov/go-openai.
type OpenAIClient struct {
	client        *openai.Client
	model         string
	systemMessage string
	tools         []openai.Tool
}

// NewOpenAIClient builds a client from explicit configuration.
func NewOpenAIClient(cfg OpenAIConfig) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("model API key is not set")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model name is not set")
	}

	var clientCfg openai.ClientConfig
	if cfg.AzureEndpoint != "" {
		clientCfg = openai.DefaultAzureConfig(cfg.APIKey, cfg.AzureEndpoint)
		if cfg.AzureAPIVersion != "" {
			clientCfg.APIVersion = cfg.AzureAPIVersion
		}
		slog.Info("Initializing Azure OpenAI client", "endpoint", cfg.AzureEndpoint,
			"deployment", cfg.Model)
	} else {
		clientCfg = openai.DefaultConfig(cfg.APIKey)
		slog.Info("Initializing OpenAI client", "model", cfg.Model)
	}

	return &OpenAIClient{
		client:        openai.NewClientWithConfig(clientCfg),
		model:         cfg.Model,
		systemMessage: cfg.SystemMessage,
		tools:         cfg.Tools,
	}, nil
}

// ChatStream opens a streaming completion.
func (o *OpenAIClient) ChatStream(ctx context.Context, messages []datatypes.RequestMessage,
	params ChatParams) (stream.Upstream, error) {

	req := openai.ChatCompletionRequest{
		Model:    o.model,
		Messages: o.buildMessages(messages),
		Stream:   true,
		Tools:    o.tools,
	}
	applyParams(&req, params)

	upstream, err := o.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("open completion stream: %w", err)
	}
	return &openaiChunkStream{inner: upstream}, nil
}

// Generate implements the Client interface.
func (o *OpenAIClient) Generate(ctx context.Context, prompt string, params ChatParams) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	}
	applyParams(&req, params)

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("model returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

func (o *OpenAIClient) buildMessages(messages []datatypes.RequestMessage) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if o.systemMessage != "" {
		out = append(out, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: o.systemMessage,
		})
	}
	for _, msg := range messages {
		// Tool messages from client-side history are replayed as
		// assistant text; the provider only accepts tool messages tied
		// to a live tool_call id.
		role := string(msg.Role)
		if msg.Role == datatypes.RoleTool {
			role = openai.ChatMessageRoleAssistant
		}
		out = append(out, openai.ChatCompletionMessage{
			Role:    role,
			Content: msg.Content,
		})
	}
	return out
}

func applyParams(req *openai.ChatCompletionRequest, params ChatParams) {
	if params.Temperature != nil {
		req.Temperature = *params.Temperature
	}
	if params.TopP != nil {
		req.TopP = *params.TopP
	}
	if params.MaxTokens != nil {
		req.MaxTokens = *params.MaxTokens
	}
	if len(params.Stop) > 0 {
		req.Stop = params.Stop
	}
}

// =============================================================================
// Chunk Adapter
// =============================================================================

// openaiChunkStream adapts the SDK stream to the gateway chunk model.
type openaiChunkStream struct {
	inner *openai.ChatCompletionStream
}

// Close releases the underlying SDK stream.
func (s *openaiChunkStream) Close() error {
	return s.inner.Close()
}

// Recv decodes the next SDK response into a Chunk. io.EOF passes
// through untouched on clean exhaustion.
func (s *openaiChunkStream) Recv() (datatypes.Chunk, error) {
	resp, err := s.inner.Recv()
	if err != nil {
		return datatypes.Chunk{}, err
	}

	chunk := datatypes.Chunk{Id: resp.ID}
	if len(resp.Choices) == 0 {
		return chunk, nil
	}

	choice := resp.Choices[0]
	chunk.ContentDelta = choice.Delta.Content
	chunk.FinishReason = string(choice.FinishReason)

	for _, tc := range choice.Delta.ToolCalls {
		chunk.ToolCalls = append(chunk.ToolCalls, datatypes.ToolCallFragment{
			CallId:         tc.ID,
			FunctionName:   tc.Function.Name,
			ArgumentsDelta: tc.Function.Arguments,
		})
	}
	return chunk, nil
}

var _ Client = (*OpenAIClient)(nil)
