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
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/AleutianAI/chatgate/services/gateway/datatypes"
	"github.com/AleutianAI/chatgate/services/gateway/observability"
	"github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("chatgate.gateway.stream")

// =============================================================================
// Upstream Contract
// =============================================================================

// Upstream is a decoded chunk stream from the model provider.
//
// Recv blocks for the next chunk and returns io.EOF on clean exhaustion.
// Implementations must honor cancellation of the context the stream was
// opened with.
type Upstream interface {
	Recv() (datatypes.Chunk, error)
}

// =============================================================================
// Multiplexer
// =============================================================================

// Multiplexer drives one upstream response: it interleaves text deltas,
// tool-call reassembly, and tool dispatch into an ordered stream of
// canonical events.
//
// # Description
//
// Drive reads chunks until exhaustion or failure. Text deltas are
// normalized and emitted as they arrive. Tool-call fragments feed the
// accumulator; a finalized call (flushed by a successor call or by the
// end of the tool phase) is dispatched immediately and its synthesized
// message pair emitted before any later event. A chunk carrying no tool
// fragments while the accumulator is streaming marks the end of the tool
// phase.
//
// Upstream failures produce exactly one terminal error event carrying
// the provider's HTTP status when it exposes one. Dispatch failures for
// individual calls are emitted as inline error events and the stream
// continues.
//
// # Thread Safety
//
// A Multiplexer serves a single request; all events are emitted from the
// calling goroutine in upstream order.
type Multiplexer struct {
	normalizer Normalizer
	dispatcher ToolDispatcher

	// functionMessages collects the synthesized message pairs of every
	// dispatched call, in dispatch order, for history persistence.
	functionMessages []datatypes.CanonicalMessage
}

// NewMultiplexer creates a multiplexer for one request.
func NewMultiplexer(normalizer Normalizer, dispatcher ToolDispatcher) *Multiplexer {
	return &Multiplexer{
		normalizer: normalizer,
		dispatcher: dispatcher,
	}
}

// FunctionMessages returns the synthesized assistant(function_call) and
// tool messages of every call dispatched during Drive, in call order.
func (m *Multiplexer) FunctionMessages() []datatypes.CanonicalMessage {
	return m.functionMessages
}

// Drive consumes the upstream until exhaustion, emitting canonical
// events through emit.
//
// # Inputs
//
//   - ctx: Request context. Cancellation surfaces at the next Recv.
//   - upstream: Decoded chunk stream.
//   - meta: History metadata echoed in the terminal done event. May be nil.
//   - emit: Event sink. A non-nil return aborts the drive immediately.
//
// # Outputs
//
//   - error: Nil after a clean done event. Otherwise the upstream,
//     protocol, or emit error that ended the stream; a terminal error
//     event has already been emitted for upstream and protocol errors.
func (m *Multiplexer) Drive(ctx context.Context, upstream Upstream, meta *datatypes.HistoryMetadata,
	emit func(datatypes.StreamEvent) error) error {

	ctx, span := tracer.Start(ctx, "Multiplexer.Drive")
	defer span.End()

	acc := NewAccumulator()

	for {
		chunk, err := upstream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				// Client went away; nobody is listening for an error event.
				slog.Debug("Stream cancelled", "error", err)
				return err
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, "upstream stream failed")
			slog.Error("Upstream stream failed", "error", err)
			if emitErr := emit(datatypes.ErrorEvent(err.Error(), StatusFromError(err))); emitErr != nil {
				return emitErr
			}
			return err
		}

		if chunk.HasToolCalls() {
			for _, frag := range chunk.ToolCalls {
				flushed, obsErr := acc.Observe(frag)
				if obsErr != nil {
					slog.Error("Tool-call protocol violation", "error", obsErr)
					if emitErr := emit(datatypes.ErrorEvent(obsErr.Error(), http.StatusInternalServerError)); emitErr != nil {
						return emitErr
					}
					return obsErr
				}
				if flushed != nil {
					if emitErr := m.dispatch(ctx, *flushed, emit); emitErr != nil {
						return emitErr
					}
				}
			}
			continue
		}

		// No tool fragments in this chunk: a streaming accumulator means
		// the tool phase just ended. The accumulator stays completed for
		// the rest of the stream; a late fragment is a protocol violation.
		if acc.Phase() == PhaseStreaming {
			if final := acc.Finalize(); final != nil {
				if emitErr := m.dispatch(ctx, *final, emit); emitErr != nil {
					return emitErr
				}
			}
		}

		for _, msg := range m.normalizer.NormalizeChunk(chunk) {
			if emitErr := emit(datatypes.TextDeltaEvent(msg)); emitErr != nil {
				return emitErr
			}
		}
	}

	// Clean EOF. Flush a still-open call before the done event.
	if acc.Phase() == PhaseStreaming {
		if final := acc.Finalize(); final != nil {
			if emitErr := m.dispatch(ctx, *final, emit); emitErr != nil {
				return emitErr
			}
		}
	}

	span.SetAttributes(attribute.Int("stream.function_messages", len(m.functionMessages)))
	return emit(datatypes.DoneEvent(meta))
}

// dispatch executes one finalized call and emits either its message pair
// or an inline error event. Only emit failures are returned; dispatch
// failures do not abort the stream.
func (m *Multiplexer) dispatch(ctx context.Context, call ToolCallDescriptor,
	emit func(datatypes.StreamEvent) error) error {

	output, err := m.dispatcher.Dispatch(ctx, call)
	if metrics := observability.DefaultMetrics; metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		metrics.ToolDispatchesTotal.WithLabelValues(call.ToolName, status).Inc()
	}
	if err != nil {
		slog.Warn("Tool dispatch failed", "tool", call.ToolName, "call_id", call.ToolId, "error", err)
		status := http.StatusInternalServerError
		var invErr *InvocationError
		if errors.As(err, &invErr) && invErr.StatusCode != 0 {
			status = invErr.StatusCode
		}
		return emit(datatypes.ErrorEvent(err.Error(), status))
	}

	pair := m.normalizer.ToolCallMessages(call, output)
	m.functionMessages = append(m.functionMessages, pair...)
	return emit(datatypes.ToolInvokedEvent(pair))
}

// StatusFromError extracts the HTTP status of a provider error, falling
// back to 500.
func StatusFromError(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return apiErr.HTTPStatusCode
	}
	return http.StatusInternalServerError
}
