// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package stream implements the streaming response reassembly engine:
// tool-call accumulation, response normalization, tool dispatch, and the
// multiplexer that drives an upstream chunk stream into canonical events.
package stream

import (
	"errors"
	"strings"

	"github.com/AleutianAI/chatgate/services/gateway/datatypes"
)

// =============================================================================
// Accumulator State Machine
// =============================================================================

// Phase is the lifecycle state of an Accumulator.
type Phase int

const (
	// PhaseInitial means no fragment has been observed yet.
	PhaseInitial Phase = iota
	// PhaseStreaming means at least one fragment has been observed and
	// the accumulator is collecting argument deltas.
	PhaseStreaming
	// PhaseCompleted is terminal. Observing after completion is a
	// protocol violation.
	PhaseCompleted
)

// String returns the phase name for logging.
func (p Phase) String() string {
	switch p {
	case PhaseInitial:
		return "initial"
	case PhaseStreaming:
		return "streaming"
	case PhaseCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// ErrAccumulatorCompleted is returned by Observe after Finalize has been
// called. The accumulator is single-use per upstream response.
var ErrAccumulatorCompleted = errors.New("accumulator already completed")

// ToolCallDescriptor is one fully reassembled tool call, ready for
// dispatch.
type ToolCallDescriptor struct {
	ToolId        string `json:"tool_id"`
	ToolName      string `json:"tool_name"`
	ToolArguments string `json:"tool_arguments"`
}

// Accumulator reassembles incremental tool-call fragments into complete
// ToolCallDescriptors.
//
// # Description
//
// Upstream providers split a tool call across many chunks: the first
// fragment carries the call id and function name, subsequent fragments
// carry only argument string deltas. The accumulator concatenates deltas
// in arrival order until either a fragment announcing a new call id
// arrives (which flushes the open call) or the caller finalizes the
// stream.
//
// A fragment carrying a new call id both flushes the previously open
// call and seeds the new call's argument buffer with its own delta: the
// flushed descriptor contains exactly the arguments accumulated before
// the new call started.
//
// Argument deltas that arrive before any call id has been announced are
// buffered silently and seed the argument buffer of the first call that
// opens; they are never an error.
//
// # Thread Safety
//
// Not thread-safe. An Accumulator is owned by the single goroutine
// driving one upstream response.
type Accumulator struct {
	phase Phase

	// Open call being assembled; open reports whether one exists.
	open     bool
	callId   string
	callName string
	args     strings.Builder

	// pendingName holds a function name observed before its call id;
	// upstream may split name and id across chunks.
	pendingName string

	// Deltas observed before any call id; they seed the buffer of the
	// first call that opens.
	orphanArgs strings.Builder

	// finalized collects flushed calls in completion order.
	finalized []ToolCallDescriptor
}

// NewAccumulator creates an accumulator in the initial phase.
func NewAccumulator() *Accumulator {
	return &Accumulator{phase: PhaseInitial}
}

// Phase returns the current lifecycle phase.
func (a *Accumulator) Phase() Phase {
	return a.phase
}

// Observe folds one fragment into the accumulator.
//
// # Outputs
//
//   - *ToolCallDescriptor: Non-nil when this fragment announced a new
//     call while another was open; the returned descriptor is the
//     flushed previous call.
//   - error: ErrAccumulatorCompleted if Finalize was already called.
func (a *Accumulator) Observe(frag datatypes.ToolCallFragment) (*ToolCallDescriptor, error) {
	if a.phase == PhaseCompleted {
		return nil, ErrAccumulatorCompleted
	}
	a.phase = PhaseStreaming

	if frag.CallId != "" {
		var flushed *ToolCallDescriptor
		if a.open {
			flushed = a.flush()
		}
		name := frag.FunctionName
		if name == "" {
			name = a.pendingName
		}
		a.pendingName = ""
		a.open = true
		a.callId = frag.CallId
		a.callName = name
		a.args.Reset()
		if a.orphanArgs.Len() > 0 {
			a.args.WriteString(a.orphanArgs.String())
			a.orphanArgs.Reset()
		}
		a.args.WriteString(frag.ArgumentsDelta)
		return flushed, nil
	}

	if !a.open {
		// Name and arguments with no announced call. Buffer and move on.
		if frag.FunctionName != "" {
			a.pendingName = frag.FunctionName
		}
		a.orphanArgs.WriteString(frag.ArgumentsDelta)
		return nil, nil
	}

	if frag.FunctionName != "" && a.callName == "" {
		a.callName = frag.FunctionName
	}
	a.args.WriteString(frag.ArgumentsDelta)
	return nil, nil
}

// Finalize flushes the open call, if any, and moves the accumulator to
// the completed phase. Returns nil when no call was open.
func (a *Accumulator) Finalize() *ToolCallDescriptor {
	defer func() { a.phase = PhaseCompleted }()
	if !a.open {
		return nil
	}
	return a.flush()
}

// FinalizedCalls returns every flushed call in completion order.
func (a *Accumulator) FinalizedCalls() []ToolCallDescriptor {
	return a.finalized
}

func (a *Accumulator) flush() *ToolCallDescriptor {
	desc := ToolCallDescriptor{
		ToolId:        a.callId,
		ToolName:      a.callName,
		ToolArguments: a.args.String(),
	}
	a.finalized = append(a.finalized, desc)
	a.open = false
	return &desc
}
