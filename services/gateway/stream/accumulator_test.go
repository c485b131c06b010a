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
	"testing"

	"github.com/AleutianAI/chatgate/services/gateway/datatypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccumulator_SingleCallRoundTrip(t *testing.T) {
	acc := NewAccumulator()

	fragments := []datatypes.ToolCallFragment{
		{CallId: "call_1", FunctionName: "get_weather", ArgumentsDelta: `{"loc`},
		{ArgumentsDelta: `ation": "Se`},
		{ArgumentsDelta: `attle"}`},
	}

	for _, frag := range fragments {
		flushed, err := acc.Observe(frag)
		require.NoError(t, err)
		assert.Nil(t, flushed)
	}

	final := acc.Finalize()
	require.NotNil(t, final)
	assert.Equal(t, "call_1", final.ToolId)
	assert.Equal(t, "get_weather", final.ToolName)
	// Concatenating all deltas in arrival order must equal the
	// finalized arguments, regardless of fragmentation.
	assert.Equal(t, `{"location": "Seattle"}`, final.ToolArguments)
}

func TestAccumulator_NewCallFlushesOpenCall(t *testing.T) {
	acc := NewAccumulator()

	_, err := acc.Observe(datatypes.ToolCallFragment{
		CallId: "call_a", FunctionName: "alpha", ArgumentsDelta: `{"a":`,
	})
	require.NoError(t, err)
	_, err = acc.Observe(datatypes.ToolCallFragment{ArgumentsDelta: `1}`})
	require.NoError(t, err)

	// Starting call B flushes A with exactly the arguments accumulated
	// before B started; B's own delta seeds B's buffer.
	flushed, err := acc.Observe(datatypes.ToolCallFragment{
		CallId: "call_b", FunctionName: "beta", ArgumentsDelta: `{"b":`,
	})
	require.NoError(t, err)
	require.NotNil(t, flushed)
	assert.Equal(t, "call_a", flushed.ToolId)
	assert.Equal(t, "alpha", flushed.ToolName)
	assert.Equal(t, `{"a":1}`, flushed.ToolArguments)

	_, err = acc.Observe(datatypes.ToolCallFragment{ArgumentsDelta: `2}`})
	require.NoError(t, err)

	final := acc.Finalize()
	require.NotNil(t, final)
	assert.Equal(t, "call_b", final.ToolId)
	assert.Equal(t, "beta", final.ToolName)
	assert.Equal(t, `{"b":2}`, final.ToolArguments)

	assert.Len(t, acc.FinalizedCalls(), 2)
}

func TestAccumulator_ZeroArgumentFragments(t *testing.T) {
	acc := NewAccumulator()

	_, err := acc.Observe(datatypes.ToolCallFragment{
		CallId: "call_1", FunctionName: "noop",
	})
	require.NoError(t, err)

	final := acc.Finalize()
	require.NotNil(t, final)
	assert.Equal(t, "", final.ToolArguments)
}

func TestAccumulator_NameSplitFromCallId(t *testing.T) {
	acc := NewAccumulator()

	// Upstream may announce the function name in a fragment before the
	// one carrying the call id.
	_, err := acc.Observe(datatypes.ToolCallFragment{FunctionName: "lookup"})
	require.NoError(t, err)
	_, err = acc.Observe(datatypes.ToolCallFragment{CallId: "call_1", ArgumentsDelta: `{}`})
	require.NoError(t, err)

	final := acc.Finalize()
	require.NotNil(t, final)
	assert.Equal(t, "lookup", final.ToolName)
	assert.Equal(t, `{}`, final.ToolArguments)
}

// Argument deltas that arrive before any call id are tolerated, not an
// error, and belong to the first call announced afterwards: upstream may
// start streaming arguments a chunk ahead of the call id.
func TestAccumulator_EarlyFragmentsSeedFirstCall(t *testing.T) {
	acc := NewAccumulator()

	flushed, err := acc.Observe(datatypes.ToolCallFragment{ArgumentsDelta: `{"q":`})
	require.NoError(t, err)
	assert.Nil(t, flushed)
	assert.Equal(t, PhaseStreaming, acc.Phase())

	_, err = acc.Observe(datatypes.ToolCallFragment{
		CallId: "call_1", FunctionName: "lookup",
	})
	require.NoError(t, err)
	_, err = acc.Observe(datatypes.ToolCallFragment{ArgumentsDelta: `1}`})
	require.NoError(t, err)

	final := acc.Finalize()
	require.NotNil(t, final)
	assert.Equal(t, "call_1", final.ToolId)
	assert.Equal(t, `{"q":1}`, final.ToolArguments)
}

// A second call never inherits the early deltas; they are consumed by
// the first.
func TestAccumulator_EarlyFragmentsDoNotLeakPastFirstCall(t *testing.T) {
	acc := NewAccumulator()

	_, err := acc.Observe(datatypes.ToolCallFragment{ArgumentsDelta: `{"a":1}`})
	require.NoError(t, err)
	_, err = acc.Observe(datatypes.ToolCallFragment{CallId: "call_a", FunctionName: "alpha"})
	require.NoError(t, err)

	flushed, err := acc.Observe(datatypes.ToolCallFragment{
		CallId: "call_b", FunctionName: "beta", ArgumentsDelta: `{"b":2}`,
	})
	require.NoError(t, err)
	require.NotNil(t, flushed)
	assert.Equal(t, `{"a":1}`, flushed.ToolArguments)

	final := acc.Finalize()
	require.NotNil(t, final)
	assert.Equal(t, `{"b":2}`, final.ToolArguments)
}

func TestAccumulator_CompletedIsTerminal(t *testing.T) {
	acc := NewAccumulator()

	_, err := acc.Observe(datatypes.ToolCallFragment{CallId: "call_1", FunctionName: "f"})
	require.NoError(t, err)
	acc.Finalize()
	assert.Equal(t, PhaseCompleted, acc.Phase())

	_, err = acc.Observe(datatypes.ToolCallFragment{ArgumentsDelta: "late"})
	assert.ErrorIs(t, err, ErrAccumulatorCompleted)
}

func TestAccumulator_PhaseTransitions(t *testing.T) {
	acc := NewAccumulator()
	assert.Equal(t, PhaseInitial, acc.Phase())

	_, err := acc.Observe(datatypes.ToolCallFragment{CallId: "call_1"})
	require.NoError(t, err)
	assert.Equal(t, PhaseStreaming, acc.Phase())

	acc.Finalize()
	assert.Equal(t, PhaseCompleted, acc.Phase())
}

func TestAccumulator_FinalizeWithoutOpenCall(t *testing.T) {
	acc := NewAccumulator()
	assert.Nil(t, acc.Finalize())
	assert.Empty(t, acc.FinalizedCalls())
}
