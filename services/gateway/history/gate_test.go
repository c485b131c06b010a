// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package history

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGate_AwaitBlocksUntilReady(t *testing.T) {
	gate := NewGate()
	assert.False(t, gate.Ready())

	var wg sync.WaitGroup
	results := make([]error, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = gate.Await(context.Background())
		}(i)
	}

	gate.MarkReady()
	wg.Wait()

	for _, err := range results {
		assert.NoError(t, err)
	}
	assert.True(t, gate.Ready())
}

func TestGate_AwaitHonorsContext(t *testing.T) {
	gate := NewGate()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := gate.Await(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, gate.Ready())
}

func TestGate_MarkReadyIsIdempotent(t *testing.T) {
	gate := NewGate()
	gate.MarkReady()
	gate.MarkReady()

	assert.NoError(t, gate.Await(context.Background()))
}

func TestGate_AwaitAfterReadyReturnsImmediately(t *testing.T) {
	gate := NewGate()
	gate.MarkReady()

	done := make(chan error, 1)
	go func() { done <- gate.Await(context.Background()) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("await did not return on an open gate")
	}
}
