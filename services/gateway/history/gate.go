// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package history persists conversations and messages and gates access
// behind a process-lifecycle readiness signal.
package history

import (
	"context"
	"sync"
)

// Gate is a one-shot readiness signal for the document store.
//
// Handlers that touch history await the gate with the request context so
// no request runs against a half-initialized store. The gate is closed
// exactly once by main after store initialization completes.
type Gate struct {
	ready chan struct{}
	once  sync.Once
}

// NewGate creates an unready gate.
func NewGate() *Gate {
	return &Gate{ready: make(chan struct{})}
}

// MarkReady opens the gate. Safe to call more than once.
func (g *Gate) MarkReady() {
	g.once.Do(func() { close(g.ready) })
}

// Await blocks until the gate opens or ctx is done.
func (g *Gate) Await(ctx context.Context) error {
	select {
	case <-g.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ready reports the gate state without blocking.
func (g *Gate) Ready() bool {
	select {
	case <-g.ready:
		return true
	default:
		return false
	}
}
