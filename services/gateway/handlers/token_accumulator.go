// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/awnumar/memguard"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// SecureBufferSize is the accumulation capacity per response.
	//
	// Capacity:
	//   - 512 KB = 524,288 bytes
	//   - ~131,000 tokens (at 4 bytes/token average)
	//
	// System must be configured with adequate mlock limits.
	SecureBufferSize = 512 * 1024

	// InsecureMemoryEnv opts into the plain-memory fallback on systems
	// without sufficient mlock limits.
	InsecureMemoryEnv = "CHATGATE_INSECURE_MEMORY"
)

// =============================================================================
// Interface
// =============================================================================

// TokenAccumulator collects streamed response text for buffered delivery
// and history persistence.
//
// # Security
//
// The secure implementation keeps accumulated model output in mlocked,
// guard-paged memory (memguard) so a full response never sits in
// swappable heap while the stream is in flight. Finalize releases one
// plain copy to the caller and wipes the buffer.
//
// # Thread Safety
//
// Implementations are safe for concurrent use.
type TokenAccumulator interface {
	// Write appends a token to the accumulator.
	Write(token string) error

	// Finalize returns the accumulated text and destroys the buffer.
	// The accumulator cannot be reused afterwards.
	Finalize() (string, error)

	// Destroy wipes the buffer without reading it. Idempotent.
	Destroy()
}

// =============================================================================
// Secure Implementation
// =============================================================================

type secureTokenAccumulator struct {
	mu        sync.Mutex
	buffer    *memguard.LockedBuffer
	offset    int
	overflow  bool
	destroyed bool
}

// NewTokenAccumulator allocates an accumulator for one response.
//
// Prefers mlocked memory; falls back to plain memory only when
// CHATGATE_INSECURE_MEMORY=true is set and allocation failed.
func NewTokenAccumulator() (TokenAccumulator, error) {
	buf := memguard.NewBuffer(SecureBufferSize)
	if buf != nil {
		buf.Melt()
		return &secureTokenAccumulator{buffer: buf}, nil
	}

	if strings.EqualFold(os.Getenv(InsecureMemoryEnv), "true") {
		slog.Warn("Secure buffer allocation failed, using plain memory",
			"env", InsecureMemoryEnv)
		return &insecureTokenAccumulator{}, nil
	}
	return nil, fmt.Errorf(
		"failed to allocate secure buffer of %d bytes; configure mlock limits or set %s=true",
		SecureBufferSize, InsecureMemoryEnv)
}

func (a *secureTokenAccumulator) Write(token string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return fmt.Errorf("accumulator already finalized")
	}
	if a.offset+len(token) > SecureBufferSize {
		a.overflow = true
		return fmt.Errorf("response exceeds %d byte accumulation capacity", SecureBufferSize)
	}
	copy(a.buffer.Bytes()[a.offset:], token)
	a.offset += len(token)
	return nil
}

func (a *secureTokenAccumulator) Finalize() (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return "", fmt.Errorf("accumulator already finalized")
	}
	if a.overflow {
		return "", fmt.Errorf("accumulator overflowed; content truncated")
	}
	out := string(a.buffer.Bytes()[:a.offset])
	a.buffer.Destroy()
	a.destroyed = true
	return out, nil
}

func (a *secureTokenAccumulator) Destroy() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.destroyed {
		a.buffer.Destroy()
		a.destroyed = true
	}
}

// =============================================================================
// Insecure Fallback
// =============================================================================

// insecureTokenAccumulator uses standard Go memory. Data may be swapped
// to disk; only used when explicitly opted into.
type insecureTokenAccumulator struct {
	mu        sync.Mutex
	data      []byte
	destroyed bool
}

func (a *insecureTokenAccumulator) Write(token string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return fmt.Errorf("accumulator already finalized")
	}
	if len(a.data)+len(token) > SecureBufferSize {
		return fmt.Errorf("response exceeds %d byte accumulation capacity", SecureBufferSize)
	}
	a.data = append(a.data, token...)
	return nil
}

func (a *insecureTokenAccumulator) Finalize() (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return "", fmt.Errorf("accumulator already finalized")
	}
	out := string(a.data)
	a.data = nil
	a.destroyed = true
	return out, nil
}

func (a *insecureTokenAccumulator) Destroy() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.data = nil
	a.destroyed = true
}

// PurgeAllSecureMemory wipes all memguard-allocated memory. Called
// during graceful shutdown.
func PurgeAllSecureMemory() {
	memguard.Purge()
	slog.Info("Purged all secure memory")
}
