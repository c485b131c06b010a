// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package logging

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetup_StdoutOnly(t *testing.T) {
	logger, closer, err := Setup(Config{Service: "gateway"})
	require.NoError(t, err)
	require.NotNil(t, logger)
	assert.Nil(t, closer)
}

func TestSetup_FileDestination(t *testing.T) {
	dir := t.TempDir()
	logger, closer, err := Setup(Config{
		Level:   slog.LevelDebug,
		LogDir:  dir,
		Service: "gateway",
	})
	require.NoError(t, err)
	require.NotNil(t, closer)
	defer closer.Close()

	logger.Info("stream opened", "conversation_id", "c1")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, strings.HasPrefix(entries[0].Name(), "gateway_"))

	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)

	var record map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &record))
	assert.Equal(t, "stream opened", record["msg"])
	assert.Equal(t, "c1", record["conversation_id"])
	assert.Equal(t, "gateway", record["service"])
}

func TestSetup_LevelFilter(t *testing.T) {
	dir := t.TempDir()
	logger, closer, err := Setup(Config{
		Level:   slog.LevelWarn,
		LogDir:  dir,
		Service: "gateway",
	})
	require.NoError(t, err)
	defer closer.Close()

	logger.Info("filtered out")
	logger.Warn("kept")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)
	assert.NotContains(t, string(data), "filtered out")
	assert.Contains(t, string(data), "kept")
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".chatgate/logs"), expandPath("~/.chatgate/logs"))
	assert.Equal(t, "/var/log/chatgate", expandPath("/var/log/chatgate"))
}
