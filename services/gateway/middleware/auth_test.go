// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func authProbe(enabled bool) (*gin.Engine, *User, *bool) {
	var captured User
	var found bool

	router := gin.New()
	router.Use(Auth(enabled))
	router.GET("/probe", func(c *gin.Context) {
		captured, found = CurrentUser(c)
		c.Status(http.StatusOK)
	})
	return router, &captured, &found
}

func TestAuth_DisabledInjectsDevUser(t *testing.T) {
	router, user, found := authProbe(false)

	req := httptest.NewRequest(http.MethodGet, "/probe", nil)
	router.ServeHTTP(httptest.NewRecorder(), req)

	require.True(t, *found)
	assert.Equal(t, DevUserId, user.Id)
}

func TestAuth_EnabledReadsProxyHeaders(t *testing.T) {
	router, user, found := authProbe(true)

	req := httptest.NewRequest(http.MethodGet, "/probe", nil)
	req.Header.Set(HeaderPrincipalId, "user-123")
	req.Header.Set(HeaderPrincipalName, "Pat Chen")
	router.ServeHTTP(httptest.NewRecorder(), req)

	require.True(t, *found)
	assert.Equal(t, "user-123", user.Id)
	assert.Equal(t, "Pat Chen", user.Name)
}

func TestAuth_EnabledWithoutHeadersLeavesNoUser(t *testing.T) {
	router, _, found := authProbe(true)

	req := httptest.NewRequest(http.MethodGet, "/probe", nil)
	router.ServeHTTP(httptest.NewRecorder(), req)

	assert.False(t, *found)
}
