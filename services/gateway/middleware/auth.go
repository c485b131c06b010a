// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package middleware provides HTTP middleware for the gateway service.
//
// # Authentication Flow
//
// The gateway sits behind an authenticating reverse proxy that injects
// the caller's identity as request headers. The auth middleware extracts
// those headers and stores a User in the Gin context for downstream
// handlers. Token validation itself belongs to the proxy, not to this
// service.
//
// # Local Development Behavior
//
// With authentication disabled, every request is attributed to a fixed
// development user so the history endpoints stay usable without a proxy.
package middleware

import (
	"github.com/gin-gonic/gin"
)

// Proxy identity headers.
const (
	HeaderPrincipalId   = "X-Ms-Client-Principal-Id"
	HeaderPrincipalName = "X-Ms-Client-Principal-Name"
)

// DevUserId attributes requests when authentication is disabled.
const DevUserId = "00000000-0000-0000-0000-000000000000"

// userKey is the context key for storing the authenticated User.
const userKey = "chatgate_user"

// User is the authenticated caller extracted from proxy headers.
type User struct {
	Id   string
	Name string
}

// CurrentUser retrieves the authenticated user from the Gin context.
// ok is false when the auth middleware did not run or found no identity.
func CurrentUser(c *gin.Context) (User, bool) {
	v, exists := c.Get(userKey)
	if !exists {
		return User{}, false
	}
	user, ok := v.(User)
	if !ok || user.Id == "" {
		return User{}, false
	}
	return user, true
}

// Auth extracts the proxy-authenticated identity into the request
// context. When enabled is false a fixed development user is injected
// instead.
func Auth(enabled bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !enabled {
			c.Set(userKey, User{Id: DevUserId, Name: "Local Development User"})
			c.Next()
			return
		}

		user := User{
			Id:   c.GetHeader(HeaderPrincipalId),
			Name: c.GetHeader(HeaderPrincipalName),
		}
		if user.Id != "" {
			c.Set(userKey, user)
		}
		c.Next()
	}
}
