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
	"net/http"

	"github.com/AleutianAI/chatgate/services/gateway/config"
	"github.com/gin-gonic/gin"
)

// FrontendHandler serves the non-chat surface the UI needs at boot.
type FrontendHandler struct {
	settings *config.Settings
}

func NewFrontendHandler(settings *config.Settings) *FrontendHandler {
	return &FrontendHandler{settings: settings}
}

// Settings implements GET /frontend_settings: the feature flags and
// branding the UI renders with. Never includes secrets.
func (h *FrontendHandler) Settings(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"auth_enabled":     h.settings.AuthEnabled,
		"feedback_enabled": h.settings.FeedbackEnabled,
		"ui": gin.H{
			"title":            h.settings.UITitle,
			"chat_title":       h.settings.UIChatTitle,
			"chat_description": h.settings.UIChatDesc,
			"logo":             h.settings.UILogo,
		},
	})
}

// HealthCheck implements GET /health.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}
