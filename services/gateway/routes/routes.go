// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/chatgate/services/gateway/handlers"
)

func SetupRoutes(router *gin.Engine, conversation *handlers.ConversationHandler,
	hist *handlers.HistoryHandler, frontend *handlers.FrontendHandler) {

	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/frontend_settings", frontend.Settings)

	router.POST("/conversation", conversation.Handle)

	// History routes back the persisted-conversation UI flow.
	history := router.Group("/history")
	{
		history.POST("/generate", hist.Generate)
		history.POST("/update", hist.Update)
		history.POST("/message_feedback", hist.MessageFeedback)
		history.POST("/read", hist.Read)
		history.POST("/rename", hist.Rename)
		history.POST("/clear", hist.Clear)
		history.GET("/list", hist.List)
		history.GET("/ensure", hist.Ensure)
		history.DELETE("/delete", hist.Delete)
		history.DELETE("/delete_all", hist.DeleteAll)
	}
}
