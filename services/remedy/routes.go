// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package remedy

import (
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers all Remedy routes with the router.
//
// Description:
//
//	Registers all /v1/remedy/* endpoints with the given Gin router
//	group. The router group should already have any required middleware
//	applied.
//
// Endpoints:
//
//	POST /v1/remedy/context - Resolve a failing unit to a context payload
//	POST /v1/remedy/search - Semantic search (free text or endpoint)
//	POST /v1/remedy/index - Build or rebuild the semantic index
//	POST /v1/remedy/patch - Apply one unit replacement
//	POST /v1/remedy/patch/file - Validate and write a whole file
//	POST /v1/remedy/validate - Standalone file validation
//	GET  /v1/remedy/health - Health check
//
// Example:
//
//	service, _ := remedy.NewService(cfg)
//	handlers := remedy.NewHandlers(service)
//
//	v1 := router.Group("/v1")
//	remedy.RegisterRoutes(v1, handlers)
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	remedy := rg.Group("/remedy")
	{
		// Context resolution
		remedy.POST("/context", handlers.HandleContext)

		// Semantic layer
		remedy.POST("/search", handlers.HandleSearch)
		remedy.POST("/index", handlers.HandleIndex)

		// Patching
		remedy.POST("/patch", handlers.HandlePatch)
		remedy.POST("/patch/file", handlers.HandlePatchFile)
		remedy.POST("/validate", handlers.HandleValidate)

		// Health
		remedy.GET("/health", handlers.HandleHealth)
	}
}
