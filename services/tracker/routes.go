// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tracker

import (
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers all tracker routes with the router group.
//
// Description:
//
//	Registers all /v1/cells/* endpoints with the given Gin router group.
//	The router group should already have any required middleware applied.
//
// Inputs:
//
//	rg - Gin router group (typically /v1)
//	handlers - The handlers instance
//
// Endpoints:
//
//	POST /v1/cells/update - Apply one optimistic cell update
//	POST /v1/cells/batch - Apply a batch of independent cell updates
//	GET  /v1/cells/ws - Subscribe to the committed-update feed
//	GET  /v1/cells/value/:collection/:entity/:field - Read one cell value
//
// Example:
//
//	handlers := tracker.NewHandlers(guard, coordinator, cells, hub, locks)
//	v1 := router.Group("/v1")
//	tracker.RegisterRoutes(v1, handlers)
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	cells := rg.Group("/cells")
	{
		cells.POST("/update", handlers.HandleUpdateCell)
		cells.POST("/batch", handlers.HandleBatchUpdate)
		if handlers.hub != nil {
			cells.GET("/ws", handlers.hub.Handler())
		}
		cells.GET("/value/:collection/:entity/:field", handlers.HandleReadCell)
	}
}
