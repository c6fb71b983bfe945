package server

import (
	"github.com/casetrail/backend/internal/server/middleware"
	"github.com/casetrail/backend/internal/server/routes"

	"github.com/labstack/echo/v4"
)

func RegisterRoutes(e *echo.Echo) {
	// Health check route
	e.GET("/health", func(c echo.Context) error {
		return c.String(200, "OK")
	})

	// Websocket clients authenticate via the token query parameter
	e.GET("/ws", routes.CaseEventsHandler, middleware.AuthMiddleware)

	apiRoutes := e.Group("/api", middleware.AuthMiddleware)

	// Case routes
	apiRoutes.GET("/cases", routes.GetCasesHandler)
	apiRoutes.POST("/cases", routes.CreateCaseHandler)
	apiRoutes.GET("/cases/:id", routes.GetCaseHandler)
	apiRoutes.DELETE("/cases/:id", routes.DeleteCaseHandler)

	// Graph routes
	apiRoutes.POST("/cases/:id/chat", routes.ChatCaseHandler)
	apiRoutes.GET("/cases/:id/graph", routes.GetCaseGraphHandler)
	apiRoutes.POST("/cases/:id/clear", routes.ClearCaseGraphHandler)

	// Case file routes
	apiRoutes.POST("/cases/:id/files", routes.AddCaseFilesHandler)
}
