package router // router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/session-enrollment/internal/handler"    // admin handlers
	"github.com/iliyamo/session-enrollment/internal/middleware" // JWT + role middlewares
)

// RegisterAdmin registers ADMIN-scoped endpoints under /v1.
// All routes require a valid JWT and ADMIN role.
func RegisterAdmin(e *echo.Echo, a *handler.AdminHandler, jwtSecret string) {
	// Attach middlewares at group construction time for clarity.
	g := e.Group(
		"/v1",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole("ADMIN"),
	)

	// ---- Sessions ----
	g.POST("/sessions", a.OpenSession)
	g.POST("/sessions/:id/close", a.CloseSession)
	g.GET("/sessions/:id", a.GetSession)

	// ---- Partitions ----
	g.POST("/sessions/:id/partitions", a.CreatePartition)
	g.GET("/sessions/:id/partitions", a.ListPartitions)
	g.PUT("/partitions/:id", a.UpdatePartition)
	g.PATCH("/partitions/:id", a.UpdatePartition) // allow partial updates via PATCH as well
	g.PUT("/partitions/:id/position", a.ReorderPartition)
	g.DELETE("/partitions/:id", a.DeletePartition)

	// ---- Tables ----
	g.POST("/tables", a.CreateTable)
	g.PUT("/tables/:id", a.UpdateTable)
	g.PATCH("/tables/:id", a.UpdateTable)
	g.POST("/tables/:id/open", a.OpenTable)
	g.POST("/tables/:id/close", a.CloseTable)
	g.DELETE("/tables/:id", a.DeleteTable)
	g.GET("/sessions/:id/all-tables", a.ListTables)
}
