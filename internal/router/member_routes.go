package router

import (
	"github.com/iliyamo/session-enrollment/internal/handler"
	"github.com/iliyamo/session-enrollment/internal/middleware"
	"github.com/labstack/echo/v4"
)

// RegisterMember registers member-scoped endpoints under /v1.  All
// routes require a valid JWT and the MEMBER role.  Members can claim a
// seat on a table, withdraw from it and list their own enrollments;
// browsing open tables is handled by the public routes.
func RegisterMember(e *echo.Echo, h *handler.MemberHandler, jwtSecret string) {
	g := e.Group(
		"/v1",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole("MEMBER"),
	)
	g.POST("/tables/:id/enroll", h.Enroll)
	g.DELETE("/tables/:id/enroll", h.Withdraw)
	g.GET("/my-enrollments", h.MyEnrollments)
}
