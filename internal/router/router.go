package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4" // import the Echo web framework to handle routing

	"github.com/iliyamo/session-enrollment/internal/handler"    // import the handlers that implement business logic
	"github.com/iliyamo/session-enrollment/internal/middleware" // import middleware for JWT authentication and role enforcement
)

// RegisterRoutes registers routes that do not require authentication on
// the provided Echo instance.  Currently it exposes only a health check.
func RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", handler.Health)
}

// RegisterAuth registers all authentication-related routes and applies the
// necessary middleware.  Unauthenticated operations live under /v1/auth,
// while protected endpoints live under /v1.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, jwtSecret string) {
	g := e.Group("/v1/auth")
	g.POST("/register", a.Register)
	g.POST("/login", a.Login)
	// /refresh rotates the refresh token; /refresh-access does not.
	g.POST("/refresh", a.Refresh)
	g.POST("/refresh-access", a.RefreshAccess)
	// Logout does not require JWT middleware: the handler accepts either
	// a bearer token (revoke all sessions) or a refresh_token body
	// (revoke one).
	g.POST("/logout", a.Logout)

	auth := e.Group("/v1")
	auth.Use(middleware.JWTAuth(jwtSecret))
	auth.Use(middleware.RequireRole("ADMIN", "MEMBER"))
	auth.GET("/me", a.Me)

	// Alias so clients can call either /v1/auth/logout or /v1/logout.
	e.POST("/v1/logout", a.Logout)
}

// RegisterPublic registers the unauthenticated browse endpoints.  The
// optional cache middleware is applied here and only here: browse
// responses tolerate a short staleness window, enrollment endpoints do
// not.
func RegisterPublic(e *echo.Echo, p *handler.PublicHandler, cache echo.MiddlewareFunc) {
	g := e.Group("/v1")
	if cache != nil {
		g.Use(cache)
	}
	// Current open session with partitions and tables (incl. occupancy).
	g.GET("/session", p.CurrentSession)
	// Tables of any session, for browsing history.
	g.GET("/sessions/:id/tables", p.SessionTables)
	// One table with its confirmed roster in signup order.
	g.GET("/tables/:id", p.TableRoster)
}
