package middleware

// identity.go defines helpers shared across middleware files.  The rate
// limiter and cache need a stable per-user identifier for their keys; this
// pulls it from whatever the auth middleware left in context, falling back
// to "guest" for anonymous traffic.

import (
	"fmt"

	"github.com/labstack/echo/v4"
)

// userID extracts a user identifier from the request context.  It returns
// "guest" when no user is authenticated.
func userID(c echo.Context) string {
	v := c.Get("user_id")
	if v == nil {
		return "guest"
	}
	switch id := v.(type) {
	case string:
		if id != "" {
			return id
		}
	case float64:
		return fmt.Sprintf("%.0f", id)
	case uint64:
		return fmt.Sprintf("%d", id)
	}
	return "guest"
}
