package handler // handler defines http handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/session-enrollment/internal/engine"
	"github.com/iliyamo/session-enrollment/internal/repository"
)

// getUserID extracts the user_id from echo.Context and converts it to
// uint64.  JWT numeric claims decode as float64, so that case matters
// most in practice.
func getUserID(c echo.Context) (uint64, error) {
	v := c.Get("user_id")
	switch t := v.(type) {
	case uint64:
		return t, nil
	case int:
		return uint64(t), nil
	case int64:
		return uint64(t), nil
	case float64:
		return uint64(t), nil
	case string:
		if n, err := strconv.ParseUint(t, 10, 64); err == nil {
			return n, nil
		}
	}
	return 0, errors.New("invalid user_id in context")
}

// pathID parses a numeric path parameter.
func pathID(c echo.Context, name string) (uint64, error) {
	return strconv.ParseUint(c.Param(name), 10, 64)
}

// writeEngineError translates the engine's and repositories' sentinel
// errors into HTTP responses.  Anything unclassified is a 500 with a
// generic message so storage details never leak to clients.
func writeEngineError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, repository.ErrSessionNotFound),
		errors.Is(err, repository.ErrPartitionNotFound),
		errors.Is(err, repository.ErrTableNotFound),
		errors.Is(err, repository.ErrEnrollmentNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": err.Error()})
	case errors.Is(err, engine.ErrSessionAlreadyOpen),
		errors.Is(err, engine.ErrPriorSessionUnmoderated),
		errors.Is(err, engine.ErrSessionNotOpen),
		errors.Is(err, engine.ErrTableFull),
		errors.Is(err, engine.ErrTableClosed),
		errors.Is(err, engine.ErrTableNotYetOpen),
		errors.Is(err, engine.ErrDuplicatePartitionVote),
		errors.Is(err, engine.ErrManagerCannotEnroll),
		errors.Is(err, engine.ErrManagerEnrolled),
		errors.Is(err, engine.ErrDuplicateTitle),
		errors.Is(err, engine.ErrPartitionHasTables),
		errors.Is(err, repository.ErrConflict):
		return c.JSON(http.StatusConflict, echo.Map{"error": err.Error()})
	case errors.Is(err, engine.ErrTxFailed):
		// Contention outlasted the bounded retries; the client may
		// simply try again.
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "temporarily overloaded, retry"})
	default:
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}
}
