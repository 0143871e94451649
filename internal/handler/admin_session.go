package handler

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/session-enrollment/internal/engine"
	"github.com/iliyamo/session-enrollment/internal/repository"
)

// AdminHandler bundles the engine and repositories behind the
// administrative endpoints: session lifecycle, partition maintenance
// and table management.
type AdminHandler struct {
	Engine      *engine.Engine
	Sessions    *repository.SessionRepo
	Partitions  *repository.PartitionRepo
	Tables      *repository.TableRepo
	Enrollments *repository.EnrollmentRepo
}

// NewAdminHandler constructs an AdminHandler and panics if any dependency is nil.
func NewAdminHandler(eng *engine.Engine, sessions *repository.SessionRepo, partitions *repository.PartitionRepo,
	tables *repository.TableRepo, enrollments *repository.EnrollmentRepo) *AdminHandler {
	if eng == nil || sessions == nil || partitions == nil || tables == nil || enrollments == nil {
		panic("nil dependency passed to NewAdminHandler")
	}
	return &AdminHandler{
		Engine:      eng,
		Sessions:    sessions,
		Partitions:  partitions,
		Tables:      tables,
		Enrollments: enrollments,
	}
}

type openSessionReq struct {
	Title string `json:"title"`
}

// OpenSession creates a new OPEN session.  Fails when another session
// is already open or when the previous session still has unmoderated
// enrollments.
func (h *AdminHandler) OpenSession(c echo.Context) error {
	var req openSessionReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "title required"})
	}
	uid, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}

	s, err := h.Engine.OpenSession(c.Request().Context(), uid, req.Title)
	if err != nil {
		return writeEngineError(c, err)
	}
	return c.JSON(http.StatusCreated, s)
}

// CloseSession closes a session and force-closes all of its open
// tables.  The response reports how many tables were cascaded.
func (h *AdminHandler) CloseSession(c echo.Context) error {
	sid, err := pathID(c, "id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid session id"})
	}
	uid, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}

	events, err := h.Engine.CloseSession(c.Request().Context(), sid, uid)
	if err != nil {
		return writeEngineError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"session_id":    sid,
		"status":        "CLOSED",
		"tables_closed": len(events),
	})
}

// GetSession returns one session by ID with its partitions.
func (h *AdminHandler) GetSession(c echo.Context) error {
	sid, err := pathID(c, "id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid session id"})
	}
	ctx := c.Request().Context()
	s, err := h.Sessions.GetByID(ctx, sid)
	if err != nil {
		return writeEngineError(c, err)
	}
	parts, err := h.Partitions.ListBySession(ctx, sid)
	if err != nil {
		return writeEngineError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"session": s, "partitions": parts})
}
