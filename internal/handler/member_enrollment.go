package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/session-enrollment/internal/engine"
	"github.com/iliyamo/session-enrollment/internal/repository"
)

// MemberHandler serves the member-facing enrollment endpoints.
type MemberHandler struct {
	Engine      *engine.Engine
	Enrollments *repository.EnrollmentRepo
}

// NewMemberHandler constructs a MemberHandler and panics if any dependency is nil.
func NewMemberHandler(eng *engine.Engine, enrollments *repository.EnrollmentRepo) *MemberHandler {
	if eng == nil || enrollments == nil {
		panic("nil dependency passed to NewMemberHandler")
	}
	return &MemberHandler{Engine: eng, Enrollments: enrollments}
}

// Enroll claims a seat on a table for the authenticated member.
// Re-enrolling on the same table returns the existing enrollment with
// 200 instead of an error.
func (h *MemberHandler) Enroll(c echo.Context) error {
	tid, err := pathID(c, "id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid table id"})
	}
	uid, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}

	e, err := h.Engine.Enroll(c.Request().Context(), uid, tid)
	if err != nil {
		return writeEngineError(c, err)
	}
	return c.JSON(http.StatusCreated, e)
}

// Withdraw gives up the member's seat on a table.  Not being enrolled
// is not an error; the end state is the same either way.
func (h *MemberHandler) Withdraw(c echo.Context) error {
	tid, err := pathID(c, "id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid table id"})
	}
	uid, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}

	if err := h.Engine.Withdraw(c.Request().Context(), uid, tid); err != nil {
		return writeEngineError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// MyEnrollments lists the member's enrollments with table, partition
// and session context, newest first.
func (h *MemberHandler) MyEnrollments(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	out, err := h.Enrollments.ListByUser(c.Request().Context(), uid)
	if err != nil {
		return writeEngineError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}
