package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/session-enrollment/internal/repository"
)

// PublicHandler serves the unauthenticated browse endpoints.  These are
// plain reads over committed state; occupancy counts are recomputed per
// request and may trail a concurrent enrollment by design.
type PublicHandler struct {
	Sessions    *repository.SessionRepo
	Partitions  *repository.PartitionRepo
	Tables      *repository.TableRepo
	Enrollments *repository.EnrollmentRepo
}

// NewPublicHandler constructs a PublicHandler and panics if any dependency is nil.
func NewPublicHandler(sessions *repository.SessionRepo, partitions *repository.PartitionRepo,
	tables *repository.TableRepo, enrollments *repository.EnrollmentRepo) *PublicHandler {
	if sessions == nil || partitions == nil || tables == nil || enrollments == nil {
		panic("nil dependency passed to NewPublicHandler")
	}
	return &PublicHandler{Sessions: sessions, Partitions: partitions, Tables: tables, Enrollments: enrollments}
}

// browseTable is a table in a browse response with the derived seat
// numbers a client needs to render availability.
type browseTable struct {
	repository.TableOccupancy
	EffectiveCapacity int `json:"effective_capacity"`
	SeatsLeft         int `json:"seats_left"`
}

func toBrowseTables(in []repository.TableOccupancy) []browseTable {
	out := make([]browseTable, 0, len(in))
	for _, t := range in {
		eff := t.EffectiveCapacity()
		left := eff - t.Confirmed
		if left < 0 {
			left = 0
		}
		out = append(out, browseTable{TableOccupancy: t, EffectiveCapacity: eff, SeatsLeft: left})
	}
	return out
}

// CurrentSession returns the open session with its partitions and
// tables, including per-table occupancy.  404 when no session is open.
func (h *PublicHandler) CurrentSession(c echo.Context) error {
	ctx := c.Request().Context()
	s, err := h.Sessions.GetOpen(ctx)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "no open session"})
		}
		return writeEngineError(c, err)
	}
	parts, err := h.Partitions.ListBySession(ctx, s.ID)
	if err != nil {
		return writeEngineError(c, err)
	}
	tables, err := h.Tables.ListBySession(ctx, s.ID)
	if err != nil {
		return writeEngineError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"session":    s,
		"partitions": parts,
		"tables":     toBrowseTables(tables),
	})
}

// SessionTables lists a session's tables with occupancy, for browsing
// past sessions as well as the current one.
func (h *PublicHandler) SessionTables(c echo.Context) error {
	sid, err := pathID(c, "id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid session id"})
	}
	ctx := c.Request().Context()
	if _, err := h.Sessions.GetByID(ctx, sid); err != nil {
		return writeEngineError(c, err)
	}
	tables, err := h.Tables.ListBySession(ctx, sid)
	if err != nil {
		return writeEngineError(c, err)
	}
	return c.JSON(http.StatusOK, toBrowseTables(tables))
}

// TableRoster returns one table and its confirmed enrollments in
// signup order.
func (h *PublicHandler) TableRoster(c echo.Context) error {
	tid, err := pathID(c, "id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid table id"})
	}
	ctx := c.Request().Context()
	t, err := h.Tables.GetByID(ctx, tid)
	if err != nil {
		return writeEngineError(c, err)
	}
	roster, err := h.Enrollments.ListConfirmedByTable(ctx, tid)
	if err != nil {
		return writeEngineError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"table":              t,
		"effective_capacity": t.EffectiveCapacity(),
		"enrollments":        roster,
	})
}
