package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/session-enrollment/internal/engine"
	"github.com/iliyamo/session-enrollment/internal/model"
)

type createTableReq struct {
	SessionID        uint64     `json:"session_id"`
	PartitionID      *uint64    `json:"partition_id"`
	Title            string     `json:"title"`
	Capacity         uint32     `json:"capacity"`
	ManagerID        uint64     `json:"manager_id"`
	ManagerTakesSeat bool       `json:"manager_takes_seat"`
	OpensAt          *time.Time `json:"opens_at"`
}

// CreateTable adds a table to an open session.  Creation is plain CRUD
// because no enrollment can exist yet; the races that need the engine's
// locking only start once members can see the table.  A table whose
// effective capacity is zero is stored closed from the start and emits
// no closure event.
func (h *AdminHandler) CreateTable(c echo.Context) error {
	var req createTableReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "title required"})
	}
	if req.SessionID == 0 || req.ManagerID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "session_id and manager_id required"})
	}

	ctx := c.Request().Context()
	s, err := h.Sessions.GetByID(ctx, req.SessionID)
	if err != nil {
		return writeEngineError(c, err)
	}
	if s.Status != model.SessionOpen {
		return writeEngineError(c, engine.ErrSessionNotOpen)
	}
	if req.PartitionID != nil {
		p, err := h.Partitions.GetByID(ctx, *req.PartitionID)
		if err != nil {
			return writeEngineError(c, err)
		}
		if p.SessionID != req.SessionID {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "partition belongs to another session"})
		}
	}
	// A user already holding a seat in the session cannot become a
	// manager, mirroring the rule that managers cannot enroll.
	if enrolled, err := h.Enrollments.HasEnrollmentInSession(ctx, req.ManagerID, req.SessionID); err != nil {
		return writeEngineError(c, err)
	} else if enrolled {
		return writeEngineError(c, engine.ErrManagerEnrolled)
	}

	t := &model.Table{
		SessionID:        req.SessionID,
		PartitionID:      req.PartitionID,
		Title:            req.Title,
		Capacity:         req.Capacity,
		ManagerID:        req.ManagerID,
		ManagerTakesSeat: req.ManagerTakesSeat,
	}
	if req.OpensAt != nil {
		v := req.OpensAt.UTC()
		t.OpensAt = &v
	}
	if t.EffectiveCapacity() > 0 {
		t.IsOpen = true
	} else {
		t.IsOpen = false
		now := time.Now().UTC()
		t.ClosedAt = &now
	}
	if err := h.Tables.Create(ctx, t); err != nil {
		return writeEngineError(c, err)
	}
	return c.JSON(http.StatusCreated, t)
}

type updateTableReq struct {
	Title            *string    `json:"title"`
	Capacity         *uint32    `json:"capacity"`
	ManagerID        *uint64    `json:"manager_id"`
	ManagerTakesSeat *bool      `json:"manager_takes_seat"`
	OpensAt          *time.Time `json:"opens_at"`
	ClearOpensAt     bool       `json:"clear_opens_at"`
	PartitionID      *uint64    `json:"partition_id"`
	ClearPartition   bool       `json:"clear_partition"`
}

// UpdateTable patches a table through the engine so capacity, manager
// and partition changes happen under the table's row lock.
func (h *AdminHandler) UpdateTable(c echo.Context) error {
	tid, err := pathID(c, "id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid table id"})
	}
	var req updateTableReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	if req.Title != nil {
		title := strings.TrimSpace(*req.Title)
		if title == "" {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "title cannot be empty"})
		}
		req.Title = &title
	}

	t, err := h.Engine.UpdateTable(c.Request().Context(), tid, engine.TablePatch{
		Title:            req.Title,
		Capacity:         req.Capacity,
		ManagerID:        req.ManagerID,
		ManagerTakesSeat: req.ManagerTakesSeat,
		OpensAt:          req.OpensAt,
		ClearOpensAt:     req.ClearOpensAt,
		PartitionID:      req.PartitionID,
		ClearPartition:   req.ClearPartition,
	})
	if err != nil {
		return writeEngineError(c, err)
	}
	return c.JSON(http.StatusOK, t)
}

// OpenTable reopens a table by administrative request.  Rejected when
// the session is closed or the table is already at capacity.
func (h *AdminHandler) OpenTable(c echo.Context) error {
	tid, err := pathID(c, "id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid table id"})
	}
	if err := h.Engine.ManualOpen(c.Request().Context(), tid); err != nil {
		return writeEngineError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"table_id": tid, "is_open": true})
}

// CloseTable force-closes a table.  Idempotent; an actual transition
// publishes a closure snapshot.
func (h *AdminHandler) CloseTable(c echo.Context) error {
	tid, err := pathID(c, "id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid table id"})
	}
	if err := h.Engine.ManualClose(c.Request().Context(), tid); err != nil {
		return writeEngineError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"table_id": tid, "is_open": false})
}

// DeleteTable removes a table; its enrollments cascade away with it.
func (h *AdminHandler) DeleteTable(c echo.Context) error {
	tid, err := pathID(c, "id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid table id"})
	}
	if err := h.Tables.Delete(c.Request().Context(), tid); err != nil {
		return writeEngineError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// ListTables returns every table of a session with its confirmed
// enrollment count.
func (h *AdminHandler) ListTables(c echo.Context) error {
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
	return c.JSON(http.StatusOK, tables)
}
