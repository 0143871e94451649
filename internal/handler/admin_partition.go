package handler

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

type createPartitionReq struct {
	Title    string `json:"title"`
	Position *uint8 `json:"position"` // omit to append at the end
	IsActive *bool  `json:"is_active"`
}

// CreatePartition adds a partition to a session.  Omitting the position
// appends after the current last one; an explicit position shifts the
// tail up to make room.
func (h *AdminHandler) CreatePartition(c echo.Context) error {
	sid, err := pathID(c, "id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid session id"})
	}
	var req createPartitionReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "title required"})
	}
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}

	p, err := h.Engine.CreatePartition(c.Request().Context(), sid, req.Title, req.Position, active)
	if err != nil {
		return writeEngineError(c, err)
	}
	return c.JSON(http.StatusCreated, p)
}

// ListPartitions returns the partitions of a session in position order.
func (h *AdminHandler) ListPartitions(c echo.Context) error {
	sid, err := pathID(c, "id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid session id"})
	}
	ctx := c.Request().Context()
	if _, err := h.Sessions.GetByID(ctx, sid); err != nil {
		return writeEngineError(c, err)
	}
	parts, err := h.Partitions.ListBySession(ctx, sid)
	if err != nil {
		return writeEngineError(c, err)
	}
	return c.JSON(http.StatusOK, parts)
}

type updatePartitionReq struct {
	Title    *string `json:"title"`
	IsActive *bool   `json:"is_active"`
}

// UpdatePartition changes a partition's title or active flag.  Order
// changes go through ReorderPartition, which runs under lock in the
// engine; title and flag are plain CRUD.
func (h *AdminHandler) UpdatePartition(c echo.Context) error {
	pid, err := pathID(c, "id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid partition id"})
	}
	var req updatePartitionReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}

	ctx := c.Request().Context()
	p, err := h.Partitions.GetByID(ctx, pid)
	if err != nil {
		return writeEngineError(c, err)
	}
	if req.Title != nil {
		title := strings.TrimSpace(*req.Title)
		if title == "" {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "title cannot be empty"})
		}
		if taken, err := h.Partitions.TitleExists(ctx, p.SessionID, title, p.ID); err != nil {
			return writeEngineError(c, err)
		} else if taken {
			return c.JSON(http.StatusConflict, echo.Map{"error": "partition title already used in session"})
		}
		p.Title = title
	}
	if req.IsActive != nil {
		p.IsActive = *req.IsActive
	}
	if err := h.Partitions.Update(ctx, p); err != nil {
		return writeEngineError(c, err)
	}
	return c.JSON(http.StatusOK, p)
}

type reorderPartitionReq struct {
	Position uint8 `json:"position"`
}

// ReorderPartition moves a partition to a new position; siblings shift
// to keep the sequence dense.
func (h *AdminHandler) ReorderPartition(c echo.Context) error {
	pid, err := pathID(c, "id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid partition id"})
	}
	var req reorderPartitionReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}

	p, err := h.Engine.UpdatePartitionOrder(c.Request().Context(), pid, req.Position)
	if err != nil {
		return writeEngineError(c, err)
	}
	return c.JSON(http.StatusOK, p)
}

// DeletePartition removes a partition that no table references and
// compacts the remaining positions.
func (h *AdminHandler) DeletePartition(c echo.Context) error {
	pid, err := pathID(c, "id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid partition id"})
	}
	if err := h.Engine.DeletePartition(c.Request().Context(), pid); err != nil {
		return writeEngineError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
