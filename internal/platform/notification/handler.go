package notification

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/carebridge/carebridge/internal/platform/apperr"
	"github.com/carebridge/carebridge/internal/platform/auth"
	"github.com/carebridge/carebridge/pkg/pagination"
)

// Handler exposes the caller's own inbox.
type Handler struct {
	inbox Inbox
}

func NewHandler(inbox Inbox) *Handler {
	return &Handler{inbox: inbox}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/notifications", h.List)
	api.POST("/notifications/:id/read", h.MarkRead)
}

// List handles GET /notifications?unread=true&limit=&offset=.
func (h *Handler) List(c echo.Context) error {
	actor, err := auth.MustActor(c)
	if err != nil {
		return err
	}
	unread, _ := strconv.ParseBool(c.QueryParam("unread"))
	p := pagination.FromContext(c)

	items, total, err := h.inbox.ListFor(c.Request().Context(), actor, unread, p)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewPage(items, total, p))
}

// MarkRead handles POST /notifications/:id/read.
func (h *Handler) MarkRead(c echo.Context) error {
	actor, err := auth.MustActor(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	n, err := h.inbox.MarkRead(c.Request().Context(), id, actor)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, n)
}
