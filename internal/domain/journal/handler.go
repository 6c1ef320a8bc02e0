package journal

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/carebridge/carebridge/internal/platform/apperr"
	"github.com/carebridge/carebridge/internal/platform/auth"
	"github.com/carebridge/carebridge/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the journal under /journal. Every route acts on the
// calling patient's own journal, except the forum listing which is shared.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/journal", auth.RequireRole(auth.RolePatient))
	g.POST("/mood", h.RecordMood)
	g.GET("/mood", h.ListMoods)
	g.POST("/diary", h.RecordDiary)
	g.GET("/diary", h.ListDiary)
	g.POST("/forum", h.PublishForumPost)
	g.GET("/forum", h.ListForumPosts)
}

func (h *Handler) RecordMood(c echo.Context) error {
	actor, err := auth.MustActor(c)
	if err != nil {
		return err
	}
	var req MoodRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	rec, err := h.svc.RecordMood(c.Request().Context(), actor.ID, req)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusCreated, rec)
}

func (h *Handler) ListMoods(c echo.Context) error {
	actor, err := auth.MustActor(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListMoods(c.Request().Context(), actor.ID, pg)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewPage(items, total, pg))
}

func (h *Handler) RecordDiary(c echo.Context) error {
	actor, err := auth.MustActor(c)
	if err != nil {
		return err
	}
	var req DiaryRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	rec, err := h.svc.RecordDiary(c.Request().Context(), actor.ID, req)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusCreated, rec)
}

func (h *Handler) ListDiary(c echo.Context) error {
	actor, err := auth.MustActor(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListDiary(c.Request().Context(), actor.ID, pg)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewPage(items, total, pg))
}

func (h *Handler) PublishForumPost(c echo.Context) error {
	actor, err := auth.MustActor(c)
	if err != nil {
		return err
	}
	var req ForumRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	rec, err := h.svc.PublishForumPost(c.Request().Context(), actor.ID, req)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusCreated, rec)
}

func (h *Handler) ListForumPosts(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListForumPosts(c.Request().Context(), pg)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewPage(items, total, pg))
}
