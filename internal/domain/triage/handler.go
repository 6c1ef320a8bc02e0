package triage

import (
	"context"
	"net/http"

	"github.com/google/uuid"
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

func (h *Handler) RegisterRoutes(api *echo.Group) {
	patient := auth.RequireRole(auth.RolePatient)
	psychologist := auth.RequireRole(auth.RolePsychologist)
	admin := auth.RequireRole(auth.RoleAdmin)
	staff := auth.RequireRole(auth.RolePsychologist, auth.RoleAdmin)
	patientOrAdmin := auth.RequireRole(auth.RolePatient, auth.RoleAdmin)

	api.POST("/patients", h.RegisterPatient, admin)
	api.GET("/patients/waiting-list", h.WaitingList, staff)
	api.GET("/patients/:id", h.GetPatient, staff)
	api.GET("/patients/:id/questionnaires", h.ListPatientQuestionnaires, staff)
	api.POST("/patients/:id/badges/evaluate", h.EvaluateBadges, patientOrAdmin)
	api.GET("/patients/:id/badges", h.ListBadges)

	api.POST("/questionnaires", h.Submit, patient)
	api.GET("/questionnaires/:id", h.GetQuestionnaire)
	api.POST("/questionnaires/:id/review", h.Review, psychologist)
	api.DELETE("/questionnaires/:id/review", h.CancelReview, admin)
	api.POST("/questionnaires/:id/invalidation", h.RequestInvalidation, psychologist)
	api.POST("/questionnaires/:id/invalidation/accept", h.AcceptInvalidation, admin)
	api.POST("/questionnaires/:id/invalidation/reject", h.RejectInvalidation, admin)
	api.GET("/invalidations/pending", h.ListPendingInvalidations, admin)

	api.GET("/alerts", h.ListOpenAlerts, psychologist)
	api.POST("/alerts/:id/accept", h.AcceptAlert, psychologist)

	api.GET("/typologies", h.Catalog)
}

func paramID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

// ownPatientOnly lets patients act only on their own record. Staff pass.
func ownPatientOnly(a auth.Actor, patientID uuid.UUID) error {
	if a.Role == auth.RolePatient && a.ID != patientID {
		return echo.NewHTTPError(http.StatusForbidden, "patients may only access their own record")
	}
	return nil
}

// -- Patients --

func (h *Handler) RegisterPatient(c echo.Context) error {
	var req RegisterPatientRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	p, err := h.svc.RegisterPatient(c.Request().Context(), req)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) WaitingList(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.WaitingList(c.Request().Context(), pg)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewPage(items, total, pg))
}

func (h *Handler) GetPatient(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	p, err := h.svc.GetPatient(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ListPatientQuestionnaires(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListPatientQuestionnaires(c.Request().Context(), id, pg)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewPage(items, total, pg))
}

// -- Questionnaires --

// Submit files answers for the calling patient.
func (h *Handler) Submit(c echo.Context) error {
	actor, err := auth.MustActor(c)
	if err != nil {
		return err
	}
	var req SubmitRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	res, err := h.svc.Submit(c.Request().Context(), actor.ID, req)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusCreated, res)
}

type questionnaireView struct {
	*Questionnaire
	State State `json:"state"`
}

func (h *Handler) GetQuestionnaire(c echo.Context) error {
	actor, err := auth.MustActor(c)
	if err != nil {
		return err
	}
	id, err := paramID(c)
	if err != nil {
		return err
	}
	q, err := h.svc.GetQuestionnaire(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTP(err)
	}
	// Another patient's questionnaire is reported as missing.
	if actor.Role == auth.RolePatient && q.PatientID != actor.ID {
		return apperr.HTTP(apperr.NotFound("questionnaire", id))
	}
	return c.JSON(http.StatusOK, questionnaireView{Questionnaire: q, State: q.State()})
}

// transition binds the questionnaire id and the acting user, runs fn and
// renders the updated questionnaire.
func (h *Handler) transition(c echo.Context, fn func(ctx context.Context, id, actorID uuid.UUID) (*Questionnaire, error)) error {
	actor, err := auth.MustActor(c)
	if err != nil {
		return err
	}
	id, err := paramID(c)
	if err != nil {
		return err
	}
	q, err := fn(c.Request().Context(), id, actor.ID)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, questionnaireView{Questionnaire: q, State: q.State()})
}

func (h *Handler) Review(c echo.Context) error {
	return h.transition(c, h.svc.Review)
}

func (h *Handler) CancelReview(c echo.Context) error {
	return h.transition(c, h.svc.CancelReview)
}

type invalidationRequest struct {
	Notes string `json:"notes"`
}

func (h *Handler) RequestInvalidation(c echo.Context) error {
	var req invalidationRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	return h.transition(c, func(ctx context.Context, id, actorID uuid.UUID) (*Questionnaire, error) {
		return h.svc.RequestInvalidation(ctx, id, actorID, req.Notes)
	})
}

func (h *Handler) AcceptInvalidation(c echo.Context) error {
	return h.transition(c, h.svc.AcceptInvalidation)
}

func (h *Handler) RejectInvalidation(c echo.Context) error {
	return h.transition(c, h.svc.RejectInvalidation)
}

func (h *Handler) ListPendingInvalidations(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListPendingInvalidations(c.Request().Context(), pg)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewPage(items, total, pg))
}

// -- Alerts --

func (h *Handler) ListOpenAlerts(c echo.Context) error {
	alerts, err := h.svc.ListOpenAlerts(c.Request().Context())
	if err != nil {
		return apperr.HTTP(err)
	}
	if alerts == nil {
		alerts = []*ClinicalAlert{}
	}
	return c.JSON(http.StatusOK, alerts)
}

func (h *Handler) AcceptAlert(c echo.Context) error {
	actor, err := auth.MustActor(c)
	if err != nil {
		return err
	}
	id, err := paramID(c)
	if err != nil {
		return err
	}
	a, err := h.svc.AcceptAlert(c.Request().Context(), id, actor.ID)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, a)
}

// -- Badges & catalog --

func (h *Handler) EvaluateBadges(c echo.Context) error {
	actor, err := auth.MustActor(c)
	if err != nil {
		return err
	}
	id, err := paramID(c)
	if err != nil {
		return err
	}
	if err := ownPatientOnly(actor, id); err != nil {
		return err
	}
	awarded, err := h.svc.EvaluateBadges(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, map[string][]string{"new_badges": awarded})
}

func (h *Handler) ListBadges(c echo.Context) error {
	actor, err := auth.MustActor(c)
	if err != nil {
		return err
	}
	id, err := paramID(c)
	if err != nil {
		return err
	}
	if err := ownPatientOnly(actor, id); err != nil {
		return err
	}
	records, err := h.svc.ListBadges(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTP(err)
	}
	if records == nil {
		records = []AcquisitionRecord{}
	}
	return c.JSON(http.StatusOK, records)
}

func (h *Handler) Catalog(c echo.Context) error {
	return c.JSON(http.StatusOK, h.svc.Catalog())
}
