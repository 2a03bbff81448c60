package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/bodyback/bodyback-backend/internal/domain"
	"github.com/bodyback/bodyback-backend/internal/middleware"
	"github.com/bodyback/bodyback-backend/internal/service"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

// SessionVolumeHandler handles session volume HTTP requests
type SessionVolumeHandler struct {
	volumeService *service.SessionVolumeService
}

// NewSessionVolumeHandler creates a new SessionVolumeHandler
func NewSessionVolumeHandler(volumeService *service.SessionVolumeService) *SessionVolumeHandler {
	return &SessionVolumeHandler{volumeService: volumeService}
}

// CreateSessionVolumeRequest represents the create session volume request body
type CreateSessionVolumeRequest struct {
	TrainerID    *string `json:"trainerId,omitempty"`
	CustomerID   string  `json:"customerId"`
	Year         int     `json:"year"`
	Month        int     `json:"month"`
	SessionCount int     `json:"sessionCount"`
	Plans        *string `json:"plans,omitempty"`
	Notes        *string `json:"notes,omitempty"`
}

// UpdateSessionVolumeRequest represents the update session volume request body
type UpdateSessionVolumeRequest struct {
	SessionCount *int    `json:"sessionCount,omitempty"`
	Plans        *string `json:"plans,omitempty"`
	Notes        *string `json:"notes,omitempty"`
}

// RejectSessionVolumeRequest represents the reject request body
type RejectSessionVolumeRequest struct {
	Reason string `json:"reason"`
}

// SessionVolumeResponse represents a session volume in API responses
type SessionVolumeResponse struct {
	ID              string  `json:"id"`
	TrainerID       string  `json:"trainerId"`
	CustomerID      string  `json:"customerId"`
	Period          string  `json:"period"`
	Year            int     `json:"year"`
	Month           int     `json:"month"`
	Status          string  `json:"status"`
	SessionCount    int     `json:"sessionCount"`
	Plans           *string `json:"plans,omitempty"`
	Notes           *string `json:"notes,omitempty"`
	RejectionReason *string `json:"rejectionReason,omitempty"`
	SubmittedAt     *string `json:"submittedAt,omitempty"`
	ReadAt          *string `json:"readAt,omitempty"`
	ApprovedAt      *string `json:"approvedAt,omitempty"`
	RejectedAt      *string `json:"rejectedAt,omitempty"`
	CreatedAt       string  `json:"createdAt"`
	UpdatedAt       string  `json:"updatedAt"`
	DeletedAt       *string `json:"deletedAt,omitempty"`
}

// SessionVolumeSummaryResponse is the list-view shape
type SessionVolumeSummaryResponse struct {
	ID           string `json:"id"`
	TrainerID    string `json:"trainerId"`
	CustomerID   string `json:"customerId"`
	Period       string `json:"period"`
	SessionCount int    `json:"sessionCount"`
	Status       string `json:"status"`
	HasPlans     bool   `json:"hasPlans"`
	HasNotes     bool   `json:"hasNotes"`
	UpdatedAt    string `json:"updatedAt"`
}

// SessionVolumeListResponse represents a page of session volumes
type SessionVolumeListResponse struct {
	Items  []SessionVolumeSummaryResponse `json:"items"`
	Total  int                            `json:"total"`
	Offset int                            `json:"offset"`
	Limit  int                            `json:"limit"`
}

// CreateVolume handles POST /api/v1/session-volumes
func (h *SessionVolumeHandler) CreateVolume(c echo.Context) error {
	actor, err := middleware.GetActor(c)
	if err != nil {
		return NewUnauthorizedError(c, "Authentication required")
	}

	var req CreateSessionVolumeRequest
	if err := c.Bind(&req); err != nil {
		return NewValidationError(c, "Invalid request body", nil)
	}

	customerID, err := uuid.Parse(req.CustomerID)
	if err != nil {
		return NewValidationError(c, "Validation failed", []ValidationError{
			{Field: "customerId", Message: "Must be a valid UUID"},
		})
	}

	input := service.CreateVolumeInput{
		CustomerID: customerID,
		Year:       req.Year,
		Month:      req.Month,
		VolumePayload: domain.VolumePayload{
			SessionCount: req.SessionCount,
			Plans:        req.Plans,
			Notes:        req.Notes,
		},
	}
	if req.TrainerID != nil {
		trainerID, err := uuid.Parse(*req.TrainerID)
		if err != nil {
			return NewValidationError(c, "Validation failed", []ValidationError{
				{Field: "trainerId", Message: "Must be a valid UUID"},
			})
		}
		input.TrainerID = &trainerID
	}

	volume, err := h.volumeService.Create(c.Request().Context(), actor, input)
	if err != nil {
		return h.fail(c, err, actor, uuid.Nil, "Failed to create session volume")
	}

	log.Info().
		Str("actor_id", actor.ID.String()).
		Str("volume_id", volume.ID.String()).
		Str("period", volume.Period.String()).
		Msg("Session volume created")

	return c.JSON(http.StatusCreated, toSessionVolumeResponse(volume))
}

// ListVolumes handles GET /api/v1/session-volumes
func (h *SessionVolumeHandler) ListVolumes(c echo.Context) error {
	actor, err := middleware.GetActor(c)
	if err != nil {
		return NewUnauthorizedError(c, "Authentication required")
	}

	input, verrs := parseListQuery(c)
	if len(verrs) > 0 {
		return NewValidationError(c, "Invalid query parameters", verrs)
	}

	page, err := h.volumeService.List(c.Request().Context(), actor, input)
	if err != nil {
		return h.fail(c, err, actor, uuid.Nil, "Failed to list session volumes")
	}

	items := make([]SessionVolumeSummaryResponse, len(page.Items))
	for i, item := range page.Items {
		items[i] = toSummaryResponse(item)
	}

	return c.JSON(http.StatusOK, SessionVolumeListResponse{
		Items:  items,
		Total:  page.Total,
		Offset: page.Offset,
		Limit:  page.Limit,
	})
}

// GetVolumeStats handles GET /api/v1/session-volumes/stats
func (h *SessionVolumeHandler) GetVolumeStats(c echo.Context) error {
	actor, err := middleware.GetActor(c)
	if err != nil {
		return NewUnauthorizedError(c, "Authentication required")
	}

	input, verrs := parseListQuery(c)
	if len(verrs) > 0 {
		return NewValidationError(c, "Invalid query parameters", verrs)
	}

	stats, err := h.volumeService.Stats(c.Request().Context(), actor, input)
	if err != nil {
		return h.fail(c, err, actor, uuid.Nil, "Failed to compute session volume stats")
	}

	return c.JSON(http.StatusOK, stats)
}

// GetVolumesByPeriod handles GET /api/v1/session-volumes/period/:year/:month
func (h *SessionVolumeHandler) GetVolumesByPeriod(c echo.Context) error {
	actor, err := middleware.GetActor(c)
	if err != nil {
		return NewUnauthorizedError(c, "Authentication required")
	}

	year, err := strconv.Atoi(c.Param("year"))
	if err != nil {
		return NewValidationError(c, "Invalid year", nil)
	}
	month, err := strconv.Atoi(c.Param("month"))
	if err != nil {
		return NewValidationError(c, "Invalid month", nil)
	}

	volumes, err := h.volumeService.GetByPeriod(c.Request().Context(), actor, year, month)
	if err != nil {
		return h.fail(c, err, actor, uuid.Nil, "Failed to get session volumes for period")
	}

	response := make([]SessionVolumeResponse, len(volumes))
	for i, v := range volumes {
		response[i] = toSessionVolumeResponse(v)
	}

	return c.JSON(http.StatusOK, response)
}

// GetVolume handles GET /api/v1/session-volumes/:id
func (h *SessionVolumeHandler) GetVolume(c echo.Context) error {
	actor, id, ok, err := h.actorAndID(c)
	if !ok {
		return err
	}

	volume, err := h.volumeService.Get(c.Request().Context(), actor, id)
	if err != nil {
		return h.fail(c, err, actor, id, "Failed to get session volume")
	}

	return c.JSON(http.StatusOK, toSessionVolumeResponse(volume))
}

// UpdateVolume handles PUT /api/v1/session-volumes/:id
func (h *SessionVolumeHandler) UpdateVolume(c echo.Context) error {
	actor, id, ok, err := h.actorAndID(c)
	if !ok {
		return err
	}

	var req UpdateSessionVolumeRequest
	if err := c.Bind(&req); err != nil {
		return NewValidationError(c, "Invalid request body", nil)
	}

	volume, err := h.volumeService.Update(c.Request().Context(), actor, id, service.UpdateVolumeInput{
		SessionCount: req.SessionCount,
		Plans:        req.Plans,
		Notes:        req.Notes,
	})
	if err != nil {
		return h.fail(c, err, actor, id, "Failed to update session volume")
	}

	log.Info().Str("actor_id", actor.ID.String()).Str("volume_id", id.String()).Msg("Session volume updated")

	return c.JSON(http.StatusOK, toSessionVolumeResponse(volume))
}

// DeleteVolume handles DELETE /api/v1/session-volumes/:id
func (h *SessionVolumeHandler) DeleteVolume(c echo.Context) error {
	actor, id, ok, err := h.actorAndID(c)
	if !ok {
		return err
	}

	if err := h.volumeService.Delete(c.Request().Context(), actor, id); err != nil {
		return h.fail(c, err, actor, id, "Failed to delete session volume")
	}

	log.Info().Str("actor_id", actor.ID.String()).Str("volume_id", id.String()).Msg("Session volume deleted")

	return c.NoContent(http.StatusNoContent)
}

// SubmitVolume handles POST /api/v1/session-volumes/:id/submit
func (h *SessionVolumeHandler) SubmitVolume(c echo.Context) error {
	return h.transition(c, "submit", h.volumeService.Submit)
}

// MarkVolumeRead handles POST /api/v1/session-volumes/:id/read
func (h *SessionVolumeHandler) MarkVolumeRead(c echo.Context) error {
	return h.transition(c, "read", h.volumeService.MarkRead)
}

// ApproveVolume handles POST /api/v1/session-volumes/:id/approve
func (h *SessionVolumeHandler) ApproveVolume(c echo.Context) error {
	return h.transition(c, "approve", h.volumeService.Approve)
}

// ReopenVolume handles POST /api/v1/session-volumes/:id/reopen
func (h *SessionVolumeHandler) ReopenVolume(c echo.Context) error {
	return h.transition(c, "reopen", h.volumeService.Reopen)
}

// RestoreVolume handles POST /api/v1/session-volumes/:id/restore
func (h *SessionVolumeHandler) RestoreVolume(c echo.Context) error {
	return h.transition(c, "restore", h.volumeService.Restore)
}

// RejectVolume handles POST /api/v1/session-volumes/:id/reject
func (h *SessionVolumeHandler) RejectVolume(c echo.Context) error {
	actor, id, ok, err := h.actorAndID(c)
	if !ok {
		return err
	}

	var req RejectSessionVolumeRequest
	if err := c.Bind(&req); err != nil {
		return NewValidationError(c, "Invalid request body", nil)
	}

	volume, err := h.volumeService.Reject(c.Request().Context(), actor, id, req.Reason)
	if err != nil {
		return h.fail(c, err, actor, id, "Failed to reject session volume")
	}

	log.Info().
		Str("actor_id", actor.ID.String()).
		Str("volume_id", id.String()).
		Str("status", string(volume.Status)).
		Msg("Session volume rejected")

	return c.JSON(http.StatusOK, toSessionVolumeResponse(volume))
}

type volumeAction func(ctx context.Context, actor domain.Actor, id uuid.UUID) (*domain.SessionVolume, error)

func (h *SessionVolumeHandler) transition(c echo.Context, name string, action volumeAction) error {
	actor, id, ok, err := h.actorAndID(c)
	if !ok {
		return err
	}

	volume, err := action(c.Request().Context(), actor, id)
	if err != nil {
		return h.fail(c, err, actor, id, "Failed to "+name+" session volume")
	}

	log.Info().
		Str("actor_id", actor.ID.String()).
		Str("volume_id", id.String()).
		Str("action", name).
		Str("status", string(volume.Status)).
		Msg("Session volume transitioned")

	return c.JSON(http.StatusOK, toSessionVolumeResponse(volume))
}

// actorAndID resolves the caller and the :id path parameter. When ok is
// false a problem response has been written and err is the write result.
func (h *SessionVolumeHandler) actorAndID(c echo.Context) (actor domain.Actor, id uuid.UUID, ok bool, err error) {
	actor, err = middleware.GetActor(c)
	if err != nil {
		return domain.Actor{}, uuid.Nil, false, NewUnauthorizedError(c, "Authentication required")
	}
	id, err = uuid.Parse(c.Param("id"))
	if err != nil {
		return domain.Actor{}, uuid.Nil, false, NewValidationError(c, "Invalid session volume ID", nil)
	}
	return actor, id, true, nil
}

func (h *SessionVolumeHandler) fail(c echo.Context, err error, actor domain.Actor, id uuid.UUID, msg string) error {
	if handled, resp := writeDomainError(c, err); handled {
		return resp
	}
	ev := log.Error().Err(err).Str("actor_id", actor.ID.String())
	if id != uuid.Nil {
		ev = ev.Str("volume_id", id.String())
	}
	ev.Msg(msg)
	return NewInternalError(c, msg)
}

func parseListQuery(c echo.Context) (service.ListVolumesInput, []ValidationError) {
	var input service.ListVolumesInput
	var verrs []ValidationError

	parseID := func(field string) *uuid.UUID {
		raw := c.QueryParam(field)
		if raw == "" {
			return nil
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			verrs = append(verrs, ValidationError{Field: field, Message: "Must be a valid UUID"})
			return nil
		}
		return &id
	}
	parsePeriod := func(field string) *domain.PeriodKey {
		raw := c.QueryParam(field)
		if raw == "" {
			return nil
		}
		p, err := domain.ParsePeriodKey(raw)
		if err != nil {
			verrs = append(verrs, ValidationError{Field: field, Message: "Must be a valid period in YYYY-MM form"})
			return nil
		}
		return &p
	}
	parseInt := func(field string) int {
		raw := c.QueryParam(field)
		if raw == "" {
			return 0
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			verrs = append(verrs, ValidationError{Field: field, Message: "Must be a non-negative integer"})
			return 0
		}
		return n
	}

	input.TrainerID = parseID("trainerId")
	input.CustomerID = parseID("customerId")
	input.Period = parsePeriod("period")
	input.From = parsePeriod("from")
	input.To = parsePeriod("to")
	input.Offset = parseInt("offset")
	input.Limit = parseInt("limit")

	if raw := c.QueryParam("status"); raw != "" {
		status, err := domain.ParseStatus(raw)
		if err != nil {
			verrs = append(verrs, ValidationError{Field: "status", Message: "Unknown status"})
		} else {
			input.Status = &status
		}
	}

	return input, verrs
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}

func toSessionVolumeResponse(v *domain.SessionVolume) SessionVolumeResponse {
	return SessionVolumeResponse{
		ID:              v.ID.String(),
		TrainerID:       v.TrainerID.String(),
		CustomerID:      v.CustomerID.String(),
		Period:          v.Period.String(),
		Year:            v.Period.Year,
		Month:           v.Period.Month,
		Status:          string(v.Status),
		SessionCount:    v.SessionCount,
		Plans:           v.Plans,
		Notes:           v.Notes,
		RejectionReason: v.RejectionReason,
		SubmittedAt:     formatTime(v.SubmittedAt),
		ReadAt:          formatTime(v.ReadAt),
		ApprovedAt:      formatTime(v.ApprovedAt),
		RejectedAt:      formatTime(v.RejectedAt),
		CreatedAt:       v.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:       v.UpdatedAt.UTC().Format(time.RFC3339),
		DeletedAt:       formatTime(v.DeletedAt),
	}
}

func toSummaryResponse(s domain.SessionVolumeSummary) SessionVolumeSummaryResponse {
	return SessionVolumeSummaryResponse{
		ID:           s.ID.String(),
		TrainerID:    s.TrainerID.String(),
		CustomerID:   s.CustomerID.String(),
		Period:       s.Period.String(),
		SessionCount: s.SessionCount,
		Status:       string(s.Status),
		HasPlans:     s.HasPlans,
		HasNotes:     s.HasNotes,
		UpdatedAt:    s.UpdatedAt.UTC().Format(time.RFC3339),
	}
}
