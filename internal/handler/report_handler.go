package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/bodyback/bodyback-backend/internal/middleware"
	"github.com/bodyback/bodyback-backend/internal/service"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

// ReportHandler handles period report exports
type ReportHandler struct {
	reportService *service.ReportService
}

// NewReportHandler creates a new ReportHandler
func NewReportHandler(reportService *service.ReportService) *ReportHandler {
	return &ReportHandler{reportService: reportService}
}

// PeriodReportResponse represents an exported report in API responses
type PeriodReportResponse struct {
	Period        string `json:"period"`
	ObjectPath    string `json:"objectPath"`
	URL           string `json:"url"`
	ExpiresAt     string `json:"expiresAt"`
	Records       int    `json:"records"`
	TotalSessions int    `json:"totalSessions"`
}

// ExportPeriod handles POST /api/v1/reports/period/:year/:month
func (h *ReportHandler) ExportPeriod(c echo.Context) error {
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

	report, err := h.reportService.ExportPeriod(c.Request().Context(), actor, year, month)
	if err != nil {
		if handled, resp := writeDomainError(c, err); handled {
			return resp
		}
		log.Error().Err(err).Str("actor_id", actor.ID.String()).Int("year", year).Int("month", month).Msg("Failed to export period report")
		return NewInternalError(c, "Failed to export period report")
	}

	return c.JSON(http.StatusCreated, PeriodReportResponse{
		Period:        report.Period.String(),
		ObjectPath:    report.ObjectPath,
		URL:           report.URL,
		ExpiresAt:     report.ExpiresAt.UTC().Format(time.RFC3339),
		Records:       report.Records,
		TotalSessions: report.TotalSessions,
	})
}
