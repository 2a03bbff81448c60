package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/bodyback/bodyback-backend/internal/domain"
	"github.com/bodyback/bodyback-backend/internal/repository/storage"
	"github.com/rs/zerolog"
)

// ReportURLExpiry is how long a report download link stays valid
const ReportURLExpiry = 15 * time.Minute

var ErrReportStorageNotConfigured = errors.New("report storage not configured")

var reportHeader = []string{
	"volume_id", "trainer_id", "customer_id", "period", "session_count", "approved_at", "plans", "notes",
}

// ReportRecorder counts exported reports
type ReportRecorder interface {
	ReportExported()
}

// PeriodReport describes an uploaded period export
type PeriodReport struct {
	Period        domain.PeriodKey `json:"period"`
	ObjectPath    string           `json:"objectPath"`
	URL           string           `json:"url"`
	ExpiresAt     time.Time        `json:"expiresAt"`
	Records       int              `json:"records"`
	TotalSessions int              `json:"totalSessions"`
}

// ReportService exports approved session volumes for billing
type ReportService struct {
	repo     domain.SessionVolumeRepository
	storage  storage.ReportRepository
	logger   zerolog.Logger
	recorder ReportRecorder
	now      func() time.Time
}

// NewReportService creates a new ReportService. storage may be nil when
// exports are disabled.
func NewReportService(repo domain.SessionVolumeRepository, reportStorage storage.ReportRepository, logger zerolog.Logger) *ReportService {
	return &ReportService{
		repo:    repo,
		storage: reportStorage,
		logger:  logger.With().Str("component", "report_service").Logger(),
		now:     time.Now,
	}
}

// SetRecorder sets the recorder for export metrics
func (s *ReportService) SetRecorder(recorder ReportRecorder) {
	s.recorder = recorder
}

// ExportPeriod writes the approved volumes of a month, as visible to the
// actor, to a CSV object and returns a presigned link to it.
func (s *ReportService) ExportPeriod(ctx context.Context, actor domain.Actor, year, month int) (*PeriodReport, error) {
	period, err := domain.NewPeriodKey(year, month)
	if err != nil {
		return nil, err
	}
	if err := domain.AuthorizeScope(actor, domain.OpExport); err != nil {
		return nil, err
	}
	if s.storage == nil {
		return nil, ErrReportStorageNotConfigured
	}

	approved := domain.StatusApproved
	filter, err := domain.ScopeVolumeFilter(actor, domain.VolumeFilter{Period: &period, Status: &approved})
	if err != nil {
		return nil, err
	}
	volumes, err := s.repo.Find(ctx, filter)
	if err != nil {
		return nil, err
	}

	body, total, err := encodePeriodCSV(volumes)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	objectPath := fmt.Sprintf("reports/%s/%s-%s.csv", period, actor.ID, now.Format("20060102T150405Z"))
	if _, err := s.storage.Upload(ctx, objectPath, bytes.NewReader(body), "text/csv", int64(len(body))); err != nil {
		return nil, err
	}
	url, err := s.storage.GeneratePresignedURL(ctx, objectPath, ReportURLExpiry)
	if err != nil {
		return nil, err
	}

	if s.recorder != nil {
		s.recorder.ReportExported()
	}
	s.logger.Info().
		Str("actor_id", actor.ID.String()).
		Str("period", period.String()).
		Int("records", len(volumes)).
		Str("object", objectPath).
		Msg("Period report exported")

	return &PeriodReport{
		Period:        period,
		ObjectPath:    objectPath,
		URL:           url,
		ExpiresAt:     now.Add(ReportURLExpiry),
		Records:       len(volumes),
		TotalSessions: total,
	}, nil
}

func encodePeriodCSV(volumes []*domain.SessionVolume) ([]byte, int, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(reportHeader); err != nil {
		return nil, 0, err
	}

	total := 0
	for _, v := range volumes {
		approvedAt := ""
		if v.ApprovedAt != nil {
			approvedAt = v.ApprovedAt.UTC().Format(time.RFC3339)
		}
		record := []string{
			v.ID.String(),
			v.TrainerID.String(),
			v.CustomerID.String(),
			v.Period.String(),
			strconv.Itoa(v.SessionCount),
			approvedAt,
			deref(v.Plans),
			deref(v.Notes),
		}
		if err := w.Write(record); err != nil {
			return nil, 0, err
		}
		total += v.SessionCount
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, 0, fmt.Errorf("encode period report: %w", err)
	}
	return buf.Bytes(), total, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
