package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bodyback/bodyback-backend/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Listing bounds
const (
	DefaultVolumePageSize = 100
	MaxVolumePageSize     = 1000
)

// WorkflowRecorder receives lifecycle signals, typically metrics
type WorkflowRecorder interface {
	Transition(from, to string)
	Conflict(kind string)
	Retry(event string)
	Denied(operation string)
}

// SessionVolumeService handles the session volume workflow
type SessionVolumeService struct {
	repo     domain.SessionVolumeRepository
	logger   zerolog.Logger
	recorder WorkflowRecorder
	now      func() time.Time
}

// NewSessionVolumeService creates a new SessionVolumeService
func NewSessionVolumeService(repo domain.SessionVolumeRepository, logger zerolog.Logger) *SessionVolumeService {
	return &SessionVolumeService{
		repo:   repo,
		logger: logger.With().Str("component", "session_volume_service").Logger(),
		now:    time.Now,
	}
}

// SetRecorder sets the recorder for workflow metrics
func (s *SessionVolumeService) SetRecorder(recorder WorkflowRecorder) {
	s.recorder = recorder
}

// CreateVolumeInput contains input for creating a session volume.
// TrainerID is only honoured for admins; trainers always create for themselves.
type CreateVolumeInput struct {
	TrainerID  *uuid.UUID
	CustomerID uuid.UUID
	Year       int
	Month      int
	domain.VolumePayload
}

// UpdateVolumeInput contains the payload fields to change. Nil fields are kept.
type UpdateVolumeInput struct {
	SessionCount *int
	Plans        *string
	Notes        *string
}

// ListVolumesInput narrows a listing. Role scoping is applied on top.
type ListVolumesInput struct {
	TrainerID  *uuid.UUID
	CustomerID *uuid.UUID
	Status     *domain.Status
	Period     *domain.PeriodKey
	From       *domain.PeriodKey
	To         *domain.PeriodKey
	Offset     int
	Limit      int
}

// VolumePage is one page of a listing
type VolumePage struct {
	Items  []domain.SessionVolumeSummary `json:"items"`
	Total  int                           `json:"total"`
	Offset int                           `json:"offset"`
	Limit  int                           `json:"limit"`
}

// Create creates a draft session volume
func (s *SessionVolumeService) Create(ctx context.Context, actor domain.Actor, input CreateVolumeInput) (*domain.SessionVolume, error) {
	period, err := domain.NewPeriodKey(input.Year, input.Month)
	if err != nil {
		return nil, err
	}
	if err := input.VolumePayload.Validate(); err != nil {
		return nil, err
	}
	if input.CustomerID == uuid.Nil {
		return nil, fmt.Errorf("%w: customerId is required", domain.ErrInvalidInput)
	}

	trainerID := actor.ID
	if actor.Role != domain.RoleTrainer {
		if input.TrainerID == nil || *input.TrainerID == uuid.Nil {
			if actor.IsAdmin() {
				return nil, fmt.Errorf("%w: trainerId is required", domain.ErrInvalidInput)
			}
		} else {
			trainerID = *input.TrainerID
		}
	}

	volume := &domain.SessionVolume{
		TrainerID:     trainerID,
		CustomerID:    input.CustomerID,
		Period:        period,
		Status:        domain.StatusDraft,
		VolumePayload: input.VolumePayload,
	}
	if err := s.authorize(actor, domain.OpCreate, volume); err != nil {
		return nil, err
	}

	created, err := s.repo.Create(ctx, volume)
	if err != nil {
		if errors.Is(err, domain.ErrVolumeConflict) {
			s.conflict("duplicate_period")
			return nil, fmt.Errorf("%w: %s", domain.ErrDuplicatePeriod, volume.Key())
		}
		return nil, err
	}

	s.logger.Info().
		Str("volume_id", created.ID.String()).
		Str("actor_id", actor.ID.String()).
		Str("key", created.Key().String()).
		Msg("Session volume created")
	return created, nil
}

// Get returns a single volume the actor may read
func (s *SessionVolumeService) Get(ctx context.Context, actor domain.Actor, id uuid.UUID) (*domain.SessionVolume, error) {
	v, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(actor, domain.OpRead, v); err != nil {
		return nil, err
	}
	return v, nil
}

// Update changes payload fields of a draft or rejected volume
func (s *SessionVolumeService) Update(ctx context.Context, actor domain.Actor, id uuid.UUID, input UpdateVolumeInput) (*domain.SessionVolume, error) {
	return s.mutate(ctx, actor, id, domain.OpUpdate, func(v *domain.SessionVolume) (domain.VolumeMutation, error) {
		if !v.Status.IsEditable() {
			return domain.VolumeMutation{}, fmt.Errorf("%w: volume is %s", domain.ErrEditNotAllowed, v.Status)
		}
		m := v.Mutation()
		if input.SessionCount != nil {
			m.Payload.SessionCount = *input.SessionCount
		}
		if input.Plans != nil {
			m.Payload.Plans = input.Plans
		}
		if input.Notes != nil {
			m.Payload.Notes = input.Notes
		}
		if err := m.Payload.Validate(); err != nil {
			return domain.VolumeMutation{}, err
		}
		return m, nil
	})
}

// Submit sends a draft to the customer
func (s *SessionVolumeService) Submit(ctx context.Context, actor domain.Actor, id uuid.UUID) (*domain.SessionVolume, error) {
	return s.transition(ctx, actor, id, domain.EventSubmit, "")
}

// MarkRead records that the customer has opened a submitted volume
func (s *SessionVolumeService) MarkRead(ctx context.Context, actor domain.Actor, id uuid.UUID) (*domain.SessionVolume, error) {
	return s.transition(ctx, actor, id, domain.EventView, "")
}

// Approve accepts a submitted or read volume. Approved is terminal.
func (s *SessionVolumeService) Approve(ctx context.Context, actor domain.Actor, id uuid.UUID) (*domain.SessionVolume, error) {
	return s.transition(ctx, actor, id, domain.EventApprove, "")
}

// Reject returns a submitted or read volume to the trainer with a reason
func (s *SessionVolumeService) Reject(ctx context.Context, actor domain.Actor, id uuid.UUID, reason string) (*domain.SessionVolume, error) {
	return s.transition(ctx, actor, id, domain.EventReject, reason)
}

// Reopen moves a rejected volume back to draft
func (s *SessionVolumeService) Reopen(ctx context.Context, actor domain.Actor, id uuid.UUID) (*domain.SessionVolume, error) {
	return s.transition(ctx, actor, id, domain.EventReopen, "")
}

// Delete soft-deletes a volume. Read and approved volumes are kept.
func (s *SessionVolumeService) Delete(ctx context.Context, actor domain.Actor, id uuid.UUID) error {
	v, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.authorize(actor, domain.OpDelete, v); err != nil {
		return err
	}
	if !v.Status.IsDeletable() {
		return fmt.Errorf("%w: cannot delete a %s volume", domain.ErrEditNotAllowed, v.Status)
	}

	if err := s.repo.SoftDelete(ctx, id); err != nil {
		if errors.Is(err, domain.ErrVolumeConflict) {
			s.conflict("delete_guard")
			return fmt.Errorf("%w: status changed before delete", domain.ErrEditNotAllowed)
		}
		return err
	}

	s.logger.Info().
		Str("volume_id", id.String()).
		Str("actor_id", actor.ID.String()).
		Str("status", string(v.Status)).
		Msg("Session volume deleted")
	return nil
}

// Restore brings back a soft-deleted volume
func (s *SessionVolumeService) Restore(ctx context.Context, actor domain.Actor, id uuid.UUID) (*domain.SessionVolume, error) {
	if err := s.authorize(actor, domain.OpRestore, nil); err != nil {
		return nil, err
	}
	v, err := s.repo.Restore(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrVolumeConflict) {
			s.conflict("duplicate_period")
			return nil, fmt.Errorf("%w: a live volume holds the same period", domain.ErrDuplicatePeriod)
		}
		return nil, err
	}

	s.logger.Info().
		Str("volume_id", id.String()).
		Str("actor_id", actor.ID.String()).
		Msg("Session volume restored")
	return v, nil
}

// List returns a page of volume summaries visible to the actor
func (s *SessionVolumeService) List(ctx context.Context, actor domain.Actor, input ListVolumesInput) (*VolumePage, error) {
	filter, err := s.scopedFilter(actor, input)
	if err != nil {
		return nil, err
	}
	if input.Offset < 0 {
		return nil, fmt.Errorf("%w: offset cannot be negative", domain.ErrInvalidInput)
	}
	filter.Offset = input.Offset
	filter.Limit = clampLimit(input.Limit)

	volumes, err := s.repo.Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	total, err := s.repo.Count(ctx, filter)
	if err != nil {
		return nil, err
	}

	items := make([]domain.SessionVolumeSummary, 0, len(volumes))
	for _, v := range volumes {
		items = append(items, v.Summary())
	}
	return &VolumePage{Items: items, Total: total, Offset: filter.Offset, Limit: filter.Limit}, nil
}

// GetByPeriod returns the actor's visible volumes for one month
func (s *SessionVolumeService) GetByPeriod(ctx context.Context, actor domain.Actor, year, month int) ([]*domain.SessionVolume, error) {
	period, err := domain.NewPeriodKey(year, month)
	if err != nil {
		return nil, err
	}
	filter, err := s.scopedFilter(actor, ListVolumesInput{Period: &period})
	if err != nil {
		return nil, err
	}
	return s.repo.Find(ctx, filter)
}

// Stats aggregates the volumes visible to the actor
func (s *SessionVolumeService) Stats(ctx context.Context, actor domain.Actor, input ListVolumesInput) (*domain.VolumeStats, error) {
	filter, err := s.scopedFilter(actor, input)
	if err != nil {
		return nil, err
	}
	filter.Offset, filter.Limit = 0, 0
	return s.repo.Stats(ctx, filter)
}

// transition applies a lifecycle event through the state machine
func (s *SessionVolumeService) transition(ctx context.Context, actor domain.Actor, id uuid.UUID, ev domain.VolumeEvent, reason string) (*domain.SessionVolume, error) {
	op := domain.OperationForEvent(ev)
	return s.mutate(ctx, actor, id, op, func(v *domain.SessionVolume) (domain.VolumeMutation, error) {
		res, err := domain.ApplyVolumeEvent(v, ev, domain.TransitionInput{Reason: reason, At: s.now()})
		if err != nil {
			return domain.VolumeMutation{}, err
		}
		return res.Mutation, nil
	})
}

// mutate reads the record, authorizes op, plans the write and applies it
// conditionally on the status that was read. A stale write is retried once
// against a fresh read; if that fails too, or the fresh record no longer
// admits the change, the caller gets ErrConcurrentModification.
func (s *SessionVolumeService) mutate(
	ctx context.Context,
	actor domain.Actor,
	id uuid.UUID,
	op domain.VolumeOperation,
	plan func(v *domain.SessionVolume) (domain.VolumeMutation, error),
) (*domain.SessionVolume, error) {
	for attempt := 0; ; attempt++ {
		v, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := s.authorize(actor, op, v); err != nil {
			return nil, err
		}

		m, err := plan(v)
		if err != nil {
			if attempt > 0 && (errors.Is(err, domain.ErrInvalidTransition) || errors.Is(err, domain.ErrEditNotAllowed)) {
				s.conflict("concurrent_modification")
				return nil, fmt.Errorf("%w: %v", domain.ErrConcurrentModification, err)
			}
			return nil, err
		}

		updated, err := s.repo.Update(ctx, id, v.Status, m)
		if err == nil {
			if updated.Status != v.Status {
				s.record(func(r WorkflowRecorder) { r.Transition(string(v.Status), string(updated.Status)) })
				s.logger.Info().
					Str("volume_id", id.String()).
					Str("actor_id", actor.ID.String()).
					Str("from", string(v.Status)).
					Str("to", string(updated.Status)).
					Msg("Session volume transitioned")
			}
			return updated, nil
		}
		if !errors.Is(err, domain.ErrStaleState) {
			return nil, err
		}

		s.conflict("stale_state")
		if attempt > 0 {
			s.conflict("concurrent_modification")
			return nil, domain.ErrConcurrentModification
		}
		s.record(func(r WorkflowRecorder) { r.Retry(string(op)) })
		s.logger.Debug().
			Str("volume_id", id.String()).
			Str("operation", string(op)).
			Str("expected", string(v.Status)).
			Msg("Stale session volume write, retrying")
	}
}

func (s *SessionVolumeService) authorize(actor domain.Actor, op domain.VolumeOperation, v *domain.SessionVolume) error {
	if err := domain.AuthorizeVolume(actor, op, v); err != nil {
		s.record(func(r WorkflowRecorder) { r.Denied(string(op)) })
		s.logger.Warn().
			Str("actor_id", actor.ID.String()).
			Str("role", string(actor.Role)).
			Str("operation", string(op)).
			Msg("Session volume access denied")
		return err
	}
	return nil
}

func (s *SessionVolumeService) scopedFilter(actor domain.Actor, input ListVolumesInput) (domain.VolumeFilter, error) {
	if err := domain.AuthorizeScope(actor, domain.OpList); err != nil {
		s.record(func(r WorkflowRecorder) { r.Denied(string(domain.OpList)) })
		return domain.VolumeFilter{}, err
	}
	if input.From != nil && input.To != nil && input.To.Before(*input.From) {
		return domain.VolumeFilter{}, fmt.Errorf("%w: from %s is after to %s", domain.ErrInvalidPeriod, input.From, input.To)
	}
	return domain.ScopeVolumeFilter(actor, domain.VolumeFilter{
		TrainerID:  input.TrainerID,
		CustomerID: input.CustomerID,
		Status:     input.Status,
		Period:     input.Period,
		From:       input.From,
		To:         input.To,
	})
}

func (s *SessionVolumeService) conflict(kind string) {
	s.record(func(r WorkflowRecorder) { r.Conflict(kind) })
}

func (s *SessionVolumeService) record(fn func(r WorkflowRecorder)) {
	if s.recorder != nil {
		fn(s.recorder)
	}
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultVolumePageSize
	case limit > MaxVolumePageSize:
		return MaxVolumePageSize
	}
	return limit
}
