package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// Status is the lifecycle state of a session volume
type Status string

const (
	StatusDraft     Status = "draft"
	StatusSubmitted Status = "submitted"
	StatusRead      Status = "read"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
)

// AllStatuses lists every lifecycle state
var AllStatuses = []Status{StatusDraft, StatusSubmitted, StatusRead, StatusApproved, StatusRejected}

// ParseStatus validates a status string
func ParseStatus(s string) (Status, error) {
	for _, st := range AllStatuses {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("%w: unknown status %q", ErrInvalidInput, s)
}

// IsEditable reports whether payload fields may change in this status
func (s Status) IsEditable() bool {
	return s == StatusDraft || s == StatusRejected
}

// IsDeletable reports whether a record in this status may be soft-deleted
func (s Status) IsDeletable() bool {
	return s == StatusDraft || s == StatusSubmitted || s == StatusRejected
}

// DeletableStatuses is the set stores guard soft deletes with
var DeletableStatuses = []Status{StatusDraft, StatusSubmitted, StatusRejected}

// VolumePayload holds the descriptive fields a trainer edits
type VolumePayload struct {
	SessionCount int     `json:"sessionCount" validate:"gte=0"`
	Plans        *string `json:"plans,omitempty" validate:"omitempty,max=5000"`
	Notes        *string `json:"notes,omitempty" validate:"omitempty,max=5000"`
}

// SessionVolume is the monthly record of sessions between a trainer and a customer
type SessionVolume struct {
	ID         uuid.UUID `json:"id"`
	TrainerID  uuid.UUID `json:"trainerId"`
	CustomerID uuid.UUID `json:"customerId"`
	Period     PeriodKey `json:"period"`
	Status     Status    `json:"status"`
	VolumePayload
	RejectionReason *string    `json:"rejectionReason,omitempty"`
	SubmittedAt     *time.Time `json:"submittedAt,omitempty"`
	ReadAt          *time.Time `json:"readAt,omitempty"`
	ApprovedAt      *time.Time `json:"approvedAt,omitempty"`
	RejectedAt      *time.Time `json:"rejectedAt,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
	DeletedAt       *time.Time `json:"deletedAt,omitempty"`
}

// Key returns the record's uniqueness key
func (v *SessionVolume) Key() VolumeKey {
	return VolumeKey{TrainerID: v.TrainerID, CustomerID: v.CustomerID, Period: v.Period}
}

// IsDeleted reports whether the record has been soft-deleted
func (v *SessionVolume) IsDeleted() bool {
	return v.DeletedAt != nil
}

// Clone returns a deep copy
func (v *SessionVolume) Clone() *SessionVolume {
	c := *v
	c.Plans = cloneString(v.Plans)
	c.Notes = cloneString(v.Notes)
	c.RejectionReason = cloneString(v.RejectionReason)
	c.SubmittedAt = cloneTime(v.SubmittedAt)
	c.ReadAt = cloneTime(v.ReadAt)
	c.ApprovedAt = cloneTime(v.ApprovedAt)
	c.RejectedAt = cloneTime(v.RejectedAt)
	c.DeletedAt = cloneTime(v.DeletedAt)
	return &c
}

// Mutation captures every mutable column of the record
func (v *SessionVolume) Mutation() VolumeMutation {
	return VolumeMutation{
		Status: v.Status,
		Payload: VolumePayload{
			SessionCount: v.SessionCount,
			Plans:        cloneString(v.Plans),
			Notes:        cloneString(v.Notes),
		},
		RejectionReason: cloneString(v.RejectionReason),
		SubmittedAt:     cloneTime(v.SubmittedAt),
		ReadAt:          cloneTime(v.ReadAt),
		ApprovedAt:      cloneTime(v.ApprovedAt),
		RejectedAt:      cloneTime(v.RejectedAt),
	}
}

// Apply writes a mutation onto the record. Stores use it to keep memory
// implementations in step with the SQL ones.
func (v *SessionVolume) Apply(m VolumeMutation) {
	v.Status = m.Status
	v.SessionCount = m.Payload.SessionCount
	v.Plans = cloneString(m.Payload.Plans)
	v.Notes = cloneString(m.Payload.Notes)
	v.RejectionReason = cloneString(m.RejectionReason)
	v.SubmittedAt = cloneTime(m.SubmittedAt)
	v.ReadAt = cloneTime(m.ReadAt)
	v.ApprovedAt = cloneTime(m.ApprovedAt)
	v.RejectedAt = cloneTime(m.RejectedAt)
}

// Summary returns the list-view projection
func (v *SessionVolume) Summary() SessionVolumeSummary {
	return SessionVolumeSummary{
		ID:           v.ID,
		TrainerID:    v.TrainerID,
		CustomerID:   v.CustomerID,
		Period:       v.Period,
		SessionCount: v.SessionCount,
		Status:       v.Status,
		HasPlans:     v.Plans != nil && *v.Plans != "",
		HasNotes:     v.Notes != nil && *v.Notes != "",
		UpdatedAt:    v.UpdatedAt,
	}
}

// VolumeMutation is the full set of columns a conditional update writes
type VolumeMutation struct {
	Status          Status
	Payload         VolumePayload
	RejectionReason *string
	SubmittedAt     *time.Time
	ReadAt          *time.Time
	ApprovedAt      *time.Time
	RejectedAt      *time.Time
}

// SessionVolumeSummary is the minimal list-view shape
type SessionVolumeSummary struct {
	ID           uuid.UUID `json:"id"`
	TrainerID    uuid.UUID `json:"trainerId"`
	CustomerID   uuid.UUID `json:"customerId"`
	Period       PeriodKey `json:"period"`
	SessionCount int       `json:"sessionCount"`
	Status       Status    `json:"status"`
	HasPlans     bool      `json:"hasPlans"`
	HasNotes     bool      `json:"hasNotes"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// VolumeFilter narrows store queries. Nil fields do not filter.
// A zero Limit means no limit.
type VolumeFilter struct {
	TrainerID  *uuid.UUID
	CustomerID *uuid.UUID
	Status     *Status
	Period     *PeriodKey
	From       *PeriodKey
	To         *PeriodKey
	Offset     int
	Limit      int
}

// VolumeStats aggregates volumes visible to an actor
type VolumeStats struct {
	Records           int            `json:"records"`
	TotalSessions     int            `json:"totalSessions"`
	DistinctCustomers int            `json:"distinctCustomers"`
	DistinctTrainers  int            `json:"distinctTrainers"`
	ByStatus          map[Status]int `json:"byStatus"`
}

// NewVolumeStats returns empty stats with every status present
func NewVolumeStats() *VolumeStats {
	stats := &VolumeStats{ByStatus: make(map[Status]int, len(AllStatuses))}
	for _, st := range AllStatuses {
		stats.ByStatus[st] = 0
	}
	return stats
}

// FieldError reports a single invalid payload field
type FieldError struct {
	Field   string
	Message string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrInvalidInput, e.Field, e.Message)
}

func (e *FieldError) Unwrap() error {
	return ErrInvalidInput
}

var payloadValidator = validator.New()

// Validate checks payload bounds
func (p VolumePayload) Validate() error {
	err := payloadValidator.Struct(p)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	fe := verrs[0]
	switch fe.Field() {
	case "SessionCount":
		return &FieldError{Field: "sessionCount", Message: "Session count cannot be negative"}
	case "Plans":
		return &FieldError{Field: "plans", Message: fmt.Sprintf("Plans must be %d characters or less", MaxVolumeTextLength)}
	case "Notes":
		return &FieldError{Field: "notes", Message: fmt.Sprintf("Notes must be %d characters or less", MaxVolumeTextLength)}
	}
	return &FieldError{Field: fe.Field(), Message: fe.Tag()}
}

// SessionVolumeRepository is the volume record store. Every write is atomic
// with respect to concurrent callers.
type SessionVolumeRepository interface {
	// Create inserts a draft. ErrVolumeConflict when a live record holds the same key.
	Create(ctx context.Context, volume *SessionVolume) (*SessionVolume, error)
	// GetByID returns ErrVolumeNotFound for missing or soft-deleted records.
	GetByID(ctx context.Context, id uuid.UUID) (*SessionVolume, error)
	Find(ctx context.Context, filter VolumeFilter) ([]*SessionVolume, error)
	Count(ctx context.Context, filter VolumeFilter) (int, error)
	// Stats aggregates live records matching filter in the store, ignoring paging.
	Stats(ctx context.Context, filter VolumeFilter) (*VolumeStats, error)
	// Update writes m only if the stored status still equals expected, else ErrStaleState.
	Update(ctx context.Context, id uuid.UUID, expected Status, m VolumeMutation) (*SessionVolume, error)
	// SoftDelete marks a deletable record; ErrVolumeConflict if its status forbids it.
	SoftDelete(ctx context.Context, id uuid.UUID) error
	// Restore clears deleted_at; ErrVolumeConflict if a live record took the key meanwhile.
	Restore(ctx context.Context, id uuid.UUID) (*SessionVolume, error)
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
