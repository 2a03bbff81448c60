package domain

import (
	"fmt"
	"strings"
	"time"
)

// VolumeEvent is a lifecycle event applied to a session volume
type VolumeEvent string

const (
	EventSubmit  VolumeEvent = "submit"
	EventView    VolumeEvent = "view"
	EventApprove VolumeEvent = "approve"
	EventReject  VolumeEvent = "reject"
	EventReopen  VolumeEvent = "reopen"
)

// AllVolumeEvents lists every lifecycle event
var AllVolumeEvents = []VolumeEvent{EventSubmit, EventView, EventApprove, EventReject, EventReopen}

// VolumeTransition is a single allowed edge of the lifecycle
type VolumeTransition struct {
	From  Status
	Event VolumeEvent
	To    Status
	// Via is the intermediate state folded into the edge, if any.
	Via Status
}

// Approve and reject from submitted pass through read so the first view is
// always recorded, whether or not the customer opened the record first.
var volumeTransitions = []VolumeTransition{
	{From: StatusDraft, Event: EventSubmit, To: StatusSubmitted},
	{From: StatusSubmitted, Event: EventView, To: StatusRead},
	{From: StatusSubmitted, Event: EventApprove, To: StatusApproved, Via: StatusRead},
	{From: StatusRead, Event: EventApprove, To: StatusApproved},
	{From: StatusSubmitted, Event: EventReject, To: StatusRejected, Via: StatusRead},
	{From: StatusRead, Event: EventReject, To: StatusRejected},
	{From: StatusRejected, Event: EventReopen, To: StatusDraft},
}

// VolumeTransitionFor returns the allowed transition for a state and event
func VolumeTransitionFor(from Status, ev VolumeEvent) (VolumeTransition, bool) {
	for _, tr := range volumeTransitions {
		if tr.From == from && tr.Event == ev {
			return tr, true
		}
	}
	return VolumeTransition{}, false
}

// TransitionInput carries the caller-supplied data of an event
type TransitionInput struct {
	Reason string
	At     time.Time
}

// TransitionResult is the outcome of a legal event
type TransitionResult struct {
	From     Status
	To       Status
	Path     []Status
	Mutation VolumeMutation
}

// ApplyVolumeEvent computes the new state and side effects of ev on v.
// v is not modified.
func ApplyVolumeEvent(v *SessionVolume, ev VolumeEvent, in TransitionInput) (TransitionResult, error) {
	tr, ok := VolumeTransitionFor(v.Status, ev)
	if !ok {
		return TransitionResult{}, fmt.Errorf("%w: cannot %s a %s volume", ErrInvalidTransition, ev, v.Status)
	}

	m := v.Mutation()
	path := []Status{tr.From}
	if tr.Via != "" {
		path = append(path, tr.Via)
	}
	path = append(path, tr.To)

	at := in.At
	if tr.Via == StatusRead || tr.To == StatusRead {
		if m.ReadAt == nil {
			m.ReadAt = &at
		}
	}

	switch ev {
	case EventSubmit:
		m.SubmittedAt = &at
	case EventApprove:
		m.ApprovedAt = &at
	case EventReject:
		reason := strings.TrimSpace(in.Reason)
		if reason == "" {
			return TransitionResult{}, ErrMissingReason
		}
		if len([]rune(reason)) > MaxReasonLength {
			return TransitionResult{}, &FieldError{Field: "reason", Message: fmt.Sprintf("Reason must be %d characters or less", MaxReasonLength)}
		}
		m.RejectionReason = &reason
		m.RejectedAt = &at
	case EventReopen:
		m.RejectionReason = nil
	}
	m.Status = tr.To

	return TransitionResult{From: tr.From, To: tr.To, Path: path, Mutation: m}, nil
}
