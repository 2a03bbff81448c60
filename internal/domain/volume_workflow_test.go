package domain

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var workflowNow = time.Date(2024, time.April, 2, 10, 0, 0, 0, time.UTC)

func volumeIn(status Status) *SessionVolume {
	return &SessionVolume{Status: status, VolumePayload: VolumePayload{SessionCount: 4}}
}

func TestApplyVolumeEvent_Table(t *testing.T) {
	tests := []struct {
		from Status
		ev   VolumeEvent
		to   Status
		path []Status
	}{
		{StatusDraft, EventSubmit, StatusSubmitted, []Status{StatusDraft, StatusSubmitted}},
		{StatusSubmitted, EventView, StatusRead, []Status{StatusSubmitted, StatusRead}},
		{StatusSubmitted, EventApprove, StatusApproved, []Status{StatusSubmitted, StatusRead, StatusApproved}},
		{StatusRead, EventApprove, StatusApproved, []Status{StatusRead, StatusApproved}},
		{StatusSubmitted, EventReject, StatusRejected, []Status{StatusSubmitted, StatusRead, StatusRejected}},
		{StatusRead, EventReject, StatusRejected, []Status{StatusRead, StatusRejected}},
		{StatusRejected, EventReopen, StatusDraft, []Status{StatusRejected, StatusDraft}},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"/"+string(tt.ev), func(t *testing.T) {
			res, err := ApplyVolumeEvent(volumeIn(tt.from), tt.ev, TransitionInput{Reason: "incorrect count", At: workflowNow})
			require.NoError(t, err)
			assert.Equal(t, tt.from, res.From)
			assert.Equal(t, tt.to, res.To)
			assert.Equal(t, tt.to, res.Mutation.Status)
			assert.Equal(t, tt.path, res.Path)
		})
	}
}

// Every pair outside the table must fail and leave the record untouched.
func TestApplyVolumeEvent_Closure(t *testing.T) {
	for _, from := range AllStatuses {
		for _, ev := range AllVolumeEvents {
			if _, ok := VolumeTransitionFor(from, ev); ok {
				continue
			}
			v := volumeIn(from)
			before := *v

			_, err := ApplyVolumeEvent(v, ev, TransitionInput{Reason: "r", At: workflowNow})
			if !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("%s from %s: expected ErrInvalidTransition, got %v", ev, from, err)
			}
			if v.Status != before.Status {
				t.Errorf("%s from %s: status changed to %s", ev, from, v.Status)
			}
		}
	}
}

func TestApplyVolumeEvent_ApprovedIsTerminal(t *testing.T) {
	for _, ev := range AllVolumeEvents {
		_, err := ApplyVolumeEvent(volumeIn(StatusApproved), ev, TransitionInput{Reason: "r", At: workflowNow})
		assert.ErrorIs(t, err, ErrInvalidTransition, "event %s", ev)
	}
}

func TestApplyVolumeEvent_SideEffects(t *testing.T) {
	t.Run("submit stamps submitted_at", func(t *testing.T) {
		res, err := ApplyVolumeEvent(volumeIn(StatusDraft), EventSubmit, TransitionInput{At: workflowNow})
		require.NoError(t, err)
		require.NotNil(t, res.Mutation.SubmittedAt)
		assert.True(t, res.Mutation.SubmittedAt.Equal(workflowNow))
	})

	t.Run("view keeps the first view time", func(t *testing.T) {
		earlier := workflowNow.Add(-time.Hour)
		v := volumeIn(StatusSubmitted)
		v.ReadAt = &earlier
		res, err := ApplyVolumeEvent(v, EventView, TransitionInput{At: workflowNow})
		require.NoError(t, err)
		assert.True(t, res.Mutation.ReadAt.Equal(earlier))
	})

	t.Run("approve from submitted folds in the read", func(t *testing.T) {
		res, err := ApplyVolumeEvent(volumeIn(StatusSubmitted), EventApprove, TransitionInput{At: workflowNow})
		require.NoError(t, err)
		require.NotNil(t, res.Mutation.ReadAt)
		require.NotNil(t, res.Mutation.ApprovedAt)
		assert.True(t, res.Mutation.ApprovedAt.Equal(workflowNow))
	})

	t.Run("reject records reason", func(t *testing.T) {
		res, err := ApplyVolumeEvent(volumeIn(StatusRead), EventReject, TransitionInput{Reason: "  incorrect count ", At: workflowNow})
		require.NoError(t, err)
		require.NotNil(t, res.Mutation.RejectionReason)
		assert.Equal(t, "incorrect count", *res.Mutation.RejectionReason)
		assert.NotNil(t, res.Mutation.RejectedAt)
	})

	t.Run("reopen clears reason and keeps payload", func(t *testing.T) {
		reason := "incorrect count"
		v := volumeIn(StatusRejected)
		v.RejectionReason = &reason
		res, err := ApplyVolumeEvent(v, EventReopen, TransitionInput{At: workflowNow})
		require.NoError(t, err)
		assert.Nil(t, res.Mutation.RejectionReason)
		assert.Equal(t, 4, res.Mutation.Payload.SessionCount)
		assert.Equal(t, "incorrect count", *v.RejectionReason, "input record must not be modified")
	})
}

func TestApplyVolumeEvent_RejectRequiresReason(t *testing.T) {
	for _, reason := range []string{"", "   ", "\n\t"} {
		_, err := ApplyVolumeEvent(volumeIn(StatusSubmitted), EventReject, TransitionInput{Reason: reason, At: workflowNow})
		assert.ErrorIs(t, err, ErrMissingReason)
	}

	_, err := ApplyVolumeEvent(volumeIn(StatusSubmitted), EventReject, TransitionInput{Reason: strings.Repeat("x", MaxReasonLength+1), At: workflowNow})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestApplyVolumeEvent_InvalidTransitionBeforeReasonCheck(t *testing.T) {
	_, err := ApplyVolumeEvent(volumeIn(StatusDraft), EventReject, TransitionInput{At: workflowNow})
	assert.ErrorIs(t, err, ErrInvalidTransition)
}
