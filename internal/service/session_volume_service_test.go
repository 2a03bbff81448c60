package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/bodyback/bodyback-backend/internal/domain"
	"github.com/bodyback/bodyback-backend/internal/testutil"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

type fakeRecorder struct {
	mu          sync.Mutex
	transitions []string
	conflicts   map[string]int
	retries     int
	denied      int
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{conflicts: make(map[string]int)}
}

func (r *fakeRecorder) Transition(from, to string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, from+"->"+to)
}

func (r *fakeRecorder) Conflict(kind string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conflicts[kind]++
}

func (r *fakeRecorder) Retry(string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retries++
}

func (r *fakeRecorder) Denied(string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.denied++
}

type volumeFixture struct {
	repo     *testutil.MockSessionVolumeRepository
	svc      *SessionVolumeService
	recorder *fakeRecorder
	trainer  domain.Actor
	customer domain.Actor
	admin    domain.Actor
}

func newVolumeFixture() *volumeFixture {
	repo := testutil.NewMockSessionVolumeRepository()
	svc := NewSessionVolumeService(repo, zerolog.Nop())
	rec := newFakeRecorder()
	svc.SetRecorder(rec)
	return &volumeFixture{
		repo:     repo,
		svc:      svc,
		recorder: rec,
		trainer:  domain.Actor{ID: uuid.New(), Role: domain.RoleTrainer},
		customer: domain.Actor{ID: uuid.New(), Role: domain.RoleCustomer},
		admin:    domain.Actor{ID: uuid.New(), Role: domain.RoleAdmin},
	}
}

// seed stores a volume between the fixture's trainer and customer in status
func (f *volumeFixture) seed(status domain.Status, month int) *domain.SessionVolume {
	return f.repo.AddVolume(&domain.SessionVolume{
		TrainerID:     f.trainer.ID,
		CustomerID:    f.customer.ID,
		Period:        domain.PeriodKey{Year: 2024, Month: month},
		Status:        status,
		VolumePayload: domain.VolumePayload{SessionCount: 4},
	})
}

func (f *volumeFixture) createInput(month int) CreateVolumeInput {
	return CreateVolumeInput{
		CustomerID:    f.customer.ID,
		Year:          2024,
		Month:         month,
		VolumePayload: domain.VolumePayload{SessionCount: 4},
	}
}

func intPtr(i int) *int { return &i }

func TestCreate_Success(t *testing.T) {
	f := newVolumeFixture()

	v, err := f.svc.Create(context.Background(), f.trainer, f.createInput(3))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDraft, v.Status)
	assert.Equal(t, f.trainer.ID, v.TrainerID)
	assert.Equal(t, "2024-03", v.Period.String())
	assert.Equal(t, 4, v.SessionCount)
}

func TestCreate_TrainerCannotCreateForAnotherTrainer(t *testing.T) {
	f := newVolumeFixture()
	other := uuid.New()
	in := f.createInput(3)
	in.TrainerID = &other

	v, err := f.svc.Create(context.Background(), f.trainer, in)
	require.NoError(t, err)
	assert.Equal(t, f.trainer.ID, v.TrainerID, "trainer id is forced to the actor")
}

func TestCreate_AdminOnBehalfOfTrainer(t *testing.T) {
	f := newVolumeFixture()

	_, err := f.svc.Create(context.Background(), f.admin, f.createInput(3))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	in := f.createInput(3)
	in.TrainerID = &f.trainer.ID
	v, err := f.svc.Create(context.Background(), f.admin, in)
	require.NoError(t, err)
	assert.Equal(t, f.trainer.ID, v.TrainerID)
}

func TestCreate_Errors(t *testing.T) {
	f := newVolumeFixture()

	tests := []struct {
		name    string
		actor   domain.Actor
		mutate  func(in *CreateVolumeInput)
		wantErr error
	}{
		{"month 13", f.trainer, func(in *CreateVolumeInput) { in.Month = 13 }, domain.ErrInvalidPeriod},
		{"month 0", f.trainer, func(in *CreateVolumeInput) { in.Month = 0 }, domain.ErrInvalidPeriod},
		{"year 1990", f.trainer, func(in *CreateVolumeInput) { in.Year = 1990 }, domain.ErrInvalidPeriod},
		{"negative sessions", f.trainer, func(in *CreateVolumeInput) { in.SessionCount = -1 }, domain.ErrInvalidInput},
		{"missing customer", f.trainer, func(in *CreateVolumeInput) { in.CustomerID = uuid.Nil }, domain.ErrInvalidInput},
		{"customer cannot create", f.customer, func(in *CreateVolumeInput) {}, domain.ErrNotAuthorized},
		{"unknown role", domain.Actor{ID: uuid.New(), Role: "guest"}, func(in *CreateVolumeInput) {}, domain.ErrNotAuthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := f.createInput(3)
			tt.mutate(&in)
			_, err := f.svc.Create(context.Background(), tt.actor, in)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
	assert.Empty(t, f.repo.Volumes)
}

func TestCreate_ConcurrentDuplicates(t *testing.T) {
	f := newVolumeFixture()

	var created, duplicates atomic.Int32
	var g errgroup.Group
	for i := 0; i < 20; i++ {
		g.Go(func() error {
			_, err := f.svc.Create(context.Background(), f.trainer, f.createInput(3))
			switch {
			case err == nil:
				created.Add(1)
			case errors.Is(err, domain.ErrDuplicatePeriod):
				duplicates.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, int32(1), created.Load())
	assert.Equal(t, int32(19), duplicates.Load())
	assert.Len(t, f.repo.Volumes, 1)
}

func TestCreate_AfterSoftDeleteFreesKey(t *testing.T) {
	f := newVolumeFixture()
	first := f.seed(domain.StatusDraft, 3)

	require.NoError(t, f.svc.Delete(context.Background(), f.admin, first.ID))
	_, err := f.svc.Create(context.Background(), f.trainer, f.createInput(3))
	assert.NoError(t, err)
}

func TestGet(t *testing.T) {
	f := newVolumeFixture()
	v := f.seed(domain.StatusSubmitted, 3)
	stranger := domain.Actor{ID: uuid.New(), Role: domain.RoleCustomer}

	for _, actor := range []domain.Actor{f.trainer, f.customer, f.admin} {
		got, err := f.svc.Get(context.Background(), actor, v.ID)
		require.NoError(t, err)
		assert.Equal(t, v.ID, got.ID)
	}

	_, err := f.svc.Get(context.Background(), stranger, v.ID)
	assert.ErrorIs(t, err, domain.ErrNotAuthorized)

	_, err = f.svc.Get(context.Background(), f.admin, uuid.New())
	assert.ErrorIs(t, err, domain.ErrVolumeNotFound)
}

func TestUpdate_EditGating(t *testing.T) {
	tests := []struct {
		status  domain.Status
		wantErr error
	}{
		{domain.StatusDraft, nil},
		{domain.StatusRejected, nil},
		{domain.StatusSubmitted, domain.ErrEditNotAllowed},
		{domain.StatusRead, domain.ErrEditNotAllowed},
		{domain.StatusApproved, domain.ErrEditNotAllowed},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			f := newVolumeFixture()
			v := f.seed(tt.status, 3)
			notes := "moved to tuesdays"

			got, err := f.svc.Update(context.Background(), f.trainer, v.ID, UpdateVolumeInput{SessionCount: intPtr(5), Notes: &notes})
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				stored := f.repo.Snapshot(v.ID)
				assert.Equal(t, 4, stored.SessionCount)
				assert.Nil(t, stored.Notes)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, 5, got.SessionCount)
			assert.Equal(t, "moved to tuesdays", *got.Notes)
			assert.Equal(t, tt.status, got.Status, "payload edits never change status")
		})
	}
}

func TestUpdate_Validation(t *testing.T) {
	f := newVolumeFixture()
	v := f.seed(domain.StatusDraft, 3)

	_, err := f.svc.Update(context.Background(), f.trainer, v.ID, UpdateVolumeInput{SessionCount: intPtr(-2)})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = f.svc.Update(context.Background(), f.customer, v.ID, UpdateVolumeInput{SessionCount: intPtr(2)})
	assert.ErrorIs(t, err, domain.ErrNotAuthorized)

	_, err = f.svc.Update(context.Background(), f.trainer, uuid.New(), UpdateVolumeInput{})
	assert.ErrorIs(t, err, domain.ErrVolumeNotFound)
}

func TestTransitions_Permissions(t *testing.T) {
	f := newVolumeFixture()
	ctx := context.Background()

	draft := f.seed(domain.StatusDraft, 1)
	_, err := f.svc.Submit(ctx, f.customer, draft.ID)
	assert.ErrorIs(t, err, domain.ErrNotAuthorized)

	submitted := f.seed(domain.StatusSubmitted, 2)
	_, err = f.svc.Approve(ctx, f.trainer, submitted.ID)
	assert.ErrorIs(t, err, domain.ErrNotAuthorized)
	_, err = f.svc.Reject(ctx, f.trainer, submitted.ID, "nope")
	assert.ErrorIs(t, err, domain.ErrNotAuthorized)
	_, err = f.svc.MarkRead(ctx, f.trainer, submitted.ID)
	assert.ErrorIs(t, err, domain.ErrNotAuthorized)

	rejected := f.seed(domain.StatusRejected, 3)
	_, err = f.svc.Reopen(ctx, f.customer, rejected.ID)
	assert.ErrorIs(t, err, domain.ErrNotAuthorized)

	otherCustomer := domain.Actor{ID: uuid.New(), Role: domain.RoleCustomer}
	_, err = f.svc.Approve(ctx, otherCustomer, submitted.ID)
	assert.ErrorIs(t, err, domain.ErrNotAuthorized)

	assert.Equal(t, 0, f.repo.UpdateCalls)
	assert.Equal(t, 6, f.recorder.denied)
}

func TestTransitions_ClosureThroughService(t *testing.T) {
	for _, from := range domain.AllStatuses {
		for _, ev := range domain.AllVolumeEvents {
			f := newVolumeFixture()
			v := f.seed(from, 3)

			_, err := f.svc.transition(context.Background(), f.admin, v.ID, ev, "because")
			if _, ok := domain.VolumeTransitionFor(from, ev); ok {
				assert.NoError(t, err, "%s from %s", ev, from)
				continue
			}
			assert.ErrorIs(t, err, domain.ErrInvalidTransition, "%s from %s", ev, from)
			assert.Equal(t, from, f.repo.Snapshot(v.ID).Status)
		}
	}
}

func TestApprovedIsTerminal(t *testing.T) {
	f := newVolumeFixture()
	ctx := context.Background()
	v := f.seed(domain.StatusApproved, 3)

	for _, actor := range []domain.Actor{f.admin, f.customer, f.trainer} {
		_, err := f.svc.Reject(ctx, actor, v.ID, "late change")
		assert.Error(t, err)
		_, err = f.svc.Reopen(ctx, actor, v.ID)
		assert.Error(t, err)
		_, err = f.svc.Update(ctx, actor, v.ID, UpdateVolumeInput{SessionCount: intPtr(9)})
		assert.Error(t, err)
	}
	assert.ErrorIs(t, f.svc.Delete(ctx, f.admin, v.ID), domain.ErrEditNotAllowed)

	stored := f.repo.Snapshot(v.ID)
	assert.Equal(t, domain.StatusApproved, stored.Status)
	assert.Nil(t, stored.DeletedAt)
	assert.Equal(t, 4, stored.SessionCount)
}

func TestReject_RequiresReason(t *testing.T) {
	f := newVolumeFixture()
	v := f.seed(domain.StatusSubmitted, 3)

	_, err := f.svc.Reject(context.Background(), f.customer, v.ID, "  ")
	assert.ErrorIs(t, err, domain.ErrMissingReason)
	assert.Equal(t, domain.StatusSubmitted, f.repo.Snapshot(v.ID).Status)
}

func TestApprove_FromSubmittedStampsRead(t *testing.T) {
	f := newVolumeFixture()
	v := f.seed(domain.StatusSubmitted, 3)

	got, err := f.svc.Approve(context.Background(), f.customer, v.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApproved, got.Status)
	assert.NotNil(t, got.ReadAt)
	assert.NotNil(t, got.ApprovedAt)
	assert.Equal(t, []string{"submitted->approved"}, f.recorder.transitions)
}

func TestTransition_RetriesOnceAfterStaleWrite(t *testing.T) {
	f := newVolumeFixture()
	v := f.seed(domain.StatusSubmitted, 3)

	var once sync.Once
	f.repo.BeforeUpdateFn = func(id uuid.UUID, expected domain.Status) {
		// The customer opens the record in another tab.
		once.Do(func() { f.repo.ForceStatus(id, domain.StatusRead) })
	}

	got, err := f.svc.Approve(context.Background(), f.customer, v.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApproved, got.Status)
	assert.Equal(t, 2, f.repo.UpdateCalls)
	assert.Equal(t, 1, f.recorder.retries)
	assert.Equal(t, 1, f.recorder.conflicts["stale_state"])
}

func TestTransition_SecondStaleWriteGivesUp(t *testing.T) {
	f := newVolumeFixture()
	v := f.seed(domain.StatusSubmitted, 3)

	f.repo.BeforeUpdateFn = func(id uuid.UUID, expected domain.Status) {
		if expected == domain.StatusSubmitted {
			f.repo.ForceStatus(id, domain.StatusRead)
		} else {
			f.repo.ForceStatus(id, domain.StatusSubmitted)
		}
	}

	_, err := f.svc.Approve(context.Background(), f.customer, v.ID)
	assert.ErrorIs(t, err, domain.ErrConcurrentModification)
	assert.Equal(t, 2, f.repo.UpdateCalls, "exactly one retry")
}

func TestApproveRejectRace_LoserSeesConcurrentModification(t *testing.T) {
	f := newVolumeFixture()
	v := f.seed(domain.StatusSubmitted, 3)

	var once sync.Once
	f.repo.BeforeUpdateFn = func(id uuid.UUID, expected domain.Status) {
		once.Do(func() { f.repo.ForceStatus(id, domain.StatusApproved) })
	}

	_, err := f.svc.Reject(context.Background(), f.customer, v.ID, "incorrect count")
	assert.ErrorIs(t, err, domain.ErrConcurrentModification)

	stored := f.repo.Snapshot(v.ID)
	assert.Equal(t, domain.StatusApproved, stored.Status)
	assert.Nil(t, stored.RejectionReason)
}

func TestApproveRejectRace_Concurrent(t *testing.T) {
	for round := 0; round < 20; round++ {
		f := newVolumeFixture()
		v := f.seed(domain.StatusSubmitted, 3)

		var wins atomic.Int32
		var g errgroup.Group
		for i := 0; i < 4; i++ {
			approve := i%2 == 0
			g.Go(func() error {
				var err error
				if approve {
					_, err = f.svc.Approve(context.Background(), f.customer, v.ID)
				} else {
					_, err = f.svc.Reject(context.Background(), f.customer, v.ID, "incorrect count")
				}
				switch {
				case err == nil:
					wins.Add(1)
				case errors.Is(err, domain.ErrConcurrentModification), errors.Is(err, domain.ErrInvalidTransition):
				default:
					return err
				}
				return nil
			})
		}
		require.NoError(t, g.Wait())

		assert.Equal(t, int32(1), wins.Load(), "round %d", round)
		stored := f.repo.Snapshot(v.ID)
		switch stored.Status {
		case domain.StatusApproved:
			assert.Nil(t, stored.RejectionReason)
			assert.NotNil(t, stored.ApprovedAt)
		case domain.StatusRejected:
			assert.Equal(t, "incorrect count", *stored.RejectionReason)
			assert.Nil(t, stored.ApprovedAt)
		default:
			t.Fatalf("unexpected final status %s", stored.Status)
		}
	}
}

func TestDelete(t *testing.T) {
	tests := []struct {
		status  domain.Status
		wantErr error
	}{
		{domain.StatusDraft, nil},
		{domain.StatusSubmitted, nil},
		{domain.StatusRejected, nil},
		{domain.StatusRead, domain.ErrEditNotAllowed},
		{domain.StatusApproved, domain.ErrEditNotAllowed},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			f := newVolumeFixture()
			v := f.seed(tt.status, 3)

			assert.ErrorIs(t, f.svc.Delete(context.Background(), f.trainer, v.ID), domain.ErrNotAuthorized)
			assert.ErrorIs(t, f.svc.Delete(context.Background(), f.customer, v.ID), domain.ErrNotAuthorized)

			err := f.svc.Delete(context.Background(), f.admin, v.ID)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, f.repo.Snapshot(v.ID).DeletedAt)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, f.repo.Snapshot(v.ID).DeletedAt)

			_, err = f.svc.Get(context.Background(), f.admin, v.ID)
			assert.ErrorIs(t, err, domain.ErrVolumeNotFound)
		})
	}
}

func TestDelete_StoreGuardWins(t *testing.T) {
	f := newVolumeFixture()
	v := f.seed(domain.StatusSubmitted, 3)

	// Approval lands between the service check and the store write.
	f.repo.GetByIDFn = func(id uuid.UUID) (*domain.SessionVolume, error) {
		snap := f.repo.Snapshot(id)
		f.repo.ForceStatus(id, domain.StatusApproved)
		return snap, nil
	}

	err := f.svc.Delete(context.Background(), f.admin, v.ID)
	assert.ErrorIs(t, err, domain.ErrEditNotAllowed)
	assert.Nil(t, f.repo.Snapshot(v.ID).DeletedAt)
}

func TestRestore(t *testing.T) {
	f := newVolumeFixture()
	ctx := context.Background()
	v := f.seed(domain.StatusDraft, 3)
	require.NoError(t, f.svc.Delete(ctx, f.admin, v.ID))

	_, err := f.svc.Restore(ctx, f.trainer, v.ID)
	assert.ErrorIs(t, err, domain.ErrNotAuthorized)

	replacement, err := f.svc.Create(ctx, f.trainer, f.createInput(3))
	require.NoError(t, err)

	_, err = f.svc.Restore(ctx, f.admin, v.ID)
	assert.ErrorIs(t, err, domain.ErrDuplicatePeriod)

	require.NoError(t, f.svc.Delete(ctx, f.admin, replacement.ID))
	restored, err := f.svc.Restore(ctx, f.admin, v.ID)
	require.NoError(t, err)
	assert.Nil(t, restored.DeletedAt)
}

func TestList_RoleVisibility(t *testing.T) {
	f := newVolumeFixture()
	ctx := context.Background()
	otherTrainer := domain.Actor{ID: uuid.New(), Role: domain.RoleTrainer}
	otherCustomer := domain.Actor{ID: uuid.New(), Role: domain.RoleCustomer}

	f.seed(domain.StatusDraft, 1)
	f.seed(domain.StatusSubmitted, 2)
	f.repo.AddVolume(&domain.SessionVolume{TrainerID: otherTrainer.ID, CustomerID: otherCustomer.ID, Period: domain.PeriodKey{Year: 2024, Month: 1}, Status: domain.StatusDraft})
	f.repo.AddVolume(&domain.SessionVolume{TrainerID: otherTrainer.ID, CustomerID: f.customer.ID, Period: domain.PeriodKey{Year: 2024, Month: 1}, Status: domain.StatusApproved})

	tests := []struct {
		name  string
		actor domain.Actor
		input ListVolumesInput
		want  int
	}{
		{"admin sees all", f.admin, ListVolumesInput{}, 4},
		{"trainer sees own", f.trainer, ListVolumesInput{}, 2},
		{"trainer cannot widen", f.trainer, ListVolumesInput{TrainerID: &otherTrainer.ID}, 2},
		{"customer sees own across trainers", f.customer, ListVolumesInput{}, 3},
		{"customer cannot widen", f.customer, ListVolumesInput{CustomerID: &otherCustomer.ID}, 3},
		{"customer narrows by trainer", f.customer, ListVolumesInput{TrainerID: &otherTrainer.ID}, 1},
		{"other customer", otherCustomer, ListVolumesInput{}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := f.svc.List(ctx, tt.actor, tt.input)
			require.NoError(t, err)
			assert.Len(t, page.Items, tt.want)
			assert.Equal(t, tt.want, page.Total)
			for _, item := range page.Items {
				switch tt.actor.Role {
				case domain.RoleTrainer:
					assert.Equal(t, tt.actor.ID, item.TrainerID)
				case domain.RoleCustomer:
					assert.Equal(t, tt.actor.ID, item.CustomerID)
				}
			}
		})
	}

	_, err := f.svc.List(ctx, domain.Actor{ID: uuid.New(), Role: "guest"}, ListVolumesInput{})
	assert.ErrorIs(t, err, domain.ErrNotAuthorized)
}

func TestList_Paging(t *testing.T) {
	f := newVolumeFixture()
	for month := 1; month <= 5; month++ {
		f.seed(domain.StatusDraft, month)
	}

	page, err := f.svc.List(context.Background(), f.trainer, ListVolumesInput{Offset: 1, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 5, page.Total)
	require.Len(t, page.Items, 2)
	assert.Equal(t, 4, page.Items[0].Period.Month)
	assert.Equal(t, 3, page.Items[1].Period.Month)

	page, err = f.svc.List(context.Background(), f.trainer, ListVolumesInput{})
	require.NoError(t, err)
	assert.Equal(t, DefaultVolumePageSize, page.Limit)

	page, err = f.svc.List(context.Background(), f.trainer, ListVolumesInput{Limit: 5000})
	require.NoError(t, err)
	assert.Equal(t, MaxVolumePageSize, page.Limit)

	_, err = f.svc.List(context.Background(), f.trainer, ListVolumesInput{Offset: -1})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	from := domain.PeriodKey{Year: 2024, Month: 4}
	to := domain.PeriodKey{Year: 2024, Month: 2}
	_, err = f.svc.List(context.Background(), f.trainer, ListVolumesInput{From: &from, To: &to})
	assert.ErrorIs(t, err, domain.ErrInvalidPeriod)
}

func TestGetByPeriod(t *testing.T) {
	f := newVolumeFixture()
	f.seed(domain.StatusDraft, 3)
	f.seed(domain.StatusDraft, 4)
	f.repo.AddVolume(&domain.SessionVolume{TrainerID: uuid.New(), CustomerID: uuid.New(), Period: domain.PeriodKey{Year: 2024, Month: 3}, Status: domain.StatusDraft})

	got, err := f.svc.GetByPeriod(context.Background(), f.trainer, 2024, 3)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, f.trainer.ID, got[0].TrainerID)

	got, err = f.svc.GetByPeriod(context.Background(), f.admin, 2024, 3)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	f.repo.FindErr = errors.New("store must not be reached")
	_, err = f.svc.GetByPeriod(context.Background(), f.trainer, 2024, 13)
	assert.ErrorIs(t, err, domain.ErrInvalidPeriod)
}

func TestStats(t *testing.T) {
	f := newVolumeFixture()
	secondCustomer := uuid.New()

	f.seed(domain.StatusApproved, 1)
	f.seed(domain.StatusDraft, 2)
	f.repo.AddVolume(&domain.SessionVolume{
		TrainerID: f.trainer.ID, CustomerID: secondCustomer, Period: domain.PeriodKey{Year: 2024, Month: 1},
		Status: domain.StatusApproved, VolumePayload: domain.VolumePayload{SessionCount: 6},
	})
	f.repo.AddVolume(&domain.SessionVolume{
		TrainerID: uuid.New(), CustomerID: f.customer.ID, Period: domain.PeriodKey{Year: 2024, Month: 1},
		Status: domain.StatusSubmitted, VolumePayload: domain.VolumePayload{SessionCount: 10},
	})

	stats, err := f.svc.Stats(context.Background(), f.trainer, ListVolumesInput{})
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Records)
	assert.Equal(t, 14, stats.TotalSessions)
	assert.Equal(t, 2, stats.DistinctCustomers)
	assert.Equal(t, 1, stats.DistinctTrainers)
	assert.Equal(t, 2, stats.ByStatus[domain.StatusApproved])
	assert.Equal(t, 0, stats.ByStatus[domain.StatusRejected])

	approved := domain.StatusApproved
	stats, err = f.svc.Stats(context.Background(), f.customer, ListVolumesInput{Status: &approved})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Records)
	assert.Equal(t, 4, stats.TotalSessions)

	// Paging never truncates the aggregate, and rows are never loaded.
	stats, err = f.svc.Stats(context.Background(), f.trainer, ListVolumesInput{Limit: 1, Offset: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Records)
	assert.Equal(t, 0, f.repo.FindCalls)
	assert.Equal(t, 3, f.repo.StatsCalls)
}

func TestWorkflowScenario(t *testing.T) {
	f := newVolumeFixture()
	ctx := context.Background()

	// 1. Trainer creates a draft.
	v, err := f.svc.Create(ctx, f.trainer, f.createInput(3))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDraft, v.Status)

	// 2. Trainer submits; edits are now refused.
	v, err = f.svc.Submit(ctx, f.trainer, v.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSubmitted, v.Status)
	_, err = f.svc.Update(ctx, f.trainer, v.ID, UpdateVolumeInput{SessionCount: intPtr(5)})
	assert.ErrorIs(t, err, domain.ErrEditNotAllowed)

	// 3. Customer rejects with a reason.
	v, err = f.svc.Reject(ctx, f.customer, v.ID, "incorrect count")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRejected, v.Status)
	require.NotNil(t, v.RejectionReason)
	assert.Equal(t, "incorrect count", *v.RejectionReason)

	// 4. Trainer reopens, fixes the count and resubmits.
	v, err = f.svc.Reopen(ctx, f.trainer, v.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDraft, v.Status)
	assert.Nil(t, v.RejectionReason)
	v, err = f.svc.Update(ctx, f.trainer, v.ID, UpdateVolumeInput{SessionCount: intPtr(5)})
	require.NoError(t, err)
	assert.Equal(t, 5, v.SessionCount)
	v, err = f.svc.Submit(ctx, f.trainer, v.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSubmitted, v.Status)

	// 5. Customer approves; admin cannot delete it.
	v, err = f.svc.Approve(ctx, f.customer, v.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApproved, v.Status)
	assert.ErrorIs(t, f.svc.Delete(ctx, f.admin, v.ID), domain.ErrEditNotAllowed)
	assert.Nil(t, f.repo.Snapshot(v.ID).DeletedAt)

	// 6. A second volume for the same period is a duplicate.
	_, err = f.svc.Create(ctx, f.trainer, f.createInput(3))
	assert.ErrorIs(t, err, domain.ErrDuplicatePeriod)

	assert.Equal(t, []string{
		"draft->submitted",
		"submitted->rejected",
		"rejected->draft",
		"draft->submitted",
		"submitted->approved",
	}, f.recorder.transitions)
}
