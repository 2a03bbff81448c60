package testutil

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/bodyback/bodyback-backend/internal/domain"
	"github.com/google/uuid"
)

// MockSessionVolumeRepository is an in-memory domain.SessionVolumeRepository.
// Every method holds the lock for its whole body, so writes are atomic in the
// same way the SQL stores are.
type MockSessionVolumeRepository struct {
	mu      sync.Mutex
	Volumes map[uuid.UUID]*domain.SessionVolume
	Now     func() time.Time

	// BeforeUpdateFn runs before the conditional write of Update, outside the
	// lock. Tests use it to slip a competing write in between.
	BeforeUpdateFn func(id uuid.UUID, expected domain.Status)
	GetByIDFn      func(id uuid.UUID) (*domain.SessionVolume, error)
	FindErr        error

	UpdateCalls int
	FindCalls   int
	StatsCalls  int
}

// NewMockSessionVolumeRepository creates a new MockSessionVolumeRepository
func NewMockSessionVolumeRepository() *MockSessionVolumeRepository {
	return &MockSessionVolumeRepository{
		Volumes: make(map[uuid.UUID]*domain.SessionVolume),
		Now:     time.Now,
	}
}

// Create inserts a record, enforcing the live-key uniqueness rule
func (m *MockSessionVolumeRepository) Create(ctx context.Context, volume *domain.SessionVolume) (*domain.SessionVolume, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.liveKeyTaken(volume.Key(), uuid.Nil) {
		return nil, domain.ErrVolumeConflict
	}

	v := volume.Clone()
	v.ID = uuid.New()
	now := m.Now()
	v.CreatedAt = now
	v.UpdatedAt = now
	v.DeletedAt = nil
	m.Volumes[v.ID] = v
	return v.Clone(), nil
}

// GetByID retrieves a live record
func (m *MockSessionVolumeRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.SessionVolume, error) {
	if m.GetByIDFn != nil {
		return m.GetByIDFn(id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.Volumes[id]
	if !ok || v.IsDeleted() {
		return nil, domain.ErrVolumeNotFound
	}
	return v.Clone(), nil
}

// Find returns live records matching filter, newest period first
func (m *MockSessionVolumeRepository) Find(ctx context.Context, filter domain.VolumeFilter) ([]*domain.SessionVolume, error) {
	if m.FindErr != nil {
		return nil, m.FindErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.FindCalls++
	matched := m.match(filter)
	sort.Slice(matched, func(i, j int) bool {
		if c := matched[i].Period.Compare(matched[j].Period); c != 0 {
			return c > 0
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			return []*domain.SessionVolume{}, nil
		}
		matched = matched[filter.Offset:]
	}
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}

	result := make([]*domain.SessionVolume, 0, len(matched))
	for _, v := range matched {
		result = append(result, v.Clone())
	}
	return result, nil
}

// Count returns the number of live records matching filter, ignoring paging
func (m *MockSessionVolumeRepository) Count(ctx context.Context, filter domain.VolumeFilter) (int, error) {
	if m.FindErr != nil {
		return 0, m.FindErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.match(filter)), nil
}

// Stats aggregates live records matching filter, ignoring paging
func (m *MockSessionVolumeRepository) Stats(ctx context.Context, filter domain.VolumeFilter) (*domain.VolumeStats, error) {
	if m.FindErr != nil {
		return nil, m.FindErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.StatsCalls++
	stats := domain.NewVolumeStats()
	customers := make(map[uuid.UUID]struct{})
	trainers := make(map[uuid.UUID]struct{})
	for _, v := range m.match(filter) {
		stats.Records++
		stats.TotalSessions += v.SessionCount
		stats.ByStatus[v.Status]++
		customers[v.CustomerID] = struct{}{}
		trainers[v.TrainerID] = struct{}{}
	}
	stats.DistinctCustomers = len(customers)
	stats.DistinctTrainers = len(trainers)
	return stats, nil
}

// Update writes mutation only if the stored status equals expected
func (m *MockSessionVolumeRepository) Update(ctx context.Context, id uuid.UUID, expected domain.Status, mutation domain.VolumeMutation) (*domain.SessionVolume, error) {
	if m.BeforeUpdateFn != nil {
		m.BeforeUpdateFn(id, expected)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.UpdateCalls++

	v, ok := m.Volumes[id]
	if !ok || v.IsDeleted() {
		return nil, domain.ErrVolumeNotFound
	}
	if v.Status != expected {
		return nil, domain.ErrStaleState
	}
	v.Apply(mutation)
	v.UpdatedAt = m.Now()
	return v.Clone(), nil
}

// SoftDelete marks a deletable record as deleted
func (m *MockSessionVolumeRepository) SoftDelete(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.Volumes[id]
	if !ok || v.IsDeleted() {
		return domain.ErrVolumeNotFound
	}
	if !v.Status.IsDeletable() {
		return domain.ErrVolumeConflict
	}
	now := m.Now()
	v.DeletedAt = &now
	v.UpdatedAt = now
	return nil
}

// Restore clears the deletion marker
func (m *MockSessionVolumeRepository) Restore(ctx context.Context, id uuid.UUID) (*domain.SessionVolume, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.Volumes[id]
	if !ok || !v.IsDeleted() {
		return nil, domain.ErrVolumeNotFound
	}
	if m.liveKeyTaken(v.Key(), v.ID) {
		return nil, domain.ErrVolumeConflict
	}
	v.DeletedAt = nil
	v.UpdatedAt = m.Now()
	return v.Clone(), nil
}

// AddVolume stores a record as-is (helper for tests)
func (m *MockSessionVolumeRepository) AddVolume(v *domain.SessionVolume) *domain.SessionVolume {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = m.Now()
		v.UpdatedAt = v.CreatedAt
	}
	m.Volumes[v.ID] = v.Clone()
	return v
}

// Snapshot returns a copy of a record including deleted ones (helper for tests)
func (m *MockSessionVolumeRepository) Snapshot(id uuid.UUID) *domain.SessionVolume {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.Volumes[id]
	if !ok {
		return nil
	}
	return v.Clone()
}

// ForceStatus overwrites a status without any checks (helper for tests)
func (m *MockSessionVolumeRepository) ForceStatus(id uuid.UUID, status domain.Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.Volumes[id]; ok {
		v.Status = status
	}
}

func (m *MockSessionVolumeRepository) liveKeyTaken(key domain.VolumeKey, except uuid.UUID) bool {
	for _, v := range m.Volumes {
		if v.ID != except && !v.IsDeleted() && v.Key() == key {
			return true
		}
	}
	return false
}

func (m *MockSessionVolumeRepository) match(f domain.VolumeFilter) []*domain.SessionVolume {
	var out []*domain.SessionVolume
	for _, v := range m.Volumes {
		if v.IsDeleted() {
			continue
		}
		if f.TrainerID != nil && v.TrainerID != *f.TrainerID {
			continue
		}
		if f.CustomerID != nil && v.CustomerID != *f.CustomerID {
			continue
		}
		if f.Status != nil && v.Status != *f.Status {
			continue
		}
		if f.Period != nil && v.Period != *f.Period {
			continue
		}
		if f.From != nil && v.Period.Before(*f.From) {
			continue
		}
		if f.To != nil && f.To.Before(v.Period) {
			continue
		}
		out = append(out, v)
	}
	return out
}

// MockReportRepository is an in-memory storage.ReportRepository
type MockReportRepository struct {
	mu        sync.Mutex
	Objects   map[string][]byte
	Types     map[string]string
	UploadErr error
}

// NewMockReportRepository creates a new MockReportRepository
func NewMockReportRepository() *MockReportRepository {
	return &MockReportRepository{
		Objects: make(map[string][]byte),
		Types:   make(map[string]string),
	}
}

// Upload stores the object body
func (m *MockReportRepository) Upload(ctx context.Context, objectPath string, data io.Reader, contentType string, size int64) (string, error) {
	if m.UploadErr != nil {
		return "", m.UploadErr
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, data); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Objects[objectPath] = buf.Bytes()
	m.Types[objectPath] = contentType
	return objectPath, nil
}

// GeneratePresignedURL returns a fake signed URL for a stored object
func (m *MockReportRepository) GeneratePresignedURL(ctx context.Context, objectPath string, expiry time.Duration) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.Objects[objectPath]; !ok {
		return "", fmt.Errorf("object %s not found", objectPath)
	}
	return fmt.Sprintf("https://reports.test/%s?expires=%d", objectPath, int(expiry.Seconds())), nil
}

// Object returns a stored body (helper for tests)
func (m *MockReportRepository) Object(objectPath string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.Objects[objectPath]
	return b, ok
}
