package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Plausible calendar window for a volume period
const (
	MinPeriodYear = 2000
	MaxPeriodYear = 2100
)

// PeriodKey identifies a billing month
type PeriodKey struct {
	Year  int `json:"year"`
	Month int `json:"month"`
}

// NewPeriodKey validates and builds a PeriodKey
func NewPeriodKey(year, month int) (PeriodKey, error) {
	if month < 1 || month > 12 {
		return PeriodKey{}, fmt.Errorf("%w: month must be between 1 and 12, got %d", ErrInvalidPeriod, month)
	}
	if year < MinPeriodYear || year > MaxPeriodYear {
		return PeriodKey{}, fmt.Errorf("%w: year must be between %d and %d, got %d", ErrInvalidPeriod, MinPeriodYear, MaxPeriodYear, year)
	}
	return PeriodKey{Year: year, Month: month}, nil
}

// ParsePeriodKey parses the canonical YYYY-MM form
func ParsePeriodKey(s string) (PeriodKey, error) {
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return PeriodKey{}, fmt.Errorf("%w: %q is not in YYYY-MM form", ErrInvalidPeriod, s)
	}
	return NewPeriodKey(t.Year(), int(t.Month()))
}

// PeriodKeyFromDate returns the period containing t
func PeriodKeyFromDate(t time.Time) (PeriodKey, error) {
	return NewPeriodKey(t.Year(), int(t.Month()))
}

// String returns the canonical YYYY-MM form
func (p PeriodKey) String() string {
	return fmt.Sprintf("%04d-%02d", p.Year, p.Month)
}

// IsZero reports whether the key was never set
func (p PeriodKey) IsZero() bool {
	return p.Year == 0 && p.Month == 0
}

// Compare orders periods by year, then month. It returns -1, 0 or 1.
func (p PeriodKey) Compare(other PeriodKey) int {
	switch {
	case p.Year < other.Year:
		return -1
	case p.Year > other.Year:
		return 1
	case p.Month < other.Month:
		return -1
	case p.Month > other.Month:
		return 1
	}
	return 0
}

// Before reports whether p is earlier than other
func (p PeriodKey) Before(other PeriodKey) bool {
	return p.Compare(other) < 0
}

// FirstDay returns midnight UTC on the first day of the period
func (p PeriodKey) FirstDay() time.Time {
	return time.Date(p.Year, time.Month(p.Month), 1, 0, 0, 0, 0, time.UTC)
}

// VolumeKey is the uniqueness key of a session volume
type VolumeKey struct {
	TrainerID  uuid.UUID
	CustomerID uuid.UUID
	Period     PeriodKey
}

// String returns the canonical trainer/customer/YYYY-MM form
func (k VolumeKey) String() string {
	return fmt.Sprintf("%s/%s/%s", k.TrainerID, k.CustomerID, k.Period)
}
