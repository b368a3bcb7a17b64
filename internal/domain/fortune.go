package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// FortuneDayLayout is the wire and payload format of a fortune day.
const FortuneDayLayout = "2006-01-02"

// Validation errors for DailyFortune
var (
	ErrEmptyFortuneUserID = fmt.Errorf("%w: fortune user ID cannot be empty", ErrValidation)
	ErrEmptyFortuneDay    = fmt.Errorf("%w: fortune day cannot be empty", ErrValidation)
)

// DailyFortune is the fortune text generated for a user on one calendar day.
// At most one exists per (UserID, Day).
type DailyFortune struct {
	ID        uuid.UUID  `json:"id"`
	UserID    uuid.UUID  `json:"user_id"`
	Content   *string    `json:"content"`
	Day       time.Time  `json:"generated_at"`
	Status    TaskStatus `json:"status"`
	TaskID    *uuid.UUID `json:"task_id,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// FortuneDay returns the calendar day of now in loc, as a UTC midnight value
// suitable for a DATE column. A nil loc means UTC.
func FortuneDay(now time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
}

// NewPendingFortune creates the placeholder fortune for userID on day.
func NewPendingFortune(userID uuid.UUID, day time.Time) (*DailyFortune, error) {
	now := time.Now().UTC()
	fortune := &DailyFortune{
		ID:        uuid.New(),
		UserID:    userID,
		Day:       day,
		Status:    TaskStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := fortune.Validate(); err != nil {
		return nil, err
	}
	return fortune, nil
}

// Validate checks if the DailyFortune has valid data.
func (f *DailyFortune) Validate() error {
	if f.UserID == uuid.Nil {
		return ErrEmptyFortuneUserID
	}
	if f.Day.IsZero() {
		return ErrEmptyFortuneDay
	}
	if !f.Status.Valid() {
		return ErrInvalidMirrorStatus
	}
	return nil
}

// DailyFortunePayload is the stored task payload of a daily_fortune task.
type DailyFortunePayload struct {
	Day string `json:"day"`
}
