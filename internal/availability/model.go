package availability

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TimeOfDay is a wall-clock time in minutes after midnight.
type TimeOfDay int

// ParseTimeOfDay parses "HH:MM" (24h).
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("%w: time %q must be HH:MM", ErrInvalidAvailability, s)
	}
	return TimeOfDay(t.Hour()*60 + t.Minute()), nil
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", int(t)/60, int(t)%60)
}

// Duration converts t to an offset from midnight.
func (t TimeOfDay) Duration() time.Duration {
	return time.Duration(t) * time.Minute
}

func (t TimeOfDay) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *TimeOfDay) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseTimeOfDay(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Availability is a doctor's weekly working window with a daily admission cap.
// At most one entry exists per (DoctorID, DayOfWeek).
type Availability struct {
	ID            uuid.UUID
	DoctorID      uuid.UUID
	DayOfWeek     time.Weekday
	StartTime     TimeOfDay
	EndTime       TimeOfDay
	DailyCapacity int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (a Availability) Validate() error {
	if a.DoctorID == uuid.Nil {
		return fmt.Errorf("%w: doctor id is required", ErrInvalidAvailability)
	}
	if a.DayOfWeek < time.Sunday || a.DayOfWeek > time.Saturday {
		return fmt.Errorf("%w: day of week must be 0-6", ErrInvalidAvailability)
	}
	if a.StartTime < 0 || a.EndTime > 24*60 {
		return fmt.Errorf("%w: time out of range", ErrInvalidAvailability)
	}
	if a.StartTime >= a.EndTime {
		return fmt.Errorf("%w: start time must be before end time", ErrInvalidAvailability)
	}
	if a.DailyCapacity <= 0 {
		return fmt.Errorf("%w: daily capacity must be positive", ErrInvalidAvailability)
	}
	return nil
}
