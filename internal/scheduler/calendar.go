package scheduler

import (
	"fmt"
	"time"

	"github.com/sapliy/nightly-giving/internal/ledger/domain"
)

// DefaultStartDate is the calendar date of night 21.
const DefaultStartDate = "2025-03-22"

// Calendar maps campaign nights to fire instants. Night 21 falls on Start
// and each following night on the next day.
type Calendar struct {
	Start    time.Time
	Location *time.Location

	// DemoInterval, when positive, replaces the calendar: night i fires
	// (i+1) x DemoInterval after arming, i counting from zero.
	DemoInterval time.Duration
}

// NewCalendar parses a YYYY-MM-DD start date in the named IANA zone.
func NewCalendar(startDate, timezone string, demoInterval time.Duration) (*Calendar, error) {
	loc := time.UTC
	if timezone != "" {
		var err error
		loc, err = time.LoadLocation(timezone)
		if err != nil {
			return nil, fmt.Errorf("invalid timezone: %w", err)
		}
	}
	if startDate == "" {
		startDate = DefaultStartDate
	}
	start, err := time.ParseInLocation(time.DateOnly, startDate, loc)
	if err != nil {
		return nil, fmt.Errorf("invalid campaign start date %q: %w", startDate, err)
	}
	return &Calendar{Start: start, Location: loc, DemoInterval: demoInterval}, nil
}

// NightDate returns midnight of the night's calendar day.
func (c *Calendar) NightDate(night int) (time.Time, error) {
	if !domain.ValidNight(night) {
		return time.Time{}, fmt.Errorf("%w: %d", ErrInvalidNight, night)
	}
	y, m, d := c.Start.Date()
	return time.Date(y, m, d+night-domain.FirstNight, 0, 0, 0, 0, c.location()), nil
}

// FireAt returns when the reminder for night should fire.
func (c *Calendar) FireAt(night int, reminderTime string, armedAt time.Time) (time.Time, error) {
	if !domain.ValidNight(night) {
		return time.Time{}, fmt.Errorf("%w: %d", ErrInvalidNight, night)
	}
	if c.DemoInterval > 0 {
		return armedAt.Add(time.Duration(night-domain.FirstNight+1) * c.DemoInterval), nil
	}

	h, m, err := domain.ParseReminderTime(reminderTime)
	if err != nil {
		return time.Time{}, err
	}
	date, err := c.NightDate(night)
	if err != nil {
		return time.Time{}, err
	}
	y, mo, d := date.Date()
	return time.Date(y, mo, d, h, m, 0, 0, c.location()), nil
}

func (c *Calendar) location() *time.Location {
	if c.Location == nil {
		return time.UTC
	}
	return c.Location
}
