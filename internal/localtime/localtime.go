// Package localtime formats the store's timestamps. The backing store keeps
// them as human-readable strings in a fixed local timezone (the courier
// operates in Ecuador), so formatting and parsing must agree on the zone.
package localtime

import (
	"time"

	"github.com/pkg/errors"
)

const (
	Layout          = "2006-01-02 15:04:05"
	DefaultTimezone = "America/Guayaquil"
)

type Clock struct {
	loc *time.Location
}

func New(tzName string) (*Clock, error) {
	if tzName == "" {
		tzName = DefaultTimezone
	}
	loc, err := time.LoadLocation(tzName)
	if err != nil {
		return nil, errors.Wrapf(err, "load timezone %q", tzName)
	}
	return &Clock{loc: loc}, nil
}

// Now returns the current time formatted for storage.
func (c *Clock) Now() string {
	return c.Format(time.Now())
}

func (c *Clock) Format(t time.Time) string {
	return t.In(c.loc).Format(Layout)
}

// Parse reads a stored timestamp back in the clock's zone.
func (c *Clock) Parse(s string) (time.Time, error) {
	t, err := time.ParseInLocation(Layout, s, c.loc)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "parse timestamp %q", s)
	}
	return t, nil
}
