// Package punctuality labels attendance records against the configured hours.
// It is the only place lateness and early leave are decided.
package punctuality

import (
	"fmt"
	"time"

	"schoolattendance/internal/model"
)

// Label is the punctuality verdict for a record.
type Label string

const (
	OnTime     Label = "On Time"
	Late       Label = "Late"
	EarlyLeave Label = "Early Leave"
)

// ParseClock converts "HH:MM" into seconds since midnight.
func ParseClock(hhmm string) (int, error) {
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		return 0, fmt.Errorf("invalid clock %q: want HH:MM", hhmm)
	}
	return t.Hour()*3600 + t.Minute()*60, nil
}

// ValidateHours checks every window parses and that each pair is ordered.
func ValidateHours(h model.AttendanceHours) error {
	startIn, err := ParseClock(h.StartIn)
	if err != nil {
		return fmt.Errorf("startIn: %w", err)
	}
	endIn, err := ParseClock(h.EndIn)
	if err != nil {
		return fmt.Errorf("endIn: %w", err)
	}
	startOut, err := ParseClock(h.StartOut)
	if err != nil {
		return fmt.Errorf("startOut: %w", err)
	}
	endOut, err := ParseClock(h.EndOut)
	if err != nil {
		return fmt.Errorf("endOut: %w", err)
	}
	if endIn < startIn {
		return fmt.Errorf("endIn %s is before startIn %s", h.EndIn, h.StartIn)
	}
	if endOut < startOut {
		return fmt.Errorf("endOut %s is before startOut %s", h.EndOut, h.StartOut)
	}
	return nil
}

// Classify labels a record. ts is viewed in loc, the single local timezone the
// hours are configured in. Seconds count: with endIn 08:30, 08:30:00 is on time
// and 08:30:01 is late. A nil loc means no conversion: the wall clock carried by
// ts is compared as is.
func Classify(ts time.Time, dir model.Direction, h model.AttendanceHours, loc *time.Location) (Label, error) {
	if loc != nil {
		ts = ts.In(loc)
	}
	sec := ts.Hour()*3600 + ts.Minute()*60 + ts.Second()

	switch dir {
	case model.DirectionIn:
		cutoff, err := ParseClock(h.EndIn)
		if err != nil {
			return "", err
		}
		if sec <= cutoff {
			return OnTime, nil
		}
		return Late, nil
	case model.DirectionOut:
		cutoff, err := ParseClock(h.StartOut)
		if err != nil {
			return "", err
		}
		if sec >= cutoff {
			return OnTime, nil
		}
		return EarlyLeave, nil
	}
	return "", fmt.Errorf("unknown direction %q", dir)
}

// Record classifies a stored attendance record.
func Record(rec model.AttendanceRecord, h model.AttendanceHours, loc *time.Location) (Label, error) {
	return Classify(rec.Timestamp, rec.Type, h, loc)
}
