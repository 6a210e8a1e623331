package model

import (
	"fmt"
	"strings"
	"time"
)

// NaiveLayouts are the accepted forms of a date-time without offset.
var NaiveLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// ParseEventTime reads user input: a date ("2022-08-22"), an instant with
// offset (RFC 3339) or a naive date-time. Naive values are bound to zone,
// or floating when zone is nil.
func ParseEventTime(raw string, zone *time.Location) (EventTime, error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse(time.DateOnly, raw); err == nil {
		return DateOf(t), nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return Instant(t), nil
	}
	for _, layout := range NaiveLayouts {
		t, err := time.Parse(layout, raw)
		if err != nil {
			continue
		}
		if zone != nil {
			return Zoned(t, zone.String()), nil
		}
		return Floating(t), nil
	}
	return EventTime{}, fmt.Errorf("unrecognized time %q", raw)
}

// ParseBound reads a window bound. Dates are midnight in loc; naive
// date-times are taken in loc.
func ParseBound(raw string, loc *time.Location) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation(time.DateOnly, raw, loc); err == nil {
		return t, nil
	}
	for _, layout := range NaiveLayouts {
		if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", raw)
}
