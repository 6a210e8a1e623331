package calendar

import (
	"errors"
	"strings"
	"time"

	"localcal/internal/ics"
	"localcal/internal/model"
)

// upcomingHorizons are the successively larger windows searched by
// NextUpcoming.
var upcomingHorizons = []time.Duration{
	24 * time.Hour,
	7 * 24 * time.Hour,
	31 * 24 * time.Hour,
	366 * 24 * time.Hour,
	10 * 366 * 24 * time.Hour,
}

// IncompleteError reports a query result that leaves occurrences out.
// Truncated series reached the per-series occurrence cap inside the window
// and only their earliest occurrences are present; skipped series could not
// be evaluated at all.
type IncompleteError struct {
	Truncated []string
	Skipped   []string
}

func (e *IncompleteError) Error() string {
	var parts []string
	if len(e.Truncated) > 0 {
		parts = append(parts, "truncated "+strings.Join(e.Truncated, ", "))
	}
	if len(e.Skipped) > 0 {
		parts = append(parts, "skipped "+strings.Join(e.Skipped, ", "))
	}
	return "calendar: incomplete result: " + strings.Join(parts, "; ")
}

// Query returns the occurrences overlapping [start, end), ordered by start,
// UID and recurrence key, converted into display (the calendar's zone when
// nil).
//
// When a series is truncated or skipped the occurrences that were produced
// are returned together with an *IncompleteError.
func (c *LocalCalendar) Query(start, end time.Time, display *time.Location) ([]model.Occurrence, error) {
	if end.Before(start) {
		return nil, validationError("window end is before its start")
	}
	res, err := ics.ExpandCalendar(c.snap.Load(), ics.ExpandConfig{
		Env:             c.env,
		DisplayLocation: display,
		RangeStart:      start,
		RangeEnd:        end,
	})
	if err != nil {
		return nil, err
	}
	if len(res.TruncatedEvents) > 0 || len(res.SkippedEvents) > 0 {
		return res.Occurrences, &IncompleteError{Truncated: res.TruncatedEvents, Skipped: res.SkippedEvents}
	}
	return res.Occurrences, nil
}

// ActiveNow returns the occurrence containing at. When several do, the one
// ending soonest wins.
func (c *LocalCalendar) ActiveNow(at time.Time) (model.Occurrence, bool, error) {
	occ, err := c.Query(at, at.Add(time.Nanosecond), nil)
	if err != nil {
		return model.Occurrence{}, false, err
	}
	var (
		best  model.Occurrence
		found bool
	)
	for _, o := range occ {
		if !o.Contains(at) {
			continue
		}
		if !found || o.End.Before(best.End) {
			best, found = o, true
		}
	}
	return best, found, nil
}

// NextUpcoming returns the occurrence with the smallest start after at.
func (c *LocalCalendar) NextUpcoming(at time.Time) (model.Occurrence, bool, error) {
	for _, h := range upcomingHorizons {
		occ, err := c.Query(at.Add(time.Nanosecond), at.Add(h), nil)
		if err != nil && !onlyTruncated(err) {
			return model.Occurrence{}, false, err
		}
		for _, o := range occ {
			if o.Start.After(at) {
				return o, true, nil
			}
		}
	}
	return model.Occurrence{}, false, nil
}

// onlyTruncated reports whether err is an *IncompleteError without skipped
// series. A truncated series still holds its earliest occurrences in the
// window, which is all NextUpcoming looks at.
func onlyTruncated(err error) bool {
	var ie *IncompleteError
	return errors.As(err, &ie) && len(ie.Skipped) == 0
}

// Status is the calendar's state at an instant: "on" while an occurrence is
// active, with the fields of the active or next upcoming occurrence.
type Status struct {
	State string
	Event *model.Occurrence
}

const (
	StateOn  = "on"
	StateOff = "off"
)

// Status reports the calendar state at now.
func (c *LocalCalendar) Status(now time.Time) (Status, error) {
	active, ok, err := c.ActiveNow(now)
	if err != nil {
		return Status{}, err
	}
	if ok {
		return Status{State: StateOn, Event: &active}, nil
	}
	next, ok, err := c.NextUpcoming(now)
	if err != nil {
		return Status{}, err
	}
	st := Status{State: StateOff}
	if ok {
		st.Event = &next
	}
	return st, nil
}
