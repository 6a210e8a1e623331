package ics

import (
	"errors"
	"fmt"
	"time"

	ical "github.com/arran4/golang-ical"

	"localcal/internal/model"
)

// DefaultProductID is written when a document carries no PRODID.
const DefaultProductID = "-//localcal//Local Calendar//EN"

var (
	ErrSeriesNotFound   = errors.New("series not found")
	ErrInstanceNotFound = errors.New("occurrence not found")
	ErrDuplicateUID     = errors.New("duplicate UID")
)

// Calendar is the in-memory model of one ICS document: every event series
// plus the calendar-level properties and non-event components, which are
// carried through untouched.
//
// A Calendar handed out as a snapshot must not be modified; mutate a Clone.
type Calendar struct {
	properties []ical.CalendarProperty
	others     []ical.Component
	series     []*Series
}

// New returns an empty calendar.
func New() *Calendar {
	return &Calendar{}
}

// Series returns the series in document order.
func (c *Calendar) Series() []*Series {
	out := make([]*Series, len(c.series))
	copy(out, c.series)
	return out
}

func (c *Calendar) Len() int { return len(c.series) }

// Find returns the series with the given UID.
func (c *Calendar) Find(uid string) (*Series, error) {
	for _, s := range c.series {
		if s.UID == uid {
			return s, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrSeriesNotFound, uid)
}

// Add appends s, rejecting a UID that is already present.
func (c *Calendar) Add(s *Series) error {
	if s.UID == "" {
		return errors.New("series without UID")
	}
	if _, err := c.Find(s.UID); err == nil {
		return fmt.Errorf("%w: %s", ErrDuplicateUID, s.UID)
	}
	c.series = append(c.series, s)
	return nil
}

// Remove deletes the series with the given UID.
func (c *Calendar) Remove(uid string) error {
	for i, s := range c.series {
		if s.UID == uid {
			c.series = append(c.series[:i:i], c.series[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrSeriesNotFound, uid)
}

// Clone returns a copy whose series can be mutated without affecting c.
// Pass-through properties and components are shared; they are never edited.
func (c *Calendar) Clone() *Calendar {
	out := &Calendar{
		properties: c.properties,
		others:     c.others,
		series:     make([]*Series, len(c.series)),
	}
	for i, s := range c.series {
		out.series[i] = s.Clone()
	}
	return out
}

// revision holds the bookkeeping properties rewritten on every change.
type revision struct {
	Sequence int
	Stamp    time.Time // DTSTAMP
	Modified time.Time // LAST-MODIFIED
}

func (r *revision) touch(now time.Time, bump bool) {
	now = now.UTC().Truncate(time.Second)
	if bump {
		r.Sequence++
	}
	r.Stamp = now
	r.Modified = now
}

// Series is one logical event: the master definition, its optional rule, the
// suppressed start-keys and the per-instance overrides.
type Series struct {
	UID    string
	Master model.Event

	// RRule is the rule text without the "RRULE:" prefix; empty when the
	// series does not recur.
	RRule string

	// ExDates are kept in the form they were written. Values the rule does
	// not generate are inert.
	ExDates []model.EventTime

	Overrides []*Override

	rev   revision
	extra []ical.IANAProperty
	subs  []ical.Component
}

// Override replaces one generated instance with explicit fields.
type Override struct {
	RecurrenceID model.EventTime
	Event        model.Event

	rev   revision
	extra []ical.IANAProperty
	subs  []ical.Component
}

// NewSeries returns a series stamped at now.
func NewSeries(uid string, master model.Event, rule string, now time.Time) *Series {
	s := &Series{UID: uid, Master: master, RRule: NormalizeRule(rule)}
	s.rev.touch(now, false)
	return s
}

func (s *Series) Recurring() bool { return s.RRule != "" }

func (s *Series) Sequence() int { return s.rev.Sequence }

// Touch records a modification: SEQUENCE is bumped, DTSTAMP and
// LAST-MODIFIED move to now.
func (s *Series) Touch(now time.Time) {
	s.rev.touch(now, true)
}

func (s *Series) Clone() *Series {
	out := *s
	out.ExDates = append([]model.EventTime(nil), s.ExDates...)
	out.Overrides = make([]*Override, len(s.Overrides))
	for i, o := range s.Overrides {
		oc := *o
		out.Overrides[i] = &oc
	}
	out.extra = append([]ical.IANAProperty(nil), s.extra...)
	out.subs = append([]ical.Component(nil), s.subs...)
	return &out
}
