package ics

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	"localcal/internal/model"
)

// Instance is one generated start-key of a recurring series, located by
// Series.Locate.
type Instance struct {
	// Key is the RECURRENCE-ID value of the instance in the series' frame.
	Key string

	at      time.Time
	f       frame
	r       *rrule.RRule
	dtstart time.Time
}

// RecurrenceID returns the instance key as a stored value.
func (in Instance) RecurrenceID(s *Series) model.EventTime {
	return in.f.eventTime(in.at, s.Master.Start)
}

// First reports whether no instance of the rule precedes this one.
func (in Instance) First() bool {
	return in.r.Before(in.at, false).IsZero()
}

// ParseRecurrenceID accepts the iCalendar forms ("20060102",
// "20060102T150405", "20060102T150405Z") as well as RFC 3339, a naive
// "2006-01-02T15:04:05" and a plain "2006-01-02".
func ParseRecurrenceID(raw string) (model.EventTime, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return model.EventTime{}, errors.New("empty recurrence id")
	}
	if t, err := parseValue(raw, nil); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return model.Instant(t), nil
	}
	if t, err := time.ParseInLocation("2006-01-02T15:04:05", raw, time.UTC); err == nil {
		return model.Floating(t), nil
	}
	if t, err := time.ParseInLocation("2006-01-02", raw, time.UTC); err == nil {
		return model.DateOf(t), nil
	}
	return model.EventTime{}, fmt.Errorf("malformed recurrence id %q", raw)
}

// Locate resolves raw to an instance the rule generates and that is not
// excluded. Keys outside the generated set are reported as
// ErrInstanceNotFound.
func (s *Series) Locate(raw string, env Env) (Instance, error) {
	if !s.Recurring() {
		return Instance{}, fmt.Errorf("%w: %s is not recurring", ErrInstanceNotFound, s.UID)
	}
	rid, err := ParseRecurrenceID(raw)
	if err != nil {
		return Instance{}, fmt.Errorf("%w: %v", ErrInstanceNotFound, err)
	}

	f, err := env.frameOf(s)
	if err != nil {
		return Instance{}, err
	}
	r, dtstart, err := s.compile(f, env)
	if err != nil {
		return Instance{}, err
	}
	at, err := f.place(rid, env)
	if err != nil {
		return Instance{}, err
	}
	if !generates(r, at) {
		return Instance{}, fmt.Errorf("%w: %s at %s", ErrInstanceNotFound, s.UID, raw)
	}

	key := f.key(at)
	for _, ex := range s.ExDates {
		t, err := f.place(ex, env)
		if err != nil {
			return Instance{}, err
		}
		if f.key(t) == key {
			return Instance{}, fmt.Errorf("%w: %s at %s is excluded", ErrInstanceNotFound, s.UID, raw)
		}
	}

	return Instance{Key: key, at: at, f: f, r: r, dtstart: dtstart}, nil
}

func (s *Series) overrideIndex(in Instance, env Env) int {
	for i, o := range s.Overrides {
		t, err := in.f.place(o.RecurrenceID, env)
		if err == nil && in.f.key(t) == in.Key {
			return i
		}
	}
	return -1
}

// Exclude suppresses the instance. An override for the same key is dropped.
func (s *Series) Exclude(in Instance, env Env, now time.Time) {
	if i := s.overrideIndex(in, env); i >= 0 {
		s.Overrides = append(s.Overrides[:i:i], s.Overrides[i+1:]...)
	}
	s.ExDates = append(s.ExDates, in.RecurrenceID(s))
	s.Touch(now)
}

// SetOverride replaces the fields of one instance.
func (s *Series) SetOverride(in Instance, ev model.Event, env Env, now time.Time) {
	if i := s.overrideIndex(in, env); i >= 0 {
		o := *s.Overrides[i]
		o.Event = ev
		o.rev.touch(now, true)
		s.Overrides[i] = &o
	} else {
		o := &Override{RecurrenceID: in.RecurrenceID(s), Event: ev}
		o.rev.touch(now, false)
		s.Overrides = append(s.Overrides, o)
	}
	s.Touch(now)
}

// InstanceEvent returns the effective fields of the instance: its override
// when one exists, otherwise the master shifted onto the key.
func (s *Series) InstanceEvent(in Instance, env Env) (model.Event, error) {
	if i := s.overrideIndex(in, env); i >= 0 {
		return s.Overrides[i].Event, nil
	}
	ev := s.Master
	ev.Start = in.f.eventTime(in.at, s.Master.Start)
	sp, err := masterSpan(s, in.f, in.dtstart, env)
	if err != nil {
		return model.Event{}, err
	}
	if in.f.allDay {
		ev.End = model.DateOf(in.at.AddDate(0, 0, sp.days))
	} else {
		ev.End = in.f.eventTime(in.at.Add(sp.dur), s.Master.Start)
	}
	return ev, nil
}

// TruncateBefore rewrites the rule so the instance and everything after it
// are no longer generated, dropping exclusions and overrides in that tail.
// It returns false when nothing would remain; the caller should then
// remove the whole series.
func (s *Series) TruncateBefore(in Instance, env Env, now time.Time) bool {
	if in.First() {
		return false
	}
	s.RRule = untilBefore(s.RRule, in.f, in.at)

	keep := s.ExDates[:0:0]
	for _, ex := range s.ExDates {
		if t, err := in.f.place(ex, env); err == nil && !t.Before(in.at) {
			continue
		}
		keep = append(keep, ex)
	}
	s.ExDates = keep

	var overrides []*Override
	for _, o := range s.Overrides {
		if t, err := in.f.place(o.RecurrenceID, env); err == nil && !t.Before(in.at) {
			continue
		}
		overrides = append(overrides, o)
	}
	s.Overrides = overrides

	s.Touch(now)
	return true
}

// SplitAt returns a new series with the given uid and master, continuing the
// rule from the instance on. COUNT is reduced by the instances left behind.
// Exclusions and overrides of the tail move along only when the new master
// keeps the instance's start, since their keys are relative to it.
func (s *Series) SplitAt(in Instance, uid string, master model.Event, env Env, now time.Time) *Series {
	ns := NewSeries(uid, master, continueFrom(s.RRule, in.r, in.dtstart, in.at), now)

	if !master.Start.Equal(in.RecurrenceID(s)) {
		return ns
	}
	for _, ex := range s.ExDates {
		if t, err := in.f.place(ex, env); err == nil && !t.Before(in.at) {
			ns.ExDates = append(ns.ExDates, ex)
		}
	}
	for _, o := range s.Overrides {
		if t, err := in.f.place(o.RecurrenceID, env); err == nil && t.After(in.at) {
			oc := *o
			ns.Overrides = append(ns.Overrides, &oc)
		}
	}
	return ns
}
