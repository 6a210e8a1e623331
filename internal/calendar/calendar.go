// Package calendar implements the local calendar on top of one stored ICS
// document: the mutation operations and the occurrence queries.
//
// Queries run against an immutable snapshot. Mutations are serialized by a
// single lock held for the whole clone-mutate-store sequence; the snapshot
// only moves once the new document has been stored, so a failed store leaves
// the calendar exactly as it was.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"localcal/internal/ics"
	appLog "localcal/internal/log"
	"localcal/internal/model"
	"localcal/internal/store"
)

var (
	// ErrNotFound reports an unknown UID or recurrence key.
	ErrNotFound = errors.New("not found")
	// ErrValidation reports an invalid interval or recurrence rule.
	ErrValidation = errors.New("invalid event")
)

const maxUIDAttempts = 8

// Options configures Open.
type Options struct {
	Store store.Store

	// Location is the calendar's local zone: floating times and all-day
	// dates are interpreted in it. nil means UTC.
	Location *time.Location
	// Zones resolves TZID parameters. nil uses the embedded tz database.
	Zones ics.ZoneResolver

	// Now and NewUID are replaceable for tests.
	Now    func() time.Time
	NewUID func() string
}

// LocalCalendar is a calendar persisted as a single ICS document.
type LocalCalendar struct {
	store  store.Store
	env    ics.Env
	now    func() time.Time
	newUID func() string

	// sem is the mutation lock; a channel so waiting can be abandoned.
	sem  chan struct{}
	snap atomic.Pointer[ics.Calendar]
}

// Open loads and parses the stored document. A malformed document, or one
// with a TZID or rule the calendar cannot evaluate, fails with an
// *ics.ParseError; nothing is constructed in that case.
func Open(ctx context.Context, opts Options) (*LocalCalendar, error) {
	if opts.Store == nil {
		return nil, errors.New("calendar: no store configured")
	}
	c := &LocalCalendar{
		store:  opts.Store,
		env:    ics.Env{Local: opts.Location, Zones: opts.Zones},
		now:    opts.Now,
		newUID: opts.NewUID,
		sem:    make(chan struct{}, 1),
	}
	if c.env.Local == nil {
		c.env.Local = time.UTC
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.newUID == nil {
		c.newUID = uuid.NewString
	}

	text, err := c.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load calendar: %w", err)
	}
	cal, err := ics.Parse(text)
	if err != nil {
		return nil, err
	}
	if err := c.env.Check(cal); err != nil {
		return nil, err
	}
	c.snap.Store(cal)

	appLog.Info("calendar loaded", "series", cal.Len(), "zone", c.env.Local.String())
	return c, nil
}

// Location returns the calendar's local zone.
func (c *LocalCalendar) Location() *time.Location { return c.env.Local }

// Snapshot returns the current calendar. It must not be modified.
func (c *LocalCalendar) Snapshot() *ics.Calendar { return c.snap.Load() }

// Export returns the stored document as it is on disk. A calendar that has
// never been written exports as an empty VCALENDAR.
func (c *LocalCalendar) Export(ctx context.Context) (string, error) {
	text, err := c.store.Load(ctx)
	if err != nil {
		return "", fmt.Errorf("load calendar: %w", err)
	}
	if strings.TrimSpace(text) == "" {
		return ics.Serialize(ics.New())
	}
	return text, nil
}

func (c *LocalCalendar) lock(ctx context.Context) error {
	select {
	case c.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *LocalCalendar) unlock() { <-c.sem }

// mutate applies fn to a clone of the current calendar, stores the result
// and publishes it. Once the lock is held the operation runs to completion
// even if ctx is cancelled.
func (c *LocalCalendar) mutate(ctx context.Context, op, uid string, fn func(cal *ics.Calendar, now time.Time) error) error {
	if err := c.lock(ctx); err != nil {
		return err
	}
	defer c.unlock()

	next := c.snap.Load().Clone()
	if err := fn(next, c.now()); err != nil {
		return err
	}

	text, err := ics.Serialize(next)
	if err != nil {
		appLog.Error("calendar serialize failed", err, "op", op, "uid", uid)
		return fmt.Errorf("serialize calendar: %w", err)
	}
	if err := c.store.Store(context.WithoutCancel(ctx), text); err != nil {
		appLog.Error("calendar store failed", err, "op", op, "uid", uid)
		return fmt.Errorf("persist calendar: %w", err)
	}
	c.snap.Store(next)

	appLog.Info("calendar updated", "op", op, "uid", uid)
	return nil
}

// EventInput holds the fields of a new event.
type EventInput struct {
	Summary     string
	Description string
	Location    string
	Start       model.EventTime
	End         model.EventTime
	RRule       string
}

// EventPatch holds the fields to change; nil fields are left alone.
type EventPatch struct {
	Summary     *string
	Description *string
	Location    *string
	Start       *model.EventTime
	End         *model.EventTime

	// RRule replaces the recurrence rule; an empty string stops the series
	// recurring. Only series-wide and this-and-future edits accept it.
	RRule *string
}

// rule returns the normalized, validated replacement rule.
func (p EventPatch) rule() (string, error) {
	rule := ics.NormalizeRule(*p.RRule)
	if rule == "" {
		return "", nil
	}
	if err := ics.ValidateRule(rule); err != nil {
		return "", validationError("rrule: %v", err)
	}
	return rule, nil
}

func (p EventPatch) apply(ev model.Event) model.Event {
	if p.Summary != nil {
		ev.Summary = *p.Summary
	}
	if p.Description != nil {
		ev.Description = *p.Description
	}
	if p.Location != nil {
		ev.Location = *p.Location
	}
	if p.Start != nil {
		ev.Start = *p.Start
	}
	if p.End != nil {
		ev.End = *p.End
	}
	return ev
}

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// validate checks the interval of ev: both ends of the same kind and
// resolvable, start before end, start == end only for timed events.
func (c *LocalCalendar) validate(ev model.Event) error {
	if strings.TrimSpace(ev.Summary) == "" {
		return validationError("summary is required")
	}
	if ev.Start.IsZero() || ev.End.IsZero() {
		return validationError("start and end are required")
	}
	if ev.Start.AllDay != ev.End.AllDay {
		return validationError("start and end must both be dates or both be date-times")
	}
	start, err := c.env.Resolve(ev.Start)
	if err != nil {
		return validationError("start: %v", err)
	}
	end, err := c.env.Resolve(ev.End)
	if err != nil {
		return validationError("end: %v", err)
	}
	switch {
	case end.Before(start):
		return validationError("end is before start")
	case end.Equal(start) && ev.Start.AllDay:
		return validationError("an all-day event must end after it starts")
	}
	return nil
}

func notFound(err error) error {
	if errors.Is(err, ics.ErrSeriesNotFound) || errors.Is(err, ics.ErrInstanceNotFound) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	return err
}

// Create adds a new series and returns its UID.
func (c *LocalCalendar) Create(ctx context.Context, in EventInput) (string, error) {
	ev := model.Event{
		Summary:     in.Summary,
		Description: in.Description,
		Location:    in.Location,
		Start:       in.Start,
		End:         in.End,
	}
	if err := c.validate(ev); err != nil {
		return "", err
	}
	rule := ics.NormalizeRule(in.RRule)
	if rule != "" {
		if err := ics.ValidateRule(rule); err != nil {
			return "", validationError("rrule: %v", err)
		}
	}

	var uid string
	err := c.mutate(ctx, "create", "", func(cal *ics.Calendar, now time.Time) error {
		for range maxUIDAttempts {
			candidate := c.newUID()
			if _, err := cal.Find(candidate); err != nil {
				uid = candidate
				break
			}
			appLog.Warn("calendar uid collision, regenerating", "uid", candidate)
		}
		if uid == "" {
			return errors.New("could not generate a unique uid")
		}
		return cal.Add(ics.NewSeries(uid, ev, rule, now))
	})
	if err != nil {
		return "", err
	}
	return uid, nil
}

// Update replaces master fields of a series. Exclusions and overrides are
// kept unless the series stops recurring.
func (c *LocalCalendar) Update(ctx context.Context, uid string, p EventPatch) error {
	return c.mutate(ctx, "update", uid, func(cal *ics.Calendar, now time.Time) error {
		s, err := cal.Find(uid)
		if err != nil {
			return notFound(err)
		}
		ev := p.apply(s.Master)
		if err := c.validate(ev); err != nil {
			return err
		}
		if p.RRule != nil {
			rule, err := p.rule()
			if err != nil {
				return err
			}
			s.RRule = rule
			if rule == "" {
				s.ExDates, s.Overrides = nil, nil
			}
		}
		s.Master = ev
		s.Touch(now)
		return nil
	})
}

// UpdateInstance stores an override for one occurrence of a recurring series.
func (c *LocalCalendar) UpdateInstance(ctx context.Context, uid, recurrenceID string, p EventPatch) error {
	if p.RRule != nil {
		return validationError("rrule cannot be set on a single occurrence")
	}
	return c.mutate(ctx, "update-instance", uid, func(cal *ics.Calendar, now time.Time) error {
		s, in, err := c.locate(cal, uid, recurrenceID)
		if err != nil {
			return err
		}
		ev, err := s.InstanceEvent(in, c.env)
		if err != nil {
			return err
		}
		ev = p.apply(ev)
		if err := c.validate(ev); err != nil {
			return err
		}
		s.SetOverride(in, ev, c.env, now)
		return nil
	})
}

// UpdateFuture edits an occurrence and every later one. The series is cut
// before the occurrence and continued by a new series carrying the edited
// fields; its UID is returned. Editing the first occurrence edits the
// series in place.
func (c *LocalCalendar) UpdateFuture(ctx context.Context, uid, recurrenceID string, p EventPatch) (string, error) {
	resultUID := uid
	err := c.mutate(ctx, "update-future", uid, func(cal *ics.Calendar, now time.Time) error {
		s, in, err := c.locate(cal, uid, recurrenceID)
		if err != nil {
			return err
		}
		ev, err := s.InstanceEvent(in, c.env)
		if err != nil {
			return err
		}
		ev = p.apply(ev)
		if err := c.validate(ev); err != nil {
			return err
		}
		rule := s.RRule
		if p.RRule != nil {
			if rule, err = p.rule(); err != nil {
				return err
			}
		}

		if in.First() {
			if rule != s.RRule {
				s.RRule = rule
				if rule == "" {
					s.ExDates, s.Overrides = nil, nil
				}
			}
			s.Master = ev
			s.Touch(now)
			return nil
		}

		newUID := ""
		for range maxUIDAttempts {
			candidate := c.newUID()
			if _, err := cal.Find(candidate); err != nil {
				newUID = candidate
				break
			}
		}
		if newUID == "" {
			return errors.New("could not generate a unique uid")
		}
		ns := s.SplitAt(in, newUID, ev, c.env, now)
		if rule != s.RRule {
			ns.RRule, ns.ExDates, ns.Overrides = rule, nil, nil
		}
		s.TruncateBefore(in, c.env, now)
		resultUID = newUID
		return cal.Add(ns)
	})
	if err != nil {
		return "", err
	}
	return resultUID, nil
}

// DeleteInstance removes one occurrence of a recurring series.
func (c *LocalCalendar) DeleteInstance(ctx context.Context, uid, recurrenceID string) error {
	return c.mutate(ctx, "delete-instance", uid, func(cal *ics.Calendar, now time.Time) error {
		s, in, err := c.locate(cal, uid, recurrenceID)
		if err != nil {
			return err
		}
		s.Exclude(in, c.env, now)
		return nil
	})
}

// DeleteFuture removes an occurrence and every later one by bounding the
// rule. When nothing would remain the whole series is removed.
func (c *LocalCalendar) DeleteFuture(ctx context.Context, uid, recurrenceID string) error {
	return c.mutate(ctx, "delete-future", uid, func(cal *ics.Calendar, now time.Time) error {
		s, in, err := c.locate(cal, uid, recurrenceID)
		if err != nil {
			return err
		}
		if !s.TruncateBefore(in, c.env, now) {
			return cal.Remove(uid)
		}
		return nil
	})
}

// DeleteSeries removes a series with all its occurrences.
func (c *LocalCalendar) DeleteSeries(ctx context.Context, uid string) error {
	return c.mutate(ctx, "delete-series", uid, func(cal *ics.Calendar, _ time.Time) error {
		return notFound(cal.Remove(uid))
	})
}

func (c *LocalCalendar) locate(cal *ics.Calendar, uid, recurrenceID string) (*ics.Series, ics.Instance, error) {
	s, err := cal.Find(uid)
	if err != nil {
		return nil, ics.Instance{}, notFound(err)
	}
	in, err := s.Locate(recurrenceID, c.env)
	if err != nil {
		return nil, ics.Instance{}, notFound(err)
	}
	return s, in, nil
}
