package ics

import (
	"fmt"
	"sync"
	"time"
	_ "time/tzdata"

	"localcal/internal/model"
)

// ZoneResolver maps a TZID to its UTC-offset rules.
type ZoneResolver interface {
	Resolve(tzid string) (*time.Location, error)
}

// ZoneCache resolves IANA names through time.LoadLocation and keeps the
// results; the embedded tzdata makes it independent of the host system.
type ZoneCache struct {
	mu    sync.RWMutex
	zones map[string]*time.Location
}

var defaultZones = &ZoneCache{}

func (c *ZoneCache) Resolve(tzid string) (*time.Location, error) {
	c.mu.RLock()
	loc, ok := c.zones[tzid]
	c.mu.RUnlock()
	if ok {
		return loc, nil
	}

	loc, err := time.LoadLocation(tzid)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.zones == nil {
		c.zones = make(map[string]*time.Location)
	}
	c.zones[tzid] = loc
	c.mu.Unlock()
	return loc, nil
}

// Env carries what is needed to turn stored values into absolute instants.
type Env struct {
	// Local is the zone for floating date-times and all-day dates. nil means UTC.
	Local *time.Location
	// Zones resolves TZID parameters. nil means a shared ZoneCache.
	Zones ZoneResolver
}

func (e Env) local() *time.Location {
	if e.Local == nil {
		return time.UTC
	}
	return e.Local
}

func (e Env) zones() ZoneResolver {
	if e.Zones == nil {
		return defaultZones
	}
	return e.Zones
}

// Resolve returns the absolute instant of t. Dates resolve to local midnight.
func (e Env) Resolve(t model.EventTime) (time.Time, error) {
	switch {
	case t.IsUTC():
		return t.Wall, nil
	case t.AllDay, t.IsFloating():
		return t.In(e.local()), nil
	}
	loc, err := e.zones().Resolve(t.TZID)
	if err != nil {
		return time.Time{}, fmt.Errorf("resolve TZID %q: %w", t.TZID, err)
	}
	return t.In(loc), nil
}

// frame is the clock in which a series' rule is evaluated. All-day series
// run in date space (midnight UTC wall values); UTC series in UTC; floating
// series in the local zone; zoned series in their own zone.
type frame struct {
	loc      *time.Location
	allDay   bool
	utc      bool
	floating bool
	local    *time.Location
}

func (e Env) frameOf(s *Series) (frame, error) {
	st := s.Master.Start
	f := frame{local: e.local()}
	switch {
	case st.AllDay:
		f.loc, f.allDay = time.UTC, true
	case st.IsUTC():
		f.loc, f.utc = time.UTC, true
	case st.IsFloating():
		f.loc, f.floating = e.local(), true
	default:
		loc, err := e.zones().Resolve(st.TZID)
		if err != nil {
			return frame{}, fmt.Errorf("resolve TZID %q: %w", st.TZID, err)
		}
		f.loc = loc
	}
	return f, nil
}

// place converts a stored value into the frame's clock.
func (f frame) place(t model.EventTime, env Env) (time.Time, error) {
	if f.allDay {
		if t.AllDay {
			return t.Wall, nil
		}
		inst, err := env.Resolve(t)
		if err != nil {
			return time.Time{}, err
		}
		d := inst.In(f.local)
		return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC), nil
	}
	if t.AllDay || t.IsFloating() {
		return t.In(f.loc), nil
	}
	inst, err := env.Resolve(t)
	if err != nil {
		return time.Time{}, err
	}
	return inst.In(f.loc), nil
}

// instant maps a frame time to an absolute time.
func (f frame) instant(t time.Time) time.Time {
	if f.allDay {
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, f.local)
	}
	return t
}

// key formats a frame time as a RECURRENCE-ID value.
func (f frame) key(t time.Time) string {
	switch {
	case f.allDay:
		return t.Format(dateLayout)
	case f.utc:
		return t.UTC().Format(utcLayout)
	default:
		return t.Format(localLayout)
	}
}

// eventTime converts a frame time back into a stored value shaped like ref.
func (f frame) eventTime(t time.Time, ref model.EventTime) model.EventTime {
	switch {
	case f.allDay:
		return model.DateOf(t)
	case f.utc:
		return model.EventTime{Wall: t.UTC(), TZID: model.UTC}
	case ref.IsFloating():
		return model.Floating(t)
	default:
		return model.Zoned(t, ref.TZID)
	}
}

// Check reports the first series of c that env cannot evaluate: a TZID it
// does not know or a rule that does not compile in the series' zone. The
// error is a *ParseError naming the series.
func (e Env) Check(c *Calendar) error {
	for _, s := range c.series {
		if err := e.checkSeries(s); err != nil {
			return &ParseError{UID: s.UID, Err: err}
		}
	}
	return nil
}

func (e Env) checkSeries(s *Series) error {
	f, err := e.frameOf(s)
	if err != nil {
		return err
	}
	times := []model.EventTime{s.Master.End}
	times = append(times, s.ExDates...)
	for _, o := range s.Overrides {
		times = append(times, o.RecurrenceID, o.Event.Start, o.Event.End)
	}
	for _, t := range times {
		if _, err := e.Resolve(t); err != nil {
			return err
		}
	}
	if s.Recurring() {
		if _, _, err := s.compile(f, e); err != nil {
			return err
		}
	}
	return nil
}
