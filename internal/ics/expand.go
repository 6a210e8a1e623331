package ics

import (
	"errors"
	"sort"
	"time"

	"github.com/teambition/rrule-go"

	appLog "localcal/internal/log"
	"localcal/internal/model"
)

const (
	defaultMaxOccurrencesPerEvent = 5000
)

// ExpandConfig controls how recurrence expansion is performed.
type ExpandConfig struct {
	// Env resolves floating values, dates and TZIDs.
	Env Env

	// DisplayLocation is the timezone to which all occurrences will be converted.
	// If nil, Env.Local is used.
	DisplayLocation *time.Location

	// RangeStart / RangeEnd define the half-open window [RangeStart, RangeEnd).
	RangeStart time.Time
	RangeEnd   time.Time

	// MaxOccurrencesPerEvent is a safety cap to avoid infinite or extremely
	// large expansions. If zero, defaultMaxOccurrencesPerEvent is used.
	MaxOccurrencesPerEvent int
}

// ExpandResult wraps the list of expanded occurrences and optionally
// information about truncation.
type ExpandResult struct {
	Occurrences []model.Occurrence
	// TruncatedEvents records UIDs that hit the MaxOccurrencesPerEvent cap.
	TruncatedEvents []string
	// SkippedEvents records UIDs whose rule or TZID could not be evaluated.
	SkippedEvents []string
}

func (cfg ExpandConfig) normalize() (ExpandConfig, error) {
	if cfg.RangeEnd.Before(cfg.RangeStart) {
		return cfg, errors.New("expand: RangeEnd is before RangeStart")
	}
	if cfg.DisplayLocation == nil {
		cfg.DisplayLocation = cfg.Env.local()
	}
	if cfg.MaxOccurrencesPerEvent <= 0 {
		cfg.MaxOccurrencesPerEvent = defaultMaxOccurrencesPerEvent
	}
	return cfg, nil
}

// ExpandCalendar expands every series of c and returns the merged, ordered
// occurrences. A series that cannot be evaluated is logged and skipped so one
// bad entry does not hide the rest of the calendar.
func ExpandCalendar(c *Calendar, cfg ExpandConfig) (ExpandResult, error) {
	var result ExpandResult

	cfg, err := cfg.normalize()
	if err != nil {
		return result, err
	}

	all := make([]model.Occurrence, 0)
	for _, s := range c.series {
		occ, hitCap, err := expandSeries(s, cfg)
		if err != nil {
			appLog.Error("expand: skipping series", err, "uid", s.UID, "rrule", s.RRule)
			result.SkippedEvents = append(result.SkippedEvents, s.UID)
			continue
		}
		if hitCap {
			result.TruncatedEvents = append(result.TruncatedEvents, s.UID)
			appLog.Warn("expand: truncated occurrences for UID due to cap",
				"uid", s.UID,
				"cap", cfg.MaxOccurrencesPerEvent,
			)
		}
		all = append(all, occ...)
	}

	SortOccurrences(all)
	result.Occurrences = all
	return result, nil
}

// Expand returns the occurrences of s overlapping the configured window, in
// occurrence order. It is a pure function of s and cfg.
//
//   - a non-recurring series yields zero or one occurrence
//   - generated start-keys listed in ExDates are skipped
//   - a key with an override yields the override's fields under the same key
//   - other keys shift the master interval, preserving its duration
func Expand(s *Series, cfg ExpandConfig) ([]model.Occurrence, error) {
	cfg, err := cfg.normalize()
	if err != nil {
		return nil, err
	}
	occ, _, err := expandSeries(s, cfg)
	if err != nil {
		return nil, err
	}
	SortOccurrences(occ)
	return occ, nil
}

func expandSeries(s *Series, cfg ExpandConfig) ([]model.Occurrence, bool, error) {
	if !s.Recurring() {
		occ, ok, err := expandSingle(s, cfg)
		if err != nil || !ok {
			return nil, false, err
		}
		return []model.Occurrence{occ}, false, nil
	}
	return expandRecurring(s, cfg)
}

func expandSingle(s *Series, cfg ExpandConfig) (model.Occurrence, bool, error) {
	start, end, err := interval(s.Master, cfg.Env)
	if err != nil {
		return model.Occurrence{}, false, err
	}
	if !overlaps(start, end, cfg.RangeStart, cfg.RangeEnd) {
		return model.Occurrence{}, false, nil
	}
	return makeOccurrence(s, s.Master, "", model.InstanceSingle, start, end, cfg.DisplayLocation), true, nil
}

func expandRecurring(s *Series, cfg ExpandConfig) ([]model.Occurrence, bool, error) {
	out := make([]model.Occurrence, 0)
	hitCap := false

	f, err := cfg.Env.frameOf(s)
	if err != nil {
		return nil, false, err
	}
	r, dtstart, err := s.compile(f, cfg.Env)
	if err != nil {
		return nil, false, err
	}
	sp, err := masterSpan(s, f, dtstart, cfg.Env)
	if err != nil {
		return nil, false, err
	}

	// Build a set so EXDATEs and overridden keys are left out of generation.
	var set rrule.Set
	set.RRule(r)

	excluded := make(map[string]bool, len(s.ExDates))
	for _, ex := range s.ExDates {
		t, err := f.place(ex, cfg.Env)
		if err != nil {
			return nil, false, err
		}
		excluded[f.key(t)] = true
		set.ExDate(t)
	}

	type keyed struct {
		at time.Time
		o  *Override
	}
	overrides := make([]keyed, 0, len(s.Overrides))
	for _, o := range s.Overrides {
		t, err := f.place(o.RecurrenceID, cfg.Env)
		if err != nil {
			return nil, false, err
		}
		set.ExDate(t)
		overrides = append(overrides, keyed{at: t, o: o})
	}

	after, before := sp.window(f, cfg.RangeStart, cfg.RangeEnd)
	for _, t := range set.Between(after, before, true) {
		start, end := sp.apply(f, t)
		if !overlaps(start, end, cfg.RangeStart, cfg.RangeEnd) {
			continue
		}
		if len(out) >= cfg.MaxOccurrencesPerEvent {
			hitCap = true
			break
		}
		out = append(out, makeOccurrence(s, s.Master, f.key(t), model.InstanceGenerated, start, end, cfg.DisplayLocation))
	}

	// Overrides may move an instance into the window from a key outside it,
	// so they are matched on their own interval. Keys the rule does not
	// generate, or that are excluded, stay inert.
	for _, k := range overrides {
		key := f.key(k.at)
		if excluded[key] || !generates(r, k.at) {
			continue
		}
		start, end, err := interval(k.o.Event, cfg.Env)
		if err != nil {
			return nil, false, err
		}
		if !overlaps(start, end, cfg.RangeStart, cfg.RangeEnd) {
			continue
		}
		out = append(out, makeOccurrence(s, k.o.Event, key, model.InstanceOverride, start, end, cfg.DisplayLocation))
	}

	return out, hitCap, nil
}

// span is the master's length: whole days for all-day series, an absolute
// duration otherwise.
type span struct {
	days int
	dur  time.Duration
}

func masterSpan(s *Series, f frame, dtstart time.Time, env Env) (span, error) {
	if f.allDay {
		end, err := f.place(s.Master.End, env)
		if err != nil {
			return span{}, err
		}
		return span{days: int(end.Sub(dtstart).Hours() / 24)}, nil
	}
	start, end, err := interval(s.Master, env)
	if err != nil {
		return span{}, err
	}
	return span{dur: end.Sub(start)}, nil
}

// apply returns the absolute interval of the instance generated at t.
func (sp span) apply(f frame, t time.Time) (time.Time, time.Time) {
	if f.allDay {
		return f.instant(t), f.instant(t.AddDate(0, 0, sp.days))
	}
	return t, t.Add(sp.dur)
}

// window widens [ws, we) into frame bounds wide enough to catch every
// instance whose interval reaches into it. Results are filtered exactly
// afterwards.
func (sp span) window(f frame, ws, we time.Time) (time.Time, time.Time) {
	if f.allDay {
		a := ws.In(f.local)
		b := we.In(f.local)
		after := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, -sp.days-1)
		before := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
		return after, before
	}
	return ws.Add(-sp.dur).In(f.loc), we.In(f.loc)
}

// interval resolves an event's start and end to absolute instants.
func interval(ev model.Event, env Env) (time.Time, time.Time, error) {
	start, err := env.Resolve(ev.Start)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, err := env.Resolve(ev.End)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, end, nil
}

// overlaps reports whether [start, end) intersects [ws, we). A zero-length
// interval overlaps when its instant lies inside the window.
func overlaps(start, end, ws, we time.Time) bool {
	if !end.After(start) {
		return !start.Before(ws) && start.Before(we)
	}
	return start.Before(we) && end.After(ws)
}

// makeOccurrence converts event fields plus a resolved interval into a
// model.Occurrence normalized into displayLoc.
func makeOccurrence(s *Series, ev model.Event, key string, kind model.InstanceKind, start, end time.Time, displayLoc *time.Location) model.Occurrence {
	occ := model.Occurrence{
		UID:          s.UID,
		RecurrenceID: key,
		RRule:        s.RRule,
		Kind:         kind,
		Summary:      ev.Summary,
		Description:  ev.Description,
		Location:     ev.Location,
		AllDay:       ev.Start.AllDay,
	}
	if occ.AllDay {
		// start and end are local midnights; keep their dates.
		occ.Start = time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, displayLoc)
		occ.End = time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, displayLoc)
		return occ
	}
	occ.Start = start.In(displayLoc)
	occ.End = end.In(displayLoc)
	return occ
}

// SortOccurrences orders by start, then UID, then recurrence key.
func SortOccurrences(occ []model.Occurrence) {
	sort.SliceStable(occ, func(i, j int) bool {
		a, b := occ[i], occ[j]
		if !a.Start.Equal(b.Start) {
			return a.Start.Before(b.Start)
		}
		if a.UID != b.UID {
			return a.UID < b.UID
		}
		return a.RecurrenceID < b.RecurrenceID
	})
}
