package ics

import (
	"fmt"
	"sort"
	"time"

	ical "github.com/arran4/golang-ical"

	"localcal/internal/model"
)

var weekdayCodes = [...]string{"SU", "MO", "TU", "WE", "TH", "FR", "SA"}

// propGenerated marks the VTIMEZONEs written by timezones. They are rebuilt
// on every Serialize instead of being kept from the parsed document.
const propGenerated = ical.ComponentProperty("X-LOCALCAL-GENERATED")

func generatedZone(comp ical.Component) bool {
	tz, ok := comp.(*ical.VTimezone)
	return ok && tz.GetProperty(propGenerated) != nil
}

// timezones returns a VTIMEZONE for every TZID used by c that the document
// does not define itself; definitions generated earlier do not count.
// TZIDs are IANA names. One that does not resolve is written without a
// definition.
//
// Observances start in the year before the zone's earliest use. When the
// following year repeats the same transitions they carry a yearly rule,
// otherwise they describe that year only and the last offset holds.
func timezones(c *Calendar) []ical.Component {
	defined := make(map[string]bool)
	for _, comp := range c.others {
		if tz, ok := comp.(*ical.VTimezone); ok && !generatedZone(tz) {
			if p := tz.GetProperty(ical.ComponentPropertyTzid); p != nil {
				defined[p.Value] = true
			}
		}
	}

	first := make(map[string]time.Time)
	use := func(t model.EventTime) {
		if t.AllDay || t.IsUTC() || t.IsFloating() || defined[t.TZID] {
			return
		}
		if cur, ok := first[t.TZID]; !ok || t.Wall.Before(cur) {
			first[t.TZID] = t.Wall
		}
	}
	for _, s := range c.series {
		use(s.Master.Start)
		use(s.Master.End)
		for _, ex := range s.ExDates {
			use(ex)
		}
		for _, o := range s.Overrides {
			use(o.RecurrenceID)
			use(o.Event.Start)
			use(o.Event.End)
		}
	}

	ids := make([]string, 0, len(first))
	for id := range first {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]ical.Component, 0, len(ids))
	for _, id := range ids {
		loc, err := defaultZones.Resolve(id)
		if err != nil {
			continue
		}
		out = append(out, vtimezone(id, loc, first[id].Year()-1))
	}
	return out
}

// transition is one change of UTC offset.
type transition struct {
	// onset is the wall clock time of the change in the offset before it.
	onset    time.Time
	from, to int
	name     string
	dst      bool
}

func (t transition) rule() string {
	n := (t.onset.Day()-1)/7 + 1
	if t.onset.AddDate(0, 0, 7).Month() != t.onset.Month() {
		n = -1
	}
	return fmt.Sprintf("FREQ=YEARLY;BYMONTH=%d;BYDAY=%d%s", int(t.onset.Month()), n, weekdayCodes[t.onset.Weekday()])
}

func (t transition) repeatedBy(next transition) bool {
	return t.from == next.from && t.to == next.to && t.dst == next.dst &&
		t.rule() == next.rule() &&
		t.onset.Format("150405") == next.onset.Format("150405")
}

// transitions lists the offset changes of loc during year.
func transitions(loc *time.Location, year int) []transition {
	var out []transition
	t := time.Date(year, 1, 1, 0, 0, 0, 0, loc)
	limit := time.Date(year+1, 1, 1, 0, 0, 0, 0, loc)
	for {
		_, end := t.ZoneBounds()
		if end.IsZero() || !end.Before(limit) {
			return out
		}
		_, from := end.Add(-time.Second).Zone()
		name, to := end.Zone()
		if from != to {
			out = append(out, transition{
				onset: end.In(time.FixedZone("", from)),
				from:  from,
				to:    to,
				name:  name,
				dst:   end.IsDST(),
			})
		}
		t = end
	}
}

func vtimezone(tzid string, loc *time.Location, year int) *ical.VTimezone {
	tz := ical.NewTimezone(tzid)
	tz.AddProperty(propGenerated, "TRUE")

	trans := transitions(loc, year)
	if len(trans) == 0 {
		name, off := time.Date(year, 1, 1, 0, 0, 0, 0, loc).Zone()
		std := tz.AddStandard()
		addObservance(&std.ComponentBase, fmt.Sprintf("%04d0101T000000", year), off, off, name, "")
		return tz
	}

	next := transitions(loc, year+1)
	yearly := len(next) == len(trans)
	for i := 0; yearly && i < len(trans); i++ {
		yearly = trans[i].repeatedBy(next[i])
	}

	for _, tr := range trans {
		rule := ""
		if yearly {
			rule = tr.rule()
		}
		var cb *ical.ComponentBase
		if tr.dst {
			d := &ical.Daylight{}
			tz.Components = append(tz.Components, d)
			cb = &d.ComponentBase
		} else {
			cb = &tz.AddStandard().ComponentBase
		}
		addObservance(cb, tr.onset.Format(localLayout), tr.from, tr.to, tr.name, rule)
	}
	return tz
}

func addObservance(cb *ical.ComponentBase, dtstart string, from, to int, name, rule string) {
	cb.AddProperty(ical.ComponentPropertyDtStart, dtstart)
	cb.AddProperty(ical.ComponentProperty(ical.PropertyTzoffsetfrom), formatOffset(from))
	cb.AddProperty(ical.ComponentProperty(ical.PropertyTzoffsetto), formatOffset(to))
	if name != "" {
		cb.AddProperty(ical.ComponentProperty(ical.PropertyTzname), name)
	}
	if rule != "" {
		cb.AddProperty(ical.ComponentPropertyRrule, rule)
	}
}

// formatOffset renders seconds east of UTC as an RFC 5545 UTC-OFFSET.
func formatOffset(sec int) string {
	sign := '+'
	if sec < 0 {
		sign, sec = '-', -sec
	}
	s := fmt.Sprintf("%c%02d%02d", sign, sec/3600, sec/60%60)
	if r := sec % 60; r != 0 {
		s += fmt.Sprintf("%02d", r)
	}
	return s
}
