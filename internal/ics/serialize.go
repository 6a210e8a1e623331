package ics

import (
	"sort"
	"strconv"
	"strings"

	ical "github.com/arran4/golang-ical"

	"localcal/internal/model"
)

// Serialize renders c as ICS text. Parse(Serialize(c)) yields a calendar that
// expands to the same occurrences as c.
func Serialize(c *Calendar) (string, error) {
	out := &ical.Calendar{
		CalendarProperties: append([]ical.CalendarProperty(nil), c.properties...),
	}
	if !hasCalendarProperty(out, ical.PropertyVersion) {
		out.SetVersion("2.0")
	}
	if !hasCalendarProperty(out, ical.PropertyProductId) {
		out.SetProductId(DefaultProductID)
	}

	out.Components = append(out.Components, timezones(c)...)
	for _, s := range c.series {
		out.Components = append(out.Components, masterVEvent(s))
		for _, o := range s.Overrides {
			out.Components = append(out.Components, overrideVEvent(s, o))
		}
	}
	for _, comp := range c.others {
		if !generatedZone(comp) {
			out.Components = append(out.Components, comp)
		}
	}

	var b strings.Builder
	if err := out.SerializeTo(&b); err != nil {
		return "", err
	}
	return b.String(), nil
}

func hasCalendarProperty(c *ical.Calendar, p ical.Property) bool {
	for _, cp := range c.CalendarProperties {
		if cp.IANAToken == string(p) {
			return true
		}
	}
	return false
}

func masterVEvent(s *Series) *ical.VEvent {
	ve := ical.NewEvent(s.UID)
	writeRevision(ve, s.rev)
	writeEvent(ve, s.Master)

	if s.RRule != "" {
		ve.AddProperty(ical.ComponentPropertyRrule, s.RRule)
	}

	exdates := append([]model.EventTime(nil), s.ExDates...)
	sort.SliceStable(exdates, func(i, j int) bool {
		return exdates[i].Wall.Before(exdates[j].Wall)
	})
	for _, ex := range exdates {
		ve.AddProperty(ical.ComponentPropertyExdate, formatValue(ex), timeParams(ex)...)
	}

	ve.Properties = append(ve.Properties, s.extra...)
	ve.Components = append(ve.Components, s.subs...)
	return ve
}

func overrideVEvent(s *Series, o *Override) *ical.VEvent {
	ve := ical.NewEvent(s.UID)
	ve.AddProperty(propRecurrenceID, formatValue(o.RecurrenceID), timeParams(o.RecurrenceID)...)
	writeRevision(ve, o.rev)
	writeEvent(ve, o.Event)
	ve.Properties = append(ve.Properties, o.extra...)
	ve.Components = append(ve.Components, o.subs...)
	return ve
}

func writeRevision(ve *ical.VEvent, rev revision) {
	if !rev.Stamp.IsZero() {
		ve.AddProperty(ical.ComponentPropertyDtstamp, rev.Stamp.UTC().Format(utcLayout))
	}
	if !rev.Modified.IsZero() {
		ve.AddProperty(propLastModified, rev.Modified.UTC().Format(utcLayout))
	}
	if rev.Sequence > 0 {
		ve.AddProperty(ical.ComponentPropertySequence, strconv.Itoa(rev.Sequence))
	}
}

func writeEvent(ve *ical.VEvent, ev model.Event) {
	ve.AddProperty(ical.ComponentPropertyDtStart, formatValue(ev.Start), timeParams(ev.Start)...)
	ve.AddProperty(ical.ComponentPropertyDtEnd, formatValue(ev.End), timeParams(ev.End)...)
	ve.AddProperty(ical.ComponentPropertySummary, ev.Summary)
	if ev.Description != "" {
		ve.AddProperty(ical.ComponentPropertyDescription, ev.Description)
	}
	if ev.Location != "" {
		ve.AddProperty(ical.ComponentPropertyLocation, ev.Location)
	}
}

// formatValue renders t in the same form it was parsed from.
func formatValue(t model.EventTime) string {
	switch {
	case t.AllDay:
		return t.Wall.Format(dateLayout)
	case t.IsUTC():
		return t.Wall.UTC().Format(utcLayout)
	default:
		return t.Wall.Format(localLayout)
	}
}

func timeParams(t model.EventTime) []ical.PropertyParameter {
	switch {
	case t.AllDay:
		return []ical.PropertyParameter{&ical.KeyValues{Key: string(ical.ParameterValue), Value: []string{"DATE"}}}
	case t.TZID != "" && !t.IsUTC():
		return []ical.PropertyParameter{&ical.KeyValues{Key: string(ical.ParameterTzid), Value: []string{t.TZID}}}
	}
	return nil
}
