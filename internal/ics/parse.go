package ics

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "localcal/internal/log"
	"localcal/internal/model"
)

const (
	dateLayout  = "20060102"
	localLayout = "20060102T150405"
	utcLayout   = "20060102T150405Z"
)

const (
	propRecurrenceID = ical.ComponentProperty("RECURRENCE-ID")
	propDuration     = ical.ComponentProperty("DURATION")
	propLastModified = ical.ComponentProperty("LAST-MODIFIED")
)

// ParseError reports a document that cannot be turned into a Calendar.
type ParseError struct {
	UID string
	Err error
}

func (e *ParseError) Error() string {
	if e.UID != "" {
		return fmt.Sprintf("ics: parse event %q: %v", e.UID, e.Err)
	}
	return "ics: parse: " + e.Err.Error()
}

func (e *ParseError) Unwrap() error { return e.Err }

// Parse builds a Calendar from ICS text. Blank text is an empty calendar.
//
//   - VEVENTs sharing a UID are grouped: the one without RECURRENCE-ID is the
//     master, the others become its overrides.
//   - Properties the model does not interpret are kept and written back.
//   - Non-VEVENT components (VTIMEZONE, VTODO, ...) pass through unchanged.
//   - RRULE values are validated; TZIDs are resolved later, see Env.Check.
//
// No partial Calendar is returned on failure.
func Parse(text string) (*Calendar, error) {
	if strings.TrimSpace(text) == "" {
		return New(), nil
	}
	if !strings.Contains(text, "END:VCALENDAR") {
		return nil, &ParseError{Err: errors.New("unterminated VCALENDAR")}
	}

	cal, err := ical.ParseCalendar(strings.NewReader(text))
	if err != nil {
		return nil, &ParseError{Err: err}
	}

	out := &Calendar{properties: cal.CalendarProperties}
	masters := make(map[string]*Series)
	var overrides []struct {
		uid string
		o   *Override
	}

	for _, comp := range cal.Components {
		ve, ok := comp.(*ical.VEvent)
		if !ok {
			out.others = append(out.others, comp)
			continue
		}

		pe, perr := parseVEvent(ve)
		if perr != nil {
			return nil, perr
		}

		if pe.recurrenceID != nil {
			overrides = append(overrides, struct {
				uid string
				o   *Override
			}{pe.uid, &Override{
				RecurrenceID: *pe.recurrenceID,
				Event:        pe.event,
				rev:          pe.rev,
				extra:        pe.extra,
				subs:         pe.subs,
			}})
			continue
		}

		if pe.rrule != "" {
			if err := ValidateRule(pe.rrule); err != nil {
				return nil, &ParseError{UID: pe.uid, Err: fmt.Errorf("RRULE: %w", err)}
			}
		}
		if _, dup := masters[pe.uid]; dup {
			return nil, &ParseError{UID: pe.uid, Err: ErrDuplicateUID}
		}
		s := &Series{
			UID:     pe.uid,
			Master:  pe.event,
			RRule:   pe.rrule,
			ExDates: pe.exdates,
			rev:     pe.rev,
			extra:   pe.extra,
			subs:    pe.subs,
		}
		masters[pe.uid] = s
		out.series = append(out.series, s)
	}

	for _, ov := range overrides {
		s, ok := masters[ov.uid]
		if !ok {
			return nil, &ParseError{UID: ov.uid, Err: errors.New("RECURRENCE-ID without a master event")}
		}
		s.Overrides = append(s.Overrides, ov.o)
	}

	appLog.Debug("ics parse completed", "series", len(out.series), "overrides", len(overrides))
	return out, nil
}

type parsedEvent struct {
	uid          string
	event        model.Event
	rrule        string
	exdates      []model.EventTime
	recurrenceID *model.EventTime
	rev          revision
	extra        []ical.IANAProperty
	subs         []ical.Component
}

func parseVEvent(ve *ical.VEvent) (parsedEvent, error) {
	var out parsedEvent

	if uidProp := ve.GetProperty(ical.ComponentPropertyUniqueId); uidProp != nil {
		out.uid = uidProp.Value
	}
	if out.uid == "" {
		return out, &ParseError{Err: errors.New("VEVENT without UID")}
	}
	fail := func(err error) (parsedEvent, error) {
		return out, &ParseError{UID: out.uid, Err: err}
	}

	var (
		haveStart, haveEnd bool
		duration           string
	)

	for i := range ve.Properties {
		p := &ve.Properties[i]
		switch ical.ComponentProperty(p.IANAToken) {
		case ical.ComponentPropertyUniqueId:
		case ical.ComponentPropertySummary:
			out.event.Summary = p.Value
		case ical.ComponentPropertyDescription:
			out.event.Description = p.Value
		case ical.ComponentPropertyLocation:
			out.event.Location = p.Value
		case ical.ComponentPropertyDtStart:
			t, err := parseTimeProp(p)
			if err != nil {
				return fail(fmt.Errorf("DTSTART: %w", err))
			}
			out.event.Start, haveStart = t, true
		case ical.ComponentPropertyDtEnd:
			t, err := parseTimeProp(p)
			if err != nil {
				return fail(fmt.Errorf("DTEND: %w", err))
			}
			out.event.End, haveEnd = t, true
		case propDuration:
			duration = p.Value
		case ical.ComponentPropertyRrule:
			out.rrule = NormalizeRule(p.Value)
		case ical.ComponentPropertyExdate:
			for _, part := range strings.Split(p.Value, ",") {
				part = strings.TrimSpace(part)
				if part == "" {
					continue
				}
				t, err := parseValue(part, p.ICalParameters)
				if err != nil {
					return fail(fmt.Errorf("EXDATE: %w", err))
				}
				out.exdates = append(out.exdates, t)
			}
		case propRecurrenceID:
			t, err := parseTimeProp(p)
			if err != nil {
				return fail(fmt.Errorf("RECURRENCE-ID: %w", err))
			}
			out.recurrenceID = &t
		case ical.ComponentPropertySequence:
			if n, err := strconv.Atoi(strings.TrimSpace(p.Value)); err == nil {
				out.rev.Sequence = n
			}
		case ical.ComponentPropertyDtstamp:
			out.rev.Stamp, _ = time.Parse(utcLayout, p.Value)
		case propLastModified:
			out.rev.Modified, _ = time.Parse(utcLayout, p.Value)
		default:
			out.extra = append(out.extra, *p)
		}
	}
	out.subs = ve.Components

	if !haveStart {
		return fail(errors.New("missing DTSTART"))
	}

	switch {
	case haveEnd:
	case duration != "":
		end, err := applyDuration(out.event.Start, duration)
		if err != nil {
			return fail(fmt.Errorf("DURATION: %w", err))
		}
		out.event.End = end
	case out.event.Start.AllDay:
		// RFC 5545 3.6.1: a date DTSTART without DTEND lasts one day.
		out.event.End = model.DateOf(out.event.Start.Wall.AddDate(0, 0, 1))
	default:
		out.event.End = out.event.Start
	}

	if out.event.End.AllDay != out.event.Start.AllDay {
		return fail(errors.New("DTSTART and DTEND mix date and date-time values"))
	}

	return out, nil
}

func parseTimeProp(p *ical.IANAProperty) (model.EventTime, error) {
	return parseValue(p.Value, p.ICalParameters)
}

// parseValue parses a DATE or DATE-TIME value, honoring VALUE and TZID
// parameters.
func parseValue(v string, params map[string][]string) (model.EventTime, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return model.EventTime{}, errors.New("empty time value")
	}

	isDate := len(v) == len(dateLayout)
	if vs := params[string(ical.ParameterValue)]; len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		isDate = true
	}
	tzid := ""
	if tzs := params[string(ical.ParameterTzid)]; len(tzs) > 0 {
		tzid = strings.Trim(tzs[0], `"`)
	}

	switch {
	case isDate:
		t, err := time.ParseInLocation(dateLayout, v, time.UTC)
		if err != nil {
			return model.EventTime{}, err
		}
		return model.EventTime{Wall: t, AllDay: true}, nil
	case strings.HasSuffix(v, "Z"):
		t, err := time.Parse(utcLayout, v)
		if err != nil {
			return model.EventTime{}, err
		}
		return model.EventTime{Wall: t, TZID: model.UTC}, nil
	default:
		t, err := time.ParseInLocation(localLayout, v, time.UTC)
		if err != nil {
			return model.EventTime{}, err
		}
		return model.Zoned(t, tzid), nil
	}
}

var durationPattern = regexp.MustCompile(`^([+-])?P(?:(\d+)W)?(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?)?$`)

// applyDuration returns start plus an RFC 5545 DURATION. Weeks and days are
// nominal (calendar) units, hours and smaller are added to the wall clock.
func applyDuration(start model.EventTime, value string) (model.EventTime, error) {
	m := durationPattern.FindStringSubmatch(strings.TrimSpace(value))
	if m == nil || value == "P" || strings.HasSuffix(value, "T") {
		return model.EventTime{}, fmt.Errorf("malformed duration %q", value)
	}
	n := func(s string) int {
		if s == "" {
			return 0
		}
		v, _ := strconv.Atoi(s)
		return v
	}
	sign := 1
	if m[1] == "-" {
		sign = -1
	}
	days := sign * (n(m[2])*7 + n(m[3]))
	clock := time.Duration(sign) * (time.Duration(n(m[4]))*time.Hour +
		time.Duration(n(m[5]))*time.Minute +
		time.Duration(n(m[6]))*time.Second)

	end := start
	end.Wall = start.Wall.AddDate(0, 0, days).Add(clock)
	if start.AllDay {
		end = model.DateOf(end.Wall)
	}
	return end, nil
}
