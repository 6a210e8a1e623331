package model

import "time"

// EventTime is a DTSTART/DTEND/RECURRENCE-ID/EXDATE value as written in the
// document. It keeps the original reference frame so a stored value is never
// rewritten into another zone:
//
//   - all-day date        (VALUE=DATE)
//   - floating date-time  (no TZID, no Z; interpreted in the calendar's local zone)
//   - UTC date-time       (trailing Z)
//   - zoned date-time     (TZID=<IANA name>)
type EventTime struct {
	// Wall holds the calendar fields in time.UTC. For UTC values it is the
	// instant itself.
	Wall time.Time

	AllDay bool

	// TZID is "UTC" for UTC values, the zone name for zoned values and empty
	// for dates and floating values.
	TZID string
}

const UTC = "UTC"

// Date returns an all-day value.
func Date(year int, month time.Month, day int) EventTime {
	return EventTime{Wall: time.Date(year, month, day, 0, 0, 0, 0, time.UTC), AllDay: true}
}

// DateOf returns the all-day value for the calendar date of t in t's zone.
func DateOf(t time.Time) EventTime {
	return Date(t.Year(), t.Month(), t.Day())
}

// Floating returns a floating value with the wall clock of t.
func Floating(t time.Time) EventTime {
	return EventTime{Wall: wallOf(t)}
}

// Zoned returns a value bound to the named zone with the wall clock of t.
func Zoned(t time.Time, tzid string) EventTime {
	if tzid == "" {
		return Floating(t)
	}
	if tzid == UTC {
		return EventTime{Wall: wallOf(t), TZID: UTC}
	}
	return EventTime{Wall: wallOf(t), TZID: tzid}
}

// Instant returns a value for the absolute time t. Times in a named IANA
// zone keep that zone; fixed offsets and the process-local zone are
// normalized to UTC.
func Instant(t time.Time) EventTime {
	name := t.Location().String()
	switch name {
	case "", "Local", UTC:
		return EventTime{Wall: t.UTC(), TZID: UTC}
	}
	return EventTime{Wall: wallOf(t), TZID: name}
}

func (t EventTime) IsZero() bool { return t.Wall.IsZero() }

func (t EventTime) IsUTC() bool { return !t.AllDay && t.TZID == UTC }

func (t EventTime) IsFloating() bool { return !t.AllDay && t.TZID == "" }

// In places the wall clock into loc. Only meaningful for dates and floating
// values, or for zoned values when loc is their resolved zone.
func (t EventTime) In(loc *time.Location) time.Time {
	if t.IsUTC() {
		return t.Wall.In(loc)
	}
	w := t.Wall
	return time.Date(w.Year(), w.Month(), w.Day(), w.Hour(), w.Minute(), w.Second(), w.Nanosecond(), loc)
}

// Equal reports whether both values carry the same frame and wall clock.
func (t EventTime) Equal(o EventTime) bool {
	return t.AllDay == o.AllDay && t.TZID == o.TZID && t.Wall.Equal(o.Wall)
}

func wallOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
}

// Event is the editable field set shared by a series master and its
// per-instance overrides.
type Event struct {
	Summary     string
	Description string
	Location    string

	Start EventTime
	End   EventTime
}

// InstanceKind tags how an occurrence was produced.
type InstanceKind int

const (
	// InstanceSingle is the only occurrence of a non-recurring series.
	InstanceSingle InstanceKind = iota
	// InstanceGenerated comes from the recurrence rule and the master fields.
	InstanceGenerated
	// InstanceOverride replaces a generated instance with explicit fields.
	InstanceOverride
)

func (k InstanceKind) String() string {
	switch k {
	case InstanceGenerated:
		return "generated"
	case InstanceOverride:
		return "override"
	default:
		return "single"
	}
}

// Occurrence represents a single concrete instance of an event
// (after recurrence expansion and timezone normalization).
type Occurrence struct {
	UID string

	// RecurrenceID is the original start-key of a recurring instance,
	// formatted like an iCalendar RECURRENCE-ID value. Empty for
	// non-recurring series.
	RecurrenceID string
	// RRule is the owning series' rule text, empty when not recurring.
	RRule string
	Kind  InstanceKind

	Summary     string
	Description string
	Location    string

	AllDay bool

	// Start / End are in the display timezone. All-day occurrences carry
	// midnight of their dates in that zone; End is exclusive.
	Start time.Time
	End   time.Time
}

// Contains reports whether instant falls in [Start, End). A zero-length
// occurrence contains only its own start.
func (o Occurrence) Contains(instant time.Time) bool {
	if o.Start.Equal(o.End) {
		return o.Start.Equal(instant)
	}
	return !instant.Before(o.Start) && instant.Before(o.End)
}
