package ics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"localcal/internal/model"
)

const dailyFixture = `
BEGIN:VCALENDAR
BEGIN:VEVENT
UID:daily
DTSTART:20220822T083000
DTEND:20220822T093000
SUMMARY:Daily standup
RRULE:FREQ=DAILY;COUNT=10
END:VEVENT
END:VCALENDAR
`

var mutateNow = time.Date(2022, 8, 21, 12, 0, 0, 0, time.UTC)

func dailySeries(t *testing.T) (*Calendar, *Series) {
	t.Helper()
	cal := mustParse(t, dailyFixture)
	s, err := cal.Find("daily")
	require.NoError(t, err)
	return cal, s
}

func reginaDays(t *testing.T, cal *Calendar, from, to int) []int {
	t.Helper()
	occ := expandWindow(t, cal,
		time.Date(2022, 8, from, 0, 0, 0, 0, regina),
		time.Date(2022, 8, to, 0, 0, 0, 0, regina))
	var days []int
	for _, o := range occ {
		days = append(days, o.Start.Day())
	}
	return days
}

func TestParseRecurrenceID(t *testing.T) {
	tests := []struct {
		in   string
		want model.EventTime
	}{
		{"20220824T083000", model.Floating(time.Date(2022, 8, 24, 8, 30, 0, 0, time.UTC))},
		{"20220824T143000Z", model.EventTime{Wall: time.Date(2022, 8, 24, 14, 30, 0, 0, time.UTC), TZID: model.UTC}},
		{"20220824", model.Date(2022, 8, 24)},
		{"2022-08-24", model.Date(2022, 8, 24)},
		{"2022-08-24T08:30:00", model.Floating(time.Date(2022, 8, 24, 8, 30, 0, 0, time.UTC))},
		{"2022-08-24T08:30:00-06:00", model.EventTime{Wall: time.Date(2022, 8, 24, 14, 30, 0, 0, time.UTC), TZID: model.UTC}},
	}
	for _, tt := range tests {
		got, err := ParseRecurrenceID(tt.in)
		require.NoError(t, err, tt.in)
		assert.True(t, tt.want.Equal(got), "%s: got %+v", tt.in, got)
	}

	for _, bad := range []string{"", "tomorrow", "2022-13-01"} {
		_, err := ParseRecurrenceID(bad)
		assert.Error(t, err, bad)
	}
}

func TestLocate(t *testing.T) {
	_, s := dailySeries(t)
	env := testEnv()

	in, err := s.Locate("20220824T083000", env)
	require.NoError(t, err)
	assert.Equal(t, "20220824T083000", in.Key)
	assert.False(t, in.First())

	// Same instant, other spellings.
	for _, raw := range []string{"2022-08-24T08:30:00", "2022-08-24T14:30:00Z", "20220824T143000Z"} {
		other, err := s.Locate(raw, env)
		require.NoError(t, err, raw)
		assert.Equal(t, in.Key, other.Key, raw)
	}

	first, err := s.Locate("20220822T083000", env)
	require.NoError(t, err)
	assert.True(t, first.First())

	for _, raw := range []string{"20220824T090000", "20220901T083000", "garbage"} {
		_, err := s.Locate(raw, env)
		assert.ErrorIs(t, err, ErrInstanceNotFound, raw)
	}

	single := NewSeries("one", s.Master, "", mutateNow)
	_, err = single.Locate("20220822T083000", env)
	assert.ErrorIs(t, err, ErrInstanceNotFound)
}

func TestExcludeInstance(t *testing.T) {
	cal, s := dailySeries(t)
	env := testEnv()

	in, err := s.Locate("20220824T083000", env)
	require.NoError(t, err)
	s.Exclude(in, env, mutateNow)

	assert.Equal(t, []int{22, 23, 25}, reginaDays(t, cal, 22, 26))
	assert.Equal(t, 1, s.Sequence())

	_, err = s.Locate("20220824T083000", env)
	assert.ErrorIs(t, err, ErrInstanceNotFound, "already excluded")

	text, err := Serialize(cal)
	require.NoError(t, err)
	assert.Contains(t, text, "EXDATE:20220824T083000")
}

func TestExcludeDropsOverride(t *testing.T) {
	cal, s := dailySeries(t)
	env := testEnv()

	in, err := s.Locate("20220823T083000", env)
	require.NoError(t, err)
	ev, err := s.InstanceEvent(in, env)
	require.NoError(t, err)
	ev.Summary = "Moved"
	s.SetOverride(in, ev, env, mutateNow)
	require.Len(t, s.Overrides, 1)

	s.Exclude(in, env, mutateNow)
	assert.Empty(t, s.Overrides)
	assert.Equal(t, []int{22, 24, 25}, reginaDays(t, cal, 22, 26))
}

func TestTruncateBefore(t *testing.T) {
	cal, s := dailySeries(t)
	env := testEnv()

	// An exclusion and an override inside the tail vanish with it.
	ex, err := s.Locate("20220825T083000", env)
	require.NoError(t, err)
	s.Exclude(ex, env, mutateNow)
	ov, err := s.Locate("20220826T083000", env)
	require.NoError(t, err)
	s.SetOverride(ov, s.Master, env, mutateNow)

	in, err := s.Locate("20220823T083000", env)
	require.NoError(t, err)
	require.True(t, s.TruncateBefore(in, env, mutateNow))

	assert.Equal(t, "FREQ=DAILY;UNTIL=20220823T082959", s.RRule)
	assert.Empty(t, s.ExDates)
	assert.Empty(t, s.Overrides)
	assert.Equal(t, []int{22}, reginaDays(t, cal, 22, 31))

	// The rewritten rule survives a round trip.
	text, err := Serialize(cal)
	require.NoError(t, err)
	again, err := Parse(text)
	require.NoError(t, err)
	assert.Equal(t, []int{22}, reginaDays(t, again, 1, 31))
}

func TestTruncateBeforeFirstInstance(t *testing.T) {
	_, s := dailySeries(t)
	env := testEnv()

	in, err := s.Locate("20220822T083000", env)
	require.NoError(t, err)
	assert.False(t, s.TruncateBefore(in, env, mutateNow))
	assert.Equal(t, "FREQ=DAILY;COUNT=10", s.RRule)
}

func TestTruncateBeforeUntilForms(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		key   string
		until string
	}{
		{
			name: "all-day",
			text: `
BEGIN:VCALENDAR
BEGIN:VEVENT
UID:x
DTSTART;VALUE=DATE:20220822
DTEND;VALUE=DATE:20220823
RRULE:FREQ=DAILY
END:VEVENT
END:VCALENDAR
`,
			key:   "20220825",
			until: "FREQ=DAILY;UNTIL=20220824",
		},
		{
			name: "utc",
			text: `
BEGIN:VCALENDAR
BEGIN:VEVENT
UID:x
DTSTART:20220822T140000Z
DTEND:20220822T150000Z
RRULE:FREQ=DAILY;COUNT=5
END:VEVENT
END:VCALENDAR
`,
			key:   "20220824T140000Z",
			until: "FREQ=DAILY;UNTIL=20220824T135959Z",
		},
		{
			name: "zoned",
			text: `
BEGIN:VCALENDAR
BEGIN:VEVENT
UID:x
DTSTART;TZID=America/New_York:20221101T090000
DTEND;TZID=America/New_York:20221101T100000
RRULE:FREQ=WEEKLY
END:VEVENT
END:VCALENDAR
`,
			key:   "20221108T090000",
			until: "FREQ=WEEKLY;UNTIL=20221108T135959Z",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cal := mustParse(t, tt.text)
			s, err := cal.Find("x")
			require.NoError(t, err)

			in, err := s.Locate(tt.key, testEnv())
			require.NoError(t, err)
			require.True(t, s.TruncateBefore(in, testEnv(), mutateNow))
			assert.Equal(t, tt.until, s.RRule)

			_, err = s.Locate(tt.key, testEnv())
			assert.ErrorIs(t, err, ErrInstanceNotFound)
		})
	}
}

func TestSplitAt(t *testing.T) {
	cal, s := dailySeries(t)
	env := testEnv()

	ex, err := s.Locate("20220827T083000", env)
	require.NoError(t, err)
	s.Exclude(ex, env, mutateNow)

	in, err := s.Locate("20220825T083000", env)
	require.NoError(t, err)

	master, err := s.InstanceEvent(in, env)
	require.NoError(t, err)
	assert.True(t, master.End.Equal(model.Floating(time.Date(2022, 8, 25, 9, 30, 0, 0, time.UTC))))
	master.Summary = "Renamed standup"

	ns := s.SplitAt(in, "daily-2", master, env, mutateNow)
	require.True(t, s.TruncateBefore(in, env, mutateNow))
	require.NoError(t, cal.Add(ns))

	assert.Equal(t, "FREQ=DAILY;COUNT=7", ns.RRule)
	assert.Len(t, ns.ExDates, 1, "exclusion in the tail moves to the new series")

	occ := expandWindow(t, cal,
		time.Date(2022, 8, 1, 0, 0, 0, 0, regina),
		time.Date(2022, 9, 30, 0, 0, 0, 0, regina))
	var summaries []string
	for _, o := range occ {
		summaries = append(summaries, o.Summary)
	}
	assert.Len(t, occ, 9)
	assert.Equal(t, "Daily standup", summaries[2])
	assert.Equal(t, "Renamed standup", summaries[3])
	assert.Equal(t, 31, occ[len(occ)-1].Start.Day())
}

func TestSplitAtMovedStartDropsTailKeys(t *testing.T) {
	_, s := dailySeries(t)
	env := testEnv()

	ex, err := s.Locate("20220827T083000", env)
	require.NoError(t, err)
	s.Exclude(ex, env, mutateNow)

	in, err := s.Locate("20220825T083000", env)
	require.NoError(t, err)
	master, err := s.InstanceEvent(in, env)
	require.NoError(t, err)
	master.Start = model.Floating(time.Date(2022, 8, 25, 10, 0, 0, 0, time.UTC))
	master.End = model.Floating(time.Date(2022, 8, 25, 11, 0, 0, 0, time.UTC))

	ns := s.SplitAt(in, "daily-2", master, env, mutateNow)
	assert.Empty(t, ns.ExDates)
}

func TestValidateRule(t *testing.T) {
	for _, ok := range []string{
		"FREQ=DAILY",
		"RRULE:FREQ=WEEKLY;BYDAY=MO,WE",
		"FREQ=MONTHLY;INTERVAL=2;COUNT=4",
		"FREQ=YEARLY;UNTIL=20301231",
	} {
		assert.NoError(t, ValidateRule(ok), ok)
	}
	for _, bad := range []string{
		"",
		"RRULE:",
		"INTERVAL=2",
		"FREQ=SOMETIMES",
		"FREQ=DAILY;COUNT=2;UNTIL=20301231",
		"FREQ=DAILY;DTSTART=20220101T000000Z",
		"FREQ=WEEKLY;BYDAY=XX",
	} {
		assert.Error(t, ValidateRule(bad), bad)
	}
}
