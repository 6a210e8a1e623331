package ics

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"localcal/internal/model"
)

// crlf turns a readable fixture into wire-format ICS text.
func crlf(s string) string {
	return strings.ReplaceAll(strings.TrimLeft(s, "\n"), "\n", "\r\n")
}

func mustParse(t *testing.T, text string) *Calendar {
	t.Helper()
	cal, err := Parse(crlf(text))
	require.NoError(t, err)
	return cal
}

func TestParseEmpty(t *testing.T) {
	for _, text := range []string{"", "  \r\n"} {
		cal, err := Parse(text)
		require.NoError(t, err)
		assert.Equal(t, 0, cal.Len())
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		text string
		uid  string
	}{
		{
			name: "unterminated",
			text: `
BEGIN:VCALENDAR
BEGIN:VEVENT
UID:a
`,
		},
		{
			name: "missing uid",
			text: `
BEGIN:VCALENDAR
BEGIN:VEVENT
DTSTART:20220822T083000
END:VEVENT
END:VCALENDAR
`,
		},
		{
			name: "missing dtstart",
			uid:  "a",
			text: `
BEGIN:VCALENDAR
BEGIN:VEVENT
UID:a
SUMMARY:x
END:VEVENT
END:VCALENDAR
`,
		},
		{
			name: "bad dtstart",
			uid:  "a",
			text: `
BEGIN:VCALENDAR
BEGIN:VEVENT
UID:a
DTSTART:2022-08-22
END:VEVENT
END:VCALENDAR
`,
		},
		{
			name: "mixed date and date-time",
			uid:  "a",
			text: `
BEGIN:VCALENDAR
BEGIN:VEVENT
UID:a
DTSTART;VALUE=DATE:20220822
DTEND:20220822T100000
END:VEVENT
END:VCALENDAR
`,
		},
		{
			name: "bad rrule",
			uid:  "a",
			text: `
BEGIN:VCALENDAR
BEGIN:VEVENT
UID:a
DTSTART:20220822T083000
RRULE:FREQ=SOMETIMES
END:VEVENT
END:VCALENDAR
`,
		},
		{
			name: "rrule with count and until",
			uid:  "a",
			text: `
BEGIN:VCALENDAR
BEGIN:VEVENT
UID:a
DTSTART:20220822T083000
RRULE:FREQ=DAILY;COUNT=3;UNTIL=20220830T000000Z
END:VEVENT
END:VCALENDAR
`,
		},
		{
			name: "override without master",
			uid:  "a",
			text: `
BEGIN:VCALENDAR
BEGIN:VEVENT
UID:a
RECURRENCE-ID:20220823T083000
DTSTART:20220823T090000
DTEND:20220823T100000
END:VEVENT
END:VCALENDAR
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cal, err := Parse(crlf(tt.text))
			require.Error(t, err)
			assert.Nil(t, cal)

			var perr *ParseError
			require.True(t, errors.As(err, &perr), "got %T", err)
			assert.Equal(t, tt.uid, perr.UID)
		})
	}
}

func TestParseDuplicateUID(t *testing.T) {
	_, err := Parse(crlf(`
BEGIN:VCALENDAR
BEGIN:VEVENT
UID:dup
DTSTART:20220822T083000
END:VEVENT
BEGIN:VEVENT
UID:dup
DTSTART:20220823T083000
END:VEVENT
END:VCALENDAR
`))
	require.ErrorIs(t, err, ErrDuplicateUID)
}

func TestParseEventFields(t *testing.T) {
	cal := mustParse(t, `
BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//test//EN
BEGIN:VEVENT
UID:meeting
DTSTART;TZID=America/Regina:20220822T083000
DURATION:PT1H30M
SUMMARY:Stand\, up
DESCRIPTION:line one\nline two
LOCATION:Room 1
RRULE:FREQ=DAILY;COUNT=5
EXDATE;TZID=America/Regina:20220823T083000,20220824T083000
SEQUENCE:3
X-CUSTOM:kept
END:VEVENT
BEGIN:VEVENT
UID:meeting
RECURRENCE-ID;TZID=America/Regina:20220825T083000
DTSTART;TZID=America/Regina:20220825T100000
DTEND;TZID=America/Regina:20220825T110000
SUMMARY:Moved
END:VEVENT
BEGIN:VEVENT
UID:festival
DTSTART;VALUE=DATE:20070628
SUMMARY:Festival
END:VEVENT
END:VCALENDAR
`)
	require.Equal(t, 2, cal.Len())

	s, err := cal.Find("meeting")
	require.NoError(t, err)
	assert.Equal(t, "Stand, up", s.Master.Summary)
	assert.Equal(t, "line one\nline two", s.Master.Description)
	assert.Equal(t, "Room 1", s.Master.Location)
	assert.Equal(t, "FREQ=DAILY;COUNT=5", s.RRule)
	assert.Equal(t, 3, s.Sequence())
	assert.Equal(t, model.Zoned(time.Date(2022, 8, 22, 8, 30, 0, 0, time.UTC), "America/Regina"), s.Master.Start)
	assert.Equal(t, model.Zoned(time.Date(2022, 8, 22, 10, 0, 0, 0, time.UTC), "America/Regina"), s.Master.End)
	assert.Len(t, s.ExDates, 2)
	require.Len(t, s.Overrides, 1)
	assert.Equal(t, "Moved", s.Overrides[0].Event.Summary)

	f, err := cal.Find("festival")
	require.NoError(t, err)
	assert.True(t, f.Master.Start.AllDay)
	assert.Equal(t, model.Date(2007, 6, 29), f.Master.End)

	_, err = cal.Find("nope")
	assert.ErrorIs(t, err, ErrSeriesNotFound)
}

func TestTextEscaping(t *testing.T) {
	cal := New()
	now := time.Date(2022, 8, 20, 12, 0, 0, 0, time.UTC)
	require.NoError(t, cal.Add(NewSeries("esc", model.Event{
		Summary:     "a, b; c\\d\nline2",
		Description: "first\nsecond",
		Location:    "Room 1; east",
		Start:       model.Floating(time.Date(2022, 8, 22, 12, 0, 0, 0, time.UTC)),
		End:         model.Floating(time.Date(2022, 8, 22, 13, 0, 0, 0, time.UTC)),
	}, "", now)))

	text, err := Serialize(cal)
	require.NoError(t, err)
	assert.Contains(t, text, "\r\nSUMMARY:a\\, b\\; c\\\\d\\nline2\r\n")
	assert.Contains(t, text, "\r\nDESCRIPTION:first\\nsecond\r\n")
	assert.Contains(t, text, "\r\nLOCATION:Room 1\\; east\r\n")

	again, err := Parse(text)
	require.NoError(t, err)
	got, err := again.Find("esc")
	require.NoError(t, err)
	assert.Equal(t, "a, b; c\\d\nline2", got.Master.Summary)
	assert.Equal(t, "first\nsecond", got.Master.Description)
	assert.Equal(t, "Room 1; east", got.Master.Location)
}

func TestParseStandardEscapes(t *testing.T) {
	cal := mustParse(t, `
BEGIN:VCALENDAR
BEGIN:VEVENT
UID:path
DTSTART:20220822T083000
SUMMARY:C:\\new folder\, ok
DESCRIPTION:one\ntwo\Nthree
LOCATION:A\; B
END:VEVENT
END:VCALENDAR
`)
	s, err := cal.Find("path")
	require.NoError(t, err)
	assert.Equal(t, `C:\new folder, ok`, s.Master.Summary)
	assert.Equal(t, "one\ntwo\nthree", s.Master.Description)
	assert.Equal(t, "A; B", s.Master.Location)

	text, err := Serialize(cal)
	require.NoError(t, err)
	assert.Contains(t, text, `SUMMARY:C:\\new folder\, ok`)
}

func TestEnvCheck(t *testing.T) {
	good := mustParse(t, `
BEGIN:VCALENDAR
BEGIN:VEVENT
UID:ny
DTSTART;TZID=America/New_York:20221101T090000
RRULE:FREQ=WEEKLY
END:VEVENT
END:VCALENDAR
`)
	assert.NoError(t, testEnv().Check(good))

	bad := mustParse(t, `
BEGIN:VCALENDAR
BEGIN:VEVENT
UID:ny
DTSTART;TZID=America/New_York:20221101T090000
END:VEVENT
BEGIN:VEVENT
UID:mars
DTSTART:20221101T090000
RRULE:FREQ=DAILY
END:VEVENT
BEGIN:VEVENT
UID:mars
RECURRENCE-ID:20221102T090000
DTSTART;TZID=Mars/Base:20221102T100000
END:VEVENT
END:VCALENDAR
`)
	err := testEnv().Check(bad)
	var perr *ParseError
	require.True(t, errors.As(err, &perr), "got %v", err)
	assert.Equal(t, "mars", perr.UID)
}

func TestRoundTrip(t *testing.T) {
	cal := mustParse(t, `
BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//test//EN
X-WR-CALNAME:Personal
BEGIN:VTODO
UID:todo-1
SUMMARY:Not an event
END:VTODO
BEGIN:VEVENT
UID:weekly
DTSTART:20220829T090000
DTEND:20220829T100000
SUMMARY:Weekly; sync
RRULE:FREQ=WEEKLY
EXDATE:20220905T090000
X-CUSTOM;X-PARAM=1:kept
END:VEVENT
BEGIN:VEVENT
UID:weekly
RECURRENCE-ID:20220912T090000
DTSTART:20220912T140000
DTEND:20220912T150000
SUMMARY:Moved sync
END:VEVENT
BEGIN:VEVENT
UID:bastille
DTSTART:19970714T170000Z
DTEND:19970715T040000Z
SUMMARY:Bastille Day Party
END:VEVENT
BEGIN:VEVENT
UID:festival
DTSTART;VALUE=DATE:20220901
DTEND;VALUE=DATE:20220903
SUMMARY:Festival
RRULE:FREQ=YEARLY;COUNT=3
END:VEVENT
BEGIN:VEVENT
UID:ny
DTSTART;TZID=America/New_York:20221101T090000
DTEND;TZID=America/New_York:20221101T093000
SUMMARY:Zoned
RRULE:FREQ=WEEKLY;UNTIL=20221201T000000Z
END:VEVENT
END:VCALENDAR
`)

	text, err := Serialize(cal)
	require.NoError(t, err)
	assert.Contains(t, text, "X-WR-CALNAME:Personal")
	assert.Contains(t, text, "BEGIN:VTODO")
	assert.Contains(t, text, "X-CUSTOM;X-PARAM=1:kept")
	assert.Contains(t, text, `SUMMARY:Weekly\; sync`)

	again, err := Parse(text)
	require.NoError(t, err)
	require.Equal(t, cal.Len(), again.Len())

	windows := [][2]time.Time{
		{time.Date(1997, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(1998, 1, 1, 0, 0, 0, 0, time.UTC)},
		{time.Date(2022, 8, 1, 0, 0, 0, 0, time.UTC), time.Date(2022, 12, 31, 0, 0, 0, 0, time.UTC)},
		{time.Date(2023, 8, 31, 0, 0, 0, 0, time.UTC), time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, w := range windows {
		cfg := ExpandConfig{Env: testEnv(), RangeStart: w[0], RangeEnd: w[1]}
		want, err := ExpandCalendar(cal, cfg)
		require.NoError(t, err)
		got, err := ExpandCalendar(again, cfg)
		require.NoError(t, err)
		require.NotEmpty(t, want.Occurrences)
		if diff := cmp.Diff(want.Occurrences, got.Occurrences); diff != "" {
			t.Errorf("occurrences differ after round trip (-want +got):\n%s", diff)
		}
	}
}

func TestSerializeNewCalendar(t *testing.T) {
	cal := New()
	now := time.Date(2022, 8, 20, 12, 0, 0, 0, time.UTC)
	s := NewSeries("abc", model.Event{
		Summary: "Lunch, with friends",
		Start:   model.Floating(time.Date(2022, 8, 22, 12, 0, 0, 0, time.UTC)),
		End:     model.Floating(time.Date(2022, 8, 22, 13, 0, 0, 0, time.UTC)),
	}, "RRULE:FREQ=DAILY;COUNT=2", now)
	require.NoError(t, cal.Add(s))
	require.ErrorIs(t, cal.Add(s), ErrDuplicateUID)

	text, err := Serialize(cal)
	require.NoError(t, err)
	assert.Contains(t, text, "VERSION:2.0")
	assert.Contains(t, text, "PRODID:"+DefaultProductID)
	assert.Contains(t, text, "DTSTAMP:20220820T120000Z")
	assert.Contains(t, text, "RRULE:FREQ=DAILY;COUNT=2")

	again, err := Parse(text)
	require.NoError(t, err)
	got, err := again.Find("abc")
	require.NoError(t, err)
	assert.Equal(t, "Lunch, with friends", got.Master.Summary)
	assert.Equal(t, s.Master.Start, got.Master.Start)
}

func TestApplyDuration(t *testing.T) {
	start := model.Floating(time.Date(2022, 8, 22, 8, 30, 0, 0, time.UTC))
	tests := []struct {
		in   string
		want time.Time
	}{
		{"PT1H", time.Date(2022, 8, 22, 9, 30, 0, 0, time.UTC)},
		{"P1D", time.Date(2022, 8, 23, 8, 30, 0, 0, time.UTC)},
		{"P1W", time.Date(2022, 8, 29, 8, 30, 0, 0, time.UTC)},
		{"P1DT2H15M", time.Date(2022, 8, 23, 10, 45, 0, 0, time.UTC)},
		{"PT0S", time.Date(2022, 8, 22, 8, 30, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		got, err := applyDuration(start, tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got.Wall, tt.in)
	}

	for _, bad := range []string{"", "P", "PT", "1H", "PXD"} {
		_, err := applyDuration(start, bad)
		assert.Error(t, err, bad)
	}
}
