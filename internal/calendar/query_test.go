package calendar

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"localcal/internal/model"
)

func TestActiveAndUpcoming(t *testing.T) {
	c, _ := newTestCalendar(t, "")
	ctx := context.Background()
	now := time.Date(2022, 8, 21, 12, 0, 0, 0, regina)

	_, err := c.Create(ctx, EventInput{
		Summary: "Current",
		Start:   model.Instant(now.Add(-30 * time.Minute)),
		End:     model.Instant(now.Add(30 * time.Minute)),
	})
	require.NoError(t, err)
	_, err = c.Create(ctx, EventInput{
		Summary: "Tomorrow",
		Start:   model.Instant(now.Add(24 * time.Hour)),
		End:     model.Instant(now.Add(25 * time.Hour)),
	})
	require.NoError(t, err)

	active, ok, err := c.ActiveNow(now)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Current", active.Summary)

	next, ok, err := c.NextUpcoming(now)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Tomorrow", next.Summary)

	_, ok, err = c.ActiveNow(now.Add(2 * time.Hour))
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = c.NextUpcoming(now.Add(48 * time.Hour))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestActiveNowPrefersSoonestEnd(t *testing.T) {
	c, _ := newTestCalendar(t, "")
	ctx := context.Background()

	_, err := c.Create(ctx, EventInput{Summary: "Long", Start: floating(22, 8, 0), End: floating(22, 12, 0)})
	require.NoError(t, err)
	_, err = c.Create(ctx, EventInput{Summary: "Short", Start: floating(22, 9, 0), End: floating(22, 10, 0)})
	require.NoError(t, err)

	active, ok, err := c.ActiveNow(time.Date(2022, 8, 22, 9, 30, 0, 0, regina))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Short", active.Summary)

	// End is exclusive.
	active, ok, err = c.ActiveNow(time.Date(2022, 8, 22, 10, 0, 0, 0, regina))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Long", active.Summary)
}

func TestNextUpcomingSkipsRunningAndFarEvents(t *testing.T) {
	c, _ := newTestCalendar(t, dailyDoc)
	now := time.Date(2022, 8, 22, 8, 45, 0, 0, regina)

	next, ok, err := c.NextUpcoming(now)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Lunch", next.Summary)

	next, ok, err = c.NextUpcoming(time.Date(2022, 8, 22, 12, 0, 0, 0, regina))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Daily standup", next.Summary)
	assert.Equal(t, "20220823T083000", next.RecurrenceID)

	c2, _ := newTestCalendar(t, "")
	_, err = c2.Create(context.Background(), EventInput{
		Summary: "Far away",
		Start:   model.Date(2025, 1, 1),
		End:     model.Date(2025, 1, 2),
	})
	require.NoError(t, err)
	next, ok, err = c2.NextUpcoming(testNow)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, next.AllDay)
	assert.Equal(t, 2025, next.Start.Year())
}

func TestStatus(t *testing.T) {
	c, _ := newTestCalendar(t, dailyDoc)

	st, err := c.Status(time.Date(2022, 8, 22, 9, 0, 0, 0, regina))
	require.NoError(t, err)
	assert.Equal(t, StateOn, st.State)
	require.NotNil(t, st.Event)
	assert.Equal(t, "Daily standup", st.Event.Summary)

	st, err = c.Status(time.Date(2022, 8, 22, 10, 0, 0, 0, regina))
	require.NoError(t, err)
	assert.Equal(t, StateOff, st.State)
	require.NotNil(t, st.Event)
	assert.Equal(t, "Lunch", st.Event.Summary)

	st, err = c.Status(time.Date(2023, 1, 1, 0, 0, 0, 0, regina))
	require.NoError(t, err)
	assert.Equal(t, StateOff, st.State)
	assert.Nil(t, st.Event)
}

func TestQueryReportsTruncatedSeries(t *testing.T) {
	c, _ := newTestCalendar(t, dailyDoc)
	ctx := context.Background()
	uid, err := c.Create(ctx, EventInput{
		Summary: "Every day",
		Start:   floating(22, 7, 0),
		End:     floating(22, 7, 30),
		RRule:   "FREQ=DAILY",
	})
	require.NoError(t, err)

	occ, err := c.Query(
		time.Date(2022, 8, 1, 0, 0, 0, 0, regina),
		time.Date(2042, 8, 1, 0, 0, 0, 0, regina),
		nil)
	var incomplete *IncompleteError
	require.True(t, errors.As(err, &incomplete), "got %v", err)
	assert.Equal(t, []string{uid}, incomplete.Truncated)
	assert.Empty(t, incomplete.Skipped)
	assert.Contains(t, err.Error(), uid)

	// The partial result is still returned: the capped series plus the rest.
	n := 0
	for _, o := range occ {
		if o.UID == uid {
			n++
		}
	}
	assert.Equal(t, 5000, n)
	assert.Len(t, occ, 5000+11)

	// A window the cap does not reach is complete.
	_, err = c.Query(
		time.Date(2022, 8, 1, 0, 0, 0, 0, regina),
		time.Date(2023, 8, 1, 0, 0, 0, 0, regina),
		nil)
	assert.NoError(t, err)
}

func TestNextUpcomingToleratesTruncation(t *testing.T) {
	c, _ := newTestCalendar(t, "")
	ctx := context.Background()
	start := time.Date(2022, 8, 22, 9, 0, 0, 0, time.UTC)
	_, err := c.Create(ctx, EventInput{
		Summary: "Tick",
		Start:   model.Floating(start),
		End:     model.Floating(start.Add(5 * time.Second)),
		RRule:   "FREQ=SECONDLY;INTERVAL=10",
	})
	require.NoError(t, err)

	// A day holds 8640 ticks, past the per-series cap.
	at := time.Date(2022, 8, 22, 9, 0, 1, 0, regina)
	_, err = c.Query(at, at.Add(24*time.Hour), nil)
	var incomplete *IncompleteError
	require.True(t, errors.As(err, &incomplete))

	next, ok, err := c.NextUpcoming(at)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, next.Start.Equal(time.Date(2022, 8, 22, 9, 0, 10, 0, regina)), next.Start)
}
