package ics

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teambition/rrule-go"

	"liveboard/internal/clock"
)

// Fixed resolution instant: Dec 14, 2024 23:00 UTC. Under JST (offset -540)
// the client's "today" is Sunday Dec 15, the window is
// [Dec 14 15:00Z, Dec 16 15:00Z) and the hide cutoff is Dec 14 22:00Z.
var (
	testNow    = time.Date(2024, 12, 14, 23, 0, 0, 0, time.UTC)
	testOffset = clock.FixedOffset(-540)
)

func buildICS(t *testing.T, eventLines ...string) []RawEvent {
	t.Helper()

	lines := []string{"BEGIN:VCALENDAR", "VERSION:2.0", "PRODID:-//liveboard//test//EN"}
	lines = append(lines, eventLines...)
	lines = append(lines, "END:VCALENDAR")

	events, err := Parse(Source{Name: "test"}, []byte(strings.Join(lines, "\r\n")))
	require.NoError(t, err)
	return events
}

func vevent(props ...string) []string {
	out := []string{"BEGIN:VEVENT"}
	out = append(out, props...)
	out = append(out, "END:VEVENT")
	return out
}

func TestDailyRuleStartedYearsAgo(t *testing.T) {
	// Daily standup created five years before the window, no end; 00:00 UTC
	// is 09:00 JST.
	events := buildICS(t, vevent(
		"UID:standup",
		"DTSTART:20191216T000000Z",
		"DTEND:20191216T000000Z",
		"RRULE:FREQ=DAILY",
		"SUMMARY:Daily Standup",
	)...)

	start := time.Now()
	result := Resolve(events, "test", testOffset, testNow)
	elapsed := time.Since(start)

	assert.Less(t, elapsed, 100*time.Millisecond, "resolution must not walk years of past occurrences")

	require.Len(t, result.Today, 1)
	assert.Equal(t, "Daily Standup", result.Today[0].Summary)
	assert.Equal(t, "09:00", result.Today[0].Time)
	assert.Equal(t, "test", result.Today[0].Badge)
	assert.False(t, result.Today[0].AllDay)

	require.Len(t, result.Tomorrow, 1)
	assert.Equal(t, "09:00", result.Tomorrow[0].Time)
}

func TestRescheduledExceptionAppearsOnOwnDate(t *testing.T) {
	// The rule's last occurrence was yesterday, but that occurrence was
	// rescheduled to today 16:00 JST. The base walk never reaches the slot;
	// the override must still appear once, with its own summary and time.
	ics := append(vevent(
		"UID:meeting",
		"DTSTART:20241213T070000Z",
		"DTEND:20241213T073000Z",
		"RRULE:FREQ=DAILY;UNTIL=20241214T070000Z",
		"SUMMARY:Original Meeting",
	), vevent(
		"UID:meeting",
		"RECURRENCE-ID:20241214T070000Z",
		"DTSTART:20241215T070000Z",
		"DTEND:20241215T073000Z",
		"SUMMARY:Rescheduled Meeting",
	)...)

	result := Resolve(buildICS(t, ics...), "", testOffset, testNow)

	require.Len(t, result.Today, 1)
	assert.Equal(t, "Rescheduled Meeting", result.Today[0].Summary)
	assert.Equal(t, "16:00", result.Today[0].Time)
	assert.Empty(t, result.Tomorrow)
}

func TestExceptionSubstitutesBaseOccurrence(t *testing.T) {
	// Today's occurrence of the daily 16:00 JST sync is moved to 18:00 with
	// a new title; it must appear exactly once, as the override. Tomorrow's
	// occurrence stays untouched.
	ics := append(vevent(
		"UID:sync",
		"DTSTART:20241213T070000Z",
		"DTEND:20241213T073000Z",
		"RRULE:FREQ=DAILY",
		"SUMMARY:Team Sync",
	), vevent(
		"UID:sync",
		"RECURRENCE-ID:20241215T070000Z",
		"DTSTART:20241215T090000Z",
		"DTEND:20241215T093000Z",
		"SUMMARY:Moved Sync",
	)...)

	result := Resolve(buildICS(t, ics...), "", testOffset, testNow)

	require.Len(t, result.Today, 1)
	assert.Equal(t, "Moved Sync", result.Today[0].Summary)
	assert.Equal(t, "18:00", result.Today[0].Time)

	require.Len(t, result.Tomorrow, 1)
	assert.Equal(t, "Team Sync", result.Tomorrow[0].Summary)
	assert.Equal(t, "16:00", result.Tomorrow[0].Time)
}

func TestHideCutoffAppliesToTodayOnly(t *testing.T) {
	ics := vevent(
		"UID:long-done",
		"DTSTART:20241214T200000Z",
		"DTEND:20241214T210000Z",
		"SUMMARY:Ended Long Ago",
	)
	ics = append(ics, vevent(
		"UID:just-done",
		"DTSTART:20241214T213000Z",
		"DTEND:20241214T221500Z",
		"SUMMARY:Ended Recently",
	)...)
	// Bucketed tomorrow but with an end instant before the cutoff: the
	// cutoff must not apply outside today.
	ics = append(ics, vevent(
		"UID:tomorrow-odd",
		"DTSTART:20241215T200000Z",
		"DTEND:20241214T200000Z",
		"SUMMARY:Tomorrow Odd End",
	)...)

	result := Resolve(buildICS(t, ics...), "", testOffset, testNow)

	require.Len(t, result.Today, 1)
	assert.Equal(t, "Ended Recently", result.Today[0].Summary)

	require.Len(t, result.Tomorrow, 1)
	assert.Equal(t, "Tomorrow Odd End", result.Tomorrow[0].Summary)
}

func TestAllDayNeverDroppedByCutoff(t *testing.T) {
	events := buildICS(t, vevent(
		"UID:holiday",
		"DTSTART;VALUE=DATE:20241215",
		"SUMMARY:Holiday",
	)...)

	result := Resolve(events, "家", testOffset, testNow)

	require.Len(t, result.Today, 1)
	assert.True(t, result.Today[0].AllDay)
	assert.Empty(t, result.Today[0].Time)
	assert.Equal(t, "Holiday", result.Today[0].Summary)
	assert.Equal(t, "家", result.Today[0].Badge)
}

func TestExDateRemovesOccurrence(t *testing.T) {
	events := buildICS(t, vevent(
		"UID:skipped-today",
		"DTSTART:20241213T070000Z",
		"DTEND:20241213T073000Z",
		"RRULE:FREQ=DAILY",
		"EXDATE:20241215T070000Z",
		"SUMMARY:Standup",
	)...)

	result := Resolve(events, "", testOffset, testNow)

	assert.Empty(t, result.Today)
	require.Len(t, result.Tomorrow, 1)
}

func TestMalformedRuleIsolated(t *testing.T) {
	ics := append(vevent(
		"UID:broken",
		"DTSTART:20241215T010000Z",
		"RRULE:FREQ=BOGUS",
		"SUMMARY:Broken",
	), vevent(
		"UID:fine",
		"DTSTART:20241215T010000Z",
		"DTEND:20241215T020000Z",
		"SUMMARY:Fine",
	)...)

	result := Resolve(buildICS(t, ics...), "", testOffset, testNow)

	require.Len(t, result.Today, 1)
	assert.Equal(t, "Fine", result.Today[0].Summary)
}

func TestOutsideWindowDropped(t *testing.T) {
	// Dec 17 JST: past tomorrow.
	events := buildICS(t, vevent(
		"UID:later",
		"DTSTART:20241217T010000Z",
		"DTEND:20241217T020000Z",
		"SUMMARY:Later",
	)...)

	result := Resolve(events, "", testOffset, testNow)

	assert.Empty(t, result.Today)
	assert.Empty(t, result.Tomorrow)
}

func TestMissingSummaryGetsPlaceholder(t *testing.T) {
	events := buildICS(t, vevent(
		"UID:untitled",
		"DTSTART:20241215T010000Z",
		"DTEND:20241215T020000Z",
	)...)

	result := Resolve(events, "", testOffset, testNow)

	require.Len(t, result.Today, 1)
	assert.Equal(t, "(No title)", result.Today[0].Summary)
}

func TestFastForwardKeepsPhase(t *testing.T) {
	start := time.Date(2019, 12, 16, 0, 0, 0, 0, time.UTC)
	windowStart := time.Date(2024, 12, 14, 15, 0, 0, 0, time.UTC)

	ff := fastForward(start, windowStart, rrule.DAILY, 1)

	assert.False(t, ff.After(windowStart))
	assert.True(t, windowStart.Sub(ff) < 24*time.Hour, "must land within one step of the window")
	assert.Zero(t, ff.Sub(start)%(24*time.Hour), "phase must be preserved")

	// A start already inside the window is untouched.
	inside := windowStart.Add(time.Hour)
	assert.True(t, fastForward(inside, windowStart, rrule.DAILY, 1).Equal(inside))

	// Monthly rules are not arithmetically steppable.
	assert.True(t, fastForward(start, windowStart, rrule.MONTHLY, 1).Equal(start))
}

func TestParseICSDuration(t *testing.T) {
	cases := map[string]time.Duration{
		"PT1H30M": 90 * time.Minute,
		"P2D":     48 * time.Hour,
		"PT45S":   45 * time.Second,
		"-PT15M":  -15 * time.Minute,
		"P1W":     7 * 24 * time.Hour,
		"P1DT12H": 36 * time.Hour,
	}
	for in, want := range cases {
		got, err := parseICSDuration(in)
		assert.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	for _, bad := range []string{"", "1H", "P", "PT", "PTXM", "P1X"} {
		_, err := parseICSDuration(bad)
		assert.Error(t, err, bad)
	}
}

func TestParseRawEvents(t *testing.T) {
	ics := append(vevent(
		"UID:ev1",
		"DTSTART:20241215T010000Z",
		"DURATION:PT2H",
		"RRULE:FREQ=WEEKLY",
		"EXDATE:20241222T010000Z,20241229T010000Z",
		"SUMMARY:Weekly",
	), vevent(
		"UID:ev1",
		"RECURRENCE-ID:20241215T010000Z",
		"DTSTART:20241215T030000Z",
		"SUMMARY:Weekly (moved)",
	)...)
	// Missing UID: skipped, the rest of the feed still parses.
	ics = append(ics, vevent(
		"DTSTART:20241215T010000Z",
		"SUMMARY:No UID",
	)...)

	events := buildICS(t, ics...)

	require.Len(t, events, 2)

	base := events[0]
	assert.Equal(t, "ev1", base.UID)
	assert.Equal(t, 2*time.Hour, base.Duration)
	assert.Equal(t, 2*time.Hour, base.EffectiveDuration())
	assert.Equal(t, "FREQ=WEEKLY", base.RawRRule)
	assert.Len(t, base.ExDates, 2)
	assert.False(t, base.IsOverride)

	override := events[1]
	assert.True(t, override.IsOverride)
	require.NotNil(t, override.RecurrenceID)
	assert.True(t, override.RecurrenceID.Equal(base.Start))
}
