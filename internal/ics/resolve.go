package ics

import (
	"time"

	"github.com/teambition/rrule-go"

	"liveboard/internal/agenda"
	"liveboard/internal/clock"
	"liveboard/internal/log"
)

// maxIterations caps recurrence walking per event regardless of rule
// frequency. The window is two days, so anything beyond this is a degenerate
// rule.
const maxIterations = 100

// Resolve expands one source's raw events into today/tomorrow occurrence
// lists under the client offset.
//
// The resolution window is [client-local midnight of today, +48h); recurrence
// iteration never leaves it. Timed occurrences on today whose end is more
// than one hour before now are dropped; all-day and tomorrow occurrences are
// kept regardless. Override events (RECURRENCE-ID) substitute their matching
// base occurrence and bucket by their own rescheduled date, including
// overrides whose base slot is never reached because the rule already ended.
//
// A malformed individual event is logged and skipped; the rest still resolve.
func Resolve(events []RawEvent, badge string, offset *clock.Offset, now time.Time) agenda.Days {
	loc := offset.Location()
	clientNow := now.In(loc)

	win := window{
		loc:         loc,
		todayKey:    clock.DateKey(clientNow),
		tomorrowKey: clock.DateKey(clientNow.AddDate(0, 0, 1)),
		start:       clock.Midnight(clientNow),
		hideCutoff:  now.Add(-time.Hour),
		badge:       badge,
	}
	win.end = win.start.Add(48 * time.Hour)

	// Partition base events from per-occurrence overrides.
	var bases []RawEvent
	overridesByUID := make(map[string][]*RawEvent)
	for i := range events {
		ev := &events[i]
		if ev.IsOverride && ev.RecurrenceID != nil {
			overridesByUID[ev.UID] = append(overridesByUID[ev.UID], ev)
		} else {
			bases = append(bases, *ev)
		}
	}

	var out agenda.Days
	consumed := make(map[*RawEvent]bool)

	for _, ev := range bases {
		if ev.RawRRule == "" {
			resolveSingle(ev, overridesByUID[ev.UID], consumed, win, &out)
		} else {
			resolveRecurring(ev, overridesByUID[ev.UID], consumed, win, &out)
		}
	}

	// An override whose base slot was suppressed (rule ended, slot outside
	// the window) still appears once, on its own rescheduled date.
	for _, ovs := range overridesByUID {
		for _, ov := range ovs {
			if consumed[ov] {
				continue
			}
			end := ov.Start.Add(ov.EffectiveDuration())
			win.emit(*ov, ov.Start, end, &out)
		}
	}

	return out
}

// window carries the per-pass resolution bounds and bucketing keys. All
// fields derive from one (offset, now) pair so every event in the pass uses
// consistent arithmetic.
type window struct {
	loc         *time.Location
	todayKey    string
	tomorrowKey string
	start       time.Time
	end         time.Time
	hideCutoff  time.Time
	badge       string
}

// emit applies bucket assignment and the hide cutoff, then appends the
// occurrence to the matching list.
func (w window) emit(ev RawEvent, start, end time.Time, out *agenda.Days) {
	localStart := start.In(w.loc)
	key := clock.DateKey(localStart)

	var list *[]agenda.Occurrence
	switch key {
	case w.todayKey:
		// Timed occurrences that ended over an hour ago are stale on a
		// passively-viewed board.
		if !ev.AllDay && end.Before(w.hideCutoff) {
			return
		}
		list = &out.Today
	case w.tomorrowKey:
		list = &out.Tomorrow
	default:
		return
	}

	summary := ev.Summary
	if summary == "" {
		summary = "(No title)"
	}

	occ := agenda.Occurrence{
		Summary: summary,
		AllDay:  ev.AllDay,
		Badge:   w.badge,
	}
	if !ev.AllDay {
		occ.Time = clock.TimeKey(localStart)
	}
	*list = append(*list, occ)
}

func resolveSingle(ev RawEvent, overrides []*RawEvent, consumed map[*RawEvent]bool, win window, out *agenda.Days) {
	effective := ev
	start := ev.Start
	if ov := findOverride(overrides, start); ov != nil {
		consumed[ov] = true
		effective = *ov
		start = ov.Start
	}
	end := start.Add(effective.EffectiveDuration())
	win.emit(effective, start, end, out)
}

func resolveRecurring(ev RawEvent, overrides []*RawEvent, consumed map[*RawEvent]bool, win window, out *agenda.Days) {
	r, err := rrule.StrToRRule(ev.RawRRule)
	if err != nil {
		log.Error("resolve: failed to parse RRULE", err, "uid", ev.UID, "rrule", ev.RawRRule)
		return
	}

	// Seed iteration at the window start so rules that began years ago do
	// not cost years of walking. COUNT rules must count from their true
	// start and rely on the iteration cap instead.
	dtstart := ev.Start
	if r.OrigOptions.Count == 0 {
		dtstart = fastForward(dtstart, win.start, r.OrigOptions.Freq, r.OrigOptions.Interval)
	}
	r.DTStart(dtstart)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	rangeStart := win.start.In(ev.Start.Location())
	rangeEnd := win.end.In(ev.Start.Location())
	times := set.Between(rangeStart, rangeEnd, true)
	if len(times) > maxIterations {
		times = times[:maxIterations]
	}

	dur := ev.EffectiveDuration()
	for _, occStart := range times {
		// Rules are frequency-ordered; the first start at or past the
		// window end terminates the walk.
		if !occStart.Before(win.end) {
			break
		}

		effective := ev
		start := occStart
		end := occStart.Add(dur)
		if ov := findOverride(overrides, occStart); ov != nil {
			consumed[ov] = true
			effective = *ov
			start = ov.Start
			end = ov.Start.Add(ov.EffectiveDuration())
			if effective.Summary == "" {
				effective.Summary = ev.Summary
			}
		}
		win.emit(effective, start, end, out)
	}
}

// findOverride matches an override whose RECURRENCE-ID equals the base
// occurrence's original start, with exact instant equality.
func findOverride(overrides []*RawEvent, originalStart time.Time) *RawEvent {
	for _, ov := range overrides {
		if ov.RecurrenceID != nil && ov.RecurrenceID.Equal(originalStart) {
			return ov
		}
	}
	return nil
}

// fastForward advances a COUNT-less rule's start by whole interval steps to
// the last phase-aligned instant at or before windowStart. Only fixed-period
// frequencies can be stepped arithmetically; monthly/yearly rules iterate
// from their own start, which is bounded and cheap.
func fastForward(start, windowStart time.Time, freq rrule.Frequency, interval int) time.Time {
	if !start.Before(windowStart) {
		return start
	}
	if interval <= 0 {
		interval = 1
	}

	var step time.Duration
	switch freq {
	case rrule.SECONDLY:
		step = time.Second
	case rrule.MINUTELY:
		step = time.Minute
	case rrule.HOURLY:
		step = time.Hour
	case rrule.DAILY:
		step = 24 * time.Hour
	case rrule.WEEKLY:
		step = 7 * 24 * time.Hour
	default:
		return start
	}
	step *= time.Duration(interval)

	n := windowStart.Sub(start) / step
	if n <= 0 {
		return start
	}
	return start.Add(n * step)
}
