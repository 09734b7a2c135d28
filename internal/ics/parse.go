package ics

import (
	"bytes"
	"errors"
	"strconv"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	"liveboard/internal/log"
)

// RawEvent is the normalized representation of a VEVENT as produced by the
// parser. It is immutable and discarded after resolution.
type RawEvent struct {
	Source Source

	UID     string
	Summary string

	Start  time.Time
	End    time.Time // zero if the VEVENT has no DTEND
	AllDay bool

	// Duration is taken from a DURATION property when DTEND is absent.
	Duration time.Duration

	RawRRule     string
	ExDates      []time.Time
	RecurrenceID *time.Time // original occurrence start this event overrides
	IsOverride   bool
}

// EffectiveDuration is the span used to compute an occurrence's end: DTEND
// minus DTSTART when both are present, else the DURATION property, else zero.
func (ev RawEvent) EffectiveDuration() time.Duration {
	if !ev.End.IsZero() {
		return ev.End.Sub(ev.Start)
	}
	return ev.Duration
}

// Parse parses a single ICS payload into RawEvents. A VEVENT that cannot be
// parsed is logged and skipped; the rest of the feed still resolves.
func Parse(src Source, body []byte) ([]RawEvent, error) {
	if len(body) == 0 {
		return nil, errors.New("empty ICS body")
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		log.Error("ics parse failed", err, "name", src.Name, "url", redactURL(src.URL))
		return nil, err
	}

	events := make([]RawEvent, 0)
	for _, comp := range cal.Events() {
		ev, perr := parseVEvent(src, comp)
		if perr != nil {
			log.Error("ics vevent parse failed", perr, "name", src.Name, "url", redactURL(src.URL))
			continue
		}
		events = append(events, ev)
	}

	log.Debug("ics parse completed", "name", src.Name, "event_count", len(events))
	return events, nil
}

func parseVEvent(src Source, ve *ical.VEvent) (RawEvent, error) {
	var out RawEvent
	out.Source = src

	uidProp := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uidProp == nil || uidProp.Value == "" {
		return out, errors.New("missing UID")
	}
	out.UID = uidProp.Value

	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.Summary = p.Value
	}

	start, err := ve.GetStartAt()
	if err != nil {
		if start, err = ve.GetAllDayStartAt(); err != nil {
			return out, errors.New("missing or invalid DTSTART")
		}
	}
	out.Start = start

	if end, err := ve.GetEndAt(); err == nil {
		out.End = end
	} else if end, err := ve.GetAllDayEndAt(); err == nil {
		out.End = end
	}

	// All-day when DTSTART carries VALUE=DATE or a date-only value.
	if dtStartProp := ve.GetProperty(ical.ComponentPropertyDtStart); dtStartProp != nil {
		if params := dtStartProp.ICalParameters; params != nil {
			if vs, ok := params["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
				out.AllDay = true
			}
		}
		if !strings.Contains(dtStartProp.Value, "T") {
			out.AllDay = true
		}
	}

	if p := ve.GetProperty(ical.ComponentPropertyDuration); p != nil {
		if d, derr := parseICSDuration(p.Value); derr == nil {
			out.Duration = d
		}
	}

	if rruleProp := ve.GetProperty(ical.ComponentPropertyRrule); rruleProp != nil {
		out.RawRRule = rruleProp.Value
	}

	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if t, terr := parseICSTime(part); terr == nil {
				out.ExDates = append(out.ExDates, t)
			}
		}
	}

	if ridProp := ve.GetProperty("RECURRENCE-ID"); ridProp != nil {
		ridVal := ridProp.Value
		var t time.Time
		var terr error
		if params := ridProp.ICalParameters; params != nil {
			if tzs, ok := params["TZID"]; ok && len(tzs) > 0 {
				t, terr = parseICSTimeIn(ridVal, tzs[0])
			} else {
				t, terr = parseICSTime(ridVal)
			}
		} else {
			t, terr = parseICSTime(ridVal)
		}
		if terr == nil {
			out.RecurrenceID = &t
			out.IsOverride = true
		}
	}

	return out, nil
}

// parseICSTime parses a basic ICS date/date-time string.
func parseICSTime(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, errors.New("empty time value")
	}

	if strings.HasSuffix(v, "Z") {
		return time.Parse("20060102T150405Z", v)
	}
	if strings.Contains(v, "T") {
		return time.ParseInLocation("20060102T150405", v, time.Local)
	}
	return time.ParseInLocation("20060102", v, time.Local)
}

// parseICSTimeIn parses a floating date-time in the named TZID zone, falling
// back to the basic forms if the zone cannot be loaded.
func parseICSTimeIn(v, tzid string) (time.Time, error) {
	loc, err := time.LoadLocation(tzid)
	if err != nil {
		return parseICSTime(v)
	}
	v = strings.TrimSpace(v)
	if strings.Contains(v, "T") {
		return time.ParseInLocation("20060102T150405", v, loc)
	}
	return time.ParseInLocation("20060102", v, loc)
}

// parseICSDuration parses an RFC 5545 duration like "PT1H30M" or "P2D".
// Negative durations and the rarely-seen week form are supported.
func parseICSDuration(v string) (time.Duration, error) {
	s := strings.TrimSpace(v)
	if s == "" {
		return 0, errors.New("empty duration")
	}

	neg := false
	switch s[0] {
	case '-':
		neg = true
		s = s[1:]
	case '+':
		s = s[1:]
	}
	if len(s) == 0 || s[0] != 'P' {
		return 0, errors.New("duration must start with P")
	}
	s = s[1:]

	var total time.Duration
	inTime := false
	units := 0
	num := ""
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= '0' && c <= '9' {
			num += string(c)
			continue
		}
		if c == 'T' {
			inTime = true
			continue
		}
		n, err := strconv.Atoi(num)
		if err != nil {
			return 0, errors.New("malformed duration: " + v)
		}
		num = ""
		switch {
		case c == 'W':
			total += time.Duration(n) * 7 * 24 * time.Hour
		case c == 'D':
			total += time.Duration(n) * 24 * time.Hour
		case c == 'H' && inTime:
			total += time.Duration(n) * time.Hour
		case c == 'M' && inTime:
			total += time.Duration(n) * time.Minute
		case c == 'S' && inTime:
			total += time.Duration(n) * time.Second
		default:
			return 0, errors.New("malformed duration: " + v)
		}
		units++
	}
	if num != "" {
		return 0, errors.New("malformed duration: " + v)
	}
	// "P" and "PT" carry no components at all.
	if units == 0 {
		return 0, errors.New("malformed duration: " + v)
	}
	if neg {
		total = -total
	}
	return total, nil
}
