package agenda

import (
	"sort"
	"strings"
)

// Occurrence is one concrete happening of a (possibly recurring) calendar
// event on a specific client-local date, as pushed to display sessions.
type Occurrence struct {
	Summary string `json:"summary"`
	AllDay  bool   `json:"allDay"`
	// Time is the client-local "HH:MM" start; empty for all-day occurrences.
	Time string `json:"time,omitempty"`
	// Badge identifies the contributing source(s); merged badges are joined
	// with "·".
	Badge string `json:"badge,omitempty"`
}

// Days holds one source's (or the merged) occurrences bucketed by client-local
// date.
type Days struct {
	Today    []Occurrence `json:"today"`
	Tomorrow []Occurrence `json:"tomorrow"`
}

// badgeSep joins badges of merged duplicate occurrences.
const badgeSep = "·"

// mergeKey ignores the badge on purpose: two sources publishing the same
// time+summary are treated as one occurrence contributed by several feeds.
func mergeKey(o Occurrence) string {
	t := o.Time
	if o.AllDay || t == "" {
		t = "allday"
	}
	return t + "|" + o.Summary
}

// Aggregate concatenates per-source results, deduplicates and merges badges,
// and sorts each bucket. The returned snapshot is fully built before the
// caller publishes it; it is never mutated afterwards.
func Aggregate(perSource []Days) Days {
	var all Days
	for _, d := range perSource {
		all.Today = append(all.Today, d.Today...)
		all.Tomorrow = append(all.Tomorrow, d.Tomorrow...)
	}

	all.Today = dedupe(all.Today)
	all.Tomorrow = dedupe(all.Tomorrow)

	sortOccurrences(all.Today)
	sortOccurrences(all.Tomorrow)

	return all
}

// dedupe groups occurrences by mergeKey. The first occurrence seeds the
// merged record; later matches only contribute their badge, skipping badges
// already present verbatim.
func dedupe(in []Occurrence) []Occurrence {
	out := make([]Occurrence, 0, len(in))
	index := make(map[string]int, len(in))

	for _, occ := range in {
		key := mergeKey(occ)
		i, seen := index[key]
		if !seen {
			index[key] = len(out)
			out = append(out, occ)
			continue
		}
		if occ.Badge == "" {
			continue
		}
		merged := &out[i]
		if merged.Badge == "" {
			merged.Badge = occ.Badge
			continue
		}
		if !containsBadge(merged.Badge, occ.Badge) {
			merged.Badge += badgeSep + occ.Badge
		}
	}

	return out
}

func containsBadge(joined, badge string) bool {
	for _, b := range strings.Split(joined, badgeSep) {
		if b == badge {
			return true
		}
	}
	return false
}

// sortOccurrences orders all-day entries before timed ones and timed entries
// by their zero-padded "HH:MM" key. The sort is stable so ties keep input
// order.
func sortOccurrences(list []Occurrence) {
	sort.SliceStable(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if a.AllDay != b.AllDay {
			return a.AllDay
		}
		if !a.AllDay {
			return a.Time < b.Time
		}
		return false
	})
}
