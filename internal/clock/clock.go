package clock

import (
	"fmt"
	"sync"
	"time"

	"github.com/6tail/lunar-go/calendar"
)

// weekdayKanji is indexed by time.Weekday (0 = Sunday).
var weekdayKanji = [7]string{"日", "月", "火", "水", "木", "金", "土"}

// Offset is the process-wide client UTC offset in minutes, reported by the
// first display session to connect. It follows JS Date.getTimezoneOffset
// convention: negative east of UTC (JST is -540).
//
// Lifecycle: unset at startup, set exactly once by the first session that
// supplies a value, read-only afterwards. All bucketing for every source and
// every refresh cycle uses this one value.
type Offset struct {
	mu      sync.RWMutex
	set     bool
	minutes int
}

// Set records the offset if no value has been recorded yet. It returns true
// only for the call that won; later calls (reconnects, second displays) are
// no-ops.
func (o *Offset) Set(minutes int) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.set {
		return false
	}
	o.set = true
	o.minutes = minutes
	return true
}

// Minutes returns the recorded offset and whether one has been set.
func (o *Offset) Minutes() (int, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.minutes, o.set
}

// Location returns a fixed zone representing the client offset, or the
// server-local zone while the offset is unset (fail-safe interpretation).
func (o *Offset) Location() *time.Location {
	min, ok := o.Minutes()
	if !ok {
		return time.Local
	}
	return FixedLocation(min)
}

// FixedLocation builds a fixed zone for a getTimezoneOffset-style offset.
func FixedLocation(offsetMinutes int) *time.Location {
	name := fmt.Sprintf("UTC%+d", -offsetMinutes/60)
	return time.FixedZone(name, -offsetMinutes*60)
}

// FixedOffset returns an Offset pre-seeded with the given value. Intended for
// tests and single-shot resolution passes.
func FixedOffset(minutes int) *Offset {
	o := &Offset{}
	o.Set(minutes)
	return o
}

// ToClient converts an absolute instant to the client's civil time. With an
// unset offset the instant is returned in server-local time.
func ToClient(t time.Time, o *Offset) time.Time {
	if o == nil {
		return t
	}
	return t.In(o.Location())
}

// DateKey formats a (client-local) time as YYYYMMDD.
func DateKey(t time.Time) string {
	return t.Format("20060102")
}

// TimeKey formats a (client-local) time as zero-padded HH:MM. Lexical order
// on these keys equals chronological order within a day.
func TimeKey(t time.Time) string {
	return t.Format("15:04")
}

// FormatDateJapanese renders "M月D日 (曜)" for an already-converted local time.
func FormatDateJapanese(t time.Time) string {
	return fmt.Sprintf("%d月%d日 (%s)", int(t.Month()), t.Day(), weekdayKanji[int(t.Weekday())])
}

// FormatLunar renders the lunisolar date shown under the main date, e.g.
// "农历 冬月十五".
func FormatLunar(t time.Time) string {
	lunar := calendar.NewSolarFromDate(t).GetLunar()
	return "农历 " + lunar.GetMonthInChinese() + "月" + lunar.GetDayInChinese()
}

// Midnight returns the client-local midnight of t's date as an absolute
// instant. This anchors the resolver's two-day window.
func Midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
