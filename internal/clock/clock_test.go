package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

const jstOffset = -540 // JST = UTC+9

func TestToClientJSTMorning(t *testing.T) {
	// Jan 15, 2024 00:00 UTC is 09:00 the same day in JST.
	server := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)

	client := ToClient(server, FixedOffset(jstOffset))

	assert.Equal(t, 9, client.Hour())
	assert.Equal(t, 15, client.Day())
	assert.Equal(t, time.January, client.Month())
}

func TestToClientCrossesMidnight(t *testing.T) {
	// Jan 15, 2024 15:00 UTC is midnight Jan 16 in JST.
	server := time.Date(2024, 1, 15, 15, 0, 0, 0, time.UTC)

	client := ToClient(server, FixedOffset(jstOffset))

	assert.Equal(t, 0, client.Hour())
	assert.Equal(t, 16, client.Day())
}

func TestToClientUnsetOffset(t *testing.T) {
	server := time.Date(2024, 1, 15, 12, 30, 0, 0, time.UTC)

	client := ToClient(server, &Offset{})

	// Same instant, server-local interpretation.
	assert.True(t, client.Equal(server))
}

func TestFormatDateJapanese(t *testing.T) {
	// Monday, Jan 15, 2024.
	monday := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, "1月15日 (月)", FormatDateJapanese(monday))

	// Sunday, Dec 15, 2024.
	sunday := time.Date(2024, 12, 15, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, "12月15日 (日)", FormatDateJapanese(sunday))
}

func TestLateUTCEveningIsNextDayInJST(t *testing.T) {
	// Server at Dec 14, 2024 23:00 UTC; the display in JST must show Dec 15.
	server := time.Date(2024, 12, 14, 23, 0, 0, 0, time.UTC)

	client := ToClient(server, FixedOffset(jstOffset))

	assert.Equal(t, 15, client.Day())
	assert.Equal(t, time.December, client.Month())
	assert.Equal(t, "12月15日 (日)", FormatDateJapanese(client))
	assert.Equal(t, "20241215", DateKey(client))
}

func TestExactMidnightJST(t *testing.T) {
	// Dec 14, 2024 15:00 UTC is exactly midnight Dec 15 JST.
	server := time.Date(2024, 12, 14, 15, 0, 0, 0, time.UTC)

	client := ToClient(server, FixedOffset(jstOffset))

	assert.Equal(t, 0, client.Hour())
	assert.Equal(t, 15, client.Day())
}

func TestKeysAreZeroPadded(t *testing.T) {
	tm := time.Date(2024, 3, 5, 7, 4, 0, 0, time.UTC)

	assert.Equal(t, "20240305", DateKey(tm))
	assert.Equal(t, "07:04", TimeKey(tm))
}

func TestMidnightAnchorsClientDay(t *testing.T) {
	local := ToClient(time.Date(2024, 12, 14, 23, 0, 0, 0, time.UTC), FixedOffset(jstOffset))

	mid := Midnight(local)

	assert.Equal(t, "20241215", DateKey(mid))
	assert.Equal(t, "00:00", TimeKey(mid))
	// Client-local midnight Dec 15 JST is Dec 14 15:00 UTC.
	assert.True(t, mid.Equal(time.Date(2024, 12, 14, 15, 0, 0, 0, time.UTC)))
}

func TestOffsetFirstWriterWins(t *testing.T) {
	var o Offset

	_, ok := o.Minutes()
	assert.False(t, ok)

	assert.True(t, o.Set(-540))
	assert.False(t, o.Set(300), "second writer must not overwrite")

	min, ok := o.Minutes()
	assert.True(t, ok)
	assert.Equal(t, -540, min)
}

func TestOffsetSetOnceUnderConcurrency(t *testing.T) {
	var o Offset
	winners := make(chan bool, 10)

	for i := 0; i < 10; i++ {
		go func(n int) {
			winners <- o.Set(n)
		}(i)
	}

	won := 0
	for i := 0; i < 10; i++ {
		if <-winners {
			won++
		}
	}
	assert.Equal(t, 1, won)
}
