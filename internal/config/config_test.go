package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileSeedsDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "settings.yaml")

	cfg, err := Load(path)

	require.NoError(t, err)
	assert.NotEmpty(t, cfg.Listen)
	assert.NotNil(t, cfg.Weather)
	assert.NotNil(t, cfg.Display)
	assert.FileExists(t, path)

	st, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), st.Mode().Perm())
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")

	in := DefaultConfig()
	in.Calendars = []CalendarConfig{
		{Name: "Family", URL: "https://calendar.example/private-abc123/basic.ics", Badge: "家"},
	}
	in.Display.NightStart = "21:30"
	require.NoError(t, in.Save(path))

	out, err := Load(path)
	require.NoError(t, err)

	require.Len(t, out.Calendars, 1)
	assert.Equal(t, "Family", out.Calendars[0].Name)
	assert.Equal(t, "家", out.Calendars[0].Badge)
	assert.Equal(t, "21:30", out.Display.NightStart)
}

func TestValidateRequiresAllBlocks(t *testing.T) {
	valid := DefaultConfig()
	assert.NoError(t, valid.Validate())

	noCalendars := DefaultConfig()
	noCalendars.Calendars = nil
	assert.Error(t, noCalendars.Validate())

	noWeather := DefaultConfig()
	noWeather.Weather = nil
	assert.Error(t, noWeather.Validate())

	noDisplay := DefaultConfig()
	noDisplay.Display = nil
	assert.Error(t, noDisplay.Validate())
}

func TestNormalizeFillsDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.Normalize()

	assert.NotEmpty(t, cfg.Listen)
	require.NotNil(t, cfg.Display)
	assert.Equal(t, "07:00", cfg.Display.DayStart)
	assert.Equal(t, "22:00", cfg.Display.NightStart)
	assert.Equal(t, 100, cfg.Display.DayBrightness)
	assert.Equal(t, 30, cfg.Display.NightBrightness)
	assert.NotNil(t, cfg.Calendars)
}

func TestBrightnessSchedule(t *testing.T) {
	d := &DisplayConfig{
		DayStart:        "07:00",
		NightStart:      "22:00",
		DayBrightness:   100,
		NightBrightness: 30,
	}

	// Half-open [dayStart, nightStart).
	assert.Equal(t, 30, d.BrightnessAt("06:59"))
	assert.Equal(t, 100, d.BrightnessAt("07:00"))
	assert.Equal(t, 100, d.BrightnessAt("12:34"))
	assert.Equal(t, 100, d.BrightnessAt("21:59"))
	assert.Equal(t, 30, d.BrightnessAt("22:00"))
	assert.Equal(t, 30, d.BrightnessAt("23:59"))
	assert.Equal(t, 30, d.BrightnessAt("00:00"))
}

func TestMaskedRedactsCalendarURLs(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Calendars = []CalendarConfig{
		{Name: "Family", URL: "https://calendar.example/private-secret-token/basic.ics"},
		{Name: "Empty"},
	}

	masked := cfg.Masked()

	assert.NotContains(t, masked.Calendars[0].URL, "private-secret-token")
	assert.Contains(t, masked.Calendars[0].URL, "••••••••")
	assert.Empty(t, masked.Calendars[1].URL)

	// The original is untouched.
	assert.Contains(t, cfg.Calendars[0].URL, "private-secret-token")
}
