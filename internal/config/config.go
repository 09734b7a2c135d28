package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// CalendarConfig describes a single ICS feed subscription. Immutable once
// loaded; one per configured feed.
type CalendarConfig struct {
	// Name is a human-friendly label used in logs and the settings API.
	Name string `yaml:"name" json:"name"`
	// URL is the ICS subscription endpoint.
	URL string `yaml:"url" json:"url"`
	// Badge is an optional short label attached to this feed's occurrences.
	Badge string `yaml:"badge,omitempty" json:"badge,omitempty"`
}

// WeatherConfig selects the tenki.jp location to scrape.
type WeatherConfig struct {
	// Location is the display name shown on the weather widget.
	Location string `yaml:"location" json:"location"`
	// TenkiPath is the forecast page path, e.g. "/forecast/3/16/4410/13108/".
	TenkiPath string `yaml:"tenki_path" json:"tenkiPath"`
}

// DisplayConfig holds the day/night brightness schedule. Times are local
// "HH:MM" strings compared against the client-local time of day.
type DisplayConfig struct {
	DayStart        string `yaml:"day_start" json:"dayStart"`
	NightStart      string `yaml:"night_start" json:"nightStart"`
	DayBrightness   int    `yaml:"day_brightness" json:"dayBrightness"`
	NightBrightness int    `yaml:"night_brightness" json:"nightBrightness"`
}

// BrightnessAt returns the brightness level for a zero-padded "HH:MM" local
// time: day level inside [DayStart, NightStart), night level otherwise.
func (d *DisplayConfig) BrightnessAt(hhmm string) int {
	if hhmm >= d.DayStart && hhmm < d.NightStart {
		return d.DayBrightness
	}
	return d.NightBrightness
}

// Config is the top-level settings document.
type Config struct {
	// Listen is the HTTP listen address.
	Listen string `yaml:"listen" json:"listen"`

	// StaticDir, if it exists on disk, is served at / for the display client
	// assets.
	StaticDir string `yaml:"static_dir,omitempty" json:"staticDir,omitempty"`

	Calendars []CalendarConfig `yaml:"calendars" json:"calendars"`
	Weather   *WeatherConfig   `yaml:"weather" json:"weather"`
	Display   *DisplayConfig   `yaml:"display" json:"display"`
}

// DefaultConfig returns the bundled default document used to seed a missing
// settings file.
func DefaultConfig() *Config {
	return &Config{
		Listen:    "127.0.0.1:3000",
		StaticDir: "./client",
		Calendars: []CalendarConfig{},
		Weather: &WeatherConfig{
			Location:  "東京",
			TenkiPath: "/forecast/3/16/4410/13103/",
		},
		Display: &DisplayConfig{
			DayStart:        "07:00",
			NightStart:      "22:00",
			DayBrightness:   100,
			NightBrightness: 30,
		},
	}
}

// Normalize fills in missing/zero values so partially-filled documents still
// behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = "127.0.0.1:3000"
	}
	if c.Calendars == nil {
		c.Calendars = []CalendarConfig{}
	}
	if c.Weather == nil {
		c.Weather = DefaultConfig().Weather
	}
	if c.Display == nil {
		c.Display = DefaultConfig().Display
	}
	if c.Display.DayStart == "" {
		c.Display.DayStart = "07:00"
	}
	if c.Display.NightStart == "" {
		c.Display.NightStart = "22:00"
	}
	if c.Display.DayBrightness <= 0 {
		c.Display.DayBrightness = 100
	}
	if c.Display.NightBrightness <= 0 {
		c.Display.NightBrightness = 30
	}
}

// Validate checks the structural requirements for a replacement document: a
// calendars list, a weather block and a display block must all be present.
// Called before persistence; a failing document must leave the previous
// configuration active.
func (c *Config) Validate() error {
	if c.Calendars == nil {
		return errors.New("config: calendars list missing")
	}
	if c.Weather == nil {
		return errors.New("config: weather block missing")
	}
	if c.Display == nil {
		return errors.New("config: display block missing")
	}
	return nil
}

// Masked returns a copy safe to expose on the read-only settings endpoint:
// calendar URLs are redacted to their tail.
func (c *Config) Masked() *Config {
	out := *c
	out.Calendars = make([]CalendarConfig, len(c.Calendars))
	for i, cal := range c.Calendars {
		masked := cal
		if cal.URL != "" {
			tail := cal.URL
			if len(tail) > 20 {
				tail = tail[len(tail)-20:]
			}
			masked.URL = "••••••••" + tail
		}
		out.Calendars[i] = masked
	}
	return &out
}

// Load loads the settings document from the given YAML path.
//
// If the file does not exist, a default document is written there (parent
// directory created as needed) and returned, so a missing startup config is
// never fatal.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes the document atomically (temp file + rename) with 0600
// permissions.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".liveboard-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Save delegates to the package-level Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
