package weather

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"liveboard/internal/clock"
	"liveboard/internal/log"
)

// Data is the best-effort weather snapshot pushed to displays. String fields
// default to "--" so a failed or partial scrape degrades to placeholders
// instead of breaking the widget.
type Data struct {
	Temp              string `json:"temp"`
	High              string `json:"high"`
	Low               string `json:"low"`
	Condition         string `json:"condition"`
	TomorrowHigh      string `json:"tomorrowHigh"`
	TomorrowLow       string `json:"tomorrowLow"`
	TomorrowCondition string `json:"tomorrowCondition"`
	Location          string `json:"location"`
}

// Empty returns placeholder data for the given location label.
func Empty(location string) Data {
	return Data{
		Temp: "--", High: "--", Low: "--", Condition: "--",
		TomorrowHigh: "--", TomorrowLow: "--", TomorrowCondition: "--",
		Location: location,
	}
}

const (
	baseHost  = "https://tenki.jp"
	userAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36"

	// tenki.jp publishes everything in JST regardless of the viewer.
	jstOffsetMinutes = -540
)

var (
	reHigh         = regexp.MustCompile(`<dd class="high-temp temp">\s*<span class="value">([0-9-]+)</span>`)
	reLow          = regexp.MustCompile(`<dd class="low-temp temp">\s*<span class="value">([0-9-]+)</span>`)
	reCondition    = regexp.MustCompile(`weather-telop">([^<]+)`)
	reTomorrowHigh = regexp.MustCompile(`"tomorrow_max_temp":"([0-9-]+)"`)
	reTomorrowLow  = regexp.MustCompile(`"tomorrow_min_temp":"([0-9-]+)"`)
	reTomorrowCond = regexp.MustCompile(`"tomorrow_map_telop_forecast_telop":"([^"]+)"`)
	reHourlyTemps  = regexp.MustCompile(`var temperatureData = \[([0-9.,\s]+)\]`)
)

// Fetcher scrapes the tenki.jp forecast pages for one configured location.
type Fetcher struct {
	client *http.Client
	base   string
}

func NewFetcher() *Fetcher {
	return &Fetcher{
		client: &http.Client{Timeout: 15 * time.Second},
		base:   baseHost,
	}
}

// Fetch retrieves the forecast page at tenkiPath and, best-effort, the hourly
// page for the current observed temperature. Every field is optional; fields
// the page did not yield keep their "--" placeholder.
func (f *Fetcher) Fetch(ctx context.Context, tenkiPath, location string) (Data, error) {
	data := Empty(location)

	html, err := f.get(ctx, tenkiPath)
	if err != nil {
		return data, fmt.Errorf("weather: fetch forecast: %w", err)
	}
	parseForecast(html, &data)

	// Current temperature from the 1-hour page; the main page's high temp
	// stays as a fallback.
	if temp, err := f.hourlyTemp(ctx, tenkiPath, time.Now()); err == nil {
		data.Temp = temp
	} else {
		log.Debug("weather hourly temp unavailable", "err", err)
	}

	return data, nil
}

func parseForecast(html string, data *Data) {
	if m := reHigh.FindStringSubmatch(html); m != nil {
		data.High = m[1]
		// Current observation is not always published; use today's high.
		data.Temp = m[1]
	}
	if m := reLow.FindStringSubmatch(html); m != nil {
		data.Low = m[1]
	}
	if m := reCondition.FindStringSubmatch(html); m != nil {
		data.Condition = strings.TrimSpace(m[1])
	}
	if m := reTomorrowHigh.FindStringSubmatch(html); m != nil {
		data.TomorrowHigh = m[1]
	}
	if m := reTomorrowLow.FindStringSubmatch(html); m != nil {
		data.TomorrowLow = m[1]
	}
	if m := reTomorrowCond.FindStringSubmatch(html); m != nil {
		data.TomorrowCondition = m[1]
	}
}

// hourlyTemp reads today's hourly temperature table and picks the column for
// the current JST hour: hour N (N:00-N:59) is index N.
func (f *Fetcher) hourlyTemp(ctx context.Context, tenkiPath string, now time.Time) (string, error) {
	hourlyPath := strings.TrimSuffix(tenkiPath, "/") + "/1hour.html"
	html, err := f.get(ctx, hourlyPath)
	if err != nil {
		return "", err
	}
	return hourlyTempAt(html, now)
}

func hourlyTempAt(html string, now time.Time) (string, error) {
	m := reHourlyTemps.FindStringSubmatch(html)
	if m == nil {
		return "", errors.New("weather: temperatureData not found")
	}

	hour := now.In(clock.FixedLocation(jstOffsetMinutes)).Hour()
	cols := strings.Split(m[1], ",")
	if hour >= len(cols) {
		return "", errors.New("weather: hourly column out of range")
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(cols[hour]), 64)
	if err != nil {
		return "", fmt.Errorf("weather: parse hourly temp: %w", err)
	}
	return strconv.FormatFloat(v, 'f', -1, 64), nil
}

func (f *Fetcher) get(ctx context.Context, path string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.base+path, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", errors.New(resp.Status)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return string(body), nil
}
