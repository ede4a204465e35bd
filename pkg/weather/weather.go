// Package weather fetches current conditions from the backend weather
// service for the per-structure weather devices.
package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
)

// mphToKPH converts the service's wind speed to km/h
const mphToKPH = 1.609344

// Observation is one normalized weather reading
type Observation struct {
	Condition     string  `json:"condition"`
	TemperatureC  float64 `json:"temperature"`
	Humidity      float64 `json:"humidity"`
	WindKPH       float64 `json:"wind_speed"`
	WindDirection string  `json:"wind_direction"`
	Sunrise       int64   `json:"sunrise"`
	Sunset        int64   `json:"sunset"`
}

type current struct {
	Condition string  `json:"condition"`
	TempC     float64 `json:"temp_c"`
	Humidity  float64 `json:"humidity"`
	WindMPH   float64 `json:"wind_mph"`
	WindDir   string  `json:"wind_dir"`
	Sunrise   int64   `json:"sunrise"`
	Sunset    int64   `json:"sunset"`
}

type location struct {
	Current current `json:"current"`
}

// Fetch gets conditions for one coordinate pair. The URL is the connection's
// weather base with "<lat>,<lon>" appended; the response is keyed by the
// same coordinate string.
func Fetch(ctx context.Context, client *http.Client, baseURL string, lat, lon float64) (*Observation, error) {
	coords := strconv.FormatFloat(lat, 'f', -1, 64) + "," + strconv.FormatFloat(lon, 'f', -1, 64)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+coords, nil)
	if err != nil {
		return nil, fmt.Errorf("weather request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("weather fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("weather fetch: status %d", resp.StatusCode)
	}

	var body map[string]location
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("weather decode: %w", err)
	}

	loc, ok := body[coords]
	if !ok {
		// Some responses key by a re-rounded coordinate; take any entry
		for _, v := range body {
			loc = v
			ok = true
			break
		}
	}
	if !ok {
		return nil, fmt.Errorf("weather decode: no location in response")
	}

	return &Observation{
		Condition:     loc.Current.Condition,
		TemperatureC:  loc.Current.TempC,
		Humidity:      loc.Current.Humidity,
		WindKPH:       loc.Current.WindMPH * mphToKPH,
		WindDirection: loc.Current.WindDir,
		Sunrise:       loc.Current.Sunrise,
		Sunset:        loc.Current.Sunset,
	}, nil
}

// ToValue renders the observation in the shape both subscription sources
// store under value["weather"], keeping the projector source-agnostic.
func (o *Observation) ToValue() map[string]any {
	return map[string]any{
		"condition":      o.Condition,
		"temperature":    o.TemperatureC,
		"humidity":       o.Humidity,
		"wind_speed":     o.WindKPH,
		"wind_direction": o.WindDirection,
		"sunrise":        float64(o.Sunrise),
		"sunset":         float64(o.Sunset),
	}
}
