package weather

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchConvertsWindToKPH(t *testing.T) {
	var requestedPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestedPath = r.URL.Path
		json.NewEncoder(w).Encode(map[string]any{
			"51.5,-0.12": map[string]any{
				"current": map[string]any{
					"condition": "cloudy",
					"temp_c":    18.5,
					"humidity":  71.0,
					"wind_mph":  10.0,
					"wind_dir":  "SW",
					"sunrise":   1700000000,
					"sunset":    1700040000,
				},
			},
		})
	}))
	defer srv.Close()

	obs, err := Fetch(context.Background(), http.DefaultClient, srv.URL+"/weather/v1/", 51.5, -0.12)
	require.NoError(t, err)

	assert.Equal(t, "/weather/v1/51.5,-0.12", requestedPath)
	assert.Equal(t, "cloudy", obs.Condition)
	assert.InDelta(t, 16.09344, obs.WindKPH, 1e-9)
	assert.Equal(t, 18.5, obs.TemperatureC)

	v := obs.ToValue()
	assert.Equal(t, "SW", v["wind_direction"])
	assert.InDelta(t, 16.09344, v["wind_speed"].(float64), 1e-9)
}

func TestFetchFallsBackToAnyLocationKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"51.50000,-0.12000": map[string]any{
				"current": map[string]any{"condition": "sunny"},
			},
		})
	}))
	defer srv.Close()

	obs, err := Fetch(context.Background(), http.DefaultClient, srv.URL+"/", 51.5, -0.12)
	require.NoError(t, err)
	assert.Equal(t, "sunny", obs.Condition)
}
