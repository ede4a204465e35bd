package model

import (
	"strings"

	"github.com/ethan/nest-nexus-bridge/pkg/fingerprint"
)

// projectWeather derives the per-structure weather device. Every structure
// gets one; the serial is fingerprinted from the structure's REST id so a
// structure observed over both sources yields the same serial.
func (p *Projector) projectWeather(entry Entry) (*Device, bool) {
	v := entry.Value

	seed := entry.ID
	lat := getFloat(v, "latitude")
	lon := getFloat(v, "longitude")
	name := getString(v, "name")

	if strings.HasPrefix(entry.ID, "STRUCTURE_") {
		// Protobuf structures embed the REST structure id; deriving the
		// serial from it keeps the two sources from minting two devices
		if restID := getString(v, "structure_info", "rtsStructureId"); restID != "" {
			seed = "structure." + restID
		}
		lat = getFloat(v, "structure_location", "geoCoordinate", "latitude")
		lon = getFloat(v, "structure_location", "geoCoordinate", "longitude")
		if name == "" {
			name = getString(v, "structure_info", "name")
		}
	}

	if lat == 0 && lon == 0 {
		return nil, false
	}
	if name == "" {
		name = "Weather"
	}

	d := &Device{
		Kind:        KindWeather,
		Serial:      fingerprint.Serial(seed),
		Description: name + " Weather",
		Latitude:    lat,
		Longitude:   lon,
		Online:      true,
	}

	w := getMap(v, "weather")
	d.Condition = getString(w, "condition")
	d.CurrentTemperature = getFloat(w, "temperature")
	d.Humidity = getFloat(w, "humidity")
	d.WindSpeed = getFloat(w, "wind_speed")
	d.WindDirection = getString(w, "wind_direction")
	d.Sunrise = int64(getFloat(w, "sunrise"))
	d.Sunset = int64(getFloat(w, "sunset"))

	return p.finish(d, entry), true
}
