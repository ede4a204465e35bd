package model

import (
	"time"

	"github.com/ethan/nest-nexus-bridge/pkg/fingerprint"
)

// Temperature sensor battery voltage window, volts → 0..100
const (
	sensorBatteryMin = 2.0
	sensorBatteryMax = 3.0
)

// sensorOnlineHorizon: a REST sensor that has not reported for this long
// counts as offline
const sensorOnlineHorizon = 4 * time.Hour

// projectSensorREST derives a temperature sensor from a kryptonite.* entry.
// Sensors without a thermostat back-ref do not project; the back-ref is
// written during the thermostat pass.
func (p *Projector) projectSensorREST(entry Entry) (*Device, bool) {
	v := entry.Value
	serial := getString(v, "serial_number")
	if serial == "" {
		return nil, false
	}

	associated := getString(v, "associated_thermostat")
	if associated == "" {
		return nil, false
	}

	d := &Device{
		Kind:                 KindTempSensor,
		Serial:               serial,
		Description:          deviceDescription(v, "Temperature Sensor"),
		SoftwareVersion:      getString(v, "current_version"),
		AssociatedThermostat: associated,
	}

	d.CurrentTemperature = getFloat(v, "current_temperature")
	d.BatteryLevel = fingerprint.Scale(getFloat(v, "battery_level"),
		sensorBatteryMin, sensorBatteryMax, 0, 100)

	lastUpdated := int64(getFloat(v, "last_updated_at"))
	d.Online = lastUpdated > 0 && time.Since(time.Unix(lastUpdated, 0)) < sensorOnlineHorizon

	return p.finish(d, entry), true
}

// projectSensorTrait derives a temperature sensor from a DEVICE_* entry
// with the kryptonite resource type
func (p *Projector) projectSensorTrait(entry Entry) (*Device, bool) {
	v := entry.Value
	serial := getString(v, "device_identity", "serialNumber")
	if serial == "" {
		return nil, false
	}

	associated := getString(v, "associated_thermostat")
	if associated == "" {
		return nil, false
	}

	d := &Device{
		Kind:                 KindTempSensor,
		Serial:               serial,
		Description:          traitDescription(v, "Temperature Sensor"),
		SoftwareVersion:      getString(v, "device_identity", "softwareVersion"),
		AssociatedThermostat: associated,
		Online:               traitOnline(v),
	}

	d.CurrentTemperature = getFloat(v, "current_temperature", "temperatureValue", "temperature", "value")
	d.BatteryLevel = fingerprint.Scale(
		getFloat(v, "battery_voltage", "batteryValue", "batteryVoltage", "value"),
		sensorBatteryMin, sensorBatteryMax, 0, 100)

	return p.finish(d, entry), true
}
