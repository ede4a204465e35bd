package model

import (
	"strings"
	"time"

	"github.com/ethan/nest-nexus-bridge/pkg/fingerprint"
)

// Thermostat battery voltage window, volts → 0..100
const (
	thermostatBatteryMin = 3.6
	thermostatBatteryMax = 3.9
)

// projectThermostatREST derives a thermostat from a device.* entry plus its
// shared.<serial> companion. The pass also writes associated_thermostat
// back-refs into the sensor entries it owns.
func (p *Projector) projectThermostatREST(entry Entry) (*Device, bool) {
	v := entry.Value
	serial := getString(v, "serial_number")
	if serial == "" {
		return nil, false
	}

	d := &Device{
		Kind:            KindThermostat,
		Serial:          serial,
		Description:     deviceDescription(v, "Thermostat"),
		SoftwareVersion: getString(v, "current_software_version"),
		Online:          true,
	}

	d.CurrentTemperature = getFloat(v, "current_temperature")
	d.Humidity = getFloat(v, "current_humidity")
	d.TemperatureScale = strings.ToUpper(getString(v, "temperature_scale"))
	d.BatteryLevel = fingerprint.Scale(getFloat(v, "battery_level"),
		thermostatBatteryMin, thermostatBatteryMax, 0, 100)
	d.HasFan = getBool(v, "has_fan")
	d.TemperatureLocked = getBool(v, "temperature_lock")

	// Target state lives in the shared bucket
	shared := map[string]any{}
	if se, ok := p.store.Get("shared." + shortID(entry.ID)); ok {
		shared = se.Value
	}
	d.CanHeat = getBool(shared, "can_heat")
	d.CanCool = getBool(shared, "can_cool")
	d.FanRunning = getBool(shared, "hvac_fan_state")

	mode := strings.ToLower(getString(shared, "target_temperature_type"))
	ecoActive := getString(v, "eco", "mode") == "manual-eco" || getString(v, "eco", "mode") == "auto-eco"
	d.EcoActive = ecoActive

	switch {
	case ecoActive:
		lowEnabled := getBool(v, "away_temperature_low_enabled")
		highEnabled := getBool(v, "away_temperature_high_enabled")
		low := getFloat(v, "away_temperature_low")
		high := getFloat(v, "away_temperature_high")
		switch {
		case lowEnabled && highEnabled:
			d.HVACMode = HVACEcoRange
			d.TargetTemperature = (low + high) / 2
		case highEnabled:
			d.HVACMode = HVACEcoCool
			d.TargetTemperature = high
		default:
			d.HVACMode = HVACEcoHeat
			d.TargetTemperature = low
		}
	case mode == "range":
		d.HVACMode = HVACRange
		d.TargetTemperature = (getFloat(shared, "target_temperature_low") +
			getFloat(shared, "target_temperature_high")) / 2
	case mode == "heat", mode == "cool":
		d.HVACMode = mode
		d.TargetTemperature = getFloat(shared, "target_temperature")
	default:
		d.HVACMode = HVACOff
	}

	p.writeSensorBackRefsREST(entry.ID, serial)

	return p.finish(d, entry), true
}

// writeSensorBackRefsREST copies this thermostat's sensor associations from
// its rcs_settings bucket into the sensor entries.
func (p *Projector) writeSensorBackRefsREST(thermostatID, serial string) {
	rcs, ok := p.store.Get("rcs_settings." + serial)
	if !ok {
		return
	}
	sensors, _ := rcs.Value["associated_rcs_sensors"].([]any)
	for _, s := range sensors {
		sensorID, _ := s.(string)
		if sensorID == "" {
			continue
		}
		if err := p.store.MergeKey(sensorID, "associated_thermostat", thermostatID); err != nil {
			p.log.DebugREST("sensor back-ref target missing", "sensor", sensorID)
		}
	}
}

// projectThermostatTrait derives a thermostat from a DEVICE_* trait entry
func (p *Projector) projectThermostatTrait(entry Entry) (*Device, bool) {
	v := entry.Value
	serial := getString(v, "device_identity", "serialNumber")
	if serial == "" {
		return nil, false
	}

	d := &Device{
		Kind:            KindThermostat,
		Serial:          serial,
		Description:     traitDescription(v, "Thermostat"),
		SoftwareVersion: getString(v, "device_identity", "softwareVersion"),
		Online:          traitOnline(v),
	}

	d.CurrentTemperature = getFloat(v, "current_temperature", "temperatureValue", "temperature", "value")
	d.Humidity = getFloat(v, "humidity", "humidityValue", "humidity", "value")
	d.BatteryLevel = fingerprint.Scale(
		getFloat(v, "battery_voltage", "batteryValue", "batteryVoltage", "value"),
		thermostatBatteryMin, thermostatBatteryMax, 0, 100)
	d.CanHeat = getBool(v, "hvac_equipment_capabilities", "canHeat")
	d.CanCool = getBool(v, "hvac_equipment_capabilities", "canCool")
	d.HasFan = getBool(v, "hvac_equipment_capabilities", "hasFan")
	d.TemperatureLocked = getBool(v, "temperature_lock_settings", "enabled")

	if getString(v, "display_settings", "temperatureScale") == "TEMPERATURE_SCALE_F" {
		d.TemperatureScale = "F"
	} else {
		d.TemperatureScale = "C"
	}

	if end := getFloat(v, "fan_control_settings", "timerEnd", "seconds"); end > 0 {
		d.FanRunning = time.Now().Unix() < int64(end)
	}

	settings := getMap(v, "target_temperature_settings")
	enabled := getBool(settings, "enabled", "value")
	setpoint := getString(settings, "targetTemperature", "setpointType")
	heat := getFloat(settings, "targetTemperature", "heatingTarget", "value")
	cool := getFloat(settings, "targetTemperature", "coolingTarget", "value")

	ecoActive := getString(v, "eco_mode_state", "ecoMode") != "" &&
		getString(v, "eco_mode_state", "ecoMode") != "ECO_MODE_INACTIVE"
	d.EcoActive = ecoActive

	switch {
	case ecoActive:
		eco := getMap(v, "eco_mode_settings")
		heatEnabled := getBool(eco, "ecoTemperatureHeatEnabled")
		coolEnabled := getBool(eco, "ecoTemperatureCoolEnabled")
		ecoHeat := getFloat(eco, "ecoTemperatureHeat", "value", "value")
		ecoCool := getFloat(eco, "ecoTemperatureCool", "value", "value")
		switch {
		case heatEnabled && coolEnabled:
			d.HVACMode = HVACEcoRange
			d.TargetTemperature = (ecoHeat + ecoCool) / 2
		case coolEnabled:
			d.HVACMode = HVACEcoCool
			d.TargetTemperature = ecoCool
		default:
			d.HVACMode = HVACEcoHeat
			d.TargetTemperature = ecoHeat
		}
	case !enabled || setpoint == "SET_POINT_TYPE_OFF" || setpoint == "":
		d.HVACMode = HVACOff
	case setpoint == "SET_POINT_TYPE_RANGE":
		d.HVACMode = HVACRange
		d.TargetTemperature = (heat + cool) / 2
	case setpoint == "SET_POINT_TYPE_COOL":
		d.HVACMode = HVACCool
		d.TargetTemperature = cool
	default:
		d.HVACMode = HVACHeat
		d.TargetTemperature = heat
	}

	p.writeSensorBackRefsTrait(entry.ID, v)

	return p.finish(d, entry), true
}

// writeSensorBackRefsTrait copies sensor associations from the thermostat's
// remote comfort sensing trait into the sensor entries.
func (p *Projector) writeSensorBackRefsTrait(thermostatID string, v map[string]any) {
	rcs := getMap(v, "remote_comfort_sensing_settings")
	if rcs == nil {
		return
	}
	sensors, _ := rcs["associatedRcsSensors"].([]any)
	for _, s := range sensors {
		ref, _ := s.(map[string]any)
		sensorID := getString(ref, "resourceId", "resourceId")
		if sensorID == "" {
			continue
		}
		if err := p.store.MergeKey(sensorID, "associated_thermostat", thermostatID); err != nil {
			p.log.DebugTrait("sensor back-ref target missing", "sensor", sensorID)
		}
	}
}

// deviceDescription reads the REST display name with a fallback
func deviceDescription(v map[string]any, fallback string) string {
	for _, key := range []string{"description", "name", "where_name"} {
		if s := getString(v, key); s != "" {
			return s
		}
	}
	return fallback
}

// traitDescription reads the label trait with a fallback
func traitDescription(v map[string]any, fallback string) string {
	if s := getString(v, "label", "label"); s != "" {
		return s
	}
	return fallback
}

// traitOnline reads the liveness trait; absence counts as online
func traitOnline(v map[string]any) bool {
	status := getString(v, "liveness", "status")
	return status == "" || status == "LIVENESS_DEVICE_STATUS_ONLINE"
}
