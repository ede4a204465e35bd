package model

// projectProtectREST derives a protect from a topaz.* entry. The trait
// source for protects is parsed into the store but deliberately not
// projected; see DESIGN.md.
func (p *Projector) projectProtectREST(entry Entry) (*Device, bool) {
	v := entry.Value
	serial := getString(v, "serial_number")
	if serial == "" {
		return nil, false
	}

	d := &Device{
		Kind:            KindProtect,
		Serial:          serial,
		Description:     deviceDescription(v, "Protect"),
		SoftwareVersion: getString(v, "software_version"),
		Online:          getFloat(v, "component_wifi_test_passed") != 0 || has(v, "wifi_mac_address"),
	}

	d.SmokeAlarm = getFloat(v, "smoke_status") != 0
	d.COAlarm = getFloat(v, "co_status") != 0
	d.UIColor = getString(v, "device_brightness")
	d.LinePowered = getBool(v, "line_power_present")

	// Topaz reports health, not voltage
	if getFloat(v, "battery_health_state") == 0 {
		d.BatteryLevel = 100
	} else {
		d.BatteryLevel = 10
	}

	return p.finish(d, entry), true
}
