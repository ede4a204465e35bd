package model

import (
	"sort"
	"strings"
)

// doorbellCameraType is the REST camera_type value for doorbells
const doorbellCameraType = 12

// projectCameraREST derives a camera or doorbell from a quartz.* entry.
// Cameras mid-migration to the federated backend are excluded so the same
// physical device never projects twice.
func (p *Projector) projectCameraREST(entry Entry) (*Device, bool) {
	v := entry.Value
	props := getMap(v, "properties")

	if s := getString(props, "cc2migration.overview_state"); s != "" && s != "NORMAL" {
		return nil, false
	}

	serial := getString(v, "serial_number")
	if serial == "" {
		return nil, false
	}

	kind := KindCamera
	if getFloat(v, "camera_type") == doorbellCameraType {
		kind = KindDoorbell
	}

	d := &Device{
		Kind:            kind,
		Serial:          serial,
		Description:     deviceDescription(v, "Camera"),
		SoftwareVersion: getString(v, "software_version"),
		Online:          getBool(v, "is_online"),
	}

	d.StreamingEnabled = getBool(props, "streaming.enabled")
	d.AudioEnabled = getBool(props, "audio.enabled")
	d.IndoorChime = getBool(props, "doorbell.indoor_chime.enabled")
	d.LightEnabled = getBool(props, "floodlight.enabled")
	d.LightBrightness = getFloat(props, "floodlight.brightness")
	d.StreamingHost = getString(v, "direct_nexustalk_host")
	d.NexusAPIHost = getString(v, "nexus_api_http_server_url")
	d.ActivityZones = decodeActivityZones(v["activity_zones"])
	d.Alerts = decodeAlerts(v["alerts"])

	return p.finish(d, entry), true
}

// projectCameraTrait derives a camera or doorbell from a DEVICE_* entry.
// Only entries carrying a streaming_protocol trait project; anything else
// is a non-camera resource that happens to share a type name.
func (p *Projector) projectCameraTrait(entry Entry, typeName string) (*Device, bool) {
	v := entry.Value
	if !has(v, "streaming_protocol") {
		return nil, false
	}

	serial := getString(v, "device_identity", "serialNumber")
	if serial == "" {
		return nil, false
	}

	kind := KindCamera
	if doorbellResources[typeName] {
		kind = KindDoorbell
	}

	d := &Device{
		Kind:            kind,
		Serial:          serial,
		Description:     traitDescription(v, "Camera"),
		SoftwareVersion: getString(v, "device_identity", "softwareVersion"),
		Online:          traitOnline(v),
	}

	d.StreamingEnabled = getString(v, "recording_toggle", "currentCameraState") == "CAMERA_ON"
	d.AudioEnabled = getBool(v, "microphone_settings", "enableMicrophone")
	d.IndoorChime = getBool(v, "doorbell_indoor_chime_settings", "chimeEnabled")
	d.StreamingHost = getString(v, "streaming_protocol", "directHost", "value")
	d.ActivityZones = decodeActivityZones(v["activity_zones"])
	d.Alerts = decodeAlerts(v["alerts"])

	return p.finish(d, entry), true
}

// decodeActivityZones normalizes the zone list; a zero id is the legacy
// whole-frame zone and maps to 1.
func decodeActivityZones(raw any) []ActivityZone {
	list, _ := raw.([]any)
	var out []ActivityZone
	for _, item := range list {
		m, _ := item.(map[string]any)
		if m == nil {
			continue
		}
		id := int64(getFloat(m, "id"))
		if id == 0 {
			id = 1
		}
		name := getString(m, "label")
		if name == "" {
			name = getString(m, "name")
		}
		out = append(out, ActivityZone{ID: id, Name: name})
	}
	return out
}

// decodeAlerts normalizes stored alert records back into the typed form
func decodeAlerts(raw any) []Alert {
	list, _ := raw.([]any)
	var out []Alert
	for _, item := range list {
		m, _ := item.(map[string]any)
		if m == nil {
			continue
		}
		a := Alert{
			ID:           getString(m, "id"),
			PlaybackTime: getFloat(m, "playback_time"),
			StartTime:    getFloat(m, "start_time"),
			EndTime:      getFloat(m, "end_time"),
		}
		if zones, ok := m["zone_ids"].([]any); ok {
			for _, z := range zones {
				switch n := z.(type) {
				case float64:
					a.ZoneIDs = append(a.ZoneIDs, int64(n))
				case int64:
					a.ZoneIDs = append(a.ZoneIDs, n)
				}
			}
		}
		if types, ok := m["types"].([]any); ok {
			for _, tp := range types {
				if s, ok := tp.(string); ok {
					a.Types = append(a.Types, s)
				}
			}
		}
		a.ZoneIDs = normalizeZoneIDs(a.ZoneIDs)
		out = append(out, a)
	}
	return out
}

// normalizeZoneIDs applies the alert zone rules: a leading zero becomes 1,
// an empty list becomes [1].
func normalizeZoneIDs(ids []int64) []int64 {
	if len(ids) == 0 {
		return []int64{1}
	}
	if ids[0] == 0 {
		ids[0] = 1
	}
	return ids
}

// ShortCameraID returns the webapi uuid for a quartz resource id
func ShortCameraID(id string) string {
	return strings.TrimPrefix(id, "quartz.")
}

// NormalizeAlerts maps fetched alert records into the shared stored shape,
// newest first, with the zone id rules applied. Both the cuepoint and the
// observation-history fetchers feed through here so the projector sees one
// format.
func NormalizeAlerts(raw []map[string]any) []any {
	type rec struct {
		m        map[string]any
		playback float64
	}
	recs := make([]rec, 0, len(raw))

	for _, cp := range raw {
		playback, _ := cp["playback_time"].(float64)
		start, _ := cp["start_time"].(float64)
		if playback == 0 {
			playback = start
		}
		end, _ := cp["end_time"].(float64)
		id, _ := cp["id"].(string)

		zoneIDs := []any{}
		if zones, ok := cp["zone_ids"].([]any); ok {
			zoneIDs = zones
		}
		if len(zoneIDs) == 0 {
			zoneIDs = []any{float64(1)}
		} else if z, ok := zoneIDs[0].(float64); ok && z == 0 {
			zoneIDs[0] = float64(1)
		}

		types := []any{}
		if ts, ok := cp["types"].([]any); ok {
			types = ts
		}

		recs = append(recs, rec{
			m: map[string]any{
				"id":            id,
				"playback_time": playback,
				"start_time":    start,
				"end_time":      end,
				"zone_ids":      zoneIDs,
				"types":         types,
			},
			playback: playback,
		})
	}

	sort.SliceStable(recs, func(i, j int) bool { return recs[i].playback > recs[j].playback })

	out := make([]any, len(recs))
	for i, r := range recs {
		out[i] = r.m
	}
	return out
}
