package command

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/ethan/nest-nexus-bridge/pkg/model"
	"github.com/ethan/nest-nexus-bridge/pkg/nexus"
	"github.com/ethan/nest-nexus-bridge/pkg/trait"
)

// Wire layout, gateway writes:
//
//	BatchUpdateStateRequest  1: traitStateUpdate (repeated)
//	TraitStateUpdate         1: traitId { 1: resourceId, 2: traitLabel }
//	                         2: state   { 1: type_url, 2: value (Struct) }
//	SendCommandRequest       1: resourceRequest { 1: resourceId }
//	                         2: resourceCommand { 1: traitLabel,
//	                                              2: command { 1: type_url, 2: value (Struct) } }

const traitTypePrefix = "type.nestlabs.com/nest.trait."

// traitUpdate is one pending (label, type, value) tuple
type traitUpdate struct {
	Label   string
	TypeURL string
	Value   map[string]any
}

// setTrait translates canonical write keys into trait updates and sends
// them as one BatchUpdateState call. Light keys route to the companion
// service resource via SendCommand instead.
func (d *Dispatcher) setTrait(ctx context.Context, entry model.Entry, values map[string]any) error {
	updates, err := d.buildTraitUpdates(entry, values)
	if err != nil {
		return err
	}

	if v, ok := values["light_enabled"]; ok {
		on, _ := v.(bool)
		if err := d.setCompanionLight(ctx, entry.ID, map[string]any{"on": on}); err != nil {
			return err
		}
	}
	if v, ok := values["light_brightness"]; ok {
		level, _ := toFloat(v)
		scaled := math.Round(level / 10)
		if err := d.setCompanionLight(ctx, entry.ID, map[string]any{"brightness": scaled}); err != nil {
			return err
		}
	}

	if len(updates) == 0 {
		return nil
	}
	body := encodeBatchUpdate(entry.ID, updates)
	return d.postProtobuf(ctx, d.bases.Trait+batchUpdatePath, body)
}

// buildTraitUpdates maps write keys onto trait labels, merging keys that
// land on the same trait into one tuple.
func (d *Dispatcher) buildTraitUpdates(entry model.Entry, values map[string]any) ([]traitUpdate, error) {
	var updates []traitUpdate
	index := map[string]int{}

	merge := func(label, typeURL string, value map[string]any) {
		if i, ok := index[label]; ok {
			for k, v := range value {
				updates[i].Value[k] = v
			}
			return
		}
		index[label] = len(updates)
		updates = append(updates, traitUpdate{Label: label, TypeURL: typeURL, Value: value})
	}

	for key, value := range values {
		switch key {
		case "hvac_mode":
			mode, _ := value.(string)
			update := map[string]any{"currentActorInfo": d.actorInfo()}
			if strings.EqualFold(mode, "OFF") {
				update["enabled"] = map[string]any{"value": false}
			} else {
				update["enabled"] = map[string]any{"value": true}
				update["targetTemperature"] = map[string]any{
					"setpointType": "SET_POINT_TYPE_" + strings.ToUpper(mode),
				}
			}
			merge("target_temperature_settings", traitTypePrefix+"hvac.TargetTemperatureSettingsTrait", update)

		case "target_temperature", "target_temperature_low", "target_temperature_high":
			temp, ok := toFloat(value)
			if !ok {
				return nil, fmt.Errorf("non-numeric %s: %v", key, value)
			}
			heating := key != "target_temperature_high"
			if key == "target_temperature" {
				heating = activeSetpointIsHeat(entry.Value)
			}
			if ecoActive(entry.Value) {
				merge("eco_mode_settings", traitTypePrefix+"hvac.EcoModeSettingsTrait",
					ecoTemperatureValue(entry.Value, heating, temp))
			} else {
				target := "coolingTarget"
				if heating {
					target = "heatingTarget"
				}
				merge("target_temperature_settings", traitTypePrefix+"hvac.TargetTemperatureSettingsTrait",
					map[string]any{
						"currentActorInfo":  d.actorInfo(),
						"targetTemperature": map[string]any{target: map[string]any{"value": temp}},
					})
			}

		case "temperature_scale":
			scale, _ := value.(string)
			merge("display_settings", traitTypePrefix+"hvac.DisplaySettingsTrait",
				map[string]any{"temperatureScale": "TEMPERATURE_SCALE_" + strings.ToUpper(scale)})

		case "temperature_lock":
			locked, _ := value.(bool)
			merge("temperature_lock_settings", traitTypePrefix+"hvac.TemperatureLockSettingsTrait",
				map[string]any{"enabled": locked})

		case "fan_state":
			update := map[string]any{"timerEnd": map[string]any{"seconds": float64(0)}}
			if duration, ok := toFloat(value); ok && duration > 0 {
				update["timerEnd"] = map[string]any{
					"seconds": float64(time.Now().Unix()) + duration,
				}
			}
			merge("fan_control_settings", traitTypePrefix+"hvac.FanControlSettingsTrait", update)

		case "streaming_enabled":
			state := "CAMERA_OFF"
			if on, _ := value.(bool); on {
				state = "CAMERA_ON"
			}
			merge("recording_toggle_settings", traitTypePrefix+"product.camera.RecordingToggleSettingsTrait",
				map[string]any{"targetCameraState": state})

		case "audio_enabled":
			on, _ := value.(bool)
			merge("audio_settings", traitTypePrefix+"product.camera.AudioSettingsTrait",
				map[string]any{"microphoneEnabled": on, "speakerEnabled": on})

		case "indoor_chime_enabled":
			on, _ := value.(bool)
			merge("doorbell_indoor_chime_settings", traitTypePrefix+"product.doorbell.DoorbellIndoorChimeSettingsTrait",
				map[string]any{"chimeEnabled": on})

		case "light_enabled", "light_brightness":
			// Routed to the companion service by the caller

		default:
			return nil, fmt.Errorf("unsupported trait write key %q", key)
		}
	}
	return updates, nil
}

// actorInfo tags a setpoint change with its originator
func (d *Dispatcher) actorInfo() map[string]any {
	return map[string]any{
		"method":       "HVAC_ACTOR_METHOD_IOS",
		"originator":   map[string]any{"resourceId": d.conn.UserID()},
		"timeOfAction": map[string]any{"seconds": float64(time.Now().Unix())},
	}
}

func activeSetpointIsHeat(value map[string]any) bool {
	settings, _ := value["target_temperature_settings"].(map[string]any)
	target, _ := settings["targetTemperature"].(map[string]any)
	setpoint, _ := target["setpointType"].(string)
	return setpoint != "SET_POINT_TYPE_COOL"
}

func ecoActive(value map[string]any) bool {
	state, _ := value["eco_mode_state"].(map[string]any)
	mode, _ := state["ecoMode"].(string)
	return mode != "" && mode != "ECO_MODE_INACTIVE"
}

// ecoTemperatureValue routes an eco-mode temperature write to whichever
// eco setpoint is enabled for the requested direction.
func ecoTemperatureValue(value map[string]any, heating bool, temp float64) map[string]any {
	settings, _ := value["eco_mode_settings"].(map[string]any)
	field := "ecoTemperatureCool"
	if heating {
		field = "ecoTemperatureHeat"
	}
	if enabled, ok := settings[field+"Enabled"].(bool); ok && !enabled {
		if field == "ecoTemperatureHeat" {
			field = "ecoTemperatureCool"
		} else {
			field = "ecoTemperatureHeat"
		}
	}
	return map[string]any{
		field: map[string]any{"value": map[string]any{"value": temp}},
	}
}

// encodeBatchUpdate builds the BatchUpdateState body for one resource
func encodeBatchUpdate(resourceID string, updates []traitUpdate) []byte {
	var w nexus.TLVWriter
	for _, u := range updates {
		var traitID nexus.TLVWriter
		traitID.WriteStringField(1, resourceID)
		traitID.WriteStringField(2, u.Label)

		var state nexus.TLVWriter
		state.WriteStringField(1, u.TypeURL)
		state.WriteBytesField(2, trait.EncodeStruct(u.Value))

		var update nexus.TLVWriter
		update.WriteBytesField(1, traitID.Bytes())
		update.WriteBytesField(2, state.Bytes())
		w.WriteBytesField(1, update.Bytes())
	}
	return w.Bytes()
}

// sendCommand issues one ResourceApi command against a resource
func (d *Dispatcher) sendCommand(ctx context.Context, resourceID, label, typeURL string, value map[string]any) error {
	var resource nexus.TLVWriter
	resource.WriteStringField(1, resourceID)

	var cmd nexus.TLVWriter
	cmd.WriteStringField(1, typeURL)
	cmd.WriteBytesField(2, trait.EncodeStruct(value))

	var resourceCmd nexus.TLVWriter
	resourceCmd.WriteStringField(1, label)
	resourceCmd.WriteBytesField(2, cmd.Bytes())

	var w nexus.TLVWriter
	w.WriteBytesField(1, resource.Bytes())
	w.WriteBytesField(2, resourceCmd.Bytes())

	return d.postProtobuf(ctx, d.bases.Trait+sendCommandPath, w.Bytes())
}

// setCompanionLight finds the camera's paired light service resource and
// drives it with an on_off SetState command.
func (d *Dispatcher) setCompanionLight(ctx context.Context, cameraID string, value map[string]any) error {
	serviceID, err := d.findCompanionLight(cameraID)
	if err != nil {
		return err
	}
	return d.sendCommand(ctx, serviceID, "on_off",
		"type.nestlabs.com/weave.trait.actuator.OnOffTrait.SetStateRequest", value)
}

// findCompanionLight locates the SERVICE_* resource of the light service
// type paired to the camera.
func (d *Dispatcher) findCompanionLight(cameraID string) (string, error) {
	for _, id := range d.store.IDsWithPrefix("SERVICE_") {
		entry, ok := d.store.Get(id)
		if !ok {
			continue
		}
		info, _ := entry.Value["device_info"].(map[string]any)
		typeName, _ := info["typeName"].(string)
		if typeName != model.AzizResource {
			continue
		}
		pairer, _ := info["pairerId"].(map[string]any)
		paired, _ := pairer["resourceId"].(string)
		if paired == cameraID {
			return id, nil
		}
	}
	return "", fmt.Errorf("camera %s has no paired light service", cameraID)
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	}
	return 0, false
}
