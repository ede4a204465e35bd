package command

import (
	"context"
	"fmt"
	"time"

	"github.com/ethan/nest-nexus-bridge/pkg/model"
	"github.com/ethan/nest-nexus-bridge/pkg/nexus"
	"github.com/ethan/nest-nexus-bridge/pkg/trait"
)

// alertWindow is the observation-history query span
const alertWindow = 30 * time.Second

// FetchAlertsHook refreshes recent alerts for a trait-sourced camera by
// querying its observation history. Wired as the pipeline's alerts aux
// timer for protobuf connections; REST cameras use the cuepoint fetch
// instead.
func (d *Dispatcher) FetchAlertsHook(ctx context.Context, id string) error {
	if _, ok := d.store.Get(id); !ok {
		return model.ErrNoEntry
	}

	now := time.Now()
	body, err := d.sendCommandBody(ctx, id, "camera_observation_history",
		"type.nestlabs.com/nest.trait.history.CameraObservationHistoryTrait.CameraObservationHistoryRequest",
		map[string]any{
			"queryStartTime": map[string]any{"seconds": float64(now.Unix())},
			"queryEndTime":   map[string]any{"seconds": float64(now.Add(alertWindow).Unix())},
		})
	if err != nil {
		return err
	}

	events, err := decodeObservationHistory(body)
	if err != nil {
		return err
	}
	return d.store.MergeKey(id, "alerts", model.NormalizeAlerts(events))
}

// sendCommandBody is sendCommand with the response body returned
func (d *Dispatcher) sendCommandBody(ctx context.Context, resourceID, label, typeURL string, value map[string]any) ([]byte, error) {
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

	req, err := d.buildProtobufRequest(ctx, d.bases.Trait+sendCommandPath, w.Bytes())
	if err != nil {
		return nil, err
	}
	var body []byte
	if err := d.do(req, &body); err != nil {
		return nil, err
	}
	return body, nil
}

// decodeObservationHistory extracts camera events from a SendCommand
// response:
//
//	SendCommandResponse 1: traitOperation { 2: event { 1: type_url, 2: value (Struct) } }
//
// Each event struct carries a cameraEvent list with start/end instants,
// zones, and event types; they map onto the shared alert shape.
func decodeObservationHistory(body []byte) ([]map[string]any, error) {
	var events []map[string]any

	err := nexus.ConsumeFields(body, func(op nexus.TLVField) error {
		if op.Tag != 1 {
			return nil
		}
		return nexus.ConsumeFields(op.Bytes, func(ev nexus.TLVField) error {
			if ev.Tag != 2 {
				return nil
			}
			var payload map[string]any
			err := nexus.ConsumeFields(ev.Bytes, func(f nexus.TLVField) error {
				if f.Tag != 2 {
					return nil
				}
				v, err := trait.DecodeStruct(f.Bytes)
				if err != nil {
					return err
				}
				payload = v
				return nil
			})
			if err != nil || payload == nil {
				return err
			}

			list, _ := payload["cameraEvent"].([]any)
			for _, item := range list {
				m, _ := item.(map[string]any)
				if m == nil {
					continue
				}
				events = append(events, map[string]any{
					"id":         stringAt(m, "eventId"),
					"start_time": secondsAt(m, "startTime"),
					"end_time":   secondsAt(m, "endTime"),
					"zone_ids":   listAt(m, "activityZone"),
					"types":      listAt(m, "eventType"),
				})
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("decode observation history: %w", err)
	}
	return events, nil
}

func stringAt(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func secondsAt(m map[string]any, key string) float64 {
	inner, _ := m[key].(map[string]any)
	s, _ := inner["seconds"].(float64)
	return s
}

func listAt(m map[string]any, key string) []any {
	l, _ := m[key].([]any)
	return l
}
