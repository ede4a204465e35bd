package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ethan/nest-nexus-bridge/pkg/model"
)

// alertLookback is how far back the cuepoint fetch reaches
const alertLookback = 30 * time.Second

// enrichQuartz merges webapi properties and activity zones into an
// arriving camera bucket. Failures keep the previous data.
func (s *Subscriber) enrichQuartz(ctx context.Context, obj *subscribeObject) {
	short := model.ShortCameraID(obj.ObjectKey)

	if props, err := s.fetchProperties(ctx, short); err != nil {
		s.log.Debug("camera properties fetch failed", "camera", short, "error", err)
	} else if props != nil {
		if existing, ok := obj.Value["properties"].(map[string]any); ok {
			for k, v := range props {
				existing[k] = v
			}
		} else {
			obj.Value["properties"] = props
		}
	}

	nexusHost, _ := obj.Value["nexus_api_http_server_url"].(string)
	if nexusHost == "" {
		return
	}
	if zones, err := s.fetchZones(ctx, nexusHost, short); err != nil {
		s.log.Debug("camera zones fetch failed", "camera", short, "error", err)
	} else {
		obj.Value["activity_zones"] = zones
	}
}

// fetchProperties reads the camera property map from the webapi
func (s *Subscriber) fetchProperties(ctx context.Context, short string) (map[string]any, error) {
	url := fmt.Sprintf("%s/api/cameras.get_with_properties?uuid=%s", s.bases.WebAPI, short)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	s.applyCameraCredential(req)

	var body struct {
		Items []struct {
			Properties map[string]any `json:"properties"`
		} `json:"items"`
	}
	if err := s.getJSON(req, &body); err != nil {
		return nil, err
	}
	if len(body.Items) == 0 {
		return nil, nil
	}
	return body.Items[0].Properties, nil
}

// fetchZones reads and normalizes the camera's activity zones
func (s *Subscriber) fetchZones(ctx context.Context, nexusHost, short string) ([]any, error) {
	url := fmt.Sprintf("%s/cuepoint_category/%s", nexusHost, short)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	s.applyCameraCredential(req)

	var raw []map[string]any
	if err := s.getJSON(req, &raw); err != nil {
		return nil, err
	}

	zones := make([]any, 0, len(raw))
	for _, z := range raw {
		id, _ := z["id"].(float64)
		if id == 0 {
			id = 1
		}
		label, _ := z["label"].(string)
		zones = append(zones, map[string]any{"id": id, "label": label})
	}
	return zones, nil
}

// FetchZonesHook refreshes a camera's zones; wired as the pipeline's zones
// aux timer.
func (s *Subscriber) FetchZonesHook(ctx context.Context, id string) error {
	entry, ok := s.store.Get(id)
	if !ok {
		return model.ErrNoEntry
	}
	nexusHost, _ := entry.Value["nexus_api_http_server_url"].(string)
	if nexusHost == "" {
		return fmt.Errorf("camera %s has no nexus host", id)
	}

	zones, err := s.fetchZones(ctx, nexusHost, model.ShortCameraID(id))
	if err != nil {
		return err
	}
	return s.store.MergeKey(id, "activity_zones", zones)
}

// FetchAlertsHook refreshes a camera's recent alerts; wired as the
// pipeline's alerts aux timer.
func (s *Subscriber) FetchAlertsHook(ctx context.Context, id string) error {
	entry, ok := s.store.Get(id)
	if !ok {
		return model.ErrNoEntry
	}
	nexusHost, _ := entry.Value["nexus_api_http_server_url"].(string)
	if nexusHost == "" {
		return fmt.Errorf("camera %s has no nexus host", id)
	}

	start := time.Now().Add(-alertLookback).Unix()
	url := fmt.Sprintf("%s/cuepoint/%s/2?start_time=%d", nexusHost, model.ShortCameraID(id), start)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	s.applyCameraCredential(req)

	var raw []map[string]any
	if err := s.getJSON(req, &raw); err != nil {
		return err
	}

	alerts := model.NormalizeAlerts(raw)
	return s.store.MergeKey(id, "alerts", alerts)
}

// applyCameraCredential attaches the webapi credential: a Basic header for
// federated accounts, a session cookie for native ones.
func (s *Subscriber) applyCameraCredential(req *http.Request) {
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Referer", s.conn.Referer())

	cred := s.conn.CameraCredential()
	if cred.Token == "" {
		return
	}
	req.Header.Set(cred.Key, cred.Value+cred.Token)
}

func (s *Subscriber) getJSON(req *http.Request, out any) error {
	resp, err := s.fetchClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d from %s", resp.StatusCode, req.URL)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
