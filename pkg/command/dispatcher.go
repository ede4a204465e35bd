// Package command applies user-initiated device writes by selecting the
// backend the device's raw entry came from: a trait batch update, a camera
// properties POST, or a bucket merge.
package command

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/ethan/nest-nexus-bridge/pkg/account"
	"github.com/ethan/nest-nexus-bridge/pkg/logger"
	"github.com/ethan/nest-nexus-bridge/pkg/metrics"
	"github.com/ethan/nest-nexus-bridge/pkg/model"
)

const (
	batchUpdatePath = "/nestlabs.gateway.v1.TraitBatchApi/BatchUpdateState"
	sendCommandPath = "/nestlabs.gateway.v1.ResourceApi/SendCommand"

	requestTimeout = 15 * time.Second
	userAgent      = "iPhone iPhone OS 17.4.1"
)

// Writes are paced so a burst of host commands cannot flood the backend
var writeLimit = rate.Every(250 * time.Millisecond)

// Bases are the HTTP bases the dispatcher talks to. Tests point them at
// httptest servers.
type Bases struct {
	Trait  string // https://<traitHost>
	WebAPI string // https://webapi.<cameraHost>
}

// Dispatcher routes writes and snapshot reads for one connection
type Dispatcher struct {
	conn    *account.Connection
	store   *model.Store
	log     *logger.Logger
	limiter *rate.Limiter
	client  *http.Client
	bases   Bases
}

func NewDispatcher(conn *account.Connection, store *model.Store, log *logger.Logger) *Dispatcher {
	if log == nil {
		log = logger.Default()
	}
	return &Dispatcher{
		conn:    conn,
		store:   store,
		log:     log.With("component", "command", "connection", conn.ID),
		limiter: rate.NewLimiter(writeLimit, 4),
		client:  &http.Client{Timeout: requestTimeout},
		bases: Bases{
			Trait:  "https://" + conn.TraitHost,
			WebAPI: "https://webapi." + conn.CameraHost,
		},
	}
}

// SetBases overrides the HTTP bases, used by tests
func (d *Dispatcher) SetBases(b Bases) {
	d.bases = b
}

// Set applies a batch of key/value writes to one device. The backend is
// chosen by the raw entry's source. Failures are logged at debug and not
// retried; the host owns retry policy.
func (d *Dispatcher) Set(ctx context.Context, uuid string, values map[string]any) error {
	entry, ok := d.store.Get(uuid)
	if !ok {
		return fmt.Errorf("set %s: %w", uuid, model.ErrNoEntry)
	}

	if err := d.limiter.Wait(ctx); err != nil {
		return err
	}

	var backend string
	var err error
	switch {
	case entry.Source == model.SourceTrait:
		backend = "trait"
		err = d.setTrait(ctx, entry, values)
	case strings.HasPrefix(uuid, "quartz."):
		backend = "camera_properties"
		err = d.setCameraProperties(ctx, uuid, values)
	default:
		backend = "bucket_merge"
		err = d.setBucketMerge(ctx, entry, values)
	}

	if err != nil {
		metrics.CommandWrites.WithLabelValues(backend, "error").Inc()
		d.log.Debug("device write failed", "uuid", uuid, "backend", backend, "error", err)
		return err
	}
	metrics.CommandWrites.WithLabelValues(backend, "ok").Inc()
	return nil
}

// restPropertyMap translates canonical write keys to dropcam property names
var restPropertyMap = map[string]string{
	"streaming_enabled":    "streaming.enabled",
	"audio_enabled":        "audio.enabled",
	"indoor_chime_enabled": "doorbell.indoor_chime.enabled",
	"light_enabled":        "floodlight.enabled",
	"light_brightness":     "floodlight.brightness",
}

// setCameraProperties writes one dropcams.set_properties POST per key
func (d *Dispatcher) setCameraProperties(ctx context.Context, uuid string, values map[string]any) error {
	short := model.ShortCameraID(uuid)
	for key, value := range values {
		name, ok := restPropertyMap[key]
		if !ok {
			name = key
		}
		form := url.Values{}
		form.Set(name, fmt.Sprint(value))
		form.Set("uuid", short)

		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			d.bases.WebAPI+"/api/dropcams.set_properties", strings.NewReader(form.Encode()))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		d.applyHeaders(req)
		d.applyCameraCredential(req)

		if err := d.do(req, nil); err != nil {
			return fmt.Errorf("set_properties %s: %w", name, err)
		}
	}
	return nil
}

// sharedBucketKeys are the thermostat keys that live in the shared bucket
// rather than the device bucket
var sharedBucketKeys = map[string]bool{
	"hvac_mode":               true,
	"target_temperature":      true,
	"target_temperature_low":  true,
	"target_temperature_high": true,
}

// setBucketMerge writes a v5 put MERGE, redirecting thermostat mode and
// temperature keys to the shared object.
func (d *Dispatcher) setBucketMerge(ctx context.Context, entry model.Entry, values map[string]any) error {
	deviceValues := map[string]any{}
	sharedValues := map[string]any{}
	for key, value := range values {
		if strings.HasPrefix(entry.ID, "device.") && sharedBucketKeys[key] {
			if key == "hvac_mode" {
				key = "target_temperature_type"
				if s, ok := value.(string); ok {
					value = strings.ToLower(s)
				}
			}
			sharedValues[key] = value
		} else {
			deviceValues[key] = value
		}
	}

	var objects []map[string]any
	if len(deviceValues) > 0 {
		objects = append(objects, map[string]any{
			"object_key": entry.ID, "op": "MERGE", "value": deviceValues,
		})
	}
	if len(sharedValues) > 0 {
		objects = append(objects, map[string]any{
			"object_key": "shared." + strings.TrimPrefix(entry.ID, "device."),
			"op":         "MERGE", "value": sharedValues,
		})
	}
	if len(objects) == 0 {
		return nil
	}
	return d.postJSON(ctx, d.conn.TransportURL()+"/v5/put", map[string]any{"objects": objects})
}

// Snapshot fetches a still image for one camera. REST cameras expose a
// get_image endpoint; trait cameras are commanded to upload a live image
// whose URL lands on the observe stream.
func (d *Dispatcher) Snapshot(ctx context.Context, uuid string) ([]byte, error) {
	entry, ok := d.store.Get(uuid)
	if !ok {
		return nil, fmt.Errorf("snapshot %s: %w", uuid, model.ErrNoEntry)
	}
	if entry.Source == model.SourceTrait {
		return d.snapshotTrait(ctx, entry)
	}
	return d.snapshotREST(ctx, entry)
}

func (d *Dispatcher) snapshotREST(ctx context.Context, entry model.Entry) ([]byte, error) {
	nexusHost, _ := entry.Value["nexus_api_http_server_url"].(string)
	if nexusHost == "" {
		return nil, fmt.Errorf("camera %s has no nexus host", entry.ID)
	}
	url := fmt.Sprintf("%s/get_image?uuid=%s", nexusHost, model.ShortCameraID(entry.ID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	d.applyHeaders(req)
	d.applyCameraCredential(req)

	var body []byte
	if err := d.do(req, &body); err != nil {
		return nil, err
	}
	return body, nil
}

// snapshotLiveImageWait bounds how long the observe stream gets to deliver
// the refreshed liveImageUrl after the upload command.
const snapshotLiveImageWait = 3 * time.Second

func (d *Dispatcher) snapshotTrait(ctx context.Context, entry model.Entry) ([]byte, error) {
	previous := liveImageURL(entry.Value)

	err := d.sendCommand(ctx, entry.ID, "upload_live_image",
		"type.nestlabs.com/nest.trait.product.camera.UploadLiveImageTrait.UploadLiveImageRequest",
		map[string]any{})
	if err != nil {
		return nil, fmt.Errorf("upload_live_image: %w", err)
	}

	deadline := time.Now().Add(snapshotLiveImageWait)
	imageURL := previous
	for time.Now().Before(deadline) {
		if e, ok := d.store.Get(entry.ID); ok {
			if u := liveImageURL(e.Value); u != "" && u != previous {
				imageURL = u
				break
			}
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
	if imageURL == "" {
		return nil, fmt.Errorf("camera %s has no live image url", entry.ID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, err
	}
	d.applyHeaders(req)
	req.Header.Set("Authorization", "Basic "+d.conn.Bearer())

	var body []byte
	if err := d.do(req, &body); err != nil {
		return nil, err
	}
	return body, nil
}

func liveImageURL(value map[string]any) string {
	m, _ := value["upload_live_image"].(map[string]any)
	u, _ := m["liveImageUrl"].(string)
	return u
}

func (d *Dispatcher) applyHeaders(req *http.Request) {
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Referer", d.conn.Referer())
}

func (d *Dispatcher) applyCameraCredential(req *http.Request) {
	cred := d.conn.CameraCredential()
	if cred.Token != "" {
		req.Header.Set(cred.Key, cred.Value+cred.Token)
	}
}

func (d *Dispatcher) postJSON(ctx context.Context, url string, body any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Basic "+d.conn.Bearer())
	d.applyHeaders(req)
	return d.do(req, nil)
}

// postProtobuf sends one binary RPC body to the gateway
func (d *Dispatcher) postProtobuf(ctx context.Context, url string, body []byte) error {
	req, err := d.buildProtobufRequest(ctx, url, body)
	if err != nil {
		return err
	}
	return d.do(req, nil)
}

func (d *Dispatcher) buildProtobufRequest(ctx context.Context, url string, body []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-protobuf")
	req.Header.Set("X-Accept-Content-Transfer-Encoding", "binary")
	req.Header.Set("X-Accept-Response-Streaming", "true")
	req.Header.Set("Authorization", "Basic "+d.conn.Bearer())
	d.applyHeaders(req)
	return req, nil
}

func (d *Dispatcher) do(req *http.Request, body *[]byte) error {
	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d from %s", resp.StatusCode, req.URL)
	}
	if body != nil {
		*body, err = io.ReadAll(resp.Body)
		return err
	}
	return nil
}
