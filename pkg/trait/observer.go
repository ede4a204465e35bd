// Package trait runs the streaming trait-observe channel for one
// connection: a long-lived gateway POST whose framed responses are
// reconciled and merged into the raw-data store.
package trait

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ethan/nest-nexus-bridge/pkg/account"
	"github.com/ethan/nest-nexus-bridge/pkg/logger"
	"github.com/ethan/nest-nexus-bridge/pkg/metrics"
	"github.com/ethan/nest-nexus-bridge/pkg/model"
	"github.com/ethan/nest-nexus-bridge/pkg/weather"
)

const (
	observePath    = "/nestlabs.gateway.v2.GatewayService/Observe"
	observeBackoff = time.Second
	weatherTimeout = 10 * time.Second

	userAgent = "iPhone iPhone OS 17.4.1"
)

// Observer is the per-connection trait-observe loop
type Observer struct {
	conn     *account.Connection
	store    *model.Store
	pipeline *model.Pipeline
	log      *logger.Logger
	base     string

	streamClient  *http.Client // The observe stream, unbounded
	weatherClient *http.Client
}

func NewObserver(conn *account.Connection, store *model.Store, pipeline *model.Pipeline, log *logger.Logger) *Observer {
	if log == nil {
		log = logger.Default()
	}
	return &Observer{
		conn:          conn,
		store:         store,
		pipeline:      pipeline,
		log:           log.With("component", "trait", "connection", conn.ID),
		base:          "https://" + conn.TraitHost,
		streamClient:  &http.Client{},
		weatherClient: &http.Client{Timeout: weatherTimeout},
	}
}

// SetBase overrides the gateway base URL, used by tests
func (o *Observer) SetBase(base string) {
	o.base = base
}

// Run observes until the context is cancelled, reopening the stream with a
// backoff after every disconnect.
func (o *Observer) Run(ctx context.Context) error {
	for {
		if err := o.observe(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			o.log.Warn("observe stream ended", "error", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(observeBackoff):
		}
	}
}

// observe opens one stream and processes batches until it closes
func (o *Observer) observe(ctx context.Context) error {
	body := EncodeObserveRequest(Catalog(o.conn.Kind))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.base+observePath, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build observe request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "application/x-protobuf")
	req.Header.Set("X-Accept-Content-Transfer-Encoding", "binary")
	req.Header.Set("X-Accept-Response-Streaming", "true")
	req.Header.Set("Authorization", "Basic "+o.conn.Bearer())
	req.Header.Set("Referer", o.conn.Referer())

	resp, err := o.streamClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("observe status %d", resp.StatusCode)
	}

	o.log.Info("observe stream open")
	reader := NewStreamReader(resp.Body)
	for {
		payload, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		batch, err := DecodeBatch(payload)
		if err != nil {
			// Forward compatible: unknown shapes are dropped, the
			// stream keeps going
			o.log.DebugTrait("undecodable batch dropped", "error", err)
			metrics.TraitBatches.WithLabelValues("error").Inc()
			continue
		}

		metrics.TraitBatches.WithLabelValues("ok").Inc()
		changes := o.handleBatch(ctx, batch)
		o.pipeline.Run(changes)
	}
}

// handleBatch reconciles and merges one batch, returning detected changes
func (o *Observer) handleBatch(ctx context.Context, batch *Batch) []model.Change {
	var changes []model.Change

	for _, meta := range batch.ResourceMetas {
		if meta.Status != "REMOVED" {
			continue
		}
		if !strings.HasPrefix(meta.ResourceID, "STRUCTURE_") &&
			!strings.HasPrefix(meta.ResourceID, "DEVICE_") {
			continue
		}
		o.log.Info("resource removed", "id", meta.ResourceID)
		o.store.Delete(meta.ResourceID)
		changes = append(changes, model.Change{ID: meta.ResourceID, Kind: model.ChangeRemove})
	}

	for _, state := range Reconcile(batch.TraitStates) {
		if state.ResourceID == "" || state.TraitLabel == "" {
			continue
		}
		o.log.DebugTrait("trait state", "id", state.ResourceID, "label", state.TraitLabel)

		if change := o.detectAdd(state); change != nil {
			changes = append(changes, *change)
		}

		values := copyWithoutType(state.Values)
		o.store.Upsert(state.ResourceID, model.SourceTrait, o.conn.ID, 0, time.Now().Unix(),
			map[string]any{state.TraitLabel: values})

		if state.TraitLabel == "structure_location" && strings.HasPrefix(state.ResourceID, "STRUCTURE_") {
			o.enrichWeather(ctx, state.ResourceID, values)
		}
	}

	return changes
}

// Reconcile collapses duplicate (resource, label) states, preferring the
// ACCEPTED copy over a pending one.
func Reconcile(states []TraitState) []TraitState {
	type key struct{ id, label string }
	index := make(map[key]int, len(states))
	out := make([]TraitState, 0, len(states))

	for _, s := range states {
		k := key{s.ResourceID, s.TraitLabel}
		if i, ok := index[k]; ok {
			if s.Accepted() && !out[i].Accepted() {
				out[i] = s
			}
			continue
		}
		index[k] = len(out)
		out = append(out, s)
	}
	return out
}

// detectAdd reports device adds from lifecycle trait transitions
func (o *Observer) detectAdd(state TraitState) *model.Change {
	switch state.TraitLabel {
	case "configuration_done":
		ready, _ := state.Values["deviceReady"].(bool)
		if !ready {
			return nil
		}
		if prevBool(o.store, state.ResourceID, "configuration_done", "deviceReady") {
			return nil
		}
		return &model.Change{ID: state.ResourceID, Kind: model.ChangeAdd}

	case "camera_migration_status":
		where, _ := state.Values["where"].(string)
		progress, _ := state.Values["progress"].(string)
		if where != "MIGRATED_TO_GOOGLE_HOME" || progress != "PROGRESS_COMPLETE" {
			return nil
		}
		if prev, ok := o.store.Get(state.ResourceID); ok {
			if m, ok := prev.Value["camera_migration_status"].(map[string]any); ok {
				w, _ := m["where"].(string)
				p, _ := m["progress"].(string)
				if w == "MIGRATED_TO_GOOGLE_HOME" && p == "PROGRESS_COMPLETE" {
					return nil
				}
			}
		}
		return &model.Change{ID: state.ResourceID, Kind: model.ChangeAdd}
	}
	return nil
}

// enrichWeather mirrors the REST structure weather merge so the projector
// is source agnostic
func (o *Observer) enrichWeather(ctx context.Context, id string, values map[string]any) {
	coord, _ := values["geoCoordinate"].(map[string]any)
	lat, latOK := coord["latitude"].(float64)
	lon, lonOK := coord["longitude"].(float64)
	if !latOK || !lonOK || o.conn.WeatherURL() == "" {
		return
	}

	obs, err := weather.Fetch(ctx, o.weatherClient, o.conn.WeatherURL(), lat, lon)
	if err != nil {
		o.log.Debug("structure weather fetch failed", "id", id, "error", err)
		return
	}
	if err := o.store.MergeKey(id, "weather", obs.ToValue()); err != nil {
		o.log.Debug("weather merge skipped", "id", id, "error", err)
	}
}

func prevBool(store *model.Store, id, label, key string) bool {
	e, ok := store.Get(id)
	if !ok {
		return false
	}
	m, ok := e.Value[label].(map[string]any)
	if !ok {
		return false
	}
	v, _ := m[key].(bool)
	return v
}

// copyWithoutType shallow-copies patch values, dropping the Any type marker
func copyWithoutType(values map[string]any) map[string]any {
	out := make(map[string]any, len(values))
	for k, v := range values {
		if k == "@type" {
			continue
		}
		out[k] = v
	}
	return out
}
