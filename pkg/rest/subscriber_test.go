package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethan/nest-nexus-bridge/pkg/account"
	"github.com/ethan/nest-nexus-bridge/pkg/config"
	"github.com/ethan/nest-nexus-bridge/pkg/model"
)

// newAuthorizedConn builds a native connection authorized against local
// stub endpoints, with the transport and weather URLs under test control.
func newAuthorizedConn(t *testing.T, transportURL, weatherURL string) *account.Connection {
	t.Helper()

	login := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"items": []map[string]string{{"session_token": "S"}},
		})
	}))
	t.Cleanup(login.Close)

	session := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"userid": "U",
			"urls": map[string]string{
				"transport_url": transportURL,
				"weather_url":   weatherURL,
			},
		})
	}))
	t.Cleanup(session.Close)

	conn := account.NewConnection(config.Account{
		Kind:        config.AccountNative,
		AccessToken: "tok",
	}, false)
	conn.Endpoints.LoginNest = login.URL
	conn.Endpoints.Session = session.URL
	require.NoError(t, conn.Authorize(context.Background(), http.DefaultClient))
	return conn
}

type harness struct {
	store *model.Store
	bus   *model.Bus
	pl    *model.Pipeline
	sub   *Subscriber
}

func newHarness(t *testing.T, conn *account.Connection) *harness {
	store := model.NewStore()
	bus := model.NewBus(nil)
	pl := model.NewPipeline(store, model.NewProjector(store, nil, nil), bus, model.AuxHooks{}, nil)
	t.Cleanup(pl.Close)
	return &harness{
		store: store,
		bus:   bus,
		pl:    pl,
		sub:   NewSubscriber(conn, store, pl, nil),
	}
}

func (h *harness) drainEvents() []model.Event {
	var out []model.Event
	for {
		select {
		case e := <-h.bus.Events():
			out = append(out, e)
		default:
			return out
		}
	}
}

func TestFirstRefreshThenDelta(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/0.1/user/U/app_launch", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Len(t, body["known_bucket_types"], len(knownBucketTypes))
		json.NewEncoder(w).Encode(map[string]any{
			"objects": []map[string]any{
				{
					"object_key": "buckets.X", "object_revision": 1, "object_timestamp": 10,
					"value": map[string]any{"buckets": []string{"device.A"}},
				},
				{
					"object_key": "device.A", "object_revision": 1, "object_timestamp": 10,
					"value": map[string]any{"where_id": "w1", "serial_number": "T1SERIAL", "name": "Hall"},
				},
			},
		})
	})
	mux.HandleFunc("/v6/subscribe", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Objects []map[string]any `json:"objects"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.NotEmpty(t, body.Objects, "delta subscribe resumes from stored tuples")
		json.NewEncoder(w).Encode(map[string]any{
			"objects": []map[string]any{
				{
					"object_key": "device.A", "object_revision": 2, "object_timestamp": 20,
					"value": map[string]any{"where_id": "w2"},
				},
			},
		})
	})
	api := httptest.NewServer(mux)
	defer api.Close()

	conn := newAuthorizedConn(t, api.URL, "")
	h := newHarness(t, conn)
	h.sub.SetBases(Bases{REST: api.URL, WebAPI: api.URL})

	require.NoError(t, h.sub.iterate(context.Background()))

	_, ok := h.store.Get("buckets.X")
	assert.True(t, ok)
	e, ok := h.store.Get("device.A")
	require.True(t, ok)
	assert.Equal(t, "w1", e.Value["where_id"])

	for _, ev := range h.drainEvents() {
		assert.NotEqual(t, model.EventAdd, ev.Type,
			"initial population is not an add")
	}

	require.NoError(t, h.sub.iterate(context.Background()))

	e, _ = h.store.Get("device.A")
	assert.Equal(t, "w2", e.Value["where_id"])
	assert.Equal(t, int64(2), e.Revision)
	assert.Equal(t, "T1SERIAL", e.Value["serial_number"], "delta merges over the stored value")

	sawUpdate := false
	for _, ev := range h.drainEvents() {
		assert.NotEqual(t, model.EventAdd, ev.Type)
		if ev.Type == model.EventUpdate && ev.UUID == "device.A" {
			sawUpdate = true
		}
	}
	assert.True(t, sawUpdate)
}

func TestBucketRemovalEmitsDeviceRemove(t *testing.T) {
	conn := newAuthorizedConn(t, "http://unused", "")
	h := newHarness(t, conn)

	changes := h.sub.apply(context.Background(), []subscribeObject{
		{ObjectKey: "buckets.X", ObjectRevision: 1, Value: map[string]any{
			"buckets": []any{"device.A", "kryptonite.K1"},
		}},
		{ObjectKey: "device.A", ObjectRevision: 1, Value: map[string]any{"serial_number": "T1SERIAL"}},
		{ObjectKey: "kryptonite.K1", ObjectRevision: 1, Value: map[string]any{"serial_number": "K1SERIAL"}},
	})
	h.pl.Run(changes)
	h.drainEvents()

	changes = h.sub.apply(context.Background(), []subscribeObject{
		{ObjectKey: "buckets.X", ObjectRevision: 2, Value: map[string]any{
			"buckets": []any{"device.A"},
		}},
	})
	h.pl.Run(changes)

	var removed []string
	var updated []string
	for _, ev := range h.drainEvents() {
		switch ev.Type {
		case model.EventRemove:
			removed = append(removed, ev.UUID)
		case model.EventUpdate:
			updated = append(updated, ev.UUID)
		}
	}
	assert.Equal(t, []string{"kryptonite.K1"}, removed)
	assert.NotContains(t, updated, "kryptonite.K1", "removed devices leave the sweep")

	_, ok := h.store.Get("kryptonite.K1")
	assert.False(t, ok)
}

func TestCompletionAfterPartialArrivalIsAdd(t *testing.T) {
	conn := newAuthorizedConn(t, "http://unused", "")
	h := newHarness(t, conn)

	changes := h.sub.apply(context.Background(), []subscribeObject{
		{ObjectKey: "device.A", ObjectRevision: 1, Value: map[string]any{"serial_number": "T1SERIAL"}},
	})
	assert.Empty(t, changes, "incomplete bucket is not an add")

	changes = h.sub.apply(context.Background(), []subscribeObject{
		{ObjectKey: "device.A", ObjectRevision: 2, Value: map[string]any{"where_id": "w1"}},
	})
	require.Len(t, changes, 1)
	assert.Equal(t, model.ChangeAdd, changes[0].Kind)
	assert.Equal(t, "device.A", changes[0].ID)
}

func TestReapplySameResponseIsIdempotent(t *testing.T) {
	conn := newAuthorizedConn(t, "http://unused", "")
	h := newHarness(t, conn)

	objects := []subscribeObject{
		{ObjectKey: "device.A", ObjectRevision: 3, ObjectTimestamp: 30, Value: map[string]any{
			"serial_number": "T1SERIAL", "where_id": "w1",
		}},
	}
	h.sub.apply(context.Background(), objects)
	first, _ := h.store.Get("device.A")

	h.sub.apply(context.Background(), objects)
	second, _ := h.store.Get("device.A")

	assert.Equal(t, first.Revision, second.Revision)
	assert.Equal(t, first.Value, second.Value)
}

func TestSwarmShrinkDropsEntry(t *testing.T) {
	conn := newAuthorizedConn(t, "http://unused", "")
	h := newHarness(t, conn)

	h.sub.apply(context.Background(), []subscribeObject{
		{ObjectKey: "structure.S", ObjectRevision: 1, Value: map[string]any{
			"swarm": []any{"topaz.P1"}, "name": "Home",
		}},
		{ObjectKey: "topaz.P1", ObjectRevision: 1, Value: map[string]any{"serial_number": "PSERIAL"}},
	})

	changes := h.sub.apply(context.Background(), []subscribeObject{
		{ObjectKey: "structure.S", ObjectRevision: 2, Value: map[string]any{
			"swarm": []any{}, "name": "Home",
		}},
	})

	require.Len(t, changes, 1)
	assert.Equal(t, model.ChangeRemove, changes[0].Kind)
	_, ok := h.store.Get("topaz.P1")
	assert.False(t, ok)
}

func TestQuartzEnrichment(t *testing.T) {
	var credentialHeader string
	nexus := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/cuepoint_category/CAM1", r.URL.Path)
		json.NewEncoder(w).Encode([]map[string]any{
			{"id": 0, "label": "Whole frame"},
			{"id": 2, "label": "Driveway"},
		})
	}))
	defer nexus.Close()

	webapi := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		credentialHeader = r.Header.Get("Cookie")
		assert.Equal(t, "CAM1", r.URL.Query().Get("uuid"))
		json.NewEncoder(w).Encode(map[string]any{
			"items": []map[string]any{
				{"properties": map[string]any{
					"cc2migration.overview_state": "NORMAL",
					"streaming.enabled":           true,
				}},
			},
		})
	}))
	defer webapi.Close()

	conn := newAuthorizedConn(t, "http://unused", "")
	h := newHarness(t, conn)
	h.sub.SetBases(Bases{REST: "http://unused", WebAPI: webapi.URL})

	h.sub.apply(context.Background(), []subscribeObject{
		{ObjectKey: "quartz.CAM1", ObjectRevision: 1, Value: map[string]any{
			"serial_number":             "CAMSERIAL",
			"nexus_api_http_server_url": nexus.URL,
		}},
	})

	assert.Equal(t, "website_2=S", credentialHeader, "native credential rides as a cookie")

	e, ok := h.store.Get("quartz.CAM1")
	require.True(t, ok)
	props := e.Value["properties"].(map[string]any)
	assert.Equal(t, true, props["streaming.enabled"])

	zones := e.Value["activity_zones"].([]any)
	require.Len(t, zones, 2)
	first := zones[0].(map[string]any)
	assert.Equal(t, float64(1), first["id"], "the legacy whole-frame zone id 0 maps to 1")
}

func TestNormalizeAlerts(t *testing.T) {
	out := model.NormalizeAlerts([]map[string]any{
		{"id": "old", "start_time": 100.0, "zone_ids": []any{}},
		{"id": "new", "start_time": 200.0, "zone_ids": []any{0.0, 3.0}},
	})

	require.Len(t, out, 2)
	newest := out[0].(map[string]any)
	assert.Equal(t, "new", newest["id"], "alerts sort most recent first")
	assert.Equal(t, []any{float64(1), 3.0}, newest["zone_ids"], "leading zone 0 becomes 1")

	oldest := out[1].(map[string]any)
	assert.Equal(t, []any{float64(1)}, oldest["zone_ids"], "empty zone list becomes [1]")
	assert.Equal(t, 100.0, oldest["playback_time"], "playback falls back to start time")
}
