// Package rest runs the JSON long-poll subscription for one connection:
// a full app_launch refresh first, then v6 subscribe deltas, merged into
// the raw-data store with add/remove detection.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"syscall"
	"time"

	"github.com/ethan/nest-nexus-bridge/pkg/account"
	"github.com/ethan/nest-nexus-bridge/pkg/logger"
	"github.com/ethan/nest-nexus-bridge/pkg/metrics"
	"github.com/ethan/nest-nexus-bridge/pkg/model"
	"github.com/ethan/nest-nexus-bridge/pkg/weather"
)

const (
	// iterationBackoff separates subscribe iterations
	iterationBackoff = time.Second

	// fetchTimeout bounds supplementary fetches; the long-poll subscribe
	// itself runs without one
	fetchTimeout = 10 * time.Second

	userAgent = "iPhone iPhone OS 17.4.1"
)

// knownBucketTypes is the full refresh request list
var knownBucketTypes = []string{
	"buckets", "structure", "where", "safety", "device", "shared", "track",
	"link", "rcs_settings", "schedule", "kryptonite", "topaz",
	"widget_track", "quartz",
}

// requiredCompletionKeys decides when an arriving bucket is complete enough
// to count as a device add
var requiredCompletionKeys = map[string][]string{
	"structure":  {"latitude", "longitude"},
	"device":     {"where_id"},
	"kryptonite": {"where_id", "structure_id"},
	"topaz":      {"where_id", "structure_id"},
	"quartz":     {"where_id", "structure_id", "nexus_api_http_server_url"},
}

// devicePrefixes are the bucket prefixes whose removal is a device remove
var devicePrefixes = map[string]bool{
	"device": true, "kryptonite": true, "topaz": true, "quartz": true,
	"structure": true,
}

// Bases are the HTTP bases the subscriber talks to. Tests point them at
// httptest servers.
type Bases struct {
	REST   string // https://<restHost>
	WebAPI string // https://webapi.<cameraHost>
}

// Subscriber is the per-connection REST loop
type Subscriber struct {
	conn     *account.Connection
	store    *model.Store
	pipeline *model.Pipeline
	log      *logger.Logger
	bases    Bases

	fetchClient *http.Client // Supplementary fetches, bounded
	pollClient  *http.Client // Long-poll subscribe, unbounded

	fullRefresh bool
}

func NewSubscriber(conn *account.Connection, store *model.Store, pipeline *model.Pipeline, log *logger.Logger) *Subscriber {
	if log == nil {
		log = logger.Default()
	}
	return &Subscriber{
		conn:     conn,
		store:    store,
		pipeline: pipeline,
		log:      log.With("component", "rest", "connection", conn.ID),
		bases: Bases{
			REST:   "https://" + conn.RESTHost,
			WebAPI: "https://webapi." + conn.CameraHost,
		},
		fetchClient: &http.Client{Timeout: fetchTimeout},
		pollClient:  &http.Client{},
		fullRefresh: true,
	}
}

// SetBases overrides the HTTP bases, used by tests
func (s *Subscriber) SetBases(b Bases) {
	s.bases = b
}

// Run loops until the context is cancelled
func (s *Subscriber) Run(ctx context.Context) error {
	for {
		if err := s.iterate(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			metrics.SubscribeIterations.WithLabelValues("error").Inc()
			if isConnReset(err) {
				s.log.DebugREST("subscribe connection reset", "error", err)
			} else {
				s.log.Warn("subscribe iteration failed", "error", err)
			}
		} else {
			metrics.SubscribeIterations.WithLabelValues("ok").Inc()
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(iterationBackoff):
		}
	}
}

type subscribeObject struct {
	ObjectKey       string         `json:"object_key"`
	ObjectRevision  int64          `json:"object_revision"`
	ObjectTimestamp int64          `json:"object_timestamp"`
	Value           map[string]any `json:"value"`
}

type subscribeResponse struct {
	Objects        []subscribeObject `json:"objects"`
	UpdatedBuckets []subscribeObject `json:"updated_buckets"`
}

// iterate runs one refresh or delta pass and the post-subscribe pipeline
func (s *Subscriber) iterate(ctx context.Context) error {
	tuples := s.store.SubscribeTuples(s.conn.ID)

	var resp *subscribeResponse
	var err error
	if s.fullRefresh || len(tuples) == 0 {
		resp, err = s.appLaunch(ctx)
		if err == nil {
			s.fullRefresh = false
		}
	} else {
		resp, err = s.subscribe(ctx, tuples)
	}
	if err != nil {
		return err
	}

	objects := resp.Objects
	if len(objects) == 0 {
		objects = resp.UpdatedBuckets
	}

	changes := s.apply(ctx, objects)
	s.pipeline.Run(changes)
	return nil
}

// appLaunch runs the full refresh
func (s *Subscriber) appLaunch(ctx context.Context) (*subscribeResponse, error) {
	body := map[string]any{
		"known_bucket_types":    knownBucketTypes,
		"known_bucket_versions": []any{},
	}
	url := fmt.Sprintf("%s/api/0.1/user/%s/app_launch", s.bases.REST, s.conn.UserID())
	return s.postJSON(ctx, s.fetchClient, url, body)
}

// subscribe runs the long-poll delta request
func (s *Subscriber) subscribe(ctx context.Context, tuples []model.Entry) (*subscribeResponse, error) {
	objects := make([]map[string]any, 0, len(tuples))
	for _, t := range tuples {
		objects = append(objects, map[string]any{
			"object_key":       t.ID,
			"object_revision":  t.Revision,
			"object_timestamp": t.Timestamp,
		})
	}
	url := s.conn.TransportURL() + "/v6/subscribe"
	return s.postJSON(ctx, s.pollClient, url, map[string]any{"objects": objects})
}

func (s *Subscriber) postJSON(ctx context.Context, client *http.Client, url string, body any) (*subscribeResponse, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Basic "+s.conn.Bearer())
	req.Header.Set("Referer", s.conn.Referer())

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d from %s", resp.StatusCode, url)
	}

	var out subscribeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &out, nil
}

// apply merges one batch of objects, returning the detected changes
func (s *Subscriber) apply(ctx context.Context, objects []subscribeObject) []model.Change {
	var changes []model.Change

	for _, obj := range objects {
		if obj.Value == nil {
			obj.Value = map[string]any{}
		}
		prefix := bucketPrefix(obj.ObjectKey)

		switch prefix {
		case "structure":
			s.enrichStructure(ctx, &obj)
			changes = append(changes, s.diffSwarm(obj)...)
		case "quartz":
			s.enrichQuartz(ctx, &obj)
		case "buckets":
			changes = append(changes, s.diffBuckets(obj)...)
		}

		if changes2 := s.detectAdd(prefix, obj); changes2 != nil {
			changes = append(changes, *changes2)
		}

		s.log.DebugREST("bucket merged", "key", obj.ObjectKey, "revision", obj.ObjectRevision)
		s.store.Upsert(obj.ObjectKey, model.SourceREST, s.conn.ID,
			obj.ObjectRevision, obj.ObjectTimestamp, obj.Value)
	}

	return changes
}

// detectAdd reports an add when a device bucket arrives complete while the
// stored copy was absent or incomplete
func (s *Subscriber) detectAdd(prefix string, obj subscribeObject) *model.Change {
	required, ok := requiredCompletionKeys[prefix]
	if !ok {
		return nil
	}
	if !hasAllKeys(obj.Value, required) {
		return nil
	}
	// Only a stored-but-incomplete bucket becoming complete is an add; a
	// bucket arriving whole on first sight is initial population
	prev, ok := s.store.Get(obj.ObjectKey)
	if !ok || hasAllKeys(prev.Value, required) {
		return nil
	}
	return &model.Change{ID: obj.ObjectKey, Kind: model.ChangeAdd}
}

// diffSwarm drops raw entries for ids that left the structure's swarm
func (s *Subscriber) diffSwarm(obj subscribeObject) []model.Change {
	prev, ok := s.store.Get(obj.ObjectKey)
	if !ok {
		return nil
	}
	prevSwarm := stringSlice(prev.Value["swarm"])
	newSwarm := toSet(stringSlice(obj.Value["swarm"]))

	var changes []model.Change
	for _, id := range prevSwarm {
		if !newSwarm[id] {
			s.log.Info("device left swarm", "id", id)
			s.store.Delete(id)
			changes = append(changes, model.Change{ID: id, Kind: model.ChangeRemove})
		}
	}
	return changes
}

// diffBuckets turns bucket-list membership changes into refreshes and
// device removes
func (s *Subscriber) diffBuckets(obj subscribeObject) []model.Change {
	prev, ok := s.store.Get(obj.ObjectKey)
	if !ok {
		return nil
	}
	prevList := stringSlice(prev.Value["buckets"])
	newList := stringSlice(obj.Value["buckets"])
	prevSet := toSet(prevList)
	newSet := toSet(newList)

	var changes []model.Change
	for _, id := range newList {
		if !prevSet[id] {
			s.log.Info("new bucket appeared, forcing full refresh", "id", id)
			s.fullRefresh = true
		}
	}
	for _, id := range prevList {
		if !newSet[id] && devicePrefixes[bucketPrefix(id)] {
			changes = append(changes, model.Change{ID: id, Kind: model.ChangeRemove})
		}
	}
	return changes
}

// enrichStructure attaches current weather conditions to the structure
func (s *Subscriber) enrichStructure(ctx context.Context, obj *subscribeObject) {
	lat, latOK := obj.Value["latitude"].(float64)
	lon, lonOK := obj.Value["longitude"].(float64)
	if !latOK || !lonOK || s.conn.WeatherURL() == "" {
		return
	}
	obs, err := weather.Fetch(ctx, s.fetchClient, s.conn.WeatherURL(), lat, lon)
	if err != nil {
		s.log.Debug("structure weather fetch failed", "key", obj.ObjectKey, "error", err)
		return
	}
	obj.Value["weather"] = obs.ToValue()
}

// WeatherHook re-fetches current conditions for a structure entry of
// either source; wired as the pipeline's weather aux timer.
func (s *Subscriber) WeatherHook(ctx context.Context, id string) error {
	entry, ok := s.store.Get(id)
	if !ok {
		return model.ErrNoEntry
	}

	lat, latOK := entry.Value["latitude"].(float64)
	lon, lonOK := entry.Value["longitude"].(float64)
	if !latOK || !lonOK {
		if loc, ok := entry.Value["structure_location"].(map[string]any); ok {
			if coord, ok := loc["geoCoordinate"].(map[string]any); ok {
				lat, latOK = coord["latitude"].(float64)
				lon, lonOK = coord["longitude"].(float64)
			}
		}
	}
	if !latOK || !lonOK || s.conn.WeatherURL() == "" {
		return fmt.Errorf("structure %s has no coordinates", id)
	}

	obs, err := weather.Fetch(ctx, s.fetchClient, s.conn.WeatherURL(), lat, lon)
	if err != nil {
		return err
	}
	return s.store.MergeKey(id, "weather", obs.ToValue())
}

func bucketPrefix(key string) string {
	if i := strings.IndexByte(key, '.'); i >= 0 {
		return key[:i]
	}
	return key
}

func hasAllKeys(v map[string]any, keys []string) bool {
	for _, k := range keys {
		if _, ok := v[k]; !ok {
			return false
		}
	}
	return true
}

func stringSlice(v any) []string {
	list, _ := v.([]any)
	out := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func toSet(list []string) map[string]bool {
	set := make(map[string]bool, len(list))
	for _, s := range list {
		set[s] = true
	}
	return set
}

// isConnReset matches peer resets so the loop can log them quietly
func isConnReset(err error) bool {
	if errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	return err != nil && strings.Contains(err.Error(), "connection reset by peer")
}
