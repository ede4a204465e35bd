// The bridge connects configured Nest accounts, merges their REST and
// trait subscriptions into one canonical device model, and logs device
// events. Media sessions and command dispatch are exposed as libraries;
// a host process drives them per device.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/ethan/nest-nexus-bridge/pkg/account"
	"github.com/ethan/nest-nexus-bridge/pkg/command"
	"github.com/ethan/nest-nexus-bridge/pkg/config"
	"github.com/ethan/nest-nexus-bridge/pkg/logger"
	"github.com/ethan/nest-nexus-bridge/pkg/model"
	"github.com/ethan/nest-nexus-bridge/pkg/nexus"
	"github.com/ethan/nest-nexus-bridge/pkg/rest"
	"github.com/ethan/nest-nexus-bridge/pkg/trait"
)

func main() {
	envPath := flag.String("env", ".env", "path to the credentials file")
	metricsAddr := flag.String("metrics-addr", ":9091", "prometheus metrics listen address (empty to disable)")
	logFlags := logger.RegisterFlags(flag.CommandLine)
	flag.Parse()

	logCfg, err := logFlags.ToConfig()
	if err != nil {
		log.Fatalf("logging flags: %v", err)
	}
	logg, err := logger.New(logCfg)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logg.Close()
	logger.SetDefault(logg)
	logg.Info("logging configured", "flags", logFlags.String())

	cfg, err := config.Load(*envPath)
	if err != nil {
		logg.Error("load config", "error", err)
		os.Exit(1)
	}

	frames, err := nexus.LoadFallbackFrames(cfg.ResourceDir)
	if err != nil {
		// Sessions fall back to the built-in placeholder frame
		logg.Warn("fallback frames unavailable", "dir", cfg.ResourceDir, "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *metricsAddr != "" {
		go serveMetrics(*metricsAddr, logg)
	}

	manager := account.NewManager(cfg, logg)
	defer manager.Close()
	if err := manager.AuthorizeAll(ctx); err != nil {
		logg.Error("authorization incomplete", "error", err)
	}

	g, ctx := errgroup.WithContext(ctx)

	for _, conn := range manager.Connections() {
		if !conn.Authorized() {
			logg.Warn("skipping unauthorized connection", "connection", conn.ID)
			continue
		}
		startConnection(ctx, g, conn, cfg, frames, logg)
	}

	logg.Info("bridge running")
	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		logg.Error("bridge stopped", "error", err)
		os.Exit(1)
	}
	logg.Info("shutdown complete")
}

// startConnection wires the store, pipeline, and both subscription loops
// for one account connection.
func startConnection(ctx context.Context, g *errgroup.Group, conn *account.Connection, cfg *config.Config, frames *nexus.FallbackFrames, logg *logger.Logger) {
	store := model.NewStore()
	bus := model.NewBus(logg)
	projector := model.NewProjector(store, cfg.Excluded, logg)

	var pipeline *model.Pipeline
	dispatcher := command.NewDispatcher(conn, store, logg)

	var subscriber *rest.Subscriber
	hooks := model.AuxHooks{
		Zones: func(ctx context.Context, id string) error {
			return subscriber.FetchZonesHook(ctx, id)
		},
		Alerts: func(ctx context.Context, id string) error {
			entry, ok := store.Get(id)
			if !ok {
				return model.ErrNoEntry
			}
			if entry.Source == model.SourceTrait {
				return dispatcher.FetchAlertsHook(ctx, id)
			}
			return subscriber.FetchAlertsHook(ctx, id)
		},
		Weather: func(ctx context.Context, id string) error {
			return subscriber.WeatherHook(ctx, id)
		},
	}
	pipeline = model.NewPipeline(store, projector, bus, hooks, logg)
	subscriber = rest.NewSubscriber(conn, store, pipeline, logg)
	observer := trait.NewObserver(conn, store, pipeline, logg)

	g.Go(func() error {
		defer pipeline.Close()
		<-ctx.Done()
		return ctx.Err()
	})
	sessions := newSessionRegistry(conn, frames, logg)

	g.Go(func() error { return subscriber.Run(ctx) })
	g.Go(func() error { return observer.Run(ctx) })
	g.Go(func() error {
		defer sessions.closeAll()
		consumeEvents(ctx, conn.ID, bus, sessions, logg)
		return nil
	})
}

// consumeEvents drains one connection's device events, logging them and
// keeping camera session state current.
func consumeEvents(ctx context.Context, connID string, bus *model.Bus, sessions *sessionRegistry, logg *logger.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-bus.Events():
			args := []any{
				"connection", connID,
				"uuid", e.UUID,
				"event", e.Type.String(),
			}
			if e.Device != nil {
				args = append(args,
					"kind", string(e.Device.Kind),
					"serial", e.Device.Serial,
					"description", e.Device.Description,
					"online", e.Device.Online,
				)
			}
			logg.Info("device event", args...)
			sessions.apply(e)
		}
	}
}

// sessionRegistry tracks one media session per streaming camera. Sessions
// stay idle until a host attaches a consumer; the registry only keeps
// their camera state current.
type sessionRegistry struct {
	conn     *account.Connection
	frames   *nexus.FallbackFrames
	log      *logger.Logger
	sessions map[string]*nexus.Session
}

func newSessionRegistry(conn *account.Connection, frames *nexus.FallbackFrames, logg *logger.Logger) *sessionRegistry {
	return &sessionRegistry{
		conn:     conn,
		frames:   frames,
		log:      logg,
		sessions: make(map[string]*nexus.Session),
	}
}

func (r *sessionRegistry) apply(e model.Event) {
	if e.Type == model.EventRemove {
		if s, ok := r.sessions[e.UUID]; ok {
			s.Close()
			delete(r.sessions, e.UUID)
		}
		return
	}

	d := e.Device
	if d == nil || (d.Kind != model.KindCamera && d.Kind != model.KindDoorbell) || d.StreamingHost == "" {
		return
	}

	s, ok := r.sessions[e.UUID]
	if !ok {
		conn := r.conn
		s = nexus.NewSession(nexus.SessionConfig{
			Host:      d.StreamingHost,
			DeviceID:  model.ShortCameraID(e.UUID),
			UserID:    conn.UserID(),
			Federated: conn.Kind == config.AccountFederated,
			Token:     conn.Bearer,
			Frames:    r.frames,
			Logger:    r.log,
		})
		r.sessions[e.UUID] = s
	}
	s.Update(nexus.CameraState{
		Online:           d.Online,
		StreamingEnabled: d.StreamingEnabled,
	})
}

func (r *sessionRegistry) closeAll() {
	for _, s := range r.sessions {
		s.Close()
	}
}

func serveMetrics(addr string, logg *logger.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	logg.Info("metrics listening", "addr", fmt.Sprintf("http://%s/metrics", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logg.Error("metrics server", "error", err)
	}
}
