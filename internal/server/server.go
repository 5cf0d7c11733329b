/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/grimnir_autodj/internal/api"
	"github.com/friendsincode/grimnir_autodj/internal/cache"
	"github.com/friendsincode/grimnir_autodj/internal/catalog"
	"github.com/friendsincode/grimnir_autodj/internal/config"
	"github.com/friendsincode/grimnir_autodj/internal/db"
	"github.com/friendsincode/grimnir_autodj/internal/device"
	"github.com/friendsincode/grimnir_autodj/internal/eventbus"
	"github.com/friendsincode/grimnir_autodj/internal/events"
	"github.com/friendsincode/grimnir_autodj/internal/leadership"
	"github.com/friendsincode/grimnir_autodj/internal/logbuffer"
	"github.com/friendsincode/grimnir_autodj/internal/player"
	"github.com/friendsincode/grimnir_autodj/internal/storage"
	"github.com/friendsincode/grimnir_autodj/internal/telemetry"
	"github.com/friendsincode/grimnir_autodj/internal/version"
)

// gstreamerPreloadLead is how long before a track ends the device asks for
// the next one.
const gstreamerPreloadLead = 15 * time.Second

// Server bundles the HTTP surface and the playback services behind it.
type Server struct {
	cfg           *config.Config
	logger        zerolog.Logger
	router        chi.Router
	httpServer    *http.Server
	metricsServer *http.Server
	closers       []func() error

	db     *gorm.DB
	cache  *cache.Cache
	bus    *events.Bus
	feed   eventbus.Feed
	leases *leadership.Manager
	tracer *telemetry.TracerProvider
	player *player.Player
	api    *api.API
}

// New connects every dependency and builds the router. Nothing plays until
// Start. logBuf may be nil, which leaves the log endpoint unmounted.
func New(ctx context.Context, cfg *config.Config, logBuf *logbuffer.Buffer, logger zerolog.Logger) (*Server, error) {
	for _, warn := range cfg.LegacyEnvWarnings {
		logger.Warn().Msg(warn)
	}
	if cfg.InstanceID == "" {
		cfg.InstanceID = uuid.NewString()
	}

	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(securityHeadersMiddleware)
	router.Use(telemetry.TracingMiddleware("autodj-api"))
	router.Use(telemetry.MetricsMiddleware)

	srv := &Server{
		cfg:    cfg,
		logger: logger,
		router: router,
		bus:    events.NewBus(),
	}

	if err := srv.initDependencies(ctx); err != nil {
		_ = srv.Close()
		return nil, err
	}

	if logBuf != nil {
		srv.api.SetLogBuffer(logBuf)
	}
	srv.configureRoutes()

	srv.httpServer = &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           srv.router,
		ReadHeaderTimeout: 15 * time.Second,
		// The state stream is long-lived; handlers bound their own writes.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}
	if cfg.MetricsBind != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", telemetry.Handler())
		srv.metricsServer = &http.Server{
			Addr:              cfg.MetricsBind,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	return srv, nil
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")

		// Only advertise HSTS for requests served over HTTPS.
		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) initDependencies(ctx context.Context) error {
	tp, err := telemetry.InitTracer(ctx, telemetry.TracerConfig{
		ServiceName:    "grimnir-autodj",
		ServiceVersion: version.Version,
		InstanceID:     s.cfg.InstanceID,
		OTLPEndpoint:   s.cfg.OTLPEndpoint,
		Enabled:        s.cfg.TracingEnabled,
		SampleRate:     s.cfg.TracingSampleRate,
	}, s.logger)
	if err != nil {
		// Playback does not depend on tracing.
		s.logger.Warn().Err(err).Msg("tracing initialization failed, continuing without traces")
	} else {
		s.tracer = tp
		s.DeferClose(func() error { return tp.Shutdown(context.Background()) })
	}

	database, err := db.Connect(s.cfg)
	if err != nil {
		return err
	}
	s.db = database
	s.DeferClose(func() error { return db.Close(database) })
	if err := db.Migrate(database); err != nil {
		return err
	}

	s.cache = cache.New(cache.Config{
		RedisAddr:     s.cfg.RedisAddr,
		RedisPassword: s.cfg.RedisPassword,
		RedisDB:       s.cfg.RedisDB,
		TTL:           s.cfg.CatalogCacheTTL,
	}, s.logger)
	s.DeferClose(s.cache.Close)

	store := catalog.NewGormStore(database)
	loader := catalog.NewLoader(catalog.NewCachedStore(store, s.cache, s.logger), s.logger)

	s.feed = eventbus.Open(s.cfg, database, s.bus, s.logger)
	s.DeferClose(s.feed.Close)

	if s.cfg.LeaseEnabled {
		leases, err := leadership.NewManager(leadership.Config{
			RedisAddr:     s.cfg.RedisAddr,
			RedisPassword: s.cfg.RedisPassword,
			RedisDB:       s.cfg.RedisDB,
			TTL:           s.cfg.LeaseTTL,
			InstanceID:    s.cfg.InstanceID,
		}, s.logger)
		if err != nil {
			return fmt.Errorf("create channel lease manager: %w", err)
		}
		s.leases = leases
	} else {
		s.leases = leadership.Disabled(s.logger)
	}
	s.DeferClose(s.leases.Close)

	resolver, err := storage.NewResolver(s.cfg.MediaRoot, s.logger).WithS3(ctx, storage.S3Config{
		AccessKeyID:     s.cfg.S3AccessKeyID,
		SecretAccessKey: s.cfg.S3SecretAccessKey,
		Region:          s.cfg.S3Region,
		Bucket:          s.cfg.S3Bucket,
		Endpoint:        s.cfg.S3Endpoint,
		UsePathStyle:    s.cfg.S3UsePathStyle,
		PresignTTL:      s.cfg.S3PresignTTL,
	})
	if err != nil {
		return fmt.Errorf("configure object storage: %w", err)
	}

	sink := telemetry.NewMultiSink(s.logger,
		telemetry.NewBusSink(s.bus),
		telemetry.NewHistorySink(database),
	)

	s.player = player.New(player.Deps{
		Config:    s.cfg,
		Loader:    loader,
		Channels:  store,
		Feed:      s.feed,
		Leases:    s.leases,
		Resolver:  resolver,
		Sink:      sink,
		Bus:       s.bus,
		NewDevice: DeviceFactory(s.cfg, s.logger),
		Logger:    s.logger,
	})

	s.api = api.New(s.player, s.feed, s.bus, []byte(s.cfg.JWTSigningKey), s.logger)
	return nil
}

// DeviceFactory returns the device constructor selected by configuration.
func DeviceFactory(cfg *config.Config, logger zerolog.Logger) player.DeviceFactory {
	return func(channelID string) (device.Device, error) {
		switch cfg.Device {
		case config.DeviceSimulated:
			return device.NewSimulated(device.SimulatedOptions{}), nil
		case config.DeviceGStreamer, "":
			return device.NewGStreamer(device.GStreamerOptions{
				Bin:         cfg.GStreamerBin,
				Sink:        cfg.AudioSink,
				PreloadLead: gstreamerPreloadLead,
			}, logger.With().Str("channel_id", channelID).Logger()), nil
		default:
			return nil, fmt.Errorf("unsupported device %q", cfg.Device)
		}
	}
}

// Start activates the configured initial channel, if any. A channel that
// fails to start is logged and left for an operator to fix; the API stays up.
func (s *Server) Start(ctx context.Context) {
	channelID := s.cfg.DefaultChannelID
	if channelID == "" {
		return
	}
	if err := s.player.InitializeChannel(ctx, channelID); err != nil {
		s.logger.Error().Err(err).Str("channel_id", channelID).Msg("initial channel did not start")
	}
}

// HTTPServer exposes the control API server.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// MetricsServer exposes the dedicated metrics listener; nil when disabled.
func (s *Server) MetricsServer() *http.Server {
	return s.metricsServer
}

// Player returns the channel player.
func (s *Server) Player() *player.Player {
	return s.player
}

// Close stops playback and releases owned resources in reverse order.
func (s *Server) Close() error {
	var firstErr error
	if s.player != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := s.player.Stop(ctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			firstErr = err
		}
		cancel()
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.closers = nil
	return firstErr
}

// DeferClose registers a cleanup hook.
func (s *Server) DeferClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

func (s *Server) configureRoutes() {
	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		response := map[string]string{"status": "ok"}
		if s.leases.Enabled() {
			response["instance_id"] = s.cfg.InstanceID
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(response)
	})

	s.router.Handle("/metrics", telemetry.Handler())

	s.api.Routes(s.router)
}
