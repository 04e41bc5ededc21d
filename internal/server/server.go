package server

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/ossettyres/tyre-api/internal/audit"
	"github.com/ossettyres/tyre-api/internal/cache"
	"github.com/ossettyres/tyre-api/internal/config"
	"github.com/ossettyres/tyre-api/internal/email"
	"github.com/ossettyres/tyre-api/internal/handler"
	"github.com/ossettyres/tyre-api/internal/healthcheck"
	"github.com/ossettyres/tyre-api/internal/metrics"
	"github.com/ossettyres/tyre-api/internal/middleware"
	"github.com/ossettyres/tyre-api/internal/ratelimit"
	"github.com/ossettyres/tyre-api/internal/repository"
	"github.com/ossettyres/tyre-api/internal/service"
	"github.com/ossettyres/tyre-api/internal/sheets"
	"github.com/ossettyres/tyre-api/internal/storage"
	"github.com/ossettyres/tyre-api/internal/upstream"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Dependencies are the optional backing services. Nil members are skipped.
type Dependencies struct {
	Redis    *storage.RedisClient
	Postgres *storage.Postgres
	Metrics  *metrics.Metrics
}

type Server struct {
	router     *gin.Engine
	config     *config.Config
	metrics    *metrics.Metrics
	recorder   *audit.Recorder
	checker    *healthcheck.Checker
	enquiries  *service.EnquiryService
	httpServer *http.Server

	vehicleHandler *handler.VehicleHandler
	enquiryHandler *handler.EnquiryHandler
	systemHandler  *handler.SystemHandler
}

func New(cfg *config.Config, deps Dependencies, version string) (*Server, error) {
	if cfg.Server.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	m := deps.Metrics
	if m == nil {
		m = metrics.New()
	}

	sheetsClient, err := sheets.New(SheetsConfig(cfg))
	if err != nil {
		return nil, errors.WithMessage(err, "sheets client")
	}
	if !sheetsClient.Configured() {
		log.Warn().Msg("sheets not configured: orders and lookup logs will not be written")
	}

	dvla := upstream.NewDVLA(UpstreamConfig(cfg.DVLA), m)
	tyres := upstream.NewTyres(UpstreamConfig(cfg.Tyres), m)

	var store cache.Store = cache.Noop{}
	if deps.Redis != nil {
		store = cache.NewRedisStore(deps.Redis, cfg.Redis.LookupTTL, m)
	}

	vehicles := service.NewVehicleService(
		ratelimit.NewCooldownTracker(ratelimit.CooldownConfig{
			CoarseWindow: cfg.Cooldown.CoarseWindow,
			FineWindow:   cfg.Cooldown.FineWindow,
			Capacity:     cfg.Cooldown.Capacity,
		}),
		dvla, tyres, store, m,
	)

	enquiries := service.NewEnquiryService(service.EnquiryConfig{
		IPLimiter: ratelimit.NewFixedWindow(ratelimit.FixedWindowConfig{
			Limit:    cfg.RateLimit.IPMax,
			Window:   cfg.RateLimit.Window,
			Capacity: cfg.RateLimit.Capacity,
		}),
		EmailLimiter: ratelimit.NewFixedWindow(ratelimit.FixedWindowConfig{
			Limit:    cfg.RateLimit.EmailMax,
			Window:   cfg.RateLimit.Window,
			Capacity: cfg.RateLimit.Capacity,
		}),
		Relay: email.New(email.Config{
			URL:       cfg.Email.URL,
			AccessKey: cfg.Email.AccessKey,
			Timeout:   cfg.Email.Timeout,
		}),
		Sheets:      sheetsClient,
		OrdersRange: cfg.Sheets.OrdersRange,
		Metrics:     m,
	})

	var sinks []audit.Sink
	if sheetsClient.Configured() {
		sinks = append(sinks, audit.NewSheetsSink(sheetsClient, map[audit.Kind]string{
			audit.KindLookup: cfg.Sheets.APILogRange,
		}))
	}
	if deps.Postgres != nil {
		sinks = append(sinks, audit.NewDatabaseSink(repository.NewAuditLogRepository(deps.Postgres)))
	}
	recorder := audit.NewRecorder(audit.Config{
		BufferSize:    cfg.Audit.BufferSize,
		BatchSize:     cfg.Audit.BatchSize,
		FlushInterval: cfg.Audit.FlushInterval,
		IPHashKey:     cfg.Audit.IPHashKey,
		Metrics:       m,
	}, sinks...)

	checker := healthcheck.NewChecker(healthcheck.Config{})
	if deps.Redis != nil {
		checker.Register("redis", deps.Redis.Ping)
	}
	if deps.Postgres != nil {
		checker.Register("database", deps.Postgres.Ping)
	}

	s := &Server{
		router:         gin.New(),
		config:         cfg,
		metrics:        m,
		recorder:       recorder,
		checker:        checker,
		enquiries:      enquiries,
		vehicleHandler: handler.NewVehicleHandler(vehicles),
		enquiryHandler: handler.NewEnquiryHandler(enquiries),
		systemHandler:  handler.NewSystemHandler(checker, version, dvla.Breaker(), tyres.Breaker()),
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s, nil
}

// UpstreamConfig converts a config section into client settings.
func UpstreamConfig(c config.UpstreamConfig) upstream.Config {
	return upstream.Config{
		URL:               c.URL,
		APIKey:            c.APIKey,
		AuthScheme:        c.AuthScheme,
		Timeout:           c.Timeout,
		RequestsPerSecond: c.RequestsPerSecond,
		Burst:             c.Burst,
		MaxFailures:       c.MaxFailures,
		OpenTimeout:       c.OpenTimeout,
	}
}

func SheetsConfig(cfg *config.Config) sheets.Config {
	return sheets.Config{
		ServiceAccountEmail: cfg.Sheets.ServiceAccountEmail,
		PrivateKey:          cfg.Sheets.PrivateKey,
		SpreadsheetID:       cfg.Sheets.SpreadsheetID,
		TokenURL:            cfg.Sheets.TokenURL,
		BaseURL:             cfg.Sheets.BaseURL,
		Timeout:             cfg.Sheets.Timeout,
	}
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recovery())
	s.router.Use(middleware.RequestID())
	s.router.Use(middleware.Logger())
	s.router.Use(middleware.Metrics(s.metrics))
	s.router.Use(middleware.CORS(s.config.CORS.AllowedOrigins))
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.systemHandler.Health)
	s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	status := s.router.Group("/status")
	{
		status.GET("/breakers", s.systemHandler.CircuitBreakerStatus)
		status.GET("/dependencies", s.systemHandler.DependencyStatus)
	}

	api := s.router.Group("/api")
	api.Use(middleware.Audit(s.recorder))
	{
		api.GET("/dvla", s.vehicleHandler.Get)
		api.POST("/dvla", s.vehicleHandler.Post)
		api.POST("/enquiry", s.enquiryHandler.Submit)
	}
}

func (s *Server) Run(addr string) error {
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.Server.ReadTimeout,
		WriteTimeout: s.config.Server.WriteTimeout,
		IdleTimeout:  s.config.Server.IdleTimeout,
	}

	s.checker.Start()

	log.Info().
		Str("addr", addr).
		Str("environment", s.config.Server.Environment).
		Msg("starting tyre api")

	return s.httpServer.ListenAndServe()
}

// Shutdown stops accepting requests, waits for pending Orders rows, then
// flushes the audit trail.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("shutting down server")

	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}

	s.checker.Stop()

	if werr := s.enquiries.Wait(ctx); werr != nil {
		log.Warn().Err(werr).Msg("orders rows still pending at shutdown")
	}

	done := make(chan struct{})
	go func() {
		s.recorder.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		log.Warn().Msg("audit trail not fully flushed before shutdown deadline")
	}

	return err
}

func (s *Server) GetRouter() *gin.Engine {
	return s.router
}

