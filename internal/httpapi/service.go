// Package httpapi implements the ingress gate: request validation, early
// rejection, decryption hand-off, session creation, and pipeline dispatch.
package httpapi

import (
	"context"
	"database/sql"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/R3E-Network/audio-verifier/infrastructure/metrics"
	"github.com/R3E-Network/audio-verifier/infrastructure/middleware"
	"github.com/R3E-Network/audio-verifier/internal/config"
	"github.com/R3E-Network/audio-verifier/internal/pipeline"
	"github.com/R3E-Network/audio-verifier/internal/session"
	"github.com/R3E-Network/audio-verifier/pkg/logger"
)

// ServiceVersion is reported by the info endpoint.
const ServiceVersion = "2.0.0"

// Decryptor is the slice of the decryption engine the ingress needs.
type Decryptor interface {
	Decrypt(ctx context.Context, blobRef, encryptedObjectHex, identity, sessionKey string) ([]byte, error)
}

// Submitter hands jobs to the verification worker pool.
type Submitter interface {
	TrySubmit(job pipeline.Job) bool
}

// Service is the HTTP ingress service.
type Service struct {
	cfg        *config.Config
	store      session.Store
	decryptor  Decryptor
	dispatcher Submitter
	db         *sql.DB
	metrics    *metrics.Metrics
	log        *logger.Logger
	router     *mux.Router
}

// Options configures the ingress service. Decryptor may be nil when the
// encrypted flow is unconfigured; db may be nil in memory-store deployments.
type Options struct {
	Config     *config.Config
	Store      session.Store
	Decryptor  Decryptor
	Dispatcher Submitter
	DB         *sql.DB
	Metrics    *metrics.Metrics
	Logger     *logger.Logger
}

// New creates the ingress service and mounts its routes.
func New(opts Options) *Service {
	log := opts.Logger
	if log == nil {
		log = logger.NewDefault("httpapi")
	}

	s := &Service{
		cfg:        opts.Config,
		store:      opts.Store,
		decryptor:  opts.Decryptor,
		dispatcher: opts.Dispatcher,
		db:         opts.DB,
		metrics:    opts.Metrics,
		log:        log,
		router:     mux.NewRouter(),
	}
	s.registerRoutes()
	s.applyMiddleware()
	return s
}

// Router returns the configured router.
func (s *Service) Router() *mux.Router {
	return s.router
}

func (s *Service) registerRoutes() {
	r := s.router
	r.HandleFunc("/", s.handleInfo).Methods(http.MethodGet)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/ready", s.handleReady).Methods(http.MethodGet)
	r.HandleFunc("/verify", s.handleVerify).Methods(http.MethodPost)
	r.HandleFunc("/verify/{session_id}", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/verify/{session_id}/cancel", s.handleCancel).Methods(http.MethodPost)
	if s.metrics != nil {
		r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	}
}

func (s *Service) applyMiddleware() {
	s.router.Use(middleware.LoggingMiddleware(s.log))
	s.router.Use(middleware.NewRecoveryMiddleware(s.log).Handler)
	if s.metrics != nil {
		s.router.Use(middleware.MetricsMiddleware("verifier", s.metrics))
	}
	s.router.Use(middleware.NewCORSMiddleware(middleware.CORSConfig{
		AllowedOrigins: s.cfg.CORSOrigins,
	}).Handler)
	if s.cfg.RateLimitRPS > 0 {
		s.router.Use(middleware.NewRateLimiter(s.cfg.RateLimitRPS, s.cfg.RateLimitBurst, s.log).Handler)
	}
	s.router.Use(middleware.NewBodyLimitMiddleware(s.cfg.MaxFileSizeBytes()).Handler)
	s.router.Use(middleware.NewBearerAuthMiddleware(middleware.BearerAuthConfig{
		Token:     s.cfg.VerifierAuthToken,
		SkipPaths: []string{"/", "/health", "/ready", "/metrics"},
	}).Handler)
}
