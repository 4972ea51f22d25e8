package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/anita5511/oneplace"
	"github.com/anita5511/oneplace/internal/api/middleware"
	"github.com/anita5511/oneplace/internal/api/presenter"
	"github.com/anita5511/oneplace/internal/preferences"
)

// Verifier checks identity provider assertions.
type Verifier interface {
	Verify(ctx context.Context, assertion, providerName string) (*oneplace.Claims, error)
}

// NewsSource returns top headlines for a category as opaque JSON.
type NewsSource interface {
	TopHeadlines(ctx context.Context, category string) (json.RawMessage, error)
}

// WeatherSource returns current conditions for a location as opaque JSON.
type WeatherSource interface {
	Current(ctx context.Context, location string) (json.RawMessage, error)
}

// Options carry the dependencies of a Server.
type Options struct {
	Verifier    Verifier
	Gateway     *oneplace.Gateway
	Preferences *preferences.Service
	News        NewsSource
	Weather     WeatherSource
	CORSOrigins []string
	// Metrics is exposed on the metrics route. Nil means a fresh collector.
	Metrics *Collector
	// Now stamps fallback payloads. Nil means time.Now.
	Now func() time.Time
}

type Server struct {
	verifier    Verifier
	gateway     *oneplace.Gateway
	preferences *preferences.Service
	news        NewsSource
	weather     WeatherSource
	corsOrigins []string
	metrics     *Collector
	now         func() time.Time
}

func NewServer(opts Options) *Server {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetricsCollector()
	}
	return &Server{
		verifier:    opts.Verifier,
		gateway:     opts.Gateway,
		preferences: opts.Preferences,
		news:        opts.News,
		weather:     opts.Weather,
		corsOrigins: opts.CORSOrigins,
		metrics:     opts.Metrics,
		now:         opts.Now,
	}
}

func (s *Server) Routes() http.Handler {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(s.handleNotFound)
	r.MethodNotAllowedHandler = http.HandlerFunc(s.handleMethodNotAllowed)
	r.Use(s.metrics.instrument)

	// public routes
	r.HandleFunc(HealthCheckRoute, s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc(VersionRoute, s.handleVersion).Methods(http.MethodGet)
	r.Handle(MetricsRoute, s.metrics.handler()).Methods(http.MethodGet)

	// assertion exchange
	r.HandleFunc(LoginRoute, s.handleLogin).Methods(http.MethodPost)

	// session routes
	protected := r.PathPrefix(APIParent).Subrouter()
	protected.Use(middleware.RequireSession(s.gateway, s.metrics.sessionRejected))
	protected.HandleFunc(MeRoute, s.handleMe).Methods(http.MethodGet)
	protected.HandleFunc(PreferencesRoute, s.handleGetPreferences).Methods(http.MethodGet)
	protected.HandleFunc(PreferencesRoute, s.handleUpdatePreferences).Methods(http.MethodPost)
	protected.HandleFunc(NewsRoute, s.handleNews).Methods(http.MethodGet)
	protected.HandleFunc(WeatherRoute, s.handleWeather).Methods(http.MethodGet)

	c := cors.New(cors.Options{
		AllowedOrigins:   s.corsOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		ExposedHeaders:   []string{middleware.CorrelationIDHeader},
		AllowCredentials: true,
	})

	return middleware.RecoverMiddleware(
		middleware.CorrelationIDMiddleware(
			middleware.LoggingMiddleware(
				c.Handler(r))))
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	presenter.Error(w, r, "not found", http.StatusNotFound)
}

func (s *Server) handleMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	presenter.Error(w, r, "Method not allowed", http.StatusMethodNotAllowed)
}
