package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/anita5511/oneplace"
	"github.com/anita5511/oneplace/internal/api/presenter"
	"github.com/anita5511/oneplace/internal/content"
	"github.com/anita5511/oneplace/internal/preferences"
)

// handleNews proxies top headlines. The category comes from the query or the
// caller's first preferred category.
func (s *Server) handleNews(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := log.Ctx(ctx)

	category := strings.TrimSpace(r.URL.Query().Get("category"))
	if category == "" {
		category = s.storedPreferences(ctx).PrimaryCategory()
	}

	if s.news != nil {
		body, err := s.news.TopHeadlines(ctx, category)
		if err == nil {
			presenter.Raw(w, r, body, http.StatusOK)
			return
		}
		upstreamFailure(logger, err).Str("category", category).Msg("news upstream failed, serving fallback")
	}
	s.metrics.fallbackServed("news")
	presenter.Raw(w, r, content.FallbackNews(s.now()), http.StatusOK)
}

// handleWeather proxies current weather. The location comes from the query or
// the caller's preferred location.
func (s *Server) handleWeather(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := log.Ctx(ctx)

	location := strings.TrimSpace(r.URL.Query().Get("location"))
	if location == "" {
		location = s.storedPreferences(ctx).WithFallbacks().Location
	}

	if s.weather != nil {
		body, err := s.weather.Current(ctx, location)
		if err == nil {
			presenter.Raw(w, r, body, http.StatusOK)
			return
		}
		upstreamFailure(logger, err).Str("location", location).Msg("weather upstream failed, serving fallback")
	}
	s.metrics.fallbackServed("weather")
	presenter.Raw(w, r, content.FallbackWeather(location), http.StatusOK)
}

// storedPreferences falls back to defaults when the store cannot be read.
func (s *Server) storedPreferences(ctx context.Context) preferences.Preferences {
	id, _ := oneplace.IdentityFromContext(ctx)
	prefs, err := s.preferences.Get(ctx, id.SubjectID)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("failed to load preferences, using defaults")
		return preferences.Defaults()
	}
	return prefs
}

// upstreamFailure picks the log level: a missing key is a deployment choice,
// everything else is an error.
func upstreamFailure(logger *zerolog.Logger, err error) *zerolog.Event {
	if errors.Is(err, content.ErrNoAPIKey) {
		return logger.Warn().Err(err)
	}
	return logger.Error().Err(err)
}
