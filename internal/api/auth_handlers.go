package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/anita5511/oneplace"
	"github.com/anita5511/oneplace/internal/api/presenter"
)

type LoginPayload struct {
	// Token is the identity provider assertion, for Google the ID token
	// returned by the sign-in button.
	Token string `json:"token"`
}

type LoginResponse struct {
	Token string    `json:"token"`
	User  LoginUser `json:"user"`
}

type LoginUser struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Picture string `json:"picture"`
}

// handleLogin exchanges a verified identity provider assertion for a session token.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	provider := mux.Vars(r)["provider"]
	logger := log.Ctx(ctx).With().Str("provider", provider).Logger()

	var payload LoginPayload
	if err := DecodePayload(w, r, &payload, true); err != nil {
		logger.Warn().Err(err).Msg("failed to decode login payload")
		presenter.Error(w, r, "invalid request payload", http.StatusBadRequest)
		return
	}

	claims, err := s.verifier.Verify(ctx, payload.Token, provider)
	if err != nil {
		event := logger.Warn().Err(err).Str("code", string(oneplace.CodeOf(err)))
		var e *oneplace.Error
		if errors.As(err, &e) {
			event = event.Str("reason", string(e.Reason))
		}
		event.Msg("assertion rejected")
		s.metrics.loginResult(providerLabel(provider, err), "rejected")
		presenter.Error(w, r, "Invalid token", http.StatusUnauthorized)
		return
	}

	session, err := s.gateway.Mint(claims)
	if err != nil {
		logger.Error().Err(err).Msg("failed to mint session token")
		s.metrics.loginResult(claims.Provider(), "error")
		presenter.Error(w, r, "internal server error", http.StatusInternalServerError)
		return
	}

	// a login must not fail because the preferences backend is unavailable
	if seeded, err := s.preferences.EnsureSeeded(ctx, session.Identity.SubjectID); err != nil {
		logger.Error().Err(err).Msg("failed to seed preferences")
	} else if seeded {
		logger.Debug().Str("sub", session.Identity.SubjectID).Msg("seeded preferences for new user")
	}

	s.metrics.loginResult(claims.Provider(), "success")
	logger.Info().
		Str("sub", session.Identity.SubjectID).
		Time("expires_at", session.ExpiresAt).
		Msg("session minted")

	presenter.JSON(w, r, LoginResponse{
		Token: session.Value,
		User: LoginUser{
			Name:    session.Identity.DisplayName,
			Email:   session.Identity.Email,
			Picture: session.Identity.AvatarURL,
		},
	}, http.StatusOK)
}

// providerLabel keeps the metric label set bounded: path values are caller
// controlled, so only names the verifier knows are used as labels.
func providerLabel(provider string, err error) string {
	if oneplace.CodeOf(err) == oneplace.ErrCodeProviderNotRegistered {
		return "unregistered"
	}
	return strings.ToLower(strings.TrimSpace(provider))
}
