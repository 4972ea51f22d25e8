package api

import (
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/anita5511/oneplace"
	"github.com/anita5511/oneplace/internal/api/presenter"
	"github.com/anita5511/oneplace/internal/preferences"
)

func (s *Server) handleGetPreferences(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, _ := oneplace.IdentityFromContext(ctx)

	prefs, err := s.preferences.Get(ctx, id.SubjectID)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to load preferences")
		presenter.Error(w, r, "failed to load preferences", http.StatusInternalServerError)
		return
	}
	presenter.JSON(w, r, prefs, http.StatusOK)
}

func (s *Server) handleUpdatePreferences(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := log.Ctx(ctx)
	id, _ := oneplace.IdentityFromContext(ctx)

	// the dashboard posts its whole preferences object, unknown keys included
	var prefs preferences.Preferences
	if err := DecodePayload(w, r, &prefs, false); err != nil {
		logger.Warn().Err(err).Msg("failed to decode preferences payload")
		presenter.Error(w, r, "invalid request payload", http.StatusBadRequest)
		return
	}

	if _, err := s.preferences.Update(ctx, id.SubjectID, prefs); err != nil {
		logger.Error().Err(err).Msg("failed to store preferences")
		presenter.Error(w, r, "failed to store preferences", http.StatusInternalServerError)
		return
	}
	presenter.JSON(w, r, map[string]bool{"success": true}, http.StatusOK)
}
