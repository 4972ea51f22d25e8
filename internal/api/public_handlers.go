package api

import (
	"net/http"

	"github.com/anita5511/oneplace"
	"github.com/anita5511/oneplace/internal/api/presenter"
	"github.com/anita5511/oneplace/internal/buildinfo"
)

// handleHealth responds with a simple OK status to indicate the server is healthy.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	presenter.JSON(w, r, map[string]string{"status": "ok"}, http.StatusOK)
}

// handleVersion responds with service information including version and commit hash.
func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	presenter.JSON(w, r, buildinfo.GetBuildInfo(), http.StatusOK)
}

// handleMe returns the identity carried by the caller's session token.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	id, ok := oneplace.IdentityFromContext(r.Context())
	if !ok {
		presenter.Error(w, r, "Unauthorized", http.StatusUnauthorized)
		return
	}
	presenter.JSON(w, r, id, http.StatusOK)
}
