package middleware

import (
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/anita5511/oneplace"
	"github.com/anita5511/oneplace/internal/api/presenter"
)

// Authenticator resolves the Authorization header of a request.
type Authenticator interface {
	AuthenticateHeader(header string) (oneplace.Identity, error)
}

// RequireSession rejects requests without a valid session token and binds the
// authenticated identity into the request context. A missing credential
// answers 401, anything else answers 403 with the same body for expired and
// forged tokens. observe, when set, is called with the code of every rejection.
func RequireSession(auth Authenticator, observe func(oneplace.ErrorCode)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := auth.AuthenticateHeader(r.Header.Get("Authorization"))
			if err != nil {
				event := log.Ctx(r.Context()).Warn().Err(err).Str("code", string(oneplace.CodeOf(err)))
				var e *oneplace.Error
				if errors.As(err, &e) && e.Reason != oneplace.ReasonNone {
					event = event.Str("reason", string(e.Reason))
				}
				event.Msg("session rejected")

				code := oneplace.CodeOf(err)
				if observe != nil {
					observe(code)
				}
				if code == oneplace.ErrCodeMissingCredential {
					presenter.Error(w, r, "Unauthorized", http.StatusUnauthorized)
					return
				}
				presenter.Error(w, r, "Forbidden", http.StatusForbidden)
				return
			}

			ctx := oneplace.BindIdentity(r.Context(), id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
