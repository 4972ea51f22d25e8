package api

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anita5511/oneplace"
	"github.com/anita5511/oneplace/internal/content"
	"github.com/anita5511/oneplace/internal/preferences"
)

const (
	idpIssuer   = "https://idp.example.test"
	idpAudience = "client-123.apps.example.test"
	idpKeyID    = "test-key"
)

var sessionSecret = []byte("0123456789abcdef0123456789abcdef")

// identityProvider publishes a JWKS and signs assertions with its key.
type identityProvider struct {
	key     *rsa.PrivateKey
	jwksURL string
}

func newIdentityProvider(t *testing.T) *identityProvider {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	pub, err := jwk.PublicKeyOf(key)
	require.NoError(t, err)
	require.NoError(t, pub.Set(jwk.KeyIDKey, idpKeyID))
	require.NoError(t, pub.Set(jwk.AlgorithmKey, jwa.RS256))
	set := jwk.NewSet()
	require.NoError(t, set.AddKey(pub))
	payload, err := json.Marshal(set)
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(payload)
	}))
	t.Cleanup(srv.Close)
	return &identityProvider{key: key, jwksURL: srv.URL}
}

func (p *identityProvider) assertion(t *testing.T, sub string, exp time.Time) string {
	t.Helper()
	tok, err := jwt.NewBuilder().
		Issuer(idpIssuer).
		Subject(sub).
		Audience([]string{idpAudience}).
		IssuedAt(time.Now()).
		Expiration(exp).
		Claim("email", "ada@example.com").
		Claim("name", "Ada Lovelace").
		Claim("picture", "https://img.example.test/ada.png").
		Build()
	require.NoError(t, err)

	priv, err := jwk.FromRaw(p.key)
	require.NoError(t, err)
	require.NoError(t, priv.Set(jwk.KeyIDKey, idpKeyID))
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.RS256, priv))
	require.NoError(t, err)
	return string(signed)
}

type stubSource struct {
	mu   sync.Mutex
	body json.RawMessage
	err  error
	args []string
}

func (s *stubSource) fetch(arg string) (json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.args = append(s.args, arg)
	return s.body, s.err
}

func (s *stubSource) lastArg() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.args) == 0 {
		return ""
	}
	return s.args[len(s.args)-1]
}

type stubNews struct{ *stubSource }

func (s stubNews) TopHeadlines(_ context.Context, category string) (json.RawMessage, error) {
	return s.fetch(category)
}

type stubWeather struct{ *stubSource }

func (s stubWeather) Current(_ context.Context, location string) (json.RawMessage, error) {
	return s.fetch(location)
}

type testEnv struct {
	idp      *identityProvider
	verifier *oneplace.Verifier
	handler  http.Handler
	store    *preferences.MemoryStore
	news     *stubSource
	weather  *stubSource
	gateway  *oneplace.Gateway
	now      time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	idp := newIdentityProvider(t)

	verifier, err := oneplace.NewVerifier(context.Background(), oneplace.VerifierConfig{
		Providers: []oneplace.ProviderConfig{{
			Name:     "google",
			Mode:     oneplace.ModeJWKS,
			JWKSURL:  idp.jwksURL,
			Issuer:   idpIssuer,
			Audience: idpAudience,
		}},
	})
	require.NoError(t, err)

	gateway, err := oneplace.NewGateway(oneplace.SessionConfig{Secret: sessionSecret})
	require.NoError(t, err)

	env := &testEnv{
		idp:      idp,
		verifier: verifier,
		store:    preferences.NewMemoryStore(),
		news:     &stubSource{body: json.RawMessage(`{"articles":[{"title":"live"}]}`)},
		weather:  &stubSource{body: json.RawMessage(`{"name":"live"}`)},
		gateway:  gateway,
		now:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	env.handler = NewServer(Options{
		Verifier:    verifier,
		Gateway:     gateway,
		Preferences: preferences.NewService(env.store),
		News:        stubNews{env.news},
		Weather:     stubWeather{env.weather},
		CORSOrigins: []string{"http://localhost:5173"},
		Now:         func() time.Time { return env.now },
	}).Routes()
	return env
}

func (e *testEnv) do(t *testing.T, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, r)
	return w
}

func (e *testEnv) login(t *testing.T, sub string) string {
	t.Helper()
	w := e.do(t, http.MethodPost, "/auth/google", "", `{"token":"`+e.idp.assertion(t, sub, time.Now().Add(time.Hour))+`"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp LoginResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)
	return resp.Token
}

// session mints a token without going through the login route.
func (e *testEnv) session(t *testing.T, g *oneplace.Gateway, sub string) string {
	t.Helper()
	claims, err := e.verifier.Verify(context.Background(), e.idp.assertion(t, sub, time.Now().Add(time.Hour)), "google")
	require.NoError(t, err)
	tok, err := g.Mint(claims)
	require.NoError(t, err)
	return tok.Value
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	return body
}

func TestLogin(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/auth/google", "", `{"token":"`+env.idp.assertion(t, "user-1", time.Now().Add(time.Hour))+`"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp LoginResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, LoginUser{
		Name:    "Ada Lovelace",
		Email:   "ada@example.com",
		Picture: "https://img.example.test/ada.png",
	}, resp.User)

	id, err := env.gateway.Authenticate(resp.Token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", id.SubjectID)

	// first login seeds the preferences
	stored, ok, err := env.store.Get(context.Background(), "user-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, preferences.Seed(), stored)
}

func TestLoginRejections(t *testing.T) {
	env := newTestEnv(t)
	other := newIdentityProvider(t)

	tests := map[string]struct {
		path   string
		body   string
		status int
		error  string
	}{
		"expired assertion": {
			path:   "/auth/google",
			body:   `{"token":"` + env.idp.assertion(t, "user-1", time.Now().Add(-time.Hour)) + `"}`,
			status: http.StatusUnauthorized,
			error:  "Invalid token",
		},
		"foreign signer": {
			path:   "/auth/google",
			body:   `{"token":"` + other.assertion(t, "user-1", time.Now().Add(time.Hour)) + `"}`,
			status: http.StatusUnauthorized,
			error:  "Invalid token",
		},
		"empty token": {
			path:   "/auth/google",
			body:   `{"token":""}`,
			status: http.StatusUnauthorized,
			error:  "Invalid token",
		},
		"unknown provider": {
			path:   "/auth/github",
			body:   `{"token":"` + env.idp.assertion(t, "user-1", time.Now().Add(time.Hour)) + `"}`,
			status: http.StatusUnauthorized,
			error:  "Invalid token",
		},
		"malformed json": {
			path:   "/auth/google",
			body:   `{"token":`,
			status: http.StatusBadRequest,
			error:  "invalid request payload",
		},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, tt.path, "", tt.body)
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.error, decodeBody(t, w)["error"])
		})
	}

	_, ok, err := env.store.Get(context.Background(), "user-1")
	require.NoError(t, err)
	assert.False(t, ok, "failed logins must not seed preferences")
}

func TestProtectedRoutes(t *testing.T) {
	env := newTestEnv(t)

	past, err := oneplace.NewGateway(oneplace.SessionConfig{
		Secret: sessionSecret,
		Now:    func() time.Time { return time.Now().Add(-48 * time.Hour) },
	})
	require.NoError(t, err)
	expired := env.session(t, past, "user-1")

	foreign, err := oneplace.NewGateway(oneplace.SessionConfig{Secret: []byte("ffffffffffffffffffffffffffffffff")})
	require.NoError(t, err)
	forged := env.session(t, foreign, "user-1")

	routes := []string{"/api/me", "/api/preferences", "/api/news", "/api/weather"}
	for _, route := range routes {
		t.Run(route, func(t *testing.T) {
			w := env.do(t, http.MethodGet, route, "", "")
			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Equal(t, "Unauthorized", decodeBody(t, w)["error"])

			// expired and forged tokens are indistinguishable to the caller
			for _, token := range []string{"not.a.token", expired, forged} {
				w = env.do(t, http.MethodGet, route, token, "")
				assert.Equal(t, http.StatusForbidden, w.Code)
				assert.Equal(t, "Forbidden", decodeBody(t, w)["error"])
			}
		})
	}
}

func TestMe(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t, "user-7")

	w := env.do(t, http.MethodGet, "/api/me", token, "")
	require.Equal(t, http.StatusOK, w.Code)

	var id oneplace.Identity
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &id))
	assert.Equal(t, oneplace.Identity{
		SubjectID:   "user-7",
		Email:       "ada@example.com",
		DisplayName: "Ada Lovelace",
		AvatarURL:   "https://img.example.test/ada.png",
	}, id)
}

func TestPreferences(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t, "user-1")

	w := env.do(t, http.MethodGet, "/api/preferences", token, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"newsCategories":["general","technology","business"],"location":"New York","theme":"light"}`, w.Body.String())

	w = env.do(t, http.MethodPost, "/api/preferences", token, `{"location":"Lisbon","theme":"dark","layout":"grid"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success":true}`, w.Body.String())

	w = env.do(t, http.MethodGet, "/api/preferences", token, "")
	assert.JSONEq(t, `{"newsCategories":["general"],"location":"Lisbon","theme":"dark"}`, w.Body.String())

	w = env.do(t, http.MethodPost, "/api/preferences", token, `not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPreferencesEmptyCategories(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t, "user-1")

	w := env.do(t, http.MethodPost, "/api/preferences", token, `{"newsCategories":[],"location":"Oslo","theme":"dark"}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodGet, "/api/preferences", token, "")
	assert.JSONEq(t, `{"newsCategories":[],"location":"Oslo","theme":"dark"}`, w.Body.String())

	env.do(t, http.MethodGet, "/api/news", token, "")
	assert.Equal(t, "general", env.news.lastArg())
}

func TestPreferencesDefaultsWithoutSeed(t *testing.T) {
	env := newTestEnv(t)
	token := env.session(t, env.gateway, "user-9")

	w := env.do(t, http.MethodGet, "/api/preferences", token, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"newsCategories":["general"],"location":"New York","theme":"light"}`, w.Body.String())
}

func TestNews(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t, "user-1")

	w := env.do(t, http.MethodGet, "/api/news?category=science", token, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"articles":[{"title":"live"}]}`, w.Body.String())
	assert.Equal(t, "science", env.news.lastArg())

	env.do(t, http.MethodGet, "/api/news", token, "")
	assert.Equal(t, "general", env.news.lastArg(), "falls back to the first preferred category")

	env.news.mu.Lock()
	env.news.err = errors.New("upstream down")
	env.news.mu.Unlock()

	w = env.do(t, http.MethodGet, "/api/news", token, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, string(content.FallbackNews(env.now)), w.Body.String())
}

func TestWeather(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t, "user-1")

	w := env.do(t, http.MethodGet, "/api/weather?location=Oslo", token, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"name":"live"}`, w.Body.String())
	assert.Equal(t, "Oslo", env.weather.lastArg())

	env.do(t, http.MethodGet, "/api/weather", token, "")
	assert.Equal(t, "New York", env.weather.lastArg())

	env.weather.mu.Lock()
	env.weather.err = content.ErrNoAPIKey
	env.weather.mu.Unlock()

	w = env.do(t, http.MethodGet, "/api/weather?location=Reykjavik", token, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, string(content.FallbackWeather("Reykjavik")), w.Body.String())
}

func TestPublicRoutes(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())

	w = env.do(t, http.MethodGet, "/version", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "oneplace", decodeBody(t, w)["service"])

	w = env.do(t, http.MethodGet, "/nope", "", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Correlation-ID"))
}

func TestCORS(t *testing.T) {
	env := newTestEnv(t)

	r := httptest.NewRequest(http.MethodOptions, "/api/preferences", nil)
	r.Header.Set("Origin", "http://localhost:5173")
	r.Header.Set("Access-Control-Request-Method", http.MethodPost)
	// browsers send the lowercase, comma separated form
	r.Header.Set("Access-Control-Request-Headers", "authorization,content-type")
	w := httptest.NewRecorder()
	env.handler.ServeHTTP(w, r)

	assert.Less(t, w.Code, 300)
	assert.Equal(t, "http://localhost:5173", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))

	r = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	r.Header.Set("Origin", "https://evil.example.test")
	w = httptest.NewRecorder()
	env.handler.ServeHTTP(w, r)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestMetrics(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t, "user-1")
	env.do(t, http.MethodPost, "/auth/github", "", `{"token":"x"}`)
	env.do(t, http.MethodGet, "/api/me", "", "")

	env.news.mu.Lock()
	env.news.err = errors.New("upstream down")
	env.news.mu.Unlock()
	env.do(t, http.MethodGet, "/api/news", token, "")

	w := env.do(t, http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	out := w.Body.String()
	assert.Contains(t, out, `oneplace_logins_total{provider="google",result="success"} 1`)
	assert.Contains(t, out, `oneplace_logins_total{provider="unregistered",result="rejected"} 1`)
	assert.Contains(t, out, `oneplace_session_rejections_total{code="missing_credential"} 1`)
	assert.Contains(t, out, `oneplace_upstream_fallbacks_total{upstream="news"} 1`)
	assert.Contains(t, out, `route="/auth/{provider}"`)
}

func TestMetricsProviderLabelsAreBounded(t *testing.T) {
	env := newTestEnv(t)
	for _, path := range []string{"/auth/attacker-a", "/auth/attacker-b", "/auth/Google"} {
		w := env.do(t, http.MethodPost, path, "", `{"token":""}`)
		require.Equal(t, http.StatusUnauthorized, w.Code)
	}

	out := env.do(t, http.MethodGet, "/metrics", "", "").Body.String()
	assert.Contains(t, out, `oneplace_logins_total{provider="unregistered",result="rejected"} 2`)
	assert.Contains(t, out, `oneplace_logins_total{provider="google",result="rejected"} 1`)
	assert.NotContains(t, out, `attacker`)
	assert.NotContains(t, out, `provider="Google"`)
}
