package oneplace

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"google.golang.org/api/idtoken"
)

var googleValidate = idtoken.Validate

// Verifier validates identity assertions issued by the configured providers.
// It holds no mutable state after construction and is safe for concurrent use.
type Verifier struct {
	providers       map[string]*providerState
	defaultProvider string
}

type providerState struct {
	cfg   ProviderConfig
	cache *jwk.Cache
	oidc  *oidc.IDTokenVerifier
}

// NewVerifier builds a verifier from the given configuration. Providers in
// discovery mode fetch their OpenID configuration here, so ctx bounds that call.
func NewVerifier(ctx context.Context, cfg VerifierConfig) (*Verifier, error) {
	index, err := cfg.providerIndex()
	if err != nil {
		return nil, err
	}

	v := &Verifier{providers: make(map[string]*providerState, len(index))}
	if len(index) == 1 {
		for name := range index {
			v.defaultProvider = name
		}
	}

	for name, pcfg := range index {
		state := &providerState{cfg: pcfg}
		httpClient := &http.Client{
			Timeout:   pcfg.HTTPTimeout,
			Transport: &http.Transport{Proxy: http.ProxyFromEnvironment},
		}
		switch pcfg.Mode {
		case ModeJWKS:
			cache := jwk.NewCache(context.WithoutCancel(ctx))
			if err := cache.Register(
				pcfg.JWKSURL,
				jwk.WithMinRefreshInterval(pcfg.MinRefresh),
				jwk.WithHTTPClient(httpClient),
			); err != nil {
				return nil, fmt.Errorf("register jwks for %q: %w", name, err)
			}
			state.cache = cache
		case ModeDiscovery:
			// the key set keeps using this context after construction
			oidcCtx := oidc.ClientContext(context.WithoutCancel(ctx), httpClient)
			provider, err := oidc.NewProvider(oidcCtx, pcfg.Issuer)
			if err != nil {
				return nil, fmt.Errorf("discover provider %q: %w", name, err)
			}
			state.oidc = provider.Verifier(&oidc.Config{ClientID: pcfg.Audience})
		}
		v.providers[name] = state
	}
	return v, nil
}

// Providers returns the names of all registered providers, sorted.
func (v *Verifier) Providers() []string {
	names := make([]string, 0, len(v.providers))
	for name := range v.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Warmup fetches the signing keys of the named provider ahead of the first request.
func (v *Verifier) Warmup(ctx context.Context, providerName string) error {
	state, ok := v.lookup(providerName)
	if !ok {
		return newError(ErrCodeProviderNotRegistered, ReasonNone, fmt.Errorf("provider %q not found", providerName))
	}
	if state.cache == nil {
		return nil
	}
	refreshCtx, cancel := context.WithTimeout(ctx, state.cfg.HTTPTimeout)
	defer cancel()
	if _, err := state.cache.Refresh(refreshCtx, state.cfg.JWKSURL); err != nil {
		return newError(ErrCodeKeysUnavailable, ReasonNone, err)
	}
	return nil
}

// Verify checks signature, issuer, audience and expiry of assertion against
// the named provider and returns its claims. An empty providerName selects the
// only provider when exactly one is configured.
func (v *Verifier) Verify(ctx context.Context, assertion, providerName string) (*Claims, error) {
	state, ok := v.lookup(providerName)
	if !ok {
		return nil, newError(ErrCodeProviderNotRegistered, ReasonNone, fmt.Errorf("provider %q not found", providerName))
	}
	if strings.TrimSpace(assertion) == "" {
		return nil, newError(ErrCodeInvalidAssertion, ReasonMalformed, errors.New("assertion is empty"))
	}

	var (
		claims *Claims
		err    error
	)
	switch state.cfg.Mode {
	case ModeGoogle:
		claims, err = state.verifyGoogle(ctx, assertion)
	case ModeDiscovery:
		claims, err = state.verifyDiscovery(ctx, assertion)
	default:
		claims, err = state.verifyJWKS(ctx, assertion)
	}
	if err != nil {
		return nil, err
	}
	if claims.Subject == "" {
		return nil, newError(ErrCodeInvalidAssertion, ReasonClaims, errors.New("assertion has no subject"))
	}
	claims.provider = state.cfg.Name
	return claims, nil
}

func (v *Verifier) lookup(name string) (*providerState, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = v.defaultProvider
	}
	state, ok := v.providers[name]
	return state, ok
}

func (s *providerState) verifyJWKS(ctx context.Context, assertion string) (*Claims, error) {
	keySet, err := s.cache.Get(ctx, s.cfg.JWKSURL)
	if err != nil {
		return nil, newError(ErrCodeKeysUnavailable, ReasonNone, err)
	}

	parsed, err := jwt.Parse([]byte(assertion), jwt.WithKeySet(keySet), jwt.WithValidate(false))
	if err != nil {
		return nil, newError(ErrCodeInvalidAssertion, ReasonSignature, err)
	}

	err = jwt.Validate(parsed,
		jwt.WithAcceptableSkew(s.cfg.ClockSkew),
		jwt.WithIssuer(s.cfg.Issuer),
		jwt.WithAudience(s.cfg.Audience),
		jwt.WithRequiredClaim(jwt.ExpirationKey),
	)
	if err != nil {
		return nil, newError(ErrCodeInvalidAssertion, classifyValidateError(err), err)
	}
	return claimsFromJWT(parsed), nil
}

func (s *providerState) verifyGoogle(ctx context.Context, assertion string) (*Claims, error) {
	validateCtx, cancel := context.WithTimeout(ctx, s.cfg.HTTPTimeout)
	defer cancel()

	payload, err := googleValidate(validateCtx, assertion, s.cfg.Audience)
	if err != nil {
		return nil, mapGoogleError(err)
	}
	if !sameIssuer(payload.Issuer, s.cfg.Issuer) {
		return nil, newError(ErrCodeInvalidAssertion, ReasonIssuer,
			fmt.Errorf("issuer mismatch: got %s, want %s", payload.Issuer, s.cfg.Issuer))
	}
	return claimsFromGooglePayload(payload), nil
}

func (s *providerState) verifyDiscovery(ctx context.Context, assertion string) (*Claims, error) {
	token, err := s.oidc.Verify(ctx, assertion)
	if err != nil {
		return nil, mapOIDCError(err)
	}

	var raw struct {
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
		Name          string `json:"name"`
		Picture       string `json:"picture"`
	}
	if err := token.Claims(&raw); err != nil {
		return nil, newError(ErrCodeInvalidAssertion, ReasonClaims, err)
	}
	var custom map[string]any
	if err := token.Claims(&custom); err != nil {
		return nil, newError(ErrCodeInvalidAssertion, ReasonClaims, err)
	}

	return &Claims{
		Subject:       token.Subject,
		Issuer:        token.Issuer,
		Audience:      append([]string(nil), token.Audience...),
		ExpiresAt:     token.Expiry.UTC(),
		IssuedAt:      token.IssuedAt.UTC(),
		Email:         strings.ToLower(raw.Email),
		EmailVerified: raw.EmailVerified,
		Name:          raw.Name,
		Picture:       raw.Picture,
		CustomClaims:  custom,
	}, nil
}

// sameIssuer accounts for Google issuing both "accounts.google.com" and
// "https://accounts.google.com".
func sameIssuer(got, want string) bool {
	trim := func(s string) string { return strings.TrimPrefix(strings.ToLower(s), "https://") }
	return trim(got) == trim(want)
}

func claimsFromJWT(token jwt.Token) *Claims {
	private := token.PrivateClaims()
	claims := &Claims{
		Subject:   token.Subject(),
		Issuer:    token.Issuer(),
		Audience:  append([]string(nil), token.Audience()...),
		ExpiresAt: token.Expiration(),
		IssuedAt:  token.IssuedAt(),
	}
	if len(private) > 0 {
		claims.CustomClaims = make(map[string]any, len(private))
		for k, v := range private {
			claims.CustomClaims[k] = v
		}
	}
	applyProfile(claims, private)
	return claims
}

func claimsFromGooglePayload(payload *idtoken.Payload) *Claims {
	claims := &Claims{
		Subject:   payload.Subject,
		Issuer:    payload.Issuer,
		ExpiresAt: time.Unix(payload.Expires, 0).UTC(),
		IssuedAt:  time.Unix(payload.IssuedAt, 0).UTC(),
	}
	if payload.Audience != "" {
		claims.Audience = []string{payload.Audience}
	}
	if payload.Claims != nil {
		claims.CustomClaims = make(map[string]any, len(payload.Claims))
		for k, v := range payload.Claims {
			claims.CustomClaims[k] = v
		}
	}
	applyProfile(claims, payload.Claims)
	return claims
}

func applyProfile(claims *Claims, values map[string]any) {
	if s, ok := values["email"].(string); ok {
		claims.Email = strings.ToLower(s)
	}
	if s, ok := values["name"].(string); ok {
		claims.Name = s
	}
	if s, ok := values["picture"].(string); ok {
		claims.Picture = s
	}
	switch v := values["email_verified"].(type) {
	case bool:
		claims.EmailVerified = v
	case string:
		claims.EmailVerified = v == "true"
	}
}

func classifyValidateError(err error) Reason {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired()):
		return ReasonExpired
	case errors.Is(err, jwt.ErrTokenNotYetValid()):
		return ReasonNotYetValid
	case errors.Is(err, jwt.ErrInvalidAudience()):
		return ReasonAudience
	case errors.Is(err, jwt.ErrInvalidIssuer()):
		return ReasonIssuer
	}
	lower := strings.ToLower(err.Error())
	switch {
	case strings.Contains(lower, `"exp" not satisfied`):
		return ReasonExpired
	case strings.Contains(lower, `"nbf" not satisfied`):
		return ReasonNotYetValid
	}
	return ReasonClaims
}

func mapGoogleError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return newError(ErrCodeKeysUnavailable, ReasonNone, err)
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "audience provided does not match"):
		return newError(ErrCodeInvalidAssertion, ReasonAudience, err)
	case strings.Contains(msg, "token expired"):
		return newError(ErrCodeInvalidAssertion, ReasonExpired, err)
	case strings.Contains(msg, "could not find matching cert"),
		strings.Contains(msg, "invalid token"):
		return newError(ErrCodeInvalidAssertion, ReasonSignature, err)
	case strings.Contains(msg, "unable to decode JWT"):
		return newError(ErrCodeInvalidAssertion, ReasonMalformed, err)
	}
	return newError(ErrCodeInvalidAssertion, ReasonNone, err)
}

func mapOIDCError(err error) error {
	var expired *oidc.TokenExpiredError
	if errors.As(err, &expired) {
		return newError(ErrCodeInvalidAssertion, ReasonExpired, err)
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "expected audience"):
		return newError(ErrCodeInvalidAssertion, ReasonAudience, err)
	case strings.Contains(msg, "id token issued by a different provider"):
		return newError(ErrCodeInvalidAssertion, ReasonIssuer, err)
	case strings.Contains(msg, "malformed jwt"):
		return newError(ErrCodeInvalidAssertion, ReasonMalformed, err)
	case strings.Contains(msg, "failed to verify signature"):
		return newError(ErrCodeInvalidAssertion, ReasonSignature, err)
	case strings.Contains(msg, "fetching keys"):
		return newError(ErrCodeKeysUnavailable, ReasonNone, err)
	}
	return newError(ErrCodeInvalidAssertion, ReasonNone, err)
}
