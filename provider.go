package oneplace

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/oauth2"
	"google.golang.org/api/idtoken"
	"google.golang.org/api/impersonate"
)

// SourceFactory builds the token source backing an AssertionSource entry.
type SourceFactory func(ctx context.Context, audience string, params AssertionParams) (oauth2.TokenSource, error)

// AssertionParams selects which Google identity signs an assertion.
type AssertionParams struct {
	ServiceAccount string
	IncludeEmail   bool
	Delegates      []string
}

// AssertionOption customizes a single Assertion call.
type AssertionOption func(*AssertionParams)

// WithServiceAccount impersonates email when minting the assertion.
func WithServiceAccount(email string) AssertionOption {
	return func(p *AssertionParams) {
		p.ServiceAccount = email
	}
}

// WithIncludeEmail controls whether the assertion carries the email claim.
func WithIncludeEmail(include bool) AssertionOption {
	return func(p *AssertionParams) {
		p.IncludeEmail = include
	}
}

// WithDelegates sets the impersonation delegation chain.
func WithDelegates(delegates ...string) AssertionOption {
	return func(p *AssertionParams) {
		p.Delegates = append([]string(nil), delegates...)
	}
}

// AssertionSource obtains Google identity assertions from application default
// credentials, for example to log a CLI or a smoke test into a running
// gateway. Token sources are cached per audience and identity.
type AssertionSource struct {
	factory  SourceFactory
	defaults AssertionParams

	mu      sync.Mutex
	sources map[sourceKey]oauth2.TokenSource
}

type sourceKey struct {
	audience       string
	serviceAccount string
	includeEmail   bool
	delegates      string
}

// NewAssertionSource returns a source using defaults for every call. A nil
// factory selects idtoken or impersonation depending on the parameters.
func NewAssertionSource(factory SourceFactory, defaults AssertionParams) *AssertionSource {
	if factory == nil {
		factory = googleSourceFactory
	}
	defaults.Delegates = append([]string(nil), defaults.Delegates...)
	return &AssertionSource{
		factory:  factory,
		defaults: defaults,
		sources:  make(map[sourceKey]oauth2.TokenSource),
	}
}

// Assertion returns a signed identity assertion for audience.
func (s *AssertionSource) Assertion(ctx context.Context, audience string, opts ...AssertionOption) (string, error) {
	if strings.TrimSpace(audience) == "" {
		return "", errors.New("audience is required")
	}

	params := s.defaults
	params.Delegates = append([]string(nil), s.defaults.Delegates...)
	for _, opt := range opts {
		opt(&params)
	}

	ts, err := s.source(ctx, audience, params)
	if err != nil {
		return "", err
	}
	tok, err := ts.Token()
	if err != nil {
		return "", fmt.Errorf("fetch assertion: %w", err)
	}
	if tok.AccessToken == "" {
		return "", errors.New("empty assertion returned")
	}
	return tok.AccessToken, nil
}

func (s *AssertionSource) source(ctx context.Context, audience string, params AssertionParams) (oauth2.TokenSource, error) {
	key := sourceKey{
		audience:       audience,
		serviceAccount: params.ServiceAccount,
		includeEmail:   params.IncludeEmail,
		delegates:      strings.Join(params.Delegates, ","),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if ts, ok := s.sources[key]; ok {
		return ts, nil
	}

	// cached sources refresh long after the calling request is gone
	ts, err := s.factory(context.WithoutCancel(ctx), audience, params)
	if err != nil {
		return nil, err
	}
	ts = oauth2.ReuseTokenSource(nil, ts)
	s.sources[key] = ts
	return ts, nil
}

func googleSourceFactory(ctx context.Context, audience string, params AssertionParams) (oauth2.TokenSource, error) {
	if params.ServiceAccount == "" {
		return idtoken.NewTokenSource(ctx, audience)
	}
	return impersonate.IDTokenSource(ctx, impersonate.IDTokenConfig{
		Audience:        audience,
		TargetPrincipal: params.ServiceAccount,
		IncludeEmail:    params.IncludeEmail,
		Delegates:       params.Delegates,
	})
}
