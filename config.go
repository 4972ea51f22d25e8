package oneplace

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	defaultClockSkew    = 30 * time.Second
	defaultMinRefresh   = 5 * time.Minute
	defaultHTTPTimeout  = 5 * time.Second
	defaultGoogleIssuer = "https://accounts.google.com"

	// DefaultSessionTTL is the lifetime of a minted session token.
	DefaultSessionTTL = 24 * time.Hour
	// DefaultSessionIssuer is the iss claim of minted session tokens.
	DefaultSessionIssuer = "oneplace"
	// MinSecretLength is the shortest accepted HMAC signing secret, in bytes.
	MinSecretLength = 32
)

// VerifyMode selects how an identity provider's assertions are checked.
type VerifyMode string

const (
	// ModeGoogle validates through google.golang.org/api/idtoken.
	ModeGoogle VerifyMode = "google"
	// ModeJWKS validates against a JWKS URL with an explicit issuer.
	ModeJWKS VerifyMode = "jwks"
	// ModeDiscovery resolves keys through OpenID Connect discovery.
	ModeDiscovery VerifyMode = "discovery"
)

// VerifierConfig describes all identity providers the verifier should trust.
type VerifierConfig struct {
	Providers []ProviderConfig
}

// ProviderConfig contains verification parameters for one identity provider.
type ProviderConfig struct {
	Name        string
	Mode        VerifyMode
	Audience    string
	Issuer      string
	JWKSURL     string
	ClockSkew   time.Duration
	MinRefresh  time.Duration
	HTTPTimeout time.Duration
}

func (c *ProviderConfig) normalize() {
	c.Name = strings.ToLower(strings.TrimSpace(c.Name))
	if c.Mode == "" {
		if c.JWKSURL != "" {
			c.Mode = ModeJWKS
		} else {
			c.Mode = ModeGoogle
		}
	}
	if c.Issuer == "" && c.Mode != ModeJWKS {
		c.Issuer = defaultGoogleIssuer
	}
	if c.ClockSkew <= 0 {
		c.ClockSkew = defaultClockSkew
	}
	if c.MinRefresh <= 0 {
		c.MinRefresh = defaultMinRefresh
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = defaultHTTPTimeout
	}
}

func (c ProviderConfig) validate() error {
	switch {
	case c.Name == "":
		return errors.New("provider name is required")
	case c.Audience == "":
		return errors.New("audience is required")
	}
	switch c.Mode {
	case ModeGoogle, ModeDiscovery:
		return nil
	case ModeJWKS:
		if c.JWKSURL == "" {
			return errors.New("jwks url is required in jwks mode")
		}
		if c.Issuer == "" {
			return errors.New("issuer claim expected value is required")
		}
		return nil
	default:
		return fmt.Errorf("unknown verify mode %q", c.Mode)
	}
}

func (c VerifierConfig) providerIndex() (map[string]ProviderConfig, error) {
	if len(c.Providers) == 0 {
		return nil, errors.New("at least one identity provider must be configured")
	}
	index := make(map[string]ProviderConfig, len(c.Providers))
	for _, p := range c.Providers {
		clone := p
		clone.normalize()
		if err := clone.validate(); err != nil {
			return nil, fmt.Errorf("provider %q: %w", p.Name, err)
		}
		if _, exists := index[clone.Name]; exists {
			return nil, fmt.Errorf("duplicate provider name %q", clone.Name)
		}
		index[clone.Name] = clone
	}
	return index, nil
}

// SessionConfig configures the session gateway.
type SessionConfig struct {
	// Secret is the HMAC key for session tokens. It is never defaulted.
	Secret []byte
	TTL    time.Duration
	Issuer string
	// Now overrides the clock, mainly for tests.
	Now func() time.Time
}

func (c *SessionConfig) normalize() {
	if c.TTL <= 0 {
		c.TTL = DefaultSessionTTL
	}
	if c.Issuer == "" {
		c.Issuer = DefaultSessionIssuer
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

func (c SessionConfig) validate() error {
	if len(c.Secret) == 0 {
		return errors.New("session signing secret is required")
	}
	if len(c.Secret) < MinSecretLength {
		return fmt.Errorf("session signing secret must be at least %d bytes, got %d", MinSecretLength, len(c.Secret))
	}
	return nil
}
