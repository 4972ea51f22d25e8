package oneplace

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

const (
	claimEmail   = "email"
	claimName    = "name"
	claimPicture = "picture"
)

// SessionToken is a signed, self-describing session credential.
type SessionToken struct {
	Value     string
	Identity  Identity
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Gateway mints session tokens for verified identities and authenticates
// presented tokens. Both operations only read immutable configuration, so a
// single Gateway can serve any number of concurrent requests.
type Gateway struct {
	secret []byte
	ttl    time.Duration
	issuer string
	now    func() time.Time
}

// NewGateway builds a gateway. A missing or short secret is a configuration
// error and should stop the process at startup.
func NewGateway(cfg SessionConfig) (*Gateway, error) {
	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Gateway{
		secret: append([]byte(nil), cfg.Secret...),
		ttl:    cfg.TTL,
		issuer: cfg.Issuer,
		now:    cfg.Now,
	}, nil
}

// TTL returns the fixed lifetime of minted tokens.
func (g *Gateway) TTL() time.Duration {
	return g.ttl
}

// Mint issues a session token for claims returned by Verifier.Verify.
// Claims that did not come out of a successful verification are refused.
func (g *Gateway) Mint(claims *Claims) (*SessionToken, error) {
	if claims.Provider() == "" {
		return nil, newError(ErrCodeInternal, ReasonNone, errors.New("refusing to mint for unverified claims"))
	}

	id := claims.Identity()
	// jwt NumericDate has second precision
	issuedAt := g.now().UTC().Truncate(time.Second)
	expiresAt := issuedAt.Add(g.ttl)

	token, err := jwt.NewBuilder().
		Issuer(g.issuer).
		Subject(id.SubjectID).
		IssuedAt(issuedAt).
		Expiration(expiresAt).
		Claim(claimEmail, id.Email).
		Claim(claimName, id.DisplayName).
		Claim(claimPicture, id.AvatarURL).
		Build()
	if err != nil {
		return nil, newError(ErrCodeInternal, ReasonNone, fmt.Errorf("build session token: %w", err))
	}

	signed, err := jwt.Sign(token, jwt.WithKey(jwa.HS256, g.secret))
	if err != nil {
		return nil, newError(ErrCodeInternal, ReasonNone, fmt.Errorf("sign session token: %w", err))
	}

	return &SessionToken{
		Value:     string(signed),
		Identity:  id,
		IssuedAt:  issuedAt,
		ExpiresAt: expiresAt,
	}, nil
}

// Authenticate verifies the signature and expiry of a presented session token
// and returns the identity it carries.
func (g *Gateway) Authenticate(presented string) (Identity, error) {
	presented = strings.TrimSpace(presented)
	if presented == "" {
		return Identity{}, newError(ErrCodeMissingCredential, ReasonNone, nil)
	}

	token, err := jwt.Parse([]byte(presented),
		jwt.WithKey(jwa.HS256, g.secret),
		jwt.WithValidate(false),
	)
	if err != nil {
		return Identity{}, newError(ErrCodeInvalidCredential, ReasonSignature, err)
	}

	err = jwt.Validate(token,
		jwt.WithClock(jwt.ClockFunc(g.now)),
		jwt.WithIssuer(g.issuer),
		jwt.WithRequiredClaim(jwt.ExpirationKey),
		jwt.WithRequiredClaim(jwt.SubjectKey),
	)
	if err != nil {
		return Identity{}, newError(ErrCodeInvalidCredential, classifyValidateError(err), err)
	}

	id := Identity{SubjectID: token.Subject()}
	id.Email, _ = stringClaim(token, claimEmail)
	id.DisplayName, _ = stringClaim(token, claimName)
	id.AvatarURL, _ = stringClaim(token, claimPicture)
	return id, nil
}

// AuthenticateHeader extracts a bearer credential from an Authorization
// header value and authenticates it. Any scheme other than Bearer counts as
// a missing credential.
func (g *Gateway) AuthenticateHeader(header string) (Identity, error) {
	token, ok := BearerToken(header)
	if !ok {
		return Identity{}, newError(ErrCodeMissingCredential, ReasonNone, nil)
	}
	return g.Authenticate(token)
}

// BearerToken returns the credential of a "Bearer <token>" header value.
func BearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func stringClaim(token jwt.Token, name string) (string, bool) {
	v, ok := token.Get(name)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}
