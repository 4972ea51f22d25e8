package oneplace

import "time"

// Claims represents the normalized claims of a verified identity assertion.
type Claims struct {
	Subject   string
	Issuer    string
	Audience  []string
	ExpiresAt time.Time
	IssuedAt  time.Time

	Email         string
	EmailVerified bool
	Name          string
	Picture       string
	CustomClaims  map[string]any

	// provider is set by Verifier once every check passed. Claims built
	// anywhere else carry an empty provider and cannot be minted.
	provider string
}

// Provider returns the name of the provider that verified the claims, or ""
// when the claims were not produced by a Verifier.
func (c *Claims) Provider() string {
	if c == nil {
		return ""
	}
	return c.provider
}

// Identity returns the profile fields carried into a session.
func (c *Claims) Identity() Identity {
	return Identity{
		SubjectID:   c.Subject,
		Email:       c.Email,
		DisplayName: c.Name,
		AvatarURL:   c.Picture,
	}
}

// Identity is the trusted caller identity embedded in a session token and
// attached to a request once the token was authenticated.
type Identity struct {
	SubjectID   string `json:"sub"`
	Email       string `json:"email"`
	DisplayName string `json:"name"`
	AvatarURL   string `json:"picture"`
}
