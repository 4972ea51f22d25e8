package oneplace

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"
)

func TestGoogleIntegration(t *testing.T) {
	if os.Getenv("RUN_INTEGRATION_TESTS") != "true" {
		t.Skip("RUN_INTEGRATION_TESTS not set to true")
	}

	audience := strings.TrimSpace(os.Getenv("GOOGLE_CLIENT_ID"))
	if audience == "" {
		t.Fatal("GOOGLE_CLIENT_ID environment variable required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	assertion := strings.TrimSpace(os.Getenv("GOOGLE_ID_TOKEN"))
	if assertion == "" {
		var err error
		assertion, err = NewAssertionSource(nil, AssertionParams{
			ServiceAccount: os.Getenv("GOOGLE_SERVICE_ACCOUNT"),
			IncludeEmail:   true,
		}).Assertion(ctx, audience)
		if err != nil {
			t.Fatalf("Assertion: %v", err)
		}
	}

	verifier, err := NewVerifier(ctx, VerifierConfig{
		Providers: []ProviderConfig{{Name: "google", Audience: audience}},
	})
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	claims, err := verifier.Verify(ctx, assertion, "google")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}

	gateway, err := NewGateway(SessionConfig{Secret: testSecret})
	if err != nil {
		t.Fatalf("NewGateway: %v", err)
	}
	tok, err := gateway.Mint(claims)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	id, err := gateway.Authenticate(tok.Value)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if id.SubjectID != claims.Subject {
		t.Fatalf("subject mismatch: %s != %s", id.SubjectID, claims.Subject)
	}
}
