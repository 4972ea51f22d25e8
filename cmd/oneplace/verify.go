package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/anita5511/oneplace"
	"github.com/anita5511/oneplace/internal/config"
)

var (
	verifyToken          string
	verifyAudience       string
	verifyServiceAccount string
	verifyTimeout        time.Duration
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify an identity token locally and print its claims",
	Long: `Runs the same identity verification the server applies on login.
Without --token an identity token is obtained from Application Default
Credentials, optionally impersonating --service-account.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		audience := strings.TrimSpace(firstNonEmpty(verifyAudience, viper.GetString(config.GoogleClientIDKey)))
		if audience == "" {
			return fmt.Errorf("audience is required (via --audience, GOOGLE_CLIENT_ID or .env)")
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), verifyTimeout)
		defer cancel()

		// .env is exported after flag parsing, so environment fallbacks are read here
		token := strings.TrimSpace(firstNonEmpty(verifyToken, os.Getenv("GOOGLE_ID_TOKEN")))
		if token == "" {
			tok, err := fetchAssertion(ctx, audience, firstNonEmpty(verifyServiceAccount, os.Getenv("GOOGLE_SERVICE_ACCOUNT")))
			if err != nil {
				return err
			}
			token = tok
		}

		verifier, err := oneplace.NewVerifier(ctx, oneplace.VerifierConfig{
			Providers: []oneplace.ProviderConfig{{
				Name:     "google",
				Mode:     oneplace.VerifyMode(strings.ToLower(viper.GetString(config.GoogleVerifyModeKey))),
				Audience: audience,
				Issuer:   viper.GetString(config.GoogleIssuerKey),
				JWKSURL:  viper.GetString(config.GoogleJWKSURLKey),
			}},
		})
		if err != nil {
			return fmt.Errorf("create verifier: %w", err)
		}

		claims, err := verifier.Verify(ctx, token, "google")
		if err != nil {
			return fmt.Errorf("verification failed: %w", err)
		}

		printClaims(cmd.OutOrStdout(), claims)
		return nil
	},
}

// fetchAssertion obtains a Google identity token for audience from ADC.
func fetchAssertion(ctx context.Context, audience, serviceAccount string) (string, error) {
	source := oneplace.NewAssertionSource(nil, oneplace.AssertionParams{
		ServiceAccount: serviceAccount,
		IncludeEmail:   true,
	})
	tok, err := source.Assertion(ctx, audience)
	if err != nil {
		return "", fmt.Errorf("obtain identity token: %w (check ADC or GOOGLE_APPLICATION_CREDENTIALS, impersonation needs roles/iam.serviceAccountTokenCreator)", err)
	}
	log.Info().Msg("acquired Google identity token from application default credentials")
	return tok, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func printClaims(w io.Writer, claims *oneplace.Claims) {
	fmt.Fprintln(w, "== Identity Token Verified ==")
	fmt.Fprintf(w, "provider     : %s\n", claims.Provider())
	fmt.Fprintf(w, "subject      : %s\n", claims.Subject)
	fmt.Fprintf(w, "email        : %s (verified: %t)\n", claims.Email, claims.EmailVerified)
	fmt.Fprintf(w, "name         : %s\n", claims.Name)
	fmt.Fprintf(w, "issuer       : %s\n", claims.Issuer)
	fmt.Fprintf(w, "audience     : %s\n", strings.Join(claims.Audience, ", "))
	if !claims.ExpiresAt.IsZero() {
		fmt.Fprintf(w, "expires_at   : %s\n", claims.ExpiresAt.Format(time.RFC3339))
	}
	if len(claims.CustomClaims) > 0 {
		keys := make([]string, 0, len(claims.CustomClaims))
		for k := range claims.CustomClaims {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Fprintln(w, "custom_claims:")
		for _, k := range keys {
			fmt.Fprintf(w, "  %s: %v\n", k, claims.CustomClaims[k])
		}
	}
}

func init() {
	rootCmd.AddCommand(verifyCmd)

	verifyCmd.Flags().StringVar(&verifyToken, "token", "", "Existing ID token (env GOOGLE_ID_TOKEN)")
	verifyCmd.Flags().StringVar(&verifyServiceAccount, "service-account", "", "Service account to impersonate (env GOOGLE_SERVICE_ACCOUNT)")
	verifyCmd.Flags().DurationVar(&verifyTimeout, "timeout", 10*time.Second, "Timeout for token fetch and verification")

	verifyCmd.Flags().StringVar(&verifyAudience, "audience", "", "Expected audience (env GOOGLE_CLIENT_ID)")

	verifyCmd.Flags().String("mode", "", "Verification mode: google, jwks or discovery (env GOOGLE_VERIFY_MODE)")
	_ = viper.BindPFlag(config.GoogleVerifyModeKey, verifyCmd.Flags().Lookup("mode"))

	verifyCmd.Flags().String("jwks-url", "", "JWKS URL for jwks mode (env GOOGLE_JWKS_URL)")
	_ = viper.BindPFlag(config.GoogleJWKSURLKey, verifyCmd.Flags().Lookup("jwks-url"))

	verifyCmd.Flags().String("issuer", "", "Expected issuer (env GOOGLE_ISSUER)")
	_ = viper.BindPFlag(config.GoogleIssuerKey, verifyCmd.Flags().Lookup("issuer"))
}
