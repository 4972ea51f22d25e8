package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/anita5511/oneplace/internal/api"
	"github.com/anita5511/oneplace/internal/api/middleware"
	"github.com/anita5511/oneplace/internal/api/presenter"
	"github.com/anita5511/oneplace/internal/config"
)

var (
	loginServer         string
	loginAudience       string
	loginProvider       string
	loginServiceAccount string
	loginTimeout        time.Duration
)

const redCross = "✗"

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Exchange a Google identity token for a session token at a running server",
	Long: `Obtains a Google identity token from Application Default Credentials and
posts it to the login route of a oneplace server. The session token and the
user profile are printed on success.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		audience := strings.TrimSpace(firstNonEmpty(loginAudience, viper.GetString(config.GoogleClientIDKey)))
		if audience == "" {
			return fmt.Errorf("audience is required (via --audience, GOOGLE_CLIENT_ID or .env)")
		}
		u, err := url.Parse(loginServer)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid server URL %q", loginServer)
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), loginTimeout)
		defer cancel()

		assertion, err := fetchAssertion(ctx, audience, firstNonEmpty(loginServiceAccount, os.Getenv("GOOGLE_SERVICE_ACCOUNT")))
		if err != nil {
			return err
		}

		log.Info().Msgf("Exchanging identity token at %q...", u.Host)
		resp, correlationID, err := exchange(ctx, http.DefaultClient, u, loginProvider, assertion)
		if err != nil {
			log.Error().Msgf("%s login failed (correlation ID: %s)", redCross, correlationID)
			log.Error().Msgf("error: %v", err)
			return BeQuietError{}
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	},
}

// exchange posts assertion to the login route of server.
func exchange(ctx context.Context, client *http.Client, server *url.URL, provider, assertion string) (*api.LoginResponse, string, error) {
	body, err := json.Marshal(api.LoginPayload{Token: assertion})
	if err != nil {
		return nil, "", err
	}
	route := strings.Replace(api.LoginRoute, "{provider}", url.PathEscape(provider), 1)
	endpoint := server.JoinPath(route)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewReader(body))
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("calling %s: %w", endpoint.Redacted(), err)
	}
	defer res.Body.Close()

	correlationID := res.Header.Get(middleware.CorrelationIDHeader)
	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, correlationID, fmt.Errorf("reading response: %w", err)
	}

	if res.StatusCode != http.StatusOK {
		var e presenter.ErrorResponse
		if json.Unmarshal(raw, &e) == nil && e.Error != "" {
			return nil, correlationID, fmt.Errorf("server answered %d: %s", res.StatusCode, e.Error)
		}
		return nil, correlationID, fmt.Errorf("server answered %d", res.StatusCode)
	}

	var out api.LoginResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, correlationID, fmt.Errorf("decoding response: %w", err)
	}
	return &out, correlationID, nil
}

func init() {
	rootCmd.AddCommand(loginCmd)

	loginCmd.Flags().StringVar(&loginServer, "server", "http://localhost:3001", "Address of the oneplace server")
	loginCmd.Flags().StringVar(&loginAudience, "audience", "", "Audience of the identity token (env GOOGLE_CLIENT_ID)")
	loginCmd.Flags().StringVar(&loginProvider, "provider", "google", "Provider name of the login route")
	loginCmd.Flags().StringVar(&loginServiceAccount, "service-account", "", "Service account to impersonate (env GOOGLE_SERVICE_ACCOUNT)")
	loginCmd.Flags().DurationVar(&loginTimeout, "timeout", 15*time.Second, "Timeout for the whole exchange")
}
