// Package content proxies the third-party news and weather APIs shown on the
// dashboard. Responses are passed through as opaque JSON.
package content

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultTimeout = 5 * time.Second
	maxBodyBytes   = 4 << 20
)

var (
	// ErrNoAPIKey is returned without contacting the upstream when no key is configured.
	ErrNoAPIKey = errors.New("content: api key not configured")
	// ErrNotJSON is returned when the upstream answers with a body that is not JSON.
	ErrNotJSON = errors.New("content: upstream returned a non-JSON body")
)

// StatusError reports a non-2xx upstream answer.
type StatusError struct {
	Upstream   string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("content: %s returned status %d", e.Upstream, e.StatusCode)
}

// Options configure an upstream client.
type Options struct {
	BaseURL string
	APIKey  string
	// Timeout bounds each call. Zero means five seconds.
	Timeout time.Duration
	// HTTPClient is used for requests. Nil means a client without its own timeout.
	HTTPClient *http.Client
}

type upstream struct {
	name    string
	base    string
	apiKey  string
	timeout time.Duration
	client  *http.Client
}

func newUpstream(name string, opts Options) (*upstream, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("content: %s base url is required", name)
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("content: %s base url: %w", name, err)
	}

	u := &upstream{
		name:    name,
		base:    base,
		apiKey:  strings.TrimSpace(opts.APIKey),
		timeout: opts.Timeout,
		client:  opts.HTTPClient,
	}
	if u.timeout <= 0 {
		u.timeout = defaultTimeout
	}
	if u.client == nil {
		u.client = &http.Client{}
	}
	return u, nil
}

// get issues a GET to base+path with query and returns the body when it is JSON.
func (u *upstream) get(ctx context.Context, path string, query url.Values) (json.RawMessage, error) {
	if u.apiKey == "" {
		return nil, ErrNoAPIKey
	}

	ctx, cancel := context.WithTimeout(ctx, u.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.base+path+"?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("content: build %s request: %w", u.name, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := u.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("content: call %s: %w", u.name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("content: read %s response: %w", u.name, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Upstream: u.name, StatusCode: resp.StatusCode}
	}
	if !json.Valid(body) {
		return nil, ErrNotJSON
	}
	return json.RawMessage(body), nil
}
