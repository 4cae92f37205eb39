// Package playstats is an HTTP client for the watch-activity service
// (Tautulli-style) that tracks play counts and last-watched times per
// library item.
package playstats

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"custodian-hq/custodian/pkg/rules"
)

// Activity is the watch history summary for one item.
type Activity struct {
	ExternalID    string     `json:"external_id"`
	PlayCount     int        `json:"play_count"`
	LastWatchedAt *time.Time `json:"last_watched_at,omitempty"`

	// SeriesID is set on episode activity so series-level rules can
	// aggregate over episodes.
	SeriesID string `json:"series_id,omitempty"`
}

// UnavailableError means the watch-activity service could not be
// reached or answered with an error. Listings proceed without watch
// data when this happens.
type UnavailableError struct {
	Endpoint string
	Cause    error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("playstats unavailable [endpoint=%s]: %v", e.Endpoint, e.Cause)
}

func (e *UnavailableError) Unwrap() error {
	return e.Cause
}

// Client talks to one watch-activity service.
type Client struct {
	base  string
	token string
	http  *http.Client
}

// Config configures a playstats client.
type Config struct {
	// BaseURL is the service root, e.g. "http://tautulli:8181".
	BaseURL string

	// Token is sent as a bearer token on every request.
	Token string

	// Timeout bounds each request. Default: 15 seconds.
	Timeout time.Duration
}

// New creates a watch-activity client.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		base:  strings.TrimRight(cfg.BaseURL, "/"),
		token: cfg.Token,
		http:  &http.Client{Timeout: timeout},
	}
}

// WatchActivity returns per-item watch summaries for a media type,
// keyed by external ID.
func (c *Client) WatchActivity(ctx context.Context, mediaType rules.MediaType) (map[string]Activity, error) {
	endpoint := "/api/v1/watch-activity?media_type=" + string(mediaType)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+endpoint, nil)
	if err != nil {
		return nil, &UnavailableError{Endpoint: endpoint, Cause: err}
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return nil, &UnavailableError{Endpoint: endpoint, Cause: err}
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return nil, &UnavailableError{
			Endpoint: endpoint,
			Cause:    fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(msg))),
		}
	}

	var payload struct {
		Items []Activity `json:"items"`
	}
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		return nil, &UnavailableError{Endpoint: endpoint, Cause: err}
	}

	out := make(map[string]Activity, len(payload.Items))
	for _, a := range payload.Items {
		out[a.ExternalID] = a
	}
	return out, nil
}
