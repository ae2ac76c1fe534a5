// Package catalog provides the client for the catalog service's
// next-track endpoint. All queueing and selection policy lives on the
// catalog side; the core only ever asks for the next track.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/edumarques81/jukeboxd/internal/player"
)

const (
	// DefaultTimeout bounds one next-track request.
	DefaultTimeout = 5 * time.Second

	// DefaultRetries is the number of extra attempts after a failed
	// request before the lookup gives up for the tick.
	DefaultRetries = 1

	nextTrackPath = "/jukebox/player/next"
)

// Client asks the catalog service for the next track to play.
type Client struct {
	baseURL    string
	retries    int
	httpClient *http.Client
}

// Option is a functional option for configuring the catalog client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithRetries sets the number of extra attempts per lookup.
func WithRetries(n int) Option {
	return func(c *Client) {
		c.retries = n
	}
}

// NewClient creates a catalog client for the given API base URL
// (e.g. "http://localhost:3001/api").
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		retries: DefaultRetries,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// NextTrack requests the next track. A (nil, nil) return means the
// catalog has nothing to play (HTTP 204). The request is idempotent on
// the catalog side, so failed attempts are retried a bounded number of
// times within the call.
func (c *Client) NextTrack(ctx context.Context) (*player.Track, error) {
	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		track, err := c.nextTrackOnce(ctx)
		if err == nil {
			return track, nil
		}
		lastErr = err
		log.Warn().Err(err).Int("attempt", attempt+1).Msg("Next-track request failed")

		if ctx.Err() != nil {
			break
		}
	}
	return nil, lastErr
}

func (c *Client) nextTrackOnce(ctx context.Context) (*player.Track, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+nextTrackPath, nil)
	if err != nil {
		return nil, fmt.Errorf("building next-track request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("next-track request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var track player.Track
		if err := json.NewDecoder(resp.Body).Decode(&track); err != nil {
			return nil, fmt.Errorf("decoding next-track response: %w", err)
		}
		return &track, nil

	case http.StatusNoContent:
		return nil, nil

	default:
		// drain so the connection can be reused
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("next-track request: unexpected status %d", resp.StatusCode)
	}
}
