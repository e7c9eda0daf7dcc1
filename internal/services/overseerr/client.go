package overseerr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/amaumene/reclaimarr/internal/models"
	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
)

// MediaKind is the Overseerr media kind
type MediaKind string

const (
	MediaKindMovie MediaKind = "movie"
	MediaKindTV    MediaKind = "tv"
)

// Request is a media request
type Request struct {
	ID     int `json:"id"`
	Status int `json:"status"`
}

type mediaDetails struct {
	MediaInfo *struct {
		ID       int       `json:"id"`
		Requests []Request `json:"requests"`
	} `json:"mediaInfo"`
}

// Client handles communication with Overseerr
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	newBackOff func() backoff.BackOff
	logger     *logrus.Logger
}

// NewClient creates a new Overseerr client
func NewClient(baseURL, apiKey string, logger *logrus.Logger) *Client {
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxElapsedTime = 15 * time.Second
			return backoff.WithMaxRetries(b, 3)
		},
		logger: logger,
	}
}

// FindRequests returns every request referencing the tmdb id. Unknown media yields no requests.
func (c *Client) FindRequests(ctx context.Context, tmdbID string, kind MediaKind) ([]Request, error) {
	id, err := strconv.Atoi(tmdbID)
	if err != nil || id <= 0 {
		return nil, fmt.Errorf("%w: %q", models.ErrMissingExternalID, tmdbID)
	}

	var details mediaDetails
	err = c.doRequest(ctx, http.MethodGet, fmt.Sprintf("/api/v1/%s/%d", kind, id), &details)
	if errors.Is(err, models.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if details.MediaInfo == nil {
		return nil, nil
	}
	return details.MediaInfo.Requests, nil
}

// DeleteRequest removes a request
func (c *Client) DeleteRequest(ctx context.Context, requestID int) error {
	return c.doRequest(ctx, http.MethodDelete, fmt.Sprintf("/api/v1/request/%d", requestID), nil)
}

// doRequest performs an API request, retrying transient failures
func (c *Client) doRequest(ctx context.Context, method, path string, result interface{}) error {
	operation := func() error {
		c.logger.WithFields(logrus.Fields{
			"method": method,
			"path":   path,
		}).Debug("Making Overseerr request")

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		req.Header.Set("X-Api-Key", c.apiKey)
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("%w: overseerr: %v", models.ErrServerOffline, err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return backoff.Permanent(fmt.Errorf("%w: overseerr", models.ErrAuthFailed))
		case resp.StatusCode == http.StatusNotFound:
			return backoff.Permanent(models.ErrNotFound)
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			bodyBytes, _ := io.ReadAll(resp.Body)
			return fmt.Errorf("overseerr request failed with status %d: %s", resp.StatusCode, string(bodyBytes))
		case resp.StatusCode < 200 || resp.StatusCode >= 300:
			bodyBytes, _ := io.ReadAll(resp.Body)
			return backoff.Permanent(fmt.Errorf("overseerr request failed with status %d: %s", resp.StatusCode, string(bodyBytes)))
		}

		if result != nil {
			if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
				return backoff.Permanent(fmt.Errorf("failed to decode response: %w", err))
			}
		}
		return nil
	}

	return backoff.Retry(operation, backoff.WithContext(c.newBackOff(), ctx))
}
