package arr

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/amaumene/reclaimarr/internal/models"
	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
)

const apiPath = "/api/v3"

// Kind selects the flavour of download manager
type Kind string

const (
	KindSonarr Kind = "sonarr"
	KindRadarr Kind = "radarr"
)

// Entry is a series (Sonarr) or a movie (Radarr)
type Entry struct {
	ID     int    `json:"id"`
	Title  string `json:"title"`
	TVDBId int    `json:"tvdbId"`
	TMDBId int    `json:"tmdbId"`
}

// Client handles communication with a Sonarr or Radarr instance
type Client struct {
	kind       Kind
	baseURL    string
	apiKey     string
	httpClient *http.Client
	newBackOff func() backoff.BackOff
	logger     *logrus.Logger
}

// NewSonarrClient creates a client for the series manager
func NewSonarrClient(baseURL, apiKey string, logger *logrus.Logger) *Client {
	return newClient(KindSonarr, baseURL, apiKey, logger)
}

// NewRadarrClient creates a client for the movie manager
func NewRadarrClient(baseURL, apiKey string, logger *logrus.Logger) *Client {
	return newClient(KindRadarr, baseURL, apiKey, logger)
}

func newClient(kind Kind, baseURL, apiKey string, logger *logrus.Logger) *Client {
	return &Client{
		kind:       kind,
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		newBackOff: defaultBackOff,
		logger:     logger,
	}
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxElapsedTime = 15 * time.Second
	return backoff.WithMaxRetries(b, 3)
}

// Name returns the kind of manager the client talks to
func (c *Client) Name() string {
	return string(c.kind)
}

// resource returns the API resource and lookup parameter of the manager
func (c *Client) resource() (path, lookupParam string) {
	if c.kind == KindSonarr {
		return "/series", "tvdbId"
	}
	return "/movie", "tmdbId"
}

// FindByExternalID looks up an entry by tvdb id (Sonarr) or tmdb id (Radarr).
// It returns models.ErrNotFound when the manager does not track the content.
func (c *Client) FindByExternalID(ctx context.Context, externalID string) (*Entry, error) {
	id, err := strconv.Atoi(externalID)
	if err != nil || id <= 0 {
		return nil, fmt.Errorf("%w: %q", models.ErrMissingExternalID, externalID)
	}

	path, param := c.resource()
	query := url.Values{}
	query.Set(param, strconv.Itoa(id))

	var entries []Entry
	if err := c.doRequest(ctx, http.MethodGet, path, query, &entries); err != nil {
		return nil, err
	}

	for _, entry := range entries {
		if (c.kind == KindSonarr && entry.TVDBId == id) || (c.kind == KindRadarr && entry.TMDBId == id) {
			return &entry, nil
		}
	}
	return nil, models.ErrNotFound
}

// Delete removes an entry, optionally with its files
func (c *Client) Delete(ctx context.Context, entryID int, deleteFiles bool) error {
	path, _ := c.resource()
	query := url.Values{}
	query.Set("deleteFiles", strconv.FormatBool(deleteFiles))
	if c.kind == KindRadarr {
		query.Set("addImportExclusion", "false")
	}

	return c.doRequest(ctx, http.MethodDelete, fmt.Sprintf("%s/%d", path, entryID), query, nil)
}

// doRequest performs an API request, retrying transient failures
func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values, result interface{}) error {
	fullURL := c.baseURL + apiPath + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	operation := func() error {
		c.logger.WithFields(logrus.Fields{
			"manager": c.kind,
			"method":  method,
			"path":    path,
		}).Debug("Making download manager request")

		req, err := http.NewRequestWithContext(ctx, method, fullURL, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		req.Header.Set("X-Api-Key", c.apiKey)
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", models.ErrServerOffline, c.kind, err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return backoff.Permanent(fmt.Errorf("%w: %s", models.ErrAuthFailed, c.kind))
		case resp.StatusCode == http.StatusNotFound:
			return backoff.Permanent(models.ErrNotFound)
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			bodyBytes, _ := io.ReadAll(resp.Body)
			return fmt.Errorf("%s request failed with status %d: %s", c.kind, resp.StatusCode, string(bodyBytes))
		case resp.StatusCode < 200 || resp.StatusCode >= 300:
			bodyBytes, _ := io.ReadAll(resp.Body)
			return backoff.Permanent(fmt.Errorf("%s request failed with status %d: %s", c.kind, resp.StatusCode, string(bodyBytes)))
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
