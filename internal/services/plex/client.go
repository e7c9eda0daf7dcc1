package plex

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
	"github.com/sirupsen/logrus"
)

const (
	defaultTimeout = 30 * time.Second
	product        = "Reclaimarr"
	productVersion = "1.0"
	clientID       = "reclaimarr-sync"
)

// Client talks to one Plex Media Server at a resolved address
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *logrus.Logger
}

// NewClient creates a new Plex Media Server client
func NewClient(baseURL, token string, logger *logrus.Logger) *Client {
	return &Client{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     logger,
	}
}

// BaseURL returns the address the client talks to
func (c *Client) BaseURL() string {
	return c.baseURL
}

func setPlexHeaders(req *http.Request, token string) {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Plex-Client-Identifier", clientID)
	req.Header.Set("X-Plex-Product", product)
	req.Header.Set("X-Plex-Version", productVersion)
	if token != "" {
		req.Header.Set("X-Plex-Token", token)
	}
}

// doRequest performs an authenticated request and returns the body of a 2xx response
func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values) ([]byte, error) {
	reqURL := c.baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	setPlexHeaders(req, c.token)

	c.logger.WithFields(logrus.Fields{
		"method": method,
		"url":    c.baseURL + path,
	}).Debug("Making Plex request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrServerOffline, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, models.ErrAuthFailed
	case resp.StatusCode == http.StatusNotFound:
		return nil, models.ErrNotFound
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, fmt.Errorf("plex request failed with status %d: %s", resp.StatusCode, string(body))
	}

	return body, nil
}

func parseContainer(body []byte) (*MediaContainer, error) {
	if len(body) == 0 {
		return &MediaContainer{}, nil
	}
	var resp APIResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return &resp.MediaContainer, nil
}

func (c *Client) getContainer(ctx context.Context, path string, query url.Values) (*MediaContainer, error) {
	body, err := c.doRequest(ctx, http.MethodGet, path, query)
	if err != nil {
		return nil, err
	}
	return parseContainer(body)
}

// Identity returns the machine identifier of the server
func (c *Client) Identity(ctx context.Context) (string, error) {
	container, err := c.getContainer(ctx, "/identity", nil)
	if err != nil {
		return "", err
	}
	if container.MachineIdentifier == "" {
		return "", fmt.Errorf("identity response has no machine identifier")
	}
	return container.MachineIdentifier, nil
}

// ListSections returns the library sections of the server
func (c *Client) ListSections(ctx context.Context) ([]Section, error) {
	container, err := c.getContainer(ctx, "/library/sections", nil)
	if err != nil {
		return nil, err
	}

	sections := make([]Section, 0, len(container.Directory))
	for _, dir := range container.Directory {
		sections = append(sections, Section{Key: dir.Key, Title: dir.Title, Type: dir.Type})
	}
	return sections, nil
}

// ListSectionItems returns one page of the top-level items of a section and the section size
func (c *Client) ListSectionItems(ctx context.Context, sectionKey string, start, size int) ([]Item, int, error) {
	query := url.Values{}
	query.Set("includeGuids", "1")
	query.Set("X-Plex-Container-Start", strconv.Itoa(start))
	query.Set("X-Plex-Container-Size", strconv.Itoa(size))

	container, err := c.getContainer(ctx, fmt.Sprintf("/library/sections/%s/all", url.PathEscape(sectionKey)), query)
	if err != nil {
		return nil, 0, err
	}

	total := container.TotalSize
	if total == 0 {
		total = container.Size
	}

	items := make([]Item, 0, len(container.Metadata))
	for _, m := range container.Metadata {
		items = append(items, mapItem(m))
	}
	return items, total, nil
}

// ListEpisodes returns every episode of a show
func (c *Client) ListEpisodes(ctx context.Context, showKey string) ([]Item, error) {
	query := url.Values{}
	query.Set("includeGuids", "1")

	container, err := c.getContainer(ctx, fmt.Sprintf("/library/metadata/%s/allLeaves", url.PathEscape(showKey)), query)
	if err != nil {
		return nil, err
	}

	items := make([]Item, 0, len(container.Metadata))
	for _, m := range container.Metadata {
		items = append(items, mapItem(m))
	}
	return items, nil
}

// FetchItem returns a single item, or models.ErrNotFound
func (c *Client) FetchItem(ctx context.Context, ratingKey string) (*Item, error) {
	query := url.Values{}
	query.Set("includeGuids", "1")

	container, err := c.getContainer(ctx, fmt.Sprintf("/library/metadata/%s", url.PathEscape(ratingKey)), query)
	if err != nil {
		return nil, err
	}
	if len(container.Metadata) == 0 {
		return nil, models.ErrNotFound
	}

	item := mapItem(container.Metadata[0])
	return &item, nil
}

// DeleteItem removes an item and its files from the server, or returns models.ErrNotFound
func (c *Client) DeleteItem(ctx context.Context, ratingKey string) error {
	_, err := c.doRequest(ctx, http.MethodDelete, fmt.Sprintf("/library/metadata/%s", url.PathEscape(ratingKey)), nil)
	return err
}
