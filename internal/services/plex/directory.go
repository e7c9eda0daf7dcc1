package plex

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"

	"github.com/amaumene/reclaimarr/internal/models"
	"github.com/sirupsen/logrus"
)

const (
	plexTVBaseURL      = "https://plex.tv"
	mediaServerProduct = "Plex Media Server"
)

// Directory lists the media servers an account can reach through plex.tv
type Directory struct {
	baseURL    string
	httpClient *http.Client
	logger     *logrus.Logger
}

// NewDirectory creates a plex.tv resource directory
func NewDirectory(logger *logrus.Logger) *Directory {
	return NewDirectoryWithURL(plexTVBaseURL, logger)
}

// NewDirectoryWithURL creates a resource directory against another plex.tv address
func NewDirectoryWithURL(baseURL string, logger *logrus.Logger) *Directory {
	return &Directory{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     logger,
	}
}

// ListServers returns the media servers of the account with their candidate connections
func (d *Directory) ListServers(ctx context.Context, token string) ([]ServerResource, error) {
	reqURL := d.baseURL + "/api/v2/resources?includeHttps=1&includeRelay=1"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	setPlexHeaders(req, token)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: plex.tv: %v", models.ErrServerOffline, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, models.ErrAuthFailed
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("plex.tv resources request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var resources []ServerResource
	if err := json.Unmarshal(body, &resources); err != nil {
		return nil, fmt.Errorf("failed to parse resources: %w", err)
	}

	servers := make([]ServerResource, 0, len(resources))
	for _, r := range resources {
		if r.Product != mediaServerProduct {
			continue
		}
		servers = append(servers, r)
	}

	d.logger.WithField("count", len(servers)).Debug("Retrieved Plex servers")
	return servers, nil
}

// CandidateURIs returns the connection URIs of a server, local first, relays last
func (r ServerResource) CandidateURIs() []string {
	conns := make([]Connection, len(r.Connections))
	copy(conns, r.Connections)

	rank := func(c Connection) int {
		switch {
		case c.Relay:
			return 2
		case c.Local:
			return 0
		default:
			return 1
		}
	}
	sort.SliceStable(conns, func(i, j int) bool { return rank(conns[i]) < rank(conns[j]) })

	uris := make([]string, 0, len(conns))
	seen := make(map[string]struct{}, len(conns))
	for _, c := range conns {
		if c.URI == "" {
			continue
		}
		if _, ok := seen[c.URI]; ok {
			continue
		}
		seen[c.URI] = struct{}{}
		uris = append(uris, c.URI)
	}
	return uris
}

// Token returns the server access token, falling back to the account token
func (r ServerResource) Token(accountToken string) string {
	if r.AccessToken != "" {
		return r.AccessToken
	}
	return accountToken
}
