package tautulli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/amaumene/reclaimarr/internal/metrics"
	"github.com/amaumene/reclaimarr/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker/v2"
)

const breakerName = "tautulli-api"

// HistoryRecord is one playback of the watch history
type HistoryRecord struct {
	RatingKey flexString `json:"rating_key"`
	Title     string     `json:"full_title"`
	MediaType string     `json:"media_type"`
	Date      int64      `json:"date"`
	Started   int64      `json:"started"`
	Stopped   int64      `json:"stopped"`
	Duration  flexInt    `json:"duration"` // Seconds
}

// WatchedAt returns the end of the playback, falling back to its date
func (r HistoryRecord) WatchedAt() time.Time {
	if r.Stopped > 0 {
		return time.Unix(r.Stopped, 0).UTC()
	}
	return time.Unix(r.Date, 0).UTC()
}

// ContentKey returns the Plex rating key of the played content
func (r HistoryRecord) ContentKey() string {
	return string(r.RatingKey)
}

// Seconds returns the watched duration
func (r HistoryRecord) Seconds() int64 {
	return int64(r.Duration)
}

// HistoryPage is one page of get_history
type HistoryPage struct {
	Records       []HistoryRecord
	TotalEstimate int
}

type historyResponse struct {
	Response struct {
		Result  string  `json:"result"`
		Message *string `json:"message"`
		Data    struct {
			RecordsFiltered int             `json:"recordsFiltered"`
			RecordsTotal    int             `json:"recordsTotal"`
			Data            []HistoryRecord `json:"data"`
		} `json:"data"`
	} `json:"response"`
}

// Client handles communication with Tautulli through a circuit breaker
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	cb         *gobreaker.CircuitBreaker[*HistoryPage]
	logger     *logrus.Logger
}

// NewClient creates a new Tautulli client
func NewClient(baseURL, apiKey string, logger *logrus.Logger) *Client {
	metrics.CircuitBreakerState.WithLabelValues(breakerName).Set(0)

	cb := gobreaker.NewCircuitBreaker[*HistoryPage](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 5 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Circuit breaker state changed")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
		},
	})

	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		cb:         cb,
		logger:     logger,
	}
}

// GetHistory returns one page of playback history, newest first
func (c *Client) GetHistory(ctx context.Context, start, length int) (*HistoryPage, error) {
	params := url.Values{}
	params.Set("start", strconv.Itoa(start))
	params.Set("length", strconv.Itoa(length))
	params.Set("order_column", "date")
	params.Set("order_dir", "desc")
	params.Set("grouping", "0")

	page, err := c.cb.Execute(func() (*HistoryPage, error) {
		var resp historyResponse
		if err := c.makeRequest(ctx, "get_history", params, &resp); err != nil {
			return nil, err
		}
		if resp.Response.Result != "success" {
			msg := "unknown error"
			if resp.Response.Message != nil {
				msg = *resp.Response.Message
			}
			return nil, fmt.Errorf("get_history returned %q: %s", resp.Response.Result, msg)
		}

		total := resp.Response.Data.RecordsFiltered
		if total == 0 {
			total = resp.Response.Data.RecordsTotal
		}
		return &HistoryPage{Records: resp.Response.Data.Data, TotalEstimate: total}, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: tautulli circuit open: %v", models.ErrServerOffline, err)
	}
	return page, err
}

func (c *Client) makeRequest(ctx context.Context, cmd string, params url.Values, result interface{}) error {
	query := url.Values{}
	for k, v := range params {
		query[k] = v
	}
	query.Set("apikey", c.apiKey)
	query.Set("cmd", cmd)

	c.logger.WithField("cmd", cmd).Debug("Making Tautulli request")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/api/v2?%s", c.baseURL, query.Encode()), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: tautulli: %v", models.ErrServerOffline, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return models.ErrAuthFailed
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s request failed with status %d: %s", cmd, resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", cmd, err)
	}
	return nil
}

// flexString accepts a JSON string or number
type flexString string

func (s *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*s = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		*s = flexString(str)
		return nil
	}
	*s = flexString(data)
	return nil
}

// flexInt accepts a JSON number, numeric string or null; anything else decodes as zero
type flexInt int64

func (n *flexInt) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(bytes.TrimSpace(data), `"`)
	v, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		*n = 0
		return nil
	}
	*n = flexInt(v)
	return nil
}
