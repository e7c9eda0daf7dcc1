package controllers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/amaumene/reclaimarr/internal/metrics"
	"github.com/amaumene/reclaimarr/internal/models"
	"github.com/amaumene/reclaimarr/internal/services/plex"
	gocache "github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// EndpointResolver finds and caches the fastest reachable address of each media server.
// A fresh cached address is tried with a short timeout first; when it fails or is stale
// every known candidate address is tried with a longer timeout and the winner is persisted.
type EndpointResolver struct {
	db               *models.Database
	directory        ServerDirectory
	cache            *gocache.Cache
	dial             func(baseURL, token string) MediaServer
	freshness        time.Duration
	cachedTimeout    time.Duration
	discoveryTimeout time.Duration
	logger           *logrus.Logger
}

// NewEndpointResolver creates a new endpoint resolver
func NewEndpointResolver(db *models.Database, directory ServerDirectory, freshness, cachedTimeout, discoveryTimeout time.Duration, logger *logrus.Logger) *EndpointResolver {
	return &EndpointResolver{
		db:               db,
		directory:        directory,
		cache:            gocache.New(freshness, 10*time.Minute),
		freshness:        freshness,
		cachedTimeout:    cachedTimeout,
		discoveryTimeout: discoveryTimeout,
		dial: func(baseURL, token string) MediaServer {
			return plex.NewClient(baseURL, token, logger)
		},
		logger: logger,
	}
}

// Resolve returns a connection to an advertised server
func (r *EndpointResolver) Resolve(ctx context.Context, server plex.ServerResource, token string) (MediaServer, error) {
	endpoint := r.loadEndpoint(server.ClientID)
	endpoint.Name = server.Name
	endpoint.Candidates = mergeCandidates(server.CandidateURIs(), endpoint.Candidates)
	return r.resolve(ctx, endpoint, server.Token(token))
}

// ResolveByID returns a connection to a server known only by its identity.
// Candidate addresses are refreshed from the directory when it answers.
func (r *EndpointResolver) ResolveByID(ctx context.Context, serverID, token string) (MediaServer, error) {
	endpoint := r.loadEndpoint(serverID)

	if !endpoint.Fresh(time.Now(), r.freshness) && r.directory != nil {
		servers, err := r.directory.ListServers(ctx, token)
		if err != nil {
			r.logger.WithError(err).WithField("server_id", serverID).Warn("Failed to refresh server addresses, using known candidates")
		}
		for _, server := range servers {
			if server.ClientID == serverID {
				endpoint.Name = server.Name
				endpoint.Candidates = mergeCandidates(server.CandidateURIs(), endpoint.Candidates)
				token = server.Token(token)
				break
			}
		}
	}

	return r.resolve(ctx, endpoint, token)
}

func (r *EndpointResolver) resolve(ctx context.Context, endpoint *models.ServerEndpoint, token string) (MediaServer, error) {
	ctx, span := tracer.Start(ctx, "endpoint.resolve", trace.WithAttributes(
		attribute.String("server.id", endpoint.ServerID),
		attribute.String("server.name", endpoint.Name),
	))
	defer span.End()

	logger := r.logger.WithFields(logrus.Fields{
		"server_id": endpoint.ServerID,
		"server":    endpoint.Name,
	})

	// Phase 1: fresh cached address
	var failedAddress string
	if endpoint.Fresh(time.Now(), r.freshness) {
		conn, latency, err := r.tryAddress(ctx, endpoint.ServerID, endpoint.Address, token, r.cachedTimeout)
		if err == nil {
			r.markOnline(endpoint, endpoint.Address, latency)
			metrics.EndpointResolutions.WithLabelValues(endpoint.ServerID, "cached").Inc()
			span.SetAttributes(attribute.String("server.address", endpoint.Address), attribute.Bool("cache.hit", true))
			logger.WithField("latency_ms", latency.Milliseconds()).Debug("Using cached server address")
			return conn, nil
		}

		logger.WithError(err).WithField("address", endpoint.Address).Info("Cached server address failed, running discovery")
		failedAddress = endpoint.Address
		endpoint.Address = ""
		endpoint.Candidates = mergeCandidates(endpoint.Candidates, []string{failedAddress})
		r.cache.Delete(endpoint.ServerID)
	}

	// Phase 2: full discovery over every known address with the longer timeout.
	// A cached address that missed the short timeout gets another chance here.
	var lastErr error
	for _, candidate := range endpoint.Candidates {
		conn, latency, err := r.tryAddress(ctx, endpoint.ServerID, candidate, token, r.discoveryTimeout)
		if err != nil {
			logger.WithError(err).WithField("address", candidate).Debug("Candidate address failed")
			lastErr = err
			if ctx.Err() != nil {
				break
			}
			continue
		}

		r.markOnline(endpoint, candidate, latency)
		metrics.EndpointResolutions.WithLabelValues(endpoint.ServerID, "discovered").Inc()
		span.SetAttributes(attribute.String("server.address", candidate), attribute.Bool("cache.hit", false))
		logger.WithFields(logrus.Fields{
			"address":    candidate,
			"latency_ms": latency.Milliseconds(),
		}).Info("Discovered server address")
		return conn, nil
	}

	reason := "no candidate address answered"
	if len(endpoint.Candidates) == 0 {
		reason = "no known addresses"
	}
	if lastErr == nil && failedAddress != "" {
		lastErr = fmt.Errorf("cached address %s failed", failedAddress)
	}
	resErr := &models.ResolutionError{ServerID: endpoint.ServerID, Reason: reason, Err: lastErr}
	r.markOffline(endpoint, resErr)
	metrics.EndpointResolutions.WithLabelValues(endpoint.ServerID, "offline").Inc()
	span.RecordError(resErr)
	span.SetStatus(codes.Error, reason)
	return nil, resErr
}

// tryAddress connects to an address and checks that the expected server answers
func (r *EndpointResolver) tryAddress(ctx context.Context, serverID, address, token string, timeout time.Duration) (MediaServer, time.Duration, error) {
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn := r.dial(address, token)
	start := time.Now()
	identity, err := conn.Identity(dialCtx)
	latency := time.Since(start)
	if err != nil {
		return nil, latency, err
	}
	if identity != serverID {
		return nil, latency, fmt.Errorf("address %s answered as server %s", address, identity)
	}
	return conn, latency, nil
}

// loadEndpoint returns a private copy of the cached endpoint, or a new one
func (r *EndpointResolver) loadEndpoint(serverID string) *models.ServerEndpoint {
	if cached, ok := r.cache.Get(serverID); ok {
		endpoint := cached.(models.ServerEndpoint)
		return &endpoint
	}

	endpoint, err := r.db.GetEndpoint(serverID)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			r.logger.WithError(err).WithField("server_id", serverID).Warn("Failed to load cached endpoint")
		}
		return &models.ServerEndpoint{ServerID: serverID}
	}
	return endpoint
}

func (r *EndpointResolver) markOnline(endpoint *models.ServerEndpoint, address string, latency time.Duration) {
	now := time.Now()
	endpoint.Address = address
	endpoint.LastVerifiedAt = now
	endpoint.LatencyMs = latency.Milliseconds()
	endpoint.Status = models.ServerStatusOnline
	endpoint.LastSeenAt = &now
	endpoint.LastError = ""

	metrics.EndpointLatency.WithLabelValues(endpoint.ServerID).Set(float64(endpoint.LatencyMs))
	r.save(endpoint)
	r.cache.Set(endpoint.ServerID, *endpoint, r.freshness)
}

func (r *EndpointResolver) markOffline(endpoint *models.ServerEndpoint, cause error) {
	endpoint.Address = ""
	endpoint.Status = models.ServerStatusOffline
	endpoint.LastError = cause.Error()

	r.save(endpoint)
	r.cache.Delete(endpoint.ServerID)
}

func (r *EndpointResolver) save(endpoint *models.ServerEndpoint) {
	if err := r.db.SaveEndpoint(endpoint); err != nil {
		r.logger.WithError(err).WithField("server_id", endpoint.ServerID).Warn("Failed to persist server endpoint")
	}
}

// Stats summarizes the known servers and their reachability
func (r *EndpointResolver) Stats() (*models.ConnectionStats, error) {
	endpoints, err := r.db.ListEndpoints()
	if err != nil {
		return nil, fmt.Errorf("failed to list endpoints: %w", err)
	}

	now := time.Now()
	stats := &models.ConnectionStats{TotalServers: len(endpoints)}
	for _, endpoint := range endpoints {
		fresh := endpoint.Fresh(now, r.freshness)
		switch endpoint.Status {
		case models.ServerStatusOnline:
			stats.Online++
		case models.ServerStatusOffline:
			stats.Offline++
		}
		if fresh {
			stats.Cached++
		}
		stats.Servers = append(stats.Servers, models.ServerStatusRow{
			ServerID:   endpoint.ServerID,
			Name:       endpoint.Name,
			Address:    endpoint.Address,
			Status:     endpoint.Status,
			LatencyMs:  endpoint.LatencyMs,
			LastSeenAt: endpoint.LastSeenAt,
			Fresh:      fresh,
		})
	}
	return stats, nil
}

// mergeCandidates keeps advertised addresses first, then previously known ones
func mergeCandidates(advertised, known []string) []string {
	merged := make([]string, 0, len(advertised)+len(known))
	seen := make(map[string]struct{}, len(advertised)+len(known))
	for _, list := range [][]string{advertised, known} {
		for _, uri := range list {
			if _, ok := seen[uri]; ok {
				continue
			}
			seen[uri] = struct{}{}
			merged = append(merged, uri)
		}
	}
	return merged
}
