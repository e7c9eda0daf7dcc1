package controllers

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/amaumene/reclaimarr/internal/metrics"
	"github.com/amaumene/reclaimarr/internal/models"
	"github.com/amaumene/reclaimarr/internal/services/overseerr"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"
)

// BatchItemResult is the outcome of one item of a deletion batch
type BatchItemResult struct {
	CatalogItemID uint64                `json:"catalog_item_id"`
	Title         string                `json:"title"`
	FileSize      int64                 `json:"file_size"`
	Status        models.DeletionStatus `json:"status,omitempty"`
	EventID       string                `json:"event_id,omitempty"`
	Skipped       bool                  `json:"skipped,omitempty"`
	Error         string                `json:"error,omitempty"`
	Event         *models.DeletionEvent `json:"event,omitempty"`
}

// BatchSummary aggregates a deletion batch
type BatchSummary struct {
	RuleID    uint64            `json:"rule_id"`
	DryRun    bool              `json:"dry_run"`
	Total     int               `json:"total"`
	Deleted   int               `json:"deleted"`
	Failed    int               `json:"failed"`
	Skipped   int               `json:"skipped"`
	TotalSize int64             `json:"total_size"`
	Items     []BatchItemResult `json:"items"`
}

// CleanupController deletes content across the media server, the download
// managers and the request broker, recording one audit event per attempt
type CleanupController struct {
	db        *models.Database
	resolver  ServerResolver
	token     string
	series    DownloadManager // nil when not configured
	movies    DownloadManager // nil when not configured
	requests  RequestBroker   // nil when not configured
	evaluator *RetentionEvaluator
	delay     time.Duration
	logger    *logrus.Logger
}

// NewCleanupController creates a new cleanup controller
func NewCleanupController(
	db *models.Database,
	resolver ServerResolver,
	token string,
	series DownloadManager,
	movies DownloadManager,
	requests RequestBroker,
	evaluator *RetentionEvaluator,
	delay time.Duration,
	logger *logrus.Logger,
) *CleanupController {
	return &CleanupController{
		db:        db,
		resolver:  resolver,
		token:     token,
		series:    series,
		movies:    movies,
		requests:  requests,
		evaluator: evaluator,
		delay:     delay,
		logger:    logger,
	}
}

// DeleteOne runs the cascade for one item and appends its audit event.
// The returned error only reports a failure to persist the event.
func (c *CleanupController) DeleteOne(ctx context.Context, item *models.CatalogItem, ruleCtx models.RuleContext, dryRun bool) (*models.DeletionEvent, error) {
	ctx, span := tracer.Start(ctx, "cleanup.delete_one")
	span.SetAttributes(
		attribute.Int64("catalog.item_id", int64(item.ID)),
		attribute.String("catalog.remote_id", item.RemoteID),
		attribute.Bool("dry_run", dryRun),
	)
	defer span.End()

	event := &models.DeletionEvent{
		ID:            uuid.NewString(),
		CatalogItemID: item.ID,
		ServerID:      item.ServerID,
		RemoteID:      item.RemoteID,
		Title:         item.DisplayTitle(),
		MediaType:     item.MediaType,
		FileSize:      item.FileSize,
		DryRun:        dryRun,
		Rule:          ruleCtx,
	}

	// Step 1: media server. Nothing else is attempted when it fails.
	event.MediaServer = c.deleteFromMediaServer(ctx, item, dryRun)
	if event.MediaServer.Success {
		// Step 2-4: download managers and request broker
		event.SeriesManager = c.deleteFromSeriesManager(ctx, item, dryRun)
		event.MovieManager = c.deleteFromMovieManager(ctx, item, dryRun)
		event.RequestBroker = c.deleteRequests(ctx, item, dryRun)
	} else {
		notAttempted := models.TargetOutcome{Skipped: true, Message: "not attempted, media server deletion failed"}
		event.SeriesManager = notAttempted
		event.MovieManager = notAttempted
		event.RequestBroker = notAttempted
	}

	event.OverallStatus = event.Aggregate()
	c.recordMetrics(event)
	span.SetAttributes(attribute.String("deletion.status", string(event.OverallStatus)))
	if event.OverallStatus == models.DeletionStatusFailed {
		span.SetStatus(codes.Error, event.MediaServer.Error)
	}

	c.logger.WithFields(logrus.Fields{
		"item_id":        item.ID,
		"title":          event.Title,
		"status":         event.OverallStatus,
		"dry_run":        dryRun,
		"media_server":   outcomeLabel(event.MediaServer),
		"series_manager": outcomeLabel(event.SeriesManager),
		"movie_manager":  outcomeLabel(event.MovieManager),
		"request_broker": outcomeLabel(event.RequestBroker),
	}).Info("Cascade deletion finished")

	if err := c.db.InsertDeletionEvent(event); err != nil {
		return event, err
	}
	return event, nil
}

func (c *CleanupController) deleteFromMediaServer(ctx context.Context, item *models.CatalogItem, dryRun bool) models.TargetOutcome {
	if dryRun {
		return models.TargetOutcome{Success: true, Message: "would delete"}
	}

	conn, err := c.resolver.ResolveByID(ctx, item.ServerID, c.token)
	if err != nil {
		return failedOutcome(err)
	}

	if _, err := conn.FetchItem(ctx, item.RemoteID); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.TargetOutcome{Success: true, Message: "already deleted"}
		}
		return failedOutcome(err)
	}

	if err := conn.DeleteItem(ctx, item.RemoteID); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.TargetOutcome{Success: true, Message: "already deleted"}
		}
		return failedOutcome(err)
	}
	return models.TargetOutcome{Success: true, Message: "deleted"}
}

func (c *CleanupController) deleteFromSeriesManager(ctx context.Context, item *models.CatalogItem, dryRun bool) models.TargetOutcome {
	if !item.MediaType.IsSeries() {
		return models.TargetOutcome{Skipped: true, Message: "not a series item"}
	}
	if c.series == nil {
		return models.TargetOutcome{Skipped: true, Message: "series manager not configured"}
	}
	tvdbID, _ := item.SeriesExternalIDs()
	if tvdbID == "" {
		return models.TargetOutcome{Skipped: true, Message: "no tvdb id"}
	}
	return c.removeFromManager(ctx, c.series, tvdbID, dryRun)
}

func (c *CleanupController) deleteFromMovieManager(ctx context.Context, item *models.CatalogItem, dryRun bool) models.TargetOutcome {
	if item.MediaType != models.MediaTypeMovie {
		return models.TargetOutcome{Skipped: true, Message: "not a movie"}
	}
	if c.movies == nil {
		return models.TargetOutcome{Skipped: true, Message: "movie manager not configured"}
	}
	if item.TMDBId == "" {
		return models.TargetOutcome{Skipped: true, Message: "no tmdb id"}
	}
	return c.removeFromManager(ctx, c.movies, item.TMDBId, dryRun)
}

// removeFromManager looks an entry up by external id and deletes it with its files
func (c *CleanupController) removeFromManager(ctx context.Context, manager DownloadManager, externalID string, dryRun bool) models.TargetOutcome {
	if dryRun {
		return models.TargetOutcome{Success: true, Message: "would remove"}
	}

	entry, err := manager.FindByExternalID(ctx, externalID)
	switch {
	case errors.Is(err, models.ErrNotFound):
		return models.TargetOutcome{Success: true, Skipped: true, Message: "not tracked"}
	case errors.Is(err, models.ErrMissingExternalID):
		return models.TargetOutcome{Skipped: true, Message: err.Error()}
	case err != nil:
		return failedOutcome(err)
	}

	if err := manager.Delete(ctx, entry.ID, true); err != nil && !errors.Is(err, models.ErrNotFound) {
		return failedOutcome(err)
	}
	return models.TargetOutcome{Success: true, Message: fmt.Sprintf("removed %q", entry.Title)}
}

func (c *CleanupController) deleteRequests(ctx context.Context, item *models.CatalogItem, dryRun bool) models.TargetOutcome {
	if c.requests == nil {
		return models.TargetOutcome{Skipped: true, Message: "request broker not configured"}
	}

	kind := overseerr.MediaKindMovie
	tmdbID := item.TMDBId
	if item.MediaType.IsSeries() {
		kind = overseerr.MediaKindTV
		_, tmdbID = item.SeriesExternalIDs()
	}
	if tmdbID == "" {
		return models.TargetOutcome{Skipped: true, Message: "no tmdb id"}
	}
	if dryRun {
		return models.TargetOutcome{Success: true, Message: "would remove requests"}
	}

	requests, err := c.requests.FindRequests(ctx, tmdbID, kind)
	switch {
	case errors.Is(err, models.ErrMissingExternalID):
		return models.TargetOutcome{Skipped: true, Message: err.Error()}
	case err != nil:
		return failedOutcome(err)
	case len(requests) == 0:
		return models.TargetOutcome{Success: true, Skipped: true, Message: "no requests"}
	}

	var failures []string
	for _, request := range requests {
		if err := c.requests.DeleteRequest(ctx, request.ID); err != nil && !errors.Is(err, models.ErrNotFound) {
			failures = append(failures, "request "+strconv.Itoa(request.ID)+": "+err.Error())
		}
	}
	if len(failures) > 0 {
		return models.TargetOutcome{
			Message: fmt.Sprintf("deleted %d of %d requests", len(requests)-len(failures), len(requests)),
			Error:   strings.Join(failures, "; "),
		}
	}
	return models.TargetOutcome{Success: true, Message: fmt.Sprintf("deleted %d requests", len(requests))}
}

// ExecuteBatch deletes the candidates of a rule. When candidateIDs is empty the rule is
// evaluated again; otherwise only those catalog items are processed and ids that no
// longer exist are reported as skipped. The batch is not interrupted by ctx cancellation.
func (c *CleanupController) ExecuteBatch(ctx context.Context, ruleID uint64, candidateIDs []uint64, dryRun bool) (*BatchSummary, error) {
	rule, err := c.db.GetRule(ruleID)
	if err != nil {
		return nil, fmt.Errorf("failed to load rule %d: %w", ruleID, err)
	}
	if !rule.Enabled && !dryRun {
		return nil, fmt.Errorf("rule %q: %w", rule.Name, models.ErrRuleDisabled)
	}
	if rule.DryRunOnly && !dryRun {
		return nil, fmt.Errorf("rule %q: %w", rule.Name, models.ErrDryRunOnly)
	}

	asOf := time.Now()
	var candidates []models.Candidate
	var missing []uint64

	if len(candidateIDs) > 0 {
		items, err := c.db.GetCatalogItems(candidateIDs)
		if err != nil {
			return nil, fmt.Errorf("failed to load candidates: %w", err)
		}
		found := make(map[uint64]struct{}, len(items))
		for _, item := range items {
			found[item.ID] = struct{}{}
			candidates = append(candidates, CandidateFor(item, asOf))
		}
		for _, id := range candidateIDs {
			if _, ok := found[id]; !ok {
				missing = append(missing, id)
			}
		}
	} else {
		candidates, err = c.evaluator.Evaluate(rule, asOf)
		if err != nil {
			return nil, err
		}
	}

	summary := c.RunBatch(ctx, rule, candidates, dryRun)
	for _, id := range missing {
		summary.Total++
		summary.Skipped++
		summary.Items = append(summary.Items, BatchItemResult{
			CatalogItemID: id,
			Skipped:       true,
			Error:         "catalog item no longer exists",
		})
	}

	if !dryRun {
		now := time.Now()
		rule.LastRunAt = &now
		if err := c.db.UpdateRule(rule); err != nil {
			c.logger.WithError(err).WithField("rule_id", rule.ID).Warn("Failed to stamp rule run time")
		}
	}

	return summary, nil
}

// RunBatch runs the cascade over candidates one at a time, paced by the configured delay.
// One item's failure never stops the batch.
func (c *CleanupController) RunBatch(ctx context.Context, rule *models.RetentionRule, candidates []models.Candidate, dryRun bool) *BatchSummary {
	ctx = context.WithoutCancel(ctx)
	limiter := rate.NewLimiter(rate.Every(c.delay), 1)

	summary := &BatchSummary{
		RuleID: rule.ID,
		DryRun: dryRun,
		Total:  len(candidates),
		Items:  make([]BatchItemResult, 0, len(candidates)),
	}

	c.logger.WithFields(logrus.Fields{
		"rule":       rule.Name,
		"candidates": len(candidates),
		"dry_run":    dryRun,
	}).Info("Starting deletion batch")

	for _, candidate := range candidates {
		if err := limiter.Wait(ctx); err != nil {
			c.logger.WithError(err).Warn("Rate limiter wait failed")
		}

		item := candidate.Item
		result := BatchItemResult{
			CatalogItemID: item.ID,
			Title:         item.DisplayTitle(),
			FileSize:      item.FileSize,
		}

		event, err := c.DeleteOne(ctx, item, candidate.RuleContext(rule), dryRun)
		if err != nil {
			c.logger.WithError(err).WithField("item_id", item.ID).Error("Failed to record deletion event")
			result.Error = err.Error()
		}
		result.Event = event
		result.EventID = event.ID
		result.Status = event.OverallStatus

		switch event.OverallStatus {
		case models.DeletionStatusCompleted, models.DeletionStatusPartial:
			summary.Deleted++
			summary.TotalSize += item.FileSize
		default:
			summary.Failed++
			if result.Error == "" {
				result.Error = event.MediaServer.Error
			}
		}
		summary.Items = append(summary.Items, result)
	}

	if !dryRun {
		metrics.ReclaimedBytes.Add(float64(summary.TotalSize))
	}

	c.logger.WithFields(logrus.Fields{
		"rule":       rule.Name,
		"deleted":    summary.Deleted,
		"failed":     summary.Failed,
		"total_size": summary.TotalSize,
		"dry_run":    dryRun,
	}).Info("Deletion batch completed")

	return summary
}

func (c *CleanupController) recordMetrics(event *models.DeletionEvent) {
	metrics.Deletions.WithLabelValues(string(event.OverallStatus), strconv.FormatBool(event.DryRun)).Inc()
	outcomes := map[models.DeletionTarget]models.TargetOutcome{
		models.TargetMediaServer:   event.MediaServer,
		models.TargetSeriesManager: event.SeriesManager,
		models.TargetMovieManager:  event.MovieManager,
		models.TargetRequestBroker: event.RequestBroker,
	}
	for target, outcome := range outcomes {
		metrics.DeletionTargets.WithLabelValues(string(target), outcomeLabel(outcome)).Inc()
	}
}

func failedOutcome(err error) models.TargetOutcome {
	return models.TargetOutcome{Error: err.Error()}
}

func outcomeLabel(outcome models.TargetOutcome) string {
	switch {
	case outcome.Skipped:
		return "skipped"
	case outcome.Success:
		return "success"
	default:
		return "failed"
	}
}
