package controllers

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/amaumene/reclaimarr/internal/metrics"
	"github.com/amaumene/reclaimarr/internal/models"
	"github.com/sirupsen/logrus"
)

const historyPageSize = 100

// WatchSummary is the outcome of a watch history sync
type WatchSummary struct {
	Records   int `json:"records"`
	Keys      int `json:"keys"`
	Updated   int `json:"updated"`
	Unmatched int `json:"unmatched"`
}

// WatchController folds the watch history into the catalog's watch metrics
type WatchController struct {
	db       *models.Database
	history  HistorySource
	lookback time.Duration
	logger   *logrus.Logger
}

// NewWatchController creates a new watch controller
func NewWatchController(db *models.Database, history HistorySource, lookbackDays int, logger *logrus.Logger) *WatchController {
	return &WatchController{
		db:       db,
		history:  history,
		lookback: time.Duration(lookbackDays) * 24 * time.Hour,
		logger:   logger,
	}
}

// SyncWatchHistory reads the history back to the lookback cutoff and rewrites the
// play count, last watch time and watch time of every matching catalog item
func (c *WatchController) SyncWatchHistory(ctx context.Context) (*WatchSummary, error) {
	ctx, span := tracer.Start(ctx, "watch.sync")
	defer span.End()

	// A zero lookback reads the whole history
	var cutoff time.Time
	if c.lookback > 0 {
		cutoff = time.Now().Add(-c.lookback)
	}
	stats := make(map[string]*models.WatchStats)
	summary := &WatchSummary{}

	for start := 0; ; start += historyPageSize {
		page, err := c.history.GetHistory(ctx, start, historyPageSize)
		if err != nil {
			return summary, fmt.Errorf("failed to read watch history at offset %d: %w", start, err)
		}

		reachedCutoff := false
		for _, record := range page.Records {
			watchedAt := record.WatchedAt()
			if watchedAt.Before(cutoff) {
				reachedCutoff = true
				continue
			}
			key := record.ContentKey()
			if key == "" {
				continue
			}
			summary.Records++

			entry, ok := stats[key]
			if !ok {
				entry = &models.WatchStats{}
				stats[key] = entry
			}
			entry.PlayCount++
			entry.WatchTimeSeconds += record.Seconds()
			if entry.LastWatchedAt == nil || watchedAt.After(*entry.LastWatchedAt) {
				at := watchedAt
				entry.LastWatchedAt = &at
			}
		}

		if reachedCutoff || len(page.Records) < historyPageSize {
			break
		}
	}

	keys := make([]string, 0, len(stats))
	for key := range stats {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	summary.Keys = len(keys)

	for _, key := range keys {
		updated, err := c.db.UpdateWatchStats(key, *stats[key])
		if err != nil {
			c.logger.WithError(err).WithField("rating_key", key).Warn("Failed to update watch stats")
			continue
		}
		if updated == 0 {
			summary.Unmatched++
			continue
		}
		summary.Updated += updated
	}

	metrics.WatchHistoryRecords.Add(float64(summary.Records))
	c.logger.WithFields(logrus.Fields{
		"records":   summary.Records,
		"keys":      summary.Keys,
		"updated":   summary.Updated,
		"unmatched": summary.Unmatched,
	}).Info("Watch history synced")

	return summary, nil
}
