package controllers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/amaumene/reclaimarr/internal/metrics"
	"github.com/amaumene/reclaimarr/internal/models"
	"github.com/amaumene/reclaimarr/internal/services/plex"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const defaultPageSize = 100

var errCancelled = errors.New("sync cancelled")

// SyncSummary is the outcome of a sync run
type SyncSummary struct {
	RunID            string            `json:"run_id"`
	Status           models.SyncStatus `json:"status"`
	ServersConnected int               `json:"servers_connected"`
	ServersSkipped   int               `json:"servers_skipped"`
	ItemsDiscovered  int               `json:"items_discovered"`
	ItemsSynced      int               `json:"items_synced"`
	ItemsCreated     int               `json:"items_created"`
	ItemsFailed      int               `json:"items_failed"`
	OrphansRemoved   int               `json:"orphans_removed"`
	Reconciled       bool              `json:"reconciled"`
	DurationSeconds  float64           `json:"duration_seconds"`
	Error            string            `json:"error,omitempty"`
}

// SyncController mirrors the media servers' libraries into the catalog
type SyncController struct {
	db        *models.Database
	directory ServerDirectory
	resolver  ServerResolver
	pageSize  int
	logger    *logrus.Logger
}

// NewSyncController creates a new sync controller
func NewSyncController(db *models.Database, directory ServerDirectory, resolver ServerResolver, logger *logrus.Logger) *SyncController {
	return &SyncController{
		db:        db,
		directory: directory,
		resolver:  resolver,
		pageSize:  defaultPageSize,
		logger:    logger,
	}
}

// syncTarget is a reachable server and the sections to sync on it
type syncTarget struct {
	server   plex.ServerResource
	conn     MediaServer
	sections []plex.Section
}

// syncState carries the mutable state of one run
type syncState struct {
	run        *models.SyncRun
	summary    *SyncSummary
	sink       ProgressSink
	cancel     *CancelToken
	seen       map[string]struct{}
	processed  int
	incomplete bool
	syncStart  time.Time
	span       trace.Span
	logger     *logrus.Entry
}

// Run executes one sync run over every server of the account. Events are pushed to
// sink and the last one is terminal. Orphans are only removed after a complete pass.
// The returned error is non-nil only when the run ended in the error state.
func (c *SyncController) Run(ctx context.Context, token string, sink ProgressSink, cancel *CancelToken) (*SyncSummary, error) {
	runID := uuid.NewString()
	ctx, span := tracer.Start(ctx, "sync.run")
	span.SetAttributes(attribute.String("sync.run_id", runID))
	defer span.End()

	if sink == nil {
		sink = ProgressFunc(func(ProgressEvent) {})
	}

	s := &syncState{
		run: &models.SyncRun{
			ID:        runID,
			Status:    models.SyncStatusConnecting,
			StartedAt: time.Now(),
		},
		summary: &SyncSummary{RunID: runID},
		sink:    sink,
		cancel:  cancel,
		seen:    make(map[string]struct{}),
		span:    span,
		logger:  c.logger.WithField("run_id", runID),
	}
	c.saveRun(s)

	s.logger.Info("Starting library sync")

	// Step 1: connect to every server
	s.emit(models.SyncStatusConnecting, "Discovering media servers")
	servers, err := c.directory.ListServers(ctx, token)
	if err != nil {
		return c.fail(s, fmt.Errorf("failed to list media servers: %w", err))
	}
	if len(servers) == 0 {
		return c.fail(s, errors.New("no media servers found for this account"))
	}

	var targets []*syncTarget
	for _, server := range servers {
		if s.cancelled(ctx) {
			return c.finishCancelled(s)
		}
		s.emit(models.SyncStatusConnecting, fmt.Sprintf("Connecting to %s", server.Name))

		conn, err := c.resolver.Resolve(ctx, server, token)
		if err != nil {
			s.run.ServersSkipped++
			s.incomplete = true
			s.logger.WithError(err).WithField("server", server.Name).Warn("Skipping unreachable server")
			s.warn(fmt.Sprintf("Skipping %s: %v", server.Name, err))
			continue
		}
		s.run.ServersConnected++
		targets = append(targets, &syncTarget{server: server, conn: conn})
	}
	if len(targets) == 0 {
		return c.fail(s, errors.New("no media server could be reached"))
	}

	// Step 2: count leaf items
	s.run.Status = models.SyncStatusCounting
	listed := 0
	for _, target := range targets {
		if s.cancelled(ctx) {
			return c.finishCancelled(s)
		}

		sections, err := target.conn.ListSections(ctx)
		if err != nil {
			s.incomplete = true
			s.logger.WithError(err).WithField("server", target.server.Name).Warn("Failed to list sections")
			s.warn(fmt.Sprintf("Skipping %s: failed to list sections: %v", target.server.Name, err))
			continue
		}
		listed++

		for _, section := range sections {
			if section.Type != "movie" && section.Type != "show" {
				continue
			}
			target.sections = append(target.sections, section)

			s.emit(models.SyncStatusCounting, fmt.Sprintf("Counting %s", section.Title))
			count, err := c.countSection(ctx, target.conn, section)
			if err != nil {
				s.logger.WithError(err).WithField("section", section.Title).Warn("Failed to count section")
				continue
			}
			s.run.ItemsDiscovered += count
		}
	}
	if listed == 0 {
		return c.fail(s, errors.New("no library sections could be listed"))
	}

	// Step 3: sync every leaf item
	s.run.Status = models.SyncStatusSyncing
	s.syncStart = time.Now()
	for _, target := range targets {
		for _, section := range target.sections {
			err := c.syncSection(ctx, s, target, section)
			if errors.Is(err, errCancelled) || s.cancelled(ctx) {
				return c.finishCancelled(s)
			}
			if err != nil {
				s.incomplete = true
				s.logger.WithError(err).WithFields(logrus.Fields{
					"server":  target.server.Name,
					"section": section.Title,
				}).Warn("Section sync failed")
				s.warn(fmt.Sprintf("Section %s on %s failed: %v", section.Title, target.server.Name, err))
			}
		}
	}

	// Step 4: reconcile orphans, only after a complete pass
	if s.incomplete {
		s.logger.Warn("Skipping orphan reconciliation due to an incomplete pass")
		s.warn("Skipping orphan reconciliation: not every server and section was fully synced")
	} else {
		removed, err := c.db.RemoveOrphans(s.seen)
		if err != nil {
			s.logger.WithError(err).Error("Failed to remove orphans")
			s.warn(fmt.Sprintf("Orphan reconciliation failed: %v", err))
		} else {
			s.run.OrphansRemoved = removed
			s.run.Reconciled = true
			metrics.SyncOrphansRemoved.Add(float64(removed))
			s.logger.WithField("removed", removed).Info("Removed orphaned catalog items")
		}
	}

	// Step 5: complete
	return c.finishComplete(s), nil
}

// countSection returns the number of leaf items of a section: episodes for shows, movies otherwise
func (c *SyncController) countSection(ctx context.Context, conn MediaServer, section plex.Section) (int, error) {
	if section.Type == "movie" {
		_, total, err := conn.ListSectionItems(ctx, section.Key, 0, 0)
		return total, err
	}

	count := 0
	for start := 0; ; {
		shows, total, err := conn.ListSectionItems(ctx, section.Key, start, c.pageSize)
		if err != nil {
			return count, err
		}
		for _, show := range shows {
			count += show.LeafCount
		}
		start += len(shows)
		if len(shows) == 0 || start >= total {
			return count, nil
		}
	}
}

// syncSection upserts every leaf item of a section
func (c *SyncController) syncSection(ctx context.Context, s *syncState, target *syncTarget, section plex.Section) error {
	s.logger.WithFields(logrus.Fields{
		"server":  target.server.Name,
		"section": section.Title,
	}).Info("Syncing section")

	for start := 0; ; {
		if s.cancelled(ctx) {
			return errCancelled
		}

		page, total, err := target.conn.ListSectionItems(ctx, section.Key, start, c.pageSize)
		if err != nil {
			return fmt.Errorf("failed to list items at offset %d: %w", start, err)
		}

		for _, entry := range page {
			if s.cancelled(ctx) {
				return errCancelled
			}

			if section.Type == "movie" {
				c.syncItem(s, target, section, entry, nil)
				continue
			}

			episodes, err := target.conn.ListEpisodes(ctx, entry.RatingKey)
			if err != nil {
				if s.cancelled(ctx) {
					return errCancelled
				}
				s.incomplete = true
				s.logger.WithError(err).WithField("show", entry.Title).Warn("Failed to list episodes, skipping show")
				continue
			}
			show := entry
			for _, episode := range episodes {
				if s.cancelled(ctx) {
					return errCancelled
				}
				c.syncItem(s, target, section, episode, &show)
			}
		}

		start += len(page)
		if len(page) == 0 || start >= total {
			return nil
		}
	}
}

// syncItem upserts one leaf item and reports progress
func (c *SyncController) syncItem(s *syncState, target *syncTarget, section plex.Section, entry plex.Item, show *plex.Item) {
	item := catalogItemFrom(target.server.ClientID, section, entry, show)
	s.seen[models.CatalogSyncKey(item.ServerID, item.RemoteID)] = struct{}{}

	created, err := c.db.UpsertCatalogItem(item)
	if err != nil {
		s.run.ItemsFailed++
		metrics.SyncItems.WithLabelValues(target.server.ClientID, "failed").Inc()
		s.logger.WithError(err).WithField("title", item.DisplayTitle()).Warn("Failed to upsert catalog item")
	} else {
		s.run.ItemsSynced++
		result := "updated"
		if created {
			s.summary.ItemsCreated++
			result = "created"
		}
		metrics.SyncItems.WithLabelValues(target.server.ClientID, result).Inc()
	}

	s.processed++
	if s.processed > s.run.ItemsDiscovered {
		s.run.ItemsDiscovered = s.processed
	}
	s.run.CurrentTitle = item.DisplayTitle()

	event := ProgressEvent{
		RunID:   s.run.ID,
		Status:  models.SyncStatusSyncing,
		Current: s.processed,
		Total:   s.run.ItemsDiscovered,
		Title:   s.run.CurrentTitle,
		Section: section.Title,
		Server:  target.server.Name,
	}
	if elapsed := time.Since(s.syncStart).Seconds(); elapsed > 0 {
		rate := float64(s.processed) / elapsed
		event.ItemsPerSecond = &rate
		if rate > 0 {
			eta := int(float64(s.run.ItemsDiscovered-s.processed) / rate)
			event.ETASeconds = &eta
		}
	}
	s.sink.Send(event)
}

// catalogItemFrom maps a media server item to a catalog row. Episodes inherit
// the show's cross-reference ids, genres and collections.
func catalogItemFrom(serverID string, section plex.Section, entry plex.Item, show *plex.Item) *models.CatalogItem {
	item := &models.CatalogItem{
		ServerID:      serverID,
		RemoteID:      entry.RatingKey,
		IMDBId:        entry.IMDBId,
		TMDBId:        entry.TMDBId,
		TVDBId:        entry.TVDBId,
		Title:         entry.Title,
		ShowTitle:     entry.ShowTitle,
		MediaType:     models.MediaType(entry.Type),
		Year:          entry.Year,
		SeasonNumber:  entry.SeasonNumber,
		EpisodeNumber: entry.EpisodeNumber,
		FileSize:      entry.FileSize,
		Duration:      entry.Duration,
		Rating:        entry.Rating,
		Genres:        entry.Genres,
		Collections:   entry.Collections,
		LibraryName:   section.Title,
		LibraryKey:    section.Key,
		DateAdded:     entry.AddedAt,
		LastSyncedAt:  time.Now(),
	}

	if show != nil {
		item.SeriesTVDBId = show.TVDBId
		item.SeriesTMDBId = show.TMDBId
		if item.ShowTitle == "" {
			item.ShowTitle = show.Title
		}
		if len(item.Genres) == 0 {
			item.Genres = show.Genres
		}
		if len(item.Collections) == 0 {
			item.Collections = show.Collections
		}
		if item.Rating == nil {
			item.Rating = show.Rating
		}
	}
	return item
}

func (s *syncState) cancelled(ctx context.Context) bool {
	return s.cancel.Cancelled() || ctx.Err() != nil
}

func (s *syncState) emit(status models.SyncStatus, message string) {
	s.sink.Send(ProgressEvent{
		RunID:   s.run.ID,
		Status:  status,
		Message: message,
		Current: s.processed,
		Total:   s.run.ItemsDiscovered,
	})
}

func (s *syncState) warn(message string) {
	s.emit(models.SyncStatusWarning, message)
}

func (c *SyncController) fail(s *syncState, err error) (*SyncSummary, error) {
	s.run.Error = err.Error()
	s.span.RecordError(err)
	s.span.SetStatus(codes.Error, err.Error())
	c.finish(s, models.SyncStatusError)
	s.logger.WithError(err).Error("Library sync failed")

	s.sink.Send(ProgressEvent{
		RunID:   s.run.ID,
		Status:  models.SyncStatusError,
		Message: err.Error(),
		Summary: s.summary,
	})
	return s.summary, err
}

func (c *SyncController) finishCancelled(s *syncState) (*SyncSummary, error) {
	c.finish(s, models.SyncStatusCancelled)
	s.logger.WithField("processed", s.processed).Warn("Library sync cancelled, orphan reconciliation skipped")

	s.sink.Send(ProgressEvent{
		RunID:   s.run.ID,
		Status:  models.SyncStatusCancelled,
		Message: "Sync cancelled",
		Current: s.processed,
		Total:   s.run.ItemsDiscovered,
		Summary: s.summary,
	})
	return s.summary, nil
}

func (c *SyncController) finishComplete(s *syncState) *SyncSummary {
	c.finish(s, models.SyncStatusComplete)

	storage, err := c.db.StorageTotals()
	if err != nil {
		s.logger.WithError(err).Warn("Failed to compute storage totals")
	}

	s.logger.WithFields(logrus.Fields{
		"synced":   s.run.ItemsSynced,
		"failed":   s.run.ItemsFailed,
		"orphans":  s.run.OrphansRemoved,
		"duration": s.summary.DurationSeconds,
	}).Info("Library sync completed")

	s.sink.Send(ProgressEvent{
		RunID:   s.run.ID,
		Status:  models.SyncStatusComplete,
		Message: fmt.Sprintf("Synced %d items, removed %d orphans", s.run.ItemsSynced, s.run.OrphansRemoved),
		Current: s.processed,
		Total:   s.run.ItemsDiscovered,
		Summary: s.summary,
		Storage: storage,
	})
	return s.summary
}

// finish stamps the terminal state on the run record and the summary
func (c *SyncController) finish(s *syncState, status models.SyncStatus) {
	now := time.Now()
	s.run.Status = status
	s.run.CompletedAt = &now

	s.summary.Status = status
	s.summary.ServersConnected = s.run.ServersConnected
	s.summary.ServersSkipped = s.run.ServersSkipped
	s.summary.ItemsDiscovered = s.run.ItemsDiscovered
	s.summary.ItemsSynced = s.run.ItemsSynced
	s.summary.ItemsFailed = s.run.ItemsFailed
	s.summary.OrphansRemoved = s.run.OrphansRemoved
	s.summary.Reconciled = s.run.Reconciled
	s.summary.DurationSeconds = s.run.Duration().Seconds()
	s.summary.Error = s.run.Error

	metrics.SyncRuns.WithLabelValues(string(status)).Inc()
	metrics.SyncDuration.Observe(s.summary.DurationSeconds)
	c.saveRun(s)
}

func (c *SyncController) saveRun(s *syncState) {
	if err := c.db.SaveSyncRun(s.run); err != nil {
		s.logger.WithError(err).Warn("Failed to persist sync run")
	}
}
