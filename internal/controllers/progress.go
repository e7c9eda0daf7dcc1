package controllers

import (
	"sync/atomic"

	"github.com/amaumene/reclaimarr/internal/models"
	"github.com/sirupsen/logrus"
)

// ProgressEvent is one structured update of a sync run
type ProgressEvent struct {
	RunID          string                `json:"run_id"`
	Status         models.SyncStatus     `json:"status"`
	Message        string                `json:"message,omitempty"`
	Current        int                   `json:"current"`
	Total          int                   `json:"total"`
	Title          string                `json:"title,omitempty"`
	Section        string                `json:"section,omitempty"`
	Server         string                `json:"server,omitempty"`
	ETASeconds     *int                  `json:"eta_seconds,omitempty"`
	ItemsPerSecond *float64              `json:"items_per_second,omitempty"`
	Summary        *SyncSummary          `json:"summary,omitempty"`
	Storage        *models.StorageTotals `json:"storage,omitempty"`
}

// ProgressSink receives the events of a sync run. The last event is always terminal.
type ProgressSink interface {
	Send(event ProgressEvent)
}

// ProgressFunc adapts a function to ProgressSink
type ProgressFunc func(event ProgressEvent)

// Send calls f(event)
func (f ProgressFunc) Send(event ProgressEvent) {
	f(event)
}

// LogSink writes progress events to the logger, throttling per-item updates
type LogSink struct {
	logger *logrus.Logger
	every  int
}

// NewLogSink creates a sink logging one syncing event out of every n
func NewLogSink(logger *logrus.Logger, every int) *LogSink {
	if every <= 0 {
		every = 100
	}
	return &LogSink{logger: logger, every: every}
}

// Send logs the event
func (s *LogSink) Send(event ProgressEvent) {
	entry := s.logger.WithFields(logrus.Fields{
		"run_id":  event.RunID,
		"status":  event.Status,
		"current": event.Current,
		"total":   event.Total,
	})

	switch event.Status {
	case models.SyncStatusSyncing:
		if event.Current%s.every != 0 {
			return
		}
		if event.ETASeconds != nil {
			entry = entry.WithField("eta_seconds", *event.ETASeconds)
		}
		entry.WithField("title", event.Title).Info("Sync progress")
	case models.SyncStatusWarning:
		entry.Warn(event.Message)
	case models.SyncStatusError:
		entry.Error(event.Message)
	default:
		entry.Info(event.Message)
	}
}

// CancelToken is a cooperative cancellation flag owned by the caller of a sync run
type CancelToken struct {
	cancelled atomic.Bool
}

// NewCancelToken creates an unset token
func NewCancelToken() *CancelToken {
	return &CancelToken{}
}

// Cancel requests cancellation; the run observes it before its next item
func (t *CancelToken) Cancel() {
	t.cancelled.Store(true)
}

// Cancelled reports whether cancellation was requested
func (t *CancelToken) Cancelled() bool {
	return t != nil && t.cancelled.Load()
}
