package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/amaumene/reclaimarr/internal/controllers"
	"github.com/amaumene/reclaimarr/internal/models"
	"github.com/sirupsen/logrus"
)

// SyncRunner starts a library sync run
type SyncRunner interface {
	Run(ctx context.Context, token string, sink controllers.ProgressSink, cancel *controllers.CancelToken) (*controllers.SyncSummary, error)
}

// SyncHandler streams sync runs to clients and tracks the cancel token of each active run
type SyncHandler struct {
	runner SyncRunner
	db     *models.Database
	token  string
	logger *logrus.Logger

	mu     sync.Mutex
	active map[string]*controllers.CancelToken
}

// NewSyncHandler creates a new sync handler
func NewSyncHandler(runner SyncRunner, db *models.Database, token string, logger *logrus.Logger) *SyncHandler {
	return &SyncHandler{
		runner: runner,
		db:     db,
		token:  token,
		logger: logger,
		active: make(map[string]*controllers.CancelToken),
	}
}

// Stream starts a sync run and pushes its progress as server-sent events.
// A client disconnect cancels the run.
func (h *SyncHandler) Stream(w http.ResponseWriter, r *http.Request) {
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		h.logger.WithError(err).Debug("Could not clear write deadline for event stream")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		h.logger.WithError(err).Error("Streaming not supported")
		return
	}

	token := controllers.NewCancelToken()
	sink := &eventStream{w: w, rc: rc, logger: h.logger}
	var runID string

	_, err := h.runner.Run(r.Context(), h.token, controllers.ProgressFunc(func(event controllers.ProgressEvent) {
		if runID == "" && event.RunID != "" {
			runID = event.RunID
			h.register(runID, token)
		}
		sink.Send(event)
	}), token)

	if runID != "" {
		h.unregister(runID)
	}
	if err != nil {
		h.logger.WithError(err).WithField("run_id", runID).Warn("Streamed sync ended with an error")
	}
}

// Cancel requests cancellation of an active run
func (h *SyncHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")

	h.mu.Lock()
	token, ok := h.active[runID]
	h.mu.Unlock()

	if !ok {
		writeError(w, http.StatusNotFound, "no active sync run "+runID, h.logger)
		return
	}

	token.Cancel()
	h.logger.WithField("run_id", runID).Info("Sync cancellation requested")
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": runID, "status": "cancelling"}, h.logger)
}

// Runs lists the most recent sync runs
func (h *SyncHandler) Runs(w http.ResponseWriter, r *http.Request) {
	runs, err := h.db.ListSyncRuns(queryLimit(r, 20))
	if err != nil {
		h.logger.WithError(err).Error("Failed to list sync runs")
		writeError(w, http.StatusInternalServerError, "failed to list sync runs", h.logger)
		return
	}
	if runs == nil {
		runs = []*models.SyncRun{}
	}
	writeJSON(w, http.StatusOK, runs, h.logger)
}

func (h *SyncHandler) register(runID string, token *controllers.CancelToken) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.active[runID] = token
}

func (h *SyncHandler) unregister(runID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.active, runID)
}

// eventStream writes progress events in text/event-stream framing
type eventStream struct {
	w      http.ResponseWriter
	rc     *http.ResponseController
	failed bool
	logger *logrus.Logger
}

// Send writes one event and flushes it. Writes stop after the first failure.
func (s *eventStream) Send(event controllers.ProgressEvent) {
	if s.failed {
		return
	}

	data, err := json.Marshal(event)
	if err != nil {
		s.logger.WithError(err).Warn("Failed to encode progress event")
		return
	}

	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event.Status, data); err != nil {
		s.failed = true
		s.logger.WithError(err).Debug("Event stream closed by client")
		return
	}
	if err := s.rc.Flush(); err != nil {
		s.failed = true
	}
}
