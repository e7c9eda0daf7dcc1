package handlers

import (
	"net/http"

	"github.com/amaumene/reclaimarr/internal/models"
	"github.com/amaumene/reclaimarr/internal/utils"
	"github.com/sirupsen/logrus"
)

// StatusHandler handles status requests
type StatusHandler struct {
	db     *models.Database
	logger *logrus.Logger
}

// NewStatusHandler creates a new status handler
func NewStatusHandler(db *models.Database, logger *logrus.Logger) *StatusHandler {
	return &StatusHandler{
		db:     db,
		logger: logger,
	}
}

// StatusResponse represents the status response
type StatusResponse struct {
	TotalItems  int                      `json:"total_items"`
	TotalBytes  int64                    `json:"total_bytes"`
	TotalSize   string                   `json:"total_size"`
	ItemsByType map[models.MediaType]int `json:"items_by_type"`
	Rules       int                      `json:"rules"`
	LastSync    *models.SyncRun          `json:"last_sync,omitempty"`
	Deletions   map[string]int           `json:"deletions"`
}

// ServeHTTP handles the status endpoint
func (h *StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	totals, err := h.db.StorageTotals()
	if err != nil {
		h.logger.WithError(err).Error("Failed to compute storage totals")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	rules, err := h.db.ListRules()
	if err != nil {
		h.logger.WithError(err).Error("Failed to list rules")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	runs, err := h.db.ListSyncRuns(1)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list sync runs")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	events, err := h.db.ListDeletionEvents(0)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list deletion events")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	response := StatusResponse{
		TotalItems:  totals.TotalItems,
		TotalBytes:  totals.TotalBytes,
		TotalSize:   utils.FormatBytes(totals.TotalBytes),
		ItemsByType: totals.ItemsByType,
		Rules:       len(rules),
		Deletions:   make(map[string]int),
	}
	if len(runs) > 0 {
		response.LastSync = runs[0]
	}
	for _, event := range events {
		// Count by status
		key := string(event.OverallStatus)
		if event.DryRun {
			key = "dry_run"
		}
		response.Deletions[key]++
	}

	writeJSON(w, http.StatusOK, response, h.logger)
}
