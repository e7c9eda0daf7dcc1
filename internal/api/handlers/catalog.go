package handlers

import (
	"net/http"

	"github.com/amaumene/reclaimarr/internal/models"
	"github.com/sirupsen/logrus"
)

// ConnectionStatser summarizes media server reachability
type ConnectionStatser interface {
	Stats() (*models.ConnectionStats, error)
}

// CatalogHandler serves read-only views of the catalog store
type CatalogHandler struct {
	db          *models.Database
	connections ConnectionStatser
	logger      *logrus.Logger
}

// NewCatalogHandler creates a new catalog handler
func NewCatalogHandler(db *models.Database, connections ConnectionStatser, logger *logrus.Logger) *CatalogHandler {
	return &CatalogHandler{db: db, connections: connections, logger: logger}
}

// Storage returns the storage totals of the catalog
func (h *CatalogHandler) Storage(w http.ResponseWriter, r *http.Request) {
	totals, err := h.db.StorageTotals()
	if err != nil {
		h.logger.WithError(err).Error("Failed to compute storage totals")
		writeError(w, http.StatusInternalServerError, "failed to compute storage totals", h.logger)
		return
	}
	writeJSON(w, http.StatusOK, totals, h.logger)
}

// Connections returns the reachability of every known media server
func (h *CatalogHandler) Connections(w http.ResponseWriter, r *http.Request) {
	stats, err := h.connections.Stats()
	if err != nil {
		h.logger.WithError(err).Error("Failed to compute connection stats")
		writeError(w, http.StatusInternalServerError, "failed to compute connection stats", h.logger)
		return
	}
	writeJSON(w, http.StatusOK, stats, h.logger)
}

// Deletions returns the most recent deletion audit records
func (h *CatalogHandler) Deletions(w http.ResponseWriter, r *http.Request) {
	events, err := h.db.ListDeletionEvents(queryLimit(r, 50))
	if err != nil {
		h.logger.WithError(err).Error("Failed to list deletion events")
		writeError(w, http.StatusInternalServerError, "failed to list deletion events", h.logger)
		return
	}
	if events == nil {
		events = []*models.DeletionEvent{}
	}
	writeJSON(w, http.StatusOK, events, h.logger)
}
