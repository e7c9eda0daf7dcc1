package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/amaumene/reclaimarr/internal/controllers"
	"github.com/amaumene/reclaimarr/internal/models"
	"github.com/amaumene/reclaimarr/internal/utils"
	"github.com/sirupsen/logrus"
)

// RulesHandler manages retention rules and runs them
type RulesHandler struct {
	db        *models.Database
	evaluator *controllers.RetentionEvaluator
	cleanup   *controllers.CleanupController
	logger    *logrus.Logger
}

// NewRulesHandler creates a new rules handler
func NewRulesHandler(db *models.Database, evaluator *controllers.RetentionEvaluator, cleanup *controllers.CleanupController, logger *logrus.Logger) *RulesHandler {
	return &RulesHandler{
		db:        db,
		evaluator: evaluator,
		cleanup:   cleanup,
		logger:    logger,
	}
}

// RuleRequest is the body of a rule creation
type RuleRequest struct {
	Name                    string   `json:"name"`
	Enabled                 *bool    `json:"enabled"`
	GracePeriodDays         int      `json:"grace_period_days"`
	InactivityThresholdDays int      `json:"inactivity_threshold_days"`
	ExcludedLibraries       []string `json:"excluded_libraries"`
	ExcludedGenres          []string `json:"excluded_genres"`
	ExcludedCollections     []string `json:"excluded_collections"`
	MinRating               *float64 `json:"min_rating"`
	DryRunOnly              bool     `json:"dry_run_only"`
}

// CandidatesResponse lists the candidates of a rule
type CandidatesResponse struct {
	RuleID     uint64             `json:"rule_id"`
	Count      int                `json:"count"`
	TotalBytes int64              `json:"total_bytes"`
	TotalSize  string             `json:"total_size"`
	Candidates []models.Candidate `json:"candidates"`
}

// ExecuteRequest is the body of a rule execution
type ExecuteRequest struct {
	CandidateIDs []uint64 `json:"candidate_ids"`
	DryRun       *bool    `json:"dry_run"` // Defaults to true
}

// List returns every rule
func (h *RulesHandler) List(w http.ResponseWriter, r *http.Request) {
	rules, err := h.db.ListRules()
	if err != nil {
		h.logger.WithError(err).Error("Failed to list rules")
		writeError(w, http.StatusInternalServerError, "failed to list rules", h.logger)
		return
	}
	if rules == nil {
		rules = []*models.RetentionRule{}
	}
	writeJSON(w, http.StatusOK, rules, h.logger)
}

// Create stores a new rule
func (h *RulesHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req RuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid rule payload", h.logger)
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required", h.logger)
		return
	}
	if req.GracePeriodDays < 0 || req.InactivityThresholdDays < 0 {
		writeError(w, http.StatusBadRequest, "day thresholds must not be negative", h.logger)
		return
	}

	rule := &models.RetentionRule{
		Name:                    req.Name,
		Enabled:                 req.Enabled == nil || *req.Enabled,
		GracePeriodDays:         req.GracePeriodDays,
		InactivityThresholdDays: req.InactivityThresholdDays,
		ExcludedLibraries:       req.ExcludedLibraries,
		ExcludedGenres:          req.ExcludedGenres,
		ExcludedCollections:     req.ExcludedCollections,
		MinRating:               req.MinRating,
		DryRunOnly:              req.DryRunOnly,
	}
	if err := h.db.CreateRule(rule); err != nil {
		h.logger.WithError(err).Error("Failed to create rule")
		writeError(w, http.StatusInternalServerError, "failed to create rule", h.logger)
		return
	}

	h.logger.WithFields(logrus.Fields{
		"rule_id": rule.ID,
		"name":    rule.Name,
	}).Info("Retention rule created")
	writeJSON(w, http.StatusCreated, rule, h.logger)
}

// Candidates evaluates a rule against the catalog
func (h *RulesHandler) Candidates(w http.ResponseWriter, r *http.Request) {
	rule, ok := h.loadRule(w, r)
	if !ok {
		return
	}

	candidates, err := h.evaluator.Evaluate(rule, time.Now())
	if err != nil {
		h.logger.WithError(err).Error("Failed to evaluate rule")
		writeError(w, http.StatusInternalServerError, "failed to evaluate rule", h.logger)
		return
	}

	response := CandidatesResponse{
		RuleID:     rule.ID,
		Count:      len(candidates),
		Candidates: candidates,
	}
	if response.Candidates == nil {
		response.Candidates = []models.Candidate{}
	}
	for _, candidate := range candidates {
		response.TotalBytes += candidate.Item.FileSize
	}
	response.TotalSize = utils.FormatBytes(response.TotalBytes)

	writeJSON(w, http.StatusOK, response, h.logger)
}

// Execute runs the cascade over a rule's candidates
func (h *RulesHandler) Execute(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid rule id", h.logger)
		return
	}

	var req ExecuteRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid execute payload", h.logger)
			return
		}
	}
	dryRun := req.DryRun == nil || *req.DryRun

	// A batch outlives the server write timeout; the summary must still reach the caller
	if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil {
		h.logger.WithError(err).Debug("Could not clear write deadline for rule execution")
	}

	summary, err := h.cleanup.ExecuteBatch(r.Context(), id, req.CandidateIDs, dryRun)
	switch {
	case errors.Is(err, models.ErrNotFound):
		writeError(w, http.StatusNotFound, "rule not found", h.logger)
		return
	case errors.Is(err, models.ErrDryRunOnly), errors.Is(err, models.ErrRuleDisabled):
		writeError(w, http.StatusConflict, err.Error(), h.logger)
		return
	case err != nil:
		h.logger.WithError(err).WithField("rule_id", id).Error("Failed to execute rule")
		writeError(w, http.StatusInternalServerError, "failed to execute rule", h.logger)
		return
	}

	writeJSON(w, http.StatusOK, summary, h.logger)
}

func (h *RulesHandler) loadRule(w http.ResponseWriter, r *http.Request) (*models.RetentionRule, bool) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid rule id", h.logger)
		return nil, false
	}

	rule, err := h.db.GetRule(id)
	if errors.Is(err, models.ErrNotFound) {
		writeError(w, http.StatusNotFound, "rule not found", h.logger)
		return nil, false
	}
	if err != nil {
		h.logger.WithError(err).WithField("rule_id", id).Error("Failed to load rule")
		writeError(w, http.StatusInternalServerError, "failed to load rule", h.logger)
		return nil, false
	}
	return rule, true
}
