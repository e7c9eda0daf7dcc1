package controllers

import (
	"fmt"
	"time"

	"github.com/amaumene/reclaimarr/internal/models"
	"github.com/amaumene/reclaimarr/internal/utils"
	"github.com/sirupsen/logrus"
)

// RetentionEvaluator selects the catalog items a retention rule makes eligible for deletion.
// It only reads the catalog.
type RetentionEvaluator struct {
	db     *models.Database
	logger *logrus.Logger
}

// NewRetentionEvaluator creates a new retention evaluator
func NewRetentionEvaluator(db *models.Database, logger *logrus.Logger) *RetentionEvaluator {
	return &RetentionEvaluator{db: db, logger: logger}
}

// Evaluate returns the candidates of rule as of asOf, in catalog order
func (e *RetentionEvaluator) Evaluate(rule *models.RetentionRule, asOf time.Time) ([]models.Candidate, error) {
	items, err := e.db.ListCatalogItems()
	if err != nil {
		return nil, fmt.Errorf("failed to list catalog items: %w", err)
	}

	var candidates []models.Candidate
	for _, item := range items {
		if candidate, ok := EvaluateItem(rule, item, asOf); ok {
			candidates = append(candidates, candidate)
		}
	}

	e.logger.WithFields(logrus.Fields{
		"rule":       rule.Name,
		"scanned":    len(items),
		"candidates": len(candidates),
	}).Info("Retention rule evaluated")

	return candidates, nil
}

// EvaluateItem applies rule to a single item
func EvaluateItem(rule *models.RetentionRule, item *models.CatalogItem, asOf time.Time) (models.Candidate, bool) {
	if item.DateAdded == nil {
		return models.Candidate{}, false
	}

	// Too new
	daysSinceAdded := daysBetween(*item.DateAdded, asOf)
	if daysSinceAdded < rule.GracePeriodDays {
		return models.Candidate{}, false
	}

	// Never-watched items use their add date as last activity
	lastActivity := *item.DateAdded
	if item.LastWatchedAt != nil {
		lastActivity = *item.LastWatchedAt
	}
	daysSinceActivity := daysBetween(lastActivity, asOf)
	if daysSinceActivity < rule.InactivityThresholdDays {
		return models.Candidate{}, false
	}

	if rule.MinRating != nil && item.Rating != nil && *item.Rating >= *rule.MinRating {
		return models.Candidate{}, false
	}

	if utils.LabelsMatch(rule.ExcludedLibraries, []string{item.LibraryName}) ||
		utils.LabelsMatch(rule.ExcludedGenres, item.Genres) ||
		utils.LabelsMatch(rule.ExcludedCollections, item.Collections) {
		return models.Candidate{}, false
	}

	return models.Candidate{
		Item:              item,
		DaysSinceAdded:    daysSinceAdded,
		DaysSinceActivity: daysSinceActivity,
		ViewCount:         item.TotalPlayCount,
	}, true
}

// CandidateFor builds the audit fields of an item without applying a rule
func CandidateFor(item *models.CatalogItem, asOf time.Time) models.Candidate {
	candidate := models.Candidate{Item: item, ViewCount: item.TotalPlayCount}
	if item.DateAdded != nil {
		candidate.DaysSinceAdded = daysBetween(*item.DateAdded, asOf)
		candidate.DaysSinceActivity = candidate.DaysSinceAdded
	}
	if item.LastWatchedAt != nil {
		candidate.DaysSinceActivity = daysBetween(*item.LastWatchedAt, asOf)
	}
	return candidate
}

// daysBetween returns the number of whole days from from to to
func daysBetween(from, to time.Time) int {
	return int(to.Sub(from).Hours() / 24)
}
