package models

import "time"

// TargetOutcome is the result of one cascade step
type TargetOutcome struct {
	Success bool   `json:"success"`
	Skipped bool   `json:"skipped"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Applicable reports whether the step counts toward the aggregated status
func (o TargetOutcome) Applicable() bool {
	return !o.Skipped
}

// RuleContext describes why an item was selected for deletion
type RuleContext struct {
	RuleID            uint64 `json:"rule_id"`
	RuleName          string `json:"rule_name"`
	DaysSinceAdded    int    `json:"days_since_added"`
	DaysSinceActivity int    `json:"days_since_activity"`
	ViewCount         int    `json:"view_count"`
}

// DeletionEvent is the immutable audit record of one cascade deletion attempt
type DeletionEvent struct {
	ID            string `boltholdKey:"ID"`
	CatalogItemID uint64 `boltholdIndex:"CatalogItemID"`
	ServerID      string
	RemoteID      string
	Title         string
	MediaType     MediaType
	FileSize      int64
	DryRun        bool

	Rule RuleContext

	MediaServer   TargetOutcome
	SeriesManager TargetOutcome
	MovieManager  TargetOutcome
	RequestBroker TargetOutcome

	OverallStatus DeletionStatus `boltholdIndex:"OverallStatus"`
	CreatedAt     time.Time
}

// Aggregate derives the overall status from the per-target outcomes
func (e *DeletionEvent) Aggregate() DeletionStatus {
	if !e.MediaServer.Success {
		return DeletionStatusFailed
	}
	for _, outcome := range []TargetOutcome{e.SeriesManager, e.MovieManager, e.RequestBroker} {
		if outcome.Applicable() && !outcome.Success {
			return DeletionStatusPartial
		}
	}
	return DeletionStatusCompleted
}
