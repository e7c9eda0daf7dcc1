package models

import "time"

// RetentionRule is the policy a retention scan evaluates the catalog against
type RetentionRule struct {
	ID      uint64 `boltholdKey:"ID"`
	Name    string
	Enabled bool

	GracePeriodDays         int // Item must be at least this old by DateAdded
	InactivityThresholdDays int // No watch activity more recent than this

	ExcludedLibraries   []string
	ExcludedGenres      []string
	ExcludedCollections []string
	MinRating           *float64 // Items rated at or above are protected

	DryRunOnly bool

	LastRunAt *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Candidate is a catalog item satisfying every condition of a rule
type Candidate struct {
	Item              *CatalogItem `json:"item"`
	DaysSinceAdded    int          `json:"days_since_added"`
	DaysSinceActivity int          `json:"days_since_activity"`
	ViewCount         int          `json:"view_count"`
}

// RuleContext builds the audit context of a candidate
func (c Candidate) RuleContext(rule *RetentionRule) RuleContext {
	ctx := RuleContext{
		DaysSinceAdded:    c.DaysSinceAdded,
		DaysSinceActivity: c.DaysSinceActivity,
		ViewCount:         c.ViewCount,
	}
	if rule != nil {
		ctx.RuleID = rule.ID
		ctx.RuleName = rule.Name
	}
	return ctx
}
