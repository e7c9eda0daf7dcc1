package controllers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/amaumene/reclaimarr/internal/models"
	"github.com/amaumene/reclaimarr/internal/services/arr"
	"github.com/amaumene/reclaimarr/internal/services/overseerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cleanupFixture struct {
	db       *models.Database
	server   *fakeMediaServer
	resolver *fakeResolver
	series   *fakeManager
	movies   *fakeManager
	broker   *fakeBroker
	ctrl     *CleanupController
}

func newCleanupFixture(t *testing.T) *cleanupFixture {
	t.Helper()
	f := &cleanupFixture{
		db:     newTestDB(t),
		server: &fakeMediaServer{id: "srv"},
		series: &fakeManager{entries: map[string]*arr.Entry{
			"73739": {ID: 7, Title: "Lost", TVDBId: 73739},
		}},
		movies: &fakeManager{entries: map[string]*arr.Entry{
			"348": {ID: 1, Title: "Alien", TMDBId: 348},
		}},
		broker: &fakeBroker{requests: map[string][]overseerr.Request{
			"movie/348": {{ID: 11}, {ID: 12}},
			"tv/4607":   {{ID: 21}},
		}},
	}
	f.resolver = &fakeResolver{servers: map[string]MediaServer{"srv": f.server}}
	evaluator := NewRetentionEvaluator(f.db, testLogger())
	f.ctrl = NewCleanupController(f.db, f.resolver, "token", f.series, f.movies, f.broker, evaluator, 0, testLogger())
	return f
}

func (f *cleanupFixture) seed(t *testing.T, item *models.CatalogItem) *models.CatalogItem {
	t.Helper()
	_, err := f.db.UpsertCatalogItem(item)
	require.NoError(t, err)
	stored, err := f.db.GetCatalogItemByRemoteID(item.ServerID, item.RemoteID)
	require.NoError(t, err)
	return stored
}

func alien() *models.CatalogItem {
	added := time.Now().Add(-365 * 24 * time.Hour)
	return &models.CatalogItem{
		ServerID:  "srv",
		RemoteID:  "m1",
		Title:     "Alien",
		MediaType: models.MediaTypeMovie,
		TMDBId:    "348",
		FileSize:  4096,
		DateAdded: &added,
	}
}

func TestDeleteOneMovieCompletes(t *testing.T) {
	f := newCleanupFixture(t)
	item := f.seed(t, alien())

	event, err := f.ctrl.DeleteOne(context.Background(), item, models.RuleContext{RuleName: "Stale"}, false)
	require.NoError(t, err)

	assert.Equal(t, models.DeletionStatusCompleted, event.OverallStatus)
	assert.True(t, event.MediaServer.Success)
	assert.True(t, event.SeriesManager.Skipped)
	assert.True(t, event.MovieManager.Success)
	assert.True(t, event.RequestBroker.Success)

	assert.Equal(t, []string{"m1"}, f.server.deleted)
	assert.Equal(t, []int{1}, f.movies.deleted)
	assert.Equal(t, []int{11, 12}, f.broker.deleted)
	assert.Zero(t, f.series.callCount())

	events, err := f.db.GetDeletionEventsByItem(item.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, event.ID, events[0].ID)
	assert.Equal(t, "Stale", events[0].Rule.RuleName)
}

func TestDeleteOneMediaServerFailureStopsCascade(t *testing.T) {
	f := newCleanupFixture(t)
	f.server.deleteErr = errors.New("disk busy")
	item := f.seed(t, alien())

	event, err := f.ctrl.DeleteOne(context.Background(), item, models.RuleContext{}, false)
	require.NoError(t, err)

	assert.Equal(t, models.DeletionStatusFailed, event.OverallStatus)
	assert.Contains(t, event.MediaServer.Error, "disk busy")
	for _, outcome := range []models.TargetOutcome{event.SeriesManager, event.MovieManager, event.RequestBroker} {
		assert.True(t, outcome.Skipped)
		assert.Equal(t, "not attempted, media server deletion failed", outcome.Message)
	}
	assert.Zero(t, f.movies.callCount())
	assert.Zero(t, f.series.callCount())
	assert.Zero(t, f.broker.callCount())
}

func TestDeleteOneUnreachableServerFails(t *testing.T) {
	f := newCleanupFixture(t)
	f.resolver.errs = map[string]error{"srv": &models.ResolutionError{ServerID: "srv", Reason: "no candidate address answered"}}
	item := f.seed(t, alien())

	event, err := f.ctrl.DeleteOne(context.Background(), item, models.RuleContext{}, false)
	require.NoError(t, err)
	assert.Equal(t, models.DeletionStatusFailed, event.OverallStatus)
	assert.Zero(t, f.movies.callCount())
}

func TestDeleteOnePartialWhenManagerFails(t *testing.T) {
	f := newCleanupFixture(t)
	f.movies.deleteErr = errors.New("radarr exploded")
	item := f.seed(t, alien())

	event, err := f.ctrl.DeleteOne(context.Background(), item, models.RuleContext{}, false)
	require.NoError(t, err)

	assert.Equal(t, models.DeletionStatusPartial, event.OverallStatus)
	assert.Contains(t, event.MovieManager.Error, "radarr exploded")
	// Later steps still run
	assert.True(t, event.RequestBroker.Success)
	assert.Len(t, f.broker.deleted, 2)
}

func TestDeleteOnePartialWhenRequestDeleteFails(t *testing.T) {
	f := newCleanupFixture(t)
	f.broker.deleteErr = errors.New("overseerr down")
	item := f.seed(t, alien())

	event, err := f.ctrl.DeleteOne(context.Background(), item, models.RuleContext{}, false)
	require.NoError(t, err)

	assert.Equal(t, models.DeletionStatusPartial, event.OverallStatus)
	assert.False(t, event.RequestBroker.Success)
	assert.Contains(t, event.RequestBroker.Error, "request 11")
	assert.Contains(t, event.RequestBroker.Error, "request 12")
}

func TestDeleteOneRetryIsIdempotent(t *testing.T) {
	f := newCleanupFixture(t)
	f.server.fetchErr = models.ErrNotFound
	f.movies.entries = nil
	f.broker.requests = nil
	item := f.seed(t, alien())

	event, err := f.ctrl.DeleteOne(context.Background(), item, models.RuleContext{}, false)
	require.NoError(t, err)

	assert.Equal(t, models.DeletionStatusCompleted, event.OverallStatus)
	assert.Equal(t, "already deleted", event.MediaServer.Message)
	assert.Equal(t, "not tracked", event.MovieManager.Message)
	assert.True(t, event.RequestBroker.Skipped)
	assert.Empty(t, f.server.deleted)
}

func TestDeleteOneDryRunMakesNoCalls(t *testing.T) {
	f := newCleanupFixture(t)
	item := f.seed(t, alien())

	event, err := f.ctrl.DeleteOne(context.Background(), item, models.RuleContext{}, true)
	require.NoError(t, err)

	assert.True(t, event.DryRun)
	assert.Equal(t, models.DeletionStatusCompleted, event.OverallStatus)
	assert.Equal(t, "would delete", event.MediaServer.Message)
	assert.Zero(t, f.resolver.calls)
	assert.Zero(t, f.movies.callCount())
	assert.Zero(t, f.broker.callCount())

	events, err := f.db.GetDeletionEventsByItem(item.ID)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestDeleteOneEpisodeUsesSeriesIDs(t *testing.T) {
	f := newCleanupFixture(t)
	item := f.seed(t, &models.CatalogItem{
		ServerID:     "srv",
		RemoteID:     "e1",
		Title:        "Pilot (1)",
		ShowTitle:    "Lost",
		MediaType:    models.MediaTypeEpisode,
		SeriesTVDBId: "73739",
		SeriesTMDBId: "4607",
	})

	event, err := f.ctrl.DeleteOne(context.Background(), item, models.RuleContext{}, false)
	require.NoError(t, err)

	assert.Equal(t, models.DeletionStatusCompleted, event.OverallStatus)
	assert.Equal(t, "Lost - Pilot (1)", event.Title)
	assert.Equal(t, []string{"73739"}, f.series.lookups)
	assert.Equal(t, []int{7}, f.series.deleted)
	assert.True(t, event.MovieManager.Skipped)
	assert.Zero(t, f.movies.callCount())
	assert.Equal(t, []string{"tv/4607"}, f.broker.lookups)
	assert.Equal(t, []int{21}, f.broker.deleted)
}

func TestDeleteOneWithoutIntegrations(t *testing.T) {
	f := newCleanupFixture(t)
	ctrl := NewCleanupController(f.db, f.resolver, "token", nil, nil, nil, nil, 0, testLogger())
	item := f.seed(t, alien())

	event, err := ctrl.DeleteOne(context.Background(), item, models.RuleContext{}, false)
	require.NoError(t, err)

	assert.Equal(t, models.DeletionStatusCompleted, event.OverallStatus)
	assert.Equal(t, "movie manager not configured", event.MovieManager.Message)
	assert.Equal(t, "request broker not configured", event.RequestBroker.Message)
}

func TestExecuteBatchWithCandidateIDs(t *testing.T) {
	f := newCleanupFixture(t)
	rule := &models.RetentionRule{Enabled: true, Name: "Stale", GracePeriodDays: 30, InactivityThresholdDays: 30}
	require.NoError(t, f.db.CreateRule(rule))
	item := f.seed(t, alien())

	summary, err := f.ctrl.ExecuteBatch(context.Background(), rule.ID, []uint64{item.ID, 999}, false)
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 1, summary.Deleted)
	assert.Equal(t, 1, summary.Skipped)
	assert.Zero(t, summary.Failed)
	assert.Equal(t, int64(4096), summary.TotalSize)
	require.Len(t, summary.Items, 2)
	assert.Equal(t, uint64(999), summary.Items[1].CatalogItemID)
	assert.True(t, summary.Items[1].Skipped)

	stored, err := f.db.GetRule(rule.ID)
	require.NoError(t, err)
	assert.NotNil(t, stored.LastRunAt)
}

func TestExecuteBatchEvaluatesRule(t *testing.T) {
	f := newCleanupFixture(t)
	rule := &models.RetentionRule{Enabled: true, Name: "Stale", GracePeriodDays: 30, InactivityThresholdDays: 30}
	require.NoError(t, f.db.CreateRule(rule))
	f.seed(t, alien())
	recent := time.Now().Add(-24 * time.Hour)
	f.seed(t, &models.CatalogItem{ServerID: "srv", RemoteID: "m2", Title: "New", MediaType: models.MediaTypeMovie, DateAdded: &recent})

	summary, err := f.ctrl.ExecuteBatch(context.Background(), rule.ID, nil, true)
	require.NoError(t, err)

	assert.True(t, summary.DryRun)
	assert.Equal(t, 1, summary.Total)
	assert.Equal(t, 1, summary.Deleted)
	assert.Zero(t, f.resolver.calls)

	stored, err := f.db.GetRule(rule.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.LastRunAt)
}

func TestExecuteBatchCountsFailures(t *testing.T) {
	f := newCleanupFixture(t)
	f.server.deleteErr = errors.New("disk busy")
	rule := &models.RetentionRule{Enabled: true, Name: "Stale"}
	require.NoError(t, f.db.CreateRule(rule))
	item := f.seed(t, alien())

	summary, err := f.ctrl.ExecuteBatch(context.Background(), rule.ID, []uint64{item.ID}, false)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.Zero(t, summary.Deleted)
	assert.Zero(t, summary.TotalSize)
	assert.Contains(t, summary.Items[0].Error, "disk busy")
}

func TestExecuteBatchDryRunOnlyRule(t *testing.T) {
	f := newCleanupFixture(t)
	rule := &models.RetentionRule{Enabled: true, Name: "Preview", DryRunOnly: true}
	require.NoError(t, f.db.CreateRule(rule))

	_, err := f.ctrl.ExecuteBatch(context.Background(), rule.ID, nil, false)
	assert.ErrorIs(t, err, models.ErrDryRunOnly)

	_, err = f.ctrl.ExecuteBatch(context.Background(), rule.ID, nil, true)
	assert.NoError(t, err)
}

func TestExecuteBatchDisabledRule(t *testing.T) {
	f := newCleanupFixture(t)
	rule := &models.RetentionRule{Name: "Paused"}
	require.NoError(t, f.db.CreateRule(rule))
	item := f.seed(t, alien())

	_, err := f.ctrl.ExecuteBatch(context.Background(), rule.ID, []uint64{item.ID}, false)
	assert.ErrorIs(t, err, models.ErrRuleDisabled)
	assert.Zero(t, f.resolver.calls)

	stored, err := f.db.GetRule(rule.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.LastRunAt)

	summary, err := f.ctrl.ExecuteBatch(context.Background(), rule.ID, []uint64{item.ID}, true)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Deleted)
}

func TestExecuteBatchUnknownRule(t *testing.T) {
	f := newCleanupFixture(t)

	_, err := f.ctrl.ExecuteBatch(context.Background(), 42, nil, true)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestRunBatchIgnoresCancellation(t *testing.T) {
	f := newCleanupFixture(t)
	first := f.seed(t, alien())
	second := alien()
	second.RemoteID = "m2"
	second.TMDBId = ""
	second = f.seed(t, second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary := f.ctrl.RunBatch(ctx, &models.RetentionRule{Name: "Stale"}, []models.Candidate{
		{Item: first},
		{Item: second},
	}, false)
	assert.Equal(t, 2, summary.Deleted)
	assert.Equal(t, []string{"m1", "m2"}, f.server.deleted)
}
