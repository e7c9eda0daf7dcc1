package models

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDatabase(t *testing.T) *Database {
	t.Helper()
	db, err := NewDatabase(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func movie(serverID, remoteID, title string, size int64) *CatalogItem {
	return &CatalogItem{
		ServerID:  serverID,
		RemoteID:  remoteID,
		Title:     title,
		MediaType: MediaTypeMovie,
		FileSize:  size,
	}
}

func TestUpsertCatalogItemIsIdempotent(t *testing.T) {
	db := newTestDatabase(t)

	created, err := db.UpsertCatalogItem(movie("srv", "1", "Alien", 100))
	require.NoError(t, err)
	assert.True(t, created)

	first, err := db.GetCatalogItemByRemoteID("srv", "1")
	require.NoError(t, err)

	created, err = db.UpsertCatalogItem(movie("srv", "1", "Alien (Director's Cut)", 200))
	require.NoError(t, err)
	assert.False(t, created)

	items, err := db.ListCatalogItems()
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, first.ID, items[0].ID)
	assert.Equal(t, "Alien (Director's Cut)", items[0].Title)
	assert.Equal(t, int64(200), items[0].FileSize)
	assert.Equal(t, first.CreatedAt.Unix(), items[0].CreatedAt.Unix())
}

func TestUpsertCatalogItemKeysByServer(t *testing.T) {
	db := newTestDatabase(t)

	_, err := db.UpsertCatalogItem(movie("a", "1", "Alien", 100))
	require.NoError(t, err)
	_, err = db.UpsertCatalogItem(movie("b", "1", "Alien", 100))
	require.NoError(t, err)

	items, err := db.ListCatalogItems()
	require.NoError(t, err)
	assert.Len(t, items, 2)
}

func TestUpsertPreservesWatchStats(t *testing.T) {
	db := newTestDatabase(t)

	_, err := db.UpsertCatalogItem(movie("srv", "1", "Alien", 100))
	require.NoError(t, err)

	watched := time.Date(2024, 3, 1, 20, 0, 0, 0, time.UTC)
	updated, err := db.UpdateWatchStats("1", WatchStats{PlayCount: 3, LastWatchedAt: &watched, WatchTimeSeconds: 7200})
	require.NoError(t, err)
	assert.Equal(t, 1, updated)

	_, err = db.UpsertCatalogItem(movie("srv", "1", "Alien", 150))
	require.NoError(t, err)

	item, err := db.GetCatalogItemByRemoteID("srv", "1")
	require.NoError(t, err)
	assert.Equal(t, 3, item.TotalPlayCount)
	assert.Equal(t, int64(7200), item.TotalWatchTimeSeconds)
	require.NotNil(t, item.LastWatchedAt)
	assert.True(t, watched.Equal(*item.LastWatchedAt))
	assert.Equal(t, int64(150), item.FileSize)
}

func TestUpdateWatchStatsUnknownKey(t *testing.T) {
	db := newTestDatabase(t)

	updated, err := db.UpdateWatchStats("missing", WatchStats{PlayCount: 1})
	require.NoError(t, err)
	assert.Zero(t, updated)
}

func TestRemoveOrphans(t *testing.T) {
	db := newTestDatabase(t)

	for _, id := range []string{"1", "2", "3"} {
		_, err := db.UpsertCatalogItem(movie("srv", id, "Movie "+id, 10))
		require.NoError(t, err)
	}

	seen := map[string]struct{}{
		CatalogSyncKey("srv", "1"): {},
		CatalogSyncKey("srv", "3"): {},
	}
	removed, err := db.RemoveOrphans(seen)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = db.GetCatalogItemByRemoteID("srv", "2")
	assert.ErrorIs(t, err, ErrNotFound)

	items, err := db.ListCatalogItems()
	require.NoError(t, err)
	assert.Len(t, items, 2)
}

func TestGetCatalogItemsSkipsMissing(t *testing.T) {
	db := newTestDatabase(t)

	_, err := db.UpsertCatalogItem(movie("srv", "1", "Alien", 100))
	require.NoError(t, err)
	item, err := db.GetCatalogItemByRemoteID("srv", "1")
	require.NoError(t, err)

	items, err := db.GetCatalogItems([]uint64{item.ID, item.ID + 1000})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Alien", items[0].Title)

	_, err = db.GetCatalogItem(item.ID + 1000)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStorageTotals(t *testing.T) {
	db := newTestDatabase(t)

	_, err := db.UpsertCatalogItem(movie("srv", "1", "Alien", 100))
	require.NoError(t, err)
	_, err = db.UpsertCatalogItem(&CatalogItem{ServerID: "srv", RemoteID: "2", Title: "Pilot", MediaType: MediaTypeEpisode, FileSize: 30})
	require.NoError(t, err)

	totals, err := db.StorageTotals()
	require.NoError(t, err)
	assert.Equal(t, 2, totals.TotalItems)
	assert.Equal(t, int64(130), totals.TotalBytes)
	assert.Equal(t, int64(100), totals.BytesByType[MediaTypeMovie])
	assert.Equal(t, 1, totals.ItemsByType[MediaTypeEpisode])
}

func TestDeletionEventsAreAppendOnly(t *testing.T) {
	db := newTestDatabase(t)

	first := &DeletionEvent{CatalogItemID: 7, Title: "Alien", OverallStatus: DeletionStatusFailed}
	require.NoError(t, db.InsertDeletionEvent(first))
	require.NotEmpty(t, first.ID)

	second := &DeletionEvent{CatalogItemID: 7, Title: "Alien", OverallStatus: DeletionStatusCompleted, CreatedAt: first.CreatedAt.Add(time.Second)}
	require.NoError(t, db.InsertDeletionEvent(second))
	assert.NotEqual(t, first.ID, second.ID)

	duplicate := &DeletionEvent{ID: first.ID, CatalogItemID: 7, OverallStatus: DeletionStatusCompleted}
	assert.Error(t, db.InsertDeletionEvent(duplicate))

	events, err := db.GetDeletionEventsByItem(7)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, DeletionStatusFailed, events[0].OverallStatus)
	assert.Equal(t, DeletionStatusCompleted, events[1].OverallStatus)

	recent, err := db.ListDeletionEvents(1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, second.ID, recent[0].ID)
}

func TestEndpoints(t *testing.T) {
	db := newTestDatabase(t)

	_, err := db.GetEndpoint("abc")
	assert.ErrorIs(t, err, ErrNotFound)

	endpoint := &ServerEndpoint{ServerID: "abc", Name: "Home", Address: "http://10.0.0.2:32400", LastVerifiedAt: time.Now()}
	require.NoError(t, db.SaveEndpoint(endpoint))

	endpoint.Address = "https://remote:32400"
	require.NoError(t, db.SaveEndpoint(endpoint))

	stored, err := db.GetEndpoint("abc")
	require.NoError(t, err)
	assert.Equal(t, "https://remote:32400", stored.Address)
	assert.True(t, stored.Fresh(time.Now(), time.Hour))
	assert.False(t, stored.Fresh(time.Now().Add(2*time.Hour), time.Hour))

	endpoints, err := db.ListEndpoints()
	require.NoError(t, err)
	assert.Len(t, endpoints, 1)
}

func TestRules(t *testing.T) {
	db := newTestDatabase(t)

	rule := &RetentionRule{Name: "Stale", Enabled: true, GracePeriodDays: 30}
	require.NoError(t, db.CreateRule(rule))

	rules, err := db.ListRules()
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "Stale", rules[0].Name)

	stored, err := db.GetRule(rules[0].ID)
	require.NoError(t, err)
	now := time.Now()
	stored.LastRunAt = &now
	require.NoError(t, db.UpdateRule(stored))

	reloaded, err := db.GetRule(stored.ID)
	require.NoError(t, err)
	assert.NotNil(t, reloaded.LastRunAt)

	_, err = db.GetRule(stored.ID + 100)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeletionEventAggregate(t *testing.T) {
	ok := TargetOutcome{Success: true}
	skipped := TargetOutcome{Skipped: true}
	failed := TargetOutcome{Error: "boom"}

	tests := []struct {
		name  string
		event DeletionEvent
		want  DeletionStatus
	}{
		{"media server failed", DeletionEvent{MediaServer: failed, SeriesManager: skipped, MovieManager: skipped, RequestBroker: skipped}, DeletionStatusFailed},
		{"all succeeded", DeletionEvent{MediaServer: ok, SeriesManager: skipped, MovieManager: ok, RequestBroker: ok}, DeletionStatusCompleted},
		{"later step failed", DeletionEvent{MediaServer: ok, SeriesManager: skipped, MovieManager: failed, RequestBroker: ok}, DeletionStatusPartial},
		{"benign not found", DeletionEvent{MediaServer: ok, SeriesManager: TargetOutcome{Success: true, Skipped: true}, MovieManager: skipped, RequestBroker: skipped}, DeletionStatusCompleted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.event.Aggregate())
		})
	}
}
