package models

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/timshannon/bolthold"
	"go.etcd.io/bbolt"
)

// Database wraps the bolthold store
type Database struct {
	store *bolthold.Store
}

// NewDatabase creates a new database connection
func NewDatabase(path string) (*Database, error) {
	store, err := bolthold.Open(path, 0600, &bolthold.Options{
		Options: &bbolt.Options{
			Timeout: 1 * time.Second,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return &Database{store: store}, nil
}

// Close closes the database connection
func (db *Database) Close() error {
	return db.store.Close()
}

func notFound(err error) error {
	if errors.Is(err, bolthold.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

// Catalog operations

// UpsertCatalogItem inserts or replaces the item stored under (ServerID, RemoteID).
// The local ID, creation time and watch metrics of an existing row are preserved.
func (db *Database) UpsertCatalogItem(item *CatalogItem) (created bool, err error) {
	item.SyncKey = CatalogSyncKey(item.ServerID, item.RemoteID)
	now := time.Now()

	err = db.store.Bolt().Update(func(tx *bbolt.Tx) error {
		var existing []CatalogItem
		query := bolthold.Where("SyncKey").Eq(item.SyncKey).Index("SyncKey")
		if err := db.store.TxFind(tx, &existing, query); err != nil {
			return err
		}

		if len(existing) == 0 {
			item.CreatedAt = now
			item.UpdatedAt = now
			created = true
			return db.store.TxInsert(tx, bolthold.NextSequence(), item)
		}

		current := existing[0]
		item.ID = current.ID
		item.CreatedAt = current.CreatedAt
		item.UpdatedAt = now
		item.TotalPlayCount = current.TotalPlayCount
		item.LastWatchedAt = current.LastWatchedAt
		item.TotalWatchTimeSeconds = current.TotalWatchTimeSeconds
		return db.store.TxUpdate(tx, current.ID, item)
	})
	if err != nil {
		return false, fmt.Errorf("failed to upsert catalog item %s: %w", item.SyncKey, err)
	}
	return created, nil
}

// GetCatalogItem retrieves a catalog item by local ID
func (db *Database) GetCatalogItem(id uint64) (*CatalogItem, error) {
	var item CatalogItem
	if err := db.store.Get(id, &item); err != nil {
		return nil, notFound(err)
	}
	return &item, nil
}

// GetCatalogItemByRemoteID retrieves a catalog item by its upsert key
func (db *Database) GetCatalogItemByRemoteID(serverID, remoteID string) (*CatalogItem, error) {
	var item CatalogItem
	query := bolthold.Where("SyncKey").Eq(CatalogSyncKey(serverID, remoteID)).Index("SyncKey")
	if err := db.store.FindOne(&item, query); err != nil {
		return nil, notFound(err)
	}
	return &item, nil
}

// GetCatalogItems retrieves the given catalog items, silently omitting missing IDs
func (db *Database) GetCatalogItems(ids []uint64) ([]*CatalogItem, error) {
	items := make([]*CatalogItem, 0, len(ids))
	for _, id := range ids {
		item, err := db.GetCatalogItem(id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

// ListCatalogItems retrieves every catalog item ordered by local ID
func (db *Database) ListCatalogItems() ([]*CatalogItem, error) {
	var items []*CatalogItem
	if err := db.store.Find(&items, nil); err != nil {
		return nil, err
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

// RemoveOrphans deletes every catalog item whose sync key is not in seen
func (db *Database) RemoveOrphans(seen map[string]struct{}) (int, error) {
	removed := 0
	err := db.store.Bolt().Update(func(tx *bbolt.Tx) error {
		var items []CatalogItem
		if err := db.store.TxFind(tx, &items, nil); err != nil {
			return err
		}
		for _, item := range items {
			if _, ok := seen[item.SyncKey]; ok {
				continue
			}
			if err := db.store.TxDelete(tx, item.ID, &CatalogItem{}); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to remove orphans: %w", err)
	}
	return removed, nil
}

// WatchStats holds aggregated watch metrics for one remote item
type WatchStats struct {
	PlayCount        int
	LastWatchedAt    *time.Time
	WatchTimeSeconds int64
}

// UpdateWatchStats writes watch metrics on every catalog item carrying remoteID.
// Only the watch metric fields are touched.
func (db *Database) UpdateWatchStats(remoteID string, stats WatchStats) (int, error) {
	updated := 0
	err := db.store.Bolt().Update(func(tx *bbolt.Tx) error {
		var items []CatalogItem
		query := bolthold.Where("RemoteID").Eq(remoteID).Index("RemoteID")
		if err := db.store.TxFind(tx, &items, query); err != nil {
			return err
		}
		for i := range items {
			item := &items[i]
			item.TotalPlayCount = stats.PlayCount
			item.LastWatchedAt = stats.LastWatchedAt
			item.TotalWatchTimeSeconds = stats.WatchTimeSeconds
			item.UpdatedAt = time.Now()
			if err := db.store.TxUpdate(tx, item.ID, item); err != nil {
				return err
			}
			updated++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to update watch stats for %s: %w", remoteID, err)
	}
	return updated, nil
}

// StorageTotals aggregates storage usage over the whole catalog
func (db *Database) StorageTotals() (*StorageTotals, error) {
	items, err := db.ListCatalogItems()
	if err != nil {
		return nil, err
	}

	totals := &StorageTotals{
		TotalItems:  len(items),
		BytesByType: make(map[MediaType]int64),
		ItemsByType: make(map[MediaType]int),
	}
	for _, item := range items {
		totals.TotalBytes += item.FileSize
		totals.BytesByType[item.MediaType] += item.FileSize
		totals.ItemsByType[item.MediaType]++
	}
	return totals, nil
}

// Deletion event operations

// InsertDeletionEvent appends an audit record. Existing records are never overwritten.
func (db *Database) InsertDeletionEvent(event *DeletionEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	if err := db.store.Insert(event.ID, event); err != nil {
		return fmt.Errorf("failed to insert deletion event %s: %w", event.ID, err)
	}
	return nil
}

// ListDeletionEvents retrieves the most recent audit records, newest first
func (db *Database) ListDeletionEvents(limit int) ([]*DeletionEvent, error) {
	var events []*DeletionEvent
	if err := db.store.Find(&events, nil); err != nil {
		return nil, err
	}
	sort.Slice(events, func(i, j int) bool { return events[i].CreatedAt.After(events[j].CreatedAt) })
	if limit > 0 && len(events) > limit {
		events = events[:limit]
	}
	return events, nil
}

// GetDeletionEventsByItem retrieves every audit record of a catalog item, oldest first
func (db *Database) GetDeletionEventsByItem(itemID uint64) ([]*DeletionEvent, error) {
	var events []*DeletionEvent
	query := bolthold.Where("CatalogItemID").Eq(itemID).Index("CatalogItemID")
	if err := db.store.Find(&events, query); err != nil {
		return nil, err
	}
	sort.Slice(events, func(i, j int) bool { return events[i].CreatedAt.Before(events[j].CreatedAt) })
	return events, nil
}

// Server endpoint operations

// GetEndpoint retrieves the cached endpoint of a server
func (db *Database) GetEndpoint(serverID string) (*ServerEndpoint, error) {
	var endpoint ServerEndpoint
	if err := db.store.Get(serverID, &endpoint); err != nil {
		return nil, notFound(err)
	}
	return &endpoint, nil
}

// SaveEndpoint creates or replaces the cached endpoint of a server
func (db *Database) SaveEndpoint(endpoint *ServerEndpoint) error {
	endpoint.UpdatedAt = time.Now()
	return db.store.Upsert(endpoint.ServerID, endpoint)
}

// ListEndpoints retrieves every known server endpoint
func (db *Database) ListEndpoints() ([]*ServerEndpoint, error) {
	var endpoints []*ServerEndpoint
	if err := db.store.Find(&endpoints, nil); err != nil {
		return nil, err
	}
	sort.Slice(endpoints, func(i, j int) bool { return endpoints[i].Name < endpoints[j].Name })
	return endpoints, nil
}

// Sync run operations

// SaveSyncRun creates or replaces a sync run record
func (db *Database) SaveSyncRun(run *SyncRun) error {
	return db.store.Upsert(run.ID, run)
}

// ListSyncRuns retrieves the most recent sync runs, newest first
func (db *Database) ListSyncRuns(limit int) ([]*SyncRun, error) {
	var runs []*SyncRun
	if err := db.store.Find(&runs, nil); err != nil {
		return nil, err
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].StartedAt.After(runs[j].StartedAt) })
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

// Retention rule operations

// CreateRule stores a new retention rule
func (db *Database) CreateRule(rule *RetentionRule) error {
	rule.CreatedAt = time.Now()
	rule.UpdatedAt = time.Now()
	return db.store.Insert(bolthold.NextSequence(), rule)
}

// UpdateRule updates an existing retention rule
func (db *Database) UpdateRule(rule *RetentionRule) error {
	rule.UpdatedAt = time.Now()
	return notFound(db.store.Update(rule.ID, rule))
}

// GetRule retrieves a retention rule by ID
func (db *Database) GetRule(id uint64) (*RetentionRule, error) {
	var rule RetentionRule
	if err := db.store.Get(id, &rule); err != nil {
		return nil, notFound(err)
	}
	return &rule, nil
}

// ListRules retrieves every retention rule ordered by ID
func (db *Database) ListRules() ([]*RetentionRule, error) {
	var rules []*RetentionRule
	if err := db.store.Find(&rules, nil); err != nil {
		return nil, err
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].ID < rules[j].ID })
	return rules, nil
}
