package models

import "time"

// CatalogItem represents one piece of content as known locally
type CatalogItem struct {
	ID       uint64 `boltholdKey:"ID"`
	SyncKey  string `boltholdIndex:"SyncKey"` // serverID + "/" + remoteID, unique
	ServerID string `boltholdIndex:"ServerID"`
	RemoteID string `boltholdIndex:"RemoteID"` // Plex rating key, changes when content is re-added

	// Cross-reference ids, empty when the media server did not report them
	IMDBId string
	TMDBId string
	TVDBId string

	// Show-level ids for episodes, used by the series manager and the request broker
	SeriesTMDBId string
	SeriesTVDBId string

	Title         string
	ShowTitle     string
	MediaType     MediaType
	Year          int
	SeasonNumber  *int
	EpisodeNumber *int
	FileSize      int64 // Bytes, summed over every media part
	Duration      int64 // Milliseconds
	Rating        *float64
	Genres        []string
	Collections   []string
	LibraryName   string
	LibraryKey    string

	DateAdded    *time.Time // Reported by the media server
	LastSyncedAt time.Time

	// Watch metrics, written by the watch-history aggregation only
	TotalPlayCount        int
	LastWatchedAt         *time.Time
	TotalWatchTimeSeconds int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// CatalogSyncKey builds the unique upsert key of a catalog item
func CatalogSyncKey(serverID, remoteID string) string {
	return serverID + "/" + remoteID
}

// DisplayTitle returns the title with the show prefix for episodes
func (i *CatalogItem) DisplayTitle() string {
	if i.ShowTitle != "" && i.MediaType != MediaTypeShow {
		return i.ShowTitle + " - " + i.Title
	}
	return i.Title
}

// SeriesExternalIDs returns the tvdb and tmdb ids identifying the series of a TV item
func (i *CatalogItem) SeriesExternalIDs() (tvdbID, tmdbID string) {
	if i.MediaType == MediaTypeShow {
		return i.TVDBId, i.TMDBId
	}
	return i.SeriesTVDBId, i.SeriesTMDBId
}

// StorageTotals aggregates catalog storage usage
type StorageTotals struct {
	TotalItems  int                 `json:"total_items"`
	TotalBytes  int64               `json:"total_bytes"`
	BytesByType map[MediaType]int64 `json:"bytes_by_type"`
	ItemsByType map[MediaType]int   `json:"items_by_type"`
}
