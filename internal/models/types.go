package models

// MediaType represents the granularity of a catalog item
type MediaType string

const (
	MediaTypeMovie   MediaType = "movie"
	MediaTypeShow    MediaType = "show"
	MediaTypeSeason  MediaType = "season"
	MediaTypeEpisode MediaType = "episode"
)

// IsSeries reports whether the item belongs to a TV series
func (t MediaType) IsSeries() bool {
	return t == MediaTypeShow || t == MediaTypeSeason || t == MediaTypeEpisode
}

// SyncStatus represents the state of a sync run
type SyncStatus string

const (
	SyncStatusConnecting SyncStatus = "connecting"
	SyncStatusCounting   SyncStatus = "counting"
	SyncStatusSyncing    SyncStatus = "syncing"
	SyncStatusWarning    SyncStatus = "warning" // Non-terminal, a server or section was skipped
	SyncStatusComplete   SyncStatus = "complete"
	SyncStatusCancelled  SyncStatus = "cancelled"
	SyncStatusError      SyncStatus = "error"
)

// Terminal reports whether the status ends a sync run
func (s SyncStatus) Terminal() bool {
	return s == SyncStatusComplete || s == SyncStatusCancelled || s == SyncStatusError
}

// ServerStatus represents the last known reachability of a media server
type ServerStatus string

const (
	ServerStatusOnline  ServerStatus = "online"
	ServerStatusOffline ServerStatus = "offline"
)

// DeletionStatus represents the aggregated outcome of a cascade deletion
type DeletionStatus string

const (
	DeletionStatusCompleted DeletionStatus = "completed" // Media server and every applicable target succeeded
	DeletionStatusPartial   DeletionStatus = "partial"   // Media server succeeded, a later target failed
	DeletionStatusFailed    DeletionStatus = "failed"    // Media server deletion failed
)

// DeletionTarget names a system touched by a cascade deletion
type DeletionTarget string

const (
	TargetMediaServer   DeletionTarget = "media_server"
	TargetSeriesManager DeletionTarget = "series_manager"
	TargetMovieManager  DeletionTarget = "movie_manager"
	TargetRequestBroker DeletionTarget = "request_broker"
)
