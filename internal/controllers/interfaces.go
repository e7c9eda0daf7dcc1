package controllers

import (
	"context"

	"github.com/amaumene/reclaimarr/internal/services/arr"
	"github.com/amaumene/reclaimarr/internal/services/overseerr"
	"github.com/amaumene/reclaimarr/internal/services/plex"
	"github.com/amaumene/reclaimarr/internal/services/tautulli"
)

// MediaServer is one reachable media server
type MediaServer interface {
	Identity(ctx context.Context) (string, error)
	ListSections(ctx context.Context) ([]plex.Section, error)
	ListSectionItems(ctx context.Context, sectionKey string, start, size int) ([]plex.Item, int, error)
	ListEpisodes(ctx context.Context, showKey string) ([]plex.Item, error)
	FetchItem(ctx context.Context, ratingKey string) (*plex.Item, error)
	DeleteItem(ctx context.Context, ratingKey string) error
}

// ServerDirectory lists the media servers reachable with a credential
type ServerDirectory interface {
	ListServers(ctx context.Context, token string) ([]plex.ServerResource, error)
}

// ServerResolver turns a server identity into a live connection
type ServerResolver interface {
	Resolve(ctx context.Context, server plex.ServerResource, token string) (MediaServer, error)
	ResolveByID(ctx context.Context, serverID, token string) (MediaServer, error)
}

// DownloadManager is a Sonarr or Radarr instance
type DownloadManager interface {
	FindByExternalID(ctx context.Context, externalID string) (*arr.Entry, error)
	Delete(ctx context.Context, entryID int, deleteFiles bool) error
}

// RequestBroker is an Overseerr instance
type RequestBroker interface {
	FindRequests(ctx context.Context, tmdbID string, kind overseerr.MediaKind) ([]overseerr.Request, error)
	DeleteRequest(ctx context.Context, requestID int) error
}

// HistorySource pages through the watch history
type HistorySource interface {
	GetHistory(ctx context.Context, start, length int) (*tautulli.HistoryPage, error)
}
