package controllers

import (
	"context"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/amaumene/reclaimarr/internal/models"
	"github.com/amaumene/reclaimarr/internal/services/arr"
	"github.com/amaumene/reclaimarr/internal/services/overseerr"
	"github.com/amaumene/reclaimarr/internal/services/plex"
	"github.com/amaumene/reclaimarr/internal/services/tautulli"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestDB(t *testing.T) *models.Database {
	t.Helper()
	db, err := models.NewDatabase(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func daysAgo(now time.Time, days float64) *time.Time {
	at := now.Add(-time.Duration(days * 24 * float64(time.Hour)))
	return &at
}

// fakeMediaServer is an in-memory media server
type fakeMediaServer struct {
	mu sync.Mutex

	id          string
	identityErr error
	delay       time.Duration // identity answer latency
	sections    []plex.Section
	sectionsErr error
	items       map[string][]plex.Item // section key -> top-level items
	episodes    map[string][]plex.Item // show key -> episodes
	episodesErr map[string]error
	fetchErr    error
	deleteErr   error

	identityCalls int
	fetched       []string
	deleted       []string
}

func (f *fakeMediaServer) Identity(ctx context.Context) (string, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.identityCalls++
	if f.identityErr != nil {
		return "", f.identityErr
	}
	return f.id, nil
}

func (f *fakeMediaServer) ListSections(ctx context.Context) ([]plex.Section, error) {
	return f.sections, f.sectionsErr
}

func (f *fakeMediaServer) ListSectionItems(ctx context.Context, sectionKey string, start, size int) ([]plex.Item, int, error) {
	all := f.items[sectionKey]
	if start >= len(all) || size == 0 {
		return nil, len(all), nil
	}
	end := start + size
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], len(all), nil
}

func (f *fakeMediaServer) ListEpisodes(ctx context.Context, showKey string) ([]plex.Item, error) {
	if err := f.episodesErr[showKey]; err != nil {
		return nil, err
	}
	return f.episodes[showKey], nil
}

func (f *fakeMediaServer) FetchItem(ctx context.Context, ratingKey string) (*plex.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetched = append(f.fetched, ratingKey)
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return &plex.Item{RatingKey: ratingKey}, nil
}

func (f *fakeMediaServer) DeleteItem(ctx context.Context, ratingKey string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, ratingKey)
	return nil
}

// fakeDirectory advertises a fixed list of servers
type fakeDirectory struct {
	servers []plex.ServerResource
	err     error
}

func (d *fakeDirectory) ListServers(ctx context.Context, token string) ([]plex.ServerResource, error) {
	return d.servers, d.err
}

// fakeResolver maps server ids to connections
type fakeResolver struct {
	mu      sync.Mutex
	servers map[string]MediaServer
	errs    map[string]error
	calls   int
}

func (r *fakeResolver) Resolve(ctx context.Context, server plex.ServerResource, token string) (MediaServer, error) {
	return r.ResolveByID(ctx, server.ClientID, token)
}

func (r *fakeResolver) ResolveByID(ctx context.Context, serverID, token string) (MediaServer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if err := r.errs[serverID]; err != nil {
		return nil, err
	}
	conn, ok := r.servers[serverID]
	if !ok {
		return nil, &models.ResolutionError{ServerID: serverID, Reason: "unknown server"}
	}
	return conn, nil
}

// fakeManager is an in-memory Sonarr or Radarr
type fakeManager struct {
	mu        sync.Mutex
	entries   map[string]*arr.Entry // external id -> entry
	findErr   error
	deleteErr error
	lookups   []string
	deleted   []int
}

func (m *fakeManager) FindByExternalID(ctx context.Context, externalID string) (*arr.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lookups = append(m.lookups, externalID)
	if m.findErr != nil {
		return nil, m.findErr
	}
	entry, ok := m.entries[externalID]
	if !ok {
		return nil, models.ErrNotFound
	}
	return entry, nil
}

func (m *fakeManager) Delete(ctx context.Context, entryID int, deleteFiles bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return m.deleteErr
	}
	m.deleted = append(m.deleted, entryID)
	return nil
}

func (m *fakeManager) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.lookups) + len(m.deleted)
}

// fakeBroker is an in-memory Overseerr
type fakeBroker struct {
	mu        sync.Mutex
	requests  map[string][]overseerr.Request // kind/tmdb id -> requests
	findErr   error
	deleteErr error
	lookups   []string
	deleted   []int
}

func (b *fakeBroker) FindRequests(ctx context.Context, tmdbID string, kind overseerr.MediaKind) ([]overseerr.Request, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := string(kind) + "/" + tmdbID
	b.lookups = append(b.lookups, key)
	if b.findErr != nil {
		return nil, b.findErr
	}
	return b.requests[key], nil
}

func (b *fakeBroker) DeleteRequest(ctx context.Context, requestID int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.deleteErr != nil {
		return b.deleteErr
	}
	b.deleted = append(b.deleted, requestID)
	return nil
}

func (b *fakeBroker) callCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.lookups) + len(b.deleted)
}

// fakeHistory serves fixed pages of watch history
type fakeHistory struct {
	records []tautulli.HistoryRecord
	err     error
	starts  []int
}

func (h *fakeHistory) GetHistory(ctx context.Context, start, length int) (*tautulli.HistoryPage, error) {
	h.starts = append(h.starts, start)
	if h.err != nil {
		return nil, h.err
	}
	if start >= len(h.records) {
		return &tautulli.HistoryPage{TotalEstimate: len(h.records)}, nil
	}
	end := start + length
	if end > len(h.records) {
		end = len(h.records)
	}
	return &tautulli.HistoryPage{Records: h.records[start:end], TotalEstimate: len(h.records)}, nil
}

// recordingSink keeps every event it receives
type recordingSink struct {
	mu     sync.Mutex
	events []ProgressEvent
	hook   func(ProgressEvent)
}

func (s *recordingSink) Send(event ProgressEvent) {
	s.mu.Lock()
	s.events = append(s.events, event)
	hook := s.hook
	s.mu.Unlock()
	if hook != nil {
		hook(event)
	}
}

func (s *recordingSink) terminal() []ProgressEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ProgressEvent
	for _, event := range s.events {
		if event.Status.Terminal() {
			out = append(out, event)
		}
	}
	return out
}
