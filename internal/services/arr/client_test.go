package arr

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/amaumene/reclaimarr/internal/models"
	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(t *testing.T, kind Kind, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	client := newClient(kind, server.URL, "key", logger)
	client.newBackOff = func() backoff.BackOff {
		return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 3)
	}
	return client
}

func TestSonarrFindByTVDBId(t *testing.T) {
	client := testClient(t, KindSonarr, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/series", r.URL.Path)
		assert.Equal(t, "81189", r.URL.Query().Get("tvdbId"))
		assert.Equal(t, "key", r.Header.Get("X-Api-Key"))
		io.WriteString(w, `[{"id":7,"title":"Breaking Bad","tvdbId":81189}]`)
	})

	entry, err := client.FindByExternalID(context.Background(), "81189")
	require.NoError(t, err)
	assert.Equal(t, 7, entry.ID)
	assert.Equal(t, "sonarr", client.Name())
}

func TestRadarrFindNotTracked(t *testing.T) {
	client := testClient(t, KindRadarr, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/movie", r.URL.Path)
		assert.Equal(t, "348", r.URL.Query().Get("tmdbId"))
		io.WriteString(w, `[]`)
	})

	_, err := client.FindByExternalID(context.Background(), "348")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestFindRejectsMalformedID(t *testing.T) {
	var calls atomic.Int32
	client := testClient(t, KindRadarr, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	})

	for _, id := range []string{"", "tt0078748", "-4"} {
		_, err := client.FindByExternalID(context.Background(), id)
		assert.ErrorIs(t, err, models.ErrMissingExternalID, id)
	}
	assert.Zero(t, calls.Load())
}

func TestRadarrDeleteQuery(t *testing.T) {
	client := testClient(t, KindRadarr, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/api/v3/movie/12", r.URL.Path)
		assert.Equal(t, "true", r.URL.Query().Get("deleteFiles"))
		assert.Equal(t, "false", r.URL.Query().Get("addImportExclusion"))
		w.WriteHeader(http.StatusOK)
	})

	require.NoError(t, client.Delete(context.Background(), 12, true))
}

func TestDeleteMissingEntry(t *testing.T) {
	client := testClient(t, KindSonarr, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	assert.ErrorIs(t, client.Delete(context.Background(), 12, true), models.ErrNotFound)
}

func TestRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	client := testClient(t, KindSonarr, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		io.WriteString(w, `[{"id":7,"title":"Lost","tvdbId":73739}]`)
	})

	entry, err := client.FindByExternalID(context.Background(), "73739")
	require.NoError(t, err)
	assert.Equal(t, 7, entry.ID)
	assert.Equal(t, int32(3), calls.Load())
}

func TestAuthFailureIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	client := testClient(t, KindSonarr, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := client.FindByExternalID(context.Background(), "73739")
	assert.ErrorIs(t, err, models.ErrAuthFailed)
	assert.Equal(t, int32(1), calls.Load())
}
