package catalog

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"custodian-hq/custodian/pkg/catalog/playstats"
	"custodian-hq/custodian/pkg/catalog/servarr"
	"custodian-hq/custodian/pkg/rules"
)

const moviesPayload = `[
	{
		"id": 10,
		"title": "Old Movie",
		"year": 1999,
		"added": "2024-01-15T10:00:00Z",
		"sizeOnDisk": 2147483648,
		"rootFolderPath": "/movies",
		"movieFile": {"quality": {"quality": {"name": "Bluray-1080p"}}},
		"ratings": {"value": 6.1, "votes": 1200}
	},
	{
		"id": 11,
		"title": "New Movie",
		"year": 2026,
		"added": "2026-05-01T10:00:00Z",
		"sizeOnDisk": 0,
		"rootFolderPath": "/movies"
	}
]`

func newRadarr(t *testing.T, handler http.HandlerFunc) *servarr.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return servarr.New(servarr.Config{
		ServiceID: "radarr-main",
		BaseURL:   srv.URL,
		APIKey:    "test-key",
	})
}

func newPlaystats(t *testing.T, handler http.HandlerFunc) *playstats.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return playstats.New(playstats.Config{BaseURL: srv.URL, Token: "tok"})
}

func movieGateway(t *testing.T, radarr *servarr.Client, stats *playstats.Client) *Service {
	t.Helper()
	return NewService(
		map[string]*servarr.Client{"radarr-main": radarr},
		map[rules.MediaType]string{rules.MediaTypeMovie: "radarr-main"},
		stats,
		nil,
	)
}

func TestListItems_MergesWatchActivity(t *testing.T) {
	radarr := newRadarr(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("X-Api-Key"))
		assert.Equal(t, "/api/v3/movie", r.URL.Path)
		w.Write([]byte(moviesPayload))
	})
	stats := newPlaystats(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "movie", r.URL.Query().Get("media_type"))
		w.Write([]byte(`{"items": [
			{"external_id": "10", "play_count": 3, "last_watched_at": "2025-12-01T20:00:00Z"}
		]}`))
	})

	listing, err := movieGateway(t, radarr, stats).ListItems(context.Background(), rules.MediaTypeMovie, "")
	require.NoError(t, err)
	require.Len(t, listing.Items, 2)
	assert.False(t, listing.Degraded)
	assert.Equal(t, "radarr-main", listing.ServiceID)

	watched := listing.Items[0]
	require.NotNil(t, watched.PlayCount)
	assert.Equal(t, 3, *watched.PlayCount)
	require.NotNil(t, watched.LastWatchedAt)
	assert.Equal(t, time.Date(2025, 12, 1, 20, 0, 0, 0, time.UTC), watched.LastWatchedAt.UTC())
	require.NotNil(t, watched.FileSizeBytes)
	assert.Equal(t, int64(2147483648), *watched.FileSizeBytes)
	assert.Equal(t, "Bluray-1080p", watched.Quality)
	require.NotNil(t, watched.Rating)
	assert.InDelta(t, 6.1, *watched.Rating, 0.001)
	assert.Equal(t, "/movies", watched.LibraryID)

	// Item absent from watch activity: tracked but never played.
	unwatched := listing.Items[1]
	require.NotNil(t, unwatched.PlayCount)
	assert.Equal(t, 0, *unwatched.PlayCount)
	assert.Nil(t, unwatched.LastWatchedAt)
	assert.True(t, unwatched.NeverWatched())
	assert.Nil(t, unwatched.FileSizeBytes)
}

func TestListItems_DegradedWhenPlaystatsDown(t *testing.T) {
	radarr := newRadarr(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(moviesPayload))
	})
	stats := newPlaystats(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	})

	listing, err := movieGateway(t, radarr, stats).ListItems(context.Background(), rules.MediaTypeMovie, "")
	require.NoError(t, err)
	assert.True(t, listing.Degraded)
	require.Len(t, listing.Items, 2)
	for _, snap := range listing.Items {
		assert.Nil(t, snap.PlayCount, "degraded snapshots carry no watch data")
		assert.Nil(t, snap.LastWatchedAt)
		assert.False(t, snap.NeverWatched())
	}
}

func TestListItems_GatewayErrorWhenServarrDown(t *testing.T) {
	radarr := newRadarr(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	stats := newPlaystats(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"items": []}`))
	})

	listing, err := movieGateway(t, radarr, stats).ListItems(context.Background(), rules.MediaTypeMovie, "")
	assert.Nil(t, listing)
	var gatewayErr *GatewayError
	require.ErrorAs(t, err, &gatewayErr)
	assert.Equal(t, "radarr-main", gatewayErr.ServiceID)
}

func TestListItems_UnknownService(t *testing.T) {
	radarr := newRadarr(t, func(w http.ResponseWriter, r *http.Request) {})
	gw := movieGateway(t, radarr, nil)

	_, err := gw.ListItems(context.Background(), rules.MediaTypeMovie, "radarr-4k")
	var unknown *UnknownServiceError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "radarr-4k", unknown.ServiceID)
}

func TestListItems_SeriesAggregatesEpisodeActivity(t *testing.T) {
	sonarrSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v3/series", r.URL.Path)
		w.Write([]byte(`[
			{
				"id": 5,
				"title": "Some Show",
				"year": 2020,
				"added": "2023-03-01T00:00:00Z",
				"rootFolderPath": "/tv",
				"statistics": {"sizeOnDisk": 10737418240}
			}
		]`))
	}))
	t.Cleanup(sonarrSrv.Close)
	sonarr := servarr.New(servarr.Config{ServiceID: "sonarr-main", BaseURL: sonarrSrv.URL, APIKey: "k"})

	stats := newPlaystats(t, func(w http.ResponseWriter, r *http.Request) {
		// Series rules aggregate episode-level activity.
		assert.Equal(t, "episode", r.URL.Query().Get("media_type"))
		w.Write([]byte(`{"items": [
			{"external_id": "e-1", "series_id": "5", "play_count": 1, "last_watched_at": "2025-01-01T00:00:00Z"},
			{"external_id": "e-2", "series_id": "5", "play_count": 4, "last_watched_at": "2025-06-01T00:00:00Z"}
		]}`))
	})

	gw := NewService(
		map[string]*servarr.Client{"sonarr-main": sonarr},
		map[rules.MediaType]string{rules.MediaTypeTvSeries: "sonarr-main"},
		stats,
		nil,
	)

	listing, err := gw.ListItems(context.Background(), rules.MediaTypeTvSeries, "")
	require.NoError(t, err)
	require.Len(t, listing.Items, 1)

	series := listing.Items[0]
	require.NotNil(t, series.PlayCount)
	assert.Equal(t, 4, *series.PlayCount, "series play count is the max over episodes")
	require.NotNil(t, series.LastWatchedAt)
	assert.Equal(t, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), series.LastWatchedAt.UTC())
	require.NotNil(t, series.FileSizeBytes)
	assert.Equal(t, int64(10737418240), *series.FileSizeBytes)
}
