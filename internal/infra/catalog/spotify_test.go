package catalog

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const spotifySearchBody = `{
  "tracks": {
    "href": "",
    "limit": 2,
    "offset": 0,
    "total": 1,
    "items": [
      {
        "id": "4uLU6hMCjMI75M1A2tKUQC",
        "name": "Never Gonna Give You Up",
        "duration_ms": 213573,
        "preview_url": "https://p.scdn.co/mp3-preview/abc",
        "artists": [{"id": "a1", "name": "Rick Astley"}, {"id": "a2", "name": "Guest"}],
        "album": {"id": "al1", "name": "Whenever You Need Somebody", "images": [{"url": "https://i.scdn.co/image/1", "height": 640, "width": 640}]}
      }
    ]
  }
}`

func newSpotifyServer(t *testing.T) (*httptest.Server, *string) {
	t.Helper()
	var auth string

	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"test-token","token_type":"bearer","expires_in":3600}`))
	})
	mux.HandleFunc("/v1/search", func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		if r.URL.Query().Get("type") != "track" || r.URL.Query().Get("market") != "US" {
			http.Error(w, `{"error":{"status":400,"message":"bad query"}}`, http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(spotifySearchBody))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &auth
}

func TestSpotifyProvider_Search(t *testing.T) {
	srv, auth := newSpotifyServer(t)

	p, err := NewSpotifyProvider(context.Background(), map[string]any{
		"client_id":     "id",
		"client_secret": "secret",
		"market":        "US",
		"token_url":     srv.URL + "/token",
		"api_url":       srv.URL + "/v1",
	})
	require.NoError(t, err)
	assert.Equal(t, SpotifySource, p.Name())

	items, err := p.Search(context.Background(), "rick", 5)
	require.NoError(t, err)
	require.Len(t, items, 1)

	assert.Equal(t, "Bearer test-token", *auth)

	it := items[0]
	assert.Equal(t, "Never Gonna Give You Up", it.Title)
	assert.Equal(t, "Rick Astley, Guest", it.ArtistName)
	assert.Equal(t, "https://i.scdn.co/image/1", it.CoverURL)
	assert.InDelta(t, 213.573, it.DurationSeconds, 0.0001)
	assert.Equal(t, "https://p.scdn.co/mp3-preview/abc", it.PreviewURL)
	assert.Positive(t, it.ID)
	assert.Equal(t, spotifyItemID("4uLU6hMCjMI75M1A2tKUQC"), it.ID)
	require.Len(t, it.Links, 1)
	assert.Equal(t, "https://open.spotify.com/track/4uLU6hMCjMI75M1A2tKUQC", it.Links[0].URL)
	assert.Equal(t, SpotifySource, it.Links[0].Source)

	_, err = p.Search(context.Background(), "", 5)
	assert.Error(t, err)
}

func TestNewSpotifyProvider_Settings(t *testing.T) {
	tests := []struct {
		name     string
		settings map[string]any
		wantErr  string
	}{
		{name: "missing credentials", settings: map[string]any{}, wantErr: "ClientID"},
		{name: "bad market", settings: map[string]any{"client_id": "a", "client_secret": "b", "market": "JPN"}, wantErr: "Market"},
		{name: "valid", settings: map[string]any{"client_id": "a", "client_secret": "b"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewSpotifyProvider(context.Background(), tt.settings)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "JP", p.market)
			assert.Equal(t, 20, p.limit)
		})
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{name: "nil error", err: nil, expected: false},
		{name: "rate limit error", err: errors.New("rate limit exceeded"), expected: true},
		{name: "429 error", err: errors.New("HTTP 429 Too Many Requests"), expected: true},
		{name: "500 error", err: errors.New("HTTP 500 Internal Server Error"), expected: true},
		{name: "503 error", err: errors.New("HTTP 503 Service Unavailable"), expected: true},
		{name: "404 error", err: errors.New("HTTP 404 Not Found"), expected: false},
		{name: "generic error", err: errors.New("connection refused"), expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, isRetryable(tt.err))
		})
	}
}

func TestSpotifyItemID_Stable(t *testing.T) {
	a := spotifyItemID("abc")
	assert.Equal(t, a, spotifyItemID("abc"))
	assert.NotEqual(t, a, spotifyItemID("abd"))
	assert.True(t, strings.HasPrefix(trackURL("abc"), "https://open.spotify.com/track/"))
}
