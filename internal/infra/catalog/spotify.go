package catalog

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	zlog "github.com/rs/zerolog/log"
	"github.com/zmb3/spotify/v2"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/osa030/cratebox/internal/domain/track"
)

// SpotifySource is the link source name of Spotify results.
const SpotifySource = "spotify"

// SpotifyProviderConfig holds settings for the Spotify provider.
type SpotifyProviderConfig struct {
	ClientID     string `mapstructure:"client_id" validate:"required"`
	ClientSecret string `mapstructure:"client_secret" validate:"required"`
	Market       string `mapstructure:"market" default:"JP" validate:"len=2"`
	Limit        int    `mapstructure:"limit" default:"20" validate:"gte=1,lte=50"`
	TokenURL     string `mapstructure:"token_url"`
	APIURL       string `mapstructure:"api_url"`
}

// SpotifyProvider searches the Spotify catalog with app credentials.
type SpotifyProvider struct {
	client     *spotify.Client
	market     string
	limit      int
	maxRetries int
	retryDelay time.Duration
}

// NewSpotifyProvider creates a Spotify provider from provider settings.
func NewSpotifyProvider(ctx context.Context, settings map[string]any) (*SpotifyProvider, error) {
	var config SpotifyProviderConfig
	if err := mapstructure.Decode(settings, &config); err != nil {
		return nil, errors.Wrap(err, "failed to decode settings")
	}
	if err := defaults.Set(&config); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}
	if err := validator.New().Struct(config); err != nil {
		return nil, errors.Wrap(err, "validation failed")
	}

	tokenURL := config.TokenURL
	if tokenURL == "" {
		tokenURL = spotifyauth.TokenURL
	}
	creds := &clientcredentials.Config{
		ClientID:     config.ClientID,
		ClientSecret: config.ClientSecret,
		TokenURL:     tokenURL,
	}

	var opts []spotify.ClientOption
	if config.APIURL != "" {
		opts = append(opts, spotify.WithBaseURL(strings.TrimRight(config.APIURL, "/")+"/"))
	}

	zlog.Debug().Msgf("spotify provider: market=%s limit=%d", config.Market, config.Limit)

	return &SpotifyProvider{
		client:     spotify.New(creds.Client(ctx), opts...),
		market:     config.Market,
		limit:      config.Limit,
		maxRetries: 3,
		retryDelay: time.Second,
	}, nil
}

// Name returns the provider name.
func (p *SpotifyProvider) Name() string {
	return SpotifySource
}

// Search searches for tracks on Spotify.
func (p *SpotifyProvider) Search(ctx context.Context, query string, limit int) ([]track.Item, error) {
	if query == "" {
		return nil, errors.New("search query is required")
	}
	if limit <= 0 || limit > p.limit {
		limit = p.limit
	}

	var result *spotify.SearchResult
	err := p.retry(func() error {
		r, err := p.client.Search(ctx, query, spotify.SearchTypeTrack,
			spotify.Limit(limit),
			spotify.Market(p.market),
		)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to search")
	}

	if result.Tracks == nil {
		return []track.Item{}, nil
	}

	items := make([]track.Item, 0, len(result.Tracks.Tracks))
	for i := range result.Tracks.Tracks {
		items = append(items, convertSpotifyTrack(&result.Tracks.Tracks[i]))
	}
	return items, nil
}

// convertSpotifyTrack maps a Spotify track onto a queue item.
// Spotify IDs are hashed into the numeric item ID space.
func convertSpotifyTrack(t *spotify.FullTrack) track.Item {
	artists := make([]string, len(t.Artists))
	for i, a := range t.Artists {
		artists[i] = a.Name
	}

	var cover string
	if len(t.Album.Images) > 0 {
		cover = t.Album.Images[0].URL
	}

	id := spotifyItemID(string(t.ID))
	return track.Item{
		ID:              id,
		Title:           t.Name,
		ArtistName:      strings.Join(artists, ", "),
		CoverURL:        cover,
		DurationSeconds: (time.Duration(t.Duration) * time.Millisecond).Seconds(),
		PreviewURL:      t.PreviewURL,
		Links: []track.Link{{
			ID:         id,
			Source:     SpotifySource,
			URL:        trackURL(string(t.ID)),
			PreviewURL: t.PreviewURL,
		}},
	}
}

func spotifyItemID(id string) int64 {
	return int64(xxhash.Sum64String(id) >> 1)
}

// trackURL returns the Spotify URL for a track.
func trackURL(trackID string) string {
	return fmt.Sprintf("https://open.spotify.com/track/%s", trackID)
}

// retry retries an operation with linear backoff.
func (p *SpotifyProvider) retry(fn func() error) error {
	var lastErr error
	for i := 0; i < p.maxRetries; i++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !isRetryable(err) {
			return err
		}

		if i < p.maxRetries-1 {
			time.Sleep(p.retryDelay * time.Duration(i+1))
		}
	}
	return errors.Wrap(lastErr, "max retries exceeded")
}

// isRetryable checks if an error is retryable.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	// Rate limit errors and server errors are retryable
	errStr := err.Error()
	return strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "500") ||
		strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "504")
}
