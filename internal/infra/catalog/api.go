package catalog

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/cratebox/internal/domain/track"
)

// APIProviderConfig holds settings for the catalog HTTP API provider.
type APIProviderConfig struct {
	BaseURL    string `mapstructure:"base_url" validate:"required,url"`
	Limit      int    `mapstructure:"limit" default:"20" validate:"gte=1,lte=100"`
	TimeoutSec int    `mapstructure:"timeout_sec" default:"10" validate:"gte=1"`
}

// APIProvider searches the catalog HTTP API.
type APIProvider struct {
	baseURL    string
	limit      int
	httpClient *http.Client
}

// SearchResponse is the body of GET /api/v1/search.
type SearchResponse struct {
	Artists []struct {
		ID   json.Number `json:"id"`
		Name string      `json:"name"`
	} `json:"artists"`
	Tracks []SearchTrack `json:"tracks"`
}

// SearchTrack is one track in a search response.
type SearchTrack struct {
	ID              json.Number `json:"id"`
	Title           string      `json:"title"`
	BPM             float64     `json:"bpm"`
	KeyText         string      `json:"keyText"`
	DurationSeconds *float64    `json:"durationSeconds"`
	Release         struct {
		Title    string  `json:"title"`
		CoverURL *string `json:"coverUrl"`
		Artist   struct {
			Name string `json:"name"`
		} `json:"artist"`
	} `json:"release"`
	Links []struct {
		ID         json.Number `json:"id"`
		URL        string      `json:"url"`
		PreviewURL *string     `json:"previewUrl"`
		Source     struct {
			Name string `json:"name"`
		} `json:"source"`
	} `json:"links"`
}

// APIError represents an error response from the catalog API.
type APIError struct {
	StatusCode int    `json:"statusCode"`
	Message    string `json:"message"`
}

// NewAPIProvider creates a catalog API provider from provider settings.
func NewAPIProvider(settings map[string]any) (*APIProvider, error) {
	var config APIProviderConfig
	if err := mapstructure.Decode(settings, &config); err != nil {
		return nil, errors.Wrap(err, "failed to decode settings")
	}
	if err := defaults.Set(&config); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}
	zlog.Debug().Msgf("catalog api provider config: %+v", config)
	if err := validator.New().Struct(config); err != nil {
		return nil, errors.Wrap(err, "validation failed")
	}

	return &APIProvider{
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		limit:      config.Limit,
		httpClient: &http.Client{Timeout: time.Duration(config.TimeoutSec) * time.Second},
	}, nil
}

// Name returns the provider name.
func (p *APIProvider) Name() string {
	return "api"
}

// Search queries GET /api/v1/search.
func (p *APIProvider) Search(ctx context.Context, query string, limit int) ([]track.Item, error) {
	if limit <= 0 || limit > p.limit {
		limit = p.limit
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("limit", strconv.Itoa(limit))
	reqURL := p.baseURL + "/api/v1/search?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to send request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read response body")
	}

	if resp.StatusCode != http.StatusOK {
		var apiError APIError
		if err := json.Unmarshal(body, &apiError); err == nil && apiError.Message != "" {
			return nil, errors.Newf("catalog API error %d: %s", resp.StatusCode, apiError.Message)
		}
		return nil, errors.Newf("catalog API returned status %d", resp.StatusCode)
	}

	var response SearchResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, errors.Wrap(err, "failed to parse response")
	}

	items := make([]track.Item, 0, len(response.Tracks))
	for _, t := range response.Tracks {
		item, err := ConvertTrack(t)
		if err != nil {
			zlog.Debug().Msgf("catalog: skipping track %q: %v", t.ID, err)
			continue
		}
		items = append(items, item)
	}
	if len(items) > limit {
		items = items[:limit]
	}

	return items, nil
}

// ConvertTrack converts a search track into a queue item.
// The item preview is the first link preview.
func ConvertTrack(t SearchTrack) (track.Item, error) {
	id, err := t.ID.Int64()
	if err != nil {
		return track.Item{}, errors.Wrapf(err, "invalid track id %q", t.ID)
	}

	item := track.Item{
		ID:         id,
		Title:      t.Title,
		ArtistName: t.Release.Artist.Name,
		BPM:        t.BPM,
		KeyText:    t.KeyText,
		Links:      make([]track.Link, 0, len(t.Links)),
	}
	if t.Release.CoverURL != nil {
		item.CoverURL = *t.Release.CoverURL
	}
	if t.DurationSeconds != nil {
		item.DurationSeconds = *t.DurationSeconds
	}

	for _, l := range t.Links {
		linkID, err := l.ID.Int64()
		if err != nil {
			return track.Item{}, errors.Wrapf(err, "invalid link id %q", l.ID)
		}
		link := track.Link{
			ID:     linkID,
			Source: l.Source.Name,
			URL:    l.URL,
		}
		if l.PreviewURL != nil {
			link.PreviewURL = *l.PreviewURL
		}
		if item.PreviewURL == "" && link.PreviewURL != "" {
			item.PreviewURL = link.PreviewURL
		}
		item.Links = append(item.Links, link)
	}

	return item, nil
}
