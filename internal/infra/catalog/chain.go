package catalog

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/cratebox/internal/domain/track"
)

// ErrAllProvidersFailed is returned when no provider produced a result.
var ErrAllProvidersFailed = errors.New("all providers failed")

// ProviderWithMetadata wraps a provider with its metadata.
type ProviderWithMetadata struct {
	Provider    Provider
	DisplayName string
}

type cacheEntry struct {
	result    Result
	expiresAt time.Time
}

// ProviderChain tries providers in order; the first non-empty result wins.
// Results are cached per query for the configured TTL.
type ProviderChain struct {
	providers []ProviderWithMetadata
	ttl       time.Duration

	cacheMu sync.RWMutex
	cache   map[string]*cacheEntry
	now     func() time.Time
}

// NewProviderChain creates a new provider chain. A zero ttl disables caching.
func NewProviderChain(providers []ProviderWithMetadata, ttl time.Duration) *ProviderChain {
	return &ProviderChain{
		providers: providers,
		ttl:       ttl,
		cache:     make(map[string]*cacheEntry),
		now:       time.Now,
	}
}

// Search runs query against the providers.
// Queries shorter than MinQueryLength return an empty result without calling any provider.
func (c *ProviderChain) Search(ctx context.Context, query string, limit int) (Result, error) {
	query = strings.TrimSpace(query)
	if len([]rune(query)) < MinQueryLength {
		return Result{Items: []track.Item{}}, nil
	}

	key := fmt.Sprintf("%s:%d", strings.ToLower(query), limit)
	if r, ok := c.cached(key); ok {
		zlog.Debug().Msgf("catalog: cache hit for %q", query)
		return r, nil
	}

	var lastErr error
	for i, pm := range c.providers {
		zlog.Debug().Msgf("trying provider: index=%d total=%d name=%s provider_type=%s",
			i+1, len(c.providers), pm.DisplayName, pm.Provider.Name())

		items, err := pm.Provider.Search(ctx, query, limit)
		if err != nil {
			zlog.Warn().Msgf("provider failed, trying next: provider=%s error=%v", pm.DisplayName, err)
			lastErr = err
			continue
		}
		if len(items) == 0 {
			zlog.Debug().Msgf("provider returned no results: provider=%s", pm.DisplayName)
			continue
		}

		r := Result{Items: items, DisplayName: pm.DisplayName}
		c.store(key, r)
		return r, nil
	}

	if lastErr != nil {
		return Result{}, errors.Mark(errors.Wrap(lastErr, "catalog search failed"), ErrAllProvidersFailed)
	}

	// Every provider answered with nothing.
	r := Result{Items: []track.Item{}}
	c.store(key, r)
	return r, nil
}

func (c *ProviderChain) cached(key string) (Result, bool) {
	if c.ttl <= 0 {
		return Result{}, false
	}
	c.cacheMu.RLock()
	defer c.cacheMu.RUnlock()

	e, ok := c.cache[key]
	if !ok || c.now().After(e.expiresAt) {
		return Result{}, false
	}
	return e.result, true
}

func (c *ProviderChain) store(key string, r Result) {
	if c.ttl <= 0 {
		return
	}
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()

	now := c.now()
	for k, e := range c.cache {
		if now.After(e.expiresAt) {
			delete(c.cache, k)
		}
	}
	c.cache[key] = &cacheEntry{result: r, expiresAt: now.Add(c.ttl)}
}

// Name returns the chain name.
func (c *ProviderChain) Name() string {
	return "provider_chain"
}
