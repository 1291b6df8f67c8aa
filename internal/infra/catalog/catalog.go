// Package catalog provides track search against music catalogs.
package catalog

import (
	"context"

	"github.com/osa030/cratebox/internal/domain/track"
)

// MinQueryLength is the shortest query sent to a provider.
// Shorter queries return no results.
const MinQueryLength = 2

// Provider is the interface for catalog search providers.
type Provider interface {
	// Search returns up to limit tracks matching query.
	Search(ctx context.Context, query string, limit int) ([]track.Item, error)

	// Name returns the provider name (used in config).
	Name() string
}

// Result is a search result tagged with the provider that produced it.
type Result struct {
	Items       []track.Item
	DisplayName string
}
