package catalog

import (
	"context"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/cratebox/internal/infra/config"
)

// NewProviderChainFromConfig creates a provider chain from configuration.
func NewProviderChainFromConfig(ctx context.Context, cfg config.CatalogConfig) (*ProviderChain, error) {
	if len(cfg.Providers) == 0 {
		return nil, errors.New("no catalog providers configured")
	}

	var providers []ProviderWithMetadata

	for i, pcfg := range cfg.Providers {
		var provider Provider
		var err error
		switch pcfg.Type {
		case "api":
			provider, err = NewAPIProvider(pcfg.Settings)

		case "spotify":
			provider, err = NewSpotifyProvider(ctx, pcfg.Settings)

		default:
			return nil, errors.Newf("unsupported provider type: %s (provider index %d)", pcfg.Type, i)
		}

		if err != nil {
			return nil, errors.Wrapf(err, "failed to create provider (index %d, type %s)", i, pcfg.Type)
		}

		providers = append(providers, ProviderWithMetadata{
			Provider:    provider,
			DisplayName: pcfg.DisplayName,
		})

		zlog.Info().Msgf("registered catalog provider: index=%d type=%s display_name=%s", i+1, pcfg.Type, pcfg.DisplayName)
	}

	return NewProviderChain(providers, cfg.CacheTTL()), nil
}
