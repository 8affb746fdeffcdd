package tokenstore

import (
	"github.com/rs/zerolog"

	"github.com/wifiwatch/go-wifiwatch/internal/config"
)

// NewStore selects a store implementation from configuration: Redis when a
// Redis host is configured, otherwise a file store when a token file path is
// set, otherwise memory. A failed Redis connection falls back to the next
// choice rather than failing startup.
func NewStore(cfg config.StoreConfig, log zerolog.Logger) (Store, error) {
	if host := cfg.GetRedisHost(); host != "" {
		store, err := NewRedisStore(host, cfg.GetRedisPort(), cfg.GetRedisUsername(), cfg.GetRedisPassword())
		if err == nil {
			log.Info().Str("host", host).Msg("using redis token store")
			return store, nil
		}
		log.Warn().Err(err).Msg("redis connection failed, falling back")
	}

	if path := cfg.GetTokenFile(); path != "" {
		store, err := NewFileStore(path)
		if err != nil {
			return nil, err
		}
		log.Info().Str("path", path).Msg("using file token store")
		return store, nil
	}

	log.Info().Msg("using in-memory token store")
	return NewMemoryStore(), nil
}
