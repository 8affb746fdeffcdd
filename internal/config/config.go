package config

import "time"

// Config aggregates the environment-driven settings of the client.
type Config interface {
	EnvConfig
	StoreConfig
}

// EnvConfig covers the service endpoints and timing knobs.
type EnvConfig interface {
	GetBaseURL() string
	GetEventURL() string
	GetHTTPTimeout() time.Duration
	GetReconnectDelay() time.Duration
	GetUsername() string
	GetPassword() string
}

// StoreConfig covers token store selection.
type StoreConfig interface {
	GetTokenFile() string
	GetRedisHost() string
	GetRedisPort() string
	GetRedisUsername() string
	GetRedisPassword() string
}

type mainConfig struct {
	EnvVars
}

// New returns the environment-backed configuration. A .env file in the
// working directory is loaded first when present.
func New() Config {
	loadDotEnv()
	return mainConfig{}
}
