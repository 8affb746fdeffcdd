package config

import (
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	baseURLVar        = "WIFIWATCH_BASE_URL"
	eventURLVar       = "WIFIWATCH_EVENT_URL"
	httpTimeoutVar    = "WIFIWATCH_HTTP_TIMEOUT"
	reconnectDelayVar = "WIFIWATCH_RECONNECT_DELAY"
	usernameVar       = "WIFIWATCH_USERNAME"
	passwordVar       = "WIFIWATCH_PASSWORD"
	tokenFileVar      = "WIFIWATCH_TOKEN_FILE"
	redisHostVar      = "WIFIWATCH_REDIS_HOST"
	redisPortVar      = "WIFIWATCH_REDIS_PORT"
	redisUserVar      = "WIFIWATCH_REDIS_USERNAME"
	redisPasswordVar  = "WIFIWATCH_REDIS_PASSWORD"
)

type EnvVars struct{}

var _ Config = EnvVars{}

func (EnvVars) GetBaseURL() string {
	return strings.TrimSuffix(GetEnv(baseURLVar, "http://localhost:8000"), "/")
}

// GetEventURL returns the websocket endpoint. When unset it is derived from
// the base URL by switching to the ws scheme and appending the live path.
func (e EnvVars) GetEventURL() string {
	if explicit := GetEnv(eventURLVar, ""); explicit != "" {
		return explicit
	}
	u, err := url.Parse(e.GetBaseURL())
	if err != nil {
		return "ws://localhost:8000/ws/live"
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws/live"
	return u.String()
}

func (EnvVars) GetHTTPTimeout() time.Duration {
	return getDuration(httpTimeoutVar, 30*time.Second)
}

func (EnvVars) GetReconnectDelay() time.Duration {
	return getDuration(reconnectDelayVar, 5*time.Second)
}

func (EnvVars) GetUsername() string {
	return GetEnv(usernameVar, "")
}

func (EnvVars) GetPassword() string {
	return GetEnv(passwordVar, "")
}

func (EnvVars) GetTokenFile() string {
	return GetEnv(tokenFileVar, "")
}

func (EnvVars) GetRedisHost() string {
	return GetEnv(redisHostVar, "")
}

func (EnvVars) GetRedisPort() string {
	return GetEnv(redisPortVar, "6379")
}

func (EnvVars) GetRedisUsername() string {
	return GetEnv(redisUserVar, "")
}

func (EnvVars) GetRedisPassword() string {
	return GetEnv(redisPasswordVar, "")
}

// GetEnv returns the environment variable value or the default if empty.
func GetEnv(envVar, defaultValue string) string {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	return value
}

func getDuration(envVar string, defaultValue time.Duration) time.Duration {
	raw := os.Getenv(envVar)
	if raw == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return defaultValue
	}
	return d
}

func loadDotEnv() {
	// Missing .env is the normal case outside development.
	_ = godotenv.Load()
}
