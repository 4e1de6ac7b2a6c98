package config

import (
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	APIBaseURL     string
	ChannelURL     string
	Email          string
	Password       string
	Token          string
	Ward           string
	Views          []string
	Port           string
	AllowedOrigins []string

	HTTPTimeout    time.Duration
	HTTPRetryCount int

	RedisAddress  string
	RedisPassword string
	RedisDB       int

	OutboxDatabaseURL string
	RabbitMQURL       string
	NotificationQueue string
	// NotificationPermission mirrors the browser permission states:
	// "granted", "denied" or "default".
	NotificationPermission string
	ReplayRate             float64

	LogLevel  string
	LogFormat string
}

func Load() *Config {
	apiBase := os.Getenv("API_BASE_URL")
	if apiBase == "" {
		panic("API_BASE_URL environment variable is required")
	}
	apiBase = strings.TrimRight(apiBase, "/")

	token := os.Getenv("AGENT_TOKEN")
	email := os.Getenv("AGENT_EMAIL")
	password := os.Getenv("AGENT_PASSWORD")
	if token == "" && (email == "" || password == "") {
		panic("either AGENT_TOKEN or AGENT_EMAIL and AGENT_PASSWORD must be set")
	}

	channelURL := os.Getenv("CHANNEL_URL")
	if channelURL == "" {
		channelURL = DeriveChannelURL(apiBase)
	}

	return &Config{
		APIBaseURL:             apiBase,
		ChannelURL:             channelURL,
		Email:                  email,
		Password:               password,
		Token:                  token,
		Ward:                   os.Getenv("AGENT_WARD"),
		Views:                  splitList(os.Getenv("AGENT_VIEWS")),
		Port:                   getEnv("PORT", "8090"),
		AllowedOrigins:         splitList(getEnv("ALLOWED_ORIGINS", "*")),
		HTTPTimeout:            getDuration("HTTP_TIMEOUT", 15*time.Second),
		HTTPRetryCount:         getInt("HTTP_RETRY_COUNT", 2),
		RedisAddress:           os.Getenv("REDIS_ADDR"),
		RedisPassword:          os.Getenv("REDIS_PASSWORD"),
		RedisDB:                getInt("REDIS_DB", 0),
		OutboxDatabaseURL:      os.Getenv("OUTBOX_DATABASE_URL"),
		RabbitMQURL:            os.Getenv("RABBITMQ_URL"),
		NotificationQueue:      getEnv("NOTIFICATION_QUEUE", "bed-notifications"),
		NotificationPermission: getEnv("NOTIFICATION_PERMISSION", "default"),
		ReplayRate:             getFloat("REPLAY_RATE", 5),
		LogLevel:               getEnv("LOG_LEVEL", "info"),
		LogFormat:              getEnv("LOG_FORMAT", "json"),
	}
}

// DeriveChannelURL turns the REST base URL into the websocket endpoint served
// by the same host: http→ws, https→wss, path /ws.
func DeriveChannelURL(apiBase string) string {
	u, err := url.Parse(apiBase)
	if err != nil || u.Host == "" {
		return ""
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/ws"
	u.RawQuery = ""
	return u.String()
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil && v >= 0 {
		return v
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil && d > 0 {
		return d
	}
	return defaultValue
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getFloat(key string, defaultValue float64) float64 {
	if v, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil && v > 0 {
		return v
	}
	return defaultValue
}
