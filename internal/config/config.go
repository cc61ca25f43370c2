package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"roomcall/native/internal/domain"
)

// Client holds the configuration of the roomcall peer.
type Client struct {
	Server             string
	Room               string
	User               string
	ICEServers         []domain.ICEServer
	NegotiationTimeout time.Duration
	RecordPath         string
	LogLevel           string
	LogPretty          bool
}

// Server holds the configuration of the relay server.
type Server struct {
	Port           string
	Environment    string
	AllowedOrigins []string
	JWTSecret      string
	Backend        string
	HistoryLimit   int
	ICEServers     []domain.ICEServer
	LogLevel       string
	Redis          Redis
}

// Redis holds the relay's Redis connection settings.
type Redis struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// Addr returns host:port.
func (r Redis) Addr() string {
	return r.Host + ":" + r.Port
}

const (
	BackendRedis  = "redis"
	BackendMemory = "memory"

	devJWTSecret = "change-me-in-production"
)

// LoadClient reads the peer configuration from a .env file (if present) and
// environment variables. Environment variables take precedence over .env values.
func LoadClient() (*Client, error) {
	// godotenv.Load does not overwrite existing env vars
	_ = godotenv.Load()

	server := os.Getenv("ROOMCALL_SERVER")
	if server == "" {
		return nil, fmt.Errorf("ROOMCALL_SERVER environment variable is required")
	}
	room := os.Getenv("ROOMCALL_ROOM")
	if room == "" {
		return nil, fmt.Errorf("ROOMCALL_ROOM environment variable is required")
	}

	iceServers, err := iceServersFromEnv()
	if err != nil {
		return nil, err
	}

	var timeout time.Duration
	if raw := strings.TrimSpace(os.Getenv("ROOMCALL_NEGOTIATION_TIMEOUT")); raw != "" {
		timeout, err = time.ParseDuration(raw)
		if err != nil || timeout < 0 {
			return nil, fmt.Errorf("ROOMCALL_NEGOTIATION_TIMEOUT: invalid duration %q", raw)
		}
	}

	pretty, err := getBool("LOG_PRETTY", true)
	if err != nil {
		return nil, err
	}

	return &Client{
		Server:             strings.TrimRight(server, "/"),
		Room:               room,
		User:               getEnv("ROOMCALL_USER", "guest"),
		ICEServers:         iceServers,
		NegotiationTimeout: timeout,
		RecordPath:         os.Getenv("ROOMCALL_RECORD"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		LogPretty:          pretty,
	}, nil
}

// LoadServer reads the relay server configuration the same way LoadClient does.
func LoadServer() (*Server, error) {
	_ = godotenv.Load()

	cfg := &Server{
		Port:           getEnv("PORT", "8080"),
		Environment:    getEnv("ENVIRONMENT", "development"),
		AllowedOrigins: splitCommaSeparated(getEnv("ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173")),
		JWTSecret:      getEnv("JWT_SECRET", devJWTSecret),
		Backend:        strings.ToLower(getEnv("RELAY_BACKEND", BackendRedis)),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		Redis: Redis{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
		},
	}

	if cfg.Environment == "production" && cfg.JWTSecret == devJWTSecret {
		return nil, fmt.Errorf("JWT_SECRET must be set in production")
	}
	if cfg.Backend != BackendRedis && cfg.Backend != BackendMemory {
		return nil, fmt.Errorf("RELAY_BACKEND: unsupported backend %q", cfg.Backend)
	}

	var err error
	if cfg.Redis.DB, err = getInt("REDIS_DB", 0); err != nil {
		return nil, err
	}
	if cfg.HistoryLimit, err = getInt("RELAY_HISTORY_LIMIT", 1000); err != nil {
		return nil, err
	}
	if cfg.HistoryLimit <= 0 {
		return nil, fmt.Errorf("RELAY_HISTORY_LIMIT must be positive")
	}
	if cfg.ICEServers, err = iceServersFromEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q", key, raw)
	}
	return n, nil
}

func getBool(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%s: invalid boolean %q", key, raw)
	}
	return b, nil
}
