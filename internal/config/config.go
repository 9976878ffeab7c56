// Package config provides environment configuration for the API server.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Store drivers.
const (
	StoreMemory = "memory"
	StoreMongo  = "mongo"
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	ServerPort         string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration
	AllowedOrigins     []string
	InstanceID         string

	// JWT settings
	JWTSecret string

	// Rate limiting
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Store settings
	StoreDriver      string
	MongoURI         string
	MongoDatabase    string
	MongoMaxPoolSize int
	DevUsers         []string // seeded into the memory store

	// NATS event tap (empty URL disables)
	NATSURL           string
	NATSCAFile        string
	NATSCertFile      string
	NATSKeyFile       string
	NATSToken         string
	NATSSubjectPrefix string

	// Redis presence mirror (empty address disables)
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	PresenceTTL   time.Duration

	// WebSocket transport
	WSSendBuffer      int
	WSPingInterval    time.Duration
	WSWriteTimeout    time.Duration
	WSMaxMessageBytes int64

	// Logging
	LogLevel string

	// Tracing
	TracingEndpoint string
	TracingEnabled  bool
}

// Load reads configuration from environment variables.
func Load() *Config {
	hostname, _ := os.Hostname()

	return &Config{
		// Server
		ServerPort:         getEnv("PORT", "8000"),
		ServerReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
		ServerWriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 30*time.Second),
		AllowedOrigins:     getListEnv("ALLOWED_ORIGINS", []string{"http://localhost:5173"}),
		InstanceID:         getEnv("INSTANCE_ID", hostname),

		// JWT
		JWTSecret: getEnv("JWT_SECRET", "development-secret-change-in-production"),

		// Rate limiting
		RateLimitRequests: getIntEnv("RATE_LIMIT_REQUESTS", 120),
		RateLimitWindow:   getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),

		// Store
		StoreDriver:      getEnv("STORE_DRIVER", StoreMongo),
		MongoURI:         getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDatabase:    getEnv("MONGO_DATABASE", "social"),
		MongoMaxPoolSize: getIntEnv("MONGO_MAX_POOL_SIZE", 50),
		DevUsers:         getListEnv("DEV_USERS", nil),

		// NATS
		NATSURL:           getEnv("NATS_URL", ""),
		NATSCAFile:        getEnv("NATS_CA_FILE", ""),
		NATSCertFile:      getEnv("NATS_CERT_FILE", ""),
		NATSKeyFile:       getEnv("NATS_KEY_FILE", ""),
		NATSToken:         getEnv("NATS_TOKEN", ""),
		NATSSubjectPrefix: getEnv("NATS_SUBJECT_PREFIX", "social.events"),

		// Redis
		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getIntEnv("REDIS_DB", 0),
		PresenceTTL:   getDurationEnv("PRESENCE_TTL", 2*time.Hour),

		// WebSocket
		WSSendBuffer:      getIntEnv("WS_SEND_BUFFER", 64),
		WSPingInterval:    getDurationEnv("WS_PING_INTERVAL", 30*time.Second),
		WSWriteTimeout:    getDurationEnv("WS_WRITE_TIMEOUT", 10*time.Second),
		WSMaxMessageBytes: int64(getIntEnv("WS_MAX_MESSAGE_BYTES", 4096)),

		// Logging
		LogLevel: getEnv("LOG_LEVEL", "info"),

		// Tracing
		TracingEndpoint: getEnv("TRACING_ENDPOINT", "localhost:4318"),
		TracingEnabled:  getBoolEnv("TRACING_ENABLED", false),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getListEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
