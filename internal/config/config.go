// Package config loads the server's runtime configuration from flags, an
// optional .env file, and environment variables, in that increasing order of
// precedence, following the teacher's cmd/main.go flag+godotenv pattern.
package config

import (
	"flag"
	"os"
	"strconv"
	"time"
)

// Config holds everything cmd/server needs to wire the application.
type Config struct {
	Addr string

	MongoURI  string
	MongoDB   string
	MongoColl string

	RedisAddr string
	RedisDB   int

	// AdminIDs are principals permission.Gate always treats as admins.
	AdminIDs []string

	CacheTTL      time.Duration
	FlushInterval time.Duration

	Development bool
	LogLevel    string
}

// Default mirrors the teacher's DefaultConfig: sane values for local
// development against a Mongo/Redis pair on their standard ports.
func Default() Config {
	return Config{
		Addr:          ":8080",
		MongoURI:      "mongodb://localhost:27017",
		MongoDB:       "collabdocs",
		MongoColl:     "documents",
		RedisAddr:     "localhost:6379",
		RedisDB:       0,
		CacheTTL:      time.Hour,
		FlushInterval: 2 * time.Second,
		Development:   false,
		LogLevel:      "info",
	}
}

// Load parses flags, optionally loads envFile with godotenv, and lets
// environment variables override both, matching the teacher's layering.
func Load(args []string, envFile string, loadEnv func(string) error) (Config, error) {
	cfg := Default()

	fs := flag.NewFlagSet("collabdocs", flag.ContinueOnError)
	addr := fs.String("addr", cfg.Addr, "HTTP/WebSocket listen address")
	mongoURI := fs.String("mongo-uri", cfg.MongoURI, "MongoDB connection URI")
	mongoDB := fs.String("db-name", cfg.MongoDB, "MongoDB database name")
	mongoColl := fs.String("collection", cfg.MongoColl, "MongoDB documents collection name")
	redisAddr := fs.String("redis-addr", cfg.RedisAddr, "Redis address (empty disables Redis, using in-memory fallbacks)")
	development := fs.Bool("dev", cfg.Development, "Run with development logging")
	logLevel := fs.String("log-level", cfg.LogLevel, "Log level: debug, info, warn, error")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	if _, err := os.Stat(envFile); err == nil {
		_ = loadEnv(envFile)
	}

	cfg.Addr = envOr("ADDR", *addr)
	cfg.MongoURI = envOr("MONGO_URI", *mongoURI)
	cfg.MongoDB = envOr("DB_NAME", *mongoDB)
	cfg.MongoColl = envOr("COLLECTION_NAME", *mongoColl)
	cfg.RedisAddr = envOr("REDIS_ADDR", *redisAddr)
	cfg.LogLevel = envOr("LOG_LEVEL", *logLevel)
	cfg.Development = *development
	if v := os.Getenv("DEV"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Development = b
		}
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RedisDB = n
		}
	}
	if v := os.Getenv("ADMIN_IDS"); v != "" {
		cfg.AdminIDs = splitNonEmpty(v, ',')
	}
	cfg.CacheTTL = durationEnvOr("CACHE_TTL", cfg.CacheTTL)
	cfg.FlushInterval = durationEnvOr("FLUSH_INTERVAL", cfg.FlushInterval)

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func durationEnvOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func splitNonEmpty(s string, sep byte) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == sep {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	if start < len(s) {
		out = append(out, s[start:])
	}
	return out
}
