package config

import (
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config stores the application configuration. It is built once at startup
// and handed to components explicitly; nothing reads the environment after
// Load returns.
type Config struct {
	ListenAddr string

	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// Redis backs the popular-tracks cache. The server keeps working when
	// Redis is unreachable, just without caching.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	JWTSecret string
	TokenTTL  time.Duration

	StaticDir string // Root directory for files served under /static/
	AudioDir  string // Subdirectory for uploaded audio: StaticDir/audio
	CoverDir  string // Subdirectory for cached cover art: StaticDir/covers

	FFprobePath string // External probe used for track duration

	CoverAPIURL   string        // Remote cover lookup endpoint
	CoverTimeout  time.Duration // Per-request timeout for cover lookups
	MaxCoverSize  int64         // Reject cover bodies larger than this
	MaxUploadSize int64         // Reject audio uploads larger than this

	SweepOnStart bool // Run a reconciliation sweep during server startup
	WatchFiles   bool // Watch the audio dir and sweep on out-of-band deletes

	LogLevel string
	LogPath  string
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// getEnvInt gets an environment variable as int or returns a default value.
func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}

// getEnvInt64 gets an environment variable as int64 or returns a default value.
func getEnvInt64(key string, fallback int64) int64 {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return fallback
}

// getEnvBool gets an environment variable as bool or returns a default value.
func getEnvBool(key string, fallback bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return fallback
}

// Load loads configuration from environment variables (via .env file) or defaults.
func Load() *Config {
	// Attempt to load .env file. godotenv.Load() will not override existing env vars.
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found or error loading .env, relying on existing environment variables and defaults.")
	}

	staticBase := getEnv("STATIC_DIR", "static")

	return &Config{
		ListenAddr: getEnv("LISTEN_ADDR", ":8000"),

		DBHost:     getEnv("DB_HOST", "127.0.0.1"),
		DBPort:     getEnv("DB_PORT", "3306"),
		DBUser:     getEnv("DB_USER", "root"),
		DBPassword: os.Getenv("DB_PASSWORD"), // No hardcoded default for credentials
		DBName:     getEnv("DB_NAME", "melodycommons"),

		RedisAddr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		JWTSecret: getEnv("JWT_SECRET", "melody-commons-dev-secret-change-in-production"),
		TokenTTL:  time.Duration(getEnvInt("TOKEN_TTL_HOURS", 30*24)) * time.Hour,

		StaticDir: staticBase,
		AudioDir:  filepath.Join(staticBase, "audio"),
		CoverDir:  filepath.Join(staticBase, "covers"),

		FFprobePath: getEnv("FFPROBE_PATH", "ffprobe"),

		CoverAPIURL:   getEnv("COVER_API_URL", "https://api.lrc.cx/cover"),
		CoverTimeout:  time.Duration(getEnvInt("COVER_TIMEOUT_SECONDS", 10)) * time.Second,
		MaxCoverSize:  getEnvInt64("MAX_COVER_SIZE", 5<<20),
		MaxUploadSize: getEnvInt64("MAX_UPLOAD_SIZE", 50<<20),

		SweepOnStart: getEnvBool("SWEEP_ON_START", true),
		WatchFiles:   getEnvBool("WATCH_FILES", true),

		LogLevel: getEnv("LOG_LEVEL", "info"),
		LogPath:  getEnv("LOG_PATH", ""),
	}
}
