// Package config reads the onboarding service settings from the environment,
// optionally seeded from a .env file.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config represents runtime configuration for the server, worker and CLI.
type Config struct {
	Env      string
	LogLevel string
	Address  string

	BackendURL     string
	BackendTimeout time.Duration

	SigningSecret []byte
	SessionTTL    time.Duration

	MaxUploadBytes int64
	MaxPDFPages    int
	ConvertPDF     bool
	ProcessingPool int

	RateLimit      float64
	RateBurst      int
	AllowedOrigins []string

	DatabaseURL string
	DBMaxConns  int

	RedisAddr         string
	RedisPassword     string
	WorkerConcurrency int

	S3Endpoint     string
	S3AccessKey    string
	S3SecretKey    string
	S3UseSSL       bool
	S3Region       string
	DocumentBucket string

	CredentialsFile string
}

const (
	defaultAddress        = ":8080"
	defaultBackendURL     = "http://localhost:8000/api"
	defaultBackendTimeout = 30 * time.Second
	defaultSessionTTL     = 2 * time.Hour
	defaultMaxUploadBytes = 15 << 20 // 15 MiB
	defaultMaxPDFPages    = 3
	defaultWorkerCount    = 2
	defaultRateLimit      = 5
	defaultRateBurst      = 10
	defaultDBMaxConns     = 8
	defaultRedisAddr      = "localhost:6379"
	defaultConcurrency    = 4
	defaultS3Endpoint     = "localhost:9000"
	defaultS3Region       = "us-east-1"
	defaultBucket         = "registration-documents"
)

// Load reads configuration from environment variables falling back to
// defaults. Values found in the given .env files (".env" when none are
// named) are applied first without overriding the real environment.
func Load(envFiles ...string) (*Config, error) {
	if err := loadDotEnv(envFiles); err != nil {
		return nil, err
	}
	cfg := &Config{
		Env:               readEnv("ONBOARD_ENV", "development"),
		LogLevel:          readEnv("ONBOARD_LOG_LEVEL", "info"),
		Address:           readEnv("ONBOARD_ADDRESS", defaultAddress),
		BackendURL:        strings.TrimRight(readEnv("ONBOARD_BACKEND_URL", defaultBackendURL), "/"),
		BackendTimeout:    parseDuration("ONBOARD_BACKEND_TIMEOUT", defaultBackendTimeout),
		SigningSecret:     parseSecret("ONBOARD_SIGNING_SECRET"),
		SessionTTL:        parseDuration("ONBOARD_SESSION_TTL", defaultSessionTTL),
		MaxUploadBytes:    parseInt64("ONBOARD_MAX_UPLOAD_BYTES", defaultMaxUploadBytes),
		MaxPDFPages:       parseInt("ONBOARD_INTAKE_MAX_PDF_PAGES", defaultMaxPDFPages),
		ConvertPDF:        parseBool("ONBOARD_INTAKE_CONVERT_PDF", false),
		ProcessingPool:    parseInt("ONBOARD_WORKERS", defaultWorkerCount),
		RateLimit:         parseFloat("ONBOARD_RATE_LIMIT", defaultRateLimit),
		RateBurst:         parseInt("ONBOARD_RATE_BURST", defaultRateBurst),
		AllowedOrigins:    parseList("ONBOARD_ALLOWED_ORIGINS", "*"),
		DatabaseURL:       readEnv("DATABASE_URL", ""),
		DBMaxConns:        parseInt("ONBOARD_DB_MAX_CONNS", defaultDBMaxConns),
		RedisAddr:         readEnv("REDIS_ADDR", defaultRedisAddr),
		RedisPassword:     readEnv("REDIS_PASSWORD", ""),
		WorkerConcurrency: parseInt("ONBOARD_WORKER_CONCURRENCY", defaultConcurrency),
		S3Endpoint:        readEnv("S3_ENDPOINT", defaultS3Endpoint),
		S3AccessKey:       readEnv("S3_ACCESS_KEY", ""),
		S3SecretKey:       readEnv("S3_SECRET_KEY", ""),
		S3UseSSL:          parseBool("S3_USE_SSL", false),
		S3Region:          readEnv("S3_REGION", defaultS3Region),
		DocumentBucket:    readEnv("ONBOARD_DOCUMENT_BUCKET", defaultBucket),
		CredentialsFile:   readEnv("ONBOARD_CREDENTIALS_FILE", defaultCredentialsFile()),
	}
	if cfg.SigningSecret == nil {
		cfg.SigningSecret = randomSecret()
	}
	if cfg.ProcessingPool <= 0 {
		cfg.ProcessingPool = defaultWorkerCount
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = defaultMaxUploadBytes
	}
	if cfg.MaxPDFPages <= 0 {
		cfg.MaxPDFPages = defaultMaxPDFPages
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = defaultSessionTTL
	}
	if cfg.WorkerConcurrency <= 0 {
		cfg.WorkerConcurrency = defaultConcurrency
	}
	u, err := url.Parse(cfg.BackendURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("ONBOARD_BACKEND_URL %q is not an absolute URL", cfg.BackendURL)
	}
	if cfg.Infrastructure() && (cfg.S3AccessKey == "" || cfg.S3SecretKey == "") {
		return nil, errors.New("S3_ACCESS_KEY and S3_SECRET_KEY are required when DATABASE_URL is set")
	}
	return cfg, nil
}

// Infrastructure reports whether Postgres, MinIO and Redis back the server.
func (c *Config) Infrastructure() bool {
	return c.DatabaseURL != ""
}

// Production reports whether the service runs with production logging.
func (c *Config) Production() bool {
	return c.Env == "production"
}

func loadDotEnv(files []string) error {
	explicit := len(files) > 0
	if !explicit {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if !explicit && errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

func readEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func parseList(key, def string) []string {
	val := readEnv(key, def)
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseInt64(key string, def int64) int64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil {
			return parsed
		}
	}
	return def
}

func parseInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return def
}

func parseFloat(key string, def float64) float64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			return parsed
		}
	}
	return def
}

func parseBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			return parsed
		}
	}
	return def
}

func parseDuration(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			return parsed
		}
	}
	return def
}

func parseSecret(key string) []byte {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return []byte(v)
	}
	return nil
}

func randomSecret() []byte {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return []byte(hex.EncodeToString([]byte("fallbacksecret")))
	}
	return buf
}

func defaultCredentialsFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".chefsync-credentials.json"
	}
	return filepath.Join(dir, "chefsync", "credentials.json")
}
