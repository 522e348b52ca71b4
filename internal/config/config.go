// Package config provides configuration loading and validation for the
// feedmixer servers. It uses koanf to merge environment variables with
// optional file overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds all configuration values for the API and ingest servers.
type Config struct {
	// Server settings
	Port     int    `koanf:"port"`
	Env      string `koanf:"env"`
	LogLevel string `koanf:"log_level"` // Empty derives the level from Env

	// Database
	DatabaseURL string `koanf:"database_url"`

	// Redis (feed cache). Empty selects the in-process cache.
	RedisURL string `koanf:"redis_url"`

	// JWT Authentication
	JWTSecret         string `koanf:"jwt_secret"`
	JWTPreviousSecret string `koanf:"jwt_previous_secret"` // Accepted during key rotation

	// Firehose ingestion
	FirehoseURL string `koanf:"firehose_url"`

	// R2 (Cloudflare Object Storage, feed snapshots)
	R2BucketName      string `koanf:"r2_bucket_name"`
	R2AccessKeyID     string `koanf:"r2_access_key_id"`
	R2SecretAccessKey string `koanf:"r2_secret_access_key"`
	R2Endpoint        string `koanf:"r2_endpoint"`

	// Feed composition
	DefaultFeedSize int           `koanf:"default_feed_size"`
	MaxFeedSize     int           `koanf:"max_feed_size"`
	FeedCacheTTL    time.Duration `koanf:"feed_cache_ttl"`
	FeedCacheMaxAge time.Duration `koanf:"feed_cache_max_age"`
	OverfetchFactor int           `koanf:"overfetch_factor"`
	PoolTimeout     time.Duration `koanf:"pool_timeout"`

	// Scoring
	ScoringInterestWeight    float64 `koanf:"scoring_interest_weight"`
	ScoringConnectionWeight  float64 `koanf:"scoring_connection_weight"`
	ScoringTimeWeight        float64 `koanf:"scoring_time_weight"`
	ScoringDecayLambda       float64 `koanf:"scoring_decay_lambda"` // Hourly exponential decay rate
	ScoringSecondDegreeScore float64 `koanf:"scoring_second_degree_score"`

	// DefaultPoolWeights overrides the built-in composition defaults for
	// users with no stored configuration. Keys are pool kind strings.
	// File only; there is no environment form for a weight table.
	DefaultPoolWeights map[string]float64 `koanf:"default_pool_weights"`

	// Experiments. Variants are file only, like the pool weight table.
	ExperimentName     string              `koanf:"experiment_name"`
	ExperimentVariants []ExperimentVariant `koanf:"experiment_variants"`

	// HTTP hardening
	RateLimitPerMinute int    `koanf:"rate_limit_per_minute"`
	CORSAllowedOrigins string `koanf:"cors_allowed_origins"` // Comma-separated

	// Tracing
	TracingEnabled    bool    `koanf:"tracing_enabled"`
	TracingEndpoint   string  `koanf:"tracing_endpoint"`
	TracingSampleRate float64 `koanf:"tracing_sample_rate"`

	// Profiling exposes /debug/pprof/* endpoints. Refused outside
	// development regardless of this flag.
	ProfilingEnabled bool `koanf:"profiling_enabled"`
}

// ExperimentVariant is one experiment group as declared in the config file.
// Weights keys are pool kind strings; the caller converts and validates them
// against the pool and composition packages when wiring the assigner.
type ExperimentVariant struct {
	Name    string             `koanf:"name"`
	Percent float64            `koanf:"percent"`
	Weights map[string]float64 `koanf:"weights"`
}

// Configuration validation errors.
var (
	ErrMissingDatabaseURL = errors.New("DATABASE_URL is required")
	ErrMissingJWTSecret   = errors.New("JWT_SECRET is required")
	ErrMissingFirehoseURL = errors.New("FIREHOSE_URL is required")

	ErrMissingR2BucketName      = errors.New("R2_BUCKET_NAME is required")
	ErrMissingR2AccessKeyID     = errors.New("R2_ACCESS_KEY_ID is required")
	ErrMissingR2SecretAccessKey = errors.New("R2_SECRET_ACCESS_KEY is required")
	ErrMissingR2Endpoint        = errors.New("R2_ENDPOINT is required")

	ErrInvalidInteger  = errors.New("expected an integer value")
	ErrInvalidDuration = errors.New("expected a duration value")

	ErrInvalidFeedSize    = errors.New("DEFAULT_FEED_SIZE must be positive")
	ErrInvalidMaxFeedSize = errors.New("MAX_FEED_SIZE must be at least DEFAULT_FEED_SIZE")
	ErrInvalidCacheTTL    = errors.New("FEED_CACHE_TTL must be positive")
	ErrInvalidCacheMaxAge = errors.New("FEED_CACHE_MAX_AGE must be at least FEED_CACHE_TTL")
	ErrInvalidOverfetch   = errors.New("OVERFETCH_FACTOR must be at least 1")
	ErrInvalidPoolTimeout = errors.New("POOL_TIMEOUT must be positive")
	ErrInvalidDecayLambda = errors.New("SCORING_DECAY_LAMBDA must not be negative")
	ErrInvalidRateLimit   = errors.New("RATE_LIMIT_PER_MINUTE must be positive")
	ErrInvalidSampleRate  = errors.New("TRACING_SAMPLE_RATE must be between 0 and 1")
)

// Default values for non-secret configuration.
const (
	DefaultPort = 8080
	DefaultEnv  = "development"

	DefaultFeedSize        = 20
	DefaultMaxFeedSize     = 100
	DefaultFeedCacheTTL    = 5 * time.Minute
	DefaultFeedCacheMaxAge = time.Hour
	DefaultOverfetchFactor = 2
	DefaultPoolTimeout     = 2 * time.Second

	DefaultInterestWeight    = 0.40
	DefaultConnectionWeight  = 0.35
	DefaultTimeWeight        = 0.25
	DefaultDecayLambda       = 0.05
	DefaultSecondDegreeScore = 0.5

	DefaultRateLimitPerMinute = 100

	DefaultTracingEnabled    = false
	DefaultTracingEndpoint   = "localhost:4317"
	DefaultTracingSampleRate = 1.0
)

// Load reads configuration from environment variables and an optional config file.
// Environment variables take precedence over file values.
// Returns the loaded config and a slice of validation errors (empty if valid).
// If a config file path is provided and the file cannot be loaded, an error is returned.
func Load(configFilePath string) (*Config, []error) {
	k := koanf.New(".")
	var loadErrs []error

	// Load from YAML file first if provided (lower precedence)
	if configFilePath != "" {
		if err := k.Load(file.Provider(configFilePath), yaml.Parser()); err != nil {
			return nil, []error{fmt.Errorf("failed to load config file %s: %w", configFilePath, err)}
		}
	}

	// Parse port from env, collecting error if invalid
	// Try FEEDMIXER_PORT first, then PORT for backward compatibility
	port, portErr := getEnvIntOrDefaultMulti([]string{"FEEDMIXER_PORT", "PORT"}, k.Int("port"), DefaultPort)
	if portErr != nil {
		loadErrs = append(loadErrs, portErr)
	}

	defaultFeedSize, err := getEnvIntOrDefault("DEFAULT_FEED_SIZE", k.Int("default_feed_size"), DefaultFeedSize)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}
	maxFeedSize, err := getEnvIntOrDefault("MAX_FEED_SIZE", k.Int("max_feed_size"), DefaultMaxFeedSize)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}
	overfetchFactor, err := getEnvIntOrDefault("OVERFETCH_FACTOR", k.Int("overfetch_factor"), DefaultOverfetchFactor)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}
	rateLimit, err := getEnvIntOrDefault("RATE_LIMIT_PER_MINUTE", k.Int("rate_limit_per_minute"), DefaultRateLimitPerMinute)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}

	cacheTTL, err := getEnvDurationOrDefault("FEED_CACHE_TTL", k.Duration("feed_cache_ttl"), DefaultFeedCacheTTL)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}
	cacheMaxAge, err := getEnvDurationOrDefault("FEED_CACHE_MAX_AGE", k.Duration("feed_cache_max_age"), DefaultFeedCacheMaxAge)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}
	poolTimeout, err := getEnvDurationOrDefault("POOL_TIMEOUT", k.Duration("pool_timeout"), DefaultPoolTimeout)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}

	interestWeight, err := getEnvFloatOrDefault("SCORING_INTEREST_WEIGHT", k.Float64("scoring_interest_weight"), DefaultInterestWeight)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}
	connectionWeight, err := getEnvFloatOrDefault("SCORING_CONNECTION_WEIGHT", k.Float64("scoring_connection_weight"), DefaultConnectionWeight)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}
	timeWeight, err := getEnvFloatOrDefault("SCORING_TIME_WEIGHT", k.Float64("scoring_time_weight"), DefaultTimeWeight)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}
	decayLambda, err := getEnvFloatOrDefault("SCORING_DECAY_LAMBDA", k.Float64("scoring_decay_lambda"), DefaultDecayLambda)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}
	secondDegree, err := getEnvFloatOrDefault("SCORING_SECOND_DEGREE_SCORE", k.Float64("scoring_second_degree_score"), DefaultSecondDegreeScore)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}
	sampleRate, err := getEnvFloatOrDefault("TRACING_SAMPLE_RATE", k.Float64("tracing_sample_rate"), DefaultTracingSampleRate)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}

	tracingEnabled := getEnvBoolOrKoanf("TRACING_ENABLED", k, "tracing_enabled", DefaultTracingEnabled)
	profilingEnabled := getEnvBoolOrKoanf("PROFILING_ENABLED", k, "profiling_enabled", false)

	// Structured values only the file can express
	var variants []ExperimentVariant
	if k.Exists("experiment_variants") {
		if err := k.Unmarshal("experiment_variants", &variants); err != nil {
			loadErrs = append(loadErrs, fmt.Errorf("experiment_variants is malformed: %w", err))
		}
	}
	var poolWeights map[string]float64
	if k.Exists("default_pool_weights") {
		poolWeights = k.Float64Map("default_pool_weights")
	}

	// Build config struct, with env vars taking precedence over file values
	cfg := &Config{
		Port:     port,
		Env:      getEnvOrDefaultMulti([]string{"FEEDMIXER_ENV", "ENV", "GO_ENV"}, k.String("env"), DefaultEnv),
		LogLevel: getEnvOrKoanf("LOG_LEVEL", k, "log_level"),

		DatabaseURL: getEnvOrKoanf("DATABASE_URL", k, "database_url"),
		RedisURL:    getEnvOrKoanf("REDIS_URL", k, "redis_url"),

		JWTSecret:         getEnvOrKoanf("JWT_SECRET", k, "jwt_secret"),
		JWTPreviousSecret: getEnvOrKoanf("JWT_PREVIOUS_SECRET", k, "jwt_previous_secret"),

		FirehoseURL: getEnvOrKoanf("FIREHOSE_URL", k, "firehose_url"),

		R2BucketName:      getEnvOrKoanf("R2_BUCKET_NAME", k, "r2_bucket_name"),
		R2AccessKeyID:     getEnvOrKoanf("R2_ACCESS_KEY_ID", k, "r2_access_key_id"),
		R2SecretAccessKey: getEnvOrKoanf("R2_SECRET_ACCESS_KEY", k, "r2_secret_access_key"),
		R2Endpoint:        getEnvOrKoanf("R2_ENDPOINT", k, "r2_endpoint"),

		DefaultFeedSize: defaultFeedSize,
		MaxFeedSize:     maxFeedSize,
		FeedCacheTTL:    cacheTTL,
		FeedCacheMaxAge: cacheMaxAge,
		OverfetchFactor: overfetchFactor,
		PoolTimeout:     poolTimeout,

		ScoringInterestWeight:    interestWeight,
		ScoringConnectionWeight:  connectionWeight,
		ScoringTimeWeight:        timeWeight,
		ScoringDecayLambda:       decayLambda,
		ScoringSecondDegreeScore: secondDegree,

		DefaultPoolWeights: poolWeights,

		ExperimentName:     getEnvOrKoanf("EXPERIMENT_NAME", k, "experiment_name"),
		ExperimentVariants: variants,

		RateLimitPerMinute: rateLimit,
		CORSAllowedOrigins: getEnvOrKoanf("CORS_ALLOWED_ORIGINS", k, "cors_allowed_origins"),

		TracingEnabled:    tracingEnabled,
		TracingEndpoint:   getEnvOrDefault("TRACING_ENDPOINT", k.String("tracing_endpoint"), DefaultTracingEndpoint),
		TracingSampleRate: sampleRate,

		ProfilingEnabled: profilingEnabled,
	}

	// Validate and collect errors
	errs := cfg.Validate()
	errs = append(loadErrs, errs...)

	return cfg, errs
}

// getEnvBoolOrKoanf parses a boolean feature flag, with the environment
// variable taking precedence over the file value. Unrecognized env values
// leave the file/default value in place.
func getEnvBoolOrKoanf(envKey string, k *koanf.Koanf, koanfKey string, defaultVal bool) bool {
	val := defaultVal
	if k.Exists(koanfKey) {
		val = k.Bool(koanfKey)
	}
	if env := os.Getenv(envKey); env != "" {
		switch strings.ToLower(env) {
		case "true", "1", "yes", "on":
			val = true
		case "false", "0", "no", "off":
			val = false
		}
	}
	return val
}

// getEnvOrKoanf returns the environment variable value if set, otherwise the koanf value.
func getEnvOrKoanf(envKey string, k *koanf.Koanf, koanfKey string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	return k.String(koanfKey)
}

// getEnvOrDefault returns the environment variable value if set, otherwise the koanf value, or default.
func getEnvOrDefault(envKey string, koanfVal string, defaultVal string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	if koanfVal != "" {
		return koanfVal
	}
	return defaultVal
}

// getEnvOrDefaultMulti tries multiple environment variable keys in order.
// Returns the first non-empty value found, otherwise the koanf value, or default.
func getEnvOrDefaultMulti(envKeys []string, koanfVal string, defaultVal string) string {
	for _, key := range envKeys {
		if val := os.Getenv(key); val != "" {
			return val
		}
	}
	if koanfVal != "" {
		return koanfVal
	}
	return defaultVal
}

// getEnvIntOrDefault returns the environment variable as int if set, otherwise the koanf value, or default.
// Returns an error if the environment variable is set but cannot be parsed as an integer.
// Note: A value of 0 in a YAML file falls back to the default; zero must come through the environment.
func getEnvIntOrDefault(envKey string, koanfVal int, defaultVal int) (int, error) {
	if val := os.Getenv(envKey); val != "" {
		i, err := strconv.Atoi(val)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid integer: %w", envKey, ErrInvalidInteger)
		}
		return i, nil
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// getEnvIntOrDefaultMulti tries multiple environment variable keys in order.
// Returns the first valid integer value found, otherwise the koanf value, or default.
// Returns an error if any environment variable is set but cannot be parsed as an integer.
func getEnvIntOrDefaultMulti(envKeys []string, koanfVal int, defaultVal int) (int, error) {
	for _, key := range envKeys {
		if val := os.Getenv(key); val != "" {
			i, err := strconv.Atoi(val)
			if err != nil {
				return 0, fmt.Errorf("%s must be a valid integer: %w", key, ErrInvalidInteger)
			}
			return i, nil
		}
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// getEnvFloatOrDefault returns the environment variable as float64 if set, otherwise the koanf value, or default.
// Returns an error if the environment variable is set but cannot be parsed as a float.
// Note: A value of exactly 0 in a YAML file falls back to the default, so zero
// weights must come through the environment.
func getEnvFloatOrDefault(envKey string, koanfVal float64, defaultVal float64) (float64, error) {
	if val := os.Getenv(envKey); val != "" {
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid float: %w", envKey, err)
		}
		return f, nil
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// getEnvDurationOrDefault returns the environment variable as a duration if set,
// otherwise the koanf value, or default. Accepts time.ParseDuration syntax ("5m", "1h30m").
// Returns an error if the environment variable is set but cannot be parsed.
func getEnvDurationOrDefault(envKey string, koanfVal time.Duration, defaultVal time.Duration) (time.Duration, error) {
	if val := os.Getenv(envKey); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid duration: %w", envKey, ErrInvalidDuration)
		}
		return d, nil
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// Validate checks that all required configuration values are present and
// that numeric knobs are inside their working ranges.
// Returns a slice of validation errors (empty if valid).
func (c *Config) Validate() []error {
	var errs []error

	if c.DatabaseURL == "" {
		errs = append(errs, ErrMissingDatabaseURL)
	}
	if c.JWTSecret == "" {
		errs = append(errs, ErrMissingJWTSecret)
	}
	if c.FirehoseURL == "" {
		errs = append(errs, ErrMissingFirehoseURL)
	}

	// R2 configuration is optional. Only validate fields if any R2 value is set.
	if c.R2BucketName != "" || c.R2AccessKeyID != "" || c.R2SecretAccessKey != "" || c.R2Endpoint != "" {
		if c.R2BucketName == "" {
			errs = append(errs, ErrMissingR2BucketName)
		}
		if c.R2AccessKeyID == "" {
			errs = append(errs, ErrMissingR2AccessKeyID)
		}
		if c.R2SecretAccessKey == "" {
			errs = append(errs, ErrMissingR2SecretAccessKey)
		}
		if c.R2Endpoint == "" {
			errs = append(errs, ErrMissingR2Endpoint)
		}
	}

	if c.DefaultFeedSize <= 0 {
		errs = append(errs, ErrInvalidFeedSize)
	}
	if c.MaxFeedSize < c.DefaultFeedSize {
		errs = append(errs, ErrInvalidMaxFeedSize)
	}
	if c.FeedCacheTTL <= 0 {
		errs = append(errs, ErrInvalidCacheTTL)
	}
	if c.FeedCacheMaxAge < c.FeedCacheTTL {
		errs = append(errs, ErrInvalidCacheMaxAge)
	}
	if c.OverfetchFactor < 1 {
		errs = append(errs, ErrInvalidOverfetch)
	}
	if c.PoolTimeout <= 0 {
		errs = append(errs, ErrInvalidPoolTimeout)
	}
	if c.ScoringDecayLambda < 0 {
		errs = append(errs, ErrInvalidDecayLambda)
	}
	if c.RateLimitPerMinute <= 0 {
		errs = append(errs, ErrInvalidRateLimit)
	}
	if c.TracingSampleRate < 0 || c.TracingSampleRate > 1 {
		errs = append(errs, ErrInvalidSampleRate)
	}

	return errs
}

// CORSOrigins splits the comma-separated origin list into the form the CORS
// middleware takes. Empty entries are dropped; an empty list disables CORS.
func (c *Config) CORSOrigins() []string {
	if c.CORSAllowedOrigins == "" {
		return nil
	}
	var origins []string
	for _, origin := range strings.Split(c.CORSAllowedOrigins, ",") {
		origin = strings.TrimSpace(origin)
		if origin != "" {
			origins = append(origins, origin)
		}
	}
	return origins
}

// LogSummary returns a summary of the configuration suitable for logging.
// All secrets are masked to prevent accidental exposure.
func (c *Config) LogSummary() map[string]string {
	return map[string]string{
		"port":      fmt.Sprintf("%d", c.Port),
		"env":       c.Env,
		"log_level": c.LogLevel,

		"database_url": maskConnectionURL(c.DatabaseURL),
		"redis_url":    maskConnectionURL(c.RedisURL),

		"jwt_secret":          maskSecret(c.JWTSecret),
		"jwt_previous_secret": maskSecret(c.JWTPreviousSecret),

		"firehose_url": c.FirehoseURL,

		"r2_bucket_name":       c.R2BucketName,
		"r2_access_key_id":     maskSecret(c.R2AccessKeyID),
		"r2_secret_access_key": maskSecret(c.R2SecretAccessKey),
		"r2_endpoint":          c.R2Endpoint,

		"default_feed_size":  fmt.Sprintf("%d", c.DefaultFeedSize),
		"max_feed_size":      fmt.Sprintf("%d", c.MaxFeedSize),
		"feed_cache_ttl":     c.FeedCacheTTL.String(),
		"feed_cache_max_age": c.FeedCacheMaxAge.String(),
		"overfetch_factor":   fmt.Sprintf("%d", c.OverfetchFactor),
		"pool_timeout":       c.PoolTimeout.String(),

		"scoring_interest_weight":     fmt.Sprintf("%g", c.ScoringInterestWeight),
		"scoring_connection_weight":   fmt.Sprintf("%g", c.ScoringConnectionWeight),
		"scoring_time_weight":         fmt.Sprintf("%g", c.ScoringTimeWeight),
		"scoring_decay_lambda":        fmt.Sprintf("%g", c.ScoringDecayLambda),
		"scoring_second_degree_score": fmt.Sprintf("%g", c.ScoringSecondDegreeScore),

		"default_pool_weights": fmt.Sprintf("%v", c.DefaultPoolWeights),

		"experiment_name":     c.ExperimentName,
		"experiment_variants": fmt.Sprintf("%d", len(c.ExperimentVariants)),

		"rate_limit_per_minute": fmt.Sprintf("%d", c.RateLimitPerMinute),
		"cors_allowed_origins":  c.CORSAllowedOrigins,

		"tracing_enabled":     fmt.Sprintf("%t", c.TracingEnabled),
		"tracing_endpoint":    c.TracingEndpoint,
		"tracing_sample_rate": fmt.Sprintf("%g", c.TracingSampleRate),

		"profiling_enabled": fmt.Sprintf("%t", c.ProfilingEnabled),
	}
}

// maskSecret masks a secret value, showing only the first 4 characters followed by ****
// If the secret is shorter than 8 characters, it's fully masked.
func maskSecret(s string) string {
	if s == "" {
		return "<not set>"
	}
	if len(s) < 8 {
		return "****"
	}
	return s[:4] + "****"
}

// maskConnectionURL masks the password in a connection URL.
// Works for postgres://, postgresql://, redis:// and rediss:// schemes.
func maskConnectionURL(s string) string {
	if s == "" {
		return "<not set>"
	}

	// Look for password pattern: user:password@host
	// Simple approach: find :// and then mask between : and @
	schemeEnd := strings.Index(s, "://")
	if schemeEnd == -1 {
		return maskSecret(s)
	}

	rest := s[schemeEnd+3:]
	atIndex := strings.Index(rest, "@")
	if atIndex == -1 {
		return s // No credentials in URL
	}

	colonIndex := strings.Index(rest[:atIndex], ":")
	if colonIndex == -1 {
		return s // No password (only username)
	}

	// Reconstruct URL with masked password
	scheme := s[:schemeEnd+3]
	user := rest[:colonIndex]
	hostAndPath := rest[atIndex:]

	return scheme + user + ":****" + hostAndPath
}
