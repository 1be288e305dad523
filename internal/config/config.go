// Package config loads service and CLI settings from defaults, an optional
// TOML file, a .env file and environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"go.ngs.io/tec-interp/internal/adapter/archive"
	"go.ngs.io/tec-interp/internal/adapter/krige"
	"go.ngs.io/tec-interp/internal/adapter/store/results"
	"go.ngs.io/tec-interp/internal/usecase"
)

var validate = validator.New()

// Config is the complete runtime configuration.
type Config struct {
	LogLevel      string              `toml:"log_level" validate:"oneof=trace debug info warn warning error"`
	Archive       ArchiveConfig       `toml:"archive"`
	Interpolation InterpolationConfig `toml:"interpolation"`
	Server        ServerConfig        `toml:"server"`
	Results       ResultsConfig       `toml:"results"`
}

// ArchiveConfig selects the map archive and the local cache.
type ArchiveConfig struct {
	BaseURL        string             `toml:"base_url" validate:"required"`
	CacheDir       string             `toml:"cache_dir" validate:"required"`
	Resolution     archive.Resolution `toml:"resolution"`
	ArchiveIndex   string             `toml:"archive_index" validate:"len=1"`
	MaxAttempts    int                `toml:"max_attempts" validate:"gte=1,lte=20"`
	RequestTimeout time.Duration      `toml:"request_timeout" validate:"gt=0"`
	// Cached files older than CacheMaxAge are removed by the janitor. Zero
	// disables it.
	CacheMaxAge     time.Duration `toml:"cache_max_age" validate:"gte=0"`
	JanitorInterval time.Duration `toml:"janitor_interval" validate:"gte=0"`
}

// InterpolationConfig holds the estimator and neighborhood settings.
type InterpolationConfig struct {
	Method     string      `toml:"method" validate:"oneof=ordinary kriging bilinear"`
	Variogram  krige.Model `toml:"variogram"`
	NLags      int         `toml:"nlags" validate:"gte=1,lte=1000"`
	RadiusKm   float64     `toml:"radius_km" validate:"gt=0,lte=20000"`
	MaxPoints  int         `toml:"max_points" validate:"gte=1,lte=5000"`
	Workers    int         `toml:"workers" validate:"gte=1,lte=1024"`
	PurgeCache bool        `toml:"purge_cache"`
	Seed       int64       `toml:"seed"`
}

// ServerConfig configures the HTTP service.
type ServerConfig struct {
	Port               string   `toml:"port" validate:"required,numeric"`
	CORSAllowedOrigins []string `toml:"cors_allowed_origins"`
}

// ResultsConfig configures the run store. An empty Dir keeps runs in memory.
type ResultsConfig struct {
	Dir string        `toml:"dir"`
	TTL time.Duration `toml:"ttl" validate:"gte=0"`
}

// Default returns the built-in configuration.
func Default() *Config {
	ac := archive.DefaultConfig()
	kc := krige.DefaultConfig()
	p := usecase.DefaultParams()
	return &Config{
		LogLevel: "info",
		Archive: ArchiveConfig{
			BaseURL:         ac.BaseURL,
			CacheDir:        ac.CacheDir,
			Resolution:      ac.Resolution,
			ArchiveIndex:    ac.ArchiveIndex,
			MaxAttempts:     ac.MaxAttempts,
			RequestTimeout:  ac.RequestTimeout,
			CacheMaxAge:     7 * 24 * time.Hour,
			JanitorInterval: time.Hour,
		},
		Interpolation: InterpolationConfig{
			Method:    kc.Method,
			Variogram: kc.Model,
			NLags:     kc.NLags,
			RadiusKm:  p.RadiusKm,
			MaxPoints: p.MaxPoints,
			Workers:   runtime.NumCPU(),
		},
		Server: ServerConfig{Port: "8080"},
	}
}

// Load builds the configuration. path is an optional TOML file. envFiles
// are loaded with godotenv before the environment is read; with none given
// a .env in the working directory is used if present. Variables already set
// in the environment win over .env files.
func Load(path string, envFiles ...string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	if err := godotenv.Load(envFiles...); err != nil {
		if len(envFiles) > 0 || !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load env file: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every section.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	setString("TEC_LOG_LEVEL", &c.LogLevel)
	setString("TEC_ARCHIVE_URL", &c.Archive.BaseURL)
	setString("TEC_CACHE_DIR", &c.Archive.CacheDir)
	setString("TEC_ARCHIVE_INDEX", &c.Archive.ArchiveIndex)
	setString("TEC_METHOD", &c.Interpolation.Method)
	setString("TEC_RESULTS_DIR", &c.Results.Dir)
	setString("PORT", &c.Server.Port)

	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		c.Server.CORSAllowedOrigins = strings.Split(v, ",")
	}
	if v := os.Getenv("TEC_RESOLUTION"); v != "" {
		res, err := archive.ParseResolution(v)
		if err != nil {
			return fmt.Errorf("invalid TEC_RESOLUTION: %w", err)
		}
		c.Archive.Resolution = res
	}
	if v := os.Getenv("TEC_VARIOGRAM"); v != "" {
		m, err := krige.ParseModel(v)
		if err != nil {
			return fmt.Errorf("invalid TEC_VARIOGRAM: %w", err)
		}
		c.Interpolation.Variogram = m
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"TEC_MAX_ATTEMPTS", &c.Archive.MaxAttempts},
		{"TEC_NLAGS", &c.Interpolation.NLags},
		{"TEC_MAX_POINTS", &c.Interpolation.MaxPoints},
		{"TEC_WORKERS", &c.Interpolation.Workers},
	}
	for _, e := range ints {
		if err := setInt(e.key, e.dst); err != nil {
			return err
		}
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"TEC_REQUEST_TIMEOUT", &c.Archive.RequestTimeout},
		{"TEC_CACHE_MAX_AGE", &c.Archive.CacheMaxAge},
		{"TEC_JANITOR_INTERVAL", &c.Archive.JanitorInterval},
		{"TEC_RESULTS_TTL", &c.Results.TTL},
	}
	for _, e := range durations {
		if err := setDuration(e.key, e.dst); err != nil {
			return err
		}
	}

	if v := os.Getenv("TEC_RADIUS_KM"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid TEC_RADIUS_KM: %w", err)
		}
		c.Interpolation.RadiusKm = f
	}
	if v := os.Getenv("TEC_SEED"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid TEC_SEED: %w", err)
		}
		c.Interpolation.Seed = n
	}
	if v := os.Getenv("TEC_PURGE_CACHE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid TEC_PURGE_CACHE: %w", err)
		}
		c.Interpolation.PurgeCache = b
	}
	return nil
}

func setString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(key string, dst *int) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = n
	return nil
}

func setDuration(key string, dst *time.Duration) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = d
	return nil
}

// ArchiveClientConfig returns the archive client settings.
func (c *Config) ArchiveClientConfig() archive.Config {
	def := archive.DefaultConfig()
	return archive.Config{
		BaseURL:        c.Archive.BaseURL,
		CacheDir:       c.Archive.CacheDir,
		Resolution:     c.Archive.Resolution,
		ArchiveIndex:   c.Archive.ArchiveIndex,
		MaxAttempts:    c.Archive.MaxAttempts,
		RequestTimeout: c.Archive.RequestTimeout,
		InitialBackoff: def.InitialBackoff,
		MaxBackoff:     def.MaxBackoff,
	}
}

// KrigeConfig returns the estimator settings.
func (c *Config) KrigeConfig() krige.Config {
	return krige.Config{
		Method: c.Interpolation.Method,
		Model:  c.Interpolation.Variogram,
		NLags:  c.Interpolation.NLags,
	}
}

// Params returns the batch interpolation parameters.
func (c *Config) Params() usecase.InterpolationParams {
	return usecase.InterpolationParams{
		RadiusKm:   c.Interpolation.RadiusKm,
		MaxPoints:  c.Interpolation.MaxPoints,
		Workers:    c.Interpolation.Workers,
		PurgeCache: c.Interpolation.PurgeCache,
		Seed:       c.Interpolation.Seed,
	}
}

// ResultsStoreConfig returns the run store settings.
func (c *Config) ResultsStoreConfig() results.Config {
	return results.Config{Dir: c.Results.Dir, TTL: c.Results.TTL}
}

// NewLogger returns a logger writing timestamped text at the configured
// level.
func (c *Config) NewLogger() *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	return log
}
