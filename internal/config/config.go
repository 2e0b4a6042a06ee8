// Package config loads service configuration from the environment
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

const (
	defaultPort           = "5001"
	defaultCountry        = "RU"
	defaultCacheTTL       = 12 * time.Hour
	defaultCacheCapacity  = 10000
	defaultSweepInterval  = 10 * time.Minute
	defaultRequestTimeout = 30 * time.Second
	defaultAllowedOrigins = "http://localhost:3000"
)

// Config holds all configuration for the service
type Config struct {
	// Listen address, host:port
	ListenAddr string

	// Provider credentials; a missing key disables nothing but makes that provider fail
	VirusTotalAPIKey string
	URLScanAPIKey    string

	// Country attached to every Netcraft report
	NetcraftCountry string

	// Provider endpoints; empty selects the public API
	VirusTotalBaseURL string
	URLScanBaseURL    string
	NetcraftBaseURL   string

	// Verdict cache
	CacheTTL           time.Duration
	CacheCapacity      int
	CacheSweepInterval time.Duration

	// Per provider request timeout
	RequestTimeout time.Duration

	// Browser origins allowed to open the websocket; "*" allows any
	AllowedOrigins []string

	LogLevel logrus.Level
	Logger   *logrus.Logger
}

// Load reads configuration from the environment after applying any of the
// given dotenv files that exist. Variables already set in the environment win.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	cfg := &Config{Logger: logger}

	cfg.ListenAddr = os.Getenv("LISTEN_ADDR")
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":" + getEnvDefault("PORT", defaultPort)
	}

	cfg.VirusTotalAPIKey = os.Getenv("VIRUSTOTAL_API_KEY")
	if cfg.VirusTotalAPIKey == "" {
		cfg.VirusTotalAPIKey = os.Getenv("VT_API_KEY")
	}
	cfg.URLScanAPIKey = os.Getenv("URLSCAN_API_KEY")
	cfg.NetcraftCountry = strings.ToUpper(getEnvDefault("NETCRAFT_COUNTRY", defaultCountry))
	cfg.VirusTotalBaseURL = os.Getenv("VIRUSTOTAL_BASE_URL")
	cfg.URLScanBaseURL = os.Getenv("URLSCAN_BASE_URL")
	cfg.NetcraftBaseURL = os.Getenv("NETCRAFT_BASE_URL")

	var err error
	if cfg.CacheTTL, err = parseDuration("CACHE_TTL", defaultCacheTTL); err != nil {
		return nil, err
	}
	if cfg.CacheSweepInterval, err = parseDuration("CACHE_SWEEP_INTERVAL", defaultSweepInterval); err != nil {
		return nil, err
	}
	if cfg.RequestTimeout, err = parseDuration("REQUEST_TIMEOUT", defaultRequestTimeout); err != nil {
		return nil, err
	}
	if cfg.CacheCapacity, err = getEnvInt("CACHE_CAPACITY", defaultCacheCapacity); err != nil {
		return nil, err
	}

	for _, origin := range strings.Split(getEnvDefault("ALLOWED_ORIGINS", defaultAllowedOrigins), ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			cfg.AllowedOrigins = append(cfg.AllowedOrigins, origin)
		}
	}

	level, err := logrus.ParseLevel(getEnvDefault("LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}
	cfg.LogLevel = level
	logger.SetLevel(level)

	return cfg, nil
}

// Validate checks that the configuration is usable
func (c *Config) Validate() error {
	if _, port, err := net.SplitHostPort(c.ListenAddr); err != nil {
		return fmt.Errorf("invalid listen address %q: %w", c.ListenAddr, err)
	} else if n, err := strconv.Atoi(port); err != nil || n < 0 || n > 65535 {
		return fmt.Errorf("invalid port %q", port)
	}
	if c.CacheTTL <= 0 {
		return fmt.Errorf("CACHE_TTL must be positive")
	}
	if c.CacheCapacity <= 0 {
		return fmt.Errorf("CACHE_CAPACITY must be positive")
	}
	if c.CacheSweepInterval <= 0 {
		return fmt.Errorf("CACHE_SWEEP_INTERVAL must be positive")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be positive")
	}
	if len(c.NetcraftCountry) != 2 {
		return fmt.Errorf("NETCRAFT_COUNTRY must be a two letter country code, got %q", c.NetcraftCountry)
	}
	return nil
}

// PrintConfig logs the current configuration (without secrets)
func (c *Config) PrintConfig() {
	c.Logger.Info("=== urlsentry configuration ===")
	c.Logger.Infof("  Listen: %s", c.ListenAddr)
	c.Logger.Infof("  VirusTotal key: %s", configured(c.VirusTotalAPIKey))
	c.Logger.Infof("  urlscan key: %s", configured(c.URLScanAPIKey))
	c.Logger.Infof("  Netcraft country: %s", c.NetcraftCountry)
	c.Logger.Infof("  Cache: ttl=%s capacity=%d sweep=%s", c.CacheTTL, c.CacheCapacity, c.CacheSweepInterval)
	c.Logger.Infof("  Request timeout: %s", c.RequestTimeout)
	c.Logger.Infof("  Allowed origins: %s", strings.Join(c.AllowedOrigins, ", "))

	if c.VirusTotalAPIKey == "" {
		c.Logger.Warn("VIRUSTOTAL_API_KEY is not set, VirusTotal lookups will fail")
	}
}

func configured(key string) string {
	if key == "" {
		return "not configured"
	}
	return "configured"
}

func getEnvDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func parseDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
