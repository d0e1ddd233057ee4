package server

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"

	"scanguard/internal/cache"
	"scanguard/internal/feed"
	sglog "scanguard/internal/log"
	"scanguard/internal/threat"
)

var ErrInvalidConfig = errors.New("invalid config")

const appName = "scanguard"

// Config holds server configuration. Values come from the defaults, then an
// optional YAML file, then SG_* environment variables.
type Config struct {
	HTTPAddr    string `yaml:"http_addr"`
	GRPCAddr    string `yaml:"grpc_addr"`
	MetricsAddr string `yaml:"metrics_addr"`

	CacheBackend    string        `yaml:"cache_backend"`
	CacheDir        string        `yaml:"cache_dir"`
	CacheMaxEntries int           `yaml:"cache_max_entries"`
	ScanTTL         time.Duration `yaml:"scan_ttl"`
	ReputationTTL   time.Duration `yaml:"reputation_ttl"`

	AuditDB      string `yaml:"audit_db"`
	IndicatorDB  string `yaml:"indicator_db"`
	KeywordsFile string `yaml:"keywords_file"`
	ModelFile    string `yaml:"model_file"`
	PoliciesFile string `yaml:"policies_file"`
	Classifier   bool   `yaml:"classifier"`

	FeedCapacity      int           `yaml:"feed_capacity"`
	FeedSnapshotLimit int           `yaml:"feed_snapshot_limit"`
	AlertThreshold    int           `yaml:"alert_threshold"`
	SendTimeout       time.Duration `yaml:"send_timeout"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`

	RateLimit float64 `yaml:"rate_limit"`
	RateBurst int     `yaml:"rate_burst"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	RemoteReputation    bool   `yaml:"remote_reputation"`
	RemoteReputationURL string `yaml:"remote_reputation_url"`
}

// DefaultConfig returns the built-in defaults. On-disk stores live under the
// XDG data directory.
func DefaultConfig() *Config {
	dataDir := filepath.Join(xdg.DataHome, appName)
	return &Config{
		HTTPAddr:            ":8080",
		GRPCAddr:            ":9091",
		MetricsAddr:         ":9090",
		CacheBackend:        "memory",
		CacheDir:            filepath.Join(dataDir, "cache"),
		CacheMaxEntries:     cache.DefaultMaxEntries,
		ScanTTL:             cache.DefaultScanTTL,
		ReputationTTL:       cache.DefaultReputationTTL,
		AuditDB:             filepath.Join(dataDir, "audit.db"),
		IndicatorDB:         filepath.Join(dataDir, "indicators.db"),
		FeedCapacity:        feed.DefaultCapacity,
		FeedSnapshotLimit:   feed.DefaultSnapshotLimit,
		AlertThreshold:      feed.DefaultAlertThreshold,
		SendTimeout:         feed.DefaultSendTimeout,
		HeartbeatInterval:   feed.DefaultHeartbeatInterval,
		RateLimit:           10,
		RateBurst:           20,
		LogLevel:            "info",
		LogFormat:           "text",
		RemoteReputationURL: threat.DefaultURLhausHostAPI,
	}
}

// LoadConfig reads the YAML file at path, if any, and environment variables
// and returns a validated Config.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		path = os.Getenv("SG_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, path, err)
		}
	}

	env := &envLoader{}
	cfg.HTTPAddr = getEnv("SG_HTTP_ADDR", cfg.HTTPAddr)
	cfg.GRPCAddr = getEnv("SG_GRPC_ADDR", cfg.GRPCAddr)
	cfg.MetricsAddr = getEnv("SG_METRICS_ADDR", cfg.MetricsAddr)
	cfg.CacheBackend = getEnv("SG_CACHE_BACKEND", cfg.CacheBackend)
	cfg.CacheDir = getEnv("SG_CACHE_DIR", cfg.CacheDir)
	cfg.CacheMaxEntries = env.int("SG_CACHE_MAX_ENTRIES", cfg.CacheMaxEntries)
	cfg.ScanTTL = env.duration("SG_SCAN_TTL", cfg.ScanTTL)
	cfg.ReputationTTL = env.duration("SG_REPUTATION_TTL", cfg.ReputationTTL)
	cfg.AuditDB = getEnv("SG_AUDIT_DB", cfg.AuditDB)
	cfg.IndicatorDB = getEnv("SG_INDICATOR_DB", cfg.IndicatorDB)
	cfg.KeywordsFile = getEnv("SG_KEYWORDS_FILE", cfg.KeywordsFile)
	cfg.ModelFile = getEnv("SG_MODEL_FILE", cfg.ModelFile)
	cfg.PoliciesFile = getEnv("SG_POLICIES_FILE", cfg.PoliciesFile)
	cfg.Classifier = env.bool("SG_CLASSIFIER", cfg.Classifier)
	cfg.FeedCapacity = env.int("SG_FEED_CAPACITY", cfg.FeedCapacity)
	cfg.FeedSnapshotLimit = env.int("SG_FEED_SNAPSHOT_LIMIT", cfg.FeedSnapshotLimit)
	cfg.AlertThreshold = env.int("SG_ALERT_THRESHOLD", cfg.AlertThreshold)
	cfg.SendTimeout = env.duration("SG_SEND_TIMEOUT", cfg.SendTimeout)
	cfg.HeartbeatInterval = env.duration("SG_HEARTBEAT_INTERVAL", cfg.HeartbeatInterval)
	cfg.RateLimit = env.float("SG_RATE_LIMIT", cfg.RateLimit)
	cfg.RateBurst = env.int("SG_RATE_BURST", cfg.RateBurst)
	cfg.LogLevel = getEnv("SG_LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getEnv("SG_LOG_FORMAT", cfg.LogFormat)
	cfg.RemoteReputation = env.bool("SG_REMOTE_REPUTATION", cfg.RemoteReputation)
	cfg.RemoteReputationURL = getEnv("SG_REMOTE_REPUTATION_URL", cfg.RemoteReputationURL)
	if err := errors.Join(env.errs...); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks ranges and enumerations.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.HTTPAddr != "", "http_addr is required")
	switch c.CacheBackend {
	case "memory", "badger", "none":
	default:
		errs = append(errs, fmt.Errorf("cache_backend %q is not one of memory, badger, none", c.CacheBackend))
	}
	check(c.CacheBackend != "badger" || c.CacheDir != "", "cache_dir is required for the badger backend")
	check(c.CacheMaxEntries > 0, "cache_max_entries must be positive")
	check(c.ScanTTL > 0, "scan_ttl must be positive")
	check(c.ReputationTTL > 0, "reputation_ttl must be positive")
	check(c.FeedCapacity > 0, "feed_capacity must be positive")
	check(c.FeedSnapshotLimit > 0, "feed_snapshot_limit must be positive")
	check(c.AlertThreshold >= 0 && c.AlertThreshold <= 100, "alert_threshold must be within 0..100")
	check(c.SendTimeout > 0, "send_timeout must be positive")
	check(c.HeartbeatInterval > 0, "heartbeat_interval must be positive")
	check(c.RateLimit >= 0, "rate_limit must not be negative")
	check(c.RateLimit == 0 || c.RateBurst > 0, "rate_burst must be positive when rate limiting")
	if _, err := sglog.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	check(c.LogFormat == "text" || c.LogFormat == "json", "log_format %q is not text or json", c.LogFormat)
	check(!c.RemoteReputation || c.RemoteReputationURL != "", "remote_reputation_url is required when remote reputation is on")

	if len(errs) > 0 {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

func getEnv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

type envLoader struct {
	errs []error
}

func (l *envLoader) int(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		l.errs = append(l.errs, fmt.Errorf("%s: %w", k, err))
		return def
	}
	return n
}

func (l *envLoader) float(k string, def float64) float64 {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		l.errs = append(l.errs, fmt.Errorf("%s: %w", k, err))
		return def
	}
	return f
}

func (l *envLoader) bool(k string, def bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		l.errs = append(l.errs, fmt.Errorf("%s: %w", k, err))
		return def
	}
	return b
}

func (l *envLoader) duration(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		l.errs = append(l.errs, fmt.Errorf("%s: %w", k, err))
		return def
	}
	return d
}
