package config

import (
	"embed"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed example.yaml
var exampleConfig embed.FS

// Config represents the complete zaptally configuration
type Config struct {
	Site    Site    `yaml:"site"`
	Relays  Relays  `yaml:"relays"`
	Session Session `yaml:"session"`
	Ingest  Ingest  `yaml:"ingest"`
	Stats   Stats   `yaml:"stats"`
	Logging Logging `yaml:"logging"`
}

// Site contains site metadata
type Site struct {
	Title    string `yaml:"title"`
	Operator string `yaml:"operator"`
}

// Relays contains relay configuration
type Relays struct {
	Seeds  []string    `yaml:"seeds"`
	Policy RelayPolicy `yaml:"policy"`
}

// RelayPolicy contains relay connection policies
type RelayPolicy struct {
	ConnectTimeoutMs  int `yaml:"connect_timeout_ms"`
	MaxConcurrentSubs int `yaml:"max_concurrent_subs"`
	RetryBaseMs       int `yaml:"retry_base_ms"` // reconnect delay = attempt * base
	MaxRetries        int `yaml:"max_retries"`   // automatic reconnect attempts per subscription
}

// Session contains live session settings
type Session struct {
	Room          string   `yaml:"room"`    // room reference: naddr1..., nevent1..., note1... or hex id
	Targets       []string `yaml:"targets"` // additional zap targets to track
	ChatFeedLimit int      `yaml:"chat_feed_limit"`
}

// Ingest contains ingestion settings
type Ingest struct {
	Kinds        IngestKinds  `yaml:"kinds"`
	NoiseFilters NoiseFilters `yaml:"noise_filters"`
}

// IngestKinds defines granular control over which event kinds to ingest
type IngestKinds struct {
	Chat      bool  `yaml:"chat"`      // kind 1311
	Zaps      bool  `yaml:"zaps"`      // kind 9735
	Profiles  bool  `yaml:"profiles"`  // kind 0
	Allowlist []int `yaml:"allowlist"` // Additional kinds to ingest
}

// ToIntSlice converts IngestKinds to a slice of kind integers
func (ik *IngestKinds) ToIntSlice() []int {
	var kinds []int

	if ik.Profiles {
		kinds = append(kinds, 0)
	}
	if ik.Chat {
		kinds = append(kinds, 1311)
	}
	if ik.Zaps {
		kinds = append(kinds, 9735)
	}

	kinds = append(kinds, ik.Allowlist...)

	return kinds
}

// NoiseFilters defines filtering rules for incoming zaps
type NoiseFilters struct {
	MinZapSats int `yaml:"min_zap_sats"`
}

// Stats contains batch statistics settings
type Stats struct {
	TopN       int `yaml:"top_n"`
	Workers    int `yaml:"workers"`     // Parallel per-target aggregation workers
	MaxTargets int `yaml:"max_targets"` // Cap on targets per batch computation
}

// Logging contains logging configuration
type Logging struct {
	Level  string `yaml:"level"`  // debug|info|warn|error
	Format string `yaml:"format"` // text|json
}

// Load reads and parses a configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	defaults := Default()

	if len(cfg.Relays.Seeds) == 0 {
		cfg.Relays.Seeds = defaults.Relays.Seeds
	}
	if cfg.Relays.Policy.ConnectTimeoutMs == 0 {
		cfg.Relays.Policy.ConnectTimeoutMs = defaults.Relays.Policy.ConnectTimeoutMs
	}
	if cfg.Relays.Policy.MaxConcurrentSubs == 0 {
		cfg.Relays.Policy.MaxConcurrentSubs = defaults.Relays.Policy.MaxConcurrentSubs
	}
	if cfg.Relays.Policy.RetryBaseMs == 0 {
		cfg.Relays.Policy.RetryBaseMs = defaults.Relays.Policy.RetryBaseMs
	}
	if cfg.Relays.Policy.MaxRetries == 0 {
		cfg.Relays.Policy.MaxRetries = defaults.Relays.Policy.MaxRetries
	}

	if cfg.Session.ChatFeedLimit == 0 {
		cfg.Session.ChatFeedLimit = defaults.Session.ChatFeedLimit
	}

	if cfg.Stats.TopN == 0 {
		cfg.Stats.TopN = defaults.Stats.TopN
	}
	if cfg.Stats.Workers == 0 {
		cfg.Stats.Workers = defaults.Stats.Workers
	}
	if cfg.Stats.MaxTargets == 0 {
		cfg.Stats.MaxTargets = defaults.Stats.MaxTargets
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = defaults.Logging.Level
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = defaults.Logging.Format
	}
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(cfg *Config) error {
	if seeds := os.Getenv("ZAPTALLY_RELAYS"); seeds != "" {
		cfg.Relays.Seeds = strings.Split(seeds, ",")
	}

	if room := os.Getenv("ZAPTALLY_ROOM"); room != "" {
		cfg.Session.Room = room
	}

	if level := os.Getenv("ZAPTALLY_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}

	if workers := os.Getenv("ZAPTALLY_STATS_WORKERS"); workers != "" {
		n, err := strconv.Atoi(workers)
		if err != nil {
			return fmt.Errorf("invalid ZAPTALLY_STATS_WORKERS: %w", err)
		}
		cfg.Stats.Workers = n
	}

	return nil
}

// GetExampleConfig returns the embedded example configuration
func GetExampleConfig() ([]byte, error) {
	return exampleConfig.ReadFile("example.yaml")
}

// Default returns a configuration with sensible defaults
func Default() *Config {
	return &Config{
		Site: Site{
			Title:    "zaptally",
			Operator: "Anonymous",
		},
		Relays: Relays{
			Seeds: []string{
				"wss://relay.damus.io",
				"wss://nos.lol",
				"wss://relay.nostr.band",
			},
			Policy: RelayPolicy{
				ConnectTimeoutMs:  10000,
				MaxConcurrentSubs: 16,
				RetryBaseMs:       5000,
				MaxRetries:        3,
			},
		},
		Session: Session{
			ChatFeedLimit: 200,
		},
		Ingest: Ingest{
			Kinds: IngestKinds{
				Chat:     true,
				Zaps:     true,
				Profiles: true,
			},
		},
		Stats: Stats{
			TopN:       10,
			Workers:    4,
			MaxTargets: 500,
		},
		Logging: Logging{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate checks the configuration for errors
func Validate(cfg *Config) error {
	if len(cfg.Relays.Seeds) == 0 {
		return fmt.Errorf("relays.seeds must contain at least one relay URL")
	}

	for _, seed := range cfg.Relays.Seeds {
		if !strings.HasPrefix(seed, "wss://") && !strings.HasPrefix(seed, "ws://") {
			return fmt.Errorf("relay URL must start with ws:// or wss://: %s", seed)
		}
	}

	if cfg.Relays.Policy.RetryBaseMs < 0 {
		return fmt.Errorf("relays.policy.retry_base_ms must not be negative")
	}
	if cfg.Relays.Policy.MaxRetries < 0 {
		return fmt.Errorf("relays.policy.max_retries must not be negative")
	}

	switch strings.ToLower(cfg.Logging.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug|info|warn|error, got %q", cfg.Logging.Level)
	}

	switch cfg.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", cfg.Logging.Format)
	}

	if cfg.Ingest.NoiseFilters.MinZapSats < 0 {
		return fmt.Errorf("ingest.noise_filters.min_zap_sats must not be negative")
	}

	if cfg.Stats.Workers < 0 {
		return fmt.Errorf("stats.workers must not be negative")
	}

	return nil
}
