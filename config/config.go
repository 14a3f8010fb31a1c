package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"synthvault/crypto"
)

// Config is the synthd runtime configuration. TOML files use the field names
// as keys; YAML files use the snake_case names.
type Config struct {
	ListenAddress string          `toml:"ListenAddress" yaml:"listen"`
	DataDir       string          `toml:"DataDir" yaml:"data_dir"`
	Environment   string          `toml:"Environment" yaml:"environment"`
	Storage       string          `toml:"Storage" yaml:"storage"`
	ModuleAccount string          `toml:"ModuleAccount" yaml:"module_account"`
	// PausedModules halts the named modules at start-up independent of the
	// persisted pause flag.
	PausedModules []string        `toml:"PausedModules" yaml:"paused_modules"`
	Params        ParamsConfig    `toml:"Params" yaml:"params"`
	Tokens        TokensConfig    `toml:"Tokens" yaml:"tokens"`
	Oracle        OracleConfig    `toml:"Oracle" yaml:"oracle"`
	Auth          AuthConfig      `toml:"Auth" yaml:"auth"`
	RateLimit     RateLimitConfig `toml:"RateLimit" yaml:"rate_limit"`
	Journal       JournalConfig   `toml:"Journal" yaml:"journal"`
	Telemetry     TelemetryConfig `toml:"Telemetry" yaml:"telemetry"`
	Log           LogConfig       `toml:"Log" yaml:"log"`
}

// Storage backends.
const (
	StorageMemory  = "memory"
	StorageLevelDB = "leveldb"
)

// Feed kinds.
const (
	FeedManual    = "manual"
	FeedChainlink = "chainlink"
)

type ParamsConfig struct {
	TargetRatioBps      uint64 `toml:"TargetRatioBps" yaml:"target_ratio_bps"`
	MinRatioBps         uint64 `toml:"MinRatioBps" yaml:"min_ratio_bps"`
	LiquidationBonusBps uint64 `toml:"LiquidationBonusBps" yaml:"liquidation_bonus_bps"`
	// MaxPriceAge rejects readings older than the window; zero disables.
	MaxPriceAge Duration `toml:"MaxPriceAge" yaml:"max_price_age"`
}

type TokenConfig struct {
	Symbol   string `toml:"Symbol" yaml:"symbol"`
	Decimals uint8  `toml:"Decimals" yaml:"decimals"`
}

type TokensConfig struct {
	Collateral TokenConfig `toml:"Collateral" yaml:"collateral"`
	Synthetic  TokenConfig `toml:"Synthetic" yaml:"synthetic"`
}

// FeedConfig binds one price source. Manual feeds take their decimals and
// optional initial price from config; Chainlink feeds query the aggregator.
type FeedConfig struct {
	Kind         string `toml:"Kind" yaml:"kind"`
	ID           string `toml:"ID" yaml:"id"`
	Decimals     uint8  `toml:"Decimals" yaml:"decimals"`
	InitialPrice string `toml:"InitialPrice" yaml:"initial_price"`
	RPCURL       string `toml:"RPCURL" yaml:"rpc_url"`
	Aggregator   string `toml:"Aggregator" yaml:"aggregator"`
}

type OracleConfig struct {
	Collateral FeedConfig `toml:"Collateral" yaml:"collateral"`
	Synthetic  FeedConfig `toml:"Synthetic" yaml:"synthetic"`
}

// AuthConfig configures HMAC signed bearer tokens. Admins lists the bech32
// accounts allowed to call administrative endpoints.
type AuthConfig struct {
	HMACSecret string   `toml:"HMACSecret" yaml:"hmac_secret"`
	Issuer     string   `toml:"Issuer" yaml:"issuer"`
	Audience   string   `toml:"Audience" yaml:"audience"`
	Admins     []string `toml:"Admins" yaml:"admins"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `toml:"RequestsPerSecond" yaml:"requests_per_second"`
	Burst             int     `toml:"Burst" yaml:"burst"`
}

type JournalConfig struct {
	Driver string `toml:"Driver" yaml:"driver"`
	DSN    string `toml:"DSN" yaml:"dsn"`
}

type TelemetryConfig struct {
	Endpoint string `toml:"Endpoint" yaml:"endpoint"`
	Insecure bool   `toml:"Insecure" yaml:"insecure"`
	Headers  string `toml:"Headers" yaml:"headers"`
	Traces   bool   `toml:"Traces" yaml:"traces"`
	Metrics  bool   `toml:"Metrics" yaml:"metrics"`
}

type LogConfig struct {
	Level      string `toml:"Level" yaml:"level"`
	File       string `toml:"File" yaml:"file"`
	MaxSizeMB  int    `toml:"MaxSizeMB" yaml:"max_size_mb"`
	MaxBackups int    `toml:"MaxBackups" yaml:"max_backups"`
	MaxAgeDays int    `toml:"MaxAgeDays" yaml:"max_age_days"`
}

// Duration decodes human readable durations such as "90s" from either
// format.
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// Default returns a configuration for a local node: in-memory ledger, manual
// feeds and an sqlite journal in the data directory.
func Default() Config {
	return Config{
		ListenAddress: ":8470",
		DataDir:       "./synth-data",
		Environment:   "local",
		Storage:       StorageMemory,
		Params: ParamsConfig{
			TargetRatioBps:      15_000,
			MinRatioBps:         12_000,
			LiquidationBonusBps: 500,
		},
		Tokens: TokensConfig{
			Collateral: TokenConfig{Symbol: "USDC", Decimals: 6},
			Synthetic:  TokenConfig{Symbol: "SXAU", Decimals: 18},
		},
		Oracle: OracleConfig{
			Collateral: FeedConfig{Kind: FeedManual, ID: "usdc-usd", Decimals: 8},
			Synthetic:  FeedConfig{Kind: FeedManual, ID: "xau-usd", Decimals: 8},
		},
		RateLimit: RateLimitConfig{RequestsPerSecond: 20, Burst: 40},
		Journal:   JournalConfig{Driver: "sqlite"},
		Log:       LogConfig{Level: "info"},
	}
}

// Load reads path as TOML or YAML depending on its extension. A missing TOML
// file is created with defaults.
func Load(path string) (*Config, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("config path required")
	}
	cfg := Default()
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		if _, err := os.Stat(path); os.IsNotExist(err) {
			if err := persist(path, &cfg); err != nil {
				return nil, fmt.Errorf("write default config: %w", err)
			}
			break
		}
		meta, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("config %s: unknown key %s", path, undecoded[0])
		}
	case ".yaml", ".yml":
		file, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()
		decoder := yaml.NewDecoder(file)
		decoder.KnownFields(true)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format %q", ext)
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Config) normalize() {
	cfg.ListenAddress = strings.TrimSpace(cfg.ListenAddress)
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":8470"
	}
	cfg.DataDir = strings.TrimSpace(cfg.DataDir)
	cfg.Environment = strings.TrimSpace(cfg.Environment)
	cfg.Storage = strings.ToLower(strings.TrimSpace(cfg.Storage))
	if cfg.Storage == "" {
		cfg.Storage = StorageMemory
	}
	cfg.ModuleAccount = strings.TrimSpace(cfg.ModuleAccount)
	for _, token := range []*TokenConfig{&cfg.Tokens.Collateral, &cfg.Tokens.Synthetic} {
		token.Symbol = strings.ToUpper(strings.TrimSpace(token.Symbol))
	}
	for _, feed := range []*FeedConfig{&cfg.Oracle.Collateral, &cfg.Oracle.Synthetic} {
		feed.Kind = strings.ToLower(strings.TrimSpace(feed.Kind))
		if feed.Kind == "" {
			feed.Kind = FeedManual
		}
		feed.ID = strings.TrimSpace(feed.ID)
		feed.InitialPrice = strings.TrimSpace(feed.InitialPrice)
		feed.RPCURL = strings.TrimSpace(feed.RPCURL)
		feed.Aggregator = strings.TrimSpace(feed.Aggregator)
		if feed.ID == "" && feed.Aggregator != "" {
			feed.ID = feed.Aggregator
		}
	}
	paused := make([]string, 0, len(cfg.PausedModules))
	for _, module := range cfg.PausedModules {
		if trimmed := strings.ToLower(strings.TrimSpace(module)); trimmed != "" {
			paused = append(paused, trimmed)
		}
	}
	cfg.PausedModules = paused
	admins := make([]string, 0, len(cfg.Auth.Admins))
	for _, admin := range cfg.Auth.Admins {
		if trimmed := strings.TrimSpace(admin); trimmed != "" {
			admins = append(admins, trimmed)
		}
	}
	cfg.Auth.Admins = admins
	cfg.Journal.Driver = strings.ToLower(strings.TrimSpace(cfg.Journal.Driver))
	cfg.Journal.DSN = strings.TrimSpace(cfg.Journal.DSN)
	if cfg.Journal.DSN == "" && cfg.Journal.Driver == "sqlite" && cfg.DataDir != "" {
		cfg.Journal.DSN = filepath.Join(cfg.DataDir, "journal.db")
	}
}

// IsLocal reports whether the node runs in the local environment, the only
// one in which write routes may be served without bearer tokens.
func (cfg *Config) IsLocal() bool {
	return cfg.Environment == "" || strings.EqualFold(cfg.Environment, "local")
}

// Validate reports the first configuration error.
func (cfg *Config) Validate() error {
	if cfg == nil {
		return fmt.Errorf("configuration is missing")
	}
	p := cfg.Params
	if p.MinRatioBps == 0 || p.MinRatioBps >= p.TargetRatioBps {
		return fmt.Errorf("params: min_ratio_bps must be positive and below target_ratio_bps")
	}
	if p.LiquidationBonusBps == 0 {
		return fmt.Errorf("params: liquidation_bonus_bps must be positive")
	}
	if p.MaxPriceAge < 0 {
		return fmt.Errorf("params: max_price_age must not be negative")
	}
	switch cfg.Storage {
	case StorageMemory:
	case StorageLevelDB:
		if cfg.DataDir == "" {
			return fmt.Errorf("storage: leveldb requires data_dir")
		}
	default:
		return fmt.Errorf("storage: unsupported backend %q", cfg.Storage)
	}
	if cfg.ModuleAccount != "" {
		if _, err := crypto.DecodeAddress(cfg.ModuleAccount); err != nil {
			return fmt.Errorf("module_account: %w", err)
		}
	}
	if cfg.Tokens.Collateral.Symbol == "" || cfg.Tokens.Synthetic.Symbol == "" {
		return fmt.Errorf("tokens: symbols are required")
	}
	if cfg.Tokens.Collateral.Symbol == cfg.Tokens.Synthetic.Symbol {
		return fmt.Errorf("tokens: collateral and synthetic symbols must differ")
	}
	for name, feed := range map[string]FeedConfig{"collateral": cfg.Oracle.Collateral, "synthetic": cfg.Oracle.Synthetic} {
		if err := feed.validate(); err != nil {
			return fmt.Errorf("oracle.%s: %w", name, err)
		}
	}
	for _, admin := range cfg.Auth.Admins {
		if _, err := crypto.DecodeAddress(admin); err != nil {
			return fmt.Errorf("auth.admins: %q: %w", admin, err)
		}
	}
	if strings.TrimSpace(cfg.Auth.HMACSecret) == "" {
		if len(cfg.Auth.Admins) > 0 {
			return fmt.Errorf("auth: hmac_secret is required when admins are configured")
		}
		if !cfg.IsLocal() {
			return fmt.Errorf("auth: hmac_secret is required outside the local environment")
		}
	}
	if cfg.RateLimit.RequestsPerSecond < 0 || cfg.RateLimit.Burst < 0 {
		return fmt.Errorf("rate_limit: values must not be negative")
	}
	switch cfg.Journal.Driver {
	case "", "sqlite", "postgres":
	default:
		return fmt.Errorf("journal: unsupported driver %q", cfg.Journal.Driver)
	}
	return nil
}

func (f FeedConfig) validate() error {
	switch f.Kind {
	case FeedManual:
		if f.ID == "" {
			return fmt.Errorf("id is required")
		}
	case FeedChainlink:
		if f.RPCURL == "" || f.Aggregator == "" {
			return fmt.Errorf("chainlink feeds require rpc_url and aggregator")
		}
	default:
		return fmt.Errorf("unsupported kind %q", f.Kind)
	}
	return nil
}

// JournalEnabled reports whether events should be persisted to SQL.
func (cfg *Config) JournalEnabled() bool {
	return cfg.Journal.Driver != "" && cfg.Journal.DSN != ""
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}
