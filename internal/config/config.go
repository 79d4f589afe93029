// Package config exposes strongly typed application configuration structs loaded from YAML.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// App captures process-wide runtime settings such as name, environment, metrics, and logging levels.
type App struct {
	Name        string `yaml:"name"`
	Env         string `yaml:"env"`
	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`
}

// Feed describes the inbound tick transport.
type Feed struct {
	Provider      string   `yaml:"provider"` // "redis" or "stub"
	RedisAddr     string   `yaml:"redis_addr"`
	RedisPassword string   `yaml:"redis_password"`
	RedisDB       int      `yaml:"redis_db"`
	TickChannel   string   `yaml:"tick_channel"`
	Symbols       []string `yaml:"symbols"`
	Timeframes    []string `yaml:"timeframes"` // Go duration strings, e.g. "1m", "5m", "15m"
	WindowSize    int      `yaml:"window_size"`
}

// Bridge configures the websocket link to the execution terminal.
type Bridge struct {
	URL               string  `yaml:"url"`
	TargetIdentity    string  `yaml:"target_identity"`
	ConfirmTimeoutSec int     `yaml:"confirm_timeout_secs"`
	SendsPerSecond    float64 `yaml:"sends_per_second"`
	BreakerThreshold  int     `yaml:"breaker_threshold"`
	BreakerCooldown   int     `yaml:"breaker_cooldown_secs"`
}

// Detect groups pattern detector thresholds and the scan cadence.
type Detect struct {
	ScanIntervalSecs int     `yaml:"scan_interval_secs"`
	CooldownSecs     int     `yaml:"cooldown_secs"`
	Lookback         int     `yaml:"lookback"`
	SweepMinPips     float64 `yaml:"sweep_min_pips"`
	SweepVolumeMult  float64 `yaml:"sweep_volume_mult"`
	SweepBaseScore   float64 `yaml:"sweep_base_score"`
	BlockBaseScore   float64 `yaml:"block_base_score"`
	GapMinPips       float64 `yaml:"gap_min_pips"`
	GapBaseScore     float64 `yaml:"gap_base_score"`
}

// SessionBonus keys an additive score bonus to a UTC hour range.
type SessionBonus struct {
	Name      string  `yaml:"name"`
	StartHour int     `yaml:"start_hour"`
	EndHour   int     `yaml:"end_hour"`
	Bonus     float64 `yaml:"bonus"`
}

// Score holds the confluence scoring weights. All values are defaults the
// operator may tune; none are hard-coded invariants.
type Score struct {
	MinThreshold    float64        `yaml:"min_threshold"`
	Sessions        []SessionBonus `yaml:"sessions"`
	FullAlignBonus  float64        `yaml:"full_align_bonus"`
	PartAlignBonus  float64        `yaml:"partial_align_bonus"`
	ConditionCap    float64        `yaml:"condition_cap"`
	VolumeBonus     float64        `yaml:"volume_bonus"`
	SpreadBonus     float64        `yaml:"spread_bonus"`
	VolatilityBonus float64        `yaml:"volatility_bonus"`
	MaxSpreadPips   float64        `yaml:"max_spread_pips"`
	VolBandLowPips  float64        `yaml:"vol_band_low_pips"`
	VolBandHighPips float64        `yaml:"vol_band_high_pips"`
	RapidRR         float64        `yaml:"rapid_rr"`
	PrecisionRR     float64        `yaml:"precision_rr"`
	PrecisionTier   float64        `yaml:"precision_tier"` // score at or above which a signal is PRECISION_STRIKE
}

// Shield configures the consensus cross-check.
type Shield struct {
	RejectFloor   float64 `yaml:"reject_floor"`
	NewsBufferMin int     `yaml:"news_buffer_mins"`
}

// Tier encodes the per-account-class risk profile.
type Tier struct {
	MaxRiskPercent  float64 `yaml:"max_risk_percent"`
	DailyCapPercent float64 `yaml:"daily_cap_percent"`
	AutoFire        bool    `yaml:"auto_fire"`
}

// Risk encodes guard-rails the gate enforces on every trade, plus the
// tier and default sizing of the account this run serves.
type Risk struct {
	Tiers            map[string]Tier `yaml:"tiers"`
	AccountTier      string          `yaml:"account_tier"`
	DefaultRiskPct   float64         `yaml:"default_risk_percent"`
	AccountFloor     float64         `yaml:"account_floor"`
	GlobalMaxRiskPct float64         `yaml:"global_max_risk_percent"`
	Timezone         string          `yaml:"timezone"`
	MaxSignalsPerDay int             `yaml:"max_signals_per_day"`
	AlertExpirySecs  int             `yaml:"alert_expiry_secs"`
}

// Stealth bounds the randomized execution perturbations.
type Stealth struct {
	DelayMinSecs    float64 `yaml:"delay_min_secs"`
	DelayMaxSecs    float64 `yaml:"delay_max_secs"`
	JitterMinPct    float64 `yaml:"jitter_min_pct"`
	JitterMaxPct    float64 `yaml:"jitter_max_pct"`
	OffsetMinPips   float64 `yaml:"offset_min_pips"`
	OffsetMaxPips   float64 `yaml:"offset_max_pips"`
	SkipOneIn       int     `yaml:"skip_one_in"`
	MaxPerSymbol    int     `yaml:"max_per_symbol"`
	MaxTotal        int     `yaml:"max_total"`
}

// Config collects every configuration leaf for easy marshaling from YAML.
// Exactly one Config exists per run; no other code path reads configuration.
type Config struct {
	Version int     `yaml:"version"`
	App     App     `yaml:"app"`
	Feed    Feed    `yaml:"feed"`
	Bridge  Bridge  `yaml:"bridge"`
	Detect  Detect  `yaml:"detect"`
	Score   Score   `yaml:"score"`
	Shield  Shield  `yaml:"shield"`
	Risk    Risk    `yaml:"risk"`
	Stealth Stealth `yaml:"stealth"`
}

// CurrentVersion is the config schema this build understands.
const CurrentVersion = 1

// Load reads a YAML file from disk, overlays secret fields from the
// environment, and validates the result.
func Load(path string) (*Config, error) {
	_ = godotenv.Load() // best-effort

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var config Config
	if err := yaml.NewDecoder(file).Decode(&config); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}

	if v := os.Getenv("STRIKEBOT_REDIS_ADDR"); v != "" {
		config.Feed.RedisAddr = v
	}
	if v := os.Getenv("STRIKEBOT_REDIS_PASSWORD"); v != "" {
		config.Feed.RedisPassword = v
	}
	if v := os.Getenv("STRIKEBOT_BRIDGE_URL"); v != "" {
		config.Bridge.URL = v
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &config, nil
}

// Validate checks structural sanity once at load time so downstream stages
// never re-check configuration.
func (c *Config) Validate() error {
	if c.Version != CurrentVersion {
		return fmt.Errorf("unsupported config version %d (want %d)", c.Version, CurrentVersion)
	}
	if len(c.Feed.Symbols) == 0 {
		return fmt.Errorf("feed: at least one symbol required")
	}
	if len(c.Feed.Timeframes) == 0 {
		return fmt.Errorf("feed: at least one timeframe required")
	}
	for _, tf := range c.Feed.Timeframes {
		if _, err := time.ParseDuration(tf); err != nil {
			return fmt.Errorf("feed: bad timeframe %q: %w", tf, err)
		}
	}
	if c.Feed.WindowSize <= 2 {
		return fmt.Errorf("feed: window_size must exceed 2")
	}
	if c.Score.MinThreshold <= 0 {
		return fmt.Errorf("score: min_threshold must be positive")
	}
	if len(c.Risk.Tiers) == 0 {
		return fmt.Errorf("risk: at least one tier required")
	}
	for name, tier := range c.Risk.Tiers {
		if tier.MaxRiskPercent <= 0 || tier.DailyCapPercent <= 0 {
			return fmt.Errorf("risk: tier %q has non-positive limits", name)
		}
	}
	if _, ok := c.Risk.Tiers[c.Risk.AccountTier]; !ok {
		return fmt.Errorf("risk: account_tier %q not among configured tiers", c.Risk.AccountTier)
	}
	if c.Risk.DefaultRiskPct <= 0 {
		return fmt.Errorf("risk: default_risk_percent must be positive")
	}
	if c.Risk.GlobalMaxRiskPct <= 0 {
		return fmt.Errorf("risk: global_max_risk_percent must be positive")
	}
	if _, err := time.LoadLocation(c.Risk.Timezone); err != nil {
		return fmt.Errorf("risk: bad timezone %q: %w", c.Risk.Timezone, err)
	}
	if c.Stealth.DelayMinSecs < 0 || c.Stealth.DelayMaxSecs < c.Stealth.DelayMinSecs {
		return fmt.Errorf("stealth: bad delay range")
	}
	if c.Stealth.JitterMaxPct < c.Stealth.JitterMinPct {
		return fmt.Errorf("stealth: bad jitter range")
	}
	if c.Stealth.SkipOneIn < 0 {
		return fmt.Errorf("stealth: skip_one_in cannot be negative")
	}
	return nil
}

// Timeframes returns the parsed candle intervals.
func (c *Config) Timeframes() []time.Duration {
	out := make([]time.Duration, 0, len(c.Feed.Timeframes))
	for _, tf := range c.Feed.Timeframes {
		d, err := time.ParseDuration(tf)
		if err != nil {
			continue // Validate already rejected bad entries
		}
		out = append(out, d)
	}
	return out
}
