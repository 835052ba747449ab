package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rustyeddy/smc/market"
	"github.com/rustyeddy/smc/monitor"
	"github.com/rustyeddy/smc/risk"
	"github.com/rustyeddy/smc/signal"
	"github.com/rustyeddy/smc/structure"
	"github.com/rustyeddy/smc/zones"
)

// Config is everything needed to start a pipeline.
type Config struct {
	Instrument market.Instrument `json:"instrument" yaml:"instrument"`
	Account    AccountConfig     `json:"account" yaml:"account"`
	Data       DataConfig        `json:"data" yaml:"data"`
	Structure  structure.Config  `json:"structure" yaml:"structure"`
	Zones      zones.Config      `json:"zones" yaml:"zones"`
	Fusion     FusionConfig      `json:"fusion" yaml:"fusion"`
	Risk       risk.Policy       `json:"risk" yaml:"risk"`
	Execution  ExecutionConfig   `json:"execution" yaml:"execution"`
	Monitor    monitor.Config    `json:"monitor" yaml:"monitor"`
	Rollover   RolloverConfig    `json:"rollover" yaml:"rollover"`
	Broker     BrokerConfig      `json:"broker" yaml:"broker"`
	Feed       FeedConfig        `json:"feed" yaml:"feed"`
	Journal    JournalConfig     `json:"journal" yaml:"journal"`
	Log        LogConfig         `json:"log" yaml:"log"`
}

type AccountConfig struct {
	Equity float64 `json:"equity" yaml:"equity"`
}

// DataConfig describes the bar stream and the timeframes built from it.
type DataConfig struct {
	BaseTimeframe string   `json:"base_timeframe" yaml:"base_timeframe"`
	Timeframes    []string `json:"timeframes" yaml:"timeframes"`
	Calendar      string   `json:"calendar" yaml:"calendar"` // cme or always
	MaxBars       int      `json:"max_bars" yaml:"max_bars"`
	MaxPending    int      `json:"max_pending" yaml:"max_pending"`
}

type FusionConfig struct {
	EntryTimeframe       string                 `json:"entry_timeframe" yaml:"entry_timeframe"`
	BiasTimeframe        string                 `json:"bias_timeframe" yaml:"bias_timeframe"`
	RequireBiasAlignment bool                   `json:"require_bias_alignment" yaml:"require_bias_alignment"`
	MaxEventAgeBars      int                    `json:"max_event_age_bars" yaml:"max_event_age_bars"`
	SweepLookbackBars    int                    `json:"sweep_lookback_bars" yaml:"sweep_lookback_bars"`
	MaxSignalsPerSession int                    `json:"max_signals_per_session" yaml:"max_signals_per_session"`
	Sessions             []signal.SessionConfig `json:"sessions" yaml:"sessions"`
}

type ExecutionConfig struct {
	EntryType        string   `json:"entry_type" yaml:"entry_type"` // market or limit
	EntryTimeoutBars int      `json:"entry_timeout_bars" yaml:"entry_timeout_bars"`
	TimeLimit        Duration `json:"time_limit" yaml:"time_limit"`
	RequestTimeout   Duration `json:"request_timeout" yaml:"request_timeout"`
	ReconcileRetries int      `json:"reconcile_retries" yaml:"reconcile_retries"`
	ReconcileBackoff Duration `json:"reconcile_backoff" yaml:"reconcile_backoff"`
	ReconnectBars    int      `json:"reconnect_bars" yaml:"reconnect_bars"`
}

// RolloverConfig is the daily session boundary as a cron spec.
type RolloverConfig struct {
	Schedule string `json:"schedule" yaml:"schedule"`
	Location string `json:"location" yaml:"location"`
}

type BrokerConfig struct {
	Type          string   `json:"type" yaml:"type"` // sim or gateway
	URL           string   `json:"url,omitempty" yaml:"url,omitempty"`
	Slippage      float64  `json:"slippage" yaml:"slippage"`
	MaxFillPerBar int      `json:"max_fill_per_bar" yaml:"max_fill_per_bar"`
	ReconnectMin  Duration `json:"reconnect_min" yaml:"reconnect_min"`
	ReconnectMax  Duration `json:"reconnect_max" yaml:"reconnect_max"`
}

type FeedConfig struct {
	Type  string `json:"type" yaml:"type"` // csv or amqp
	Path  string `json:"path,omitempty" yaml:"path,omitempty"`
	From  string `json:"from,omitempty" yaml:"from,omitempty"` // RFC3339
	To    string `json:"to,omitempty" yaml:"to,omitempty"`
	URI   string `json:"uri,omitempty" yaml:"uri,omitempty"`
	Queue string `json:"queue,omitempty" yaml:"queue,omitempty"`
}

type JournalConfig struct {
	Type        string `json:"type" yaml:"type"` // csv, sqlite or none
	DBPath      string `json:"db_path,omitempty" yaml:"db_path,omitempty"`
	TradesFile  string `json:"trades_file,omitempty" yaml:"trades_file,omitempty"`
	EquityFile  string `json:"equity_file,omitempty" yaml:"equity_file,omitempty"`
	EventsFile  string `json:"events_file,omitempty" yaml:"events_file,omitempty"`
	AMQPURI     string `json:"amqp_uri,omitempty" yaml:"amqp_uri,omitempty"`
	Exchange    string `json:"exchange,omitempty" yaml:"exchange,omitempty"`
	RedisAddr   string `json:"redis_addr,omitempty" yaml:"redis_addr,omitempty"`
	RedisStream string `json:"redis_stream,omitempty" yaml:"redis_stream,omitempty"`
}

type LogConfig struct {
	Level  string `json:"level" yaml:"level"`   // debug, info, warn, error
	Format string `json:"format" yaml:"format"` // text or json
}

// Duration reads and writes as a Go duration string such as "5s".
type Duration time.Duration

func (d Duration) D() time.Duration { return time.Duration(d) }

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Default returns a configuration that validates and trades MNQ on the
// simulated broker from a CSV file.
func Default() *Config {
	return &Config{
		Instrument: market.MNQ,
		Account:    AccountConfig{Equity: 100_000},
		Data: DataConfig{
			BaseTimeframe: "M1",
			Timeframes:    []string{"M5", "M15", "H1"},
			Calendar:      "cme",
			MaxBars:       5000,
			MaxPending:    120,
		},
		Structure: structure.DefaultConfig(),
		Zones:     zones.DefaultConfig(),
		Fusion: FusionConfig{
			EntryTimeframe:       "M5",
			BiasTimeframe:        "H1",
			RequireBiasAlignment: false,
			MaxEventAgeBars:      3,
			SweepLookbackBars:    24,
			MaxSignalsPerSession: 1,
			Sessions:             signal.DefaultSessions(),
		},
		Risk: risk.DefaultPolicy(),
		Execution: ExecutionConfig{
			EntryType:        "market",
			EntryTimeoutBars: 3,
			TimeLimit:        Duration(4 * time.Hour),
			RequestTimeout:   Duration(5 * time.Second),
			ReconcileRetries: 3,
			ReconcileBackoff: Duration(time.Second),
			ReconnectBars:    3,
		},
		Monitor: monitor.DefaultConfig(),
		Rollover: RolloverConfig{
			Schedule: "0 17 * * 1-5",
			Location: "America/Chicago",
		},
		Broker: BrokerConfig{
			Type:         "sim",
			ReconnectMin: Duration(500 * time.Millisecond),
			ReconnectMax: Duration(30 * time.Second),
		},
		Feed: FeedConfig{
			Type:  "csv",
			Path:  "./data/mnq_m1.csv",
			Queue: "smc.bars.MNQ",
		},
		Journal: JournalConfig{
			Type:        "sqlite",
			DBPath:      "./smc.db",
			Exchange:    "smc.audit",
			RedisStream: "smc:audit",
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// LoadFromFile reads YAML (or JSON), applies environment overrides and
// validates. Fields missing from the file keep their defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()

	// Try YAML first, fall back to JSON
	if err := yaml.Unmarshal(data, cfg); err != nil {
		cfg = Default()
		if jerr := json.Unmarshal(data, cfg); jerr != nil {
			return nil, &Error{Problems: []string{fmt.Sprintf("parse %s (tried YAML and JSON): %v", path, err)}}
		}
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SaveToFile writes YAML for .yaml/.yml paths and indented JSON otherwise.
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error

	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}
