package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/joho/godotenv"
	"github.com/nexus-trading/forkwatch/internal/bus"
	"github.com/nexus-trading/forkwatch/internal/clickhouse"
	"github.com/nexus-trading/forkwatch/internal/feed"
	"github.com/nexus-trading/forkwatch/internal/gate"
	"github.com/nexus-trading/forkwatch/internal/monitor"
	"github.com/nexus-trading/forkwatch/internal/onchain"
	"github.com/nexus-trading/forkwatch/internal/queue"
	"github.com/nexus-trading/forkwatch/internal/risk"
	"github.com/nexus-trading/forkwatch/internal/rugcheck"
	"github.com/nexus-trading/forkwatch/internal/solana"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for forkwatch.
type Config struct {
	General    GeneralConfig    `yaml:"general"`
	Solana     SolanaConfig     `yaml:"solana"`
	Gate       gate.Config      `yaml:"gate"`
	PushFeed   PushFeedConfig   `yaml:"push_feed"`
	LogFeed    LogFeedConfig    `yaml:"log_feed"`
	Queue      queue.Config     `yaml:"queue"`
	Monitor    MonitorConfig    `yaml:"monitor"`
	RugCheck   RugCheckConfig   `yaml:"rugcheck"`
	OnChain    onchain.Config   `yaml:"onchain"`
	Risk       risk.Config      `yaml:"risk"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

type GeneralConfig struct {
	InstanceID    string        `yaml:"instance_id"`
	Environment   string        `yaml:"environment"` // production|staging|development
	LogLevel      string        `yaml:"log_level"`
	LogFormat     string        `yaml:"log_format"` // json|text
	StatsInterval time.Duration `yaml:"stats_interval"`
}

type SolanaConfig struct {
	RPC    solana.RPCConfig       `yaml:"rpc"`
	Stream solana.LogStreamConfig `yaml:"stream"`
}

type PushFeedConfig struct {
	Enabled         bool `yaml:"enabled"`
	feed.PushConfig `yaml:",inline"`
}

type LogFeedConfig struct {
	Enabled        bool `yaml:"enabled"`
	feed.LogConfig `yaml:",inline"`
}

type MonitorConfig struct {
	EventBuffer int `yaml:"event_buffer"`
}

type RugCheckConfig struct {
	Enabled         bool `yaml:"enabled"`
	rugcheck.Config `yaml:",inline"`
}

type KafkaConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Brokers   []string            `yaml:"brokers"`
	LingerMs  int                 `yaml:"linger_ms"`
	Publisher bus.PublisherConfig `yaml:"publisher"`
}

type ClickHouseConfig struct {
	Enabled bool                    `yaml:"enabled"`
	DSN     string                  `yaml:"dsn"`
	Writer  clickhouse.WriterConfig `yaml:"writer"`
}

type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Listen    string `yaml:"listen"`
	Namespace string `yaml:"namespace"`
}

// MonitorSettings returns the monitor configuration assembled from the queue
// and monitor sections.
func (c *Config) MonitorSettings() monitor.Config {
	return monitor.Config{Queue: c.Queue, EventBuffer: c.Monitor.EventBuffer}
}

// Load reads a YAML configuration file. Variables from a .env file next to
// the working directory are loaded first and ${VAR} references expanded.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := baseConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a configuration with every component default applied and
// both event sources enabled.
func Default() *Config {
	cfg := baseConfig()
	applyDefaults(cfg)
	return cfg
}

func baseConfig() *Config {
	stream := solana.DefaultLogStreamConfig()
	stream.WSEndpoint = "" // follows solana.rpc.ws_endpoint unless set

	return &Config{
		Solana: SolanaConfig{
			RPC:    solana.DefaultRPCConfig(),
			Stream: stream,
		},
		Gate:       gate.DefaultConfig(),
		PushFeed:   PushFeedConfig{Enabled: true, PushConfig: feed.DefaultPushConfig()},
		LogFeed:    LogFeedConfig{Enabled: true, LogConfig: feed.DefaultLogConfig()},
		Queue:      queue.DefaultConfig(),
		Monitor:    MonitorConfig{EventBuffer: monitor.DefaultConfig().EventBuffer},
		RugCheck:   RugCheckConfig{Enabled: true, Config: rugcheck.DefaultConfig()},
		OnChain:    onchain.DefaultConfig(),
		Risk:       risk.DefaultConfig(),
		Kafka:      KafkaConfig{Publisher: bus.DefaultPublisherConfig()},
		ClickHouse: ClickHouseConfig{Writer: clickhouse.DefaultWriterConfig()},
		Metrics:    MetricsConfig{Enabled: true},
	}
}

func applyDefaults(cfg *Config) {
	if cfg.General.InstanceID == "" {
		cfg.General.InstanceID = "forkwatch-1"
	}
	if cfg.General.Environment == "" {
		cfg.General.Environment = "development"
	}
	if cfg.General.LogLevel == "" {
		cfg.General.LogLevel = "info"
	}
	if cfg.General.LogFormat == "" {
		cfg.General.LogFormat = "json"
	}
	if cfg.General.StatsInterval <= 0 {
		cfg.General.StatsInterval = 30 * time.Second
	}
	if cfg.Solana.Stream.WSEndpoint == "" {
		cfg.Solana.Stream.WSEndpoint = cfg.Solana.RPC.WSEndpoint
	}
	if len(cfg.Kafka.Brokers) == 0 {
		cfg.Kafka.Brokers = []string{"localhost:9092"}
	}
	if cfg.Kafka.LingerMs == 0 {
		cfg.Kafka.LingerMs = 5
	}
	if cfg.ClickHouse.DSN == "" {
		cfg.ClickHouse.DSN = "clickhouse://localhost:9000/forkwatch"
	}
	if cfg.Metrics.Listen == "" {
		cfg.Metrics.Listen = ":9090"
	}
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = "forkwatch"
	}
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Solana.RPC.Endpoint == "" {
		errs = append(errs, errors.New("solana.rpc.endpoint is required"))
	}
	if c.Gate.MinInterval < 0 || c.Gate.Cooldown < 0 {
		errs = append(errs, errors.New("gate intervals must not be negative"))
	}
	if c.Gate.MaxRetries < 0 {
		errs = append(errs, errors.New("gate.max_retries must not be negative"))
	}
	if c.PushFeed.Enabled && c.PushFeed.URL == "" {
		errs = append(errs, errors.New("push_feed.url is required when the push feed is enabled"))
	}
	if c.LogFeed.Enabled && len(c.LogFeed.Programs) == 0 {
		errs = append(errs, errors.New("log_feed.programs must name at least one program"))
	}
	for _, p := range c.LogFeed.Programs {
		if c.LogFeed.Enabled && !solana.ValidPubkey(p) {
			errs = append(errs, fmt.Errorf("log_feed.programs: invalid program id %q", p))
		}
	}
	if c.OnChain.HolderThreshold < 0 || c.OnChain.HolderThreshold > 1 {
		errs = append(errs, errors.New("onchain.holder_threshold must be within [0, 1]"))
	}
	t := c.Risk.Thresholds
	if !(0 < t.Medium && t.Medium < t.High && t.High < t.Critical && t.Critical <= 100) {
		errs = append(errs, fmt.Errorf("risk.thresholds must satisfy 0 < medium < high < critical <= 100, got %d/%d/%d",
			t.Medium, t.High, t.Critical))
	}
	if c.RugCheck.HoneypotPattern != "" {
		if _, err := regexp.Compile(c.RugCheck.HoneypotPattern); err != nil {
			errs = append(errs, fmt.Errorf("rugcheck.honeypot_pattern: %w", err))
		}
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("kafka.brokers is required when kafka is enabled"))
	}
	return errors.Join(errs...)
}
