package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"FuseGate/pkg/util"
)

type Config struct {
	Environment string `yaml:"environment"`
	Server      struct {
		Port            int           `yaml:"port"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`
	Metrics struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"`
	} `yaml:"metrics"`
	Journal struct {
		Backend string `yaml:"backend"` // kafka or clickhouse
		Table   string `yaml:"table"`
		Topic   string `yaml:"topic"`
	} `yaml:"journal"`
	Kafka struct {
		Brokers      []string `yaml:"brokers"`
		RequiredAcks int      `yaml:"required_acks"`
		Compression  string   `yaml:"compression"`
		SamplesTopic string   `yaml:"samples_topic"`
		Producer     struct {
			MaxAttempts  int           `yaml:"max_attempts"`
			Linger       time.Duration `yaml:"linger"`
			BatchBytes   int           `yaml:"batch_bytes"`
			BatchSize    int           `yaml:"batch_size"`
			WriteTimeout time.Duration `yaml:"write_timeout"`
			ReadTimeout  time.Duration `yaml:"read_timeout"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID    string        `yaml:"group_id"`
			Workers    int           `yaml:"workers"`
			BufferSize int           `yaml:"buffer_size"`
			RetryMax   int           `yaml:"retry_max"`
			BackoffMin time.Duration `yaml:"backoff_min"`
			BackoffMax time.Duration `yaml:"backoff_max"`
			DLQTopic   string        `yaml:"dlq_topic"`
			MinBytes   int           `yaml:"min_bytes"`
			MaxBytes   int           `yaml:"max_bytes"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	ClickHouse struct {
		Host             string        `yaml:"host"`
		Port             int           `yaml:"port"`
		Database         string        `yaml:"database"`
		User             string        `yaml:"user"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout"`
		ReadTimeout      time.Duration `yaml:"read_timeout"`
		WriteTimeout     time.Duration `yaml:"write_timeout"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time"`
	} `yaml:"clickhouse"`
	Feed struct {
		Source            string        `yaml:"source"` // websocket or kafka
		APIKey            string        `yaml:"api_key"`
		WebSocketURL      string        `yaml:"websocket_url"`
		Instruments       []string      `yaml:"instruments"`
		ReconnectDelay    time.Duration `yaml:"reconnect_delay"`
		PingInterval      time.Duration `yaml:"ping_interval"`
		MaxRPS            int           `yaml:"max_rps"`
		BufferSize        int           `yaml:"buffer_size"`
		StagnationTimeout time.Duration `yaml:"stagnation_timeout"`
	} `yaml:"feed"`
	Reference struct {
		BaseURL       string        `yaml:"base_url"`
		Timeout       time.Duration `yaml:"timeout"`
		Staleness     time.Duration `yaml:"staleness"`
		Lookback      time.Duration `yaml:"lookback"`
		RatePerSecond float64       `yaml:"rate_per_second"`
		RateBurst     int           `yaml:"rate_burst"`
		Redis         struct {
			Enabled  bool   `yaml:"enabled"`
			Addr     string `yaml:"addr"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
		} `yaml:"redis"`
	} `yaml:"reference"`
	Fusion struct {
		MatchThreshold    float64 `yaml:"match_threshold"`
		ModerateThreshold float64 `yaml:"moderate_threshold"`
	} `yaml:"fusion"`
	Indicators struct {
		RSIPeriod       int     `yaml:"rsi_period"`
		EMAFastPeriod   int     `yaml:"ema_fast_period"`
		EMASlowPeriod   int     `yaml:"ema_slow_period"`
		BollingerWindow int     `yaml:"bollinger_window"`
		BollingerK      float64 `yaml:"bollinger_k"`
	} `yaml:"indicators"`
	Inference struct {
		BaseURL       string        `yaml:"base_url"`
		Timeout       time.Duration `yaml:"timeout"`
		MaxAttempts   int           `yaml:"max_attempts"`
		BackoffMin    time.Duration `yaml:"backoff_min"`
		BackoffMax    time.Duration `yaml:"backoff_max"`
		MinConfidence float64       `yaml:"min_confidence"`
	} `yaml:"inference"`
	Gate struct {
		TTL time.Duration `yaml:"ttl"`
	} `yaml:"gate"`
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// Validate required fields
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}

	// Override with environment variables
	if v := os.Getenv("SERVER_PORT"); v != "" {
		c.Server.Port = util.ParseIntDefault(v, c.Server.Port)
	}
	if v := os.Getenv("FEED_API_KEY"); v != "" {
		c.Feed.APIKey = v
	}
	if v := os.Getenv("INSTRUMENTS"); v != "" {
		c.Feed.Instruments = strings.Split(v, ",")
	}
	if v := os.Getenv("JOURNAL_BACKEND"); v != "" {
		c.Journal.Backend = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("INFERENCE_URL"); v != "" {
		c.Inference.BaseURL = v
	}
	if v := os.Getenv("REFERENCE_URL"); v != "" {
		c.Reference.BaseURL = v
	}

	// Overrides can change validated fields
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Environment == "" {
		return fmt.Errorf("environment is required")
	}
	if c.Journal.Backend == "" {
		return fmt.Errorf("journal.backend is required")
	}
	if c.Journal.Backend != "kafka" && c.Journal.Backend != "clickhouse" {
		return fmt.Errorf("journal.backend must be 'kafka' or 'clickhouse', got '%s'", c.Journal.Backend)
	}
	if len(c.Feed.Instruments) == 0 {
		return fmt.Errorf("feed.instruments cannot be empty")
	}
	if c.Feed.Source != "" && c.Feed.Source != "websocket" && c.Feed.Source != "kafka" {
		return fmt.Errorf("feed.source must be 'websocket' or 'kafka', got '%s'", c.Feed.Source)
	}
	if c.Inference.BaseURL == "" {
		return fmt.Errorf("inference.base_url is required")
	}
	if c.Reference.BaseURL == "" {
		return fmt.Errorf("reference.base_url is required")
	}
	return nil
}
