package config

import (
	"fmt"
	"os"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

const (
	BackendDirect = "direct"
	BackendKafka  = "kafka"

	StorageClickHouse = "clickhouse"
	StoragePostgres   = "postgres"
)

type Config struct {
	Environment string `yaml:"environment" default:"development" validate:"required"`
	Server      struct {
		Port            int           `yaml:"port" default:"8080" validate:"gte=1,lte=65535"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"15s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"15s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
	} `yaml:"server"`
	Metrics struct {
		Enabled bool   `yaml:"enabled" default:"true"`
		Path    string `yaml:"path" default:"/metrics"`
	} `yaml:"metrics"`
	Logging struct {
		Level     string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
		Format    string `yaml:"format" default:"json" validate:"oneof=json console"`
		Output    string `yaml:"output" default:"stdout"`
		Collector struct {
			Enabled        bool          `yaml:"enabled"`
			Interval       time.Duration `yaml:"interval" default:"5m"`
			CountThreshold int           `yaml:"count_threshold" default:"50"`
		} `yaml:"collector"`
	} `yaml:"logging"`
	Backend struct {
		Type string `yaml:"type" default:"direct" validate:"oneof=direct kafka"`
	} `yaml:"backend"`
	Storage struct {
		Type                 string `yaml:"type" default:"clickhouse" validate:"oneof=clickhouse postgres"`
		DataRetentionDays    int    `yaml:"data_retention_days" default:"30" validate:"gte=1"`
		SummaryRetentionDays int    `yaml:"summary_retention_days" default:"90" validate:"gte=1"`
	} `yaml:"storage"`
	ClickHouse struct {
		Host             string        `yaml:"host" default:"localhost"`
		Port             int           `yaml:"port" default:"9000"`
		Database         string        `yaml:"database" default:"factorpulse"`
		User             string        `yaml:"user" default:"default"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout      time.Duration `yaml:"read_timeout" default:"30s"`
		WriteTimeout     time.Duration `yaml:"write_timeout" default:"30s"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"60s"`
	} `yaml:"clickhouse"`
	Postgres struct {
		Host            string        `yaml:"host" default:"localhost"`
		Port            int           `yaml:"port" default:"5432"`
		Database        string        `yaml:"database" default:"factorpulse"`
		User            string        `yaml:"user" default:"postgres"`
		Password        string        `yaml:"password"`
		SSLMode         string        `yaml:"sslmode" default:"disable"`
		MaxOpenConns    int           `yaml:"max_open_conns" default:"10"`
		MaxIdleConns    int           `yaml:"max_idle_conns" default:"5"`
		ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" default:"30m"`
	} `yaml:"postgres"`
	Kafka struct {
		Brokers      []string `yaml:"brokers"`
		Topic        string   `yaml:"topic" default:"scores"`
		RequiredAcks int      `yaml:"required_acks" default:"-1"`
		Compression  string   `yaml:"compression" default:"snappy"`
		Producer     struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"5"`
			Linger       time.Duration `yaml:"linger" default:"50ms"`
			BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
			BatchSize    int           `yaml:"batch_size" default:"100"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
			ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID    string        `yaml:"group_id" default:"factorpulse-scores"`
			Workers    int           `yaml:"workers" default:"2"`
			BufferSize int           `yaml:"buffer_size" default:"64"`
			RetryMax   int           `yaml:"retry_max" default:"3"`
			BackoffMin time.Duration `yaml:"backoff_min" default:"200ms"`
			BackoffMax time.Duration `yaml:"backoff_max" default:"5s"`
			DLQTopic   string        `yaml:"dlq_topic" default:"scores-dlq"`
			MinBytes   int           `yaml:"min_bytes" default:"1"`
			MaxBytes   int           `yaml:"max_bytes" default:"10485760"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	Redis struct {
		Addr     string `yaml:"addr" default:"localhost:6379"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		PoolSize int    `yaml:"pool_size" default:"10"`
	} `yaml:"redis"`
	Queue struct {
		Name         string        `yaml:"name" default:"factorpulse:notifications"`
		Workers      int           `yaml:"workers" default:"1" validate:"gte=1"`
		MaxRetries   int           `yaml:"max_retries" default:"3"`
		RetryDelay   time.Duration `yaml:"retry_delay" default:"30s"`
		PollInterval time.Duration `yaml:"poll_interval" default:"1s"`
	} `yaml:"queue"`
	Exchange struct {
		Name               string        `yaml:"name" default:"binance" validate:"oneof=binance"`
		SpotURL            string        `yaml:"spot_url" default:"https://api.binance.com" validate:"url"`
		FuturesURL         string        `yaml:"futures_url" default:"https://fapi.binance.com" validate:"url"`
		APIKey             string        `yaml:"api_key"`
		RateLimitPerMinute int           `yaml:"rate_limit_per_minute" default:"1200" validate:"gte=1"`
		Timeout            time.Duration `yaml:"timeout" default:"30s"`
		MaxRetries         int           `yaml:"max_retries" default:"3"`
		SymbolCacheTTL     time.Duration `yaml:"symbol_cache_ttl" default:"6h"`
		Breaker            struct {
			ConsecutiveFailures uint32        `yaml:"consecutive_failures" default:"5"`
			Interval            time.Duration `yaml:"interval" default:"60s"`
			Timeout             time.Duration `yaml:"timeout" default:"60s"`
		} `yaml:"breaker"`
		Stream struct {
			Enabled        bool          `yaml:"enabled"`
			URL            string        `yaml:"url" default:"wss://fstream.binance.com/ws/!markPrice@arr@1s"`
			ReconnectDelay time.Duration `yaml:"reconnect_delay" default:"5s"`
			PingInterval   time.Duration `yaml:"ping_interval" default:"3m"`
			MaxStaleness   time.Duration `yaml:"max_staleness" default:"30s"`
		} `yaml:"stream"`
	} `yaml:"exchange"`
	Universe struct {
		TopN                 int    `yaml:"top_n" default:"50" validate:"gte=1"`
		UpdateFrequencyHours int    `yaml:"update_frequency_hours" default:"24" validate:"gte=1"`
		Key                  string `yaml:"key" default:"factorpulse:universe"`
	} `yaml:"universe"`
	FactorWeights struct {
		Momentum      float64 `yaml:"momentum" default:"0.25"`
		MeanReversion float64 `yaml:"mean_reversion" default:"0.25"`
		Carry         float64 `yaml:"carry" default:"0.3"`
		Volume        float64 `yaml:"volume" default:"0.2"`
	} `yaml:"factor_weights"`
	Thresholds struct {
		OutlierZScore   float64 `yaml:"outlier_z_score" default:"2.0" validate:"gt=0"`
		TopNOutliers    int     `yaml:"top_n_outliers" default:"10" validate:"gte=0"`
		BottomNOutliers int     `yaml:"bottom_n_outliers" default:"10" validate:"gte=0"`
		MinDataPoints   int     `yaml:"min_data_points" default:"24" validate:"gte=1"`
		UseIQR          bool    `yaml:"use_iqr" default:"true"`
		IQRMultiplier   float64 `yaml:"iqr_multiplier" default:"2.0" validate:"gt=0"`
	} `yaml:"thresholds"`
	Pipeline struct {
		Frequency      time.Duration `yaml:"frequency" default:"60m"`
		AlignToHour    bool          `yaml:"align_to_hour" default:"true"`
		RunOnStart     bool          `yaml:"run_on_start"`
		CandleInterval string        `yaml:"candle_interval" default:"1h" validate:"oneof=1m 5m 15m 1h 4h 1d"`
		CandleLookback int           `yaml:"candle_lookback" default:"48" validate:"gte=1,lte=1000"`
		Concurrency    int           `yaml:"concurrency" default:"8" validate:"gte=1"`
		RunTimeout     time.Duration `yaml:"run_timeout" default:"20m"`
		LockKey        string        `yaml:"lock_key" default:"factorpulse:pipeline:lock"`
		BTCBaseAsset   string        `yaml:"btc_base_asset" default:"BTC"`
	} `yaml:"pipeline"`
	Telegram struct {
		Enabled  bool          `yaml:"enabled"`
		BotToken string        `yaml:"bot_token"`
		ChatID   string        `yaml:"chat_id"`
		APIURL   string        `yaml:"api_url" default:"https://api.telegram.org"`
		Timeout  time.Duration `yaml:"timeout" default:"10s"`
	} `yaml:"telegram"`
	Report struct {
		Timezone     string `yaml:"timezone" default:"Asia/Dubai"`
		OutlierLimit int    `yaml:"outlier_limit" default:"20"`
	} `yaml:"report"`
	API struct {
		CacheTTL  time.Duration `yaml:"cache_ttl" default:"30s"`
		RateLimit float64       `yaml:"rate_limit" default:"20"`
		Burst     int           `yaml:"burst" default:"40"`
	} `yaml:"api"`
}

// envOverrides are the deployment variables that take precedence over YAML.
type envOverrides struct {
	BinanceAPIKey    string   `envconfig:"BINANCE_API_KEY"`
	TelegramBotToken string   `envconfig:"TELEGRAM_BOT_TOKEN"`
	TelegramChatID   string   `envconfig:"TELEGRAM_CHAT_ID"`
	DBUser           string   `envconfig:"DB_USER"`
	DBPassword       string   `envconfig:"DB_PASSWORD"`
	KafkaBrokers     []string `envconfig:"KAFKA_BROKERS"`
	RedisAddr        string   `envconfig:"REDIS_ADDR"`
	StorageType      string   `envconfig:"STORAGE_TYPE"`
	Backend          string   `envconfig:"BACKEND"`
}

// Default returns a configuration populated only from default tags.
func Default() (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}
	return &c, nil
}

// Load reads and parses a YAML configuration file on top of the defaults.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// Parse decodes YAML bytes on top of the defaults and validates the result.
func Parse(b []byte) (*Config, error) {
	c, err := decode(b)
	if err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
// Validation runs once, after the overrides, so secrets may live only in the
// environment.
func LoadWithEnv(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	c, err := decode(b)
	if err != nil {
		return nil, err
	}
	if err := c.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func decode(b []byte) (*Config, error) {
	c, err := Default()
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return c, nil
}

// ApplyEnv overrides secrets and deployment settings from the environment.
func (c *Config) ApplyEnv() error {
	var env envOverrides
	if err := envconfig.Process("", &env); err != nil {
		return fmt.Errorf("read environment: %w", err)
	}

	if env.BinanceAPIKey != "" {
		c.Exchange.APIKey = env.BinanceAPIKey
	}
	if env.TelegramBotToken != "" {
		c.Telegram.BotToken = env.TelegramBotToken
	}
	if env.TelegramChatID != "" {
		c.Telegram.ChatID = env.TelegramChatID
	}
	if env.DBUser != "" {
		c.ClickHouse.User = env.DBUser
		c.Postgres.User = env.DBUser
	}
	if env.DBPassword != "" {
		c.ClickHouse.Password = env.DBPassword
		c.Postgres.Password = env.DBPassword
	}
	if len(env.KafkaBrokers) > 0 {
		c.Kafka.Brokers = env.KafkaBrokers
	}
	if env.RedisAddr != "" {
		c.Redis.Addr = env.RedisAddr
	}
	if env.StorageType != "" {
		c.Storage.Type = env.StorageType
	}
	if env.Backend != "" {
		c.Backend.Type = env.Backend
	}
	return nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}
	if c.Backend.Type == BackendKafka && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers is required when backend.type is '%s'", BackendKafka)
	}
	if c.Telegram.Enabled && (c.Telegram.BotToken == "" || c.Telegram.ChatID == "") {
		return fmt.Errorf("telegram.bot_token and telegram.chat_id are required when telegram is enabled")
	}
	if _, err := time.LoadLocation(c.Report.Timezone); err != nil {
		return fmt.Errorf("report.timezone: %w", err)
	}
	if c.Pipeline.CandleLookback < c.Thresholds.MinDataPoints {
		return fmt.Errorf("pipeline.candle_lookback (%d) must be >= thresholds.min_data_points (%d)",
			c.Pipeline.CandleLookback, c.Thresholds.MinDataPoints)
	}
	return nil
}

// TelegramConfigured reports whether summaries can be delivered.
func (c *Config) TelegramConfigured() bool {
	return c.Telegram.Enabled && c.Telegram.BotToken != "" && c.Telegram.ChatID != ""
}

// Digest is the non-secret configuration exposed by the status endpoint.
func (c *Config) Digest() map[string]any {
	return map[string]any{
		"environment": c.Environment,
		"backend":     c.Backend.Type,
		"storage":     c.Storage.Type,
		"exchange":    c.Exchange.Name,
		"universe": map[string]any{
			"top_n":                  c.Universe.TopN,
			"update_frequency_hours": c.Universe.UpdateFrequencyHours,
		},
		"factor_weights": map[string]any{
			"momentum":       c.FactorWeights.Momentum,
			"mean_reversion": c.FactorWeights.MeanReversion,
			"carry":          c.FactorWeights.Carry,
			"volume":         c.FactorWeights.Volume,
		},
		"thresholds": map[string]any{
			"outlier_z_score":   c.Thresholds.OutlierZScore,
			"top_n_outliers":    c.Thresholds.TopNOutliers,
			"bottom_n_outliers": c.Thresholds.BottomNOutliers,
			"min_data_points":   c.Thresholds.MinDataPoints,
			"use_iqr":           c.Thresholds.UseIQR,
		},
		"pipeline_frequency_minutes": int(c.Pipeline.Frequency / time.Minute),
		"data_retention_days":        c.Storage.DataRetentionDays,
		"telegram_enabled":           c.TelegramConfigured(),
	}
}
