package config

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)
	require.NoError(t, c.Validate())

	assert.Equal(t, BackendDirect, c.Backend.Type)
	assert.Equal(t, StorageClickHouse, c.Storage.Type)
	assert.Equal(t, 50, c.Universe.TopN)
	assert.Equal(t, 0.3, c.FactorWeights.Carry)
	assert.Equal(t, 2.0, c.Thresholds.OutlierZScore)
	assert.Equal(t, 24, c.Thresholds.MinDataPoints)
	assert.Equal(t, time.Hour, c.Pipeline.Frequency)
	assert.Equal(t, -1, c.Kafka.RequiredAcks)
	assert.Equal(t, "Asia/Dubai", c.Report.Timezone)
	assert.False(t, c.TelegramConfigured())
}

func TestParseKeepsDefaults(t *testing.T) {
	c, err := Parse([]byte(`
storage:
  type: postgres
universe:
  top_n: 20
pipeline:
  frequency: 30m
factor_weights:
  momentum: 0.5
`))
	require.NoError(t, err)
	assert.Equal(t, StoragePostgres, c.Storage.Type)
	assert.Equal(t, 20, c.Universe.TopN)
	assert.Equal(t, 30*time.Minute, c.Pipeline.Frequency)
	assert.Equal(t, 0.5, c.FactorWeights.Momentum)
	assert.Equal(t, 0.25, c.FactorWeights.MeanReversion)
	assert.Equal(t, 5432, c.Postgres.Port)
}

func TestParseRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"kafka without brokers", "backend:\n  type: kafka\n", "kafka.brokers"},
		{"telegram without token", "telegram:\n  enabled: true\n  chat_id: \"1\"\n", "telegram.bot_token"},
		{"unknown timezone", "report:\n  timezone: Mars/Base\n", "report.timezone"},
		{"lookback below min points", "pipeline:\n  candle_lookback: 10\n", "candle_lookback"},
		{"unknown storage", "storage:\n  type: sqlite\n", "Type"},
		{"bad interval", "pipeline:\n  candle_interval: 2h\n", "CandleInterval"},
		{"malformed yaml", "universe: [", "parse config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadWithEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("telegram:\n  enabled: true\n"), 0o600))

	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("TELEGRAM_CHAT_ID", "-10042")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("BACKEND", "kafka")
	t.Setenv("DB_PASSWORD", "pw")

	c, err := LoadWithEnv(path)
	require.NoError(t, err)
	assert.True(t, c.TelegramConfigured())
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, c.Kafka.Brokers)
	assert.Equal(t, BackendKafka, c.Backend.Type)
	assert.Equal(t, "pw", c.ClickHouse.Password)
	assert.Equal(t, "pw", c.Postgres.Password)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}

func TestLoadSampleConfig(t *testing.T) {
	c, err := Load(filepath.Join("..", "..", "config", "config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "binance", c.Exchange.Name)
	assert.Equal(t, []string{"localhost:9092"}, c.Kafka.Brokers)
}

func TestDigestHasNoSecrets(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)
	c.Telegram.Enabled = true
	c.Telegram.BotToken = "123:secret-token"
	c.Telegram.ChatID = "42"
	c.ClickHouse.Password = "db-secret"

	d := c.Digest()
	dump := fmt.Sprint(d)
	assert.NotContains(t, dump, "secret")
	assert.Equal(t, true, d["telegram_enabled"])
	assert.Equal(t, BackendDirect, d["backend"])
}
