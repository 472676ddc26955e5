package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validYAML = `
environment: test
server:
  port: 8080
  shutdown_timeout: 10s
journal:
  backend: clickhouse
  table: decisions
feed:
  source: websocket
  websocket_url: ws://localhost:9001/stream
  instruments: [EURUSD, GBPUSD]
  stagnation_timeout: 90s
reference:
  base_url: http://localhost:9002
  staleness: 60s
inference:
  base_url: http://localhost:9003
  max_attempts: 3
gate:
  ttl: 60s
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadValid(t *testing.T) {
	c, err := Load(writeConfig(t, validYAML))
	require.NoError(t, err)

	assert.Equal(t, "test", c.Environment)
	assert.Equal(t, "clickhouse", c.Journal.Backend)
	assert.Equal(t, []string{"EURUSD", "GBPUSD"}, c.Feed.Instruments)
	assert.Equal(t, 90*time.Second, c.Feed.StagnationTimeout)
	assert.Equal(t, 60*time.Second, c.Gate.TTL)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/does/not/exist.yaml")
	assert.Error(t, err)
}

func TestValidateRejectsBadBackend(t *testing.T) {
	bad := `
environment: test
journal:
  backend: mongo
feed:
  instruments: [EURUSD]
reference:
  base_url: http://localhost:9002
inference:
  base_url: http://localhost:9003
`
	_, err := Load(writeConfig(t, bad))
	assert.ErrorContains(t, err, "journal.backend")
}

func TestValidateRequiresInstruments(t *testing.T) {
	bad := `
environment: test
journal:
  backend: kafka
reference:
  base_url: http://localhost:9002
inference:
  base_url: http://localhost:9003
`
	_, err := Load(writeConfig(t, bad))
	assert.ErrorContains(t, err, "instruments")
}

func TestValidateRequiresInferenceURL(t *testing.T) {
	bad := `
environment: test
journal:
  backend: kafka
feed:
  instruments: [EURUSD]
reference:
  base_url: http://localhost:9002
`
	_, err := Load(writeConfig(t, bad))
	assert.ErrorContains(t, err, "inference.base_url")
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("JOURNAL_BACKEND", "kafka")
	t.Setenv("INSTRUMENTS", "USDJPY")
	t.Setenv("INFERENCE_URL", "http://inference:9100")
	t.Setenv("SERVER_PORT", "9091")

	c, err := LoadWithEnv(writeConfig(t, validYAML))
	require.NoError(t, err)

	assert.Equal(t, "kafka", c.Journal.Backend)
	assert.Equal(t, []string{"USDJPY"}, c.Feed.Instruments)
	assert.Equal(t, "http://inference:9100", c.Inference.BaseURL)
	assert.Equal(t, 9091, c.Server.Port)
}

func TestEnvOverrideBadPortKeepsFileValue(t *testing.T) {
	t.Setenv("SERVER_PORT", "not-a-port")

	c, err := LoadWithEnv(writeConfig(t, validYAML))
	require.NoError(t, err)
	assert.Equal(t, 8080, c.Server.Port)
}
