package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDefaultConfig(t *testing.T) {
	cfg, err := parse(DefaultConfigYAML)
	require.NoError(t, err)

	assert.Equal(t, 20.0, cfg.Gate.PriceMin)
	assert.Equal(t, 120.0, cfg.Gate.PriceMax)
	assert.Equal(t, 0.35, cfg.Gate.RatingCoverageMin)
	assert.Len(t, cfg.Schedule.Blocks, 3)
	assert.Equal(t, "A", cfg.Schedule.Blocks[0].ID)
	assert.Equal(t, 5, cfg.Schedule.Blocks[2].Quota)
	assert.Equal(t, []int{8, 10, 12}, cfg.Dispatch.IntervalMinutes)
	assert.Equal(t, 48*time.Hour, cfg.CooldownDuration())
	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Len(t, cfg.Score.EasyWords, 15)
	assert.Contains(t, cfg.Score.EasyWords, "3 em 1")
	assert.Len(t, cfg.Score.HardWords, 11)
	assert.Contains(t, cfg.Score.HardWords, "adaptador específico")
	assert.NoError(t, cfg.Validate())
}

func TestParseMinimalConfig(t *testing.T) {
	data := []byte(`
gate:
  price_max: 300
server:
  port: 9000
`)
	cfg, err := parse(data)
	require.NoError(t, err)

	assert.Equal(t, 300.0, cfg.Gate.PriceMax)
	assert.Equal(t, 9000, cfg.Server.Port)
	// Defaults should still be set for unspecified fields
	assert.Equal(t, 20.0, cfg.Gate.PriceMin)
	assert.Equal(t, 20, cfg.Selection.MaxItems)
	assert.Equal(t, 3000.0, cfg.CentsThreshold())
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("OFFERPILOT_GATE_PRICE_MIN", "15")
	t.Setenv("OFFERPILOT_DISPATCH_TEST_MODE", "true")

	cfg, err := parse(nil)
	require.NoError(t, err)
	assert.Equal(t, 15.0, cfg.Gate.PriceMin)
	assert.True(t, cfg.Dispatch.TestMode)
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, DefaultConfigYAML, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "America/Sao_Paulo", cfg.Schedule.Timezone)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestResolveConfigPathExplicit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0o644))

	got, err := ResolveConfigPath(path)
	require.NoError(t, err)
	assert.Equal(t, path, got)

	_, err = ResolveConfigPath(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestGetDataDir(t *testing.T) {
	cfg := &Config{}
	assert.Equal(t, DataDir(), cfg.GetDataDir())

	cfg.Output.DataDir = "/custom/path"
	assert.Equal(t, "/custom/path", cfg.GetDataDir())
	assert.Equal(t, "/custom/path/offerpilot.db", cfg.DBPath())
}

func TestValidateCollectsAllProblems(t *testing.T) {
	cfg, err := parse(DefaultConfigYAML)
	require.NoError(t, err)

	cfg.Gate.PriceMin = 200
	cfg.Cooldown = "soon"
	cfg.Schedule.Blocks[1].End = "10:00"
	cfg.Dispatch.IntervalMinutes = nil
	cfg.Dispatch.Sink = "webhook"

	err = cfg.Validate()
	var cerr *ConfigurationError
	require.ErrorAs(t, err, &cerr)
	assert.GreaterOrEqual(t, len(cerr.Problems), 5)
	assert.Contains(t, err.Error(), "price bounds")
	assert.Contains(t, err.Error(), "cooldown")
	assert.Contains(t, err.Error(), "webhook.url")
}

func TestValidateAffiliateCredentials(t *testing.T) {
	cfg, err := parse(DefaultConfigYAML)
	require.NoError(t, err)
	cfg.Sources.Affiliate.Enabled = true
	cfg.Sources.Affiliate.AppIDEnv = "OFFERPILOT_TEST_APP"
	cfg.Sources.Affiliate.SecretEnv = "OFFERPILOT_TEST_SECRET"
	assert.Error(t, cfg.Validate())

	t.Setenv("OFFERPILOT_TEST_APP", "123")
	t.Setenv("OFFERPILOT_TEST_SECRET", "s3cr3t")
	assert.NoError(t, cfg.Validate())
}

func TestInitLogger(t *testing.T) {
	assert.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	assert.Error(t, InitLogger(LogConfig{Level: "loud", Format: "json"}))
}

func TestYAMLRoundTrip(t *testing.T) {
	cfg, err := parse(DefaultConfigYAML)
	require.NoError(t, err)
	out, err := cfg.YAML()
	require.NoError(t, err)

	again, err := parse(out)
	require.NoError(t, err)
	assert.Equal(t, cfg.Gate.BannedTerms, again.Gate.BannedTerms)
	assert.Equal(t, cfg.Gate.PriceMax, again.Gate.PriceMax)
	assert.Equal(t, cfg.Schedule, again.Schedule)
}
