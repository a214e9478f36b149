package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 3, cfg.MaxHealRounds)
	assert.Equal(t, 30000, cfg.DiscoveryTotalTimeoutMS)
	assert.True(t, cfg.AllowIDCache)
	assert.True(t, cfg.AllowUnstableHit)
	assert.True(t, cfg.LabelFirstDiscovery)
	assert.Equal(t, 0.03, cfg.ConfidenceDecayPerRound)
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load("/nonexistent/pacts.yaml")
	require.NoError(t, err)
	assert.Equal(t, Default().MaxHealRounds, cfg.MaxHealRounds)
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/pacts.yaml"
	require.NoError(t, os.WriteFile(path, []byte("max_heal_rounds: 5\nallow_id_cache: false\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.MaxHealRounds)
	assert.False(t, cfg.AllowIDCache)
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("PACTS_MAX_HEAL_ROUNDS", "7")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.MaxHealRounds)
}

func TestDurationAccessors(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 5*time.Second, cfg.ActionTimeout())
	assert.Equal(t, 500*time.Millisecond, cfg.ReadinessWait(false))
	assert.Equal(t, 1*time.Second, cfg.ReadinessWait(true))
}

func TestGateTimeoutScalesWithHealRound(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 2*time.Second, cfg.GateTimeout(0))
	assert.Equal(t, 3*time.Second, cfg.GateTimeout(1))
	assert.Equal(t, 5*time.Second, cfg.GateTimeout(3))
}

func TestStabilitySamplesAndTolerance(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 3, cfg.StabilitySamples(0))
	assert.Equal(t, 5, cfg.StabilitySamples(2))
	assert.Equal(t, 2.0, cfg.StabilityTolerancePX(0))
	assert.Equal(t, 3.0, cfg.StabilityTolerancePX(2))
}

func TestMatchesBypassOrigin(t *testing.T) {
	cfg := Default()
	cfg.BypassFormCacheForOrigin = []string{"payments.example.com"}
	assert.True(t, cfg.MatchesBypassOrigin("https://payments.example.com"))
	assert.False(t, cfg.MatchesBypassOrigin("https://shop.example.com"))
}

func TestMatchesSPAMarker(t *testing.T) {
	cfg := Default()
	assert.True(t, cfg.MatchesSPAMarker("https://app.example.com/#/dashboard"))
	assert.False(t, cfg.MatchesSPAMarker("https://app.example.com/dashboard"))
}
