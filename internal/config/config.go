// Package config holds pacts engine configuration: YAML on disk with
// PACTS_*-prefixed environment variable overrides layered on top, adapted
// from codeNERD's internal/config package (Config struct + DefaultConfig()
// + env-override convention).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every tunable named in spec §6.
type Config struct {
	// Healing bound (§6 MAX_HEAL_ROUNDS).
	MaxHealRounds int `yaml:"max_heal_rounds"`

	// Timeouts, all in milliseconds on disk for readability, converted to
	// time.Duration by the accessor methods below.
	DiscoveryTotalTimeoutMS int `yaml:"discovery_total_timeout_ms"`
	ActionTimeoutMS         int `yaml:"action_timeout_ms"`
	ReadinessWaitMS         int `yaml:"readiness_wait_ms"`
	ReadinessWaitSPAms      int `yaml:"readiness_wait_spa_ms"`
	HITLTimeoutMS           int `yaml:"hitl_timeout_ms"`
	HITLPollIntervalMS      int `yaml:"hitl_poll_interval_ms"`

	// Cache TTLs in seconds.
	CacheFastTTLSeconds    int `yaml:"cache_fast_ttl_s"`
	CacheDurableTTLSeconds int `yaml:"cache_durable_ttl_s"`

	// Cache behavior flags (§6).
	AllowIDCache        bool `yaml:"allow_id_cache"`
	AllowUnstableHit     bool `yaml:"allow_unstable_hit"`
	LabelFirstDiscovery bool `yaml:"label_first_discovery"`

	// BypassFormCacheForOrigin is a pattern list safety valve (§6).
	BypassFormCacheForOrigin []string `yaml:"bypass_form_cache_for_origin"`

	// SessionStatePath enables persisting cookies+storage as JSON on the
	// first successful HITL resumption of a run (§6 SESSION_STATE_PATH,
	// nullable). The saved file is not loaded back at run start.
	SessionStatePath string `yaml:"session_state_path"`

	// SPAMarkers extends the heuristic list of URL/DOM markers that trigger
	// the longer readiness wait (§9 open question).
	SPAMarkers []string `yaml:"spa_markers"`

	// ConfidenceDecayPerRound is the per-heal-round confidence penalty
	// applied by discovery (§4.3, constant observed as 0.03 in source, kept
	// configurable per §9).
	ConfidenceDecayPerRound float64 `yaml:"confidence_decay_per_round"`

	// HITL signal names (§4.7).
	HITLEnvVar          string `yaml:"hitl_env_var"`
	HITLInputFile       string `yaml:"hitl_input_file"`
	HITLPresenceFile    string `yaml:"hitl_presence_file"`

	// Workspace is the root directory for .pacts/{logs,cache,artifacts}.
	Workspace string `yaml:"workspace"`

	// Browser launch settings, consumed by internal/driver.
	Headless              bool `yaml:"headless"`
	ViewportWidth         int  `yaml:"viewport_width"`
	ViewportHeight        int  `yaml:"viewport_height"`
	NavigationTimeoutMS   int  `yaml:"navigation_timeout_ms"`

	// Logging.
	DebugMode  bool `yaml:"debug_mode"`
	JSONLogs   bool `yaml:"json_logs"`
}

// Default returns the spec-mandated defaults (§6, §4.5, §5).
func Default() *Config {
	return &Config{
		MaxHealRounds:           3,
		DiscoveryTotalTimeoutMS: 30000,
		ActionTimeoutMS:         5000,
		ReadinessWaitMS:         500,
		ReadinessWaitSPAms:      1000,
		HITLTimeoutMS:           900000,
		HITLPollIntervalMS:      500,
		CacheFastTTLSeconds:     24 * 3600,
		CacheDurableTTLSeconds:  7 * 24 * 3600,
		AllowIDCache:            true,
		AllowUnstableHit:        true,
		LabelFirstDiscovery:     true,
		SessionStatePath:        "",
		SPAMarkers:              []string{"#/", "/#!/", "data-reactroot", "ng-version"},
		ConfidenceDecayPerRound: 0.03,
		HITLEnvVar:              "PACTS_2FA_CODE",
		HITLInputFile:           "hitl/2fa_code.txt",
		HITLPresenceFile:        "hitl/continue.ok",
		Workspace:               ".",
		Headless:                true,
		ViewportWidth:           1920,
		ViewportHeight:          1080,
		NavigationTimeoutMS:     30000,
		DebugMode:               false,
		JSONLogs:                false,
	}
}

// Load reads a YAML config file (if present) over the defaults, then applies
// PACTS_*-prefixed environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// applyEnvOverrides mutates cfg in place from PACTS_* environment variables,
// mirroring the names in spec §6.
func applyEnvOverrides(cfg *Config) {
	intOverride(&cfg.MaxHealRounds, "MAX_HEAL_ROUNDS")
	intOverride(&cfg.DiscoveryTotalTimeoutMS, "DISCOVERY_TOTAL_TIMEOUT_MS")
	intOverride(&cfg.ActionTimeoutMS, "ACTION_TIMEOUT_MS")
	intOverride(&cfg.ReadinessWaitMS, "READINESS_WAIT_MS")
	intOverride(&cfg.HITLTimeoutMS, "HITL_TIMEOUT_MS")
	intOverride(&cfg.CacheFastTTLSeconds, "CACHE_FAST_TTL_S")
	intOverride(&cfg.CacheDurableTTLSeconds, "CACHE_DURABLE_TTL_S")
	boolOverride(&cfg.AllowIDCache, "ALLOW_ID_CACHE")
	boolOverride(&cfg.AllowUnstableHit, "ALLOW_UNSTABLE_HIT")
	boolOverride(&cfg.LabelFirstDiscovery, "LABEL_FIRST_DISCOVERY")
	stringOverride(&cfg.SessionStatePath, "SESSION_STATE_PATH")
	if v := os.Getenv("PACTS_BYPASS_FORM_CACHE_FOR_ORIGIN"); v != "" {
		cfg.BypassFormCacheForOrigin = strings.Split(v, ",")
	}
}

func intOverride(dst *int, env string) {
	if v := os.Getenv("PACTS_" + env); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func boolOverride(dst *bool, env string) {
	if v := os.Getenv("PACTS_" + env); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func stringOverride(dst *string, env string) {
	if v := os.Getenv("PACTS_" + env); v != "" {
		*dst = v
	}
}

func (c *Config) DiscoveryTotalTimeout() time.Duration {
	return time.Duration(c.DiscoveryTotalTimeoutMS) * time.Millisecond
}

func (c *Config) ActionTimeout() time.Duration {
	return time.Duration(c.ActionTimeoutMS) * time.Millisecond
}

func (c *Config) ReadinessWait(spaMarkerMatched bool) time.Duration {
	if spaMarkerMatched {
		return time.Duration(c.ReadinessWaitSPAms) * time.Millisecond
	}
	return time.Duration(c.ReadinessWaitMS) * time.Millisecond
}

func (c *Config) HITLTimeout() time.Duration {
	return time.Duration(c.HITLTimeoutMS) * time.Millisecond
}

func (c *Config) HITLPollInterval() time.Duration {
	return time.Duration(c.HITLPollIntervalMS) * time.Millisecond
}

func (c *Config) CacheFastTTL() time.Duration {
	return time.Duration(c.CacheFastTTLSeconds) * time.Second
}

func (c *Config) CacheDurableTTL() time.Duration {
	return time.Duration(c.CacheDurableTTLSeconds) * time.Second
}

func (c *Config) NavigationTimeout() time.Duration {
	return time.Duration(c.NavigationTimeoutMS) * time.Millisecond
}

// GateTimeout returns the per-predicate actionability gate timeout for a
// given heal round (spec §4.2: T_base + 1000·heal_round ms, base 2s).
func (c *Config) GateTimeout(healRound int) time.Duration {
	return 2*time.Second + time.Duration(healRound)*time.Second
}

// StabilitySamples returns S = 3 + heal_round (spec §4.2).
func (c *Config) StabilitySamples(healRound int) int {
	return 3 + healRound
}

// StabilityTolerancePX returns ε = 2.0 + 0.5·heal_round pixels (spec §4.2).
func (c *Config) StabilityTolerancePX(healRound int) float64 {
	return 2.0 + 0.5*float64(healRound)
}

// MatchesBypassOrigin reports whether origin matches a configured
// BYPASS_FORM_CACHE_FOR_ORIGIN pattern (simple substring match).
func (c *Config) MatchesBypassOrigin(origin string) bool {
	for _, pattern := range c.BypassFormCacheForOrigin {
		if pattern != "" && strings.Contains(origin, pattern) {
			return true
		}
	}
	return false
}

// MatchesSPAMarker reports whether url contains a configured SPA marker.
func (c *Config) MatchesSPAMarker(url string) bool {
	for _, marker := range c.SPAMarkers {
		if marker != "" && strings.Contains(url, marker) {
			return true
		}
	}
	return false
}
