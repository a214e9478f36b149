package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/pacts/internal/config"
	"github.com/example/pacts/internal/model"
)

func TestNormalizeLabel(t *testing.T) {
	cases := map[string]string{
		"Submit Order":     "submit order",
		"  Leading Space":  " leading space",
		"Multi   Spaces":   "multi spaces",
		"Tab\tand\nnewline": "tab and newline",
	}
	for in, want := range cases {
		assert.Equal(t, want, normalize(in), "normalize(%q)", in)
	}
}

func TestKeyIsStableForSameInputs(t *testing.T) {
	k1 := Key("https://example.com", "Submit Order", "")
	k2 := Key("https://example.com", "submit   order", "")
	assert.Equal(t, k1, k2, "normalization should make these keys equal")
}

func TestKeyDiffersByOrigin(t *testing.T) {
	k1 := Key("https://a.example.com", "Submit", "")
	k2 := Key("https://b.example.com", "Submit", "")
	assert.NotEqual(t, k1, k2)
}

func TestKeyIncludesContextHashWhenPresent(t *testing.T) {
	withCtx := Key("https://example.com", "Submit", "ctx123")
	withoutCtx := Key("https://example.com", "Submit", "")
	assert.NotEqual(t, withCtx, withoutCtx)
}

func TestPutSkipsDurableWriteForIDSelectorWhenNotAllowed(t *testing.T) {
	cfg := config.Default()
	cfg.AllowIDCache = false
	c, err := Open(cfg, ":memory:")
	require.NoError(t, err)
	defer c.Close()

	key := Key("https://example.com", "Submit Order", "")
	cand := model.Candidate{Selector: "#submit-order", Strategy: model.StrategyAriaLabel, Stable: true, Confidence: 1.0}
	require.NoError(t, c.Put(key, cand, ""))

	entry, ok := c.Lookup(key)
	require.True(t, ok, "fast layer should still hold the entry")
	assert.Equal(t, "#submit-order", entry.Selector)

	var count int
	require.NoError(t, c.db.QueryRow(`SELECT COUNT(*) FROM selector_cache WHERE key = ?`, string(key)).Scan(&count))
	assert.Equal(t, 0, count, "durable layer should not receive an id selector when AllowIDCache is false")
}

func TestPutWritesDurableEntryForIDSelectorWhenAllowed(t *testing.T) {
	cfg := config.Default()
	cfg.AllowIDCache = true
	c, err := Open(cfg, ":memory:")
	require.NoError(t, err)
	defer c.Close()

	key := Key("https://example.com", "Submit Order", "")
	cand := model.Candidate{Selector: "#submit-order", Strategy: model.StrategyAriaLabel, Stable: true, Confidence: 1.0}
	require.NoError(t, c.Put(key, cand, ""))

	var count int
	require.NoError(t, c.db.QueryRow(`SELECT COUNT(*) FROM selector_cache WHERE key = ?`, string(key)).Scan(&count))
	assert.Equal(t, 1, count, "durable layer should receive an id selector when AllowIDCache is true")
}

func TestPutAlwaysWritesDurableEntryForNonIDSelector(t *testing.T) {
	cfg := config.Default()
	cfg.AllowIDCache = false
	c, err := Open(cfg, ":memory:")
	require.NoError(t, err)
	defer c.Close()

	key := Key("https://example.com", "Submit Order", "")
	cand := model.Candidate{Selector: `[aria-label="Submit Order"]`, Strategy: model.StrategyAriaLabel, Stable: true, Confidence: 1.0}
	require.NoError(t, c.Put(key, cand, ""))

	var count int
	require.NoError(t, c.db.QueryRow(`SELECT COUNT(*) FROM selector_cache WHERE key = ?`, string(key)).Scan(&count))
	assert.Equal(t, 1, count, "non-id selectors are unaffected by AllowIDCache")
}
