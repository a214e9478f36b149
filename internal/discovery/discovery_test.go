package discovery

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/pacts/internal/config"
	"github.com/example/pacts/internal/driver"
	"github.com/example/pacts/internal/model"
)

func TestNewDefaultLadderOrder(t *testing.T) {
	cfg := config.Default()
	cfg.LabelFirstDiscovery = false
	e := New(cfg, nil)

	require.Len(t, e.ladder, 9)
	assert.Equal(t, model.StrategyAriaLabel, e.ladder[0])
	assert.Equal(t, model.StrategyAppSpecific, e.ladder[len(e.ladder)-1])
}

func TestLabelFirstDiscoveryPromotesLabelStrategies(t *testing.T) {
	cfg := config.Default()
	cfg.LabelFirstDiscovery = true
	e := New(cfg, nil)

	labelish := map[model.Strategy]bool{
		model.StrategyAriaLabel: true, model.StrategyNameAttr: true,
		model.StrategyPlaceholder: true, model.StrategyLabelFor: true,
	}
	for i, s := range e.ladder {
		if !labelish[s] {
			// once we hit the first non-label strategy, nothing after it
			// should be label-ish (labels are all promoted to the front)
			for _, rest := range e.ladder[i:] {
				assert.False(t, labelish[rest], "label-ish strategy %s found after non-label strategy at index %d", rest, i)
			}
			break
		}
	}
}

func TestEscapeAttrEscapesQuotesAndBackslashes(t *testing.T) {
	assert.Equal(t, `foo\"bar`, escapeAttr(`foo"bar`))
	assert.Equal(t, `foo\\bar`, escapeAttr(`foo\bar`))
}

func TestSetAppSpecificPlugsIntoLadder(t *testing.T) {
	cfg := config.Default()
	e := New(cfg, nil)

	e.SetAppSpecific(func(_ context.Context, _ *driver.Driver, _ model.Intent) (string, float64, error) {
		return "#custom", 0.99, nil
	})
	assert.NotNil(t, e.appSpecific)
}

func TestRegexpEscapeEscapesRegexMetacharacters(t *testing.T) {
	assert.Equal(t, `Save \(primary\)`, regexpEscape(`Save (primary)`))
	assert.Equal(t, `foo\.bar`, regexpEscape(`foo.bar`))
	assert.Equal(t, `a\+b\*c`, regexpEscape(`a+b*c`))
	assert.Equal(t, "plain text", regexpEscape("plain text"))
}

func TestHeuristicTokenStripsPunctuationAndLowercases(t *testing.T) {
	assert.Equal(t, "submitorder", heuristicToken("Submit Order"))
	assert.Equal(t, "field2", heuristicToken("Field #2!"))
	assert.Equal(t, "", heuristicToken("---"))
}
