package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStrategyIsStable(t *testing.T) {
	cases := []struct {
		strategy Strategy
		stable   bool
	}{
		{StrategyAriaLabel, true},
		{StrategyNameAttr, true},
		{StrategyPlaceholder, true},
		{StrategyRoleName, true},
		{StrategyRoleNameDisambiguated, false},
		{StrategyTextHas, false},
		{StrategyRegionScoped, false},
		{StrategyAppSpecific, false},
		{StrategyCached, false},
	}
	for _, c := range cases {
		assert.Equal(t, c.stable, c.strategy.IsStable(), "strategy %s", c.strategy)
	}
}

func TestFailureKindHealable(t *testing.T) {
	healable := []FailureKind{FailureNotVisible, FailureNotEnabled, FailureUnstable, FailureNotUnique, FailureTimeout, FailureDiscoveryNone}
	for _, f := range healable {
		assert.True(t, f.Healable(), "expected %s to be healable", f)
	}

	notHealable := []FailureKind{FailureNone, FailureNotScoped, FailureBlocked, FailureWaitForHuman, FailureCancelled}
	for _, f := range notHealable {
		assert.False(t, f.Healable(), "expected %s to not be healable", f)
	}
}

func TestNewRunStateZeroStepsIsDone(t *testing.T) {
	run := NewRunState("req-1", nil, "https://example.com")
	assert.True(t, run.Done())
	_, ok := run.CurrentIntent()
	assert.False(t, ok)
}

func TestRunStateCurrentIntentAdvances(t *testing.T) {
	plan := []Intent{
		{Step: Step{Label: "first"}},
		{Step: Step{Label: "second"}},
	}
	run := NewRunState("req-2", plan, "https://example.com")
	require.False(t, run.Done())

	intent, ok := run.CurrentIntent()
	require.True(t, ok)
	assert.Equal(t, "first", intent.Label)

	run.StepIdx = 1
	intent, ok = run.CurrentIntent()
	require.True(t, ok)
	assert.Equal(t, "second", intent.Label)

	run.StepIdx = 2
	assert.True(t, run.Done())
	_, ok = run.CurrentIntent()
	assert.False(t, ok)
}

func TestSessionStateCapturedOnce(t *testing.T) {
	run := NewRunState("req-3", nil, "https://example.com")
	assert.False(t, run.SessionStateCaptured())
	run.MarkSessionStateCaptured()
	assert.True(t, run.SessionStateCaptured())
}
