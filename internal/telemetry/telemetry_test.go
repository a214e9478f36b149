package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/pacts/internal/logging"
	"github.com/example/pacts/internal/model"
)

func TestEmitRecordsEvent(t *testing.T) {
	s := New()
	s.Emit(logging.CategoryGate, "req-1", 2, 1, "gate check", map[string]interface{}{"pass": true})

	events := s.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "req-1", events[0].ReqID)
	assert.Equal(t, 2, events[0].StepIdx)
	assert.Equal(t, 1, events[0].HealRound)
	assert.Equal(t, "gate check", events[0].Message)
}

func TestEventsReturnsCopyNotSharedSlice(t *testing.T) {
	s := New()
	s.Emit(logging.CategoryCache, "req-2", 0, 0, "hit", nil)

	events := s.Events()
	events[0].Message = "mutated"

	original := s.Events()
	assert.Equal(t, "hit", original[0].Message)
}

func TestFromHealEventEmitsHealCategory(t *testing.T) {
	s := New()
	s.FromHealEvent("req-3", model.HealEvent{
		Round: 1, StepIdx: 0, FailureKind: model.FailureNotVisible,
		OldSelector: "#a", NewSelector: "#b", Success: true, DurationMS: 50,
	})

	events := s.Events()
	require.Len(t, events, 1)
	assert.Equal(t, logging.CategoryHeal, events[0].Category)
	assert.Equal(t, "#a", events[0].Fields["old_selector"])
	assert.Equal(t, "#b", events[0].Fields["new_selector"])
}
