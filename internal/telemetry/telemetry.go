// Package telemetry implements the Telemetry Sink (spec C9): a structured
// event stream tagged by category, mirroring internal/logging's category
// system but scoped to the coordinator's run-level events (discovery
// resolutions, gate verdicts, heal attempts, cache hits/misses, HITL waits,
// routing decisions) rather than generic log lines. Every event also reaches
// internal/logging's category file so operators get one place to tail
// `.pacts/logs/<category>.log` regardless of whether they're reading
// telemetry or debug output.
package telemetry

import (
	"sync"
	"time"

	"github.com/example/pacts/internal/logging"
	"github.com/example/pacts/internal/model"
)

// Event is one structured telemetry record (spec §4.9's
// [DISCOVERY]/[GATE]/[EXEC]/[HEAL]/[CACHE]/[HITL]/[ROUTER] tag set).
type Event struct {
	Timestamp time.Time              `json:"timestamp"`
	Category  logging.Category       `json:"category"`
	ReqID     string                 `json:"req_id"`
	StepIdx   int                    `json:"step_idx,omitempty"`
	HealRound int                    `json:"heal_round,omitempty"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// Sink collects events in memory for the duration of a run while also
// mirroring each one to the category file logger. Events are not persisted
// with the run record.
type Sink struct {
	mu     sync.Mutex
	events []Event
}

// New constructs an empty Sink.
func New() *Sink {
	return &Sink{}
}

// Emit records one event and mirrors it to the matching category's file
// logger.
func (s *Sink) Emit(category logging.Category, reqID string, stepIdx, healRound int, message string, fields map[string]interface{}) {
	evt := Event{
		Timestamp: time.Now(), Category: category, ReqID: reqID,
		StepIdx: stepIdx, HealRound: healRound, Message: message, Fields: fields,
	}

	s.mu.Lock()
	s.events = append(s.events, evt)
	s.mu.Unlock()

	logging.Get(category).Info("req=%s step=%d round=%d %s %v", reqID, stepIdx, healRound, message, fields)
}

// Events returns a copy of every event recorded so far.
func (s *Sink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// FromHealEvent emits a telemetry event for one healer attempt, translating
// the model.HealEvent the coordinator just installed into the [HEAL]
// category stream (spec §4.9).
func (s *Sink) FromHealEvent(reqID string, he model.HealEvent) {
	s.Emit(logging.CategoryHeal, reqID, he.StepIdx, he.Round, "heal attempt", map[string]interface{}{
		"failure_kind": he.FailureKind,
		"old_selector": he.OldSelector,
		"new_selector": he.NewSelector,
		"success":      he.Success,
		"duration_ms":  he.DurationMS,
	})
}
