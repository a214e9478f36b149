// Package coordinator implements the Run Coordinator (spec C8): the only
// component that mutates RunState. It drives the PLAN -> EXEC ->
// HEAL/HITL -> VERDICT -> END state machine (spec §4.8), calling into
// discovery/gate/executor/healer/hitl/cache/detect/telemetry/persistence but
// never letting any of them write RunState directly — each returns a
// proposed result and the Coordinator installs it.
//
// Grounded on spec §4.8's transition table for control flow, and on the
// teacher's explicit-phase-variable command dispatch style observed in
// cmd_instruction.go's OODA loop.
package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/example/pacts/internal/cache"
	"github.com/example/pacts/internal/config"
	"github.com/example/pacts/internal/detect"
	"github.com/example/pacts/internal/discovery"
	"github.com/example/pacts/internal/driver"
	"github.com/example/pacts/internal/executor"
	"github.com/example/pacts/internal/gate"
	"github.com/example/pacts/internal/healer"
	"github.com/example/pacts/internal/hitl"
	"github.com/example/pacts/internal/logging"
	"github.com/example/pacts/internal/model"
	"github.com/example/pacts/internal/persistence"
	"github.com/example/pacts/internal/telemetry"
)

// phase is the coordinator's explicit state-machine position (spec §4.8).
type phase string

const (
	phasePlan phase = "plan"
	phaseExec phase = "exec"
	phaseHeal phase = "heal"
	phaseHITL phase = "hitl"
	phaseEnd  phase = "end"
)

// Coordinator owns the single RunState for a run and drives it to PASS,
// FAIL, or BLOCKED.
type Coordinator struct {
	cfg   *config.Config
	drv   *driver.Driver
	gt    *gate.Gate
	disc  *discovery.Engine
	cch   *cache.Cache
	exec  *executor.Executor
	heal  *healer.Healer
	hb    *hitl.Bridge
	det   *detect.Registry
	sink  *telemetry.Sink
	store *persistence.Store
}

// New wires every component the Coordinator drives. origin is the target
// application's origin, used for cache-key scoping.
func New(cfg *config.Config, drv *driver.Driver, origin, workspace string, store *persistence.Store) *Coordinator {
	gt := gate.New(cfg, drv)
	disc := discovery.New(cfg, drv)
	cch, _ := cache.Open(cfg, workspace+"/.pacts/cache.db")
	ex := executor.New(cfg, drv, gt, disc, cch, origin)
	hl := healer.New(cfg, drv, gt, disc, cch)
	hb := hitl.New(cfg, workspace)
	det := detect.Default()
	sink := telemetry.New()

	return &Coordinator{
		cfg: cfg, drv: drv, gt: gt, disc: disc, cch: cch,
		exec: ex, heal: hl, hb: hb, det: det, sink: sink, store: store,
	}
}

// Run drives plan to completion against startURL and returns the terminal
// RunState. One req_id is minted per run (spec §3, grounded on
// healing-service.go's uuid.New() for RequestID, session_manager.go's
// Session.ID).
func (c *Coordinator) Run(ctx context.Context, plan []model.Intent, startURL string) (*model.RunState, error) {
	reqID := uuid.New().String()
	run := model.NewRunState(reqID, plan, startURL)

	c.sink.Emit(logging.CategoryRouter, reqID, 0, 0, "run started", map[string]interface{}{"steps": len(plan)})

	if err := c.drv.Navigate(ctx, startURL); err != nil {
		c.fail(run, model.FailureTimeout, fmt.Sprintf("initial navigation failed: %v", err))
		if c.store != nil {
			_ = c.store.Save(run)
		}
		return run, nil
	}

	ph := phasePlan
	for ph != phaseEnd {
		switch ph {
		case phasePlan:
			ph = c.plan(run)
		case phaseExec:
			ph = c.execPhase(ctx, run)
		case phaseHeal:
			ph = c.healPhase(ctx, run)
		case phaseHITL:
			ph = c.hitlPhase(ctx, run)
		default:
			ph = phaseEnd
		}
	}

	run.EndedAt = time.Now()
	if c.store != nil {
		_ = c.store.Save(run)
	}
	c.sink.Emit(logging.CategoryRouter, reqID, run.StepIdx, run.HealRound, "run ended", map[string]interface{}{"verdict": run.Verdict})
	return run, nil
}

// plan validates the plan is non-empty-or-trivially-passes (spec §8: zero
// steps is an immediate Pass) and transitions to EXEC.
func (c *Coordinator) plan(run *model.RunState) phase {
	if run.Done() {
		run.Verdict = model.VerdictPass
		return phaseEnd
	}
	return phaseExec
}

// execPhase runs the current Intent through the Executor, advancing the
// plan on success or routing to HEAL/HITL/END on failure (spec §4.8
// transition table).
func (c *Coordinator) execPhase(ctx context.Context, run *model.RunState) phase {
	intent, ok := run.CurrentIntent()
	if !ok {
		run.Verdict = model.VerdictPass
		return phaseEnd
	}
	if run.HumanInput != "" && intent.Value == "${HITL}" {
		intent.Value = run.HumanInput
	}

	// A wait step is a standing request for human input, not something the
	// executor can resolve against the DOM (spec §4.5 step 5): route it
	// straight to the HITL bridge, bypassing discovery/gate entirely.
	if intent.Action == model.ActionWait {
		return phaseHITL
	}

	if signature, err := c.det.Detect(ctx, c.drv); err == nil && signature != "" {
		run.Failure = model.FailureBlocked
		run.BlockedSignature = signature
		run.Verdict = model.VerdictBlocked
		c.sink.Emit(logging.CategoryRouter, run.ReqID, run.StepIdx, run.HealRound, "blocked page detected", map[string]interface{}{"signature": signature})
		return phaseEnd
	}

	outcome, err := c.exec.Execute(ctx, intent, run.HealRound)
	if err != nil {
		run.Failure = model.FailureTimeout
		run.RCADetail = fmt.Sprintf("executor error: %v", err)
		run.Verdict = model.VerdictFail
		return phaseEnd
	}

	if outcome.Success {
		run.Plan[run.StepIdx].Selector = outcome.Selector
		run.LastSelector = outcome.Selector
		run.Context.ExecutedSteps = append(run.Context.ExecutedSteps, model.ExecutedStep{
			StepIdx: run.StepIdx, Label: intent.Label, Action: intent.Action,
			Selector: outcome.Selector, Strategy: outcome.Strategy, CompletedAt: time.Now(),
		})
		run.StepIdx++
		run.HealRound = 0
		c.sink.Emit(logging.CategoryExec, run.ReqID, run.StepIdx, run.HealRound, "step passed", map[string]interface{}{"label": intent.Label, "selector": outcome.Selector})

		if run.Done() {
			run.Verdict = model.VerdictPass
			return phaseEnd
		}
		return phaseExec
	}

	run.Failure = outcome.Failure
	run.LastSelector = outcome.Selector

	if outcome.Failure.Healable() && run.HealRound < c.cfg.MaxHealRounds {
		return phaseHeal
	}

	run.Verdict = model.VerdictFail
	run.RCADetail = fmt.Sprintf("step %d (%s) failed: %s after %d heal round(s)", run.StepIdx, intent.Label, run.Failure, run.HealRound)
	return phaseEnd
}

// healPhase invokes the Healer for the currently failing step, installing
// its extended HealEvents by whole-list reassignment (spec §9 design note)
// and looping back to EXEC on success.
func (c *Coordinator) healPhase(ctx context.Context, run *model.RunState) phase {
	intent, ok := run.CurrentIntent()
	if !ok {
		run.Verdict = model.VerdictFail
		return phaseEnd
	}

	run.HealRound++
	outcome, err := c.heal.Heal(ctx, intent, run.StepIdx, run.Failure, run.LastSelector, run.HealEvents)
	if err != nil {
		run.Verdict = model.VerdictFail
		run.RCADetail = fmt.Sprintf("healer error: %v", err)
		return phaseEnd
	}

	run.HealEvents = outcome.Events // whole-list reassignment, not in-place append
	for _, he := range outcome.Events {
		c.sink.FromHealEvent(run.ReqID, he)
	}

	if outcome.Healed {
		run.Plan[run.StepIdx].Selector = outcome.NewSelector
		run.LastSelector = outcome.NewSelector
		return phaseExec
	}

	if outcome.ForceMaxRounds {
		run.HealRound = c.cfg.MaxHealRounds
		run.Verdict = model.VerdictFail
		run.RCADetail = outcome.RCADetail
		return phaseEnd
	}

	if run.HealRound >= c.cfg.MaxHealRounds {
		run.Verdict = model.VerdictFail
		run.RCADetail = fmt.Sprintf("step %d (%s) exhausted %d heal rounds, last failure: %s", run.StepIdx, intent.Label, run.HealRound, run.Failure)
		return phaseEnd
	}
	return phaseExec
}

// hitlPhase blocks on the HITL Bridge, writes the session state to
// SessionStatePath once per run after the first successful resumption (spec
// §3 invariant), and resumes EXEC with the human's answer recorded on
// RunState.
func (c *Coordinator) hitlPhase(ctx context.Context, run *model.RunState) phase {
	run.RequiresHuman = true
	result, resolved, err := c.hb.Wait(ctx, run.ReqID)
	run.RequiresHuman = false
	if err != nil {
		run.Verdict = model.VerdictFail
		run.RCADetail = fmt.Sprintf("hitl bridge error: %v", err)
		return phaseEnd
	}
	if !resolved {
		run.Failure = model.FailureWaitForHuman
		run.Verdict = model.VerdictFail
		run.RCADetail = fmt.Sprintf("step %d timed out waiting for human input", run.StepIdx)
		return phaseEnd
	}

	run.HumanInput = result.Answer

	if !run.SessionStateCaptured() && c.cfg.SessionStatePath != "" {
		if state, err := c.drv.CaptureSessionState(ctx); err == nil {
			if data, err := json.Marshal(state); err == nil && os.WriteFile(c.cfg.SessionStatePath, data, 0o644) == nil {
				run.Context.StorageStatePath = c.cfg.SessionStatePath
				run.MarkSessionStateCaptured()
			}
		}
	}

	// A wait step's only job was to obtain HumanInput; resolve it here
	// directly rather than looping back through execPhase, which would just
	// see the same ActionWait intent and route to HITL again.
	if intent, ok := run.CurrentIntent(); ok && intent.Action == model.ActionWait {
		run.Context.ExecutedSteps = append(run.Context.ExecutedSteps, model.ExecutedStep{
			StepIdx: run.StepIdx, Label: intent.Label, Action: intent.Action, CompletedAt: time.Now(),
		})
		run.StepIdx++
		run.HealRound = 0
		run.Failure = model.FailureNone
		c.sink.Emit(logging.CategoryHITL, run.ReqID, run.StepIdx, run.HealRound, "wait step resolved by human input", map[string]interface{}{"label": intent.Label})
		if run.Done() {
			run.Verdict = model.VerdictPass
			return phaseEnd
		}
	}
	return phaseExec
}

func (c *Coordinator) fail(run *model.RunState, kind model.FailureKind, detail string) *model.RunState {
	run.Failure = kind
	run.Verdict = model.VerdictFail
	run.RCADetail = detail
	run.EndedAt = time.Now()
	return run
}

// Telemetry exposes the run's telemetry sink so a caller can read the
// recorded events.
func (c *Coordinator) Telemetry() *telemetry.Sink {
	return c.sink
}

// Close releases the coordinator's owned cache handle.
func (c *Coordinator) Close() error {
	if c.cch != nil {
		return c.cch.Close()
	}
	return nil
}
