// Package executor implements the Step Executor (spec C5): for one Intent,
// wait for readiness, resolve a selector (cache first, else discovery), pass
// it through the gate, activate a hidden input if needed, dispatch the typed
// action, verify the expected outcome, and capture a screenshot. Grounded on
// automation_tools.go's action-type dispatch switch (click/type/navigate/
// press/wait) and session_manager.go's Click/Type/Screenshot methods.
package executor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-rod/rod/lib/input"

	"github.com/example/pacts/internal/cache"
	"github.com/example/pacts/internal/config"
	"github.com/example/pacts/internal/discovery"
	"github.com/example/pacts/internal/driver"
	"github.com/example/pacts/internal/gate"
	"github.com/example/pacts/internal/logging"
	"github.com/example/pacts/internal/model"
)

// Outcome is the result of executing one Intent.
type Outcome struct {
	Success    bool
	Failure    model.FailureKind
	Selector   string
	Strategy   model.Strategy
	Screenshot []byte
	CacheKey   model.CacheKey
	FromCache  bool
}

// Executor drives one Intent to completion or a classified failure.
type Executor struct {
	cfg    *config.Config
	drv    *driver.Driver
	gt     *gate.Gate
	disc   *discovery.Engine
	cch    *cache.Cache
	origin string
}

// New constructs an Executor for one run against origin (used for cache key
// derivation and the BYPASS_FORM_CACHE_FOR_ORIGIN safety valve).
func New(cfg *config.Config, drv *driver.Driver, gt *gate.Gate, disc *discovery.Engine, cch *cache.Cache, origin string) *Executor {
	return &Executor{cfg: cfg, drv: drv, gt: gt, disc: disc, cch: cch, origin: origin}
}

// Execute runs one Intent at the given heal round (0 on first attempt,
// incremented by the coordinator on each healing pass).
func (e *Executor) Execute(ctx context.Context, intent model.Intent, healRound int) (*Outcome, error) {
	timer := logging.StartTimer(logging.CategoryExec, fmt.Sprintf("execute %q round=%d", intent.Label, healRound))
	defer timer.Stop()

	e.waitForReadiness(ctx)

	selector, strategy, fromCache, cacheKey, err := e.resolveSelector(ctx, intent, healRound)
	if err != nil {
		return nil, err
	}
	if selector == "" {
		return &Outcome{Success: false, Failure: model.FailureDiscoveryNone, CacheKey: cacheKey}, nil
	}

	result, err := e.gt.Check(ctx, selector, intent.Within, healRound, gate.VisibilityRequired)
	if err != nil {
		return nil, err
	}
	if !result.Pass {
		// A hidden fill/type target gets one deferred-visibility re-check: if
		// unique/enabled/in-scope all hold, try to activate it before giving
		// up (spec §4.1 hidden-input edge case, §9 deferred-visibility seam).
		if result.Failure == model.FailureNotVisible && isFillAction(intent.Action) {
			deferred, derr := e.gt.Check(ctx, selector, intent.Within, healRound, gate.VisibilityDeferred)
			if derr == nil && deferred.Pass {
				if aerr := e.activateIfHidden(ctx, deferred); aerr == nil {
					if reChecked, rerr := e.gt.Check(ctx, selector, intent.Within, healRound, gate.VisibilityRequired); rerr == nil && reChecked.Pass {
						result = reChecked
					}
				} else {
					logging.Get(logging.CategoryExec).Warn("activate hidden input: %v", aerr)
				}
			}
		}
	}
	if !result.Pass {
		if fromCache {
			_ = e.cch.RecordMiss(cacheKey)
		}
		return &Outcome{Success: false, Failure: result.Failure, Selector: selector, Strategy: strategy, CacheKey: cacheKey, FromCache: fromCache}, nil
	}

	actionCtx, cancel := context.WithTimeout(ctx, e.cfg.ActionTimeout())
	dispatchErr := e.dispatch(actionCtx, intent, result)
	cancel()
	if dispatchErr != nil {
		return &Outcome{Success: false, Failure: classifyDispatchError(dispatchErr), Selector: selector, Strategy: strategy, CacheKey: cacheKey, FromCache: fromCache}, nil
	}

	if intent.Expected != "" {
		ok, err := e.verify(ctx, intent.Expected)
		if err != nil {
			return nil, err
		}
		if !ok {
			return &Outcome{Success: false, Failure: model.FailureTimeout, Selector: selector, Strategy: strategy, CacheKey: cacheKey, FromCache: fromCache}, nil
		}
	}

	shot, err := e.drv.Screenshot(ctx)
	if err != nil {
		logging.Get(logging.CategoryExec).Warn("screenshot failed: %v", err)
	}

	if fromCache {
		_ = e.cch.RecordHit(cacheKey)
	} else {
		_ = e.cch.Put(cacheKey, model.Candidate{Selector: selector, Strategy: strategy, Stable: strategy.IsStable(), Confidence: 1.0}, "")
	}

	return &Outcome{
		Success: true, Selector: selector, Strategy: strategy, Screenshot: shot,
		CacheKey: cacheKey, FromCache: fromCache,
	}, nil
}

// resolveSelector tries the cache first (unless bypassed for this origin),
// falling back to discovery's strategy ladder (spec §4.4's read-through
// cache, §4.3's discovery fallback).
func (e *Executor) resolveSelector(ctx context.Context, intent model.Intent, healRound int) (selector string, strategy model.Strategy, fromCache bool, key model.CacheKey, err error) {
	key = cache.Key(e.origin, intent.Label, "")

	bypassed := e.cfg.MatchesBypassOrigin(e.origin)
	if !bypassed {
		if entry, ok := e.cch.Lookup(key); ok {
			if entry.Stable || e.cch.AllowUnstableHit() {
				return entry.Selector, entry.Strategy, true, key, nil
			}
		}
	}

	cand, err := e.disc.Resolve(ctx, intent, healRound)
	if err != nil {
		return "", "", false, key, err
	}
	if cand == nil {
		return "", "", false, key, nil
	}
	return cand.Selector, cand.Strategy, false, key, nil
}

// waitForReadiness pauses for the configured readiness window, extended when
// the current URL matches a configured SPA marker (spec §4.1, §9 open
// question on the SPA-marker list).
func (e *Executor) waitForReadiness(ctx context.Context) {
	url, err := e.drv.CurrentURL()
	spaLike := err == nil && e.cfg.MatchesSPAMarker(url)
	wait := e.cfg.ReadinessWait(spaLike)
	select {
	case <-ctx.Done():
	case <-time.After(wait):
	}
}

// activateIfHidden reveals a hidden-but-scriptable input before interacting
// with it (spec §4.1 edge case: some forms keep an input display:none until
// a prior field in the flow activates a sibling toggle/disclosure control).
// Called only after the gate's deferred-visibility check confirms the
// target is unique/enabled/in-scope.
func (e *Executor) activateIfHidden(ctx context.Context, result *gate.Result) error {
	activated, err := e.drv.ActivateHiddenSibling(ctx, result.Element)
	if err != nil {
		return fmt.Errorf("activate hidden input: %w", err)
	}
	if !activated {
		return fmt.Errorf("no activator found for hidden input")
	}
	return nil
}

// isFillAction reports whether action is one the gate may defer visibility
// for (spec §4.2, §9): only fill/type targets get a hidden-input activation
// attempt, never click/press/hover/focus/wait.
func isFillAction(action model.Action) bool {
	return action == model.ActionFill || action == model.ActionType
}

// dispatch performs the typed action against the gate-verified element.
// Grounded on automation_tools.go's action-type switch.
func (e *Executor) dispatch(ctx context.Context, intent model.Intent, result *gate.Result) error {
	el := result.Element
	switch intent.Action {
	case model.ActionClick, model.ActionCheck, model.ActionUncheck:
		return e.drv.Click(ctx, el)
	case model.ActionFill, model.ActionType:
		return e.drv.Fill(ctx, el, intent.Value)
	case model.ActionPress:
		keyMap := map[string]input.Key{
			"Enter": input.Enter, "Tab": input.Tab, "Escape": input.Escape,
		}
		if key, ok := keyMap[intent.Value]; ok {
			return e.drv.Press(ctx, el, key)
		}
		if len(intent.Value) == 1 {
			return e.drv.Press(ctx, el, input.Key(rune(intent.Value[0])))
		}
		return fmt.Errorf("unknown key %q", intent.Value)
	case model.ActionHover:
		return e.drv.Hover(ctx, el)
	case model.ActionFocus:
		return e.drv.Focus(ctx, el)
	case model.ActionWait:
		// The coordinator routes ActionWait straight to the HITL bridge
		// (spec §4.5 step 5) before ever calling Execute; reaching here means
		// that routing was skipped, so treat it as a bug rather than a
		// silent success.
		return fmt.Errorf("action %q must be routed through the HITL bridge, not dispatched", intent.Action)
	default:
		return fmt.Errorf("unsupported action %q", intent.Action)
	}
}

// classifyDispatchError maps a dispatch-time error into a FailureKind the
// coordinator can route to the healer (spec §4.6 entry condition). Dispatch
// errors from go-rod are almost always a vanished/stale element, which the
// healer treats the same as NotVisible: reprobe and retry.
func classifyDispatchError(err error) model.FailureKind {
	return model.FailureNotVisible
}

// verify checks the Step's Expected outcome, currently limited to a URL
// substring check (spec §3 Step.Expected, left intentionally simple — the
// spec does not define an assertion DSL, see §5 Non-goals).
func (e *Executor) verify(ctx context.Context, expected string) (bool, error) {
	url, err := e.drv.CurrentURL()
	if err != nil {
		return false, err
	}
	return expected == "" || strings.Contains(url, expected), nil
}
