// Package healer implements the Healer (spec C6): a bounded
// reveal -> reprobe -> stabilize loop invoked whenever the executor reports a
// Healable failure. Grounded on ae8b67fa_...healing-service.go's Heal()
// attempt loop and chooseStrategy escalation, adapted from an LLM-repair
// agent calling out to Claude/V-JEPA to a pure reprobe-via-discovery loop:
// this engine's healer has no model in it, only an escalating rediscovery
// and environmental-correction ladder (spec §4.6).
package healer

import (
	"context"
	"fmt"
	"time"

	"github.com/example/pacts/internal/cache"
	"github.com/example/pacts/internal/config"
	"github.com/example/pacts/internal/discovery"
	"github.com/example/pacts/internal/driver"
	"github.com/example/pacts/internal/gate"
	"github.com/example/pacts/internal/logging"
	"github.com/example/pacts/internal/model"
)

// Healer runs the bounded healing loop for one failed Intent.
type Healer struct {
	cfg  *config.Config
	drv  *driver.Driver
	gt   *gate.Gate
	disc *discovery.Engine
	cch  *cache.Cache
}

// New constructs a Healer.
func New(cfg *config.Config, drv *driver.Driver, gt *gate.Gate, disc *discovery.Engine, cch *cache.Cache) *Healer {
	return &Healer{cfg: cfg, drv: drv, gt: gt, disc: disc, cch: cch}
}

// Outcome is the result of one Heal call: either a new selector to retry
// with, or exhaustion of the bound without a usable candidate.
type Outcome struct {
	Healed      bool
	NewSelector string
	NewStrategy model.Strategy
	Events      []model.HealEvent

	// ForceMaxRounds and RCADetail are set when the identical-selector guard
	// gives up on a non-fill action (spec §4.6): the coordinator should stop
	// healing immediately rather than spend remaining rounds on a selector
	// already proven stuck.
	ForceMaxRounds bool
	RCADetail      string
}

// Heal runs up to cfg.MaxHealRounds reveal/reprobe/stabilize attempts,
// stopping early on two livelock guards (spec §4.6): a repeated-None guard
// (discovery returns nothing twice running) and an identical-selector guard
// (two consecutive rounds propose the same selector that still fails the
// gate). existingEvents is the RunState's current HealEvents slice; Heal
// returns the full extended slice so the coordinator can install it by whole-
// list reassignment (spec §9 design note on observability mutation).
func (h *Healer) Heal(ctx context.Context, intent model.Intent, stepIdx int, failure model.FailureKind, oldSelector string, existingEvents []model.HealEvent) (*Outcome, error) {
	if !failure.Healable() {
		return &Outcome{Healed: false, Events: existingEvents}, nil
	}

	events := existingEvents
	var lastSelector string
	noneStreak := 0
	sameStreak := 0

	for round := 1; round <= h.cfg.MaxHealRounds; round++ {
		start := time.Now()
		timer := logging.StartTimer(logging.CategoryHeal, fmt.Sprintf("round=%d step=%d", round, stepIdx))

		h.reveal(ctx, oldSelector)

		cand, err := h.disc.ResolveHealRound(ctx, intent, round, oldSelector)
		if err != nil {
			timer.Stop()
			return nil, err
		}

		if cand == nil {
			noneStreak++
			events = append(events, model.HealEvent{
				Round: round, StepIdx: stepIdx, FailureKind: model.FailureDiscoveryNone,
				Actions: []string{"reveal", "reprobe"}, OldSelector: oldSelector,
				Success: false, DurationMS: time.Since(start).Milliseconds(),
			})
			timer.Stop()
			if noneStreak >= 2 {
				logging.Get(logging.CategoryHeal).Warn("repeated-None guard tripped at round %d", round)
				break
			}
			continue
		}
		noneStreak = 0

		if cand.Selector == lastSelector {
			sameStreak++
		} else {
			sameStreak = 0
		}
		lastSelector = cand.Selector

		result, err := h.gt.Check(ctx, cand.Selector, intent.Within, round, gate.VisibilityRequired)
		if err != nil {
			timer.Stop()
			return nil, err
		}

		success := result.Pass

		// Identical-selector guard (spec §4.6): two consecutive rounds
		// proposing the same still-failing selector means reprobing alone
		// won't recover it. For a fill/type target, try activation instead
		// of giving up, since the selector may simply be correct-but-hidden.
		if !success && sameStreak >= 1 && isFillAction(intent.Action) {
			if activated, aerr := h.drv.ActivateHiddenSibling(ctx, result.Element); aerr == nil && activated {
				if reChecked, rerr := h.gt.Check(ctx, cand.Selector, intent.Within, round, gate.VisibilityRequired); rerr == nil && reChecked.Pass {
					result = reChecked
					success = true
				}
			}
		}

		events = append(events, model.HealEvent{
			Round: round, StepIdx: stepIdx, FailureKind: failure,
			Actions: []string{"reveal", "reprobe", "stabilize"}, OldSelector: oldSelector, NewSelector: cand.Selector,
			GateResult: checksToMap(result.Checks), Success: success,
			DurationMS: time.Since(start).Milliseconds(),
		})
		timer.Stop()

		if success {
			_ = h.cch.Put(cache.Key("", intent.Label, ""), *cand, "")
			return &Outcome{Healed: true, NewSelector: cand.Selector, NewStrategy: cand.Strategy, Events: events}, nil
		}

		if sameStreak >= 1 {
			if isFillAction(intent.Action) {
				// Activation was already attempted above and failed; keep
				// reprobing rather than forcing an early exhaustion, since a
				// later round's heuristic (id/class, last-known-good) may
				// still recover a fill target a role/label probe can't.
				continue
			}
			logging.Get(logging.CategoryHeal).Warn("identical-selector guard tripped at round %d selector=%s", round, cand.Selector)
			return &Outcome{
				Healed: false, Events: events, ForceMaxRounds: true,
				RCADetail: "Selector repeatedly failed validation",
			}, nil
		}
	}

	return &Outcome{Healed: false, Events: events}, nil
}

// isFillAction reports whether action is one the identical-selector guard
// should try activation for instead of giving up (spec §4.6).
func isFillAction(action model.Action) bool {
	return action == model.ActionFill || action == model.ActionType
}

// reveal performs the spec §4.6.A reveal sequence before reprobing:
// bring the page to the front, scroll the last-known selector into view,
// dismiss any overlay blocking it, then wait for the network to settle.
// Grounded on the environmental-correction idea in the pack's selfheal
// reference material, now following the spec's named steps instead of a
// generic scroll-to-top.
func (h *Healer) reveal(ctx context.Context, oldSelector string) {
	if err := h.drv.BringToFront(ctx); err != nil {
		logging.Get(logging.CategoryHeal).Warn("reveal: bring to front: %v", err)
	}
	if oldSelector != "" {
		if err := h.drv.ScrollIntoView(ctx, oldSelector); err != nil {
			logging.Get(logging.CategoryHeal).Warn("reveal: scroll into view %q: %v", oldSelector, err)
		}
	}
	if err := h.drv.DismissOverlays(ctx); err != nil {
		logging.Get(logging.CategoryHeal).Warn("reveal: dismiss overlays: %v", err)
	}
	if err := h.drv.WaitForNetworkIdle(ctx, 2*time.Second); err != nil {
		logging.Get(logging.CategoryHeal).Warn("reveal: wait for network idle: %v", err)
	}
}

func checksToMap(checks map[gate.Predicate]bool) map[string]interface{} {
	out := make(map[string]interface{}, len(checks))
	for k, v := range checks {
		out[string(k)] = v
	}
	return out
}
