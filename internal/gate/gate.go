// Package gate implements the Actionability Gate (spec C2): five composable
// predicates — unique, visible, enabled, stable, in-scope — evaluated against
// a candidate selector before the executor is allowed to act on it. Gate
// tolerances and timeouts scale with the heal round (spec §4.2), so a
// candidate that barely fails early can still pass once the healer has
// widened the window.
//
// Grounded on honeypot.go's shape: a list of named checks, each contributing
// a pass/fail plus a reason, aggregated into one verdict — re-purposed here
// from anti-bot detection to actionability checking.
package gate

import (
	"context"
	"fmt"

	"github.com/go-rod/rod"

	"github.com/example/pacts/internal/config"
	"github.com/example/pacts/internal/driver"
	"github.com/example/pacts/internal/logging"
	"github.com/example/pacts/internal/model"
)

// Predicate is one named actionability check.
type Predicate string

const (
	PredicateUnique  Predicate = "unique"
	PredicateVisible Predicate = "visible"
	PredicateEnabled Predicate = "enabled"
	PredicateStable  Predicate = "stable"
	PredicateInScope Predicate = "in_scope"
)

// Result is the gate's verdict for one selector evaluation.
type Result struct {
	Pass    bool
	Failure model.FailureKind
	Checks  map[Predicate]bool
	Element *rod.Element // resolved element on PredicateUnique success, nil otherwise
	Count   int          // number of elements the selector matched
}

// Visibility selects how strictly Check enforces the visible/stable
// predicates. VisibilityDeferred lets a fill/type target pass gate while
// still hidden, so the executor can attempt activation before requiring
// visibility (spec §4.2, §9 deferred-visibility call site).
type Visibility int

const (
	VisibilityRequired Visibility = iota
	VisibilityDeferred
)

// Gate evaluates actionability against the live DOM via a Driver.
type Gate struct {
	cfg *config.Config
	drv *driver.Driver
}

// New constructs a Gate.
func New(cfg *config.Config, drv *driver.Driver) *Gate {
	return &Gate{cfg: cfg, drv: drv}
}

// Check runs the predicates in order, short-circuiting on first failure
// (spec §4.2: unique, then visible, then enabled, then stable, then
// in-scope). healRound scales stability samples/tolerance and the overall
// predicate timeout, so healing attempts widen the window rather than
// loosening correctness. With mode == VisibilityDeferred, the visible
// predicate is recorded but not enforced, the stable predicate is skipped,
// and the gate passes on
// unique ∧ enabled ∧ in_scope alone, letting the executor drive a hidden-fill
// activation before re-checking with VisibilityRequired.
func (g *Gate) Check(ctx context.Context, selector string, scopeSelector string, healRound int, mode Visibility) (*Result, error) {
	timer := logging.StartTimer(logging.CategoryGate, fmt.Sprintf("check %s round=%d", selector, healRound))
	defer timer.Stop()

	result := &Result{Checks: make(map[Predicate]bool)}
	timeout := g.cfg.GateTimeout(healRound)
	deadline, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	els, err := g.drv.Elements(deadline, selector)
	if err != nil {
		return nil, fmt.Errorf("query elements: %w", err)
	}
	result.Count = len(els)

	unique := len(els) == 1
	result.Checks[PredicateUnique] = unique
	if !unique {
		result.Failure = model.FailureNotUnique
		g.logFail(selector, result)
		return result, nil
	}
	el := els[0]
	result.Element = el

	visible, err := el.Context(deadline).Visible()
	if err != nil {
		return nil, fmt.Errorf("check visible: %w", err)
	}
	result.Checks[PredicateVisible] = visible
	if !visible && mode == VisibilityRequired {
		result.Failure = model.FailureNotVisible
		g.logFail(selector, result)
		return result, nil
	}

	enabled, err := isEnabled(deadline, el)
	if err != nil {
		return nil, fmt.Errorf("check enabled: %w", err)
	}
	result.Checks[PredicateEnabled] = enabled
	if !enabled {
		result.Failure = model.FailureNotEnabled
		g.logFail(selector, result)
		return result, nil
	}

	if mode == VisibilityRequired {
		samples := g.cfg.StabilitySamples(healRound)
		tolerance := g.cfg.StabilityTolerancePX(healRound)
		stable, err := g.drv.WaitStable(deadline, el, samples, tolerance, timeout)
		if err != nil {
			return nil, fmt.Errorf("check stable: %w", err)
		}
		result.Checks[PredicateStable] = stable
		if !stable {
			result.Failure = model.FailureUnstable
			g.logFail(selector, result)
			return result, nil
		}
	}

	inScope := true
	if scopeSelector != "" {
		inScope, err = isDescendantOf(deadline, g.drv, el, scopeSelector)
		if err != nil {
			return nil, fmt.Errorf("check in_scope: %w", err)
		}
	}
	result.Checks[PredicateInScope] = inScope
	if !inScope {
		result.Failure = model.FailureNotScoped
		g.logFail(selector, result)
		return result, nil
	}

	result.Pass = true
	result.Failure = model.FailureNone
	return result, nil
}

func (g *Gate) logFail(selector string, r *Result) {
	logging.Get(logging.CategoryGate).Info("selector=%s failed=%s checks=%v count=%d", selector, r.Failure, r.Checks, r.Count)
}

// isEnabled reports whether el lacks a disabled attribute/property and
// aria-disabled is not "true".
func isEnabled(ctx context.Context, el *rod.Element) (bool, error) {
	var disabled bool
	res, err := el.Context(ctx).Eval(`() => {
		if (this.disabled) return true;
		const aria = this.getAttribute('aria-disabled');
		return aria === 'true';
	}`)
	if err != nil {
		return false, err
	}
	if err := res.Value.Unmarshal(&disabled); err != nil {
		return false, err
	}
	return !disabled, nil
}

// isDescendantOf reports whether el is contained within the first element
// matching scopeSelector (spec §4.2 "in-scope": a region-scoped candidate
// must resolve inside its claimed region).
func isDescendantOf(ctx context.Context, drv *driver.Driver, el *rod.Element, scopeSelector string) (bool, error) {
	scopeEls, err := drv.Elements(ctx, scopeSelector)
	if err != nil {
		return false, err
	}
	if len(scopeEls) == 0 {
		return false, nil
	}
	var contained bool
	res, err := el.Context(ctx).Eval(`(scope) => scope.contains(this)`, scopeEls[0])
	if err != nil {
		return false, err
	}
	if err := res.Value.Unmarshal(&contained); err != nil {
		return false, err
	}
	return contained, nil
}
