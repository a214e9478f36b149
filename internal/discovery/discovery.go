// Package discovery implements the Discovery Engine (spec C3): an ordered
// ladder of strategies that each try to resolve an Intent to exactly one
// selector, tried in order until one produces a non-empty match (uniqueness
// is left to the Gate).
// The ladder is data (a []Strategy, reorderable via config), not a dispatch
// table hardcoded into the pipeline — so LABEL_FIRST_DISCOVERY or an
// app-specific strategy slot can change precedence without touching Engine's
// control flow (spec §9 design note).
//
// Grounded on the agent-registry-as-data pattern in
// d6137fc7_...discovery-orchestrator.go (a map of named handlers executed in
// a fixed pipeline) and the element-resolution style of
// 93a029cc_...automation_tools.go's findElementByRef.
package discovery

import (
	"context"
	"fmt"
	"strings"

	"github.com/example/pacts/internal/config"
	"github.com/example/pacts/internal/driver"
	"github.com/example/pacts/internal/logging"
	"github.com/example/pacts/internal/model"
)

// strategyFunc resolves one Intent under one Strategy to a candidate
// selector string, or "" if the strategy found nothing. It never judges
// actionability — that's the Gate's job (spec §4.2/§4.3 separation).
type strategyFunc func(ctx context.Context, drv *driver.Driver, intent model.Intent) (selector string, confidence float64, err error)

// Engine runs the strategy ladder for an Intent.
type Engine struct {
	cfg   *config.Config
	drv   *driver.Driver
	ladder []model.Strategy
	funcs  map[model.Strategy]strategyFunc

	// appSpecific is an optional host-supplied strategy, plugged at the
	// StrategyAppSpecific slot (spec §9 "plugin slot for app-specific
	// heuristics").
	appSpecific strategyFunc
}

// New constructs a discovery Engine with the default ladder ordering (spec
// §4.3): aria_label, name_attr, placeholder, label_for, role_name,
// role_name_disambiguated, text_has, region_scoped, app_specific. Cache
// lookup is handled by the caller (internal/executor) before Resolve is ever
// invoked, so StrategyCached never appears in this ladder.
func New(cfg *config.Config, drv *driver.Driver) *Engine {
	e := &Engine{
		cfg: cfg,
		drv: drv,
		ladder: []model.Strategy{
			model.StrategyAriaLabel,
			model.StrategyNameAttr,
			model.StrategyPlaceholder,
			model.StrategyLabelFor,
			model.StrategyRoleName,
			model.StrategyRoleNameDisambiguated,
			model.StrategyTextHas,
			model.StrategyRegionScoped,
			model.StrategyAppSpecific,
		},
	}
	e.funcs = map[model.Strategy]strategyFunc{
		model.StrategyAriaLabel:             e.byAriaLabel,
		model.StrategyNameAttr:              e.byNameAttr,
		model.StrategyPlaceholder:           e.byPlaceholder,
		model.StrategyLabelFor:              e.byLabelFor,
		model.StrategyRoleName:              e.byRoleName,
		model.StrategyRoleNameDisambiguated: e.byRoleNameDisambiguated,
		model.StrategyTextHas:               e.byTextHas,
		model.StrategyRegionScoped:          e.byRegionScoped,
		model.StrategyAppSpecific:           e.byAppSpecific,
	}
	if cfg.LabelFirstDiscovery {
		e.promoteLabelStrategies()
	}
	return e
}

// promoteLabelStrategies moves the label-ish strategies (aria_label,
// name_attr, placeholder, label_for) ahead of role-based ones when
// LABEL_FIRST_DISCOVERY is set (spec §6), without touching the pipeline code
// that walks e.ladder.
func (e *Engine) promoteLabelStrategies() {
	labelish := map[model.Strategy]bool{
		model.StrategyAriaLabel: true, model.StrategyNameAttr: true,
		model.StrategyPlaceholder: true, model.StrategyLabelFor: true,
	}
	var front, rest []model.Strategy
	for _, s := range e.ladder {
		if labelish[s] {
			front = append(front, s)
		} else {
			rest = append(rest, s)
		}
	}
	e.ladder = append(front, rest...)
}

// SetAppSpecific plugs a host-supplied strategy into the app_specific slot.
func (e *Engine) SetAppSpecific(fn func(ctx context.Context, drv *driver.Driver, intent model.Intent) (string, float64, error)) {
	e.appSpecific = fn
}

// Resolve walks the ladder in order and returns the first strategy's
// candidate, scaled for the current heal round per spec §4.3's confidence
// decay (ConfidenceDecayPerRound per round). Returns a nil candidate (which
// the caller maps to FailureDiscoveryNone) if every strategy in the ladder
// comes up empty. The whole walk is bounded by
// cfg.DiscoveryTotalTimeout (spec §4.3 wall-clock bound per intent), so a
// stalled strategy fails the intent rather than hanging the run.
func (e *Engine) Resolve(ctx context.Context, intent model.Intent, healRound int) (*model.Candidate, error) {
	timer := logging.StartTimer(logging.CategoryDiscovery, fmt.Sprintf("resolve %q round=%d", intent.Label, healRound))
	defer timer.Stop()

	ctx, cancel := context.WithTimeout(ctx, e.cfg.DiscoveryTotalTimeout())
	defer cancel()

	order := e.ladder
	if len(intent.Hints.TierOrder) > 0 {
		order = intent.Hints.TierOrder
	}

	for _, strat := range order {
		fn, ok := e.funcs[strat]
		if !ok || fn == nil {
			continue
		}
		selector, confidence, err := fn(ctx, e.drv, intent)
		if err != nil {
			logging.Get(logging.CategoryDiscovery).Warn("strategy %s errored: %v", strat, err)
			continue
		}
		if selector == "" {
			continue
		}
		confidence -= e.cfg.ConfidenceDecayPerRound * float64(healRound)
		if confidence < 0 {
			confidence = 0
		}
		cand := &model.Candidate{
			Selector:   selector,
			Confidence: confidence,
			Strategy:   strat,
			Stable:     strat.IsStable(),
		}
		logging.Get(logging.CategoryDiscovery).Info("label=%q strategy=%s selector=%s confidence=%.2f", intent.Label, strat, selector, confidence)
		return cand, nil
	}

	return nil, nil // caller maps nil to FailureDiscoveryNone
}

func (e *Engine) byAriaLabel(ctx context.Context, drv *driver.Driver, intent model.Intent) (string, float64, error) {
	return e.bySelectorAttr(ctx, drv, "aria-label", intent.Label, 0.95)
}

func (e *Engine) byNameAttr(ctx context.Context, drv *driver.Driver, intent model.Intent) (string, float64, error) {
	return e.bySelectorAttr(ctx, drv, "name", intent.Label, 0.9)
}

func (e *Engine) byPlaceholder(ctx context.Context, drv *driver.Driver, intent model.Intent) (string, float64, error) {
	return e.bySelectorAttr(ctx, drv, "placeholder", intent.Label, 0.85)
}

// bySelectorAttr builds a case-sensitive `[attr="value"]` CSS selector and
// confirms at least one element matches before returning it; a non-unique
// match is left to the Gate, but discovery still prefers to hand the
// executor a selector that already looks resolvable.
func (e *Engine) bySelectorAttr(ctx context.Context, drv *driver.Driver, attr, value string, confidence float64) (string, float64, error) {
	selector := fmt.Sprintf(`[%s="%s"]`, attr, escapeAttr(value))
	els, err := drv.Elements(ctx, selector)
	if err != nil {
		return "", 0, err
	}
	if len(els) == 0 {
		return "", 0, nil
	}
	return selector, confidence, nil
}

// byLabelFor resolves a <label>'s `for` target, then uses #id on the
// labeled control.
func (e *Engine) byLabelFor(ctx context.Context, drv *driver.Driver, intent model.Intent) (string, float64, error) {
	var id string
	err := drv.Eval(ctx, fmt.Sprintf(`() => {
		const labels = Array.from(document.querySelectorAll('label'));
		const match = labels.find(l => l.textContent.trim().toLowerCase().includes(%q));
		if (!match) return '';
		if (match.htmlFor) return match.htmlFor;
		const control = match.querySelector('input,select,textarea');
		return control ? control.id : '';
	}`, strings.ToLower(intent.Label)), &id)
	if err != nil {
		return "", 0, err
	}
	if id == "" {
		return "", 0, nil
	}
	return fmt.Sprintf("#%s", id), 0.85, nil
}

// byRoleName resolves via ARIA role + accessible name: role=<role>[name=/<label>/i]
// (spec §4.3 item 6), approximating Playwright/Testing-Library's getByRole
// semantics with a DOM query. The accessible-name filter (aria-label falling
// back to textContent, matched case-insensitively) is what keeps this from
// picking an arbitrary same-role element when several share the page.
func (e *Engine) byRoleName(ctx context.Context, drv *driver.Driver, intent model.Intent) (string, float64, error) {
	if intent.Hints.Role == "" {
		return "", 0, nil
	}
	var idx int
	err := drv.Eval(ctx, fmt.Sprintf(`() => {
		const els = Array.from(document.querySelectorAll('[role="%s"]'));
		const re = new RegExp(%q, 'i');
		return els.findIndex(el => {
			const name = (el.getAttribute('aria-label') || el.textContent || '').trim();
			return re.test(name);
		});
	}`, escapeAttr(intent.Hints.Role), regexpEscape(intent.Label)), &idx)
	if err != nil {
		return "", 0, err
	}
	if idx < 0 {
		return "", 0, nil
	}
	return fmt.Sprintf(`[role="%s"]:nth-of-type(%d)`, intent.Hints.Role, idx+1), 0.8, nil
}

// byRoleNameDisambiguated narrows a role+name match further when the page
// contains decoys the plain role_name strategy can't tell apart (spec §4.3
// item 7, §8 disambiguation scenario): candidates nested under a role="tab"
// ancestor are dropped (a "Save" inside an inactive tab panel is not the
// primary action), and candidates whose aria-label/title reads as a
// close/remove/dismiss control are dropped even if their text matches.
func (e *Engine) byRoleNameDisambiguated(ctx context.Context, drv *driver.Driver, intent model.Intent) (string, float64, error) {
	if intent.Hints.Role == "" {
		return "", 0, nil
	}
	var idx int
	err := drv.Eval(ctx, fmt.Sprintf(`() => {
		const dismissWords = ['close', 'remove', 'dismiss'];
		const re = new RegExp(%q, 'i');
		const els = Array.from(document.querySelectorAll('[role="%s"]'));
		return els.findIndex(el => {
			const name = (el.getAttribute('aria-label') || el.textContent || '').trim();
			if (!re.test(name)) return false;
			if (el.closest('[role="tab"]')) return false;
			const labelText = ((el.getAttribute('aria-label') || '') + ' ' + (el.getAttribute('title') || '')).toLowerCase();
			if (dismissWords.some(w => labelText.includes(w))) return false;
			return true;
		});
	}`, regexpEscape(intent.Label), escapeAttr(intent.Hints.Role)), &idx)
	if err != nil {
		return "", 0, err
	}
	if idx < 0 {
		return "", 0, nil
	}
	return fmt.Sprintf(`[role="%s"]:nth-of-type(%d)`, intent.Hints.Role, idx+1), 0.7, nil
}

// healRoundRelaxedRole is the healer's round-1 reprobe (spec §4.6.B): the
// same case-insensitive name test as byRoleName, but over a wider element
// set (the hinted role, defaulting to "button", plus native button, a,
// input, select and textarea elements, with placeholder as a last name
// source), and fixed at the spec's round-1 confidence rather than decaying
// further.
func (e *Engine) healRoundRelaxedRole(ctx context.Context, drv *driver.Driver, intent model.Intent) (string, float64, error) {
	role := intent.Hints.Role
	if role == "" {
		role = "button"
	}
	var idx int
	err := drv.Eval(ctx, fmt.Sprintf(`() => {
		const els = Array.from(document.querySelectorAll('[role="%s"], button, a, input, select, textarea'));
		const re = new RegExp(%q, 'i');
		return els.findIndex(el => {
			const name = (el.getAttribute('aria-label') || el.textContent || el.getAttribute('placeholder') || '').trim();
			return re.test(name);
		});
	}`, escapeAttr(role), regexpEscape(intent.Label)), &idx)
	if err != nil {
		return "", 0, err
	}
	if idx < 0 {
		return "", 0, nil
	}
	return fmt.Sprintf(`:is([role="%s"], button, a, input, select, textarea):nth-of-type(%d)`, role, idx+1), 0.85, nil
}

// healRoundLabelOrPlaceholder is the healer's round-2 reprobe (spec §4.6.B):
// label_for, falling back to placeholder, both pinned to the spec's
// round-2 confidence regardless of which one hit.
func (e *Engine) healRoundLabelOrPlaceholder(ctx context.Context, drv *driver.Driver, intent model.Intent) (string, float64, error) {
	if selector, _, err := e.byLabelFor(ctx, drv, intent); err != nil {
		return "", 0, err
	} else if selector != "" {
		return selector, 0.88, nil
	}
	if selector, _, err := e.byPlaceholder(ctx, drv, intent); err != nil {
		return "", 0, err
	} else if selector != "" {
		return selector, 0.88, nil
	}
	return "", 0, nil
}

// healRoundHeuristicOrLastKnown is the healer's round-3 reprobe (spec
// §4.6.B): a loose id/class substring heuristic against the normalized
// label, falling back to the cached last-known-good selector if it still
// resolves to exactly one element.
func (e *Engine) healRoundHeuristicOrLastKnown(ctx context.Context, drv *driver.Driver, intent model.Intent, lastKnownSelector string) (string, float64, error) {
	token := heuristicToken(intent.Label)
	if token != "" {
		var found string
		err := drv.Eval(ctx, fmt.Sprintf(`() => {
			const token = %q;
			const els = Array.from(document.querySelectorAll('[id],[class]'));
			const hit = els.find(el => {
				const id = (el.id || '').toLowerCase();
				const cls = (el.className && el.className.toString ? el.className.toString() : '').toLowerCase();
				return id.includes(token) || cls.includes(token);
			});
			if (!hit) return '';
			return hit.id ? ('#' + hit.id) : '';
		}`, token), &found)
		if err != nil {
			return "", 0, err
		}
		if found != "" {
			return found, 0.70, nil
		}
	}
	if lastKnownSelector != "" {
		els, err := drv.Elements(ctx, lastKnownSelector)
		if err == nil && len(els) == 1 {
			return lastKnownSelector, 0.70, nil
		}
	}
	return "", 0, nil
}

// heuristicToken normalizes a label into an id/class-matchable token:
// lowercase, alphanumerics only.
func heuristicToken(label string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(label) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ResolveHealRound runs the healer's per-round reprobe ladder (spec §4.6.B),
// distinct from Resolve's normal strategy ladder: each heal round has one
// fixed strategy and confidence rather than walking the full tier list.
// lastKnownSelector feeds round 3's cache fallback.
func (e *Engine) ResolveHealRound(ctx context.Context, intent model.Intent, round int, lastKnownSelector string) (*model.Candidate, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.DiscoveryTotalTimeout())
	defer cancel()

	var selector string
	var confidence float64
	var strategy model.Strategy
	var err error

	switch round {
	case 1:
		selector, confidence, err = e.healRoundRelaxedRole(ctx, e.drv, intent)
		strategy = model.StrategyRoleName
	case 2:
		selector, confidence, err = e.healRoundLabelOrPlaceholder(ctx, e.drv, intent)
		strategy = model.StrategyLabelFor
	default:
		selector, confidence, err = e.healRoundHeuristicOrLastKnown(ctx, e.drv, intent, lastKnownSelector)
		strategy = model.StrategyAppSpecific
	}
	if err != nil {
		logging.Get(logging.CategoryDiscovery).Warn("heal round %d errored: %v", round, err)
		return nil, err
	}
	if selector == "" {
		return nil, nil
	}
	cand := &model.Candidate{Selector: selector, Confidence: confidence, Strategy: strategy, Stable: strategy.IsStable()}
	logging.Get(logging.CategoryDiscovery).Info("label=%q heal round=%d strategy=%s selector=%s confidence=%.2f", intent.Label, round, strategy, selector, confidence)
	return cand, nil
}

// byTextHas resolves by visible text content, the broadest and least stable
// strategy before region scoping.
func (e *Engine) byTextHas(ctx context.Context, drv *driver.Driver, intent model.Intent) (string, float64, error) {
	var found bool
	js := fmt.Sprintf(`() => !!Array.from(document.querySelectorAll('button,a,[role="button"]')).find(el => el.textContent.trim() === %q)`, intent.Label)
	if err := drv.Eval(ctx, js, &found); err != nil {
		return "", 0, err
	}
	if !found {
		return "", 0, nil
	}
	return fmt.Sprintf(`:is(button,a,[role="button"]):has-text-exact(%q)`, intent.Label), 0.6, nil
}

// byRegionScoped narrows by the Within-claimed region when a plain
// text/role match would otherwise be ambiguous across repeated UI sections
// (spec §8 disambiguation scenario, §4.3 region_scoped tier).
func (e *Engine) byRegionScoped(ctx context.Context, drv *driver.Driver, intent model.Intent) (string, float64, error) {
	if intent.Within == "" {
		return "", 0, nil
	}
	selector := fmt.Sprintf(`%s :is(button,a,[role="button"],input,select,textarea)`, intent.Within)
	els, err := drv.Elements(ctx, selector)
	if err != nil {
		return "", 0, err
	}
	if len(els) != 1 {
		return "", 0, nil
	}
	return selector, 0.55, nil
}

// byAppSpecific delegates to a host-supplied plugin, if any (spec §9).
func (e *Engine) byAppSpecific(ctx context.Context, drv *driver.Driver, intent model.Intent) (string, float64, error) {
	if e.appSpecific == nil {
		return "", 0, nil
	}
	return e.appSpecific(ctx, drv, intent)
}

func escapeAttr(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return s
}

// regexpEscapeChars are the characters regexpEscape backslash-escapes before
// a label is spliced into a JS `new RegExp(...)` construction.
const regexpEscapeChars = `\.*+?^${}()|[]`

// regexpEscape escapes label so it matches as a literal substring when
// passed to JS's RegExp constructor, the same way Go's regexp.QuoteMeta
// would for a Go regexp.
func regexpEscape(s string) string {
	var b strings.Builder
	for _, r := range s {
		if strings.ContainsRune(regexpEscapeChars, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
