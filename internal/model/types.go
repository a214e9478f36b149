// Package model defines the shared data types that flow between the
// discovery, gate, executor, healer, and coordinator packages: the Step the
// caller provides, the Intent the planner normalizes it into, the Candidate
// discovery produces, and the RunState the coordinator owns end to end.
package model

import "time"

// Action is the set of interactions a Step may request.
type Action string

const (
	ActionClick    Action = "click"
	ActionFill     Action = "fill"
	ActionType     Action = "type"
	ActionPress    Action = "press"
	ActionSelect   Action = "select"
	ActionCheck    Action = "check"
	ActionUncheck  Action = "uncheck"
	ActionHover    Action = "hover"
	ActionFocus    Action = "focus"
	ActionWait     Action = "wait"
)

// Strategy names a discovery method, in precedence order when listed as a
// tier list. Entries are data, not code paths, per the strategy-ladder
// design note: operators may reorder the ladder via LABEL_FIRST_DISCOVERY
// without touching discovery.Engine's pipeline logic.
type Strategy string

const (
	StrategyCached                Strategy = "cached"
	StrategyAriaLabel             Strategy = "aria_label"
	StrategyNameAttr              Strategy = "name_attr"
	StrategyPlaceholder           Strategy = "placeholder"
	StrategyLabelFor              Strategy = "label_for"
	StrategyRoleName              Strategy = "role_name"
	StrategyRoleNameDisambiguated Strategy = "role_name_disambiguated"
	StrategyTextHas               Strategy = "text_has"
	StrategyRegionScoped          Strategy = "region_scoped"
	StrategyAppSpecific           Strategy = "app_specific"
)

// stableStrategies are the strategies whose identifier is intrinsic to the
// element's semantics rather than incidental. See spec §3 "stable = strategy
// ∈ {aria_label, name_attr, placeholder, role_name}".
var stableStrategies = map[Strategy]bool{
	StrategyAriaLabel:   true,
	StrategyNameAttr:    true,
	StrategyPlaceholder: true,
	StrategyRoleName:    true,
}

// IsStable reports whether selectors produced by this strategy are stable.
func (s Strategy) IsStable() bool {
	return stableStrategies[s]
}

// FailureKind enumerates the taxonomy a failed step or run maps to.
type FailureKind string

const (
	FailureNone           FailureKind = ""
	FailureNotUnique      FailureKind = "NotUnique"
	FailureNotVisible     FailureKind = "NotVisible"
	FailureNotEnabled     FailureKind = "NotEnabled"
	FailureUnstable       FailureKind = "Unstable"
	FailureNotScoped      FailureKind = "NotScoped"
	FailureTimeout        FailureKind = "Timeout"
	FailureDiscoveryNone  FailureKind = "DiscoveryNone"
	FailureBlocked        FailureKind = "Blocked"
	FailureWaitForHuman   FailureKind = "WaitForHuman"
	FailureCancelled      FailureKind = "Cancelled"
)

// Healable reports whether the Coordinator should route this failure into
// the Healer, per spec §4.6's entry condition.
func (f FailureKind) Healable() bool {
	switch f {
	case FailureNotVisible, FailureNotEnabled, FailureUnstable, FailureNotUnique, FailureTimeout, FailureDiscoveryNone:
		return true
	default:
		return false
	}
}

// Verdict is the terminal outcome of a run.
type Verdict string

const (
	VerdictPass    Verdict = "Pass"
	VerdictFail    Verdict = "Fail"
	VerdictBlocked Verdict = "Blocked"
)

// Step is the caller-supplied input: one line of a requirement file already
// reduced to a structured instruction (spec §3 Step, §6 requirement file).
type Step struct {
	Label      string `json:"label"`
	Action     Action `json:"action"`
	Value      string `json:"value,omitempty"`
	Expected   string `json:"expected,omitempty"`
	Within     string `json:"within,omitempty"`
	TestCaseID string `json:"test_case_id,omitempty"`
}

// Hints carries Planner-derived guidance for discovery.
type Hints struct {
	Role      string     `json:"role,omitempty"`
	TierOrder []Strategy `json:"tier_order,omitempty"`
}

// Intent is the normalized, append-only form of a Step once accepted by the
// Coordinator (spec §3 Intent). Discovery consumes Intents, never Steps.
type Intent struct {
	Step
	Hints Hints `json:"hints,omitempty"`

	// Selector is the last selector healing (or discovery) bound to this
	// Intent; set by the Coordinator after a successful gate pass.
	Selector string `json:"selector,omitempty"`
}

// Candidate is one Discovery proposal for an Intent (spec §3 Candidate).
type Candidate struct {
	Selector   string                 `json:"selector"`
	Confidence float64                `json:"confidence"`
	Strategy   Strategy               `json:"strategy"`
	Stable     bool                   `json:"stable"`
	Meta       map[string]interface{} `json:"meta,omitempty"`
}

// CacheKey identifies a cache entry: hash(origin, normalize(label), optional
// context). See spec §4.4.
type CacheKey string

// CacheEntry is one row of the dual-layer selector cache (spec §3).
type CacheEntry struct {
	Key         CacheKey  `json:"key"`
	Selector    string    `json:"selector"`
	Strategy    Strategy  `json:"strategy"`
	Stable      bool      `json:"stable"`
	Confidence  float64   `json:"confidence"`
	Hits        int       `json:"hits"`
	Misses      int       `json:"misses"`
	CreatedAt   time.Time `json:"created_at"`
	LastUsedAt  time.Time `json:"last_used_at"`
	ContextHash string    `json:"context_hash,omitempty"`
}

// HealEvent records one healing attempt (spec §3 HealEvent). HealEvents are
// appended by whole-list reassignment: the Healer returns an extended slice
// and the Coordinator installs it, so observers watching RunState by
// reference always see the append (§9 design note).
type HealEvent struct {
	Round        int                    `json:"round"`
	StepIdx      int                    `json:"step_idx"`
	FailureKind  FailureKind            `json:"failure_kind"`
	Actions      []string               `json:"actions"`
	OldSelector  string                 `json:"old_selector,omitempty"`
	NewSelector  string                 `json:"new_selector,omitempty"`
	GateResult   map[string]interface{} `json:"gate_result,omitempty"`
	Success      bool                   `json:"success"`
	DurationMS   int64                  `json:"duration_ms"`
}

// ExecutedStep records one successfully completed step.
type ExecutedStep struct {
	StepIdx     int       `json:"step_idx"`
	Label       string    `json:"label"`
	Action      Action    `json:"action"`
	Selector    string    `json:"selector"`
	Strategy    Strategy  `json:"strategy"`
	Screenshot  string    `json:"screenshot,omitempty"`
	CompletedAt time.Time `json:"completed_at"`
}

// RunContext is the live-browser-facing slice of RunState.
type RunContext struct {
	URL              string         `json:"url"`
	StorageStatePath string         `json:"storage_state_path,omitempty"`
	ExecutedSteps    []ExecutedStep `json:"executed_steps"`
}

// RunState is the single piece of mutable state the Coordinator owns
// exclusively (spec §3 RunState, §4.8 ownership). Other components return
// proposed mutations (new Candidate, extended HealEvent slice, ...); only
// the Coordinator writes them back.
type RunState struct {
	ReqID     string  `json:"req_id"`
	StepIdx   int     `json:"step_idx"`
	HealRound int     `json:"heal_round"`
	Plan      []Intent `json:"plan"`

	Verdict Verdict     `json:"verdict,omitempty"`
	Failure FailureKind `json:"failure"`

	HealEvents []HealEvent `json:"heal_events"`

	LastSelector string `json:"last_selector,omitempty"`
	RCADetail    string `json:"rca_detail,omitempty"`

	RequiresHuman bool   `json:"requires_human,omitempty"`
	HumanInput    string `json:"human_input,omitempty"`

	Context RunContext `json:"context"`

	// BlockedSignature records the detected anti-bot pattern when
	// Failure == FailureBlocked (spec §7).
	BlockedSignature string `json:"blocked_signature,omitempty"`

	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at,omitempty"`

	sessionStateCaptured bool
}

// NewRunState creates the initial state for a plan (spec §8: zero steps
// means an immediate Pass, decided in the Coordinator's PLAN phase before
// EXEC is entered).
func NewRunState(reqID string, plan []Intent, startURL string) *RunState {
	return &RunState{
		ReqID:     reqID,
		Plan:      plan,
		Failure:   FailureNone,
		StartedAt: time.Now(),
		Context:   RunContext{URL: startURL, ExecutedSteps: make([]ExecutedStep, 0, len(plan))},
	}
}

// Done reports whether every step in the plan has executed successfully.
func (r *RunState) Done() bool {
	return r.StepIdx >= len(r.Plan)
}

// CurrentIntent returns the intent the executor should act on next, or
// false if the plan is exhausted.
func (r *RunState) CurrentIntent() (Intent, bool) {
	if r.StepIdx < 0 || r.StepIdx >= len(r.Plan) {
		return Intent{}, false
	}
	return r.Plan[r.StepIdx], true
}

// SessionStateCaptured reports whether the once-per-run HITL session
// snapshot has already been taken (spec §3 invariant).
func (r *RunState) SessionStateCaptured() bool {
	return r.sessionStateCaptured
}

// MarkSessionStateCaptured records that the snapshot was taken.
func (r *RunState) MarkSessionStateCaptured() {
	r.sessionStateCaptured = true
}
