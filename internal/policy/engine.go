package policy

import "time"

// Decision is the outcome of evaluating the policy against one execute call.
type Decision string

// Decisions, per spec section 4.1.
const (
	DecisionAllow   Decision = "allow"
	DecisionBlock   Decision = "block"
	DecisionConfirm Decision = "confirm"
)

// Result is the full answer to an Evaluate call.
type Result struct {
	Decision Decision
	Reason   string
	Token    string // set only when Decision == DecisionConfirm
}

// Visibility is the cheaper answer used by find_tools filtering.
type Visibility struct {
	Visible              bool
	RequiresConfirmation bool
}

// CompiledPolicy is a SecurityPolicy after one-time anchored,
// case-insensitive pattern compilation.
type CompiledPolicy struct {
	Allow   []Pattern
	Block   []Pattern
	Confirm []Pattern
}

// Compile validates and compiles raw allow/block/confirm pattern lists.
func Compile(allow, block, confirm []string) (CompiledPolicy, error) {
	var cp CompiledPolicy
	var err error
	if cp.Allow, err = CompileAll("allow", allow); err != nil {
		return CompiledPolicy{}, err
	}
	if cp.Block, err = CompileAll("block", block); err != nil {
		return CompiledPolicy{}, err
	}
	if cp.Confirm, err = CompileAll("confirm", confirm); err != nil {
		return CompiledPolicy{}, err
	}
	return cp, nil
}

// Engine evaluates a CompiledPolicy against execute calls, minting and
// validating confirmation tokens through its ConfirmationStore.
type Engine struct {
	policy  CompiledPolicy
	confirm *ConfirmationStore
}

// NewEngine builds an Engine with the default token lifetime.
func NewEngine(p CompiledPolicy) *Engine {
	return &Engine{policy: p, confirm: NewConfirmationStore(DefaultTokenLifetime, time.Now)}
}

// NewEngineWithStore builds an Engine against a caller-supplied
// ConfirmationStore, letting tests inject a clock and custom lifetime.
func NewEngineWithStore(p CompiledPolicy, store *ConfirmationStore) *Engine {
	return &Engine{policy: p, confirm: store}
}

// SetPolicy swaps in a newly compiled policy (e.g. after a config reload),
// leaving any in-flight confirmation tokens untouched.
func (e *Engine) SetPolicy(p CompiledPolicy) { e.policy = p }

// Evaluate implements the fixed-priority decision algorithm from spec
// section 4.1: block overrides a live confirmation token, which overrides
// a fresh confirm match, which overrides allow, which falls through to a
// default block.
func (e *Engine) Evaluate(upstreamKey, toolName, token string) Result {
	bare := NormalizeToolName(upstreamKey, toolName)

	if AnyMatches(e.policy.Block, upstreamKey, bare) {
		return Result{Decision: DecisionBlock, Reason: "blocked by security policy"}
	}

	if token != "" && e.confirm.Validate(token, upstreamKey, bare) {
		return Result{Decision: DecisionAllow, Reason: "confirmed"}
	}

	if AnyMatches(e.policy.Confirm, upstreamKey, bare) {
		t := e.confirm.Mint(upstreamKey, bare)
		return Result{Decision: DecisionConfirm, Reason: "requires confirmation", Token: t}
	}

	if AnyMatches(e.policy.Allow, upstreamKey, bare) {
		return Result{Decision: DecisionAllow, Reason: "allowed"}
	}

	return Result{Decision: DecisionBlock, Reason: "not in allow list"}
}

// VisibilityOf answers the cheaper query used by find_tools filtering: is
// the tool visible at all (i.e. not blocked), and does invoking it require
// confirmation.
func (e *Engine) VisibilityOf(upstreamKey, toolName string) Visibility {
	bare := NormalizeToolName(upstreamKey, toolName)
	if AnyMatches(e.policy.Block, upstreamKey, bare) {
		return Visibility{Visible: false}
	}
	if AnyMatches(e.policy.Confirm, upstreamKey, bare) {
		return Visibility{Visible: true, RequiresConfirmation: true}
	}
	if AnyMatches(e.policy.Allow, upstreamKey, bare) {
		return Visibility{Visible: true}
	}
	return Visibility{Visible: false}
}

// ClearConfirmations resets all live confirmation tokens, mirroring
// clear_selection_cache's reset of co-occurrence counters, and returns the
// number of tokens that were live.
func (e *Engine) ClearConfirmations() int {
	return e.confirm.Clear()
}
