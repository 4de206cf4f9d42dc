// Package permission gates tool execution behind a session-wide mode
// and a persisted rule set.
//
// Evaluation is deterministic: the mode is read at call time, rules are
// matched exact-first then longest-wildcard-prefix, and the result is
// allow, deny, or undecided. Undecided results are settled by an
// external approval decision delivered through the Broker.
package permission

import "strings"

// Mode is the session-scoped policy controlling how tool use is gated
type Mode string

const (
	// ModeBypass allows every tool without consultation
	ModeBypass Mode = "bypass"

	// ModePlan denies every tool; the agent may only plan
	ModePlan Mode = "plan"

	// ModePromptOnce consults rules and denies anything unmatched
	ModePromptOnce Mode = "prompt_once"

	// ModeInteractive consults rules and defers anything unmatched to
	// an external approval decision
	ModeInteractive Mode = "interactive"

	// ModeAcceptEdits allows edit-class tools outright and treats
	// everything else like ModeInteractive
	ModeAcceptEdits Mode = "accept_edits"
)

// ValidModes lists every recognized mode
var ValidModes = []Mode{ModeBypass, ModePlan, ModePromptOnce, ModeInteractive, ModeAcceptEdits}

// Valid reports whether the mode is recognized
func (m Mode) Valid() bool {
	for _, v := range ValidModes {
		if m == v {
			return true
		}
	}
	return false
}

// Decision is the outcome of a permission evaluation
type Decision string

const (
	DecisionAllow     Decision = "allow"
	DecisionDeny      Decision = "deny"
	DecisionUndecided Decision = "undecided"
)

// editClassTools is the closed set of tools ModeAcceptEdits short-circuits.
var editClassTools = []string{"edit", "write", "notebook-edit"}

// IsEditTool reports whether the tool name belongs to the edit class.
// Matching is case-insensitive.
func IsEditTool(tool string) bool {
	for _, t := range editClassTools {
		if strings.EqualFold(tool, t) {
			return true
		}
	}
	return false
}
