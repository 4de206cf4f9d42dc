package permission

import (
	"github.com/rs/zerolog/log"
)

// ModeSource supplies the current permission mode. The engine reads it
// on every evaluation; the value is never cached across calls.
type ModeSource interface {
	Mode() Mode
}

// Engine evaluates whether a named tool may run under the current mode
// and rule set.
type Engine struct {
	modes ModeSource
	rules *RuleSet
}

// NewEngine creates an engine bound to a mode source and shared rule set
func NewEngine(modes ModeSource, rules *RuleSet) *Engine {
	return &Engine{modes: modes, rules: rules}
}

// Rules returns the shared rule set
func (e *Engine) Rules() *RuleSet {
	return e.rules
}

// Evaluate decides whether the tool may run. The result is undecided
// only when the mode defers unmatched tools to an external approval.
func (e *Engine) Evaluate(tool string) Decision {
	mode := e.modes.Mode()
	decision := e.evaluate(tool, mode)

	log.Debug().
		Str("tool", tool).
		Str("mode", string(mode)).
		Str("decision", string(decision)).
		Msg("Permission evaluated")

	return decision
}

func (e *Engine) evaluate(tool string, mode Mode) Decision {
	switch mode {
	case ModeBypass:
		return DecisionAllow

	case ModePlan:
		return DecisionDeny

	case ModePromptOnce:
		if rule, ok := e.rules.Match(tool); ok {
			return rule.Decision
		}
		return DecisionDeny

	case ModeInteractive:
		if rule, ok := e.rules.Match(tool); ok {
			return rule.Decision
		}
		return DecisionUndecided

	case ModeAcceptEdits:
		if IsEditTool(tool) {
			return DecisionAllow
		}
		if rule, ok := e.rules.Match(tool); ok {
			return rule.Decision
		}
		return DecisionUndecided

	default:
		// Unknown modes never grant access.
		return DecisionDeny
	}
}
