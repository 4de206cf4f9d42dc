package permission

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// staticMode is a fixed ModeSource for tests
type staticMode Mode

func (m staticMode) Mode() Mode { return Mode(m) }

// ruleCase enumerates the rule-set situations the policy table covers
type ruleCase struct {
	name  string
	rules []Rule
}

func ruleCases() []ruleCase {
	return []ruleCase{
		{name: "no rule", rules: nil},
		{name: "allow rule", rules: []Rule{{Pattern: "bash", Decision: DecisionAllow}}},
		{name: "deny rule", rules: []Rule{{Pattern: "bash", Decision: DecisionDeny}}},
		{name: "wildcard allow rule", rules: []Rule{{Pattern: "ba*", Decision: DecisionAllow}}},
		{name: "wildcard deny rule", rules: []Rule{{Pattern: "ba*", Decision: DecisionDeny}}},
	}
}

// ruleDecision returns the decision of the matched rule, if any
func ruleDecision(rules []Rule) (Decision, bool) {
	if len(rules) == 0 {
		return "", false
	}
	return rules[0].Decision, true
}

// TestEngine_Evaluate_Table exhaustively checks the policy table for
// every mode against every rule-set situation. The evaluated tool is
// "bash" so both exact and wildcard rules apply to it.
func TestEngine_Evaluate_Table(t *testing.T) {
	for _, mode := range ValidModes {
		for _, rc := range ruleCases() {
			t.Run(string(mode)+"/"+rc.name, func(t *testing.T) {
				engine := NewEngine(staticMode(mode), NewRuleSet(rc.rules...))
				got := engine.Evaluate("bash")

				matched, hasRule := ruleDecision(rc.rules)

				var want Decision
				switch mode {
				case ModeBypass:
					want = DecisionAllow
				case ModePlan:
					want = DecisionDeny
				case ModePromptOnce:
					if hasRule {
						want = matched
					} else {
						want = DecisionDeny
					}
				case ModeInteractive:
					if hasRule {
						want = matched
					} else {
						want = DecisionUndecided
					}
				case ModeAcceptEdits:
					// "bash" is not an edit-class tool.
					if hasRule {
						want = matched
					} else {
						want = DecisionUndecided
					}
				}

				assert.Equal(t, want, got)
			})
		}
	}
}

// TestEngine_Evaluate_Scenarios pins down the documented behaviors
func TestEngine_Evaluate_Scenarios(t *testing.T) {
	t.Run("bypass allows anything", func(t *testing.T) {
		engine := NewEngine(staticMode(ModeBypass), NewRuleSet())
		assert.Equal(t, DecisionAllow, engine.Evaluate("anything"))
	})

	t.Run("plan denies bash", func(t *testing.T) {
		engine := NewEngine(staticMode(ModePlan), NewRuleSet())
		assert.Equal(t, DecisionDeny, engine.Evaluate("bash"))
	})

	t.Run("interactive with no rules is undecided for edit", func(t *testing.T) {
		engine := NewEngine(staticMode(ModeInteractive), NewRuleSet())
		assert.Equal(t, DecisionUndecided, engine.Evaluate("edit"))
	})

	t.Run("accept-edits allows Edit case variant", func(t *testing.T) {
		engine := NewEngine(staticMode(ModeAcceptEdits), NewRuleSet())
		assert.Equal(t, DecisionAllow, engine.Evaluate("Edit"))
	})

	t.Run("accept-edits allows the whole edit class", func(t *testing.T) {
		engine := NewEngine(staticMode(ModeAcceptEdits), NewRuleSet())
		for _, tool := range []string{"edit", "write", "WRITE", "notebook-edit", "Notebook-Edit"} {
			assert.Equal(t, DecisionAllow, engine.Evaluate(tool), tool)
		}
	})

	t.Run("accept-edits does not widen the edit class", func(t *testing.T) {
		engine := NewEngine(staticMode(ModeAcceptEdits), NewRuleSet())
		assert.Equal(t, DecisionUndecided, engine.Evaluate("editor"))
		assert.Equal(t, DecisionUndecided, engine.Evaluate("bash"))
	})

	t.Run("mode is read at evaluation time", func(t *testing.T) {
		store := &switchableMode{mode: ModeBypass}
		engine := NewEngine(store, NewRuleSet())

		assert.Equal(t, DecisionAllow, engine.Evaluate("bash"))

		store.mode = ModePlan
		assert.Equal(t, DecisionDeny, engine.Evaluate("bash"))
	})

	t.Run("unknown mode denies", func(t *testing.T) {
		engine := NewEngine(staticMode("nonsense"), NewRuleSet())
		assert.Equal(t, DecisionDeny, engine.Evaluate("bash"))
	})
}

// switchableMode lets a test flip the mode between evaluations
type switchableMode struct {
	mode Mode
}

func (s *switchableMode) Mode() Mode { return s.mode }
