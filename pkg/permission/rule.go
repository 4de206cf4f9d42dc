package permission

import (
	"fmt"
	"strings"
	"sync"
)

// WildcardSuffix marks a rule pattern as a prefix match
const WildcardSuffix = "*"

// Rule is a persisted allow/deny decision keyed by tool-name pattern.
// A pattern matches by exact equality, or by prefix when it ends in
// the wildcard marker.
type Rule struct {
	Pattern  string   `json:"pattern"`
	Decision Decision `json:"decision"`
}

// Validate checks the rule is well formed
func (r Rule) Validate() error {
	if r.Pattern == "" {
		return ErrEmptyPattern
	}
	if r.Decision != DecisionAllow && r.Decision != DecisionDeny {
		return fmt.Errorf("%w: %s", ErrInvalidDecision, r.Decision)
	}
	return nil
}

// matches reports whether the rule applies to the tool, and the length
// of the matched prefix for wildcard specificity ranking.
func (r Rule) matches(tool string) (exact bool, prefixLen int, ok bool) {
	if r.Pattern == tool {
		return true, len(r.Pattern), true
	}
	if strings.HasSuffix(r.Pattern, WildcardSuffix) {
		prefix := strings.TrimSuffix(r.Pattern, WildcardSuffix)
		if strings.HasPrefix(tool, prefix) {
			return false, len(prefix), true
		}
	}
	return false, 0, false
}

// RuleSet is the ordered rule collection shared by every agent in a
// session. A single lock guards writers; match order is deterministic:
// exact match first, then the longest wildcard prefix, insertion order
// breaking ties.
type RuleSet struct {
	rules []Rule
	mu    sync.RWMutex
}

// NewRuleSet creates an empty rule set
func NewRuleSet(rules ...Rule) *RuleSet {
	rs := &RuleSet{}
	rs.rules = append(rs.rules, rules...)
	return rs
}

// Add appends a rule to the set
func (rs *RuleSet) Add(rule Rule) error {
	if err := rule.Validate(); err != nil {
		return err
	}

	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.rules = append(rs.rules, rule)
	return nil
}

// Remove deletes every rule with the given pattern
func (rs *RuleSet) Remove(pattern string) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	kept := rs.rules[:0]
	removed := false
	for _, r := range rs.rules {
		if r.Pattern == pattern {
			removed = true
			continue
		}
		kept = append(kept, r)
	}
	rs.rules = kept

	if !removed {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, pattern)
	}
	return nil
}

// Replace swaps the entire rule set, preserving the given order
func (rs *RuleSet) Replace(rules []Rule) error {
	for _, r := range rules {
		if err := r.Validate(); err != nil {
			return err
		}
	}

	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.rules = append([]Rule(nil), rules...)
	return nil
}

// List returns the rules in insertion order
func (rs *RuleSet) List() []Rule {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	out := make([]Rule, len(rs.rules))
	copy(out, rs.rules)
	return out
}

// Len returns the number of rules
func (rs *RuleSet) Len() int {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return len(rs.rules)
}

// Match finds the rule that governs the tool name. Exact matches beat
// wildcard matches; among wildcard matches the longest prefix wins;
// remaining ties go to the earliest inserted rule.
func (rs *RuleSet) Match(tool string) (Rule, bool) {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	var best Rule
	bestLen := -1
	found := false

	for _, r := range rs.rules {
		exact, prefixLen, ok := r.matches(tool)
		if !ok {
			continue
		}
		if exact {
			return r, true
		}
		if prefixLen > bestLen {
			best = r
			bestLen = prefixLen
			found = true
		}
	}

	return best, found
}
