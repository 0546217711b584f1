// Package policy turns configured rules into an ordered, immutable RuleSet
// and decides which suspend delay applies to a process.
// Rules are evaluated in their declared order; the first match wins.
package policy

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gobwas/glob"

	"github.com/eliteGoblin/focusd/app_freeze/internal/domain"
)

// compiledRule pairs a rule with its compiled glob. For glob rules a nil
// matcher means the pattern did not compile and the rule never matches.
type compiledRule struct {
	rule    domain.Rule
	matcher glob.Glob
	err     error
}

// RuleSet is an ordered, read-only collection of rules.
// It is never mutated after construction; reloads build a new one.
type RuleSet struct {
	rules []compiledRule
}

// NewRuleSet compiles rules, preserving their order.
// Negative delays are replaced by domain.DefaultDelay.
func NewRuleSet(rules []domain.Rule) *RuleSet {
	rs := &RuleSet{rules: make([]compiledRule, 0, len(rules))}
	for _, r := range rules {
		r.Delay = NormalizeDelay(r.Delay)
		cr := compiledRule{rule: r}
		if r.Kind == domain.MatchGlob {
			cr.matcher, cr.err = compileGlob(r.Target)
		}
		rs.rules = append(rs.rules, cr)
	}
	return rs
}

// Empty returns a RuleSet that matches nothing.
func Empty() *RuleSet {
	return &RuleSet{}
}

// NormalizeDelay enforces delay >= 0, substituting the default otherwise.
func NormalizeDelay(d time.Duration) time.Duration {
	if d < 0 {
		return domain.DefaultDelay
	}
	return d
}

// compileGlob compiles a case-insensitive display-name pattern in which '*'
// is the only wildcard. Every other character, '?', '[', '{' and '.'
// included, matches itself.
func compileGlob(pattern string) (glob.Glob, error) {
	parts := strings.Split(strings.ToLower(pattern), "*")
	for i, p := range parts {
		parts[i] = glob.QuoteMeta(p)
	}
	g, err := glob.Compile(strings.Join(parts, "*"))
	if err != nil {
		return nil, fmt.Errorf("invalid glob %q: %w", pattern, err)
	}
	return g, nil
}

// Len returns the number of rules, including ones whose pattern failed to compile.
func (rs *RuleSet) Len() int {
	if rs == nil {
		return 0
	}
	return len(rs.rules)
}

// Rules returns a copy of the rules in evaluation order.
func (rs *RuleSet) Rules() []domain.Rule {
	if rs == nil {
		return nil
	}
	out := make([]domain.Rule, len(rs.rules))
	for i, cr := range rs.rules {
		out[i] = cr.rule
	}
	return out
}

// Errors returns the compile error of every rule that can never match.
func (rs *RuleSet) Errors() []error {
	if rs == nil {
		return nil
	}
	var errs []error
	for _, cr := range rs.rules {
		if cr.err != nil {
			errs = append(errs, cr.err)
		}
	}
	return errs
}

// Match returns the first rule applicable to a process.
func (rs *RuleSet) Match(bundleID, displayName string) (domain.Rule, bool) {
	if rs == nil {
		return domain.Rule{}, false
	}
	lowerName := strings.ToLower(displayName)
	for _, cr := range rs.rules {
		if cr.matches(bundleID, lowerName) {
			return cr.rule, true
		}
	}
	return domain.Rule{}, false
}

func (cr compiledRule) matches(bundleID, lowerName string) bool {
	switch cr.rule.Kind {
	case domain.MatchExactID:
		return bundleID != "" && cr.rule.Target == bundleID
	case domain.MatchGlob:
		return cr.matcher != nil && cr.matcher.Match(lowerName)
	default:
		return false
	}
}

// Matcher looks up the delay for a process in a RuleSet.
// It is the functional form of RuleSet.Match.
func Matcher(rs *RuleSet, bundleID, displayName string) (time.Duration, bool) {
	r, ok := rs.Match(bundleID, displayName)
	if !ok {
		return 0, false
	}
	return r.Delay, true
}

// Store holds the current RuleSet. Readers always observe a complete snapshot.
type Store struct {
	current atomic.Pointer[RuleSet]
}

// NewStore creates a store seeded with rs (or an empty set when rs is nil).
func NewStore(rs *RuleSet) *Store {
	s := &Store{}
	if rs == nil {
		rs = Empty()
	}
	s.current.Store(rs)
	return s
}

// Load returns the current snapshot.
func (s *Store) Load() *RuleSet {
	return s.current.Load()
}

// Swap installs rs and returns the previous snapshot.
func (s *Store) Swap(rs *RuleSet) *RuleSet {
	if rs == nil {
		rs = Empty()
	}
	return s.current.Swap(rs)
}
