// Package security classifies command lines before they are executed.
package security

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// Severity grades a risk.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Action is what a matching rule asks for.
type Action string

const (
	ActionBlock   Action = "block"
	ActionApprove Action = "approve"
	ActionWarn    Action = "warn"
)

type Risk struct {
	Severity    Severity `json:"severity"`
	Description string   `json:"description"`
	Blocking    bool     `json:"blocking"`
}

// Assessment is the gate's verdict for one command line.
type Assessment struct {
	Blocked          bool   `json:"blocked"`
	RequiresApproval bool   `json:"requiresApproval"`
	Risks            []Risk `json:"risks"`
}

// FirstBlocking returns the first risk that blocks execution.
func (a Assessment) FirstBlocking() (Risk, bool) {
	for _, r := range a.Risks {
		if r.Blocking {
			return r, true
		}
	}
	return Risk{}, false
}

// Analyzer classifies a fully interpolated command line.
type Analyzer interface {
	Analyze(commandLine string) Assessment
}

// Rule matches a command line by regular expression.
type Rule struct {
	ID            string   `toml:"id" yaml:"id"`
	Pattern       string   `toml:"pattern" yaml:"pattern"`
	Action        Action   `toml:"action" yaml:"action"`
	Severity      Severity `toml:"severity" yaml:"severity"`
	Description   string   `toml:"description" yaml:"description"`
	CaseSensitive bool     `toml:"case_sensitive" yaml:"case_sensitive"`
}

type compiledRule struct {
	rule    Rule
	pattern *regexp.Regexp
}

// RuleAnalyzer evaluates rules in order. Every matching rule contributes a
// risk; block rules set Blocked, approve rules set RequiresApproval.
type RuleAnalyzer struct {
	mu    sync.RWMutex
	rules []*compiledRule
}

// NewRuleAnalyzer compiles rules. It fails on the first invalid pattern.
func NewRuleAnalyzer(rules ...Rule) (*RuleAnalyzer, error) {
	a := &RuleAnalyzer{}
	for _, r := range rules {
		if err := a.Add(r); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// Default returns an analyzer loaded with DefaultRules.
func Default() *RuleAnalyzer {
	a, err := NewRuleAnalyzer(DefaultRules()...)
	if err != nil {
		panic(err)
	}
	return a
}

// Add compiles and appends a rule.
func (a *RuleAnalyzer) Add(r Rule) error {
	expr := r.Pattern
	if !r.CaseSensitive {
		expr = "(?i)" + expr
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return fmt.Errorf("security: rule %q: %w", r.ID, err)
	}
	if r.Action == "" {
		r.Action = ActionBlock
	}
	if r.Severity == "" {
		r.Severity = SeverityHigh
	}
	a.mu.Lock()
	a.rules = append(a.rules, &compiledRule{rule: r, pattern: re})
	a.mu.Unlock()
	return nil
}

func (a *RuleAnalyzer) Analyze(commandLine string) Assessment {
	out := Assessment{Risks: []Risk{}}
	line := strings.TrimSpace(commandLine)
	a.mu.RLock()
	defer a.mu.RUnlock()
	for _, cr := range a.rules {
		if !cr.pattern.MatchString(line) {
			continue
		}
		risk := Risk{Severity: cr.rule.Severity, Description: cr.rule.Description}
		switch cr.rule.Action {
		case ActionBlock:
			risk.Blocking = true
			out.Blocked = true
		case ActionApprove:
			out.RequiresApproval = true
		}
		out.Risks = append(out.Risks, risk)
	}
	return out
}

// AnalyzerFunc adapts a function to Analyzer.
type AnalyzerFunc func(commandLine string) Assessment

func (f AnalyzerFunc) Analyze(commandLine string) Assessment { return f(commandLine) }
