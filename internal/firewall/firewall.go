// Package firewall implements the consistency firewall that gatekeeps every
// write destined for durable memory. Evaluation is pure in (identity, entry)
// so the same decision can be recomputed identically during event log replay.
package firewall

import (
	"strings"

	"engramd/internal/logging"
	"engramd/internal/memory"
)

// Rule is one named check. A rule returns a non-empty reason to quarantine
// the entry, or "" to pass. Rules must not mutate the identity or the entry.
type Rule struct {
	Name  string
	Check func(identity *memory.IdentityKernel, entry *memory.Entry) string
}

// Firewall evaluates entries against an ordered rule set. The rule set is
// policy, not code: callers may extend or replace it.
type Firewall struct {
	rules []Rule
}

// New returns a firewall with the default rule set.
func New() *Firewall {
	return &Firewall{rules: DefaultRules()}
}

// NewWithRules returns a firewall with a custom rule set.
func NewWithRules(rules []Rule) *Firewall {
	return &Firewall{rules: rules}
}

// AddRule appends a rule to the evaluation order.
func (f *Firewall) AddRule(r Rule) {
	f.rules = append(f.rules, r)
}

// Rules returns the active rule names, in evaluation order.
func (f *Firewall) Rules() []string {
	names := make([]string, len(f.rules))
	for i, r := range f.rules {
		names[i] = r.Name
	}
	return names
}

// Evaluate runs every rule against the entry. The first failing rule
// quarantines the write; the entry is then neither stored nor logged.
// The check applies to any tier, though only Core-bound entries are expected
// to trigger rejection in practice.
func (f *Firewall) Evaluate(identity *memory.IdentityKernel, entry *memory.Entry) memory.Decision {
	for _, rule := range f.rules {
		if reason := rule.Check(identity, entry); reason != "" {
			logging.Firewall("quarantined %s-tier entry (rule %s): %s", entry.Tier, rule.Name, reason)
			return memory.Quarantine(rule.Name + ": " + reason)
		}
	}
	return memory.Accept()
}

// deceptionPhrases are directive fragments that encode deceiving the user.
// Matched case-insensitively against content and tags.
var deceptionPhrases = []string{
	"deceive the user",
	"lie to the user",
	"mislead the user",
	"hide this from the user",
	"don't tell the user",
	"do not tell the user",
	"manipulate the user",
	"pretend to the user",
}

// overridePhrases are instructions that attempt to rewrite the agent's
// identity wholesale rather than evolve it through consolidation.
var overridePhrases = []string{
	"ignore your values",
	"disregard your values",
	"forget your goals",
	"abandon your goals",
	"you have no identity",
	"override your personality",
	"ignore all previous instructions",
}

// DefaultRules returns the baseline policy: reject deception-of-user
// directives and identity-override instructions.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name: "no-user-deception",
			Check: func(identity *memory.IdentityKernel, entry *memory.Entry) string {
				lowered := strings.ToLower(entry.Content)
				for _, phrase := range deceptionPhrases {
					if strings.Contains(lowered, phrase) {
						return "content encodes a deception-of-user directive"
					}
				}
				for _, tag := range entry.Tags {
					if strings.EqualFold(tag, "deception") {
						return "entry is tagged as deceptive"
					}
				}
				return ""
			},
		},
		{
			Name: "no-identity-override",
			Check: func(identity *memory.IdentityKernel, entry *memory.Entry) string {
				lowered := strings.ToLower(entry.Content)
				for _, phrase := range overridePhrases {
					if strings.Contains(lowered, phrase) {
						return "content attempts to override identity state"
					}
				}
				return ""
			},
		},
		{
			Name: "no-value-contradiction",
			Check: func(identity *memory.IdentityKernel, entry *memory.Entry) string {
				if identity == nil || !entry.HasTag("identity") {
					return ""
				}
				lowered := strings.ToLower(entry.Content)
				for _, value := range identity.Values {
					v := strings.ToLower(strings.TrimSpace(value))
					if v == "" {
						continue
					}
					if strings.Contains(lowered, "reject "+v) || strings.Contains(lowered, "abandon "+v) {
						return "identity-tagged entry contradicts held value " + value
					}
				}
				return ""
			},
		},
	}
}
