package memory

import (
	"fmt"
	"sort"
)

// IdentityKernel is the accumulated personality state of the agent. It is
// read by the consistency firewall and by every specialist prompt, and
// mutated only through consolidation. Pass it by value (via Clone) into pure
// evaluation paths so replay and tests can substitute arbitrary kernels.
type IdentityKernel struct {
	Traits             map[string]float64 `json:"traits"`
	CommunicationStyle string             `json:"communication_style"`
	LongTermGoals      []string           `json:"long_term_goals"`
	Values             []string           `json:"values"`
}

// NewIdentityKernel returns an empty kernel.
func NewIdentityKernel() *IdentityKernel {
	return &IdentityKernel{Traits: make(map[string]float64)}
}

// Clone returns a deep copy of the kernel.
func (k *IdentityKernel) Clone() *IdentityKernel {
	cp := &IdentityKernel{
		Traits:             make(map[string]float64, len(k.Traits)),
		CommunicationStyle: k.CommunicationStyle,
		LongTermGoals:      append([]string(nil), k.LongTermGoals...),
		Values:             append([]string(nil), k.Values...),
	}
	for name, score := range k.Traits {
		cp.Traits[name] = score
	}
	return cp
}

// ReinforceTrait nudges a trait score toward 1.0.
func (k *IdentityKernel) ReinforceTrait(name string, delta float64) {
	if k.Traits == nil {
		k.Traits = make(map[string]float64)
	}
	score := k.Traits[name] + delta
	if score > 1.0 {
		score = 1.0
	}
	if score < 0 {
		score = 0
	}
	k.Traits[name] = score
}

// AddGoal appends a long-term goal if not already present.
func (k *IdentityKernel) AddGoal(goal string) {
	for _, g := range k.LongTermGoals {
		if g == goal {
			return
		}
	}
	k.LongTermGoals = append(k.LongTermGoals, goal)
}

// TraitSummary renders trait scores as a stable, human-readable line.
func (k *IdentityKernel) TraitSummary() string {
	if len(k.Traits) == 0 {
		return "(no traits yet)"
	}
	names := make([]string, 0, len(k.Traits))
	for name := range k.Traits {
		names = append(names, name)
	}
	sort.Strings(names)

	out := ""
	for i, name := range names {
		if i > 0 {
			out += ", "
		}
		out += fmt.Sprintf("%s=%.2f", name, k.Traits[name])
	}
	return out
}

// Decision is the outcome of a consistency firewall evaluation.
type Decision struct {
	Accepted bool
	Reason   string // Populated on quarantine
}

// Accept returns an accepting decision.
func Accept() Decision {
	return Decision{Accepted: true}
}

// Quarantine returns a rejecting decision with the given reason.
func Quarantine(reason string) Decision {
	return Decision{Accepted: false, Reason: reason}
}

// Gate evaluates whether an entry may be written against the current
// identity. The evaluation must be pure in (identity, entry) so it can be
// re-run identically during replay.
type Gate interface {
	Evaluate(identity *IdentityKernel, entry *Entry) Decision
}

// QuarantineError is returned from Record when the firewall rejects a write.
// The attempted entry is discarded entirely: never stored, never logged.
type QuarantineError struct {
	Reason string
}

func (e *QuarantineError) Error() string {
	return fmt.Sprintf("entry quarantined by consistency firewall: %s", e.Reason)
}
