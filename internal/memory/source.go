package memory

import "strings"

// SourceKind is the machine-readable routing key encoded in an entry's source
// string. The serialized form stays a plain string for log compatibility;
// this type exists so components branch on a parsed value instead of
// scattering prefix checks.
type SourceKind int

const (
	SourceOther SourceKind = iota
	SourceSleep             // "sleep:..." - created by a consolidation pass
	SourceBelief            // "belief" - a live belief
	SourceBeliefRetracted   // "belief:retracted:<id>"
	SourceUserProfile       // "userprofile:<category>:<key>"
	SourceToolUse           // "tool-use:<name>"
	SourceFollowUp          // "follow-up" - pending follow-up item
)

// Provenance is the parsed view of a source string.
type Provenance struct {
	Kind SourceKind

	// Ref holds the retracted belief id for SourceBeliefRetracted and the
	// tool name for SourceToolUse.
	Ref string

	// Category and Key are set for SourceUserProfile.
	Category string
	Key      string
}

// ParseSource decodes the routing prefix of a source string.
func ParseSource(source string) Provenance {
	switch {
	case source == "belief":
		return Provenance{Kind: SourceBelief}
	case strings.HasPrefix(source, "belief:retracted:"):
		return Provenance{Kind: SourceBeliefRetracted, Ref: strings.TrimPrefix(source, "belief:retracted:")}
	case source == "follow-up":
		return Provenance{Kind: SourceFollowUp}
	case strings.HasPrefix(source, "sleep:"):
		return Provenance{Kind: SourceSleep, Ref: strings.TrimPrefix(source, "sleep:")}
	case strings.HasPrefix(source, "tool-use:"):
		return Provenance{Kind: SourceToolUse, Ref: strings.TrimPrefix(source, "tool-use:")}
	case strings.HasPrefix(source, "userprofile:"):
		rest := strings.TrimPrefix(source, "userprofile:")
		parts := strings.SplitN(rest, ":", 2)
		p := Provenance{Kind: SourceUserProfile, Category: parts[0]}
		if len(parts) == 2 {
			p.Key = parts[1]
		}
		return p
	default:
		return Provenance{Kind: SourceOther}
	}
}

// ProfileSource builds the canonical source string for a keyed profile update.
func ProfileSource(category, key string) string {
	return "userprofile:" + category + ":" + key
}

// SleepSource builds the canonical source string for an entry created by a
// consolidation pass.
func SleepSource(detail string) string {
	return "sleep:" + detail
}

// RetractedBeliefSource builds the source string marking a belief as
// retracted by a newer entry.
func RetractedBeliefSource(supersededID string) string {
	return "belief:retracted:" + supersededID
}
