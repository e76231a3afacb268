package sleep

import (
	"fmt"
	"strings"

	"engramd/internal/memory"
)

// =============================================================================
// SPECIALIST ROLES
// =============================================================================

// Role is one of the four fixed analytical roles used in multi-agent
// consolidation.
type Role string

const (
	RoleArchivist    Role = "Archivist"
	RolePsychologist Role = "Psychologist"
	RoleStrategist   Role = "Strategist"
	RoleCritic       Role = "Critic"
)

// AllRoles in deliberation order.
var AllRoles = []Role{RoleArchivist, RolePsychologist, RoleStrategist, RoleCritic}

// roleCharters describe each specialist's assigned concern. Fields
// outside the concern are answered NONE.
var roleCharters = map[Role]string{
	RoleArchivist: `You are the Archivist. Your concern is factual hygiene:
durable facts learned about the user (LEARNED_FACTS), keyed profile
updates (PROFILE_UPDATES), tool-usage insights (TOOL_INSIGHTS), tier
promotions for entries filed too low (TIER_PROMOTIONS), and free-form
new memories worth keeping (NEW_MEMORIES). Answer NONE for every other
field.`,
	RolePsychologist: `You are the Psychologist. Your concern is the emotional
and relational layer: reflections worth keeping (REFLECTIONS),
relationship milestones (MILESTONES), valence corrections for entries
whose emotional weight is wrong (VALENCE_CORRECTIONS), communication
style observations (COMM_STYLE), and which personality trait this
period most reinforced (PERSONALITY). Answer NONE for every other
field.`,
	RoleStrategist: `You are the Strategist. Your concern is forward motion:
open loops that need follow-up (FOLLOW_UPS), new long-term goals
(NEW_GOALS), higher-order syntheses connecting multiple memories
(SYNTHESES), and developed perspectives on recurring topics
(PERSPECTIVES). Answer NONE for every other field.`,
	RoleCritic: `You are the Critic. Your concern is core-memory hygiene:
contradictions between memories (CONTRADICTIONS), core entries that are
obsolete and should be retired (RETIRE_CORE), core entries whose
content is stale and should be rewritten (REWRITE_CORE), and sets of
overlapping core entries that should be consolidated into one
(CONSOLIDATE_CORE). Be conservative: only propose core mutations you
can justify from the batch. Answer NONE for every other field.`,
}

// fieldInstructions is the shared answer format appended to every
// specialist prompt.
const fieldInstructions = `Answer using EXACTLY these labeled fields, in this order.
For list fields use one "- " line per item; write NONE when a field has
no answer. Structured items separate parts with " | ".

LEARNED_FACTS:        facts about the user
FOLLOW_UPS:           open loops to follow up on
REFLECTIONS:          reflective thoughts worth keeping
PROFILE_UPDATES:      category | key | value
CONTRADICTIONS:       contradictions between memories
RETIRE_CORE:          core entry id prefixes to retire
REWRITE_CORE:         id | replacement content
CONSOLIDATE_CORE:     id,id,... | synthesis content
TOOL_INSIGHTS:        insights about tool usage
SYNTHESES:            higher-order syntheses
PERSPECTIVES:         topic | stance
MILESTONES:           relationship milestones
COMM_STYLE:           one line, or NONE
PERSONALITY:          one trait name, or NONE
NEW_GOALS:            new long-term goals
VALENCE_CORRECTIONS:  id | valence in [-1,1]
TIER_PROMOTIONS:      id | target tier
NEW_MEMORIES:         tier | content`

// IdentityContext is the shared context block given to every specialist.
type IdentityContext struct {
	Kernel           *memory.IdentityKernel
	RecentMilestones []string
}

// BuildIdentityContext derives the context block from the kernel and a
// snapshot of recent milestone entries.
func BuildIdentityContext(kernel *memory.IdentityKernel, snapshot []*memory.Entry) IdentityContext {
	ctx := IdentityContext{Kernel: kernel}
	for _, e := range snapshot {
		if e.Tier == memory.TierReflective && strings.HasPrefix(e.Source, "sleep:milestone") {
			ctx.RecentMilestones = append(ctx.RecentMilestones, e.Content)
		}
	}
	if n := len(ctx.RecentMilestones); n > 5 {
		ctx.RecentMilestones = ctx.RecentMilestones[n-5:]
	}
	return ctx
}

func (c IdentityContext) render() string {
	var b strings.Builder
	b.WriteString("== IDENTITY CONTEXT ==\n")
	if c.Kernel != nil {
		fmt.Fprintf(&b, "Traits: %s\n", c.Kernel.TraitSummary())
		fmt.Fprintf(&b, "Communication style: %s\n", c.Kernel.CommunicationStyle)
		if len(c.Kernel.LongTermGoals) > 0 {
			fmt.Fprintf(&b, "Long-term goals: %s\n", strings.Join(c.Kernel.LongTermGoals, "; "))
		}
		if len(c.Kernel.Values) > 0 {
			fmt.Fprintf(&b, "Values: %s\n", strings.Join(c.Kernel.Values, "; "))
		}
	}
	if len(c.RecentMilestones) > 0 {
		fmt.Fprintf(&b, "Recent milestones: %s\n", strings.Join(c.RecentMilestones, "; "))
	}
	return b.String()
}

// BuildSpecialistPrompt assembles the full prompt for one role over one
// batch.
func BuildSpecialistPrompt(role Role, identity IdentityContext, batch Batch) string {
	var b strings.Builder
	b.WriteString(roleCharters[role])
	b.WriteString("\n\n")
	b.WriteString(identity.render())
	b.WriteString("\n== MEMORY BATCH ==\n")

	for _, e := range batch.Anchors {
		fmt.Fprintf(&b, "[%s %s conf=%.2f] %s\n", e.ShortID(), e.Tier, e.Confidence, e.Content)
	}
	if len(batch.Anchors) > 0 && len(batch.Variable) > 0 {
		b.WriteString("--\n")
	}
	for _, e := range batch.Variable {
		fmt.Fprintf(&b, "[%s %s conf=%.2f val=%+.1f] %s\n", e.ShortID(), e.Tier, e.Confidence, e.Valence, e.Content)
	}

	b.WriteString("\n")
	b.WriteString(fieldInstructions)
	return b.String()
}
