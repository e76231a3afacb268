package sleep

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"engramd/internal/embedding"
	"engramd/internal/llm"
	"engramd/internal/logging"
	"engramd/internal/memory"
)

// =============================================================================
// CONSOLIDATOR
// =============================================================================

// Config wires a Consolidator. Store, Gate, and Identity are required;
// everything else degrades gracefully when absent.
type Config struct {
	Store    *memory.Store
	Log      *memory.EventLog
	Gate     memory.Gate
	Identity *memory.IdentityKernel
	Client   llm.Client
	Embedder embedding.Engine

	// BatchSize caps the variable pool per specialist batch.
	BatchSize int
	// Progress receives human-readable progress lines; a slow or absent
	// reader never stalls the run.
	Progress chan<- string
	// VaultSync, when set, is invoked after insights are applied.
	VaultSync func() error
}

// Consolidator runs sleep cycles against a privately owned memory core.
// The caller is responsible for exclusive access: take the core out of
// shared state before constructing a Consolidator over it.
type Consolidator struct {
	cfg Config
	now func() time.Time
}

// New creates a Consolidator.
func New(cfg Config) *Consolidator {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 60
	}
	return &Consolidator{cfg: cfg, now: time.Now}
}

func (c *Consolidator) report(format string, args ...interface{}) {
	line := fmt.Sprintf(format, args...)
	logging.Sleep("%s", line)
	if c.cfg.Progress != nil {
		select {
		case c.cfg.Progress <- line:
		default:
		}
	}
}

// record persists one entry through the full write path: optional
// embedding, firewall evaluation, log append, store insert. The log
// append happens before the in-memory insert so a durability failure
// never leaves the store ahead of the log.
func (c *Consolidator) record(ctx context.Context, tier memory.Tier, content, source string, mutate func(*memory.Entry)) (*memory.Entry, error) {
	entry := memory.NewEntry(tier, content, source)
	if mutate != nil {
		mutate(entry)
	}

	if c.cfg.Embedder != nil {
		vec, err := c.cfg.Embedder.Embed(ctx, content)
		if err != nil {
			logging.Get(logging.CategorySleep).Warn("Embedding failed for %s: %v", entry.ShortID(), err)
		} else {
			entry.Embedding = vec
		}
	}

	if decision := c.cfg.Gate.Evaluate(c.cfg.Identity, entry); !decision.Accepted {
		return nil, &memory.QuarantineError{Reason: decision.Reason}
	}

	if c.cfg.Log != nil {
		if err := c.cfg.Log.Append(memory.NewEvent(entry)); err != nil {
			return nil, fmt.Errorf("failed to persist entry: %w", err)
		}
	}
	c.cfg.Store.Insert(entry)
	return entry, nil
}

// RunHeuristic performs the single-pass distillation cycle.
func (c *Consolidator) RunHeuristic(ctx context.Context) (*Summary, error) {
	start := c.now()
	sum := &Summary{StartedAt: start}

	if c.cfg.Log != nil {
		if _, err := c.cfg.Log.Backup(); err != nil {
			return nil, fmt.Errorf("failed to back up event log: %w", err)
		}
	}

	snapshot := c.cfg.Store.Snapshot()
	c.report("Sleep cycle started: reviewing %d memories", len(snapshot))

	c.applyPromotions(ctx, snapshot, sum)

	sum.Duration = c.now().Sub(start)
	c.report("Sleep cycle complete: %s in %v", sum.Distilled, sum.Duration.Round(time.Millisecond))
	return sum, nil
}

// applyPromotions runs the scorer over a snapshot and persists every
// promotion through the record path.
func (c *Consolidator) applyPromotions(ctx context.Context, snapshot []*memory.Entry, sum *Summary) {
	promotions, distilled := Distill(snapshot, c.now())
	sum.Distilled = distilled

	for _, p := range promotions {
		source := memory.SleepSource("promoted:" + p.SourceID.String()[:8])
		entry, err := c.record(ctx, p.TargetTier, p.Content, source, func(e *memory.Entry) {
			if orig := c.cfg.Store.Get(p.SourceID); orig != nil {
				e.Confidence = orig.Confidence
				e.Valence = orig.Valence
			}
		})
		if err != nil {
			sum.Errors = append(sum.Errors, fmt.Sprintf("promotion to %s: %v", p.TargetTier, err))
			continue
		}
		sum.CreatedIDs = append(sum.CreatedIDs, entry.ID)
		c.report("Promoted to %s: %s (%s)", p.TargetTier, truncate(p.Content, 60), p.Reason)
	}
}

// RunMultiAgent performs the full specialist pipeline: batch, fan out
// four roles per batch, deliberate, merge across batches, apply, then
// finish with the heuristic pass and a vault sync. Text-generation
// failures yield empty contributions, never a failed run.
func (c *Consolidator) RunMultiAgent(ctx context.Context) (*Summary, error) {
	start := c.now()
	sum := &Summary{StartedAt: start}

	if c.cfg.Log != nil {
		if _, err := c.cfg.Log.Backup(); err != nil {
			return nil, fmt.Errorf("failed to back up event log: %w", err)
		}
	}

	snapshot := c.cfg.Store.Snapshot()

	if c.cfg.Client == nil {
		c.report("No language model configured, falling back to heuristic distillation")
		c.applyPromotions(ctx, snapshot, sum)
		c.finish(sum, start)
		return sum, nil
	}

	batches := BatchMemories(snapshot, c.cfg.BatchSize)
	sum.Batches = len(batches)
	identityCtx := BuildIdentityContext(c.cfg.Identity, snapshot)
	c.report("Multi-agent sleep cycle started: %d memories in %d batches", len(snapshot), len(batches))

	// Merge is a whole-run property, so every batch result must land
	// before conflict resolution.
	batchInsights := make([]Insights, len(batches))
	var g errgroup.Group
	g.SetLimit(4)

	for i, batch := range batches {
		g.Go(func() error {
			batchInsights[i] = c.deliberateBatch(ctx, identityCtx, batch, i, len(batches))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	merged := MergeInsights(batchInsights)
	c.applyInsights(ctx, merged, sum)
	c.applyPromotions(ctx, c.cfg.Store.Snapshot(), sum)
	c.finish(sum, start)
	return sum, nil
}

func (c *Consolidator) finish(sum *Summary, start time.Time) {
	if c.cfg.VaultSync != nil {
		if err := c.cfg.VaultSync(); err != nil {
			sum.Errors = append(sum.Errors, fmt.Sprintf("vault sync: %v", err))
			logging.Get(logging.CategorySleep).Warn("Vault sync failed: %v", err)
		}
	}
	sum.Duration = c.now().Sub(start)
	c.report("Consolidation complete: %s, %d entries created, %d errors",
		sum.Distilled, len(sum.CreatedIDs), len(sum.Errors))
}

// deliberateBatch fans the batch out to the four specialists
// concurrently, then synthesizes their raw outputs into one insight
// record. Specialist calls share nothing mutable: each sees only the
// read-only batch and identity context.
func (c *Consolidator) deliberateBatch(ctx context.Context, identity IdentityContext, batch Batch, batchNum, total int) Insights {
	raw := make(map[Role]string, len(AllRoles))
	var mu sync.Mutex
	var g errgroup.Group

	for _, role := range AllRoles {
		g.Go(func() error {
			prompt := BuildSpecialistPrompt(role, identity, batch)
			resp, err := c.cfg.Client.Complete(ctx, prompt)
			if err != nil {
				logging.Specialist("Batch %d %s call failed: %v", batchNum+1, role, err)
				return nil
			}
			mu.Lock()
			raw[role] = resp
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	contributions := make(map[Role]Insights, len(raw))
	for role, text := range raw {
		contributions[role] = ParseInsights(text)
	}
	c.report("Batch %d/%d: %d specialist responses", batchNum+1, total, len(raw))

	conflicts := FindConflicts(contributions)
	prompt := BuildDeliberationPrompt(identity, raw, conflicts)
	resp, err := c.cfg.Client.Complete(ctx, prompt)
	if err != nil {
		logging.Specialist("Batch %d deliberation failed, merging specialist outputs directly: %v", batchNum+1, err)
		ordered := make([]Insights, 0, len(AllRoles))
		for _, role := range AllRoles {
			if in, ok := contributions[role]; ok {
				ordered = append(ordered, in)
			}
		}
		return MergeInsights(ordered)
	}
	return ParseInsights(resp)
}

// applyInsights persists one merged insight record. Failures of
// individual insights are reported and the rest still applied; removals
// are committed to the log in a single overwrite at the end.
func (c *Consolidator) applyInsights(ctx context.Context, in Insights, sum *Summary) {
	created := func(e *memory.Entry, err error, what string) {
		if err != nil {
			sum.Errors = append(sum.Errors, fmt.Sprintf("%s: %v", what, err))
			return
		}
		sum.CreatedIDs = append(sum.CreatedIDs, e.ID)
	}

	for _, fact := range in.LearnedAboutUser {
		e, err := c.record(ctx, memory.TierUserProfile, fact, memory.SleepSource("learned"), nil)
		created(e, err, "learned fact")
	}
	for _, f := range in.FollowUps {
		e, err := c.record(ctx, memory.TierReflective, f, "follow-up", nil)
		created(e, err, "follow-up")
	}
	for _, r := range in.ReflectiveThoughts {
		e, err := c.record(ctx, memory.TierReflective, r, memory.SleepSource("reflection"), nil)
		created(e, err, "reflection")
	}
	for _, m := range in.RelationshipMilestones {
		e, err := c.record(ctx, memory.TierReflective, m, memory.SleepSource("milestone"), nil)
		created(e, err, "milestone")
	}
	for _, cda := range in.Contradictions {
		e, err := c.record(ctx, memory.TierReflective, cda, memory.SleepSource("contradiction"), nil)
		created(e, err, "contradiction")
	}
	for _, t := range in.ToolInsights {
		e, err := c.record(ctx, memory.TierProcedural, t, memory.SleepSource("tool"), nil)
		created(e, err, "tool insight")
	}
	for _, s := range in.Syntheses {
		e, err := c.record(ctx, memory.TierSemantic, s, memory.SleepSource("synthesis"), nil)
		created(e, err, "synthesis")
	}
	for _, p := range in.Perspectives {
		content := fmt.Sprintf("%s: %s", p.Topic, p.Stance)
		e, err := c.record(ctx, memory.TierSemantic, content, memory.SleepSource("perspective:"+p.Topic), nil)
		created(e, err, "perspective")
	}
	for _, m := range in.NewMemories {
		tier, err := memory.ParseTier(m.Tier)
		if err != nil {
			sum.Errors = append(sum.Errors, fmt.Sprintf("new memory: %v", err))
			continue
		}
		e, err := c.record(ctx, tier, m.Content, memory.SleepSource("new"), nil)
		created(e, err, "new memory")
	}

	removed := false

	// Keyed profile updates replace by key: the old entry leaves the
	// store and, via the final overwrite, the log.
	for _, p := range in.ProfileUpdates {
		source := memory.ProfileSource(p.Category, p.Key)
		for _, old := range c.cfg.Store.ByTier(memory.TierUserProfile) {
			if old.Source == source {
				c.cfg.Store.Remove(old.ID)
				removed = true
			}
		}
		e, err := c.record(ctx, memory.TierUserProfile, p.Value, source, nil)
		created(e, err, "profile update")
		if err == nil {
			c.report("Profile updated: %s/%s", p.Category, p.Key)
		}
	}

	for _, prefix := range in.RetireCoreIDs {
		if c.retireCore(prefix) {
			removed = true
		}
	}

	for _, r := range in.RewriteCore {
		if c.retireCore(r.ID) {
			removed = true
		}
		e, err := c.record(ctx, memory.TierCore, r.Content, memory.SleepSource("rewrite:"+r.ID), nil)
		created(e, err, "core rewrite")
	}

	for _, con := range in.ConsolidateCore {
		for _, id := range con.IDs {
			if c.retireCore(id) {
				removed = true
			}
		}
		e, err := c.record(ctx, memory.TierCore, con.Synthesis, memory.SleepSource("consolidate:"+strings.Join(con.IDs, ",")), nil)
		created(e, err, "core consolidation")
	}

	// Valence corrections and tier promotions replace the entry rather
	// than editing it: history stays append-only.
	for _, v := range in.ValenceCorrections {
		matches := c.cfg.Store.FindByShortID(v.ID)
		if len(matches) != 1 {
			sum.Errors = append(sum.Errors, fmt.Sprintf("valence correction %s: %d matches", v.ID, len(matches)))
			continue
		}
		old := matches[0]
		c.cfg.Store.Remove(old.ID)
		removed = true
		e, err := c.record(ctx, old.Tier, old.Content, memory.SleepSource("valence:"+old.ShortID()), func(ne *memory.Entry) {
			ne.Confidence = old.Confidence
			ne.Valence = v.Valence
			ne.Tags = append([]string(nil), old.Tags...)
		})
		created(e, err, "valence correction")
	}
	for _, p := range in.TierPromotions {
		tier, err := memory.ParseTier(p.Tier)
		if err != nil {
			sum.Errors = append(sum.Errors, fmt.Sprintf("tier promotion %s: %v", p.ID, err))
			continue
		}
		matches := c.cfg.Store.FindByShortID(p.ID)
		if len(matches) != 1 {
			sum.Errors = append(sum.Errors, fmt.Sprintf("tier promotion %s: %d matches", p.ID, len(matches)))
			continue
		}
		old := matches[0]
		c.cfg.Store.Remove(old.ID)
		removed = true
		e, err := c.record(ctx, tier, old.Content, memory.SleepSource("promoted:"+old.ShortID()), func(ne *memory.Entry) {
			ne.Confidence = old.Confidence
			ne.Valence = old.Valence
			ne.Tags = append([]string(nil), old.Tags...)
		})
		created(e, err, "tier promotion")
	}

	// Identity kernel mutations happen only here, inside consolidation.
	if in.CommStyleUpdate != "" {
		c.cfg.Identity.CommunicationStyle = in.CommStyleUpdate
	}
	if in.PersonalityReinforced != "" {
		c.cfg.Identity.ReinforceTrait(in.PersonalityReinforced, 0.05)
		c.report("Reinforced trait: %s", in.PersonalityReinforced)
	}
	for _, goal := range in.NewGoals {
		c.cfg.Identity.AddGoal(goal)
	}

	if removed && c.cfg.Log != nil {
		if err := c.cfg.Log.Overwrite(memory.EventsFromStore(c.cfg.Store)); err != nil {
			sum.Errors = append(sum.Errors, fmt.Sprintf("log rewrite: %v", err))
		}
	}
}

// retireCore removes Core entries whose identifier starts with the
// given short prefix. Reports whether anything was removed.
func (c *Consolidator) retireCore(prefix string) bool {
	prefix = strings.TrimSpace(prefix)
	if len(prefix) < 4 {
		return false
	}
	removed := false
	for _, e := range c.cfg.Store.ByTier(memory.TierCore) {
		if e.MatchesShortID(prefix) {
			c.cfg.Store.Remove(e.ID)
			removed = true
			c.report("Retired core memory %s", e.ShortID())
		}
	}
	return removed
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
