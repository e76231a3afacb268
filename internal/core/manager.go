// Package core wires the memory subsystems together and owns the
// concurrency discipline: one coordinating Manager holds the store,
// event log, and identity kernel, checking them out for long-running
// operations so cheap reads never block behind a consolidation run.
package core

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"engramd/internal/config"
	"engramd/internal/embedding"
	"engramd/internal/firewall"
	"engramd/internal/index"
	"engramd/internal/llm"
	"engramd/internal/logging"
	"engramd/internal/memory"
	"engramd/internal/sleep"
	"engramd/internal/vault"
)

// =============================================================================
// MANAGER
// =============================================================================

// coreState is the checked-out unit: everything a long operation needs
// exclusive use of.
type coreState struct {
	store    *memory.Store
	log      *memory.EventLog
	identity *memory.IdentityKernel
}

func placeholderCore() *coreState {
	return &coreState{
		store:    memory.NewStore(),
		identity: memory.NewIdentityKernel(),
	}
}

// Manager coordinates access to the memory core.
//
// Two locks with distinct jobs: ops serializes long-running operations
// (record, consolidation, wipes), while mu only guards the core pointer
// so status reads stay cheap. A long operation checks the core out
// under mu, leaving an empty placeholder behind, works on its private
// copy, then splices the result back in.
type Manager struct {
	ops chan struct{} // capacity 1, acquired for the duration of long operations
	mu  chan struct{} // capacity 1, guards the core pointer only

	core *coreState

	gate     memory.Gate
	cfg      *config.Config
	embedder embedding.Engine
	client   llm.Client
	idx      *index.Index
	vlt      *vault.Vault

	ephemeral bool
}

// NewManager opens (or creates) the memory core described by cfg:
// replays the event log through the firewall, connects the embedding
// and text-generation capabilities, and opens the semantic index. An
// empty event log path yields an ephemeral core whose writes do not
// survive restart; this degraded mode is logged loudly, never silent.
func NewManager(cfg *config.Config) (*Manager, error) {
	gate := firewall.New()
	identity := memory.NewIdentityKernel()

	m := &Manager{
		ops:  make(chan struct{}, 1),
		mu:   make(chan struct{}, 1),
		gate: gate,
		cfg:  cfg,
	}

	if cfg.Memory.EventLogPath == "" {
		m.ephemeral = true
		m.core = &coreState{store: memory.NewStore(), identity: identity}
		logging.Get(logging.CategoryBoot).Warn("No event log configured: memory is EPHEMERAL and will not survive restart")
	} else {
		store, log, result, err := memory.OpenWithLog(cfg.Memory.EventLogPath, gate, identity)
		if err != nil {
			return nil, fmt.Errorf("failed to open memory core: %w", err)
		}
		m.core = &coreState{store: store, log: log, identity: identity}
		logging.Boot("Memory core loaded: %d replayed, %d duplicates, %d quarantined",
			result.Replayed, result.Duplicates, result.Quarantined)
	}

	// Both capabilities are optional: a missing API key or endpoint
	// degrades to heuristic-only operation instead of refusing to boot.
	embedder, err := embedding.NewEngine(cfg.Embedding)
	if err != nil {
		logging.Get(logging.CategoryEmbedding).Warn("Embedding engine disabled: %v", err)
	} else {
		m.embedder = embedder
	}

	client, err := llm.NewClient(cfg.LLM)
	if err != nil {
		logging.Get(logging.CategorySleep).Warn("Language model disabled: %v", err)
	} else {
		m.client = client
	}

	if cfg.Memory.IndexPath != "" {
		idx, err := index.New(cfg.Memory.IndexPath, embedder)
		if err != nil {
			// The index is derived state: losing it degrades search,
			// nothing else.
			logging.Get(logging.CategoryIndex).Warn("Semantic index unavailable: %v", err)
		} else {
			m.idx = idx
		}
	}

	m.vlt = vault.New(cfg.Vault.Path, cfg.Vault.SummaryTop)
	return m, nil
}

// Close releases the semantic index handle.
func (m *Manager) Close() error {
	if m.idx != nil {
		return m.idx.Close()
	}
	return nil
}

// Ephemeral reports whether writes are durable.
func (m *Manager) Ephemeral() bool {
	return m.ephemeral
}

// Vault returns the vault projection for watcher wiring.
func (m *Manager) Vault() *vault.Vault {
	return m.vlt
}

// checkout takes exclusive use of the core, leaving a placeholder in
// shared state so status reads keep working.
func (m *Manager) checkout() *coreState {
	m.mu <- struct{}{}
	c := m.core
	m.core = placeholderCore()
	<-m.mu
	return c
}

// checkin splices the core back into shared state.
func (m *Manager) checkin(c *coreState) {
	m.mu <- struct{}{}
	m.core = c
	<-m.mu
}

// withCore runs fn against whatever core is currently in shared state.
// Cheap and non-blocking even while a consolidation run holds the real
// core; callers then see the empty placeholder.
func (m *Manager) withCore(fn func(c *coreState)) {
	m.mu <- struct{}{}
	c := m.core
	<-m.mu
	fn(c)
}

// beginOp serializes long operations end to end.
func (m *Manager) beginOp(ctx context.Context) error {
	select {
	case m.ops <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) endOp() {
	<-m.ops
}

// Record persists one entry through the full write path: embedding,
// firewall, durable log append, store insert, index update. A firewall
// rejection returns *memory.QuarantineError and leaves no trace.
func (m *Manager) Record(ctx context.Context, tier memory.Tier, content, source string) (*memory.Entry, error) {
	if !tier.Valid() {
		return nil, fmt.Errorf("invalid tier %q", tier)
	}

	if err := m.beginOp(ctx); err != nil {
		return nil, err
	}
	defer m.endOp()

	core := m.checkout()
	defer m.checkin(core)

	entry := memory.NewEntry(tier, content, source)

	if m.embedder != nil {
		vec, err := m.embedder.Embed(ctx, content)
		if err != nil {
			// Absence of embeddings never blocks a write.
			logging.Get(logging.CategoryEmbedding).Warn("Embedding failed for %s: %v", entry.ShortID(), err)
		} else {
			entry.Embedding = vec
		}
	}

	if decision := m.gate.Evaluate(core.identity, entry); !decision.Accepted {
		logging.Firewall("Quarantined %s write: %s", tier, decision.Reason)
		return nil, &memory.QuarantineError{Reason: decision.Reason}
	}

	if core.log != nil {
		if err := core.log.Append(memory.NewEvent(entry)); err != nil {
			// The store must never get ahead of the log.
			return nil, fmt.Errorf("failed to persist entry: %w", err)
		}
	} else {
		logging.Get(logging.CategoryStore).Warn("Recording %s entry without durability (ephemeral mode)", tier)
	}

	core.store.Insert(entry)
	logging.Store("Recorded %s entry %s from %s", tier, entry.ShortID(), source)

	if m.idx != nil {
		if err := m.idx.Add(ctx, entry); err != nil {
			logging.Get(logging.CategoryIndex).Warn("Index update failed for %s: %v", entry.ShortID(), err)
		}
	}
	return entry, nil
}

// Search queries the semantic index.
func (m *Manager) Search(ctx context.Context, query string, limit int) ([]index.SearchResult, error) {
	if m.idx == nil {
		return nil, fmt.Errorf("semantic index not configured")
	}
	return m.idx.Search(ctx, query, limit)
}

// =============================================================================
// SLEEP CYCLES
// =============================================================================

// RunSleepCycle runs the heuristic distillation pass. Progress lines
// stream to the optional channel.
func (m *Manager) RunSleepCycle(ctx context.Context, progress chan<- string) (*sleep.Summary, error) {
	return m.runCycle(ctx, progress, false)
}

// RunMultiAgentSleepCycle runs the four-specialist pipeline, falling
// back to the heuristic pass when no language model is configured.
func (m *Manager) RunMultiAgentSleepCycle(ctx context.Context, progress chan<- string) (*sleep.Summary, error) {
	return m.runCycle(ctx, progress, true)
}

func (m *Manager) runCycle(ctx context.Context, progress chan<- string, multi bool) (*sleep.Summary, error) {
	if err := m.beginOp(ctx); err != nil {
		return nil, err
	}
	defer m.endOp()

	core := m.checkout()
	defer m.checkin(core)

	c := sleep.New(sleep.Config{
		Store:     core.store,
		Log:       core.log,
		Gate:      m.gate,
		Identity:  core.identity,
		Client:    m.client,
		Embedder:  m.embedder,
		BatchSize: m.cfg.Memory.SleepBatchSize,
		Progress:  progress,
		VaultSync: func() error {
			_, err := m.vlt.Sync(core.store.Snapshot())
			return err
		},
	})

	var sum *sleep.Summary
	var err error
	if multi {
		sum, err = c.RunMultiAgent(ctx)
	} else {
		sum, err = c.RunHeuristic(ctx)
	}
	if err != nil {
		return nil, err
	}

	if m.idx != nil {
		if rerr := m.idx.Rebuild(ctx, core.store.Snapshot()); rerr != nil {
			logging.Get(logging.CategoryIndex).Warn("Index rebuild after sleep failed: %v", rerr)
		}
	}
	return sum, nil
}

// CompactEpisodic drops episodic entries older than the configured
// retention and rewrites the log. Returns the number removed.
func (m *Manager) CompactEpisodic(ctx context.Context) (int, error) {
	if err := m.beginOp(ctx); err != nil {
		return 0, err
	}
	defer m.endOp()

	core := m.checkout()
	defer m.checkin(core)

	cutoff := time.Now().Add(-m.cfg.GetEpisodicMaxAge())
	removed := core.store.CompactEpisodic(cutoff)
	if len(removed) == 0 {
		return 0, nil
	}

	if core.log != nil {
		if err := core.log.Overwrite(memory.EventsFromStore(core.store)); err != nil {
			return len(removed), fmt.Errorf("failed to rewrite log after compaction: %w", err)
		}
	}
	for _, e := range removed {
		if m.idx != nil {
			_ = m.idx.Remove(e.ID)
		}
	}
	logging.Store("Compacted %d episodic entries older than %s", len(removed), m.cfg.Memory.EpisodicMaxAge)
	return len(removed), nil
}

// =============================================================================
// ACCESSORS
// =============================================================================

// EntriesByTier returns live entries of one tier.
func (m *Manager) EntriesByTier(tier memory.Tier) []*memory.Entry {
	var out []*memory.Entry
	m.withCore(func(c *coreState) { out = c.store.ByTier(tier) })
	return out
}

// Recent returns the n newest entries.
func (m *Manager) Recent(n int) []*memory.Entry {
	var out []*memory.Entry
	m.withCore(func(c *coreState) { out = c.store.Recent(n) })
	return out
}

// RecentPromotions returns the n newest sleep-created entries.
func (m *Manager) RecentPromotions(n int) []*memory.Entry {
	var out []*memory.Entry
	m.withCore(func(c *coreState) { out = c.store.RecentPromotions(n) })
	return out
}

// AllBeliefs returns live belief entries, excluding retracted ones.
func (m *Manager) AllBeliefs() []*memory.Entry {
	var out []*memory.Entry
	m.withCore(func(c *coreState) { out = c.store.AllBeliefs() })
	return out
}

// PendingFollowUpIDs lists unconsumed follow-up entries.
func (m *Manager) PendingFollowUpIDs() []uuid.UUID {
	var out []uuid.UUID
	m.withCore(func(c *coreState) { out = c.store.PendingFollowUpIDs() })
	return out
}

// Identity returns a copy of the current identity kernel.
func (m *Manager) Identity() *memory.IdentityKernel {
	var out *memory.IdentityKernel
	m.withCore(func(c *coreState) { out = c.identity.Clone() })
	return out
}

// WipeAll removes every entry and truncates the log.
func (m *Manager) WipeAll(ctx context.Context) (int, error) {
	if err := m.beginOp(ctx); err != nil {
		return 0, err
	}
	defer m.endOp()

	core := m.checkout()
	defer m.checkin(core)

	n := core.store.WipeAll()
	if core.log != nil {
		if err := core.log.Overwrite(nil); err != nil {
			return n, fmt.Errorf("failed to truncate log: %w", err)
		}
	}
	if m.idx != nil {
		_ = m.idx.Rebuild(ctx, nil)
	}
	logging.Store("Wiped all memory: %d entries removed", n)
	return n, nil
}

// WipeTiers removes every entry in the given tiers and rewrites the log.
func (m *Manager) WipeTiers(ctx context.Context, tiers []memory.Tier) (int, error) {
	for _, t := range tiers {
		if !t.Valid() {
			return 0, fmt.Errorf("invalid tier %q", t)
		}
	}

	if err := m.beginOp(ctx); err != nil {
		return 0, err
	}
	defer m.endOp()

	core := m.checkout()
	defer m.checkin(core)

	n := core.store.WipeTiers(tiers)
	if n > 0 && core.log != nil {
		if err := core.log.Overwrite(memory.EventsFromStore(core.store)); err != nil {
			return n, fmt.Errorf("failed to rewrite log: %w", err)
		}
	}
	if n > 0 && m.idx != nil {
		_ = m.idx.Rebuild(ctx, core.store.Snapshot())
	}
	logging.Store("Wiped tiers %v: %d entries removed", tiers, n)
	return n, nil
}

// ConsumeFollowUp removes one follow-up entry after it has been acted
// on, rewriting the log.
func (m *Manager) ConsumeFollowUp(ctx context.Context, id uuid.UUID) error {
	if err := m.beginOp(ctx); err != nil {
		return err
	}
	defer m.endOp()

	core := m.checkout()
	defer m.checkin(core)

	entry := core.store.Get(id)
	if entry == nil {
		return fmt.Errorf("no entry %s", id)
	}
	if memory.ParseSource(entry.Source).Kind != memory.SourceFollowUp {
		return fmt.Errorf("entry %s is not a follow-up", entry.ShortID())
	}

	core.store.Remove(id)
	if core.log != nil {
		if err := core.log.Overwrite(memory.EventsFromStore(core.store)); err != nil {
			return fmt.Errorf("failed to rewrite log: %w", err)
		}
	}
	if m.idx != nil {
		_ = m.idx.Remove(id)
	}
	return nil
}

// ExportVault projects the full memory state into the vault directory.
// When path is non-empty it overrides the configured vault location.
func (m *Manager) ExportVault(path string) (int, error) {
	target := m.vlt
	if path != "" && path != m.vlt.Root() {
		target = vault.New(path, m.cfg.Vault.SummaryTop)
	}

	var snapshot []*memory.Entry
	m.withCore(func(c *coreState) { snapshot = c.store.Snapshot() })
	return target.Sync(snapshot)
}
