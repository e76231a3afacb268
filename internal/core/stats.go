package core

import (
	"engramd/internal/index"
	"engramd/internal/memory"
	"engramd/internal/vault"
)

// Stats is the status snapshot exposed to collaborators.
type Stats struct {
	Tiers     map[memory.Tier]int    `json:"tiers"`
	Total     int                    `json:"total"`
	Ephemeral bool                   `json:"ephemeral"`
	LogPath   string                 `json:"log_path,omitempty"`
	Index     *index.Metrics         `json:"index,omitempty"`
	Vault     []vault.ChecksumHealth `json:"vault"`
}

// Stats reports per-tier counts, index metrics, and vault checksum
// health. Cheap: never blocks behind a consolidation run.
func (m *Manager) Stats() Stats {
	s := Stats{Ephemeral: m.ephemeral}

	m.withCore(func(c *coreState) {
		s.Tiers = c.store.CountByTier()
		s.Total = c.store.Len()
		if c.log != nil {
			s.LogPath = c.log.Path()
		}
	})

	if m.idx != nil {
		metrics := m.idx.Metrics()
		s.Index = &metrics
	}
	s.Vault = m.vlt.Health()
	return s
}
