// Package index provides the semantic search sidecar: a SQLite-backed
// vector index over memory entries. The index is a derived structure
// and can always be rebuilt from the store, so corruption here never
// threatens durability.
package index

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"engramd/internal/embedding"
	"engramd/internal/logging"
	"engramd/internal/memory"
)

// =============================================================================
// SEMANTIC INDEX
// =============================================================================

// Index stores entry embeddings in SQLite and answers similarity queries.
type Index struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	engine embedding.Engine
}

// SearchResult is one hit from a similarity query.
type SearchResult struct {
	ID      uuid.UUID
	Tier    memory.Tier
	Content string
	Score   float64
}

// Metrics describes the index for status reporting.
type Metrics struct {
	Path    string `json:"path"`
	Rows    int    `json:"rows"`
	Engine  string `json:"engine"`
	Enabled bool   `json:"enabled"`
}

// New opens (creating if needed) the index database at path. The engine
// may be nil, in which case Search degrades to substring matching.
func New(path string, engine embedding.Engine) (*Index, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open index database: %w", err)
	}

	idx := &Index{db: db, path: path, engine: engine}
	if err := idx.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	logging.Index("Opened semantic index at %s", path)
	return idx, nil
}

func (x *Index) migrate() error {
	_, err := x.db.Exec(`
		CREATE TABLE IF NOT EXISTS entry_vectors (
			id         TEXT PRIMARY KEY,
			tier       TEXT NOT NULL,
			content    TEXT NOT NULL,
			embedding  TEXT,
			created_at TIMESTAMP NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_entry_vectors_tier ON entry_vectors(tier);
	`)
	if err != nil {
		return fmt.Errorf("failed to migrate index schema: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (x *Index) Close() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.db == nil {
		return nil
	}
	err := x.db.Close()
	x.db = nil
	return err
}

// Add upserts an entry. If the entry carries no embedding and an engine
// is configured, one is computed here.
func (x *Index) Add(ctx context.Context, entry *memory.Entry) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	vec := entry.Embedding
	if vec == nil && x.engine != nil {
		computed, err := x.engine.Embed(ctx, entry.Content)
		if err != nil {
			return fmt.Errorf("failed to embed entry %s: %w", entry.ShortID(), err)
		}
		vec = computed
	}

	var embeddingJSON any
	if vec != nil {
		data, err := json.Marshal(vec)
		if err != nil {
			return fmt.Errorf("failed to serialize embedding: %w", err)
		}
		embeddingJSON = string(data)
	}

	_, err := x.db.Exec(
		"INSERT OR REPLACE INTO entry_vectors (id, tier, content, embedding, created_at) VALUES (?, ?, ?, ?, ?)",
		entry.ID.String(), string(entry.Tier), entry.Content, embeddingJSON, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to index entry: %w", err)
	}
	return nil
}

// Remove deletes an entry from the index. Missing rows are a no-op.
func (x *Index) Remove(id uuid.UUID) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	_, err := x.db.Exec("DELETE FROM entry_vectors WHERE id = ?", id.String())
	return err
}

// Rebuild drops all rows and reindexes the given entries.
func (x *Index) Rebuild(ctx context.Context, entries []*memory.Entry) error {
	x.mu.Lock()
	if _, err := x.db.Exec("DELETE FROM entry_vectors"); err != nil {
		x.mu.Unlock()
		return fmt.Errorf("failed to clear index: %w", err)
	}
	x.mu.Unlock()

	start := time.Now()
	for _, entry := range entries {
		if err := x.Add(ctx, entry); err != nil {
			logging.Get(logging.CategoryIndex).Warn("Skipping entry %s during rebuild: %v", entry.ShortID(), err)
		}
	}
	logging.Index("Rebuilt index: %d entries in %v", len(entries), time.Since(start))
	return nil
}

// Search returns the entries most similar to the query, best first.
// Without an embedding engine it falls back to case-insensitive
// substring matching on content.
func (x *Index) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 10
	}

	if x.engine == nil {
		return x.searchKeyword(query, limit)
	}

	queryVec, err := x.engine.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	x.mu.RLock()
	defer x.mu.RUnlock()

	rows, err := x.db.Query("SELECT id, tier, content, embedding FROM entry_vectors WHERE embedding IS NOT NULL")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var idStr, tier, content, embeddingJSON string
		if err := rows.Scan(&idStr, &tier, &content, &embeddingJSON); err != nil {
			continue
		}

		var vec []float32
		if err := json.Unmarshal([]byte(embeddingJSON), &vec); err != nil {
			continue
		}

		score, err := embedding.CosineSimilarity(queryVec, vec)
		if err != nil {
			continue
		}

		id, err := uuid.Parse(idStr)
		if err != nil {
			continue
		}

		results = append(results, SearchResult{
			ID:      id,
			Tier:    memory.Tier(tier),
			Content: content,
			Score:   score,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (x *Index) searchKeyword(query string, limit int) ([]SearchResult, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	rows, err := x.db.Query(
		"SELECT id, tier, content FROM entry_vectors WHERE content LIKE ? COLLATE NOCASE ORDER BY created_at DESC LIMIT ?",
		"%"+strings.TrimSpace(query)+"%", limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var idStr, tier, content string
		if err := rows.Scan(&idStr, &tier, &content); err != nil {
			continue
		}
		id, err := uuid.Parse(idStr)
		if err != nil {
			continue
		}
		results = append(results, SearchResult{
			ID:      id,
			Tier:    memory.Tier(tier),
			Content: content,
			Score:   0,
		})
	}
	return results, rows.Err()
}

// Metrics reports row count and engine identity.
func (x *Index) Metrics() Metrics {
	x.mu.RLock()
	defer x.mu.RUnlock()

	m := Metrics{Path: x.path, Enabled: x.engine != nil}
	if x.engine != nil {
		m.Engine = x.engine.Name()
	}
	if x.db != nil {
		row := x.db.QueryRow("SELECT COUNT(*) FROM entry_vectors")
		_ = row.Scan(&m.Rows)
	}
	return m
}
