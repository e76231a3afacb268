package memory

import (
	"testing"
	"time"
)

func TestInsertDeduplicates(t *testing.T) {
	s := NewStore()
	e := NewEntry(TierEpisodic, "user asked for road map", "chat")

	if !s.Insert(e) {
		t.Fatal("first insert should succeed")
	}
	if s.Insert(e.Clone()) {
		t.Error("re-inserting the same identifier should be a no-op")
	}
	if s.Len() != 1 {
		t.Errorf("expected 1 entry, got %d", s.Len())
	}
}

func TestByTierAndCounts(t *testing.T) {
	s := NewStore()
	s.Insert(NewEntry(TierCore, "core value", "chat"))
	s.Insert(NewEntry(TierEpisodic, "episode one", "chat"))
	s.Insert(NewEntry(TierEpisodic, "episode two", "chat"))

	if got := len(s.ByTier(TierEpisodic)); got != 2 {
		t.Errorf("expected 2 episodic, got %d", got)
	}

	counts := s.CountByTier()
	if len(counts) != len(AllTiers) {
		t.Errorf("CountByTier must cover all %d tiers, got %d", len(AllTiers), len(counts))
	}
	if counts[TierCore] != 1 || counts[TierEpisodic] != 2 || counts[TierSemantic] != 0 {
		t.Errorf("unexpected counts: %v", counts)
	}
}

func TestRecentOrdering(t *testing.T) {
	s := NewStore()
	old := NewEntry(TierEpisodic, "old", "chat")
	old.CreatedAt = time.Now().Add(-time.Hour)
	s.Insert(old)
	s.Insert(NewEntry(TierEpisodic, "new", "chat"))

	recent := s.Recent(1)
	if len(recent) != 1 || recent[0].Content != "new" {
		t.Fatalf("expected newest entry first, got %+v", recent)
	}
}

func TestRecentPromotions(t *testing.T) {
	s := NewStore()
	s.Insert(NewEntry(TierEpisodic, "plain", "chat"))
	s.Insert(NewEntry(TierSemantic, "promoted", SleepSource("distill")))

	promos := s.RecentPromotions(10)
	if len(promos) != 1 || promos[0].Content != "promoted" {
		t.Fatalf("expected only sleep-sourced entries, got %d", len(promos))
	}
}

func TestAllBeliefsExcludesRetracted(t *testing.T) {
	s := NewStore()
	live := NewEntry(TierSemantic, "user prefers dark mode", "belief")
	retracted := NewEntry(TierSemantic, "user prefers light mode", RetractedBeliefSource(live.ShortID()))
	tagged := NewEntry(TierSemantic, "tagged belief", "chat")
	tagged.AddTag("belief")
	s.Insert(live)
	s.Insert(retracted)
	s.Insert(tagged)

	beliefs := s.AllBeliefs()
	if len(beliefs) != 2 {
		t.Fatalf("expected 2 live beliefs, got %d", len(beliefs))
	}
	for _, b := range beliefs {
		if b.ID == retracted.ID {
			t.Error("retracted belief should be excluded")
		}
	}
}

func TestPendingFollowUps(t *testing.T) {
	s := NewStore()
	fu := NewEntry(TierReflective, "check on the migration", "follow-up")
	s.Insert(fu)
	s.Insert(NewEntry(TierReflective, "idle thought", SleepSource("reflection")))

	ids := s.PendingFollowUpIDs()
	if len(ids) != 1 || ids[0] != fu.ID {
		t.Fatalf("expected exactly the follow-up id, got %v", ids)
	}
}

func TestWipeTiers(t *testing.T) {
	s := NewStore()
	s.Insert(NewEntry(TierCore, "keep", "chat"))
	s.Insert(NewEntry(TierEpisodic, "drop", "chat"))
	s.Insert(NewEntry(TierProcedural, "drop too", "chat"))

	removed := s.WipeTiers([]Tier{TierEpisodic, TierProcedural})
	if removed != 2 {
		t.Errorf("expected 2 removed, got %d", removed)
	}
	if s.Len() != 1 {
		t.Errorf("expected 1 remaining, got %d", s.Len())
	}
	if len(s.ByTier(TierCore)) != 1 {
		t.Error("core entry should survive tier wipe")
	}
}

func TestCompactEpisodic(t *testing.T) {
	s := NewStore()
	stale := NewEntry(TierEpisodic, "stale", "chat")
	stale.CreatedAt = time.Now().Add(-48 * time.Hour)
	s.Insert(stale)
	s.Insert(NewEntry(TierEpisodic, "fresh", "chat"))
	oldCore := NewEntry(TierCore, "old core", "chat")
	oldCore.CreatedAt = time.Now().Add(-1000 * time.Hour)
	s.Insert(oldCore)

	removed := s.CompactEpisodic(time.Now().Add(-24 * time.Hour))
	if len(removed) != 1 || removed[0].Content != "stale" {
		t.Fatalf("expected only the stale episodic entry removed, got %d", len(removed))
	}
	if s.Get(oldCore.ID) == nil {
		t.Error("compaction must never touch non-episodic tiers")
	}
}

func TestFindByShortID(t *testing.T) {
	s := NewStore()
	e := NewEntry(TierCore, "identity statement", "chat")
	s.Insert(e)

	matches := s.FindByShortID(e.ShortID())
	if len(matches) != 1 || matches[0].ID != e.ID {
		t.Fatalf("short id lookup failed: %v", matches)
	}
	if got := s.FindByShortID("ab"); got != nil {
		t.Error("prefixes shorter than four characters must not match")
	}
}
