package sleep

import (
	"testing"
	"time"

	"engramd/internal/memory"
)

func TestIsCoreEligible(t *testing.T) {
	strong := PromotionSignals{
		RepetitionScore:         1.0,
		EmotionalSalience:       1.0,
		UserConfirmedImportance: 1.0,
		TaskUtility:             1.0,
		LongevityBonus:          1.0,
	}

	tests := []struct {
		name       string
		content    string
		confidence float64
		signals    PromotionSignals
		want       bool
	}{
		{"strong signals", "user values direct feedback", 0.9, strong, true},
		{"empty content never eligible", "   ", 0.9, strong, false},
		{"low confidence never eligible", "some fact", 0.5, strong, false},
		{"confidence at threshold", "some fact", 0.6, strong, true},
		{"weak signals", "some fact", 0.9, PromotionSignals{RepetitionScore: 0.5}, false},
		{
			"exact threshold",
			"some fact", 0.9,
			// 0.25 + 0.25 + 0.25 = 0.75
			PromotionSignals{RepetitionScore: 1, EmotionalSalience: 1, UserConfirmedImportance: 1},
			true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := memory.NewEntry(memory.TierEpisodic, tt.content, "chat")
			e.Confidence = tt.confidence
			if got := IsCoreEligible(e, tt.signals); got != tt.want {
				t.Errorf("IsCoreEligible() = %v, want %v (aggregate %.3f)", got, tt.want, tt.signals.Aggregate())
			}
		})
	}
}

func TestAggregateWeights(t *testing.T) {
	s := PromotionSignals{
		RepetitionScore:         1,
		EmotionalSalience:       1,
		UserConfirmedImportance: 1,
		TaskUtility:             1,
		LongevityBonus:          1,
	}
	if got := s.Aggregate(); got != 1.0 {
		t.Errorf("full signals aggregate = %v, want 1.0", got)
	}

	only := PromotionSignals{TaskUtility: 1}
	if got := only.Aggregate(); got != 0.15 {
		t.Errorf("task utility weight = %v, want 0.15", got)
	}
}

func TestComputeSignals(t *testing.T) {
	now := time.Now()

	e := memory.NewEntry(memory.TierEpisodic, "User prefers tabs", "chat")
	e.CreatedAt = now.Add(-60 * 24 * time.Hour)
	e.Valence = -0.8
	e.AddTag("important")

	dup1 := memory.NewEntry(memory.TierEpisodic, "user prefers tabs", "chat")
	dup2 := memory.NewEntry(memory.TierEpisodic, "User prefers tabs  ", "chat")
	dup3 := memory.NewEntry(memory.TierEpisodic, "user prefers tabs", "chat")
	unrelated := memory.NewEntry(memory.TierSemantic, "something else", "chat")

	s := ComputeSignals(e, []*memory.Entry{e, dup1, dup2, dup3, unrelated}, now)

	if s.RepetitionScore != 1.0 {
		t.Errorf("repetition = %v, want 1.0 for three near-duplicates", s.RepetitionScore)
	}
	if s.EmotionalSalience != 0.8 {
		t.Errorf("emotional salience = %v, want 0.8", s.EmotionalSalience)
	}
	if s.UserConfirmedImportance != 1.0 {
		t.Errorf("user confirmed = %v, want 1.0 for important tag", s.UserConfirmedImportance)
	}
	if s.LongevityBonus != 1.0 {
		t.Errorf("longevity = %v, want capped at 1.0", s.LongevityBonus)
	}
	if s.TaskUtility != 0 {
		t.Errorf("task utility = %v, want 0 for episodic chat entry", s.TaskUtility)
	}

	tool := memory.NewEntry(memory.TierProcedural, "grep before edit", "tool-use:grep")
	ts := ComputeSignals(tool, nil, now)
	if ts.TaskUtility != 1.0 {
		t.Errorf("task utility for procedural tool entry = %v, want 1.0", ts.TaskUtility)
	}
}

func TestDistillSummaryContract(t *testing.T) {
	e := memory.NewEntry(memory.TierEpisodic, "went for a walk", "chat")
	promotions, distilled := Distill([]*memory.Entry{e}, time.Now())

	if len(promotions) != 0 {
		t.Errorf("unexpected promotions: %+v", promotions)
	}
	if distilled != "Reviewed 1 memories, promoted 0" {
		t.Errorf("distilled = %q", distilled)
	}
}
