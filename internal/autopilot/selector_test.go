package autopilot

import "testing"

func TestSelectLowConfidenceAlwaysEscalates(t *testing.T) {
	s := NewSelector()

	// Below the downgrade floor every category lands on the complex tier,
	// including the ones that normally map to simple.
	for _, task := range categoryOrder {
		model, reason := s.Select("some-model", task, 0.49)
		if model != tierModels[TierComplex] {
			t.Errorf("%s at low confidence selected %s, want %s", task, model, tierModels[TierComplex])
		}
		if reason != ReasonLowConfidence {
			t.Errorf("%s reason = %s, want %s", task, reason, ReasonLowConfidence)
		}
	}
}

func TestSelectComplexCategoriesNeverDowngrade(t *testing.T) {
	s := NewSelector()

	simple := tierModels[TierSimple]
	for _, task := range []TaskType{TaskReasoning, TaskCode} {
		for _, conf := range []float64{0.5, 0.7, 0.95, 1.0} {
			model, _ := s.Select("some-model", task, conf)
			if model == simple && tierModels[TierComplex] != simple {
				t.Errorf("%s at confidence %v selected the simple tier", task, conf)
			}
			if model != tierModels[TierComplex] {
				t.Errorf("%s at confidence %v = %s, want %s", task, conf, model, tierModels[TierComplex])
			}
		}
	}
}

func TestSelectSimpleTierAtHighConfidence(t *testing.T) {
	s := NewSelector()

	model, reason := s.Select("some-model", TaskSummarization, 0.9)
	if model != tierModels[TierSimple] {
		t.Errorf("model = %s, want %s", model, tierModels[TierSimple])
	}
	if reason != ReasonSelected {
		t.Errorf("reason = %s, want %s", reason, ReasonSelected)
	}
}

func TestSelectHonorsExplicitHighEndModel(t *testing.T) {
	s := NewSelector()

	// An explicitly requested high-end model stays put below the override
	// threshold, even for a category that maps to the simple tier.
	model, reason := s.Select("claude-3-opus-20240229", TaskClassification, 0.7)
	if model != "claude-3-opus-20240229" {
		t.Errorf("model = %s, want the requested high-end model", model)
	}
	if reason != ReasonExplicitHighEnd {
		t.Errorf("reason = %s, want %s", reason, ReasonExplicitHighEnd)
	}

	// High confidence permits the rewrite.
	model, reason = s.Select("claude-3-opus-20240229", TaskClassification, 0.85)
	if model != tierModels[TierSimple] {
		t.Errorf("model = %s, want %s after confident override", model, tierModels[TierSimple])
	}
	if reason != ReasonSelected {
		t.Errorf("reason = %s, want %s", reason, ReasonSelected)
	}
}

func TestSelectUnknownCategoryDefaultsComplex(t *testing.T) {
	s := NewSelector()

	model, _ := s.Select("some-model", TaskType("mystery"), 0.9)
	if model != tierModels[TierComplex] {
		t.Errorf("model = %s, want %s", model, tierModels[TierComplex])
	}
}

func TestTierOf(t *testing.T) {
	if TierOf(TaskReasoning) != TierComplex {
		t.Error("reasoning should map to the complex tier")
	}
	if TierOf(TaskSummarization) != TierSimple {
		t.Error("summarization should map to the simple tier")
	}
	if TierOf(TaskType("mystery")) != TierComplex {
		t.Error("unknown categories should map to the complex tier")
	}
}
