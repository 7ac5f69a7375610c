package autopilot

// Tier is a complexity band with one candidate model.
type Tier string

const (
	TierSimple  Tier = "simple"
	TierMedium  Tier = "medium"
	TierComplex Tier = "complex"
)

// Confidence thresholds governing model selection.
const (
	// minDowngradeConfidence is the floor below which selection always
	// escalates to the complex tier; low confidence must never downgrade.
	minDowngradeConfidence = 0.5

	// overrideConfidence is required before an explicitly requested
	// high-end model may be rewritten.
	overrideConfidence = 0.8
)

// categoryTiers maps each task category to its complexity tier.
var categoryTiers = map[TaskType]Tier{
	TaskCode:           TierComplex,
	TaskReasoning:      TierComplex,
	TaskSummarization:  TierSimple,
	TaskTranslation:    TierMedium,
	TaskExtraction:     TierMedium,
	TaskClassification: TierSimple,
	TaskGeneration:     TierMedium,
}

// tierModels holds the single candidate model per tier.
var tierModels = map[Tier]string{
	TierSimple:  "gpt-4o-mini",
	TierMedium:  "gpt-4o-mini",
	TierComplex: "gpt-4o",
}

// highEndModels are models whose explicit mention signals caller intent; they
// are only overridden at high confidence.
var highEndModels = map[string]bool{
	"gpt-4o":                     true,
	"gpt-4-turbo":                true,
	"o1":                         true,
	"o1-preview":                 true,
	"o3":                         true,
	"claude-3-5-sonnet-20241022": true,
	"claude-3-opus-20240229":     true,
	"mistral-large-latest":       true,
}

// Selection reasons recorded on routing decisions.
const (
	ReasonCacheHit         = "cache_hit"
	ReasonSelected         = "autopilot_selected"
	ReasonLowConfidence    = "escalated_low_confidence"
	ReasonExplicitHighEnd  = "honored_explicit_high_end"
	ReasonDegradedFallback = "degraded_fallback"
)

// Selector maps a classified task to an effective model.
type Selector struct{}

// NewSelector creates a Selector.
func NewSelector() *Selector { return &Selector{} }

// Select returns the effective model for a classified prompt and the reason
// for the choice. Confidence below the downgrade floor forces the complex
// tier regardless of category. An explicitly requested high-end model is
// honored unless confidence is high enough to justify overriding it.
func (s *Selector) Select(requestedModel string, task TaskType, confidence float64) (string, string) {
	if highEndModels[requestedModel] && confidence < overrideConfidence {
		return requestedModel, ReasonExplicitHighEnd
	}

	if confidence < minDowngradeConfidence {
		return tierModels[TierComplex], ReasonLowConfidence
	}

	tier, ok := categoryTiers[task]
	if !ok {
		tier = TierComplex
	}
	return tierModels[tier], ReasonSelected
}

// TierOf exposes the category→tier mapping for telemetry.
func TierOf(task TaskType) Tier {
	if t, ok := categoryTiers[task]; ok {
		return t
	}
	return TierComplex
}
