package inference

// Strategy records which path produced a Result.
type Strategy string

const (
	StrategyPrimary  Strategy = "primary"
	StrategyFallback Strategy = "fallback"

	// FallbackModelVersion tags results computed by the local rules.
	FallbackModelVersion = "fallback/rules-v1"
)

// Insights are short human-readable observations about the prediction.
type Insights struct {
	Short           string `json:"short"`
	PartnerFriendly string `json:"partner_friendly"`
}

// Scenario is a what-if projection with signed metric deltas.
type Scenario struct {
	Description       string             `json:"scenario"`
	SimulatedOutcomes map[string]float64 `json:"simulated_outcomes"`
}

// Result is the outcome of an inference run. It always carries the strategy that produced it.
type Result struct {
	PredictedSymptoms map[string]float64 `json:"predicted_symptoms"`
	Confidence        *float64           `json:"confidence"`
	Insights          Insights           `json:"insights"`
	Recommendations   []string           `json:"recommendation"`
	Scenarios         []Scenario         `json:"scenarios"`
	AutoTags          []string           `json:"auto_tags"`

	Strategy       Strategy `json:"strategy"`
	ModelVersion   string   `json:"model_version"`
	FallbackReason string   `json:"fallback_reason,omitempty"`
}

// PrimaryModelVersion tags results produced by the external model.
func PrimaryModelVersion(model string) string {
	if model == "" {
		model = "unknown"
	}
	return "primary/" + model
}
