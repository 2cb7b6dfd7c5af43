package inference

import (
	"encoding/json"
	"fmt"

	"github.com/MarcoPoloResearchLab/compass/internal/features"
	"github.com/MarcoPoloResearchLab/compass/internal/users"
)

const predictionSystemPrompt = `You are a conservative clinical assistant. You read structured tracking data (profile facts and a feature summary of recent logs) and return ONLY a JSON object, no commentary.

Infer which symptoms or drivers matter for this user; do not restrict yourself to predefined keys.
Return exactly this shape:
{
  "predicted_symptoms": { "<symptom_name>": <number from 0 (low risk) to 2 (high risk)> },
  "confidence": <number from 0 to 1>,
  "insights": { "short": "<one sentence>", "partner_friendly": "<one supportive sentence for a partner>" },
  "recommendation": ["<3 to 6 short actionable items>"],
  "scenarios": [ { "scenario": "<what-if change>", "simulated_outcomes": { "<metric>": <small signed delta> } } ],
  "auto_tags": ["<possible causes or symptoms the user did not log>"]
}
Use snake_case keys for symptoms and metrics. Be conservative and realistic.`

type promptProfile struct {
	Age             *int     `json:"age"`
	Gender          string   `json:"gender,omitempty"`
	MenopausePhase  string   `json:"menopause_phase,omitempty"`
	DietPreferences []string `json:"diet_preferences"`
	HealthConcerns  []string `json:"health_concerns"`
}

type promptInput struct {
	Profile  promptProfile    `json:"user_meta"`
	Features features.Summary `json:"feature_vector"`
}

// BuildPredictionRequest serializes the profile facts and summary into a two-message exchange.
// Contact details never leave the process.
func BuildPredictionRequest(profile users.Profile, summary features.Summary) (ChatRequest, error) {
	input := promptInput{
		Profile: promptProfile{
			Age:             profile.Age,
			Gender:          profile.Gender,
			MenopausePhase:  profile.MenopausePhase,
			DietPreferences: nonNil(profile.DietPreferences),
			HealthConcerns:  nonNil(profile.HealthConcerns),
		},
		Features: summary,
	}
	payload, err := json.Marshal(input)
	if err != nil {
		return ChatRequest{}, fmt.Errorf("marshal prompt input: %w", err)
	}
	return ChatRequest{
		Messages: []Message{
			{Role: RoleSystem, Content: predictionSystemPrompt},
			{Role: RoleUser, Content: "INPUT:\n" + string(payload) + "\n\nReturn only JSON."},
		},
		Temperature: 0,
		MaxTokens:   1000,
		JSONOnly:    true,
	}, nil
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
