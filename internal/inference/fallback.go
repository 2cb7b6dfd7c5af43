package inference

import (
	"math"
	"strings"

	"github.com/MarcoPoloResearchLab/compass/internal/features"
	"github.com/MarcoPoloResearchLab/compass/internal/users"
)

const (
	targetSleepHours = 7.0
	maxMoodScale     = 5.0
	maxEnergyScale   = 3.0

	fallbackConfidenceFull    = 0.45
	fallbackConfidencePartial = 0.35
	fallbackConfidenceNone    = 0.25
	fullHistoryLogs           = 7
)

var defaultCandidates = []string{"fatigue", "sleep_disturbance"}

type symptomFamily int

const (
	familyOther symptomFamily = iota
	familySleep
	familyFatigue
	familyMood
)

func classify(key string) symptomFamily {
	switch {
	case strings.Contains(key, "sleep"), strings.Contains(key, "insomnia"), strings.Contains(key, "night"):
		return familySleep
	case strings.Contains(key, "fatigue"), strings.Contains(key, "energy"), strings.Contains(key, "tired"):
		return familyFatigue
	case strings.Contains(key, "anxiety"), strings.Contains(key, "mood"), strings.Contains(key, "irritab"), strings.Contains(key, "depress"):
		return familyMood
	default:
		return familyOther
	}
}

func baseScore(family symptomFamily) float64 {
	switch family {
	case familySleep:
		return 1.2
	case familyFatigue:
		return 1.0
	default:
		return 0.6
	}
}

// pressures are 0..1 signals derived from the summary. A missing or zero average carries no signal.
type pressures struct {
	sleep  float64
	mood   float64
	energy float64
	trend  float64
}

func derivePressures(summary features.Summary) pressures {
	var p pressures
	if value := valueOrZero(summary.AvgSleep); value > 0 {
		p.sleep = clamp((targetSleepHours-value)/targetSleepHours, 0, 1)
	}
	if value := valueOrZero(summary.AvgMood); value > 0 {
		p.mood = clamp((maxMoodScale-value)/maxMoodScale, 0, 1)
	}
	if value := valueOrZero(summary.AvgEnergy); value > 0 {
		p.energy = clamp((maxEnergyScale-value)/maxEnergyScale, 0, 1)
	}
	decline := math.Max(0, -summary.MoodTrend) + math.Max(0, -summary.SleepTrend) + math.Max(0, -summary.EnergyTrend)
	p.trend = clamp(decline/2, 0, 0.5)
	return p
}

func (p pressures) mean() float64 {
	return (p.sleep + p.mood + p.energy) / 3
}

// Fallback computes a conservative rule-based result. It never fails, whatever the summary holds.
func Fallback(profile users.Profile, summary features.Summary, reason string) Result {
	p := derivePressures(summary)
	symptoms := make(map[string]float64)
	for _, key := range candidateKeys(profile, summary) {
		family := classify(key)
		score := baseScore(family)
		switch family {
		case familySleep:
			score += 0.5*p.sleep + 0.2*p.trend
		case familyFatigue:
			score += 0.4*p.energy + 0.3*p.sleep
		case familyMood:
			score += 0.5*p.mood + 0.2*p.trend
		default:
			score += 0.2 * p.mean()
		}
		if summary.LogsCount > 0 {
			score += 0.3 * float64(summary.SymptomCounts[key]) / float64(summary.LogsCount)
		}
		symptoms[key] = features.Round(clamp(score, minSymptomScore, maxSymptomScore), 3)
	}

	confidence := fallbackConfidence(summary.LogsCount)
	return Result{
		PredictedSymptoms: symptoms,
		Confidence:        &confidence,
		Insights: Insights{
			Short:           "Rule-based estimate from your recent logs; connect more days of tracking for sharper insights.",
			PartnerFriendly: "Some changes showed up this week; calm support and a steady evening routine can help.",
		},
		Recommendations: fallbackRecommendations(p),
		Scenarios:       fallbackScenarios(p),
		AutoTags:        fallbackAutoTags(p, summary, symptoms),
		Strategy:        StrategyFallback,
		ModelVersion:    FallbackModelVersion,
		FallbackReason:  reason,
	}
}

func candidateKeys(profile users.Profile, summary features.Summary) []string {
	seen := make(map[string]struct{})
	var keys []string
	add := func(raw string) {
		key := features.NormalizeSymptom(raw)
		if key == "" {
			return
		}
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	for _, key := range summary.TopSymptoms() {
		add(key)
	}
	for _, concern := range profile.HealthConcerns {
		add(concern)
	}
	if len(keys) == 0 {
		for _, key := range defaultCandidates {
			add(key)
		}
	}
	return keys
}

func fallbackConfidence(logsCount int) float64 {
	switch {
	case logsCount >= fullHistoryLogs:
		return fallbackConfidenceFull
	case logsCount > 0:
		return fallbackConfidencePartial
	default:
		return fallbackConfidenceNone
	}
}

func fallbackRecommendations(p pressures) []string {
	recommendations := []string{"Try to keep a consistent sleep schedule"}
	if p.sleep > 0.1 {
		recommendations = append(recommendations, "Wind down 30 minutes earlier with screens off")
	}
	if p.energy > 0.3 {
		recommendations = append(recommendations, "Plan lighter tasks for low-energy afternoons")
	}
	if p.mood > 0.3 || p.trend > 0 {
		recommendations = append(recommendations, "Take a short daylight walk and note how you feel after")
	}
	recommendations = append(recommendations, "Reduce caffeine after midday", "Short calming evening walk")
	if len(recommendations) > maxRecommendations {
		recommendations = recommendations[:maxRecommendations]
	}
	return recommendations
}

func fallbackScenarios(p pressures) []Scenario {
	scenarios := []Scenario{{
		Description:       "Increase sleep by 1 hour",
		SimulatedOutcomes: map[string]float64{"mood_up": 0.2, "fatigue_drop": -0.2},
	}}
	if p.mood > 0 || p.trend > 0 {
		scenarios = append(scenarios, Scenario{
			Description:       "Add a 20 minute daylight walk each day",
			SimulatedOutcomes: map[string]float64{"mood_up": 0.1, "anxiety_drop": -0.1},
		})
	}
	return scenarios
}

func fallbackAutoTags(p pressures, summary features.Summary, symptoms map[string]float64) []string {
	var candidates []string
	for _, key := range sortedKeys(symptoms) {
		if classify(key) == familySleep {
			candidates = append(candidates, "possible_caffeine_trigger")
			break
		}
	}
	if p.energy > 0.3 {
		candidates = append(candidates, "low_energy_pattern")
	}
	if summary.MoodTrend < 0 {
		candidates = append(candidates, "declining_mood")
	}
	tags := []string{}
	for _, tag := range candidates {
		if _, logged := symptoms[tag]; !logged {
			tags = append(tags, tag)
		}
	}
	return tags
}

func valueOrZero(value *float64) float64 {
	if value == nil {
		return 0
	}
	return *value
}
