package inference

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/MarcoPoloResearchLab/compass/internal/features"
)

const (
	maxScenarios       = 10
	maxRecommendations = 6
	maxAutoTags        = 10
	minSymptomScore    = 0.0
	maxSymptomScore    = 2.0
)

// ParseError explains why a model reply was rejected.
type ParseError struct {
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err == nil {
		return "inference: invalid payload: " + e.Reason
	}
	return fmt.Sprintf("inference: invalid payload: %s: %v", e.Reason, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

func invalidPayload(reason string, cause error) error {
	return &ParseError{Reason: reason, Err: cause}
}

// ExtractJSONObject strips code fences and returns the outermost {...} span of content.
func ExtractJSONObject(content string) (string, bool) {
	text := strings.TrimSpace(content)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if newline := strings.IndexByte(text, '\n'); newline >= 0 {
			header := strings.TrimSpace(text[:newline])
			if header == "" || !strings.ContainsAny(header, "{}") {
				text = text[newline+1:]
			}
		}
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	}
	first := strings.IndexByte(text, '{')
	last := strings.LastIndexByte(text, '}')
	if first < 0 || last <= first {
		return "", false
	}
	return text[first : last+1], true
}

// ParseResult validates a raw model reply. Only a validated Result is ever returned;
// every rejection is a *ParseError.
func ParseResult(content string) (Result, error) {
	body, ok := ExtractJSONObject(content)
	if !ok {
		return Result{}, invalidPayload("no_json_object", nil)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(body), &fields); err != nil {
		return Result{}, invalidPayload("malformed_json", err)
	}

	rawSymptoms, ok := fields["predicted_symptoms"]
	if !ok {
		return Result{}, invalidPayload("missing_predicted_symptoms", nil)
	}
	symptoms, err := parseSymptoms(rawSymptoms)
	if err != nil {
		return Result{}, err
	}

	result := Result{
		PredictedSymptoms: symptoms,
		Insights:          parseInsights(fields["insights"]),
		Recommendations:   parseRecommendations(fields),
		Scenarios:         parseScenarios(fields["scenarios"]),
		AutoTags:          parseAutoTags(fields["auto_tags"]),
	}
	if raw, ok := fields["confidence"]; ok {
		if value, ok := decodeNumber(raw); ok {
			clamped := features.Round(clamp(value, 0, 1), 3)
			result.Confidence = &clamped
		}
	}
	return result, nil
}

func parseSymptoms(raw json.RawMessage) (map[string]float64, error) {
	var values map[string]json.RawMessage
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil, invalidPayload("predicted_symptoms_not_object", err)
	}
	symptoms := make(map[string]float64, len(values))
	for name, rawValue := range values {
		if strings.HasPrefix(strings.TrimSpace(name), "_") {
			continue
		}
		key := features.NormalizeSymptom(name)
		if key == "" {
			continue
		}
		value, ok := decodeNumber(rawValue)
		if !ok {
			return nil, invalidPayload("non_numeric_score", fmt.Errorf("symptom %q", name))
		}
		symptoms[key] = features.Round(clamp(value, minSymptomScore, maxSymptomScore), 3)
	}
	if len(symptoms) == 0 {
		return nil, invalidPayload("empty_predicted_symptoms", nil)
	}
	return symptoms, nil
}

func parseInsights(raw json.RawMessage) Insights {
	if len(raw) == 0 {
		return Insights{}
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return Insights{Short: strings.TrimSpace(text)}
	}
	var object map[string]any
	if err := json.Unmarshal(raw, &object); err != nil {
		return Insights{}
	}
	insights := Insights{}
	if value, ok := object["short"].(string); ok {
		insights.Short = strings.TrimSpace(value)
	}
	if value, ok := object["partner_friendly"].(string); ok {
		insights.PartnerFriendly = strings.TrimSpace(value)
	}
	return insights
}

func parseRecommendations(fields map[string]json.RawMessage) []string {
	raw, ok := fields["recommendation"]
	if !ok {
		raw = fields["recommendations"]
	}
	return parseStringList(raw, maxRecommendations)
}

func parseAutoTags(raw json.RawMessage) []string {
	tags := parseStringList(raw, maxAutoTags)
	normalized := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		key := features.NormalizeSymptom(tag)
		if key == "" {
			continue
		}
		if _, duplicate := seen[key]; duplicate {
			continue
		}
		seen[key] = struct{}{}
		normalized = append(normalized, key)
	}
	return normalized
}

func parseStringList(raw json.RawMessage, limit int) []string {
	values := []string{}
	if len(raw) == 0 {
		return values
	}
	var items []any
	if err := json.Unmarshal(raw, &items); err != nil {
		return values
	}
	for _, item := range items {
		text, ok := item.(string)
		if !ok {
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		values = append(values, text)
		if len(values) == limit {
			break
		}
	}
	return values
}

// parseScenarios drops malformed entries first, then caps the list.
func parseScenarios(raw json.RawMessage) []Scenario {
	scenarios := []Scenario{}
	if len(raw) == 0 {
		return scenarios
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return scenarios
	}
	for _, item := range items {
		scenario, err := parseScenario(item)
		if err != nil {
			continue
		}
		scenarios = append(scenarios, scenario)
		if len(scenarios) == maxScenarios {
			break
		}
	}
	return scenarios
}

var errMalformedScenario = errors.New("malformed scenario")

func parseScenario(raw json.RawMessage) (Scenario, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Scenario{}, errMalformedScenario
	}
	var description string
	if err := json.Unmarshal(fields["scenario"], &description); err != nil || strings.TrimSpace(description) == "" {
		return Scenario{}, errMalformedScenario
	}
	var rawOutcomes map[string]json.RawMessage
	if err := json.Unmarshal(fields["simulated_outcomes"], &rawOutcomes); err != nil {
		return Scenario{}, errMalformedScenario
	}
	outcomes := make(map[string]float64, len(rawOutcomes))
	for metric, rawValue := range rawOutcomes {
		key := features.NormalizeSymptom(metric)
		value, ok := decodeNumber(rawValue)
		if key == "" || !ok {
			continue
		}
		outcomes[key] = features.Round(value, 3)
	}
	if len(outcomes) == 0 {
		return Scenario{}, errMalformedScenario
	}
	return Scenario{Description: strings.TrimSpace(description), SimulatedOutcomes: outcomes}, nil
}

// decodeNumber accepts JSON numbers and numeric strings. NaN and infinities are rejected.
func decodeNumber(raw json.RawMessage) (float64, bool) {
	var number float64
	if err := json.Unmarshal(raw, &number); err == nil {
		return number, true
	}
	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		return 0, false
	}
	number, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
	if err != nil || math.IsNaN(number) || math.IsInf(number, 0) {
		return 0, false
	}
	return number, true
}

func clamp(value, lower, upper float64) float64 {
	return math.Max(lower, math.Min(upper, value))
}

func sortedKeys(values map[string]float64) []string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
