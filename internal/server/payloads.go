package server

import (
	"encoding/json"
	"time"

	"github.com/MarcoPoloResearchLab/compass/internal/consent"
	"github.com/MarcoPoloResearchLab/compass/internal/inference"
	"github.com/MarcoPoloResearchLab/compass/internal/predictions"
)

type snapshotPayload struct {
	ID                string             `json:"id"`
	PredictedSymptoms map[string]float64 `json:"predicted_symptoms"`
	AutoTags          []string           `json:"auto_tags"`
	Confidence        *float64           `json:"confidence"`
	Strategy          string             `json:"strategy"`
	ModelVersion      string             `json:"model_version"`
	FeatureVector     json.RawMessage    `json:"feature_vector,omitempty"`
	CreatedAt         time.Time          `json:"created_at"`
}

type scenarioPayload struct {
	ID                string             `json:"id"`
	SnapshotID        string             `json:"snapshot_id,omitempty"`
	Scenario          string             `json:"scenario"`
	SimulatedOutcomes map[string]float64 `json:"simulated_outcomes"`
	CreatedAt         time.Time          `json:"created_at"`
}

type scenarioFailurePayload struct {
	Scenario string `json:"scenario"`
	Error    string `json:"error"`
}

type predictionRunPayload struct {
	Snapshot         snapshotPayload          `json:"snapshot"`
	Result           inference.Result         `json:"result"`
	ScenariosWritten int                      `json:"scenarios_written"`
	ScenarioFailures []scenarioFailurePayload `json:"scenario_failures"`
}

type historyPayload struct {
	Predictions []snapshotPayload `json:"predictions"`
	Scenarios   []scenarioPayload `json:"scenarios"`
}

type sharePayload struct {
	PartnerID    string    `json:"partner_id"`
	Consent      bool      `json:"consent"`
	SharedFields []string  `json:"shared_fields"`
	LastShared   time.Time `json:"last_shared"`
}

func newSnapshotPayload(snapshot predictions.Snapshot) snapshotPayload {
	payload := snapshotPayload{
		ID:                snapshot.ID,
		PredictedSymptoms: snapshot.PredictedSymptoms,
		AutoTags:          snapshot.AutoTags,
		Confidence:        snapshot.Confidence,
		Strategy:          snapshot.Strategy,
		ModelVersion:      snapshot.ModelVersion,
		CreatedAt:         snapshot.CreatedAt.UTC(),
	}
	if len(snapshot.FeatureVector) > 0 {
		payload.FeatureVector = json.RawMessage(snapshot.FeatureVector)
	}
	if payload.AutoTags == nil {
		payload.AutoTags = []string{}
	}
	return payload
}

func newScenarioPayload(scenario predictions.Scenario) scenarioPayload {
	return scenarioPayload{
		ID:                scenario.ID,
		SnapshotID:        scenario.SnapshotID,
		Scenario:          scenario.Description,
		SimulatedOutcomes: scenario.SimulatedOutcomes,
		CreatedAt:         scenario.CreatedAt.UTC(),
	}
}

func newPredictionRunPayload(outcome predictions.Outcome) predictionRunPayload {
	failures := make([]scenarioFailurePayload, 0)
	for _, scenario := range outcome.Report.Scenarios {
		if scenario.Err == nil {
			continue
		}
		failures = append(failures, scenarioFailurePayload{Scenario: scenario.Description, Error: scenario.Err.Error()})
	}
	return predictionRunPayload{
		Snapshot:         newSnapshotPayload(outcome.Snapshot),
		Result:           outcome.Result,
		ScenariosWritten: outcome.Report.Written(),
		ScenarioFailures: failures,
	}
}

func newHistoryPayload(snapshots []predictions.Snapshot, scenarios []predictions.Scenario) historyPayload {
	payload := historyPayload{
		Predictions: make([]snapshotPayload, 0, len(snapshots)),
		Scenarios:   make([]scenarioPayload, 0, len(scenarios)),
	}
	for _, snapshot := range snapshots {
		payload.Predictions = append(payload.Predictions, newSnapshotPayload(snapshot))
	}
	for _, scenario := range scenarios {
		payload.Scenarios = append(payload.Scenarios, newScenarioPayload(scenario))
	}
	return payload
}

func newSharePayload(share consent.Share) sharePayload {
	return sharePayload{
		PartnerID:    share.PartnerID,
		Consent:      share.Consent,
		SharedFields: share.Fields().Strings(),
		LastShared:   share.LastShared.UTC(),
	}
}
