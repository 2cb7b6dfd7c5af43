package predictions

import (
	"time"

	"gorm.io/datatypes"
)

// Snapshot is an immutable inference result for a user.
type Snapshot struct {
	ID                string             `gorm:"column:id;primaryKey;size:64;not null"`
	UserID            string             `gorm:"column:user_id;size:190;not null;index:idx_snapshot_user_created,priority:1"`
	FeatureVector     datatypes.JSON     `gorm:"column:feature_vector"`
	PredictedSymptoms map[string]float64 `gorm:"column:predicted_symptoms;serializer:json"`
	AutoTags          []string           `gorm:"column:auto_tags;serializer:json"`
	Confidence        *float64           `gorm:"column:confidence"`
	Strategy          string             `gorm:"column:strategy;size:16;not null"`
	ModelVersion      string             `gorm:"column:model_version;size:128;not null"`
	CreatedAt         time.Time          `gorm:"column:created_at;not null;index:idx_snapshot_user_created,priority:2"`
}

// TableName provides the explicit table binding for GORM.
func (Snapshot) TableName() string {
	return "prediction_snapshots"
}

// Scenario is a what-if projection produced alongside a snapshot.
type Scenario struct {
	ID                string             `gorm:"column:id;primaryKey;size:64;not null"`
	UserID            string             `gorm:"column:user_id;size:190;not null;index:idx_scenario_user_created,priority:1"`
	SnapshotID        string             `gorm:"column:snapshot_id;size:64;index"`
	Description       string             `gorm:"column:scenario;type:text;not null"`
	SimulatedOutcomes map[string]float64 `gorm:"column:simulated_outcomes;serializer:json"`
	CreatedAt         time.Time          `gorm:"column:created_at;not null;index:idx_scenario_user_created,priority:2"`
}

// TableName provides the explicit table binding for GORM.
func (Scenario) TableName() string {
	return "digital_twin_scenarios"
}
