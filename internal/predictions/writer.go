package predictions

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/compass/internal/features"
	"github.com/MarcoPoloResearchLab/compass/internal/inference"
	"github.com/MarcoPoloResearchLab/compass/internal/wellness"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	opPersist         = "predictions.persist"
	opLatest          = "predictions.latest"
	opRecent          = "predictions.recent"
	opRecentScenarios = "predictions.recent_scenarios"

	// DefaultHistoryLimit bounds history reads when the caller passes no limit.
	DefaultHistoryLimit = 5
	maxHistoryLimit     = 100
)

// ScenarioOutcome reports the write result of one scenario.
type ScenarioOutcome struct {
	Description string
	ScenarioID  string
	Err         error
}

// PersistReport aggregates the independent scenario writes of one persist call.
type PersistReport struct {
	Scenarios []ScenarioOutcome
}

// Written counts scenarios stored successfully.
func (r PersistReport) Written() int {
	count := 0
	for _, outcome := range r.Scenarios {
		if outcome.Err == nil {
			count++
		}
	}
	return count
}

// Failed counts scenarios that could not be stored.
func (r PersistReport) Failed() int {
	return len(r.Scenarios) - r.Written()
}

// WriterConfig describes the dependencies of the Writer.
type WriterConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider wellness.IDProvider
	Logger     *zap.Logger
}

// Writer persists inference results and serves prediction history.
type Writer struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider wellness.IDProvider
	logger     *zap.Logger
}

// NewWriter constructs a Writer.
func NewWriter(cfg WriterConfig) (*Writer, error) {
	if cfg.Database == nil {
		return nil, wellness.NewServiceError("predictions.writer.new", "missing_database", errors.New("database handle is required"))
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	idProvider := cfg.IDProvider
	if idProvider == nil {
		idProvider = wellness.NewUUIDProvider()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{db: cfg.Database, clock: clock, idProvider: idProvider, logger: logger}, nil
}

// Persist stores the snapshot, then each scenario as an independent best-effort write.
// A snapshot failure is returned, but scenario writes are still attempted.
func (w *Writer) Persist(ctx context.Context, userID wellness.UserID, summary features.Summary, result inference.Result) (Snapshot, PersistReport, error) {
	now := w.clock().UTC()
	snapshot, snapshotErr := w.insertSnapshot(ctx, userID, summary, result, now)

	report := PersistReport{Scenarios: make([]ScenarioOutcome, 0, len(result.Scenarios))}
	for _, scenario := range result.Scenarios {
		outcome := ScenarioOutcome{Description: scenario.Description}
		row, err := w.insertScenario(ctx, userID, snapshot.ID, scenario, now)
		if err != nil {
			outcome.Err = err
			w.logger.Warn("scenario write failed",
				zap.String("operation", opPersist),
				zap.String("user_id", userID.String()),
				zap.String("scenario", scenario.Description),
				zap.Error(err))
		} else {
			outcome.ScenarioID = row.ID
		}
		report.Scenarios = append(report.Scenarios, outcome)
	}

	if snapshotErr != nil {
		return Snapshot{}, report, snapshotErr
	}
	return snapshot, report, nil
}

func (w *Writer) insertSnapshot(ctx context.Context, userID wellness.UserID, summary features.Summary, result inference.Result, now time.Time) (Snapshot, error) {
	vector, err := json.Marshal(summary)
	if err != nil {
		return Snapshot{}, wellness.NewServiceError(opPersist, "feature_vector_encode_failed", err)
	}
	id, err := w.idProvider.NewID()
	if err != nil {
		return Snapshot{}, wellness.NewServiceError(opPersist, "id_generation_failed", err)
	}
	autoTags := result.AutoTags
	if autoTags == nil {
		autoTags = []string{}
	}
	snapshot := Snapshot{
		ID:                id,
		UserID:            userID.String(),
		FeatureVector:     datatypes.JSON(vector),
		PredictedSymptoms: result.PredictedSymptoms,
		AutoTags:          autoTags,
		Confidence:        result.Confidence,
		Strategy:          string(result.Strategy),
		ModelVersion:      result.ModelVersion,
		CreatedAt:         now,
	}
	if err := w.db.WithContext(ctx).Create(&snapshot).Error; err != nil {
		w.logger.Error("snapshot write failed",
			zap.String("operation", opPersist),
			zap.String("user_id", userID.String()),
			zap.Error(err))
		return Snapshot{}, wellness.StorageError(opPersist, "snapshot_insert_failed", err)
	}
	return snapshot, nil
}

func (w *Writer) insertScenario(ctx context.Context, userID wellness.UserID, snapshotID string, scenario inference.Scenario, now time.Time) (Scenario, error) {
	id, err := w.idProvider.NewID()
	if err != nil {
		return Scenario{}, wellness.NewServiceError(opPersist, "id_generation_failed", err)
	}
	row := Scenario{
		ID:                id,
		UserID:            userID.String(),
		SnapshotID:        snapshotID,
		Description:       scenario.Description,
		SimulatedOutcomes: scenario.SimulatedOutcomes,
		CreatedAt:         now,
	}
	if err := w.db.WithContext(ctx).Create(&row).Error; err != nil {
		return Scenario{}, wellness.StorageError(opPersist, "scenario_insert_failed", err)
	}
	return row, nil
}

// Latest returns the most recent snapshot by created_at, or nil when the user has none.
// Ties on created_at resolve to the later time-ordered id.
func (w *Writer) Latest(ctx context.Context, userID wellness.UserID) (*Snapshot, error) {
	var snapshot Snapshot
	err := w.db.WithContext(ctx).
		Where("user_id = ?", userID.String()).
		Order("created_at DESC").
		Order("id DESC").
		Take(&snapshot).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, wellness.StorageError(opLatest, "query_failed", err)
	}
	return &snapshot, nil
}

// Recent returns up to limit snapshots, newest first.
func (w *Writer) Recent(ctx context.Context, userID wellness.UserID, limit int) ([]Snapshot, error) {
	var snapshots []Snapshot
	err := w.db.WithContext(ctx).
		Where("user_id = ?", userID.String()).
		Order("created_at DESC").
		Order("id DESC").
		Limit(normalizeLimit(limit)).
		Find(&snapshots).Error
	if err != nil {
		return nil, wellness.StorageError(opRecent, "query_failed", err)
	}
	return snapshots, nil
}

// RecentScenarios returns up to limit scenarios, newest first.
func (w *Writer) RecentScenarios(ctx context.Context, userID wellness.UserID, limit int) ([]Scenario, error) {
	var scenarios []Scenario
	err := w.db.WithContext(ctx).
		Where("user_id = ?", userID.String()).
		Order("created_at DESC").
		Order("id DESC").
		Limit(normalizeLimit(limit)).
		Find(&scenarios).Error
	if err != nil {
		return nil, wellness.StorageError(opRecentScenarios, "query_failed", err)
	}
	return scenarios, nil
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		return maxHistoryLimit
	}
	return limit
}
