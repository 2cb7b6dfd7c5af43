package predictions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/compass/internal/features"
	"github.com/MarcoPoloResearchLab/compass/internal/inference"
	"github.com/MarcoPoloResearchLab/compass/internal/wellness"
	sqlite "github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type sequenceIDs struct {
	next int
}

func (s *sequenceIDs) NewID() (string, error) {
	s.next++
	return fmt.Sprintf("id-%03d", s.next), nil
}

type steppingClock struct {
	now  time.Time
	step time.Duration
}

func (c *steppingClock) Now() time.Time {
	current := c.now
	c.now = c.now.Add(c.step)
	return current
}

func openTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "predictions.db")), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&Snapshot{}, &Scenario{}))
	return db
}

func newTestWriter(t *testing.T, db *gorm.DB, clock *steppingClock) *Writer {
	t.Helper()
	writer, err := NewWriter(WriterConfig{Database: db, Clock: clock.Now, IDProvider: &sequenceIDs{}})
	require.NoError(t, err)
	return writer
}

func sampleResult(descriptions ...string) inference.Result {
	confidence := 0.7
	result := inference.Result{
		PredictedSymptoms: map[string]float64{"insomnia": 1.4},
		Confidence:        &confidence,
		AutoTags:          []string{"evening_caffeine"},
		Strategy:          inference.StrategyPrimary,
		ModelVersion:      "primary/gpt-test",
	}
	for _, description := range descriptions {
		result.Scenarios = append(result.Scenarios, inference.Scenario{
			Description:       description,
			SimulatedOutcomes: map[string]float64{"mood_up": 0.2},
		})
	}
	return result
}

func TestPersistStoresSnapshotAndScenarios(t *testing.T) {
	db := openTestDatabase(t)
	writer := newTestWriter(t, db, &steppingClock{now: time.Date(2026, 10, 1, 6, 0, 0, 0, time.UTC)})
	avgMood := 3.0
	summary := features.Summary{AvgMood: &avgMood, LogsCount: 2}

	snapshot, report, err := writer.Persist(context.Background(), "user-1", summary, sampleResult("Sleep earlier", "Walk daily"))

	require.NoError(t, err)
	assert.Equal(t, "id-001", snapshot.ID)
	assert.Equal(t, 2, report.Written())
	assert.Zero(t, report.Failed())

	stored, err := writer.Latest(context.Background(), "user-1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "primary/gpt-test", stored.ModelVersion)
	assert.Equal(t, "primary", stored.Strategy)
	assert.Equal(t, map[string]float64{"insomnia": 1.4}, stored.PredictedSymptoms)
	assert.Equal(t, []string{"evening_caffeine"}, stored.AutoTags)
	var vector features.Summary
	require.NoError(t, json.Unmarshal(stored.FeatureVector, &vector))
	assert.Equal(t, 2, vector.LogsCount)

	scenarios, err := writer.RecentScenarios(context.Background(), "user-1", 0)
	require.NoError(t, err)
	require.Len(t, scenarios, 2)
	assert.Equal(t, snapshot.ID, scenarios[0].SnapshotID)
}

func TestPersistIsolatesScenarioFailures(t *testing.T) {
	db := openTestDatabase(t)
	writer := newTestWriter(t, db, &steppingClock{now: time.Date(2026, 10, 1, 6, 0, 0, 0, time.UTC)})
	require.NoError(t, db.Callback().Create().Before("gorm:create").Register("test:fail_scenario", func(tx *gorm.DB) {
		if scenario, ok := tx.Statement.Dest.(*Scenario); ok && scenario.Description == "broken" {
			tx.AddError(errors.New("constraint violated"))
		}
	}))

	snapshot, report, err := writer.Persist(context.Background(), "user-1", features.Summary{}, sampleResult("first", "broken", "third"))

	require.NoError(t, err)
	assert.NotEmpty(t, snapshot.ID)
	require.Len(t, report.Scenarios, 3)
	assert.NoError(t, report.Scenarios[0].Err)
	assert.ErrorIs(t, report.Scenarios[1].Err, wellness.ErrStorageFailure)
	assert.NoError(t, report.Scenarios[2].Err)
	assert.Equal(t, 2, report.Written())
	assert.Equal(t, 1, report.Failed())
}

func TestPersistReportsSnapshotFailureButWritesScenarios(t *testing.T) {
	db := openTestDatabase(t)
	writer := newTestWriter(t, db, &steppingClock{now: time.Date(2026, 10, 1, 6, 0, 0, 0, time.UTC)})
	require.NoError(t, db.Callback().Create().Before("gorm:create").Register("test:fail_snapshot", func(tx *gorm.DB) {
		if _, ok := tx.Statement.Dest.(*Snapshot); ok {
			tx.AddError(errors.New("disk full"))
		}
	}))

	_, report, err := writer.Persist(context.Background(), "user-1", features.Summary{}, sampleResult("only"))

	require.Error(t, err)
	assert.ErrorIs(t, err, wellness.ErrStorageFailure)
	assert.Equal(t, "predictions.persist.snapshot_insert_failed", wellness.ErrorCode(err))
	assert.Equal(t, 1, report.Written())
}

func TestLatestIsStrictMostRecent(t *testing.T) {
	db := openTestDatabase(t)
	clock := &steppingClock{now: time.Date(2026, 10, 1, 6, 0, 0, 0, time.UTC), step: time.Hour}
	writer := newTestWriter(t, db, clock)
	ctx := context.Background()

	latest, err := writer.Latest(ctx, "user-1")
	require.NoError(t, err)
	assert.Nil(t, latest)

	for index := 0; index < 3; index++ {
		_, _, err := writer.Persist(ctx, "user-1", features.Summary{LogsCount: index}, sampleResult())
		require.NoError(t, err)
	}
	_, _, err = writer.Persist(ctx, "user-2", features.Summary{}, sampleResult())
	require.NoError(t, err)

	latest, err = writer.Latest(ctx, "user-1")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "id-003", latest.ID)
	assert.Equal(t, time.Date(2026, 10, 1, 8, 0, 0, 0, time.UTC), latest.CreatedAt.UTC())

	recent, err := writer.Recent(ctx, "user-1", 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "id-003", recent[0].ID)
	assert.Equal(t, "id-002", recent[1].ID)
}

func TestLatestBreaksTimestampTiesById(t *testing.T) {
	db := openTestDatabase(t)
	writer := newTestWriter(t, db, &steppingClock{now: time.Date(2026, 10, 1, 6, 0, 0, 0, time.UTC)})
	ctx := context.Background()

	for index := 0; index < 2; index++ {
		_, _, err := writer.Persist(ctx, "user-1", features.Summary{}, sampleResult())
		require.NoError(t, err)
	}

	latest, err := writer.Latest(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "id-002", latest.ID)
}
