package predictions

import (
	"context"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/compass/internal/features"
	"github.com/MarcoPoloResearchLab/compass/internal/inference"
	"github.com/MarcoPoloResearchLab/compass/internal/journal"
	"github.com/MarcoPoloResearchLab/compass/internal/users"
	"github.com/MarcoPoloResearchLab/compass/internal/wellness"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServiceRunStoresFallbackSnapshot(t *testing.T) {
	db := openTestDatabase(t)
	require.NoError(t, db.AutoMigrate(&journal.Entry{}, &users.Profile{}))
	now := time.Date(2026, 10, 10, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	ctx := context.Background()

	profiles, err := users.NewService(users.ServiceConfig{Database: db, Clock: clock})
	require.NoError(t, err)
	_, err = profiles.SaveProfile(ctx, users.Profile{ID: "user-1", HealthConcerns: []string{"hot flashes"}})
	require.NoError(t, err)

	logs, err := journal.NewStore(journal.StoreConfig{Database: db, Clock: clock})
	require.NoError(t, err)
	for offset, mood := range []int{2, 4} {
		value := mood
		_, err := logs.Append(ctx, "user-1", journal.Entry{LogDate: now.AddDate(0, 0, offset-3), Mood: &value})
		require.NoError(t, err)
	}

	aggregator, err := features.NewAggregator(features.AggregatorConfig{Logs: logs, Profiles: profiles, Clock: clock})
	require.NoError(t, err)
	writer, err := NewWriter(WriterConfig{Database: db, Clock: clock})
	require.NoError(t, err)
	service, err := NewService(ServiceConfig{
		Profiles:   profiles,
		Aggregator: aggregator,
		Engine:     inference.NewEngine(inference.EngineConfig{}),
		Writer:     writer,
	})
	require.NoError(t, err)

	outcome, err := service.Run(ctx, "user-1")

	require.NoError(t, err)
	assert.Equal(t, inference.StrategyFallback, outcome.Result.Strategy)
	assert.Equal(t, inference.FallbackModelVersion, outcome.Snapshot.ModelVersion)
	assert.Contains(t, outcome.Snapshot.PredictedSymptoms, "hot_flashes")
	assert.Equal(t, 1, outcome.Report.Written())

	snapshots, scenarios, err := service.History(ctx, "user-1", 0)
	require.NoError(t, err)
	require.Len(t, snapshots, 1)
	require.Len(t, scenarios, 1)
	assert.Equal(t, outcome.Snapshot.ID, snapshots[0].ID)
}

func TestServiceRunUnknownUser(t *testing.T) {
	db := openTestDatabase(t)
	require.NoError(t, db.AutoMigrate(&journal.Entry{}, &users.Profile{}))
	profiles, err := users.NewService(users.ServiceConfig{Database: db})
	require.NoError(t, err)
	logs, err := journal.NewStore(journal.StoreConfig{Database: db})
	require.NoError(t, err)
	aggregator, err := features.NewAggregator(features.AggregatorConfig{Logs: logs, Profiles: profiles})
	require.NoError(t, err)
	writer, err := NewWriter(WriterConfig{Database: db})
	require.NoError(t, err)
	service, err := NewService(ServiceConfig{Profiles: profiles, Aggregator: aggregator, Engine: inference.NewEngine(inference.EngineConfig{}), Writer: writer})
	require.NoError(t, err)

	_, err = service.Run(context.Background(), "ghost")

	assert.ErrorIs(t, err, wellness.ErrNotFound)
	var count int64
	require.NoError(t, db.Model(&Snapshot{}).Count(&count).Error)
	assert.Zero(t, count)
}
