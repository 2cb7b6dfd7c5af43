package digest

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/compass/internal/audit"
	"github.com/MarcoPoloResearchLab/compass/internal/consent"
	"github.com/MarcoPoloResearchLab/compass/internal/features"
	"github.com/MarcoPoloResearchLab/compass/internal/inference"
	"github.com/MarcoPoloResearchLab/compass/internal/journal"
	"github.com/MarcoPoloResearchLab/compass/internal/notify"
	"github.com/MarcoPoloResearchLab/compass/internal/predictions"
	"github.com/MarcoPoloResearchLab/compass/internal/users"
	"github.com/MarcoPoloResearchLab/compass/internal/wellness"
	sqlite "github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var testNow = time.Date(2026, 10, 8, 10, 0, 0, 0, time.UTC)

const secretNote = "felt anxious before the appointment"

type countingLogs struct {
	inner *journal.Store
	reads atomic.Int32
}

func (c *countingLogs) ListSince(ctx context.Context, userID wellness.UserID, since time.Time) ([]journal.Entry, error) {
	c.reads.Add(1)
	return c.inner.ListSince(ctx, userID, since)
}

type memoryGuard struct {
	keys     map[string]bool
	released []string
}

func newMemoryGuard() *memoryGuard {
	return &memoryGuard{keys: map[string]bool{}}
}

func (g *memoryGuard) Acquire(_ context.Context, key string) (bool, error) {
	if g.keys[key] {
		return false, nil
	}
	g.keys[key] = true
	return true, nil
}

func (g *memoryGuard) Release(_ context.Context, key string) error {
	delete(g.keys, key)
	g.released = append(g.released, key)
	return nil
}

type harness struct {
	db       *gorm.DB
	logs     *countingLogs
	sink     *audit.Sink
	shares   *consent.Store
	consents *consent.Service
	composer *Composer
}

type harnessOptions struct {
	sender   notify.Sender
	guard    Guard
	narrator *Narrator
	// profiles overrides the composer's partner lookup only.
	profiles ProfileReader
}

func newHarness(t *testing.T, options harnessOptions) *harness {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "digest.db")), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&users.Profile{}, &journal.Entry{}, &consent.Share{}, &audit.Event{}, &predictions.Snapshot{}, &predictions.Scenario{}, &Record{}))

	clock := func() time.Time { return testNow }
	ctx := context.Background()

	profiles, err := users.NewService(users.ServiceConfig{Database: db, Clock: clock})
	require.NoError(t, err)
	for _, profile := range []users.Profile{
		{ID: "user-1", Email: "user@example.com", FullName: "Dana Example"},
		{ID: "partner-1", Email: " partner@example.com "},
		{ID: "partner-2"},
	} {
		_, err := profiles.SaveProfile(ctx, profile)
		require.NoError(t, err)
	}

	store, err := journal.NewStore(journal.StoreConfig{Database: db, Clock: clock})
	require.NoError(t, err)
	moods := []int{2, 4}
	sleeps := []float64{6, 7}
	for index := range moods {
		note := secretNote
		_, err := store.Append(ctx, "user-1", journal.Entry{
			LogDate:    testNow.AddDate(0, 0, index*2-5),
			Mood:       &moods[index],
			SleepHours: &sleeps[index],
			Notes:      &note,
		})
		require.NoError(t, err)
	}
	logs := &countingLogs{inner: store}

	writer, err := predictions.NewWriter(predictions.WriterConfig{Database: db, Clock: clock})
	require.NoError(t, err)
	confidence := 0.62
	_, _, err = writer.Persist(ctx, "user-1", features.Summary{}, inference.Result{
		PredictedSymptoms: map[string]float64{"hot_flashes": 1.7, "insomnia": 1.2},
		Confidence:        &confidence,
		Strategy:          inference.StrategyPrimary,
		ModelVersion:      "primary/gpt-test",
	})
	require.NoError(t, err)

	sink, err := audit.NewSink(audit.SinkConfig{Database: db, Clock: clock})
	require.NoError(t, err)
	consents, err := consent.NewService(consent.ServiceConfig{Database: db, Audit: sink, Clock: clock})
	require.NoError(t, err)
	shares, err := consent.NewStore(db)
	require.NoError(t, err)

	aggregator, err := features.NewAggregator(features.AggregatorConfig{Logs: logs, Profiles: profiles, Clock: clock})
	require.NoError(t, err)

	var partnerProfiles ProfileReader = profiles
	if options.profiles != nil {
		partnerProfiles = options.profiles
	}

	sender := options.sender
	if sender == nil {
		sender = notify.NewLogSender(nil)
	}
	composer, err := NewComposer(ComposerConfig{
		Database:   db,
		Shares:     shares,
		Aggregator: aggregator,
		Snapshots:  writer,
		Profiles:   partnerProfiles,
		Narrator:   options.narrator,
		Sender:     sender,
		Audit:      sink,
		Guard:      options.guard,
		Clock:      clock,
		From:       "digest@compass.example",
	})
	require.NoError(t, err)

	return &harness{db: db, logs: logs, sink: sink, shares: shares, consents: consents, composer: composer}
}

func (h *harness) grant(t *testing.T, partnerID wellness.UserID, fields ...string) consent.Share {
	t.Helper()
	share, err := h.consents.Grant(context.Background(), "user-1", partnerID, fields)
	require.NoError(t, err)
	return share
}

func (h *harness) count(t *testing.T, model any) int64 {
	t.Helper()
	var total int64
	require.NoError(t, h.db.Model(model).Count(&total).Error)
	return total
}

func (h *harness) digestAuditEvents(t *testing.T) []audit.Event {
	t.Helper()
	var events []audit.Event
	require.NoError(t, h.db.
		Where("action IN ?", []audit.Action{audit.ActionDigestSent, audit.ActionDigestSendFailed}).
		Order("created_at ASC").Find(&events).Error)
	return events
}
