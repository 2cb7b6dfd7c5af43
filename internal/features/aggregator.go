package features

import (
	"context"
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/compass/internal/journal"
	"github.com/MarcoPoloResearchLab/compass/internal/users"
	"github.com/MarcoPoloResearchLab/compass/internal/wellness"
)

const opAggregate = "features.aggregate"

// LogReader lists a user's log entries dated on or after since, oldest first.
type LogReader interface {
	ListSince(ctx context.Context, userID wellness.UserID, since time.Time) ([]journal.Entry, error)
}

// ProfileReader resolves user profiles.
type ProfileReader interface {
	FindProfile(ctx context.Context, userID wellness.UserID) (users.Profile, error)
}

// AggregatorConfig describes the dependencies of the Aggregator.
type AggregatorConfig struct {
	Logs     LogReader
	Profiles ProfileReader
	Clock    func() time.Time
}

// Aggregator turns a user's raw log history into a Summary.
type Aggregator struct {
	logs     LogReader
	profiles ProfileReader
	clock    func() time.Time
}

// NewAggregator constructs an Aggregator.
func NewAggregator(cfg AggregatorConfig) (*Aggregator, error) {
	if cfg.Logs == nil || cfg.Profiles == nil {
		return nil, wellness.NewServiceError("features.aggregator.new", "missing_dependency", errors.New("log and profile readers are required"))
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Aggregator{logs: cfg.Logs, profiles: cfg.Profiles, clock: clock}, nil
}

// Aggregate summarizes the user's logs within the last windowDays calendar days.
// It fails with wellness.ErrNotFound when the user does not exist.
func (a *Aggregator) Aggregate(ctx context.Context, userID wellness.UserID, windowDays int) (Summary, error) {
	if windowDays <= 0 {
		return Summary{}, wellness.NewServiceError(opAggregate, "invalid_window", wellness.ErrInvalidInput)
	}
	if _, err := a.profiles.FindProfile(ctx, userID); err != nil {
		return Summary{}, err
	}
	entries, err := a.logs.ListSince(ctx, userID, WindowStart(a.clock(), windowDays))
	if err != nil {
		return Summary{}, err
	}
	return Summarize(entries), nil
}

// WindowStart returns the UTC midnight windowDays before now.
func WindowStart(now time.Time, windowDays int) time.Time {
	utc := now.UTC()
	midnight := time.Date(utc.Year(), utc.Month(), utc.Day(), 0, 0, 0, 0, time.UTC)
	return midnight.AddDate(0, 0, -windowDays)
}
