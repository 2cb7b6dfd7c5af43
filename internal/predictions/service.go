package predictions

import (
	"context"
	"errors"

	"github.com/MarcoPoloResearchLab/compass/internal/features"
	"github.com/MarcoPoloResearchLab/compass/internal/inference"
	"github.com/MarcoPoloResearchLab/compass/internal/users"
	"github.com/MarcoPoloResearchLab/compass/internal/wellness"
	"go.uber.org/zap"
)

// DefaultWindowDays is the log window a prediction run aggregates.
const DefaultWindowDays = 30

type ProfileReader interface {
	FindProfile(ctx context.Context, userID wellness.UserID) (users.Profile, error)
}

type SummaryAggregator interface {
	Aggregate(ctx context.Context, userID wellness.UserID, windowDays int) (features.Summary, error)
}

type Inferrer interface {
	Infer(ctx context.Context, profile users.Profile, summary features.Summary) inference.Result
}

// ServiceConfig wires the prediction trigger.
type ServiceConfig struct {
	Profiles   ProfileReader
	Aggregator SummaryAggregator
	Engine     Inferrer
	Writer     *Writer
	WindowDays int
	Logger     *zap.Logger
}

// Service runs the aggregate, infer and persist pipeline for one user.
type Service struct {
	profiles   ProfileReader
	aggregator SummaryAggregator
	engine     Inferrer
	writer     *Writer
	windowDays int
	logger     *zap.Logger
}

// Outcome is the product of one prediction run.
type Outcome struct {
	Snapshot Snapshot
	Result   inference.Result
	Report   PersistReport
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Profiles == nil || cfg.Aggregator == nil || cfg.Engine == nil || cfg.Writer == nil {
		return nil, wellness.NewServiceError("predictions.service.new", "missing_dependency", errors.New("profiles, aggregator, engine and writer are required"))
	}
	windowDays := cfg.WindowDays
	if windowDays <= 0 {
		windowDays = DefaultWindowDays
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		profiles:   cfg.Profiles,
		aggregator: cfg.Aggregator,
		engine:     cfg.Engine,
		writer:     cfg.Writer,
		windowDays: windowDays,
		logger:     logger,
	}, nil
}

// Run produces and stores a new snapshot for the user.
func (s *Service) Run(ctx context.Context, userID wellness.UserID) (Outcome, error) {
	profile, err := s.profiles.FindProfile(ctx, userID)
	if err != nil {
		return Outcome{}, err
	}
	summary, err := s.aggregator.Aggregate(ctx, userID, s.windowDays)
	if err != nil {
		return Outcome{}, err
	}
	result := s.engine.Infer(ctx, profile, summary)
	snapshot, report, err := s.writer.Persist(ctx, userID, summary, result)
	if err != nil {
		return Outcome{Result: result, Report: report}, err
	}
	s.logger.Info("prediction stored",
		zap.String("user_id", userID.String()),
		zap.String("snapshot_id", snapshot.ID),
		zap.String("model_version", snapshot.ModelVersion),
		zap.Int("scenarios_written", report.Written()),
		zap.Int("scenarios_failed", report.Failed()))
	return Outcome{Snapshot: snapshot, Result: result, Report: report}, nil
}

// History returns the latest snapshots and scenarios for the user.
func (s *Service) History(ctx context.Context, userID wellness.UserID, limit int) ([]Snapshot, []Scenario, error) {
	snapshots, err := s.writer.Recent(ctx, userID, limit)
	if err != nil {
		return nil, nil, err
	}
	scenarios, err := s.writer.RecentScenarios(ctx, userID, limit)
	if err != nil {
		return nil, nil, err
	}
	return snapshots, scenarios, nil
}
