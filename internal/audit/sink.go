package audit

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/compass/internal/wellness"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opRecord        = "audit.record"
	opListForTarget = "audit.list_for_target"
)

var errMissingDatabase = errors.New("database handle is required")

// SinkConfig describes the dependencies of the audit sink.
type SinkConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider wellness.IDProvider
	Logger     *zap.Logger
}

// Sink appends audit events. Events are never updated or deleted.
type Sink struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider wellness.IDProvider
	logger     *zap.Logger
}

// NewSink constructs a Sink.
func NewSink(cfg SinkConfig) (*Sink, error) {
	if cfg.Database == nil {
		return nil, wellness.NewServiceError("audit.sink.new", "missing_database", errMissingDatabase)
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
	return &Sink{db: cfg.Database, clock: clock, idProvider: idProvider, logger: logger}, nil
}

// Record stores the event, assigning its identifier and timestamp.
func (s *Sink) Record(ctx context.Context, event Event) (Event, error) {
	if strings.TrimSpace(event.ActorID) == "" || event.Action == "" {
		return Event{}, wellness.NewServiceError(opRecord, "incomplete_event", wellness.ErrInvalidInput)
	}
	id, err := s.idProvider.NewID()
	if err != nil {
		return Event{}, wellness.NewServiceError(opRecord, "id_generation_failed", err)
	}
	event.ID = id
	event.CreatedAt = s.clock().UTC()
	if err := s.db.WithContext(ctx).Create(&event).Error; err != nil {
		s.logger.Error("audit insert failed",
			zap.String("operation", opRecord),
			zap.String("action", string(event.Action)),
			zap.String("target_id", event.TargetID),
			zap.Error(err))
		return Event{}, wellness.StorageError(opRecord, "insert_failed", err)
	}
	return event, nil
}

// ListForTarget returns the events recorded against a target row, oldest first.
func (s *Sink) ListForTarget(ctx context.Context, table, targetID string) ([]Event, error) {
	var events []Event
	err := s.db.WithContext(ctx).
		Where("target_table = ? AND target_id = ?", table, targetID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&events).Error
	if err != nil {
		return nil, wellness.StorageError(opListForTarget, "query_failed", err)
	}
	return events, nil
}
