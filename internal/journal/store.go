package journal

import (
	"context"
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/compass/internal/wellness"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opStoreNew  = "journal.store.new"
	opListSince = "journal.list_since"
	opAppend    = "journal.append"
)

var errMissingDatabase = errors.New("database handle is required")

// StoreConfig describes the dependencies of the log store.
type StoreConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider wellness.IDProvider
	Logger     *zap.Logger
}

// Store reads and appends wellness log entries.
type Store struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider wellness.IDProvider
	logger     *zap.Logger
}

// NewStore constructs a Store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, wellness.NewServiceError(opStoreNew, "missing_database", errMissingDatabase)
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
	return &Store{db: cfg.Database, clock: clock, idProvider: idProvider, logger: logger}, nil
}

// ListSince returns the user's entries dated on or after since, oldest first.
func (s *Store) ListSince(ctx context.Context, userID wellness.UserID, since time.Time) ([]Entry, error) {
	var entries []Entry
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND log_date >= ?", userID.String(), since.UTC()).
		Order("log_date ASC").
		Order("created_at ASC").
		Find(&entries).Error
	if err != nil {
		s.logger.Error("journal query failed",
			zap.String("operation", opListSince),
			zap.String("user_id", userID.String()),
			zap.Error(err))
		return nil, wellness.StorageError(opListSince, "query_failed", err)
	}
	return entries, nil
}

// Append stores a new entry for the user and returns it with its assigned identifier.
func (s *Store) Append(ctx context.Context, userID wellness.UserID, entry Entry) (Entry, error) {
	if entry.LogDate.IsZero() {
		return Entry{}, wellness.NewServiceError(opAppend, "missing_log_date", wellness.ErrInvalidInput)
	}
	id, err := s.idProvider.NewID()
	if err != nil {
		return Entry{}, wellness.NewServiceError(opAppend, "id_generation_failed", err)
	}
	entry.ID = id
	entry.UserID = userID.String()
	entry.LogDate = entry.LogDate.UTC()
	entry.CreatedAt = s.clock().UTC()
	if err := s.db.WithContext(ctx).Create(&entry).Error; err != nil {
		s.logger.Error("journal insert failed",
			zap.String("operation", opAppend),
			zap.String("user_id", userID.String()),
			zap.Error(err))
		return Entry{}, wellness.StorageError(opAppend, "insert_failed", err)
	}
	return entry, nil
}
