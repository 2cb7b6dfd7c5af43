package consent

import (
	"context"
	"errors"

	"github.com/MarcoPoloResearchLab/compass/internal/wellness"
	"gorm.io/gorm"
)

const (
	opFindShare      = "consent.find_share"
	opListConsenting = "consent.list_consenting"
)

// Store is the read surface the pipeline consumes. It never mutates shares.
type Store struct {
	db *gorm.DB
}

// NewStore constructs a Store.
func NewStore(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, wellness.NewServiceError("consent.store.new", "missing_database", errors.New("database handle is required"))
	}
	return &Store{db: db}, nil
}

// FindShare returns the share for the pair, or nil when none exists.
func (s *Store) FindShare(ctx context.Context, userID, partnerID wellness.UserID) (*Share, error) {
	var share Share
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND partner_id = ?", userID.String(), partnerID.String()).
		Take(&share).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, wellness.StorageError(opFindShare, "query_failed", err)
	}
	return &share, nil
}

// ListConsentingShares returns every share with consent granted, in stable id order.
func (s *Store) ListConsentingShares(ctx context.Context) ([]Share, error) {
	var shares []Share
	err := s.db.WithContext(ctx).
		Where("consent = ?", true).
		Order("id ASC").
		Find(&shares).Error
	if err != nil {
		return nil, wellness.StorageError(opListConsenting, "query_failed", err)
	}
	return shares, nil
}
