package users

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/compass/internal/wellness"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	opFindProfile = "users.find_profile"
	opSaveProfile = "users.save_profile"
)

// ServiceConfig describes the dependencies required for profile lookups.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
}

// Service reads and writes user profiles.
type Service struct {
	db  *gorm.DB
	now func() time.Time
}

// NewService constructs the profile service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{db: cfg.Database, now: clock}, nil
}

// FindProfile returns the profile for userID, or an error wrapping wellness.ErrNotFound.
func (s *Service) FindProfile(ctx context.Context, userID wellness.UserID) (Profile, error) {
	var profile Profile
	err := s.db.WithContext(ctx).Where("id = ?", userID.String()).Take(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Profile{}, wellness.NewServiceError(opFindProfile, "user_not_found", wellness.ErrNotFound)
	}
	if err != nil {
		return Profile{}, wellness.StorageError(opFindProfile, "query_failed", err)
	}
	return profile, nil
}

// SaveProfile inserts or replaces the profile keyed by its identifier.
func (s *Service) SaveProfile(ctx context.Context, profile Profile) (Profile, error) {
	userID, err := wellness.NewUserID(profile.ID)
	if err != nil {
		return Profile{}, wellness.NewServiceError(opSaveProfile, "invalid_user_id", err)
	}
	profile.ID = userID.String()
	profile.Email = normalize(profile.Email)
	profile.FullName = normalize(profile.FullName)
	if profile.CreatedAt.IsZero() {
		profile.CreatedAt = s.now().UTC()
	}
	profile.UpdatedAt = s.now().UTC()

	err = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&profile).Error
	if err != nil {
		return Profile{}, wellness.StorageError(opSaveProfile, "upsert_failed", err)
	}
	return profile, nil
}
