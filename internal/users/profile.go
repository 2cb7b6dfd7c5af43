package users

import (
	"strings"
	"time"
)

// Profile captures the user fields the pipeline reads: demographics, phase and preferences.
type Profile struct {
	ID              string    `gorm:"column:id;primaryKey;size:190;not null"`
	Email           string    `gorm:"column:email;size:320;index"`
	FullName        string    `gorm:"column:full_name;size:320"`
	Age             *int      `gorm:"column:age"`
	Gender          string    `gorm:"column:gender;size:32"`
	MenopausePhase  string    `gorm:"column:menopause_phase;size:64"`
	DietPreferences []string  `gorm:"column:diet_preferences;serializer:json"`
	HealthConcerns  []string  `gorm:"column:health_concerns;serializer:json"`
	CreatedAt       time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing user profiles.
func (Profile) TableName() string {
	return "user_profiles"
}

// DeliveryAddress returns the trimmed email address used for digest delivery.
func (p Profile) DeliveryAddress() string {
	return normalize(p.Email)
}

// normalize value helper used across service implementation.
func normalize(value string) string {
	return strings.TrimSpace(value)
}
