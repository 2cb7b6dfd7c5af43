package journal

import "time"

// Entry is a single self-reported wellness log. Entries are immutable once created.
type Entry struct {
	ID          string    `gorm:"column:id;primaryKey;size:64;not null"`
	UserID      string    `gorm:"column:user_id;size:190;not null;index:idx_journal_user_date,priority:1"`
	LogDate     time.Time `gorm:"column:log_date;not null;index:idx_journal_user_date,priority:2"`
	Mood        *int      `gorm:"column:mood"`
	SleepHours  *float64  `gorm:"column:sleep_hours"`
	EnergyLevel *string   `gorm:"column:energy_level;size:32"`
	Symptoms    []string  `gorm:"column:symptoms;serializer:json"`
	Notes       *string   `gorm:"column:notes;type:text"`
	CreatedAt   time.Time `gorm:"column:created_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Entry) TableName() string {
	return "symptom_logs"
}
