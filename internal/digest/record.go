package digest

import "time"

// Record is the write-once fact that a digest was delivered.
type Record struct {
	ID           string    `gorm:"column:id;primaryKey;size:64;not null"`
	UserID       string    `gorm:"column:user_id;size:190;not null;index:idx_digest_pair,priority:1"`
	PartnerID    string    `gorm:"column:partner_id;size:190;not null;index:idx_digest_pair,priority:2"`
	DigestType   string    `gorm:"column:digest_type;size:32;not null"`
	FieldsShared []string  `gorm:"column:fields_shared;serializer:json"`
	SentAt       time.Time `gorm:"column:sent_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Record) TableName() string {
	return "digest_records"
}
