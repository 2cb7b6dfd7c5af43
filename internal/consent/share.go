package consent

import "time"

// Share governs whether and what a partner may see about a user.
type Share struct {
	ID           string    `gorm:"column:id;primaryKey;size:64;not null"`
	UserID       string    `gorm:"column:user_id;size:190;not null;uniqueIndex:idx_share_pair,priority:1"`
	PartnerID    string    `gorm:"column:partner_id;size:190;not null;uniqueIndex:idx_share_pair,priority:2"`
	Consent      bool      `gorm:"column:consent;not null;default:false;index"`
	SharedFields []string  `gorm:"column:shared_fields;serializer:json"`
	LastShared   time.Time `gorm:"column:last_shared"`
	CreatedAt    time.Time `gorm:"column:created_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Share) TableName() string {
	return "partner_shares"
}

// Fields returns the normalized allowed field set of the share.
func (s Share) Fields() FieldSet {
	return ParseFieldSet(s.SharedFields)
}
