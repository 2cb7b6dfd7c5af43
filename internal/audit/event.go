package audit

import "time"

// Action names a compliance-relevant event.
type Action string

const (
	ActionDigestSent          Action = "digest_sent"
	ActionDigestSendFailed    Action = "digest_send_failed"
	ActionConsentGranted      Action = "consent_granted"
	ActionSharedFieldsUpdated Action = "shared_fields_updated"
	ActionConsentRevoked      Action = "consent_revoked"
)

// Target tables referenced by audit events.
const (
	TargetDigestRecords = "digest_records"
	TargetPartnerShares = "partner_shares"
	TargetUsers         = "user_profiles"
)

// Event is an append-only audit record.
type Event struct {
	ID          string    `gorm:"column:id;primaryKey;size:64;not null"`
	ActorID     string    `gorm:"column:actor_id;size:190;not null;index"`
	Action      Action    `gorm:"column:action;size:64;not null"`
	TargetTable string    `gorm:"column:target_table;size:64;not null;index:idx_audit_target,priority:1"`
	TargetID    string    `gorm:"column:target_id;size:190;not null;index:idx_audit_target,priority:2"`
	Detail      string    `gorm:"column:detail;type:text"`
	CreatedAt   time.Time `gorm:"column:created_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Event) TableName() string {
	return "audit_events"
}
