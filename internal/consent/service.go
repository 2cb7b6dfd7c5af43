package consent

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/compass/internal/audit"
	"github.com/MarcoPoloResearchLab/compass/internal/wellness"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opGrant              = "consent.grant"
	opUpdateSharedFields = "consent.update_shared_fields"
	opRevoke             = "consent.revoke"
)

// AuditRecorder appends audit events.
type AuditRecorder interface {
	Record(ctx context.Context, event audit.Event) (audit.Event, error)
}

// ServiceConfig describes the dependencies of the consent mutation service.
type ServiceConfig struct {
	Database   *gorm.DB
	Audit      AuditRecorder
	Clock      func() time.Time
	IDProvider wellness.IDProvider
	Logger     *zap.Logger
}

// Service applies user-initiated consent mutations. Every mutation is audited.
type Service struct {
	db         *gorm.DB
	audit      AuditRecorder
	clock      func() time.Time
	idProvider wellness.IDProvider
	logger     *zap.Logger
}

// NewService constructs a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, wellness.NewServiceError("consent.service.new", "missing_database", errors.New("database handle is required"))
	}
	if cfg.Audit == nil {
		return nil, wellness.NewServiceError("consent.service.new", "missing_audit", errors.New("audit recorder is required"))
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
	return &Service{db: cfg.Database, audit: cfg.Audit, clock: clock, idProvider: idProvider, logger: logger}, nil
}

// Grant creates the share for the pair, or re-enables consent on an existing one.
func (s *Service) Grant(ctx context.Context, userID, partnerID wellness.UserID, fields []string) (Share, error) {
	if userID == partnerID {
		return Share{}, wellness.NewServiceError(opGrant, "self_share", wellness.ErrInvalidInput)
	}
	now := s.clock().UTC()
	normalized := ParseFieldSet(fields).Strings()

	var share Share
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND partner_id = ?", userID.String(), partnerID.String()).
		Take(&share).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		id, idErr := s.idProvider.NewID()
		if idErr != nil {
			return Share{}, wellness.NewServiceError(opGrant, "id_generation_failed", idErr)
		}
		share = Share{
			ID:           id,
			UserID:       userID.String(),
			PartnerID:    partnerID.String(),
			Consent:      true,
			SharedFields: normalized,
			LastShared:   now,
			CreatedAt:    now,
		}
		if err := s.db.WithContext(ctx).Create(&share).Error; err != nil {
			return Share{}, s.storageError(opGrant, "share_insert_failed", err)
		}
	case err != nil:
		return Share{}, s.storageError(opGrant, "share_select_failed", err)
	default:
		share.Consent = true
		share.SharedFields = normalized
		share.LastShared = now
		if err := s.db.WithContext(ctx).Save(&share).Error; err != nil {
			return Share{}, s.storageError(opGrant, "share_update_failed", err)
		}
	}

	if err := s.recordMutation(ctx, opGrant, userID, audit.ActionConsentGranted, share); err != nil {
		return Share{}, err
	}
	return share, nil
}

// UpdateSharedFields replaces the allowed fields of the user's share with partnerID.
func (s *Service) UpdateSharedFields(ctx context.Context, userID, partnerID wellness.UserID, fields []string) (Share, error) {
	share, err := s.loadOwnedShare(ctx, opUpdateSharedFields, userID, partnerID)
	if err != nil {
		return Share{}, err
	}
	share.SharedFields = ParseFieldSet(fields).Strings()
	share.LastShared = s.clock().UTC()
	if err := s.db.WithContext(ctx).Save(&share).Error; err != nil {
		return Share{}, s.storageError(opUpdateSharedFields, "share_update_failed", err)
	}
	if err := s.recordMutation(ctx, opUpdateSharedFields, userID, audit.ActionSharedFieldsUpdated, share); err != nil {
		return Share{}, err
	}
	return share, nil
}

// Revoke clears consent for the pair. Digest rights end immediately.
func (s *Service) Revoke(ctx context.Context, userID, partnerID wellness.UserID) (Share, error) {
	share, err := s.loadOwnedShare(ctx, opRevoke, userID, partnerID)
	if err != nil {
		return Share{}, err
	}
	share.Consent = false
	if err := s.db.WithContext(ctx).Save(&share).Error; err != nil {
		return Share{}, s.storageError(opRevoke, "share_update_failed", err)
	}
	if err := s.recordMutation(ctx, opRevoke, userID, audit.ActionConsentRevoked, share); err != nil {
		return Share{}, err
	}
	return share, nil
}

func (s *Service) loadOwnedShare(ctx context.Context, operation string, userID, partnerID wellness.UserID) (Share, error) {
	var share Share
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND partner_id = ?", userID.String(), partnerID.String()).
		Take(&share).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Share{}, wellness.NewServiceError(operation, "share_not_found", wellness.ErrNotFound)
	}
	if err != nil {
		return Share{}, s.storageError(operation, "share_select_failed", err)
	}
	return share, nil
}

type mutationDetail struct {
	PartnerID    string   `json:"partner_id"`
	Consent      bool     `json:"consent"`
	SharedFields []string `json:"shared_fields"`
}

func (s *Service) recordMutation(ctx context.Context, operation string, actorID wellness.UserID, action audit.Action, share Share) error {
	detail, err := json.Marshal(mutationDetail{
		PartnerID:    share.PartnerID,
		Consent:      share.Consent,
		SharedFields: share.SharedFields,
	})
	if err != nil {
		return wellness.NewServiceError(operation, "audit_detail_failed", err)
	}
	_, err = s.audit.Record(ctx, audit.Event{
		ActorID:     actorID.String(),
		Action:      action,
		TargetTable: audit.TargetPartnerShares,
		TargetID:    share.ID,
		Detail:      string(detail),
	})
	if err != nil {
		s.logger.Error("consent audit failed",
			zap.String("operation", operation),
			zap.String("share_id", share.ID),
			zap.Error(err))
		return wellness.NewServiceError(operation, "audit_failed", err)
	}
	return nil
}

func (s *Service) storageError(operation, reason string, err error) error {
	s.logger.Error("consent service error",
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.Error(err))
	return wellness.StorageError(operation, reason, err)
}
