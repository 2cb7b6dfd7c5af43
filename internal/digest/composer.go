package digest

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/compass/internal/audit"
	"github.com/MarcoPoloResearchLab/compass/internal/consent"
	"github.com/MarcoPoloResearchLab/compass/internal/features"
	"github.com/MarcoPoloResearchLab/compass/internal/notify"
	"github.com/MarcoPoloResearchLab/compass/internal/predictions"
	"github.com/MarcoPoloResearchLab/compass/internal/users"
	"github.com/MarcoPoloResearchLab/compass/internal/wellness"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opCompose = "digest.compose"
	opSend    = "digest.send"

	DefaultWindowDays = 7
	DefaultDigestType = "weekly"
)

// Mode selects between a pure preview and an actual send.
type Mode string

const (
	ModePreview Mode = "preview"
	ModeSend    Mode = "send"
)

// DeliveryStatus describes what a send-mode compose did.
type DeliveryStatus string

const (
	DeliverySent    DeliveryStatus = "sent"
	DeliverySkipped DeliveryStatus = "skipped"
)

type ShareFinder interface {
	FindShare(ctx context.Context, userID, partnerID wellness.UserID) (*consent.Share, error)
}

type SummaryAggregator interface {
	Aggregate(ctx context.Context, userID wellness.UserID, windowDays int) (features.Summary, error)
}

type SnapshotReader interface {
	Latest(ctx context.Context, userID wellness.UserID) (*predictions.Snapshot, error)
}

type ProfileReader interface {
	FindProfile(ctx context.Context, userID wellness.UserID) (users.Profile, error)
}

type AuditRecorder interface {
	Record(ctx context.Context, event audit.Event) (audit.Event, error)
}

// Request asks for one user to partner digest.
type Request struct {
	UserID    wellness.UserID
	PartnerID wellness.UserID
	// AllowedFields narrows the share's fields. Nil means the share's fields as stored.
	AllowedFields []string
	Mode          Mode
	// ActorID is recorded on audit events. Empty means the user.
	ActorID string
}

// Delivery reports the outcome of a send.
type Delivery struct {
	Status   DeliveryStatus `json:"status"`
	RecordID string         `json:"record_id,omitempty"`
}

// Payload is the composed digest.
type Payload struct {
	Summary      Summary   `json:"summary"`
	Subject      string    `json:"subject"`
	HTML         string    `json:"html"`
	Text         string    `json:"text"`
	FieldsShared []string  `json:"fields_shared"`
	Delivery     *Delivery `json:"delivery,omitempty"`
}

// ComposerConfig wires the Composer.
type ComposerConfig struct {
	Database   *gorm.DB
	Shares     ShareFinder
	Aggregator SummaryAggregator
	Snapshots  SnapshotReader
	Profiles   ProfileReader
	Narrator   *Narrator
	Sender     notify.Sender
	Audit      AuditRecorder
	Guard      Guard
	IDProvider wellness.IDProvider
	Clock      func() time.Time
	Logger     *zap.Logger

	WindowDays int
	DigestType string
	From       string
}

// Composer builds consent-scoped digests and, in send mode, delivers them.
type Composer struct {
	db         *gorm.DB
	shares     ShareFinder
	aggregator SummaryAggregator
	snapshots  SnapshotReader
	profiles   ProfileReader
	narrator   *Narrator
	sender     notify.Sender
	audit      AuditRecorder
	guard      Guard
	idProvider wellness.IDProvider
	clock      func() time.Time
	logger     *zap.Logger
	windowDays int
	digestType string
	from       string
}

func NewComposer(cfg ComposerConfig) (*Composer, error) {
	if cfg.Database == nil || cfg.Shares == nil || cfg.Aggregator == nil || cfg.Snapshots == nil ||
		cfg.Profiles == nil || cfg.Sender == nil || cfg.Audit == nil {
		return nil, wellness.NewServiceError("digest.composer.new", "missing_dependency", errors.New("database, shares, aggregator, snapshots, profiles, sender and audit are required"))
	}
	composer := &Composer{
		db:         cfg.Database,
		shares:     cfg.Shares,
		aggregator: cfg.Aggregator,
		snapshots:  cfg.Snapshots,
		profiles:   cfg.Profiles,
		narrator:   cfg.Narrator,
		sender:     cfg.Sender,
		audit:      cfg.Audit,
		guard:      cfg.Guard,
		idProvider: cfg.IDProvider,
		clock:      cfg.Clock,
		logger:     cfg.Logger,
		windowDays: cfg.WindowDays,
		digestType: strings.TrimSpace(cfg.DigestType),
		from:       cfg.From,
	}
	if composer.narrator == nil {
		composer.narrator = NewNarrator(NarratorConfig{Clock: cfg.Clock, Logger: cfg.Logger})
	}
	if composer.guard == nil {
		composer.guard = NoopGuard{}
	}
	if composer.idProvider == nil {
		composer.idProvider = wellness.NewUUIDProvider()
	}
	if composer.clock == nil {
		composer.clock = time.Now
	}
	if composer.logger == nil {
		composer.logger = zap.NewNop()
	}
	if composer.windowDays <= 0 {
		composer.windowDays = DefaultWindowDays
	}
	if composer.digestType == "" {
		composer.digestType = DefaultDigestType
	}
	return composer, nil
}

// Compose checks consent before reading any user data, then builds the redacted digest.
// Preview never writes; send delivers, records and audits.
func (c *Composer) Compose(ctx context.Context, request Request) (Payload, error) {
	if request.Mode != ModePreview && request.Mode != ModeSend {
		return Payload{}, wellness.NewServiceError(opCompose, "invalid_mode", wellness.ErrInvalidInput)
	}
	if request.UserID == "" || request.PartnerID == "" {
		return Payload{}, wellness.NewServiceError(opCompose, "missing_pair", wellness.ErrInvalidInput)
	}

	share, err := c.requireConsent(ctx, opCompose, request)
	if err != nil {
		return Payload{}, err
	}

	allowed := share.Fields()
	if request.AllowedFields != nil {
		allowed = consent.ParseFieldSet(request.AllowedFields).Intersect(allowed)
	}

	now := c.clock().UTC()
	data, err := c.aggregator.Aggregate(ctx, request.UserID, c.windowDays)
	if err != nil {
		return Payload{}, err
	}
	var snapshot *predictions.Snapshot
	if allowed.Has(consent.FieldAIPrediction) {
		snapshot, err = c.snapshots.Latest(ctx, request.UserID)
		if err != nil {
			return Payload{}, err
		}
	}

	summary := redact(c.digestType, newPeriod(features.WindowStart(now, c.windowDays), now), data, snapshot, allowed)
	if allowed.HasAny(narrativeTags...) {
		narrative := c.narrator.Narrate(ctx, summary)
		if allowed.Has(consent.FieldPartnerSummary) {
			text := narrative.PartnerSummary
			summary.PartnerSummary = &text
		}
		if allowed.Has(consent.FieldAcademyLesson) {
			text := narrative.AcademyLesson
			summary.AcademyLesson = &text
		}
		if allowed.Has(consent.FieldDoDont) {
			summary.DoDont = &DoDont{Do: narrative.Do, Dont: narrative.Dont}
		}
	}

	html, text, err := Render(summary)
	if err != nil {
		return Payload{}, wellness.NewServiceError(opCompose, "render_failed", err)
	}
	payload := Payload{
		Summary:      summary,
		Subject:      Subject(summary),
		HTML:         html,
		Text:         text,
		FieldsShared: allowed.Strings(),
	}
	if request.Mode == ModePreview {
		return payload, nil
	}

	delivery, err := c.deliver(ctx, request, payload)
	if err != nil {
		return Payload{}, err
	}
	payload.Delivery = &delivery
	return payload, nil
}

func (c *Composer) requireConsent(ctx context.Context, operation string, request Request) (*consent.Share, error) {
	share, err := c.shares.FindShare(ctx, request.UserID, request.PartnerID)
	if err != nil {
		return nil, err
	}
	if share == nil {
		return nil, wellness.NewServiceError(operation, "consent_missing", wellness.ErrConsent)
	}
	if !share.Consent {
		return nil, wellness.NewServiceError(operation, "consent_revoked", wellness.ErrConsent)
	}
	return share, nil
}

func (c *Composer) deliver(ctx context.Context, request Request, payload Payload) (Delivery, error) {
	actorID := strings.TrimSpace(request.ActorID)
	if actorID == "" {
		actorID = request.UserID.String()
	}

	share, err := c.requireConsent(ctx, opSend, request)
	if err != nil {
		if errors.Is(err, wellness.ErrConsent) {
			c.recordAttempt(ctx, actorID, audit.ActionDigestSendFailed, audit.TargetPartnerShares, "", request, payload, "consent_revoked")
		}
		return Delivery{}, err
	}

	address, err := c.partnerAddress(ctx, request.PartnerID)
	if err != nil {
		c.recordAttempt(ctx, actorID, audit.ActionDigestSendFailed, audit.TargetPartnerShares, share.ID, request, payload, "partner_lookup_failed: "+err.Error())
		return Delivery{}, err
	}
	if address == "" {
		c.recordAttempt(ctx, actorID, audit.ActionDigestSendFailed, audit.TargetPartnerShares, share.ID, request, payload, "missing_partner_address")
		return Delivery{}, wellness.NewServiceError(opSend, "missing_partner_address", wellness.ErrDeliveryFailure)
	}

	key := GuardKey(request.UserID.String(), request.PartnerID.String(), c.digestType, payload.Summary.Period.From)
	acquired, err := c.guard.Acquire(ctx, key)
	if err != nil {
		c.logger.Warn("digest guard unavailable, sending without it", zap.String("key", key), zap.Error(err))
		acquired = true
	}
	if !acquired {
		c.logger.Info("digest already sent for period", zap.String("key", key))
		return Delivery{Status: DeliverySkipped}, nil
	}

	message := notify.Message{
		From:    c.from,
		To:      address,
		Subject: payload.Subject,
		HTML:    payload.HTML,
		Text:    payload.Text,
	}
	if err := c.sender.Send(ctx, message); err != nil {
		c.releaseGuard(ctx, key)
		c.recordAttempt(ctx, actorID, audit.ActionDigestSendFailed, audit.TargetPartnerShares, share.ID, request, payload, "sender_rejected")
		c.logger.Warn("digest delivery failed",
			zap.String("user_id", request.UserID.String()),
			zap.String("partner_id", request.PartnerID.String()),
			zap.Error(err))
		return Delivery{}, wellness.NewServiceError(opSend, "sender_rejected", errors.Join(wellness.ErrDeliveryFailure, err))
	}

	// The digest is out; the guard stays held so a retry cannot deliver it twice.
	record, err := c.insertRecord(ctx, request, payload.FieldsShared)
	if err != nil {
		c.recordAttempt(ctx, actorID, audit.ActionDigestSent, audit.TargetPartnerShares, share.ID, request, payload, "record_insert_failed: "+err.Error())
		return Delivery{}, err
	}
	if err := c.recordAttempt(ctx, actorID, audit.ActionDigestSent, audit.TargetDigestRecords, record.ID, request, payload, ""); err != nil {
		return Delivery{}, wellness.NewServiceError(opSend, "audit_failed", err)
	}
	return Delivery{Status: DeliverySent, RecordID: record.ID}, nil
}

func (c *Composer) partnerAddress(ctx context.Context, partnerID wellness.UserID) (string, error) {
	profile, err := c.profiles.FindProfile(ctx, partnerID)
	if errors.Is(err, wellness.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return profile.DeliveryAddress(), nil
}

func (c *Composer) insertRecord(ctx context.Context, request Request, fields []string) (Record, error) {
	id, err := c.idProvider.NewID()
	if err != nil {
		return Record{}, wellness.NewServiceError(opSend, "id_generation_failed", err)
	}
	record := Record{
		ID:           id,
		UserID:       request.UserID.String(),
		PartnerID:    request.PartnerID.String(),
		DigestType:   c.digestType,
		FieldsShared: append([]string{}, fields...),
		SentAt:       c.clock().UTC(),
	}
	if err := c.db.WithContext(ctx).Create(&record).Error; err != nil {
		c.logger.Error("digest record write failed",
			zap.String("operation", opSend),
			zap.String("user_id", request.UserID.String()),
			zap.Error(err))
		return Record{}, wellness.StorageError(opSend, "record_insert_failed", err)
	}
	return record, nil
}

type attemptDetail struct {
	UserID       string   `json:"user_id"`
	PartnerID    string   `json:"partner_id"`
	DigestType   string   `json:"digest_type"`
	Period       Period   `json:"period"`
	FieldsShared []string `json:"fields_shared"`
	Reason       string   `json:"reason,omitempty"`
}

// recordAttempt writes the audit event for a send attempt. Failures on the error path are
// logged only, since the caller already returns the delivery error.
func (c *Composer) recordAttempt(ctx context.Context, actorID string, action audit.Action, targetTable, targetID string, request Request, payload Payload, reason string) error {
	detail, err := json.Marshal(attemptDetail{
		UserID:       request.UserID.String(),
		PartnerID:    request.PartnerID.String(),
		DigestType:   c.digestType,
		Period:       payload.Summary.Period,
		FieldsShared: payload.FieldsShared,
		Reason:       reason,
	})
	if err != nil {
		return err
	}
	_, err = c.audit.Record(ctx, audit.Event{
		ActorID:     actorID,
		Action:      action,
		TargetTable: targetTable,
		TargetID:    targetID,
		Detail:      string(detail),
	})
	if err != nil {
		c.logger.Error("digest audit failed",
			zap.String("action", string(action)),
			zap.String("user_id", request.UserID.String()),
			zap.Error(err))
	}
	return err
}

func (c *Composer) releaseGuard(ctx context.Context, key string) {
	if err := c.guard.Release(ctx, key); err != nil {
		c.logger.Warn("digest guard release failed", zap.String("key", key), zap.Error(err))
	}
}
