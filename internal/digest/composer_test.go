package digest

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/MarcoPoloResearchLab/compass/internal/audit"
	"github.com/MarcoPoloResearchLab/compass/internal/notify"
	mock_notify "github.com/MarcoPoloResearchLab/compass/internal/mocks/notify"
	"github.com/MarcoPoloResearchLab/compass/internal/users"
	"github.com/MarcoPoloResearchLab/compass/internal/wellness"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func previewRequest(partnerID wellness.UserID) Request {
	return Request{UserID: "user-1", PartnerID: partnerID, Mode: ModePreview}
}

func TestComposeRejectsMissingOrRevokedConsentBeforeReadingLogs(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	ctx := context.Background()

	_, err := h.composer.Compose(ctx, previewRequest("partner-1"))
	require.Error(t, err)
	assert.ErrorIs(t, err, wellness.ErrConsent)
	assert.Equal(t, "digest.compose.consent_missing", wellness.ErrorCode(err))

	h.grant(t, "partner-1", "mood_trend")
	_, err = h.consents.Revoke(ctx, "user-1", "partner-1")
	require.NoError(t, err)

	_, err = h.composer.Compose(ctx, Request{UserID: "user-1", PartnerID: "partner-1", Mode: ModeSend})
	assert.ErrorIs(t, err, wellness.ErrConsent)
	assert.Equal(t, "digest.compose.consent_revoked", wellness.ErrorCode(err))

	assert.Zero(t, h.logs.reads.Load())
	assert.Zero(t, h.count(t, &Record{}))
}

func TestComposeWithNoSharedFieldsRedactsEverything(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.grant(t, "partner-1")

	payload, err := h.composer.Compose(context.Background(), previewRequest("partner-1"))

	require.NoError(t, err)
	summary := payload.Summary
	assert.Equal(t, Period{From: "2026-10-01", To: "2026-10-08"}, summary.Period)
	assert.Nil(t, summary.LogsCount)
	assert.Nil(t, summary.AvgMood)
	assert.Nil(t, summary.MoodTrend)
	assert.Nil(t, summary.AvgSleep)
	assert.Nil(t, summary.SleepTrend)
	assert.Nil(t, summary.RecentNotes)
	assert.Nil(t, summary.Prediction)
	assert.Nil(t, summary.PartnerSummary)
	assert.Nil(t, summary.AcademyLesson)
	assert.Nil(t, summary.DoDont)
	assert.Empty(t, payload.FieldsShared)

	encoded, err := json.Marshal(payload)
	require.NoError(t, err)
	for _, private := range []string{"user-1", "Dana", "user@example.com", secretNote, "hot_flashes"} {
		assert.NotContains(t, string(encoded), private)
	}
	assert.Contains(t, payload.Text, "No details were shared for this period.")
}

func TestComposeIncludesOnlyAllowedCategories(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.grant(t, "partner-1", "mood_trend", "ai_prediction", "partner_summary")

	payload, err := h.composer.Compose(context.Background(), previewRequest("partner-1"))

	require.NoError(t, err)
	summary := payload.Summary
	require.NotNil(t, summary.LogsCount)
	assert.Equal(t, 2, *summary.LogsCount)
	assert.Equal(t, 3.0, *summary.AvgMood)
	assert.Equal(t, 1.0, *summary.MoodTrend)
	assert.Nil(t, summary.AvgSleep)
	assert.Nil(t, summary.SleepTrend)
	assert.Nil(t, summary.RecentNotes)
	require.NotNil(t, summary.Prediction)
	assert.Equal(t, 1.7, summary.Prediction.PredictedSymptoms["hot_flashes"])
	require.NotNil(t, summary.PartnerSummary)
	assert.Equal(t, fallbackPartnerSummary, *summary.PartnerSummary)
	assert.Nil(t, summary.AcademyLesson)
	assert.Nil(t, summary.DoDont)
	assert.Equal(t, []string{"ai_prediction", "mood_trend", "partner_summary"}, payload.FieldsShared)

	assert.NotContains(t, payload.HTML, secretNote)
	assert.NotContains(t, payload.Text, "Average sleep")
	assert.Contains(t, payload.Text, "Hot Flashes: 1.70 / 2")
	assert.Contains(t, payload.HTML, "Average mood: 3.00")
}

func TestComposeNarrowsToRequestedFields(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.grant(t, "partner-1", "mood_trend", "notes", "sleep_summary")

	payload, err := h.composer.Compose(context.Background(), Request{
		UserID:        "user-1",
		PartnerID:     "partner-1",
		AllowedFields: []string{"notes", "ai_prediction", "bogus"},
		Mode:          ModePreview,
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"notes"}, payload.FieldsShared)
	assert.Equal(t, []string{secretNote, secretNote}, payload.Summary.RecentNotes)
	assert.Nil(t, payload.Summary.LogsCount)
	assert.Nil(t, payload.Summary.Prediction)
}

func TestPreviewIsIdempotentAndWritesNothing(t *testing.T) {
	ctrl := gomock.NewController(t)
	sender := mock_notify.NewMockSender(ctrl)
	h := newHarness(t, harnessOptions{sender: sender})
	h.grant(t, "partner-1", "mood_trend", "sleep_summary", "notes", "ai_prediction", "partner_summary", "academy_lesson", "do_dont")
	auditBefore := h.count(t, &audit.Event{})

	first, err := h.composer.Compose(context.Background(), previewRequest("partner-1"))
	require.NoError(t, err)
	second, err := h.composer.Compose(context.Background(), previewRequest("partner-1"))
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Nil(t, first.Delivery)
	assert.Zero(t, h.count(t, &Record{}))
	assert.Equal(t, auditBefore, h.count(t, &audit.Event{}))
}

func TestSendDeliversRecordsAndAudits(t *testing.T) {
	ctrl := gomock.NewController(t)
	sender := mock_notify.NewMockSender(ctrl)
	guard := newMemoryGuard()
	h := newHarness(t, harnessOptions{sender: sender, guard: guard})
	share := h.grant(t, "partner-1", "mood_trend")

	sender.EXPECT().Send(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, message notify.Message) error {
		assert.Equal(t, "partner@example.com", message.To)
		assert.Equal(t, "digest@compass.example", message.From)
		assert.Equal(t, "Your weekly wellness digest (2026-10-01 to 2026-10-08)", message.Subject)
		assert.NotEmpty(t, message.HTML)
		assert.NotEmpty(t, message.Text)
		return nil
	})

	payload, err := h.composer.Compose(context.Background(), Request{UserID: "user-1", PartnerID: "partner-1", Mode: ModeSend, ActorID: "scheduler"})

	require.NoError(t, err)
	require.NotNil(t, payload.Delivery)
	assert.Equal(t, DeliverySent, payload.Delivery.Status)

	var records []Record
	require.NoError(t, h.db.Find(&records).Error)
	require.Len(t, records, 1)
	assert.Equal(t, payload.Delivery.RecordID, records[0].ID)
	assert.Equal(t, []string{"mood_trend"}, records[0].FieldsShared)
	assert.Equal(t, "weekly", records[0].DigestType)

	events := h.digestAuditEvents(t)
	require.Len(t, events, 1)
	assert.Equal(t, audit.ActionDigestSent, events[0].Action)
	assert.Equal(t, "scheduler", events[0].ActorID)
	assert.Equal(t, audit.TargetDigestRecords, events[0].TargetTable)
	assert.Equal(t, records[0].ID, events[0].TargetID)
	assert.True(t, guard.keys[GuardKey("user-1", "partner-1", "weekly", "2026-10-01")])
	assert.NotEqual(t, share.ID, events[0].TargetID)
}

func TestSendDuplicateInPeriodIsSkipped(t *testing.T) {
	ctrl := gomock.NewController(t)
	sender := mock_notify.NewMockSender(ctrl)
	h := newHarness(t, harnessOptions{sender: sender, guard: newMemoryGuard()})
	h.grant(t, "partner-1", "mood_trend")
	sender.EXPECT().Send(gomock.Any(), gomock.Any()).Return(nil).Times(1)
	request := Request{UserID: "user-1", PartnerID: "partner-1", Mode: ModeSend}

	_, err := h.composer.Compose(context.Background(), request)
	require.NoError(t, err)
	payload, err := h.composer.Compose(context.Background(), request)
	require.NoError(t, err)

	assert.Equal(t, DeliverySkipped, payload.Delivery.Status)
	assert.Equal(t, int64(1), h.count(t, &Record{}))
}

func TestSendFailureIsAuditedAndReleasesGuard(t *testing.T) {
	ctrl := gomock.NewController(t)
	sender := mock_notify.NewMockSender(ctrl)
	guard := newMemoryGuard()
	h := newHarness(t, harnessOptions{sender: sender, guard: guard})
	share := h.grant(t, "partner-1", "notes")
	sender.EXPECT().Send(gomock.Any(), gomock.Any()).Return(errors.New("smtp 550 mailbox unavailable"))

	_, err := h.composer.Compose(context.Background(), Request{UserID: "user-1", PartnerID: "partner-1", Mode: ModeSend})

	require.Error(t, err)
	assert.ErrorIs(t, err, wellness.ErrDeliveryFailure)
	assert.Equal(t, "digest.send.sender_rejected", wellness.ErrorCode(err))
	assert.Zero(t, h.count(t, &Record{}))
	assert.Empty(t, guard.keys)
	require.Len(t, guard.released, 1)

	events := h.digestAuditEvents(t)
	require.Len(t, events, 1)
	assert.Equal(t, audit.ActionDigestSendFailed, events[0].Action)
	assert.Equal(t, share.ID, events[0].TargetID)
	assert.Equal(t, "user-1", events[0].ActorID)
	assert.True(t, strings.Contains(events[0].Detail, "sender_rejected"))
}

func TestSendWithoutPartnerAddressFails(t *testing.T) {
	ctrl := gomock.NewController(t)
	sender := mock_notify.NewMockSender(ctrl)
	h := newHarness(t, harnessOptions{sender: sender})
	h.grant(t, "partner-2", "mood_trend")
	h.grant(t, "partner-ghost", "mood_trend")

	for _, partnerID := range []wellness.UserID{"partner-2", "partner-ghost"} {
		_, err := h.composer.Compose(context.Background(), Request{UserID: "user-1", PartnerID: partnerID, Mode: ModeSend})
		assert.ErrorIs(t, err, wellness.ErrDeliveryFailure)
		assert.Equal(t, "digest.send.missing_partner_address", wellness.ErrorCode(err))
	}

	assert.Zero(t, h.count(t, &Record{}))
	events := h.digestAuditEvents(t)
	require.Len(t, events, 2)
	for _, event := range events {
		assert.Equal(t, audit.ActionDigestSendFailed, event.Action)
	}
}

type failingProfiles struct{}

func (failingProfiles) FindProfile(context.Context, wellness.UserID) (users.Profile, error) {
	return users.Profile{}, wellness.StorageError("users.find", "query_failed", errors.New("database is locked"))
}

func TestSendAuditsPartnerLookupFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	sender := mock_notify.NewMockSender(ctrl)
	h := newHarness(t, harnessOptions{sender: sender, profiles: failingProfiles{}})
	share := h.grant(t, "partner-1", "mood_trend")

	_, err := h.composer.Compose(context.Background(), Request{UserID: "user-1", PartnerID: "partner-1", Mode: ModeSend})

	require.Error(t, err)
	assert.ErrorIs(t, err, wellness.ErrStorageFailure)
	assert.Zero(t, h.count(t, &Record{}))
	events := h.digestAuditEvents(t)
	require.Len(t, events, 1)
	assert.Equal(t, audit.ActionDigestSendFailed, events[0].Action)
	assert.Equal(t, share.ID, events[0].TargetID)
	assert.Contains(t, events[0].Detail, "partner_lookup_failed")
}

func TestSendAuditsDeliveryWhenRecordWriteFails(t *testing.T) {
	ctrl := gomock.NewController(t)
	sender := mock_notify.NewMockSender(ctrl)
	guard := newMemoryGuard()
	h := newHarness(t, harnessOptions{sender: sender, guard: guard})
	share := h.grant(t, "partner-1", "mood_trend")
	sender.EXPECT().Send(gomock.Any(), gomock.Any()).Return(nil).Times(1)
	require.NoError(t, h.db.Migrator().DropTable(&Record{}))
	request := Request{UserID: "user-1", PartnerID: "partner-1", Mode: ModeSend}

	_, err := h.composer.Compose(context.Background(), request)

	require.Error(t, err)
	assert.ErrorIs(t, err, wellness.ErrStorageFailure)
	assert.Equal(t, "digest.send.record_insert_failed", wellness.ErrorCode(err))

	events := h.digestAuditEvents(t)
	require.Len(t, events, 1)
	assert.Equal(t, audit.ActionDigestSent, events[0].Action)
	assert.Equal(t, audit.TargetPartnerShares, events[0].TargetTable)
	assert.Equal(t, share.ID, events[0].TargetID)
	assert.Contains(t, events[0].Detail, "record_insert_failed")

	payload, err := h.composer.Compose(context.Background(), request)
	require.NoError(t, err)
	assert.Equal(t, DeliverySkipped, payload.Delivery.Status)
	assert.Empty(t, guard.released)
}

func TestComposeRejectsInvalidRequests(t *testing.T) {
	h := newHarness(t, harnessOptions{})

	_, err := h.composer.Compose(context.Background(), Request{UserID: "user-1", PartnerID: "partner-1", Mode: "broadcast"})
	assert.ErrorIs(t, err, wellness.ErrInvalidInput)

	_, err = h.composer.Compose(context.Background(), Request{UserID: "user-1", Mode: ModePreview})
	assert.ErrorIs(t, err, wellness.ErrInvalidInput)
}
