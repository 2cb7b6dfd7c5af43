package digest

import (
	"time"

	"github.com/MarcoPoloResearchLab/compass/internal/consent"
	"github.com/MarcoPoloResearchLab/compass/internal/features"
	"github.com/MarcoPoloResearchLab/compass/internal/predictions"
)

const dateLayout = "2006-01-02"

// Period is the reporting window of a digest. It is the only ungated content.
type Period struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// PredictionView is the partner-facing projection of a snapshot.
type PredictionView struct {
	PredictedSymptoms map[string]float64 `json:"predicted_symptoms"`
	Confidence        *float64           `json:"confidence"`
	ModelVersion      string             `json:"model_version"`
	CreatedAt         string             `json:"created_at"`
}

// DoDont pairs supportive actions with things to avoid.
type DoDont struct {
	Do   []string `json:"do"`
	Dont []string `json:"dont"`
}

// Summary is the redacted digest content. A field whose tag is not allowed is nil.
type Summary struct {
	DigestType     string          `json:"digest_type"`
	Period         Period          `json:"period"`
	LogsCount      *int            `json:"logs_count"`
	AvgMood        *float64        `json:"avg_mood"`
	MoodTrend      *float64        `json:"mood_trend"`
	AvgSleep       *float64        `json:"avg_sleep"`
	SleepTrend     *float64        `json:"sleep_trend"`
	RecentNotes    []string        `json:"recent_notes"`
	Prediction     *PredictionView `json:"prediction"`
	PartnerSummary *string         `json:"partner_summary"`
	AcademyLesson  *string         `json:"academy_lesson"`
	DoDont         *DoDont         `json:"do_dont"`
}

// HasContent reports whether any gated field carries a value.
func (s Summary) HasContent() bool {
	return s.LogsCount != nil || s.SleepTrend != nil || s.RecentNotes != nil || s.Prediction != nil ||
		s.PartnerSummary != nil || s.AcademyLesson != nil || s.DoDont != nil
}

func newPeriod(from, to time.Time) Period {
	return Period{From: from.UTC().Format(dateLayout), To: to.UTC().Format(dateLayout)}
}

// redact copies only the allowed categories of the data into a Summary. Each category is all-or-nothing.
func redact(digestType string, period Period, data features.Summary, snapshot *predictions.Snapshot, allowed consent.FieldSet) Summary {
	summary := Summary{DigestType: digestType, Period: period}
	if allowed.Has(consent.FieldMoodTrend) {
		logsCount := data.LogsCount
		moodTrend := data.MoodTrend
		summary.LogsCount = &logsCount
		summary.AvgMood = copyFloat(data.AvgMood)
		summary.MoodTrend = &moodTrend
	}
	if allowed.Has(consent.FieldSleepSummary) {
		sleepTrend := data.SleepTrend
		summary.AvgSleep = copyFloat(data.AvgSleep)
		summary.SleepTrend = &sleepTrend
	}
	if allowed.Has(consent.FieldNotes) {
		summary.RecentNotes = append([]string{}, data.RecentNotes...)
	}
	if allowed.Has(consent.FieldAIPrediction) && snapshot != nil {
		symptoms := make(map[string]float64, len(snapshot.PredictedSymptoms))
		for key, value := range snapshot.PredictedSymptoms {
			symptoms[key] = value
		}
		summary.Prediction = &PredictionView{
			PredictedSymptoms: symptoms,
			Confidence:        copyFloat(snapshot.Confidence),
			ModelVersion:      snapshot.ModelVersion,
			CreatedAt:         snapshot.CreatedAt.UTC().Format(time.RFC3339),
		}
	}
	return summary
}

func copyFloat(value *float64) *float64 {
	if value == nil {
		return nil
	}
	copied := *value
	return &copied
}
