package features

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/MarcoPoloResearchLab/compass/internal/journal"
)

const (
	recentEntriesLimit = 8
	recentNotesLimit   = 3
	dateLayout         = "2006-01-02"
)

// Summary is the fixed-shape numeric digest of a user's recent logs.
// Every field is always present; averages are nil when a metric has no samples.
type Summary struct {
	AvgMood       *float64       `json:"avg_mood"`
	AvgSleep      *float64       `json:"avg_sleep"`
	AvgEnergy     *float64       `json:"avg_energy"`
	MoodTrend     float64        `json:"mood_trend"`
	SleepTrend    float64        `json:"sleep_trend"`
	EnergyTrend   float64        `json:"energy_trend"`
	LogsCount     int            `json:"logs_count"`
	SymptomCounts map[string]int `json:"symptom_counts"`
	RecentEntries []RecentEntry  `json:"recent_entries"`
	RecentNotes   []string       `json:"recent_notes"`
}

// RecentEntry is the raw entry shape carried into prompts and snapshots.
type RecentEntry struct {
	Date        string   `json:"date"`
	Mood        *int     `json:"mood"`
	SleepHours  *float64 `json:"sleep_hours"`
	EnergyLevel *string  `json:"energy_level"`
	Symptoms    []string `json:"symptoms"`
}

// Empty reports whether the summary was built from zero logs.
func (s Summary) Empty() bool {
	return s.LogsCount == 0
}

// Summarize computes the summary of entries, which must already be ordered by date ascending.
func Summarize(entries []journal.Entry) Summary {
	var moods, sleeps, energies []float64
	symptomCounts := make(map[string]int)
	for _, entry := range entries {
		if entry.Mood != nil {
			moods = append(moods, float64(*entry.Mood))
		}
		if entry.SleepHours != nil {
			sleeps = append(sleeps, *entry.SleepHours)
		}
		if entry.EnergyLevel != nil {
			if value, ok := ParseEnergyLevel(*entry.EnergyLevel); ok {
				energies = append(energies, value)
			}
		}
		for _, symptom := range entry.Symptoms {
			key := NormalizeSymptom(symptom)
			if key != "" {
				symptomCounts[key]++
			}
		}
	}

	return Summary{
		AvgMood:       average(moods),
		AvgSleep:      average(sleeps),
		AvgEnergy:     average(energies),
		MoodTrend:     trend(moods),
		SleepTrend:    trend(sleeps),
		EnergyTrend:   trend(energies),
		LogsCount:     len(entries),
		SymptomCounts: symptomCounts,
		RecentEntries: recentEntries(entries),
		RecentNotes:   recentNotes(entries),
	}
}

// TopSymptoms returns the logged symptom keys ordered by frequency, then name.
func (s Summary) TopSymptoms() []string {
	keys := make([]string, 0, len(s.SymptomCounts))
	for key := range s.SymptomCounts {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		left, right := s.SymptomCounts[keys[i]], s.SymptomCounts[keys[j]]
		if left != right {
			return left > right
		}
		return keys[i] < keys[j]
	})
	return keys
}

// ParseEnergyLevel maps a free-text energy level onto a 1..3 scale. Numeric strings pass through.
func ParseEnergyLevel(raw string) (float64, bool) {
	value := strings.ToLower(strings.TrimSpace(raw))
	if value == "" {
		return 0, false
	}
	if number, err := strconv.ParseFloat(value, 64); err == nil && !math.IsNaN(number) && !math.IsInf(number, 0) {
		return number, true
	}
	switch value {
	case "low", "very low", "very_low", "poor", "tired", "exhausted", "drained":
		return 1, true
	case "medium", "moderate", "mid", "ok", "okay", "normal", "average":
		return 2, true
	case "high", "very high", "very_high", "good", "great", "energetic":
		return 3, true
	default:
		return 0, false
	}
}

// NormalizeSymptom lowercases a symptom tag and joins its words with underscores.
func NormalizeSymptom(raw string) string {
	fields := strings.FieldsFunc(strings.ToLower(raw), func(r rune) bool {
		return r == ' ' || r == '-' || r == '_' || r == '\t'
	})
	return strings.Join(fields, "_")
}

// Round rounds value to the given number of decimal places.
func Round(value float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(value*scale) / scale
}

func average(samples []float64) *float64 {
	if len(samples) == 0 {
		return nil
	}
	total := 0.0
	for _, sample := range samples {
		total += sample
	}
	value := Round(total/float64(len(samples)), 2)
	return &value
}

// trend is (last - first) / count over the non-null samples, or 0 below two samples.
func trend(samples []float64) float64 {
	if len(samples) < 2 {
		return 0
	}
	return Round((samples[len(samples)-1]-samples[0])/float64(len(samples)), 4)
}

func recentEntries(entries []journal.Entry) []RecentEntry {
	start := len(entries) - recentEntriesLimit
	if start < 0 {
		start = 0
	}
	recent := make([]RecentEntry, 0, len(entries)-start)
	for _, entry := range entries[start:] {
		symptoms := make([]string, 0, len(entry.Symptoms))
		for _, symptom := range entry.Symptoms {
			if key := NormalizeSymptom(symptom); key != "" {
				symptoms = append(symptoms, key)
			}
		}
		recent = append(recent, RecentEntry{
			Date:        entry.LogDate.UTC().Format(dateLayout),
			Mood:        entry.Mood,
			SleepHours:  entry.SleepHours,
			EnergyLevel: entry.EnergyLevel,
			Symptoms:    symptoms,
		})
	}
	return recent
}

func recentNotes(entries []journal.Entry) []string {
	notes := make([]string, 0, recentNotesLimit)
	for index := len(entries) - 1; index >= 0 && len(notes) < recentNotesLimit; index-- {
		if entries[index].Notes == nil {
			continue
		}
		note := strings.TrimSpace(*entries[index].Notes)
		if note != "" {
			notes = append(notes, note)
		}
	}
	return notes
}
