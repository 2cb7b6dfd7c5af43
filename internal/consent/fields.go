package consent

import (
	"sort"
	"strings"
)

// FieldTag names one redaction category a partner may be allowed to see.
type FieldTag string

const (
	FieldMoodTrend      FieldTag = "mood_trend"
	FieldSleepSummary   FieldTag = "sleep_summary"
	FieldNotes          FieldTag = "notes"
	FieldAIPrediction   FieldTag = "ai_prediction"
	FieldPartnerSummary FieldTag = "partner_summary"
	FieldAcademyLesson  FieldTag = "academy_lesson"
	FieldDoDont         FieldTag = "do_dont"
)

var knownFields = map[FieldTag]struct{}{
	FieldMoodTrend:      {},
	FieldSleepSummary:   {},
	FieldNotes:          {},
	FieldAIPrediction:   {},
	FieldPartnerSummary: {},
	FieldAcademyLesson:  {},
	FieldDoDont:         {},
}

// FieldSet is a normalized set of allowed field tags. The zero value allows nothing.
type FieldSet struct {
	tags map[FieldTag]struct{}
}

// ParseFieldSet normalizes raw tags. Unknown tags are dropped, never treated as allowed.
func ParseFieldSet(raw []string) FieldSet {
	tags := make(map[FieldTag]struct{}, len(raw))
	for _, value := range raw {
		tag := FieldTag(strings.ToLower(strings.TrimSpace(value)))
		if _, ok := knownFields[tag]; ok {
			tags[tag] = struct{}{}
		}
	}
	return FieldSet{tags: tags}
}

// Has reports whether tag is allowed.
func (s FieldSet) Has(tag FieldTag) bool {
	_, ok := s.tags[tag]
	return ok
}

// HasAny reports whether at least one of the tags is allowed.
func (s FieldSet) HasAny(tags ...FieldTag) bool {
	for _, tag := range tags {
		if s.Has(tag) {
			return true
		}
	}
	return false
}

// Intersect returns the tags present in both sets.
func (s FieldSet) Intersect(other FieldSet) FieldSet {
	tags := make(map[FieldTag]struct{})
	for tag := range s.tags {
		if other.Has(tag) {
			tags[tag] = struct{}{}
		}
	}
	return FieldSet{tags: tags}
}

// Strings returns the allowed tags in sorted order.
func (s FieldSet) Strings() []string {
	values := make([]string, 0, len(s.tags))
	for tag := range s.tags {
		values = append(values, string(tag))
	}
	sort.Strings(values)
	return values
}

// Len returns the number of allowed tags.
func (s FieldSet) Len() int {
	return len(s.tags)
}
