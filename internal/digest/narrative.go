package digest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/compass/internal/consent"
	"github.com/MarcoPoloResearchLab/compass/internal/inference"
	"github.com/MarcoPoloResearchLab/compass/internal/wellness"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
)

const (
	defaultNarrativeTTL       = time.Hour
	defaultNarrativeCacheSize = 256
	maxNarrativeItems         = 4
)

const narrativeSystemPrompt = `You write short, warm digest sections for the partner of someone tracking menopause-related wellbeing.
You receive only the data the user agreed to share. Never invent data, never diagnose.
Return ONLY a JSON object of this shape:
{
  "partner_summary": "<two supportive sentences for the partner>",
  "academy_lesson": "<one short educational paragraph>",
  "do": ["<up to 4 short supportive actions>"],
  "dont": ["<up to 4 short things to avoid>"]
}`

var (
	fallbackPartnerSummary = "This week had its ups and downs. A little extra patience and a calm evening routine can go a long way."
	fallbackAcademyLesson  = "Hormonal changes can shift sleep, mood and energy from week to week. Steady routines and open conversations help both of you adapt."
	fallbackDo             = []string{"Offer to share an evening walk", "Ask how you can help, then listen", "Keep evenings calm with dimmed screens"}
	fallbackDont           = []string{"Don't take mood changes personally", "Don't dismiss symptoms as minor", "Don't plan late heavy meals"}
)

// narrativeTags are the allowed-field tags that require narrative generation.
var narrativeTags = []consent.FieldTag{consent.FieldPartnerSummary, consent.FieldAcademyLesson, consent.FieldDoDont}

// Narrative holds the generated digest sections and the strategy that produced them.
type Narrative struct {
	PartnerSummary string             `json:"partner_summary"`
	AcademyLesson  string             `json:"academy_lesson"`
	Do             []string           `json:"do"`
	Dont           []string           `json:"dont"`
	Strategy       inference.Strategy `json:"strategy"`
}

// FallbackNarrative returns the fixed, non-personalized sections.
func FallbackNarrative() Narrative {
	return Narrative{
		PartnerSummary: fallbackPartnerSummary,
		AcademyLesson:  fallbackAcademyLesson,
		Do:             append([]string{}, fallbackDo...),
		Dont:           append([]string{}, fallbackDont...),
		Strategy:       inference.StrategyFallback,
	}
}

// NarratorConfig configures narrative generation.
type NarratorConfig struct {
	// Client is optional; without it every narrative is the fallback template.
	Client  inference.Client
	Timeout time.Duration
	TTL     time.Duration
	// CacheSize bounds the number of cached narratives.
	CacheSize int
	Clock     func() time.Time
	Logger  *zap.Logger
}

type cachedNarrative struct {
	narrative Narrative
	expiresAt time.Time
}

// Narrator generates narrative sections from an already-redacted summary.
type Narrator struct {
	client  inference.Client
	timeout time.Duration
	ttl     time.Duration
	clock   func() time.Time
	logger  *zap.Logger
	cache   *expirable.LRU[string, cachedNarrative]
}

func NewNarrator(cfg NarratorConfig) *Narrator {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = inference.DefaultTimeout
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultNarrativeTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	size := cfg.CacheSize
	if size <= 0 {
		size = defaultNarrativeCacheSize
	}
	return &Narrator{
		client:  cfg.Client,
		timeout: timeout,
		ttl:     ttl,
		clock:   clock,
		logger:  logger,
		cache:   expirable.NewLRU[string, cachedNarrative](size, nil, ttl),
	}
}

// Narrate never fails. Identical input within the TTL yields the cached narrative.
func (n *Narrator) Narrate(ctx context.Context, input Summary) Narrative {
	key, err := narrativeKey(input)
	if err == nil {
		if entry, ok := n.cache.Get(key); ok {
			if n.clock().Before(entry.expiresAt) {
				return entry.narrative
			}
			n.cache.Remove(key)
		}
	}

	narrative, err := n.generate(ctx, input)
	if err != nil {
		n.logger.Warn("narrative fell back to template",
			zap.Error(errors.Join(wellness.ErrInferenceFailure, err)))
		narrative = FallbackNarrative()
	}
	if key != "" {
		n.evictExpired()
		n.cache.Add(key, cachedNarrative{narrative: narrative, expiresAt: n.clock().Add(n.ttl)})
	}
	return narrative
}

// evictExpired drops entries whose period has passed on the narrator's clock.
// The LRU also expires entries on wall time and caps the entry count.
func (n *Narrator) evictExpired() {
	now := n.clock()
	for _, key := range n.cache.Keys() {
		if entry, ok := n.cache.Peek(key); ok && !now.Before(entry.expiresAt) {
			n.cache.Remove(key)
		}
	}
}

func (n *Narrator) generate(ctx context.Context, input Summary) (Narrative, error) {
	if n.client == nil {
		return Narrative{}, errors.New("no narrative client configured")
	}
	payload, err := json.Marshal(input)
	if err != nil {
		return Narrative{}, fmt.Errorf("marshal narrative input: %w", err)
	}
	callCtx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()
	content, err := n.client.Complete(callCtx, inference.ChatRequest{
		Messages: []inference.Message{
			{Role: inference.RoleSystem, Content: narrativeSystemPrompt},
			{Role: inference.RoleUser, Content: "SHARED DATA:\n" + string(payload)},
		},
		Temperature: 0.3,
		MaxTokens:   600,
		JSONOnly:    true,
	})
	if err != nil {
		return Narrative{}, err
	}
	return parseNarrative(content)
}

func parseNarrative(content string) (Narrative, error) {
	body, ok := inference.ExtractJSONObject(content)
	if !ok {
		return Narrative{}, errors.New("narrative reply has no json object")
	}
	var raw struct {
		PartnerSummary string   `json:"partner_summary"`
		AcademyLesson  string   `json:"academy_lesson"`
		Do             []string `json:"do"`
		Dont           []string `json:"dont"`
	}
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		return Narrative{}, fmt.Errorf("decode narrative: %w", err)
	}
	narrative := Narrative{
		PartnerSummary: strings.TrimSpace(raw.PartnerSummary),
		AcademyLesson:  strings.TrimSpace(raw.AcademyLesson),
		Do:             cleanItems(raw.Do),
		Dont:           cleanItems(raw.Dont),
		Strategy:       inference.StrategyPrimary,
	}
	if narrative.PartnerSummary == "" || narrative.AcademyLesson == "" || len(narrative.Do) == 0 || len(narrative.Dont) == 0 {
		return Narrative{}, errors.New("narrative reply is missing sections")
	}
	return narrative, nil
}

func cleanItems(items []string) []string {
	cleaned := make([]string, 0, len(items))
	for _, item := range items {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			cleaned = append(cleaned, trimmed)
		}
		if len(cleaned) == maxNarrativeItems {
			break
		}
	}
	return cleaned
}

func narrativeKey(input Summary) (string, error) {
	payload, err := json.Marshal(input)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}
