// Package sentiment scores message text and detects escalation triggers.
package sentiment

import (
	"math"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/capitalize-ai/support-platform/internal/model"
)

const (
	// ReasonNegativeSentiment is reported when the score alone triggers escalation.
	ReasonNegativeSentiment = "Negative sentiment detected"
	// ReasonEscalationKeyword is reported when a keyword triggers escalation.
	ReasonEscalationKeyword = "Escalation keyword detected"
)

// Config holds the analyzer's scoring policy.
type Config struct {
	// MaxMagnitude divides the raw lexical score into [-1, 1].
	MaxMagnitude float64
	// PositiveThreshold is the lowest score labelled positive.
	PositiveThreshold float64
	// NegativeThreshold is the highest score labelled negative.
	NegativeThreshold float64
	// EscalationThreshold is the highest score that escalates on its own.
	EscalationThreshold float64
}

// DefaultConfig returns the reference thresholds.
func DefaultConfig() Config {
	return Config{
		MaxMagnitude:        5.0,
		PositiveThreshold:   0.3,
		NegativeThreshold:   -0.3,
		EscalationThreshold: -0.7,
	}
}

// Result is the outcome of analyzing one message.
type Result struct {
	Sentiment           model.Sentiment `json:"sentiment"`
	Score               float64         `json:"score"`
	EscalationTriggered bool            `json:"escalation_triggered"`
	EscalationReason    string          `json:"escalation_reason,omitempty"`
}

// Analyzer scores text against a lexicon. It holds no mutable state and is
// safe for concurrent use.
type Analyzer struct {
	lexicon *Lexicon
	cfg     Config
}

// NewAnalyzer creates an analyzer. A nil lexicon selects the built-in one.
// Zero or non-finite fields of cfg take their DefaultConfig values.
func NewAnalyzer(lexicon *Lexicon, cfg Config) *Analyzer {
	if lexicon == nil {
		lexicon = DefaultLexicon()
	}
	return &Analyzer{lexicon: lexicon, cfg: cfg.withDefaults()}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MaxMagnitude <= 0 || !finite(c.MaxMagnitude) {
		c.MaxMagnitude = def.MaxMagnitude
	}
	if c.PositiveThreshold == 0 || !finite(c.PositiveThreshold) {
		c.PositiveThreshold = def.PositiveThreshold
	}
	if c.NegativeThreshold == 0 || !finite(c.NegativeThreshold) {
		c.NegativeThreshold = def.NegativeThreshold
	}
	if c.EscalationThreshold == 0 || !finite(c.EscalationThreshold) {
		c.EscalationThreshold = def.EscalationThreshold
	}
	return c
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// Analyze scores text. Empty or invalid input yields an unknown, non-escalating result.
func (a *Analyzer) Analyze(text string) Result {
	if !utf8.ValidString(text) || strings.TrimSpace(text) == "" {
		return Result{Sentiment: model.SentimentUnknown}
	}

	lower := strings.ToLower(text)
	score := a.score(lower)

	res := Result{
		Sentiment: a.label(score),
		Score:     score,
	}

	switch {
	case score <= a.cfg.EscalationThreshold:
		res.EscalationTriggered = true
		res.EscalationReason = ReasonNegativeSentiment
	case a.hasKeyword(lower):
		res.EscalationTriggered = true
		res.EscalationReason = ReasonEscalationKeyword
	}

	return res
}

func (a *Analyzer) score(lower string) float64 {
	words := strings.FieldsFunc(lower, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})

	var raw float64
	for _, w := range words {
		w = strings.Trim(w, "'")
		if weight, ok := a.lexicon.Terms[w]; ok {
			raw += weight
		}
	}

	normalized := raw / a.cfg.MaxMagnitude
	return math.Max(-1, math.Min(1, normalized))
}

func (a *Analyzer) label(score float64) model.Sentiment {
	switch {
	case score >= a.cfg.PositiveThreshold:
		return model.SentimentPositive
	case score <= a.cfg.NegativeThreshold:
		return model.SentimentNegative
	default:
		return model.SentimentNeutral
	}
}

func (a *Analyzer) hasKeyword(lower string) bool {
	for _, kw := range a.lexicon.EscalationKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
