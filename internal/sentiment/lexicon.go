package sentiment

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed lexicon.yaml
var defaultLexiconYAML []byte

// Lexicon maps terms to polarity weights and lists escalation keywords.
type Lexicon struct {
	Terms              map[string]float64 `yaml:"terms"`
	EscalationKeywords []string           `yaml:"escalation_keywords"`
}

var (
	defaultOnce    sync.Once
	defaultLexicon *Lexicon
	defaultErr     error
)

// DefaultLexicon returns the built-in lexicon.
func DefaultLexicon() *Lexicon {
	defaultOnce.Do(func() {
		defaultLexicon, defaultErr = ParseLexicon(defaultLexiconYAML)
	})
	if defaultErr != nil {
		panic(fmt.Sprintf("sentiment: built-in lexicon is invalid: %v", defaultErr))
	}
	return defaultLexicon
}

// LoadLexicon reads a YAML lexicon from path.
func LoadLexicon(path string) (*Lexicon, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read lexicon: %w", err)
	}
	return ParseLexicon(data)
}

// ParseLexicon decodes a YAML lexicon and normalizes its entries to lowercase.
func ParseLexicon(data []byte) (*Lexicon, error) {
	var raw Lexicon
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse lexicon: %w", err)
	}
	if len(raw.Terms) == 0 && len(raw.EscalationKeywords) == 0 {
		return nil, errors.New("lexicon has no terms and no escalation keywords")
	}

	lex := &Lexicon{
		Terms:              make(map[string]float64, len(raw.Terms)),
		EscalationKeywords: make([]string, 0, len(raw.EscalationKeywords)),
	}
	for term, weight := range raw.Terms {
		term = strings.ToLower(strings.TrimSpace(term))
		if term == "" {
			continue
		}
		lex.Terms[term] = weight
	}
	for _, kw := range raw.EscalationKeywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		lex.EscalationKeywords = append(lex.EscalationKeywords, kw)
	}
	return lex, nil
}
