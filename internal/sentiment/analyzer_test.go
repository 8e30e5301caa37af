package sentiment

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/support-platform/internal/model"
)

func newDefaultAnalyzer() *Analyzer {
	return NewAnalyzer(nil, DefaultConfig())
}

func TestAnalyzePositiveMessage(t *testing.T) {
	res := newDefaultAnalyzer().Analyze("Thanks so much, you were very helpful!")

	assert.Equal(t, model.SentimentPositive, res.Sentiment)
	assert.InDelta(t, 0.8, res.Score, 1e-9)
	assert.False(t, res.EscalationTriggered)
	assert.Empty(t, res.EscalationReason)
}

func TestAnalyzeKeywordEscalation(t *testing.T) {
	res := newDefaultAnalyzer().Analyze("This is absolutely unacceptable, I want a refund now")

	require.True(t, res.EscalationTriggered)
	assert.Equal(t, ReasonEscalationKeyword, res.EscalationReason)
	assert.Greater(t, res.Score, -0.7)
	assert.Equal(t, model.SentimentNegative, res.Sentiment)
}

func TestAnalyzeSevereNegativeTakesPrecedence(t *testing.T) {
	res := newDefaultAnalyzer().Analyze("I am angry, this is the worst, terrible, awful service")

	require.True(t, res.EscalationTriggered)
	assert.Equal(t, ReasonNegativeSentiment, res.EscalationReason)
	assert.Equal(t, -1.0, res.Score)
}

func TestAnalyzeSevereNegativeWithoutKeyword(t *testing.T) {
	res := newDefaultAnalyzer().Analyze("terrible awful horrible")

	require.True(t, res.EscalationTriggered)
	assert.Equal(t, ReasonNegativeSentiment, res.EscalationReason)
	assert.Equal(t, model.SentimentNegative, res.Sentiment)
}

func TestAnalyzeKeywordIsCaseInsensitiveSubstring(t *testing.T) {
	res := newDefaultAnalyzer().Analyze("Let me talk to your MANAGER please")

	require.True(t, res.EscalationTriggered)
	assert.Equal(t, ReasonEscalationKeyword, res.EscalationReason)
	assert.Equal(t, model.SentimentNeutral, res.Sentiment)
}

func TestAnalyzeUnparseableInput(t *testing.T) {
	a := newDefaultAnalyzer()
	for _, text := range []string{"", "   \n\t", "\xff\xfe\xfd"} {
		res := a.Analyze(text)
		assert.Equal(t, Result{Sentiment: model.SentimentUnknown}, res, "text %q", text)
	}
}

func TestAnalyzeNeutral(t *testing.T) {
	res := newDefaultAnalyzer().Analyze("What time do you open tomorrow?")

	assert.Equal(t, model.SentimentNeutral, res.Sentiment)
	assert.Zero(t, res.Score)
	assert.False(t, res.EscalationTriggered)
}

func TestAnalyzeScoreIsClamped(t *testing.T) {
	res := newDefaultAnalyzer().Analyze("amazing awesome fantastic wonderful")

	assert.Equal(t, 1.0, res.Score)
	assert.Equal(t, model.SentimentPositive, res.Sentiment)
}

func TestAnalyzeIsDeterministic(t *testing.T) {
	a := newDefaultAnalyzer()
	texts := []string{
		"Thanks so much, you were very helpful!",
		"This is absolutely unacceptable, I want a refund now",
		"",
		"the app is slow and broken",
	}
	for _, text := range texts {
		assert.Equal(t, a.Analyze(text), a.Analyze(text))
	}
}

func TestAnalyzeNoKeywordAboveThresholdNeverEscalates(t *testing.T) {
	a := newDefaultAnalyzer()
	texts := []string{
		"the app is slow and broken",
		"this is bad",
		"I have a problem with my order",
		"poor experience",
		"hello there",
		"great job",
	}
	for _, text := range texts {
		res := a.Analyze(text)
		require.Greater(t, res.Score, -0.7, "text %q", text)
		assert.False(t, res.EscalationTriggered, "text %q", text)
	}
}

func TestAnalyzeConcurrentUse(t *testing.T) {
	a := newDefaultAnalyzer()
	want := a.Analyze("I want a refund")

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.Equal(t, want, a.Analyze("I want a refund"))
		}()
	}
	wg.Wait()
}

func TestCustomThresholds(t *testing.T) {
	lex, err := ParseLexicon([]byte(`
terms:
  meh: -1
escalation_keywords: []
`))
	require.NoError(t, err)

	a := NewAnalyzer(lex, Config{
		MaxMagnitude:        2,
		PositiveThreshold:   0.3,
		NegativeThreshold:   -0.3,
		EscalationThreshold: -0.5,
	})

	res := a.Analyze("meh")
	assert.Equal(t, -0.5, res.Score)
	assert.True(t, res.EscalationTriggered)
	assert.Equal(t, ReasonNegativeSentiment, res.EscalationReason)
}

func TestNewAnalyzerRejectsZeroMagnitude(t *testing.T) {
	a := NewAnalyzer(nil, Config{PositiveThreshold: 0.3, NegativeThreshold: -0.3, EscalationThreshold: -0.7})

	res := a.Analyze("great")
	assert.InDelta(t, 0.6, res.Score, 1e-9)
}

func TestNewAnalyzerFillsUnsetThresholds(t *testing.T) {
	a := NewAnalyzer(nil, Config{MaxMagnitude: 5})

	res := a.Analyze("What time do you open tomorrow?")
	assert.Equal(t, model.SentimentNeutral, res.Sentiment)
	assert.False(t, res.EscalationTriggered)

	res = a.Analyze("great")
	assert.Equal(t, model.SentimentPositive, res.Sentiment)

	res = NewAnalyzer(nil, Config{EscalationThreshold: -0.5}).Analyze("terrible")
	assert.InDelta(t, -0.6, res.Score, 1e-9)
	assert.Equal(t, model.SentimentNegative, res.Sentiment)
	assert.True(t, res.EscalationTriggered)
	assert.Equal(t, ReasonNegativeSentiment, res.EscalationReason)
}

func TestLoadLexicon(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lexicon.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
terms:
  Splendid: 4
escalation_keywords:
  - "  Ombudsman "
`), 0o600))

	lex, err := LoadLexicon(path)
	require.NoError(t, err)
	assert.Equal(t, 4.0, lex.Terms["splendid"])
	assert.Equal(t, []string{"ombudsman"}, lex.EscalationKeywords)

	res := NewAnalyzer(lex, DefaultConfig()).Analyze("I will write to the ombudsman")
	assert.True(t, res.EscalationTriggered)
}

func TestParseLexiconErrors(t *testing.T) {
	_, err := ParseLexicon([]byte("terms: [not, a, map]"))
	assert.Error(t, err)

	_, err = ParseLexicon([]byte("{}"))
	assert.Error(t, err)

	_, err = LoadLexicon(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestDefaultLexiconLoads(t *testing.T) {
	lex := DefaultLexicon()
	assert.NotEmpty(t, lex.Terms)
	assert.Contains(t, lex.EscalationKeywords, "refund")
}
