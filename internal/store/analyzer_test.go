package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAnalyzer_UnknownName(t *testing.T) {
	_, err := NewAnalyzer("whitespace")
	assert.Error(t, err)
}

func TestAnalyzer_Standard_LowercasesAndDropsStopWords(t *testing.T) {
	a, err := NewAnalyzer(AnalyzerStandard)
	require.NoError(t, err)

	terms := a.Tokenize("The Quick brown fox")

	assert.Equal(t, []string{"quick", "brown", "fox"}, terms)
	assert.Equal(t, AnalyzerStandard, a.Name())
}

func TestAnalyzer_CJK_SegmentsWithoutSpaces(t *testing.T) {
	// Given: Chinese text with no word boundaries
	a, err := NewAnalyzer(AnalyzerCJK)
	require.NoError(t, err)

	// When: tokenizing
	terms := a.Tokenize("深度学习模型")

	// Then: the text is split into overlapping bigrams, not one token
	assert.Greater(t, len(terms), 1)
	assert.Contains(t, terms, "深度")
	assert.Contains(t, terms, "学习")
}

func TestAnalyzer_CJK_LatinWordsStayWhole(t *testing.T) {
	a, err := NewAnalyzer(AnalyzerCJK)
	require.NoError(t, err)

	terms := a.Tokenize("Kubernetes 集群")

	assert.Contains(t, terms, "kubernetes")
	assert.Contains(t, terms, "集群")
}

func TestAnalyzer_English_Stems(t *testing.T) {
	a, err := NewAnalyzer(AnalyzerEnglish)
	require.NoError(t, err)

	terms := a.Tokenize("running runners")

	assert.Contains(t, terms, "run")
}

func TestAnalyzer_Code_SplitsIdentifiers(t *testing.T) {
	a, err := NewAnalyzer(AnalyzerCode)
	require.NoError(t, err)

	terms := a.Tokenize("getUserById in parse_http_request")

	assert.Equal(t, []string{"get", "user", "by", "id", "parse", "http", "request"}, terms)
}

func TestAnalyzer_KeepsRepeatedTerms(t *testing.T) {
	a, err := NewAnalyzer(AnalyzerStandard)
	require.NoError(t, err)

	terms := a.Tokenize("cache cache miss")

	assert.Equal(t, []string{"cache", "cache", "miss"}, terms)
}

func TestAnalyzer_EmptyText(t *testing.T) {
	a, err := NewAnalyzer(AnalyzerCJK)
	require.NoError(t, err)

	terms := a.Tokenize("   ")

	assert.NotNil(t, terms)
	assert.Empty(t, terms)
}

func TestSplitCamelCase(t *testing.T) {
	tests := []struct {
		input    string
		expected []string
	}{
		{"getUserById", []string{"get", "User", "By", "Id"}},
		{"HTTPHandler", []string{"HTTP", "Handler"}},
		{"parseHTTPRequest", []string{"parse", "HTTP", "Request"}},
		{"simple", []string{"simple"}},
		{"", []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, SplitCamelCase(tt.input))
		})
	}
}

func TestTokenizeIdentifiers_DropsShortTokens(t *testing.T) {
	assert.Equal(t, []string{"load", "config"}, TokenizeIdentifiers("a loadConfig x"))
}
