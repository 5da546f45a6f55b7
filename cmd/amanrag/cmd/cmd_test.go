package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amanrag/internal/search"
	"github.com/Aman-CERP/amanrag/internal/store"
	"github.com/Aman-CERP/amanrag/internal/telemetry"
)

const testCorpus = `{"content": "reciprocal rank fusion combines ranked lists", "metadata": {"doc_id": "rrf"}}
{"content": "okapi bm25 scores documents by term frequency", "metadata": {"doc_id": "bm25"}}
{"content": "hnsw graphs answer nearest neighbour queries", "metadata": {"doc_id": "hnsw"}}
{"content": "a cross encoder reranks candidate passages", "metadata": {"doc_id": "rerank"}}
{"content": "embedding caches avoid repeated provider calls", "metadata": {"source": "notes.md", "chunk_index": 2}}
`

// setupProject writes a corpus and a fully offline project config.
func setupProject(t *testing.T, extra string) string {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "corpus.jsonl"), []byte(testCorpus), 0o644))

	cfg := `retrieval:
  rerank_top_n: 3
lexical:
  analyzer: standard
  corpus_path: corpus.jsonl
vector:
  backend: hnsw
  path: .amanrag/vectors.hnsw
embeddings:
  provider: static
  dimensions: 64
generation:
  provider: none
reranker:
  provider: none
` + extra
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".amanrag.yaml"), []byte(cfg), 0o644))
	return dir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

// =============================================================================
// Command tree
// =============================================================================

func TestRootCmd_HasSubcommands(t *testing.T) {
	cmd := NewRootCmd()

	names := make(map[string]bool)
	for _, sc := range cmd.Commands() {
		names[sc.Name()] = true
	}

	for _, want := range []string{"search", "index", "stats", "config", "version"} {
		assert.True(t, names[want], "missing %s command", want)
	}
}

func TestSearchCmd_HasFlags(t *testing.T) {
	cmd := NewRootCmd()

	searchCmd, _, err := cmd.Find([]string{"search"})
	require.NoError(t, err)

	for _, name := range []string{"no-hyde", "no-decompose", "top-n", "json", "explain"} {
		assert.NotNil(t, searchCmd.Flags().Lookup(name), "missing --%s", name)
	}
	assert.Equal(t, "0", searchCmd.Flags().Lookup("top-n").DefValue)
}

func TestSearchCmd_RequiresQuery(t *testing.T) {
	_, err := execute(t, "search")
	assert.Error(t, err)
}

// =============================================================================
// search and index
// =============================================================================

func TestSearch_LexicalOnlyJSON(t *testing.T) {
	// Given: a project without a vector index and every model provider off
	dir := setupProject(t, "")

	// When: searching with JSON output
	out, err := execute(t, "search", "reciprocal rank fusion", "--json", "-C", dir)

	// Then: BM25 alone answers, in fusion order
	require.NoError(t, err)
	var resp search.Response
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, "rrf", resp.Results[0].Document.Meta(store.MetaDocID))
	assert.Empty(t, resp.Dense)
	assert.LessOrEqual(t, len(resp.Results), 3)
	assert.Equal(t, []string{"reciprocal rank fusion"}, resp.Variants.BM25SearchQueries)
}

func TestSearch_TopNFlag(t *testing.T) {
	dir := setupProject(t, "")

	out, err := execute(t, "search", "rank fusion lists passages", "--json", "--top-n", "1", "-C", dir)

	require.NoError(t, err)
	var resp search.Response
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Len(t, resp.Results, 1)
}

func TestIndex_ThenSearchUsesDenseChannel(t *testing.T) {
	// Given: an indexed project
	dir := setupProject(t, "")
	out, err := execute(t, "index", "-C", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "Indexed 5 documents")
	assert.FileExists(t, filepath.Join(dir, ".amanrag", "vectors.hnsw"))

	// When: searching
	out, err = execute(t, "search", "nearest neighbour graphs", "--json", "-C", dir)

	// Then: the dense channel contributes
	require.NoError(t, err)
	var resp search.Response
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.NotEmpty(t, resp.Dense)
	assert.NotContains(t, resp.Degraded, telemetry.StageDense)
}

func TestIndex_RejectsQdrantBackend(t *testing.T) {
	dir := setupProject(t, "")
	t.Setenv("AMANRAG_VECTOR_BACKEND", "qdrant")

	_, err := execute(t, "index", "-C", dir)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "qdrant")
}

func TestSearch_InvalidConfig(t *testing.T) {
	dir := setupProject(t, "")
	t.Setenv("AMANRAG_IDENTITY_FALLBACK", "random")

	_, err := execute(t, "search", "q", "-C", dir)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "identity_fallback")
}

func TestPrintSearchResults_Text(t *testing.T) {
	resp := &search.Response{
		Query: "rrf",
		Results: []search.RerankedResult{{
			Document:          store.Document{Content: "reciprocal   rank\nfusion", Metadata: map[string]string{store.MetaDocID: "rrf"}},
			CrossEncoderScore: 0.9,
			FinalRank:         1,
			Sources:           []search.Source{search.SourceBM25, search.SourceDense},
		}},
		Degraded:       []telemetry.Stage{telemetry.StageRerank},
		RerankDegraded: true,
	}
	var buf bytes.Buffer

	require.NoError(t, printSearchResults(&buf, resp, true))

	out := buf.String()
	assert.Contains(t, out, "1. rrf")
	assert.Contains(t, out, "sources=bm25+dense")
	assert.Contains(t, out, "reciprocal rank fusion")
	assert.Contains(t, out, "Degraded: rerank")
	assert.Contains(t, out, "fusion order")
	assert.Contains(t, out, "Query variants")
}

func TestPrintSearchResults_NoResults(t *testing.T) {
	var buf bytes.Buffer

	require.NoError(t, printSearchResults(&buf, &search.Response{Query: "zzz"}, false))

	assert.Contains(t, buf.String(), `No results for "zzz"`)
}

func TestDocumentLabel(t *testing.T) {
	assert.Equal(t, "a", documentLabel(store.Document{Metadata: map[string]string{store.MetaDocID: "a", store.MetaChunkIndex: "3"}}))
	assert.Equal(t, "p#3", documentLabel(store.Document{Metadata: map[string]string{store.MetaParentID: "p", store.MetaChunkIndex: "3"}}))
	assert.Equal(t, "notes.md", documentLabel(store.Document{Metadata: map[string]string{store.MetaSource: "notes.md"}}))
	assert.Equal(t, "(unnamed)", documentLabel(store.Document{}))
}

func TestEntryID(t *testing.T) {
	assert.Equal(t, "a", entryID(store.Document{Metadata: map[string]string{store.MetaDocID: "a"}}, 0))
	assert.Equal(t, "notes.md#2", entryID(store.Document{Metadata: map[string]string{store.MetaSource: "notes.md", store.MetaChunkIndex: "2"}}, 4))
	assert.Equal(t, "corpus:4", entryID(store.Document{Metadata: map[string]string{store.MetaParentID: "p"}}, 4))
}

func TestSnippet(t *testing.T) {
	assert.Equal(t, "a b", snippet(" a\n\tb ", 10))
	assert.Equal(t, "検索...", snippet("検索エンジン", 2))
}

// =============================================================================
// stats
// =============================================================================

func TestStats_NoTelemetry(t *testing.T) {
	dir := setupProject(t, "")

	_, err := execute(t, "stats", "-C", dir)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "no telemetry found")
}

func TestStats_AfterSearches(t *testing.T) {
	// Given: telemetry enabled and two searches, one with no hits
	dir := setupProject(t, "telemetry:\n  enabled: true\n  path: .amanrag/telemetry.db\n")
	_, err := execute(t, "search", "reciprocal rank fusion", "--json", "-C", dir)
	require.NoError(t, err)
	_, err = execute(t, "search", "quantum chromodynamics", "--json", "-C", dir)
	require.NoError(t, err)

	// When: reading stats
	out, err := execute(t, "stats", "--json", "-C", dir)

	// Then: both queries were persisted
	require.NoError(t, err)
	var stats StatsOutput
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.Equal(t, int64(2), stats.TotalQueries)
	assert.Equal(t, []string{"quantum chromodynamics"}, stats.ZeroResultQueries)
	assert.NotEmpty(t, stats.TopTerms)
}

func TestCollectStats_DateWindow(t *testing.T) {
	// Given: latency counts today and ten days ago
	st, err := telemetry.OpenSQLiteMetricsStore(filepath.Join(t.TempDir(), "telemetry.db"))
	require.NoError(t, err)
	defer func() { _ = st.Close() }()

	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	require.NoError(t, st.SaveLatencyCounts("2026-03-15", map[telemetry.LatencyBucket]int64{telemetry.BucketP50: 3}))
	require.NoError(t, st.SaveLatencyCounts("2026-03-05", map[telemetry.LatencyBucket]int64{telemetry.BucketSlow: 7}))
	require.NoError(t, st.SaveStageCounts("2026-03-14", map[telemetry.Stage]int64{telemetry.StageRerank: 2}))

	// When: collecting the last seven days
	out, err := collectStats(st, 7, 10, now)

	// Then: only the window is counted
	require.NoError(t, err)
	assert.Equal(t, "2026-03-09", out.From)
	assert.Equal(t, "2026-03-15", out.To)
	assert.Equal(t, int64(3), out.TotalQueries)
	assert.Equal(t, int64(2), out.DegradedStages["rerank"])
	assert.NotNil(t, out.ZeroResultQueries)

	var buf bytes.Buffer
	require.NoError(t, printStats(&buf, out))
	assert.Contains(t, buf.String(), "Total queries: 3")
	assert.True(t, strings.Contains(buf.String(), "rerank"))
}

// =============================================================================
// config and version
// =============================================================================

func TestConfigShow_MasksSecrets(t *testing.T) {
	dir := setupProject(t, "")
	t.Setenv("AMANRAG_GENERATION_PROVIDER", "openai")
	t.Setenv("OPENAI_API_KEY", "sk-secret")
	t.Setenv("AMANRAG_QDRANT_API_KEY", "qk-secret")

	out, err := execute(t, "config", "show", "-C", dir)

	require.NoError(t, err)
	assert.Contains(t, out, "corpus_path: corpus.jsonl")
	assert.Contains(t, out, "provider: openai")
	assert.Contains(t, out, "qdrant_api_key: '****'")
	assert.NotContains(t, out, "sk-secret")
	assert.NotContains(t, out, "qk-secret")
}

func TestConfigShow_JSON(t *testing.T) {
	dir := setupProject(t, "")

	out, err := execute(t, "config", "show", "--json", "-C", dir)

	require.NoError(t, err)
	var parsed map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &parsed))
	assert.Contains(t, parsed, "retrieval")
}

func TestConfigInit_CreatesUserConfig(t *testing.T) {
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)

	_, err := execute(t, "config", "init")
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(xdg, "amanrag", "config.yaml"))

	_, err = execute(t, "config", "init")
	assert.Error(t, err, "refuses to overwrite without --force")

	_, err = execute(t, "config", "init", "--force")
	assert.NoError(t, err)
}

func TestVersionCmd_JSON(t *testing.T) {
	out, err := execute(t, "version", "--json")

	require.NoError(t, err)
	assert.Contains(t, out, `"go_version"`)
}
