package store

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
)

// maxCorpusLine bounds a single JSONL record.
const maxCorpusLine = 16 * 1024 * 1024

// corpusRecord is one JSONL line. Metadata values may be any JSON scalar.
type corpusRecord struct {
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata"`
}

// LoadCorpus reads pre-chunked documents from a JSONL file, one
// {"content": ..., "metadata": {...}} object per line. Blank lines are skipped.
func LoadCorpus(path string) ([]Document, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, amerrors.New(amerrors.ErrCodeCorpusNotFound, "corpus file not found: "+path, err).
				WithSuggestion("set lexical.corpus_path to a JSONL file of documents")
		}
		return nil, amerrors.New(amerrors.ErrCodeCorpusInvalid, "cannot open corpus: "+path, err)
	}
	defer f.Close()

	return ReadCorpus(f)
}

// ReadCorpus parses JSONL documents from r.
func ReadCorpus(r io.Reader) ([]Document, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxCorpusLine)

	docs := []Document{}
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}

		var rec corpusRecord
		if err := json.Unmarshal([]byte(text), &rec); err != nil {
			return nil, amerrors.New(amerrors.ErrCodeCorpusInvalid,
				fmt.Sprintf("corpus line %d: invalid JSON", line), err)
		}
		docs = append(docs, Document{
			Content:  rec.Content,
			Metadata: stringifyMetadata(rec.Metadata),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, amerrors.New(amerrors.ErrCodeCorpusInvalid, "read corpus", err)
	}
	return docs, nil
}

func stringifyMetadata(in map[string]any) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		switch val := v.(type) {
		case nil:
			continue
		case string:
			out[k] = val
		case float64:
			// JSON numbers; integral values print without a fraction
			if val == float64(int64(val)) {
				out[k] = fmt.Sprintf("%d", int64(val))
			} else {
				out[k] = fmt.Sprintf("%g", val)
			}
		default:
			out[k] = fmt.Sprint(val)
		}
	}
	return out
}
