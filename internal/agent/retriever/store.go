package retriever

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/chainlens-core/server/internal/agent/model"
	"github.com/chainlens-core/server/internal/agent/normalize"
)

const (
	stampLayout     = "20060102_150405"
	maxPromptRunes  = 50
	datasetFileMode = 0o644
)

// DatasetStore writes datasets as JSON files under Dir.
type DatasetStore struct {
	Dir string
}

func NewDatasetStore(dir string) *DatasetStore {
	return &DatasetStore{Dir: dir}
}

// FileName is {YYYYMMDD_HHMMSS}_{sanitized first 50 characters of prompt}.json.
func FileName(ds *model.RetrievedDataset) string {
	return ds.Timestamp.Format(stampLayout) + "_" + sanitize(ds.Prompt) + ".json"
}

func sanitize(prompt string) string {
	runes := []rune(prompt)
	if len(runes) > maxPromptRunes {
		runes = runes[:maxPromptRunes]
	}
	for i, r := range runes {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			runes[i] = '_'
		}
	}
	return strings.TrimRight(string(runes), "_")
}

// Save never overwrites: a clash within the same second gets a numeric suffix.
func (s *DatasetStore) Save(ds *model.RetrievedDataset) (string, error) {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create results dir: %w", err)
	}
	b, err := json.MarshalIndent(ds, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal dataset: %w", err)
	}

	name := FileName(ds)
	path := filepath.Join(s.Dir, name)
	stem := strings.TrimSuffix(name, ".json")
	for n := 2; ; n++ {
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, datasetFileMode)
		if os.IsExist(err) {
			path = filepath.Join(s.Dir, fmt.Sprintf("%s_%d.json", stem, n))
			continue
		}
		if err != nil {
			return "", fmt.Errorf("create dataset file: %w", err)
		}
		if _, err := f.Write(b); err != nil {
			f.Close()
			return "", fmt.Errorf("write dataset: %w", err)
		}
		if err := f.Close(); err != nil {
			return "", fmt.Errorf("close dataset: %w", err)
		}
		return path, nil
	}
}

// Load reads a dataset written by Save. Numbers keep integer precision.
func Load(path string) (*model.RetrievedDataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	defer f.Close()

	v, err := normalize.DecodeJSON(f)
	if err != nil {
		return nil, fmt.Errorf("decode dataset %s: %w", path, err)
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("decode dataset %s: not an object", path)
	}

	ds := &model.RetrievedDataset{FilePath: path}
	ds.Prompt, _ = m["prompt"].(string)
	if rows, ok := m["records"].([]any); ok {
		for _, row := range rows {
			if rm, ok := row.(map[string]any); ok {
				ds.Records = append(ds.Records, rm)
			}
		}
	}
	if results, ok := m["tools_results"].([]any); ok {
		for _, raw := range results {
			rm, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			tr := model.ToolInvocationResult{Result: rm["result"]}
			tr.ToolName, _ = rm["tool_name"].(string)
			tr.Arguments, _ = rm["arguments"].(map[string]any)
			tr.Error, _ = rm["error"].(string)
			ds.ToolResults = append(ds.ToolResults, tr)
		}
	}
	return ds, nil
}
