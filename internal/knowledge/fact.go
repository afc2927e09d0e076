package knowledge

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Fact is one entry of the knowledge corpus. The embedding is computed once
// at ingestion and never mutated in place; changing the text means
// re-embedding and rebuilding the index.
type Fact struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Category  string    `json:"category"`
	Embedding []float32 `json:"embedding,omitempty"`
}

// Scored pairs a fact with its similarity to a query, on a 0..1 scale for
// non-degenerate vectors.
type Scored struct {
	Fact  Fact    `json:"fact"`
	Score float64 `json:"score"`
}

type corpusFile struct {
	Knowledge []corpusEntry `json:"knowledge"`
}

type corpusEntry struct {
	Text     string `json:"text"`
	Category string `json:"category"`
}

// LoadCorpus reads the fact corpus from a JSON file. Two layouts are
// accepted: a bare array of strings, or {"knowledge": [{"text", "category"}]}.
// Empty texts are dropped; facts get stable sequential IDs.
func LoadCorpus(path string) ([]Fact, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read corpus %s: %w", path, err)
	}

	var texts []string
	var categories []string

	var plain []string
	if err := json.Unmarshal(raw, &plain); err == nil {
		for _, t := range plain {
			texts = append(texts, t)
			categories = append(categories, "general")
		}
	} else {
		var structured corpusFile
		if err := json.Unmarshal(raw, &structured); err != nil {
			return nil, fmt.Errorf("parse corpus %s: %w", path, err)
		}
		for _, e := range structured.Knowledge {
			cat := e.Category
			if strings.TrimSpace(cat) == "" {
				cat = "general"
			}
			texts = append(texts, e.Text)
			categories = append(categories, cat)
		}
	}

	facts := make([]Fact, 0, len(texts))
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			continue
		}
		facts = append(facts, Fact{
			ID:       fmt.Sprintf("fact-%04d", len(facts)),
			Text:     t,
			Category: categories[i],
		})
	}
	return facts, nil
}
