package knowledge

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
)

func testFacts() []Fact {
	return []Fact{
		{ID: "f-deadline", Text: "Project deadline is Friday", Category: "calendar"},
		{ID: "f-standup", Text: "Daily standup happens at 9am", Category: "calendar"},
		{ID: "f-email", Text: "Email notifications go through Gmail", Category: "email"},
		{ID: "f-search", Text: "Web search uses DuckDuckGo", Category: "general"},
	}
}

func builtIndex(t *testing.T, path string) *FlatIndex {
	t.Helper()
	idx := NewFlatIndex(NewTokenHashEmbedder(DefaultEmbeddingDim), path, nil)
	if err := idx.Build(context.Background(), testFacts()); err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	return idx
}

func TestSearchBeforeBuildFails(t *testing.T) {
	idx := NewFlatIndex(NewTokenHashEmbedder(64), "", nil)
	_, err := idx.Search(context.Background(), "anything", 3)
	if !errors.Is(err, ErrNotBuilt) {
		t.Fatalf("Search() error = %v, want ErrNotBuilt", err)
	}
}

func TestSearchKZeroIsEmpty(t *testing.T) {
	idx := builtIndex(t, "")
	got, err := idx.Search(context.Background(), "deadline", 0)
	if err != nil {
		t.Fatalf("Search(k=0) error = %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("Search(k=0) = %d results, want 0", len(got))
	}
}

func TestSearchNegativeKFails(t *testing.T) {
	idx := builtIndex(t, "")
	if _, err := idx.Search(context.Background(), "deadline", -1); err == nil {
		t.Fatalf("Search(k=-1) expected error")
	}
}

func TestSearchRanksRelevantFactFirst(t *testing.T) {
	idx := builtIndex(t, "")
	got, err := idx.Search(context.Background(), "when is the deadline", 3)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(got) == 0 {
		t.Fatalf("Search() returned no results")
	}
	if got[0].Fact.ID != "f-deadline" {
		t.Fatalf("top result = %s (%.3f), want f-deadline", got[0].Fact.ID, got[0].Score)
	}
	if got[0].Score <= 0.5 {
		t.Fatalf("top score = %.3f, want > 0.5", got[0].Score)
	}
	for i := 1; i < len(got); i++ {
		if got[i].Score > got[i-1].Score {
			t.Fatalf("results not in descending order at %d: %.3f > %.3f", i, got[i].Score, got[i-1].Score)
		}
	}
}

func TestSearchIsDeterministic(t *testing.T) {
	idx := builtIndex(t, "")
	first, err := idx.Search(context.Background(), "email notifications", 4)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	for round := 0; round < 5; round++ {
		again, err := idx.Search(context.Background(), "email notifications", 4)
		if err != nil {
			t.Fatalf("Search() round %d error = %v", round, err)
		}
		if len(again) != len(first) {
			t.Fatalf("round %d: %d results, want %d", round, len(again), len(first))
		}
		for i := range again {
			if again[i].Fact.ID != first[i].Fact.ID || again[i].Score != first[i].Score {
				t.Fatalf("round %d result %d = (%s, %v), want (%s, %v)",
					round, i, again[i].Fact.ID, again[i].Score, first[i].Fact.ID, first[i].Score)
			}
		}
	}
}

func TestSearchTiesKeepInsertionOrder(t *testing.T) {
	idx := NewFlatIndex(NewTokenHashEmbedder(64), "", nil)
	facts := []Fact{
		{ID: "first", Text: "identical text"},
		{ID: "second", Text: "identical text"},
	}
	if err := idx.Build(context.Background(), facts); err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	got, err := idx.Search(context.Background(), "identical text", 2)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if got[0].Fact.ID != "first" || got[1].Fact.ID != "second" {
		t.Fatalf("tie order = [%s %s], want [first second]", got[0].Fact.ID, got[1].Fact.ID)
	}
}

func TestPersistLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.json")
	idx := builtIndex(t, path)

	queries := []string{"when is the deadline", "standup time", "search the web"}
	want := make(map[string][]Scored)
	for _, q := range queries {
		res, err := idx.Search(context.Background(), q, 3)
		if err != nil {
			t.Fatalf("Search(%q) error = %v", q, err)
		}
		want[q] = res
	}

	if err := idx.Persist(); err != nil {
		t.Fatalf("Persist() error = %v", err)
	}

	fresh := NewFlatIndex(NewTokenHashEmbedder(DefaultEmbeddingDim), path, nil)
	if err := fresh.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if fresh.Size() != idx.Size() {
		t.Fatalf("Size() after load = %d, want %d", fresh.Size(), idx.Size())
	}

	for _, q := range queries {
		got, err := fresh.Search(context.Background(), q, 3)
		if err != nil {
			t.Fatalf("Search(%q) after load error = %v", q, err)
		}
		if len(got) != len(want[q]) {
			t.Fatalf("Search(%q) after load = %d results, want %d", q, len(got), len(want[q]))
		}
		for i := range got {
			if got[i].Fact.ID != want[q][i].Fact.ID || got[i].Score != want[q][i].Score {
				t.Fatalf("Search(%q)[%d] = (%s, %v), want (%s, %v)",
					q, i, got[i].Fact.ID, got[i].Score, want[q][i].Fact.ID, want[q][i].Score)
			}
		}
	}
}

func TestLoadCorruptSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write corrupt file: %v", err)
	}
	idx := NewFlatIndex(NewTokenHashEmbedder(64), path, nil)
	if err := idx.Load(); !errors.Is(err, ErrCorruptIndex) {
		t.Fatalf("Load() error = %v, want ErrCorruptIndex", err)
	}
}

func TestLoadDimensionMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.json")
	idx := builtIndex(t, path)
	if err := idx.Persist(); err != nil {
		t.Fatalf("Persist() error = %v", err)
	}

	other := NewFlatIndex(NewTokenHashEmbedder(128), path, nil)
	if err := other.Load(); !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("Load() error = %v, want ErrDimensionMismatch", err)
	}
}

func TestEmbedderDeterministicUnitVectors(t *testing.T) {
	e := NewTokenHashEmbedder(DefaultEmbeddingDim)
	a, err := e.Embed(context.Background(), "the project deadline is Friday")
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	b, err := e.Embed(context.Background(), "the project deadline is Friday")
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if len(a) != DefaultEmbeddingDim {
		t.Fatalf("dims = %d, want %d", len(a), DefaultEmbeddingDim)
	}
	var norm float64
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("embedding not deterministic at %d: %v != %v", i, a[i], b[i])
		}
		norm += float64(a[i]) * float64(a[i])
	}
	if math.Abs(norm-1) > 1e-3 {
		t.Fatalf("embedding norm = %v, want 1", norm)
	}
}

func TestCachingEmbedderMatchesInner(t *testing.T) {
	inner := NewTokenHashEmbedder(64)
	cached, err := NewCachingEmbedder(inner, 16)
	if err != nil {
		t.Fatalf("NewCachingEmbedder() error = %v", err)
	}
	defer cached.Close()

	want, err := inner.Embed(context.Background(), "cache me")
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	for round := 0; round < 3; round++ {
		got, err := cached.Embed(context.Background(), "cache me")
		if err != nil {
			t.Fatalf("cached Embed() round %d error = %v", round, err)
		}
		for i := range got {
			if got[i] != want[i] {
				t.Fatalf("round %d: cached embedding differs at %d", round, i)
			}
		}
	}
}

func TestLoadCorpusFormats(t *testing.T) {
	dir := t.TempDir()

	plain := filepath.Join(dir, "plain.json")
	if err := os.WriteFile(plain, []byte(`["fact one", "", "fact two"]`), 0o644); err != nil {
		t.Fatalf("write plain corpus: %v", err)
	}
	facts, err := LoadCorpus(plain)
	if err != nil {
		t.Fatalf("LoadCorpus(plain) error = %v", err)
	}
	if len(facts) != 2 || facts[0].Category != "general" || facts[1].ID != "fact-0001" {
		t.Fatalf("plain corpus parsed wrong: %+v", facts)
	}

	structured := filepath.Join(dir, "knowledge.json")
	payload := `{"knowledge":[{"text":"Project deadline is Friday","category":"calendar"},{"text":"note"}]}`
	if err := os.WriteFile(structured, []byte(payload), 0o644); err != nil {
		t.Fatalf("write structured corpus: %v", err)
	}
	facts, err = LoadCorpus(structured)
	if err != nil {
		t.Fatalf("LoadCorpus(structured) error = %v", err)
	}
	if len(facts) != 2 {
		t.Fatalf("structured corpus = %d facts, want 2", len(facts))
	}
	if facts[0].Category != "calendar" || facts[1].Category != "general" {
		t.Fatalf("categories parsed wrong: %+v", facts)
	}
}
