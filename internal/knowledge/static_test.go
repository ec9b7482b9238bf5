package knowledge

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/danielhardy/obru-ai/internal/jsonvalue"
)

func TestStaticProviderQuery(t *testing.T) {
	p := NewStaticProvider([]Snippet{
		{Title: "Refunds", Content: "Refunds take 5 days.", Keywords: []string{"refund"}},
		{Title: "Shipping", Content: "Ships in 2 days.", Keywords: []string{"ship"}, Tags: []string{"orders"}},
		{Title: "General", Content: "Always matches."},
	}, 2)

	got := p.Query("Where is my REFUND?", "")
	if len(got) != 2 || got[0].Title != "Refunds" || got[1].Title != "General" {
		t.Fatalf("unexpected results: %+v", got)
	}

	got = p.Query("status", "orders")
	if len(got) != 2 || got[0].Title != "Shipping" {
		t.Fatalf("tag match failed: %+v", got)
	}
}

func TestLoadStaticProviderFormats(t *testing.T) {
	dir := t.TempDir()
	jsonPath := filepath.Join(dir, "kb.json")
	yamlPath := filepath.Join(dir, "kb.yaml")
	if err := os.WriteFile(jsonPath, []byte(`[{"title":"A","content":"a","keywords":["alpha"]}]`), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(yamlPath, []byte("- title: B\n  content: b\n  keywords: [beta]\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	for path, want := range map[string]string{jsonPath: "A", yamlPath: "B"} {
		p, err := LoadStaticProvider(path, 0)
		if err != nil {
			t.Fatalf("load %s: %v", path, err)
		}
		if p.Len() != 1 || p.items[0].Title != want {
			t.Fatalf("unexpected entries from %s: %+v", path, p.items)
		}
	}

	if _, err := LoadStaticProvider("", 0); err == nil {
		t.Fatalf("expected error for empty path")
	}
}

func TestSearchTool(t *testing.T) {
	p := NewStaticProvider([]Snippet{{Title: "Refunds", Content: "5 days", Keywords: []string{"refund"}}}, 3)
	search := SearchTool(p)

	got, err := search.Execute(context.Background(), jsonvalue.Object{"query": jsonvalue.String("refund policy")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "[1] Refunds: 5 days" {
		t.Fatalf("unexpected output %q", got)
	}

	got, err = search.Execute(context.Background(), jsonvalue.Object{"query": jsonvalue.String("weather")})
	if err != nil || !strings.Contains(got, "No matching") {
		t.Fatalf("expected no-match message, got %q (%v)", got, err)
	}

	if _, err := search.Execute(context.Background(), jsonvalue.Object{}); err == nil {
		t.Fatalf("expected error for empty query")
	}
}
