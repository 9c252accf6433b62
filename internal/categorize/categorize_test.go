package categorize

import (
	"strings"
	"testing"
)

func TestCategorizeKeywordMatch(t *testing.T) {
	tests := []struct {
		query string
		want  string // expected best category
	}{
		{"python pandas dataframe tutorial", "Coding"},
		{"best laptop deals amazon", "Shopping"},
		{"flight tickets to paris", "Travel"},
		{"yoga exercises for beginners", "Health"},
		{"nba playoff score", "Sports"},
		{"chatgpt prompt engineering", "AI"},
	}

	for _, tt := range tests {
		got := Categorize(tt.query, "")
		if len(got.Categories) == 0 || got.Categories[0] != tt.want {
			t.Errorf("Categorize(%q) best = %v, want %s", tt.query, got.Categories, tt.want)
		}
		if got.Confidence < 0.5 || got.Confidence > 0.95 {
			t.Errorf("Categorize(%q) confidence %v out of range", tt.query, got.Confidence)
		}
	}
}

func TestCategorizeNoMatch(t *testing.T) {
	got := Categorize("xzqw gibberish zyxxy", "")
	if got.Category != DefaultCategory {
		t.Errorf("expected default category, got %q", got.Category)
	}
	if got.Confidence != DefaultConfidence {
		t.Errorf("expected default confidence, got %v", got.Confidence)
	}
}

func TestCategorizeEmptyQuery(t *testing.T) {
	got := Categorize("", "https://example.com")
	if got.Category != DefaultCategory {
		t.Errorf("empty query must yield the default, got %q", got.Category)
	}
}

func TestCategorizeUsesURLContext(t *testing.T) {
	got := Categorize("some neutral words", "https://stackoverflow.com/questions/1")
	if len(got.Categories) == 0 || got.Categories[0] != "Coding" {
		t.Errorf("URL should contribute keywords, got %v", got.Categories)
	}
}

func TestCategorizeMultiCategory(t *testing.T) {
	got := Categorize("python machine learning tutorial", "")
	if len(got.Categories) < 2 {
		t.Fatalf("expected multiple categories, got %v", got.Categories)
	}
	if !strings.Contains(got.Category, ", ") {
		t.Errorf("Category should be comma-joined, got %q", got.Category)
	}
	if len(got.Categories) > 3 {
		t.Errorf("at most 3 categories, got %v", got.Categories)
	}
}

func TestCategorizeWordBoundaries(t *testing.T) {
	// "ai" must not match inside "maintain".
	got := Categorize("maintain the garden fence", "")
	for _, c := range got.Categories {
		if c == "AI" {
			t.Errorf("substring match leaked through word boundary: %v", got.Categories)
		}
	}
}

func TestCategoriesIncludesDefault(t *testing.T) {
	all := Categories()
	found := false
	for _, c := range all {
		if c == DefaultCategory {
			found = true
		}
	}
	if !found {
		t.Error("Categories() must include the default")
	}
}
