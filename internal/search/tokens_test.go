package search

import (
	"strings"
	"testing"
)

func TestSkeleton(t *testing.T) {
	cases := map[string]string{
		"pencil": "pncl",
		"blue":   "bl",
		"water":  "wtr",
		"bottle": "bttl",
		"a":      "a",
		"":       "",
		"apple":  "appl",
	}
	for in, want := range cases {
		if got := Skeleton(in); got != want {
			t.Fatalf("Skeleton(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestIndexTokensContainsWordsAndSkeletons(t *testing.T) {
	tokens := IndexTokens("Blue Pencil", "BP-01", "category7 Pens")

	for _, want := range []string{"blue", "bl", "pencil", "pncl", "bp-01", "bp01", "category7", "Pens"} {
		if !containsToken(tokens, want) {
			t.Fatalf("expected token %q in %q", want, tokens)
		}
	}
}

func TestIndexTokensDeterministic(t *testing.T) {
	a := IndexTokens("Blue Pencil", "BP-01", "category7 Pens")
	b := IndexTokens("Blue Pencil", "BP-01", "category7 Pens")
	if a != b {
		t.Fatalf("IndexTokens not deterministic: %q vs %q", a, b)
	}
}

func TestIndexTokensDedupAndCleanup(t *testing.T) {
	tokens := IndexTokens("Pen  Pen!!", "", "")
	if tokens != "pen pn" {
		t.Fatalf("unexpected tokens %q", tokens)
	}

	if got := IndexTokens("", "", ""); got != "" {
		t.Fatalf("expected empty tokens, got %q", got)
	}
}

func TestIndexTokensSkipsShortSkeletons(t *testing.T) {
	// Skeleton of "ax" is "ax" (no vowel after first char removed to below 2).
	tokens := IndexTokens("ox", "", "")
	if tokens != "ox" {
		t.Fatalf("unexpected tokens %q", tokens)
	}
}

func TestQueryExpression(t *testing.T) {
	cases := map[string]string{
		"Pencil":            "(pencil* OR pncl*)",
		"Blue Water Bottle": "(blue* OR bl*) (water* OR wtr*) (bottle* OR bttl*)",
		"":                  "",
		"   ":               "",
		"bl":                "(bl*)",
		"??":                "",
	}
	for in, want := range cases {
		if got := QueryExpression(in); got != want {
			t.Fatalf("QueryExpression(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestQueryGroups(t *testing.T) {
	groups := QueryGroups("(blue* OR bl*) (water* OR wtr*) (bottle* OR bttl*)")
	if len(groups) != 3 {
		t.Fatalf("expected 3 groups, got %v", groups)
	}
	if groups[0] != "(blue* OR bl*)" || groups[2] != "(bottle* OR bttl*)" {
		t.Fatalf("unexpected groups %v", groups)
	}

	if groups := QueryGroups("(pencil* OR pncl*)"); len(groups) != 1 {
		t.Fatalf("expected single group, got %v", groups)
	}
	if groups := QueryGroups(""); groups != nil {
		t.Fatalf("expected nil groups, got %v", groups)
	}
}

func TestCategoryTokens(t *testing.T) {
	tokens := CategoryTokens([]Category{{ID: 7, Name: "Pens"}, {ID: 12, Name: "Office Supplies"}})
	if tokens != "category7 Pens category12 Office Supplies" {
		t.Fatalf("unexpected category tokens %q", tokens)
	}

	if got := CategoryTokens(nil); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
}

func containsToken(joined, token string) bool {
	for _, tok := range strings.Fields(joined) {
		if tok == token {
			return true
		}
	}
	return false
}
