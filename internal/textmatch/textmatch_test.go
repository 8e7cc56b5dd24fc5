package textmatch

import (
	"slices"
	"testing"
)

func TestTerms_DropsStopwordsAndDuplicates(t *testing.T) {
	t.Parallel()

	got := Terms("What did I write about the Budget and the budget review?")
	want := []string{"budget", "review"}
	if !slices.Equal(got, want) {
		t.Errorf("Terms() = %v, want %v", got, want)
	}
}

func TestPhrases(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{"quoted segments win", `find "Project Alpha" and "launch  plan"`, []string{"project alpha", "launch plan"}},
		{"unterminated quote falls back to pairs", `"quarterly budget review`, []string{"quarterly budget", "budget review"}},
		{"content word pairs", "quarterly budget review", []string{"quarterly budget", "budget review"}},
		{"stopwords break pairs", "budget of the team", nil},
		{"single word", "budget", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := Phrases(tt.query)
			if !slices.Equal(got, tt.want) {
				t.Errorf("Phrases(%q) = %v, want %v", tt.query, got, tt.want)
			}
		})
	}
}

func TestExpand_AddsVariantsAndSynonyms(t *testing.T) {
	t.Parallel()

	got := Expand([]string{"meeting", "tasks"})
	for _, want := range []string{"meeting", "tasks", "meetings", "task", "call", "standup"} {
		if !slices.Contains(got, want) {
			t.Errorf("Expand() = %v, missing %q", got, want)
		}
	}
	if got[0] != "meeting" || got[1] != "tasks" {
		t.Errorf("Expand() should keep original terms first, got %v", got[:2])
	}
}

func TestContainsWord(t *testing.T) {
	t.Parallel()

	tests := []struct {
		text string
		term string
		want bool
	}{
		{"the keyword is here", "keyword", true},
		{"keywords everywhere", "keyword", false},
		{"my-keyword.md", "keyword", true},
		{"my_keyword", "keyword", true},
		{"prekeyword keyword", "keyword", true},
		{"café keyword", "café", true},
		{"", "keyword", false},
		{"keyword", "", false},
	}
	for _, tt := range tests {
		if got := ContainsWord(tt.text, tt.term); got != tt.want {
			t.Errorf("ContainsWord(%q, %q) = %v, want %v", tt.text, tt.term, got, tt.want)
		}
	}
}

func TestMatch_CountsPhraseWordAndPartial(t *testing.T) {
	t.Parallel()

	got := Match("Project Alpha kickoff. Budgeting starts soon.", []string{"alpha", "budget", "missing"}, []string{"project alpha"})
	want := Stats{Phrases: 1, Words: 1, Partials: 1}
	if got != want {
		t.Errorf("Match() = %+v, want %+v", got, want)
	}
	if !Match("", []string{"a"}, nil).Empty() {
		t.Error("Match() on empty text should be empty")
	}
}
