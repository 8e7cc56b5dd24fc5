package commands

import (
	"slices"
	"testing"
)

func TestNewRootCmd_Subcommands(t *testing.T) {
	t.Parallel()

	root := NewRootCmd()
	var got []string
	for _, c := range root.Commands() {
		got = append(got, c.Name())
	}
	for _, want := range []string{"serve", "index", "search", "context", "ask", "inspect", "version"} {
		if !slices.Contains(got, want) {
			t.Errorf("subcommand %q missing, have %v", want, got)
		}
	}
}

func TestSplitList(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{".md", []string{".md"}},
		{" .md, .txt ,,", []string{".md", ".txt"}},
	}
	for _, tc := range tests {
		if got := splitList(tc.in); !slices.Equal(got, tc.want) {
			t.Errorf("splitList(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestOneLine(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"# Title\n\nbody   text", 80, "# Title body text"},
		{"abcdef", 3, "abc…"},
		{"héllo", 5, "héllo"},
	}
	for _, tc := range tests {
		if got := oneLine(tc.in, tc.n); got != tc.want {
			t.Errorf("oneLine(%q, %d) = %q, want %q", tc.in, tc.n, got, tc.want)
		}
	}
}
