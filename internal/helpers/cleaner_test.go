package helpers

import "testing"

func TestCleanMarkdown(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"bold stripped", "some **bold** text", "some bold text"},
		{"header stripped", "## Heading\nbody", "Heading\nbody"},
		{"deep header stripped", "#### Deep\nbody", "Deep\nbody"},
		{"bullet replaced", "intro\n* item one\n* item two", "intro\n• item one\n• item two"},
		{"whitespace trimmed", "  \n text \n ", "text"},
		{"plain text untouched", "nothing to clean here", "nothing to clean here"},
		{"inline asterisk kept", "2 * 3 = 6", "2 * 3 = 6"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := CleanMarkdown(tc.in); got != tc.want {
				t.Fatalf("CleanMarkdown(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestCleanMarkdownIdempotent(t *testing.T) {
	inputs := []string{
		"## Title\n**bold** and\n* bullet",
		"already clean",
		"#### Deep header",
	}
	for _, in := range inputs {
		once := CleanMarkdown(in)
		if twice := CleanMarkdown(once); twice != once {
			t.Fatalf("not idempotent: first %q, second %q", once, twice)
		}
	}
}
