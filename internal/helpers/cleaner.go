package helpers

import (
	"strings"
)

// CleanMarkdown normalizes a model completion for display: bold markers
// are removed, leading header markers are stripped per line, leading "*"
// list bullets become a bullet glyph, and surrounding whitespace is
// trimmed. The transform is idempotent.
func CleanMarkdown(text string) string {
	text = strings.ReplaceAll(text, "**", "")

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if strings.HasPrefix(line, "##") {
			line = strings.TrimLeft(line, "#")
			line = strings.TrimLeft(line, " \t")
		}
		if strings.HasPrefix(line, "*") {
			line = "•" + line[1:]
		}
		lines[i] = line
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
