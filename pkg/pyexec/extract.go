package pyexec

import (
	"regexp"
	"strings"
)

// fencePattern matches a fenced block. A language hint is only taken when
// it is alone on the opening line, except for "python" which may be
// followed directly by code.
var fencePattern = regexp.MustCompile("```(?:[\\w+.-]+[ \\t]*\\n|python\\b)?\\s*([\\s\\S]*?)```")

// Extract returns the source to run from raw input: the content of the
// first fenced block when there is one, otherwise the whole text. The
// result is trimmed.
func Extract(text string) string {
	text = strings.TrimSpace(text)
	if m := fencePattern.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	return text
}

// ExtractAll returns the trimmed content of every fenced block, in order,
// skipping empty ones. Text without fences yields the whole text as the
// only block.
func ExtractAll(text string) []string {
	text = strings.TrimSpace(text)
	matches := fencePattern.FindAllStringSubmatch(text, -1)
	if matches == nil {
		if text == "" {
			return nil
		}
		return []string{text}
	}
	var blocks []string
	for _, m := range matches {
		if b := strings.TrimSpace(m[1]); b != "" {
			blocks = append(blocks, b)
		}
	}
	return blocks
}
