package coze

import (
	"regexp"
	"strings"
)

var (
	msgTypeObject = regexp.MustCompile(`\{[^{}]*"msg_type"[^{}]*\}`)
	dataObject    = regexp.MustCompile(`\{[^{}]*"data"[^{}]*"[^{}]*"[^{}]*\}`)
	spaceRun      = regexp.MustCompile(` +`)
	sentenceBreak = regexp.MustCompile(`[。！？\n]`)
)

// minRepeatHalf is the shortest half (in runes) treated as a duplicated
// reply, so "哈哈" collapses to "哈" like any other exact repeat.
const minRepeatHalf = 1

// Clean normalizes a completed reply: it strips bookkeeping JSON leaked into
// the text, normalizes spaces, and removes duplicated content.
func Clean(s string) string {
	for {
		next := msgTypeObject.ReplaceAllString(s, "")
		next = dataObject.ReplaceAllString(next, "")
		if next == s {
			break
		}
		s = next
	}

	s = strings.TrimSpace(spaceRun.ReplaceAllString(s, " "))
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	s = strings.Join(lines, "\n")

	return dedupe(s)
}

// dedupe keeps one copy of a reply repeated back to back; otherwise it drops
// sentences identical to the one right before them.
func dedupe(s string) string {
	runes := []rune(s)
	half := len(runes) / 2
	if half >= minRepeatHalf && string(runes[:half]) == string(runes[half:]) {
		return string(runes[:half])
	}

	parts := sentenceBreak.Split(s, -1)
	if len(parts) <= 2 {
		return s
	}
	kept := make([]string, 0, len(parts))
	kept = append(kept, parts[0])
	for i := 1; i < len(parts); i++ {
		if parts[i] != parts[i-1] {
			kept = append(kept, parts[i])
		}
	}
	if len(kept) == len(parts) {
		return s
	}
	return strings.Join(kept, "。")
}
