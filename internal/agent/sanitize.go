package agent

import (
	"regexp"
	"strings"
)

// toolUseTagRE matches the internal <tool-use> blocks some models leak into
// their visible output, including trailing whitespace.
var toolUseTagRE = regexp.MustCompile(`(?s)<tool-use>.*?</tool-use>\s*`)

// SanitizeReply strips internal tool-use tags from a model reply.
func SanitizeReply(content string) string {
	return strings.TrimSpace(toolUseTagRE.ReplaceAllString(content, ""))
}

// streamSanitizer applies SanitizeReply incrementally to a chunk stream so
// the emitted deltas concatenate to the sanitised final reply. Text that
// could still grow into a tool-use tag, and trailing whitespace the final
// trim would drop, is held back until later chunks settle it.
type streamSanitizer struct {
	raw     strings.Builder
	emitted int
}

// feed absorbs one raw delta and returns the sanitised text now safe to
// emit, which may be empty.
func (s *streamSanitizer) feed(delta string) string {
	s.raw.WriteString(delta)
	safe := holdBack(SanitizeReply(s.raw.String()))
	if len(safe) <= s.emitted {
		return ""
	}
	out := safe[s.emitted:]
	s.emitted = len(safe)
	return out
}

// flush returns whatever holdBack kept once the stream has ended.
func (s *streamSanitizer) flush() string {
	clean := SanitizeReply(s.raw.String())
	if len(clean) <= s.emitted {
		return ""
	}
	out := clean[s.emitted:]
	s.emitted = len(clean)
	return out
}

// holdBack trims an unclosed tool-use tag, a partial opening tag, and
// trailing whitespace from the sanitised text.
func holdBack(clean string) string {
	if i := strings.LastIndex(clean, "<tool-use>"); i >= 0 {
		clean = clean[:i]
	} else if i := strings.LastIndex(clean, "<"); i >= 0 && strings.HasPrefix("<tool-use>", clean[i:]) {
		clean = clean[:i]
	}
	return strings.TrimRight(clean, " \t\r\n")
}
