package pipeline

import "strings"

// abbreviations are tokens whose trailing period does not end a sentence.
var abbreviations = map[string]bool{
	"dr.": true, "mr.": true, "mrs.": true, "ms.": true, "jr.": true, "sr.": true,
	"prof.": true, "st.": true, "vs.": true, "etc.": true, "e.g.": true, "i.e.": true,
	"a.m.": true, "p.m.": true, "u.s.": true, "inc.": true, "ltd.": true,
}

// sentenceSplitter accumulates streamed fragments and yields whole sentences.
type sentenceSplitter struct {
	buf strings.Builder
}

// push appends fragment and returns any sentences it completed.
func (s *sentenceSplitter) push(fragment string) []string {
	s.buf.WriteString(fragment)
	text := s.buf.String()

	var out []string
	start := 0
	for i := 0; i < len(text); i++ {
		if !endsSentence(text, i) {
			continue
		}
		if sentence := strings.TrimSpace(text[start : i+1]); sentence != "" {
			out = append(out, sentence)
		}
		start = i + 1
	}
	if start > 0 {
		s.buf.Reset()
		s.buf.WriteString(text[start:])
	}
	return out
}

// flush returns whatever trailing text has not been emitted yet.
func (s *sentenceSplitter) flush() string {
	rest := strings.TrimSpace(s.buf.String())
	s.buf.Reset()
	return rest
}

// endsSentence reports whether text[i] is terminal punctuation followed by
// whitespace. A terminator at the very end of the buffer is not final yet
// since the next fragment may continue the token ("3." then "14").
func endsSentence(text string, i int) bool {
	switch text[i] {
	case '.', '!', '?':
	default:
		return false
	}
	if i+1 >= len(text) {
		return false
	}
	switch text[i+1] {
	case ' ', '\n', '\t', '\r':
	default:
		return false
	}
	if text[i] != '.' {
		return true
	}

	wordStart := strings.LastIndexAny(text[:i], " \n\t\r") + 1
	word := strings.ToLower(text[wordStart : i+1])
	if abbreviations[word] {
		return false
	}
	// Single-letter initials such as "J."
	if len(word) == 2 && word[0] >= 'a' && word[0] <= 'z' {
		return false
	}
	return true
}
