package pipeline

import "strings"

// minSentenceLen holds back very short sentences ("Hi.", "Sure.") so they
// are synthesized together with the next one.
const minSentenceLen = 8

// abbreviations end in a period without ending the sentence.
var abbreviations = map[string]bool{
	"mr": true, "mrs": true, "ms": true, "dr": true, "st": true,
	"vs": true, "etc": true, "e.g": true, "i.e": true,
}

// sentenceBuffer collects streamed LLM tokens and releases whole sentences
// for synthesis.
type sentenceBuffer struct {
	pending string
}

// Add appends token and returns the sentences it completed, or "".
func (s *sentenceBuffer) Add(token string) string {
	s.pending += token
	cut := lastBoundary(s.pending)
	if cut < 0 {
		return ""
	}
	done := strings.TrimSpace(s.pending[:cut])
	s.pending = s.pending[cut:]
	return done
}

// Flush returns whatever is left and empties the buffer.
func (s *sentenceBuffer) Flush() string {
	rest := strings.TrimSpace(s.pending)
	s.pending = ""
	return rest
}

// lastBoundary returns the index just past the last sentence end that is
// followed by whitespace, or -1.
func lastBoundary(text string) int {
	cut := -1
	for i := 0; i+1 < len(text); i++ {
		if !isSentenceEnd(text[i]) || !isSpace(text[i+1]) {
			continue
		}
		if text[i] == '.' && isAbbreviation(text[:i]) {
			continue
		}
		if len(strings.TrimSpace(text[:i+1])) < minSentenceLen {
			continue
		}
		cut = i + 1
	}
	return cut
}

func isAbbreviation(before string) bool {
	word := before[strings.LastIndexAny(before, " \n\t")+1:]
	return abbreviations[strings.ToLower(word)]
}

func isSentenceEnd(ch byte) bool {
	return ch == '.' || ch == '!' || ch == '?'
}

func isSpace(ch byte) bool {
	return ch == ' ' || ch == '\n' || ch == '\t'
}
