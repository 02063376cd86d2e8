package engine

import (
	"regexp"
	"strings"
)

// sentenceEnd matches the earliest prefix ending in a sentence terminator
// followed by whitespace or an opening bracket (inline delivery cues such as
// "[laughs]" stay attached to the sentence before them). End of input is
// never a boundary while streaming: a terminator at a chunk edge may be
// mid-sentence ("3." + "5 done."), so the tail waits for Flush.
var sentenceEnd = regexp.MustCompile(`(?s)^(.*?[.!?…])(\s|\[)`)

// Segmenter splits an incremental text stream into speakable sentences
// without waiting for the full reply. Not safe for concurrent use; each turn
// gets its own.
type Segmenter struct {
	buf string
}

// Push appends a chunk of streamed text and returns every complete sentence
// now extractable, in order.
func (g *Segmenter) Push(chunk string) []string {
	g.buf += chunk

	var sentences []string
	for {
		m := sentenceEnd.FindStringSubmatchIndex(g.buf)
		if m == nil {
			break
		}
		sentence := strings.TrimSpace(g.buf[m[2]:m[3]])
		if g.buf[m[4]:m[5]] == "[" {
			g.buf = g.buf[m[4]:]
		} else {
			g.buf = g.buf[m[5]:]
		}
		if sentence != "" {
			sentences = append(sentences, sentence)
		}
		if g.buf == "" {
			break
		}
	}
	return sentences
}

// Flush returns whatever remains in the buffer as a final sentence, or ""
// if the buffer holds only whitespace. Call at stream end.
func (g *Segmenter) Flush() string {
	remainder := strings.TrimSpace(g.buf)
	g.buf = ""
	return remainder
}
