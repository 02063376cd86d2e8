package engine

import (
	"reflect"
	"testing"
)

func collect(g *Segmenter, chunks ...string) []string {
	var out []string
	for _, c := range chunks {
		out = append(out, g.Push(c)...)
	}
	if tail := g.Flush(); tail != "" {
		out = append(out, tail)
	}
	return out
}

func TestSegmenter(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{
			name: "single sentence",
			in:   "Photosynthesis is how plants [chuckles] make food from light.",
			want: []string{"Photosynthesis is how plants [chuckles] make food from light."},
		},
		{
			name: "multiple terminators",
			in:   "One. Two! Three?",
			want: []string{"One.", "Two!", "Three?"},
		},
		{
			name: "ascii ellipsis",
			in:   "Well... maybe. Sure.",
			want: []string{"Well...", "maybe.", "Sure."},
		},
		{
			name: "unicode ellipsis",
			in:   "Hmm… let me think. Done.",
			want: []string{"Hmm…", "let me think.", "Done."},
		},
		{
			name: "bracket after terminator starts next sentence",
			in:   "From light.[chuckles] Anyway.",
			want: []string{"From light.", "[chuckles] Anyway."},
		},
		{
			name: "trailing remainder without terminator",
			in:   "First. second has no end",
			want: []string{"First.", "second has no end"},
		},
		{
			name: "newline counts as whitespace",
			in:   "Line one.\nLine two.",
			want: []string{"Line one.", "Line two."},
		},
		{
			name: "whitespace only",
			in:   "   ",
			want: nil,
		},
		{
			name: "decimal number stays whole",
			in:   "Pi is 3.14 or so. Roughly.",
			want: []string{"Pi is 3.14 or so.", "Roughly."},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := collect(&Segmenter{}, tt.in)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("sentences = %#v, want %#v", got, tt.want)
			}
		})
	}
}

// Feeding a reply as one chunk or as many small chunks must yield the same
// ordered sentences.
func TestSegmenterChunkingInvariance(t *testing.T) {
	text := "Photosynthesis is how plants [chuckles] make food from light. " +
		"It happens in chloroplasts! Want to know more… or shall we move on? Ok."

	whole := collect(&Segmenter{}, text)

	var pieces []string
	for i := 0; i < len(text); i += 3 {
		end := i + 3
		if end > len(text) {
			end = len(text)
		}
		pieces = append(pieces, text[i:end])
	}
	chunked := collect(&Segmenter{}, pieces...)

	if !reflect.DeepEqual(whole, chunked) {
		t.Errorf("whole = %#v\nchunked = %#v", whole, chunked)
	}
	want := []string{
		"Photosynthesis is how plants [chuckles] make food from light.",
		"It happens in chloroplasts!",
		"Want to know more…",
		"or shall we move on?",
		"Ok.",
	}
	if !reflect.DeepEqual(whole, want) {
		t.Errorf("sentences = %#v, want %#v", whole, want)
	}
}

// A chunk boundary landing right after a terminator that is not sentence-final
// must not split the sentence.
func TestSegmenterBoundaryAfterTerminator(t *testing.T) {
	whole := collect(&Segmenter{}, "The answer is 3.5 done.")
	chunked := collect(&Segmenter{}, "The answer is 3.", "5 done.")
	if !reflect.DeepEqual(whole, chunked) {
		t.Errorf("whole = %#v\nchunked = %#v", whole, chunked)
	}
	want := []string{"The answer is 3.5 done."}
	if !reflect.DeepEqual(whole, want) {
		t.Errorf("sentences = %#v, want %#v", whole, want)
	}
}

func TestSegmenterFlushClearsBuffer(t *testing.T) {
	g := &Segmenter{}
	g.Push("partial")
	if got := g.Flush(); got != "partial" {
		t.Fatalf("flush = %q", got)
	}
	if got := g.Flush(); got != "" {
		t.Fatalf("second flush = %q, want empty", got)
	}
}
