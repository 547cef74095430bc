// Package keyword turns free text into the normalized keyword sets used for
// both indexing and querying. Records and queries must go through the same
// Normalizer or recall silently breaks.
package keyword

import (
	"slices"
	"strings"
	"unicode"
)

// Options configures normalization.
type Options struct {
	Stemming       bool
	StopWords      bool
	MinLength      int
	ExtraStopWords []string
}

// DefaultOptions returns the default normalization rules.
func DefaultOptions() Options {
	return Options{
		Stemming:  true,
		StopWords: true,
		MinLength: 2,
	}
}

// Normalizer extracts keyword sets. It is safe for concurrent use.
type Normalizer struct {
	opts Options
	stop map[string]struct{}
}

// New builds a Normalizer. Extra stop words are normalized like any other token.
func New(opts Options) *Normalizer {
	if opts.MinLength < 1 {
		opts.MinLength = 1
	}
	n := &Normalizer{opts: opts, stop: map[string]struct{}{}}
	if opts.StopWords {
		for _, w := range defaultStopWords {
			n.stop[w] = struct{}{}
		}
		for _, w := range opts.ExtraStopWords {
			for _, tok := range tokenize(strings.ToLower(w)) {
				n.stop[tok] = struct{}{}
			}
		}
	}
	return n
}

// Extract returns the sorted, de-duplicated keyword set of text.
// Extract(strings.Join(Extract(x), " ")) == Extract(x).
func (n *Normalizer) Extract(text string) []string {
	seen := map[string]struct{}{}
	for _, tok := range tokenize(strings.ToLower(text)) {
		if kw, ok := n.normalize(tok); ok {
			seen[kw] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for kw := range seen {
		out = append(out, kw)
	}
	slices.Sort(out)
	return out
}

func (n *Normalizer) normalize(tok string) (string, bool) {
	han := isHanToken(tok)
	if !han && len([]rune(tok)) < n.opts.MinLength {
		return "", false
	}
	if _, ok := n.stop[tok]; ok {
		return "", false
	}
	if n.opts.Stemming && !han {
		tok = Stem(tok)
		if _, ok := n.stop[tok]; ok {
			return "", false
		}
		if len([]rune(tok)) < n.opts.MinLength {
			return "", false
		}
	}
	return tok, true
}

// tokenize splits on anything that is not a letter, digit or underscore.
// Han ideographs become single-rune tokens.
func tokenize(s string) []string {
	var (
		out []string
		cur strings.Builder
	)
	flush := func() {
		if cur.Len() > 0 {
			out = append(out, strings.Trim(cur.String(), "_"))
			cur.Reset()
		}
	}
	for _, r := range s {
		switch {
		case unicode.Is(unicode.Han, r):
			flush()
			out = append(out, string(r))
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_':
			cur.WriteRune(r)
		default:
			flush()
		}
	}
	flush()
	return slices.DeleteFunc(out, func(t string) bool { return t == "" })
}

func isHanToken(tok string) bool {
	for _, r := range tok {
		if !unicode.Is(unicode.Han, r) {
			return false
		}
	}
	return tok != ""
}

// Stem applies light English plural stripping. Stem(Stem(w)) == Stem(w).
func Stem(w string) string {
	switch {
	case len(w) > 4 && strings.HasSuffix(w, "ies"):
		return w[:len(w)-3] + "y"
	case strings.HasSuffix(w, "sses"):
		return w[:len(w)-2]
	case len(w) > 3 && strings.HasSuffix(w, "s") &&
		!strings.HasSuffix(w, "ss") && !strings.HasSuffix(w, "us") && !strings.HasSuffix(w, "is"):
		return w[:len(w)-1]
	}
	return w
}

// CountWords counts Han characters individually and latin/digit runs as words.
func CountWords(text string) int {
	n := 0
	inWord := false
	for _, r := range text {
		switch {
		case unicode.Is(unicode.Han, r):
			n++
			inWord = false
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if !inWord {
				n++
			}
			inWord = true
		default:
			inWord = false
		}
	}
	return n
}

var defaultStopWords = []string{
	"a", "about", "after", "all", "also", "an", "and", "any", "are", "as", "at",
	"be", "been", "but", "by", "can", "could", "did", "do", "does", "for", "from",
	"had", "has", "have", "he", "her", "his", "how", "i", "if", "in", "into", "is",
	"it", "its", "just", "may", "me", "more", "my", "of", "on", "or",
	"our", "she", "should", "so", "some", "such", "than", "that", "the", "their",
	"them", "then", "there", "these", "they", "this", "those", "to", "too", "very",
	"was", "we", "were", "what", "when", "where", "which", "while", "who", "will",
	"with", "would", "you", "your",
}
