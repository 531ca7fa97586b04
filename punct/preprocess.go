package punct

import (
	"strings"
	"unicode"
)

// isMarker reports the punctuation a model re-predicts and which is therefore
// stripped from its input.
func isMarker(r rune) bool {
	switch r {
	case '.', ',', ';', ':', '!', '?':
		return true
	}
	return false
}

// Preprocess strips sentence punctuation that is not part of a number and
// splits the remainder on whitespace. "3.14" and "1,000" survive intact while
// "end." becomes "end".
func Preprocess(text string) []string {
	if text == "" {
		return nil
	}
	runes := []rune(text)
	var b strings.Builder
	b.Grow(len(text))
	for i, r := range runes {
		if isMarker(r) {
			prevDigit := i > 0 && unicode.IsDigit(runes[i-1])
			nextDigit := i+1 < len(runes) && unicode.IsDigit(runes[i+1])
			if !prevDigit && !nextDigit {
				continue
			}
		}
		b.WriteRune(r)
	}
	return strings.Fields(b.String())
}

// Chunks splits words into consecutive windows of at most size words.
// A non-positive size yields a single window.
func Chunks(words []string, size int) [][]string {
	if len(words) == 0 {
		return nil
	}
	if size <= 0 || len(words) <= size {
		return [][]string{words}
	}
	chunks := make([][]string, 0, (len(words)+size-1)/size)
	for start := 0; start < len(words); start += size {
		end := min(start+size, len(words))
		chunks = append(chunks, words[start:end])
	}
	return chunks
}
