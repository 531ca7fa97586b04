package punct

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Reconstructor turns a labeled word sequence back into text.
type Reconstructor struct {
	// EnableCapitalization uppercases the first word and every word that
	// follows sentence-ending punctuation.
	EnableCapitalization bool
}

// NewReconstructor returns a Reconstructor.
func NewReconstructor(enableCapitalization bool) Reconstructor {
	return Reconstructor{EnableCapitalization: enableCapitalization}
}

// Reconstruct appends every word followed by what its label calls for:
//   - "0": a single space
//   - a non-numeric label (punctuation, or the empty label): the label and a
//     space, or the label alone after the last word
//   - any other numeric label: nothing
//
// After punctuation other than ",", "-" and "'" the next word is capitalized.
// The result is not trimmed.
func (r Reconstructor) Reconstruct(words []LabeledWord) string {
	var b strings.Builder
	needCapitalize := true
	last := len(words) - 1

	for i, lw := range words {
		word := lw.Word
		if r.EnableCapitalization && needCapitalize {
			word = Capitalize(word)
			needCapitalize = false
		}
		b.WriteString(word)

		switch {
		case lw.Label == NoPunctuation:
			b.WriteByte(' ')
		case !isNumeric(lw.Label):
			b.WriteString(lw.Label)
			if i != last {
				b.WriteByte(' ')
				if !continuesSentence(lw.Label) {
					needCapitalize = true
				}
			}
		}
	}
	return b.String()
}

// continuesSentence reports punctuation after which capitalization does not restart.
func continuesSentence(label string) bool {
	switch label {
	case ",", "-", "'":
		return true
	}
	return false
}

// digitSymbols holds the runes outside category Nd whose Unicode numeric type
// is Digit: superscripts, subscripts, circled and parenthesized digits and a
// few historic scripts. Together with unicode.IsDigit it matches the digit
// test model hosts apply to their labels.
var digitSymbols = &unicode.RangeTable{
	R16: []unicode.Range16{
		{Lo: 0x00b2, Hi: 0x00b3, Stride: 1},
		{Lo: 0x00b9, Hi: 0x00b9, Stride: 1},
		{Lo: 0x1369, Hi: 0x1371, Stride: 1},
		{Lo: 0x19da, Hi: 0x19da, Stride: 1},
		{Lo: 0x2070, Hi: 0x2070, Stride: 1},
		{Lo: 0x2074, Hi: 0x2079, Stride: 1},
		{Lo: 0x2080, Hi: 0x2089, Stride: 1},
		{Lo: 0x2460, Hi: 0x2468, Stride: 1},
		{Lo: 0x2474, Hi: 0x247c, Stride: 1},
		{Lo: 0x2488, Hi: 0x2490, Stride: 1},
		{Lo: 0x24ea, Hi: 0x24ea, Stride: 1},
		{Lo: 0x24f5, Hi: 0x24fd, Stride: 1},
		{Lo: 0x24ff, Hi: 0x24ff, Stride: 1},
		{Lo: 0x2776, Hi: 0x277e, Stride: 1},
		{Lo: 0x2780, Hi: 0x2788, Stride: 1},
		{Lo: 0x278a, Hi: 0x2792, Stride: 1},
	},
	R32: []unicode.Range32{
		{Lo: 0x10a40, Hi: 0x10a43, Stride: 1},
		{Lo: 0x10e60, Hi: 0x10e68, Stride: 1},
		{Lo: 0x11052, Hi: 0x1105a, Stride: 1},
		{Lo: 0x1f100, Hi: 0x1f10a, Stride: 1},
	},
	LatinOffset: 2,
}

// isNumeric reports whether s is non-empty and made only of digits, decimal
// or not. Fractions and other numeric symbols such as "½" are not digits. The
// empty label is therefore treated as punctuation and appended verbatim.
func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsDigit(r) && !unicode.Is(digitSymbols, r) {
			return false
		}
	}
	return true
}

// Capitalize returns word with its first rune uppercased and the rest untouched.
func Capitalize(word string) string {
	r, size := utf8.DecodeRuneInString(word)
	if r == utf8.RuneError {
		return word
	}
	upper := unicode.ToUpper(r)
	if upper == r {
		return word
	}
	return string(upper) + word[size:]
}
