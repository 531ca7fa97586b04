package labeler

import (
	"context"
	"strings"

	"github.com/hrygo/punctuator/punct"
)

var (
	// Sentence openers that make the closing mark a question mark.
	interrogatives = map[string]bool{
		"who": true, "what": true, "when": true, "where": true, "why": true, "how": true,
		"which": true, "whose": true, "is": true, "are": true, "do": true, "does": true,
		"did": true, "can": true, "could": true, "would": true, "should": true, "will": true,
	}
	// Conjunctions preceded by a comma.
	contrastive = map[string]bool{"but": true, "yet": true, "however": true}
)

// Rule labels words with a fixed heuristic and needs no model. It is meant
// for development and for exercising the worker without a model host.
type Rule struct{}

// NewRule returns a rule labeler.
func NewRule() *Rule {
	return &Rule{}
}

// Name implements punct.Labeler.
func (*Rule) Name() string {
	return "rule"
}

// Preprocess implements punct.Labeler.
func (*Rule) Preprocess(text string) []string {
	return punct.Preprocess(text)
}

// Predict implements punct.Labeler.
func (*Rule) Predict(ctx context.Context, words []string) ([]punct.LabeledWord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]punct.LabeledWord, len(words))
	last := len(words) - 1
	for i, w := range words {
		label := punct.NoPunctuation
		switch {
		case i == last:
			label = "."
			if interrogatives[strings.ToLower(words[0])] {
				label = "?"
			}
		case contrastive[strings.ToLower(words[i+1])]:
			label = ","
		}
		out[i] = punct.LabeledWord{Word: w, Label: label}
	}
	return out, nil
}

// Close implements punct.Labeler.
func (*Rule) Close() error {
	return nil
}
