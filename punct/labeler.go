// Package punct restores punctuation and capitalization from labeled word
// sequences produced by a punctuation model.
package punct

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/pkg/errors"
)

// NoPunctuation is the label a model emits for a word followed by a plain space.
const NoPunctuation = "0"

// LabeledWord is a single word paired with the label predicted after it.
type LabeledWord struct {
	Word  string
	Label string
}

// UnmarshalJSON accepts the tuple form emitted by model hosts,
// ["word", "label"] or ["word", "label", score], as well as
// {"word": ..., "label": ...}. Numeric labels are kept as their literal text.
func (lw *LabeledWord) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '{' {
		var obj struct {
			Word  string          `json:"word"`
			Label json.RawMessage `json:"label"`
		}
		if err := json.Unmarshal(data, &obj); err != nil {
			return err
		}
		label, err := decodeLabel(obj.Label)
		if err != nil {
			return err
		}
		lw.Word, lw.Label = obj.Word, label
		return nil
	}

	var tuple []json.RawMessage
	if err := json.Unmarshal(data, &tuple); err != nil {
		return errors.Wrap(err, "labeled word")
	}
	if len(tuple) < 2 {
		return errors.Errorf("labeled word: expected at least 2 elements, got %d", len(tuple))
	}
	var word string
	if err := json.Unmarshal(tuple[0], &word); err != nil {
		return errors.Wrap(err, "labeled word: word")
	}
	label, err := decodeLabel(tuple[1])
	if err != nil {
		return err
	}
	lw.Word, lw.Label = word, label
	return nil
}

// MarshalJSON writes the two element tuple form.
func (lw LabeledWord) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]string{lw.Word, lw.Label})
}

func decodeLabel(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", errors.Errorf("labeled word: label must be a string or number: %s", raw)
	}
	return n.String(), nil
}

// Labeler maps raw text to labeled words. Implementations wrap a punctuation
// model; the restorer treats them as opaque.
type Labeler interface {
	// Name identifies the backend in logs and metrics.
	Name() string
	// Preprocess normalizes raw text into the words the model expects.
	Preprocess(text string) []string
	// Predict labels every word, in order.
	Predict(ctx context.Context, words []string) ([]LabeledWord, error)
	// Close releases the model.
	Close() error
}
