// Package labeler provides the punctuation model backends used by the worker.
package labeler

import (
	"github.com/pkg/errors"

	"github.com/hrygo/punctuator/punct"
)

// predictRequest is sent to model hosts, over a pipe or HTTP.
type predictRequest struct {
	ID    uint64   `json:"id,omitempty"`
	Words []string `json:"words"`
}

// predictResponse is the reply of a model host. The process host also uses
// it for its startup line, with Ready or Error set.
type predictResponse struct {
	ID     uint64              `json:"id,omitempty"`
	Labels []punct.LabeledWord `json:"labels"`
	Error  string              `json:"error,omitempty"`
	Ready  bool                `json:"ready,omitempty"`
	Model  string              `json:"model,omitempty"`
	// Version is the predict protocol version spoken by the host.
	Version string `json:"version,omitempty"`
}

// ErrLabelCount is returned when a backend labels a different number of
// words than it was given.
var ErrLabelCount = errors.New("label count mismatch")

func checkLabels(words []string, labels []punct.LabeledWord) error {
	if len(labels) != len(words) {
		return errors.Wrapf(ErrLabelCount, "sent %d words, got %d labels", len(words), len(labels))
	}
	return nil
}
