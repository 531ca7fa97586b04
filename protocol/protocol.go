// Package protocol defines the newline-delimited JSON messages exchanged
// between a parent process and a punctuation worker over stdin/stdout.
package protocol

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// Handshake values. A request carrying both is answered immediately with
// HandshakeText so a parent can check liveness without touching the model.
const (
	HandshakeText   = "test"
	HandshakeTaskID = "test-init"
)

// UnknownTaskID labels failures that happen before any request was parsed.
const UnknownTaskID = "unknown"

// Request is one line read by the worker.
type Request struct {
	Text   string `json:"text"`
	TaskID string `json:"taskId"`
}

// IsHandshake reports whether r is the liveness check.
func (r Request) IsHandshake() bool {
	return r.Text == HandshakeText && r.TaskID == HandshakeTaskID
}

// HandshakeRequest returns the liveness check.
func HandshakeRequest() Request {
	return Request{Text: HandshakeText, TaskID: HandshakeTaskID}
}

// Response is one line written by the worker. Exactly one of RestoredText or
// Error is meaningful, depending on IsSuccess.
type Response struct {
	IsSuccess    bool
	RestoredText string
	Error        string
	TaskID       string
}

// NewSuccess returns a success response.
func NewSuccess(taskID, restoredText string) Response {
	return Response{IsSuccess: true, RestoredText: restoredText, TaskID: taskID}
}

// NewFailure returns a failure response.
func NewFailure(taskID, message string) Response {
	return Response{IsSuccess: false, Error: message, TaskID: taskID}
}

// HandshakeResponse returns the reply to HandshakeRequest.
func HandshakeResponse() Response {
	return NewSuccess(HandshakeTaskID, HandshakeText)
}

type successWire struct {
	IsSuccess    bool   `json:"isSuccess"`
	RestoredText string `json:"restoredText"`
	TaskID       string `json:"taskId"`
}

type failureWire struct {
	IsSuccess bool   `json:"isSuccess"`
	Error     string `json:"error"`
	TaskID    string `json:"taskId"`
}

// MarshalJSON emits the success or failure shape. The success shape always
// carries restoredText, even when empty.
func (r Response) MarshalJSON() ([]byte, error) {
	if r.IsSuccess {
		return json.Marshal(successWire{IsSuccess: true, RestoredText: r.RestoredText, TaskID: r.TaskID})
	}
	return json.Marshal(failureWire{IsSuccess: false, Error: r.Error, TaskID: r.TaskID})
}

// UnmarshalJSON reads either shape. isSuccess is required.
func (r *Response) UnmarshalJSON(data []byte) error {
	var wire struct {
		IsSuccess    *bool  `json:"isSuccess"`
		RestoredText string `json:"restoredText"`
		Error        string `json:"error"`
		TaskID       string `json:"taskId"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	if wire.IsSuccess == nil {
		return errors.New("response: missing isSuccess")
	}
	*r = Response{
		IsSuccess:    *wire.IsSuccess,
		RestoredText: wire.RestoredText,
		Error:        wire.Error,
		TaskID:       wire.TaskID,
	}
	return nil
}
