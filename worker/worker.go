// Package worker runs the request loop: one JSON request per input line, one
// JSON response per output line, until the input ends.
package worker

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/punctuator/internal/strutil"
	"github.com/hrygo/punctuator/metrics"
	"github.com/hrygo/punctuator/protocol"
)

// Restorer turns raw text into punctuated text.
type Restorer interface {
	Restore(ctx context.Context, text string) (string, error)
}

// Worker serves requests strictly in arrival order. It is not safe for
// concurrent use.
type Worker struct {
	restorer     Restorer
	logger       *slog.Logger
	metrics      *metrics.Exporter
	mirror       bool
	mirrorMaxLen int
	stackTraces  bool

	// lastTaskID attributes failures of lines whose own taskId could not be read.
	lastTaskID string
}

// Option customizes a Worker.
type Option func(*Worker)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(w *Worker) { w.logger = l }
}

// WithMetrics records per-request metrics.
func WithMetrics(m *metrics.Exporter) Option {
	return func(w *Worker) { w.metrics = m }
}

// WithMirror logs every input and output line at info level, truncated to maxLen.
func WithMirror(maxLen int) Option {
	return func(w *Worker) {
		w.mirror = true
		w.mirrorMaxLen = maxLen
	}
}

// WithStackTraces attaches the goroutine stack to logged panics.
func WithStackTraces(enabled bool) Option {
	return func(w *Worker) { w.stackTraces = enabled }
}

// New creates a Worker that restores text with r.
func New(r Restorer, opts ...Option) *Worker {
	w := &Worker{
		restorer:     r,
		logger:       slog.Default(),
		mirrorMaxLen: 200,
		lastTaskID:   protocol.UnknownTaskID,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Serve reads requests from in and writes responses to out until in is
// exhausted. Every response is flushed before the next line is read.
// Per-request failures become failure responses; only read and write errors
// on the streams themselves end Serve with an error.
func (w *Worker) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	reader := bufio.NewReader(in)
	writer := bufio.NewWriter(out)
	enc := json.NewEncoder(writer)
	enc.SetEscapeHTML(false)

	w.logger.Info("worker ready, waiting for requests")
	for served := 0; ; served++ {
		line, readErr := reader.ReadString('\n')
		if len(line) == 0 {
			if readErr == nil || errors.Is(readErr, io.EOF) {
				w.logger.Info("input closed, worker stopping", "served", served)
				return nil
			}
			return errors.Wrap(readErr, "read request")
		}
		w.mirrorLine("in", line)

		resp := w.handle(ctx, line)
		if err := enc.Encode(resp); err != nil {
			return errors.Wrap(err, "write response")
		}
		if err := writer.Flush(); err != nil {
			return errors.Wrap(err, "flush response")
		}
		if w.mirror {
			data, _ := json.Marshal(resp)
			w.mirrorLine("out", string(data))
		}

		if readErr != nil && !errors.Is(readErr, io.EOF) {
			return errors.Wrap(readErr, "read request")
		}
	}
}

func (w *Worker) mirrorLine(direction, line string) {
	if !w.mirror {
		return
	}
	w.logger.Info("mirror", "dir", direction, "line", strutil.OneLine(line, w.mirrorMaxLen))
}

// handle turns one line into exactly one response. It never panics.
func (w *Worker) handle(ctx context.Context, line string) (resp protocol.Response) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			attrs := []any{"task_id", w.lastTaskID, "panic", r}
			if w.stackTraces {
				attrs = append(attrs, "stack", string(debug.Stack()))
			}
			w.logger.Error("request panicked", attrs...)
			resp = protocol.NewFailure(w.lastTaskID, fmt.Sprintf("internal error: %v", r))
		}
		w.record(resp, time.Since(start))
	}()

	req, err := w.decode(line)
	if err != nil {
		w.logger.Warn("invalid request", "task_id", w.lastTaskID, "error", err)
		return protocol.NewFailure(w.lastTaskID, err.Error())
	}

	if req.IsHandshake() {
		w.logger.Debug("handshake received")
		return protocol.HandshakeResponse()
	}

	text, err := w.restorer.Restore(ctx, req.Text)
	if err != nil {
		w.logger.Error("restore failed", "task_id", req.TaskID, "error", err)
		return protocol.NewFailure(req.TaskID, err.Error())
	}

	w.logger.Debug("request complete",
		"task_id", req.TaskID,
		"chars", len(req.Text),
		"latency_ms", time.Since(start).Milliseconds())
	return protocol.NewSuccess(req.TaskID, text)
}

// decode parses a request. taskId is read first so that a bad text field is
// reported against the request that carried it.
func (w *Worker) decode(line string) (protocol.Request, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(line), &fields); err != nil {
		return protocol.Request{}, errors.Wrap(err, "invalid request json")
	}
	if fields == nil {
		return protocol.Request{}, errors.New("invalid request: expected a JSON object")
	}

	var req protocol.Request
	if raw, ok := fields["taskId"]; ok {
		if err := json.Unmarshal(raw, &req.TaskID); err != nil {
			return protocol.Request{}, errors.Errorf("invalid request: taskId must be a string, got %s", raw)
		}
	}
	w.lastTaskID = req.TaskID

	raw, ok := fields["text"]
	if !ok {
		return protocol.Request{}, errors.New("invalid request: missing text")
	}
	if err := json.Unmarshal(raw, &req.Text); err != nil {
		return protocol.Request{}, errors.Errorf("invalid request: text must be a string, got %s", raw)
	}
	return req, nil
}

func (w *Worker) record(resp protocol.Response, latency time.Duration) {
	status := metrics.StatusFailure
	switch {
	case resp == protocol.HandshakeResponse():
		status = metrics.StatusHandshake
	case resp.IsSuccess:
		status = metrics.StatusSuccess
	}
	w.metrics.RecordRequest(status, latency)
}
