// Package client drives punctuation workers from a parent process.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/punctuator/internal/pipe"
	"github.com/hrygo/punctuator/internal/strutil"
	"github.com/hrygo/punctuator/protocol"
)

const (
	defaultHandshakeTimeout = 5 * time.Minute
	defaultRequestTimeout   = 60 * time.Second
	defaultCloseGrace       = 10 * time.Second
)

var (
	// ErrClosed is returned when using a handler whose worker is gone.
	ErrClosed = errors.New("worker closed")
	// ErrHandshake is returned when a worker answers the handshake wrongly.
	ErrHandshake = errors.New("worker handshake failed")
)

// RemoteError is a failure response sent by the worker.
type RemoteError struct {
	TaskID  string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("worker failed task %s: %s", e.TaskID, e.Message)
}

// Config describes how to run a worker.
type Config struct {
	Command pipe.Command
	// HandshakeTimeout covers model loading. Defaults to 5m.
	HandshakeTimeout time.Duration
	// RequestTimeout bounds each Send. Defaults to 60s.
	RequestTimeout time.Duration
	// CloseGrace is how long a worker gets to exit after its input closes.
	CloseGrace time.Duration
}

func (c *Config) setDefaults() {
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = defaultHandshakeTimeout
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = defaultRequestTimeout
	}
	if c.CloseGrace <= 0 {
		c.CloseGrace = defaultCloseGrace
	}
}

// Handler owns one worker process and sends it one request at a time.
type Handler struct {
	cfg    Config
	proc   *pipe.Process
	logger *slog.Logger

	mu sync.Mutex
}

// Start launches a worker and waits for it to answer the handshake.
func Start(ctx context.Context, cfg Config, logger *slog.Logger) (*Handler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.setDefaults()

	proc, err := pipe.Start(cfg.Command, logger.With("component", "worker"))
	if err != nil {
		return nil, errors.Wrap(err, "start worker")
	}
	h := &Handler{cfg: cfg, proc: proc, logger: logger.With("pid", proc.PID())}

	hsCtx, cancel := context.WithTimeout(ctx, cfg.HandshakeTimeout)
	defer cancel()

	start := time.Now()
	got, err := h.send(hsCtx, protocol.HandshakeRequest())
	if err == nil && got != protocol.HandshakeText {
		err = errors.Wrapf(ErrHandshake, "unexpected reply %q", got)
	}
	if err != nil {
		_ = proc.Close(cfg.CloseGrace)
		return nil, errors.Wrap(err, "handshake")
	}

	h.logger.Info("worker ready", "startup_ms", time.Since(start).Milliseconds())
	return h, nil
}

// Send restores text and returns the worker's result for taskID.
func (h *Handler) Send(ctx context.Context, text, taskID string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, h.cfg.RequestTimeout)
	defer cancel()
	return h.send(ctx, protocol.Request{Text: text, TaskID: taskID})
}

func (h *Handler) send(ctx context.Context, req protocol.Request) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.proc.Alive() {
		return "", ErrClosed
	}
	if err := h.proc.WriteJSON(req); err != nil {
		return "", errors.Wrap(err, "send request")
	}

	for {
		line, err := h.proc.Next(ctx)
		if err != nil {
			if errors.Is(err, pipe.ErrExited) {
				return "", errors.Wrap(ErrClosed, err.Error())
			}
			return "", errors.Wrapf(err, "await task %s", req.TaskID)
		}

		var resp protocol.Response
		if err := json.Unmarshal(line, &resp); err != nil {
			// Libraries loaded by the worker may write to stdout.
			h.logger.Debug("skipping non-response output", "line", strutil.OneLine(string(line), 200))
			continue
		}
		if resp.TaskID != req.TaskID {
			h.logger.Debug("skipping response for another task", "task_id", resp.TaskID, "want", req.TaskID)
			continue
		}
		if !resp.IsSuccess {
			return "", &RemoteError{TaskID: resp.TaskID, Message: resp.Error}
		}
		return resp.RestoredText, nil
	}
}

// Alive reports whether the worker process is still running.
func (h *Handler) Alive() bool {
	return h.proc.Alive()
}

// Close closes the worker's input, which it treats as the signal to exit.
func (h *Handler) Close() error {
	return h.proc.Close(h.cfg.CloseGrace)
}
