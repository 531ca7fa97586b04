package labeler

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/punctuator/internal/pipe"
	"github.com/hrygo/punctuator/internal/strutil"
	"github.com/hrygo/punctuator/internal/version"
	"github.com/hrygo/punctuator/punct"
)

// processCloseGrace is how long a model host gets to exit after its stdin is closed.
const processCloseGrace = 5 * time.Second

// MinHostVersion is the oldest predict protocol a model host may announce.
const MinHostVersion = "1.0.0"

// Process runs the model in a child process that speaks the predict protocol
// on its stdin and stdout, one JSON document per line.
//
// The child announces itself with {"ready":true,"model":"...","version":"1.0.0"}
// (or {"error":"..."} before exiting). Each call is {"id":N,"words":[...]} and is
// answered by {"id":N,"labels":[...]} or {"id":N,"error":"..."}.
type Process struct {
	proc        *pipe.Process
	model       string
	hostVersion string
	timeout     time.Duration
	logger  *slog.Logger

	mu     sync.Mutex
	nextID uint64
}

// NewProcess starts the model host and waits up to startupTimeout for it to
// report ready. timeout bounds each prediction, 0 means no bound.
func NewProcess(ctx context.Context, cmd pipe.Command, startupTimeout, timeout time.Duration, logger *slog.Logger) (*Process, error) {
	if logger == nil {
		logger = slog.Default()
	}

	proc, err := pipe.Start(cmd, logger.With("component", "model-host"))
	if err != nil {
		return nil, errors.Wrap(err, "start model host")
	}

	p := &Process{
		proc:    proc,
		timeout: timeout,
		logger:  logger,
	}

	startCtx, cancel := context.WithTimeout(ctx, startupTimeout)
	defer cancel()

	start := time.Now()
	if err := p.awaitReady(startCtx); err != nil {
		_ = proc.Close(processCloseGrace)
		return nil, errors.Wrapf(err, "model host %q", cmd.String())
	}

	logger.Info("model host ready",
		"model", p.model,
		"host_version", p.hostVersion,
		"pid", proc.PID(),
		"startup_ms", time.Since(start).Milliseconds())
	return p, nil
}

func (p *Process) awaitReady(ctx context.Context) error {
	for {
		line, err := p.proc.Next(ctx)
		if err != nil {
			return err
		}
		if !json.Valid(line) {
			// Model libraries like to print banners on stdout.
			p.logger.Debug("ignoring model host output", "line", strutil.OneLine(string(line), 200))
			continue
		}
		var msg predictResponse
		if err := json.Unmarshal(line, &msg); err != nil {
			return errors.Wrap(err, "decode startup message")
		}
		if msg.Error != "" {
			return errors.Errorf("failed to load: %s", msg.Error)
		}
		if msg.Ready {
			if err := checkHostVersion(msg.Version); err != nil {
				return err
			}
			p.model = msg.Model
			p.hostVersion = msg.Version
			return nil
		}
	}
}

func checkHostVersion(v string) error {
	if !version.IsValid(v) {
		return errors.Errorf("model host announced invalid protocol version %q", v)
	}
	if !version.IsVersionGreaterOrEqualThan(v, MinHostVersion) {
		return errors.Errorf("model host protocol %s is older than %s", v, MinHostVersion)
	}
	return nil
}

// Name implements punct.Labeler.
func (p *Process) Name() string {
	return "process"
}

// Model returns the model name reported by the host.
func (p *Process) Model() string {
	return p.model
}

// Preprocess implements punct.Labeler.
func (p *Process) Preprocess(text string) []string {
	return punct.Preprocess(text)
}

// Predict implements punct.Labeler. Calls are serialized; replies to earlier,
// abandoned calls are discarded.
func (p *Process) Predict(ctx context.Context, words []string) ([]punct.LabeledWord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	p.nextID++
	id := p.nextID
	if err := p.proc.WriteJSON(predictRequest{ID: id, Words: words}); err != nil {
		return nil, errors.Wrap(err, "send words")
	}

	for {
		line, err := p.proc.Next(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "await labels")
		}

		if !json.Valid(line) {
			p.logger.Debug("ignoring model host output", "line", strutil.OneLine(string(line), 200))
			continue
		}
		var resp predictResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			return nil, errors.Wrap(err, "decode labels")
		}
		if resp.ID != id {
			p.logger.Debug("discarding stale model reply", "id", resp.ID, "want", id)
			continue
		}
		if resp.Error != "" {
			return nil, errors.New(resp.Error)
		}
		if err := checkLabels(words, resp.Labels); err != nil {
			return nil, err
		}
		return resp.Labels, nil
	}
}

// Close stops the model host.
func (p *Process) Close() error {
	return p.proc.Close(processCloseGrace)
}
