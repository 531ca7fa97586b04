package client

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/semaphore"
)

// Pool spreads requests over a fixed number of workers. A worker that died is
// replaced the next time its slot is used.
type Pool struct {
	cfg    Config
	size   int
	sem    *semaphore.Weighted
	logger *slog.Logger

	mu     sync.Mutex
	idle   []*Handler
	closed bool
}

// NewPool starts size workers. It fails if any of them does not come up.
func NewPool(ctx context.Context, cfg Config, size int, logger *slog.Logger) (*Pool, error) {
	if size <= 0 {
		size = 1
	}
	if logger == nil {
		logger = slog.Default()
	}

	p := &Pool{
		cfg:    cfg,
		size:   size,
		sem:    semaphore.NewWeighted(int64(size)),
		logger: logger,
	}
	for i := 0; i < size; i++ {
		h, err := Start(ctx, cfg, logger.With("slot", i))
		if err != nil {
			_ = p.Close()
			return nil, errors.Wrapf(err, "start worker %d of %d", i+1, size)
		}
		p.idle = append(p.idle, h)
	}
	return p, nil
}

// Size returns the number of workers.
func (p *Pool) Size() int {
	return p.size
}

// Restore sends text to an idle worker, waiting for one if all are busy. An
// empty taskID is replaced by a random one.
func (p *Pool) Restore(ctx context.Context, text, taskID string) (string, error) {
	if taskID == "" {
		taskID = uuid.NewString()
	}

	if err := p.sem.Acquire(ctx, 1); err != nil {
		return "", errors.Wrap(err, "wait for worker")
	}
	defer p.sem.Release(1)

	h, err := p.take(ctx)
	if err != nil {
		return "", err
	}
	defer p.put(h)

	return h.Send(ctx, text, taskID)
}

func (p *Pool) take(ctx context.Context) (*Handler, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrClosed
	}
	var h *Handler
	if n := len(p.idle); n > 0 {
		h = p.idle[n-1]
		p.idle = p.idle[:n-1]
	}
	p.mu.Unlock()

	if h != nil && h.Alive() {
		return h, nil
	}
	if h != nil {
		p.logger.Warn("worker died, restarting")
		_ = h.Close()
	}

	h, err := Start(ctx, p.cfg, p.logger)
	if err != nil {
		return nil, errors.Wrap(err, "restart worker")
	}
	return h, nil
}

func (p *Pool) put(h *Handler) {
	p.mu.Lock()
	if !p.closed {
		p.idle = append(p.idle, h)
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()
	_ = h.Close()
}

// Close stops idle workers. Workers busy with a request stop when it completes.
func (p *Pool) Close() error {
	p.mu.Lock()
	p.closed = true
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()

	var errs []error
	for _, h := range idle {
		if err := h.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errors.Errorf("close workers: %v", errs)
	}
	return nil
}
