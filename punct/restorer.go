package punct

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/punctuator/cache"
	"github.com/hrygo/punctuator/metrics"
)

// Restorer runs text through a Labeler and a Reconstructor.
type Restorer struct {
	labeler       Labeler
	reconstructor Reconstructor
	cache         *cache.LRU[string, []LabeledWord]
	metrics       *metrics.Exporter
	logger        *slog.Logger

	sweepEvery time.Duration
	stop       chan struct{}
	wg         sync.WaitGroup
	closeOnce  sync.Once
	closeErr   error
}

// RestorerOption customizes a Restorer.
type RestorerOption func(*Restorer)

// WithCache memoizes predictions for identical word sequences.
func WithCache(c *cache.LRU[string, []LabeledWord]) RestorerOption {
	return func(r *Restorer) { r.cache = c }
}

// WithCacheSweep drops expired cache entries every interval. Without it
// entries only expire when they are looked up again.
func WithCacheSweep(every time.Duration) RestorerOption {
	return func(r *Restorer) { r.sweepEvery = every }
}

// WithMetrics records prediction and cache metrics.
func WithMetrics(m *metrics.Exporter) RestorerOption {
	return func(r *Restorer) { r.metrics = m }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) RestorerOption {
	return func(r *Restorer) { r.logger = l }
}

// NewRestorer creates a Restorer owning labeler.
func NewRestorer(labeler Labeler, reconstructor Reconstructor, opts ...RestorerOption) *Restorer {
	r := &Restorer{
		labeler:       labeler,
		reconstructor: reconstructor,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.cache != nil && r.sweepEvery > 0 {
		r.stop = make(chan struct{})
		r.wg.Add(1)
		go r.sweep()
	}
	return r
}

func (r *Restorer) sweep() {
	defer r.wg.Done()
	ticker := time.NewTicker(r.sweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			if n := r.cache.CleanupExpired(); n > 0 {
				r.logger.Debug("dropped expired predictions", "count", n, "remaining", r.cache.Len())
			}
		}
	}
}

// Labeler returns the underlying labeler.
func (r *Restorer) Labeler() Labeler {
	return r.labeler
}

// Restore returns text with punctuation and capitalization restored. Labeler
// errors are returned unchanged apart from added context.
func (r *Restorer) Restore(ctx context.Context, text string) (string, error) {
	words := r.labeler.Preprocess(text)
	if len(words) == 0 {
		return "", nil
	}

	labeled, err := r.predict(ctx, words)
	if err != nil {
		return "", err
	}
	return r.reconstructor.Reconstruct(labeled), nil
}

func (r *Restorer) predict(ctx context.Context, words []string) ([]LabeledWord, error) {
	var key string
	if r.cache != nil {
		key = strings.Join(words, " ")
		if labeled, ok := r.cache.Get(key); ok {
			r.metrics.RecordCacheHit()
			return labeled, nil
		}
		r.metrics.RecordCacheMiss()
	}

	start := time.Now()
	labeled, err := r.labeler.Predict(ctx, words)
	latency := time.Since(start)
	r.metrics.RecordPrediction(r.labeler.Name(), len(words), latency, err)
	if err != nil {
		return nil, errors.Wrapf(err, "%s labeler", r.labeler.Name())
	}

	r.logger.Debug("prediction complete",
		"labeler", r.labeler.Name(),
		"words", len(words),
		"latency_ms", latency.Milliseconds())

	if r.cache != nil {
		r.cache.Set(key, labeled)
	}
	return labeled, nil
}

// Close stops the cache sweep and closes the labeler. It is safe to call
// more than once.
func (r *Restorer) Close() error {
	r.closeOnce.Do(func() {
		if r.stop != nil {
			close(r.stop)
			r.wg.Wait()
		}
		r.closeErr = r.labeler.Close()
	})
	return r.closeErr
}
