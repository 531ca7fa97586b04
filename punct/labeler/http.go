package labeler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"github.com/hrygo/punctuator/internal/strutil"
	"github.com/hrygo/punctuator/punct"
)

const (
	healthPollInterval = 500 * time.Millisecond
	maxErrorBody        = 512
)

// HTTP calls a model served over HTTP.
//
//	GET  {base}/health   200 once the model is loaded
//	POST {base}/predict  {"words":[...]} -> {"labels":[...]} or {"error":"..."}
type HTTP struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// HTTPConfig configures an HTTP labeler.
type HTTPConfig struct {
	BaseURL string
	// RPS caps outgoing predictions per second. 0 means unlimited.
	RPS            float64
	Timeout        time.Duration
	StartupTimeout time.Duration
	Client         *http.Client
}

// NewHTTP polls the server's health endpoint until it answers or
// cfg.StartupTimeout passes.
func NewHTTP(ctx context.Context, cfg HTTPConfig, logger *slog.Logger) (*HTTP, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	limit := rate.Inf
	if cfg.RPS > 0 {
		limit = rate.Limit(cfg.RPS)
	}

	h := &HTTP{
		baseURL: cfg.BaseURL,
		client:  client,
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger,
	}

	startCtx := ctx
	if cfg.StartupTimeout > 0 {
		var cancel context.CancelFunc
		startCtx, cancel = context.WithTimeout(ctx, cfg.StartupTimeout)
		defer cancel()
	}
	if err := h.waitHealthy(startCtx); err != nil {
		return nil, errors.Wrapf(err, "model server %s", cfg.BaseURL)
	}
	logger.Info("model server ready", "url", cfg.BaseURL)
	return h, nil
}

func (h *HTTP) waitHealthy(ctx context.Context) error {
	ticker := time.NewTicker(healthPollInterval)
	defer ticker.Stop()

	for attempt := 1; ; attempt++ {
		err := h.checkHealth(ctx)
		if err == nil {
			return nil
		}
		h.logger.Debug("model server not ready", "attempt", attempt, "error", err)

		select {
		case <-ctx.Done():
			return errors.Wrapf(err, "not healthy after %d attempts", attempt)
		case <-ticker.C:
		}
	}
}

func (h *HTTP) checkHealth(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("health status %d", resp.StatusCode)
	}
	return nil
}

// Name implements punct.Labeler.
func (h *HTTP) Name() string {
	return "http"
}

// Preprocess implements punct.Labeler.
func (h *HTTP) Preprocess(text string) []string {
	return punct.Preprocess(text)
}

// Predict implements punct.Labeler.
func (h *HTTP) Predict(ctx context.Context, words []string) ([]punct.LabeledWord, error) {
	if err := h.limiter.Wait(ctx); err != nil {
		return nil, errors.Wrap(err, "rate limit")
	}

	body, err := json.Marshal(predictRequest{Words: words})
	if err != nil {
		return nil, errors.Wrap(err, "encode words")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+"/predict", bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "predict request")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read predict response")
	}

	var out predictResponse
	decodeErr := json.Unmarshal(data, &out)
	if decodeErr == nil && out.Error != "" {
		return nil, errors.Errorf("model server: %s", out.Error)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("predict status %d: %s", resp.StatusCode, strutil.OneLine(string(data), maxErrorBody))
	}
	if decodeErr != nil {
		return nil, errors.Wrap(decodeErr, "decode predict response")
	}
	if err := checkLabels(words, out.Labels); err != nil {
		return nil, err
	}
	return out.Labels, nil
}

// Close implements punct.Labeler.
func (h *HTTP) Close() error {
	h.client.CloseIdleConnections()
	return nil
}
