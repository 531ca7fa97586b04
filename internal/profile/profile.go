package profile

import (
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/punctuator/internal/logging"
)

// Labeler backends.
const (
	LabelerProcess = "process"
	LabelerHTTP    = "http"
	LabelerLLM     = "llm"
	LabelerRule    = "rule"
)

// DefaultChunkSize matches the word window of the multilingual punctuation models.
const DefaultChunkSize = 230

// Profile is the configuration of one worker process.
type Profile struct {
	// Labeler selection
	Labeler               string        // process, http, llm, rule
	LabelerCommand        string        // process: executable of the model host
	LabelerArgs           []string      // process: arguments of the model host
	LabelerDir            string        // process: working directory of the model host
	LabelerURL            string        // http: base URL of the inference server
	LabelerRPS            float64       // http: request rate limit, 0 = unlimited
	LabelerTimeout        time.Duration // per prediction, 0 = none
	LabelerStartupTimeout time.Duration // process/http: time allowed to become ready

	// LLM labeler (OpenAI-compatible protocol)
	LLMAPIKey  string
	LLMBaseURL string
	LLMModel   string

	// Reconstruction
	ChunkSize  int
	Capitalize bool

	// Label cache, CacheSize 0 disables it
	CacheSize int
	CacheTTL  time.Duration

	// Diagnostics
	Mode         string
	HTTPAddr     string
	LogLevel     string
	LogFormat    string
	MirrorIO     bool
	MirrorMaxLen int
	Version      string
}

const (
	defaultLLMBaseURL = "https://api.openai.com/v1"
	defaultLLMModel   = "gpt-4o-mini"
)

// IsDev reports whether the worker runs in development mode.
func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// getEnvOrDefault returns environment variable value or default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvOrDefaultFloat returns environment variable value as float or default value.
func getEnvOrDefaultFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
		slog.Warn("ignoring malformed number in environment", "key", key, "value", value)
	}
	return defaultValue
}

// FromEnv loads settings that are only taken from the environment. Secrets
// stay out of command lines this way.
func (p *Profile) FromEnv() {
	p.LLMAPIKey = getEnvOrDefault("PUNCTUATOR_LLM_API_KEY", p.LLMAPIKey)
	p.LLMBaseURL = getEnvOrDefault("PUNCTUATOR_LLM_BASE_URL", p.LLMBaseURL)
	p.LLMModel = getEnvOrDefault("PUNCTUATOR_LLM_MODEL", p.LLMModel)
	p.LabelerRPS = getEnvOrDefaultFloat("PUNCTUATOR_LABELER_RPS", p.LabelerRPS)

	if p.LLMBaseURL == "" {
		p.LLMBaseURL = defaultLLMBaseURL
	}
	if p.LLMModel == "" {
		p.LLMModel = defaultLLMModel
	}
}

// Validate normalizes the profile and rejects settings the selected labeler
// cannot run with.
func (p *Profile) Validate() error {
	if p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "dev"
	}
	if p.LogFormat == "" {
		if p.IsDev() {
			p.LogFormat = string(logging.FormatText)
		} else {
			p.LogFormat = string(logging.FormatJSON)
		}
	}

	p.Labeler = strings.ToLower(strings.TrimSpace(p.Labeler))
	switch p.Labeler {
	case "":
		p.Labeler = LabelerProcess
	case LabelerProcess, LabelerHTTP, LabelerLLM, LabelerRule:
	default:
		return errors.Errorf("unknown labeler %q (want process, http, llm or rule)", p.Labeler)
	}

	switch p.Labeler {
	case LabelerProcess:
		if strings.TrimSpace(p.LabelerCommand) == "" {
			return errors.New("labeler command is required for the process labeler")
		}
	case LabelerHTTP:
		u, err := url.Parse(p.LabelerURL)
		if err != nil {
			return errors.Wrapf(err, "invalid labeler url %q", p.LabelerURL)
		}
		if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
			return errors.Errorf("labeler url %q must be an absolute http(s) url", p.LabelerURL)
		}
		p.LabelerURL = strings.TrimRight(p.LabelerURL, "/")
	case LabelerLLM:
		if p.LLMAPIKey == "" {
			return errors.New("PUNCTUATOR_LLM_API_KEY is required for the llm labeler")
		}
	}

	if p.LabelerRPS < 0 {
		return errors.Errorf("labeler rps must not be negative, got %v", p.LabelerRPS)
	}
	if p.LabelerTimeout < 0 {
		p.LabelerTimeout = 0
	}
	if p.LabelerStartupTimeout <= 0 {
		p.LabelerStartupTimeout = 5 * time.Minute
	}
	if p.ChunkSize <= 0 {
		p.ChunkSize = DefaultChunkSize
	}
	if p.CacheSize < 0 {
		return errors.Errorf("cache size must not be negative, got %d", p.CacheSize)
	}
	if p.CacheTTL <= 0 {
		p.CacheTTL = 10 * time.Minute
	}
	if p.MirrorMaxLen <= 0 {
		p.MirrorMaxLen = 200
	}

	if _, err := logging.ParseLevel(p.LogLevel); err != nil {
		return errors.Wrap(err, "invalid log level")
	}
	if _, err := logging.ParseFormat(p.LogFormat); err != nil {
		return errors.Wrap(err, "invalid log format")
	}

	return nil
}
