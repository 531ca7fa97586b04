package labeler

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sashabaranov/go-openai"

	"github.com/hrygo/punctuator/internal/strutil"
	"github.com/hrygo/punctuator/punct"
)

// Labels the LLM may choose from, the label set of the multilingual
// punctuation models.
var llmLabels = []string{punct.NoPunctuation, ".", ",", "?", "-", ":"}

const llmSystemPrompt = `You restore punctuation. The user sends a JSON array of words taken from an unpunctuated transcript.
Return {"labels": [...]} with exactly one label per input word, in order. A label is the punctuation mark that follows the word: ".", ",", "?", "-" or ":". Use "0" when no punctuation follows.
Do not add, drop, merge or change words.`

// LLM asks an OpenAI-compatible chat model to label words. Input is sent in
// chunks so long texts stay within the context window.
type LLM struct {
	client    *openai.Client
	model     string
	chunkSize int
	timeout   time.Duration
	logger    *slog.Logger
}

// LLMConfig configures an LLM labeler.
type LLMConfig struct {
	APIKey    string
	BaseURL   string
	Model     string
	ChunkSize int
	Timeout   time.Duration
}

// NewLLM creates an LLM labeler. No request is made until Predict.
func NewLLM(cfg LLMConfig, logger *slog.Logger) *LLM {
	if logger == nil {
		logger = slog.Default()
	}
	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}
	return &LLM{
		client:    openai.NewClientWithConfig(config),
		model:     cfg.Model,
		chunkSize: cfg.ChunkSize,
		timeout:   cfg.Timeout,
		logger:    logger,
	}
}

// Name implements punct.Labeler.
func (l *LLM) Name() string {
	return "llm"
}

// Preprocess implements punct.Labeler.
func (l *LLM) Preprocess(text string) []string {
	return punct.Preprocess(text)
}

// Predict implements punct.Labeler.
func (l *LLM) Predict(ctx context.Context, words []string) ([]punct.LabeledWord, error) {
	out := make([]punct.LabeledWord, 0, len(words))
	for i, chunk := range punct.Chunks(words, l.chunkSize) {
		labels, err := l.predictChunk(ctx, chunk)
		if err != nil {
			return nil, errors.Wrapf(err, "chunk %d", i)
		}
		for j, w := range chunk {
			out = append(out, punct.LabeledWord{Word: w, Label: labels[j]})
		}
	}
	return out, nil
}

func (l *LLM) predictChunk(ctx context.Context, words []string) ([]string, error) {
	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	input, err := json.Marshal(words)
	if err != nil {
		return nil, errors.Wrap(err, "encode words")
	}

	req := openai.ChatCompletionRequest{
		Model:       l.model,
		Temperature: 0,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: llmSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: string(input)},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   "punctuation_labels",
				Strict: true,
				Schema: labelsJSONSchema,
			},
		},
	}

	start := time.Now()
	resp, err := l.client.CreateChatCompletion(ctx, req)
	latency := time.Since(start)
	if err != nil {
		l.logger.Error("llm_label_failed",
			"model", l.model,
			"words", len(words),
			"error", err,
			"latency_ms", latency.Milliseconds())
		return nil, errors.Wrap(err, "LLM request failed")
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("empty response from LLM")
	}

	content := resp.Choices[0].Message.Content
	var result struct {
		Labels []string `json:"labels"`
	}
	if err := json.Unmarshal([]byte(content), &result); err != nil {
		l.logger.Warn("llm_label_parse_failed",
			"model", l.model,
			"content", strutil.Truncate(content, 200),
			"error", err)
		return nil, errors.Wrap(err, "parse response failed")
	}
	if len(result.Labels) != len(words) {
		return nil, errors.Wrapf(ErrLabelCount, "sent %d words, got %d labels", len(words), len(result.Labels))
	}
	for i, label := range result.Labels {
		result.Labels[i] = normalizeLLMLabel(label)
	}

	l.logger.Debug("llm_label_success",
		"model", l.model,
		"words", len(words),
		"latency_ms", latency.Milliseconds(),
		"tokens_total", resp.Usage.TotalTokens)
	return result.Labels, nil
}

// normalizeLLMLabel maps the blanks models sometimes emit instead of "0".
func normalizeLLMLabel(label string) string {
	label = strings.TrimSpace(label)
	if label == "" || label == "O" {
		return punct.NoPunctuation
	}
	return label
}

// Close implements punct.Labeler.
func (l *LLM) Close() error {
	return nil
}

var labelsJSONSchema = &jsonSchema{
	Type:                 "object",
	AdditionalProperties: false,
	Required:             []string{"labels"},
	Properties: map[string]*jsonSchema{
		"labels": {
			Type:        "array",
			Description: "One label per input word, in input order",
			Items: &jsonSchema{
				Type: "string",
				Enum: llmLabels,
			},
		},
	},
}

// jsonSchema implements json.Marshaler for OpenAI's JSON Schema format.
type jsonSchema struct {
	Properties           map[string]*jsonSchema `json:"properties,omitempty"`
	Items                *jsonSchema            `json:"items,omitempty"`
	Type                 string                 `json:"type"`
	Description          string                 `json:"description,omitempty"`
	Required             []string               `json:"required,omitempty"`
	Enum                 []string               `json:"enum,omitempty"`
	AdditionalProperties bool                   `json:"additionalProperties"`
}

func (s *jsonSchema) MarshalJSON() ([]byte, error) {
	type alias jsonSchema
	return json.Marshal((*alias)(s))
}
