package labeler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/punctuator/internal/logging"
	"github.com/hrygo/punctuator/punct"
)

// newChatServer fakes the chat completions endpoint. label picks the labels
// returned for one chunk of words.
func newChatServer(t *testing.T, calls *atomic.Int32, label func(words []string) []string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		calls.Add(1)

		// The request's schema field is an interface, so only decode what is needed.
		var req struct {
			Model    string `json:"model"`
			Messages []struct {
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		var words []string
		if err := json.Unmarshal([]byte(req.Messages[len(req.Messages)-1].Content), &words); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		content, _ := json.Marshal(map[string][]string{"labels": label(words)})

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(openai.ChatCompletionResponse{
			ID:     "chatcmpl-test",
			Object: "chat.completion",
			Model:  req.Model,
			Choices: []openai.ChatCompletionChoice{{
				Index:        0,
				Message:      openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: string(content)},
				FinishReason: openai.FinishReasonStop,
			}},
			Usage: openai.Usage{TotalTokens: 42},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestLLM_PredictChunks(t *testing.T) {
	var calls atomic.Int32
	srv := newChatServer(t, &calls, func(words []string) []string {
		labels := make([]string, len(words))
		for i := range labels {
			labels[i] = "0"
		}
		labels[len(labels)-1] = "."
		return labels
	})

	l := NewLLM(LLMConfig{APIKey: "sk-test", BaseURL: srv.URL, Model: "gpt-4o-mini", ChunkSize: 2}, logging.Discard())
	assert.Equal(t, "llm", l.Name())

	got, err := l.Predict(context.Background(), []string{"one", "two", "three", "four", "five"})
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, []punct.LabeledWord{
		{Word: "one", Label: "0"},
		{Word: "two", Label: "."},
		{Word: "three", Label: "0"},
		{Word: "four", Label: "."},
		{Word: "five", Label: "."},
	}, got)
}

func TestLLM_NormalizesBlankLabels(t *testing.T) {
	var calls atomic.Int32
	srv := newChatServer(t, &calls, func(words []string) []string {
		return []string{" ", "O", "?"}
	})

	l := NewLLM(LLMConfig{APIKey: "sk-test", BaseURL: srv.URL, Model: "gpt-4o-mini"}, logging.Discard())
	got, err := l.Predict(context.Background(), []string{"are", "you", "there"})
	require.NoError(t, err)
	assert.Equal(t, []punct.LabeledWord{
		{Word: "are", Label: "0"},
		{Word: "you", Label: "0"},
		{Word: "there", Label: "?"},
	}, got)
}

func TestLLM_LabelCountMismatch(t *testing.T) {
	var calls atomic.Int32
	srv := newChatServer(t, &calls, func(words []string) []string {
		return []string{"."}
	})

	l := NewLLM(LLMConfig{APIKey: "sk-test", BaseURL: srv.URL, Model: "gpt-4o-mini"}, logging.Discard())
	_, err := l.Predict(context.Background(), []string{"too", "many", "words"})
	assert.ErrorIs(t, err, ErrLabelCount)
}

func TestLabelsJSONSchema(t *testing.T) {
	data, err := json.Marshal(labelsJSONSchema)
	require.NoError(t, err)

	var schema map[string]any
	require.NoError(t, json.Unmarshal(data, &schema))
	props := schema["properties"].(map[string]any)
	labels := props["labels"].(map[string]any)
	assert.Equal(t, "array", labels["type"])
	items := labels["items"].(map[string]any)
	assert.Len(t, items["enum"], len(llmLabels))
}
