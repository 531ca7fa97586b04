package labeler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/punctuator/internal/logging"
	"github.com/hrygo/punctuator/internal/profile"
)

func TestNew(t *testing.T) {
	ctx := context.Background()

	rule, err := New(ctx, &profile.Profile{Labeler: profile.LabelerRule}, logging.Discard())
	require.NoError(t, err)
	assert.Equal(t, "rule", rule.Name())

	llm, err := New(ctx, &profile.Profile{Labeler: profile.LabelerLLM, LLMAPIKey: "sk", LLMModel: "m", ChunkSize: 8}, logging.Discard())
	require.NoError(t, err)
	assert.IsType(t, &LLM{}, llm)

	_, err = New(ctx, &profile.Profile{Labeler: "oracle"}, logging.Discard())
	assert.Error(t, err)
}

func TestNew_ProcessFailureReturnsNilLabeler(t *testing.T) {
	l, err := New(context.Background(), &profile.Profile{
		Labeler:        profile.LabelerProcess,
		LabelerCommand: "/nonexistent/punct-model-host",
	}, logging.Discard())
	require.Error(t, err)
	assert.Nil(t, l)
}
