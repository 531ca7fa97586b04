package labeler

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/hrygo/punctuator/internal/logging"
	"github.com/hrygo/punctuator/internal/pipe"
	"github.com/hrygo/punctuator/punct"
)

const helperEnv = "LABELER_TEST_HELPER"

// TestHelperProcess is not a real test. It plays a model host when the helper
// environment variable is set.
func TestHelperProcess(t *testing.T) {
	mode := os.Getenv(helperEnv)
	if mode == "" {
		return
	}

	stdin := bufio.NewScanner(os.Stdin)
	switch mode {
	case "fail":
		fmt.Println(`{"error":"no model weights"}`)
		os.Exit(1)
	case "silent":
		for stdin.Scan() {
		}
		os.Exit(0)
	}

	fmt.Println("Loading checkpoint shards: 100%")
	switch mode {
	case "oldhost":
		fmt.Println(`{"ready":true,"model":"helper-model","version":"0.9.0"}`)
	case "noversion":
		fmt.Println(`{"ready":true,"model":"helper-model"}`)
	default:
		fmt.Println(`{"ready":true,"model":"helper-model","version":"1.2.0"}`)
	}
	for stdin.Scan() {
		var req predictRequest
		if err := json.Unmarshal(stdin.Bytes(), &req); err != nil {
			continue
		}
		switch {
		case len(req.Words) > 0 && req.Words[0] == "boom":
			fmt.Printf(`{"id":%d,"error":"model exploded"}`+"\n", req.ID)
			continue
		case len(req.Words) > 0 && req.Words[0] == "stale":
			fmt.Printf(`{"id":%d,"labels":[["old","."]]}`+"\n", req.ID+100)
		case len(req.Words) > 0 && req.Words[0] == "short":
			req.Words = req.Words[:1]
		}

		labels := make([][]any, len(req.Words))
		for i, w := range req.Words {
			labels[i] = []any{w, 0, 0.99}
			if i == len(req.Words)-1 {
				labels[i] = []any{w, ".", 0.87}
			}
		}
		out, _ := json.Marshal(map[string]any{"id": req.ID, "labels": labels})
		fmt.Println(string(out))
	}
	os.Exit(0)
}

func helperCommand(mode string) pipe.Command {
	return pipe.Command{
		Path: os.Args[0],
		Args: []string{"-test.run=^TestHelperProcess$"},
		Env:  []string{helperEnv + "=" + mode},
	}
}

func TestProcess_Predict(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	ctx := context.Background()
	p, err := NewProcess(ctx, helperCommand("model"), 10*time.Second, 10*time.Second, logging.Discard())
	require.NoError(t, err)
	defer p.Close()

	assert.Equal(t, "process", p.Name())
	assert.Equal(t, "helper-model", p.Model())

	got, err := p.Predict(ctx, []string{"hello", "world"})
	require.NoError(t, err)
	assert.Equal(t, []punct.LabeledWord{{Word: "hello", Label: "0"}, {Word: "world", Label: "."}}, got)

	t.Run("model error does not poison later calls", func(t *testing.T) {
		_, err := p.Predict(ctx, []string{"boom"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "model exploded")

		got, err := p.Predict(ctx, []string{"again"})
		require.NoError(t, err)
		assert.Equal(t, []punct.LabeledWord{{Word: "again", Label: "."}}, got)
	})

	t.Run("stale replies are discarded", func(t *testing.T) {
		got, err := p.Predict(ctx, []string{"stale", "reply"})
		require.NoError(t, err)
		assert.Equal(t, []punct.LabeledWord{{Word: "stale", Label: "0"}, {Word: "reply", Label: "."}}, got)
	})

	t.Run("label count mismatch", func(t *testing.T) {
		_, err := p.Predict(ctx, []string{"short", "answer"})
		assert.ErrorIs(t, err, ErrLabelCount)
	})
}

func TestProcess_StartupError(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	_, err := NewProcess(context.Background(), helperCommand("fail"), 10*time.Second, 0, logging.Discard())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no model weights")
}

func TestProcess_StartupTimeout(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	_, err := NewProcess(context.Background(), helperCommand("silent"), 200*time.Millisecond, 0, logging.Discard())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestProcess_HostVersion(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	tests := []struct {
		mode    string
		wantErr string
	}{
		{mode: "oldhost", wantErr: "older than " + MinHostVersion},
		{mode: "noversion", wantErr: "invalid protocol version"},
	}
	for _, tt := range tests {
		t.Run(tt.mode, func(t *testing.T) {
			_, err := NewProcess(context.Background(), helperCommand(tt.mode), 10*time.Second, 0, logging.Discard())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestCheckHostVersion(t *testing.T) {
	assert.NoError(t, checkHostVersion(MinHostVersion))
	assert.NoError(t, checkHostVersion("1.10.0"))
	assert.Error(t, checkHostVersion("0.99.0"))
	assert.Error(t, checkHostVersion("v1.0.0"))
	assert.Error(t, checkHostVersion(""))
}
