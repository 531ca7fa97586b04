package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/hrygo/punctuator/internal/logging"
	"github.com/hrygo/punctuator/internal/pipe"
	"github.com/hrygo/punctuator/punct"
	"github.com/hrygo/punctuator/punct/labeler"
	"github.com/hrygo/punctuator/worker"
)

const helperEnv = "CLIENT_TEST_HELPER"

// scriptedRestorer wraps the rule labeler with a few trigger texts.
type scriptedRestorer struct {
	*punct.Restorer
}

func (r scriptedRestorer) Restore(ctx context.Context, text string) (string, error) {
	switch text {
	case "slow":
		time.Sleep(time.Second)
	case "fail":
		return "", errors.New("model exploded")
	case "crash":
		os.Exit(2)
	}
	return r.Restorer.Restore(ctx, text)
}

// TestHelperProcess is not a real test. It runs a worker when the helper
// environment variable is set.
func TestHelperProcess(t *testing.T) {
	switch os.Getenv(helperEnv) {
	case "":
		return
	case "worker":
		fmt.Println("Device set to use cpu")
		restorer := scriptedRestorer{punct.NewRestorer(labeler.NewRule(), punct.NewReconstructor(true))}
		w := worker.New(restorer, worker.WithLogger(logging.Discard()))
		if err := w.Serve(context.Background(), os.Stdin, os.Stdout); err != nil {
			os.Exit(1)
		}
	case "badhandshake":
		in := bufio.NewScanner(os.Stdin)
		for in.Scan() {
			fmt.Println(`{"isSuccess":true,"restoredText":"nope","taskId":"test-init"}`)
		}
	}
	os.Exit(0)
}

func helperConfig(mode string) Config {
	return Config{
		Command: pipe.Command{
			Path: os.Args[0],
			Args: []string{"-test.run=^TestHelperProcess$"},
			Env:  []string{helperEnv + "=" + mode},
		},
		HandshakeTimeout: 10 * time.Second,
		RequestTimeout:   10 * time.Second,
		CloseGrace:       5 * time.Second,
	}
}

func TestHandler_Send(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx := context.Background()

	h, err := Start(ctx, helperConfig("worker"), logging.Discard())
	require.NoError(t, err)
	defer h.Close()

	got, err := h.Send(ctx, "hello world", "t-1")
	require.NoError(t, err)
	assert.Equal(t, "Hello world.", got)

	_, err = h.Send(ctx, "fail", "t-2")
	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, "t-2", remote.TaskID)
	assert.Equal(t, "model exploded", remote.Message)

	got, err = h.Send(ctx, "where are you", "t-3")
	require.NoError(t, err)
	assert.Equal(t, "Where are you?", got)
}

func TestHandler_LateResponseIsSkipped(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx := context.Background()

	h, err := Start(ctx, helperConfig("worker"), logging.Discard())
	require.NoError(t, err)
	defer h.Close()

	short, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()
	_, err = h.Send(short, "slow", "t-slow")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	got, err := h.Send(ctx, "still here", "t-next")
	require.NoError(t, err)
	assert.Equal(t, "Still here.", got)
}

func TestHandler_WorkerCrash(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx := context.Background()

	h, err := Start(ctx, helperConfig("worker"), logging.Discard())
	require.NoError(t, err)
	defer h.Close()

	_, err = h.Send(ctx, "crash", "t-1")
	require.ErrorIs(t, err, ErrClosed)

	assert.Eventually(t, func() bool { return !h.Alive() }, 5*time.Second, 10*time.Millisecond)
	_, err = h.Send(ctx, "hello", "t-2")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestStart_BadHandshake(t *testing.T) {
	defer goleak.VerifyNone(t)

	_, err := Start(context.Background(), helperConfig("badhandshake"), logging.Discard())
	require.ErrorIs(t, err, ErrHandshake)
	assert.Contains(t, err.Error(), "nope")
}

func TestPool_Concurrent(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx := context.Background()

	p, err := NewPool(ctx, helperConfig("worker"), 2, logging.Discard())
	require.NoError(t, err)
	defer p.Close()
	assert.Equal(t, 2, p.Size())

	var wg sync.WaitGroup
	results := make([]string, 6)
	errs := make([]error, 6)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = p.Restore(ctx, fmt.Sprintf("request number %d", i), "")
		}(i)
	}
	wg.Wait()

	for i := range results {
		require.NoError(t, errs[i])
		assert.Equal(t, fmt.Sprintf("Request number %d.", i), results[i])
	}
}

func TestPool_RestartsDeadWorker(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx := context.Background()

	p, err := NewPool(ctx, helperConfig("worker"), 1, logging.Discard())
	require.NoError(t, err)
	defer p.Close()

	_, err = p.Restore(ctx, "crash", "t-crash")
	require.ErrorIs(t, err, ErrClosed)

	got, err := p.Restore(ctx, "back again", "t-again")
	require.NoError(t, err)
	assert.Equal(t, "Back again.", got)
}

func TestPool_Closed(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx := context.Background()

	p, err := NewPool(ctx, helperConfig("worker"), 1, logging.Discard())
	require.NoError(t, err)
	require.NoError(t, p.Close())

	_, err = p.Restore(ctx, "hello", "")
	assert.ErrorIs(t, err, ErrClosed)
}
