// Package pipe runs a child process that speaks newline-delimited JSON over
// its stdin and stdout.
package pipe

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/pkg/errors"
)

const (
	// Scanner buffer sizes for child output. Lines carry whole documents.
	scannerInitialBufSize = 256 * 1024       // 256 KB
	scannerMaxBufSize     = 16 * 1024 * 1024 // 16 MB

	// Lines buffered before the reader blocks the child.
	lineBacklog = 16
)

// ErrExited is returned once the child has exited and its output is drained.
var ErrExited = errors.New("child process exited")

// Command describes the child to start.
type Command struct {
	Path string
	Args []string
	Dir  string
	// Env is appended to the current environment.
	Env []string
}

// String renders the command line for logs.
func (c Command) String() string {
	s := c.Path
	for _, a := range c.Args {
		s += " " + a
	}
	return s
}

// Process is a running child. Writes are serialized; reads are meant for a
// single consumer.
type Process struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	lines  chan []byte
	quit   chan struct{}
	done   chan struct{}
	logger *slog.Logger

	waitErr   error
	readErr   error
	writeMu   sync.Mutex
	closeOnce sync.Once
}

// Start launches the child and begins reading its stdout and stderr.
// Stderr lines are forwarded to logger at debug level.
func Start(c Command, logger *slog.Logger) (*Process, error) {
	if logger == nil {
		logger = slog.Default()
	}

	cmd := exec.Command(c.Path, c.Args...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, errors.Wrap(err, "stdin pipe")
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		_ = stdin.Close()
		return nil, errors.Wrap(err, "stdout pipe")
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		_ = stdin.Close()
		return nil, errors.Wrap(err, "stderr pipe")
	}

	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		return nil, errors.Wrapf(err, "start %s", c.Path)
	}

	p := &Process{
		cmd:    cmd,
		stdin:  stdin,
		lines:  make(chan []byte, lineBacklog),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
		logger: logger.With("pid", cmd.Process.Pid),
	}

	var readers sync.WaitGroup
	readers.Add(2)
	go func() {
		defer readers.Done()
		p.readStdout(stdout)
	}()
	go func() {
		defer readers.Done()
		p.readStderr(stderr)
	}()

	// Wait must not run before both pipes are drained.
	go func() {
		readers.Wait()
		p.waitErr = cmd.Wait()
		close(p.done)
	}()

	p.logger.Debug("child started", "command", c.String())
	return p, nil
}

func (p *Process) readStdout(r io.Reader) {
	defer close(p.lines)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, scannerInitialBufSize), scannerMaxBufSize)
	for scanner.Scan() {
		line := append([]byte(nil), scanner.Bytes()...)
		select {
		case p.lines <- line:
		case <-p.quit:
			// Nobody is listening any more; keep draining so the child can exit.
		}
	}
	if err := scanner.Err(); err != nil {
		// The stream can no longer be split into lines, so nothing the child
		// writes from here on can be delivered.
		p.readErr = err
		p.logger.Warn("child stdout unreadable, killing child", "error", err)
		_ = p.cmd.Process.Kill()
		_, _ = io.Copy(io.Discard, r)
	}
}

func (p *Process) readStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), scannerMaxBufSize)
	for scanner.Scan() {
		p.logger.Debug("child stderr", "line", scanner.Text())
	}
	_, _ = io.Copy(io.Discard, r)
}

// WriteJSON writes v as a single line to the child's stdin.
func (p *Process) WriteJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "encode message")
	}
	data = append(data, '\n')

	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if _, err := p.stdin.Write(data); err != nil {
		if !p.Alive() {
			return p.exitErr()
		}
		return errors.Wrap(err, "write to child")
	}
	return nil
}

// Next returns the next stdout line, waiting until one arrives, ctx ends, or
// the child exits (ErrExited).
func (p *Process) Next(ctx context.Context) ([]byte, error) {
	select {
	case line, ok := <-p.lines:
		if !ok {
			<-p.done
			return nil, p.exitErr()
		}
		return line, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Alive reports whether the child is still running.
func (p *Process) Alive() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// Done is closed once the child has exited.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// PID returns the child's process id.
func (p *Process) PID() int {
	return p.cmd.Process.Pid
}

func (p *Process) exitErr() error {
	switch {
	case p.readErr != nil:
		return errors.Wrapf(ErrExited, "read output: %v", p.readErr)
	case p.waitErr != nil:
		return errors.Wrap(ErrExited, p.waitErr.Error())
	}
	return ErrExited
}

// Close closes stdin, which a well-behaved child treats as end of input, and
// waits up to grace for it to exit before killing it.
func (p *Process) Close(grace time.Duration) error {
	var err error
	p.closeOnce.Do(func() {
		close(p.quit)
		p.writeMu.Lock()
		_ = p.stdin.Close()
		p.writeMu.Unlock()

		timer := time.NewTimer(grace)
		defer timer.Stop()
		select {
		case <-p.done:
			p.logger.Debug("child exited", "error", p.waitErr)
			return
		case <-timer.C:
		}

		p.logger.Warn("child did not exit after stdin closed, killing", "grace", grace)
		if killErr := p.cmd.Process.Kill(); killErr != nil {
			err = errors.Wrap(killErr, "kill child")
		}
		<-p.done
	})
	return err
}
