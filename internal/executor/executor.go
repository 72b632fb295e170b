package executor

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"time"
)

// Command describes one external process invocation.
type Command struct {
	Name  string
	Args  []string
	Stdin io.Reader
	Dir   string
	Env   []string
}

// CommandRunner is the interface for running commands.
type CommandRunner interface {
	Run(ctx context.Context, cmd Command) (stdout, stderr []byte, err error)
	Start(ctx context.Context, cmd Command) (stdout, stderr io.ReadCloser, wait func() error, err error)
}

// ExecCommandRunner uses os/exec.
type ExecCommandRunner struct{}

func (ExecCommandRunner) command(ctx context.Context, c Command) *exec.Cmd {
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Stdin = c.Stdin
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}

	return cmd
}

// Run runs a command to completion.
func (r ExecCommandRunner) Run(ctx context.Context, c Command) (stdout, stderr []byte, err error) {
	cmd := r.command(ctx, c)

	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	err = cmd.Run()
	return outBuf.Bytes(), errBuf.Bytes(), err
}

// Start starts a command and returns its output pipes.
func (r ExecCommandRunner) Start(ctx context.Context, c Command) (stdout, stderr io.ReadCloser, wait func() error, err error) {
	cmd := r.command(ctx, c)

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, nil, err
	}

	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, nil, nil, err
	}

	if err := cmd.Start(); err != nil {
		return nil, nil, nil, err
	}

	return stdoutPipe, stderrPipe, cmd.Wait, nil
}

// maxLineSize bounds one streamed line; longer lines end the stream with
// bufio.ErrTooLong.
const maxLineSize = 1024 * 1024

// Line is a single line of output from a streamed command.
type Line struct {
	// Text is the line content without the trailing newline.
	Text string

	// Done indicates if this is the final message.
	Done bool

	// Err is set on the final message if the command failed.
	Err error
}

// Executor runs one external binary with a timeout.
type Executor struct {
	runner     CommandRunner
	binaryPath string
	dir        string
	env        []string
	timeout    time.Duration
}

// NewWithRunner creates an executor with a custom runner.
func NewWithRunner(binaryPath string, timeout time.Duration, runner CommandRunner) *Executor {
	return &Executor{
		binaryPath: binaryPath,
		timeout:    timeout,
		runner:     runner,
	}
}

// InDir returns a copy of the executor that runs commands in dir.
func (e *Executor) InDir(dir string) *Executor {
	c := *e
	c.dir = dir
	return &c
}

// WithEnv returns a copy of the executor with extra KEY=VALUE entries.
func (e *Executor) WithEnv(kv ...string) *Executor {
	c := *e
	c.env = append(append([]string(nil), e.env...), kv...)
	return &c
}

func (e *Executor) command(args []string, stdin io.Reader) Command {
	return Command{
		Name:  e.binaryPath,
		Args:  args,
		Stdin: stdin,
		Dir:   e.dir,
		Env:   e.env,
	}
}

// Execute runs the command and returns output.
func (e *Executor) Execute(ctx context.Context, args []string, stdin io.Reader) (stdout, stderr []byte, err error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	slog.Debug("Executing command", "binary", e.binaryPath, "args", args, "dir", e.dir)
	return e.runner.Run(ctx, e.command(args, stdin))
}

// Stream runs the command and streams stdout and stderr line by line.
// The final message has Done set and carries the exit error, if any.
func (e *Executor) Stream(ctx context.Context, args []string, stdin io.Reader) (<-chan Line, error) {
	cancel := context.CancelFunc(func() {})
	if e.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
	}

	slog.Debug("Streaming command", "binary", e.binaryPath, "args", args, "dir", e.dir)
	stdout, stderr, wait, err := e.runner.Start(ctx, e.command(args, stdin))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("executor: failed to start command: %w", err)
	}

	ch := make(chan Line, 32)
	lines := make(chan string, 32)

	// A pipe that stops being read blocks the child, so after a read error
	// the rest of the stream is discarded and the error reported on Done.
	pump := func(r io.Reader, done chan<- error) {
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 64*1024), maxLineSize)
		for scanner.Scan() {
			lines <- scanner.Text()
		}

		err := scanner.Err()
		if err != nil {
			slog.Error("Failed to read command output", "error", err)
			_, _ = io.Copy(io.Discard, r)
		}
		done <- err
	}

	go func() {
		defer close(ch)
		defer cancel()

		outDone := make(chan error, 1)
		errDone := make(chan error, 1)
		go pump(stdout, outDone)
		go pump(stderr, errDone)

		var readErr error
		go func() {
			readErr = errors.Join(<-outDone, <-errDone)
			close(lines)
		}()

		for text := range lines {
			select {
			case <-ctx.Done():
			case ch <- Line{Text: text}:
			}
		}

		err := wait()
		if err == nil && ctx.Err() != nil {
			err = ctx.Err()
		}
		if readErr != nil {
			err = errors.Join(fmt.Errorf("executor: failed to read output: %w", readErr), err)
		}
		ch <- Line{Done: true, Err: err}
	}()

	return ch, nil
}
