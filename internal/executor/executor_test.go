package executor_test

import (
	"bufio"
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ekisa-team/modelconv/internal/executor"
	"github.com/ekisa-team/modelconv/internal/executor/executortest"
)

func TestExecutor_Execute(t *testing.T) {
	runner := new(executortest.MockRunner)
	runner.On("Run", mock.Anything, mock.MatchedBy(func(cmd executor.Command) bool {
		return cmd.Name == "/usr/bin/yolo" &&
			cmd.Dir == "/work" &&
			strings.Join(cmd.Args, " ") == "export format=onnx" &&
			len(cmd.Env) == 1 && cmd.Env[0] == "YOLO_OFFLINE=1"
	})).Return([]byte("ok"), []byte(""), nil).Once()

	e := executor.NewWithRunner("/usr/bin/yolo", time.Minute, runner).
		InDir("/work").
		WithEnv("YOLO_OFFLINE=1")

	stdout, _, err := e.Execute(context.Background(), []string{"export", "format=onnx"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(stdout))

	runner.AssertExpectations(t)
}

func TestExecutor_Stream(t *testing.T) {
	runner := new(executortest.MockRunner)
	runner.On("Start", mock.Anything, executortest.Binary("trtexec")).
		Return("line one\nline two\n", "[E] bad node\n", errors.New("exit status 1"), nil).Once()

	e := executor.NewWithRunner("trtexec", 0, runner)

	ch, err := e.Stream(context.Background(), []string{"--onnx=x"}, nil)
	require.NoError(t, err)

	var texts []string
	var last executor.Line
	for l := range ch {
		if l.Done {
			last = l
			continue
		}
		texts = append(texts, l.Text)
	}

	assert.ElementsMatch(t, []string{"line one", "line two", "[E] bad node"}, texts)
	assert.True(t, last.Done)
	assert.EqualError(t, last.Err, "exit status 1")

	runner.AssertExpectations(t)
}

func TestExecutor_StreamStartFailure(t *testing.T) {
	runner := new(executortest.MockRunner)
	runner.On("Start", mock.Anything, mock.Anything).
		Return("", "", nil, errors.New("exec: not found")).Once()

	e := executor.NewWithRunner("trtexec", time.Second, runner)

	_, err := e.Stream(context.Background(), nil, nil)
	assert.ErrorContains(t, err, "failed to start command")
}

func TestExecutor_StreamLineTooLong(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("requires /bin/sh")
	}

	e := executor.NewWithRunner("/bin/sh", 10*time.Second, executor.ExecCommandRunner{})

	ch, err := e.Stream(context.Background(), []string{"-c", "echo before; head -c 2000000 /dev/zero; echo; echo after >&2"}, nil)
	require.NoError(t, err)

	var (
		texts []string
		last  executor.Line
	)
	deadline := time.After(5 * time.Second)
	for done := false; !done; {
		select {
		case l, ok := <-ch:
			if !ok {
				done = true
				break
			}
			if l.Done {
				last = l
				continue
			}
			texts = append(texts, l.Text)
		case <-deadline:
			t.Fatal("stream did not finish after an oversized line")
		}
	}

	assert.True(t, last.Done)
	assert.ErrorIs(t, last.Err, bufio.ErrTooLong)
	assert.Contains(t, texts, "before")
	assert.Contains(t, texts, "after")
}
