package engine

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ekisa-team/modelconv/internal/config"
	"github.com/ekisa-team/modelconv/internal/converter"
	"github.com/ekisa-team/modelconv/internal/deps"
	"github.com/ekisa-team/modelconv/internal/executor"
	"github.com/ekisa-team/modelconv/internal/executor/executortest"
	"github.com/ekisa-team/modelconv/internal/onnx/onnxtest"
	"github.com/ekisa-team/modelconv/internal/pipeline"
)

const trtexec = "/opt/tensorrt/bin/trtexec"

type fixture struct {
	runner *executortest.MockRunner
	tools  *converter.Toolbox
	out    *syncBuffer
	input  string
	output string
}

// syncBuffer is written by the watch goroutine and read by the test.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newFixture(t *testing.T, found bool) *fixture {
	t.Helper()

	dir := t.TempDir()
	runner := new(executortest.MockRunner)
	out := new(syncBuffer)

	return &fixture{
		runner: runner,
		out:    out,
		input:  filepath.Join(dir, "models", "yolov8n.onnx"),
		output: filepath.Join(dir, "engines", "yolov8n_fp16.engine"),
		tools: &converter.Toolbox{
			Config: config.Default(),
			Runner: runner,
			Out:    out,
			LookPath: func(file string) (string, error) {
				if found && file == "trtexec" {
					return trtexec, nil
				}
				return "", &exec.Error{Name: file, Err: exec.ErrNotFound}
			},
		},
	}
}

func (f *fixture) writeInput(t *testing.T) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(f.input), 0o755))
	data := onnxtest.Model("images", []int64{1, 3, 640, 640}, "output0", []int64{1, 84, 8400}, 17)
	require.NoError(t, os.WriteFile(f.input, data, 0o644))
}

func (f *fixture) builder() *Builder {
	return New(f.tools, Options{Input: f.input, Output: f.output})
}

func buildCall(args ...string) any {
	return mock.MatchedBy(func(cmd executor.Command) bool {
		if cmd.Name != trtexec {
			return false
		}
		for _, a := range args {
			if !slices.Contains(cmd.Args, a) {
				return false
			}
		}
		return true
	})
}

func (f *fixture) writeEngine(t *testing.T) func(mock.Arguments) {
	return func(mock.Arguments) {
		require.NoError(t, os.WriteFile(f.output, []byte("serialized engine"), 0o644))
	}
}

func TestBuilder_MissingInput(t *testing.T) {
	f := newFixture(t, true)

	res, err := f.builder().Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, pipeline.ErrInputNotFound)
	assert.Equal(t, pipeline.StateFailed, res.State)
	assert.Contains(t, f.out.String(), "not found!")

	f.runner.AssertNotCalled(t, "Start", mock.Anything, mock.Anything)
	f.runner.AssertNotCalled(t, "Run", mock.Anything, mock.Anything)
}

func TestBuilder_Success(t *testing.T) {
	f := newFixture(t, true)
	f.writeInput(t)

	f.runner.On("Start", mock.Anything, buildCall(
		"--onnx="+f.input,
		"--saveEngine="+f.output,
		"--memPoolSize=workspace:4096",
		"--fp16",
	)).Run(f.writeEngine(t)).
		Return("[I] Building engine\n[I] Engine built in 42 s\n", "[W] [TRT] onnx2trt_utils.cpp:374: INT64 weights\n", nil, nil).Once()

	res, err := f.builder().Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, pipeline.FormatTensorRT, res.Artifact.Format)
	assert.Equal(t, "17", res.Handle.Meta["opset"])
	assert.NotContains(t, res.Trace, pipeline.StateVerified)
	assert.Contains(t, f.out.String(), "Engine saved to: "+f.output)

	f.runner.AssertExpectations(t)
}

func TestBuilder_FP16Disabled(t *testing.T) {
	f := newFixture(t, true)
	f.writeInput(t)
	disabled := false
	f.tools.Config.Engine.FP16 = &disabled

	var got []string
	f.runner.On("Start", mock.Anything, buildCall("--onnx="+f.input)).
		Run(func(args mock.Arguments) {
			got = args.Get(1).(executor.Command).Args
			f.writeEngine(t)(args)
		}).
		Return("", "", nil, nil).Once()

	_, err := f.builder().Run(context.Background())
	require.NoError(t, err)
	assert.NotContains(t, got, "--fp16")
}

func TestBuilder_ParserErrors(t *testing.T) {
	f := newFixture(t, true)
	f.writeInput(t)

	f.runner.On("Start", mock.Anything, buildCall("--onnx="+f.input)).
		Return(
			"[I] Parsing model\n[E] [TRT] ModelImporter.cpp:726: While parsing node number 3 [Resize]\n",
			"[E] Failed to parse onnx file\n",
			errors.New("exit status 1"),
			nil,
		).Once()

	_, err := f.builder().Run(context.Background())
	require.Error(t, err)

	var parseErr *ParseError
	require.ErrorAs(t, err, &parseErr)
	assert.ElementsMatch(t, []string{
		"[TRT] ModelImporter.cpp:726: While parsing node number 3 [Resize]",
		"Failed to parse onnx file",
	}, parseErr.Messages)

	out := f.out.String()
	assert.Contains(t, out, "While parsing node number 3")
	assert.Contains(t, out, "Failed to parse onnx file")
	assert.NoFileExists(t, f.output)
}

func TestBuilder_FailsWithoutParserErrors(t *testing.T) {
	f := newFixture(t, true)
	f.writeInput(t)

	f.runner.On("Start", mock.Anything, buildCall("--onnx="+f.input)).
		Return("[I] out of memory\n", "", errors.New("signal: killed"), nil).Once()

	_, err := f.builder().Run(context.Background())
	require.Error(t, err)

	var parseErr *ParseError
	assert.False(t, errors.As(err, &parseErr))
	assert.Contains(t, err.Error(), "trtexec failed")
	assert.Contains(t, err.Error(), "out of memory")
}

func TestBuilder_NoEngineWritten(t *testing.T) {
	f := newFixture(t, true)
	f.writeInput(t)

	f.runner.On("Start", mock.Anything, buildCall("--onnx="+f.input)).
		Return("[I] done\n", "", nil, nil).Once()

	_, err := f.builder().Run(context.Background())
	assert.ErrorIs(t, err, pipeline.ErrEmptyArtifact)
}

func TestBuilder_MissingTrtexec(t *testing.T) {
	f := newFixture(t, false)
	f.writeInput(t)

	_, err := f.builder().Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, deps.ErrMissing)
	assert.Contains(t, err.Error(), "developer.nvidia.com/tensorrt")
	assert.Contains(t, err.Error(), "to PATH")
	f.runner.AssertNotCalled(t, "Start", mock.Anything, mock.Anything)
}

func TestBuilder_InvalidONNX(t *testing.T) {
	f := newFixture(t, true)
	require.NoError(t, os.MkdirAll(filepath.Dir(f.input), 0o755))
	require.NoError(t, os.WriteFile(f.input, []byte("not an onnx file"), 0o644))

	_, err := f.builder().Run(context.Background())

	var parseErr *ParseError
	require.ErrorAs(t, err, &parseErr)
	require.Len(t, parseErr.Messages, 1)
	assert.Contains(t, f.out.String(), parseErr.Messages[0])
	f.runner.AssertNotCalled(t, "Start", mock.Anything, mock.Anything)
}

func TestBuilder_WatchRebuilds(t *testing.T) {
	f := newFixture(t, true)
	f.writeInput(t)

	builds := make(chan struct{}, 4)
	f.runner.On("Start", mock.Anything, buildCall("--onnx="+f.input)).
		Run(func(args mock.Arguments) {
			f.writeEngine(t)(args)
			select {
			case builds <- struct{}{}:
			default:
			}
		}).
		Return("", "", nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- f.builder().Watch(ctx) }()

	select {
	case <-builds:
	case <-time.After(5 * time.Second):
		t.Fatal("initial build did not run")
	}

	// The watcher starts after the first build; keep rewriting until it notices.
	data, err := os.ReadFile(f.input)
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		_ = os.WriteFile(f.input, data, 0o644)
		select {
		case <-builds:
			return true
		default:
			return false
		}
	}, 10*time.Second, 200*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop")
	}

	assert.Contains(t, f.out.String(), "Watching")
}
