package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeArtifact(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "model.onnx")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestPipeline_Run(t *testing.T) {
	out := writeArtifact(t, "onnx-bytes")

	p := &Pipeline{
		Name: "test",
		Acquire: func(context.Context) (string, error) {
			return "yolov8n-seg.pt", nil
		},
		Load: func(_ context.Context, ref string) (*Handle, error) {
			return &Handle{Path: ref, Format: FormatPyTorch, Pretrained: true}, nil
		},
		Convert: func(_ context.Context, h *Handle) (*Artifact, error) {
			assert.Equal(t, "yolov8n-seg.pt", h.Path)
			return &Artifact{Path: out, Format: FormatONNX}, nil
		},
		Verify: func(_ context.Context, a *Artifact) (*Report, error) {
			return &Report{Outputs: []Tensor{{Name: "output0"}}}, nil
		},
	}

	res, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateDone, res.State)
	assert.Equal(t, []State{StateStart, StateAcquired, StateLoaded, StateConverted, StateVerified, StateDone}, res.Trace)
	assert.EqualValues(t, len("onnx-bytes"), res.Artifact.Size)
	assert.Equal(t, "output0", res.Report.Outputs[0].Name)
}

func TestPipeline_RunWithoutOptionalStages(t *testing.T) {
	out := writeArtifact(t, "engine")

	p := &Pipeline{
		Acquire: func(context.Context) (string, error) { return "in.onnx", nil },
		Convert: func(_ context.Context, h *Handle) (*Artifact, error) {
			assert.True(t, h.Pretrained)
			return &Artifact{Path: out}, nil
		},
	}

	res, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []State{StateStart, StateAcquired, StateLoaded, StateConverted, StateDone}, res.Trace)
}

func TestPipeline_StageFailures(t *testing.T) {
	boom := errors.New("boom")
	out := writeArtifact(t, "x")

	ok := func(context.Context) (string, error) { return "ref", nil }
	convertOK := func(context.Context, *Handle) (*Artifact, error) { return &Artifact{Path: out}, nil }

	tests := []struct {
		name  string
		p     *Pipeline
		stage State
		trace []State
	}{
		{
			name:  "acquire",
			p:     &Pipeline{Acquire: func(context.Context) (string, error) { return "", boom }, Convert: convertOK},
			stage: StateStart,
			trace: []State{StateStart, StateFailed},
		},
		{
			name: "load",
			p: &Pipeline{
				Acquire: ok,
				Load:    func(context.Context, string) (*Handle, error) { return nil, boom },
				Convert: convertOK,
			},
			stage: StateAcquired,
			trace: []State{StateStart, StateAcquired, StateFailed},
		},
		{
			name:  "convert",
			p:     &Pipeline{Acquire: ok, Convert: func(context.Context, *Handle) (*Artifact, error) { return nil, boom }},
			stage: StateLoaded,
			trace: []State{StateStart, StateAcquired, StateLoaded, StateFailed},
		},
		{
			name: "verify",
			p: &Pipeline{
				Acquire: ok,
				Convert: convertOK,
				Verify:  func(context.Context, *Artifact) (*Report, error) { return nil, boom },
			},
			stage: StateConverted,
			trace: []State{StateStart, StateAcquired, StateLoaded, StateConverted, StateFailed},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := tt.p.Run(context.Background())
			require.Error(t, err)
			assert.ErrorIs(t, err, boom)

			var stageErr *StageError
			require.ErrorAs(t, err, &stageErr)
			assert.Equal(t, tt.stage, stageErr.Stage)
			assert.Equal(t, StateFailed, res.State)
			assert.Equal(t, tt.trace, res.Trace)
			assert.Contains(t, err.Error(), tt.name+": boom")
		})
	}
}

func TestPipeline_EmptyArtifactIsFailure(t *testing.T) {
	dir := t.TempDir()
	empty := filepath.Join(dir, "empty.tflite")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))

	tests := []struct {
		name     string
		artifact *Artifact
	}{
		{"nil artifact", nil},
		{"missing file", &Artifact{Path: filepath.Join(dir, "missing.tflite")}},
		{"zero bytes", &Artifact{Path: empty}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verified := false
			p := &Pipeline{
				Acquire: func(context.Context) (string, error) { return "ref", nil },
				Convert: func(context.Context, *Handle) (*Artifact, error) { return tt.artifact, nil },
				Verify: func(context.Context, *Artifact) (*Report, error) {
					verified = true
					return &Report{}, nil
				},
			}

			res, err := p.Run(context.Background())
			assert.ErrorIs(t, err, ErrEmptyArtifact)
			assert.Equal(t, StateFailed, res.State)
			assert.Nil(t, res.Artifact)
			assert.False(t, verified)
		})
	}
}

func TestPipeline_MissingStages(t *testing.T) {
	_, err := (&Pipeline{}).Run(context.Background())
	assert.ErrorIs(t, err, ErrNoAcquire)

	_, err = (&Pipeline{Acquire: func(context.Context) (string, error) { return "", nil }}).Run(context.Background())
	assert.ErrorIs(t, err, ErrNoConvert)
}

func TestPipeline_CanceledBeforeConvert(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	converted := false
	p := &Pipeline{
		Acquire: func(context.Context) (string, error) {
			cancel()
			return "ref", nil
		},
		Convert: func(context.Context, *Handle) (*Artifact, error) {
			converted = true
			return nil, nil
		},
	}

	_, err := p.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, converted)
}
