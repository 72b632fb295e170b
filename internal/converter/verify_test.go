package converter

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekisa-team/modelconv/internal/onnx"
	"github.com/ekisa-team/modelconv/internal/onnx/onnxtest"
)

func TestVerifyONNX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hand_landmark.onnx")
	data := onnxtest.Model("input_1", []int64{1, 224, 224, 3}, "Identity", []int64{1, 63}, 13)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	r, err := VerifyONNX(path, 0)
	require.NoError(t, err)

	require.Len(t, r.Inputs, 1)
	assert.Equal(t, "input_1", r.Inputs[0].Name)
	assert.Equal(t, []int64{1, 224, 224, 3}, r.Inputs[0].Shape)
	assert.Equal(t, "float32", r.Inputs[0].DType)
	require.Len(t, r.Outputs, 1)
	assert.Equal(t, "Identity", r.Outputs[0].Name)

	assert.Equal(t, "13", r.Notes["opset"])
	assert.Equal(t, "8", r.Notes["ir_version"])
	assert.Equal(t, "1", r.Notes["nodes"])
	assert.Equal(t, "modelconv-test", r.Notes["producer"])
}

func TestVerifyONNX_OpsetMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "m.onnx")
	require.NoError(t, os.WriteFile(path, onnxtest.Model("a", []int64{1}, "b", []int64{1}, 12), 0o644))

	r, err := VerifyONNX(path, 11)
	require.NoError(t, err)
	assert.Equal(t, "12 (requested 11)", r.Notes["opset"])
}

func TestVerifyONNX_NotAModel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "junk.onnx")
	require.NoError(t, os.WriteFile(path, []byte{0x08, 0x08}, 0o644))

	_, err := VerifyONNX(path, 0)
	assert.ErrorIs(t, err, onnx.ErrNoGraph)
}

func TestTail(t *testing.T) {
	out := []byte("a\nb\nc\nd\n")
	assert.Equal(t, "c\nd", Tail(out, 2))
	assert.Equal(t, "a\nb\nc\nd", Tail(out, 10))
}
