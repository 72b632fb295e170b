package report

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ekisa-team/modelconv/internal/pipeline"
)

func TestShape(t *testing.T) {
	assert.Equal(t, "[1, 3, 640, 640]", Shape([]int64{1, 3, 640, 640}))
	assert.Equal(t, "[?, 32, 160, 160]", Shape([]int64{-1, 32, 160, 160}))
	assert.Equal(t, "[]", Shape(nil))
}

func TestTensors(t *testing.T) {
	var buf bytes.Buffer
	Tensors(&buf, &pipeline.Report{
		Inputs:  []pipeline.Tensor{{Name: "images", Shape: []int64{1, 3, 640, 640}, DType: "float32"}},
		Outputs: []pipeline.Tensor{{Name: "output0", Shape: []int64{1, 116, 8400}, DType: "float32"}},
		Notes:   map[string]string{"opset": "11", "producer": "pytorch 2.1.0"},
	})

	out := buf.String()
	assert.Contains(t, out, "images")
	assert.Contains(t, out, "[1, 3, 640, 640]")
	assert.Contains(t, out, "output0")
	assert.Contains(t, out, "opset: 11")
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("opset")), bytes.Index(buf.Bytes(), []byte("producer")))
}

func TestTensors_Nil(t *testing.T) {
	var buf bytes.Buffer
	Tensors(&buf, nil)
	assert.Empty(t, buf.String())
}
