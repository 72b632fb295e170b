package converter

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ekisa-team/modelconv/internal/onnx"
	"github.com/ekisa-team/modelconv/internal/pipeline"
)

// VerifyONNX decodes an exported ONNX file and reports its graph inputs and
// outputs. wantOpset of zero skips the opset note.
func VerifyONNX(path string, wantOpset int64) (*pipeline.Report, error) {
	m, err := onnx.Load(path)
	if err != nil {
		return nil, err
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}

	r := &pipeline.Report{
		Notes: map[string]string{
			"ir_version": strconv.FormatInt(m.IRVersion, 10),
			"opset":      strconv.FormatInt(m.OpsetVersion(), 10),
			"nodes":      strconv.Itoa(m.NodeCount),
		},
	}
	if m.ProducerName != "" {
		r.Notes["producer"] = strings.TrimSpace(m.ProducerName + " " + m.ProducerVersion)
	}
	if wantOpset > 0 && m.OpsetVersion() != wantOpset {
		r.Notes["opset"] += fmt.Sprintf(" (requested %d)", wantOpset)
	}

	for _, in := range m.Inputs {
		r.Inputs = append(r.Inputs, pipeline.Tensor{Name: in.Name, Shape: in.Shape, DType: in.ElemType})
	}
	for _, out := range m.Outputs {
		r.Outputs = append(r.Outputs, pipeline.Tensor{Name: out.Name, Shape: out.Shape, DType: out.ElemType})
	}

	return r, nil
}
