// Package onnx decodes the parts of an ONNX ModelProto needed to check that
// an exported file is structurally sound: IR version, opset imports, producer
// and the declared graph inputs and outputs. Weights and nodes are skipped.
package onnx

import (
	"errors"
	"fmt"
	"os"

	"google.golang.org/protobuf/encoding/protowire"
)

// Error definitions for the onnx package.
var (
	ErrNoGraph   = errors.New("onnx: model has no graph")
	ErrNoInputs  = errors.New("onnx: graph declares no inputs")
	ErrNoOutputs = errors.New("onnx: graph declares no outputs")
)

// Field numbers from onnx.proto.
const (
	modelIRVersion       = 1
	modelProducerName    = 2
	modelProducerVersion = 3
	modelGraph           = 7
	modelOpsetImport     = 8

	opsetDomain  = 1
	opsetVersion = 2

	graphNode        = 1
	graphName        = 2
	graphInitializer = 5
	graphInput       = 11
	graphOutput      = 12

	valueInfoName = 1
	valueInfoType = 2

	typeTensor = 1

	tensorElemType = 1
	tensorShape    = 2

	shapeDim = 1

	dimValue = 1
	dimParam = 2
)

// elemTypes maps TensorProto.DataType to a name.
var elemTypes = map[int64]string{
	1:  "float32",
	2:  "uint8",
	3:  "int8",
	4:  "uint16",
	5:  "int16",
	6:  "int32",
	7:  "int64",
	8:  "string",
	9:  "bool",
	10: "float16",
	11: "float64",
	12: "uint32",
	13: "uint64",
	16: "bfloat16",
}

// Opset is an operator set import.
type Opset struct {
	Domain  string
	Version int64
}

// ValueInfo is a graph input or output. Dynamic dimensions are -1 and their
// symbolic name is kept in DimParams at the same index.
type ValueInfo struct {
	Name      string
	ElemType  string
	Shape     []int64
	DimParams []string
}

// Model is the decoded summary of an ONNX file.
type Model struct {
	IRVersion       int64
	ProducerName    string
	ProducerVersion string
	Opsets          []Opset
	GraphName       string
	NodeCount       int
	Initializers    int
	Inputs          []ValueInfo
	Outputs         []ValueInfo
}

// OpsetVersion returns the version of the default ("" or "ai.onnx") domain.
func (m *Model) OpsetVersion() int64 {
	for _, o := range m.Opsets {
		if o.Domain == "" || o.Domain == "ai.onnx" {
			return o.Version
		}
	}
	return 0
}

// Load reads and decodes an ONNX file.
func Load(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("onnx: failed to read model: %w", err)
	}

	m, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("onnx: %s: %w", path, err)
	}

	return m, nil
}

// Decode decodes a serialized ModelProto.
func Decode(data []byte) (*Model, error) {
	m := &Model{}
	hasGraph := false

	err := walk(data, func(num protowire.Number, typ protowire.Type, v []byte, u uint64) error {
		switch {
		case num == modelIRVersion && typ == protowire.VarintType:
			m.IRVersion = int64(u)
		case num == modelProducerName && typ == protowire.BytesType:
			m.ProducerName = string(v)
		case num == modelProducerVersion && typ == protowire.BytesType:
			m.ProducerVersion = string(v)
		case num == modelOpsetImport && typ == protowire.BytesType:
			o, err := decodeOpset(v)
			if err != nil {
				return fmt.Errorf("opset_import: %w", err)
			}
			m.Opsets = append(m.Opsets, o)
		case num == modelGraph && typ == protowire.BytesType:
			hasGraph = true
			if err := decodeGraph(v, m); err != nil {
				return fmt.Errorf("graph: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !hasGraph {
		return nil, ErrNoGraph
	}

	return m, nil
}

// Validate checks that the graph declares inputs and outputs.
func (m *Model) Validate() error {
	if len(m.Inputs) == 0 {
		return ErrNoInputs
	}
	if len(m.Outputs) == 0 {
		return ErrNoOutputs
	}
	return nil
}

func decodeOpset(data []byte) (Opset, error) {
	var o Opset
	err := walk(data, func(num protowire.Number, typ protowire.Type, v []byte, u uint64) error {
		switch {
		case num == opsetDomain && typ == protowire.BytesType:
			o.Domain = string(v)
		case num == opsetVersion && typ == protowire.VarintType:
			o.Version = int64(u)
		}
		return nil
	})
	return o, err
}

func decodeGraph(data []byte, m *Model) error {
	initializers := make(map[string]bool)
	var inputs []ValueInfo

	err := walk(data, func(num protowire.Number, typ protowire.Type, v []byte, _ uint64) error {
		if typ != protowire.BytesType {
			return nil
		}

		switch num {
		case graphNode:
			m.NodeCount++
		case graphName:
			m.GraphName = string(v)
		case graphInitializer:
			m.Initializers++
			name, err := tensorName(v)
			if err != nil {
				return fmt.Errorf("initializer: %w", err)
			}
			initializers[name] = true
		case graphInput, graphOutput:
			vi, err := decodeValueInfo(v)
			if err != nil {
				return err
			}
			if num == graphInput {
				inputs = append(inputs, vi)
			} else {
				m.Outputs = append(m.Outputs, vi)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	// Older exporters list initializers as graph inputs too.
	for _, in := range inputs {
		if !initializers[in.Name] {
			m.Inputs = append(m.Inputs, in)
		}
	}

	return nil
}

// tensorName reads TensorProto.name (field 8).
func tensorName(data []byte) (string, error) {
	var name string
	err := walk(data, func(num protowire.Number, typ protowire.Type, v []byte, _ uint64) error {
		if num == 8 && typ == protowire.BytesType {
			name = string(v)
		}
		return nil
	})
	return name, err
}

func decodeValueInfo(data []byte) (ValueInfo, error) {
	var vi ValueInfo
	err := walk(data, func(num protowire.Number, typ protowire.Type, v []byte, _ uint64) error {
		if typ != protowire.BytesType {
			return nil
		}
		switch num {
		case valueInfoName:
			vi.Name = string(v)
		case valueInfoType:
			return walk(v, func(num protowire.Number, typ protowire.Type, v []byte, _ uint64) error {
				if num == typeTensor && typ == protowire.BytesType {
					return decodeTensorType(v, &vi)
				}
				return nil
			})
		}
		return nil
	})
	return vi, err
}

func decodeTensorType(data []byte, vi *ValueInfo) error {
	return walk(data, func(num protowire.Number, typ protowire.Type, v []byte, u uint64) error {
		switch {
		case num == tensorElemType && typ == protowire.VarintType:
			vi.ElemType = elemTypes[int64(u)]
			if vi.ElemType == "" {
				vi.ElemType = fmt.Sprintf("type(%d)", u)
			}
		case num == tensorShape && typ == protowire.BytesType:
			return walk(v, func(num protowire.Number, typ protowire.Type, v []byte, _ uint64) error {
				if num != shapeDim || typ != protowire.BytesType {
					return nil
				}
				size, param := int64(-1), ""
				err := walk(v, func(num protowire.Number, typ protowire.Type, v []byte, u uint64) error {
					switch {
					case num == dimValue && typ == protowire.VarintType:
						size = int64(u)
					case num == dimParam && typ == protowire.BytesType:
						param = string(v)
					}
					return nil
				})
				vi.Shape = append(vi.Shape, size)
				vi.DimParams = append(vi.DimParams, param)
				return err
			})
		}
		return nil
	})
}

// walk iterates the fields of one message. For length-delimited fields v is
// the payload; for varint fields u is the value.
func walk(data []byte, fn func(num protowire.Number, typ protowire.Type, v []byte, u uint64) error) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return protowire.ParseError(n)
		}
		data = data[n:]

		switch typ {
		case protowire.VarintType:
			u, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			if err := fn(num, typ, nil, u); err != nil {
				return err
			}
			data = data[n:]
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			if err := fn(num, typ, v, 0); err != nil {
				return err
			}
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			data = data[n:]
		}
	}

	return nil
}
