// Package onnxtest builds small serialized ONNX models for tests.
package onnxtest

import "google.golang.org/protobuf/encoding/protowire"

func field(num protowire.Number, v []byte) []byte {
	b := protowire.AppendTag(nil, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func varint(num protowire.Number, v uint64) []byte {
	b := protowire.AppendTag(nil, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func valueInfo(name string, dims []int64) []byte {
	var shape []byte
	for _, d := range dims {
		shape = append(shape, field(1, varint(1, uint64(d)))...)
	}
	tensor := append(varint(1, 1), field(2, shape)...)
	return append(field(1, []byte(name)), field(2, field(1, tensor))...)
}

// Model returns a float32 model with one input and one output, produced by
// "modelconv-test" with the given opset.
func Model(input string, inShape []int64, output string, outShape []int64, opset uint64) []byte {
	graph := field(1, field(4, []byte("Identity")))
	graph = append(graph, field(2, []byte("main_graph"))...)
	graph = append(graph, field(11, valueInfo(input, inShape))...)
	graph = append(graph, field(12, valueInfo(output, outShape))...)

	m := varint(1, 8)
	m = append(m, field(2, []byte("modelconv-test"))...)
	m = append(m, field(7, graph)...)
	m = append(m, field(8, varint(2, opset))...)
	return m
}
