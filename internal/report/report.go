package report

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"

	"github.com/ekisa-team/modelconv/internal/pipeline"
)

// Tensors renders the inputs and outputs of a verification report as a table.
func Tensors(w io.Writer, r *pipeline.Report) {
	if r == nil {
		return
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Kind", "Name", "Shape", "Type"})
	table.SetAutoWrapText(false)
	table.SetBorder(false)

	for _, t := range r.Inputs {
		table.Append([]string{"input", t.Name, Shape(t.Shape), t.DType})
	}
	for _, t := range r.Outputs {
		table.Append([]string{"output", t.Name, Shape(t.Shape), t.DType})
	}
	table.Render()

	if len(r.Notes) == 0 {
		return
	}

	keys := make([]string, 0, len(r.Notes))
	for k := range r.Notes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "  %s: %s\n", k, r.Notes[k])
	}
}

// Shape formats a shape as [1, 3, 640, 640]. Dynamic dimensions print as ?.
func Shape(dims []int64) string {
	parts := make([]string, len(dims))
	for i, d := range dims {
		if d < 0 {
			parts[i] = "?"
			continue
		}
		parts[i] = strconv.FormatInt(d, 10)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
