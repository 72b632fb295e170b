// Package hands exports the hand-landmark model bundled with MediaPipe to
// ONNX.
package hands

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"github.com/ekisa-team/modelconv/internal/converter"
	"github.com/ekisa-team/modelconv/internal/deps"
	"github.com/ekisa-team/modelconv/internal/pipeline"
	"github.com/ekisa-team/modelconv/internal/report"
	"github.com/ekisa-team/modelconv/internal/xfs"
)

const locateScript = `import os
import mediapipe
print(os.path.dirname(os.path.abspath(mediapipe.__file__)))
`

// ModelFiles maps a variant to its file under modules/hand_landmark.
var ModelFiles = map[string]string{
	"lite": "hand_landmark_lite.tflite",
	"full": "hand_landmark_full.tflite",
}

var (
	ErrNoOutput       = errors.New("output path is required")
	ErrUnknownVariant = errors.New("unknown model variant")
)

// MediaPipe ships the source model.
var MediaPipe = deps.Requirement{
	Name:          "mediapipe",
	PythonModules: []string{"mediapipe"},
	Install:       "pip install mediapipe",
}

// TFLite2ONNX performs the conversion.
var TFLite2ONNX = deps.Requirement{
	Name:    "tflite2onnx",
	Binary:  "tflite2onnx",
	Install: "pip install tflite2onnx",
}

// Variants returns the variant names in sorted order.
func Variants() []string {
	names := make([]string, 0, len(ModelFiles))
	for name := range ModelFiles {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Options configures one export.
type Options struct {
	Output  string
	Variant string
}

// Exporter runs the hand-landmark export pipeline.
type Exporter struct {
	tools *converter.Toolbox
	opts  Options
}

// New validates opts and creates an Exporter. An empty variant uses the
// configured one.
func New(tools *converter.Toolbox, opts Options) (*Exporter, error) {
	if opts.Output == "" {
		opts.Output = tools.Config.Hands.Output
	}
	if opts.Output == "" {
		return nil, ErrNoOutput
	}
	if opts.Variant == "" {
		opts.Variant = tools.Config.Hands.Variant
	}
	if _, ok := ModelFiles[opts.Variant]; !ok {
		return nil, fmt.Errorf("%w %q: must be one of: %s", ErrUnknownVariant, opts.Variant, strings.Join(Variants(), ", "))
	}

	return &Exporter{tools: tools, opts: opts}, nil
}

// Pipeline returns the export pipeline.
func (e *Exporter) Pipeline() *pipeline.Pipeline {
	return &pipeline.Pipeline{
		Name:    "hands-export",
		Acquire: e.acquire,
		Load:    e.load,
		Convert: e.convert,
		Verify: func(_ context.Context, a *pipeline.Artifact) (*pipeline.Report, error) {
			return converter.VerifyONNX(a.Path, 0)
		},
	}
}

// Run executes the pipeline and prints the outcome.
func (e *Exporter) Run(ctx context.Context) (*pipeline.Result, error) {
	res, err := e.Pipeline().Run(ctx)
	if err != nil {
		return res, err
	}

	e.tools.Printf("✓ Exported %s hand landmark model to %s (%s)\n", e.opts.Variant, res.Artifact.Path, xfs.SizeMB(res.Artifact.Size))
	report.Tensors(e.tools.Writer(), res.Report)
	return res, nil
}

func (e *Exporter) acquire(ctx context.Context) (string, error) {
	python, versions, err := e.tools.Python(ctx, MediaPipe)
	if err != nil {
		return "", err
	}
	e.tools.Printf("MediaPipe version: %s\n", versions["mediapipe"])

	stdout, stderr, err := python.Execute(ctx, []string{"-"}, strings.NewReader(locateScript))
	if err != nil {
		return "", converter.CommandError("locating mediapipe", err, stderr)
	}

	pkgDir := strings.TrimSpace(converter.Tail(stdout, 1))
	if pkgDir == "" {
		return "", errors.New("mediapipe package directory could not be determined")
	}

	return filepath.Join(pkgDir, "modules", "hand_landmark", ModelFiles[e.opts.Variant]), nil
}

func (e *Exporter) load(_ context.Context, ref string) (*pipeline.Handle, error) {
	if !xfs.Exists(ref) {
		return nil, fmt.Errorf("%w: could not locate %s", pipeline.ErrInputNotFound, ref)
	}

	return &pipeline.Handle{
		Path:       ref,
		Format:     pipeline.FormatTFLite,
		Origin:     "mediapipe",
		Pretrained: true,
		Meta:       map[string]string{"variant": e.opts.Variant},
	}, nil
}

func (e *Exporter) convert(ctx context.Context, h *pipeline.Handle) (*pipeline.Artifact, error) {
	req := TFLite2ONNX
	if bin := e.tools.Config.Tools.TFLite2ONNX; bin != "" {
		req.Binary = bin
	}
	tool, err := e.tools.Tool(req.Binary, req)
	if err != nil {
		return nil, err
	}

	if err := xfs.EnsureParentDir(e.opts.Output); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	_, stderr, err := tool.Execute(ctx, []string{h.Path, e.opts.Output}, nil)
	if err != nil {
		return nil, converter.CommandError("tflite2onnx", err, stderr)
	}

	return &pipeline.Artifact{Path: e.opts.Output, Format: pipeline.FormatONNX}, nil
}
