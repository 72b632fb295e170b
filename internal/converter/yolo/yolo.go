// Package yolo exports YOLOv8 segmentation checkpoints to ONNX with the
// Ultralytics exporter.
package yolo

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ekisa-team/modelconv/internal/converter"
	"github.com/ekisa-team/modelconv/internal/deps"
	"github.com/ekisa-team/modelconv/internal/pipeline"
	"github.com/ekisa-team/modelconv/internal/report"
	"github.com/ekisa-team/modelconv/internal/xfs"
)

const checkpointSuffix = ".pt"

// Ultralytics is the exporter dependency.
var Ultralytics = deps.Requirement{
	Name:    "ultralytics",
	Binary:  "yolo",
	Install: "pip install ultralytics",
}

// Variant is a published YOLOv8 segmentation checkpoint.
type Variant struct {
	Name        string
	Description string
}

// Variants lists the published checkpoints, smallest first.
var Variants = []Variant{
	{"yolov8n-seg.pt", "nano - smallest, fastest"},
	{"yolov8s-seg.pt", "small - balanced"},
	{"yolov8m-seg.pt", "medium - better accuracy"},
	{"yolov8l-seg.pt", "large - high accuracy"},
	{"yolov8x-seg.pt", "extra large - highest accuracy"},
}

// NormalizeModelName appends ".pt" unless name already ends with it.
// Applying it more than once yields the same result.
func NormalizeModelName(name string) string {
	name = strings.TrimSpace(name)
	if strings.HasSuffix(name, checkpointSuffix) {
		return name
	}
	return name + checkpointSuffix
}

// OutputName returns the ONNX file name for a checkpoint name.
func OutputName(model string) string {
	return strings.TrimSuffix(model, checkpointSuffix) + ".onnx"
}

// Options configures one export.
type Options struct {
	// Model is the checkpoint name or path. Empty selects the smallest variant.
	Model string

	// WorkDir is where registry checkpoints are downloaded and exported.
	WorkDir string
}

// Exporter runs the detection-model export pipeline.
type Exporter struct {
	tools *converter.Toolbox
	opts  Options
	model string
}

// New creates an Exporter.
func New(tools *converter.Toolbox, opts Options) *Exporter {
	model := opts.Model
	if model == "" {
		model = tools.Config.YOLO.Model
	}
	if model == "" {
		model = Variants[0].Name
	}

	return &Exporter{
		tools: tools,
		opts:  opts,
		model: NormalizeModelName(model),
	}
}

// Model returns the normalized checkpoint name.
func (e *Exporter) Model() string {
	return e.model
}

// Banner prints the tool header and the list of variants.
func (e *Exporter) Banner() {
	rule := strings.Repeat("=", 60)
	e.tools.Printf("%s\nYOLOv8-seg Model Converter\n%s\n\nAvailable models:\n", rule, rule)
	for _, v := range Variants {
		e.tools.Printf("  - %-15s (%s)\n", v.Name, v.Description)
	}
	e.tools.Printf("\n%s\n\nConverting: %s\n", rule, e.model)
	e.tools.Printf("(This may take a few minutes on first run as it downloads the model)\n\n")
}

// Pipeline returns the export pipeline.
func (e *Exporter) Pipeline() *pipeline.Pipeline {
	return &pipeline.Pipeline{
		Name:    "yolo-export",
		Acquire: e.acquire,
		Load:    e.load,
		Convert: e.convert,
		Verify:  e.verify,
	}
}

// Run executes the pipeline and prints the outcome.
func (e *Exporter) Run(ctx context.Context) (*pipeline.Result, error) {
	res, err := e.Pipeline().Run(ctx)
	if err != nil {
		return res, err
	}

	a := res.Artifact
	e.tools.Printf("\n✓ Success! ONNX model created: %s\n", filepath.Base(a.Path))
	e.tools.Printf("  File size: %s\n", xfs.SizeMB(a.Size))
	report.Tensors(e.tools.Writer(), res.Report)
	e.tools.Printf("\nNext steps:\n")
	e.tools.Printf("  1. Copy '%s' to your models/ directory\n", filepath.Base(a.Path))
	e.tools.Printf("  2. Ensure it's named '%s' (or update the path in code)\n", OutputName(Variants[0].Name))

	return res, nil
}

// requirement is Ultralytics with the configured executable.
func (e *Exporter) requirement() deps.Requirement {
	req := Ultralytics
	if bin := e.tools.Config.Tools.YOLO; bin != "" {
		req.Binary = bin
	}
	return req
}

func (e *Exporter) acquire(ctx context.Context) (string, error) {
	if err := e.tools.Checker().Check(ctx, e.requirement()); err != nil {
		return "", err
	}

	e.tools.Printf("Loading YOLOv8 model: %s\n", e.model)

	if src := e.tools.Config.YOLO.Source; src != nil && e.opts.Model == "" {
		path, cached, err := e.tools.Download(ctx, src)
		if err != nil {
			return "", fmt.Errorf("failed to download checkpoint: %w", err)
		}
		if cached {
			e.tools.Printf("Using cached checkpoint: %s\n", path)
		}
		return path, nil
	}

	e.tools.Printf("Note: This will download the model if it's not already cached.\n")
	return e.model, nil
}

func (e *Exporter) load(_ context.Context, ref string) (*pipeline.Handle, error) {
	origin := "registry"
	if filepath.IsAbs(ref) || strings.ContainsRune(ref, filepath.Separator) {
		if !xfs.Exists(ref) {
			return nil, fmt.Errorf("%w: %s", pipeline.ErrInputNotFound, ref)
		}
		origin = "local"
	}

	return &pipeline.Handle{
		Path:       ref,
		Format:     pipeline.FormatPyTorch,
		Origin:     origin,
		Pretrained: true,
	}, nil
}

// outputPath is where Ultralytics writes the export: next to the checkpoint.
func (e *Exporter) outputPath(h *pipeline.Handle) string {
	name := OutputName(filepath.Base(h.Path))
	if h.Origin == "local" {
		return filepath.Join(filepath.Dir(h.Path), name)
	}
	if e.opts.WorkDir != "" {
		return filepath.Join(e.opts.WorkDir, name)
	}
	return name
}

// buildArgs builds yolo export arguments.
func (e *Exporter) buildArgs(model string) []string {
	cfg := e.tools.Config.YOLO
	return []string{
		"export",
		"model=" + model,
		"format=onnx",
		"imgsz=" + strconv.Itoa(cfg.ImgSz),
		"opset=" + strconv.Itoa(cfg.Opset),
	}
}

func (e *Exporter) convert(ctx context.Context, h *pipeline.Handle) (*pipeline.Artifact, error) {
	tool, err := e.tools.Tool(e.tools.Config.Tools.YOLO, e.requirement())
	if err != nil {
		return nil, err
	}
	if e.opts.WorkDir != "" {
		tool = tool.InDir(e.opts.WorkDir)
	}

	output := e.outputPath(h)
	e.tools.Printf("\nConverting to ONNX format...\n")
	e.tools.Printf("Output file: %s\n", output)

	_, stderr, err := tool.Execute(ctx, e.buildArgs(h.Path), nil)
	if err != nil {
		return nil, converter.CommandError("yolo export", err, stderr)
	}

	if !xfs.Exists(output) {
		return nil, fmt.Errorf("%w: output file %s was not created", pipeline.ErrEmptyArtifact, output)
	}

	return &pipeline.Artifact{Path: output, Format: pipeline.FormatONNX}, nil
}

func (e *Exporter) verify(_ context.Context, a *pipeline.Artifact) (*pipeline.Report, error) {
	return converter.VerifyONNX(a.Path, int64(e.tools.Config.YOLO.Opset))
}
