// Package tflite converts a semantic segmentation SavedModel to TensorFlow
// Lite. The model comes from the registry when available and otherwise from
// one of two hand-built networks.
package tflite

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/ekisa-team/modelconv/internal/converter"
	"github.com/ekisa-team/modelconv/internal/deps"
	"github.com/ekisa-team/modelconv/internal/executor"
	"github.com/ekisa-team/modelconv/internal/pipeline"
	"github.com/ekisa-team/modelconv/internal/report"
	"github.com/ekisa-team/modelconv/internal/xfs"
)

// Fallback attempt names, in order.
const (
	AttemptRegistry = "registry"
	AttemptUNet     = "unet"
	AttemptMinimal  = "minimal"
)

const (
	savedModelFile  = "saved_model.pb"
	quietTensorFlow = "TF_CPP_MIN_LOG_LEVEL=2"
	fileIdentifier  = "TFL3"
)

var (
	//go:embed scripts/unet.py
	unetScript string

	//go:embed scripts/minimal.py
	minimalScript string

	//go:embed scripts/convert.py
	convertScript string

	//go:embed scripts/smoke.py
	smokeScript string
)

// ErrNotTFLite is returned when the output lacks the TFLite file identifier.
var ErrNotTFLite = errors.New("output is not a TFLite flatbuffer")

// TensorFlow is the conversion dependency.
var TensorFlow = deps.Requirement{
	Name:          "tensorflow",
	PythonModules: []string{"tensorflow"},
	Install:       "pip install tensorflow tensorflow-hub",
}

// TensorFlowHub is only reported; the registry download does not need it.
var TensorFlowHub = deps.Requirement{
	Name:          "tensorflow_hub",
	PythonModules: []string{"tensorflow_hub"},
	Install:       "pip install tensorflow-hub",
}

// Options configures one conversion.
type Options struct {
	// Output is the .tflite path. Empty uses the configured default.
	Output string

	// WorkDir holds the SavedModels of the hand-built networks.
	// Empty uses a temporary directory.
	WorkDir string
}

// Converter runs the segmentation-model conversion pipeline.
type Converter struct {
	tools *converter.Toolbox
	opts  Options

	python  *executor.Executor
	origin  string
	tempDir string
}

// New creates a Converter.
func New(tools *converter.Toolbox, opts Options) *Converter {
	if opts.Output == "" {
		opts.Output = tools.Config.Segmentation.Output
	}

	return &Converter{tools: tools, opts: opts}
}

// Output returns the .tflite path the converter writes.
func (c *Converter) Output() string {
	return c.opts.Output
}

// Pipeline returns the conversion pipeline.
func (c *Converter) Pipeline() *pipeline.Pipeline {
	p := &pipeline.Pipeline{
		Name:    "tflite-convert",
		Acquire: c.acquire,
		Load:    c.load,
		Convert: c.convert,
		Verify:  c.verify,
	}
	if v := c.tools.Config.Segmentation.Verify; v != nil && !*v {
		p.Verify = c.checkIdentifier
	}
	return p
}

// Run executes the pipeline and prints the outcome.
func (c *Converter) Run(ctx context.Context) (*pipeline.Result, error) {
	rule := strings.Repeat("=", 40)
	c.tools.Printf("TensorFlow Lite DeepLabv3 Model Converter\n%s\n", rule)
	defer c.removeTempDir()

	res, err := c.Pipeline().Run(ctx)
	if err != nil {
		return res, err
	}

	c.tools.Printf("\n%s\nSUCCESS! Model conversion completed.\n", rule)
	c.tools.Printf("Model file: %s (%s)\n", res.Artifact.Path, xfs.SizeMB(res.Artifact.Size))
	if !res.Handle.Pretrained {
		c.tools.Printf("⚠ Warning: the %q network is untrained; its predictions are meaningless.\n", res.Handle.Origin)
	}
	report.Tensors(c.tools.Writer(), res.Report)
	c.tools.Printf("\nNext steps:\n")
	c.tools.Printf("1. Copy the .tflite file to your application directory\n")
	c.tools.Printf("2. Load it from the segmentation view\n")

	return res, nil
}

func (c *Converter) acquire(ctx context.Context) (string, error) {
	python, versions, err := c.tools.Python(ctx, TensorFlow)
	if err != nil {
		return "", err
	}
	c.python = python.WithEnv(quietTensorFlow)
	c.tools.Printf("TensorFlow version: %s\n", versions["tensorflow"])

	if hub, err := c.tools.Checker().PythonVersions(ctx, TensorFlowHub); err != nil {
		c.tools.Printf("Warning: TensorFlow Hub import failed: %v\n", err)
	} else {
		c.tools.Printf("TensorFlow Hub version: %s\n", hub["tensorflow_hub"])
	}

	path, origin, err := pipeline.First(ctx,
		pipeline.Attempt[string]{Name: AttemptRegistry, Run: c.fromRegistry},
		pipeline.Attempt[string]{Name: AttemptUNet, Run: c.build(AttemptUNet, unetScript)},
		pipeline.Attempt[string]{Name: AttemptMinimal, Run: c.build(AttemptMinimal, minimalScript)},
	)
	if err != nil {
		return "", fmt.Errorf("no segmentation model available: %w", err)
	}
	c.origin = origin

	return path, nil
}

func (c *Converter) fromRegistry(ctx context.Context) (string, error) {
	c.tools.Printf("Downloading DeepLabv3 model from TensorFlow Hub...\n")

	path, cached, err := c.tools.Download(ctx, c.tools.Config.Segmentation.Source)
	if err != nil {
		c.tools.Printf("Error downloading model: %v\n", err)
		return "", err
	}
	if !xfs.Exists(filepath.Join(path, savedModelFile)) {
		return "", fmt.Errorf("%s has no %s", path, savedModelFile)
	}

	if cached {
		c.tools.Printf("Using cached model: %s\n", path)
	} else {
		c.tools.Printf("Model downloaded successfully!\n")
	}
	return path, nil
}

// build returns an attempt that runs a network-building script.
func (c *Converter) build(name, script string) func(ctx context.Context) (string, error) {
	return func(ctx context.Context) (string, error) {
		c.tools.Printf("Creating %s segmentation model as fallback...\n", name)

		dir, err := c.workDir()
		if err != nil {
			return "", err
		}
		out := filepath.Join(dir, name+"_saved_model")

		_, stderr, err := c.python.Execute(ctx, []string{"-", out}, strings.NewReader(script))
		if err != nil {
			err = converter.CommandError("build "+name, err, stderr)
			c.tools.Printf("Error creating %s model: %v\n", name, err)
			return "", err
		}

		c.tools.Printf("⚠ Created an untrained %s network; predictions will be meaningless.\n", name)
		return out, nil
	}
}

func (c *Converter) workDir() (string, error) {
	if c.opts.WorkDir != "" {
		return c.opts.WorkDir, os.MkdirAll(c.opts.WorkDir, 0o755)
	}

	if c.tempDir != "" {
		return c.tempDir, nil
	}

	dir, err := os.MkdirTemp("", "modelconv-tflite-")
	if err != nil {
		return "", err
	}
	c.tempDir = dir
	return dir, nil
}

// removeTempDir deletes the intermediate SavedModels of a run that used a
// temporary work directory. The .tflite output is never inside it.
func (c *Converter) removeTempDir() {
	if c.tempDir == "" {
		return
	}
	if err := os.RemoveAll(c.tempDir); err != nil {
		slog.Warn("Failed to remove work directory", "path", c.tempDir, "error", err)
	}
	c.tempDir = ""
}

func (c *Converter) load(_ context.Context, ref string) (*pipeline.Handle, error) {
	if !xfs.Exists(filepath.Join(ref, savedModelFile)) {
		return nil, fmt.Errorf("%w: %s", pipeline.ErrInputNotFound, filepath.Join(ref, savedModelFile))
	}

	return &pipeline.Handle{
		Path:       ref,
		Format:     pipeline.FormatSavedModel,
		Origin:     c.origin,
		Pretrained: c.origin == AttemptRegistry,
	}, nil
}

func (c *Converter) convert(ctx context.Context, h *pipeline.Handle) (*pipeline.Artifact, error) {
	c.tools.Printf("Converting model to TensorFlow Lite format...\n")

	if err := xfs.EnsureParentDir(c.opts.Output); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	_, stderr, err := c.python.Execute(ctx, []string{"-", h.Path, c.opts.Output}, strings.NewReader(convertScript))
	if err != nil {
		return nil, converter.CommandError("tflite conversion", err, stderr)
	}

	c.tools.Printf("Model saved to: %s\n", c.opts.Output)
	return &pipeline.Artifact{Path: c.opts.Output, Format: pipeline.FormatTFLite}, nil
}

// checkIdentifier reads the flatbuffer file identifier at bytes 4..8.
func (c *Converter) checkIdentifier(_ context.Context, a *pipeline.Artifact) (*pipeline.Report, error) {
	f, err := os.Open(a.Path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	head := make([]byte, 8)
	if _, err := io.ReadFull(f, head); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotTFLite, err)
	}
	if !bytes.Equal(head[4:8], []byte(fileIdentifier)) {
		return nil, fmt.Errorf("%w: identifier %q", ErrNotTFLite, head[4:8])
	}

	return &pipeline.Report{Notes: map[string]string{"identifier": fileIdentifier}}, nil
}

type tensorDetail struct {
	Name  string  `json:"name"`
	Shape []int64 `json:"shape"`
	DType string  `json:"dtype"`
}

type smokeResult struct {
	Inputs  []tensorDetail `json:"inputs"`
	Outputs []tensorDetail `json:"outputs"`
}

func (c *Converter) verify(ctx context.Context, a *pipeline.Artifact) (*pipeline.Report, error) {
	r, err := c.checkIdentifier(ctx, a)
	if err != nil {
		return nil, err
	}

	c.tools.Printf("Testing converted model...\n")
	stdout, stderr, err := c.python.Execute(ctx, []string{"-", a.Path}, strings.NewReader(smokeScript))
	if err != nil {
		return nil, converter.CommandError("tflite smoke test", err, stderr)
	}

	res, err := parseSmoke(stdout)
	if err != nil {
		return nil, err
	}

	for _, d := range res.Inputs {
		r.Inputs = append(r.Inputs, pipeline.Tensor{Name: d.Name, Shape: d.Shape, DType: d.DType})
	}
	for _, d := range res.Outputs {
		r.Outputs = append(r.Outputs, pipeline.Tensor{Name: d.Name, Shape: d.Shape, DType: d.DType})
	}
	if len(res.Outputs) > 0 {
		c.tools.Printf("Output shape: %s\n", report.Shape(res.Outputs[0].Shape))
	}
	c.tools.Printf("Model test successful!\n")

	return r, nil
}

// parseSmoke decodes the last JSON line of the smoke-test output; the
// interpreter may print its own banner lines before it.
func parseSmoke(stdout []byte) (*smokeResult, error) {
	lines := strings.Split(strings.TrimSpace(string(stdout)), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if !strings.HasPrefix(line, "{") {
			continue
		}

		var res smokeResult
		if err := json.Unmarshal([]byte(line), &res); err != nil {
			return nil, fmt.Errorf("failed to parse smoke test output: %w", err)
		}
		if len(res.Inputs) == 0 || len(res.Outputs) == 0 {
			return nil, errors.New("smoke test reported no input or output tensors")
		}
		return &res, nil
	}

	return nil, fmt.Errorf("smoke test printed no result: %q", converter.Tail(stdout, 3))
}
