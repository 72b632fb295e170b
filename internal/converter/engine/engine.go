// Package engine builds TensorRT engines from ONNX models with trtexec.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/ekisa-team/modelconv/internal/converter"
	"github.com/ekisa-team/modelconv/internal/deps"
	"github.com/ekisa-team/modelconv/internal/executor"
	"github.com/ekisa-team/modelconv/internal/onnx"
	"github.com/ekisa-team/modelconv/internal/pipeline"
	"github.com/ekisa-team/modelconv/internal/watch"
	"github.com/ekisa-team/modelconv/internal/xfs"
)

const (
	errorTag  = "[E]"
	tailLines = 10
)

// TensorRT is the builder dependency.
var TensorRT = deps.Requirement{
	Name:    "tensorrt",
	Binary:  "trtexec",
	Install: "TensorRT from https://developer.nvidia.com/tensorrt, then add its bin/ directory (which holds trtexec) to PATH",
}

// ParseError carries the errors trtexec reported while parsing or building.
type ParseError struct {
	Messages []string
}

func (e *ParseError) Error() string {
	if len(e.Messages) == 1 {
		return "trtexec reported an error: " + e.Messages[0]
	}
	return fmt.Sprintf("trtexec reported %d errors, first: %s", len(e.Messages), e.Messages[0])
}

// Options configures one build.
type Options struct {
	Input  string
	Output string
}

// Builder runs the engine build pipeline.
type Builder struct {
	tools *converter.Toolbox
	opts  Options
	tool  *executor.Executor
}

// New creates a Builder. Empty options use the configured paths.
func New(tools *converter.Toolbox, opts Options) *Builder {
	if opts.Input == "" {
		opts.Input = tools.Config.Engine.Input
	}
	if opts.Output == "" {
		opts.Output = tools.Config.Engine.Output
	}

	return &Builder{tools: tools, opts: opts}
}

// Pipeline returns the build pipeline. An engine has no verify stage.
func (b *Builder) Pipeline() *pipeline.Pipeline {
	return &pipeline.Pipeline{
		Name:    "engine-build",
		Acquire: b.acquire,
		Load:    b.load,
		Convert: b.convert,
	}
}

// Run executes the pipeline once.
func (b *Builder) Run(ctx context.Context) (*pipeline.Result, error) {
	res, err := b.Pipeline().Run(ctx)
	if err != nil {
		return res, err
	}

	b.tools.Printf("Engine saved to: %s (%s)\n", res.Artifact.Path, xfs.SizeMB(res.Artifact.Size))
	return res, nil
}

// Watch builds once and then rebuilds whenever the input is rewritten, until
// ctx is canceled. Failed builds are reported and do not stop the watch.
func (b *Builder) Watch(ctx context.Context) error {
	rebuild := func(ctx context.Context) {
		if _, err := b.Run(ctx); err != nil {
			b.tools.Printf("✗ Build failed: %v\n", err)
		}
	}

	rebuild(ctx)
	b.tools.Printf("Watching %s for changes (Ctrl+C to stop)...\n", b.opts.Input)

	return watch.New(b.opts.Input, watch.DefaultDebounce, rebuild).Run(ctx)
}

func (b *Builder) acquire(_ context.Context) (string, error) {
	if !xfs.Exists(b.opts.Input) {
		b.tools.Printf("Error: %s not found!\n", b.opts.Input)
		return "", fmt.Errorf("%w: %s", pipeline.ErrInputNotFound, b.opts.Input)
	}

	tool, err := b.tools.Tool(b.tools.Config.Tools.Trtexec, b.requirement())
	if err != nil {
		return "", err
	}
	b.tool = tool

	return b.opts.Input, nil
}

func (b *Builder) requirement() deps.Requirement {
	req := TensorRT
	if bin := b.tools.Config.Tools.Trtexec; bin != "" {
		req.Binary = bin
	}
	return req
}

// load inspects the ONNX graph so that obviously broken inputs fail before
// the builder starts.
func (b *Builder) load(_ context.Context, ref string) (*pipeline.Handle, error) {
	b.tools.Printf("Loading ONNX file: %s\n", ref)

	m, err := onnx.Load(ref)
	if err == nil {
		err = m.Validate()
	}
	if err != nil {
		b.tools.Printf("%v\n", err)
		return nil, &ParseError{Messages: []string{err.Error()}}
	}

	return &pipeline.Handle{
		Path:       ref,
		Format:     pipeline.FormatONNX,
		Origin:     "local",
		Pretrained: true,
		Meta: map[string]string{
			"opset":  strconv.FormatInt(m.OpsetVersion(), 10),
			"inputs": strconv.Itoa(len(m.Inputs)),
		},
	}, nil
}

func (b *Builder) buildArgs(input string) []string {
	cfg := b.tools.Config.Engine
	args := []string{
		"--onnx=" + input,
		"--saveEngine=" + b.opts.Output,
		"--memPoolSize=workspace:" + strconv.Itoa(cfg.WorkspaceMB),
	}
	if cfg.FP16 == nil || *cfg.FP16 {
		args = append(args, "--fp16")
	}
	return args
}

func (b *Builder) convert(ctx context.Context, h *pipeline.Handle) (*pipeline.Artifact, error) {
	if err := xfs.EnsureParentDir(b.opts.Output); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	b.tools.Printf("Building TensorRT engine (this may take a few minutes)...\n")

	lines, err := b.tool.Stream(ctx, b.buildArgs(h.Path), nil)
	if err != nil {
		return nil, err
	}

	var (
		messages []string
		tail     []string
		exitErr  error
	)
	for line := range lines {
		if line.Done {
			exitErr = line.Err
			break
		}

		slog.Debug("trtexec", "line", line.Text)
		tail = append(tail, line.Text)
		if len(tail) > tailLines {
			tail = tail[1:]
		}

		if i := strings.Index(line.Text, errorTag); i >= 0 {
			msg := strings.TrimSpace(line.Text[i+len(errorTag):])
			messages = append(messages, msg)
			b.tools.Printf("%s\n", msg)
		}
	}

	if exitErr != nil {
		if len(messages) > 0 {
			return nil, &ParseError{Messages: messages}
		}
		return nil, converter.CommandError("trtexec", exitErr, []byte(strings.Join(tail, "\n")))
	}

	return &pipeline.Artifact{Path: b.opts.Output, Format: pipeline.FormatTensorRT}, nil
}
