package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ekisa-team/modelconv/internal/xfs"
)

// State is a step of the conversion state machine.
type State string

const (
	// StateStart is the initial state.
	StateStart State = "start"

	// StateAcquired indicates that the source model is available.
	StateAcquired State = "acquired"

	// StateLoaded indicates that a model handle was created.
	StateLoaded State = "loaded"

	// StateConverted indicates that the target artifact was written.
	StateConverted State = "converted"

	// StateVerified indicates that the artifact passed its smoke test.
	StateVerified State = "verified"

	// StateDone is the terminal success state.
	StateDone State = "done"

	// StateFailed is the terminal failure state.
	StateFailed State = "failed"
)

// Error definitions for the pipeline package.
var (
	ErrInputNotFound = errors.New("input not found")
	ErrEmptyArtifact = errors.New("conversion produced no output")
	ErrNoAcquire     = errors.New("pipeline has no acquire stage")
	ErrNoConvert     = errors.New("pipeline has no convert stage")
)

// Format identifies a model serialization format.
type Format string

const (
	FormatPyTorch    Format = "pytorch"
	FormatONNX       Format = "onnx"
	FormatSavedModel Format = "saved_model"
	FormatTFLite     Format = "tflite"
	FormatTensorRT   Format = "tensorrt"
)

// Handle is a loaded source model.
type Handle struct {
	// Path is the file, directory or registry name the model was loaded from.
	Path string

	Format Format

	// Origin names how the model was obtained, e.g. "registry" or "unet".
	Origin string

	// Pretrained is false for randomly initialized placeholder networks.
	Pretrained bool

	Meta map[string]string
}

// Artifact is the output of a conversion.
type Artifact struct {
	Path   string
	Format Format
	Size   int64
}

// Tensor describes one model input or output.
type Tensor struct {
	Name  string
	Shape []int64
	DType string
}

// Report is the result of a verification.
type Report struct {
	Inputs  []Tensor
	Outputs []Tensor
	Notes   map[string]string
}

// Stages of a pipeline. Load and Verify are optional.
type (
	AcquireFunc func(ctx context.Context) (string, error)
	LoadFunc    func(ctx context.Context, ref string) (*Handle, error)
	ConvertFunc func(ctx context.Context, h *Handle) (*Artifact, error)
	VerifyFunc  func(ctx context.Context, a *Artifact) (*Report, error)
)

// Pipeline runs Acquire → Load → Convert → [Verify].
type Pipeline struct {
	Name    string
	Acquire AcquireFunc
	Load    LoadFunc
	Convert ConvertFunc
	Verify  VerifyFunc
}

// Result records a pipeline run.
type Result struct {
	State    State
	Trace    []State
	Handle   *Handle
	Artifact *Artifact
	Report   *Report
	Elapsed  time.Duration
}

func (r *Result) enter(s State) {
	r.State = s
	r.Trace = append(r.Trace, s)
}

// StageError is returned when a stage fails. Stage is the state the
// pipeline was in when the failing stage started.
type StageError struct {
	Stage State
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", stageName(e.Stage), e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func stageName(s State) string {
	switch s {
	case StateStart:
		return "acquire"
	case StateAcquired:
		return "load"
	case StateLoaded:
		return "convert"
	case StateConverted:
		return "verify"
	default:
		return string(s)
	}
}

// Run executes the pipeline. The returned Result is never nil; on failure
// its State is StateFailed and the error is a *StageError.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	start := time.Now()
	res := &Result{}
	res.enter(StateStart)

	log := slog.With("pipeline", p.Name)

	fail := func(err error) (*Result, error) {
		stage := res.State
		res.enter(StateFailed)
		res.Elapsed = time.Since(start)
		log.Error("Pipeline failed", "stage", stageName(stage), "error", err)
		return res, &StageError{Stage: stage, Err: err}
	}

	if p.Acquire == nil {
		return fail(ErrNoAcquire)
	}
	if p.Convert == nil {
		return fail(ErrNoConvert)
	}

	ref, err := p.Acquire(ctx)
	if err != nil {
		return fail(err)
	}
	res.enter(StateAcquired)
	log.Info("Source acquired", "ref", ref)

	handle := &Handle{Path: ref, Pretrained: true}
	if p.Load != nil {
		if handle, err = p.Load(ctx, ref); err != nil {
			return fail(err)
		}
	}
	res.Handle = handle
	res.enter(StateLoaded)
	if !handle.Pretrained {
		log.Warn("Model is not pretrained; the exported artifact has random weights", "origin", handle.Origin)
	}
	log.Info("Model loaded", "path", handle.Path, "format", handle.Format, "origin", handle.Origin)

	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	artifact, err := p.Convert(ctx, handle)
	if err != nil {
		return fail(err)
	}
	if artifact == nil {
		return fail(ErrEmptyArtifact)
	}
	size, err := xfs.NonEmptySize(artifact.Path)
	if err != nil {
		return fail(fmt.Errorf("%w: %w", ErrEmptyArtifact, err))
	}
	artifact.Size = size
	res.Artifact = artifact
	res.enter(StateConverted)
	log.Info("Model converted", "path", artifact.Path, "format", artifact.Format, "bytes", size)

	if p.Verify != nil {
		report, err := p.Verify(ctx, artifact)
		if err != nil {
			return fail(err)
		}
		res.Report = report
		res.enter(StateVerified)
		log.Info("Artifact verified", "path", artifact.Path)
	}

	res.enter(StateDone)
	res.Elapsed = time.Since(start)
	log.Info("Pipeline finished", "elapsed", res.Elapsed)

	return res, nil
}
