// Package converter holds what the individual conversion pipelines share:
// access to configured external tools, dependency checks, registry
// downloads and console output.
package converter

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"strings"

	"github.com/ekisa-team/modelconv/internal/config"
	"github.com/ekisa-team/modelconv/internal/deps"
	"github.com/ekisa-team/modelconv/internal/executor"
	"github.com/ekisa-team/modelconv/internal/source"
)

// Toolbox wires a pipeline to its external collaborators.
type Toolbox struct {
	Config *config.Config

	// Runner executes external commands. Defaults to os/exec.
	Runner executor.CommandRunner

	// LookPath resolves executables. Defaults to exec.LookPath.
	LookPath func(file string) (string, error)

	// HTTPClient is used for registry downloads.
	HTTPClient *http.Client

	// Out receives console progress lines. Defaults to stdout.
	Out io.Writer
}

// NewToolbox creates a Toolbox backed by the real system.
func NewToolbox(cfg *config.Config, out io.Writer) *Toolbox {
	return &Toolbox{
		Config:   cfg,
		Runner:   executor.ExecCommandRunner{},
		LookPath: exec.LookPath,
		Out:      out,
	}
}

func (t *Toolbox) runner() executor.CommandRunner {
	if t.Runner == nil {
		return executor.ExecCommandRunner{}
	}
	return t.Runner
}

// Printf writes one progress line to the console.
func (t *Toolbox) Printf(format string, args ...any) {
	out := t.Out
	if out == nil {
		out = os.Stdout
	}
	fmt.Fprintf(out, format, args...)
}

// Writer returns the console writer.
func (t *Toolbox) Writer() io.Writer {
	if t.Out == nil {
		return os.Stdout
	}
	return t.Out
}

// Checker returns a dependency checker using the configured Python.
func (t *Toolbox) Checker() *deps.Checker {
	return &deps.Checker{
		Python:   t.Config.Tools.Python,
		LookPath: t.LookPath,
		Runner:   t.runner(),
		Timeout:  t.Config.Tools.CheckTimeout,
	}
}

// Tool resolves binary on PATH and returns an executor for it, or a
// *deps.MissingError describing req.
func (t *Toolbox) Tool(binary string, req deps.Requirement) (*executor.Executor, error) {
	path, err := t.Checker().Resolve(binary, req)
	if err != nil {
		return nil, err
	}

	return executor.NewWithRunner(path, t.Config.Tools.Timeout, t.runner()), nil
}

// Python returns an executor for the configured interpreter after checking
// that req's modules import.
func (t *Toolbox) Python(ctx context.Context, req deps.Requirement) (*executor.Executor, map[string]string, error) {
	checker := t.Checker()

	versions, err := checker.PythonVersions(ctx, req)
	if err != nil {
		return nil, nil, err
	}

	path, err := checker.Resolve(t.Config.Tools.Python, req)
	if err != nil {
		return nil, nil, err
	}

	return executor.NewWithRunner(path, t.Config.Tools.Timeout, t.runner()), versions, nil
}

// Download fetches a configured registry source into the models directory.
func (t *Toolbox) Download(ctx context.Context, src *config.SourceConfig) (string, bool, error) {
	modelSource, err := src.Get()
	if err != nil {
		return "", false, err
	}

	downloader, err := source.GetDownloader(modelSource.Type(), source.Options{
		HFBinary:   t.Config.Tools.HF,
		Runner:     t.runner(),
		HTTPClient: t.HTTPClient,
		Timeout:    t.Config.Tools.Timeout,
	})
	if err != nil {
		return "", false, err
	}

	modelsPath := t.Config.ModelsPath()
	if err := source.EnsureModelsDirectory(modelsPath); err != nil {
		return "", false, fmt.Errorf("failed to prepare models directory %s: %w", modelsPath, err)
	}

	return downloader.Download(ctx, modelSource, modelsPath)
}

// Tail returns the last n lines of tool output.
func Tail(output []byte, n int) string {
	lines := strings.Split(strings.TrimSpace(string(output)), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

// CommandError describes a failed external command with its output tail.
func CommandError(tool string, err error, stderr []byte) error {
	if tail := Tail(stderr, 10); tail != "" {
		return fmt.Errorf("%s failed: %w\n%s", tool, err, tail)
	}
	return fmt.Errorf("%s failed: %w", tool, err)
}
