// Package deps checks that the external tools and Python packages a
// conversion delegates to are installed, and reports how to install them
// when they are not.
package deps

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/ekisa-team/modelconv/internal/executor"
)

const defaultCheckTimeout = 30 * time.Second

// ErrMissing is matched by every *MissingError.
var ErrMissing = errors.New("missing dependency")

// Requirement names one external dependency.
type Requirement struct {
	// Name is the human readable package name, e.g. "ultralytics".
	Name string

	// Binary is an executable that must be on PATH. Optional.
	Binary string

	// PythonModules must be importable by the configured interpreter. Optional.
	PythonModules []string

	// Install is the command that installs the dependency.
	Install string
}

// MissingError reports a dependency that could not be found.
type MissingError struct {
	Requirement Requirement
	Err         error
}

func (e *MissingError) Error() string {
	msg := fmt.Sprintf("%s package not found", e.Requirement.Name)
	if e.Err != nil {
		msg += fmt.Sprintf(" (%v)", e.Err)
	}
	if e.Requirement.Install != "" {
		msg += fmt.Sprintf("\nPlease install it with: %s", e.Requirement.Install)
	}
	return msg
}

func (e *MissingError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrMissing}
	}
	return []error{ErrMissing, e.Err}
}

// Checker resolves requirements against PATH and a Python interpreter.
type Checker struct {
	// Python is the interpreter used to check modules.
	Python string

	// LookPath resolves executables. Defaults to exec.LookPath.
	LookPath func(file string) (string, error)

	// Runner executes the module check.
	Runner executor.CommandRunner

	// Timeout bounds each module check.
	Timeout time.Duration
}

// Resolve returns the absolute path of an executable or a *MissingError.
func (c *Checker) Resolve(binary string, req Requirement) (string, error) {
	lookPath := c.LookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}

	path, err := lookPath(binary)
	if err != nil {
		return "", &MissingError{Requirement: req, Err: err}
	}

	return path, nil
}

// Check verifies every requirement and returns the first failure.
func (c *Checker) Check(ctx context.Context, reqs ...Requirement) error {
	for _, req := range reqs {
		if req.Binary != "" {
			path, err := c.Resolve(req.Binary, req)
			if err != nil {
				return err
			}
			slog.Debug("Found binary", "name", req.Name, "path", path)
		}

		if len(req.PythonModules) > 0 {
			if _, err := c.PythonVersions(ctx, req); err != nil {
				return err
			}
		}
	}

	return nil
}

// PythonVersions imports req.PythonModules and returns their __version__
// strings keyed by module name.
func (c *Checker) PythonVersions(ctx context.Context, req Requirement) (map[string]string, error) {
	python, err := c.Resolve(c.Python, Requirement{
		Name:    "python",
		Install: "install Python 3 and make sure it is on PATH",
	})
	if err != nil {
		return nil, err
	}

	var program strings.Builder
	for _, mod := range req.PythonModules {
		fmt.Fprintf(&program, "import %s\nprint(%q, getattr(%s, '__version__', 'unknown'))\n", mod, mod, mod)
	}

	timeout := c.Timeout
	if timeout == 0 {
		timeout = defaultCheckTimeout
	}
	check := executor.NewWithRunner(python, timeout, c.Runner)

	stdout, stderr, err := check.Execute(ctx, []string{"-"}, strings.NewReader(program.String()))
	if err != nil {
		return nil, &MissingError{Requirement: req, Err: pythonError(err, stderr)}
	}

	versions := make(map[string]string, len(req.PythonModules))
	for _, line := range strings.Split(strings.TrimSpace(string(stdout)), "\n") {
		if mod, version, ok := strings.Cut(line, " "); ok {
			versions[mod] = version
		}
	}

	return versions, nil
}

// pythonError extracts the last line of a Python traceback.
func pythonError(err error, stderr []byte) error {
	lines := strings.Split(strings.TrimSpace(string(stderr)), "\n")
	if last := strings.TrimSpace(lines[len(lines)-1]); last != "" {
		return errors.New(last)
	}
	return err
}
