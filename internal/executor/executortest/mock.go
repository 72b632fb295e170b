// Package executortest provides a testify mock of executor.CommandRunner.
package executortest

import (
	"context"
	"io"
	"strings"

	"github.com/stretchr/testify/mock"

	"github.com/ekisa-team/modelconv/internal/executor"
)

// MockRunner is a mock executor.CommandRunner.
type MockRunner struct {
	mock.Mock
}

// Run records the call and returns the configured stdout, stderr and error.
func (m *MockRunner) Run(ctx context.Context, cmd executor.Command) ([]byte, []byte, error) {
	args := m.Called(ctx, cmd)

	var stdout, stderr []byte
	if b, ok := args.Get(0).([]byte); ok {
		stdout = b
	}
	if b, ok := args.Get(1).([]byte); ok {
		stderr = b
	}

	return stdout, stderr, args.Error(2)
}

// Start records the call. The first two return values are strings that are
// served as stdout and stderr; the third is the error returned by wait.
func (m *MockRunner) Start(ctx context.Context, cmd executor.Command) (io.ReadCloser, io.ReadCloser, func() error, error) {
	args := m.Called(ctx, cmd)
	if err := args.Error(3); err != nil {
		return nil, nil, nil, err
	}

	waitErr := args.Error(2)
	stdout := io.NopCloser(strings.NewReader(args.String(0)))
	stderr := io.NopCloser(strings.NewReader(args.String(1)))

	return stdout, stderr, func() error { return waitErr }, nil
}

// Binary matches a Command by executable name.
func Binary(name string) any {
	return mock.MatchedBy(func(cmd executor.Command) bool {
		return cmd.Name == name
	})
}

// BinaryWithArg matches a Command by executable name and one of its arguments.
func BinaryWithArg(name, arg string) any {
	return mock.MatchedBy(func(cmd executor.Command) bool {
		if cmd.Name != name {
			return false
		}
		for _, a := range cmd.Args {
			if a == arg {
				return true
			}
		}
		return false
	})
}

// Script matches a Python invocation whose stdin program contains marker.
// Only *strings.Reader stdin is inspected; it is read through a copy so the
// matcher can run any number of times.
func Script(python, marker string) any {
	return mock.MatchedBy(func(cmd executor.Command) bool {
		if cmd.Name != python {
			return false
		}
		sr, ok := cmd.Stdin.(*strings.Reader)
		if !ok {
			return false
		}
		c := *sr
		data, err := io.ReadAll(&c)
		if err != nil {
			return false
		}
		return strings.Contains(string(data), marker)
	})
}
