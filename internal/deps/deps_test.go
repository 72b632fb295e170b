package deps

import (
	"context"
	"errors"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ekisa-team/modelconv/internal/executor"
	"github.com/ekisa-team/modelconv/internal/executor/executortest"
)

func lookPath(found ...string) func(string) (string, error) {
	return func(file string) (string, error) {
		for _, f := range found {
			if f == file {
				return "/usr/bin/" + file, nil
			}
		}
		return "", &exec.Error{Name: file, Err: exec.ErrNotFound}
	}
}

func TestChecker_MissingBinary(t *testing.T) {
	c := &Checker{Python: "python3", LookPath: lookPath()}

	err := c.Check(context.Background(), Requirement{
		Name:    "ultralytics",
		Binary:  "yolo",
		Install: "pip install ultralytics",
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissing)
	assert.ErrorIs(t, err, exec.ErrNotFound)

	var missing *MissingError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, "ultralytics", missing.Requirement.Name)
	assert.Contains(t, err.Error(), "Please install it with: pip install ultralytics")
}

func TestChecker_PythonModules(t *testing.T) {
	runner := new(executortest.MockRunner)
	runner.On("Run", mock.Anything, executortest.Script("/usr/bin/python3", "import tensorflow")).
		Return([]byte("tensorflow 2.16.1\ntensorflow_hub 0.16.1\n"), []byte(""), nil).Once()

	c := &Checker{Python: "python3", LookPath: lookPath("python3"), Runner: runner}

	versions, err := c.PythonVersions(context.Background(), Requirement{
		Name:          "tensorflow",
		PythonModules: []string{"tensorflow", "tensorflow_hub"},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"tensorflow":     "2.16.1",
		"tensorflow_hub": "0.16.1",
	}, versions)

	runner.AssertExpectations(t)
}

func TestChecker_PythonModuleMissing(t *testing.T) {
	runner := new(executortest.MockRunner)
	runner.On("Run", mock.Anything, mock.MatchedBy(func(cmd executor.Command) bool {
		return cmd.Name == "/usr/bin/python3"
	})).Return([]byte(""), []byte("Traceback (most recent call last):\nModuleNotFoundError: No module named 'tensorflow'\n"), errors.New("exit status 1")).Once()

	c := &Checker{Python: "python3", LookPath: lookPath("python3"), Runner: runner}

	err := c.Check(context.Background(), Requirement{
		Name:          "tensorflow",
		PythonModules: []string{"tensorflow"},
		Install:       "pip install tensorflow tensorflow-hub",
	})

	require.ErrorIs(t, err, ErrMissing)
	assert.Contains(t, err.Error(), "No module named 'tensorflow'")
	assert.Contains(t, err.Error(), "pip install tensorflow tensorflow-hub")
}

func TestChecker_MissingPython(t *testing.T) {
	c := &Checker{Python: "python3", LookPath: lookPath()}

	_, err := c.PythonVersions(context.Background(), Requirement{Name: "mediapipe", PythonModules: []string{"mediapipe"}})
	assert.ErrorIs(t, err, ErrMissing)
	assert.Contains(t, err.Error(), "python package not found")
}
