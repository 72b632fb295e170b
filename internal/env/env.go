package env

import (
	"os"
	"strings"

	"github.com/ekisa-team/modelconv/internal/envvar"
)

// Environment is the runtime environment the tools run in.
type Environment string

const (
	// Development enables colored, debug-level console logs.
	Development Environment = "development"

	// Production logs at info level without color.
	Production Environment = "production"

	// Test is used by package tests.
	Test Environment = "test"
)

// FromEnv reads the environment from MODELCONV_ENV, defaulting to Development.
func FromEnv() Environment {
	return Parse(os.Getenv(envvar.ModelconvEnv))
}

// Parse converts a raw value into an Environment. Unknown values map to Development.
func Parse(raw string) Environment {
	switch Environment(strings.ToLower(strings.TrimSpace(raw))) {
	case Production, "prod":
		return Production
	case Test:
		return Test
	default:
		return Development
	}
}

// IsProduction reports whether e is the production environment.
func (e Environment) IsProduction() bool {
	return e == Production
}
