package env

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ekisa-team/modelconv/internal/envvar"
)

func TestParse(t *testing.T) {
	tests := []struct {
		raw  string
		want Environment
	}{
		{"", Development},
		{"development", Development},
		{"PRODUCTION", Production},
		{" prod ", Production},
		{"test", Test},
		{"staging", Development},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, Parse(tt.raw))
		})
	}
}

func TestFromEnv(t *testing.T) {
	t.Setenv(envvar.ModelconvEnv, "production")
	assert.True(t, FromEnv().IsProduction())
}
