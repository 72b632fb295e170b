package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.yaml.in/yaml/v3"
)

//go:embed modelconv.v1.schema.json
var embeddedSchema string

// LoadAndValidate loads and validates the configuration. An empty schemaPath
// uses the embedded schema.
func LoadAndValidate(path, schemaPath string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: failed to read config: %w", err)
	}

	return Parse(data, schemaPath)
}

// LoadOrDefault loads path when it exists and falls back to Default otherwise.
func LoadOrDefault(path, schemaPath string) (*Config, error) {
	cfg, err := LoadAndValidate(path, schemaPath)
	if errors.Is(err, fs.ErrNotExist) {
		slog.Debug("No config file, using defaults", "path", path)
		return Default(), nil
	}

	return cfg, err
}

// Parse validates raw YAML against the schema and decodes it. Fields the
// document leaves unset take their default values.
func Parse(data []byte, schemaPath string) (*Config, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("config: invalid YAML: %w", err)
	}

	schema, err := compileSchema(schemaPath)
	if err != nil {
		return nil, fmt.Errorf("config: failed to compile schema: %w", err)
	}

	if err := schema.Validate(raw); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal into Config struct: %w", err)
	}

	config.applyDefaults(Default())

	return &config, nil
}

func compileSchema(schemaPath string) (*jsonschema.Schema, error) {
	if schemaPath != "" {
		return jsonschema.Compile(schemaPath)
	}
	return jsonschema.CompileString(defaultSchemaResourceID, embeddedSchema)
}

// applyDefaults fills every zero field from d.
func (c *Config) applyDefaults(d *Config) {
	setString(&c.Tools.Python, d.Tools.Python)
	setString(&c.Tools.YOLO, d.Tools.YOLO)
	setString(&c.Tools.Trtexec, d.Tools.Trtexec)
	setString(&c.Tools.TFLite2ONNX, d.Tools.TFLite2ONNX)
	setString(&c.Tools.HF, d.Tools.HF)
	if c.Tools.Timeout == 0 {
		c.Tools.Timeout = d.Tools.Timeout
	}
	if c.Tools.CheckTimeout == 0 {
		c.Tools.CheckTimeout = d.Tools.CheckTimeout
	}

	setString(&c.YOLO.Model, d.YOLO.Model)
	setInt(&c.YOLO.ImgSz, d.YOLO.ImgSz)
	setInt(&c.YOLO.Opset, d.YOLO.Opset)

	setString(&c.Segmentation.Output, d.Segmentation.Output)
	if c.Segmentation.Source == nil {
		c.Segmentation.Source = d.Segmentation.Source
	}
	if c.Segmentation.Verify == nil {
		c.Segmentation.Verify = d.Segmentation.Verify
	}

	setString(&c.Engine.Input, d.Engine.Input)
	setString(&c.Engine.Output, d.Engine.Output)
	setInt(&c.Engine.WorkspaceMB, d.Engine.WorkspaceMB)
	if c.Engine.FP16 == nil {
		c.Engine.FP16 = d.Engine.FP16
	}

	setString(&c.Hands.Variant, d.Hands.Variant)
	setString(&c.Hands.Output, d.Hands.Output)
}

func setString(dst *string, v string) {
	if *dst == "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if *dst == 0 {
		*dst = v
	}
}
