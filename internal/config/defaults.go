package config

import (
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/ekisa-team/modelconv/internal/envvar"
	"github.com/ekisa-team/modelconv/internal/xfs"
)

// Defaults used when neither a config file nor a flag sets a value.
const (
	DefaultYOLOModel        = "yolov8n-seg.pt"
	DefaultYOLOImgSz        = 640
	DefaultYOLOOpset        = 11
	DefaultSegmentationURL  = "https://tfhub.dev/tensorflow/deeplabv3/1?tf-hub-format=compressed"
	DefaultSegmentationOut  = "deeplabv3.tflite"
	DefaultEngineInput      = "models/yolov8n.onnx"
	DefaultEngineOutput     = "models/yolov8n_fp16.engine"
	DefaultEngineWorkspace  = 4096
	DefaultHandsVariant     = "full"
	DefaultToolTimeout      = 30 * time.Minute
	DefaultCheckTimeout     = 30 * time.Second
	defaultConfigFilename   = "config.yaml"
	defaultApplicationName  = "modelconv"
	defaultSchemaResourceID = "modelconv.v1.schema.json"
)

// Default returns the configuration used when no config file exists.
func Default() *Config {
	fp16 := true
	verify := true

	return &Config{
		Version: "1",
		Tools: ToolsConfig{
			Python:       "python3",
			YOLO:         "yolo",
			Trtexec:      "trtexec",
			TFLite2ONNX:  "tflite2onnx",
			HF:           "hf",
			Timeout:      DefaultToolTimeout,
			CheckTimeout: DefaultCheckTimeout,
		},
		YOLO: YOLOConfig{
			Model: DefaultYOLOModel,
			ImgSz: DefaultYOLOImgSz,
			Opset: DefaultYOLOOpset,
		},
		Segmentation: SegmentationConfig{
			Output: DefaultSegmentationOut,
			Source: &SourceConfig{
				Archive: &ArchiveSource{URL: DefaultSegmentationURL, Name: "deeplabv3"},
			},
			Verify: &verify,
		},
		Engine: EngineConfig{
			Input:       DefaultEngineInput,
			Output:      DefaultEngineOutput,
			WorkspaceMB: DefaultEngineWorkspace,
			FP16:        &fp16,
		},
		Hands: HandsConfig{
			Variant: DefaultHandsVariant,
		},
	}
}

// DefaultConfigPath returns the default path for the modelconv config directory.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", defaultApplicationName, "config")
	}

	switch runtime.GOOS {
	case "windows":
		return filepath.Join(home, "AppData", "Roaming", defaultApplicationName)
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", defaultApplicationName)
	default: // Linux, BSD, etc.
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			return filepath.Join(xdg, defaultApplicationName)
		}
		return filepath.Join(home, ".config", defaultApplicationName)
	}
}

// DefaultConfigFile returns the config file path: MODELCONV_CONFIG if set,
// otherwise config.yaml in DefaultConfigPath.
func DefaultConfigFile() string {
	if p := os.Getenv(envvar.ModelconvConfig); p != "" {
		return xfs.ExpandTilde(p)
	}
	return filepath.Join(DefaultConfigPath(), defaultConfigFilename)
}

// DefaultModelsPath returns the default path for the models cache directory.
func DefaultModelsPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", defaultApplicationName, "models")
	}

	switch runtime.GOOS {
	case "windows":
		return filepath.Join(home, "AppData", "Local", defaultApplicationName, "models")
	case "darwin":
		return filepath.Join(home, "Library", "Caches", defaultApplicationName, "models")
	default: // Linux, BSD, etc.
		if xdg := os.Getenv("XDG_CACHE_HOME"); xdg != "" {
			return filepath.Join(xdg, defaultApplicationName, "models")
		}
		return filepath.Join(home, ".cache", defaultApplicationName, "models")
	}
}

// ModelsPath returns the path to the models directory.
// Precedence:
// 1. MODELCONV_MODELS_PATH environment variable.
// 2. ModelsDir field in the config.
// 3. Default models path.
func (c *Config) ModelsPath() string {
	if p := os.Getenv(envvar.ModelconvModelsPath); p != "" {
		return xfs.ExpandTilde(p)
	}
	if c.Storage.ModelsDir != "" {
		return xfs.ExpandTilde(c.Storage.ModelsDir)
	}
	return xfs.ExpandTilde(DefaultModelsPath())
}
