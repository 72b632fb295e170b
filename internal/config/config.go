package config

import (
	"errors"
	"time"
)

// SourceType represents the type of model source.
type SourceType string

const (
	// SourceTypeHuggingFace represents a Hugging Face model repository source.
	SourceTypeHuggingFace SourceType = "huggingface"

	// SourceTypeArchive represents a compressed archive served over HTTP.
	SourceTypeArchive SourceType = "archive"
)

// Config holds the configuration shared by all conversion tools.
type Config struct {
	Version      string             `json:"version"                yaml:"version"`
	Storage      StorageConfig      `json:"storage,omitempty"      yaml:"storage,omitempty"`
	Tools        ToolsConfig        `json:"tools,omitempty"        yaml:"tools,omitempty"`
	YOLO         YOLOConfig         `json:"yolo,omitempty"         yaml:"yolo,omitempty"`
	Segmentation SegmentationConfig `json:"segmentation,omitempty" yaml:"segmentation,omitempty"`
	Engine       EngineConfig       `json:"engine,omitempty"       yaml:"engine,omitempty"`
	Hands        HandsConfig        `json:"hands,omitempty"        yaml:"hands,omitempty"`
}

// StorageConfig holds configuration for the download cache.
type StorageConfig struct {
	ModelsDir string `json:"models_dir,omitempty" yaml:"models_dir,omitempty"`
}

// ToolsConfig names the external executables and how long they may run.
type ToolsConfig struct {
	Python       string        `json:"python,omitempty"        yaml:"python,omitempty"`
	YOLO         string        `json:"yolo,omitempty"          yaml:"yolo,omitempty"`
	Trtexec      string        `json:"trtexec,omitempty"       yaml:"trtexec,omitempty"`
	TFLite2ONNX  string        `json:"tflite2onnx,omitempty"   yaml:"tflite2onnx,omitempty"`
	HF           string        `json:"hf,omitempty"            yaml:"hf,omitempty"`
	Timeout      time.Duration `json:"timeout,omitempty"       yaml:"timeout,omitempty"`
	CheckTimeout time.Duration `json:"check_timeout,omitempty" yaml:"check_timeout,omitempty"`
}

// YOLOConfig holds the detection-model export options.
type YOLOConfig struct {
	Model  string        `json:"model,omitempty"  yaml:"model,omitempty"`
	ImgSz  int           `json:"imgsz,omitempty"  yaml:"imgsz,omitempty"`
	Opset  int           `json:"opset,omitempty"  yaml:"opset,omitempty"`
	Source *SourceConfig `json:"source,omitempty" yaml:"source,omitempty"`
}

// SegmentationConfig holds the mobile segmentation conversion options.
type SegmentationConfig struct {
	Output string        `json:"output,omitempty" yaml:"output,omitempty"`
	Source *SourceConfig `json:"source,omitempty" yaml:"source,omitempty"`
	Verify *bool         `json:"verify,omitempty" yaml:"verify,omitempty"`
}

// EngineConfig holds the TensorRT engine build options.
type EngineConfig struct {
	Input       string `json:"input,omitempty"        yaml:"input,omitempty"`
	Output      string `json:"output,omitempty"       yaml:"output,omitempty"`
	WorkspaceMB int    `json:"workspace_mb,omitempty" yaml:"workspace_mb,omitempty"`
	FP16        *bool  `json:"fp16,omitempty"         yaml:"fp16,omitempty"`
}

// HandsConfig holds the hand-landmark export options.
type HandsConfig struct {
	Variant string `json:"variant,omitempty" yaml:"variant,omitempty"`
	Output  string `json:"output,omitempty"  yaml:"output,omitempty"`
}

// SourceConfig wraps optional sources (only one should be set).
type SourceConfig struct {
	HuggingFace *HuggingFaceSource `json:"huggingface,omitempty" yaml:"huggingface,omitempty"`
	Archive     *ArchiveSource     `json:"archive,omitempty"     yaml:"archive,omitempty"`
}

// -------------------------
// Source definitions
// -------------------------

// ModelSource represents a source for a model.
type ModelSource interface {
	Type() SourceType
}

// HuggingFaceSource represents a Hugging Face model repository source.
type HuggingFaceSource struct {
	Repo          string   `json:"repo"                     yaml:"repo"`
	Revision      string   `json:"revision,omitempty"       yaml:"revision,omitempty"`
	RepoType      string   `json:"repo_type,omitempty"      yaml:"repo_type,omitempty"`
	Token         string   `json:"token,omitempty"          yaml:"token,omitempty"`
	Include       []string `json:"include,omitempty"        yaml:"include,omitempty"`
	Exclude       []string `json:"exclude,omitempty"        yaml:"exclude,omitempty"`
	File          string   `json:"file,omitempty"           yaml:"file,omitempty"`
	ForceDownload bool     `json:"force_download,omitempty" yaml:"force_download,omitempty"`
}

// Type returns the Hugging Face source type.
func (h HuggingFaceSource) Type() SourceType {
	return SourceTypeHuggingFace
}

// ArchiveSource is a .tar.gz archive, e.g. a TF Hub SavedModel.
type ArchiveSource struct {
	URL  string `json:"url"            yaml:"url"`
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
}

// Type returns the archive source type.
func (a ArchiveSource) Type() SourceType {
	return SourceTypeArchive
}

// Get returns the active source.
func (s *SourceConfig) Get() (ModelSource, error) {
	if s == nil {
		return nil, errors.New("no source configured for model")
	}
	if s.HuggingFace != nil {
		return *s.HuggingFace, nil
	}
	if s.Archive != nil {
		return *s.Archive, nil
	}

	return nil, errors.New("no source configured for model")
}
