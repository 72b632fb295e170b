package source

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/ekisa-team/modelconv/internal/config"
	"github.com/ekisa-team/modelconv/internal/executor"
)

const markerFilename = ".modelconv-downloaded"

// Downloader fetches a registry-hosted model into a local cache directory.
// It returns the local path, whether it was served from cache, and an error.
type Downloader interface {
	Download(ctx context.Context, src config.ModelSource, targetDir string) (string, bool, error)
}

// Options configures the downloaders returned by GetDownloader.
type Options struct {
	// HFBinary is the Hugging Face CLI executable.
	HFBinary string

	// Runner executes the Hugging Face CLI.
	Runner executor.CommandRunner

	// HTTPClient is used for archive downloads.
	HTTPClient *http.Client

	// Timeout bounds one download.
	Timeout time.Duration
}

// GetDownloader returns the downloader for a source type.
func GetDownloader(sourceType config.SourceType, opts Options) (Downloader, error) {
	if opts.Timeout == 0 {
		opts.Timeout = config.DefaultToolTimeout
	}

	switch sourceType {
	case config.SourceTypeHuggingFace:
		runner := opts.Runner
		if runner == nil {
			runner = executor.ExecCommandRunner{}
		}
		binary := opts.HFBinary
		if binary == "" {
			binary = "hf"
		}
		return &HuggingFaceDownloader{
			executor: executor.NewWithRunner(binary, opts.Timeout, runner),
		}, nil
	case config.SourceTypeArchive:
		client := opts.HTTPClient
		if client == nil {
			client = &http.Client{Timeout: opts.Timeout}
		}
		return &ArchiveDownloader{client: client}, nil
	default:
		return nil, fmt.Errorf("unsupported source type: %q", sourceType)
	}
}

// EnsureModelsDirectory creates the models cache directory.
func EnsureModelsDirectory(path string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return err
	}

	slog.Debug("Models directory ready", "path", path)
	return nil
}

// shouldRedownload checks if the model should be redownloaded by comparing marker content.
func shouldRedownload(markerPath, expectedContent string) bool {
	content, err := os.ReadFile(markerPath)
	if err != nil {
		slog.Debug("Marker file missing or unreadable", "path", markerPath, "error", err)
		return true
	}

	if string(content) != expectedContent {
		slog.Info("Model source changed (marker mismatch), will redownload",
			"marker_path", markerPath,
			"expected_snippet", expectedContent,
			"actual_snippet", string(content))
		return true
	}

	return false
}

func writeMarker(markerPath, content string) {
	if err := os.WriteFile(markerPath, []byte(content), 0o644); err != nil {
		slog.Warn("Failed to write download marker", "path", markerPath, "error", err)
		return
	}
	slog.Debug("Download marker updated", "path", markerPath)
}
