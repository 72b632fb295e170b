package source

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/ekisa-team/modelconv/internal/config"
	"github.com/ekisa-team/modelconv/internal/executor"
)

// HuggingFaceDownloader downloads a model repository with the hf CLI.
type HuggingFaceDownloader struct {
	executor *executor.Executor
}

// Download downloads a Hugging Face repository to the local cache. When the
// source names a File, the returned path points at that file.
func (d *HuggingFaceDownloader) Download(ctx context.Context, src config.ModelSource, targetDir string) (string, bool, error) {
	hfSource, ok := src.(config.HuggingFaceSource)
	if !ok {
		return "", false, fmt.Errorf("invalid source type: %T", src)
	}

	repo := strings.TrimSpace(hfSource.Repo)
	if repo == "" {
		return "", false, fmt.Errorf("invalid repo name: %q", hfSource.Repo)
	}

	fullPath := filepath.Join(targetDir, repo)
	markerPath := filepath.Join(fullPath, markerFilename)
	markerContent := d.markerContent(repo, hfSource.Revision, hfSource.File)
	result := fullPath
	if hfSource.File != "" {
		result = filepath.Join(fullPath, hfSource.File)
	}

	if !hfSource.ForceDownload {
		if _, err := os.Stat(markerPath); err == nil && !shouldRedownload(markerPath, markerContent) {
			slog.Info("Model already downloaded and up-to-date (marker match), skipping", "repo", repo, "path", fullPath)
			return result, true, nil
		}
	}

	if err := os.MkdirAll(fullPath, 0o755); err != nil {
		return "", false, fmt.Errorf("failed to create directory: %w", err)
	}

	slog.Info("Downloading model", "repo", repo, "path", fullPath)

	stdout, stderr, err := d.executor.Execute(ctx, d.buildArgs(repo, fullPath, hfSource), nil)
	if err != nil {
		if ctx.Err() != nil {
			return "", false, fmt.Errorf("download canceled: %w", ctx.Err())
		}
		slog.Error("Failed to download model", "repo", repo, "error", err, "stdout", string(stdout), "stderr", string(stderr))
		return "", false, fmt.Errorf("hf download %s: %w: %s", repo, err, strings.TrimSpace(string(stderr)))
	}

	if hfSource.File != "" {
		if _, err := os.Stat(result); err != nil {
			return "", false, fmt.Errorf("downloaded repo %s has no %s: %w", repo, hfSource.File, err)
		}
	}

	writeMarker(markerPath, markerContent)
	slog.Info("Model downloaded successfully", "repo", repo, "path", result)

	return result, false, nil
}

// buildArgs builds hf CLI arguments.
func (d *HuggingFaceDownloader) buildArgs(repo, dir string, src config.HuggingFaceSource) []string {
	args := []string{"download", repo}

	if src.File != "" {
		args = append(args, src.File)
	}

	args = append(args, "--local-dir", dir)

	if src.Revision != "" {
		args = append(args, "--revision", src.Revision)
	}
	if src.RepoType != "" {
		args = append(args, "--repo-type", src.RepoType)
	}
	for _, inc := range src.Include {
		args = append(args, "--include", inc)
	}
	for _, exc := range src.Exclude {
		args = append(args, "--exclude", exc)
	}
	if src.ForceDownload {
		args = append(args, "--force-download")
	}
	if src.Token != "" {
		args = append(args, "--token", src.Token)
	}

	return args
}

// markerContent generates the expected content of the marker file.
// Used to detect if we need to redownload due to config change.
func (d *HuggingFaceDownloader) markerContent(repo, revision, file string) string {
	return fmt.Sprintf("repo: %s\nrevision: %s\nfile: %s\n", repo, revision, file)
}
