package source

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/ekisa-team/modelconv/internal/config"
)

var (
	// ErrUnsafeArchivePath is returned for archive entries that escape the target directory.
	ErrUnsafeArchivePath = errors.New("archive entry escapes target directory")

	// ErrInvalidArchiveName is returned for cache names that are not a single
	// path element inside the models directory.
	ErrInvalidArchiveName = errors.New("invalid archive name")
)

// ArchiveDownloader downloads and unpacks a .tar.gz archive, such as a
// TF Hub SavedModel served with ?tf-hub-format=compressed.
type ArchiveDownloader struct {
	client *http.Client
}

// Download unpacks the archive into targetDir/<name> and returns that directory.
func (d *ArchiveDownloader) Download(ctx context.Context, src config.ModelSource, targetDir string) (string, bool, error) {
	archive, ok := src.(config.ArchiveSource)
	if !ok {
		return "", false, fmt.Errorf("invalid source type: %T", src)
	}

	name, err := archiveName(archive)
	if err != nil {
		return "", false, err
	}

	fullPath := filepath.Join(targetDir, name)
	markerPath := filepath.Join(fullPath, markerFilename)
	markerContent := fmt.Sprintf("url: %s\n", archive.URL)

	if _, err := os.Stat(markerPath); err == nil && !shouldRedownload(markerPath, markerContent) {
		slog.Info("Archive already downloaded and up-to-date (marker match), skipping", "url", archive.URL, "path", fullPath)
		return fullPath, true, nil
	}

	slog.Info("Downloading archive", "url", archive.URL, "path", fullPath)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, archive.URL, http.NoBody)
	if err != nil {
		return "", false, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return "", false, fmt.Errorf("failed to download %s: %w", archive.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", false, fmt.Errorf("failed to download %s: unexpected status %s", archive.URL, resp.Status)
	}

	if err := os.MkdirAll(fullPath, 0o755); err != nil {
		return "", false, fmt.Errorf("failed to create directory: %w", err)
	}

	files, err := extractTarGz(resp.Body, fullPath)
	if err != nil {
		return "", false, fmt.Errorf("failed to unpack %s: %w", archive.URL, err)
	}

	writeMarker(markerPath, markerContent)
	slog.Info("Archive downloaded successfully", "url", archive.URL, "path", fullPath, "files", files)

	return fullPath, false, nil
}

// archiveName derives the cache directory name from the source.
func archiveName(a config.ArchiveSource) (string, error) {
	if a.Name != "" {
		return checkName(a.Name)
	}

	u, err := url.Parse(a.URL)
	if err != nil {
		return "", fmt.Errorf("invalid archive url: %w", err)
	}

	name := strings.Trim(u.Host+"/"+strings.Trim(u.Path, "/"), "/")
	if name == "" {
		return "", fmt.Errorf("invalid archive url: %q", a.URL)
	}

	return checkName(strings.NewReplacer("/", "_", ":", "_").Replace(name))
}

func checkName(name string) (string, error) {
	if name == "." || name == ".." || strings.ContainsAny(name, `/\`) || filepath.IsAbs(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidArchiveName, name)
	}
	return name, nil
}

// extractTarGz unpacks regular files and directories from a gzip'd tarball.
func extractTarGz(r io.Reader, dest string) (int, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return 0, err
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	files := 0

	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return files, nil
		}
		if err != nil {
			return files, err
		}

		clean := path.Clean("/" + hdr.Name)
		if clean == "/" {
			continue
		}
		target := filepath.Join(dest, filepath.FromSlash(clean))
		if !strings.HasPrefix(target, filepath.Clean(dest)+string(os.PathSeparator)) {
			return files, fmt.Errorf("%w: %s", ErrUnsafeArchivePath, hdr.Name)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return files, err
			}
		case tar.TypeReg:
			if err := writeFile(target, tr); err != nil {
				return files, err
			}
			files++
		default:
			slog.Debug("Skipping archive entry", "name", hdr.Name, "type", hdr.Typeflag)
		}
	}
}

func writeFile(target string, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}

	f, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}

	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return err
	}

	return f.Close()
}
