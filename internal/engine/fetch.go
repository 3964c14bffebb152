package engine

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"
)

// DefaultWeightsBaseURL is where model weights are fetched from when they are
// not present in the local cache directory.
const DefaultWeightsBaseURL = "https://github.com/ultralytics/assets/releases/latest/download"

const fetchTimeout = 5 * time.Minute

// fetchWeights downloads a weight file into dest. The download goes to a
// temporary file in the destination directory first and is renamed into place
// only when complete, so a partial download never shadows the cache lookup.
func fetchWeights(baseURL, filename, dest string) error {
	src, err := url.JoinPath(baseURL, filename)
	if err != nil {
		return fmt.Errorf("invalid weights URL for %s: %w", filename, err)
	}

	slog.Info("Downloading model weights", "url", src, "dest", dest)

	if err := os.MkdirAll(filepath.Dir(dest), 0o750); err != nil {
		return fmt.Errorf("failed to create weights directory: %w", err)
	}

	client := &http.Client{Timeout: fetchTimeout}
	resp, err := client.Get(src)
	if err != nil {
		return fmt.Errorf("failed to download weights from %s: %w", src, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to download weights from %s: status %s", src, resp.Status)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), filepath.Base(dest)+".download-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary weights file: %w", err)
	}
	tmpName := tmp.Name()

	written, err := io.Copy(tmp, resp.Body)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write weights file: %w", err)
	}
	if written == 0 {
		_ = os.Remove(tmpName)
		return fmt.Errorf("downloaded weights file is empty: %s", src)
	}

	if err := os.Rename(tmpName, dest); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to persist weights file: %w", err)
	}

	slog.Info("Model weights cached", "path", dest, "size_bytes", written)
	return nil
}
