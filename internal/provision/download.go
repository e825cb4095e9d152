// Package provision guarantees that named voice and recognition models are
// present on local storage, downloading and unpacking them on demand.
//
// Provisioning is idempotent: an existence check always precedes any network
// action, so repeated calls with unchanged environment state never
// re-download. It is also synchronous and blocking; the single-threaded
// request loop makes overlapping calls for the same identity impossible.
package provision

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

// Default network settings.
const (
	defaultDownloadTimeout = 10 * time.Minute
	partialSuffix          = ".part"
	filePermissions        = 0o600
)

// Error messages.
const (
	errModelNotFoundMsg      = "model not found"
	errProvisioningFailedMsg = "model provisioning failed"
)

var (
	// ErrModelNotFound is returned when an explicit override location is
	// missing or when a model cannot be located and auto-download is off.
	// No fallback is attempted: an explicit path is a strong caller promise.
	ErrModelNotFound = errors.New(errModelNotFoundMsg)

	// ErrProvisioningFailed is returned when a download or unpack failed
	// after the one permitted retry.
	ErrProvisioningFailed = errors.New(errProvisioningFailedMsg)
)

// LookupFunc reads one environment variable, returning the empty string when
// unset. Tests inject a fixed lookup instead of mutating the process
// environment.
type LookupFunc func(name string) string

// Downloader fetches a URL to a file on local storage. The network transport
// is an opaque collaborator as far as provisioning is concerned.
type Downloader interface {
	Download(ctx context.Context, url, destPath string) error
}

// HTTPDownloader is the production Downloader backed by net/http.
type HTTPDownloader struct {
	httpClient *http.Client
}

// NewHTTPDownloader creates a downloader with the given request timeout.
// A zero timeout selects a default suitable for large model archives.
func NewHTTPDownloader(timeout time.Duration) *HTTPDownloader {
	if timeout <= 0 {
		timeout = defaultDownloadTimeout
	}

	return &HTTPDownloader{
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Download fetches url into destPath. The payload is written to a partial
// file first and renamed into place, so destPath never holds a file the
// transfer did not finish writing.
func (d *HTTPDownloader) Download(ctx context.Context, url, destPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create download request for %s: %w", url, err)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download of %s returned status %s: %w", url, resp.Status, ErrProvisioningFailed)
	}

	partialPath := destPath + partialSuffix

	err = writeBodyToFile(resp.Body, partialPath)
	if err != nil {
		return err
	}

	err = os.Rename(partialPath, destPath)
	if err != nil {
		return fmt.Errorf("failed to move download into place at %s: %w", destPath, err)
	}

	return nil
}

func writeBodyToFile(body io.Reader, path string) error {
	out, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, filePermissions)
	if err != nil {
		return fmt.Errorf("failed to create download file %s: %w", path, err)
	}

	_, copyErr := io.Copy(out, body)
	closeErr := out.Close()

	if copyErr != nil {
		return fmt.Errorf("failed to write download to %s: %w", path, copyErr)
	}

	if closeErr != nil {
		return fmt.Errorf("failed to close download file %s: %w", path, closeErr)
	}

	return nil
}

// fileExists reports whether path exists and is a regular file.
func fileExists(path string) bool {
	info, err := os.Stat(path)

	return err == nil && info.Mode().IsRegular()
}
