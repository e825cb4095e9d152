package provision

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/book-expert/logger"
	"github.com/book-expert/speech-service/internal/pathutil"
)

// Environment variables recognized by the recognition provisioner.
const (
	EnvVoskModelPath    = "VOSK_MODEL_PATH"
	EnvVoskModelURL     = "VOSK_MODEL_URL"
	EnvVoskAutoDownload = "VOSK_AUTO_DOWNLOAD"
)

// Recognition model defaults.
const (
	DefaultRecognitionModel = "vosk-model-small-en-us-0.15"
	defaultModelArchiveURL  = "https://alphacephei.com/vosk/models/" + DefaultRecognitionModel + ".zip"
	archiveExt              = ".zip"
)

// RecognitionProvisioner guarantees that a recognition model directory is
// present on local storage. The original archive is retained alongside the
// unpacked tree so a re-run never refetches it.
type RecognitionProvisioner struct {
	modelsDir  string
	modelName  string
	lookup     LookupFunc
	downloader Downloader
	log        *logger.Logger
}

// NewRecognitionProvisioner creates a recognition provisioner. modelsDir is
// the conventional storage location; modelName defaults to the small English
// model when empty. A nil lookup falls back to the process environment.
func NewRecognitionProvisioner(
	modelsDir, modelName string,
	lookup LookupFunc,
	downloader Downloader,
	log *logger.Logger,
) *RecognitionProvisioner {
	if lookup == nil {
		lookup = os.Getenv
	}

	if modelName == "" {
		modelName = DefaultRecognitionModel
	}

	return &RecognitionProvisioner{
		modelsDir:  modelsDir,
		modelName:  modelName,
		lookup:     lookup,
		downloader: downloader,
		log:        log,
	}
}

// Ensure returns a usable recognition model directory.
//
// Resolution order: an explicit VOSK_MODEL_PATH (which must exist; a missing
// explicit path fails immediately with no fallback and no download), then
// the conventional local location, then a download-and-unpack cycle when
// auto-download is enabled.
func (p *RecognitionProvisioner) Ensure(ctx context.Context) (string, error) {
	envPath := strings.TrimSpace(p.lookup(EnvVoskModelPath))
	if envPath != "" {
		found, err := pathutil.DirExists(envPath)
		if err != nil {
			return "", err
		}

		if !found {
			return "", fmt.Errorf(
				"%w: %s points to missing directory: %s",
				ErrModelNotFound, EnvVoskModelPath, envPath,
			)
		}

		return envPath, nil
	}

	localPath := filepath.Join(p.modelsDir, p.modelName)

	found, err := pathutil.DirExists(localPath)
	if err != nil {
		return "", err
	}

	if found {
		return localPath, nil
	}

	if !autoDownloadEnabled(p.lookup, EnvVoskAutoDownload) {
		return "", fmt.Errorf(
			"%w: recognition model not found at %s; set %s or enable %s",
			ErrModelNotFound, localPath, EnvVoskModelPath, EnvVoskAutoDownload,
		)
	}

	err = p.fetchAndUnpack(ctx)
	if err != nil {
		return "", err
	}

	found, err = pathutil.DirExists(localPath)
	if err != nil {
		return "", err
	}

	if !found {
		return "", fmt.Errorf(
			"%w: download and extract did not produce expected directory %s",
			ErrProvisioningFailed, localPath,
		)
	}

	return localPath, nil
}

// fetchAndUnpack downloads the model archive if absent and extracts it. A
// corrupt archive (the usual symptom of a truncated download or an HTML
// error page) is deleted and the full fetch+unpack cycle is retried exactly
// once; a second corruption is fatal. Retrying indefinitely would only mask
// a genuinely broken source URL.
func (p *RecognitionProvisioner) fetchAndUnpack(ctx context.Context) error {
	err := pathutil.EnsureDir(p.modelsDir)
	if err != nil {
		return err
	}

	archivePath := filepath.Join(p.modelsDir, p.modelName+archiveExt)

	url := p.lookup(EnvVoskModelURL)
	if url == "" {
		url = defaultModelArchiveURL
	}

	if !fileExists(archivePath) {
		p.log.Info("Downloading recognition model %q from %s", p.modelName, url)

		downloadErr := p.downloader.Download(ctx, url, archivePath)
		if downloadErr != nil {
			return fmt.Errorf("%w: %w", ErrProvisioningFailed, downloadErr)
		}
	}

	unzipErr := unzip(archivePath, p.modelsDir)
	if unzipErr == nil {
		return nil
	}

	if !errors.Is(unzipErr, zip.ErrFormat) {
		return fmt.Errorf("%w: %w", ErrProvisioningFailed, unzipErr)
	}

	p.log.Warn("Recognition model archive is corrupt, refetching once: %v", unzipErr)

	removeErr := os.Remove(archivePath)
	if removeErr != nil && !os.IsNotExist(removeErr) {
		return fmt.Errorf("%w: failed to remove corrupt archive: %w", ErrProvisioningFailed, removeErr)
	}

	downloadErr := p.downloader.Download(ctx, url, archivePath)
	if downloadErr != nil {
		return fmt.Errorf("%w: %w", ErrProvisioningFailed, downloadErr)
	}

	unzipErr = unzip(archivePath, p.modelsDir)
	if unzipErr != nil {
		return fmt.Errorf("%w: archive corrupt after retry: %w", ErrProvisioningFailed, unzipErr)
	}

	return nil
}
