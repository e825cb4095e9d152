package provision

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const (
	extractedDirPermissions  = 0o750
	extractedFilePermissions = 0o640
)

// unzip extracts a zip archive into destDir. Entries escaping destDir are
// rejected. A corrupt archive surfaces as zip.ErrFormat so callers can tell
// a truncated download apart from an I/O failure.
func unzip(archivePath, destDir string) error {
	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open archive %s: %w", archivePath, err)
	}
	defer reader.Close()

	for _, entry := range reader.File {
		extractErr := extractEntry(entry, destDir)
		if extractErr != nil {
			return extractErr
		}
	}

	return nil
}

func extractEntry(entry *zip.File, destDir string) error {
	targetPath := filepath.Join(destDir, filepath.Clean(entry.Name))
	if !strings.HasPrefix(targetPath, filepath.Clean(destDir)+string(os.PathSeparator)) {
		return fmt.Errorf("archive entry %q escapes destination directory: %w", entry.Name, ErrProvisioningFailed)
	}

	if entry.FileInfo().IsDir() {
		mkdirErr := os.MkdirAll(targetPath, extractedDirPermissions)
		if mkdirErr != nil {
			return fmt.Errorf("failed to create directory %s: %w", targetPath, mkdirErr)
		}

		return nil
	}

	mkdirErr := os.MkdirAll(filepath.Dir(targetPath), extractedDirPermissions)
	if mkdirErr != nil {
		return fmt.Errorf("failed to create directory for %s: %w", targetPath, mkdirErr)
	}

	source, err := entry.Open()
	if err != nil {
		return fmt.Errorf("failed to open archive entry %q: %w", entry.Name, err)
	}
	defer source.Close()

	out, err := os.OpenFile(targetPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, extractedFilePermissions)
	if err != nil {
		return fmt.Errorf("failed to create extracted file %s: %w", targetPath, err)
	}

	_, copyErr := io.Copy(out, source)
	closeErr := out.Close()

	if copyErr != nil {
		return fmt.Errorf("failed to extract %q: %w", entry.Name, copyErr)
	}

	if closeErr != nil {
		return fmt.Errorf("failed to close extracted file %s: %w", targetPath, closeErr)
	}

	return nil
}
