// Package pathutil provides path resolution helpers for the speech service.
//
// This package focuses on platform-agnostic ways to locate the models root
// and to prepare directories, adhering to Go's best practices for clarity,
// error handling, and maintainability.
package pathutil

import (
	"fmt"
	"os"
	"path/filepath"
)

// Environment variable names used for path resolution.
const (
	envCacheDir = "CACHE_DIR"
)

// Common application directory and path constants.
const (
	appName               = "speech-service"
	cacheDirName          = "cache"
	tmpDir                = "/tmp"
	dotCache              = ".cache"
	defaultDirPermissions = 0o750
)

// Error message and format string constants.
const (
	errFmtFailedToCreateDir = "failed to create directory %s: %w"
	errFmtErrorCheckingDir  = "error checking directory %q: %w"
)

// GetCacheDir returns the application's cache directory, respecting an
// environment variable override and falling back to a standard user-based
// cache directory.
func GetCacheDir() string {
	// Honor the user-defined CACHE_DIR if it's set.
	if cacheDir := os.Getenv(envCacheDir); cacheDir != "" {
		return cacheDir
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		// Fallback to a temporary directory if home cannot be determined.
		return filepath.Join(tmpDir, appName, cacheDirName)
	}

	return filepath.Join(homeDir, dotCache, appName)
}

// EnsureDir ensures a directory exists at the given path, creating it if it doesn't.
func EnsureDir(path string) error {
	_, statErr := os.Stat(path)
	if os.IsNotExist(statErr) {
		// MkdirAll is used to create parent directories as needed.
		mkdirErr := os.MkdirAll(path, defaultDirPermissions)
		if mkdirErr != nil {
			return fmt.Errorf(errFmtFailedToCreateDir, path, mkdirErr)
		}
	}

	return nil
}

// DirExists reports whether path exists and is a directory. A file system
// error other than "not found" is returned to the caller.
func DirExists(path string) (bool, error) {
	info, statErr := os.Stat(path)
	if statErr == nil {
		return info.IsDir(), nil
	}

	if os.IsNotExist(statErr) {
		return false, nil
	}

	return false, fmt.Errorf(errFmtErrorCheckingDir, path, statErr)
}

// FirstExistingDir returns the first candidate that exists as a directory,
// or the empty string when none do. Candidates with file system errors other
// than "not found" abort the search.
func FirstExistingDir(candidates ...string) (string, error) {
	for _, candidate := range candidates {
		if candidate == "" {
			continue
		}

		found, err := DirExists(candidate)
		if err != nil {
			return "", err
		}

		if found {
			return candidate, nil
		}
	}

	return "", nil
}
