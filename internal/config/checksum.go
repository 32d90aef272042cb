package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/zeebo/blake3"
)

// ErrNoChecksum is returned by VerifyChecksum when no sidecar exists.
var ErrNoChecksum = errors.New("no checksum sidecar")

// ChecksumPath returns the sidecar path for a config file.
func ChecksumPath(configPath string) string {
	return configPath + ".checksum"
}

// ComputeBlake3Hash computes the BLAKE3 hash of a file.
func ComputeBlake3Hash(filePath string) (string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}
	return hashBytes(data), nil
}

func hashBytes(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// WriteChecksum records the current hash of configPath in its sidecar.
func WriteChecksum(configPath string) (string, error) {
	hash, err := ComputeBlake3Hash(configPath)
	if err != nil {
		return "", err
	}
	if err := writeFileAtomic(ChecksumPath(configPath), []byte(hash+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("write checksum: %w", err)
	}
	return hash, nil
}

// VerifyChecksum compares configPath against its sidecar.
func VerifyChecksum(configPath string) error {
	raw, err := os.ReadFile(ChecksumPath(configPath))
	if errors.Is(err, os.ErrNotExist) {
		return ErrNoChecksum
	}
	if err != nil {
		return fmt.Errorf("read checksum: %w", err)
	}
	expected := strings.TrimSpace(string(raw))

	actual, err := ComputeBlake3Hash(configPath)
	if err != nil {
		return err
	}
	if actual != expected {
		return fmt.Errorf("hash mismatch for %s: expected %s, got %s (run 'convoy config lock' after editing)",
			filepath.Base(configPath), expected, actual)
	}
	return nil
}

// writeFileAtomic writes data to a temp file next to path and renames it into
// place.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
