package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Filesystem describes the filesystem that holds a path.
type Filesystem struct {
	Type    string
	Network bool
}

func (f Filesystem) String() string {
	if f.Network {
		return f.Type + " (network)"
	}
	return f.Type
}

var networkTypes = map[string]bool{
	"afpfs":  true,
	"cifs":   true,
	"nfs":    true,
	"smbfs":  true,
	"smb2":   true,
	"webdav": true,
}

// Inspect reports the filesystem of path, or of its nearest existing parent
// when path does not exist yet.
func Inspect(path string) (Filesystem, error) {
	return inspectWith(path, filesystemType)
}

func inspectWith(path string, detect func(string) (string, error)) (Filesystem, error) {
	if strings.TrimSpace(path) == "" {
		return Filesystem{}, fmt.Errorf("path is empty")
	}
	existing, err := nearestExisting(path)
	if err != nil {
		return Filesystem{}, err
	}
	typ, err := detect(existing)
	if err != nil {
		return Filesystem{}, fmt.Errorf("detect filesystem for %q: %w", existing, err)
	}
	typ = strings.ToLower(strings.TrimSpace(typ))
	return Filesystem{Type: typ, Network: networkTypes[typ]}, nil
}

// RequireLocal fails when path sits on a network filesystem, where SQLite
// locking is unreliable. Platforms without detection pass.
func RequireLocal(path string) error {
	fs, err := Inspect(path)
	if errors.Is(err, errUnsupported) {
		return nil
	}
	if err != nil {
		return err
	}
	return requireLocal(path, fs)
}

func requireLocal(path string, fs Filesystem) error {
	if fs.Network {
		return fmt.Errorf("state.path %q is on network filesystem %s; SQLite needs a local disk for locking", path, fs.Type)
	}
	return nil
}

func nearestExisting(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve %q: %w", path, err)
	}
	for candidate := abs; ; {
		_, err := os.Stat(candidate)
		switch {
		case err == nil:
			return candidate, nil
		case !errors.Is(err, os.ErrNotExist):
			return "", fmt.Errorf("stat %q: %w", candidate, err)
		}
		parent := filepath.Dir(candidate)
		if parent == candidate {
			return "", fmt.Errorf("no existing parent for %q", abs)
		}
		candidate = parent
	}
}
