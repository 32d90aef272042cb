//go:build !darwin && !linux

package storage

import "errors"

var errUnsupported = errors.New("filesystem detection unsupported")

func filesystemType(string) (string, error) {
	return "", errUnsupported
}
