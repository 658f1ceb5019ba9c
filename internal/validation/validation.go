// Package validation checks untrusted manifest content before it is allowed
// to touch the filesystem.
package validation

import (
	"encoding/hex"
	"errors"
	"strings"
)

var (
	// ErrPathInvalid marks a manifest path that is absolute, escapes its
	// root, or carries unprintable characters.
	ErrPathInvalid = errors.New("path is invalid")

	// ErrDigestInvalid marks a checksum that is not hex-encoded.
	ErrDigestInvalid = errors.New("digest is invalid")
)

// PackagePath validates a server-declared relative file path. Update servers
// are semi-trusted: a compromised or buggy server must not be able to write
// outside the download and install roots.
func PackagePath(path string) error {
	if path == "" {
		return ErrPathInvalid
	}
	if strings.HasPrefix(path, "/") || strings.HasPrefix(path, "\\") {
		return ErrPathInvalid
	}
	if strings.ContainsAny(path, "\x00\n\r") {
		return ErrPathInvalid
	}
	for _, segment := range strings.Split(strings.ReplaceAll(path, "\\", "/"), "/") {
		if segment == ".." {
			return ErrPathInvalid
		}
	}
	return nil
}

// HexDigest validates a checksum string as non-empty hex.
func HexDigest(digest string) error {
	if digest == "" {
		return ErrDigestInvalid
	}
	if _, err := hex.DecodeString(digest); err != nil {
		return ErrDigestInvalid
	}
	return nil
}
